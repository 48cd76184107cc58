package ci

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/forge"
)

type fakeDispatchForge struct {
	dispatchErr error
	inputs      map[string]any

	// runsByToken is returned when the filter asks for a page of runs;
	// fallbackRuns when PerPage == 1 (the fallback query).
	runs         []forge.WorkflowRun
	fallbackRuns []forge.WorkflowRun
	listErr      error

	// watch queue, popped per GetWorkflowRun call.
	watchRuns []forge.WorkflowRun
	watchErr  error
}

func (f *fakeDispatchForge) DispatchWorkflow(_ context.Context, _, _, _ string, inputs map[string]any) error {
	f.inputs = inputs
	return f.dispatchErr
}

func (f *fakeDispatchForge) ListWorkflowRuns(_ context.Context, _, _ string, filter forge.RunFilter) ([]forge.WorkflowRun, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if filter.PerPage == 1 {
		return f.fallbackRuns, nil
	}
	return f.runs, nil
}

func (f *fakeDispatchForge) GetWorkflowRun(_ context.Context, _ string, _ int64) (forge.WorkflowRun, error) {
	if f.watchErr != nil {
		return forge.WorkflowRun{}, f.watchErr
	}
	run := f.watchRuns[0]
	if len(f.watchRuns) > 1 {
		f.watchRuns = f.watchRuns[1:]
	}
	return run, nil
}

func fastPollConfig() *config.Config {
	cfg := config.Default()
	cfg.Dist.Slug = "acme/dist"
	cfg.Dist.DefaultBranch = "main"
	cfg.CI.LocatePoll = config.Poll{Interval: config.Duration(time.Millisecond), Deadline: config.Duration(25 * time.Millisecond)}
	cfg.CI.WatchPoll = config.Poll{Interval: config.Duration(time.Millisecond), Deadline: config.Duration(25 * time.Millisecond)}
	return cfg
}

func newDispatcher(t *testing.T, fc DispatchForge) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(fastPollConfig(), fc, nil)
	require.NoError(t, err)
	d.newToken = func() string { return "tok-1234" }
	return d
}

func TestNewDispatcher(t *testing.T) {
	_, err := NewDispatcher(nil, &fakeDispatchForge{}, nil)
	require.Error(t, err)
	_, err = NewDispatcher(fastPollConfig(), nil, nil)
	require.Error(t, err)
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("locates run by correlation token", func(t *testing.T) {
		fc := &fakeDispatchForge{runs: []forge.WorkflowRun{
			{ID: 9, Title: "Release app v1.1.0 [other]", Event: "workflow_dispatch"},
			{ID: 7, Title: "Release app v1.1.0 tok-1234", Event: "workflow_dispatch"},
		}}
		d := newDispatcher(t, fc)

		run, err := d.Dispatch(ctx, "release-app.yml", "v1.1.0", config.ChannelStable)
		require.NoError(t, err)
		assert.Equal(t, int64(7), run.ID)

		require.NotNil(t, fc.inputs)
		assert.Equal(t, "v1.1.0", fc.inputs["tag"])
		assert.Equal(t, "stable", fc.inputs["channel"])
		assert.Equal(t, "tok-1234", fc.inputs["run_token"])
	})

	t.Run("falls back to newest dispatch run", func(t *testing.T) {
		fc := &fakeDispatchForge{
			runs:         []forge.WorkflowRun{{ID: 9, Title: "no token here", Event: "workflow_dispatch"}},
			fallbackRuns: []forge.WorkflowRun{{ID: 9, Title: "no token here", Event: "workflow_dispatch"}},
		}
		d := newDispatcher(t, fc)

		run, err := d.Dispatch(ctx, "release-app.yml", "v1.1.0", config.ChannelStable)
		require.NoError(t, err)
		assert.Equal(t, int64(9), run.ID)
	})

	t.Run("no run at all", func(t *testing.T) {
		fc := &fakeDispatchForge{}
		d := newDispatcher(t, fc)

		_, err := d.Dispatch(ctx, "release-app.yml", "v1.1.0", config.ChannelStable)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.WorkflowFailed))
	})

	t.Run("dispatch error propagates", func(t *testing.T) {
		fc := &fakeDispatchForge{dispatchErr: errors.New("403")}
		d := newDispatcher(t, fc)

		_, err := d.Dispatch(ctx, "release-app.yml", "v1.1.0", config.ChannelStable)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("list error propagates", func(t *testing.T) {
		fc := &fakeDispatchForge{listErr: errors.New("api down")}
		d := newDispatcher(t, fc)

		_, err := d.Dispatch(ctx, "release-app.yml", "v1.1.0", config.ChannelStable)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api down")
	})
}

func TestWatch(t *testing.T) {
	ctx := context.Background()

	t.Run("success after running", func(t *testing.T) {
		fc := &fakeDispatchForge{watchRuns: []forge.WorkflowRun{
			{ID: 7, Status: "in_progress"},
			{ID: 7, Status: "completed", Conclusion: "success", URL: "https://runs/7"},
		}}
		d := newDispatcher(t, fc)

		require.NoError(t, d.Watch(ctx, 7))
	})

	t.Run("failure conclusion", func(t *testing.T) {
		fc := &fakeDispatchForge{watchRuns: []forge.WorkflowRun{
			{ID: 7, Status: "completed", Conclusion: "failure", URL: "https://runs/7"},
		}}
		d := newDispatcher(t, fc)

		err := d.Watch(ctx, 7)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.WorkflowFailed))
		assert.Contains(t, fault.HintOf(err), "https://runs/7")
	})

	t.Run("deadline while still running", func(t *testing.T) {
		fc := &fakeDispatchForge{watchRuns: []forge.WorkflowRun{
			{ID: 7, Status: "in_progress", URL: "https://runs/7"},
		}}
		d := newDispatcher(t, fc)

		err := d.Watch(ctx, 7)
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.WorkflowFailed))
		assert.Contains(t, err.Error(), "still running")
	})

	t.Run("fetch error propagates", func(t *testing.T) {
		fc := &fakeDispatchForge{watchErr: errors.New("api down")}
		d := newDispatcher(t, fc)

		err := d.Watch(ctx, 7)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api down")
	})

	t.Run("cancelled context stops the wait", func(t *testing.T) {
		fc := &fakeDispatchForge{watchRuns: []forge.WorkflowRun{
			{ID: 7, Status: "in_progress"},
		}}
		d := newDispatcher(t, fc)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := d.Watch(cctx, 7)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
