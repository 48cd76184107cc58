package ci

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/forge"
)

// DispatchForge is the forge surface the dispatcher consumes.
type DispatchForge interface {
	DispatchWorkflow(ctx context.Context, slug, workflowFile, ref string, inputs map[string]any) error
	ListWorkflowRuns(ctx context.Context, slug, workflowFile string, f forge.RunFilter) ([]forge.WorkflowRun, error)
	GetWorkflowRun(ctx context.Context, slug string, runID int64) (forge.WorkflowRun, error)
}

// Dispatcher triggers the downstream release workflow and watches it finish.
type Dispatcher struct {
	cfg    *config.Config
	forge  DispatchForge
	logger *zap.Logger

	// newToken is swappable in tests.
	newToken func() string
}

// NewDispatcher creates a Dispatcher. Config and forge are required; a nil
// logger defaults to a no-op logger.
func NewDispatcher(cfg *config.Config, fc DispatchForge, logger *zap.Logger) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if fc == nil {
		return nil, fmt.Errorf("forge client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg,
		forge:    fc,
		logger:   logger.Named("ci"),
		newToken: uuid.NewString,
	}, nil
}

// Dispatch triggers workflowFile on the dist repo's default branch with the
// release inputs plus a random correlation token, then locates the run the
// dispatch started. Title propagation can lag, so after the locate deadline
// it falls back to the newest dispatch-triggered run on the branch.
func (d *Dispatcher) Dispatch(ctx context.Context, workflowFile, tag string, channel config.Channel) (forge.WorkflowRun, error) {
	token := d.newToken()
	inputs := map[string]any{
		"tag":       tag,
		"channel":   string(channel),
		"run_token": token,
	}

	slug := d.cfg.Dist.Slug
	ref := d.cfg.Dist.DefaultBranch
	if err := d.forge.DispatchWorkflow(ctx, slug, workflowFile, ref, inputs); err != nil {
		return forge.WorkflowRun{}, err
	}
	d.logger.Info("dispatched workflow",
		zap.String("workflow", workflowFile),
		zap.String("tag", tag),
		zap.String("token", token),
	)

	var located forge.WorkflowRun
	err := d.cfg.CI.LocatePoll.Wait(ctx, "locating dispatched run", func(ctx context.Context) (bool, error) {
		runs, err := d.forge.ListWorkflowRuns(ctx, slug, workflowFile, forge.RunFilter{
			Branch:  ref,
			Event:   "workflow_dispatch",
			PerPage: 10,
		})
		if err != nil {
			return false, err
		}
		for _, run := range runs {
			if strings.Contains(run.Title, token) {
				located = run
				return true, nil
			}
		}
		return false, nil
	})
	if err == nil {
		return located, nil
	}
	var timeout config.DeadlineError
	if !errors.As(err, &timeout) {
		return forge.WorkflowRun{}, err
	}

	// Token never surfaced in a title: take the newest dispatch run instead.
	runs, err := d.forge.ListWorkflowRuns(ctx, slug, workflowFile, forge.RunFilter{
		Branch:  ref,
		Event:   "workflow_dispatch",
		PerPage: 1,
	})
	if err != nil {
		return forge.WorkflowRun{}, err
	}
	if len(runs) == 0 {
		return forge.WorkflowRun{}, fault.Newf(fault.WorkflowFailed,
			"workflow %s was dispatched but no run appeared on %s", workflowFile, ref).
			WithHint("check the workflow's triggers and branch filters on the dist repo")
	}
	d.logger.Warn("correlation token not found in run titles, using newest dispatch run",
		zap.Int64("run_id", runs[0].ID))
	return runs[0], nil
}

// Watch blocks until the run completes, failing unless its conclusion is
// success.
func (d *Dispatcher) Watch(ctx context.Context, runID int64) error {
	slug := d.cfg.Dist.Slug

	var last forge.WorkflowRun
	err := d.cfg.CI.WatchPoll.Wait(ctx, "workflow completion", func(ctx context.Context) (bool, error) {
		run, err := d.forge.GetWorkflowRun(ctx, slug, runID)
		if err != nil {
			return false, err
		}
		last = run
		return run.Done(), nil
	})
	if err != nil {
		var timeout config.DeadlineError
		if errors.As(err, &timeout) {
			return fault.Wrapf(fault.WorkflowFailed, err, "workflow run %d still running", runID).
				WithHintf("watch it directly: %s", last.URL)
		}
		return err
	}

	if !last.Succeeded() {
		return fault.Newf(fault.WorkflowFailed, "workflow run %d finished %s", runID, last.Conclusion).
			WithHintf("inspect the run logs: %s", last.URL)
	}
	d.logger.Info("workflow succeeded", zap.Int64("run_id", runID), zap.String("url", last.URL))
	return nil
}
