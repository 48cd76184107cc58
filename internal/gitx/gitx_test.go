package gitx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relkit/internal/execx"
	"github.com/fyrsmithlabs/relkit/internal/fault"
)

type fakeRunner struct {
	calls   []execx.Request
	respond func(execx.Request) (execx.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, req execx.Request) (execx.Result, error) {
	f.calls = append(f.calls, req)
	if f.respond != nil {
		return f.respond(req)
	}
	return execx.Result{}, nil
}

// initRepo creates a real repository with one commit and returns its path
// and head sha.
func initRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, hash.String()
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner is required")
}

func TestExists(t *testing.T) {
	g, err := New(&fakeRunner{}, nil)
	require.NoError(t, err)

	dir, _ := initRepo(t)
	assert.True(t, g.Exists(dir))
	assert.False(t, g.Exists(t.TempDir()))
}

func TestHead_ReturnsCommitSHA(t *testing.T) {
	g, err := New(&fakeRunner{}, nil)
	require.NoError(t, err)

	dir, want := initRepo(t)
	got, err := g.Head(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHead_NotARepository(t *testing.T) {
	g, err := New(&fakeRunner{}, nil)
	require.NoError(t, err)

	_, err = g.Head(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening repository")
}

func TestCurrentBranch(t *testing.T) {
	g, err := New(&fakeRunner{}, nil)
	require.NoError(t, err)

	dir, _ := initRepo(t)
	branch, err := g.CurrentBranch(dir)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}

func TestIsClean_ParsesPorcelain(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   bool
	}{
		{name: "clean", stdout: "", want: true},
		{name: "clean with newline", stdout: "\n", want: true},
		{name: "modified file", stdout: " M internal/app.go\n", want: false},
		{name: "untracked file", stdout: "?? notes.txt\n", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{respond: func(execx.Request) (execx.Result, error) {
				return execx.Result{Stdout: tt.stdout}, nil
			}}
			g, err := New(runner, nil)
			require.NoError(t, err)

			clean, err := g.IsClean(context.Background(), "/repo")
			require.NoError(t, err)
			assert.Equal(t, tt.want, clean)
			require.Len(t, runner.calls, 1)
			assert.Equal(t, []string{"-C", "/repo", "status", "--porcelain"}, runner.calls[0].Args)
		})
	}
}

func TestUpstream_MissingUpstreamIsAnAnswer(t *testing.T) {
	runner := &fakeRunner{respond: func(execx.Request) (execx.Result, error) {
		res := execx.Result{Stderr: "fatal: no upstream configured for branch 'main'", ExitCode: 128}
		return res, fault.New(fault.ProcessFailed, "git exited 128")
	}}
	g, err := New(runner, nil)
	require.NoError(t, err)

	_, ok, err := g.Upstream(context.Background(), "/repo")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpstream_Found(t *testing.T) {
	runner := &fakeRunner{respond: func(execx.Request) (execx.Result, error) {
		return execx.Result{Stdout: "origin/main\n"}, nil
	}}
	g, err := New(runner, nil)
	require.NoError(t, err)

	ref, ok, err := g.Upstream(context.Background(), "/repo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "origin/main", ref)
}

func TestAheadBehind_ParsesCounts(t *testing.T) {
	runner := &fakeRunner{respond: func(execx.Request) (execx.Result, error) {
		return execx.Result{Stdout: "2\t3\n"}, nil
	}}
	g, err := New(runner, nil)
	require.NoError(t, err)

	ahead, behind, err := g.AheadBehind(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Equal(t, 3, ahead)
	assert.Equal(t, 2, behind)
}

func TestAheadBehind_RejectsGarbage(t *testing.T) {
	runner := &fakeRunner{respond: func(execx.Request) (execx.Result, error) {
		return execx.Result{Stdout: "nonsense"}, nil
	}}
	g, err := New(runner, nil)
	require.NoError(t, err)

	_, _, err = g.AheadBehind(context.Background(), "/repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected rev-list output")
}

func TestCommitAll_StagesThenCommits(t *testing.T) {
	runner := &fakeRunner{}
	g, err := New(runner, nil)
	require.NoError(t, err)

	require.NoError(t, g.CommitAll(context.Background(), "/repo", "release: app v1.2.3"))

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"-C", "/repo", "add", "-A"}, runner.calls[0].Args)
	assert.Equal(t, []string{"-C", "/repo", "commit", "-m", "release: app v1.2.3"}, runner.calls[1].Args)
}

func TestPush_SetsUpstream(t *testing.T) {
	runner := &fakeRunner{}
	g, err := New(runner, nil)
	require.NoError(t, err)

	require.NoError(t, g.Push(context.Background(), "/repo", "release/v1.2.3-ab12cd34"))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"-C", "/repo", "push", "-u", "origin", "release/v1.2.3-ab12cd34"}, runner.calls[0].Args)
}

func TestClone_UsesPlainArgs(t *testing.T) {
	runner := &fakeRunner{}
	g, err := New(runner, nil)
	require.NoError(t, err)

	require.NoError(t, g.Clone(context.Background(), "https://github.com/acme/dist.git", "/work/dist"))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "git", runner.calls[0].Name)
	assert.Equal(t, []string{"clone", "https://github.com/acme/dist.git", "/work/dist"}, runner.calls[0].Args)
}

func TestRun_RequiresDirectory(t *testing.T) {
	g, err := New(&fakeRunner{}, nil)
	require.NoError(t, err)

	_, err = g.IsClean(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "requires a directory"))
}
