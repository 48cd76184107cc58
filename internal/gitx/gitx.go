// Package gitx operates on local git working copies. Read-only inspection
// goes through go-git; everything that mutates a tree or touches a remote is
// delegated to the git binary through the execx capability so tests can
// substitute a fake runner.
package gitx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/execx"
	"github.com/fyrsmithlabs/relkit/internal/fault"
)

// Git wraps local repository operations.
type Git struct {
	runner execx.Runner
	logger *zap.Logger
}

// New creates a Git. The runner is required; a nil logger defaults to a
// no-op logger.
func New(runner execx.Runner, logger *zap.Logger) (*Git, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Git{runner: runner, logger: logger.Named("gitx")}, nil
}

// Exists reports whether dir is a git repository.
func (g *Git) Exists(dir string) bool {
	_, err := gogit.PlainOpen(dir)
	return err == nil
}

// Head returns the commit sha HEAD points at.
func (g *Git) Head(dir string) (string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("opening repository %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD in %s: %w", dir, err)
	}
	return head.Hash().String(), nil
}

// CurrentBranch returns the checked-out branch name, or "" for a detached
// HEAD.
func (g *Git) CurrentBranch(dir string) (string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("opening repository %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD in %s: %w", dir, err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return "", nil
}

// IsClean reports whether the working tree has no uncommitted changes,
// using porcelain status output.
func (g *Git) IsClean(ctx context.Context, dir string) (bool, error) {
	res, err := g.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == "", nil
}

// Upstream returns the upstream ref of the current branch, ok=false when the
// branch has none.
func (g *Git) Upstream(ctx context.Context, dir string) (string, bool, error) {
	res, err := g.run(ctx, dir, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}")
	if err != nil {
		// git exits 128 with "no upstream" on stderr when tracking is not
		// configured; that is an answer, not a failure.
		if strings.Contains(res.Stderr, "no upstream") {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(res.Stdout), true, nil
}

// AheadBehind counts commits the current branch is ahead of and behind its
// upstream.
func (g *Git) AheadBehind(ctx context.Context, dir string) (ahead, behind int, err error) {
	res, err := g.run(ctx, dir, "rev-list", "--left-right", "--count", "@{upstream}...HEAD")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q in %s", res.Stdout, dir)
	}
	behind, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing rev-list output %q: %w", res.Stdout, err)
	}
	ahead, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing rev-list output %q: %w", res.Stdout, err)
	}
	return ahead, behind, nil
}

// Fetch updates remote tracking refs.
func (g *Git) Fetch(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "fetch", "--prune", "origin")
	return err
}

// FastForward pulls the current branch, refusing non-fast-forward updates.
func (g *Git) FastForward(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "pull", "--ff-only")
	return err
}

// Clone clones url into dir.
func (g *Git) Clone(ctx context.Context, url, dir string) error {
	g.logger.Info("cloning repository", zap.String("url", url), zap.String("dir", dir))
	_, err := g.runner.Run(ctx, execx.Request{
		Name: "git",
		Args: []string{"clone", url, dir},
	})
	return err
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "checkout", branch)
	return err
}

// CheckoutNew creates and switches to a new branch.
func (g *Git) CheckoutNew(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "checkout", "-b", branch)
	return err
}

// DeleteBranch force-deletes a local branch.
func (g *Git) DeleteBranch(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "branch", "-D", branch)
	return err
}

// CommitAll stages everything and commits with the given message.
func (g *Git) CommitAll(ctx context.Context, dir, message string) error {
	if _, err := g.run(ctx, dir, "add", "-A"); err != nil {
		return err
	}
	_, err := g.run(ctx, dir, "commit", "-m", message)
	return err
}

// Push pushes a branch to origin, setting upstream tracking.
func (g *Git) Push(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "push", "-u", "origin", branch)
	return err
}

// run invokes git -C dir with the given arguments.
func (g *Git) run(ctx context.Context, dir string, args ...string) (execx.Result, error) {
	if dir == "" {
		return execx.Result{}, fault.New(fault.InvalidInput, "git operation requires a directory")
	}
	full := append([]string{"-C", dir}, args...)
	return g.runner.Run(ctx, execx.Request{Name: "git", Args: full})
}
