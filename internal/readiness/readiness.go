// Package readiness probes tracked repositories and reports whether each is
// fit to be auto-pinned: cloned, clean, synced with its upstream, and CI-green
// at the remote head.
//
// A probe is computed fresh on every call and never cached. Sub-query
// failures land in the status Err field instead of aborting the probe, so
// callers can render partial diagnostics. Retries belong to higher layers.
package readiness

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/forge"
)

// Git is the local-repository surface the prober consumes.
type Git interface {
	Exists(dir string) bool
	Head(dir string) (string, error)
	IsClean(ctx context.Context, dir string) (bool, error)
	Upstream(ctx context.Context, dir string) (string, bool, error)
	AheadBehind(ctx context.Context, dir string) (ahead, behind int, err error)
}

// Forge is the hosted-forge surface the prober consumes.
type Forge interface {
	BranchHead(ctx context.Context, slug, ref string) (string, error)
	ListWorkflowRuns(ctx context.Context, slug, workflowFile string, f forge.RunFilter) ([]forge.WorkflowRun, error)
}

// Status is one repository's readiness verdict.
type Status struct {
	Repo     config.Repo
	Ref      string
	LocalDir string

	LocalExists bool
	Dirty       bool
	HasUpstream bool
	Ahead       int
	Behind      int
	LocalHead   string
	RemoteHead  string

	// CIGreen is nil when the repo declares no required check or the check
	// could not be queried.
	CIGreen *bool

	// Err joins every sub-query failure hit during the probe.
	Err error
}

// Ready reports whether the repository can be auto-pinned: it exists locally,
// the tree is clean, the branch tracks an upstream with zero commits ahead or
// behind, local and remote heads agree, and a required check (if any) is
// green at that head.
func (s Status) Ready() bool {
	if s.Err != nil {
		return false
	}
	if !s.LocalExists || s.Dirty || !s.HasUpstream {
		return false
	}
	if s.Ahead != 0 || s.Behind != 0 {
		return false
	}
	if s.LocalHead == "" || s.LocalHead != s.RemoteHead {
		return false
	}
	if s.CIGreen != nil && !*s.CIGreen {
		return false
	}
	return true
}

// Problems lists every reason the repository is not ready, in probe order.
// Ready statuses return nil.
func (s Status) Problems() []string {
	var out []string
	if !s.LocalExists {
		out = append(out, fmt.Sprintf("not cloned at %s", s.LocalDir))
	} else {
		if s.Dirty {
			out = append(out, "working tree has uncommitted changes")
		}
		if !s.HasUpstream {
			out = append(out, "current branch has no upstream")
		}
		if s.Ahead != 0 || s.Behind != 0 {
			out = append(out, fmt.Sprintf("branch is %d ahead / %d behind upstream", s.Ahead, s.Behind))
		}
		if s.LocalHead != "" && s.RemoteHead != "" && s.LocalHead != s.RemoteHead {
			out = append(out, fmt.Sprintf("local head %s does not match remote head %s",
				Short(s.LocalHead), Short(s.RemoteHead)))
		}
	}
	if s.CIGreen != nil && !*s.CIGreen {
		out = append(out, fmt.Sprintf("required check %s has no successful run at %s",
			s.Repo.Check, Short(s.RemoteHead)))
	}
	if s.Err != nil {
		out = append(out, fmt.Sprintf("probe incomplete: %v", s.Err))
	}
	return out
}

// Short abbreviates a commit sha for display.
func Short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// Prober computes repository readiness.
type Prober struct {
	cfg    *config.Config
	git    Git
	forge  Forge
	logger *zap.Logger
}

// NewProber creates a Prober. Config, git, and forge are required; a nil
// logger defaults to a no-op logger.
func NewProber(cfg *config.Config, git Git, fc Forge, logger *zap.Logger) (*Prober, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if git == nil {
		return nil, errors.New("git is required")
	}
	if fc == nil {
		return nil, errors.New("forge client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{cfg: cfg, git: git, forge: fc, logger: logger.Named("readiness")}, nil
}

// Probe queries the repository's local working copy, remote head, and
// required-check status at ref. An empty ref probes the configured branch.
func (p *Prober) Probe(ctx context.Context, repo config.Repo, ref string) Status {
	if ref == "" {
		ref = repo.Ref
	}
	st := Status{Repo: repo, Ref: ref, LocalDir: p.cfg.RepoDir(repo)}
	var errs []error

	st.LocalExists = p.git.Exists(st.LocalDir)
	if st.LocalExists {
		if head, err := p.git.Head(st.LocalDir); err != nil {
			errs = append(errs, fmt.Errorf("local head: %w", err))
		} else {
			st.LocalHead = head
		}
		if clean, err := p.git.IsClean(ctx, st.LocalDir); err != nil {
			errs = append(errs, fmt.Errorf("working tree status: %w", err))
		} else {
			st.Dirty = !clean
		}
		if _, ok, err := p.git.Upstream(ctx, st.LocalDir); err != nil {
			errs = append(errs, fmt.Errorf("upstream: %w", err))
		} else {
			st.HasUpstream = ok
		}
		if st.HasUpstream {
			if ahead, behind, err := p.git.AheadBehind(ctx, st.LocalDir); err != nil {
				errs = append(errs, fmt.Errorf("ahead/behind: %w", err))
			} else {
				st.Ahead, st.Behind = ahead, behind
			}
		}
	}

	if head, err := p.forge.BranchHead(ctx, repo.Slug, ref); err != nil {
		errs = append(errs, fmt.Errorf("remote head: %w", err))
	} else {
		st.RemoteHead = head
	}

	if repo.Check != "" && st.RemoteHead != "" {
		if green, err := p.CommitGreen(ctx, repo, st.RemoteHead); err != nil {
			errs = append(errs, fmt.Errorf("required check: %w", err))
		} else {
			st.CIGreen = &green
		}
	}

	st.Err = errors.Join(errs...)
	p.logger.Debug("probed repository",
		zap.String("repo", repo.ID),
		zap.String("ref", ref),
		zap.Bool("ready", st.Ready()),
	)
	return st
}

// ProbeAll probes every repo of a product in configured order.
func (p *Prober) ProbeAll(ctx context.Context, product config.Product) []Status {
	statuses := make([]Status, 0, len(product.Repos))
	for _, repo := range product.Repos {
		statuses = append(statuses, p.Probe(ctx, repo, ""))
	}
	return statuses
}

// CommitGreen reports whether the repo's required check has a successful run
// at exactly the given commit. Repos without a required check are always
// green.
func (p *Prober) CommitGreen(ctx context.Context, repo config.Repo, sha string) (bool, error) {
	if repo.Check == "" {
		return true, nil
	}
	runs, err := p.forge.ListWorkflowRuns(ctx, repo.Slug, repo.Check, forge.RunFilter{
		HeadSHA: sha,
		PerPage: 30,
	})
	if err != nil {
		return false, fmt.Errorf("listing %s runs at %s: %w", repo.Check, Short(sha), err)
	}
	for _, run := range runs {
		if run.Succeeded() {
			return true, nil
		}
	}
	return false, nil
}
