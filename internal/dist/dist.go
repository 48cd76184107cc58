// Package dist publishes planned releases into the distribution repository:
// an idempotent write of the release manifest and notes, an automatically
// merged pull request, and bounded waits for the merge to land.
package dist

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/forge"
	"github.com/fyrsmithlabs/relkit/internal/manifest"
	"github.com/fyrsmithlabs/relkit/internal/plan"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
)

// Git is the local-git surface the publisher consumes.
type Git interface {
	Exists(dir string) bool
	Clone(ctx context.Context, url, dir string) error
	IsClean(ctx context.Context, dir string) (bool, error)
	Checkout(ctx context.Context, dir, branch string) error
	CheckoutNew(ctx context.Context, dir, branch string) error
	Fetch(ctx context.Context, dir string) error
	FastForward(ctx context.Context, dir string) error
	CommitAll(ctx context.Context, dir, message string) error
	Push(ctx context.Context, dir, branch string) error
	DeleteBranch(ctx context.Context, dir, branch string) error
}

// Forge is the forge surface the publisher consumes.
type Forge interface {
	FileAt(ctx context.Context, slug, path, ref string) ([]byte, error)
	CreatePull(ctx context.Context, slug string, p forge.NewPull) (forge.PullRequest, error)
	GetPull(ctx context.Context, slug string, number int) (forge.PullRequest, error)
	MergePull(ctx context.Context, slug string, number int) error
	EnableAutoMerge(ctx context.Context, prNodeID string) error
}

// Result reports what publishing did.
type Result struct {
	// AlreadyPublished is set when an equivalent release is already on the
	// default branch and no branch or pull request was created.
	AlreadyPublished bool

	PullRequestURL string
	Branch         string
}

// Publisher drives the distribution repository lifecycle.
type Publisher struct {
	cfg    *config.Config
	fs     afero.Fs
	git    Git
	forge  Forge
	logger *zap.Logger

	// newBranchSuffix is swappable in tests.
	newBranchSuffix func() string
}

// NewPublisher creates a Publisher. Config, fs, git, and forge are required;
// a nil logger defaults to a no-op logger.
func NewPublisher(cfg *config.Config, fs afero.Fs, git Git, fc Forge, logger *zap.Logger) (*Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if git == nil {
		return nil, fmt.Errorf("git is required")
	}
	if fc == nil {
		return nil, fmt.Errorf("forge client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:             cfg,
		fs:              fs,
		git:             git,
		forge:           fc,
		logger:          logger.Named("dist"),
		newBranchSuffix: func() string { return uuid.NewString()[:8] },
	}, nil
}

// Publish writes the release manifest and notes into the distribution
// repository behind a merged pull request. Re-running with an unchanged plan
// performs no additional branch or pull-request operations: an equivalent
// manifest already on the default branch short-circuits to AlreadyPublished.
func (p *Publisher) Publish(ctx context.Context, rp *plan.ReleasePlan, m *manifest.Manifest, notesDoc string) (Result, error) {
	if err := p.prepareClone(ctx); err != nil {
		return Result{}, err
	}

	published, err := p.alreadyPublished(ctx, rp, m)
	if err != nil {
		return Result{}, err
	}
	if published {
		p.logger.Info("release already published, nothing to do", zap.String("tag", rp.Tag))
		return Result{AlreadyPublished: true}, nil
	}

	branch, err := p.pushReleaseBranch(ctx, rp, m, notesDoc)
	if err != nil {
		return Result{}, err
	}

	pr, err := p.forge.CreatePull(ctx, p.cfg.Dist.Slug, forge.NewPull{
		Title: rp.Title,
		Body:  pullBody(rp),
		Head:  branch,
		Base:  p.cfg.Dist.DefaultBranch,
	})
	if err != nil {
		return Result{}, fault.Wrapf(fault.DistRepoFailed, err, "opening pull request for %s", rp.Tag)
	}
	p.logger.Info("opened release pull request",
		zap.String("tag", rp.Tag),
		zap.Int("number", pr.Number),
		zap.String("url", pr.URL),
	)

	if err := p.merge(ctx, pr); err != nil {
		return Result{}, err
	}

	p.syncAfterMerge(ctx, branch)
	return Result{PullRequestURL: pr.URL, Branch: branch}, nil
}

// prepareClone ensures a clean distribution clone synced to the default
// branch.
func (p *Publisher) prepareClone(ctx context.Context) error {
	dir := p.cfg.DistDir()
	slug := p.cfg.Dist.Slug

	if !p.git.Exists(dir) {
		if err := p.git.Clone(ctx, fmt.Sprintf("https://github.com/%s.git", slug), dir); err != nil {
			return fault.Wrapf(fault.DistRepoFailed, err, "cloning %s into %s", slug, dir)
		}
	}

	clean, err := p.git.IsClean(ctx, dir)
	if err != nil {
		return fault.Wrapf(fault.DistRepoFailed, err, "checking %s working tree", dir)
	}
	if !clean {
		return fault.Newf(fault.DistRepoDirty, "distribution clone %s has uncommitted changes", dir).
			WithHint("commit, stash, or discard the local changes and retry")
	}

	if err := p.git.Checkout(ctx, dir, p.cfg.Dist.DefaultBranch); err != nil {
		return fault.Wrapf(fault.DistRepoFailed, err, "checking out %s", p.cfg.Dist.DefaultBranch)
	}
	if err := p.git.Fetch(ctx, dir); err != nil {
		return fault.Wrapf(fault.DistRepoFailed, err, "fetching %s", slug)
	}
	if err := p.git.FastForward(ctx, dir); err != nil {
		return fault.Wrapf(fault.DistRepoFailed, err, "fast-forwarding %s", p.cfg.Dist.DefaultBranch)
	}
	return nil
}

// alreadyPublished reports whether an equivalent manifest and the notes file
// are already on the default branch.
func (p *Publisher) alreadyPublished(ctx context.Context, rp *plan.ReleasePlan, m *manifest.Manifest) (bool, error) {
	slug := p.cfg.Dist.Slug
	ref := p.cfg.Dist.DefaultBranch

	data, err := p.forge.FileAt(ctx, slug, rp.SpecPath, ref)
	if errors.Is(err, forge.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	remote, err := manifest.Decode(data)
	if err != nil {
		p.logger.Warn("existing manifest is unreadable, republishing",
			zap.String("path", rp.SpecPath), zap.Error(err))
		return false, nil
	}
	if !remote.Equivalent(m) {
		return false, nil
	}

	if _, err := p.forge.FileAt(ctx, slug, rp.NotesPath, ref); errors.Is(err, forge.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// pushReleaseBranch writes the release files on a fresh uniquely named
// branch and pushes it.
func (p *Publisher) pushReleaseBranch(ctx context.Context, rp *plan.ReleasePlan, m *manifest.Manifest, notesDoc string) (string, error) {
	dir := p.cfg.DistDir()
	branch := fmt.Sprintf("release/%s-%s", rp.Tag, p.newBranchSuffix())

	if err := p.git.CheckoutNew(ctx, dir, branch); err != nil {
		return "", fault.Wrapf(fault.DistRepoFailed, err, "creating branch %s", branch)
	}

	encoded, err := manifest.Encode(m)
	if err != nil {
		return "", fault.Wrapf(fault.DistRepoFailed, err, "encoding manifest for %s", rp.Tag)
	}
	if err := p.writeFile(filepath.Join(dir, rp.SpecPath), encoded); err != nil {
		return "", err
	}
	if err := p.writeFile(filepath.Join(dir, rp.NotesPath), []byte(notesDoc)); err != nil {
		return "", err
	}

	if err := p.git.CommitAll(ctx, dir, rp.Title); err != nil {
		return "", fault.Wrapf(fault.DistRepoFailed, err, "committing release files for %s", rp.Tag)
	}
	if err := p.git.Push(ctx, dir, branch); err != nil {
		return "", fault.Wrapf(fault.DistRepoFailed, err, "pushing %s", branch)
	}
	return branch, nil
}

func (p *Publisher) writeFile(path string, data []byte) error {
	if err := p.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fault.Wrapf(fault.IOFailed, err, "creating %s", filepath.Dir(path))
	}
	if err := afero.WriteFile(p.fs, path, data, 0o644); err != nil {
		return fault.Wrapf(fault.IOFailed, err, "writing %s", path)
	}
	return nil
}

// merge lands the pull request: auto-merge when the repository allows it,
// otherwise a mergeability wait followed by a direct squash merge. Both
// paths end by waiting for the pull request to report merged.
func (p *Publisher) merge(ctx context.Context, pr forge.PullRequest) error {
	slug := p.cfg.Dist.Slug

	err := p.forge.EnableAutoMerge(ctx, pr.NodeID)
	switch {
	case err == nil:
		p.logger.Info("auto-merge enabled", zap.Int("number", pr.Number))
	case errors.Is(err, forge.ErrAutoMergeDisabled):
		p.logger.Info("auto-merge disabled on repository, merging directly", zap.Int("number", pr.Number))
		if err := p.waitMergeable(ctx, pr); err != nil {
			return err
		}
		if err := p.forge.MergePull(ctx, slug, pr.Number); err != nil {
			return fault.Wrapf(fault.DistRepoFailed, err, "merging pull request #%d", pr.Number).
				WithHintf("merge it manually: %s", pr.URL)
		}
	default:
		return fault.Wrapf(fault.DistRepoFailed, err, "requesting auto-merge for #%d", pr.Number).
			WithHintf("merge it manually: %s", pr.URL)
	}

	return p.waitMerged(ctx, pr)
}

// waitMergeable polls until the forge reports the pull request cleanly
// mergeable.
func (p *Publisher) waitMergeable(ctx context.Context, pr forge.PullRequest) error {
	err := p.cfg.Dist.MergeablePoll.Wait(ctx, "pull request mergeability", func(ctx context.Context) (bool, error) {
		current, err := p.forge.GetPull(ctx, p.cfg.Dist.Slug, pr.Number)
		if err != nil {
			return false, err
		}
		if closedUnmerged(current) {
			return false, closedError(current)
		}
		return current.Mergeable != nil && *current.Mergeable && current.MergeableState == "clean", nil
	})
	if err != nil {
		var timeout config.DeadlineError
		if errors.As(err, &timeout) {
			return fault.Wrapf(fault.DistRepoFailed, err, "pull request #%d never became mergeable", pr.Number).
				WithHintf("resolve checks or conflicts: %s", pr.URL)
		}
		return err
	}
	return nil
}

// waitMerged polls until the pull request reports merged, failing fast if it
// closes without merging.
func (p *Publisher) waitMerged(ctx context.Context, pr forge.PullRequest) error {
	err := p.cfg.Dist.MergedPoll.Wait(ctx, "pull request merge", func(ctx context.Context) (bool, error) {
		current, err := p.forge.GetPull(ctx, p.cfg.Dist.Slug, pr.Number)
		if err != nil {
			return false, err
		}
		if closedUnmerged(current) {
			return false, closedError(current)
		}
		return current.Merged, nil
	})
	if err != nil {
		var timeout config.DeadlineError
		if errors.As(err, &timeout) {
			return fault.Wrapf(fault.DistRepoFailed, err, "pull request #%d did not merge in time", pr.Number).
				WithHintf("check required reviews and checks: %s", pr.URL)
		}
		return err
	}
	p.logger.Info("pull request merged", zap.Int("number", pr.Number))
	return nil
}

func closedUnmerged(pr forge.PullRequest) bool {
	return strings.EqualFold(pr.State, "closed") && !pr.Merged
}

func closedError(pr forge.PullRequest) error {
	return fault.Newf(fault.DistRepoFailed, "pull request #%d was closed without merging", pr.Number).
		WithHintf("reopen or investigate: %s", pr.URL)
}

// syncAfterMerge returns the local clone to the updated default branch. Best
// effort: the release already landed, so failures only log.
func (p *Publisher) syncAfterMerge(ctx context.Context, branch string) {
	dir := p.cfg.DistDir()
	if err := p.git.Checkout(ctx, dir, p.cfg.Dist.DefaultBranch); err != nil {
		p.logger.Warn("post-merge checkout failed", zap.Error(err))
		return
	}
	if err := p.git.Fetch(ctx, dir); err != nil {
		p.logger.Warn("post-merge fetch failed", zap.Error(err))
		return
	}
	if err := p.git.FastForward(ctx, dir); err != nil {
		p.logger.Warn("post-merge fast-forward failed", zap.Error(err))
		return
	}
	if err := p.git.DeleteBranch(ctx, dir, branch); err != nil {
		p.logger.Debug("release branch cleanup failed", zap.Error(err))
	}
}

func pullBody(rp *plan.ReleasePlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated release publication for `%s` on the %s channel.\n\nPins:\n", rp.Tag, rp.Channel)
	for _, pin := range rp.Pins {
		fmt.Fprintf(&b, "- %s: `%s`\n", pin.Repo.ID, readiness.Short(pin.SHA))
	}
	return b.String()
}
