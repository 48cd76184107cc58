// Package resolve turns a product's repositories into a concrete set of
// (repo, commit) pins under one of three policies: explicit operator-supplied
// commits, strict branch heads (every repo fully ready), or smart carry
// (reuse the prior release's pins except for repos designated to track their
// branch head).
//
// Resolution is atomic: a failed run reports the complete set of blocking
// repos, never a partial pin list, so one corrective pass can fix everything.
package resolve

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/manifest"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
	"github.com/fyrsmithlabs/relkit/internal/version"
)

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Pin is one repository fixed at one commit.
type Pin struct {
	Repo config.Repo
	SHA  string
}

// SuggestionKind classifies a non-binding smart-resolution observation.
type SuggestionKind string

const (
	// SuggestBump flags a carried repo whose branch head moved past the
	// carried commit and is green there.
	SuggestBump SuggestionKind = "bump"

	// SuggestLocalIssue flags a carried repo whose local working copy has
	// uncommitted or unpushed work.
	SuggestLocalIssue SuggestionKind = "local_issue"
)

// Suggestion is advice attached to a successful smart resolution. It never
// changes a pin.
type Suggestion struct {
	RepoID string
	Kind   SuggestionKind
	Detail string
}

// Resolution is a complete pin set plus any smart-mode suggestions.
type Resolution struct {
	Pins        []Pin
	Suggestions []Suggestion
}

// Pin returns the pin for a repo id.
func (r *Resolution) Pin(id string) (Pin, bool) {
	for _, p := range r.Pins {
		if p.Repo.ID == id {
			return p, true
		}
	}
	return Pin{}, false
}

// Blocker names one repository that prevents auto-resolution.
type Blocker struct {
	RepoID string
	Reason string
	Commit string

	// ciOnly marks blockers where everything but the required check passed.
	ciOnly bool
}

// BlockedError reports every repo that blocked an auto-resolution.
type BlockedError struct {
	Blockers []Blocker
}

func (e *BlockedError) Error() string {
	parts := make([]string, 0, len(e.Blockers))
	for _, b := range e.Blockers {
		if b.Commit != "" {
			parts = append(parts, fmt.Sprintf("%s@%s: %s", b.RepoID, readiness.Short(b.Commit), b.Reason))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", b.RepoID, b.Reason))
		}
	}
	return fmt.Sprintf("%d repo(s) blocked: %s", len(e.Blockers), strings.Join(parts, "; "))
}

// blockedFault wraps a blocker set in the right fault kind: ci_not_green when
// every blocker is purely a red check, invalid_input otherwise.
func blockedFault(blockers []Blocker) error {
	allCI := true
	for _, b := range blockers {
		if !b.ciOnly {
			allCI = false
			break
		}
	}
	kind := fault.InvalidInput
	hint := "fix the listed repos (commit, push, sync) and retry"
	if allCI {
		kind = fault.CINotGreen
		hint = "wait for CI to pass on the listed commits, or pass --allow-non-green"
	}
	return fault.Wrap(kind, &BlockedError{Blockers: blockers}, "auto-resolution blocked").WithHint(hint)
}

// Prober is the readiness surface the resolver consumes.
type Prober interface {
	Probe(ctx context.Context, repo config.Repo, ref string) readiness.Status
	CommitGreen(ctx context.Context, repo config.Repo, sha string) (bool, error)
}

// Forge is the forge surface the resolver consumes: prior-release discovery
// and manifest retrieval from the distribution repository.
type Forge interface {
	ListReleaseTags(ctx context.Context, slug string) ([]string, error)
	FileAt(ctx context.Context, slug, path, ref string) ([]byte, error)
}

// Resolver computes pin sets.
type Resolver struct {
	cfg    *config.Config
	prober Prober
	forge  Forge
	logger *zap.Logger
}

// NewResolver creates a Resolver. Config, prober, and forge are required; a
// nil logger defaults to a no-op logger.
func NewResolver(cfg *config.Config, prober Prober, fc Forge, logger *zap.Logger) (*Resolver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	if fc == nil {
		return nil, fmt.Errorf("forge client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, prober: prober, forge: fc, logger: logger.Named("resolve")}, nil
}

// ResolveExplicit pins every product repo to an operator-supplied commit.
// All repos must be covered; shas must be full 40-character hashes. No
// readiness checks run here: the later CI gate still applies.
func (r *Resolver) ResolveExplicit(product config.Product, shas map[string]string) (*Resolution, error) {
	var missing, malformed, unknown []string

	for id := range shas {
		if _, ok := product.Repo(id); !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)

	pins := make([]Pin, 0, len(product.Repos))
	for _, repo := range product.Repos {
		sha, ok := shas[repo.ID]
		if !ok {
			missing = append(missing, repo.ID)
			continue
		}
		if !shaPattern.MatchString(sha) {
			malformed = append(malformed, fmt.Sprintf("%s=%s", repo.ID, sha))
			continue
		}
		pins = append(pins, Pin{Repo: repo, SHA: sha})
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, fmt.Sprintf("missing shas for: %s", strings.Join(missing, ", ")))
	}
	if len(malformed) > 0 {
		problems = append(problems, fmt.Sprintf("not 40-char hex shas: %s", strings.Join(malformed, ", ")))
	}
	if len(unknown) > 0 {
		problems = append(problems, fmt.Sprintf("unknown repo ids: %s", strings.Join(unknown, ", ")))
	}
	if len(problems) > 0 {
		return nil, fault.Newf(fault.InvalidInput, "explicit pins for %s rejected: %s",
			product.Name, strings.Join(problems, "; ")).
			WithHintf("pass --sha <id>=<40-hex> for each of: %s", strings.Join(product.RepoIDs(), ", "))
	}
	return &Resolution{Pins: pins}, nil
}

// ResolveStrict pins every product repo to its remote branch head, requiring
// every repo to probe fully ready. Failure reports the complete blocker set.
func (r *Resolver) ResolveStrict(ctx context.Context, product config.Product) (*Resolution, error) {
	var blockers []Blocker
	pins := make([]Pin, 0, len(product.Repos))

	for _, repo := range product.Repos {
		st := r.prober.Probe(ctx, repo, "")
		if !st.Ready() {
			blockers = append(blockers, Blocker{
				RepoID: repo.ID,
				Reason: strings.Join(st.Problems(), "; "),
				Commit: st.RemoteHead,
				ciOnly: ciOnlyBlock(st),
			})
			continue
		}
		pins = append(pins, Pin{Repo: repo, SHA: st.RemoteHead})
	}

	if len(blockers) > 0 {
		return nil, blockedFault(blockers)
	}
	return &Resolution{Pins: pins}, nil
}

// SmartOptions tune smart resolution per repo.
type SmartOptions struct {
	// RefOverrides pins a repo to the head of a specific ref instead of
	// carrying; the repo must be fully ready at that ref.
	RefOverrides map[string]string

	// SHAOverrides pins a repo to an exact commit, skipping both head and
	// carry logic.
	SHAOverrides map[string]string
}

// ResolveSmart pins head-designated repos (and repos with a ref override) to
// their ready branch head, and carries every other repo's pin forward from
// the most relevant prior release, re-validating that carried commits are
// still green. Bump-suggest repos additionally yield non-binding suggestions
// when a newer green head exists or local work is pending.
func (r *Resolver) ResolveSmart(ctx context.Context, product config.Product, channel config.Channel, opts SmartOptions) (*Resolution, error) {
	if err := r.checkOverrideKeys(product, opts); err != nil {
		return nil, err
	}

	var (
		prior    *manifest.Manifest
		priorTag string
	)
	if needsCarry(product, opts) {
		var err error
		prior, priorTag, err = r.priorManifest(ctx, product, channel)
		if err != nil {
			return nil, err
		}
	}

	var (
		blockers    []Blocker
		suggestions []Suggestion
	)
	pins := make([]Pin, 0, len(product.Repos))

	for _, repo := range product.Repos {
		if sha, ok := opts.SHAOverrides[repo.ID]; ok {
			if !shaPattern.MatchString(sha) {
				return nil, fault.Newf(fault.InvalidInput, "sha override for %s is not a 40-char hex commit: %s", repo.ID, sha)
			}
			pins = append(pins, Pin{Repo: repo, SHA: sha})
			continue
		}

		refOverride, hasRef := opts.RefOverrides[repo.ID]
		if repo.Head || hasRef {
			st := r.prober.Probe(ctx, repo, refOverride)
			if !st.Ready() {
				blockers = append(blockers, Blocker{
					RepoID: repo.ID,
					Reason: strings.Join(st.Problems(), "; "),
					Commit: st.RemoteHead,
					ciOnly: ciOnlyBlock(st),
				})
				continue
			}
			pins = append(pins, Pin{Repo: repo, SHA: st.RemoteHead})
			continue
		}

		if prior == nil {
			blockers = append(blockers, Blocker{
				RepoID: repo.ID,
				Reason: "no prior release to carry a pin from",
			})
			continue
		}
		carried, ok := prior.Pin(repo.ID)
		if !ok {
			blockers = append(blockers, Blocker{
				RepoID: repo.ID,
				Reason: fmt.Sprintf("not pinned by prior release %s", priorTag),
			})
			continue
		}

		green, err := r.prober.CommitGreen(ctx, repo, carried.SHA)
		if err != nil {
			return nil, err
		}
		if !green {
			blockers = append(blockers, Blocker{
				RepoID: repo.ID,
				Reason: fmt.Sprintf("carried commit from %s is not CI-green", priorTag),
				Commit: carried.SHA,
				ciOnly: true,
			})
			continue
		}
		pins = append(pins, Pin{Repo: repo, SHA: carried.SHA})

		if repo.SuggestBump {
			suggestions = append(suggestions, r.suggest(ctx, repo, carried.SHA)...)
		}
	}

	if len(blockers) > 0 {
		return nil, blockedFault(blockers)
	}
	r.logger.Debug("smart resolution complete",
		zap.String("product", product.Name),
		zap.Int("pins", len(pins)),
		zap.Int("suggestions", len(suggestions)),
	)
	return &Resolution{Pins: pins, Suggestions: suggestions}, nil
}

// needsCarry reports whether any repo will resolve in carry mode.
func needsCarry(product config.Product, opts SmartOptions) bool {
	for _, repo := range product.Repos {
		if _, ok := opts.SHAOverrides[repo.ID]; ok {
			continue
		}
		if _, ok := opts.RefOverrides[repo.ID]; ok {
			continue
		}
		if repo.Head {
			continue
		}
		return true
	}
	return false
}

func (r *Resolver) checkOverrideKeys(product config.Product, opts SmartOptions) error {
	var unknown []string
	for id := range opts.SHAOverrides {
		if _, ok := product.Repo(id); !ok {
			unknown = append(unknown, id)
		}
	}
	for id := range opts.RefOverrides {
		if _, ok := product.Repo(id); !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fault.Newf(fault.InvalidInput, "overrides name unknown repos: %s",
		strings.Join(unknown, ", ")).
		WithHintf("configured repos for %s: %s", product.Name, strings.Join(product.RepoIDs(), ", "))
}

// priorManifest loads the manifest of the most relevant previous release:
// the requested channel's latest tag, falling back to the other channel's
// latest. A nil manifest with nil error means no prior release exists.
func (r *Resolver) priorManifest(ctx context.Context, product config.Product, channel config.Channel) (*manifest.Manifest, string, error) {
	tags, err := r.forge.ListReleaseTags(ctx, r.cfg.Dist.Slug)
	if err != nil {
		return nil, "", err
	}
	hist := version.ComputeHistory(tags)

	tag, ok := latestTag(hist, channel)
	if !ok {
		return nil, "", nil
	}

	data, err := r.forge.FileAt(ctx, r.cfg.Dist.Slug, manifest.PathFor(tag), r.cfg.Dist.DefaultBranch)
	if err != nil {
		return nil, "", fault.Wrapf(fault.DistRepoFailed, err,
			"reading prior release manifest for %s", tag)
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return nil, "", fault.Wrapf(fault.DistRepoFailed, err,
			"prior release manifest for %s is unreadable", tag)
	}
	r.logger.Debug("carrying pins from prior release",
		zap.String("product", product.Name),
		zap.String("tag", tag),
	)
	return m, tag, nil
}

// latestTag picks the channel's newest tag, falling back to the other
// channel.
func latestTag(hist version.History, channel config.Channel) (string, bool) {
	stable, hasStable := hist.LatestStable()
	betaBase, hasBeta := hist.LatestBetaBase()

	if channel == config.ChannelBeta {
		if hasBeta {
			return version.FormatBeta(betaBase, hist.MaxBetaSeq(betaBase)), true
		}
		if hasStable {
			return version.FormatStable(stable), true
		}
		return "", false
	}
	if hasStable {
		return version.FormatStable(stable), true
	}
	if hasBeta {
		return version.FormatBeta(betaBase, hist.MaxBetaSeq(betaBase)), true
	}
	return "", false
}

// suggest probes a bump-suggest repo and reports a newer green head or
// pending local work. Probe failures yield no suggestions: advice is best
// effort.
func (r *Resolver) suggest(ctx context.Context, repo config.Repo, carriedSHA string) []Suggestion {
	st := r.prober.Probe(ctx, repo, "")
	var out []Suggestion
	if st.RemoteHead != "" && st.RemoteHead != carriedSHA && st.CIGreen != nil && *st.CIGreen {
		out = append(out, Suggestion{
			RepoID: repo.ID,
			Kind:   SuggestBump,
			Detail: fmt.Sprintf("newer green commit %s on %s (carrying %s)",
				readiness.Short(st.RemoteHead), st.Ref, readiness.Short(carriedSHA)),
		})
	}
	if st.LocalExists && (st.Dirty || st.Ahead > 0 || st.Behind > 0 || !st.HasUpstream) {
		out = append(out, Suggestion{
			RepoID: repo.ID,
			Kind:   SuggestLocalIssue,
			Detail: strings.Join(st.Problems(), "; "),
		})
	}
	return out
}

// ciOnlyBlock reports whether a status would be ready if its required check
// were green.
func ciOnlyBlock(st readiness.Status) bool {
	return st.Err == nil &&
		st.LocalExists && !st.Dirty && st.HasUpstream &&
		st.Ahead == 0 && st.Behind == 0 &&
		st.LocalHead != "" && st.LocalHead == st.RemoteHead &&
		st.CIGreen != nil && !*st.CIGreen
}
