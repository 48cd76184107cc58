// Package plan computes validated release plans: a monotonically ordered tag
// combined with a resolved pin set and the distribution paths the release
// will occupy.
package plan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/manifest"
	"github.com/fyrsmithlabs/relkit/internal/resolve"
	"github.com/fyrsmithlabs/relkit/internal/version"
)

// ReleasePlan is the immutable output of planning: everything the
// distribution lifecycle needs to publish one release.
type ReleasePlan struct {
	Product   string
	Channel   config.Channel
	Tag       string
	Pins      []resolve.Pin
	SpecPath  string
	NotesPath string
	Title     string
}

// Forge is the forge surface the planner consumes.
type Forge interface {
	ListReleaseTags(ctx context.Context, slug string) ([]string, error)
}

// Planner turns pins, a channel, and a bump request into a ReleasePlan.
type Planner struct {
	cfg    *config.Config
	forge  Forge
	logger *zap.Logger
}

// NewPlanner creates a Planner. Config and forge are required; a nil logger
// defaults to a no-op logger.
func NewPlanner(cfg *config.Config, fc Forge, logger *zap.Logger) (*Planner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if fc == nil {
		return nil, fmt.Errorf("forge client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{cfg: cfg, forge: fc, logger: logger.Named("plan")}, nil
}

// History loads the release history from the distribution repository's
// published tags.
func (p *Planner) History(ctx context.Context) (version.History, error) {
	tags, err := p.forge.ListReleaseTags(ctx, p.cfg.Dist.Slug)
	if err != nil {
		return version.History{}, err
	}
	return version.ComputeHistory(tags), nil
}

// Plan validates or suggests a tag against the live release history and
// assembles the release plan. tagOverride takes precedence over bump; one of
// the two must be supplied.
func (p *Planner) Plan(ctx context.Context, product config.Product, channel config.Channel, bump version.Bump, tagOverride string, pins []resolve.Pin) (*ReleasePlan, error) {
	if !channel.Valid() {
		return nil, fault.Newf(fault.InvalidInput, "unknown channel %q", channel).
			WithHint("channel must be stable or beta")
	}
	if len(pins) == 0 {
		return nil, fault.New(fault.InvalidInput, "no pinned repos to plan a release from")
	}

	hist, err := p.History(ctx)
	if err != nil {
		return nil, err
	}

	var tag version.Tag
	switch {
	case tagOverride != "":
		parsed, ok := version.ParseTag(tagOverride)
		if !ok {
			return nil, fault.Newf(fault.InvalidTag, "tag %q is not vX.Y.Z or vX.Y.Z-beta.N", tagOverride)
		}
		tag = parsed
	case bump != "":
		if !bump.Valid() {
			return nil, fault.Newf(fault.InvalidInput, "unknown bump %q", bump).
				WithHint("bump must be major, minor, or patch")
		}
		tag = SuggestTag(hist, channel, bump)
	default:
		return nil, fault.New(fault.InvalidInput, "a tag or a bump is required").
			WithHint("pass --tag vX.Y.Z[-beta.N] or --bump major|minor|patch")
	}

	if err := ValidateTag(hist, channel, tag); err != nil {
		return nil, err
	}

	rp := &ReleasePlan{
		Product:   product.Name,
		Channel:   channel,
		Tag:       tag.String(),
		Pins:      pins,
		SpecPath:  manifest.PathFor(tag.String()),
		NotesPath: manifest.NotesPathFor(tag.String()),
		Title:     fmt.Sprintf("Release %s %s", product.Name, tag),
	}
	p.logger.Info("planned release",
		zap.String("product", rp.Product),
		zap.String("channel", string(rp.Channel)),
		zap.String("tag", rp.Tag),
		zap.Int("pins", len(rp.Pins)),
	)
	return rp, nil
}

// SuggestTag computes the next tag for a channel. Stable bumps the latest
// stable version directly. Beta bumps from latest stable, but continues an
// in-flight beta line whose base is already at or past the bumped candidate,
// so beta tags never regress.
func SuggestTag(hist version.History, channel config.Channel, bump version.Bump) version.Tag {
	latest, _ := hist.LatestStable()
	candidate := bump.Apply(latest)

	if channel == config.ChannelStable {
		return version.Tag{Base: candidate}
	}

	base := candidate
	if inflight, ok := hist.LatestBetaBase(); ok && !inflight.Less(candidate) {
		base = inflight
	}
	return version.Tag{Base: base, Beta: true, Seq: hist.MaxBetaSeq(base) + 1}
}

// ValidateTag checks a candidate tag against the channel and history rules:
// the tag form must match the channel, the tag must not already exist, a
// stable tag must exceed the latest stable version, and a beta tag's base
// must exceed the latest stable and not regress behind the latest beta base.
func ValidateTag(hist version.History, channel config.Channel, tag version.Tag) error {
	switch channel {
	case config.ChannelStable:
		if tag.Beta {
			return fault.Newf(fault.InvalidTag, "stable channel requires a vX.Y.Z tag, got %s", tag)
		}
	case config.ChannelBeta:
		if !tag.Beta {
			return fault.Newf(fault.InvalidTag, "beta channel requires a vX.Y.Z-beta.N tag, got %s", tag)
		}
		if tag.Seq < 1 {
			return fault.Newf(fault.InvalidTag, "beta sequence must be at least 1, got %s", tag)
		}
	default:
		return fault.Newf(fault.InvalidInput, "unknown channel %q", channel)
	}

	if hist.Contains(tag) {
		return fault.Newf(fault.TagExists, "tag %s was already released", tag).
			WithHint("pick a higher version or let the tag be suggested")
	}

	if latest, ok := hist.LatestStable(); ok && !latest.Less(tag.Base) {
		if tag.Beta {
			return fault.Newf(fault.InvalidTag, "beta base %s must exceed latest stable v%s", tag, latest)
		}
		return fault.Newf(fault.InvalidTag, "tag %s must exceed latest stable v%s", tag, latest)
	}

	if tag.Beta {
		if inflight, ok := hist.LatestBetaBase(); ok && tag.Base.Less(inflight) {
			return fault.Newf(fault.InvalidTag, "beta base %s regresses behind in-flight beta line v%s", tag, inflight)
		}
	}
	return nil
}
