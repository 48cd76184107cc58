// Package ci enforces the release CI gate and drives the downstream
// build/publish workflow: dispatch with a correlation token, run location,
// and completion watching.
package ci

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
	"github.com/fyrsmithlabs/relkit/internal/resolve"
)

// Checker answers whether a repo's required check succeeded at a commit.
type Checker interface {
	CommitGreen(ctx context.Context, repo config.Repo, sha string) (bool, error)
}

// Gate validates that every CI-gated pin is green before a release proceeds.
type Gate struct {
	checker Checker
	logger  *zap.Logger
}

// NewGate creates a Gate. The checker is required; a nil logger defaults to
// a no-op logger.
func NewGate(checker Checker, logger *zap.Logger) (*Gate, error) {
	if checker == nil {
		return nil, fmt.Errorf("checker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{checker: checker, logger: logger.Named("ci")}, nil
}

// EnsureGreen verifies every pin whose repo declares a required check has a
// successful run at exactly the pinned commit. All red pins are reported in
// one error. With allowNonGreen the gate logs the red pins and passes.
func (g *Gate) EnsureGreen(ctx context.Context, pins []resolve.Pin, allowNonGreen bool) error {
	var red []string
	for _, pin := range pins {
		if pin.Repo.Check == "" {
			continue
		}
		green, err := g.checker.CommitGreen(ctx, pin.Repo, pin.SHA)
		if err != nil {
			return err
		}
		if !green {
			red = append(red, fmt.Sprintf("%s@%s (%s)", pin.Repo.ID, readiness.Short(pin.SHA), pin.Repo.Check))
		}
	}
	if len(red) == 0 {
		return nil
	}
	if allowNonGreen {
		g.logger.Warn("releasing with non-green pins", zap.Strings("pins", red))
		return nil
	}
	return fault.Newf(fault.CINotGreen, "%d pin(s) without a successful required check: %s",
		len(red), strings.Join(red, ", ")).
		WithHint("push fixes and wait for CI, or pass --allow-non-green to override")
}
