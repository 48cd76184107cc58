// Package release sequences one release end to end: CI gate, plan, notes,
// manifest, distribution publish, and the downstream workflow. Pin
// resolution stays with the caller because each surface (flags, plan file,
// wizard) picks pins differently.
package release

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/dist"
	"github.com/fyrsmithlabs/relkit/internal/forge"
	"github.com/fyrsmithlabs/relkit/internal/manifest"
	"github.com/fyrsmithlabs/relkit/internal/notes"
	"github.com/fyrsmithlabs/relkit/internal/plan"
	"github.com/fyrsmithlabs/relkit/internal/resolve"
	"github.com/fyrsmithlabs/relkit/internal/ui"
	"github.com/fyrsmithlabs/relkit/internal/version"
)

// Gatekeeper enforces the CI gate on a pin set.
type Gatekeeper interface {
	EnsureGreen(ctx context.Context, pins []resolve.Pin, allowNonGreen bool) error
}

// Planner validates a tag against release history and builds the plan.
type Planner interface {
	Plan(ctx context.Context, product config.Product, channel config.Channel, bump version.Bump, tagOverride string, pins []resolve.Pin) (*plan.ReleasePlan, error)
}

// Publisher lands the release manifest on the distribution default branch.
type Publisher interface {
	Publish(ctx context.Context, rp *plan.ReleasePlan, m *manifest.Manifest, notesDoc string) (dist.Result, error)
}

// Dispatcher triggers and watches the downstream build/publish workflow.
type Dispatcher interface {
	Dispatch(ctx context.Context, workflowFile, tag string, channel config.Channel) (forge.WorkflowRun, error)
	Watch(ctx context.Context, runID int64) error
}

// Request carries everything one release run needs beyond the resolved pins'
// provenance.
type Request struct {
	Product config.Product
	Channel config.Channel

	// Bump suggests the next tag; TagOverride, when set, wins.
	Bump        version.Bump
	TagOverride string

	Pins []resolve.Pin

	// NotesText is operator-typed notes; NotesFile attaches a file. Both
	// may be set.
	NotesText string
	NotesFile string

	AllowNonGreen bool
	CreatedBy     string

	// SkipWatch dispatches the workflow without waiting for completion.
	SkipWatch bool
}

// Result reports what one release run produced.
type Result struct {
	Plan    *plan.ReleasePlan
	Publish dist.Result
	Run     forge.WorkflowRun
}

// Runner executes release runs.
type Runner struct {
	cfg        *config.Config
	fs         afero.Fs
	gate       Gatekeeper
	planner    Planner
	publisher  Publisher
	dispatcher Dispatcher
	printer    *ui.Printer
	logger     *zap.Logger

	// userAllowlist overrides the operator allowlist path for tests.
	userAllowlist func() (string, error)
}

// NewRunner creates a Runner. All dependencies except the printer and logger
// are required; a nil printer writes to stderr and a nil logger defaults to a
// no-op logger.
func NewRunner(cfg *config.Config, fs afero.Fs, gate Gatekeeper, planner Planner, publisher Publisher, dispatcher Dispatcher, printer *ui.Printer, logger *zap.Logger) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if printer == nil {
		printer = ui.NewPrinter(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:           cfg,
		fs:            fs,
		gate:          gate,
		planner:       planner,
		publisher:     publisher,
		dispatcher:    dispatcher,
		printer:       printer,
		logger:        logger.Named("release"),
		userAllowlist: config.UserAllowlistPath,
	}, nil
}

// Run executes one release: gate, plan, notes, publish, dispatch, watch.
// Publishing is idempotent, so re-running after a partial failure converges
// on the same release.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if err := r.gate.EnsureGreen(ctx, req.Pins, req.AllowNonGreen); err != nil {
		return Result{}, err
	}

	rp, err := r.planner.Plan(ctx, req.Product, req.Channel, req.Bump, req.TagOverride, req.Pins)
	if err != nil {
		return Result{}, err
	}
	r.logger.Info("release planned",
		zap.String("product", rp.Product),
		zap.String("tag", rp.Tag),
		zap.Int("pins", len(rp.Pins)))

	notesDoc, err := r.renderNotes(rp, req)
	if err != nil {
		return Result{}, err
	}

	pins := make([]manifest.RepoPin, 0, len(rp.Pins))
	for _, p := range rp.Pins {
		pins = append(pins, manifest.RepoPin{ID: p.Repo.ID, Slug: p.Repo.Slug, SHA: p.SHA, Ref: p.Repo.Ref})
	}
	m := manifest.New(req.Product, string(rp.Channel), rp.Tag, req.CreatedBy, pins)

	pub, err := r.publisher.Publish(ctx, rp, m, notesDoc)
	if err != nil {
		return Result{}, err
	}
	if pub.AlreadyPublished {
		r.printer.Warn("%s is already on the default branch, skipping publish", rp.Tag)
	} else {
		r.printer.Success("merged %s into %s", rp.Tag, r.cfg.Dist.Slug)
	}

	run, err := r.dispatcher.Dispatch(ctx, req.Product.Workflow, rp.Tag, rp.Channel)
	if err != nil {
		return Result{Plan: rp, Publish: pub}, err
	}
	r.printer.Info("dispatched %s (run %d)", req.Product.Workflow, run.ID)
	if run.URL != "" {
		r.printer.Info("  %s", run.URL)
	}

	if !req.SkipWatch {
		if err := r.dispatcher.Watch(ctx, run.ID); err != nil {
			return Result{Plan: rp, Publish: pub, Run: run}, err
		}
		r.printer.Success("workflow finished for %s", rp.Tag)
	}

	return Result{Plan: rp, Publish: pub, Run: run}, nil
}

// renderNotes builds the release-notes document and refuses to continue when
// the secret gate finds anything.
func (r *Runner) renderNotes(rp *plan.ReleasePlan, req Request) (string, error) {
	extras := notes.Extras{Operator: req.NotesText}
	if req.NotesFile != "" {
		content, err := notes.LoadFile(r.fs, req.NotesFile)
		if err != nil {
			return "", err
		}
		extras.FromFile = content
	}
	doc := notes.Render(rp, extras)

	userPath, err := r.userAllowlist()
	if err != nil {
		userPath = ""
	}
	allow, err := notes.LoadAllowlists(r.cfg.DistDir(), userPath)
	if err != nil {
		return "", err
	}
	if err := notes.Gate(doc, allow); err != nil {
		return "", err
	}
	return doc, nil
}
