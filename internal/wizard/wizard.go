package wizard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/forge"
	"github.com/fyrsmithlabs/relkit/internal/plan"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
	"github.com/fyrsmithlabs/relkit/internal/release"
	"github.com/fyrsmithlabs/relkit/internal/resolve"
	"github.com/fyrsmithlabs/relkit/internal/stepflow"
	"github.com/fyrsmithlabs/relkit/internal/ui"
	"github.com/fyrsmithlabs/relkit/internal/version"
)

// commitPageSize bounds the commit list shown per repo in the content walk.
const commitPageSize = 15

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Resolver turns wizard picks into a complete pin set.
type Resolver interface {
	ResolveSmart(ctx context.Context, product config.Product, channel config.Channel, opts resolve.SmartOptions) (*resolve.Resolution, error)
	ResolveExplicit(product config.Product, shas map[string]string) (*resolve.Resolution, error)
}

// Planner supplies release history for tag suggestions.
type Planner interface {
	History(ctx context.Context) (version.History, error)
}

// Forge is the forge surface the wizard consumes.
type Forge interface {
	AuthenticatedUser(ctx context.Context) (string, error)
	ListCommits(ctx context.Context, slug, ref string, limit int) ([]forge.Commit, error)
}

// Git checks the guard repo working copy at confirm time.
type Git interface {
	Exists(dir string) bool
	IsClean(ctx context.Context, dir string) (bool, error)
}

// Runner executes the confirmed release.
type Runner interface {
	Run(ctx context.Context, req release.Request) (release.Result, error)
}

// Deps are the wizard's collaborators.
type Deps struct {
	FS       afero.Fs
	Store    *Store
	Prompter ui.Prompter
	Printer  *ui.Printer
	Resolver Resolver
	Planner  Planner
	Forge    Forge
	Git      Git
	Runner   Runner
}

// Wizard walks an operator through one release, persisting progress after
// every step so interruptions resume instead of restarting.
type Wizard struct {
	cfg      *config.Config
	kind     Kind
	fs       afero.Fs
	store    *Store
	prompter ui.Prompter
	printer  *ui.Printer
	resolver Resolver
	planner  Planner
	forge    Forge
	git      Git
	runner   Runner
	logger   *zap.Logger
}

// New creates a wizard of the given kind. All Deps fields except Printer are
// required; a nil logger defaults to a no-op logger.
func New(cfg *config.Config, kind Kind, deps Deps, logger *zap.Logger) (*Wizard, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown wizard kind %q", kind)
	}
	if deps.FS == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Prompter == nil {
		return nil, fmt.Errorf("prompter is required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if deps.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if deps.Forge == nil {
		return nil, fmt.Errorf("forge client is required")
	}
	if deps.Git == nil {
		return nil, fmt.Errorf("git is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("release runner is required")
	}
	printer := deps.Printer
	if printer == nil {
		printer = ui.NewPrinter(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wizard{
		cfg:      cfg,
		kind:     kind,
		fs:       deps.FS,
		store:    deps.Store,
		prompter: deps.Prompter,
		printer:  printer,
		resolver: deps.Resolver,
		planner:  deps.Planner,
		forge:    deps.Forge,
		git:      deps.Git,
		runner:   deps.Runner,
		logger:   logger.Named("wizard"),
	}, nil
}

// Run resumes the stored session of this wizard's kind, or starts a fresh
// one. With reset, stored sessions of this kind are discarded first. Backing
// out of a prompt pauses the wizard without losing saved progress.
func (w *Wizard) Run(ctx context.Context, reset bool) error {
	sessions, err := w.store.List(w.kind)
	if err != nil {
		return err
	}
	if reset {
		for _, old := range sessions {
			if err := w.store.Clear(old.Product); err != nil {
				return err
			}
		}
		sessions = nil
	}

	var s Session
	resumed := false
	if len(sessions) > 0 {
		s = sessions[0]
		resumed = true
		w.printer.Info("resuming the %s release of %s at %q", s.Kind, s.Product, s.Step)
	} else {
		user, err := w.forge.AuthenticatedUser(ctx)
		if err != nil {
			return err
		}
		s = newSession(w.kind, user)
	}

	saved := false
	save := func(s Session) error {
		saved = true
		return w.store.Save(s)
	}
	err = stepflow.Run(ctx, s, func(s Session) string { return s.Step }, w.handlers(), save)
	if errors.Is(err, ui.ErrAborted) {
		if saved || resumed {
			w.printer.Info("wizard paused; run the same command to resume")
		}
		return nil
	}
	return err
}

func (w *Wizard) handlers() map[string]stepflow.Handler[Session] {
	h := map[string]stepflow.Handler[Session]{
		stepProduct: w.handleProduct,
		stepChannel: w.handleChannel,
		stepBump:    w.handleBump,
		stepTag:     w.handleTag,
		stepSummary: w.handleSummary,
		stepNotes:   w.handleNotes,
		stepConfirm: w.handleConfirm,
	}
	if w.kind == KindApp {
		h[stepSHA] = w.handleSHA
	} else {
		h[stepRepos] = w.handleRepos
	}
	return h
}

func (w *Wizard) product(s Session) (config.Product, error) {
	product, ok := w.cfg.Product(s.Product)
	if !ok {
		return config.Product{}, fault.Newf(fault.InvalidInput, "product %q is no longer configured", s.Product).
			WithHint("reset the wizard with --reset")
	}
	return product, nil
}

// primaryRepo is the repo the app wizard's single commit pick applies to.
func (w *Wizard) primaryRepo(product config.Product) config.Repo {
	repo, _ := product.PrimaryRepo()
	return repo
}

func (w *Wizard) handleProduct(_ context.Context, s Session) (stepflow.Outcome[Session], error) {
	names := make([]string, 0, len(w.cfg.Products))
	for _, p := range w.cfg.Products {
		names = append(names, p.Name)
	}
	idx, err := w.prompter.Select("Product", names, s.cursor(stepProduct))
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	s = s.withCursor(stepProduct, idx)
	s.Product = names[idx]
	s.Step = stepChannel
	return stepflow.Advance(s), nil
}

func (w *Wizard) handleChannel(_ context.Context, s Session) (stepflow.Outcome[Session], error) {
	channels := []config.Channel{config.ChannelStable, config.ChannelBeta}
	options := []string{"stable (vX.Y.Z)", "beta (vX.Y.Z-beta.N)"}
	idx, err := w.prompter.Select("Release channel", options, s.cursor(stepChannel))
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	s = s.withCursor(stepChannel, idx)
	picked := channels[idx]
	if s.Channel != "" && s.Channel != picked {
		s.Tag = ""
	}
	s.Channel = picked
	return stepflow.Advance(s.route(stepBump)), nil
}

func (w *Wizard) handleBump(_ context.Context, s Session) (stepflow.Outcome[Session], error) {
	bumps := []version.Bump{version.BumpMajor, version.BumpMinor, version.BumpPatch}
	options := []string{"major (breaking)", "minor (features)", "patch (fixes)"}
	cursor := s.cursor(stepBump)
	if _, ok := s.Cursors[stepBump]; !ok {
		cursor = 2 // patch is the common case
	}
	idx, err := w.prompter.Select("Version bump", options, cursor)
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	s = s.withCursor(stepBump, idx)
	picked := bumps[idx]
	if s.Bump != "" && s.Bump != picked {
		s.Tag = ""
	}
	s.Bump = picked

	next := stepSHA
	if w.kind == KindContent {
		next = stepRepos
	}
	return stepflow.Advance(s.route(next)), nil
}

func (w *Wizard) handleSHA(_ context.Context, s Session) (stepflow.Outcome[Session], error) {
	product, err := w.product(s)
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	repo := w.primaryRepo(product)

	validate := func(v string) error {
		if v == "" || shaPattern.MatchString(v) {
			return nil
		}
		return fault.New(fault.InvalidInput, "enter a full 40-character commit sha, or leave empty for the branch head")
	}
	title := fmt.Sprintf("Commit for %s", repo.ID)
	value, err := w.prompter.Input(title, "empty pins the head of "+repo.Ref, s.Picks[repo.ID], validate)
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	if s.Picks[repo.ID] != value {
		s.Tag = ""
	}
	s = s.withPick(repo.ID, value)
	return stepflow.Advance(s.route(stepTag)), nil
}

func (w *Wizard) handleRepos(ctx context.Context, s Session) (stepflow.Outcome[Session], error) {
	product, err := w.product(s)
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	repos := product.Repos
	if s.RepoCursor < 0 || s.RepoCursor >= len(repos) {
		s.RepoCursor = 0
		s.Step = stepTag
		return stepflow.Advance(s), nil
	}

	repo := repos[s.RepoCursor]
	commits, err := w.forge.ListCommits(ctx, repo.Slug, repo.Ref, commitPageSize)
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	if len(commits) == 0 {
		return stepflow.Outcome[Session]{}, fault.Newf(fault.InvalidInput, "%s has no commits on %s", repo.ID, repo.Ref)
	}

	options := make([]string, len(commits))
	for i, c := range commits {
		options[i] = fmt.Sprintf("%s  %s", readiness.Short(c.SHA), firstLine(c.Message))
	}
	title := fmt.Sprintf("Commit for %s (%d of %d)", repo.ID, s.RepoCursor+1, len(repos))
	key := "repos:" + repo.ID
	idx, err := w.prompter.Select(title, options, s.cursor(key))
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}

	sha := commits[idx].SHA
	if s.Picks[repo.ID] != sha {
		s.Tag = ""
	}
	s = s.withPick(repo.ID, sha).withCursor(key, idx)

	if s.ReturnToSummary {
		s.ReturnToSummary = false
		s.Step = stepSummary
		return stepflow.Advance(s), nil
	}
	s.RepoCursor++
	if s.RepoCursor >= len(repos) {
		s.Step = stepTag
	}
	return stepflow.Advance(s), nil
}

func (w *Wizard) handleTag(ctx context.Context, s Session) (stepflow.Outcome[Session], error) {
	hist, err := w.planner.History(ctx)
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	suggested := plan.SuggestTag(hist, s.Channel, s.Bump).String()

	validate := func(v string) error {
		if v == "" {
			return nil
		}
		tag, ok := version.ParseTag(v)
		if !ok {
			return fault.Newf(fault.InvalidTag, "%q is not a release tag", v)
		}
		return plan.ValidateTag(hist, s.Channel, tag)
	}
	value, err := w.prompter.Input("Release tag", suggested, s.Tag, validate)
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	if value == "" {
		value = suggested
	}
	s.Tag = value
	return stepflow.Advance(s.route(stepSummary)), nil
}

type summaryEntry struct {
	label   string
	step    string
	repoIdx int
}

// Pseudo-steps only the summary hub routes to.
const (
	summaryStart  = "start"
	summaryCancel = "cancel"
)

func (w *Wizard) summaryEntries(product config.Product, s Session) []summaryEntry {
	display := func(v, unset string) string {
		if v == "" {
			return unset
		}
		return v
	}

	entries := []summaryEntry{
		{label: "channel: " + display(string(s.Channel), "(unset)"), step: stepChannel, repoIdx: -1},
		{label: "bump: " + display(string(s.Bump), "(unset)"), step: stepBump, repoIdx: -1},
	}
	if w.kind == KindApp {
		repo := w.primaryRepo(product)
		entries = append(entries, summaryEntry{
			label:   fmt.Sprintf("commit (%s): %s", repo.ID, display(shortPick(s.Picks[repo.ID]), "branch head")),
			step:    stepSHA,
			repoIdx: -1,
		})
	} else {
		for i, r := range product.Repos {
			entries = append(entries, summaryEntry{
				label:   fmt.Sprintf("%s: %s", r.ID, display(shortPick(s.Picks[r.ID]), "(unset)")),
				step:    stepRepos,
				repoIdx: i,
			})
		}
	}
	entries = append(entries, summaryEntry{label: "tag: " + display(s.Tag, "(not computed)"), step: stepTag, repoIdx: -1})

	notesLabel := "notes: (none)"
	if s.NotesFile != "" {
		notesLabel = "notes: " + s.NotesFile
	} else if s.NotesText != "" {
		notesLabel = "notes: (inline)"
	}
	entries = append(entries,
		summaryEntry{label: notesLabel, step: stepNotes, repoIdx: -1},
		summaryEntry{label: "start the release", step: summaryStart, repoIdx: -1},
		summaryEntry{label: "cancel and discard", step: summaryCancel, repoIdx: -1},
	)
	return entries
}

func (w *Wizard) handleSummary(_ context.Context, s Session) (stepflow.Outcome[Session], error) {
	product, err := w.product(s)
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	entries := w.summaryEntries(product, s)
	options := make([]string, len(entries))
	for i, e := range entries {
		options[i] = e.label
	}

	title := fmt.Sprintf("%s release of %s", s.Kind, s.Product)
	idx, err := w.prompter.Select(title, options, s.cursor(stepSummary))
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	s = s.withCursor(stepSummary, idx)

	switch entry := entries[idx]; entry.step {
	case summaryStart:
		if s.Tag == "" {
			w.printer.Warn("a tag has not been computed yet")
			s.ReturnToSummary = true
			s.Step = stepTag
			return stepflow.Advance(s), nil
		}
		s.Step = stepConfirm
		return stepflow.Advance(s), nil

	case summaryCancel:
		yes, err := w.prompter.Confirm("Discard this release session?")
		if err != nil {
			return stepflow.Outcome[Session]{}, err
		}
		if !yes {
			return stepflow.Advance(s), nil
		}
		if err := w.store.Clear(s.Product); err != nil {
			return stepflow.Outcome[Session]{}, err
		}
		w.printer.Info("session discarded")
		return stepflow.Finish[Session](), nil

	default:
		s.ReturnToSummary = true
		s.Step = entry.step
		if entry.step == stepRepos {
			s.RepoCursor = entry.repoIdx
		}
		return stepflow.Advance(s), nil
	}
}

func (w *Wizard) handleNotes(_ context.Context, s Session) (stepflow.Outcome[Session], error) {
	options := []string{"no notes", "attach a markdown file", "type a short note"}
	idx, err := w.prompter.Select("Release notes", options, s.cursor(stepNotes))
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	s = s.withCursor(stepNotes, idx)

	switch idx {
	case 1:
		validate := func(v string) error {
			if v == "" {
				return fault.New(fault.InvalidInput, "a file path is required")
			}
			ok, err := afero.Exists(w.fs, v)
			if err != nil || !ok {
				return fault.Newf(fault.InvalidInput, "%s does not exist", v)
			}
			return nil
		}
		path, err := w.prompter.Input("Notes file path", "docs/release-notes.md", s.NotesFile, validate)
		if err != nil {
			return stepflow.Outcome[Session]{}, err
		}
		s.NotesFile, s.NotesText = path, ""
	case 2:
		text, err := w.prompter.Input("Note", "one paragraph shown in the release notes", s.NotesText, nil)
		if err != nil {
			return stepflow.Outcome[Session]{}, err
		}
		s.NotesText, s.NotesFile = text, ""
	default:
		s.NotesFile, s.NotesText = "", ""
	}
	return stepflow.Advance(s.route(stepSummary)), nil
}

// handleConfirm re-resolves pins, re-checks the guard repo, and hands the
// release to the runner. Time has passed since earlier steps; nothing
// validated back then is trusted here.
func (w *Wizard) handleConfirm(ctx context.Context, s Session) (stepflow.Outcome[Session], error) {
	product, err := w.product(s)
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}

	var res *resolve.Resolution
	if w.kind == KindApp {
		res, err = w.resolver.ResolveSmart(ctx, product, s.Channel, resolve.SmartOptions{SHAOverrides: s.Picks})
	} else {
		res, err = w.resolver.ResolveExplicit(product, s.Picks)
	}
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	for _, sug := range res.Suggestions {
		w.printer.Warn("%s: %s", sug.RepoID, sug.Detail)
	}

	if err := w.checkGuard(ctx, product); err != nil {
		return stepflow.Outcome[Session]{}, err
	}

	notesDesc := "(none)"
	if s.NotesFile != "" {
		notesDesc = s.NotesFile
	} else if s.NotesText != "" {
		notesDesc = "(inline)"
	}
	w.printer.Summary("Release", [][2]string{
		{"product", s.Product},
		{"channel", string(s.Channel)},
		{"tag", s.Tag},
		{"notes", notesDesc},
	})
	pins := make([]string, 0, len(res.Pins))
	for _, p := range res.Pins {
		pins = append(pins, fmt.Sprintf("%s  %s", p.Repo.ID, readiness.Short(p.SHA)))
	}
	w.printer.List("Pins", pins)

	yes, err := w.prompter.Confirm("Publish " + s.Tag + "?")
	if err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	if !yes {
		w.printer.Info("returning to the summary")
		s.Step = stepSummary
		return stepflow.Advance(s), nil
	}

	_, err = w.runner.Run(ctx, release.Request{
		Product:     product,
		Channel:     s.Channel,
		Bump:        s.Bump,
		TagOverride: s.Tag,
		Pins:        res.Pins,
		NotesText:   s.NotesText,
		NotesFile:   s.NotesFile,
		CreatedBy:   s.CreatedBy,
	})
	if err != nil {
		// The session survives, and publishing is idempotent: rerunning
		// the wizard lands back here and converges.
		return stepflow.Outcome[Session]{}, err
	}

	w.printer.Success("%s released as %s", s.Product, s.Tag)
	if err := w.store.Clear(s.Product); err != nil {
		return stepflow.Outcome[Session]{}, err
	}
	return stepflow.Finish[Session](), nil
}

// checkGuard refuses to release while the configured guard repo has local
// changes. A guard repo that is not cloned locally cannot be dirty.
func (w *Wizard) checkGuard(ctx context.Context, product config.Product) error {
	if product.GuardRepo == "" {
		return nil
	}
	repo, ok := w.cfg.FindRepo(product.GuardRepo)
	if !ok {
		return fault.Newf(fault.InvalidInput, "guard repo %q is not configured", product.GuardRepo)
	}
	dir := w.cfg.RepoDir(repo)
	if !w.git.Exists(dir) {
		return nil
	}
	clean, err := w.git.IsClean(ctx, dir)
	if err != nil {
		return fault.Wrapf(fault.ProcessFailed, err, "checking the %s working copy", repo.ID)
	}
	if !clean {
		return fault.Newf(fault.InvalidInput, "the %s working copy has local changes", repo.ID).
			WithHintf("commit or stash the work in %s before releasing", dir)
	}
	return nil
}

func shortPick(sha string) string {
	if sha == "" {
		return ""
	}
	return readiness.Short(sha)
}

func firstLine(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	if len(line) > 60 {
		line = line[:57] + "..."
	}
	return line
}
