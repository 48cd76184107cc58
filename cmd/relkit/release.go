package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/plan"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
	"github.com/fyrsmithlabs/relkit/internal/release"
	"github.com/fyrsmithlabs/relkit/internal/resolve"
	"github.com/fyrsmithlabs/relkit/internal/version"
)

var (
	// release command flags
	relChannel       string
	relBump          string
	relTag           string
	relSHAs          []string
	relRefs          []string
	relAuto          string
	relAllowNonGreen bool
	relNotesFile     string
	relNotes         string
	relPlanOut       string
	relNoWatch       bool
)

// Resolution modes. Explicit is the default for content releases, smart for
// app releases; --auto selects smart or strict.
const (
	modeExplicit = "explicit"
	modeSmart    = "smart"
	modeStrict   = "strict"
)

var commitSHAPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

func init() {
	rootCmd.AddCommand(releaseCmd)
	releaseCmd.AddCommand(releaseAppCmd)
	releaseCmd.AddCommand(releaseContentCmd)
	releaseCmd.AddCommand(releasePlanCmd)

	// Flags shared by flag-driven and plan-file releases
	releaseCmd.PersistentFlags().BoolVar(&relAllowNonGreen, "allow-non-green", false, "release even when a pinned commit lacks a green required check")
	releaseCmd.PersistentFlags().StringVar(&relNotesFile, "notes-file", "", "markdown file appended to the release notes")
	releaseCmd.PersistentFlags().StringVar(&relNotes, "notes", "", "short operator note included in the release notes")
	releaseCmd.PersistentFlags().BoolVar(&relNoWatch, "no-watch", false, "dispatch the release workflow without waiting for it to finish")

	for _, c := range []*cobra.Command{releaseAppCmd, releaseContentCmd} {
		c.Flags().StringVar(&relChannel, "channel", "stable", "release channel: stable or beta")
		c.Flags().StringVar(&relBump, "bump", "", "version bump when no --tag is given: major, minor, or patch")
		c.Flags().StringVar(&relTag, "tag", "", "exact release tag (overrides --bump)")
		c.Flags().StringArrayVar(&relSHAs, "sha", nil, "pin a repository commit as id=sha; a bare sha pins the primary repository")
		c.Flags().StringArrayVar(&relRefs, "ref", nil, "resolve a repository from a branch other than its configured one, as id=ref")
		c.Flags().StringVar(&relAuto, "auto", "", "pin resolution mode: smart or strict")
		c.Flags().StringVar(&relPlanOut, "plan-out", "", "write the release plan to this file and stop without releasing")
	}
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release a product",
	Long: `Release a product: gate CI, plan the tag, record the pin manifest in the
distribution repository, and dispatch the release workflow.`,
}

var releaseAppCmd = &cobra.Command{
	Use:   "app",
	Short: "Release the app product",
	Long: `Release the app product. Pins resolve in smart mode by default: the primary
repository follows its branch head and carried repositories keep their last
released commits when still valid.

Examples:
  # Stable release, bumping the minor version
  relkit release app --bump minor

  # Beta from an exact primary-repo commit
  relkit release app --channel beta --bump patch --sha 0123456789abcdef0123456789abcdef01234567

  # Strict mode: only fully ready repositories, no fallbacks
  relkit release app --bump patch --auto strict

  # Write the plan for review instead of releasing
  relkit release app --bump minor --plan-out app-next.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProductRelease(cmd.Context(), "app", modeSmart)
	},
}

var releaseContentCmd = &cobra.Command{
	Use:   "content",
	Short: "Release the content product",
	Long: `Release the content product. Every repository pin must be given explicitly
as --sha id=sha unless --auto selects a resolution mode.

Examples:
  # Explicit pins for every repository
  relkit release content --bump patch \
    --sha content-core=0123456789abcdef0123456789abcdef01234567 \
    --sha content-extra=89abcdef0123456789abcdef0123456789abcdef \
    --sha translations=456789abcdef0123456789abcdef0123456789ab

  # Let smart resolution pick the pins
  relkit release content --bump patch --auto smart`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProductRelease(cmd.Context(), "content", modeExplicit)
	},
}

var releasePlanCmd = &cobra.Command{
	Use:   "plan <file>",
	Short: "Execute a previously written release plan",
	Long: `Execute a release plan written by --plan-out. The plan carries the product,
channel, tag, and exact pins, so the release is reproducible; re-running a
partially failed release converges instead of duplicating work.

Examples:
  # Execute a reviewed plan
  relkit release plan app-next.json

  # Re-run after a workflow failure without re-merging the manifest
  relkit release plan app-next.json --no-watch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReleasePlan(cmd.Context(), args[0])
	},
}

func runProductRelease(ctx context.Context, name, defaultMode string) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	product, ok := a.cfg.Product(name)
	if !ok {
		return fault.Newf(fault.InvalidInput, "product %q is not configured", name)
	}

	channel := config.Channel(relChannel)
	if !channel.Valid() {
		return fault.Newf(fault.InvalidInput, "unknown channel %q", relChannel).
			WithHint("use --channel stable or --channel beta")
	}
	var bump version.Bump
	if relBump != "" {
		bump = version.Bump(relBump)
		if !bump.Valid() {
			return fault.Newf(fault.InvalidInput, "unknown bump %q", relBump).
				WithHint("use --bump major, minor, or patch")
		}
	}
	if relTag == "" && relBump == "" {
		return fault.New(fault.InvalidInput, "a release needs --tag or --bump").
			WithHint("pass --bump patch for the usual next version")
	}

	shas, err := parsePinFlags(product, relSHAs)
	if err != nil {
		return err
	}
	refs, err := parseRefFlags(product, relRefs)
	if err != nil {
		return err
	}

	res, err := resolvePins(ctx, a, product, channel, defaultMode, shas, refs)
	if err != nil {
		return err
	}
	for _, s := range res.Suggestions {
		a.printer.Warn("%s: %s", s.RepoID, s.Detail)
	}

	if relPlanOut != "" {
		rp, err := a.planner.Plan(ctx, product, channel, bump, relTag, res.Pins)
		if err != nil {
			return err
		}
		if err := plan.WriteFile(a.fs, relPlanOut, rp); err != nil {
			return err
		}
		a.printer.Success("wrote release plan for %s to %s", rp.Tag, relPlanOut)
		a.printer.Hint(fmt.Sprintf("run `relkit release plan %s` to execute it", relPlanOut))
		return nil
	}

	user, err := releaseUser(ctx, a)
	if err != nil {
		return err
	}

	printPins(a, product.Name, channel, res.Pins)
	result, err := a.runner.Run(ctx, release.Request{
		Product:       product,
		Channel:       channel,
		Bump:          bump,
		TagOverride:   relTag,
		Pins:          res.Pins,
		NotesText:     relNotes,
		NotesFile:     relNotesFile,
		AllowNonGreen: relAllowNonGreen,
		CreatedBy:     user,
		SkipWatch:     relNoWatch,
	})
	if err != nil {
		return err
	}
	a.printer.Success("%s released as %s", product.Name, result.Plan.Tag)
	return nil
}

func runReleasePlan(ctx context.Context, path string) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rp, err := plan.ReadFile(a.fs, path, a.cfg)
	if err != nil {
		return err
	}
	product, ok := a.cfg.Product(rp.Product)
	if !ok {
		return fault.Newf(fault.InvalidInput, "plan file names unknown product %q", rp.Product)
	}
	user, err := releaseUser(ctx, a)
	if err != nil {
		return err
	}

	printPins(a, product.Name, rp.Channel, rp.Pins)
	result, err := a.runner.Run(ctx, release.Request{
		Product:       product,
		Channel:       rp.Channel,
		TagOverride:   rp.Tag,
		Pins:          rp.Pins,
		NotesText:     relNotes,
		NotesFile:     relNotesFile,
		AllowNonGreen: relAllowNonGreen,
		CreatedBy:     user,
		SkipWatch:     relNoWatch,
	})
	if err != nil {
		return err
	}
	a.printer.Success("%s released as %s", product.Name, result.Plan.Tag)
	return nil
}

// releaseUser resolves the operator's login and requires write access to the
// distribution repository before any release work starts.
func releaseUser(ctx context.Context, a *app) (string, error) {
	user, err := a.forge.AuthenticatedUser(ctx)
	if err != nil {
		return "", err
	}
	level, err := a.forge.PermissionLevel(ctx, a.cfg.Dist.Slug, user)
	if err != nil {
		return "", err
	}
	if level != "admin" && level != "write" {
		return "", fault.Newf(fault.PermissionDenied, "%s has %s access to %s; publishing needs write",
			user, level, a.cfg.Dist.Slug).
			WithHint("ask a maintainer for write access to the distribution repository")
	}
	return user, nil
}

// resolvePins selects the pin resolution mode and runs it. An explicit --auto
// wins; otherwise the subcommand's default applies.
func resolvePins(ctx context.Context, a *app, product config.Product, channel config.Channel, defaultMode string, shas, refs map[string]string) (*resolve.Resolution, error) {
	mode := relAuto
	if mode == "" {
		mode = defaultMode
	}
	switch mode {
	case modeStrict:
		if len(shas) > 0 || len(refs) > 0 {
			return nil, fault.New(fault.InvalidInput, "--auto strict does not combine with --sha or --ref").
				WithHint("drop the overrides, or use --auto smart to keep them")
		}
		return a.resolver.ResolveStrict(ctx, product)
	case modeSmart:
		return a.resolver.ResolveSmart(ctx, product, channel, resolve.SmartOptions{
			SHAOverrides: shas,
			RefOverrides: refs,
		})
	case modeExplicit:
		if len(refs) > 0 {
			return nil, fault.New(fault.InvalidInput, "--ref needs --auto smart")
		}
		return a.resolver.ResolveExplicit(product, shas)
	default:
		return nil, fault.Newf(fault.InvalidInput, "unknown --auto mode %q", relAuto).
			WithHint("use --auto smart or --auto strict")
	}
}

// parsePinFlags splits repeated --sha values. Each is id=sha; a bare sha
// applies to the product's primary repository.
func parsePinFlags(product config.Product, values []string) (map[string]string, error) {
	pins := make(map[string]string, len(values))
	for _, v := range values {
		id, sha, err := splitRepoValue(product, v)
		if err != nil {
			return nil, err
		}
		sha = strings.ToLower(sha)
		if !commitSHAPattern.MatchString(sha) {
			return nil, fault.Newf(fault.InvalidInput, "--sha %q is not a full 40-character commit sha", v)
		}
		if _, dup := pins[id]; dup {
			return nil, fault.Newf(fault.InvalidInput, "--sha repeats repository %q", id)
		}
		pins[id] = sha
	}
	return pins, nil
}

// parseRefFlags splits repeated --ref values, id=ref or a bare ref for the
// primary repository.
func parseRefFlags(product config.Product, values []string) (map[string]string, error) {
	refs := make(map[string]string, len(values))
	for _, v := range values {
		id, ref, err := splitRepoValue(product, v)
		if err != nil {
			return nil, err
		}
		if ref == "" {
			return nil, fault.Newf(fault.InvalidInput, "--ref %q has no branch name", v)
		}
		if _, dup := refs[id]; dup {
			return nil, fault.Newf(fault.InvalidInput, "--ref repeats repository %q", id)
		}
		refs[id] = ref
	}
	return refs, nil
}

func splitRepoValue(product config.Product, v string) (id, value string, err error) {
	id, value, found := strings.Cut(strings.TrimSpace(v), "=")
	if !found {
		value = id
		primary, ok := product.PrimaryRepo()
		if !ok {
			return "", "", fault.Newf(fault.InvalidInput, "product %s has no repositories", product.Name)
		}
		id = primary.ID
	}
	if _, ok := product.Repo(id); !ok {
		return "", "", fault.Newf(fault.InvalidInput, "product %s has no repository %q", product.Name, id).
			WithHintf("configured repositories: %s", strings.Join(product.RepoIDs(), ", "))
	}
	return id, value, nil
}

func printPins(a *app, product string, channel config.Channel, pins []resolve.Pin) {
	a.printer.Title(fmt.Sprintf("Releasing %s (%s)", product, channel))
	items := make([]string, 0, len(pins))
	for _, p := range pins {
		items = append(items, fmt.Sprintf("%s: %s", p.Repo.ID, readiness.Short(p.SHA)))
	}
	a.printer.List("pinned commits", items)
}
