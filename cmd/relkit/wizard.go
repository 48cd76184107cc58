package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/ui"
	"github.com/fyrsmithlabs/relkit/internal/wizard"
)

var (
	// wizard command flags
	wizReset bool
)

func init() {
	rootCmd.AddCommand(wizardCmd)
	wizardCmd.AddCommand(wizardAppCmd)
	wizardCmd.AddCommand(wizardContentCmd)

	wizardCmd.PersistentFlags().BoolVar(&wizReset, "reset", false, "discard any saved session and start fresh")
}

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Guided release wizards",
	Long: `Guided release wizards. Every answer is saved, so a wizard interrupted with
Esc or Ctrl-C resumes where it left off the next time it runs.`,
}

var wizardAppCmd = &cobra.Command{
	Use:   "app",
	Short: "Walk through an app release",
	Long: `Walk through an app release: pick the channel, bump, and primary-repo
commit, review the summary, and publish.

Examples:
  # Start or resume the app wizard
  relkit wizard app

  # Throw away a saved session and start over
  relkit wizard app --reset`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWizard(cmd.Context(), wizard.KindApp)
	},
}

var wizardContentCmd = &cobra.Command{
	Use:   "content",
	Short: "Walk through a content release",
	Long: `Walk through a content release, picking a commit for every content
repository before reviewing and publishing.

Examples:
  # Start or resume the content wizard
  relkit wizard content`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWizard(cmd.Context(), wizard.KindContent)
	},
}

func runWizard(ctx context.Context, kind wizard.Kind) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := config.SessionsDir()
	if err != nil {
		return err
	}
	store, err := wizard.NewStore(a.fs, sessions, a.logger)
	if err != nil {
		return err
	}
	w, err := wizard.New(a.cfg, kind, wizard.Deps{
		FS:       a.fs,
		Store:    store,
		Prompter: ui.NewTerminalPrompter(),
		Printer:  a.printer,
		Resolver: a.resolver,
		Planner:  a.planner,
		Forge:    a.forge,
		Git:      a.git,
		Runner:   a.runner,
	}, a.logger)
	if err != nil {
		return err
	}
	return w.Run(ctx, wizReset)
}
