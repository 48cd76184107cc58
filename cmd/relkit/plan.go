package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relkit/internal/plan"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
	"github.com/fyrsmithlabs/relkit/internal/ui"
)

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planCheckCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect release plan files",
}

var planCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a release plan file",
	Long: `Validate a release plan file against the current configuration without
touching the network: schema version, product and repository membership,
channel and tag agreement, and pin shapes.

Examples:
  # Check a plan before handing it to release plan
  relkit plan check app-next.json`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanCheck,
}

func runPlanCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rp, err := plan.ReadFile(afero.NewOsFs(), args[0], cfg)
	if err != nil {
		return err
	}

	out := ui.NewPrinter(os.Stdout)
	out.Summary("release plan", [][2]string{
		{"product", rp.Product},
		{"channel", string(rp.Channel)},
		{"tag", rp.Tag},
		{"manifest", rp.SpecPath},
	})
	items := make([]string, 0, len(rp.Pins))
	for _, p := range rp.Pins {
		items = append(items, fmt.Sprintf("%s: %s", p.Repo.ID, readiness.Short(p.SHA)))
	}
	out.List("pinned commits", items)
	out.Success("%s is a valid release plan", args[0])
	return nil
}
