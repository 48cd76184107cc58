package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
	"github.com/fyrsmithlabs/relkit/internal/ui"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [product]",
	Short: "Show repository readiness",
	Long: `Show per-repository readiness for one product, or for every configured
product: local clone state, sync against the upstream branch, and whether the
required check is green at the branch head.

Examples:
  # Every product
  relkit status

  # One product
  relkit status app`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	products := a.cfg.Products
	if len(args) == 1 {
		product, ok := a.cfg.Product(args[0])
		if !ok {
			return fault.Newf(fault.InvalidInput, "product %q is not configured", args[0])
		}
		products = []config.Product{product}
	}

	out := ui.NewPrinter(os.Stdout)
	for _, product := range products {
		out.Title(product.Name)
		statuses := a.prober.ProbeAll(ctx, product)
		rows := make([]ui.StatusRow, len(statuses))
		for i, st := range statuses {
			rows[i] = ui.StatusRow{
				Name:     st.Repo.ID,
				Detail:   statusDetail(st),
				Ready:    st.Ready(),
				Problems: st.Problems(),
			}
		}
		out.StatusTable(rows)
	}
	return nil
}

// statusDetail is the one-line summary next to the readiness glyph.
func statusDetail(st readiness.Status) string {
	if st.RemoteHead == "" {
		return st.Ref
	}
	return fmt.Sprintf("%s @ %s", st.Ref, readiness.Short(st.RemoteHead))
}
