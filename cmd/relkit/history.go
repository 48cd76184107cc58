package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/ui"
	"github.com/fyrsmithlabs/relkit/internal/version"
)

var (
	// history command flags
	histChannel string
	histLimit   int
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&histChannel, "channel", "", "only show one channel: stable or beta")
	historyCmd.Flags().IntVar(&histLimit, "limit", 20, "maximum number of tags to show")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List published release tags",
	Long: `List the release tags already published through the distribution repository,
newest first.

Examples:
  # The last twenty releases
  relkit history

  # Only stable releases
  relkit history --channel stable --limit 5`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	if histChannel != "" && !config.Channel(histChannel).Valid() {
		return fault.Newf(fault.InvalidInput, "unknown channel %q", histChannel).
			WithHint("use --channel stable or --channel beta")
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	hist, err := a.planner.History(ctx)
	if err != nil {
		return err
	}

	items := make([]string, 0, histLimit)
	for _, tag := range hist.Tags() {
		if !matchesChannel(tag, config.Channel(histChannel)) {
			continue
		}
		items = append(items, tag.String())
		if histLimit > 0 && len(items) == histLimit {
			break
		}
	}

	out := ui.NewPrinter(os.Stdout)
	if len(items) == 0 {
		out.Info("no published releases")
		return nil
	}
	out.List(fmt.Sprintf("releases in %s", a.cfg.Dist.Slug), items)
	return nil
}

func matchesChannel(tag version.Tag, channel config.Channel) bool {
	switch channel {
	case config.ChannelStable:
		return !tag.Beta
	case config.ChannelBeta:
		return tag.Beta
	default:
		return true
	}
}
