// Package main implements the relkit CLI for coordinated multi-repository
// releases.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/ui"
)

var (
	// global flags
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	// version information
	appVersion = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		report(err)
		return exitClass(err)
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:   "relkit",
	Short: "Release coordinated products across multiple repositories",
	Long: `relkit plans and publishes releases that span several git repositories.

It probes each repository for readiness, pins the exact commits that make up
a release, records the pin set as a manifest in the distribution repository,
and dispatches the release workflow that builds and publishes from those pins.

Releases are driven either by flags (relkit release) or by a guided wizard
(relkit wizard) that can be paused and resumed.`,
	Version:       appVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.config/relkit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level override: debug, info, warn, or error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format override: console or json")
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the relkit version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "relkit %s\n", appVersion)
	},
}

// report prints the failure and its remediation hint, if any, to stderr.
func report(err error) {
	p := ui.NewPrinter(os.Stderr)
	p.Failure("%v", err)
	if hint := fault.HintOf(err); hint != "" {
		p.Hint(hint)
	}
}

// exitClass maps a failure to the process exit status. Operator input
// problems exit 2, credential problems 3, local and distribution-repo
// failures 4, and forge or CI failures 5. Anything unclassified exits 1.
func exitClass(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ui.ErrAborted) {
		return 0
	}
	switch fault.KindOf(err) {
	case fault.InvalidInput, fault.InvalidTag, fault.TagExists:
		return 2
	case fault.AuthMissing, fault.AuthInvalid, fault.PermissionDenied:
		return 3
	case fault.IOFailed, fault.DistRepoDirty, fault.DistRepoFailed, fault.ProcessFailed:
		return 4
	case fault.NetworkFailed, fault.CINotGreen, fault.WorkflowFailed:
		return 5
	default:
		return 1
	}
}
