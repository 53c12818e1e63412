/*
Package cli implements the review-memory command line.

Every command loads configuration through the persistent --config and
--log-level flags, opens the review memory for the duration of one
invocation and writes its results to stdout. Logs go to stderr.
*/
package cli

import (
	"github.com/spf13/cobra"

	"github.com/khanglvm/review-memory/internal/version"
)

// Options holds the persistent flags shared by every command.
type Options struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCmd creates the review-memory root command with all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "review-memory",
		Short: "Associative memory of past code reviews for AI reviewers",
		Long: `review-memory remembers finished code reviews and learns which files,
patterns and terms show up together. Before the next review it ranks the
relevant history and renders it within a token budget:

  • strong matches in detail (files, insights, what/why/learned)
  • medium matches as a short summary
  • weak matches as one-line hints

Learning and retrieval are best-effort: storage problems are logged and the
command still succeeds with emptier output.`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Config file (default ~/.review-memory/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	cmd.AddCommand(NewLearnCmd(opts))
	cmd.AddCommand(NewContextCmd(opts))
	cmd.AddCommand(NewRenderCmd(opts))
	cmd.AddCommand(NewBenchmarkCmd(opts))
	cmd.AddCommand(NewSessionCmd(opts))
	cmd.AddCommand(NewMemoryCmd(opts))
	cmd.AddCommand(NewConfigCmd(opts))
	cmd.AddCommand(NewServeCmd(opts))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}
