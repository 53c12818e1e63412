package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/review-memory/internal/disclosure"
)

type renderOptions struct {
	input  string
	budget int
	high   float64
	medium float64
}

// NewRenderCmd creates the 'render' command for candidate record streams.
func NewRenderCmd(opts *Options) *cobra.Command {
	ro := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render score|reviewId|project|files records within a token budget",
		Long: `Read ranked candidate records, one per line, and render them with
progressive disclosure:

  score >= high threshold    detailed entry with insights
  score >= medium threshold  summary entry
  otherwise                  one-line hint

Entries that do not fit the budget are shortened; rendering stops once not
even a one-line hint fits. Malformed records are skipped.`,
		Example: `  review-memory context --files src/auth.ts --records | review-memory render --budget 500
  printf '0.8000|1|web|auth.ts\n' | review-memory render --high 0.75`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts, ro)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&ro.input, "input", "i", "-", "Record file ('-' for stdin)")
	f.IntVar(&ro.budget, "budget", 0, "Token budget (default: disclosure.max_tokens)")
	f.Float64Var(&ro.high, "high", 0, "Override disclosure.high_threshold")
	f.Float64Var(&ro.medium, "medium", 0, "Override disclosure.medium_threshold")

	return cmd
}

func runRender(cmd *cobra.Command, opts *Options, ro *renderOptions) error {
	e, logger, err := opts.openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	builder := e.Builder()
	if cmd.Flags().Changed("high") || cmd.Flags().Changed("medium") {
		dcfg := e.Config().Disclosure
		if cmd.Flags().Changed("high") {
			dcfg.HighThreshold = ro.high
		}
		if cmd.Flags().Changed("medium") {
			dcfg.MediumThreshold = ro.medium
		}
		if builder, err = disclosure.NewBuilder(e.Store(), dcfg, logger.Named("disclosure")); err != nil {
			return err
		}
	}

	in, err := openInput(cmd, ro.input)
	if err != nil {
		return err
	}
	defer in.Close()

	text, err := builder.RenderStream(commandContext(cmd), in, ro.budget)
	if err != nil {
		return err
	}
	if text != "" {
		fmt.Fprintln(cmd.OutOrStdout(), text)
	}
	return nil
}
