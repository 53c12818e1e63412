package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/review-memory/internal/benchmark"
	"github.com/khanglvm/review-memory/internal/engine"
)

// NewBenchmarkCmd creates the 'benchmark' command that compares verbatim
// history against the progressive rendering.
func NewBenchmarkCmd(opts *Options) *cobra.Command {
	co := &contextOptions{}

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare token usage of full vs. progressive history",
		Long: `Rank past reviews like 'review-memory context' and measure how many tokens
the history costs when every match is shown in full compared to the tiered,
budgeted rendering.`,
		Example: `  review-memory benchmark --files src/auth.ts
  review-memory benchmark --text "retry loop" --all-projects --budget 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, opts, co)
		},
	}

	f := cmd.Flags()
	f.StringVar(&co.repo, "repo", ".", "Directory inside the reviewed git repository")
	f.StringVar(&co.project, "project", "", "Restrict history to a project (default: repository name)")
	f.BoolVar(&co.allProjects, "all-projects", false, "Search history of every project")
	f.StringVar(&co.files, "files", "", "Comma or newline separated files under review")
	f.StringVar(&co.text, "text", "", "Free text describing the change")
	f.IntVar(&co.limit, "limit", 0, "Maximum past reviews to rank (default: retrieval.limit)")
	f.IntVar(&co.budget, "budget", 0, "Token budget (default: disclosure.max_tokens)")
	f.BoolVarP(&co.jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

func runBenchmark(cmd *cobra.Command, opts *Options, co *contextOptions) error {
	e, logger, err := opts.openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	project := co.project
	if project == "" && !co.allProjects {
		project, _ = repoDefaults(logger, co.repo, "", "")
	}

	ctx := commandContext(cmd)
	resp, err := e.Context(ctx, engine.ContextRequest{
		Files:   engine.SplitList(co.files),
		Text:    co.text,
		Project: project,
		Limit:   co.limit,
		Budget:  co.budget,
	})
	if err != nil {
		return err
	}

	result, err := benchmark.Run(ctx, e.Store(), e.Config().Disclosure, resp.Candidates, co.budget, logger.Named("benchmark"))
	if err != nil {
		return err
	}

	if co.jsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprint(cmd.OutOrStdout(), formatBenchmark(result))
	return nil
}

// formatBenchmark renders a result, noting when there was nothing to compare.
func formatBenchmark(result *benchmark.Result) string {
	if result.Candidates == 0 {
		return "No matching reviews to benchmark.\n"
	}
	return benchmark.FormatResult(result)
}
