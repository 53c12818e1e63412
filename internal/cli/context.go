package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/review-memory/internal/engine"
)

type contextOptions struct {
	repo        string
	project     string
	allProjects bool
	files       string
	text        string
	limit       int
	budget      int
	records     bool
	jsonOutput  bool
}

// NewContextCmd creates the 'context' command that renders relevant history.
func NewContextCmd(opts *Options) *cobra.Command {
	co := &contextOptions{}

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Render past reviews relevant to the files under review",
		Long: `Rank past reviews against the files and text of the review about to run
and render them within a token budget.

--records prints the ranked candidates as score|reviewId|project|files lines
instead, suitable for 'review-memory render'.`,
		Example: `  review-memory context --files src/auth.ts,src/session.ts
  review-memory context --files "$(git diff --name-only)" --budget 800
  review-memory context --text "token expiry" --all-projects --records`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContext(cmd, opts, co)
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
	f.BoolVar(&co.records, "records", false, "Print ranked candidate records instead of rendered text")
	f.BoolVarP(&co.jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

func runContext(cmd *cobra.Command, opts *Options, co *contextOptions) error {
	e, logger, err := opts.openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	project := co.project
	if project == "" && !co.allProjects {
		project, _ = repoDefaults(logger, co.repo, "", "")
	}

	resp, err := e.Context(commandContext(cmd), engine.ContextRequest{
		Files:   engine.SplitList(co.files),
		Text:    co.text,
		Project: project,
		Limit:   co.limit,
		Budget:  co.budget,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case co.jsonOutput:
		return printJSON(out, resp)
	case co.records:
		for _, c := range resp.Candidates {
			fmt.Fprintln(out, c.Record())
		}
	case resp.Text != "":
		fmt.Fprintln(out, resp.Text)
	}
	return nil
}
