package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/engine"
	"github.com/khanglvm/review-memory/internal/learning"
)

type learnOptions struct {
	repo        string
	project     string
	commit      string
	files       string
	diffFile    string
	result      string
	resultFile  string
	status      string
	provider    string
	model       string
	conceptText string
	session     int64
	noSession   bool
	jsonOutput  bool
}

// NewLearnCmd creates the 'learn' command that stores a finished review.
func NewLearnCmd(opts *Options) *cobra.Command {
	lo := &learnOptions{}

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Store a finished review and learn from its concepts",
		Long: `Store a finished code review, classify it into an insight and reinforce
the associations between its files, patterns and terms.

If a learning session is active (see 'review-memory session start') the
review's concepts are also added to it. Project and commit default to the
git repository in --repo.`,
		Example: `  review-memory learn --files src/auth.ts --diff-file change.diff --result-file review.md
  git diff | review-memory learn --files "$(git diff --name-only)" --diff-file - --result "LGTM" --status approved`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLearn(cmd, opts, lo)
		},
	}

	f := cmd.Flags()
	f.StringVar(&lo.repo, "repo", ".", "Directory inside the reviewed git repository")
	f.StringVar(&lo.project, "project", "", "Project name (default: repository name)")
	f.StringVar(&lo.commit, "commit", "", "Reviewed commit (default: HEAD)")
	f.StringVar(&lo.files, "files", "", "Comma or newline separated reviewed files")
	f.StringVar(&lo.diffFile, "diff-file", "", "File with the reviewed diff ('-' for stdin)")
	f.StringVar(&lo.result, "result", "", "Review output")
	f.StringVar(&lo.resultFile, "result-file", "", "File with the review output ('-' for stdin)")
	f.StringVar(&lo.status, "status", "", "Review outcome, e.g. approved or changes_requested")
	f.StringVar(&lo.provider, "provider", "", "AI provider that produced the review")
	f.StringVar(&lo.model, "model", "", "Model that produced the review")
	f.StringVar(&lo.conceptText, "concept-text", "", "Text to derive term concepts from instead of the result")
	f.Int64Var(&lo.session, "session", 0, "Session id to add concepts to (default: the active session)")
	f.BoolVar(&lo.noSession, "no-session", false, "Do not add concepts to any session")
	f.BoolVarP(&lo.jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

func runLearn(cmd *cobra.Command, opts *Options, lo *learnOptions) error {
	if lo.diffFile == "-" && lo.resultFile == "-" {
		return errors.New("--diff-file and --result-file cannot both read stdin")
	}

	diff, err := readInput(cmd, lo.diffFile)
	if err != nil {
		return err
	}
	result := lo.result
	if lo.resultFile != "" {
		if result, err = readInput(cmd, lo.resultFile); err != nil {
			return err
		}
	}
	if strings.TrimSpace(result) == "" {
		return errors.New("a review result is required (--result or --result-file)")
	}

	e, logger, err := opts.openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)
	project, commit := repoDefaults(logger, lo.repo, lo.project, lo.commit)

	session, err := resolveSession(ctx, e, lo.session, lo.noSession)
	if err != nil {
		if lo.session != 0 {
			return err
		}
		logger.Warn("failed to resolve active session", zap.Error(err))
	}

	resp, err := e.Learn(ctx, session, engine.LearnRequest{
		Project:     project,
		Commit:      commit,
		Files:       engine.SplitList(lo.files),
		Diff:        diff,
		Result:      result,
		Status:      lo.status,
		Provider:    lo.provider,
		Model:       lo.model,
		ConceptText: lo.conceptText,
	})
	if err != nil {
		return err
	}

	if lo.jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	printLearn(cmd.OutOrStdout(), resp, session)
	return nil
}

func printLearn(w io.Writer, resp engine.LearnResponse, session *learning.Session) {
	switch {
	case resp.ReviewID == 0:
		fmt.Fprintln(w, "Review not stored (storage unavailable)")
	case resp.Created:
		fmt.Fprintf(w, "Stored review #%d\n", resp.ReviewID)
	default:
		fmt.Fprintf(w, "Review #%d already stored\n", resp.ReviewID)
	}

	if in := resp.Insight; in != nil {
		fmt.Fprintf(w, "  Insight:  %s/%s %s\n", in.Type, in.Severity, in.Description)
	}
	fmt.Fprintf(w, "  Concepts: %d (%d pairs reinforced)\n", len(resp.Concepts), resp.Pairs)
	if session != nil {
		fmt.Fprintf(w, "  Session:  #%d (+%d concepts)\n", session.ID, resp.AddedToSession)
	}
}
