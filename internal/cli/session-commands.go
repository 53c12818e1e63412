package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewSessionCmd creates the session command group.
func NewSessionCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage learning sessions",
		Long: `A learning session groups the concepts of one review run. When it ends,
every pair of its concepts is reinforced together, so files reviewed in the
same run become associated even if they never shared a diff.

At most one session is active. Commands default to the active session, so
separate 'learn' invocations between 'session start' and 'session end' share
it.

Commands:
  start  Open a session
  add    Record concepts in the active session
  end    Close the session and reinforce its concept pairs
  stats  Show recent sessions`,
	}

	cmd.AddCommand(newSessionStartCmd(opts))
	cmd.AddCommand(newSessionAddCmd(opts))
	cmd.AddCommand(newSessionEndCmd(opts))
	cmd.AddCommand(newSessionStatsCmd(opts))

	return cmd
}

// newSessionStartCmd opens a session, ending a stale one first.
func newSessionStartCmd(opts *Options) *cobra.Command {
	var repo, project, commit string

	cmd := &cobra.Command{
		Use:   "start [ref]",
		Short: "Open a learning session",
		Long:  `Open a learning session. ref defaults to a generated id.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, logger, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, c := repoDefaults(logger, repo, project, commit)
			s, err := e.StartSession(commandContext(cmd), sessionRef(args), p, c)
			if err != nil {
				return err
			}
			if s == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Learning is disabled; no session started.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started session #%d (ref: %s)\n", s.ID, s.Ref)
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", ".", "Directory inside the reviewed git repository")
	cmd.Flags().StringVar(&project, "project", "", "Project name (default: repository name)")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit under review (default: HEAD)")
	return cmd
}

// newSessionAddCmd records concepts in a session.
func newSessionAddCmd(opts *Options) *cobra.Command {
	var sessionID int64

	cmd := &cobra.Command{
		Use:   "add <concept>...",
		Short: "Record concepts in the active session",
		Long: `Record concepts in a session. A concept without a namespace is a term;
use file:<path>, pattern:<type> or severity:<level> for the others.`,
		Example: `  review-memory session add file:src/auth.ts pattern:security jwt`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := commandContext(cmd)
			s, err := resolveSession(ctx, e, sessionID, false)
			if err != nil {
				return err
			}
			if s == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No active session.")
				return nil
			}

			before, err := e.Store().CountSessionConcepts(ctx, s.ID)
			if err != nil {
				return err
			}
			if err := e.Tracker().AddConcepts(ctx, s, args); err != nil {
				return err
			}
			after, err := e.Store().CountSessionConcepts(ctx, s.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d new concepts in session #%d (%d total)\n", after-before, s.ID, after)
			return nil
		},
	}

	cmd.Flags().Int64Var(&sessionID, "session", 0, "Session id (default: the active session)")
	return cmd
}

// newSessionEndCmd closes a session and reinforces its pairs.
func newSessionEndCmd(opts *Options) *cobra.Command {
	var sessionID int64

	cmd := &cobra.Command{
		Use:   "end",
		Short: "Close the session and reinforce its concept pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := commandContext(cmd)
			s, err := resolveSession(ctx, e, sessionID, false)
			if err != nil {
				return err
			}
			if s == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No active session.")
				return nil
			}

			pairs, err := e.Tracker().EndSession(ctx, s)
			if err != nil {
				return fmt.Errorf("failed to end session #%d: %w", s.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ended session #%d: %d concept pairs reinforced\n", s.ID, pairs)
			return nil
		},
	}

	cmd.Flags().Int64Var(&sessionID, "session", 0, "Session id (default: the active session)")
	return cmd
}

// newSessionStatsCmd lists recent sessions.
func newSessionStatsCmd(opts *Options) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recent learning sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.Tracker().SessionStats(commandContext(cmd), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, stats)
			}
			if len(stats) == 0 {
				fmt.Fprintln(out, "No learning sessions recorded.")
				return nil
			}

			fmt.Fprintf(out, "Learning Sessions (%d):\n\n", len(stats))
			for _, st := range stats {
				ended := "active"
				if st.EndedAt != nil {
					ended = st.EndedAt.Local().Format(time.DateTime)
				}
				project := st.Project
				if project == "" {
					project = "-"
				}
				fmt.Fprintf(out, "  #%d %s\n", st.SessionID, st.SessionRef)
				fmt.Fprintf(out, "    Project:  %s\n", project)
				fmt.Fprintf(out, "    Started:  %s\n", st.StartedAt.Local().Format(time.DateTime))
				fmt.Fprintf(out, "    Ended:    %s\n", ended)
				fmt.Fprintf(out, "    Concepts: %d\n", st.ConceptCount)
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

// sessionRef returns the ref argument, or a generated one.
func sessionRef(args []string) string {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0]
	}
	return uuid.NewString()
}
