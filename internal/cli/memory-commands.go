package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanglvm/review-memory/internal/engine"
	"github.com/khanglvm/review-memory/internal/storage"
)

// NewMemoryCmd creates the memory command group.
func NewMemoryCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the associative memory",
		Long: `The associative memory stores weighted links between concepts. Review
links are reinforced by every stored review; session links when a learning
session ends.

All data is stored locally in ~/.review-memory/history.db (see storage.path).
Weights never decay on their own: run 'decay' and 'prune' to age them.

Commands:
  query     Show the associations of a concept
  strength  Show the summed weight of a concept pair
  decay     Weaken associations not reinforced recently
  prune     Delete weak associations
  export    Export associations as YAML or JSON
  stats     Show row counts
  clear     Delete all review memory data`,
	}

	cmd.AddCommand(newMemoryQueryCmd(opts))
	cmd.AddCommand(newMemoryStrengthCmd(opts))
	cmd.AddCommand(newMemoryDecayCmd(opts))
	cmd.AddCommand(newMemoryPruneCmd(opts))
	cmd.AddCommand(newMemoryExportCmd(opts))
	cmd.AddCommand(newMemoryStatsCmd(opts))
	cmd.AddCommand(newMemoryClearCmd(opts))

	return cmd
}

// newMemoryQueryCmd lists the neighbours of a concept.
func newMemoryQueryCmd(opts *Options) *cobra.Command {
	var minWeight float64
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "query <concept>",
		Short:   "Show the associations of a concept",
		Example: `  review-memory memory query file:src/auth.ts --min-weight 0.2`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			neighbors, err := e.Memory().Query(commandContext(cmd), args[0], minWeight)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, neighbors)
			}
			if len(neighbors) == 0 {
				fmt.Fprintln(out, "No associations found.")
				return nil
			}
			for _, n := range neighbors {
				fmt.Fprintf(out, "%.4f  %-7s  %s\n", n.Weight, n.Context, n.Concept)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&minWeight, "min-weight", 0, "Hide associations weaker than this")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

func newMemoryStrengthCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "strength <concept> <concept>",
		Short: "Show the summed weight of a concept pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			w, err := e.Memory().Strength(commandContext(cmd), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.4f\n", w)
			return nil
		},
	}
}

// newMemoryDecayCmd multiplies stale weights by a factor.
func newMemoryDecayCmd(opts *Options) *cobra.Command {
	var factor float64
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Weaken associations not reinforced recently",
		Example: `  review-memory memory decay --factor 0.9 --older-than 720h
  review-memory memory decay --factor 0.5 --older-than 0   # every association`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.Memory().Decay(commandContext(cmd), factor, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Decayed %d associations by %g\n", n, factor)
			return nil
		},
	}

	cmd.Flags().Float64Var(&factor, "factor", 0.9, "Multiplier in (0, 1)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Only decay associations not reinforced within this window")
	return cmd
}

// newMemoryPruneCmd deletes weak associations and runs the retention sweep.
func newMemoryPruneCmd(opts *Options) *cobra.Command {
	var below float64

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete weak associations and expired sessions",
		Long: `Delete associations weaker than --below, then remove ended sessions and
retrieval history older than storage.retention.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := commandContext(cmd)
			n, err := e.Memory().Prune(ctx, below)
			if err != nil {
				return err
			}
			if err := e.Maintain(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d associations below %g\n", n, below)
			return nil
		},
	}

	cmd.Flags().Float64Var(&below, "below", 0.05, "Weight threshold in (0, 1)")
	return cmd
}

// newMemoryExportCmd exports associations as YAML or JSON.
func newMemoryExportCmd(opts *Options) *cobra.Command {
	var format, outputFile string
	var minWeight float64

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export associations as YAML or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "yaml" && format != "json" {
				return fmt.Errorf("unsupported format %q (use yaml or json)", format)
			}

			e, _, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			assocs, err := e.Memory().Export(commandContext(cmd), minWeight)
			if err != nil {
				return err
			}
			if assocs == nil {
				assocs = []storage.Association{}
			}

			var data string
			if format == "json" {
				data, err = formatJSON(assocs)
			} else {
				data, err = formatYAML(assocs)
			}
			if err != nil {
				return fmt.Errorf("failed to encode associations: %w", err)
			}

			if outputFile == "" {
				fmt.Fprintln(cmd.OutOrStdout(), data)
				return nil
			}
			if err := os.WriteFile(outputFile, []byte(data+"\n"), 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputFile, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d associations to %s\n", len(assocs), outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml or json")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().Float64Var(&minWeight, "min-weight", 0, "Skip associations weaker than this")
	return cmd
}

// newMemoryStatsCmd shows row counts.
func newMemoryStatsCmd(opts *Options) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show review memory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := e.Store().Stats(commandContext(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, st)
			}

			cfg := e.Config()
			fmt.Fprintln(out, "Review Memory Status")
			fmt.Fprintln(out, "====================")
			fmt.Fprintf(out, "Learning enabled:     %t\n", cfg.Learning.Enabled)
			fmt.Fprintf(out, "Lexical backend:      %s\n", cfg.Retrieval.LexicalBackend)
			fmt.Fprintf(out, "Reviews:              %d\n", st.Reviews)
			fmt.Fprintf(out, "Insights:             %d\n", st.Insights)
			fmt.Fprintf(out, "Sessions:             %d (%d active)\n", st.Sessions, st.ActiveSessions)
			fmt.Fprintf(out, "Review associations:  %d\n", st.ReviewAssociations)
			fmt.Fprintf(out, "Session associations: %d\n", st.SessionAssociations)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

// newMemoryClearCmd deletes the database and the search index.
func newMemoryClearCmd(opts *Options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all review memory data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !yes {
				fmt.Fprint(out, "This will delete all review memory data. Continue? (y/N): ")
				response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				response = strings.TrimSpace(response)
				if response != "y" && response != "Y" {
					fmt.Fprintln(out, "Cancelled")
					return nil
				}
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			dbPath := cfg.Storage.Path
			if dbPath == "" {
				if dbPath, err = storage.DefaultDBPath(); err != nil {
					return err
				}
			}

			removed := false
			for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
				if err := os.Remove(p); err == nil {
					removed = true
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("failed to delete %s: %w", p, err)
				}
			}
			indexPath := engine.IndexPath(dbPath)
			if _, err := os.Stat(indexPath); err == nil {
				if err := os.RemoveAll(indexPath); err != nil {
					return fmt.Errorf("failed to delete %s: %w", indexPath, err)
				}
				removed = true
			}

			if !removed {
				fmt.Fprintln(out, "No review memory data found")
				return nil
			}
			fmt.Fprintln(out, "Review memory cleared successfully")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
