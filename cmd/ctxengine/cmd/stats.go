package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ctxengine/internal/config"
	"github.com/Aman-CERP/ctxengine/internal/store"
)

func newStatsCmd() *cobra.Command {
	var (
		path       string
		days       int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show interaction and satisfaction statistics",
		Long: `stats summarizes the feedback interactions recorded for a project:
how many interactions were recorded, what fraction were marked satisfied, and
the most recent queries.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			root, err := config.FindProjectRoot(absPath)
			if err != nil {
				root = absPath
			}
			return runStats(cmd.Context(), cmd, root, days, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project directory")
	cmd.Flags().IntVar(&days, "days", 30, "Number of days of interactions to include")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// StatsOutput is the JSON output format for the stats command.
type StatsOutput struct {
	TotalInteractions int       `json:"total_interactions"`
	Satisfied         int       `json:"satisfied"`
	SatisfiedPct      float64   `json:"satisfied_pct"`
	RecentQueries     []string  `json:"recent_queries"`
	Since             time.Time `json:"since"`
}

func runStats(ctx context.Context, cmd *cobra.Command, root string, days int, jsonOutput bool) error {
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	storePath := cfg.Store.Path
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(root, storePath)
	}

	st, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("no index found in %s: %w\nRun 'ctxengine index' to create one", root, err)
	}
	defer func() { _ = st.Close() }()

	since := time.Now().AddDate(0, 0, -days)
	interactions, err := st.ReadInteractions(ctx, since)
	if err != nil {
		return fmt.Errorf("read interactions: %w", err)
	}

	out := &StatsOutput{Since: since}
	out.TotalInteractions = len(interactions)
	const maxRecent = 10
	for i := len(interactions) - 1; i >= 0 && len(out.RecentQueries) < maxRecent; i-- {
		out.RecentQueries = append(out.RecentQueries, interactions[i].Query)
	}
	if out.TotalInteractions > 0 {
		satisfied := 0
		for _, it := range interactions {
			if it.Satisfied {
				satisfied++
			}
		}
		out.Satisfied = satisfied
		out.SatisfiedPct = 100 * float64(satisfied) / float64(out.TotalInteractions)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Interaction Statistics")
	fmt.Fprintln(w, "======================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total Interactions: %d\n", out.TotalInteractions)
	fmt.Fprintf(w, "Satisfied:          %.1f%%\n", out.SatisfiedPct)
	fmt.Fprintln(w)
	if len(out.RecentQueries) > 0 {
		fmt.Fprintln(w, "Recent Queries:")
		for i, q := range out.RecentQueries {
			fmt.Fprintf(w, "  %d. %s\n", i+1, q)
		}
	} else {
		fmt.Fprintln(w, "Recent Queries: (none recorded yet)")
	}
	return nil
}
