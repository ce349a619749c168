package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ctxengine/internal/config"
	"github.com/Aman-CERP/ctxengine/internal/learner"
	"github.com/Aman-CERP/ctxengine/internal/output"
	"github.com/Aman-CERP/ctxengine/internal/policy"
	"github.com/Aman-CERP/ctxengine/internal/store"
)

func newLearnCmd() *cobra.Command {
	var (
		path string
		days int
	)

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Optimize retrieval weights from recorded feedback",
		Long: `learn reads the interactions recorded by serve's record_feedback tool, derives
a satisfaction signal from each, and runs gradient ascent over the
lexical/vector/graph lane weights, swapping the result into the policy
store when it validates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			root, err := config.FindProjectRoot(absPath)
			if err != nil {
				root = absPath
			}
			return runLearn(cmd.Context(), root, days)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project directory")
	cmd.Flags().IntVar(&days, "days", 30, "Number of days of interactions to learn from")

	return cmd
}

// runLearn loads recorded interactions and runs one optimization pass
// over the policy store. Interactions only persist the outcome, not the
// span ids, policy version/hash, or lane counts a bundle was assembled
// with, so each Feedback here carries just the Interaction; the
// aggregator degrades gracefully (a collapsed bundle signature, even
// lane weighting) rather than failing on the missing detail.
func runLearn(ctx context.Context, root string, days int) error {
	w := output.New(os.Stdout)
	if debugMode {
		w = w.WithLogger(slog.Default())
	}

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
		w.Errorf("no index found in %s: %v", root, err)
		return err
	}
	since := time.Now().AddDate(0, 0, -days)
	interactions, err := st.ReadInteractions(ctx, since)
	// Release the Store, and its writer lock, before optimizing.
	_ = st.Close()
	if err != nil {
		w.Errorf("read interactions: %v", err)
		return err
	}
	if len(interactions) == 0 {
		w.Status("→", "No interactions recorded yet, nothing to learn from")
		return nil
	}

	feedback := make([]learner.Feedback, 0, len(interactions))
	for _, i := range interactions {
		feedback = append(feedback, learner.Feedback{Interaction: i})
	}

	snap := policy.Default(
		cfg.Retrieval.BM25Weight, cfg.Retrieval.VectorWeight, cfg.Retrieval.RRFConstant,
		0.2, 0.5, cfg.Retrieval.MaxResults,
		cfg.Traversal.BudgetFraction, cfg.Traversal.BudgetCeiling,
	)
	pol := policy.NewStore(snap)

	lc := learner.Config{
		SatisfactionWeight: cfg.Learner.SatisfactionWeight,
		EngagementWeight:   cfg.Learner.EngagementWeight,
		LearningRate:       cfg.Learner.LearningRate,
		MaxIterations:      cfg.Learner.MaxIterations,
		Convergence:        cfg.Learner.ConvergenceEpsilon,
		RRFConstant:        cfg.Retrieval.RRFConstant,
	}
	l := learner.New(lc, pol, nil)

	if err := l.Optimize(ctx, feedback); err != nil {
		w.Errorf("optimize: %v", err)
		return err
	}

	updated := pol.Current()
	w.Successf("Learned from %d interactions (bm25=%.3f vector=%.3f)",
		len(interactions), updated.BM25Weight, updated.VectorWeight)
	return nil
}
