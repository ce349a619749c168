package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ctxengine/internal/config"
	"github.com/Aman-CERP/ctxengine/internal/output"
	"github.com/Aman-CERP/ctxengine/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		offline bool
		noTUI   bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory to enable hybrid search over its contents.

This walks the tree, chunks code and documents with tree-sitter,
generates embeddings, and builds the lexical, vector, and graph
indexes the search and serve commands query.

Use --offline to skip the embedding provider and index with the
static hash embedder instead. On an interactive terminal this shows a
live progress screen; use --no-tui to force the plain text trail (the
default outside a TTY or in CI). --no-color or NO_COLOR keeps the live
screen but drops its colors.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			root, err := config.FindProjectRoot(absPath)
			if err != nil {
				root = absPath
			}
			return runIndex(cmd.Context(), root, offline, noTUI, noColor)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use the static embedder instead of a provider")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Force plain text progress output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored TUI output")

	return cmd
}

// runIndex builds the full pipeline against root, which as a side
// effect performs a complete index pass, driving a live ui.Renderer
// (TUI on a TTY, plain text otherwise) through the scan/chunk/index/
// embed stages buildEngine reports against.
func runIndex(ctx context.Context, root string, offline, noTUI, noColor bool) error {
	rep := ui.NewRenderer(ui.NewConfig(os.Stdout, noTUI, noColor, root))
	if err := rep.Start(ctx); err != nil {
		return fmt.Errorf("start progress renderer: %w", err)
	}

	var log *slog.Logger
	if debugMode {
		log = slog.Default()
	}

	eng, stats, err := buildEngine(ctx, root, offline, log, rep)
	if err != nil {
		rep.AddError(ui.ErrorEvent{Err: err})
		_ = rep.Stop()
		w := output.New(os.Stdout)
		w.Errorf("index failed: %v", err)
		return err
	}
	defer eng.Close()

	rep.Complete(stats)
	return rep.Stop()
}
