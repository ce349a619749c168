// Package cmd provides the CLI commands for ctxengine.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ctxengine/internal/config"
	"github.com/Aman-CERP/ctxengine/internal/logging"
	"github.com/Aman-CERP/ctxengine/pkg/version"
)

// Debug logging flag, set up as a persistent pre/post-run hook the
// same way the teacher wires its --debug flag.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ctxengine CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctxengine",
		Short: "Local-first context retrieval engine for AI coding assistants",
		Long: `ctxengine builds a hybrid (lexical + vector + graph) index over a
codebase and assembles token-budgeted context bundles for AI coding
assistants like Claude Code and Cursor.

It runs entirely locally with zero configuration required.

Just run 'ctxengine serve' in your project directory to get started.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("ctxengine version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.ctxengine/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLearnCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging enables debug logging to a file if the --debug flag is set.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

// stopLogging flushes and closes the debug log file if it was opened.
func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Info("debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault indexes the current project if needed, then starts
// the MCP server over stdio. stdout must stay reserved for JSON-RPC,
// so nothing here writes to it directly; progress goes to the debug
// log only.
func runSmartDefault(ctx context.Context) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".ctxengine")
	storePath := filepath.Join(dataDir, "store.db")
	needsIndex := !fileExists(storePath)

	if needsIndex {
		slog.Info("no index found, indexing before serving", slog.String("root", root))
		eng, _, err := buildEngine(ctx, root, false, slog.Default(), nil)
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		eng.Close()
	}

	return runServe(ctx, root, "stdio")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
