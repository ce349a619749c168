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
	"github.com/Aman-CERP/ctxengine/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var (
		path      string
		transport string
		addr      string
		offline   bool
	)

	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Start the MCP server over stdio",
		Long: `serve starts an MCP server exposing search, index_status, and
record_feedback tools to an AI coding assistant. The stdio transport requires stdout be
reserved exclusively for JSON-RPC, so all status and error reporting
goes to the debug log instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if transport == "stdio" {
				if err := verifyStdinForMCP(); err != nil {
					return err
				}
				cleanup, err := logging.SetupMCPMode()
				if err != nil {
					return fmt.Errorf("setup MCP logging: %w", err)
				}
				defer cleanup()
			}

			return runServeWithOffline(cmd.Context(), root, transport, addr, offline)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project directory to serve")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to serve over (stdio)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for non-stdio transports")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use the static embedder instead of a provider")

	return cmd
}

// runServe builds the engine and MCP server against root and serves over
// transport, using the configured (non-offline) embedder.
func runServe(ctx context.Context, root, transport string) error {
	return runServeWithOffline(ctx, root, transport, "", false)
}

func runServeWithOffline(ctx context.Context, root, transport, addr string, offline bool) error {
	// rep is nil: the stdio transport reserves stdout exclusively for
	// JSON-RPC, so indexing progress here goes only to the debug log.
	eng, _, err := buildEngine(ctx, root, offline, slog.Default(), nil)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	srv, err := mcp.NewServer(eng.Assembler, eng.Store, eng.Embedder, eng.Config, eng.RootPath)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}
	defer srv.Close()

	return srv.Serve(ctx, transport, addr)
}

// verifyStdinForMCP fails fast with a clear message when stdin is an
// interactive terminal rather than a pipe, since the stdio transport
// expects a client speaking JSON-RPC on the other end.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("check stdin: %w", err)
	}
	if (info.Mode() & os.ModeCharDevice) != 0 {
		return fmt.Errorf("stdin is a terminal, not a pipe: the MCP server expects a client speaking JSON-RPC over stdin/stdout, not an interactive session")
	}
	return nil
}
