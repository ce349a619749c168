package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ctxengine/internal/assembler"
	"github.com/Aman-CERP/ctxengine/internal/config"
	"github.com/Aman-CERP/ctxengine/internal/mcp"
)

func newSearchCmd() *cobra.Command {
	var (
		path        string
		tokenBudget int
		model       string
		repo        string
		pathGlob    string
		lang        string
		jsonOutput  bool
		offline     bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Assemble a token-budgeted context bundle for a query",
		Long: `search runs the full retrieve -> traverse -> pack pipeline against
an already-indexed (or freshly indexed) project and prints the
resulting context bundle, either as markdown or as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			root, err := config.FindProjectRoot(absPath)
			if err != nil {
				root = absPath
			}

			eng, _, err := buildEngine(cmd.Context(), root, offline, nil, nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			if tokenBudget <= 0 {
				tokenBudget = 4096
			}
			if model == "" {
				model = eng.Embedder.ModelName()
			}

			b, err := eng.Assembler.Assemble(cmd.Context(), assembler.Request{
				Query:       query,
				TokenBudget: tokenBudget,
				Model:       model,
				Repo:        repo,
				PathGlob:    pathGlob,
				Lang:        lang,
				Deadline:    eng.Config.Assembler.RequestDeadline,
			})
			if err != nil {
				return fmt.Errorf("assemble: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			}

			fmt.Fprint(cmd.OutOrStdout(), mcp.FormatBundle(b))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project directory to search")
	cmd.Flags().IntVar(&tokenBudget, "budget", 4096, "Token budget for the assembled bundle")
	cmd.Flags().StringVar(&model, "model", "", "Model name for tokenization and embedding lookup")
	cmd.Flags().StringVar(&repo, "repo", "", "Restrict results to one repo")
	cmd.Flags().StringVar(&pathGlob, "glob", "", "Restrict results to paths matching this glob")
	cmd.Flags().StringVar(&lang, "lang", "", "Restrict results to one language")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the raw bundle JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use the static embedder instead of a provider")

	return cmd
}
