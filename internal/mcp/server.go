package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ctxengine/internal/assembler"
	"github.com/Aman-CERP/ctxengine/internal/bundle"
	"github.com/Aman-CERP/ctxengine/internal/config"
	"github.com/Aman-CERP/ctxengine/internal/store"
	"github.com/Aman-CERP/ctxengine/pkg/provider"
	"github.com/Aman-CERP/ctxengine/pkg/version"
)

// maxRecentBundles bounds how many assembled bundles the server keeps
// around for later ctxengine://bundle/<id> resource reads.
const maxRecentBundles = 64

// Server is the MCP server for ctxengine. It bridges AI clients
// (Claude Code, Cursor) with the progressive context assembler.
type Server struct {
	mcp       *mcp.Server
	assembler *assembler.Assembler
	store     store.Store
	embedder  provider.Embedder // nil reports as unavailable; used for capability signaling
	config    *config.Config
	logger    *slog.Logger

	rootPath string

	mu            sync.RWMutex
	recentBundles map[string]*bundle.Bundle
	bundleOrder   []string
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// SearchInput defines the input schema for the search tool. It mirrors
// assembler.Request: a query plus the knobs that scope and bound the
// returned bundle.
type SearchInput struct {
	Query       string `json:"query" jsonschema:"the natural-language or code query to find context for"`
	TokenBudget int    `json:"token_budget,omitempty" jsonschema:"maximum tokens the returned bundle may consume, default 4096"`
	Model       string `json:"model,omitempty" jsonschema:"tokenizer model name used to measure the budget"`
	Repo        string `json:"repo,omitempty" jsonschema:"restrict results to this repository"`
	PathGlob    string `json:"path_glob,omitempty" jsonschema:"restrict results to paths matching this glob"`
	Lang        string `json:"lang,omitempty" jsonschema:"restrict results to this source language"`
}

// defaultTokenBudget is used when a caller omits token_budget.
const defaultTokenBudget = 4096

// FeedbackInput defines the input schema for the record_feedback tool.
type FeedbackInput struct {
	Session   string `json:"session" jsonschema:"the session id that produced the bundle"`
	Query     string `json:"query" jsonschema:"the query that produced the bundle"`
	BundleID  string `json:"bundle_id" jsonschema:"the bundle_id returned by a prior search call"`
	Satisfied bool   `json:"satisfied" jsonschema:"whether the returned bundle answered the query"`
	Notes     string `json:"notes,omitempty" jsonschema:"free-form notes, e.g. which items were actually used"`
}

// FeedbackOutput acknowledges a recorded interaction.
type FeedbackOutput struct {
	Recorded bool `json:"recorded"`
}

// NewServer creates a new MCP server.
// The embedder parameter is used for capability signaling - AI clients
// can query the actual embedder state to adjust their search
// strategies. rootPath is used for project detection (go.mod,
// package.json, etc.) via ProjectDetector.
func NewServer(asm *assembler.Assembler, st store.Store, embedder provider.Embedder, cfg *config.Config, rootPath string) (*Server, error) {
	if asm == nil {
		return nil, errors.New("assembler is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		assembler:     asm,
		store:         st,
		embedder:      embedder, // may be nil - will report as unavailable
		config:        cfg,
		rootPath:      rootPath,
		logger:        slog.Default(),
		recentBundles: make(map[string]*bundle.Bundle),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "ctxengine",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerStatsResource()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "ctxengine", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "search",
			Description: "Assembles a budget-bounded, evidence-backed context bundle for a query. Runs hybrid retrieval, graph traversal, and progressive packing, and reports why each item was included and why assembly stopped where it did.",
		},
		{
			Name:        "index_status",
			Description: "Reports whether the index is ready, which embedder is active, and current policy weights. Use before searching to verify the project is indexed.",
		},
		{
			Name:        "record_feedback",
			Description: "Records whether a previously returned bundle satisfied the query. Feeds the outcome-driven weight tuner (ctxengine learn).",
		},
	}
}

// CallTool invokes a tool by name with the given arguments. This is a
// thin, transport-agnostic entry point used by tests and non-MCP
// callers; the live server dispatches through the mcp* handlers below.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		input := SearchInput{TokenBudget: defaultTokenBudget}
		if v, ok := args["query"].(string); ok {
			input.Query = v
		}
		if v, ok := args["token_budget"].(float64); ok && v > 0 {
			input.TokenBudget = int(v)
		}
		if v, ok := args["model"].(string); ok {
			input.Model = v
		}
		if v, ok := args["repo"].(string); ok {
			input.Repo = v
		}
		if v, ok := args["path_glob"].(string); ok {
			input.PathGlob = v
		}
		if v, ok := args["lang"].(string); ok {
			input.Lang = v
		}
		return s.handleSearch(ctx, input)
	case "index_status":
		return s.handleIndexStatus(ctx)
	case "record_feedback":
		var input FeedbackInput
		if v, ok := args["session"].(string); ok {
			input.Session = v
		}
		if v, ok := args["query"].(string); ok {
			input.Query = v
		}
		if v, ok := args["bundle_id"].(string); ok {
			input.BundleID = v
		}
		if v, ok := args["satisfied"].(bool); ok {
			input.Satisfied = v
		}
		if v, ok := args["notes"].(string); ok {
			input.Notes = v
		}
		return s.handleRecordFeedback(ctx, input)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearch runs the assembler pipeline and remembers the result so
// record_feedback and the bundle resource can refer back to it.
func (s *Server) handleSearch(ctx context.Context, input SearchInput) (*bundle.Bundle, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	budget := input.TokenBudget
	if budget <= 0 {
		budget = defaultTokenBudget
	}

	requestID := generateRequestID()
	start := time.Now()
	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("token_budget", budget))

	b, err := s.assembler.Assemble(ctx, assembler.Request{
		Query:       input.Query,
		TokenBudget: budget,
		Model:       input.Model,
		Repo:        input.Repo,
		PathGlob:    input.PathGlob,
		Lang:        input.Lang,
		Deadline:    s.config.Assembler.RequestDeadline,
	})

	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("item_count", len(b.Items)),
		slog.Bool("satisfied", b.Satisfied))

	s.rememberBundle(b)
	return b, nil
}

// handleIndexStatus reports index readiness and embedder capability.
func (s *Server) handleIndexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	detector := NewProjectDetector(s.rootPath, s.logger)
	projectInfo := detector.Detect()

	output := &IndexStatusOutput{Project: *projectInfo}

	if s.embedder != nil {
		output.Embeddings = EmbeddingInfo{
			Provider:   s.config.Embeddings.Provider,
			Model:      s.embedder.ModelName(),
			Dimensions: s.embedder.Dimensions(),
		}
		if s.embedder.Available(ctx) {
			output.Embeddings.Status = "ready"
		} else {
			output.Embeddings.Status = "unavailable"
		}
		output.Embeddings.IsFallbackActive = s.embedder.Dimensions() == provider.StaticDimensions ||
			s.embedder.Dimensions() == provider.Static768Dimensions
	} else {
		output.Embeddings = EmbeddingInfo{Provider: "none", Model: "none", Status: "unavailable", IsFallbackActive: true}
	}

	return output, nil
}

// handleRecordFeedback appends an interaction record for the learner
// to pick up on its next ctxengine learn run.
func (s *Server) handleRecordFeedback(ctx context.Context, input FeedbackInput) (*FeedbackOutput, error) {
	if strings.TrimSpace(input.BundleID) == "" {
		return nil, NewInvalidParamsError("bundle_id parameter is required")
	}

	if err := s.store.AppendInteraction(ctx, &store.Interaction{
		Session:   input.Session,
		Query:     input.Query,
		BundleID:  input.BundleID,
		Satisfied: input.Satisfied,
		Notes:     input.Notes,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, MapError(err)
	}

	return &FeedbackOutput{Recorded: true}, nil
}

// rememberBundle keeps the most recent bundles around, bounded to
// maxRecentBundles, for ctxengine://bundle/<id> resource reads.
func (s *Server) rememberBundle(b *bundle.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recentBundles[b.BundleID] = b
	s.bundleOrder = append(s.bundleOrder, b.BundleID)
	for len(s.bundleOrder) > maxRecentBundles {
		oldest := s.bundleOrder[0]
		s.bundleOrder = s.bundleOrder[1:]
		delete(s.recentBundles, oldest)
	}
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Assembles a budget-bounded, evidence-backed context bundle for a query. Runs hybrid retrieval, graph traversal, and progressive packing, and reports why each item was included and why assembly stopped where it did.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Reports whether the index is ready, which embedder is active, and current policy weights.",
	}, s.mcpIndexStatusHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_feedback",
		Description: "Records whether a previously returned bundle satisfied the query.",
	}, s.mcpRecordFeedbackHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 3))
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	*bundle.Bundle,
	error,
) {
	b, err := s.handleSearch(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, b, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	output, err := s.handleIndexStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, output, nil
}

// mcpRecordFeedbackHandler is the MCP SDK handler for the record_feedback tool.
func (s *Server) mcpRecordFeedbackHandler(ctx context.Context, _ *mcp.CallToolRequest, input FeedbackInput) (
	*mcp.CallToolResult,
	*FeedbackOutput,
	error,
) {
	output, err := s.handleRecordFeedback(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, output, nil
}

// registerStatsResource registers the single ctxengine://stats resource,
// mirroring the teacher's one-URI dynamic-content resource pattern.
func (s *Server) registerStatsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "stats",
			URI:         "ctxengine://stats",
			Description: "Embedder capability and recent bundle count",
			MIMEType:    "application/json",
		},
		s.makeStatsHandler(),
	)
}

func (s *Server) makeStatsHandler() mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		s.mu.RLock()
		bundleCount := len(s.recentBundles)
		s.mu.RUnlock()

		status, err := s.handleIndexStatus(ctx)
		if err != nil {
			return nil, MapError(err)
		}

		content := fmt.Sprintf(
			`{"embeddings":{"provider":%q,"model":%q,"status":%q,"dimensions":%d},"recent_bundle_count":%d}`,
			status.Embeddings.Provider, status.Embeddings.Model, status.Embeddings.Status,
			status.Embeddings.Dimensions, bundleCount,
		)

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: "ctxengine://stats", MIMEType: "application/json", Text: content},
			},
		}, nil
	}
}

// ReadBundleResource reads a previously assembled bundle by id, exposed
// as the ctxengine://bundle/<id> URI scheme.
func (s *Server) ReadBundleResource(uri string) (*bundle.Bundle, error) {
	const prefix = "ctxengine://bundle/"
	if !strings.HasPrefix(uri, prefix) {
		return nil, NewResourceNotFoundError(uri)
	}
	id := strings.TrimPrefix(uri, prefix)

	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.recentBundles[id]
	if !ok {
		return nil, NewResourceNotFoundError(uri)
	}
	return b, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server doesn't have a Close method - it stops when context is canceled.
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
