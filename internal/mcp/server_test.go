package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ctxengine/internal/assembler"
	"github.com/Aman-CERP/ctxengine/internal/bundle"
	"github.com/Aman-CERP/ctxengine/internal/config"
	"github.com/Aman-CERP/ctxengine/internal/policy"
	"github.com/Aman-CERP/ctxengine/internal/retriever"
	"github.com/Aman-CERP/ctxengine/internal/store"
	"github.com/Aman-CERP/ctxengine/internal/tokenizer"
	"github.com/Aman-CERP/ctxengine/internal/traversal"
	"github.com/Aman-CERP/ctxengine/pkg/provider"
)

type fakeRetriever struct {
	result *retriever.Result
	err    error
}

func (f *fakeRetriever) Retrieve(context.Context, retriever.Request) (*retriever.Result, error) {
	return f.result, f.err
}

type fakeTraversal struct{}

func (fakeTraversal) Run(context.Context, traversal.Request) (*traversal.Result, error) {
	return &traversal.Result{}, nil
}

type fakeSpans struct {
	byID map[string]*store.Span
}

func (f *fakeSpans) GetSpans(_ context.Context, ids []string) ([]*store.Span, error) {
	out := make([]*store.Span, 0, len(ids))
	for _, id := range ids {
		if sp, ok := f.byID[id]; ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

type fakeChunks struct {
	byID     map[string]*store.Chunk
	bySpanID map[string]*store.Chunk
}

func (f *fakeChunks) GetChunks(_ context.Context, ids []string) ([]*store.Chunk, error) {
	out := make([]*store.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunks) GetChunksBySpanIDs(_ context.Context, ids []string) (map[string]*store.Chunk, error) {
	out := make(map[string]*store.Chunk)
	for _, id := range ids {
		if c, ok := f.bySpanID[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

// fakeStore implements store.Store, recording only the interactions a
// test cares about and zero-valuing everything else the Assembler's own
// SpanStore/ChunkStore fakes already stand in for.
type fakeStore struct {
	interactions []*store.Interaction
	appendErr    error
}

func (f *fakeStore) UpsertFile(context.Context, *store.File) (bool, error)      { return false, nil }
func (f *fakeStore) UpsertSpan(context.Context, *store.Span) error              { return nil }
func (f *fakeStore) UpsertChunk(context.Context, *store.Chunk) error            { return nil }
func (f *fakeStore) UpsertEdge(context.Context, *store.Edge) error              { return nil }
func (f *fakeStore) GetChunk(context.Context, string) (*store.Chunk, error)     { return nil, nil }
func (f *fakeStore) GetChunks(context.Context, []string) ([]*store.Chunk, error) {
	return nil, nil
}
func (f *fakeStore) GetSpan(context.Context, string) (*store.Span, error) { return nil, nil }
func (f *fakeStore) GetSpans(context.Context, []string) ([]*store.Span, error) {
	return nil, nil
}
func (f *fakeStore) FTSSearch(context.Context, string, int, string, string) ([]store.FTSHit, error) {
	return nil, nil
}
func (f *fakeStore) GetOutgoingEdges(context.Context, string, []store.EdgeKind) ([]*store.Edge, error) {
	return nil, nil
}
func (f *fakeStore) GetIncomingEdges(context.Context, string, []store.EdgeKind) ([]*store.Edge, error) {
	return nil, nil
}
func (f *fakeStore) SaveEmbeddings(context.Context, []*store.Embedding) error { return nil }
func (f *fakeStore) GetEmbedding(context.Context, string, string) (*store.Embedding, error) {
	return nil, nil
}
func (f *fakeStore) RerankCacheGet(context.Context, string) (*store.RerankCacheEntry, error) {
	return nil, nil
}
func (f *fakeStore) RerankCachePut(context.Context, *store.RerankCacheEntry) error { return nil }
func (f *fakeStore) AppendInteraction(_ context.Context, i *store.Interaction) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.interactions = append(f.interactions, i)
	return nil
}
func (f *fakeStore) ReadInteractions(context.Context, time.Time) ([]*store.Interaction, error) {
	return f.interactions, nil
}
func (f *fakeStore) GetState(context.Context, string) (string, error)    { return "", nil }
func (f *fakeStore) SetState(context.Context, string, string) error      { return nil }
func (f *fakeStore) DeleteFile(context.Context, string, string) error    { return nil }
func (f *fakeStore) Close() error                                       { return nil }

// fakeEmbedder implements provider.Embedder with a fixed dimension and
// no network calls, standing in for a real provider in server tests.
type fakeEmbedder struct {
	dims      int
	available bool
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, f.dims), nil
}
func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int                    { return f.dims }
func (f *fakeEmbedder) ModelName() string                  { return "fake-embedder" }
func (f *fakeEmbedder) Available(context.Context) bool     { return f.available }
func (f *fakeEmbedder) Close() error                       { return nil }
func (f *fakeEmbedder) SetBatchIndex(int)                  {}
func (f *fakeEmbedder) SetFinalBatch(bool)                 {}

func defaultPolicy() *policy.Store {
	return policy.NewStore(policy.Default(0.6, 0.4, 60, 0.2, 0.5, 50, 0.3, 4000))
}

func seedSpan(id, path, name string) *store.Span {
	return &store.Span{
		ID: id, Repo: "r", Path: path, ByteStart: 0, ByteEnd: 40,
		Kind: store.SpanKindFunction, Name: name, Signature: "func " + name + "()",
		Doc: "does a thing",
	}
}

func newTestServer(t *testing.T, st *fakeStore, ret *fakeRetriever, emb provider.Embedder) *Server {
	t.Helper()

	sp := seedSpan("span-a", "a.go", "DoThing")
	chunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: "func DoThing() {}", ContentType: store.ContentTypeCode}

	asm := assembler.New(
		ret,
		fakeTraversal{},
		tokenizer.New(),
		&fakeSpans{byID: map[string]*store.Span{"span-a": sp}},
		&fakeChunks{byID: map[string]*store.Chunk{"chunk-a": chunk}, bySpanID: map[string]*store.Chunk{"span-a": chunk}},
		defaultPolicy(),
	)

	srv, err := NewServer(asm, st, emb, config.NewConfig(), t.TempDir())
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresAssemblerAndStore(t *testing.T) {
	_, err := NewServer(nil, &fakeStore{}, nil, nil, ".")
	assert.Error(t, err)
}

func TestCallTool_SearchRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRetriever{}, &fakeEmbedder{dims: 8, available: true})

	_, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "   "})

	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestCallTool_SearchReturnsBundleAndRemembersIt(t *testing.T) {
	result := &retriever.Result{
		Items: []retriever.Item{{ChunkID: "chunk-a", Score: 1.0, Lanes: retriever.LanePresence{Lexical: true}}},
	}
	srv := newTestServer(t, &fakeStore{}, &fakeRetriever{result: result}, &fakeEmbedder{dims: 8, available: true})

	out, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "find DoThing"})
	require.NoError(t, err)

	b, ok := out.(*bundle.Bundle)
	require.True(t, ok, "search should return a *bundle.Bundle")
	require.NotEmpty(t, b.BundleID)

	remembered, err := srv.ReadBundleResource("ctxengine://bundle/" + b.BundleID)
	require.NoError(t, err)
	assert.Equal(t, b.BundleID, remembered.BundleID)
}

func TestCallTool_RecordFeedbackRequiresBundleID(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRetriever{}, &fakeEmbedder{dims: 8, available: true})

	_, err := srv.CallTool(context.Background(), "record_feedback", map[string]any{"satisfied": true})

	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestCallTool_RecordFeedbackAppendsInteraction(t *testing.T) {
	st := &fakeStore{}
	srv := newTestServer(t, st, &fakeRetriever{}, &fakeEmbedder{dims: 8, available: true})

	out, err := srv.CallTool(context.Background(), "record_feedback", map[string]any{
		"bundle_id": "bundle-123",
		"query":     "find DoThing",
		"satisfied": true,
	})
	require.NoError(t, err)
	require.Len(t, st.interactions, 1)
	assert.Equal(t, "bundle-123", st.interactions[0].BundleID)
	assert.True(t, st.interactions[0].Satisfied)
	_ = out
}

func TestCallTool_UnknownToolReturnsMethodNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRetriever{}, &fakeEmbedder{dims: 8, available: true})

	_, err := srv.CallTool(context.Background(), "does_not_exist", nil)

	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestHandleIndexStatus_ReportsEmbedderCapability(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRetriever{}, &fakeEmbedder{dims: 8, available: true})

	status, err := srv.handleIndexStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", status.Embeddings.Status)
	assert.Equal(t, 8, status.Embeddings.Dimensions)
}

func TestHandleIndexStatus_ReportsUnavailableWithNilEmbedder(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRetriever{}, nil)

	status, err := srv.handleIndexStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "unavailable", status.Embeddings.Status)
	assert.True(t, status.Embeddings.IsFallbackActive)
}
