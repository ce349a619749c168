package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestComputeSpanID_StableAcrossCalls(t *testing.T) {
	id1 := ComputeSpanID("repo", "a.go", 0, 10, SpanKindFunction, "f", "func f()", "doc", nil)
	id2 := ComputeSpanID("repo", "a.go", 0, 10, SpanKindFunction, "f", "func f()", "doc", nil)
	assert.Equal(t, id1, id2)
}

func TestComputeSpanID_ChangesWithByteRange(t *testing.T) {
	id1 := ComputeSpanID("repo", "a.go", 0, 10, SpanKindFunction, "f", "func f()", "doc", nil)
	id2 := ComputeSpanID("repo", "a.go", 0, 20, SpanKindFunction, "f", "func f()", "doc", nil)
	assert.NotEqual(t, id1, id2)
}

func TestComputeChunkID_DependsOnSpanAndContext(t *testing.T) {
	id1 := ComputeChunkID("span1", "ctxhash1")
	id2 := ComputeChunkID("span1", "ctxhash2")
	assert.NotEqual(t, id1, id2)
}

func TestRerankCacheKey_InsensitiveToCandidateOrder(t *testing.T) {
	k1 := RerankCacheKey("ollama", "m1", "q", []string{"a", "b", "c"})
	k2 := RerankCacheKey("ollama", "m1", "q", []string{"c", "a", "b"})
	assert.Equal(t, k1, k2)
}

func TestBundleSignature_CollidesForIdenticalEffectiveBundles(t *testing.T) {
	s1 := BundleSignature([]string{"s1", "s2"}, 1, "ph1")
	s2 := BundleSignature([]string{"s2", "s1"}, 1, "ph1")
	assert.Equal(t, s1, s2)

	s3 := BundleSignature([]string{"s1", "s2"}, 1, "ph2")
	assert.NotEqual(t, s1, s3)
}

func TestUpsertFile_IdempotentOnUnchangedHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := &File{Repo: "r", Path: "a.go", ContentHash: "h1", Language: "go", IndexedAt: time.Now()}
	changed, err := s.UpsertFile(ctx, f)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.UpsertFile(ctx, f)
	require.NoError(t, err)
	assert.False(t, changed, "unchanged content hash must not write")

	f.ContentHash = "h2"
	changed, err = s.UpsertFile(ctx, f)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestUpsertChunk_IsSearchableViaFTS(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertFile(ctx, &File{Repo: "r", Path: "auth.go", ContentHash: "h1", IndexedAt: time.Now()})
	require.NoError(t, err)

	spanID := ComputeSpanID("r", "auth.go", 0, 100, SpanKindFunction, "rotate", "func rotate()", "", nil)
	require.NoError(t, s.UpsertSpan(ctx, &Span{
		ID: spanID, Repo: "r", Path: "auth.go", ByteStart: 0, ByteEnd: 100,
		Kind: SpanKindFunction, Name: "rotate", UpdatedAt: time.Now(),
	}))

	chunkID := ComputeChunkID(spanID, "ctx1")
	require.NoError(t, s.UpsertChunk(ctx, &Chunk{
		ID: chunkID, SpanID: spanID, Repo: "r", Path: "auth.go",
		Content: "func rotate() { refresh token rotation logic }",
		ContentType: ContentTypeCode, StartLine: 1, EndLine: 5, CreatedAt: time.Now(),
	}))

	hits, err := s.FTSSearch(ctx, "rotation", 10, "", "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunkID, hits[0].ChunkID)
}

func TestUpsertEdge_CollapsesToMaxConfidence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := &Edge{SourceSpanID: "s1", TargetSpanID: "s2", Kind: EdgeKindCall, Confidence: 0.5, Provenance: ProvenanceHeuristic}
	require.NoError(t, s.UpsertEdge(ctx, e))

	e2 := &Edge{SourceSpanID: "s1", TargetSpanID: "s2", Kind: EdgeKindCall, Confidence: 0.9, Provenance: ProvenanceLSP}
	require.NoError(t, s.UpsertEdge(ctx, e2))

	edges, err := s.GetOutgoingEdges(ctx, "s1", nil)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 0.9, edges[0].Confidence)
	assert.Equal(t, ProvenanceLSP, edges[0].Provenance)

	e3 := &Edge{SourceSpanID: "s1", TargetSpanID: "s2", Kind: EdgeKindCall, Confidence: 0.1, Provenance: ProvenanceHeuristic}
	require.NoError(t, s.UpsertEdge(ctx, e3))

	edges, err = s.GetOutgoingEdges(ctx, "s1", nil)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 0.9, edges[0].Confidence, "confidence must never decrease on a lower-confidence upsert")
}

func TestGetOutgoingEdges_DeterministicOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEdge(ctx, &Edge{SourceSpanID: "s1", TargetSpanID: "zzz", Kind: EdgeKindCall, Confidence: 0.9, Provenance: ProvenanceLSP}))
	require.NoError(t, s.UpsertEdge(ctx, &Edge{SourceSpanID: "s1", TargetSpanID: "aaa", Kind: EdgeKindCall, Confidence: 0.9, Provenance: ProvenanceLSP}))
	require.NoError(t, s.UpsertEdge(ctx, &Edge{SourceSpanID: "s1", TargetSpanID: "mmm", Kind: EdgeKindImport, Confidence: 0.3, Provenance: ProvenanceLSP}))

	edges, err := s.GetOutgoingEdges(ctx, "s1", nil)
	require.NoError(t, err)
	require.Len(t, edges, 3)
	// confidence desc first
	assert.Equal(t, "aaa", edges[0].TargetSpanID)
	assert.Equal(t, "zzz", edges[1].TargetSpanID)
	assert.Equal(t, "mmm", edges[2].TargetSpanID)
}

func TestSaveAndGetEmbedding_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	vec := []float32{0.1, -0.2, 0.3, 0.0}
	require.NoError(t, s.SaveEmbeddings(ctx, []*Embedding{{ChunkID: "c1", Model: "m1", Dim: 4, Vector: vec}}))

	e, err := s.GetEmbedding(ctx, "c1", "m1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 4, e.Dim)
	for i, v := range vec {
		assert.InDelta(t, v, e.Vector[i], 1e-6)
	}
}

func TestGetEmbedding_ReturnsNilNotErrorWhenAbsent(t *testing.T) {
	s := openTestStore(t)
	e, err := s.GetEmbedding(context.Background(), "missing", "m1")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestRerankCache_PutThenGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := RerankCacheKey("ollama", "m1", "q", []string{"a", "b"})
	entry := &RerankCacheEntry{Key: key, Order: []RerankedItem{{Index: 1, Score: 0.9}, {Index: 0, Score: 0.4}}, Created: time.Now()}
	require.NoError(t, s.RerankCachePut(ctx, entry))

	got, err := s.RerankCacheGet(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Order, got.Order)
}

func TestRerankCache_ImmutableOnceWritten(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := RerankCacheKey("ollama", "m1", "q", []string{"a"})
	first := &RerankCacheEntry{Key: key, Order: []RerankedItem{{Index: 0, Score: 0.5}}, Created: time.Now()}
	require.NoError(t, s.RerankCachePut(ctx, first))

	second := &RerankCacheEntry{Key: key, Order: []RerankedItem{{Index: 0, Score: 0.1}}, Created: time.Now()}
	require.NoError(t, s.RerankCachePut(ctx, second))

	got, err := s.RerankCacheGet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.Order, got.Order, "a cache entry must not be overwritten once written")
}

func TestAppendAndReadInteractions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.AppendInteraction(ctx, &Interaction{
		Session: "sess1", Query: "q1", BundleID: "b1", Satisfied: true, CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.AppendInteraction(ctx, &Interaction{
		Session: "sess1", Query: "q2", BundleID: "b2", Satisfied: false, CreatedAt: base.Add(2 * time.Minute),
	}))

	interactions, err := s.ReadInteractions(ctx, base)
	require.NoError(t, err)
	require.Len(t, interactions, 2)
	assert.Equal(t, "q1", interactions[0].Query)
	assert.True(t, interactions[0].Satisfied)
	assert.False(t, interactions[1].Satisfied)
}

func TestGetSetState_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, StateKeyIndexModel, "qwen3-embedding:8b"))
	v, err = s.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, "qwen3-embedding:8b", v)
}

func TestDeleteFile_CascadesToSpansChunksEdgesAndFTS(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertFile(ctx, &File{Repo: "r", Path: "a.go", ContentHash: "h1", IndexedAt: time.Now()})
	require.NoError(t, err)

	spanID := ComputeSpanID("r", "a.go", 0, 10, SpanKindFunction, "f", "", "", nil)
	require.NoError(t, s.UpsertSpan(ctx, &Span{ID: spanID, Repo: "r", Path: "a.go", Kind: SpanKindFunction, Name: "f", UpdatedAt: time.Now()}))

	chunkID := ComputeChunkID(spanID, "ctx1")
	require.NoError(t, s.UpsertChunk(ctx, &Chunk{ID: chunkID, SpanID: spanID, Repo: "r", Path: "a.go", Content: "findme", CreatedAt: time.Now()}))
	require.NoError(t, s.UpsertEdge(ctx, &Edge{SourceSpanID: spanID, TargetSpanID: "other", Kind: EdgeKindCall, Confidence: 0.5, Provenance: ProvenanceHeuristic}))

	require.NoError(t, s.DeleteFile(ctx, "r", "a.go"))

	_, err = s.GetSpan(ctx, spanID)
	assert.Error(t, err)

	chunks, err := s.GetChunks(ctx, []string{chunkID})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	edges, err := s.GetOutgoingEdges(ctx, spanID, nil)
	require.NoError(t, err)
	assert.Empty(t, edges)

	hits, err := s.FTSSearch(ctx, "findme", 10, "", "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestOpen_RefusesSecondWriterLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")

	s1, err := Open(path)
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(path)
	require.Error(t, err)
}
