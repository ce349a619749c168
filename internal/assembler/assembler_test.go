package assembler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ctxengine/internal/policy"
	"github.com/Aman-CERP/ctxengine/internal/retriever"
	"github.com/Aman-CERP/ctxengine/internal/store"
	"github.com/Aman-CERP/ctxengine/internal/tokenizer"
	"github.com/Aman-CERP/ctxengine/internal/traversal"
)

type fakeRetriever struct {
	result *retriever.Result
	err    error
}

func (f *fakeRetriever) Retrieve(context.Context, retriever.Request) (*retriever.Result, error) {
	return f.result, f.err
}

type fakeTraversal struct {
	result *traversal.Result
	err    error

	cacheSize, cacheCapacity int
	cacheHitRate             float64
	cacheSamples             int
}

func (f *fakeTraversal) Run(context.Context, traversal.Request) (*traversal.Result, error) {
	return f.result, f.err
}

func (f *fakeTraversal) CacheStats() (size, capacity int, hitRate float64, total int) {
	return f.cacheSize, f.cacheCapacity, f.cacheHitRate, f.cacheSamples
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

func TestAssemble_PacksSeedAtImplementationLevel(t *testing.T) {
	sp := seedSpan("span-a", "a.go", "DoThing")
	chunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: "func DoThing() { return }", ContentType: store.ContentTypeCode}

	r := &fakeRetriever{result: &retriever.Result{
		Items: []retriever.Item{{ChunkID: "chunk-a", Score: 0.9, Lanes: retriever.LanePresence{Lexical: true}}},
	}}
	trav := &fakeTraversal{result: &traversal.Result{VisitedSpanIDs: []string{"span-a"}}}
	spans := &fakeSpans{byID: map[string]*store.Span{"span-a": sp}}
	chunks := &fakeChunks{byID: map[string]*store.Chunk{"chunk-a": chunk}}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: 4000})
	require.NoError(t, err)
	require.Len(t, b.Items, 1)
	assert.Equal(t, int(LevelImplementation), b.Items[0].Level)
	assert.Equal(t, "a.go", b.Items[0].File)
	assert.True(t, b.Satisfied)
}

func TestAssemble_DegradesWhenBudgetTight(t *testing.T) {
	sp := seedSpan("span-a", "a.go", "DoThing")
	longBody := ""
	for i := 0; i < 500; i++ {
		longBody += "x"
	}
	chunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: longBody, ContentType: store.ContentTypeCode}

	r := &fakeRetriever{result: &retriever.Result{
		Items: []retriever.Item{{ChunkID: "chunk-a", Score: 0.9, Lanes: retriever.LanePresence{Lexical: true}}},
	}}
	trav := &fakeTraversal{result: &traversal.Result{VisitedSpanIDs: []string{"span-a"}}}
	spans := &fakeSpans{byID: map[string]*store.Span{"span-a": sp}}
	chunks := &fakeChunks{byID: map[string]*store.Chunk{"chunk-a": chunk}}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	// Budget big enough for the capsule/definition but not the full body.
	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: 20})
	require.NoError(t, err)
	require.Len(t, b.Items, 1)
	assert.Less(t, b.Items[0].Level, int(LevelImplementation))
}

func TestAssemble_DropsWhenNothingFits(t *testing.T) {
	sp := seedSpan("span-a", "a.go", "DoThing")
	chunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: "func DoThing() {}", ContentType: store.ContentTypeCode}

	r := &fakeRetriever{result: &retriever.Result{
		Items: []retriever.Item{{ChunkID: "chunk-a", Score: 0.9}},
	}}
	trav := &fakeTraversal{result: &traversal.Result{VisitedSpanIDs: []string{"span-a"}}}
	spans := &fakeSpans{byID: map[string]*store.Span{"span-a": sp}}
	chunks := &fakeChunks{byID: map[string]*store.Chunk{"chunk-a": chunk}}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: 0})
	require.NoError(t, err)
	assert.Len(t, b.Items, 0)
	assert.False(t, b.Satisfied)
	require.NotEmpty(t, b.StoppingReasons)
}

func TestAssemble_GraphExpansionAddsContextAtDefinitionLevel(t *testing.T) {
	seed := seedSpan("span-a", "a.go", "DoThing")
	neighbor := seedSpan("span-b", "b.go", "Helper")
	seedChunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: "func DoThing() { Helper() }", ContentType: store.ContentTypeCode}

	r := &fakeRetriever{result: &retriever.Result{
		Items: []retriever.Item{{ChunkID: "chunk-a", Score: 0.9}},
	}}
	trav := &fakeTraversal{result: &traversal.Result{
		VisitedSpanIDs: []string{"span-a", "span-b"},
		Edges: []*store.Edge{
			{SourceSpanID: "span-a", TargetSpanID: "span-b", Kind: store.EdgeKindCall, Confidence: 0.8},
		},
	}}
	spans := &fakeSpans{byID: map[string]*store.Span{"span-a": seed, "span-b": neighbor}}
	chunks := &fakeChunks{
		byID:     map[string]*store.Chunk{"chunk-a": seedChunk},
		bySpanID: map[string]*store.Chunk{},
	}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: 4000})
	require.NoError(t, err)
	require.Len(t, b.Items, 2)

	var sawHelper bool
	for _, it := range b.Items {
		if it.File == "b.go" {
			sawHelper = true
			assert.Equal(t, int(LevelDefinition), it.Level)
		}
	}
	assert.True(t, sawHelper)
}

func TestAssemble_RetrieverErrorRecordsSearchFailure(t *testing.T) {
	r := &fakeRetriever{err: assertErr{}}
	trav := &fakeTraversal{}
	spans := &fakeSpans{byID: map[string]*store.Span{}}
	chunks := &fakeChunks{}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: 4000})
	require.NoError(t, err)
	assert.Empty(t, b.Items)
	assert.False(t, b.Satisfied)
	require.Len(t, b.StoppingReasons, 1)
	assert.Equal(t, "SEARCH_FAILURE", b.StoppingReasons[0].Type)
}

func TestAssemble_NoCandidatesFoundIsUnsatisfied(t *testing.T) {
	r := &fakeRetriever{result: &retriever.Result{}}
	trav := &fakeTraversal{}
	spans := &fakeSpans{byID: map[string]*store.Span{}}
	chunks := &fakeChunks{}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	b, err := a.Assemble(context.Background(), Request{Query: "nothing", TokenBudget: 4000})
	require.NoError(t, err)
	assert.Empty(t, b.Items)
	assert.False(t, b.Satisfied)
	assert.Equal(t, "no_candidates_found", b.Reason)
}

func TestAssemble_NearFullBudgetRecordsBudgetWarning(t *testing.T) {
	sp := seedSpan("span-a", "a.go", "DoThing")
	chunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: "func DoThing() { return }", ContentType: store.ContentTypeCode}

	r := &fakeRetriever{result: &retriever.Result{
		Items: []retriever.Item{{ChunkID: "chunk-a", Score: 0.9, Lanes: retriever.LanePresence{Lexical: true}}},
	}}
	trav := &fakeTraversal{result: &traversal.Result{VisitedSpanIDs: []string{"span-a"}}}
	spans := &fakeSpans{byID: map[string]*store.Span{"span-a": sp}}
	chunks := &fakeChunks{byID: map[string]*store.Chunk{"chunk-a": chunk}}

	snap := policy.Default(0.6, 0.4, 60, 0.2, 0.5, 50, 0.3, 4000)
	snap.BudgetWarningRatio = 0.9
	p := policy.NewStore(snap)

	a := New(r, trav, tokenizer.New(), spans, chunks, p)
	// Budget sized just above the item's actual cost so used/budget
	// crosses the 0.9 warning ratio without exhausting the budget.
	item, cost, ok := packOne(tokenizer.New(), &Candidate{Span: sp, Chunk: chunk, IsSeed: true}, 1<<20, "", false)
	require.True(t, ok)
	_ = item
	budget := int(float64(cost) / 0.91)

	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: budget})
	require.NoError(t, err)
	require.Len(t, b.Items, 1)

	var sawWarning bool
	for _, sr := range b.StoppingReasons {
		if sr.Type == "BUDGET_WARNING" {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning, "expected a BUDGET_WARNING stopping reason, got %+v", b.StoppingReasons)
}

func TestAssemble_ExpiredDeadlineRecordsTimeout(t *testing.T) {
	sp := seedSpan("span-a", "a.go", "DoThing")
	chunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: "func DoThing() { return }", ContentType: store.ContentTypeCode}

	r := &fakeRetriever{result: &retriever.Result{TimedOut: true}}
	trav := &fakeTraversal{result: &traversal.Result{VisitedSpanIDs: []string{"span-a"}}}
	spans := &fakeSpans{byID: map[string]*store.Span{"span-a": sp}}
	chunks := &fakeChunks{byID: map[string]*store.Chunk{"chunk-a": chunk}}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: 4000, Deadline: time.Nanosecond})
	require.NoError(t, err)
	assert.Empty(t, b.Items)
	require.Len(t, b.StoppingReasons, 1)
	assert.Equal(t, "TIMEOUT", b.StoppingReasons[0].Type)
}

func TestAssemble_LowScoreSeedDroppedByQualityThreshold(t *testing.T) {
	sp := seedSpan("span-a", "a.go", "DoThing")
	chunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: "func DoThing() { return }", ContentType: store.ContentTypeCode}

	r := &fakeRetriever{result: &retriever.Result{
		Items: []retriever.Item{{ChunkID: "chunk-a", Score: 0.01, Lanes: retriever.LanePresence{Lexical: true}}},
	}}
	trav := &fakeTraversal{result: &traversal.Result{VisitedSpanIDs: []string{"span-a"}}}
	spans := &fakeSpans{byID: map[string]*store.Span{"span-a": sp}}
	chunks := &fakeChunks{byID: map[string]*store.Chunk{"chunk-a": chunk}}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: 4000})
	require.NoError(t, err)
	assert.Empty(t, b.Items)

	var sawQuality bool
	for _, sr := range b.StoppingReasons {
		if sr.Type == "QUALITY_THRESHOLD" {
			sawQuality = true
		}
	}
	assert.True(t, sawQuality, "expected a QUALITY_THRESHOLD stopping reason, got %+v", b.StoppingReasons)
}

func TestAssemble_FullCacheRecordsCacheBoundary(t *testing.T) {
	sp := seedSpan("span-a", "a.go", "DoThing")
	chunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: "func DoThing() { return }", ContentType: store.ContentTypeCode}

	r := &fakeRetriever{result: &retriever.Result{
		Items: []retriever.Item{{ChunkID: "chunk-a", Score: 0.9, Lanes: retriever.LanePresence{Lexical: true}}},
	}}
	trav := &fakeTraversal{
		result:        &traversal.Result{VisitedSpanIDs: []string{"span-a"}},
		cacheSize:     95,
		cacheCapacity: 100,
	}
	spans := &fakeSpans{byID: map[string]*store.Span{"span-a": sp}}
	chunks := &fakeChunks{byID: map[string]*store.Chunk{"chunk-a": chunk}}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: 4000})
	require.NoError(t, err)

	var sawBoundary bool
	for _, sr := range b.StoppingReasons {
		if sr.Type == "CACHE_BOUNDARY" {
			sawBoundary = true
		}
	}
	assert.True(t, sawBoundary, "expected a CACHE_BOUNDARY stopping reason, got %+v", b.StoppingReasons)
}

func TestAssemble_LowHitRateRecordsCachePerformance(t *testing.T) {
	sp := seedSpan("span-a", "a.go", "DoThing")
	chunk := &store.Chunk{ID: "chunk-a", SpanID: "span-a", Content: "func DoThing() { return }", ContentType: store.ContentTypeCode}

	r := &fakeRetriever{result: &retriever.Result{
		Items: []retriever.Item{{ChunkID: "chunk-a", Score: 0.9, Lanes: retriever.LanePresence{Lexical: true}}},
	}}
	trav := &fakeTraversal{
		result:        &traversal.Result{VisitedSpanIDs: []string{"span-a"}},
		cacheSize:     10,
		cacheCapacity: 100,
		cacheHitRate:  0.02,
		cacheSamples:  50,
	}
	spans := &fakeSpans{byID: map[string]*store.Span{"span-a": sp}}
	chunks := &fakeChunks{byID: map[string]*store.Chunk{"chunk-a": chunk}}

	a := New(r, trav, tokenizer.New(), spans, chunks, defaultPolicy())
	b, err := a.Assemble(context.Background(), Request{Query: "DoThing", TokenBudget: 4000})
	require.NoError(t, err)

	var sawPerf bool
	for _, sr := range b.StoppingReasons {
		if sr.Type == "CACHE_PERFORMANCE" {
			sawPerf = true
		}
	}
	assert.True(t, sawPerf, "expected a CACHE_PERFORMANCE stopping reason, got %+v", b.StoppingReasons)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
