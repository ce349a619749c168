// Package retriever implements C3: lexical and vector lane search
// fused with Reciprocal Rank Fusion, with an optional rerank pass.
package retriever

import (
	"context"
	"sort"

	"github.com/Aman-CERP/ctxengine/internal/policy"
	"github.com/Aman-CERP/ctxengine/internal/reqctx"
	"github.com/Aman-CERP/ctxengine/internal/store"
)

// LexicalSearcher is the subset of store.Store the lexical lane needs.
type LexicalSearcher interface {
	FTSSearch(ctx context.Context, query string, k int, repo, pathGlob string) ([]store.FTSHit, error)
}

// ChunkStore is the subset of store.Store needed to fetch candidate
// text for reranking and to apply a language filter.
type ChunkStore interface {
	GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error)
}

// CacheStore is the subset of store.Store needed for the rerank cache.
type CacheStore interface {
	RerankCacheGet(ctx context.Context, key string) (*store.RerankCacheEntry, error)
	RerankCachePut(ctx context.Context, entry *store.RerankCacheEntry) error
}

// Embedder embeds query text into the same vector space as the stored
// chunk embeddings. Implementations live in pkg/provider; the
// interface is declared here, narrowly, so retriever has no dependency
// on a specific provider package.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Request describes one retrieval call.
type Request struct {
	Query    string
	K        int
	Repo     string
	PathGlob string
	Lang     string
	Model    string // embedding model for the vector lane and rerank cache key

	// RCtx is the pipeline-wide request state (deadline, cancel, policy
	// snapshot); the zero value never reports a deadline as expired.
	RCtx reqctx.RequestCtx
}

// LanePresence records which lanes contributed to an item, for Evidence.
type LanePresence struct {
	Lexical bool
	Vector  bool
	Reranked bool
}

// Item is one ranked retrieval result.
type Item struct {
	ChunkID string
	Score   float64
	Lanes   LanePresence
}

// Result is the outcome of a Retrieve call, including which
// degradations occurred so callers can record them as Evidence /
// StopReasons without the Retriever depending on either package.
type Result struct {
	Items            []Item
	VectorDegraded   bool // embedder or vector lane unavailable/empty
	RerankDegraded   bool // rerank provider failed; fused order used
	RerankCacheHit   bool
	TimedOut         bool // req.RCtx's deadline expired before a suspension point
}

// Retriever ties the lexical and vector lanes together with RRF fusion
// and an optional rerank pass.
type Retriever struct {
	lexical  LexicalSearcher
	chunks   ChunkStore
	cache    CacheStore
	vector   *VectorIndex
	embedder Embedder
	reranker Reranker
	fusion   *RRFFusion
	policy   *policy.Store
}

// New returns a Retriever. vector, embedder, and reranker may be nil:
// a nil vector/embedder degrades to lexical-only; a nil reranker
// (or one that fails) degrades to fused order — both are recorded on
// Result rather than returned as errors.
func New(lexical LexicalSearcher, chunks ChunkStore, cache CacheStore, vector *VectorIndex, embedder Embedder, reranker Reranker, p *policy.Store) *Retriever {
	snap := p.Current()
	return &Retriever{
		lexical:  lexical,
		chunks:   chunks,
		cache:    cache,
		vector:   vector,
		embedder: embedder,
		reranker: reranker,
		fusion:   NewRRFFusion(snap.RRFConstant),
		policy:   p,
	}
}

// Retrieve runs the lexical (and, if available, vector) lane, fuses
// them via RRF under the current Policy snapshot's weights, optionally
// reranks the top candidates, and returns the final top-K items.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	if req.RCtx.Expired() {
		return &Result{TimedOut: true}, nil
	}

	snap := r.policy.Current()
	r.fusion = NewRRFFusion(snap.RRFConstant)

	kFTS := req.K * 3
	if kFTS > 200 {
		kFTS = 200
	}

	lexicalHits, err := r.lexical.FTSSearch(ctx, req.Query, kFTS, req.Repo, req.PathGlob)
	if err != nil {
		return nil, err
	}
	lexical := make([]LaneHit, len(lexicalHits))
	for i, h := range lexicalHits {
		lexical[i] = LaneHit{ChunkID: h.ChunkID, Score: h.Score}
	}

	if req.Lang != "" {
		lexical, err = r.filterByLanguage(ctx, lexical, req.Lang)
		if err != nil {
			return nil, err
		}
	}

	var vectorHits []LaneHit
	vectorDegraded := true
	if r.vector != nil && r.embedder != nil {
		vecs, err := r.embedder.Embed(ctx, []string{req.Query}, req.Model)
		if err == nil && len(vecs) == 1 {
			hits, err := r.vector.Search(ctx, vecs[0], kFTS)
			if err == nil {
				vectorHits = hits
				vectorDegraded = false
			}
		}
	}

	fused := r.fusion.Fuse(lexical, vectorHits, LaneWeights{Lexical: snap.BM25Weight, Vector: snap.VectorWeight})

	result := &Result{VectorDegraded: vectorDegraded}

	rerankN := req.K * 5
	if rerankN > 100 {
		rerankN = 100
	}
	topCandidates := fused
	if rerankN < len(topCandidates) {
		topCandidates = topCandidates[:rerankN]
	}

	order := topCandidates
	if req.RCtx.Expired() {
		result.TimedOut = true
		result.RerankDegraded = true
	} else if r.reranker != nil && snap.RerankEnabled {
		order, result.RerankCacheHit, result.RerankDegraded, err = r.rerank(ctx, req, topCandidates)
		if err != nil {
			return nil, err
		}
	} else {
		result.RerankDegraded = true
	}

	limit := req.K
	if limit > len(order) {
		limit = len(order)
	}
	items := make([]Item, 0, limit)
	for _, c := range order[:limit] {
		items = append(items, Item{
			ChunkID: c.ChunkID,
			Score:   c.RRFScore,
			Lanes: LanePresence{
				Lexical:  c.LexicalRank > 0,
				Vector:   c.VectorRank > 0,
				Reranked: !result.RerankDegraded,
			},
		})
	}
	result.Items = items
	return result, nil
}

// rerank applies the cache-then-provider rerank protocol and returns
// candidates reordered by rerank score, falling back to fused order on
// any cache miss that the provider also fails to resolve.
func (r *Retriever) rerank(ctx context.Context, req Request, candidates []*FusedResult) ([]*FusedResult, bool, bool, error) {
	key := CacheKeyForCandidates("default", req.Model, req.Query, candidates)

	if cached, err := r.cache.RerankCacheGet(ctx, key); err == nil && cached != nil {
		return applyOrder(candidates, cached.Order), true, false, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := r.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, false, false, err
	}
	content := make([]string, len(ids))
	byID := make(map[string]string, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c.Content
	}
	for i, id := range ids {
		content[i] = byID[id]
	}

	ranked, ok, err := RerankWithRetry(ctx, r.reranker, req.Query, content, 0)
	if err != nil {
		return nil, false, false, err
	}
	if !ok {
		return candidates, false, true, nil
	}

	order := make([]store.RerankedItem, len(ranked))
	for i, rr := range ranked {
		order[i] = store.RerankedItem{Index: rr.Index, Score: rr.Score}
	}
	_ = r.cache.RerankCachePut(ctx, &store.RerankCacheEntry{Key: key, Order: order})

	return applyOrder(candidates, order), false, false, nil
}

// applyOrder reorders candidates according to a rerank Order (indexes
// into candidates, sorted by score descending by construction).
func applyOrder(candidates []*FusedResult, order []store.RerankedItem) []*FusedResult {
	reordered := make([]*FusedResult, 0, len(order))
	sorted := append([]store.RerankedItem(nil), order...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	for _, o := range sorted {
		if o.Index >= 0 && o.Index < len(candidates) {
			reordered = append(reordered, candidates[o.Index])
		}
	}
	return reordered
}

func (r *Retriever) filterByLanguage(ctx context.Context, hits []LaneHit, lang string) ([]LaneHit, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := r.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	langByID := make(map[string]string, len(chunks))
	for _, c := range chunks {
		langByID[c.ID] = c.Language
	}
	filtered := make([]LaneHit, 0, len(hits))
	for _, h := range hits {
		if langByID[h.ChunkID] == lang {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}
