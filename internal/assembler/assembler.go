// Package assembler implements C6: progressive context assembly. It
// takes a query, runs retrieval and graph traversal to gather
// candidate spans, scores and greedily packs them into a token budget
// at the cheapest level that answers the query, and emits the
// resulting bundle.Bundle with full evidence and stopping-reason
// accounting.
package assembler

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/Aman-CERP/ctxengine/internal/bundle"
	"github.com/Aman-CERP/ctxengine/internal/policy"
	"github.com/Aman-CERP/ctxengine/internal/reqctx"
	"github.com/Aman-CERP/ctxengine/internal/retriever"
	"github.com/Aman-CERP/ctxengine/internal/stopreasons"
	"github.com/Aman-CERP/ctxengine/internal/store"
	"github.com/Aman-CERP/ctxengine/internal/tokenizer"
	"github.com/Aman-CERP/ctxengine/internal/traversal"
)

// allEdgeKinds is the default edge set traversal expands over when a
// request does not narrow it.
var allEdgeKinds = []store.EdgeKind{
	store.EdgeKindCall, store.EdgeKindImport, store.EdgeKindRead, store.EdgeKindWrite,
	store.EdgeKindTestOf, store.EdgeKindRoutes, store.EdgeKindConfigKey,
}

// SpanStore is the subset of store.Store the Assembler needs to
// resolve span metadata for candidates.
type SpanStore interface {
	GetSpans(ctx context.Context, ids []string) ([]*store.Span, error)
}

// ChunkStore is the subset of store.Store the Assembler needs to fetch
// candidate body text for Implementation-level packing.
type ChunkStore interface {
	GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error)
	GetChunksBySpanIDs(ctx context.Context, spanIDs []string) (map[string]*store.Chunk, error)
}

// Retriever is the subset of retriever.Retriever the Assembler depends
// on, narrowed so tests can substitute a fake.
type Retriever interface {
	Retrieve(ctx context.Context, req retriever.Request) (*retriever.Result, error)
}

// Traversal is the subset of traversal.Traversal the Assembler depends on.
type Traversal interface {
	Run(ctx context.Context, req traversal.Request) (*traversal.Result, error)

	// CacheStats reports the traversal result cache's current size,
	// capacity, lifetime hit rate, and sample count, so the Assembler can
	// surface CACHE_BOUNDARY/CACHE_PERFORMANCE stopping reasons.
	CacheStats() (size, capacity int, hitRate float64, total int)
}

const (
	// cacheBoundaryRatio is how full the traversal cache must be, as a
	// fraction of capacity, before a CACHE_BOUNDARY reason is recorded.
	cacheBoundaryRatio = 0.9

	// cachePerformanceMinSamples is the minimum number of cache lookups
	// before a low hit rate is considered meaningful rather than noise
	// from a cold cache.
	cachePerformanceMinSamples = 20
	// cachePerformanceLowHitRate is the lifetime hit rate below which a
	// CACHE_PERFORMANCE reason is recorded.
	cachePerformanceLowHitRate = 0.1
)

// Request describes one bundle assembly call.
type Request struct {
	Query       string
	TokenBudget int
	Model       string
	Repo        string
	PathGlob    string
	Lang        string

	// Deadline bounds the whole retrieve->rerank->traverse->pack
	// pipeline; zero means no deadline beyond ctx's own.
	Deadline time.Duration
}

// Candidate is one span under consideration for packing, with
// everything needed to render it at any level and to score it.
type Candidate struct {
	Span                   *store.Span
	Chunk                  *store.Chunk
	TestSpan               *store.Span
	TestChunk              *store.Chunk
	FileChunk              *store.Chunk
	IsSeed                 bool
	RetrieverScore         float64
	BestIncomingConfidence float64
	Lanes                  retriever.LanePresence
	EdgeType               store.EdgeKind
	IncomingEdges          []*store.Edge
	Rank                   int
	Cached                 bool
	relevance              float64
}

// packedItem is a candidate that survived packing, at the level it
// was ultimately included at.
type packedItem struct {
	candidate *Candidate
	level     Level
	content   string
	spans     []bundle.Span
	why       bundle.Why
}

// Assembler ties the Retriever and Traversal together with greedy,
// degrade-before-drop token-budget packing.
type Assembler struct {
	retriever Retriever
	traversal Traversal
	tok       tokenizer.Tokenizer
	spans     SpanStore
	chunks    ChunkStore
	policy    *policy.Store
}

// New returns an Assembler.
func New(r Retriever, t Traversal, tok tokenizer.Tokenizer, spans SpanStore, chunks ChunkStore, p *policy.Store) *Assembler {
	return &Assembler{retriever: r, traversal: t, tok: tok, spans: spans, chunks: chunks, policy: p}
}

// Assemble runs the full retrieve -> expand -> score -> pack pipeline
// and returns the resulting bundle.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*bundle.Bundle, error) {
	start := time.Now()
	snap := a.policy.Current()
	var stops []stopreasons.StopReason

	ctx, rc := reqctx.New(ctx, req.Deadline, snap)
	defer rc.Cancel()

	rreq := retriever.Request{
		Query: req.Query, K: snap.MaxCandidates, Repo: req.Repo, PathGlob: req.PathGlob,
		Lang: req.Lang, Model: req.Model, RCtx: rc,
	}
	rresult, err := a.retriever.Retrieve(ctx, rreq)
	if err != nil {
		stops = append(stops, stopreasons.New(stopreasons.SearchFailure, "lexical/vector retrieval failed: "+err.Error()))
		return a.emptyBundle(req, stops, start), nil
	}
	if rresult.TimedOut {
		stops = append(stops, stopreasons.New(stopreasons.Timeout, "deadline exceeded before retrieval completed"))
		return a.emptyBundle(req, stops, start), nil
	}
	if rresult.VectorDegraded {
		stops = append(stops, stopreasons.New(stopreasons.DegradationTriggered, "vector lane unavailable; lexical-only candidates"))
	}
	if rresult.RerankDegraded {
		stops = append(stops, stopreasons.New(stopreasons.DegradationTriggered, "rerank unavailable; fused order used"))
	}

	if len(rresult.Items) == 0 {
		return a.emptyBundle(req, stops, start), nil
	}

	chunkIDs := make([]string, len(rresult.Items))
	for i, it := range rresult.Items {
		chunkIDs[i] = it.ChunkID
	}
	seedChunks, err := a.chunks.GetChunks(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}
	chunkByID := make(map[string]*store.Chunk, len(seedChunks))
	seedSpanIDs := make([]string, 0, len(seedChunks))
	seenSpan := make(map[string]bool)
	for _, c := range seedChunks {
		chunkByID[c.ID] = c
		if !seenSpan[c.SpanID] {
			seenSpan[c.SpanID] = true
			seedSpanIDs = append(seedSpanIDs, c.SpanID)
		}
	}

	spanByID := make(map[string]*store.Span)
	if spans, err := a.spans.GetSpans(ctx, seedSpanIDs); err == nil {
		for _, sp := range spans {
			spanByID[sp.ID] = sp
		}
	}

	candidates := make(map[string]*Candidate, len(seedSpanIDs))
	for rank, it := range rresult.Items {
		c, ok := chunkByID[it.ChunkID]
		if !ok {
			continue
		}
		sp, ok := spanByID[c.SpanID]
		if !ok {
			continue
		}
		candidates[sp.ID] = &Candidate{
			Span: sp, Chunk: c, IsSeed: true, RetrieverScore: it.Score,
			Lanes: it.Lanes, Rank: rank,
		}
	}

	// Traversal expansion under its own sub-budget, charged against the
	// overall token budget.
	subBudget := int(snap.TraversalBudgetFraction * float64(req.TokenBudget))
	if subBudget > snap.TraversalBudgetCeiling {
		subBudget = snap.TraversalBudgetCeiling
	}
	if subBudget > req.TokenBudget {
		subBudget = req.TokenBudget
	}

	treq := traversal.Request{
		Query: req.Query, SeedSpanIDs: seedSpanIDs, MaxDepth: traversal.MaxDepthCap,
		TokenBudget: subBudget, EdgeKinds: allEdgeKinds, Strategy: traversal.StrategyQualityFirst,
		Model: req.Model, RCtx: rc,
	}
	traversalTokens := 0
	var allEdges []*store.Edge
	tresult, err := a.traversal.Run(ctx, treq)
	if err != nil {
		stops = append(stops, stopreasons.New(stopreasons.SearchFailure, "graph traversal failed: "+err.Error()))
	} else {
		traversalTokens = tresult.TokensUsed
		allEdges = tresult.Edges
		if tresult.Truncated {
			stops = append(stops, stopreasons.New(stopreasons.GraphTraversalLimit, "traversal truncated before exhausting the frontier").
				WithDetail("depth_reached", strconv.Itoa(tresult.DepthReached)))
		}
		if tresult.TimedOut {
			stops = append(stops, stopreasons.New(stopreasons.Timeout, "deadline exceeded during graph traversal").
				WithDetail("depth_reached", strconv.Itoa(tresult.DepthReached)))
		}

		newSpanIDs := make([]string, 0)
		for _, id := range tresult.VisitedSpanIDs {
			if _, ok := candidates[id]; !ok {
				newSpanIDs = append(newSpanIDs, id)
			}
		}
		if len(newSpanIDs) > 0 {
			if spans, err := a.spans.GetSpans(ctx, newSpanIDs); err == nil {
				for _, sp := range spans {
					spanByID[sp.ID] = sp
					candidates[sp.ID] = &Candidate{Span: sp, IsSeed: false}
				}
			}
			if chunkMap, err := a.chunks.GetChunksBySpanIDs(ctx, newSpanIDs); err == nil {
				for id, c := range chunkMap {
					if cand, ok := candidates[id]; ok {
						cand.Chunk = c
					}
				}
			}
		}

		applyEdgeMetadata(candidates, allEdges, snap.IncludeTests, spanByID)
	}

	if size, capacity, hitRate, total := a.traversal.CacheStats(); capacity > 0 {
		if float64(size) >= cacheBoundaryRatio*float64(capacity) {
			stops = append(stops, stopreasons.New(stopreasons.CacheBoundary, "traversal cache near its size limit").
				WithDetail("size", strconv.Itoa(size)).
				WithDetail("capacity", strconv.Itoa(capacity)))
		}
		if total >= cachePerformanceMinSamples && hitRate < cachePerformanceLowHitRate {
			stops = append(stops, stopreasons.New(stopreasons.CachePerformance, "traversal cache hit rate is low").
				WithDetail("hit_rate", strconv.FormatFloat(hitRate, 'f', 3, 64)))
		}
	}

	// Score: relevance = fused retriever score + lambda * best incoming confidence.
	list := make([]*Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.relevance = c.RetrieverScore + snap.Lambda*c.BestIncomingConfidence
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].relevance != list[j].relevance {
			return list[i].relevance > list[j].relevance
		}
		return list[i].Span.ID < list[j].Span.ID
	})

	// Quality threshold applies only to candidates the retriever actually
	// scored; graph-expansion candidates have no retrieval score of their
	// own and are judged by edge confidence, not this cutoff.
	if snap.QualityThreshold > 0 {
		kept := list[:0]
		dropped := 0
		for _, c := range list {
			if c.IsSeed && c.relevance < snap.QualityThreshold {
				dropped++
				continue
			}
			kept = append(kept, c)
		}
		list = kept
		if dropped > 0 {
			stops = append(stops, stopreasons.New(stopreasons.QualityThreshold, "candidate score below threshold").
				WithDetail("dropped", strconv.Itoa(dropped)).
				WithDetail("threshold", strconv.FormatFloat(snap.QualityThreshold, 'f', 3, 64)))
		}
	}

	if snap.MaxCandidates > 0 && len(list) > snap.MaxCandidates {
		stops = append(stops, stopreasons.New(stopreasons.LimitReached, "candidate set truncated to max_candidates").
			WithDetail("max_candidates", strconv.Itoa(snap.MaxCandidates)))
		list = list[:snap.MaxCandidates]
	}

	class := ClassifyQuery(req.Query)
	remaining := req.TokenBudget - traversalTokens
	if remaining < 0 {
		remaining = 0
	}

	var packed []*packedItem
	packTokens := 0
	haltedOnBudget := false
	reasonStr := ""
	satisfiedFlag := false

	timedOutPacking := false
	for _, c := range list {
		if stopreasons.HaltsAssembly(stops) {
			break
		}
		if rc.Expired() {
			timedOutPacking = true
			break
		}
		item, cost, ok := packOne(a.tok, c, remaining, req.Model, snap.IncludeTests)
		if !ok {
			stops = append(stops, stopreasons.New(stopreasons.BudgetExhausted, "remaining budget insufficient even at capsule level"))
			haltedOnBudget = true
			break
		}
		if item.level < startLevel(c.IsSeed, c.Span.Kind) {
			stops = append(stops, stopreasons.New(stopreasons.DegradationTriggered, "item degraded below its initial level to fit the budget").
				WithDetail("file", c.Span.Path))
		}
		remaining -= cost
		packTokens += cost
		packed = append(packed, item)

		if snap.EarlyStopEnabled {
			if ok, reason := satisfied(class, packed, allEdges); ok {
				satisfiedFlag = true
				reasonStr = "early_stop: " + reason
				break
			}
		}
	}

	if timedOutPacking {
		stops = append(stops, stopreasons.New(stopreasons.Timeout, "deadline exceeded while packing candidates"))
	}

	totalTokens := packTokens + traversalTokens
	if snap.BudgetWarningRatio > 0 && req.TokenBudget > 0 && !haltedOnBudget {
		if float64(totalTokens) >= snap.BudgetWarningRatio*float64(req.TokenBudget) {
			stops = append(stops, stopreasons.New(stopreasons.BudgetWarning, "token budget nearly exhausted").
				WithDetail("used", strconv.Itoa(totalTokens)).
				WithDetail("budget", strconv.Itoa(req.TokenBudget)))
		}
	}

	if reasonStr == "" {
		switch {
		case haltedOnBudget:
			reasonStr = "budget_exhausted"
		case timedOutPacking:
			reasonStr = "timeout"
		case len(packed) == 0:
			reasonStr = "no_candidates_fit_budget"
		default:
			reasonStr = "complete"
			satisfiedFlag = len(packed) > 0
		}
	}

	b := buildBundle(req, packed, stops, totalTokens, satisfiedFlag, reasonStr, start)
	return &b, nil
}

func (a *Assembler) emptyBundle(req Request, stops []stopreasons.StopReason, start time.Time) *bundle.Bundle {
	b := buildBundle(req, nil, stops, 0, false, "no_candidates_found", start)
	return &b
}

// applyEdgeMetadata walks traversal edges once, recording each
// candidate's best incoming confidence and, for the typed edges the
// early-stop heuristics and evidence care about, its test/edge
// classification.
func applyEdgeMetadata(candidates map[string]*Candidate, edges []*store.Edge, includeTests bool, spanByID map[string]*store.Span) {
	for _, e := range edges {
		if target, ok := candidates[e.TargetSpanID]; ok {
			if e.Confidence > target.BestIncomingConfidence {
				target.BestIncomingConfidence = e.Confidence
			}
			target.IncomingEdges = append(target.IncomingEdges, e)
			switch e.Kind {
			case store.EdgeKindConfigKey, store.EdgeKindRoutes:
				target.EdgeType = e.Kind
			}
		}
		if e.Kind == store.EdgeKindTestOf {
			if target, ok := candidates[e.TargetSpanID]; ok && includeTests {
				if testSpan, ok := spanByID[e.SourceSpanID]; ok {
					target.TestSpan = testSpan
				}
			}
		}
	}
}
