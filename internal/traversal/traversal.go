// Package traversal expands a seed set of spans into a budget-bounded
// neighborhood by walking the typed edge graph breadth-first, charging
// every newly discovered edge against a token budget as it is found.
package traversal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/ctxengine/internal/graph"
	"github.com/Aman-CERP/ctxengine/internal/reqctx"
	"github.com/Aman-CERP/ctxengine/internal/store"
	"github.com/Aman-CERP/ctxengine/internal/tokenizer"
)

// Strategy selects how a level's new edges are ordered before they are
// charged against the budget.
type Strategy string

const (
	// StrategyBreadth charges edges in the node/adjacency order
	// Adjacency.Neighbors already returns them in.
	StrategyBreadth Strategy = "breadth"
	// StrategyQualityFirst re-sorts a level's new edges by confidence
	// descending before charging, so the highest-quality edges survive
	// truncation.
	StrategyQualityFirst Strategy = "quality_first"
)

// MaxDepthCap is the hard ceiling on traversal depth.
const MaxDepthCap = 2

// Request describes one traversal call.
type Request struct {
	Query       string
	SeedSpanIDs []string
	MaxDepth    int
	TokenBudget int
	EdgeKinds   []store.EdgeKind
	Strategy    Strategy
	Model       string

	// RCtx is the pipeline-wide request state shared with the Retriever
	// and Assembler stages; the zero value never expires.
	RCtx reqctx.RequestCtx
}

// Result is the outcome of a traversal: the visited node set, the
// edges charged against the budget, and accounting for why it stopped.
type Result struct {
	VisitedSpanIDs []string
	Edges          []*store.Edge
	Truncated      bool
	DepthReached   int
	TokensUsed     int
	CacheHit       bool
	TimedOut       bool // req.RCtx's deadline expired before the frontier was exhausted
}

// clone returns a copy of r so cached entries are never mutated by a
// caller setting CacheHit on the value it received.
func (r *Result) clone() *Result {
	c := *r
	c.VisitedSpanIDs = append([]string(nil), r.VisitedSpanIDs...)
	c.Edges = append([]*store.Edge(nil), r.Edges...)
	return &c
}

// Traversal runs budget-bounded BFS expansion over an Adjacency,
// caching results keyed by their full request shape.
type Traversal struct {
	adj      *graph.Adjacency
	tok      tokenizer.Tokenizer
	cache    *lru.LRU[string, *Result]
	capacity int

	hits   atomic.Int64
	misses atomic.Int64

	mu     sync.Mutex
	bySpan map[string]map[string]struct{} // spanID -> cache keys whose visited set includes it
}

// New returns a Traversal with a TTL+LRU-bounded result cache.
func New(adj *graph.Adjacency, tok tokenizer.Tokenizer, ttl time.Duration, size int) *Traversal {
	return &Traversal{
		adj:      adj,
		tok:      tok,
		cache:    lru.NewLRU[string, *Result](size, nil, ttl),
		capacity: size,
		bySpan:   make(map[string]map[string]struct{}),
	}
}

// CacheStats reports the traversal cache's current occupancy and its
// lifetime hit rate, so a caller can decide whether the cache is near
// its size boundary or performing poorly enough to be worth surfacing.
// total is the number of Run calls that have resolved a cache lookup
// (hit or miss) since this Traversal was constructed.
func (t *Traversal) CacheStats() (size, capacity int, hitRate float64, total int) {
	hits := t.hits.Load()
	misses := t.misses.Load()
	total = int(hits + misses)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return t.cache.Len(), t.capacity, hitRate, total
}

// InvalidateSpan evicts every cached result whose visited set includes
// spanID. Called whenever an edge upsert touches spanID, since that
// upsert may change the adjacency a cached traversal observed.
func (t *Traversal) InvalidateSpan(spanID string) {
	t.mu.Lock()
	keys := t.bySpan[spanID]
	delete(t.bySpan, spanID)
	t.mu.Unlock()

	for key := range keys {
		t.cache.Remove(key)
	}
}

// Run executes a traversal, returning a cached clone when an identical
// request has already been computed and not yet invalidated or expired.
func (t *Traversal) Run(ctx context.Context, req Request) (*Result, error) {
	maxDepth := req.MaxDepth
	if maxDepth > MaxDepthCap {
		maxDepth = MaxDepthCap
	}

	key := cacheKey(req, maxDepth)
	if cached, ok := t.cache.Get(key); ok {
		t.hits.Add(1)
		hit := cached.clone()
		hit.CacheHit = true
		return hit, nil
	}
	t.misses.Add(1)

	result, err := t.run(ctx, req, maxDepth)
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		// A deadline-cut result reflects this request's budget, not a
		// stable property of the seed set; caching it would let a later,
		// unhurried request with the same seeds see a falsely truncated
		// neighborhood.
		return result.clone(), nil
	}

	t.cache.Add(key, result)
	t.mu.Lock()
	for _, id := range result.VisitedSpanIDs {
		if t.bySpan[id] == nil {
			t.bySpan[id] = make(map[string]struct{})
		}
		t.bySpan[id][key] = struct{}{}
	}
	t.mu.Unlock()

	return result.clone(), nil
}

func (t *Traversal) run(ctx context.Context, req Request, maxDepth int) (*Result, error) {
	visited := make(map[string]struct{}, len(req.SeedSpanIDs))
	visitedOrder := make([]string, 0, len(req.SeedSpanIDs))
	for _, id := range req.SeedSpanIDs {
		if _, ok := visited[id]; !ok {
			visited[id] = struct{}{}
			visitedOrder = append(visitedOrder, id)
		}
	}

	tokensUsed, err := t.tok.CountJSON(req.Query, req.Model)
	if err != nil {
		return nil, err
	}

	seenTriples := make(map[string]struct{})
	var charged []*store.Edge
	truncated := false
	depthReached := 0

	frontier := append([]string(nil), visitedOrder...)
	timedOut := false

	for depth := 0; depth < maxDepth; depth++ {
		if truncated || len(frontier) == 0 {
			break
		}
		if req.RCtx.Expired() {
			timedOut = true
			break
		}

		// Fan out each frontier node's edge fetch concurrently, then merge
		// in frontier order so dedup against seenTriples (and, below,
		// quality-first sorting) stays deterministic regardless of which
		// goroutine finishes first.
		perNode := make([][]graph.Neighbor, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		for i, node := range frontier {
			i, node := i, node
			g.Go(func() error {
				neighbors, err := t.adj.Neighbors(gctx, node, req.EdgeKinds)
				if err != nil {
					return err
				}
				perNode[i] = neighbors
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var level []graph.Neighbor
		for _, neighbors := range perNode {
			for _, nb := range neighbors {
				triple := tripleKey(nb.Edge)
				if _, ok := seenTriples[triple]; ok {
					continue
				}
				seenTriples[triple] = struct{}{}
				level = append(level, nb)
			}
		}

		if req.Strategy == StrategyQualityFirst {
			sort.SliceStable(level, func(i, j int) bool {
				return level[i].Edge.Confidence > level[j].Edge.Confidence
			})
		}

		depthReached = depth + 1
		var nextFrontier []string

		for _, nb := range level {
			cost, err := t.tok.CountJSON(nb.Edge, req.Model)
			if err != nil {
				return nil, err
			}
			if tokensUsed+cost > req.TokenBudget {
				truncated = true
				break
			}
			tokensUsed += cost
			charged = append(charged, nb.Edge)

			if _, ok := visited[nb.OtherSpanID]; !ok {
				visited[nb.OtherSpanID] = struct{}{}
				visitedOrder = append(visitedOrder, nb.OtherSpanID)
				nextFrontier = append(nextFrontier, nb.OtherSpanID)
			}
		}

		frontier = nextFrontier
	}

	return &Result{
		VisitedSpanIDs: visitedOrder,
		Edges:          charged,
		Truncated:      truncated,
		DepthReached:   depthReached,
		TokensUsed:     tokensUsed,
		TimedOut:       timedOut,
	}, nil
}

func tripleKey(e *store.Edge) string {
	return e.SourceSpanID + "\x00" + e.TargetSpanID + "\x00" + string(e.Kind) + "\x00" + e.TargetPath
}

func cacheKey(req Request, maxDepth int) string {
	seeds := append([]string(nil), req.SeedSpanIDs...)
	sort.Strings(seeds)

	kinds := make([]string, len(req.EdgeKinds))
	for i, k := range req.EdgeKinds {
		kinds[i] = string(k)
	}
	sort.Strings(kinds)

	fingerprint := sha256.Sum256([]byte(req.Query))

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s",
		strings.Join(seeds, ","), maxDepth, strings.Join(kinds, ","), req.Strategy, hex.EncodeToString(fingerprint[:]))
	return hex.EncodeToString(h.Sum(nil))
}
