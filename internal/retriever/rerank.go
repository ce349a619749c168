package retriever

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	ctxerrors "github.com/Aman-CERP/ctxengine/internal/errors"
	"github.com/Aman-CERP/ctxengine/internal/store"
)

// rerankRetryConfig scales teacher's default retry shape down to
// latencies appropriate for a rerank provider call rather than a
// generic long-lived operation: exponential backoff capped at 3 tries
// in all (the first call plus 2 retries), a tighter ceiling so a
// failing provider doesn't stall a request for tens of seconds.
func rerankRetryConfig() ctxerrors.RetryConfig {
	cfg := ctxerrors.DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = 400 * time.Millisecond
	return cfg
}

// RerankResult is one scored document from a Reranker call.
type RerankResult struct {
	Index int // position in the documents slice passed to Rerank
	Score float64
}

// Reranker scores and reorders candidate documents by relevance to a
// query using a cross-encoder or remote provider.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
	Available(ctx context.Context) bool
	Close() error
}

// NoOpReranker returns documents in their original (fused) order with
// strictly decreasing scores. It is the default when reranking is
// disabled or no provider is configured.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i := range documents {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (NoOpReranker) Available(context.Context) bool { return true }
func (NoOpReranker) Close() error                   { return nil }

var _ Reranker = NoOpReranker{}

// is4xxTerminal reports whether err represents a non-retryable client
// error. Providers implementing Reranker are expected to return an
// *ctxerrors.EngineError with ErrCodeProviderBadRequest for 4xx
// responses; anything else is treated as retryable per spec.md Â§4.3.
func is4xxTerminal(err error) bool {
	return ctxerrors.GetCode(err) == ctxerrors.ErrCodeProviderBadRequest
}

// RerankWithRetry calls reranker.Rerank, retrying 5xx/timeout failures
// with exponential backoff (teacher's internal/errors.Retry, max 3
// tries) and treating a 4xx as terminal: fall back to the fused order
// rather than erroring the whole request.
func RerankWithRetry(ctx context.Context, reranker Reranker, query string, documents []string, topK int) ([]RerankResult, bool, error) {
	if len(documents) == 0 {
		return nil, false, nil
	}

	var result []RerankResult
	cfg := rerankRetryConfig()
	err := ctxerrors.Retry(ctx, cfg, func() error {
		r, err := reranker.Rerank(ctx, query, documents, topK)
		if err != nil {
			if is4xxTerminal(err) {
				// Stop retrying; caller falls back to fused order.
				return nil
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, false, nil // degrade to fused order, per spec.md Â§4.3
	}
	if result == nil {
		return nil, false, nil
	}
	return result, true, nil
}

// RerankCacheKey6Decimal formats a fused score to 6-decimal truncation
// (not rounding) for inclusion in a rerank cache key, per spec.md
// Â§4.3's "Score formatting for cache-key hashing uses fixed 6-decimal
// truncation of floats."
func RerankCacheKey6Decimal(score float64) string {
	truncated := float64(int64(score*1_000_000)) / 1_000_000
	return strconv.FormatFloat(truncated, 'f', 6, 64)
}

// CacheKeyForCandidates builds the rerank cache key for a query over a
// candidate set, using store.RerankCacheKey's id-sort-then-hash shape
// plus 6-decimal-truncated scores so cache keys are stable across runs
// for identical fused input.
func CacheKeyForCandidates(provider, model, query string, candidates []*FusedResult) string {
	ids := make([]string, len(candidates))
	parts := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
		parts[i] = c.ChunkID + ":" + RerankCacheKey6Decimal(c.RRFScore)
	}
	sort.Strings(parts)
	return store.RerankCacheKey(provider, model, query, ids) + "|" + strings.Join(parts, ",")
}
