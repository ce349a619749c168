// Package provider holds the pluggable external collaborators the
// retrieval pipeline depends on but never imports directly: embedding
// and reranking backends. internal/retriever declares the narrow
// Embedder/Reranker interfaces it actually calls; this package supplies
// concrete implementations (Ollama HTTP, a hash-based static fallback,
// an LRU-cached wrapper, a cross-encoder rerank server) and a factory
// that picks among them from config.EmbeddingsConfig.
package provider

import (
	"context"
	"math"
)

// Embedding size/timeout defaults. 768 matches EmbeddingGemma and the
// dimension-compatible static fallback; 256 is the lightweight static
// default when no prior index needs to stay dimension-compatible.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32

	DefaultWarmTimeout = 120 // seconds, model already resident
	DefaultColdTimeout = 180 // seconds, first call may need to load the model

	DefaultMaxRetries = 3

	DefaultDimensions  = 768
	StaticDimensions   = 256
	Static768Dimensions = 768
)

// Embedder is the full surface a concrete backend implements: single
// and batch embedding, identity (for the rerank cache key and index
// dimension checks), availability, and lifecycle. It is richer than
// retriever.Embedder (which only needs batch-by-model) because the
// cached wrapper and the indexing pipeline need the rest; Adapter
// narrows an Embedder down to what retriever.Embedder expects.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Available(ctx context.Context) bool
	Close() error
	// SetBatchIndex and SetFinalBatch let a caller doing a long bulk
	// index run tell the provider how far through the batch it is, so
	// an HTTP backend can widen its timeout for later, slower calls
	// instead of failing a request that only needed more time.
	SetBatchIndex(idx int)
	SetFinalBatch(isFinal bool)
}

// normalizeVector scales v to unit length, so cosine similarity
// reduces to a dot product in the vector index.
func normalizeVector(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
