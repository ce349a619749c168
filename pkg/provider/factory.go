package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/ctxengine/internal/config"
)

// NewEmbedder builds the Embedder config.EmbeddingsConfig selects.
// An empty Provider means auto-detect: try Ollama, and fall back to
// the static hash embedder rather than failing the whole index run
// when no local model server is reachable. An explicit provider is
// not allowed to silently fall back — "ollama" that can't connect is
// an error, so a user who asked for real vectors finds out instead of
// unknowingly indexing with degraded static ones.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var embedder Embedder
	var err error

	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		embedder, err = newOllama(ctx, cfg)
	case "static":
		embedder = NewStaticEmbedder(cfg.Dimensions)
	case "":
		embedder, err = newOllama(ctx, cfg)
		if err != nil {
			embedder, err = NewStaticEmbedder768(), nil
		}
	default:
		return nil, fmt.Errorf("provider: unknown embeddings provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewCachedEmbedder(embedder, DefaultEmbeddingCacheSize), nil
}

func newOllama(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	oc := DefaultOllamaConfig()
	if cfg.Model != "" {
		oc.Model = cfg.Model
	}
	if cfg.Dimensions != 0 {
		oc.Dimensions = cfg.Dimensions
	}
	if cfg.BatchSize != 0 {
		oc.BatchSize = cfg.BatchSize
	}
	if cfg.OllamaHost != "" {
		oc.Host = cfg.OllamaHost
	}
	if cfg.InterBatchDelay != "" {
		if d, err := time.ParseDuration(cfg.InterBatchDelay); err == nil {
			oc.InterBatchDelay = d
		}
	}
	if cfg.TimeoutProgression != 0 {
		oc.TimeoutProgression = cfg.TimeoutProgression
	}
	if cfg.RetryTimeoutMultiplier != 0 {
		oc.RetryTimeoutMultiplier = cfg.RetryTimeoutMultiplier
	}

	embedder, err := NewOllamaEmbedder(ctx, oc)
	if err != nil {
		return nil, fmt.Errorf("provider: ollama unavailable: %w", err)
	}
	return embedder, nil
}

// Info describes the resolved embedder for status/diagnostic output.
type Info struct {
	Provider   string
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo reports the concrete provider behind embedder, unwrapping a
// CachedEmbedder to inspect the type it wraps.
func GetInfo(ctx context.Context, embedder Embedder) Info {
	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	info := Info{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}
	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = "ollama"
	default:
		info.Provider = "static"
	}
	return info
}
