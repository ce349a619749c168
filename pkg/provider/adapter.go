package provider

import (
	"context"
	"fmt"
)

// Adapter exposes an Embedder as retriever.Embedder: a single
// batch-by-model call rather than the richer lifecycle-aware
// interface concrete backends implement. model is checked against the
// wrapped Embedder's own ModelName so a caller can't silently query
// against a different model's vector space.
type Adapter struct {
	Embedder Embedder
}

// Embed satisfies retriever.Embedder.
func (a Adapter) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if model != "" && model != a.Embedder.ModelName() {
		return nil, fmt.Errorf("provider: embed requested model %q, configured embedder serves %q", model, a.Embedder.ModelName())
	}
	return a.Embedder.EmbedBatch(ctx, texts)
}
