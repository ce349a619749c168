package provider

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	dims       int
	model      string
	vector     []float32
}

func newMockEmbedder(dims int) *mockEmbedder {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(i) * 0.001
	}
	return &mockEmbedder{dims: dims, model: "mock-model", vector: vec}
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.vector, nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vector
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int                    { return m.dims }
func (m *mockEmbedder) ModelName() string                  { return m.model }
func (m *mockEmbedder) Available(context.Context) bool     { return true }
func (m *mockEmbedder) Close() error                       { return nil }
func (m *mockEmbedder) SetBatchIndex(int)                  {}
func (m *mockEmbedder) SetFinalBatch(bool)                 {}

func TestCachedEmbedder_Embed_CachesRepeatedQuery(t *testing.T) {
	// Given: a cached embedder wrapping a call-counting mock
	inner := newMockEmbedder(8)
	c := NewCachedEmbedder(inner, 0)

	// When: embedding the same text twice
	_, err := c.Embed(context.Background(), "select * from users")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "select * from users")
	require.NoError(t, err)

	// Then: the inner embedder was only called once
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_Embed_DifferentTextMisses(t *testing.T) {
	inner := newMockEmbedder(8)
	c := NewCachedEmbedder(inner, 0)

	_, err := c.Embed(context.Background(), "query one")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "query two")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_EmbedBatch_OnlyFetchesUncached(t *testing.T) {
	inner := newMockEmbedder(8)
	c := NewCachedEmbedder(inner, 0)

	_, err := c.Embed(context.Background(), "cached")
	require.NoError(t, err)

	results, err := c.EmbedBatch(context.Background(), []string{"cached", "fresh"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// "cached" came from the Embed cache, "fresh" required one batch call.
	assert.Equal(t, int64(1), inner.batchCalls.Load())
}

func TestCachedEmbedder_PassesThroughIdentityAndLifecycle(t *testing.T) {
	inner := newMockEmbedder(8)
	c := NewCachedEmbedder(inner, 0)

	assert.Equal(t, inner.Dimensions(), c.Dimensions())
	assert.Equal(t, inner.ModelName(), c.ModelName())
	assert.True(t, c.Available(context.Background()))
	assert.Same(t, inner, c.Inner())
	require.NoError(t, c.Close())
}
