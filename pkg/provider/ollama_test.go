package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOllamaServer(t *testing.T, model string, dims int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaTagsResponse{
			Models: []ollamaModelInfo{{Name: model}},
		})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var n int
		switch v := req.Input.(type) {
		case string:
			n = 1
		case []any:
			n = len(v)
		}
		embeddings := make([][]float64, n)
		for i := range embeddings {
			vec := make([]float64, dims)
			for j := range vec {
				vec[j] = 0.01 * float64(j+1)
			}
			embeddings[i] = vec
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings})
	})
	return httptest.NewServer(mux)
}

func TestOllamaEmbedder_New_DetectsModelAndDimensions(t *testing.T) {
	// Given: a fake Ollama server advertising the default model
	srv := newFakeOllamaServer(t, DefaultOllamaModel, 32)
	defer srv.Close()

	// When: constructing an embedder against it
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then: the model and auto-detected dimensions are picked up
	assert.Equal(t, DefaultOllamaModel, e.ModelName())
	assert.Equal(t, 32, e.Dimensions())
}

func TestOllamaEmbedder_New_FallsBackToSecondaryModel(t *testing.T) {
	// Given: a server that only has the first fallback model installed
	srv := newFakeOllamaServer(t, FallbackOllamaModels[0], 16)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, FallbackOllamaModels[0], e.ModelName())
}

func TestOllamaEmbedder_New_NoCandidateModelErrors(t *testing.T) {
	srv := newFakeOllamaServer(t, "some-unrelated-model", 16)
	defer srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	assert.Error(t, err)
}

func TestOllamaEmbedder_EmbedBatch_NormalizesVectors(t *testing.T) {
	srv := newFakeOllamaServer(t, DefaultOllamaModel, 8)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"foo", "bar"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.InDelta(t, 1.0, vectorMagnitude(v), 0.001)
	}
}

func TestOllamaEmbedder_EmbedBatch_SplitsAcrossConfiguredBatchSize(t *testing.T) {
	srv := newFakeOllamaServer(t, DefaultOllamaModel, 4)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, BatchSize: 2})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
}

func TestOllamaEmbedder_Available_ReflectsClosedState(t *testing.T) {
	srv := newFakeOllamaServer(t, DefaultOllamaModel, 4)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)

	assert.True(t, e.Available(context.Background()))
	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_EmbedBatch_TripsCircuitAfterRepeatedFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaTagsResponse{
			Models: []ollamaModelInfo{{Name: DefaultOllamaModel}},
		})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:       srv.URL,
		Dimensions: 8,
		MaxRetries: 0,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Given: enough consecutive failing requests to exceed the
	// breaker's failure threshold (5, see NewOllamaEmbedder).
	for i := 0; i < 5; i++ {
		_, err := e.EmbedBatch(context.Background(), []string{"x"})
		assert.Error(t, err)
	}

	// Then: the breaker trips and further calls fail immediately with
	// the circuit-open error rather than hitting the server again.
	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}
