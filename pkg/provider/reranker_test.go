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

func newFakeRerankServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rerank", func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := rerankResponse{}
		// Reverse the input order so the test can tell the response
		// actually reflects what the server computed, not just an echo.
		for i := len(req.Documents) - 1; i >= 0; i-- {
			resp.Results = append(resp.Results, struct {
				Index int     `json:"index"`
				Score float64 `json:"score"`
			}{Index: i, Score: float64(i) / float64(len(req.Documents))})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func TestHTTPReranker_Rerank_ReturnsServerOrder(t *testing.T) {
	srv := newFakeRerankServer(t)
	defer srv.Close()

	r, err := NewHTTPReranker(context.Background(), RerankerConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	results, err := r.Rerank(context.Background(), "find the parser", []string{"doc a", "doc b", "doc c"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 2, results[0].Index)
}

func TestHTTPReranker_Rerank_EmptyDocumentsShortCircuits(t *testing.T) {
	srv := newFakeRerankServer(t)
	defer srv.Close()

	r, err := NewHTTPReranker(context.Background(), RerankerConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	results, err := r.Rerank(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestHTTPReranker_Available_FalseAfterClose(t *testing.T) {
	srv := newFakeRerankServer(t)
	defer srv.Close()

	r, err := NewHTTPReranker(context.Background(), RerankerConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	assert.True(t, r.Available(context.Background()))
	require.NoError(t, r.Close())
	assert.False(t, r.Available(context.Background()))
}

func TestNewHTTPReranker_HealthCheckFailureErrors(t *testing.T) {
	_, err := NewHTTPReranker(context.Background(), RerankerConfig{Endpoint: "http://127.0.0.1:1"})
	assert.Error(t, err)
}
