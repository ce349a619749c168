package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	ctxerrors "github.com/Aman-CERP/ctxengine/internal/errors"
)

// DefaultOllamaHost is Ollama's default local API endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// DefaultOllamaModel is the primary embedding model: small enough to
// run on a 24GB machine without contending with everything else
// ctxengine is indexing.
const DefaultOllamaModel = "qwen3-embedding:0.6b"

// FallbackOllamaModels are tried in order when DefaultOllamaModel
// isn't installed locally. Only code-capable embedding models belong
// here — a general text model silently degrades code search quality
// without ever returning an error.
var FallbackOllamaModels = []string{
	"embeddinggemma",
	"mxbai-embed-large",
}

const ollamaConnectTimeout = 5 * time.Second
const ollamaPoolSize = 4

// OllamaConfig configures OllamaEmbedder.
type OllamaConfig struct {
	Host           string
	Model          string
	FallbackModels []string
	Dimensions     int // 0 = auto-detect from the first embedding call
	BatchSize      int
	Timeout        time.Duration
	MaxRetries     int
	PoolSize       int

	// SkipHealthCheck skips the startup /api/tags probe, for tests
	// that construct an OllamaEmbedder against a fake server.
	SkipHealthCheck bool

	// InterBatchDelay, TimeoutProgression and RetryTimeoutMultiplier
	// trade indexing throughput for headroom on a GPU under sustained
	// load: a long bulk index run can make later batches slower than
	// the first, and a timeout sized for the first batch alone fails
	// requests that only needed a little more time.
	InterBatchDelay        time.Duration
	TimeoutProgression     float64
	RetryTimeoutMultiplier float64
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:                   DefaultOllamaHost,
		Model:                  DefaultOllamaModel,
		FallbackModels:         FallbackOllamaModels,
		BatchSize:              DefaultBatchSize,
		Timeout:                DefaultWarmTimeout * time.Second,
		MaxRetries:             DefaultMaxRetries,
		PoolSize:               ollamaPoolSize,
		TimeoutProgression:     1.0,
		RetryTimeoutMultiplier: 1.0,
	}
}

// OllamaEmbedder generates embeddings through Ollama's HTTP /api/embed
// endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	// breaker trips after repeated embed-request failures within a
	// single run, so a bulk index against a downed/overloaded Ollama
	// fails each remaining batch immediately instead of re-spending
	// the full per-batch retry budget against a server that's already
	// shown it isn't responding.
	breaker *ctxerrors.CircuitBreaker

	mu           sync.RWMutex
	closed       bool
	batchIndex   int
	isFinalBatch bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder, probing for an
// available model and auto-detecting dimensions unless
// cfg.SkipHealthCheck is set.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = FallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWarmTimeout * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = ollamaPoolSize
	}
	if cfg.TimeoutProgression < 1.0 {
		cfg.TimeoutProgression = 1.0
	}
	if cfg.RetryTimeoutMultiplier < 1.0 {
		cfg.RetryTimeoutMultiplier = 1.0
	}

	// IdleConnTimeout is short: an index run is a one-shot CLI command,
	// not a long-lived server, so idle connections should clear out
	// quickly after Ctrl+C rather than linger.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	// No client-level Timeout: every call carries its own
	// context.WithTimeout so the per-batch progressive timeout below
	// actually takes effect instead of being capped by a static one.
	client := &http.Client{Transport: transport}

	e := &OllamaEmbedder{
		client:    client,
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
		breaker: ctxerrors.NewCircuitBreaker("ollama-embed",
			ctxerrors.WithMaxFailures(5),
			ctxerrors.WithResetTimeout(30*time.Second)),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout*time.Second)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("provider: connect to ollama or find model: %w", err)
		}
		e.modelName = modelName

		if cfg.Dimensions == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("provider: detect embedding dimensions: %w", err)
			}
			e.dims = dims
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	return e, nil
}

type ollamaModelInfo struct {
	Name string `json:"name"`
}

type ollamaTagsResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

func (e *OllamaEmbedder) listModels(ctx context.Context) ([]ollamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build tags request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama tags returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}
	return parsed.Models, nil
}

// findAvailableModel tries the configured model, then each fallback
// in order, returning the first one Ollama actually has installed.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}
	installed := make(map[string]bool, len(models))
	for _, m := range models {
		installed[m.Name] = true
		installed[strings.SplitN(m.Name, ":", 2)[0]] = true
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, c := range candidates {
		if installed[c] || installed[strings.SplitN(c, ":", 2)[0]] {
			return c, nil
		}
	}
	return "", fmt.Errorf("none of the candidate models %v are installed in ollama", candidates)
}

func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := e.embedRequest(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 {
		return 0, fmt.Errorf("ollama returned no embeddings for dimension probe")
	}
	return len(vecs[0]), nil
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// effectiveTimeout widens the request timeout as a long batch run
// progresses, and again on the final batch, since the batches most
// likely to run long are the ones furthest into a sustained workload.
func (e *OllamaEmbedder) effectiveTimeout() time.Duration {
	e.mu.RLock()
	idx, final := e.batchIndex, e.isFinalBatch
	e.mu.RUnlock()

	base := float64(e.config.Timeout)
	if e.config.TimeoutProgression > 1.0 {
		scale := 1.0 + (float64(idx*e.config.BatchSize)/1000.0)*(e.config.TimeoutProgression-1.0)
		base *= scale
	}
	if final {
		base *= e.config.TimeoutProgression
	}
	return time.Duration(base)
}

func (e *OllamaEmbedder) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	timeout := e.effectiveTimeout()
	var vectors [][]float32

	cfg := ctxerrors.DefaultRetryConfig()
	cfg.MaxRetries = e.config.MaxRetries
	retryMult := e.config.RetryTimeoutMultiplier

	attempt := 0
	err = e.breaker.Execute(func() error {
		return ctxerrors.Retry(ctx, cfg, func() error {
			callTimeout := time.Duration(float64(timeout) * pow(retryMult, attempt))
			attempt++

			reqCtx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(payload))
			if err != nil {
				return ctxerrors.New(ctxerrors.ErrCodeProviderUnavailable, "build embed request", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := e.client.Do(req)
			if err != nil {
				return ctxerrors.New(ctxerrors.ErrCodeProviderTimeout, "ollama embed request failed", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				body, _ := io.ReadAll(resp.Body)
				return ctxerrors.New(ctxerrors.ErrCodeProviderBadRequest, fmt.Sprintf("ollama embed rejected request: %s", string(body)), nil)
			}
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return ctxerrors.New(ctxerrors.ErrCodeProviderUnavailable, fmt.Sprintf("ollama embed returned %d: %s", resp.StatusCode, string(body)), nil)
			}

			var parsed ollamaEmbedResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				return ctxerrors.New(ctxerrors.ErrCodeProviderUnavailable, "decode embed response", err)
			}
			vectors = make([][]float32, len(parsed.Embeddings))
			for i, v := range parsed.Embeddings {
				vectors[i] = toFloat32(v)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ctxerrors.ErrCircuitOpen) {
			return nil, fmt.Errorf("provider: ollama embed circuit open after repeated failures, skipping retries: %w", err)
		}
		return nil, err
	}
	return vectors, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1.0
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("provider: ollama returned no embedding")
	}
	return normalizeVector(vecs[0]), nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("provider: ollama embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batchSize := e.config.BatchSize
	if batchSize <= 0 || batchSize > len(texts) {
		batchSize = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedRequest(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, v := range vecs {
			out = append(out, normalizeVector(v))
		}
		if e.config.InterBatchDelay > 0 && end < len(texts) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.config.InterBatchDelay):
			}
		}
	}
	return out, nil
}

func (e *OllamaEmbedder) Dimensions() int   { return e.dims }
func (e *OllamaEmbedder) ModelName() string { return e.modelName }

func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, ollamaConnectTimeout)
	defer cancel()
	_, err := e.listModels(checkCtx)
	return err == nil
}

func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

func (e *OllamaEmbedder) SetBatchIndex(idx int) {
	e.mu.Lock()
	e.batchIndex = idx
	e.mu.Unlock()
}

func (e *OllamaEmbedder) SetFinalBatch(isFinal bool) {
	e.mu.Lock()
	e.isFinalBatch = isFinal
	e.mu.Unlock()
}
