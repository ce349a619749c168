package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/ctxengine/internal/assembler"
	"github.com/Aman-CERP/ctxengine/internal/config"
	"github.com/Aman-CERP/ctxengine/internal/graph"
	"github.com/Aman-CERP/ctxengine/internal/ingest"
	"github.com/Aman-CERP/ctxengine/internal/policy"
	"github.com/Aman-CERP/ctxengine/internal/retriever"
	"github.com/Aman-CERP/ctxengine/internal/store"
	"github.com/Aman-CERP/ctxengine/internal/tokenizer"
	"github.com/Aman-CERP/ctxengine/internal/traversal"
	"github.com/Aman-CERP/ctxengine/internal/ui"
	"github.com/Aman-CERP/ctxengine/pkg/provider"
)

// Engine bundles the wired pipeline and its underlying resources so
// callers can assemble bundles and later close everything cleanly.
type Engine struct {
	Assembler *assembler.Assembler
	Store     store.Store
	Embedder  provider.Embedder
	Policy    *policy.Store
	Config    *config.Config
	RootPath  string

	reranker retriever.Reranker
}

// Close releases the store, embedder, and reranker.
func (e *Engine) Close() {
	if e.reranker != nil {
		_ = e.reranker.Close()
	}
	if e.Embedder != nil {
		_ = e.Embedder.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// buildEngine wires a project root into a full retrieval/assembly
// pipeline: it loads config, opens the store, resolves an embedder,
// walks and (re)indexes the project's source files, warms the
// in-memory vector index from the embeddings it just computed, and
// assembles the Retriever/Traversal/Policy/Assembler stack on top.
//
// Indexing here is always a full pass rather than an incremental one:
// Store has no chunk-enumeration API to rebuild VectorIndex (an
// in-memory structure, not persisted across process restarts) from
// prior embeddings alone, so every invocation re-walks the tree and
// re-extracts. UpsertFile/Span/Chunk/Edge are content-hash idempotent,
// so unchanged files cost a parse but no writes.
//
// rep receives stage-by-stage progress and may be nil: the serve and
// search commands build the engine silently since serve's stdio
// transport reserves stdout for JSON-RPC and a TUI there would corrupt
// the protocol stream; only the index command's interactive run passes
// a real renderer. The returned CompletionStats is only meaningful
// when rep is non-nil.
func buildEngine(ctx context.Context, root string, offline bool, log *slog.Logger, rep ui.Renderer) (*Engine, ui.CompletionStats, error) {
	if log == nil {
		log = slog.Default()
	}
	if rep == nil {
		rep = noopRenderer{}
	}
	start := time.Now()

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	dataDir := filepath.Join(root, ".ctxengine")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, ui.CompletionStats{}, fmt.Errorf("create data directory: %w", err)
	}
	storePath := cfg.Store.Path
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(root, storePath)
	}

	st, err := store.OpenWithBackend(storePath, cfg.Store.BM25Backend)
	if err != nil {
		return nil, ui.CompletionStats{}, fmt.Errorf("open store: %w", err)
	}

	var embedder provider.Embedder
	if offline {
		embedder = provider.NewStaticEmbedder768()
	} else {
		embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = provider.NewEmbedder(embedCtx, cfg.Embeddings)
		cancel()
		if err != nil {
			_ = st.Close()
			return nil, ui.CompletionStats{}, fmt.Errorf("embedder init: %w", err)
		}
	}

	rep.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "Discovering files..."})
	scanStart := time.Now()
	files, err := discoverFiles(root, cfg)
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, ui.CompletionStats{}, fmt.Errorf("discover files: %w", err)
	}
	rep.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Current: len(files), Total: len(files)})
	scanDur := time.Since(scanStart)

	repo := filepath.Base(root)
	chunkStart := time.Now()
	ix := ingest.NewIndexer(ingest.IndexerOptions{
		OnFile: func(done, total int, path string) {
			rep.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChunking, Current: done, Total: total, CurrentFile: path})
		},
	})
	defer ix.Close()
	if err := ix.IndexRepo(ctx, st, repo, files); err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, ui.CompletionStats{}, fmt.Errorf("index: %w", err)
	}
	chunkDur := time.Since(chunkStart)
	// SQLiteStore writes the lexical/graph indexes synchronously inside
	// IndexRepo rather than as a deferred step, so StageIndexing has no
	// granular progress of its own here; it's reported complete as soon
	// as the write pass that produced it returns.
	rep.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: 1, Total: 1})
	log.Info("indexed repo", slog.String("repo", repo), slog.Int("files", len(files)))

	snap := policy.Default(
		cfg.Retrieval.BM25Weight, cfg.Retrieval.VectorWeight, cfg.Retrieval.RRFConstant,
		0.2, 0.5, cfg.Retrieval.MaxResults,
		cfg.Traversal.BudgetFraction, cfg.Traversal.BudgetCeiling,
	)
	snap.IncludeTests = cfg.Assembler.IncludeTests
	snap.VerboseComments = cfg.Assembler.VerboseComments
	snap.RerankEnabled = cfg.Retrieval.RerankEnabled
	snap.BudgetWarningRatio = cfg.Assembler.BudgetWarningRatio
	pol := policy.NewStore(snap)

	var reranker retriever.Reranker
	if cfg.Retrieval.RerankEnabled {
		rc := provider.DefaultRerankerConfig()
		rc.SkipHealthCheck = true
		rr, rerr := provider.NewHTTPReranker(ctx, rc)
		if rerr != nil {
			log.Warn("rerank provider unavailable, falling back to fused order", slog.String("error", rerr.Error()))
			reranker = retriever.NoOpReranker{}
		} else {
			reranker = rr
		}
	} else {
		reranker = retriever.NoOpReranker{}
	}

	vector := retriever.NewVectorIndex()
	embedStart := time.Now()
	chunkCount, err := warmVectorIndex(ctx, st, embedder, vector, files, rep)
	if err != nil {
		log.Warn("vector index warm-up incomplete", slog.String("error", err.Error()))
		rep.AddError(ui.ErrorEvent{Err: err, IsWarn: true})
	}
	embedDur := time.Since(embedStart)

	tok := tokenizer.New()
	retr := retriever.New(st, st, st, vector, provider.Adapter{Embedder: embedder}, reranker, pol)
	adj := graph.New(st)
	trav := traversal.New(adj, tok, cfg.Traversal.CacheTTL, cfg.Traversal.CacheSize)
	asm := assembler.New(retr, trav, tok, st, st, pol)

	backend := "ollama"
	if offline {
		backend = "static"
	}
	stats := ui.CompletionStats{
		Files:    len(files),
		Chunks:   chunkCount,
		Duration: time.Since(start),
		Stages: ui.StageTimings{
			Scan:  scanDur,
			Chunk: chunkDur,
			Embed: embedDur,
		},
		Embedder: ui.EmbedderInfo{Backend: backend, Model: embedder.ModelName()},
	}

	return &Engine{
		Assembler: asm,
		Store:     st,
		Embedder:  embedder,
		Policy:    pol,
		Config:    cfg,
		RootPath:  root,
		reranker:  reranker,
	}, stats, nil
}

// noopRenderer discards every progress event, used when buildEngine is
// called with no renderer (serve, search).
type noopRenderer struct{}

func (noopRenderer) Start(ctx context.Context) error { return nil }
func (noopRenderer) UpdateProgress(ui.ProgressEvent)  { /* no-op */ }
func (noopRenderer) AddError(ui.ErrorEvent)           { /* no-op */ }
func (noopRenderer) Complete(ui.CompletionStats)      { /* no-op */ }
func (noopRenderer) Stop() error                      { return nil }

// discoverFiles walks root, skipping cfg.Paths.Exclude globs (plus the
// always-on defaults already folded into it by config.NewConfig), and
// returns one FileInput per file ingest knows how to parse (or
// whole-module fallback for everything else is handled by Indexer, so
// only directories are filtered here).
func discoverFiles(root string, cfg *config.Config) ([]ingest.FileInput, error) {
	registry := ingest.DefaultRegistry()

	var files []ingest.FileInput
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // best-effort walk, skip unreadable entries
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if matchesExclude(rel+"/", cfg.Paths.Exclude) || strings.HasPrefix(rel, ".ctxengine") || strings.HasPrefix(rel, ".git") {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesExclude(rel, cfg.Paths.Exclude) {
			return nil
		}

		ext := filepath.Ext(path)
		langCfg, ok := registry.GetByExtension(ext)
		lang := ""
		if ok {
			lang = langCfg.Name
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		files = append(files, ingest.FileInput{Path: rel, Content: content, Language: lang})
		return nil
	})
	return files, err
}

// matchesExclude reports whether rel matches any of the teacher-style
// doublestar exclude patterns ("**/node_modules/**", "**/*.min.js"):
// a directory-segment match for "**/<name>/**" patterns, or a
// filepath.Match test against the trailing "**/<glob>" suffix
// otherwise.
func matchesExclude(rel string, patterns []string) bool {
	relSlash := filepath.ToSlash(rel)
	for _, pattern := range patterns {
		p := strings.TrimPrefix(pattern, "**/")
		p = strings.TrimSuffix(p, "/**")
		if strings.HasSuffix(p, "/**") {
			p = strings.TrimSuffix(p, "/**")
		}
		if strings.Contains(p, "/") {
			continue
		}
		segments := strings.Split(strings.TrimSuffix(relSlash, "/"), "/")
		for _, seg := range segments {
			if ok, _ := filepath.Match(p, seg); ok {
				return true
			}
		}
	}
	return false
}

// warmVectorIndex re-extracts each file's chunks (the same pure,
// single-file parse Indexer.ExtractFile performs, with no Store write)
// to recover chunk ids and content, embeds the content in batches, and
// loads the resulting vectors into vector, persisting them through st
// so GetEmbedding lookups succeed even before the in-memory index is
// warm again on a future process. Returns the total chunk count
// embedded, for the completion summary. rep is reported against at
// StageEmbedding, by file count, since the embed batch boundary cuts
// across files and doesn't line up with a meaningful per-chunk tick.
func warmVectorIndex(ctx context.Context, st store.Store, embedder provider.Embedder, vector *retriever.VectorIndex, files []ingest.FileInput, rep ui.Renderer) (int, error) {
	ix := ingest.NewIndexer(ingest.IndexerOptions{})
	defer ix.Close()

	model := embedder.ModelName()
	const embedBatchSize = 32
	var ids []string
	var texts []string
	chunkCount := 0
	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		embeddings := make([]*store.Embedding, 0, len(vecs))
		for i, v := range vecs {
			if err := vector.Upsert(ids[i], v); err != nil {
				return err
			}
			embeddings = append(embeddings, &store.Embedding{ChunkID: ids[i], Model: model, Dim: len(v), Vector: v})
		}
		if err := st.SaveEmbeddings(ctx, embeddings); err != nil {
			return err
		}
		chunkCount += len(ids)
		ids = ids[:0]
		texts = texts[:0]
		return nil
	}

	for i, f := range files {
		rep.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: i + 1, Total: len(files), CurrentFile: f.Path})

		extraction, err := ix.ExtractFile(ctx, f)
		if err != nil || extraction == nil {
			if err != nil {
				rep.AddError(ui.ErrorEvent{File: f.Path, Err: err, IsWarn: true})
			}
			continue
		}
		for _, c := range extraction.Chunks {
			ids = append(ids, c.ID)
			texts = append(texts, c.Content)
			if len(ids) >= embedBatchSize {
				if err := flush(); err != nil {
					return chunkCount, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return chunkCount, err
	}
	return chunkCount, nil
}
