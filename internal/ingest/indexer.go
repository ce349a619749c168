package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/ctxengine/internal/store"
)

// Store is the subset of store.Store the Indexer writes through,
// narrowed so tests can supply a fake without building a full Store.
type Store interface {
	UpsertFile(ctx context.Context, f *store.File) (changed bool, err error)
	UpsertSpan(ctx context.Context, s *store.Span) error
	UpsertChunk(ctx context.Context, c *store.Chunk) error
	UpsertEdge(ctx context.Context, e *store.Edge) error
}

// Indexer parses a batch of files into Spans/Chunks/Edges and writes
// them through Store. Reference resolution happens across the whole
// batch: a call to an exported symbol in another file of the same
// batch resolves to that symbol's Span, something a single-file
// extractor can never do on its own.
type Indexer struct {
	parser   *Parser
	registry *LanguageRegistry
	opts     IndexerOptions
}

// NewIndexer returns an Indexer using the default language registry.
func NewIndexer(opts IndexerOptions) *Indexer {
	return &Indexer{
		parser:   NewParser(),
		registry: DefaultRegistry(),
		opts:     opts.withDefaults(),
	}
}

// Close releases the underlying parser.
func (ix *Indexer) Close() {
	ix.parser.Close()
}

// SupportedExtensions returns every file extension the Indexer can parse.
func (ix *Indexer) SupportedExtensions() []string {
	return ix.registry.SupportedExtensions()
}

// fileResult holds one file's extraction plus the pieces IndexRepo
// needs for cross-file resolution.
type fileResult struct {
	extraction *Extraction
	cfg        *LanguageConfig
	tree       *Tree
	symbols    []*symbolNode
	nameToSpan map[string]string
	varNames   map[string]bool
}

// ExtractFile parses a single file into its Spans, Chunks, and
// same-file-resolved Edges, leaving cross-file references pending.
func (ix *Indexer) ExtractFile(ctx context.Context, file FileInput) (*Extraction, error) {
	res, err := ix.extractOne(ctx, file)
	if err != nil {
		return nil, err
	}
	if res.cfg == nil {
		return res.extraction, nil
	}
	edges, pending := extractReferences(res.tree, file, res.cfg, res.symbols, res.nameToSpan)
	edges = append(edges, extractReadWrites(res.tree, res.cfg, res.symbols, res.nameToSpan, res.varNames, res.nameToSpan[file.Path])...)
	res.extraction.Edges = edges
	res.extraction.pending = pending
	return res.extraction, nil
}

func (ix *Indexer) extractOne(ctx context.Context, file FileInput) (*fileResult, error) {
	cfg, ok := ix.registry.GetByName(file.Language)
	if !ok {
		return ix.extractUnsupported(file), nil
	}

	tree, err := ix.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return ix.extractUnsupported(file), nil
	}

	spans, chunks, nameToSpan := buildSpansAndChunks(tree, file, cfg, ix.opts)
	symbols := findSymbolNodes(tree, cfg)
	varNames := make(map[string]bool)
	for _, sn := range symbols {
		if sn.kind == store.SpanKindProperty {
			varNames[sn.name] = true
		}
	}

	f := &store.File{
		Repo:      file.Repo,
		Path:      file.Path,
		Language:  file.Language,
		IndexedAt: time.Now(),
	}

	return &fileResult{
		extraction: &Extraction{File: f, Spans: spans, Chunks: chunks},
		cfg:        cfg,
		tree:       tree,
		symbols:    symbols,
		nameToSpan: nameToSpan,
		varNames:   varNames,
	}, nil
}

// extractUnsupported falls back to a single whole-file module span
// for languages with no registered grammar, so every file still
// contributes at least a Full-level-packable candidate.
func (ix *Indexer) extractUnsupported(file FileInput) *fileResult {
	now := time.Now()
	span := buildSpan(file, 0, len(file.Content), store.SpanKindModule, file.Path, fmt.Sprintf("module %s", file.Path), "", nil)
	chunk := buildChunk(file, span, string(file.Content), store.ContentTypeText, 1, countLines(file.Content))
	return &fileResult{
		extraction: &Extraction{
			File:   &store.File{Repo: file.Repo, Path: file.Path, Language: file.Language, IndexedAt: now},
			Spans:  []*store.Span{span},
			Chunks: []*store.Chunk{chunk},
		},
		nameToSpan: map[string]string{file.Path: span.ID},
	}
}

// IndexRepo parses every file, resolves references across the whole
// batch, and writes files/spans/chunks/edges through st. Cross-file
// edges that still can't be resolved (the target name appears in no
// file of this batch) are written as Unresolved edges rather than
// dropped, so a later incremental index that does see the target can
// still find the edge's source side via GetOutgoingEdges.
func (ix *Indexer) IndexRepo(ctx context.Context, st Store, repo string, files []FileInput) error {
	results := make([]*fileResult, 0, len(files))
	globalNames := make(map[string][]string) // name -> span ids across the batch
	globalConfigKeys := make(map[string][]string)

	for i, file := range files {
		file.Repo = repo
		res, err := ix.extractOne(ctx, file)
		if err != nil {
			return fmt.Errorf("ingest: extract %s: %w", file.Path, err)
		}
		results = append(results, res)

		for name, id := range res.nameToSpan {
			globalNames[name] = append(globalNames[name], id)
		}
		for _, sn := range res.symbols {
			if sn.kind == store.SpanKindProperty {
				key := normalizeConfigKey(sn.name)
				globalConfigKeys[key] = append(globalConfigKeys[key], res.nameToSpan[sn.name])
			}
		}

		if ix.opts.OnFile != nil {
			ix.opts.OnFile(i+1, len(files), file.Path)
		}
	}

	var allEdges []*store.Edge
	for i, res := range results {
		file := files[i]
		file.Repo = repo

		if res.cfg != nil {
			edges, pending := extractReferences(res.tree, file, res.cfg, res.symbols, res.nameToSpan)
			allEdges = append(allEdges, edges...)
			allEdges = append(allEdges, resolvePending(pending, globalNames, globalConfigKeys)...)
			allEdges = append(allEdges, extractReadWrites(res.tree, res.cfg, res.symbols, res.nameToSpan, res.varNames, res.nameToSpan[file.Path])...)
		}
	}

	for i, res := range results {
		if _, err := st.UpsertFile(ctx, res.extraction.File); err != nil {
			return fmt.Errorf("ingest: upsert file %s: %w", files[i].Path, err)
		}
		for _, s := range res.extraction.Spans {
			if err := st.UpsertSpan(ctx, s); err != nil {
				return fmt.Errorf("ingest: upsert span: %w", err)
			}
		}
		for _, c := range res.extraction.Chunks {
			if err := st.UpsertChunk(ctx, c); err != nil {
				return fmt.Errorf("ingest: upsert chunk: %w", err)
			}
		}
	}
	for _, e := range allEdges {
		if err := st.UpsertEdge(ctx, e); err != nil {
			return fmt.Errorf("ingest: upsert edge: %w", err)
		}
	}
	return nil
}

func resolvePending(pending []pendingReference, globalNames, globalConfigKeys map[string][]string) []*store.Edge {
	out := make([]*store.Edge, 0, len(pending))
	for _, p := range pending {
		var candidates []string
		if p.kind == refConfigKey {
			candidates = globalConfigKeys[p.targetName]
		} else {
			candidates = globalNames[p.targetName]
		}

		if len(candidates) == 0 {
			out = append(out, &store.Edge{
				SourceSpanID: p.sourceSpanID,
				TargetPath:   p.originPath,
				TargetStart:  p.originLine,
				TargetEnd:    p.originLine,
				Kind:         p.edgeKind,
				Confidence:   p.confidence,
				Provenance:   p.provenance,
				Unresolved:   true,
			})
			continue
		}
		for _, target := range candidates {
			if target == p.sourceSpanID {
				continue
			}
			out = append(out, &store.Edge{
				SourceSpanID: p.sourceSpanID,
				TargetSpanID: target,
				Kind:         p.edgeKind,
				Confidence:   p.confidence,
				Provenance:   p.provenance,
			})
		}
	}
	return out
}
