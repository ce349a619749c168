// Package ingest is the external-interface adapter that turns raw
// file bytes into the Span/Chunk/Edge records internal/store owns.
// It is the only place in this repo that depends on a concrete parser
// (tree-sitter); everything downstream of Store only ever sees the
// typed records ingest produces.
package ingest

import (
	"github.com/Aman-CERP/ctxengine/internal/store"
)

// Chunk size defaults, carried over from the teacher's chunker: 512
// tokens holds 85-90% recall in the teacher's own benchmarking notes,
// with a 64-token (~12.5%) overlap when a single symbol must be split.
const (
	DefaultMaxChunkTokens = 512
	DefaultOverlapTokens  = 64
	TokensPerChar         = 4
)

// FileInput is one file offered to the Indexer.
type FileInput struct {
	Repo     string
	Path     string
	Content  []byte
	Language string
}

// IndexerOptions configures chunk sizing and progress reporting.
type IndexerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
	// OnFile, when set, is called after each file of an IndexRepo batch
	// finishes parsing and reference extraction, with done/total over
	// the whole batch — the hook cmd/ctxengine's index command drives
	// its chunking-stage progress bar from.
	OnFile func(done, total int, path string)
}

func (o IndexerOptions) withDefaults() IndexerOptions {
	if o.MaxChunkTokens == 0 {
		o.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if o.OverlapTokens == 0 {
		o.OverlapTokens = DefaultOverlapTokens
	}
	return o
}

// Extraction is the span/chunk yield of parsing a single file, plus
// the references it contains that could not be resolved to a target
// span without seeing the rest of the repo.
type Extraction struct {
	File   *store.File
	Spans  []*store.Span
	Chunks []*store.Chunk
	// Edges holds only references this file could resolve against its
	// own symbols; cross-file references require IndexRepo's batch
	// resolution pass and never appear here.
	Edges   []*store.Edge
	pending []pendingReference
}

// referenceKind narrows pendingReference resolution to a handful of
// lookup strategies; it is not store.EdgeKind because one reference
// (config-key) resolves against a normalized key, not a raw name.
type referenceKind int

const (
	refCall referenceKind = iota
	refImport
	refReadWrite
	refTestOf
	refRoute
	refConfigKey
)

// pendingReference is a reference extracted from one file before
// repo-wide name resolution: an identifier or literal the Indexer
// will try to match against every file's symbol table once the whole
// batch has been parsed.
type pendingReference struct {
	kind         referenceKind
	edgeKind     store.EdgeKind
	sourceSpanID string
	targetName   string // identifier, import path, or config key literal
	confidence   float64
	provenance   store.ExtractorProvenance
	// originPath/originLine let an unresolved reference still carry a
	// best-effort location when no symbol table entry matches.
	originPath string
	originLine int
}

func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}
