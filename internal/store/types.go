// Package store is the persistence layer: files, spans, chunks,
// embeddings, edges, the FTS index, caches, and the interaction log.
// It is the sole owner of this data. The indexing pipeline writes
// files, spans, chunks, edges and embeddings through it; the MCP
// server's record_feedback tool appends interactions; the Learner only
// reads interactions.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SpanKind is a closed enumeration of the structural units a Span can
// represent.
type SpanKind string

const (
	SpanKindModule    SpanKind = "module"
	SpanKindClass     SpanKind = "class"
	SpanKindFunction  SpanKind = "function"
	SpanKindMethod    SpanKind = "method"
	SpanKindProperty  SpanKind = "property"
	SpanKindEnum      SpanKind = "enum"
	SpanKindInterface SpanKind = "interface"
	SpanKindComment   SpanKind = "comment"
)

// EdgeKind is a closed enumeration of the typed relations an Edge can
// carry between two spans.
type EdgeKind string

const (
	EdgeKindCall      EdgeKind = "call"
	EdgeKindImport    EdgeKind = "import"
	EdgeKindRead      EdgeKind = "read"
	EdgeKindWrite     EdgeKind = "write"
	EdgeKindTestOf    EdgeKind = "test-of"
	EdgeKindRoutes    EdgeKind = "routes"
	EdgeKindConfigKey EdgeKind = "config-key"
)

// ExtractorProvenance records which extractor produced an Edge.
type ExtractorProvenance string

const (
	ProvenanceLSP       ExtractorProvenance = "lsp"
	ProvenanceSCIP      ExtractorProvenance = "scip"
	ProvenanceHeuristic ExtractorProvenance = "heuristic"
)

// State keys for the key-value state table.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
)

// File is a tracked file in the corpus. (repo, path) is unique.
type File struct {
	Repo        string
	Path        string
	ContentHash string // SHA-256 of file bytes
	Language    string
	IndexedAt   time.Time
}

// Span is a bounded, content-addressed region of one File.
type Span struct {
	ID         string // content-addressed, see ComputeSpanID
	Repo       string
	Path       string
	ByteStart  int
	ByteEnd    int
	Kind       SpanKind
	Name       string
	Signature  string
	Doc        string
	Parents    []string // ordered ancestor span ids, rooted at a module span
	UpdatedAt  time.Time
}

// ComputeSpanID computes the content-addressed span id: SHA-256 over
// (repo, path, byte_range, kind, name, signature, hash(doc), hash(parents)).
// Spans are stable across reindexing unless one of those fields changes.
func ComputeSpanID(repo, path string, byteStart, byteEnd int, kind SpanKind, name, signature, doc string, parents []string) string {
	docHash := sha256.Sum256([]byte(doc))
	parentsHash := sha256.Sum256([]byte(strings.Join(parents, "\x00")))

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\x00%s\x00%s\x00%s\x00%x\x00%x",
		repo, path, byteStart, byteEnd, kind, name, signature, docHash, parentsHash)
	return hex.EncodeToString(h.Sum(nil))
}

// Chunk is the retrievable text unit derived from one Span: the span
// body plus leading docs and a small sibling window. A Span has one or
// more Chunks; Chunks are the unit of FTS indexing and embedding.
type Chunk struct {
	ID          string // SHA256(span_id, context_hash)
	SpanID      string
	Repo        string
	Path        string
	Content     string
	ContentType ContentType
	Language    string
	StartLine   int
	EndLine     int
	CreatedAt   time.Time
}

// ContentType classifies a Chunk's text for tokenizer rate selection
// and degradation ordering.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// ComputeChunkID computes chunk.id = SHA256(span_id, context_hash).
func ComputeChunkID(spanID, contextHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s", spanID, contextHash)
	return hex.EncodeToString(h.Sum(nil))
}

// Embedding is an optional per-(chunk_id, model) fixed-dimension vector.
// At most one embedding per model per chunk.
type Embedding struct {
	ChunkID string
	Model   string
	Dim     int
	Vector  []float32
}

// Edge is a typed directed relation between a source Span and a target
// Span (or an as-yet-unresolved (path, byte_range) location). Duplicate
// (source, target, kind) tuples collapse to the maximum-confidence entry.
type Edge struct {
	SourceSpanID string
	TargetSpanID string // empty if unresolved
	TargetPath   string // set when Unresolved
	TargetStart  int
	TargetEnd    int
	Kind         EdgeKind
	Confidence   float64
	Provenance   ExtractorProvenance
	Unresolved   bool
}

// FTSRecord is a single row of the full-text index.
type FTSRecord struct {
	ChunkID string
	Repo    string
	Path    string
	Content string
}

// FTSHit is one scored result from a lexical search.
type FTSHit struct {
	ChunkID string
	Score   float64
}

// RerankCacheEntry is an immutable-once-written row keyed by
// hash(provider, model, query, sorted candidate ids), storing the
// reranked ordering.
type RerankCacheEntry struct {
	Key     string
	Order   []RerankedItem
	Created time.Time
}

// RerankedItem is a single (index, score) pair in a cached rerank order.
type RerankedItem struct {
	Index int
	Score float64
}

// RerankCacheKey computes the immutable cache key for a rerank request.
func RerankCacheKey(provider, model, query string, candidateIDs []string) string {
	sorted := append([]string(nil), candidateIDs...)
	sort.Strings(sorted)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", provider, model, query, strings.Join(sorted, "\x00"))
	return hex.EncodeToString(h.Sum(nil))
}

// Interaction records the outcome of a served bundle for offline learning.
type Interaction struct {
	ID        int64
	Session   string
	Query     string
	BundleID  string
	Satisfied bool
	Notes     string
	CreatedAt time.Time
}

// BundleSignature computes hash(sorted ids of included spans | version |
// policy hash) so that identical effective bundles collide in the
// Learner's signature cache.
func BundleSignature(spanIDs []string, version int, policyHash string) string {
	sorted := append([]string(nil), spanIDs...)
	sort.Strings(sorted)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s", strings.Join(sorted, "\x00"), version, policyHash)
	return hex.EncodeToString(h.Sum(nil))
}

// Store is the C1 persistence interface. UpsertChunk writes a chunk and
// its FTS row in one transaction; the file, span, chunk and edge upserts
// of one file's reindex each commit separately and are not one atomic
// unit. Reindex is content-hash-idempotent: a file whose hash is
// unchanged incurs no writes.
type Store interface {
	UpsertFile(ctx context.Context, f *File) (changed bool, err error)
	UpsertSpan(ctx context.Context, s *Span) error
	UpsertChunk(ctx context.Context, c *Chunk) error
	UpsertEdge(ctx context.Context, e *Edge) error

	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetSpan(ctx context.Context, id string) (*Span, error)
	GetSpans(ctx context.Context, ids []string) ([]*Span, error)

	// FTSSearch returns up to k chunk hits ranked by BM25-like score,
	// optionally filtered by repo and a glob over path.
	FTSSearch(ctx context.Context, query string, k int, repo, pathGlob string) ([]FTSHit, error)

	GetOutgoingEdges(ctx context.Context, spanID string, kinds []EdgeKind) ([]*Edge, error)
	GetIncomingEdges(ctx context.Context, spanID string, kinds []EdgeKind) ([]*Edge, error)

	SaveEmbeddings(ctx context.Context, embeddings []*Embedding) error
	GetEmbedding(ctx context.Context, chunkID, model string) (*Embedding, error)

	RerankCacheGet(ctx context.Context, key string) (*RerankCacheEntry, error)
	RerankCachePut(ctx context.Context, entry *RerankCacheEntry) error

	AppendInteraction(ctx context.Context, i *Interaction) error
	ReadInteractions(ctx context.Context, since time.Time) ([]*Interaction, error)

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	DeleteFile(ctx context.Context, repo, path string) error

	Close() error
}

// ErrDimensionMismatch indicates the active embedding model's dimension
// does not match what a stored index expects.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'ctxengine reindex --force')", e.Expected, e.Got)
}
