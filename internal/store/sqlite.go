package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	ctxerrors "github.com/Aman-CERP/ctxengine/internal/errors"
)

// SQLiteStore is the SQLite-backed implementation of Store. It enforces
// spec's single-writer/many-reader discipline with a gofrs/flock file
// lock guarding the writer handle plus an in-process sync.Mutex
// serializing writes on the single write connection; reads go through a
// separate connection pool and take no lock.
type SQLiteStore struct {
	path string

	writeMu sync.Mutex // serializes writers in-process
	writeDB *sql.DB    // single connection used for all writes
	readDB  *sql.DB    // pooled connections used for all reads

	fileLock *flock.Flock // cross-process writer exclusion

	// lexical is non-nil when Store.BM25Backend selects "bleve" over the
	// default FTS5 table: FTSSearch, chunk upserts, and chunk deletes all
	// route through it instead of the fts_search table when set.
	lexical LexicalIndex
}

// Open opens (creating if necessary) a SQLite-backed store at path, in
// WAL mode with NORMAL durability, and applies any pending migrations.
// It always selects the default "sqlite" FTS5 lexical backend; use
// OpenWithBackend to select "bleve" instead.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ctxerrors.StoreError("failed to create store directory", err)
	}

	lockPath := path + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, ctxerrors.New(ctxerrors.ErrCodeStoreLocked, "failed to acquire store lock", err)
	}
	if !locked {
		return nil, ctxerrors.New(ctxerrors.ErrCodeStoreLocked, "store is locked by another writer", nil).
			WithSuggestion("wait for the other ctxengine process to exit, or remove " + lockPath + " if it is stale")
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"

	writeDB, err := sql.Open(driverName, dsn)
	if err != nil {
		fl.Unlock()
		return nil, ctxerrors.StoreError("failed to open store database", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open(driverName, dsn)
	if err != nil {
		writeDB.Close()
		fl.Unlock()
		return nil, ctxerrors.StoreError("failed to open store database read pool", err)
	}
	readDB.SetMaxOpenConns(runtime.NumCPU())

	s := &SQLiteStore{path: path, writeDB: writeDB, readDB: readDB, fileLock: fl}

	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// OpenWithBackend opens a SQLite-backed store at path and selects its
// lexical backend per the Store.BM25Backend config switch: "bleve" opens
// a BleveIndex alongside it (at path+".bleve") and routes FTSSearch and
// chunk writes/deletes through it instead of the fts_search table; any
// other value (including "") keeps the default FTS5-table behavior.
func OpenWithBackend(path, backend string) (*SQLiteStore, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}

	if backend == "bleve" {
		lex, err := OpenBleveIndex(path + ".bleve")
		if err != nil {
			s.Close()
			return nil, err
		}
		s.lexical = lex
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.writeDB.Exec(schemaDDL); err != nil {
		return ctxerrors.New(ctxerrors.ErrCodeStoreSchema, "failed to apply schema", err)
	}

	var current int
	row := s.writeDB.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`)
	var v string
	if err := row.Scan(&v); err == nil {
		fmt.Sscanf(v, "%d", &current)
	}

	if current > schemaVersion {
		return ctxerrors.New(ctxerrors.ErrCodeStoreSchema,
			fmt.Sprintf("database schema version %d is newer than this binary supports (%d)", current, schemaVersion), nil)
	}

	if current < schemaVersion {
		if _, err := s.writeDB.Exec(
			`INSERT INTO meta(key, value) VALUES('schema_version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			fmt.Sprintf("%d", schemaVersion)); err != nil {
			return ctxerrors.New(ctxerrors.ErrCodeStoreSchema, "failed to record schema version", err)
		}
	}

	return nil
}

// Close releases both connections and the cross-process writer lock.
func (s *SQLiteStore) Close() error {
	var firstErr error
	if s.lexical != nil {
		if err := s.lexical.Close(); err != nil {
			firstErr = err
		}
	}
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if s.writeDB != nil {
		if err := s.writeDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.fileLock != nil {
		s.fileLock.Unlock()
	}
	return firstErr
}

// UpsertFile upserts file metadata. Reindex is content-hash-idempotent:
// if the stored content_hash is unchanged, no write occurs and changed
// is false.
func (s *SQLiteStore) UpsertFile(ctx context.Context, f *File) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var existingHash string
	err := s.writeDB.QueryRowContext(ctx,
		`SELECT content_hash FROM files WHERE repo = ? AND path = ?`, f.Repo, f.Path).Scan(&existingHash)
	if err == nil && existingHash == f.ContentHash {
		return false, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return false, ctxerrors.StoreError("failed to read file row", err)
	}

	_, err = s.writeDB.ExecContext(ctx, `
		INSERT INTO files(repo, path, content_hash, language, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			language     = excluded.language,
			indexed_at   = excluded.indexed_at
	`, f.Repo, f.Path, f.ContentHash, f.Language, f.IndexedAt)
	if err != nil {
		return false, ctxerrors.StoreError("failed to upsert file", err)
	}
	return true, nil
}

// UpsertSpan upserts a single span in its own statement; it is not
// grouped with the file's other upserts into one transaction.
func (s *SQLiteStore) UpsertSpan(ctx context.Context, sp *Span) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.upsertSpanLocked(ctx, s.writeDB, sp)
}

func (s *SQLiteStore) upsertSpanLocked(ctx context.Context, exec execer, sp *Span) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO spans(id, repo, path, byte_start, byte_end, kind, name, signature, doc, parents, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			byte_start = excluded.byte_start,
			byte_end   = excluded.byte_end,
			kind       = excluded.kind,
			name       = excluded.name,
			signature  = excluded.signature,
			doc        = excluded.doc,
			parents    = excluded.parents,
			updated_at = excluded.updated_at
	`, sp.ID, sp.Repo, sp.Path, sp.ByteStart, sp.ByteEnd, sp.Kind, sp.Name, sp.Signature, sp.Doc,
		strings.Join(sp.Parents, ","), sp.UpdatedAt)
	if err != nil {
		return ctxerrors.StoreError("failed to upsert span", err)
	}
	return nil
}

// UpsertChunk upserts a chunk and its FTS record in the same logical
// unit of work.
func (s *SQLiteStore) UpsertChunk(ctx context.Context, c *Chunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return ctxerrors.StoreError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.upsertChunkLocked(ctx, tx, c); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ctxerrors.StoreError("failed to commit chunk upsert", err)
	}

	if s.lexical != nil {
		if err := s.lexical.Index(ctx, []FTSRecord{
			{ChunkID: c.ID, Repo: c.Repo, Path: c.Path, Content: c.Content},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) upsertChunkLocked(ctx context.Context, exec execer, c *Chunk) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO chunks(id, span_id, repo, path, content, content_type, language, start_line, end_line, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content      = excluded.content,
			content_type = excluded.content_type,
			language     = excluded.language,
			start_line   = excluded.start_line,
			end_line     = excluded.end_line
	`, c.ID, c.SpanID, c.Repo, c.Path, c.Content, c.ContentType, c.Language, c.StartLine, c.EndLine, c.CreatedAt)
	if err != nil {
		return ctxerrors.StoreError("failed to upsert chunk", err)
	}

	// When a bleve lexical backend is selected, the fts_search table stays
	// empty and unused; UpsertChunk indexes into BleveIndex instead.
	if s.lexical != nil {
		return nil
	}

	if _, err := exec.ExecContext(ctx, `DELETE FROM fts_search WHERE chunk_id = ?`, c.ID); err != nil {
		return ctxerrors.StoreError("failed to clear stale fts row", err)
	}
	if _, err := exec.ExecContext(ctx, `
		INSERT INTO fts_search(chunk_id, repo, path, content) VALUES (?, ?, ?, ?)
	`, c.ID, c.Repo, c.Path, c.Content); err != nil {
		return ctxerrors.StoreError("failed to upsert fts row", err)
	}
	return nil
}

// UpsertEdge upserts a single edge, collapsing duplicate
// (source, target, kind) tuples to the maximum-confidence entry.
func (s *SQLiteStore) UpsertEdge(ctx context.Context, e *Edge) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	unresolved := 0
	if e.Unresolved {
		unresolved = 1
	}
	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO edges(source_span_id, target_span_id, target_path, target_start, target_end, kind, confidence, provenance, unresolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_span_id, target_span_id, target_path, kind) DO UPDATE SET
			confidence = MAX(edges.confidence, excluded.confidence),
			provenance = CASE WHEN excluded.confidence > edges.confidence THEN excluded.provenance ELSE edges.provenance END,
			unresolved = excluded.unresolved
	`, e.SourceSpanID, e.TargetSpanID, e.TargetPath, e.TargetStart, e.TargetEnd, e.Kind, e.Confidence, e.Provenance, unresolved)
	if err != nil {
		return ctxerrors.StoreError("failed to upsert edge", err)
	}
	return nil
}

// GetChunk fetches a single chunk by id.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	chunks, err := s.GetChunks(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ctxerrors.New(ctxerrors.ErrCodeStoreNotFound, "chunk not found: "+id, nil)
	}
	return chunks[0], nil
}

// GetChunks batch-fetches chunks by id.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClauseQuery(`
		SELECT id, span_id, repo, path, content, content_type, language, start_line, end_line, created_at
		FROM chunks WHERE id IN (%s)`, ids)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ctxerrors.StoreError("failed to query chunks", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c := &Chunk{}
		if err := rows.Scan(&c.ID, &c.SpanID, &c.Repo, &c.Path, &c.Content, &c.ContentType, &c.Language, &c.StartLine, &c.EndLine, &c.CreatedAt); err != nil {
			return nil, ctxerrors.StoreError("failed to scan chunk row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunksBySpanIDs fetches the representative chunk for each
// requested span: the longest chunk recorded against that span_id,
// since a span can have several (body plus sibling windows) and the
// assembler wants the most complete one to degrade down from. Spans
// with no chunk are omitted from the result.
func (s *SQLiteStore) GetChunksBySpanIDs(ctx context.Context, spanIDs []string) (map[string]*Chunk, error) {
	if len(spanIDs) == 0 {
		return nil, nil
	}
	query, args := inClauseQuery(`
		SELECT id, span_id, repo, path, content, content_type, language, start_line, end_line, created_at
		FROM chunks WHERE span_id IN (%s)`, spanIDs)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ctxerrors.StoreError("failed to query chunks by span", err)
	}
	defer rows.Close()

	out := make(map[string]*Chunk)
	for rows.Next() {
		c := &Chunk{}
		if err := rows.Scan(&c.ID, &c.SpanID, &c.Repo, &c.Path, &c.Content, &c.ContentType, &c.Language, &c.StartLine, &c.EndLine, &c.CreatedAt); err != nil {
			return nil, ctxerrors.StoreError("failed to scan chunk row", err)
		}
		if existing, ok := out[c.SpanID]; !ok || len(c.Content) > len(existing.Content) {
			out[c.SpanID] = c
		}
	}
	return out, rows.Err()
}

// GetSpan fetches a single span by id.
func (s *SQLiteStore) GetSpan(ctx context.Context, id string) (*Span, error) {
	spans, err := s.GetSpans(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, ctxerrors.New(ctxerrors.ErrCodeStoreNotFound, "span not found: "+id, nil)
	}
	return spans[0], nil
}

// GetSpans batch-fetches spans by id.
func (s *SQLiteStore) GetSpans(ctx context.Context, ids []string) ([]*Span, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClauseQuery(`
		SELECT id, repo, path, byte_start, byte_end, kind, name, signature, doc, parents, updated_at
		FROM spans WHERE id IN (%s)`, ids)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ctxerrors.StoreError("failed to query spans", err)
	}
	defer rows.Close()

	var out []*Span
	for rows.Next() {
		sp := &Span{}
		var parents string
		if err := rows.Scan(&sp.ID, &sp.Repo, &sp.Path, &sp.ByteStart, &sp.ByteEnd, &sp.Kind, &sp.Name, &sp.Signature, &sp.Doc, &parents, &sp.UpdatedAt); err != nil {
			return nil, ctxerrors.StoreError("failed to scan span row", err)
		}
		if parents != "" {
			sp.Parents = strings.Split(parents, ",")
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// FTSSearch runs a BM25-ranked lexical search over fts_search, optionally
// filtered by repo and a glob over path.
func (s *SQLiteStore) FTSSearch(ctx context.Context, query string, k int, repo, pathGlob string) ([]FTSHit, error) {
	if s.lexical != nil {
		return s.lexical.Search(ctx, query, k, repo, pathGlob)
	}

	sqlQuery := `
		SELECT chunk_id, bm25(fts_search) AS rank
		FROM fts_search
		WHERE fts_search MATCH ?`
	args := []any{query}

	if repo != "" {
		sqlQuery += ` AND repo = ?`
		args = append(args, repo)
	}
	if pathGlob != "" {
		sqlQuery += ` AND path GLOB ?`
		args = append(args, pathGlob)
	}
	sqlQuery += ` ORDER BY rank LIMIT ?`
	args = append(args, k)

	rows, err := s.readDB.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, ctxerrors.New(ctxerrors.ErrCodeStoreCorrupt, "fts query failed", err).
			WithSuggestion("rebuild the FTS index from stored chunks")
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		var rank float64
		if err := rows.Scan(&h.ChunkID, &rank); err != nil {
			return nil, ctxerrors.StoreError("failed to scan fts row", err)
		}
		// bm25() returns lower-is-better; invert so higher score is better,
		// matching the Retriever's fusion convention.
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// GetOutgoingEdges returns edges where spanID is the source, filtered by
// kinds (all kinds if empty), ordered by confidence desc then
// (target_id, kind) asc.
func (s *SQLiteStore) GetOutgoingEdges(ctx context.Context, spanID string, kinds []EdgeKind) ([]*Edge, error) {
	return s.queryEdges(ctx, "source_span_id", spanID, kinds)
}

// GetIncomingEdges returns edges where spanID is the target, filtered by
// kinds (all kinds if empty), with the same deterministic ordering.
func (s *SQLiteStore) GetIncomingEdges(ctx context.Context, spanID string, kinds []EdgeKind) ([]*Edge, error) {
	return s.queryEdges(ctx, "target_span_id", spanID, kinds)
}

func (s *SQLiteStore) queryEdges(ctx context.Context, column, spanID string, kinds []EdgeKind) ([]*Edge, error) {
	query := fmt.Sprintf(`
		SELECT source_span_id, target_span_id, target_path, target_start, target_end, kind, confidence, provenance, unresolved
		FROM edges WHERE %s = ?`, column)
	args := []any{spanID}

	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, k)
		}
		query += fmt.Sprintf(" AND kind IN (%s)", strings.Join(placeholders, ","))
	}
	targetColumn := "target_span_id"
	if column == "target_span_id" {
		targetColumn = "source_span_id"
	}
	query += fmt.Sprintf(" ORDER BY confidence DESC, %s ASC, kind ASC", targetColumn)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ctxerrors.StoreError("failed to query edges", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		e := &Edge{}
		var unresolved int
		if err := rows.Scan(&e.SourceSpanID, &e.TargetSpanID, &e.TargetPath, &e.TargetStart, &e.TargetEnd, &e.Kind, &e.Confidence, &e.Provenance, &unresolved); err != nil {
			return nil, ctxerrors.StoreError("failed to scan edge row", err)
		}
		e.Unresolved = unresolved != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveEmbeddings upserts one or more embeddings.
func (s *SQLiteStore) SaveEmbeddings(ctx context.Context, embeddings []*Embedding) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return ctxerrors.StoreError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, e := range embeddings {
		buf := encodeVector(e.Vector)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings(chunk_id, model, dim, vector) VALUES (?, ?, ?, ?)
			ON CONFLICT(chunk_id, model) DO UPDATE SET dim = excluded.dim, vector = excluded.vector
		`, e.ChunkID, e.Model, e.Dim, buf); err != nil {
			return ctxerrors.StoreError("failed to save embedding", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ctxerrors.StoreError("failed to commit embeddings", err)
	}
	return nil
}

// GetEmbedding fetches the embedding for (chunkID, model), or nil if
// absent — "no vector lane for this chunk" is a valid, non-error state.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, chunkID, model string) (*Embedding, error) {
	var dim int
	var buf []byte
	err := s.readDB.QueryRowContext(ctx,
		`SELECT dim, vector FROM embeddings WHERE chunk_id = ? AND model = ?`, chunkID, model).Scan(&dim, &buf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ctxerrors.StoreError("failed to read embedding", err)
	}
	return &Embedding{ChunkID: chunkID, Model: model, Dim: dim, Vector: decodeVector(buf)}, nil
}

// RerankCacheGet looks up a cached rerank ordering by key.
func (s *SQLiteStore) RerankCacheGet(ctx context.Context, key string) (*RerankCacheEntry, error) {
	var orderJSON string
	var created time.Time
	err := s.readDB.QueryRowContext(ctx,
		`SELECT order_json, created_at FROM rerank_cache WHERE key = ?`, key).Scan(&orderJSON, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ctxerrors.StoreError("failed to read rerank cache", err)
	}

	var order []RerankedItem
	if err := json.Unmarshal([]byte(orderJSON), &order); err != nil {
		return nil, ctxerrors.StoreError("failed to decode rerank cache entry", err)
	}
	return &RerankCacheEntry{Key: key, Order: order, Created: created}, nil
}

// RerankCachePut writes a rerank cache entry. Entries are immutable once
// written (per spec.md Â§9, never written on a 4xx rerank response).
func (s *SQLiteStore) RerankCachePut(ctx context.Context, entry *RerankCacheEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.Marshal(entry.Order)
	if err != nil {
		return ctxerrors.InternalError("failed to encode rerank cache entry", err)
	}

	_, err = s.writeDB.ExecContext(ctx, `
		INSERT INTO rerank_cache(key, order_json, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, entry.Key, string(data), entry.Created)
	if err != nil {
		return ctxerrors.StoreError("failed to write rerank cache", err)
	}
	return nil
}

// AppendInteraction appends one interaction row. Interactions are
// append-only; the Learner never mutates spans or chunks.
func (s *SQLiteStore) AppendInteraction(ctx context.Context, i *Interaction) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	satisfied := 0
	if i.Satisfied {
		satisfied = 1
	}
	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO interactions(session, query, bundle_id, satisfied, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, i.Session, i.Query, i.BundleID, satisfied, i.Notes, i.CreatedAt)
	if err != nil {
		return ctxerrors.StoreError("failed to append interaction", err)
	}
	return nil
}

// ReadInteractions reads all interactions recorded since the given time.
func (s *SQLiteStore) ReadInteractions(ctx context.Context, since time.Time) ([]*Interaction, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, session, query, bundle_id, satisfied, notes, created_at
		FROM interactions WHERE created_at >= ? ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, ctxerrors.StoreError("failed to read interactions", err)
	}
	defer rows.Close()

	var out []*Interaction
	for rows.Next() {
		i := &Interaction{}
		var satisfied int
		if err := rows.Scan(&i.ID, &i.Session, &i.Query, &i.BundleID, &satisfied, &i.Notes, &i.CreatedAt); err != nil {
			return nil, ctxerrors.StoreError("failed to scan interaction row", err)
		}
		i.Satisfied = satisfied != 0
		out = append(out, i)
	}
	return out, rows.Err()
}

// GetState reads a key from the key-value state table.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.readDB.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", ctxerrors.StoreError("failed to read state", err)
	}
	return value, nil
}

// SetState upserts a key in the key-value state table.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO state(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return ctxerrors.StoreError("failed to write state", err)
	}
	return nil
}

// DeleteFile removes a file and cascades to its spans, chunks, and FTS
// rows (chunks are deleted by cascade when their span is deleted).
func (s *SQLiteStore) DeleteFile(ctx context.Context, repo, path string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return ctxerrors.StoreError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM spans WHERE repo = ? AND path = ?`, repo, path)
	if err != nil {
		return ctxerrors.StoreError("failed to list spans for delete", err)
	}
	var spanIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return ctxerrors.StoreError("failed to scan span id", err)
		}
		spanIDs = append(spanIDs, id)
	}
	rows.Close()

	var chunkIDs []string
	for _, id := range spanIDs {
		if s.lexical != nil {
			crows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE span_id = ?`, id)
			if err != nil {
				return ctxerrors.StoreError("failed to list chunks for delete", err)
			}
			for crows.Next() {
				var cid string
				if err := crows.Scan(&cid); err != nil {
					crows.Close()
					return ctxerrors.StoreError("failed to scan chunk id", err)
				}
				chunkIDs = append(chunkIDs, cid)
			}
			crows.Close()
		} else if _, err := tx.ExecContext(ctx, `
			DELETE FROM fts_search WHERE chunk_id IN (SELECT id FROM chunks WHERE span_id = ?)
		`, id); err != nil {
			return ctxerrors.StoreError("failed to delete fts rows", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE span_id = ?`, id); err != nil {
			return ctxerrors.StoreError("failed to delete chunks", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE source_span_id = ? OR target_span_id = ?`, id, id); err != nil {
			return ctxerrors.StoreError("failed to delete edges", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM spans WHERE repo = ? AND path = ?`, repo, path); err != nil {
		return ctxerrors.StoreError("failed to delete spans", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE repo = ? AND path = ?`, repo, path); err != nil {
		return ctxerrors.StoreError("failed to delete file", err)
	}

	if err := tx.Commit(); err != nil {
		return ctxerrors.StoreError("failed to commit file delete", err)
	}

	if s.lexical != nil && len(chunkIDs) > 0 {
		return s.lexical.Delete(ctx, chunkIDs)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// inClauseQuery builds a query with a `?`-per-id IN clause.
func inClauseQuery(template string, ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return fmt.Sprintf(template, strings.Join(placeholders, ",")), args
}

// encodeVector serializes a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	for _, f := range v {
		binary.Write(buf, binary.LittleEndian, math.Float32bits(f))
	}
	return buf.Bytes()
}

// decodeVector deserializes a float32 slice from little-endian bytes.
func decodeVector(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
