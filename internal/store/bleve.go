package store

import (
	"context"
	"os"

	"github.com/blevesearch/bleve/v2"

	ctxerrors "github.com/Aman-CERP/ctxengine/internal/errors"
)

// LexicalIndex is the alternate lexical backend that SQLiteStore routes
// FTSSearch, chunk upserts and chunk deletes through when one is set;
// BleveIndex implements it. The default FTS5 path lives inside
// SQLiteStore and does not implement this interface.
// Selecting between them is a Store.BM25Backend config switch, not a
// retriever-level decision — both share one engine and transaction
// scope when "sqlite" is selected; "bleve" trades that for a separate
// BoltDB-backed index (documented tradeoff in Policy configuration).
type LexicalIndex interface {
	Index(ctx context.Context, records []FTSRecord) error
	Search(ctx context.Context, query string, k int, repo, pathGlob string) ([]FTSHit, error)
	Delete(ctx context.Context, chunkIDs []string) error
	Close() error
}

type bleveDoc struct {
	Repo    string `json:"repo"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// BleveIndex is the legacy single-process alternative to the SQLite
// FTS5 backend, kept wired behind the Store.BM25Backend switch that
// OpenWithBackend reads.
type BleveIndex struct {
	index bleve.Index
	path  string
}

// OpenBleveIndex opens (creating if necessary) a Bleve index at path.
func OpenBleveIndex(path string) (*BleveIndex, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(path, mapping)
	}
	if err != nil {
		return nil, ctxerrors.New(ctxerrors.ErrCodeStoreCorrupt, "failed to open bleve index", err).
			WithSuggestion("delete " + path + " and rebuild from stored chunks")
	}
	return &BleveIndex{index: idx, path: path}, nil
}

// Index adds or updates FTS records in a single batch.
func (b *BleveIndex) Index(ctx context.Context, records []FTSRecord) error {
	batch := b.index.NewBatch()
	for _, r := range records {
		doc := bleveDoc{Repo: r.Repo, Path: r.Path, Content: r.Content}
		if err := batch.Index(r.ChunkID, doc); err != nil {
			return ctxerrors.StoreError("failed to stage bleve document", err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return ctxerrors.StoreError("failed to commit bleve batch", err)
	}
	return nil
}

// Search returns up to k chunk hits ranked by Bleve's native scoring,
// optionally filtered by repo and path prefix (Bleve has no glob
// matcher; pathGlob is treated as a path prefix).
func (b *BleveIndex) Search(ctx context.Context, query string, k int, repo, pathGlob string) ([]FTSHit, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("content")

	var searchQuery = bleve.Query(q)
	if repo != "" || pathGlob != "" {
		conjunction := bleve.NewConjunctionQuery(q)
		if repo != "" {
			rq := bleve.NewMatchQuery(repo)
			rq.SetField("repo")
			conjunction.AddQuery(rq)
		}
		if pathGlob != "" {
			pq := bleve.NewPrefixQuery(pathGlob)
			pq.SetField("path")
			conjunction.AddQuery(pq)
		}
		searchQuery = conjunction
	}

	req := bleve.NewSearchRequest(searchQuery)
	req.Size = k

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ctxerrors.New(ctxerrors.ErrCodeStoreCorrupt, "bleve search failed", err).
			WithSuggestion("rebuild the bleve index from stored chunks")
	}

	hits := make([]FTSHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, FTSHit{ChunkID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Delete removes documents by chunk id.
func (b *BleveIndex) Delete(ctx context.Context, chunkIDs []string) error {
	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return ctxerrors.StoreError("failed to delete bleve documents", err)
	}
	return nil
}

// Close closes the underlying Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// RemoveBleveIndex deletes a Bleve index directory from disk. Used when
// rebuilding after corruption is detected.
func RemoveBleveIndex(path string) error {
	return os.RemoveAll(path)
}
