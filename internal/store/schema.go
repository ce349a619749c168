package store

// schemaVersion is the current database schema version. On open, the
// store applies schemaDDL (idempotent CREATE IF NOT EXISTS statements),
// records schemaVersion, and refuses a database whose recorded version
// is newer. There are no per-version migration steps.
const schemaVersion = 1

// schemaDDL creates the full schema for a fresh database. WAL journaling
// and NORMAL durability are set separately as connection pragmas, not
// schema DDL, since they're a per-connection runtime setting.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	repo         TEXT NOT NULL,
	path         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	indexed_at   DATETIME NOT NULL,
	PRIMARY KEY (repo, path)
);

CREATE TABLE IF NOT EXISTS spans (
	id         TEXT PRIMARY KEY,
	repo       TEXT NOT NULL,
	path       TEXT NOT NULL,
	byte_start INTEGER NOT NULL,
	byte_end   INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	signature  TEXT NOT NULL DEFAULT '',
	doc        TEXT NOT NULL DEFAULT '',
	parents    TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (repo, path) REFERENCES files(repo, path)
);
CREATE INDEX IF NOT EXISTS idx_spans_file ON spans(repo, path);

CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	span_id      TEXT NOT NULL,
	repo         TEXT NOT NULL,
	path         TEXT NOT NULL,
	content      TEXT NOT NULL,
	content_type TEXT NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	start_line   INTEGER NOT NULL,
	end_line     INTEGER NOT NULL,
	created_at   DATETIME NOT NULL,
	FOREIGN KEY (span_id) REFERENCES spans(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chunks_span ON chunks(span_id);

CREATE VIRTUAL TABLE IF NOT EXISTS fts_search USING fts5(
	chunk_id UNINDEXED,
	repo UNINDEXED,
	path UNINDEXED,
	content,
	tokenize = 'porter unicode61'
);

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id TEXT NOT NULL,
	model    TEXT NOT NULL,
	dim      INTEGER NOT NULL,
	vector   BLOB NOT NULL,
	PRIMARY KEY (chunk_id, model),
	FOREIGN KEY (chunk_id) REFERENCES chunks(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS edges (
	source_span_id TEXT NOT NULL,
	target_span_id TEXT NOT NULL DEFAULT '',
	target_path    TEXT NOT NULL DEFAULT '',
	target_start   INTEGER NOT NULL DEFAULT 0,
	target_end     INTEGER NOT NULL DEFAULT 0,
	kind           TEXT NOT NULL,
	confidence     REAL NOT NULL,
	provenance     TEXT NOT NULL,
	unresolved     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_span_id, target_span_id, target_path, kind)
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_span_id, kind);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_span_id, kind);

CREATE TABLE IF NOT EXISTS rerank_cache (
	key        TEXT PRIMARY KEY,
	order_json TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS interactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session    TEXT NOT NULL,
	query      TEXT NOT NULL,
	bundle_id  TEXT NOT NULL,
	satisfied  INTEGER NOT NULL,
	notes      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
`
