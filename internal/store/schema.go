// Package store provides the SQLite persistence layer for blocks, links,
// provenance, operations and sessions.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);

CREATE TABLE IF NOT EXISTS blocks (
	id              TEXT PRIMARY KEY,
	document_id     TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	order_index     INTEGER NOT NULL,
	parent_block_id TEXT REFERENCES blocks(id) ON DELETE RESTRICT,
	block_type      TEXT NOT NULL,
	tags            TEXT NOT NULL DEFAULT '[]',
	is_deleted      INTEGER NOT NULL DEFAULT 0,
	last_edited_at  DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_blocks_document_order ON blocks(document_id, order_index);
CREATE INDEX IF NOT EXISTS idx_blocks_parent ON blocks(parent_block_id);

CREATE TABLE IF NOT EXISTS order_sequences (
	document_id TEXT PRIMARY KEY,
	next_order  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS semantic_links (
	id                 TEXT PRIMARY KEY,
	source_block_id    TEXT NOT NULL REFERENCES blocks(id) ON DELETE RESTRICT,
	target_block_id    TEXT REFERENCES blocks(id) ON DELETE RESTRICT,
	target_document_id TEXT,
	link_type          TEXT NOT NULL,
	metadata           TEXT NOT NULL DEFAULT '{}',
	created_at         DATETIME NOT NULL,
	CHECK ((target_block_id IS NULL) <> (target_document_id IS NULL)),
	CHECK (link_type <> 'hierarchy' OR target_block_id IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS idx_links_source ON semantic_links(source_block_id);
CREATE INDEX IF NOT EXISTS idx_links_target_block ON semantic_links(target_block_id);

CREATE TABLE IF NOT EXISTS block_provenance (
	id                      TEXT PRIMARY KEY,
	block_id                TEXT NOT NULL REFERENCES blocks(id) ON DELETE RESTRICT,
	source_document_id      TEXT NOT NULL,
	source_block_id         TEXT REFERENCES blocks(id) ON DELETE RESTRICT,
	contribution_type       TEXT NOT NULL,
	contribution_percentage REAL NOT NULL DEFAULT 0 CHECK (contribution_percentage BETWEEN 0 AND 100),
	confidence_score        REAL NOT NULL DEFAULT 0.85 CHECK (confidence_score BETWEEN 0 AND 1),
	created_at              DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provenance_block ON block_provenance(block_id);
CREATE INDEX IF NOT EXISTS idx_provenance_source_block ON block_provenance(source_block_id);

CREATE TRIGGER IF NOT EXISTS trg_provenance_no_update
BEFORE UPDATE ON block_provenance
BEGIN
	SELECT RAISE(ABORT, 'block_provenance is immutable');
END;

CREATE TRIGGER IF NOT EXISTS trg_provenance_no_delete
BEFORE DELETE ON block_provenance
BEGIN
	SELECT RAISE(ABORT, 'block_provenance is immutable');
END;

CREATE TABLE IF NOT EXISTS research_sessions (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	name                TEXT NOT NULL,
	source_document_ids TEXT NOT NULL DEFAULT '[]',
	target_document_id  TEXT,
	status              TEXT NOT NULL DEFAULT 'active',
	metadata            TEXT NOT NULL DEFAULT '{}',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON research_sessions(project_id);

CREATE TABLE IF NOT EXISTS synthesis_operations (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE RESTRICT,
	operation_type  TEXT NOT NULL,
	input_block_ids TEXT NOT NULL DEFAULT '[]',
	output_block_id TEXT NOT NULL REFERENCES blocks(id) ON DELETE RESTRICT,
	ai_reasoning    TEXT NOT NULL DEFAULT '',
	user_approved   INTEGER,
	created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operations_session ON synthesis_operations(session_id);

CREATE TRIGGER IF NOT EXISTS trg_operations_append_only
BEFORE UPDATE ON synthesis_operations
WHEN OLD.user_approved IS NOT NULL
	OR NEW.user_approved IS NULL
	OR NEW.session_id IS NOT OLD.session_id
	OR NEW.operation_type IS NOT OLD.operation_type
	OR NEW.input_block_ids IS NOT OLD.input_block_ids
	OR NEW.output_block_id IS NOT OLD.output_block_id
	OR NEW.ai_reasoning IS NOT OLD.ai_reasoning
	OR NEW.created_at IS NOT OLD.created_at
BEGIN
	SELECT RAISE(ABORT, 'synthesis_operations is append-only');
END;

CREATE TABLE IF NOT EXISTS inbox_imports (
	checksum    TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	document_id TEXT NOT NULL,
	block_count INTEGER NOT NULL DEFAULT 0,
	imported_at DATETIME NOT NULL
);
`

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo carries every query. It is embedded by DB (autocommit) and Tx.
type repo struct {
	q queryer
}

// DB wraps a sql.DB with engine-specific operations.
type DB struct {
	repo
	conn *sql.DB
}

// Tx is a write transaction. It exposes the same operations as DB.
type Tx struct {
	repo
}

// Open opens (or creates) the SQLite database and applies the schema.
// Transactions start with BEGIN IMMEDIATE so that a read-then-write inside
// one transaction cannot interleave with another writer.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{repo: repo{q: conn}, conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WithTx runs fn inside a transaction. The transaction is rolled back when fn
// fails or ctx is done before commit.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := fn(&Tx{repo: repo{q: sqlTx}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Atomic is WithTx expressed over the Writer interface, for services that
// accept narrower store abstractions.
func (db *DB) Atomic(ctx context.Context, fn func(w Writer) error) error {
	return db.WithTx(ctx, func(tx *Tx) error { return fn(tx) })
}
