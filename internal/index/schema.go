// Package index provides the SQLite-backed document index notes are resolved against.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS vaults (
	name TEXT PRIMARY KEY,
	rank INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	vault       TEXT NOT NULL,
	fname       TEXT NOT NULL,
	id          TEXT NOT NULL,
	path        TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	checksum    TEXT NOT NULL DEFAULT '',
	content     BLOB NOT NULL,
	body_offset INTEGER NOT NULL DEFAULT 0,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (vault, fname)
);

CREATE INDEX IF NOT EXISTS idx_notes_id ON notes(id);
CREATE INDEX IF NOT EXISTS idx_notes_path ON notes(vault, path);

CREATE TABLE IF NOT EXISTS links (
	source_vault TEXT NOT NULL,
	source_fname TEXT NOT NULL,
	target       TEXT NOT NULL,
	vault        TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL DEFAULT 'ref',
	UNIQUE(source_vault, source_fname, target, vault, type)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_vault, source_fname);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
