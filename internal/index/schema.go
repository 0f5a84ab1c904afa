// Package index provides a SQLite-backed store of per-note metadata: the
// parent folder, body tags, frontmatter tags, and headings.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// frontmatter_tags is NULL when the note has no tag field in its
// frontmatter; readers treat NULL and '[]' the same.
const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	path             TEXT PRIMARY KEY,
	parent           TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	checksum         TEXT NOT NULL DEFAULT '',
	body_tags        TEXT NOT NULL DEFAULT '[]',
	frontmatter_tags TEXT,
	headings         TEXT NOT NULL DEFAULT '[]',
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notes_parent ON notes(parent);
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
