// Package sqlitestore persists catalog nodes in a local SQLite database.
package sqlitestore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	id        INTEGER PRIMARY KEY,
	parent_id INTEGER NOT NULL DEFAULT -1,
	class     TEXT NOT NULL DEFAULT '',
	update_id INTEGER NOT NULL DEFAULT 0,
	doc       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS node_seq (
	id INTEGER PRIMARY KEY AUTOINCREMENT
);

CREATE TABLE IF NOT EXISTS metas (
	key   TEXT PRIMARY KEY,
	path  TEXT NOT NULL,
	mtime DATETIME NOT NULL,
	doc   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);
CREATE INDEX IF NOT EXISTS idx_metas_path ON metas(path);
`

// Store is a registry backend over database/sql and go-sqlite3.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
