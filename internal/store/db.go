// Package store is the durable local message store: a SQLite table of
// messages with a single writer goroutine and reactive per-room streams.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for messages.db.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode and a busy timeout, so
// stream readers never block the writer.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
