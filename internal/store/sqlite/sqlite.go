// Package sqlite implements the store interfaces on an embedded SQLite
// database (modernc.org/sqlite, pure Go). A single process owns the file;
// WAL mode plus a busy timeout provide write serialization, and the
// database/sql pool makes concurrent callers safe.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/emberlab/hearth/internal/store"
)

// DB wraps the sqlite handle and implements every store interface.
type DB struct {
	db   *sql.DB
	path string

	// Per-user last message stamp, to keep created_at strictly
	// increasing within the process even across clock hiccups.
	stampMu sync.Mutex
	stamps  map[string]int64
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations. Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// In-memory databases exist per connection; the pool must not open a
	// second one. A single connection also serializes file writes.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db: db, path: path, stamps: make(map[string]int64)}, nil
}

// Stores returns the store container backed by this database.
func (d *DB) Stores() *store.Stores {
	return &store.Stores{
		Messages:    d,
		SubAgents:   d,
		Templates:   d,
		Tasks:       d,
		Compactions: d,
		Blackboard:  d,
		Metrics:     d,
		Memory:      d,
	}
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

func nowMS() int64 { return time.Now().UnixMilli() }

// stamp returns a per-user strictly increasing epoch-ms timestamp.
func (d *DB) stamp(userID string) int64 {
	d.stampMu.Lock()
	defer d.stampMu.Unlock()
	ts := nowMS()
	if last := d.stamps[userID]; ts <= last {
		ts = last + 1
	}
	d.stamps[userID] = ts
	return ts
}

// unavailable maps an underlying I/O failure to the storage-unavailable
// error kind.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}

// joinList serializes a string slice into the comma-delimited column form.
func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
