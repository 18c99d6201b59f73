// Package engine defines the minimal capability spec.md §1 requires of the
// embedded file-backed SQL engine — open a connection, execute SQL, stream
// results, interrupt an in-progress statement, and report busy/constraint
// errors as the typed kinds the rest of the system understands — and a
// concrete implementation on top of modernc.org/sqlite.
package engine

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/sqlited/sqlited/internal/srverr"
)

// Engine opens logical databases by file path. One Engine instance is
// shared process-wide; each logical database gets its own *sql.DB. Writes
// are serialized by internal/txn's single process-wide write lock, not per
// database.
type Engine interface {
	Open(ctx context.Context, path string) (Conn, error)
}

// Conn is one logical database's capability surface, as described in
// spec.md §1: execute, stream, interrupt, classify.
type Conn interface {
	// Exec runs a non-query statement and reports rows affected / last
	// insert id where the driver supports them.
	Exec(ctx context.Context, sql string, args ...any) (Result, error)
	// Query runs a statement expected to stream rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	// Interrupt aborts whatever statement is currently executing on this
	// connection, used when a processor is cancelled mid-query.
	Interrupt()
	Close() error
}

// Result mirrors database/sql.Result; a thin alias keeps internal/processor
// from importing database/sql directly.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Rows mirrors the subset of *sql.Rows the processor's result-streaming
// loop needs.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// ErrCatalogMissingForExistingFile is returned by callers orchestrating
// CREATE DATABASE IF NOT EXISTS when the underlying file already exists but
// no catalog row does (spec.md §9 Open Question (a)): a distinct
// recoverable state, not an error and not a silent success.
var ErrCatalogMissingForExistingFile = srverr.New(srverr.KindIOError, "database file exists with no catalog entry")

// New returns the modernc.org/sqlite-backed Engine.
func New() Engine { return &sqliteEngine{} }

type sqliteEngine struct{}

func (sqliteEngine) Open(ctx context.Context, path string) (Conn, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, srverr.Wrap(srverr.KindIOError, err, "open database file %q", path)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, srverr.Wrap(srverr.KindIOError, err, "open database file %q", path)
	}
	return &sqliteConn{db: db}, nil
}
