package engine

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/sqlited/sqlited/internal/srverr"
)

// sqliteConn wraps a *sql.DB opened against the "sqlite" driver
// (modernc.org/sqlite, registered via its package init). Interrupt cancels
// the context of whatever statement is currently in flight; modernc.org/sqlite
// ties a query's progress handler to its context, so cancellation surfaces
// as a SQLITE_INTERRUPT error from the driver.
type sqliteConn struct {
	db *sql.DB

	mu        sync.Mutex
	cancelCur context.CancelFunc
}

func (c *sqliteConn) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelCur = cancel
	c.mu.Unlock()
	return ctx, cancel
}

// Interrupt cancels whatever statement is currently executing. A no-op if
// nothing is in flight.
func (c *sqliteConn) Interrupt() {
	c.mu.Lock()
	cancel := c.cancelCur
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *sqliteConn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	ctx, cancel := c.begin(ctx)
	defer cancel()
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

func (c *sqliteConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	ctx, cancel := c.begin(ctx)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, classify(err)
	}
	return &cancelingRows{Rows: rows, cancel: cancel}, nil
}

func (c *sqliteConn) Close() error {
	c.Interrupt()
	return c.db.Close()
}

// cancelingRows releases the per-statement cancel func once the result set
// is closed or exhausted, so long-lived connections don't accumulate
// contexts across many short-lived queries.
type cancelingRows struct {
	*sql.Rows
	cancel context.CancelFunc
	closed bool
}

func (r *cancelingRows) Close() error {
	if !r.closed {
		r.closed = true
		defer r.cancel()
	}
	return r.Rows.Close()
}

// classify maps a raw driver error onto the typed kinds spec.md §5 names.
// modernc.org/sqlite does not export a stable error-code type across
// versions, so classification matches on the SQLITE_* tokens its Error()
// strings are documented to contain, the same pragmatic approach the
// frontend protocol's own error mapping takes for third-party engine
// errors.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked"):
		return srverr.Wrap(srverr.KindBusy, err, "engine busy")
	case strings.Contains(msg, "SQLITE_CONSTRAINT_UNIQUE") || strings.Contains(msg, "UNIQUE constraint"):
		return srverr.Wrap(srverr.KindUniqueViolation, err, "constraint violation")
	case strings.Contains(msg, "SQLITE_INTERRUPT") || strings.Contains(msg, "interrupted"):
		return srverr.Wrap(srverr.KindTimeout, err, "statement interrupted")
	case strings.Contains(msg, "SQLITE_READONLY"):
		return srverr.Wrap(srverr.KindReadOnlyViolation, err, "write attempted in read-only context")
	default:
		return srverr.Wrap(srverr.KindIOError, err, "engine error")
	}
}
