// Package txn implements the transaction and write-lock coordinator from
// spec.md §4.3: a process-wide single-writer lock over the shared database
// file, and per-connection transaction state (implicit/explicit, savepoint
// stack, read-only/isolation mode, auto-commit transitions).
package txn

import (
	"sync"

	"github.com/sqlited/sqlited/internal/srverr"
)

// ConnID identifies the connection (processor) holding or waiting on the
// write lock. internal/processor assigns these; txn only needs comparability.
type ConnID uint64

// WriteLock is the non-reentrant, process-wide exclusive lock over the
// shared database file described in spec.md §4.3. At most one connection
// holds it at a time.
type WriteLock struct {
	mu       sync.Mutex
	owner    ConnID
	held     bool
	released chan struct{}
}

// NewWriteLock returns an unheld lock.
func NewWriteLock() *WriteLock { return &WriteLock{released: make(chan struct{})} }

// TryLock attempts to acquire the lock for id, returning immediately
// (never blocks) per spec.md §4.3.
func (l *WriteLock) TryLock(id ConnID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return l.owner == id // already held by id: idempotent, not a second acquisition
	}
	l.held = true
	l.owner = id
	return true
}

// Unlock releases the lock, succeeding only if id currently holds it, and
// wakes every goroutine waiting on Released.
func (l *WriteLock) Unlock(id ConnID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held || l.owner != id {
		return srverr.New(srverr.KindProtocolError, "write lock release by non-owner")
	}
	l.held = false
	l.owner = 0
	close(l.released)
	l.released = make(chan struct{})
	return nil
}

// Released returns a channel that closes the next time the lock is
// released, letting a parked waiter resume without polling (spec.md §9's
// "a processor never blocks a Worker" redesign note).
func (l *WriteLock) Released() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Owner reports the current holder, if any.
func (l *WriteLock) Owner() (ConnID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner, l.held
}

// HeldBy reports whether id currently holds the lock.
func (l *WriteLock) HeldBy(id ConnID) bool {
	owner, held := l.Owner()
	return held && owner == id
}
