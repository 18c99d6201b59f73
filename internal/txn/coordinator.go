package txn

import (
	"sync"

	"github.com/sqlited/sqlited/internal/statement"
)

// Coordinator owns the process-wide write lock and the per-connection
// transaction states, giving the processor a single entry point for the
// state transitions spec.md §4.3 and §4.4 describe.
type Coordinator struct {
	lock *WriteLock

	mu     sync.Mutex
	states map[ConnID]*State
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{lock: NewWriteLock(), states: make(map[ConnID]*State)}
}

// StateFor returns (creating if necessary) id's transaction state.
func (c *Coordinator) StateFor(id ConnID) *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[id]
	if !ok {
		st = NewState()
		c.states[id] = st
	}
	return st
}

// Forget drops id's transaction state and, if it held the write lock,
// releases it — called when a connection closes.
func (c *Coordinator) Forget(id ConnID) {
	c.mu.Lock()
	delete(c.states, id)
	c.mu.Unlock()
	_ = c.lock.Unlock(id)
}

// ReleaseWrite releases the write lock if id holds it. Unlike Unlock on
// the raw WriteLock, a release by a non-owner is tolerated as a no-op:
// callers use this for cleanup paths that may run after the lock was
// already released by CompleteTransaction.
func (c *Coordinator) ReleaseWrite(id ConnID) {
	if c.lock.HeldBy(id) {
		_ = c.lock.Unlock(id)
	}
}

// WriteLockReleased returns a channel that closes the next time the write
// lock is released, so a Worker can resume any connections it parked
// waiting for it without polling.
func (c *Coordinator) WriteLockReleased() <-chan struct{} {
	return c.lock.Released()
}

// AcquireWrite attempts to take the write lock for id, needed before
// executing any writing statement per spec.md §4.3/§4.4 step 4. Returns
// false on contention; the caller is responsible for creating the
// busy-context and re-parking in the Worker's scheduler.
func (c *Coordinator) AcquireWrite(id ConnID) bool {
	return c.lock.TryLock(id)
}

// CompleteTransaction implements spec.md §4.3's "transaction completion"
// list: restore auto-commit and release the write lock if held. Detaching
// the meta schema is left to the caller, since that requires the engine
// connection.
func (c *Coordinator) CompleteTransaction(id ConnID) {
	st := c.StateFor(id)
	st.End()
	_ = c.lock.Unlock(id)
}

// NeedsWriteLock reports whether executing st requires holding the write
// lock: any writing statement outside a read-only transaction.
func NeedsWriteLock(st *State, stmt statement.Statement) bool {
	if !stmt.IsWriting() {
		return false
	}
	return !st.IsReadOnly()
}
