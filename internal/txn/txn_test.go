package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/statement"
)

func TestWriteLockExclusivity(t *testing.T) {
	l := NewWriteLock()
	require.True(t, l.TryLock(1))
	require.False(t, l.TryLock(2))
	require.True(t, l.TryLock(1)) // the current holder re-acquiring is a no-op success

	require.Error(t, l.Unlock(2))
	require.NoError(t, l.Unlock(1))
	require.True(t, l.TryLock(2))
}

func TestSavepointStack(t *testing.T) {
	s := NewState()
	s.PushSavepoint("a", statement.Statement{Command: statement.CmdSavepoint})
	require.True(t, s.Active)
	require.False(t, s.Implicit)

	s.PushSavepoint("b", statement.Statement{})
	s.PushSavepoint("c", statement.Statement{})

	require.NoError(t, s.RollbackTo("a"))
	assert.Equal(t, []string{"a"}, s.Savepoint)

	emptied, err := s.Release("a")
	require.NoError(t, err)
	assert.True(t, emptied)
	assert.False(t, s.Active)
}

func TestReleaseUnknownSavepointFails(t *testing.T) {
	s := NewState()
	s.PushSavepoint("a", statement.Statement{})
	_, err := s.Release("nope")
	require.Error(t, err)
}

func TestRewriteBegin(t *testing.T) {
	ro := true
	assert.Equal(t, statement.Immediate, RewriteBegin(statement.TxMode{Behavior: statement.Deferred}))
	assert.Equal(t, statement.Deferred, RewriteBegin(statement.TxMode{Behavior: statement.Deferred, ReadOnly: &ro}))
	assert.Equal(t, statement.Exclusive, RewriteBegin(statement.TxMode{Behavior: statement.Exclusive}))
}

func TestCoordinatorCompleteTransactionReleasesLock(t *testing.T) {
	c := NewCoordinator()
	st := c.StateFor(1)
	st.BeginImplicit(statement.Statement{Command: statement.CmdInsert})
	require.True(t, c.AcquireWrite(1))

	c.CompleteTransaction(1)
	assert.False(t, st.Active)
	_, held := c.lock.Owner()
	assert.False(t, held)
}

func TestNeedsWriteLockRespectsReadOnly(t *testing.T) {
	st := NewState()
	ro := true
	st.BeginExplicit(statement.TxMode{ReadOnly: &ro}, statement.Statement{Command: statement.CmdBegin})

	assert.False(t, NeedsWriteLock(st, statement.Statement{Command: statement.CmdInsert}))
	assert.False(t, NeedsWriteLock(st, statement.Statement{Command: statement.CmdSelect}))
}
