package txn

import (
	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/statement"
)

// State is one connection's transaction state: mode, implicit flag, the
// first statement that opened it, and the savepoint stack (ordered,
// innermost last), per spec.md §3/§4.3.
type State struct {
	Active    bool
	Implicit  bool
	Mode      statement.TxMode
	First     *statement.Statement
	Savepoint []string // stack; Savepoint[len-1] is innermost
}

// NewState returns an auto-commit (inactive) state.
func NewState() *State { return &State{} }

// AutoCommit reports whether no transaction is currently open.
func (s *State) AutoCommit() bool { return !s.Active }

// BeginExplicit opens an explicit transaction (BEGIN/START), per spec.md §3:
// "created ... on BEGIN/SAVEPOINT (explicit)".
func (s *State) BeginExplicit(mode statement.TxMode, first statement.Statement) {
	s.Active = true
	s.Implicit = false
	s.Mode = mode
	s.First = &first
	s.Savepoint = nil
}

// BeginImplicit opens the implicit BEGIN IMMEDIATE wrapper spec.md §4.3
// describes for a writing statement in auto-commit mode.
func (s *State) BeginImplicit(first statement.Statement) {
	s.Active = true
	s.Implicit = true
	s.Mode = statement.TxMode{Behavior: statement.Immediate, Isolation: statement.Serializable}
	s.First = &first
	s.Savepoint = nil
}

// PushSavepoint records a new savepoint on top of the stack. Per spec.md §3,
// a bare SAVEPOINT with no open transaction also begins one (explicit).
func (s *State) PushSavepoint(name string, first statement.Statement) {
	if !s.Active {
		s.BeginExplicit(statement.DefaultTxMode(), first)
	}
	s.Savepoint = append(s.Savepoint, name)
}

// Release pops the stack down to and including name. If the stack empties,
// auto-commit is restored (the caller must then release the write lock and
// detach the meta schema, per spec.md §4.3's transaction-completion list).
// Releasing an unknown name is a protocol error.
func (s *State) Release(name string) (emptied bool, err error) {
	idx := s.indexOf(name)
	if idx < 0 {
		return false, srverr.New(srverr.KindProtocolError, "no such savepoint: %s", name)
	}
	s.Savepoint = s.Savepoint[:idx]
	if len(s.Savepoint) == 0 {
		s.End()
		return true, nil
	}
	return false, nil
}

// RollbackTo pops the stack to (but, per spec.md §4.3, inclusive of any
// rollback effect on) name: entries nested inside name are discarded, name
// itself remains on the stack so it can be targeted again.
func (s *State) RollbackTo(name string) error {
	idx := s.indexOf(name)
	if idx < 0 {
		return srverr.New(srverr.KindProtocolError, "no such savepoint: %s", name)
	}
	s.Savepoint = s.Savepoint[:idx+1]
	return nil
}

func (s *State) indexOf(name string) int {
	for i := len(s.Savepoint) - 1; i >= 0; i-- {
		if s.Savepoint[i] == name {
			return i
		}
	}
	return -1
}

// End finishes the whole transaction unconditionally (COMMIT/END/ROLLBACK
// with no target), restoring auto-commit.
func (s *State) End() {
	s.Active = false
	s.Implicit = false
	s.Savepoint = nil
	s.First = nil
	s.Mode = statement.TxMode{}
}

// IsReadOnly reports whether writes are currently rejected, per
// checkReadOnly in spec.md §4.4. Unspecified (nil) ReadOnly inherits the
// session default of false.
func (s *State) IsReadOnly() bool {
	return s.Active && s.Mode.ReadOnly != nil && *s.Mode.ReadOnly
}

// RewriteBegin implements spec.md §4.3's wire rewrite: "BEGIN in auto-commit
// with DEFERRED behavior is rewritten to BEGIN IMMEDIATE unless the
// transaction is explicitly read-only, in which case plain BEGIN" — deferred
// mode can't later upgrade out of a busy condition.
func RewriteBegin(mode statement.TxMode) statement.Behavior {
	if mode.Behavior != statement.Deferred {
		return mode.Behavior
	}
	if mode.ReadOnly != nil && *mode.ReadOnly {
		return statement.Deferred
	}
	return statement.Immediate
}
