package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sqlited/sqlited/internal/engine"
	"github.com/sqlited/sqlited/internal/parser"
	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/statement"
	"github.com/sqlited/sqlited/internal/txn"
)

// ErrParked is returned by ExecuteFrame and ResumeParked when a writing
// statement could not immediately acquire the write lock. It is never sent
// to the client: the Worker that owns this Processor must leave the
// connection registered as busy and call ResumeParked again once notified
// (or on the busy-resume pass' own deadline check) instead of treating it
// as a protocol error, per spec.md §9's "a processor never blocks a
// Worker" redesign note.
var ErrParked = errors.New("processor: parked waiting for write lock")

// IsParked reports whether err is (or wraps) ErrParked.
func IsParked(err error) bool { return errors.Is(err, ErrParked) }

// ExecResult is one statement's outcome, framed for the wire layer to
// encode as either a result set or an OK/error packet (spec.md §6).
type ExecResult struct {
	Command      statement.Command
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	LastInsertID int64
	Warning      string // set for the ErrCatalogMissingForExistingFile case
}

// ExecuteFrame runs every statement in one command frame's SQL text in
// order, per spec.md §4.4's command-processing loop, stopping at the first
// error. It drives the parser's Cursor/Ack contract directly: the caller (a
// Worker goroutine) owns this Processor for the whole call, SLEEP(n) waits
// run inline, and the only reason to suspend mid-frame is write-lock
// contention.
//
// If a writing statement cannot immediately acquire the write lock,
// ExecuteFrame stops and returns ErrParked together with every result
// produced so far; the Processor records a Continuation so a later call to
// ResumeParked picks the same statement back up instead of re-parsing the
// frame.
func (p *Processor) ExecuteFrame(ctx context.Context, frame string) ([]ExecResult, error) {
	return p.runFrame(ctx, parser.New(frame), nil, nil)
}

// ResumeParked retries the statement a prior ExecuteFrame or ResumeParked
// call parked on, then continues the same command frame. It is an error to
// call this when the Processor has no parked Continuation.
func (p *Processor) ResumeParked(ctx context.Context) ([]ExecResult, error) {
	cont := p.cont
	if cont == nil {
		return nil, srverr.New(srverr.KindProtocolError, "no parked write to resume")
	}
	p.cont = nil
	return p.runFrame(ctx, cont.Cursor, &cont.Stmt, cont.Results)
}

// runFrame drives cur to completion, optionally retrying retryStmt (a
// statement already produced by cur but not yet acknowledged) before
// resuming the cursor loop, seeded with results already accumulated by an
// earlier, parked attempt at this same frame.
func (p *Processor) runFrame(ctx context.Context, cur *parser.Cursor, retryStmt *statement.Statement, seed []ExecResult) ([]ExecResult, error) {
	results := seed

	park := func(stmt statement.Statement) {
		p.cont = &Continuation{Cursor: cur, Stmt: stmt, Results: results, Reason: "write-lock"}
	}

	if retryStmt != nil {
		stmt := *retryStmt
		res, err := p.executeOne(ctx, stmt)
		if IsParked(err) {
			park(stmt)
			return results, ErrParked
		}
		_ = cur.Advance(parser.AckRemoved)
		if err != nil {
			return results, err
		}
		if !stmt.IsEmpty() {
			results = append(results, res)
		}
	}

	for cur.HasNext() {
		if c := p.consumeCancel(); c.query || c.whole {
			return results, srverr.New(srverr.KindTimeout, "query cancelled")
		}

		stmt, err := cur.Next()
		if err != nil {
			return results, err
		}

		res, err := p.executeOne(ctx, stmt)
		if IsParked(err) {
			park(stmt)
			return results, ErrParked
		}
		_ = cur.Advance(parser.AckRemoved)
		if err != nil {
			return results, err
		}
		if stmt.IsEmpty() {
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// executeOne runs a single classified Statement through permission
// checking, transaction bookkeeping, and engine execution, per spec.md
// §4.4 steps 3-8.
func (p *Processor) executeOne(ctx context.Context, stmt statement.Statement) (ExecResult, error) {
	if stmt.IsEmpty() {
		return ExecResult{Command: stmt.Command}, nil
	}

	if stmt.IsTransaction() || stmt.Command == statement.CmdSetTransaction {
		return p.executeTxControl(ctx, stmt)
	}

	if stmt.IsWriting() {
		return p.executeWriting(ctx, stmt)
	}

	switch stmt.Command {
	case statement.CmdShow:
		return p.executeShow(ctx, stmt)
	case statement.CmdPragma:
		return p.executePassthrough(ctx, stmt.ExecSQLOr(stmt.Text))
	case statement.CmdAttach:
		return p.executePassthrough(ctx, "ATTACH DATABASE '"+stmt.Attach.Path+"' AS "+stmt.Attach.Schema)
	case statement.CmdDetach:
		return p.executePassthrough(ctx, "DETACH DATABASE "+stmt.Attach.Schema)
	case statement.CmdKill:
		return p.executeKill(stmt)
	default:
		return p.executeQueryOrOpaque(ctx, stmt)
	}
}

// executeTxControl handles BEGIN/COMMIT/END/ROLLBACK/SAVEPOINT/RELEASE/SET
// TRANSACTION, which bypass checkPermission entirely per spec.md §4.4.
func (p *Processor) executeTxControl(ctx context.Context, stmt statement.Statement) (ExecResult, error) {
	st := p.Coord.StateFor(p.connID)

	switch stmt.Command {
	case statement.CmdBegin:
		mode := *stmt.TxMode
		mode.Behavior = txn.RewriteBegin(mode)
		if st.Active {
			return ExecResult{}, srverr.New(srverr.KindProtocolError, "transaction already active")
		}
		st.BeginExplicit(mode, stmt)
		if err := p.dbExec(ctx, "BEGIN "+string(mode.Behavior)); err != nil {
			st.End()
			return ExecResult{}, err
		}
		p.setState(StateSleepInTx)
		return ExecResult{Command: stmt.Command}, nil

	case statement.CmdSetTransaction:
		mode := *stmt.TxMode
		if st.Active {
			st.Mode = mode
		}
		return ExecResult{Command: stmt.Command}, nil

	case statement.CmdSavepoint:
		st.PushSavepoint(stmt.SavepointName, stmt)
		if err := p.dbExec(ctx, "SAVEPOINT "+quoteIdent(stmt.SavepointName)); err != nil {
			return ExecResult{}, err
		}
		p.setState(StateSleepInTx)
		return ExecResult{Command: stmt.Command}, nil

	case statement.CmdRelease:
		if err := p.dbExec(ctx, "RELEASE "+quoteIdent(stmt.SavepointName)); err != nil {
			return ExecResult{}, err
		}
		emptied, err := st.Release(stmt.SavepointName)
		if err != nil {
			return ExecResult{}, err
		}
		if emptied {
			p.completeTransaction()
		}
		return ExecResult{Command: stmt.Command}, nil

	case statement.CmdCommit, statement.CmdEnd:
		if err := p.dbExec(ctx, "COMMIT"); err != nil {
			return ExecResult{}, srverr.Wrap(srverr.KindImplicitCommitError, err, "commit failed")
		}
		p.completeTransaction()
		return ExecResult{Command: stmt.Command}, nil

	case statement.CmdRollback:
		if stmt.SavepointName == "" {
			if err := p.dbExec(ctx, "ROLLBACK"); err != nil {
				return ExecResult{}, err
			}
			p.completeTransaction()
			return ExecResult{Command: stmt.Command}, nil
		}
		if err := p.dbExec(ctx, "ROLLBACK TO "+quoteIdent(stmt.SavepointName)); err != nil {
			return ExecResult{}, err
		}
		if err := st.RollbackTo(stmt.SavepointName); err != nil {
			return ExecResult{}, err
		}
		p.setState(StateSleepInTx)
		return ExecResult{Command: stmt.Command}, nil
	}

	return ExecResult{}, srverr.New(srverr.KindProtocolError, "unreachable tx-control command %s", stmt.Command)
}

// completeTransaction restores auto-commit and releases the write lock,
// per spec.md §4.3's transaction-completion list.
func (p *Processor) completeTransaction() {
	p.Coord.CompleteTransaction(p.connID)
	p.setState(StateSleep)
}

// executeWriting implements checkPermission, checkReadOnly, write-lock
// acquisition with busy-parking, the implicit BEGIN IMMEDIATE wrap, and
// either a meta.Apply or a direct engine Exec, per spec.md §4.4 steps 3-7.
func (p *Processor) executeWriting(ctx context.Context, stmt statement.Statement) (ExecResult, error) {
	if err := p.checkPermission(ctx, stmt); err != nil {
		return ExecResult{}, err
	}

	st := p.Coord.StateFor(p.connID)
	if st.IsReadOnly() {
		return ExecResult{}, srverr.New(srverr.KindReadOnlyViolation, "write statement in read-only transaction")
	}

	if err := p.tryAcquireWriteLock(); err != nil {
		return ExecResult{}, err
	}

	implicit := st.AutoCommit()
	if implicit {
		st.BeginImplicit(stmt)
		if err := p.dbExec(ctx, "BEGIN IMMEDIATE"); err != nil {
			st.End()
			p.Coord.ReleaseWrite(p.connID)
			return ExecResult{}, err
		}
	}

	p.setState(StateWrite)

	var res ExecResult
	var err error
	switch {
	case stmt.Command == statement.CmdCreateDatabase:
		res, err = p.createDatabase(ctx, stmt)
	case stmt.Command == statement.CmdDropDatabase:
		err = p.Meta.Apply(ctx, p.dbConn, stmt)
		res = ExecResult{Command: stmt.Command}
	case isMetaCommand(stmt.Command):
		err = p.Meta.Apply(ctx, p.dbConn, stmt)
		res = ExecResult{Command: stmt.Command}
	default:
		res, err = p.execAffectingRows(ctx, stmt)
	}

	if err != nil {
		if implicit {
			if rbErr := p.dbExec(ctx, "ROLLBACK"); rbErr != nil {
				// Implicit rollback itself failed: the connection's state is
				// no longer trustworthy, so it is torn down rather than left
				// straddling a transaction the client doesn't know about.
				p.setState(StateStopped)
				st.End()
				p.Coord.ReleaseWrite(p.connID)
				return res, srverr.Wrap(srverr.KindIOError, rbErr, "implicit rollback failed after %v", err)
			}
			st.End()
			p.Coord.ReleaseWrite(p.connID)
		}
		p.setState(StateSleep)
		return res, err
	}

	if implicit {
		if cErr := p.dbExec(ctx, "COMMIT"); cErr != nil {
			st.End()
			p.Coord.ReleaseWrite(p.connID)
			p.setState(StateSleep)
			return res, srverr.Wrap(srverr.KindImplicitCommitError, cErr, "implicit commit failed")
		}
		st.End()
		p.Coord.ReleaseWrite(p.connID)
		p.setState(StateSleep)
	} else {
		p.setState(StateSleepInTx)
	}
	return res, nil
}

// tryAcquireWriteLock makes one non-blocking attempt at the process-wide
// write lock, per spec.md §9's "a processor never blocks a Worker"
// redesign note. On contention it records (or reuses) a BusyContext and
// returns ErrParked; the caller's Worker retries via ResumeParked from its
// busy-resume pass instead of this method ever sleeping. BusyTimeout < 0
// waits forever; BusyTimeout == 0 fails immediately on contention.
func (p *Processor) tryAcquireWriteLock() error {
	if p.Coord.AcquireWrite(p.connID) {
		if p.busy != nil {
			p.setState(p.busy.PrevState)
			p.busy = nil
		}
		return nil
	}

	if p.busy == nil {
		infinite := p.Tunables.BusyTimeout < 0
		deadline := time.Time{}
		if !infinite {
			deadline = time.Now().Add(p.Tunables.BusyTimeout)
		}
		p.busy = &BusyContext{Deadline: deadline, Infinite: infinite, OnWriteLock: true, PrevState: p.state}
		p.setState(StateBusy)
	}

	if p.busy.Canceled {
		p.setState(p.busy.PrevState)
		p.busy = nil
		return srverr.New(srverr.KindTimeout, "cancelled while waiting for write lock")
	}
	if !p.busy.Infinite && !time.Now().Before(p.busy.Deadline) {
		p.setState(p.busy.PrevState)
		p.busy = nil
		return srverr.New(srverr.KindBusy, "timed out waiting for write lock")
	}
	return ErrParked
}

// checkPermission implements spec.md §4.4 step 3: superusers bypass
// entirely; everyone else needs the privilege matching the statement's
// command on the current database.
func (p *Processor) checkPermission(ctx context.Context, stmt statement.Statement) error {
	if p.SARole {
		return nil
	}
	priv := requiredPrivilege(stmt.Command)
	if priv == "" {
		return nil
	}
	ok, err := p.Meta.HasPrivilege(ctx, p.Host, p.User, p.Database, priv)
	if err != nil {
		return err
	}
	if !ok {
		return srverr.New(srverr.KindPermissionDenied, "%s@%s lacks %s privilege on %s", p.User, p.Host, priv, p.Database)
	}
	return nil
}

// requiredPrivilege maps a writing command to the privilege name spec.md
// §4.2's grant table stores, following the frontend protocol's MySQL-wire-
// compatible privilege names (the same convention internal/auth's method
// naming follows).
func requiredPrivilege(cmd statement.Command) string {
	switch cmd {
	case statement.CmdInsert:
		return "insert"
	case statement.CmdUpdate:
		return "update"
	case statement.CmdDelete:
		return "delete"
	case statement.CmdCreateDatabase:
		return "create"
	case statement.CmdDropDatabase:
		return "drop"
	case statement.CmdCreateUser, statement.CmdAlterUser, statement.CmdDropUser, statement.CmdGrant, statement.CmdRevoke:
		return "grant"
	default:
		return ""
	}
}

// createDatabase implements CREATE DATABASE's file-creation side,
// resolving Open Question (a): when IF NOT EXISTS is given and the
// underlying file already exists on disk but no catalog row does, the
// existing file is registered in the catalog and the statement succeeds
// carrying a warning, never as a UniqueViolation or a silent success.
func (p *Processor) createDatabase(ctx context.Context, stmt statement.Statement) (ExecResult, error) {
	d := stmt.Database
	existing, err := p.Meta.CatalogLookup(ctx, d.Name)
	if err != nil {
		return ExecResult{}, err
	}
	if existing != nil {
		if d.IfExists {
			return ExecResult{Command: stmt.Command}, nil
		}
		return ExecResult{}, srverr.New(srverr.KindUniqueViolation, "database %s already exists", d.Name)
	}

	path := d.Name + ".db"
	if d.HasDir {
		path = filepath.Join(d.Dir, d.Name+".db")
	}
	if _, statErr := os.Stat(path); statErr == nil {
		if !d.IfExists {
			return ExecResult{}, srverr.New(srverr.KindUniqueViolation, "database file %s already exists", path)
		}
		if err := p.Meta.Apply(ctx, p.dbConn, stmt); err != nil {
			return ExecResult{}, err
		}
		return ExecResult{Command: stmt.Command, Warning: engine.ErrCatalogMissingForExistingFile.Error()}, nil
	}

	conn, err := p.Engine.Open(ctx, path)
	if err != nil {
		return ExecResult{}, err
	}
	conn.Close()

	if err := p.Meta.Apply(ctx, p.dbConn, stmt); err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Command: stmt.Command}, nil
}

func isMetaCommand(cmd statement.Command) bool {
	switch cmd {
	case statement.CmdCreateUser, statement.CmdAlterUser, statement.CmdDropUser,
		statement.CmdCreateDatabase, statement.CmdDropDatabase,
		statement.CmdGrant, statement.CmdRevoke:
		return true
	default:
		return false
	}
}

// execAffectingRows runs a non-meta writing statement (INSERT/UPDATE/DELETE,
// including a TRUNCATE re-tagged as DELETE) against the session's database
// connection.
func (p *Processor) execAffectingRows(ctx context.Context, stmt statement.Statement) (ExecResult, error) {
	sqlText := stmt.ExecSQLOr(stmt.Text)
	if stmt.Truncate != nil {
		sqlText = "DELETE FROM " + quoteIdent(stmt.Truncate.Table)
	}
	res, err := p.dbConn.Exec(ctx, sqlText)
	if err != nil {
		return ExecResult{}, classifyEngineErr(err)
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return ExecResult{Command: stmt.Command, RowsAffected: affected, LastInsertID: lastID}, nil
}

// executeQueryOrOpaque covers SELECT (including its SLEEP(n) and FOR
// UPDATE handling) and any other non-writing, non-transaction-control
// statement not otherwise special-cased.
func (p *Processor) executeQueryOrOpaque(ctx context.Context, stmt statement.Statement) (ExecResult, error) {
	if stmt.Command == statement.CmdSelect && stmt.SleepArg != nil {
		if err := p.sleep(ctx, time.Duration(*stmt.SleepArg)*time.Second); err != nil {
			return ExecResult{}, err
		}
	}

	// ForUpdate was already stripped from ExecSQL by the recognizer;
	// sqlite has no row-level locking to apply it against.
	return p.runQuery(ctx, stmt.Command, stmt.ExecSQLOr(stmt.Text))
}

func (p *Processor) runQuery(ctx context.Context, cmd statement.Command, sqlText string) (ExecResult, error) {
	rows, err := p.dbConn.Query(ctx, sqlText)
	if err != nil {
		return ExecResult{}, classifyEngineErr(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ExecResult{}, classifyEngineErr(err)
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ExecResult{}, classifyEngineErr(err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return ExecResult{}, classifyEngineErr(err)
	}
	return ExecResult{Command: cmd, Columns: cols, Rows: out}, nil
}

// sleep blocks for d, honoring ctx cancellation and an async cancel
// request, implementing the SELECT ... SLEEP(n) shape from spec.md §4.1.
func (p *Processor) sleep(ctx context.Context, d time.Duration) error {
	prevState := p.state
	p.setState(StateSleep)
	defer p.setState(prevState)

	timer := time.NewTimer(d)
	defer timer.Stop()
	const pollInterval = 20 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return srverr.Wrap(srverr.KindTimeout, ctx.Err(), "sleep cancelled")
		case <-ticker.C:
			if c := p.consumeCancel(); c.query || c.whole {
				return srverr.New(srverr.KindTimeout, "sleep cancelled")
			}
		}
	}
}

// executeShow answers the SHOW family either from the meta registry
// (GRANTS, USERS, DATABASES) or by delegating to the engine for
// schema-introspection variants that read sqlite_master directly.
func (p *Processor) executeShow(ctx context.Context, stmt statement.Statement) (ExecResult, error) {
	switch stmt.Show.Kind {
	case statement.ShowDatabases:
		return p.runQuery(ctx, stmt.Command, `select db, coalesce(dir, '') from "`+p.Meta.Alias()+`".catalog`)
	case statement.ShowUsers:
		return p.runQuery(ctx, stmt.Command, `select host, user, protocol, auth_method, sa from "`+p.Meta.Alias()+`".user`)
	case statement.ShowGrants:
		user, host := p.User, p.Host
		if stmt.Show.ForUser != nil {
			user, host = stmt.Show.ForUser.User, stmt.Show.ForUser.Host
		}
		return p.runQuery(ctx, stmt.Command,
			`select host, user, db from "`+p.Meta.Alias()+`".db where host = '`+host+`' and user = '`+user+`'`)
	case statement.ShowTables:
		return p.runQuery(ctx, stmt.Command, "select name from sqlite_master where type = 'table'")
	case statement.ShowColumns:
		return p.runQuery(ctx, stmt.Command, "pragma table_info("+quoteIdent(stmt.Show.Target)+")")
	case statement.ShowIndexes:
		return p.runQuery(ctx, stmt.Command, "pragma index_list("+quoteIdent(stmt.Show.Target)+")")
	case statement.ShowCreateTable:
		return p.runQuery(ctx, stmt.Command, "select sql from sqlite_master where type = 'table' and name = "+quoteLiteral(stmt.Show.Target))
	case statement.ShowCreateIndex:
		return p.runQuery(ctx, stmt.Command, "select sql from sqlite_master where type = 'index' and name = "+quoteLiteral(stmt.Show.Target))
	case statement.ShowProcesslist:
		// Returns the column header with no rows: a lone processor has
		// no view of other connections. The full connection list is
		// exposed only through internal/server's ProcessList.
		return ExecResult{Command: stmt.Command, Columns: []string{"id", "user", "host", "state"}}, nil
	case statement.ShowStatus:
		return ExecResult{Command: stmt.Command, Columns: []string{"variable", "value"}}, nil
	default:
		return ExecResult{}, srverr.New(srverr.KindProtocolError, "unhandled SHOW kind %s", stmt.Show.Kind)
	}
}

// executeKill relays a KILL to internal/server's cross-connection
// registry over the Kills channel it wired into this Processor at
// dispatch time; resolving the target session id to its Processor and
// calling RequestCancel on it happens there, since this Processor cannot
// reach another one directly (spec.md §9 redesign note).
func (p *Processor) executeKill(stmt statement.Statement) (ExecResult, error) {
	if p.Kills == nil {
		return ExecResult{Command: stmt.Command}, srverr.New(srverr.KindProtocolError, "KILL not supported on this connection")
	}
	req := KillRequest{TargetSessionID: uint32(stmt.Kill.ID), Query: stmt.Kill.Query}
	select {
	case p.Kills <- req:
	default:
		return ExecResult{}, srverr.New(srverr.KindBusy, "kill request queue full")
	}
	return ExecResult{Command: stmt.Command}, nil
}

// executePassthrough runs SQL the processor doesn't otherwise interpret
// (PRAGMA writes, ATTACH, DETACH) directly against the engine connection.
func (p *Processor) executePassthrough(ctx context.Context, sqlText string) (ExecResult, error) {
	res, err := p.dbConn.Exec(ctx, sqlText)
	if err != nil {
		return ExecResult{}, classifyEngineErr(err)
	}
	affected, _ := res.RowsAffected()
	return ExecResult{RowsAffected: affected}, nil
}

func (p *Processor) dbExec(ctx context.Context, sqlText string) error {
	_, err := p.dbConn.Exec(ctx, sqlText)
	if err != nil {
		return classifyEngineErr(err)
	}
	return nil
}

func classifyEngineErr(err error) error {
	if err == nil {
		return nil
	}
	if srverr.Is(err, srverr.KindBusy) || srverr.Is(err, srverr.KindUniqueViolation) {
		return err
	}
	if _, ok := err.(*srverr.Error); ok {
		return err
	}
	return srverr.Wrap(srverr.KindIOError, err, "engine error")
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
		} else {
			out = append(out, s[i])
		}
	}
	out = append(out, '\'')
	return string(out)
}
