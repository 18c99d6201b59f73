// Package processor implements the per-connection protocol state machine
// from spec.md §4.4: authentication, command execution, result streaming,
// and flow control, rebuilt on Go channels per spec.md §9's Go-native
// redesign notes (see SPEC_FULL.md).
package processor

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sqlited/sqlited/internal/auth"
	"github.com/sqlited/sqlited/internal/engine"
	"github.com/sqlited/sqlited/internal/meta"
	"github.com/sqlited/sqlited/internal/parser"
	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/statement"
	"github.com/sqlited/sqlited/internal/txn"
)

// State is one of the NEW → AUTH → {SLEEP ↔ READ → (BUSY) → WRITE →
// SLEEP|SLEEP_IN_TX} → STOPPED → CLOSED states from spec.md §4.4.
type State int

const (
	StateNew State = iota
	StateAuth
	StateSleep
	StateRead
	StateBusy
	StateWrite
	StateSleepInTx
	StateStopped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAuth:
		return "AUTH"
	case StateSleep:
		return "SLEEP"
	case StateRead:
		return "READ"
	case StateBusy:
		return "BUSY"
	case StateWrite:
		return "WRITE"
	case StateSleepInTx:
		return "SLEEP_IN_TX"
	case StateStopped:
		return "STOPPED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// KillRequest is one connection's ask to cancel another, relayed through
// internal/server since no Processor can reach another directly.
type KillRequest struct {
	TargetSessionID uint32
	Query           bool // true = KILL QUERY, false = KILL CONNECTION
}

// Handle is the opaque, generational reference a Worker hands a Server or
// another component instead of a back-pointer, per spec.md §9's "cyclic
// ownership" redesign note.
type Handle struct {
	WorkerID   uint32
	Slot       uint32
	Generation uint32
}

// Tunables mirror the JVM-property-shaped knobs in spec.md §6, carried as
// plain fields instead (wired from internal/config).
type Tunables struct {
	InitReadBuffer int
	MaxReadBuffer  int
	MaxWriteTimes  int
	MaxWriteQueue  int
	MaxWriteBuffer int
	BusyTimeout    time.Duration // 0 = surface immediately; <0 = wait forever
}

func DefaultTunables() Tunables {
	return Tunables{
		InitReadBuffer: 4096,
		MaxReadBuffer:  65536,
		MaxWriteTimes:  1024,
		MaxWriteQueue:  1024,
		MaxWriteBuffer: 4096,
		BusyTimeout:    30 * time.Second,
	}
}

// Processor is owned by exactly one Worker goroutine for its entire
// lifetime after intake (spec.md §5): every method here must only be
// called from that goroutine, except RequestCancel, which is explicitly safe for
// cross-goroutine use.
type Processor struct {
	Handle    Handle
	Name      string
	ID        uuid.UUID
	SessionID uint32 // the handshake session id internal/server assigned, for KILL targeting

	conn net.Conn
	log  zerolog.Logger

	// Kills, if non-nil, is where a KILL statement executed on this
	// connection sends its request: internal/server owns the registry
	// that resolves a session id to its Processor and is the only thing
	// that can reach across connections (spec.md §9's redesign note: no
	// back-pointers between Processor/Worker/Server).
	Kills chan<- KillRequest

	Engine engine.Engine
	Meta   *meta.Registry
	Coord  *txn.Coordinator
	connID txn.ConnID

	Tunables Tunables

	state      State
	stateSince time.Time

	Host     string
	User     string
	Protocol string
	Database string
	SARole   bool

	dbConn engine.Conn // this connection's open database handle, once authenticated and a database selected

	readBuf []byte
	readLen int

	writeQueue [][]byte

	busy *BusyContext
	cont *Continuation

	cancelMu  sync.Mutex
	cancelReq cancelRequest
}

type cancelRequest struct {
	query bool
	whole bool
}

// Continuation is the explicit object replacing the Java-shaped parked
// coroutine (`queryTask`) per spec.md §9: the cursor a command frame is
// mid-way through, the statement that couldn't acquire the write lock
// (already produced from the cursor but not yet acknowledged), and every
// result the frame produced before parking. ResumeParked retries Stmt
// without re-parsing it and then continues Cursor from where it left off.
type Continuation struct {
	Cursor  *parser.Cursor
	Stmt    statement.Statement
	Results []ExecResult
	Reason  string // "write-lock"
}

// BusyContext is the parking record from spec.md §4.4/§9: a Processor
// records one of these instead of blocking its Worker goroutine while it
// waits for the write lock, and a Worker's busy-resume pass retries
// acquisition until it succeeds, is cancelled, or Deadline passes.
type BusyContext struct {
	Deadline    time.Time
	Infinite    bool
	Canceled    bool
	OnWriteLock bool
	PrevState   State // state to restore once the wait resolves
}

// New constructs a Processor in state NEW, not yet registered with any
// Worker.
func New(handle Handle, conn net.Conn, eng engine.Engine, metaReg *meta.Registry, coord *txn.Coordinator, tun Tunables, log zerolog.Logger) *Processor {
	id := uuid.New()
	p := &Processor{
		Handle:     handle,
		Name:       "proc-" + id.String()[:8],
		ID:         id,
		conn:       conn,
		log:        log.With().Str("processor", "proc-"+id.String()[:8]).Logger(),
		Engine:     eng,
		Meta:       metaReg,
		Coord:      coord,
		connID:     txn.ConnID(handle.WorkerID)<<32 | txn.ConnID(handle.Slot),
		Tunables:   tun,
		state:      StateNew,
		stateSince: time.Now(),
		readBuf:    make([]byte, tun.InitReadBuffer),
	}
	return p
}

// State reports the current state and how long it has been held, for the
// idle-timeout sweep (spec.md §4.4) and SHOW PROCESSLIST.
func (p *Processor) State() (State, time.Duration) {
	return p.state, time.Since(p.stateSince)
}

func (p *Processor) setState(s State) {
	p.state = s
	p.stateSince = time.Now()
}

// Authenticate validates the login signature against the meta registry's
// stored credentials, per spec.md §4.4.
func (p *Processor) Authenticate(ctx context.Context, host, user, protocol, database string, seed, signature []byte) error {
	u, err := p.Meta.LookupUser(ctx, host, user, protocol)
	if err != nil {
		return err
	}
	if u == nil && host != "%" {
		// Fall back to the user's wildcard-host ('%') row.
		if u, err = p.Meta.LookupUser(ctx, "%", user, protocol); err != nil {
			return err
		}
	}
	if u == nil {
		return srverr.New(srverr.KindPermissionDenied, "no such user %s@%s", user, host)
	}
	if err := auth.Verify(u, seed, signature); err != nil {
		return err
	}

	p.Host, p.User, p.Protocol, p.Database = host, user, protocol, database
	p.SARole = u.SuperUser

	if database != "" {
		if err := p.selectDatabase(ctx, database); err != nil {
			return err
		}
	}

	p.setState(StateSleep)
	return nil
}

// selectDatabase opens (or reopens) the logical database named db as this
// connection's engine.Conn and attaches the meta registry under its alias,
// so meta.Render's alias-qualified SQL resolves on this same connection
// (spec.md §4.2/§4.4).
func (p *Processor) selectDatabase(ctx context.Context, db string) error {
	cat, err := p.Meta.CatalogLookup(ctx, db)
	if err != nil {
		return err
	}
	if cat == nil {
		return srverr.New(srverr.KindParseError, "unknown database %s", db)
	}

	path := db + ".db"
	if cat.Dir != "" {
		path = filepath.Join(cat.Dir, db+".db")
	}

	conn, err := p.Engine.Open(ctx, path)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, `ATTACH DATABASE `+quoteLiteral(p.Meta.Path())+` AS "`+p.Meta.Alias()+`"`); err != nil {
		conn.Close()
		return err
	}

	if p.dbConn != nil {
		p.dbConn.Close()
	}
	p.dbConn = conn
	p.Database = db
	return nil
}

// Close runs the resource-cleanup order spec.md §5 specifies: stop reads,
// drain/discard writes, release the write lock, detach schemas (the
// caller's dbConn.Close() covers schema detachment since each logical
// database connection is closed outright), close the engine connection,
// close the channel, and let the caller deallocate the worker slot.
func (p *Processor) Close() error {
	if p.state == StateClosed {
		return nil
	}
	p.writeQueue = nil
	p.Coord.Forget(p.connID)
	var err error
	if p.dbConn != nil {
		err = p.dbConn.Close()
	}
	if cerr := p.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	p.setState(StateClosed)
	return err
}

// BusyInfo reports whether this connection is currently parked waiting for
// the write lock, for SHOW PROCESSLIST and the admin surface's state column
// (spec.md §4.5's process-list state reporting).
func (p *Processor) BusyInfo() (waiting, onWriteLock bool, deadline time.Time, infinite bool) {
	if p.busy == nil {
		return false, false, time.Time{}, false
	}
	return true, p.busy.OnWriteLock, p.busy.Deadline, p.busy.Infinite
}

// RequestCancel marks a cancellation, safe to call from any goroutine
// (e.g. a KILL processed on a different connection), per spec.md §4.4
// "Cancellation".
func (p *Processor) RequestCancel(wholeConnection bool) {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	p.cancelReq.query = true
	if wholeConnection {
		p.cancelReq.whole = true
	}
	if p.busy != nil {
		p.busy.Canceled = true
	}
	if p.dbConn != nil {
		p.dbConn.Interrupt()
	}
}

func (p *Processor) consumeCancel() cancelRequest {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	r := p.cancelReq
	p.cancelReq = cancelRequest{}
	return r
}
