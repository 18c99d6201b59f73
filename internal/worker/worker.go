// Package worker implements the per-Worker event loop from spec.md §4.5,
// rebuilt on Go channels per spec.md §9's redesign notes: one goroutine per
// Worker drives a select over an intake channel, a readiness channel fed by
// per-connection reader pump goroutines, an idle-sweep ticker, and a
// busy-resume path that retries any connection parked on the write lock --
// woken immediately on release and, as a floor, on its own ticker -- so the
// goroutine is never blocked by a poll-sleep.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqlited/sqlited/internal/processor"
	"github.com/sqlited/sqlited/internal/txn"
)

// ProcessEntry is one connection's state snapshot, sourced from the
// same per-worker processor-state reads spec.md §5 already requires for
// SHOW PROCESSLIST, and reused by internal/admin's HTTP surface
// (SPEC_FULL.md's supplemented "SHOW PROCESSLIST backing data" feature).
type ProcessEntry struct {
	WorkerID uint32
	Slot     uint32
	Name     string
	User     string
	Database string
	State    string
	Dwell    time.Duration
}

// FrameDecoder extracts complete command frames from bytes accumulated in
// a connection's read buffer, per spec.md §4.4 step 1. internal/wire's
// QueryCodec implements this against the frontend protocol's framing.
type FrameDecoder interface {
	Decode(buf []byte) (sql string, consumed int, ok bool, err error)
}

// ResponseEncoder frames a statement's outcome back onto the wire, per
// spec.md §4.4 step 7.
type ResponseEncoder interface {
	EncodeOK(sequence byte, rowsAffected, lastInsertID uint64, warning string) []byte
	EncodeErr(sequence byte, err error) []byte
	EncodeResultSet(sequence byte, columns []string, rows [][]any) ([]byte, error)
}

// Tunables mirror the JVM-property-shaped worker knobs in spec.md §6.
type Tunables struct {
	MaxConns          int
	IORatio           int // (0,100]; 100 means queues run unlimited after I/O
	BusyMinWait       time.Duration
	IdleCheckInterval time.Duration
	AuthTimeout       time.Duration
	SleepTimeout      time.Duration
	SleepInTxTimeout  time.Duration
}

func DefaultTunables() Tunables {
	return Tunables{
		MaxConns:          4096,
		IORatio:           50,
		BusyMinWait:       100 * time.Millisecond,
		IdleCheckInterval: time.Second,
		AuthTimeout:       10 * time.Second,
		SleepTimeout:      8 * time.Hour,
		SleepInTxTimeout:  time.Hour,
	}
}

// readEvent is one chunk of bytes (or a terminal error) a connection's
// reader pump goroutine delivered, fanned in to the Worker's single loop
// goroutine. The pump goroutines are the only other goroutines touching a
// registered connection, and they only ever call net.Conn.Read -- never a
// Processor method -- so exactly one goroutine (this Worker's) ever
// touches a given Processor, per spec.md §5.
type readEvent struct {
	slot uint32
	gen  uint32
	data []byte
	err  error
}

type slotEntry struct {
	proc       *processor.Processor
	gen        uint32
	sequence   byte // next outbound packet sequence number
	cancelPump context.CancelFunc
	executing  bool // guards against overlapping ExecuteFrame calls for this slot
	parked     bool // true while waiting on proc.ResumeParked for the write lock
}

// Worker owns a fixed-size set of Processor slots and the single goroutine
// that schedules I/O and execution across them.
type Worker struct {
	ID  uint32
	log zerolog.Logger

	decoder FrameDecoder
	encoder ResponseEncoder
	tun     Tunables
	coord   *txn.Coordinator

	intake  chan *processor.Processor
	ready   chan readEvent
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu       sync.Mutex
	slots    map[uint32]*slotEntry
	nextSlot uint32
}

// New constructs a Worker with no registered connections. coord is the
// same Coordinator instance shared by every Worker and every Processor's
// write-lock acquisition, so a release on one Worker's connection wakes
// busy-parked connections on every other Worker too.
func New(id uint32, decoder FrameDecoder, encoder ResponseEncoder, tun Tunables, coord *txn.Coordinator, log zerolog.Logger) *Worker {
	return &Worker{
		ID:      id,
		log:     log.With().Uint32("worker", id).Logger(),
		decoder: decoder,
		encoder: encoder,
		tun:     tun,
		coord:   coord,
		intake:  make(chan *processor.Processor, tun.MaxConns),
		ready:   make(chan readEvent, tun.MaxConns),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		slots:   make(map[uint32]*slotEntry),
	}
}

// Offer hands a newly-accepted Processor to this Worker's intake queue,
// per spec.md §4.6's Server.offer. Returns false if the intake queue is
// full (the caller should try another Worker or reject the connection).
func (w *Worker) Offer(p *processor.Processor) bool {
	select {
	case w.intake <- p:
		return true
	default:
		return false
	}
}

// ActiveCount reports how many connections this Worker currently owns,
// used by the Server's least-loaded dispatch policy.
func (w *Worker) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.slots)
}

// Run drives the Worker's main loop until ctx is cancelled or Stop is
// called, per spec.md §4.5. Besides intake/readiness/idle-sweep, the select
// also resumes busy-parked connections: immediately when the shared write
// lock is released, and on busyTicker as a floor so a BusyTimeout deadline
// still fires even if nobody ever releases the lock. ioRatio bounds how
// many consecutive ready-channel events run between busy-resume checks, so
// a connection parked on the write lock isn't starved by a Worker otherwise
// saturated with read traffic.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)
	idleTicker := time.NewTicker(w.tun.IdleCheckInterval)
	defer idleTicker.Stop()
	busyTicker := time.NewTicker(w.busyInterval())
	defer busyTicker.Stop()

	ioRatio := w.tun.IORatio
	if ioRatio <= 0 || ioRatio > 100 {
		ioRatio = 100
	}
	ioStreak := 0

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-w.stopCh:
			w.shutdown()
			return
		case p := <-w.intake:
			w.registerIntake(p)
		case ev := <-w.ready:
			w.handleReady(ctx, ev)
			ioStreak++
			if ioRatio < 100 && ioStreak >= ioRatio {
				w.resumeBusy(ctx)
				ioStreak = 0
			}
		case <-idleTicker.C:
			w.idleSweep()
		case <-busyTicker.C:
			w.resumeBusy(ctx)
		case <-w.coord.WriteLockReleased():
			w.resumeBusy(ctx)
		}
	}
}

// busyInterval is the floor re-check rate for parked connections, from
// Tunables.BusyMinWait.
func (w *Worker) busyInterval() time.Duration {
	if w.tun.BusyMinWait <= 0 {
		return 100 * time.Millisecond
	}
	return w.tun.BusyMinWait
}

// Stop requests an orderly shutdown: the loop finishes its current
// iteration, closes every registered Processor, and Run returns.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
}

func (w *Worker) registerIntake(p *processor.Processor) {
	w.mu.Lock()
	if len(w.slots) >= w.tun.MaxConns {
		w.mu.Unlock()
		w.log.Warn().Str("processor", p.Name).Msg("too many connections, rejecting")
		p.Close()
		return
	}
	slot := w.nextSlot
	w.nextSlot++
	gen := slot // generation is not reused within one Worker's lifetime here
	pumpCtx, cancel := context.WithCancel(context.Background())
	w.slots[slot] = &slotEntry{proc: p, gen: gen, cancelPump: cancel}
	w.mu.Unlock()

	go w.readPump(pumpCtx, slot, gen, p)
}

// readPump is the only goroutine besides Run's that ever touches a
// registered connection's net.Conn, and it only ever reads raw bytes --
// never a Processor method -- fanning them in to Run via w.ready.
func (w *Worker) readPump(ctx context.Context, slot, gen uint32, p *processor.Processor) {
	buf := make([]byte, 4096)
	for {
		n, err := p.ReadRaw(buf)
		select {
		case w.ready <- readEvent{slot: slot, gen: gen, data: append([]byte(nil), buf[:n]...), err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (w *Worker) handleReady(ctx context.Context, ev readEvent) {
	w.mu.Lock()
	entry, ok := w.slots[ev.slot]
	if !ok || entry.gen != ev.gen {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if ev.err != nil {
		w.closeSlot(ev.slot, "read error")
		return
	}
	if len(ev.data) == 0 {
		return
	}
	if err := entry.proc.AppendRead(ev.data); err != nil {
		w.failSlot(ev.slot, entry, err)
		return
	}
	if entry.executing {
		// A frame is already being processed for this connection;
		// the newly-arrived bytes stay buffered until that finishes.
		return
	}
	w.drainFrames(ctx, ev.slot, entry)
}

// drainFrames decodes and executes every complete command frame currently
// buffered for entry, per spec.md §4.4's per-statement execution pipeline,
// then flushes whatever responses were queued. If a frame parks waiting for
// the write lock, drainFrames returns leaving entry.parked set and
// entry.executing held, so bytes arriving for this connection stay buffered
// until the busy-resume pass clears the park.
func (w *Worker) drainFrames(ctx context.Context, slot uint32, entry *slotEntry) {
	entry.executing = true
	defer func() {
		if !entry.parked {
			entry.executing = false
		}
	}()

	for {
		sql, consumed, ok, err := w.decoder.Decode(entry.proc.PeekRead())
		if err != nil {
			w.failSlot(slot, entry, err)
			return
		}
		if !ok {
			break
		}
		entry.proc.ConsumeReadN(consumed)
		if sql == "" {
			continue
		}

		results, execErr := entry.proc.ExecuteFrame(ctx, sql)
		if processor.IsParked(execErr) {
			entry.parked = true
			return
		}
		w.encodeResponses(entry, results, execErr)
	}

	if err := entry.proc.Flush(ctx); err != nil {
		w.failSlot(slot, entry, err)
	}
}

// resumeBusy retries every connection this Worker currently has parked on
// the write lock, per spec.md §4.5's busy-resume pass (reworked per spec.md
// §9 so retrying never blocks this goroutine the way a poll-sleep would).
func (w *Worker) resumeBusy(ctx context.Context) {
	w.mu.Lock()
	parked := make([]uint32, 0)
	for slot, e := range w.slots {
		if e.parked {
			parked = append(parked, slot)
		}
	}
	w.mu.Unlock()

	for _, slot := range parked {
		w.mu.Lock()
		entry, ok := w.slots[slot]
		w.mu.Unlock()
		if !ok || !entry.parked {
			continue
		}
		w.resumeSlot(ctx, slot, entry)
	}
}

// resumeSlot retries entry's parked write and, once it's no longer parked
// (succeeded, failed, or timed out), encodes whatever the retry produced
// and resumes draining any frames that arrived while it waited.
func (w *Worker) resumeSlot(ctx context.Context, slot uint32, entry *slotEntry) {
	results, execErr := entry.proc.ResumeParked(ctx)
	if processor.IsParked(execErr) {
		return
	}
	entry.parked = false
	w.encodeResponses(entry, results, execErr)
	w.drainFrames(ctx, slot, entry)
}

func (w *Worker) encodeResponses(entry *slotEntry, results []processor.ExecResult, execErr error) {
	for _, res := range results {
		entry.sequence++
		var pkt []byte
		if res.Columns != nil {
			var err error
			pkt, err = w.encoder.EncodeResultSet(entry.sequence, res.Columns, res.Rows)
			if err != nil {
				pkt = w.encoder.EncodeErr(entry.sequence, err)
			}
		} else {
			pkt = w.encoder.EncodeOK(entry.sequence, uint64(res.RowsAffected), uint64(res.LastInsertID), res.Warning)
		}
		_ = entry.proc.QueueWrite(pkt)
	}
	if execErr != nil {
		entry.sequence++
		_ = entry.proc.QueueWrite(w.encoder.EncodeErr(entry.sequence, execErr))
	}
}

// idleSweep enforces the per-state timeouts spec.md §4.5 describes
// (auth, sleep-out-of-tx, sleep-in-tx), stopping any connection that has
// overstayed its current state.
func (w *Worker) idleSweep() {
	w.mu.Lock()
	entries := make([]*slotEntry, 0, len(w.slots))
	slots := make([]uint32, 0, len(w.slots))
	for slot, e := range w.slots {
		entries = append(entries, e)
		slots = append(slots, slot)
	}
	w.mu.Unlock()

	for i, e := range entries {
		state, dwell := e.proc.State()
		var limit time.Duration
		switch state {
		case processor.StateAuth:
			limit = w.tun.AuthTimeout
		case processor.StateSleep:
			limit = w.tun.SleepTimeout
		case processor.StateSleepInTx:
			limit = w.tun.SleepInTxTimeout
		default:
			continue
		}
		if limit > 0 && dwell >= limit {
			w.log.Info().Str("processor", e.proc.Name).Str("state", state.String()).Msg("idle timeout, closing")
			w.closeSlot(slots[i], "idle timeout")
		}
	}
}

// ProcessList returns a snapshot of every connection this Worker
// currently owns, for the admin HTTP surface (SPEC_FULL.md's supplemented
// SHOW PROCESSLIST backing data). The SQL SHOW PROCESSLIST statement does
// not read it.
func (w *Worker) ProcessList() []ProcessEntry {
	w.mu.Lock()
	entries := make([]*slotEntry, 0, len(w.slots))
	slots := make([]uint32, 0, len(w.slots))
	for slot, e := range w.slots {
		entries = append(entries, e)
		slots = append(slots, slot)
	}
	w.mu.Unlock()

	out := make([]ProcessEntry, 0, len(entries))
	for i, e := range entries {
		state, dwell := e.proc.State()
		stateStr := state.String()
		if waiting, onWriteLock, _, _ := e.proc.BusyInfo(); waiting && onWriteLock {
			stateStr = "BUSY (waiting for write lock)"
		}
		out = append(out, ProcessEntry{
			WorkerID: w.ID,
			Slot:     slots[i],
			Name:     e.proc.Name,
			User:     e.proc.User,
			Database: e.proc.Database,
			State:    stateStr,
			Dwell:    dwell,
		})
	}
	return out
}

func (w *Worker) failSlot(slot uint32, entry *slotEntry, err error) {
	entry.sequence++
	_ = entry.proc.QueueWrite(w.encoder.EncodeErr(entry.sequence, err))
	_ = entry.proc.Flush(context.Background())
	w.closeSlot(slot, "protocol error")
}

func (w *Worker) closeSlot(slot uint32, reason string) {
	w.mu.Lock()
	entry, ok := w.slots[slot]
	if ok {
		delete(w.slots, slot)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	entry.cancelPump()
	if err := entry.proc.Close(); err != nil {
		w.log.Debug().Err(err).Str("processor", entry.proc.Name).Str("reason", reason).Msg("close")
	}
}

func (w *Worker) shutdown() {
	w.mu.Lock()
	slots := make([]uint32, 0, len(w.slots))
	for slot := range w.slots {
		slots = append(slots, slot)
	}
	w.mu.Unlock()
	for _, slot := range slots {
		w.closeSlot(slot, "worker shutdown")
	}
}
