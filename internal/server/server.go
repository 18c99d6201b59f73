// Package server implements spec.md §4.6's Server: the accept loop,
// least-loaded dispatch to Workers, the shared Meta database handle, and
// the host allow list. Grounded on the accept-loop/graceful-shutdown shape
// of the pack's own standalone Hub server (other_examples' leapmux
// hub-server.go: one or more net.Listeners, a goroutine per listener
// calling Serve, a context-driven shutdown goroutine that stops accepting
// before draining in-flight work) generalized from HTTP to the raw wire
// protocol this system speaks.
package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqlited/sqlited/internal/admin"
	"github.com/sqlited/sqlited/internal/auth"
	"github.com/sqlited/sqlited/internal/config"
	"github.com/sqlited/sqlited/internal/engine"
	"github.com/sqlited/sqlited/internal/meta"
	"github.com/sqlited/sqlited/internal/metrics"
	"github.com/sqlited/sqlited/internal/processor"
	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/txn"
	"github.com/sqlited/sqlited/internal/wire"
	"github.com/sqlited/sqlited/internal/worker"
)

// Event is a worker→server side effect notification (spec.md §9's
// one-way server.Events channel, replacing a back-pointer from Worker to
// Server): cache invalidation, write-lock diagnostics, and similar
// cross-cutting signals a Worker cannot act on itself.
type Event struct {
	Kind    string
	Detail  string
	At      time.Time
}

// Options configures a Server.
type Options struct {
	Host           string
	Port           int
	AdminAddr      string // empty disables the admin HTTP surface
	WorkerCount    int
	DataDir        string
	MetaPath       string
	ProcessorTun   processor.Tunables
	WorkerTun      worker.Tunables
	AllowListPath  string
	HandshakeTitle string // server version string in the handshake packet
}

// Server owns the set of Workers, the Meta database handle, the process-
// wide write-lock coordinator, and the host allow list, per spec.md §4.6
// and §5's ownership model.
type Server struct {
	opts Options
	log  zerolog.Logger

	ln       net.Listener
	adminSrv *admin.Server

	eng   engine.Engine
	meta  *meta.Registry
	coord *txn.Coordinator

	workers []*worker.Worker
	allow   *config.AllowList

	sessionID atomic.Uint32
	connSeq   atomic.Uint32

	sessionsMu sync.RWMutex
	sessions   map[uint32]*processor.Processor
	killCh     chan processor.KillRequest

	Events chan Event

	stopCh chan struct{}
	doneWg sync.WaitGroup
}

// New builds a Server: opens (but does not create) the meta database,
// builds one Worker per opts.WorkerCount, and loads the allow list.
func New(ctx context.Context, opts Options, log zerolog.Logger) (*Server, error) {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}
	if opts.MetaPath == "" {
		opts.MetaPath = filepath.Join(opts.DataDir, "meta.db")
	}
	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			return nil, srverr.Wrap(srverr.KindIOError, err, "create data directory %q", opts.DataDir)
		}
	}

	reg, err := meta.Open(ctx, opts.MetaPath, "meta")
	if err != nil {
		return nil, err
	}

	allow, err := config.NewAllowList(opts.AllowListPath)
	if err != nil {
		reg.Close()
		return nil, err
	}

	s := &Server{
		opts:     opts,
		log:      log.With().Str("component", "server").Logger(),
		eng:      engine.New(),
		meta:     reg,
		coord:    txn.NewCoordinator(),
		allow:    allow,
		sessions: make(map[uint32]*processor.Processor),
		killCh:   make(chan processor.KillRequest, 64),
		Events:   make(chan Event, 256),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < opts.WorkerCount; i++ {
		w := worker.New(uint32(i), wire.QueryCodec{}, wire.QueryCodec{},
			opts.WorkerTun, s.coord, log.With().Str("component", "worker").Logger())
		s.workers = append(s.workers, w)
	}

	if opts.AdminAddr != "" {
		s.adminSrv = admin.New(opts.AdminAddr, s, metrics.NewCollector(s), s.log)
	}

	return s, nil
}

// Serve opens the listener, starts every Worker's Run loop, and accepts
// connections until ctx is cancelled, then drains and closes everything.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port))
	if err != nil {
		return srverr.Wrap(srverr.KindNetworkError, err, "listen on %s:%d", s.opts.Host, s.opts.Port)
	}
	s.ln = ln

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	for _, w := range s.workers {
		s.doneWg.Add(1)
		go func(w *worker.Worker) {
			defer s.doneWg.Done()
			w.Run(workerCtx)
		}(w)
	}

	if s.adminSrv != nil {
		s.doneWg.Add(1)
		go func() {
			defer s.doneWg.Done()
			if err := s.adminSrv.Serve(workerCtx); err != nil {
				s.log.Warn().Err(err).Msg("admin server stopped")
			}
		}()
	}

	s.doneWg.Add(1)
	go func() {
		defer s.doneWg.Done()
		s.killConsumer(workerCtx)
	}()

	acceptErrCh := make(chan error, 1)
	go func() { acceptErrCh <- s.acceptLoop(ctx) }()

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	case err := <-acceptErrCh:
		if err != nil {
			s.log.Error().Err(err).Msg("accept loop failed")
		}
	}

	_ = s.ln.Close()
	cancelWorkers()
	for _, w := range s.workers {
		w.Stop()
	}
	s.doneWg.Wait()
	return s.meta.Close()
}

// Stop requests an orderly shutdown; Serve returns once drained.
func (s *Server) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.stopCh:
				return nil
			default:
			}
			return srverr.Wrap(srverr.KindNetworkError, err, "accept")
		}
		go s.handshakeAndDispatch(ctx, conn)
	}
}

// handshakeAndDispatch performs the handshake spec.md §6 describes, then
// hands the resulting Processor to whichever Worker currently owns the
// fewest connections. It runs on its own goroutine per connection so one
// slow client can never stall the accept loop (spec.md §5: "the accept
// thread only hands off").
func (s *Server) handshakeAndDispatch(ctx context.Context, conn net.Conn) {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if !s.allow.Allowed(host) {
		s.log.Warn().Str("host", host).Msg("rejected by allow list")
		conn.Close()
		return
	}

	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	seed, err := auth.Challenge(rand.Read)
	if err != nil {
		conn.Close()
		return
	}
	var seedArr [wire.SeedLen]byte
	copy(seedArr[:], seed)

	sessionID := s.sessionID.Add(1)
	init := wire.HandshakeInit{
		Sequence:      0,
		ServerVersion: s.opts.HandshakeTitle,
		SessionID:     sessionID,
		Seed:          seedArr,
	}
	if deadline, ok := hctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(wire.EncodeHandshakeInit(init)); err != nil {
		conn.Close()
		return
	}

	reply, err := s.readLoginReply(hctx, conn)
	if err != nil {
		conn.Close()
		return
	}

	w := s.leastLoadedWorker()
	slot := s.connSeq.Add(1)
	handle := processor.Handle{WorkerID: w.ID, Slot: slot, Generation: slot}
	p := processor.New(handle, conn, s.eng, s.meta, s.coord, s.opts.ProcessorTun, s.log)
	p.SessionID = sessionID
	p.Kills = s.killCh

	if err := p.Authenticate(hctx, host, reply.User, "pg", reply.Database, seed, reply.Signature[:]); err != nil {
		s.log.Info().Err(err).Str("user", reply.User).Msg("authentication failed")
		p.Close()
		return
	}

	s.sessionsMu.Lock()
	s.sessions[sessionID] = p
	s.sessionsMu.Unlock()

	if !w.Offer(p) {
		s.log.Warn().Uint32("worker", w.ID).Msg("worker intake full, rejecting connection")
		s.sessionsMu.Lock()
		delete(s.sessions, sessionID)
		s.sessionsMu.Unlock()
		p.Close()
	}
}

// killConsumer resolves KILL requests relayed from any Processor's
// executeKill to the target's Processor and cancels it, the only way one
// connection can reach another under spec.md §9's no-back-pointers
// redesign. Session registry entries are removed only when a Worker
// rejects the offer; Workers do not feed closed-connection notifications
// back to the Server (see DESIGN.md), so entries for closed connections
// stay in the map.
func (s *Server) killConsumer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.killCh:
			s.sessionsMu.RLock()
			target, ok := s.sessions[req.TargetSessionID]
			s.sessionsMu.RUnlock()
			if !ok {
				continue
			}
			target.RequestCancel(!req.Query)
		}
	}
}

func (s *Server) readLoginReply(ctx context.Context, conn net.Conn) (wire.LoginReply, error) {
	buf := make([]byte, 512)
	total := 0
	for {
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetReadDeadline(deadline)
		}
		n, err := conn.Read(buf[total:])
		if err != nil {
			return wire.LoginReply{}, srverr.Wrap(srverr.KindNetworkError, err, "read login reply")
		}
		total += n
		reply, consumed, err := wire.DecodeLoginReply(buf[:total])
		if err != nil {
			return wire.LoginReply{}, err
		}
		if consumed > 0 {
			return reply, nil
		}
		if total == len(buf) {
			return wire.LoginReply{}, srverr.New(srverr.KindProtocolError, "login reply too large")
		}
	}
}

// leastLoadedWorker implements spec.md §4.6's "round-robins or least-loaded
// dispatches to Workers via offer".
func (s *Server) leastLoadedWorker() *worker.Worker {
	best := s.workers[0]
	bestCount := best.ActiveCount()
	for _, w := range s.workers[1:] {
		if n := w.ActiveCount(); n < bestCount {
			best, bestCount = w, n
		}
	}
	return best
}

// WorkerSnapshots implements metrics.Source.
func (s *Server) WorkerSnapshots() []metrics.WorkerSnapshot {
	out := make([]metrics.WorkerSnapshot, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, metrics.WorkerSnapshot{ID: w.ID, Active: w.ActiveCount()})
	}
	return out
}

// StatementCounts implements metrics.Source. Per-command counters are not
// yet tracked independently of the processor pipeline; returning an empty
// map keeps the gauge series absent rather than fabricating zeros.
func (s *Server) StatementCounts() map[string]uint64 { return map[string]uint64{} }

// WriteLockWaits implements metrics.Source. The write-lock coordinator
// does not currently record wait-duration samples (see DESIGN.md's
// busy-resume entry); returning nil keeps the wait series empty rather
// than fabricated.
func (s *Server) WriteLockWaits() []time.Duration { return nil }

// ProcessList implements admin.ProcessSource, sourced from each Worker's
// registered processors (SPEC_FULL.md's SHOW PROCESSLIST backing data).
func (s *Server) ProcessList() []worker.ProcessEntry {
	var out []worker.ProcessEntry
	for _, w := range s.workers {
		out = append(out, w.ProcessList()...)
	}
	return out
}
