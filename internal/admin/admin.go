// Package admin exposes a small loopback-only HTTP surface
// (/healthz, /metrics, /processlist) for operators without a SQL client,
// following the teacher pack's pattern of a chi-routed auxiliary server
// started in its own goroutine (autobrr-qui's internal/api.StartPprofServer).
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sqlited/sqlited/internal/metrics"
	"github.com/sqlited/sqlited/internal/worker"
)

// ProcessSource supplies the current process list; internal/server
// implements it by aggregating each Worker's worker.ProcessEntry
// snapshots.
type ProcessSource interface {
	ProcessList() []worker.ProcessEntry
}

// Server is the admin HTTP surface. It is expected to listen on a
// loopback address only (127.0.0.1 or ::1); it does not enforce this
// itself, the caller's listen address does.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds the admin HTTP server bound to addr, registering collector
// with the default Prometheus registry.
func New(addr string, procs ProcessSource, collector *metrics.Collector, log zerolog.Logger) *Server {
	prometheus.MustRegister(collector)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/processlist", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(procs.ProcessList())
	})

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second},
		log:        log.With().Str("component", "admin").Logger(),
	}
}

// Serve starts the admin HTTP server and blocks until ctx is cancelled,
// then shuts it down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
