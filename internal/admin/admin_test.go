package admin

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sqlited/sqlited/internal/metrics"
	"github.com/sqlited/sqlited/internal/worker"
)

// mustFreeAddr grabs an ephemeral TCP port and releases it immediately;
// admin.Server.Serve binds its own listener rather than accepting one, so
// tests need a concrete address to hand it instead of the usual ":0".
func mustFreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

type stubProcs struct {
	entries []worker.ProcessEntry
}

func (s stubProcs) ProcessList() []worker.ProcessEntry { return s.entries }

type stubMetricsSource struct{}

func (stubMetricsSource) WorkerSnapshots() []metrics.WorkerSnapshot { return nil }
func (stubMetricsSource) StatementCounts() map[string]uint64        { return nil }
func (stubMetricsSource) WriteLockWaits() []time.Duration            { return nil }

func startTestServer(t *testing.T, procs ProcessSource) (addr string, stop func()) {
	t.Helper()
	ln := mustFreeAddr(t)
	collector := metrics.NewCollector(stubMetricsSource{})
	srv := New(ln, procs, collector, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	return ln, func() {
		cancel()
		<-errCh
		prometheus.Unregister(collector)
	}
}

func TestHealthzReportsOK(t *testing.T) {
	addr, stop := startTestServer(t, stubProcs{})
	defer stop()

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, "ok", string(body))
}

func TestProcessListReturnsJSON(t *testing.T) {
	entries := []worker.ProcessEntry{{WorkerID: 0, Slot: 1, Name: "proc-1", User: "root", Database: "testdb", State: "SLEEP"}}
	addr, stop := startTestServer(t, stubProcs{entries: entries})
	defer stop()

	resp, err := http.Get("http://" + addr + "/processlist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []worker.ProcessEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, entries, got)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	addr, stop := startTestServer(t, stubProcs{})
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
