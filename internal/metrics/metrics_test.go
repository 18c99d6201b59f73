package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	workers    []WorkerSnapshot
	statements map[string]uint64
	waits      []time.Duration
}

func (s stubSource) WorkerSnapshots() []WorkerSnapshot       { return s.workers }
func (s stubSource) StatementCounts() map[string]uint64      { return s.statements }
func (s stubSource) WriteLockWaits() []time.Duration         { return s.waits }

func collect(t *testing.T, c *Collector) []prometheus.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	var out []prometheus.Metric
	for m := range ch {
		out = append(out, m)
	}
	return out
}

func TestCollectorEmitsWorkerGauges(t *testing.T) {
	src := stubSource{
		workers: []WorkerSnapshot{{ID: 0, Active: 3, Busy: 1}, {ID: 1, Active: 0, Busy: 0}},
	}
	c := NewCollector(src)
	metrics := collect(t, c)
	require.Len(t, metrics, 4) // active+busy per worker, 2 workers

	var pb dto.Metric
	require.NoError(t, metrics[0].Write(&pb))
	require.Equal(t, "0", pb.GetLabel()[0].GetValue())
	require.Equal(t, 3.0, pb.GetGauge().GetValue())
}

func TestCollectorEmitsStatementCounters(t *testing.T) {
	src := stubSource{statements: map[string]uint64{"SELECT": 5}}
	c := NewCollector(src)
	metrics := collect(t, c)
	require.Len(t, metrics, 1)

	var pb dto.Metric
	require.NoError(t, metrics[0].Write(&pb))
	require.Equal(t, "SELECT", pb.GetLabel()[0].GetValue())
	require.Equal(t, 5.0, pb.GetCounter().GetValue())
}

func TestCollectorEmitsWriteLockWaits(t *testing.T) {
	src := stubSource{waits: []time.Duration{250 * time.Millisecond}}
	c := NewCollector(src)
	metrics := collect(t, c)
	require.Len(t, metrics, 1)

	var pb dto.Metric
	require.NoError(t, metrics[0].Write(&pb))
	require.InDelta(t, 0.25, pb.GetGauge().GetValue(), 0.001)
}

func TestCollectorDescribeEmitsAllDescs(t *testing.T) {
	c := NewCollector(stubSource{})
	ch := make(chan *prometheus.Desc, 8)
	c.Describe(ch)
	close(ch)
	var n int
	for range ch {
		n++
	}
	require.Equal(t, 4, n)
}
