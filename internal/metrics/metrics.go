// Package metrics exposes server-wide gauges and counters over
// github.com/prometheus/client_golang, following the custom-Collector
// idiom autobrr-qui's own internal/metrics package uses (a struct holding
// *prometheus.Desc fields, populated on each scrape from live state rather
// than updated eagerly on every event).
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerSnapshot is one Worker's state at scrape time, supplied by
// internal/server's Collect callback.
type WorkerSnapshot struct {
	ID     uint32
	Active int
	Busy   int
}

// Source is implemented by internal/server.Server to answer a scrape
// without metrics depending on server's concrete type.
type Source interface {
	WorkerSnapshots() []WorkerSnapshot
	StatementCounts() map[string]uint64 // command name -> count
	WriteLockWaits() []time.Duration    // observed wait durations since last scrape
}

// Collector implements prometheus.Collector, registered once at server
// startup and exposed by internal/admin's /metrics endpoint.
type Collector struct {
	src Source

	activeDesc      *prometheus.Desc
	busyDesc        *prometheus.Desc
	statementsDesc  *prometheus.Desc
	writeLockWaitDesc *prometheus.Desc
}

// NewCollector builds a Collector backed by src.
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		activeDesc: prometheus.NewDesc(
			"sqlited_worker_active_connections",
			"Number of connections currently registered to a worker",
			[]string{"worker"},
			nil,
		),
		busyDesc: prometheus.NewDesc(
			"sqlited_worker_busy_connections",
			"Number of connections currently parked awaiting the write lock or a timer",
			[]string{"worker"},
			nil,
		),
		statementsDesc: prometheus.NewDesc(
			"sqlited_statements_total",
			"Statements executed, by command",
			[]string{"command"},
			nil,
		),
		writeLockWaitDesc: prometheus.NewDesc(
			"sqlited_write_lock_wait_seconds",
			"Time spent waiting to acquire the process-wide write lock",
			nil,
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeDesc
	ch <- c.busyDesc
	ch <- c.statementsDesc
	ch <- c.writeLockWaitDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, w := range c.src.WorkerSnapshots() {
		id := workerLabel(w.ID)
		ch <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, float64(w.Active), id)
		ch <- prometheus.MustNewConstMetric(c.busyDesc, prometheus.GaugeValue, float64(w.Busy), id)
	}
	for cmd, n := range c.src.StatementCounts() {
		ch <- prometheus.MustNewConstMetric(c.statementsDesc, prometheus.CounterValue, float64(n), cmd)
	}
	for _, d := range c.src.WriteLockWaits() {
		ch <- prometheus.MustNewConstMetric(c.writeLockWaitDesc, prometheus.GaugeValue, d.Seconds())
	}
}

func workerLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
