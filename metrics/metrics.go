// Package metrics exposes the engine's runtime counters as Prometheus
// metrics, grounded on github.com/prometheus/client_golang's custom
// prometheus.Collector idiom shown by
// runZeroInc-sockstats/pkg/exporter/exporter.go's TCPInfoCollector:
// a Describe/Collect pair pulling live values at scrape time rather
// than pushing updates through the registry, registered with
// prometheus.MustRegister and served with promhttp.Handler (see
// runZeroInc-sockstats/cmd/exporter_example2/main.go). Here the
// collected process is the simulation engine rather than a TCP
// connection set: GVT value, rollback count, checkpoint count and
// fossil-collected entry count, standing in for the out-of-scope
// on-disk binary stats sink.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements internal/dispatch.Recorder and
// prometheus.Collector: dispatch's worker loop calls the Add* methods
// as events occur, and whatever scrapes this Collector (via
// prometheus.Registry.Gather or promhttp.Handler) reads the current
// totals, plus the live GVT value pulled through gvtFunc at scrape
// time.
type Collector struct {
	gvtFunc func() float64

	rollbacks       atomic.Uint64
	checkpoints     atomic.Uint64
	fossilCollected atomic.Uint64

	gvtDesc             *prometheus.Desc
	rollbacksDesc       *prometheus.Desc
	checkpointsDesc     *prometheus.Desc
	fossilCollectedDesc *prometheus.Desc
}

// New creates a Collector reporting constLabels (e.g. node id, run id)
// on every metric it exposes. gvtFunc is called once per scrape to
// read the engine's current global virtual time — ordinarily
// (*gvt.Engine).GVT.
func New(gvtFunc func() float64, constLabels prometheus.Labels) *Collector {
	return &Collector{
		gvtFunc: gvtFunc,
		gvtDesc: prometheus.NewDesc(
			"rootsim_gvt",
			"Current global virtual time of this node.",
			nil, constLabels,
		),
		rollbacksDesc: prometheus.NewDesc(
			"rootsim_rollbacks_total",
			"Total straggler and anti-message rollbacks processed.",
			nil, constLabels,
		),
		checkpointsDesc: prometheus.NewDesc(
			"rootsim_checkpoints_total",
			"Total checkpoints taken across every logical process.",
			nil, constLabels,
		),
		fossilCollectedDesc: prometheus.NewDesc(
			"rootsim_fossil_collected_total",
			"Total p_msgs and remote-match map entries reclaimed by fossil collection.",
			nil, constLabels,
		),
	}
}

// AddRollback records one rollback, satisfying internal/dispatch.Recorder.
func (c *Collector) AddRollback() { c.rollbacks.Add(1) }

// AddCheckpoint records one checkpoint taken, satisfying
// internal/dispatch.Recorder.
func (c *Collector) AddCheckpoint() { c.checkpoints.Add(1) }

// AddFossilCollected records n entries reclaimed in a single fossil
// collection pass, satisfying internal/dispatch.Recorder.
func (c *Collector) AddFossilCollected(n int) {
	if n > 0 {
		c.fossilCollected.Add(uint64(n))
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.gvtDesc
	descs <- c.rollbacksDesc
	descs <- c.checkpointsDesc
	descs <- c.fossilCollectedDesc
}

// Collect implements prometheus.Collector, reading every counter and
// the live GVT value at scrape time.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	gvt := 0.0
	if c.gvtFunc != nil {
		gvt = c.gvtFunc()
	}
	metrics <- prometheus.MustNewConstMetric(c.gvtDesc, prometheus.GaugeValue, gvt)
	metrics <- prometheus.MustNewConstMetric(c.rollbacksDesc, prometheus.CounterValue, float64(c.rollbacks.Load()))
	metrics <- prometheus.MustNewConstMetric(c.checkpointsDesc, prometheus.CounterValue, float64(c.checkpoints.Load()))
	metrics <- prometheus.MustNewConstMetric(c.fossilCollectedDesc, prometheus.CounterValue, float64(c.fossilCollected.Load()))
}
