// Package metrics exposes Prometheus collectors for the history index.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "ledgerindex"
	subsystem = "history_index"
)

// Chunk outcomes.
const (
	ChunkMerged  = "merged"
	ChunkFailed  = "failed"
	ChunkSkipped = "skipped"
)

// Index groups the collectors updated by the index engine. A nil *Index is
// valid and records nothing.
type Index struct {
	rebuilds        prometheus.Counter
	rebuildDuration prometheus.Histogram
	integrity       *prometheus.CounterVec
	chunks          *prometheus.CounterVec
	scanFallback    *prometheus.CounterVec
	remainingDays   prometheus.Gauge
	scanMode        prometheus.Gauge
}

// NewIndex creates the collectors and registers them with reg when non-nil.
func NewIndex(reg prometheus.Registerer) *Index {
	m := &Index{
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rebuilds_total",
			Help:      "Full index rebuilds performed.",
		}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of full index rebuilds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		integrity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "integrity_checks_total",
			Help:      "Integrity verifications by result.",
		}, []string{"result"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backfill_chunks_total",
			Help:      "Backfill chunk attempts by outcome.",
		}, []string{"outcome"}),
		scanFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scan_reads_total",
			Help:      "Reads answered by scanning the record store.",
		}, []string{"query"}),
		remainingDays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backfill_remaining_days",
			Help:      "Days between oldest data and indexed-from.",
		}),
		scanMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scan_fallback",
			Help:      "1 while the index is distrusted and reads scan the store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.rebuilds, m.rebuildDuration, m.integrity, m.chunks, m.scanFallback, m.remainingDays, m.scanMode)
	}
	return m
}

func (m *Index) Rebuild(d time.Duration) {
	if m == nil {
		return
	}
	m.rebuilds.Inc()
	m.rebuildDuration.Observe(d.Seconds())
}

func (m *Index) IntegrityCheck(ok bool) {
	if m == nil {
		return
	}
	result := "mismatch"
	if ok {
		result = "ok"
	}
	m.integrity.WithLabelValues(result).Inc()
}

func (m *Index) Chunk(outcome string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(outcome).Inc()
}

func (m *Index) ScanRead(query string) {
	if m == nil {
		return
	}
	m.scanFallback.WithLabelValues(query).Inc()
}

func (m *Index) SetRemainingDays(days int) {
	if m == nil {
		return
	}
	m.remainingDays.Set(float64(days))
}

func (m *Index) SetScanFallback(on bool) {
	if m == nil {
		return
	}
	v := 0.0
	if on {
		v = 1
	}
	m.scanMode.Set(v)
}
