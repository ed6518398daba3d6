// Package metrics exports scheduler, cache and persistence counters to
// Prometheus. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/amanidx/internal/cluster"
	"github.com/Aman-CERP/amanidx/internal/timestamps"
)

const namespace = "amanidx"

// Metrics holds every collector.
type Metrics struct {
	queueDepth   prometheus.Gauge
	enqueued     *prometheus.CounterVec
	coalesced    *prometheus.CounterVec
	units        *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	passes       *prometheus.CounterVec
	recoveries   *prometheus.CounterVec
	flushes      *prometheus.CounterVec
	flushedDocs  *prometheus.CounterVec
	flushBytes   prometheus.Histogram
	reclaims     prometheus.Counter
	persists     *prometheus.CounterVec
	persistSize  prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Pending work units.",
		}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "enqueued_total",
			Help:      "Work items enqueued.",
		}, []string{"kind"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "coalesced_total",
			Help:      "Work items merged into a pending unit.",
		}, []string{"kind"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "units_total",
			Help:      "Work units executed.",
		}, []string{"kind", "result"}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "unit_duration_seconds",
			Help:      "Work unit execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "passes_total",
			Help:      "Indexer passes by outcome.",
		}, []string{"indexer", "outcome"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "recoveries_total",
			Help:      "Corrupt indices rebuilt.",
		}, []string{"indexer"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "flushes_total",
			Help:      "Batches committed to an index.",
		}, []string{"reset"}),
		flushedDocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "documents_total",
			Help:      "Documents added and keys removed by committed batches.",
		}, []string{"op"}),
		flushBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "flush_bytes",
			Help:      "Estimated buffer size at flush.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		reclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reclaims_total",
			Help:      "Buffers dropped under memory pressure.",
		}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timestamps",
			Name:      "writes_total",
			Help:      "Archive timestamp batch writes by result.",
		}, []string{"result"}),
		persistSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "timestamps",
			Name:      "batch_size",
			Help:      "Entries per archive timestamp write.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.queueDepth, m.enqueued, m.coalesced, m.units, m.unitDuration,
		m.passes, m.recoveries, m.flushes, m.flushedDocs, m.flushBytes,
		m.reclaims, m.persists, m.persistSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the metrics of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// QueueDepth sets the pending unit gauge.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Enqueued counts an enqueued item and whether it was merged.
func (m *Metrics) Enqueued(kind string, merged bool) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(kind).Inc()
	if merged {
		m.coalesced.WithLabelValues(kind).Inc()
	}
}

// UnitDone records an executed unit.
func (m *Metrics) UnitDone(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(kind, result).Inc()
	m.unitDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// PassDone records an indexer pass outcome.
func (m *Metrics) PassDone(indexer, outcome string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(indexer, outcome).Inc()
}

// Recovery records a corrupt index rebuild.
func (m *Metrics) Recovery(indexer string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(indexer).Inc()
}

// Reclaimed records a dropped buffer.
func (m *Metrics) Reclaimed() {
	if m == nil {
		return
	}
	m.reclaims.Inc()
}

// Flushed records a committed batch.
func (m *Metrics) Flushed(s cluster.FlushStats) {
	if m == nil {
		return
	}
	reset := "false"
	if s.Reset {
		reset = "true"
	}
	m.flushes.WithLabelValues(reset).Inc()
	m.flushedDocs.WithLabelValues("add").Add(float64(s.Documents))
	m.flushedDocs.WithLabelValues("remove").Add(float64(s.Removed))
	m.flushBytes.Observe(float64(s.Bytes))
}

// Persisted records an archive timestamp write event.
func (m *Metrics) Persisted(e timestamps.Event) {
	if m == nil {
		return
	}
	switch e.Kind {
	case timestamps.EventStored:
		m.persists.WithLabelValues("ok").Inc()
		m.persistSize.Observe(float64(e.Size))
	case timestamps.EventFailed:
		m.persists.WithLabelValues("error").Inc()
	}
}
