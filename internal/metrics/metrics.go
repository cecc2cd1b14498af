// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the firehose collector.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters for the ingest pipeline. It also keeps
// a mutex-guarded mirror of the totals so /stats can serve them as plain JSON
// without scraping the registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsAccepted  prometheus.Counter
	eventsRejected  prometheus.Counter
	eventsCommitted prometheus.Counter
	batchesFlushed  prometheus.Counter
	flushFailures   *prometheus.CounterVec
	eventsRequeued  prometheus.Counter
	flushDuration   prometheus.Histogram

	mu             sync.Mutex
	startTime      time.Time
	acceptedCount  int64
	rejectedCount  int64
	committedCount int64
	failureCount   int64
	requeuedCount  int64

	bufferLen func() int
}

// New creates a Metrics instance with its own Prometheus registry. bufferLen
// is sampled on scrape for the buffer length gauge; nil is allowed.
func New(bufferLen func() int) *Metrics {
	reg := prometheus.NewRegistry()

	eventsAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "firehose",
		Name:      "events_accepted_total",
		Help:      "Total number of events accepted into the buffer.",
	})

	eventsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "firehose",
		Name:      "events_rejected_total",
		Help:      "Total number of events rejected by the buffer capacity bound.",
	})

	eventsCommitted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "firehose",
		Name:      "events_committed_total",
		Help:      "Total number of events durably committed to the sink.",
	})

	batchesFlushed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "firehose",
		Name:      "batches_flushed_total",
		Help:      "Total number of successfully committed batches.",
	})

	flushFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firehose",
		Name:      "flush_failures_total",
		Help:      "Total failed commit attempts by error class.",
	}, []string{"class"})

	eventsRequeued := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "firehose",
		Name:      "events_requeued_total",
		Help:      "Total events returned to the buffer after a failed commit.",
	})

	flushDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "firehose",
		Name:      "flush_duration_seconds",
		Help:      "Commit attempt latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	m := &Metrics{
		registry:        reg,
		eventsAccepted:  eventsAccepted,
		eventsRejected:  eventsRejected,
		eventsCommitted: eventsCommitted,
		batchesFlushed:  batchesFlushed,
		flushFailures:   flushFailures,
		eventsRequeued:  eventsRequeued,
		flushDuration:   flushDuration,
		startTime:       time.Now(),
		bufferLen:       bufferLen,
	}

	reg.MustRegister(eventsAccepted, eventsRejected, eventsCommitted, batchesFlushed, flushFailures, eventsRequeued, flushDuration)

	if bufferLen != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "firehose",
			Name:      "buffer_length",
			Help:      "Current number of buffered, not yet persisted events.",
		}, func() float64 { return float64(bufferLen()) }))
	}

	return m
}

// EventAccepted records one accepted event.
func (m *Metrics) EventAccepted() {
	m.eventsAccepted.Inc()
	m.mu.Lock()
	m.acceptedCount++
	m.mu.Unlock()
}

// EventRejected records one event refused by the capacity bound.
func (m *Metrics) EventRejected() {
	m.eventsRejected.Inc()
	m.mu.Lock()
	m.rejectedCount++
	m.mu.Unlock()
}

// BatchCommitted implements ingest.FlushObserver.
func (m *Metrics) BatchCommitted(n int, took time.Duration) {
	m.eventsCommitted.Add(float64(n))
	m.batchesFlushed.Inc()
	if took > 0 {
		m.flushDuration.Observe(took.Seconds())
	}
	m.mu.Lock()
	m.committedCount += int64(n)
	m.mu.Unlock()
}

// FlushFailed implements ingest.FlushObserver.
func (m *Metrics) FlushFailed(n int, retryable bool) {
	class := "transient"
	if !retryable {
		class = "permanent"
	}
	m.flushFailures.WithLabelValues(class).Inc()
	m.mu.Lock()
	m.failureCount++
	m.mu.Unlock()
}

// BatchRequeued implements ingest.FlushObserver.
func (m *Metrics) BatchRequeued(n int) {
	m.eventsRequeued.Add(float64(n))
	m.mu.Lock()
	m.requeuedCount += int64(n)
	m.mu.Unlock()
}

// Handler returns the Prometheus scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Stats is the JSON shape served by StatsHandler.
type Stats struct {
	UptimeSeconds   int64 `json:"uptime_seconds"`
	EventsAccepted  int64 `json:"events_accepted"`
	EventsRejected  int64 `json:"events_rejected"`
	EventsCommitted int64 `json:"events_committed"`
	EventsBuffered  int   `json:"events_buffered"`
	FlushFailures   int64 `json:"flush_failures"`
	EventsRequeued  int64 `json:"events_requeued"`
}

// Snapshot returns the current totals.
func (m *Metrics) Snapshot() Stats {
	m.mu.Lock()
	s := Stats{
		UptimeSeconds:   int64(time.Since(m.startTime).Seconds()),
		EventsAccepted:  m.acceptedCount,
		EventsRejected:  m.rejectedCount,
		EventsCommitted: m.committedCount,
		FlushFailures:   m.failureCount,
		EventsRequeued:  m.requeuedCount,
	}
	m.mu.Unlock()

	if m.bufferLen != nil {
		s.EventsBuffered = m.bufferLen()
	}
	return s
}

// StatsHandler serves the totals as a JSON document.
func (m *Metrics) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
}
