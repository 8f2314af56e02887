// Package metrics exposes Prometheus counters for the comment API.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Comment events. Used as the "event" label value.
const (
	EventCreated   = "created"
	EventReplied   = "replied"
	EventEdited    = "edited"
	EventDeleted   = "deleted"
	EventVoted     = "voted"
	EventReported  = "reported"
	EventEscalated = "escalated"
	EventModerated = "moderated"
	EventPurged    = "purged"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	events          *prometheus.CounterVec
	purgedRecords   prometheus.Counter
	snapshotLookups *prometheus.CounterVec
}

// New registers the comment metrics on registry. A nil registry gets a
// fresh one.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinchem_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinchem_http_request_duration_seconds",
			Help:    "HTTP request latency by method",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinchem_comment_events_total",
			Help: "Comment lifecycle events",
		}, []string{"event"}),
		purgedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinchem_comment_purged_records_total",
			Help: "Comment records permanently removed by admin purges",
		}),
		snapshotLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinchem_thread_snapshot_lookups_total",
			Help: "Thread snapshot cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{m.requests, m.requestDuration, m.events, m.purgedRecords, m.snapshotLookups} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register comment metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) CommentEvent(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) Purged(records int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(EventPurged).Inc()
	m.purgedRecords.Add(float64(records))
}

func (m *Metrics) SnapshotLookup(result string) {
	if m == nil {
		return
	}
	m.snapshotLookups.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
