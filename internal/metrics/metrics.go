package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported on /metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	scans        *prometheus.CounterVec
	batches      *prometheus.CounterVec
	syncDuration prometheus.Histogram
	assignments  *prometheus.CounterVec
	released     prometheus.Counter
	requests     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schooltrack",
			Subsystem: "sync",
			Name:      "scans_total",
			Help:      "Attendance scans received, by result.",
		}, []string{"result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schooltrack",
			Subsystem: "sync",
			Name:      "batches_total",
			Help:      "Sync batches processed, by outcome.",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "schooltrack",
			Subsystem: "sync",
			Name:      "batch_duration_seconds",
			Help:      "Time spent ingesting one sync batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schooltrack",
			Subsystem: "assignment",
			Name:      "operations_total",
			Help:      "Assign and reassign operations, by outcome.",
		}, []string{"op", "outcome"}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schooltrack",
			Subsystem: "assignment",
			Name:      "released_total",
			Help:      "Assignments released in bulk.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schooltrack",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.scans, m.batches, m.syncDuration, m.assignments, m.released, m.requests)
	}
	return m
}

// ObserveSync records the outcome of one sync batch.
func (m *Metrics) ObserveSync(accepted, duplicate int, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "failed"
	}
	m.batches.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(took.Seconds())
	if err != nil {
		return
	}
	m.scans.WithLabelValues("accepted").Add(float64(accepted))
	m.scans.WithLabelValues("duplicate").Add(float64(duplicate))
}

// ObserveAssignment records an assign or reassign attempt.
func (m *Metrics) ObserveAssignment(op, outcome string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(op, outcome).Inc()
}

// AddReleased counts bulk-released assignments.
func (m *Metrics) AddReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.released.Add(float64(n))
}

// ObserveRequest counts one HTTP request.
func (m *Metrics) ObserveRequest(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}
