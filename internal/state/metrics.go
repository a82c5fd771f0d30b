package state

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation results used as metric labels.
const (
	resultOK        = "ok"
	resultConflict  = "conflict"
	resultError     = "error"
	resultDiscarded = "discarded"
)

// Metrics holds the collectors State reports to.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statestore",
			Name:      "operations_total",
			Help:      "State operations by kind and result.",
		}, []string{"op", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "statestore",
			Name:      "operation_duration_seconds",
			Help:      "Time from start to resolution of state operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "statestore",
			Name:      "operations_in_flight",
			Help:      "State operations started but not yet resolved.",
		}),
	}
}

func (m *Metrics) start() time.Time {
	m.inFlight.Inc()
	return time.Now()
}

func (m *Metrics) finish(op, result string, started time.Time) {
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	m.inFlight.Dec()
}
