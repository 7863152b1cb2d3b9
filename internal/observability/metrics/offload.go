package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OffloadMetrics contains all Prometheus metrics related to worker offload.
type OffloadMetrics struct {
	OperationsTotal  *prometheus.CounterVec
	RetriesTotal     prometheus.Counter
	PendingGauge     prometheus.Gauge
	RoundTripSeconds prometheus.Histogram

	registry *prometheus.Registry
}

// NewOffloadMetrics creates a new instance of OffloadMetrics registered
// against the given registry.
func NewOffloadMetrics(registry *prometheus.Registry) (*OffloadMetrics, error) {
	m := &OffloadMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register offload metrics: %w", err)
	}
	return m, nil
}

func (m *OffloadMetrics) initMetrics() {
	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatscan_offload_operations_total",
			Help: "Total number of offloaded operations partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	m.RetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beatscan_offload_retries_total",
			Help: "Total number of retried offload operations.",
		},
	)

	m.PendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beatscan_offload_pending_operations",
			Help: "Number of offload operations awaiting a worker response.",
		},
	)

	m.RoundTripSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beatscan_offload_round_trip_seconds",
			Help:    "Time from dispatch to settled result for an offload operation.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
}

// RecordOperation records a settled offload operation with its outcome
// ("success", "error", "timeout" or "cancelled") and round-trip time.
func (m *OffloadMetrics) RecordOperation(outcome string, roundTrip time.Duration) {
	m.OperationsTotal.WithLabelValues(outcome).Inc()
	m.RoundTripSeconds.Observe(roundTrip.Seconds())
}

// RecordRetry records one retry attempt.
func (m *OffloadMetrics) RecordRetry() {
	m.RetriesTotal.Inc()
}

// SetPending records the current number of in-flight operations.
func (m *OffloadMetrics) SetPending(n int) {
	m.PendingGauge.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *OffloadMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.RetriesTotal.Describe(ch)
	m.PendingGauge.Describe(ch)
	m.RoundTripSeconds.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *OffloadMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.RetriesTotal.Collect(ch)
	m.PendingGauge.Collect(ch)
	m.RoundTripSeconds.Collect(ch)
}
