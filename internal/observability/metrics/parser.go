package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ParserMetrics contains all Prometheus metrics related to parse operations.
type ParserMetrics struct {
	ParseTotal    *prometheus.CounterVec
	ParseErrors   *prometheus.CounterVec
	ParseDuration prometheus.Histogram
	BeatsDetected prometheus.Histogram

	registry *prometheus.Registry
}

// NewParserMetrics creates a new instance of ParserMetrics. It requires a
// Prometheus registry to register the metrics against. It returns an error
// if metric registration fails.
func NewParserMetrics(registry *prometheus.Registry) (*ParserMetrics, error) {
	m := &ParserMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register parser metrics: %w", err)
	}
	return m, nil
}

func (m *ParserMetrics) initMetrics() {
	m.ParseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatscan_parses_total",
			Help: "Total number of parse operations partitioned by status.",
		},
		[]string{"status"},
	)

	m.ParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatscan_parse_errors_total",
			Help: "Total number of parse errors partitioned by pipeline stage.",
		},
		[]string{"stage"},
	)

	m.ParseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beatscan_parse_duration_seconds",
			Help:    "Time taken to run the full beat detection pipeline.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	m.BeatsDetected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beatscan_beats_detected",
			Help:    "Number of beats produced per parse.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		},
	)
}

// RecordParse records a successful parse.
func (m *ParserMetrics) RecordParse(duration time.Duration, beats int) {
	m.ParseTotal.WithLabelValues("success").Inc()
	m.ParseDuration.Observe(duration.Seconds())
	m.BeatsDetected.Observe(float64(beats))
}

// RecordError records a failed parse for the given pipeline stage.
func (m *ParserMetrics) RecordError(stage string) {
	m.ParseTotal.WithLabelValues("error").Inc()
	m.ParseErrors.WithLabelValues(stage).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ParserMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ParseTotal.Describe(ch)
	m.ParseErrors.Describe(ch)
	m.ParseDuration.Describe(ch)
	m.BeatsDetected.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ParserMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ParseTotal.Collect(ch)
	m.ParseErrors.Collect(ch)
	m.ParseDuration.Collect(ch)
	m.BeatsDetected.Collect(ch)
}
