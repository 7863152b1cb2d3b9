// Package metrics provides Prometheus metrics for the BeatScan-Go application.
package metrics

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metric collectors for the application. A private
// registry keeps the collectors isolated from the global default registry,
// so multiple instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry
	Parser   *ParserMetrics
	Offload  *OffloadMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric
// collectors. It returns an error if any collector fails to register.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	parserMetrics, err := NewParserMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create parser metrics: %w", err)
	}

	offloadMetrics, err := NewOffloadMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create offload metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Parser:   parserMetrics,
		Offload:  offloadMetrics,
	}, nil
}

// RecordParse records a completed parse with its duration and beat count.
func (m *Metrics) RecordParse(duration time.Duration, beats int) {
	m.Parser.RecordParse(duration, beats)
}

// RecordParseError records a failed parse partitioned by pipeline stage.
func (m *Metrics) RecordParseError(stage string) {
	m.Parser.RecordError(stage)
}

// RegisterHandlers registers the metrics endpoint with the provided mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
