// Package metrics defines the Prometheus collectors used by corpusdiff and
// exposes an HTTP handler for scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the analysis service.
type Metrics struct {
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDuration        *prometheus.HistogramVec
	HTTPRequestsInFlight       prometheus.Gauge
	RecordsLoadedTotal         prometheus.Counter
	RecordsSkippedTotal        *prometheus.CounterVec
	AnalysisDuration           *prometheus.HistogramVec
	AnalysisErrorsTotal        *prometheus.CounterVec
	EmbeddingRequestsTotal     *prometheus.CounterVec
	EmbeddingCacheHitsTotal    prometheus.Counter
	EmbeddingCacheMissesTotal  prometheus.Counter
	DivergenceExamplesReturned prometheus.Histogram
	ReportEventsTotal          *prometheus.CounterVec
	CircuitBreakerState        *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses
// the Prometheus default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RecordsLoadedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "corpus_records_loaded_total",
				Help: "Corpus records accepted by the loader.",
			},
		),
		RecordsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_records_skipped_total",
				Help: "Corpus lines dropped by the loader, by reason.",
			},
			[]string{"reason"},
		),
		AnalysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analysis_duration_seconds",
				Help:    "Duration of analysis operations by kind.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"kind"},
		),
		AnalysisErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_errors_total",
				Help: "Failed analysis operations by kind.",
			},
			[]string{"kind"},
		),
		EmbeddingRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_requests_total",
				Help: "Embedding batch requests by status (ok, error).",
			},
			[]string{"status"},
		),
		EmbeddingCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "embedding_cache_hits_total",
				Help: "Sentence vectors served from the cache.",
			},
		),
		EmbeddingCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "embedding_cache_misses_total",
				Help: "Sentence vectors that had to be encoded.",
			},
		),
		DivergenceExamplesReturned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "divergence_examples_returned",
				Help:    "Number of divergence examples returned per query.",
				Buckets: []float64{0, 1, 3, 5, 10, 25, 50, 100},
			},
		),
		ReportEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_events_total",
				Help: "Report events by status (published, dropped, failed, stored).",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RecordsLoadedTotal,
		m.RecordsSkippedTotal,
		m.AnalysisDuration,
		m.AnalysisErrorsTotal,
		m.EmbeddingRequestsTotal,
		m.EmbeddingCacheHitsTotal,
		m.EmbeddingCacheMissesTotal,
		m.DivergenceExamplesReturned,
		m.ReportEventsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// HandlerFor returns a scrape handler for a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StartServer serves g on :port/metrics in the background for CLI runs that
// have no HTTP surface of their own. The returned func stops the server.
func StartServer(port int, g prometheus.Gatherer) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", HandlerFor(g))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return server.Shutdown
}
