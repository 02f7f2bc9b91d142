package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bfsujason/llm-corpus-annotation/pkg/health"
	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
	"github.com/bfsujason/llm-corpus-annotation/pkg/middleware"
	"github.com/bfsujason/llm-corpus-annotation/pkg/ratelimit"
)

// Options configures the shared middleware. Zero values disable each part.
type Options struct {
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
	// Limiter and RateLimit cap requests per client per limiter window.
	Limiter   *ratelimit.Limiter
	RateLimit int
}

// New builds the analysis API.
//
// Route table:
//
//	GET  /api/v1/versions             → corpus versions and load stats
//	GET  /api/v1/similarity           → version similarity matrix
//	GET  /api/v1/similarity/examples  → least-similar records for a pair
//	GET  /api/v1/frequency            → tag frequency with a preset grouping
//	POST /api/v1/frequency            → tag frequency with a custom grouping
//	GET  /api/v1/divergence           → feature divergence examples
//	GET  /health/live, /health/ready
//	GET  /metrics
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → RateLimit → Timeout → handler
func New(h *Handler, checker *health.Checker, opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/versions", h.Versions)
	mux.HandleFunc("GET /api/v1/similarity", h.Similarity)
	mux.HandleFunc("GET /api/v1/similarity/examples", h.SimilarityExamples)
	mux.HandleFunc("GET /api/v1/frequency", h.Frequency)
	mux.HandleFunc("POST /api/v1/frequency", h.FrequencyQuery)
	mux.HandleFunc("GET /api/v1/divergence", h.Divergence)
	return withCommon(mux, checker, opts)
}

// NewReportsRouter builds the report sink API.
//
//	GET /api/v1/reports?kind=&limit=  → recent report snapshots
func NewReportsRouter(h *Reports, checker *health.Checker, opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/reports", h.List)
	return withCommon(mux, checker, opts)
}

func withCommon(mux *http.ServeMux, checker *health.Checker, opts Options) http.Handler {
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.HandlerFor(opts.Gatherer))
	}

	mws := []func(http.Handler) http.Handler{middleware.RequestID}
	if opts.Metrics != nil {
		mws = append(mws, middleware.Metrics(opts.Metrics))
	}
	mws = append(mws,
		middleware.RateLimit(opts.Limiter, opts.RateLimit),
		middleware.Timeout(opts.Timeout),
	)
	return middleware.Chain(mux, mws...)
}
