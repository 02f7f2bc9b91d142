// Package analysis runs the corpus reports behind the CLI and the HTTP API.
// Every run gets a run ID, a trace span, duration and error metrics, and,
// when a Collector is attached, a report event on the reports topic.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bfsujason/llm-corpus-annotation/internal/corpus"
	"github.com/bfsujason/llm-corpus-annotation/internal/divergence"
	"github.com/bfsujason/llm-corpus-annotation/internal/similarity"
	"github.com/bfsujason/llm-corpus-annotation/internal/tagfreq"
	"github.com/bfsujason/llm-corpus-annotation/pkg/config"
	apperrors "github.com/bfsujason/llm-corpus-annotation/pkg/errors"
	"github.com/bfsujason/llm-corpus-annotation/pkg/health"
	"github.com/bfsujason/llm-corpus-annotation/pkg/logger"
	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
	"github.com/bfsujason/llm-corpus-annotation/pkg/tracing"
)

// Service owns a loaded corpus and the engines built over it.
type Service struct {
	corpus  *corpus.Corpus
	sim     *similarity.Engine
	simMu   sync.Mutex
	agg     *tagfreq.Aggregator
	ret     *divergence.Retriever
	presets map[tagfreq.Dimension]tagfreq.Grouping

	simOpts   []similarity.Option
	collector *Collector
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Service)

// WithCollector publishes a ReportEvent after every successful run.
func WithCollector(c *Collector) Option {
	return func(s *Service) { s.collector = c }
}

// WithEmbedderFactory sets how the embedding metric obtains its encoder.
func WithEmbedderFactory(f similarity.EmbedderFactory) Option {
	return func(s *Service) { s.simOpts = append(s.simOpts, similarity.WithEmbedderFactory(f)) }
}

// WithPresets overrides the built-in grouping for the given dimensions.
// Dimensions mapped to an empty grouping keep the built-in one.
func WithPresets(p map[tagfreq.Dimension]tagfreq.Grouping) Option {
	return func(s *Service) {
		for d, g := range p {
			if len(g) > 0 {
				s.presets[d] = g
			}
		}
	}
}

// New builds the engines over c. A nil m gets a private registry.
func New(c *corpus.Corpus, m *metrics.Metrics, opts ...Option) *Service {
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	s := &Service{
		corpus:  c,
		metrics: m,
		presets: map[tagfreq.Dimension]tagfreq.Grouping{},
		logger:  logger.WithComponent("analysis"),
	}
	for _, d := range tagfreq.Dimensions {
		s.presets[d] = tagfreq.Preset(d)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sim = similarity.New(c, s.simOpts...)
	s.agg = tagfreq.New(c)
	s.ret = divergence.New(c)

	m.RecordsLoadedTotal.Add(float64(c.Stats.Accepted))
	for reason, n := range c.Stats.Skipped {
		m.RecordsSkippedTotal.WithLabelValues(string(reason)).Add(float64(n))
	}
	return s
}

// PresetsFromConfig converts configured groups, keyed by dimension.
func PresetsFromConfig(cfg config.AnalysisConfig) map[tagfreq.Dimension]tagfreq.Grouping {
	convert := func(groups []config.GroupConfig) tagfreq.Grouping {
		var g tagfreq.Grouping
		for _, gc := range groups {
			g = append(g, tagfreq.Group{Label: gc.Label, Keys: gc.Keys})
		}
		return g
	}
	return map[tagfreq.Dimension]tagfreq.Grouping{
		tagfreq.DimensionPOS:  convert(cfg.POSGroups),
		tagfreq.DimensionDep:  convert(cfg.DepGroups),
		tagfreq.DimensionUSAS: convert(cfg.USASGroups),
	}
}

func (s *Service) Corpus() *corpus.Corpus { return s.corpus }

// Preset returns the grouping used when a frequency query names none.
func (s *Service) Preset(d tagfreq.Dimension) tagfreq.Grouping { return s.presets[d] }

// CorpusCheck reports down while the corpus holds no records.
func (s *Service) CorpusCheck() health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		if s.corpus.Len() == 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no records loaded"}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	}
}

// SimilarityRequest parameters for a version-by-version matrix.
type SimilarityRequest struct {
	Metric similarity.Metric `json:"metric"`
}

func (s *Service) Similarity(ctx context.Context, req SimilarityRequest) (*similarity.Matrix, error) {
	return run(ctx, s, KindSimilarity, req, func(ctx context.Context) (*similarity.Matrix, error) {
		s.simMu.Lock()
		defer s.simMu.Unlock()
		return s.sim.Matrix(ctx, req.Metric)
	})
}

// ExamplesRequest parameters for the least-similar records of a pair.
type ExamplesRequest struct {
	VersionA string            `json:"a"`
	VersionB string            `json:"b"`
	Metric   similarity.Metric `json:"metric"`
	TopN     int               `json:"top_n"`
}

func (s *Service) SimilarityExamples(ctx context.Context, req ExamplesRequest) ([]similarity.Example, error) {
	return run(ctx, s, KindSimilarityExamples, req, func(ctx context.Context) ([]similarity.Example, error) {
		s.simMu.Lock()
		defer s.simMu.Unlock()
		return s.sim.LeastSimilar(ctx, req.VersionA, req.VersionB, req.Metric, req.TopN)
	})
}

// Frequency tabulates q, filling in the preset grouping when q has none.
func (s *Service) Frequency(ctx context.Context, q tagfreq.Query) (*tagfreq.Table, error) {
	match, err := tagfreq.ParseMatchPolicy(string(q.Match))
	if err != nil {
		return nil, err
	}
	q.Match = match
	if len(q.Grouping) == 0 {
		q.Grouping = s.presets[q.Dimension]
	}
	return run(ctx, s, KindFrequency, q, func(ctx context.Context) (*tagfreq.Table, error) {
		return s.agg.Report(q)
	})
}

// DivergenceRequest parameters for a feature-divergence search.
type DivergenceRequest struct {
	Feature  string   `json:"feature"`
	Tags     []string `json:"tags"`
	VersionA string   `json:"a"`
	VersionB string   `json:"b"`
	MinDiff  int      `json:"min_diff"`
	TopN     int      `json:"top_n"`
}

func (s *Service) Divergence(ctx context.Context, req DivergenceRequest) ([]divergence.Example, error) {
	ex, err := divergence.NewExtractor(req.Feature, req.Tags)
	if err != nil {
		return nil, err
	}
	examples, err := run(ctx, s, KindDivergence, req, func(ctx context.Context) ([]divergence.Example, error) {
		return s.ret.Retrieve(divergence.Query{
			VersionA:  req.VersionA,
			VersionB:  req.VersionB,
			Extractor: ex,
			MinDiff:   req.MinDiff,
			TopN:      req.TopN,
		})
	})
	if err == nil {
		s.metrics.DivergenceExamplesReturned.Observe(float64(len(examples)))
	}
	return examples, err
}

func run[T any](ctx context.Context, s *Service, kind ReportKind, params any, fn func(context.Context) (T, error)) (T, error) {
	runID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, string(kind), runID)
	defer span.End()
	span.SetAttr("corpus", s.corpus.Path)
	if rid := logger.RequestID(ctx); rid != "" {
		span.SetAttr("request_id", rid)
	}
	log := logger.FromContext(ctx).With("component", "analysis", "run_id", runID, "kind", kind)

	start := time.Now()
	result, err := fn(ctx)
	elapsed := time.Since(start)
	s.metrics.AnalysisDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())

	if err != nil {
		s.metrics.AnalysisErrorsTotal.WithLabelValues(string(kind)).Inc()
		span.SetAttr("error", err.Error())
		if errors.Is(err, apperrors.ErrResourceUnavailable) {
			log.Error("analysis failed", "error", err)
		} else {
			log.Warn("analysis rejected", "error", err)
		}
		return result, err
	}
	log.Info("analysis completed", "duration_ms", elapsed.Milliseconds())

	if s.collector != nil {
		s.track(ctx, runID, kind, params, result, elapsed)
	}
	return result, nil
}

func (s *Service) track(ctx context.Context, runID string, kind ReportKind, params, result any, elapsed time.Duration) {
	p, err := json.Marshal(params)
	if err != nil {
		s.logger.Warn("report params not encodable", "run_id", runID, "error", err)
		return
	}
	r, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("report result not encodable", "run_id", runID, "error", err)
		return
	}
	s.collector.Track(ReportEvent{
		RunID:      runID,
		Kind:       kind,
		Corpus:     s.corpus.Path,
		Params:     p,
		Result:     r,
		DurationMs: elapsed.Milliseconds(),
		RequestID:  logger.RequestID(ctx),
		Timestamp:  time.Now().UTC(),
	})
}
