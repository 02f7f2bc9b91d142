package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bfsujason/llm-corpus-annotation/internal/analysis"
	"github.com/bfsujason/llm-corpus-annotation/internal/corpus"
	"github.com/bfsujason/llm-corpus-annotation/internal/embedding"
	"github.com/bfsujason/llm-corpus-annotation/internal/similarity"
	"github.com/bfsujason/llm-corpus-annotation/pkg/config"
	"github.com/bfsujason/llm-corpus-annotation/pkg/health"
	"github.com/bfsujason/llm-corpus-annotation/pkg/kafka"
	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
	pkgredis "github.com/bfsujason/llm-corpus-annotation/pkg/redis"
	"github.com/bfsujason/llm-corpus-annotation/pkg/resilience"
)

// app is everything a command needs once the corpus is loaded.
type app struct {
	cfg      *config.Config
	corpus   *corpus.Corpus
	svc      *analysis.Service
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	checker  *health.Checker
	out      io.Writer
	closers  []func() error
}

// openApp loads the corpus and wires the optional integrations named in
// cfg. Integrations that fail to connect are logged and left out; only the
// corpus is required.
func openApp(ctx context.Context, cfg *config.Config, out io.Writer) (*app, error) {
	c, err := corpus.Load(cfg.Corpus.Path, cfg.Corpus.Limit)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &app{
		cfg:      cfg,
		corpus:   c,
		registry: reg,
		metrics:  m,
		checker:  health.NewChecker(),
		out:      out,
	}

	opts := []analysis.Option{
		analysis.WithPresets(analysis.PresetsFromConfig(cfg.Analysis)),
		analysis.WithEmbedderFactory(a.embedderFactory(ctx)),
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Reports)
		collector := analysis.NewCollector(producer, 1024, m)
		collector.Start(ctx)
		// Closed in reverse: the collector drains before the producer closes.
		a.closers = append(a.closers, producer.Close, func() error { collector.Close(); return nil })
		a.checker.Register("kafka", health.Ping(producer.Ping, true))
		opts = append(opts, analysis.WithCollector(collector))
		slog.Info("report events enabled", "topic", cfg.Kafka.Topics.Reports, "brokers", cfg.Kafka.Brokers)
	}

	a.svc = analysis.New(c, m, opts...)
	a.checker.Register("corpus", a.svc.CorpusCheck())
	return a, nil
}

// embedderFactory connects the embedding client, and the Redis cache when
// enabled, the first time the embedding metric is used.
func (a *app) embedderFactory(ctx context.Context) similarity.EmbedderFactory {
	client, clientErr := embedding.NewClient(a.cfg.Embedding, a.metrics)
	if clientErr == nil {
		a.checker.Register("embedding", breakerCheck(client.Breaker()))
	}

	var store embedding.Store
	if a.cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(ctx, a.cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, embedding cache disabled", "addr", a.cfg.Redis.Addr, "error", err)
		} else {
			store = rc
			a.closers = append(a.closers, rc.Close)
			a.checker.Register("redis", health.Ping(rc.Ping, true))
			slog.Info("embedding cache enabled", "addr", a.cfg.Redis.Addr, "ttl", a.cfg.Redis.CacheTTL)
		}
	}

	return func(context.Context) (similarity.Embedder, error) {
		if clientErr != nil {
			return nil, clientErr
		}
		if store == nil {
			return client, nil
		}
		return embedding.NewCache(client, store, a.cfg.Embedding.Model, a.cfg.Redis.CacheTTL, a.metrics), nil
	}
}

func breakerCheck(cb *resilience.CircuitBreaker) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		switch cb.GetState() {
		case resilience.StateOpen:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit open"}
		case resilience.StateHalfOpen:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit half-open"}
		default:
			return health.ComponentHealth{Status: health.StatusUp}
		}
	}
}

// Close releases integrations in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing: %w", errors.Join(errs...))
	}
	return nil
}
