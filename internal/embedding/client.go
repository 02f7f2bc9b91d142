// Package embedding encodes sentences through an OpenAI-compatible
// embeddings endpoint and optionally caches the vectors in Redis.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/bfsujason/llm-corpus-annotation/pkg/config"
	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
	"github.com/bfsujason/llm-corpus-annotation/pkg/resilience"
	openai "github.com/sashabaranov/go-openai"
)

// ErrNoAPIKey is returned by NewClient when no key is configured.
var ErrNoAPIKey = errors.New("embedding api key not set (CD_EMBEDDING_API_KEY or LLM_API_KEY)")

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Client calls the embeddings endpoint in batches. Each batch runs under a
// timeout, behind a circuit breaker, with retries on transient failures.
type Client struct {
	api       *openai.Client
	model     string
	batchSize int
	timeout   time.Duration
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClient builds a Client from cfg. m may be nil.
func NewClient(cfg config.EmbeddingConfig, m *metrics.Metrics) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	breakerCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureLimit,
		ResetTimeout:     30 * time.Second,
	}
	if m != nil {
		breakerCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}

	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		model:     cfg.Model,
		batchSize: max(cfg.BatchSize, 1),
		timeout:   cfg.Timeout,
		retry: resilience.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			Retryable:   retryable,
		},
		breaker: resilience.NewCircuitBreaker("embedding", breakerCfg),
		metrics: m,
		logger:  slog.Default().With("component", "embedding", "model", cfg.Model),
	}, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// Embed encodes texts in batches of the configured size.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
		c.logger.Debug("batch encoded", "from", start, "to", end, "total", len(texts))
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float64, error) {
	var vecs [][]float64
	err := resilience.Retry(ctx, "embedding", c.retry, func() error {
		return c.breaker.Execute(func() error {
			return resilience.WithTimeout(ctx, c.timeout, "embedding batch", func(ctx context.Context) error {
				resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
					Input: batch,
					Model: openai.EmbeddingModel(c.model),
				})
				if err != nil {
					c.observe("error")
					return err
				}
				c.observe("ok")
				vecs, err = toVectors(resp.Data, len(batch))
				return err
			})
		})
	})
	return vecs, err
}

func (c *Client) observe(status string) {
	if c.metrics != nil {
		c.metrics.EmbeddingRequestsTotal.WithLabelValues(status).Inc()
	}
}

// toVectors orders the response by index and widens to float64.
func toVectors(data []openai.Embedding, want int) ([][]float64, error) {
	if len(data) != want {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(data), want)
	}
	data = slices.Clone(data)
	slices.SortStableFunc(data, func(a, b openai.Embedding) int { return a.Index - b.Index })

	out := make([][]float64, len(data))
	for i, d := range data {
		v := make([]float64, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float64(x)
		}
		out[i] = v
	}
	return out, nil
}

// retryable treats rate limits, server errors and transport failures as
// transient. Other 4xx responses are permanent.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}
	return !errors.Is(err, context.Canceled)
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500 || code == 0
}
