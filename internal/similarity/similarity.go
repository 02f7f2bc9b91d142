// Package similarity computes version-by-version similarity matrices over a
// loaded corpus, using either a character-level string ratio or cosine
// similarity of sentence embeddings, and retrieves the least similar record
// pairs for two versions.
package similarity

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bfsujason/llm-corpus-annotation/internal/corpus"
	apperrors "github.com/bfsujason/llm-corpus-annotation/pkg/errors"
	"github.com/bfsujason/llm-corpus-annotation/pkg/tracing"
	"github.com/pmezard/go-difflib/difflib"
	"gonum.org/v1/gonum/floats"
)

// Metric selects how two renderings of a record are compared.
type Metric string

const (
	MetricString    Metric = "string"
	MetricEmbedding Metric = "embedding"
)

// ParseMetric maps a user-facing name to a Metric. "semantic" is accepted as
// an alias for the embedding metric.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string":
		return MetricString, nil
	case "embedding", "semantic":
		return MetricEmbedding, nil
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidInput, 0, "unknown metric %q (want string or embedding)", s)
	}
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbedderFactory builds the Embedder on first use.
type EmbedderFactory func(ctx context.Context) (Embedder, error)

// Matrix is a symmetric similarity matrix indexed by version name.
type Matrix struct {
	Metric   Metric      `json:"metric"`
	Versions []string    `json:"versions"`
	Values   [][]float64 `json:"values"`
}

// At returns the similarity of versions a and b.
func (m *Matrix) At(a, b string) (float64, bool) {
	i := slices.Index(m.Versions, a)
	j := slices.Index(m.Versions, b)
	if i < 0 || j < 0 {
		return 0, false
	}
	return m.Values[i][j], true
}

// Example is one record scored for a version pair.
type Example struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	TextA  string  `json:"text_a"`
	TextB  string  `json:"text_b"`
	Score  float64 `json:"score"`
}

// Engine computes similarity over one corpus. It caches the embedder and
// each version's vectors for its lifetime and is not safe for concurrent use.
type Engine struct {
	corpus  *corpus.Corpus
	factory EmbedderFactory
	logger  *slog.Logger

	embedder Embedder
	vectors  map[string][][]float64
}

type Option func(*Engine)

// WithEmbedderFactory enables the embedding metric.
func WithEmbedderFactory(f EmbedderFactory) Option {
	return func(e *Engine) { e.factory = f }
}

func New(c *corpus.Corpus, opts ...Option) *Engine {
	e := &Engine{
		corpus:  c,
		vectors: make(map[string][][]float64),
		logger:  slog.Default().With("component", "similarity"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Matrix computes the pairwise matrix for metric. The diagonal is exactly
// 1.0 and only the upper triangle is computed.
func (e *Engine) Matrix(ctx context.Context, metric Metric) (*Matrix, error) {
	if e.corpus.Len() == 0 {
		return nil, apperrors.New(apperrors.ErrEmptyCorpus, 0, "no records to compare")
	}
	score, err := e.scorer(ctx, metric, e.corpus.Versions)
	if err != nil {
		return nil, err
	}

	versions := e.corpus.Versions
	n := len(versions)
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
		values[i][i] = 1.0
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: similarity matrix abandoned: %w", apperrors.ErrTimeout, err)
			}
			sum := 0.0
			for r := 0; r < e.corpus.Len(); r++ {
				sum += score(versions[i], versions[j], r)
			}
			values[i][j] = sum / float64(e.corpus.Len())
			values[j][i] = values[i][j]
		}
	}
	e.logger.Info("similarity matrix computed", "metric", metric, "versions", n, "records", e.corpus.Len())
	return &Matrix{Metric: metric, Versions: slices.Clone(versions), Values: values}, nil
}

// LeastSimilar scores every record for versions a and b and returns the topN
// lowest-scoring ones, ascending; ties keep corpus order. topN <= 0 returns
// all records.
func (e *Engine) LeastSimilar(ctx context.Context, a, b string, metric Metric, topN int) ([]Example, error) {
	if err := e.corpus.Require(a, b); err != nil {
		return nil, err
	}
	score, err := e.scorer(ctx, metric, []string{a, b})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: least similar examples abandoned: %w", apperrors.ErrTimeout, err)
	}

	textsA, _ := e.corpus.Payloads(a)
	textsB, _ := e.corpus.Payloads(b)
	examples := make([]Example, e.corpus.Len())
	for r := range examples {
		examples[r] = Example{
			ID:     e.corpus.IDs[r],
			Source: e.corpus.Sources[r].Text(),
			TextA:  textsA[r].Text(),
			TextB:  textsB[r].Text(),
			Score:  score(a, b, r),
		}
	}
	slices.SortStableFunc(examples, func(x, y Example) int { return cmp.Compare(x.Score, y.Score) })
	if topN > 0 && topN < len(examples) {
		examples = examples[:topN]
	}
	return examples, nil
}

// scorer returns the per-record score function for metric, encoding the
// given versions first when the metric needs vectors.
func (e *Engine) scorer(ctx context.Context, metric Metric, versions []string) (func(a, b string, r int) float64, error) {
	switch metric {
	case MetricString:
		return func(a, b string, r int) float64 {
			pa, _ := e.corpus.Payloads(a)
			pb, _ := e.corpus.Payloads(b)
			return StringSimilarity(pa[r].Text(), pb[r].Text())
		}, nil
	case MetricEmbedding:
		for _, v := range versions {
			if _, err := e.encode(ctx, v); err != nil {
				return nil, err
			}
		}
		return func(a, b string, r int) float64 {
			return Cosine(e.vectors[a][r], e.vectors[b][r])
		}, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "unknown metric %q", metric)
	}
}

// encode returns the cached vectors of version v, embedding its texts on
// first use.
func (e *Engine) encode(ctx context.Context, v string) ([][]float64, error) {
	if vecs, ok := e.vectors[v]; ok {
		return vecs, nil
	}
	embedder, err := e.embedderFor(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartChildSpan(ctx, "embed")
	defer span.End()
	span.SetAttr("version", v)

	payloads, _ := e.corpus.Payloads(v)
	texts := make([]string, len(payloads))
	for i, p := range payloads {
		texts[i] = p.Text()
	}
	e.logger.Info("encoding version", "version", v, "texts", len(texts))
	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s: %w", apperrors.ErrResourceUnavailable, v, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: encoding %s: got %d vectors for %d texts",
			apperrors.ErrResourceUnavailable, v, len(vecs), len(texts))
	}
	e.vectors[v] = vecs
	return vecs, nil
}

func (e *Engine) embedderFor(ctx context.Context) (Embedder, error) {
	if e.embedder != nil {
		return e.embedder, nil
	}
	if e.factory == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", apperrors.ErrResourceUnavailable)
	}
	embedder, err := e.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding provider: %w", apperrors.ErrResourceUnavailable, err)
	}
	e.embedder = embedder
	return embedder, nil
}

// StringSimilarity is the symmetric character-level ratio of a and b: the
// SequenceMatcher ratio computed in both directions and averaged.
func StringSimilarity(a, b string) float64 {
	ra := strings.Split(a, "")
	rb := strings.Split(b, "")
	ab := difflib.NewMatcher(ra, rb).Ratio()
	ba := difflib.NewMatcher(rb, ra).Ratio()
	return (ab + ba) / 2
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// has zero norm or the dimensions differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
