// Package divergence finds the records where one version uses a feature
// (a POS class, a dependency relation, a USAS category) markedly more often
// than another.
package divergence

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/bfsujason/llm-corpus-annotation/internal/corpus"
	apperrors "github.com/bfsujason/llm-corpus-annotation/pkg/errors"
)

// Side is one version's view of a record.
type Side struct {
	Version  string    `json:"version"`
	Text     string    `json:"text"`
	Count    int       `json:"count"`
	Keywords []Keyword `json:"keywords"`
}

// Example is a record where A exceeds B by Diff occurrences.
type Example struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	A      Side   `json:"a"`
	B      Side   `json:"b"`
	Diff   int    `json:"diff"`
}

// Query selects a retrieval. TopN <= 0 returns every kept record.
type Query struct {
	VersionA  string
	VersionB  string
	Extractor Extractor
	MinDiff   int
	TopN      int
}

type Retriever struct {
	corpus *corpus.Corpus
	logger *slog.Logger
}

func New(c *corpus.Corpus) *Retriever {
	return &Retriever{
		corpus: c,
		logger: slog.Default().With("component", "divergence"),
	}
}

// Retrieve keeps records with countA - countB >= MinDiff, ordered by Diff
// descending with ties in corpus order. Records where B exceeds A are never
// returned.
func (r *Retriever) Retrieve(q Query) ([]Example, error) {
	if q.Extractor == nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 0, "no feature extractor")
	}
	if err := r.corpus.Require(q.VersionA, q.VersionB); err != nil {
		return nil, err
	}

	payloadsA, _ := r.corpus.Payloads(q.VersionA)
	payloadsB, _ := r.corpus.Payloads(q.VersionB)

	var examples []Example
	for i := range r.corpus.IDs {
		countA, keysA := q.Extractor.Extract(payloadsA[i])
		countB, keysB := q.Extractor.Extract(payloadsB[i])
		diff := countA - countB
		if diff < q.MinDiff {
			continue
		}
		examples = append(examples, Example{
			ID:     r.corpus.IDs[i],
			Source: r.corpus.Sources[i].Text(),
			A:      Side{Version: q.VersionA, Text: payloadsA[i].Text(), Count: countA, Keywords: keysA},
			B:      Side{Version: q.VersionB, Text: payloadsB[i].Text(), Count: countB, Keywords: keysB},
			Diff:   diff,
		})
	}

	slices.SortStableFunc(examples, func(x, y Example) int { return cmp.Compare(y.Diff, x.Diff) })
	kept := len(examples)
	if q.TopN > 0 && q.TopN < len(examples) {
		examples = examples[:q.TopN]
	}
	r.logger.Info("divergent examples retrieved",
		"feature", q.Extractor.Name(),
		"a", q.VersionA,
		"b", q.VersionB,
		"kept", kept,
		"returned", len(examples),
	)
	return examples, nil
}
