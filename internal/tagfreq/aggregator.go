package tagfreq

import (
	"log/slog"
	"slices"

	"github.com/bfsujason/llm-corpus-annotation/internal/corpus"
	apperrors "github.com/bfsujason/llm-corpus-annotation/pkg/errors"
)

// Counter holds one version's tag counts on one dimension. Total is the
// report denominator.
type Counter struct {
	Tags  map[string]int
	Total int
}

func newCounter() *Counter { return &Counter{Tags: map[string]int{}} }

func (c *Counter) add(tag string) {
	c.Tags[tag]++
	c.Total++
}

// Aggregator holds counters for every version, built once from a corpus.
type Aggregator struct {
	versions []string
	counters map[string]map[Dimension]*Counter
	logger   *slog.Logger
}

// New counts every tag layer of c. Source annotations, when present, are
// counted under corpus.SourceVersion.
func New(c *corpus.Corpus) *Aggregator {
	a := &Aggregator{
		versions: slices.Clone(c.Versions),
		counters: make(map[string]map[Dimension]*Counter),
		logger:   slog.Default().With("component", "tagfreq"),
	}
	for _, v := range c.Versions {
		payloads, _ := c.Payloads(v)
		a.count(v, payloads)
	}
	a.count(corpus.SourceVersion, c.Sources)
	return a
}

func (a *Aggregator) count(version string, payloads []corpus.Payload) {
	dims := map[Dimension]*Counter{
		DimensionPOS:  newCounter(),
		DimensionDep:  newCounter(),
		DimensionUSAS: newCounter(),
	}
	for _, p := range payloads {
		for _, sent := range p.POS {
			for _, tag := range sent {
				dims[DimensionPOS].add(tag)
			}
		}
		for _, sent := range p.Dep {
			for _, arc := range sent {
				if arc.Rel != "punct" {
					dims[DimensionDep].add(arc.Rel)
				}
			}
		}
		for _, item := range p.USAS {
			if cat, ok := RollUp(item.Tag); ok {
				dims[DimensionUSAS].add(cat)
			}
		}
	}
	a.counters[version] = dims
}

// Counter returns the counter of version on dimension d.
func (a *Aggregator) Counter(version string, d Dimension) (*Counter, bool) {
	dims, ok := a.counters[version]
	if !ok {
		return nil, false
	}
	c, ok := dims[d]
	return c, ok
}

// Query selects what Report tabulates. Empty Versions means every tracked
// version, without the source pseudo-version.
type Query struct {
	Dimension Dimension   `json:"dimension"`
	Grouping  Grouping    `json:"groups"`
	Versions  []string    `json:"versions,omitempty"`
	Match     MatchPolicy `json:"match,omitempty"`
}

// Row is one (version, group) cell. Percentage is not rounded.
type Row struct {
	Version    string  `json:"version"`
	Label      string  `json:"label"`
	Count      int     `json:"count"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Table is a frequency report, rows ordered by version then group.
type Table struct {
	Dimension Dimension   `json:"dimension"`
	Match     MatchPolicy `json:"match"`
	Rows      []Row       `json:"rows"`
}

// Report tabulates q. Versions with no tags on the dimension are left out.
func (a *Aggregator) Report(q Query) (*Table, error) {
	if !slices.Contains(Dimensions, q.Dimension) {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "unknown dimension %q", q.Dimension)
	}
	if err := q.Grouping.validate(); err != nil {
		return nil, err
	}

	versions := q.Versions
	if len(versions) == 0 {
		versions = a.versions
	} else {
		var missing []string
		for _, v := range versions {
			if _, ok := a.counters[v]; !ok {
				missing = append(missing, v)
			}
		}
		if len(missing) > 0 {
			return nil, apperrors.MissingVersions(missing)
		}
	}

	match := q.Match.resolve(q.Dimension)
	table := &Table{Dimension: q.Dimension, Match: match}
	for _, v := range versions {
		counter := a.counters[v][q.Dimension]
		if counter.Total == 0 {
			a.logger.Debug("skipping version with no tags", "version", v, "dimension", q.Dimension)
			continue
		}
		for _, g := range q.Grouping {
			hits := 0
			for tag, n := range counter.Tags {
				if match.matches(tag, g.Keys) {
					hits += n
				}
			}
			table.Rows = append(table.Rows, Row{
				Version:    v,
				Label:      g.Label,
				Count:      hits,
				Total:      counter.Total,
				Percentage: float64(hits) / float64(counter.Total) * 100,
			})
		}
	}
	return table, nil
}
