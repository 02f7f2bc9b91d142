package tagfreq

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/bfsujason/llm-corpus-annotation/internal/corpus"
	apperrors "github.com/bfsujason/llm-corpus-annotation/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixtureRecord struct {
	ID      string                    `json:"id"`
	Source  any                       `json:"source"`
	Targets map[string]map[string]any `json:"targets"`
}

// buildCorpus marshals records, keeping version order by listing versions
// explicitly in each targets object.
func buildCorpus(t *testing.T, records ...fixtureRecord) *corpus.Corpus {
	t.Helper()
	var lines []string
	for _, r := range records {
		b, err := json.Marshal(r)
		require.NoError(t, err)
		lines = append(lines, string(b))
	}
	c, err := corpus.Read(strings.NewReader(strings.Join(lines, "\n")), 0)
	require.NoError(t, err)
	return c
}

func deps(rels ...string) [][]any {
	arcs := make([][]any, len(rels))
	for i, r := range rels {
		arcs[i] = []any{0, r}
	}
	return arcs
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func passiveCorpus(t *testing.T) *corpus.Corpus {
	var rels []string
	rels = append(rels, repeat("nsubj:pass", 3)...)
	rels = append(rels, repeat("aux:pass", 2)...)
	rels = append(rels, repeat("nsubj", 10)...)
	rels = append(rels, repeat("punct", 4)...)
	return buildCorpus(t, fixtureRecord{
		ID:     "1",
		Source: "源",
		Targets: map[string]map[string]any{
			"human": {"raw_text": "x", "dep": [][][]any{deps(rels...)}},
			"mt":    {"raw_text": "y", "dep": [][][]any{deps("cc", "ccomp", "cc:preconj", "conj")}},
		},
	})
}

func TestReportPassiveScenario(t *testing.T) {
	agg := New(passiveCorpus(t))
	table, err := agg.Report(Query{
		Dimension: DimensionDep,
		Grouping:  Grouping{{Label: "Passive", Keys: []string{"pass"}}},
		Versions:  []string{"human"},
	})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	row := table.Rows[0]
	assert.Equal(t, "Passive", row.Label)
	assert.Equal(t, 5, row.Count)
	assert.Equal(t, 15, row.Total, "punct is not counted")
	assert.InDelta(t, 33.333333, row.Percentage, 1e-5)
	assert.Equal(t, MatchSubstring, table.Match)
}

func TestMatchPolicies(t *testing.T) {
	agg := New(passiveCorpus(t))
	coordination := Grouping{{Label: "Coordination", Keys: []string{"cc"}}}

	tests := []struct {
		match MatchPolicy
		want  int
	}{
		{MatchDefault, 3},
		{MatchSubstring, 3},
		{MatchSegment, 2},
		{MatchExact, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.match), func(t *testing.T) {
			table, err := agg.Report(Query{Dimension: DimensionDep, Grouping: coordination, Versions: []string{"mt"}, Match: tt.match})
			require.NoError(t, err)
			require.Len(t, table.Rows, 1)
			assert.Equal(t, tt.want, table.Rows[0].Count)
		})
	}
}

func TestRollUp(t *testing.T) {
	tests := []struct {
		tag  string
		want string
		ok   bool
	}{
		{"E4.1", "E", true},
		{"e4.1", "E", true},
		{"  Z8 ", "Z", true},
		{"", "", false},
		{"   ", "", false},
		{"4.1", "", false},
		{"+E", "", false},
	}
	for _, tt := range tests {
		got, ok := RollUp(tt.tag)
		assert.Equal(t, tt.ok, ok, tt.tag)
		assert.Equal(t, tt.want, got, tt.tag)
	}
}

func semCorpus(t *testing.T) *corpus.Corpus {
	tags := func(codes ...string) []map[string]string {
		out := make([]map[string]string, len(codes))
		for i, c := range codes {
			out[i] = map[string]string{"tag": c, "text": "w", "desc": ""}
		}
		return out
	}
	return buildCorpus(t,
		fixtureRecord{ID: "1", Source: "源", Targets: map[string]map[string]any{
			"human": {"raw_text": "a", "usas_tags": tags("E4.1", "e2", "Z8", "", "9")},
			"mt":    {"raw_text": "b", "usas_tags": tags("A1", "S1.1")},
		}},
		fixtureRecord{ID: "2", Source: "源", Targets: map[string]map[string]any{
			"human": {"raw_text": "c", "usas_tags": tags("S2")},
			"mt":    {"raw_text": "d", "usas_tags": tags("Z5")},
		}},
	)
}

func TestUSASReport(t *testing.T) {
	agg := New(semCorpus(t))

	c, ok := agg.Counter("human", DimensionUSAS)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"E": 2, "Z": 1, "S": 1}, c.Tags)
	assert.Equal(t, 4, c.Total, "rejected tags are not in the total")

	table, err := agg.Report(Query{Dimension: DimensionUSAS, Grouping: Grouping{
		{Label: "Emotion", Keys: []string{"E"}},
		{Label: "Social", Keys: []string{"S"}},
	}})
	require.NoError(t, err)
	require.Len(t, table.Rows, 4)
	assert.Equal(t, MatchExact, table.Match)
	assert.Equal(t, Row{Version: "human", Label: "Emotion", Count: 2, Total: 4, Percentage: 50}, table.Rows[0])
	last := table.Rows[3]
	assert.Equal(t, "mt", last.Version)
	assert.Equal(t, "Social", last.Label)
	assert.Equal(t, 1, last.Count)
	assert.InDelta(t, 33.3333, last.Percentage, 1e-3)
}

func TestReportVersionsAndSource(t *testing.T) {
	c := buildCorpus(t, fixtureRecord{
		ID: "1",
		Source: map[string]any{
			"raw_text": "他笑了。",
			"pos":      [][]string{{"PN", "VV", "AS", "PU"}},
		},
		Targets: map[string]map[string]any{
			"human": {"raw_text": "He laughed.", "pos": [][]string{{"PRP", "VBD", "."}}},
			"mt":    {"raw_text": "He smiled."},
		},
	})
	agg := New(c)
	grouping := GroupTags("VV", "VBD")

	table, err := agg.Report(Query{Dimension: DimensionPOS, Grouping: grouping})
	require.NoError(t, err)
	for _, r := range table.Rows {
		assert.NotEqual(t, corpus.SourceVersion, r.Version, "source excluded by default")
		assert.NotEqual(t, "mt", r.Version, "zero-total version skipped")
	}
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "VV", table.Rows[0].Label)

	table, err = agg.Report(Query{Dimension: DimensionPOS, Grouping: grouping, Versions: []string{"source", "human"}})
	require.NoError(t, err)
	require.Len(t, table.Rows, 4)
	assert.Equal(t, Row{Version: "source", Label: "VV", Count: 1, Total: 4, Percentage: 25}, table.Rows[0])

	_, err = agg.Report(Query{Dimension: DimensionPOS, Grouping: grouping, Versions: []string{"gpt"}})
	assert.ErrorIs(t, err, apperrors.ErrMissingVersion)
}

func TestReportRejectsBadQueries(t *testing.T) {
	agg := New(passiveCorpus(t))
	tests := []Query{
		{Dimension: "lemma", Grouping: GroupTags("x")},
		{Dimension: DimensionDep},
		{Dimension: DimensionDep, Grouping: Grouping{{Label: "empty"}}},
	}
	for _, q := range tests {
		_, err := agg.Report(q)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	}
}

func TestPercentageBounds(t *testing.T) {
	agg := New(passiveCorpus(t))
	for _, d := range Dimensions {
		table, err := agg.Report(Query{Dimension: d, Grouping: Preset(d)})
		require.NoError(t, err)
		for _, r := range table.Rows {
			assert.GreaterOrEqual(t, r.Percentage, 0.0)
			assert.LessOrEqual(t, r.Percentage, 100.0)
			assert.LessOrEqual(t, r.Count, r.Total)
		}
	}
}

func TestParsers(t *testing.T) {
	d, err := ParseDimension(" USAS ")
	require.NoError(t, err)
	assert.Equal(t, DimensionUSAS, d)
	_, err = ParseDimension("lemma")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	m, err := ParseMatchPolicy("Segment")
	require.NoError(t, err)
	assert.Equal(t, MatchSegment, m)
	_, err = ParseMatchPolicy("fuzzy")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Len(t, USASPreset(), 21)
}
