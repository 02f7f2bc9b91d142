package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bfsujason/llm-corpus-annotation/internal/divergence"
	"github.com/bfsujason/llm-corpus-annotation/internal/similarity"
	"github.com/bfsujason/llm-corpus-annotation/internal/tagfreq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleExamples() []divergence.Example {
	return []divergence.Example{
		{
			ID: "42", Source: "他们讨论并通过了计划。", Diff: 3,
			A: divergence.Side{Version: "deepseek-v3.2", Text: "They discussed and approved the plan, and then left.", Count: 4,
				Keywords: []divergence.Keyword{{Token: "and", Tag: "cc"}, {Token: "approved", Tag: "conj"}}},
			B: divergence.Side{Version: "human", Text: "They discussed the plan.", Count: 1},
		},
		{ID: "7", Diff: 2, A: divergence.Side{Version: "deepseek-v3.2"}, B: divergence.Side{Version: "human"}},
	}
}

func TestDivergenceLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Divergence(&buf, sampleExamples(), "Coordination", 1))
	out := buf.String()

	assert.Contains(t, out, "=== Coordination Top 1 ===")
	assert.Contains(t, out, "[1] ID: 42 | Diff: +3\n[source]: 他们讨论并通过了计划。\n")
	assert.Contains(t, out, "[deepseek-v3.2] (Count: 4):\nText: They discussed and approved the plan, and then left.\nKeywords: [and(cc), approved(conj)]\n")
	assert.Contains(t, out, "[human] (Count: 1):\nText: They discussed the plan.\nKeywords: []\n")
	assert.Contains(t, out, strings.Repeat("=", 60))
	assert.NotContains(t, out, "ID: 7")
}

func TestDivergenceHeaderNamesRequestedTopN(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Divergence(&buf, sampleExamples(), "Coordination", 5))
	assert.Contains(t, buf.String(), "=== Coordination Top 5 ===")
	assert.Contains(t, buf.String(), "ID: 7")

	buf.Reset()
	require.NoError(t, Divergence(&buf, sampleExamples(), "Coordination", 0))
	assert.Contains(t, buf.String(), "=== Coordination Top 2 ===")
}

func TestSimilarityExamplesLayout(t *testing.T) {
	var buf bytes.Buffer
	examples := []similarity.Example{{ID: "3", Source: "我走了。", TextA: "abcd", TextB: "bcde", Score: 0.75}}
	require.NoError(t, SimilarityExamples(&buf, examples, "String", "human", "deepseek-v3.2", 3))
	out := buf.String()

	assert.Contains(t, out, "least similar human / deepseek-v3.2 Top 3 ===")
	assert.Contains(t, out, "[1] ID: 3 | Sim Score: 0.7500")
	assert.Contains(t, out, "Human: abcd\nDeepseek-v3.2: bcde\n")
	assert.Contains(t, out, "Source: 我走了。")
}

func TestTableRoundsOnlyForDisplay(t *testing.T) {
	tbl := &tagfreq.Table{Dimension: tagfreq.DimensionDep, Rows: []tagfreq.Row{
		{Version: "human", Label: "Passive", Count: 5, Total: 15, Percentage: 100.0 / 3},
	}}
	var buf bytes.Buffer
	require.NoError(t, Table(&buf, tbl))
	out := buf.String()
	for _, want := range []string{"Version", "Feature Label", "human", "Passive", "5", "33.33"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "33.333")
}

func TestMatrix(t *testing.T) {
	m := &similarity.Matrix{
		Metric:   similarity.MetricString,
		Versions: []string{"human", "qwen"},
		Values:   [][]float64{{1, 0.612345}, {0.612345, 1}},
	}
	var buf bytes.Buffer
	require.NoError(t, Matrix(&buf, m))
	out := buf.String()
	assert.Contains(t, out, "1.0000")
	assert.Contains(t, out, "0.6123")
	assert.Contains(t, out, "qwen")
}

func TestJSON(t *testing.T) {
	examples := sampleExamples()[:1]
	examples[0].A.Text = "x < y & z"
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, examples))
	var back []divergence.Example
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "42", back[0].ID)
	assert.Contains(t, buf.String(), "x < y & z")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestWriteErrorsSurface(t *testing.T) {
	assert.Error(t, Divergence(failingWriter{}, sampleExamples(), "x", 0))
	assert.Error(t, SimilarityExamples(failingWriter{}, nil, "x", "a", "b", 0))
}
