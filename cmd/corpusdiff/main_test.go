package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfsujason/llm-corpus-annotation/internal/tagfreq"
)

const testCorpus = `{"id":"1","source":"他跑得很快。","targets":{"human":{"raw_text":"He ran fast.","sentences":["He ran fast."],"tokens":[["He","ran","fast","."]],"pos":[["PRP","VBD","RB","."]],"dep":[[[2,"nsubj"],[0,"root"],[2,"advmod"],[2,"punct"]]]},"gpt":{"raw_text":"He quickly ran.","sentences":["He quickly ran."],"tokens":[["He","quickly","ran","."]],"pos":[["PRP","RB","VBD","."]],"dep":[[[3,"nsubj"],[3,"advmod"],[0,"root"],[3,"punct"]]]}}}
{"id":"2","source":"书店关门了。","targets":{"human":{"raw_text":"The book shop closed.","sentences":["The book shop closed."],"tokens":[["The","book","shop","closed","."]],"pos":[["DT","NN","NN","VBD","."]],"dep":[[[3,"det"],[3,"compound"],[4,"nsubj"],[0,"root"],[4,"punct"]]]},"gpt":{"raw_text":"The bookshop closed.","sentences":["The bookshop closed."],"tokens":[["The","bookshop","closed","."]],"pos":[["DT","NN","VBD","."]],"dep":[[[2,"det"],[3,"nsubj"],[0,"root"],[3,"punct"]]]}}}
`

func writeCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(testCorpus), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "corpusdiff dev\n", out)
}

func TestFrequencyText(t *testing.T) {
	out, err := run(t, "frequency", "--corpus", writeCorpus(t), "--dimension", "pos")
	require.NoError(t, err)
	assert.Contains(t, out, "human")
	assert.Contains(t, out, "Noun (NN)")
}

func TestFrequencyJSONWithCustomGroups(t *testing.T) {
	out, err := run(t, "frequency", "--corpus", writeCorpus(t), "--format", "json",
		"--dimension", "dep", "--group", "Compound=compound", "--versions", "human,gpt", "--match", "exact")
	require.NoError(t, err)

	var table tagfreq.Table
	require.NoError(t, json.Unmarshal([]byte(out), &table))
	assert.Equal(t, tagfreq.MatchExact, table.Match)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "human", table.Rows[0].Version)
	assert.Equal(t, 1, table.Rows[0].Count)
	assert.Equal(t, 7, table.Rows[0].Total, "punct is not counted")
	assert.Equal(t, 0, table.Rows[1].Count)
}

func TestDivergenceText(t *testing.T) {
	out, err := run(t, "divergence", "--corpus", writeCorpus(t),
		"--feature", "pos", "--tags", "NN", "--a", "human", "--b", "gpt", "--min-diff", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "=== POS [NN] human > gpt Top 3 ===")
	assert.Contains(t, out, "[1] ID: 2 | Diff: +1")
	assert.Contains(t, out, "Keywords: [book(NN), shop(NN)]")
}

func TestDivergenceMissingVersion(t *testing.T) {
	_, err := run(t, "divergence", "--corpus", writeCorpus(t),
		"--feature", "pos", "--tags", "NN", "--a", "human", "--b", "claude")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claude")
}

func TestSimilarityJSON(t *testing.T) {
	out, err := run(t, "similarity", "--corpus", writeCorpus(t), "--format", "json", "--examples", "human,gpt", "--top-n", "1")
	require.NoError(t, err)

	var got struct {
		Matrix struct {
			Versions []string    `json:"versions"`
			Values   [][]float64 `json:"values"`
		} `json:"matrix"`
		Examples []map[string]any `json:"examples"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"human", "gpt"}, got.Matrix.Versions)
	assert.Equal(t, 1.0, got.Matrix.Values[1][1])
	assert.Equal(t, got.Matrix.Values[0][1], got.Matrix.Values[1][0])
	assert.Len(t, got.Examples, 1)
}

func TestCommandErrors(t *testing.T) {
	corpusPath := writeCorpus(t)
	tests := []struct {
		name string
		args []string
	}{
		{"bad format", []string{"frequency", "--corpus", corpusPath, "--dimension", "pos", "--format", "xml"}},
		{"one example version", []string{"similarity", "--corpus", corpusPath, "--examples", "human"}},
		{"unknown metric", []string{"similarity", "--corpus", corpusPath, "--metric", "bleu"}},
		{"embedding without key", []string{"similarity", "--corpus", corpusPath, "--metric", "embedding"}},
		{"missing dimension", []string{"frequency", "--corpus", corpusPath}},
		{"bad group", []string{"frequency", "--corpus", corpusPath, "--dimension", "pos", "--group", "NN"}},
		{"missing corpus", []string{"frequency", "--corpus", filepath.Join(t.TempDir(), "none.jsonl"), "--dimension", "pos"}},
		{"negative limit", []string{"frequency", "--corpus", corpusPath, "--dimension", "pos", "--limit", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "embedding without key" {
				t.Setenv("LLM_API_KEY", "")
				t.Setenv("CD_EMBEDDING_API_KEY", "")
			}
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestParseGroups(t *testing.T) {
	g, err := parseGroups([]string{"Clause=advcl, ccomp ,acl", "Passive=pass"})
	require.NoError(t, err)
	assert.Equal(t, tagfreq.Grouping{
		{Label: "Clause", Keys: []string{"advcl", "ccomp", "acl"}},
		{Label: "Passive", Keys: []string{"pass"}},
	}, g)

	for _, bad := range []string{"NN", "=NN", "Noun="} {
		_, err := parseGroups([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestLimitFlag(t *testing.T) {
	out, err := run(t, "similarity", "--corpus", writeCorpus(t), "--limit", "1", "--format", "json", "--examples", "human,gpt")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, `"id"`))
}
