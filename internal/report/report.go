// Package report renders analysis results for the terminal: ranked example
// listings and bordered tables. It holds no state and makes no decisions
// about what to show beyond the top-N cut.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bfsujason/llm-corpus-annotation/internal/divergence"
	"github.com/bfsujason/llm-corpus-annotation/internal/similarity"
	"github.com/bfsujason/llm-corpus-annotation/internal/tagfreq"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	thin  = strings.Repeat("-", 60)
	thick = strings.Repeat("=", 60)

	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = cellStyle.Bold(true)
)

// Divergence prints the first topN examples under a header naming the
// requested topN. topN <= 0 prints all.
func Divergence(w io.Writer, examples []divergence.Example, title string, topN int) error {
	examples = head(examples, topN)
	p := &printer{w: w}
	p.printf("\n=== %s Top %d ===\n\n", title, headerN(examples, topN))
	for i, ex := range examples {
		p.printf("[%d] ID: %s | Diff: +%d\n", i+1, ex.ID, ex.Diff)
		p.printf("[source]: %s\n", ex.Source)
		p.println(thin)
		printSide(p, ex.A)
		p.println(thin)
		printSide(p, ex.B)
		p.println(thick + "\n")
	}
	return p.err
}

func printSide(p *printer, s divergence.Side) {
	keywords := make([]string, len(s.Keywords))
	for i, k := range s.Keywords {
		keywords[i] = k.String()
	}
	p.printf("[%s] (Count: %d):\n", s.Version, s.Count)
	p.printf("Text: %s\n", s.Text)
	p.printf("Keywords: [%s]\n", strings.Join(keywords, ", "))
}

// SimilarityExamples prints the least similar record pairs for versions a
// and b.
func SimilarityExamples(w io.Writer, examples []similarity.Example, metricName, a, b string, topN int) error {
	examples = head(examples, topN)
	p := &printer{w: w}
	p.printf("\n=== %s: least similar %s / %s Top %d ===\n", metricName, a, b, headerN(examples, topN))
	for i, ex := range examples {
		p.printf("\n[%d] ID: %s | Sim Score: %.4f\n", i+1, ex.ID, ex.Score)
		p.printf("Source: %s\n", ex.Source)
		p.println(thin)
		p.printf("%s: %s\n", capitalize(a), ex.TextA)
		p.printf("%s: %s\n", capitalize(b), ex.TextB)
		p.println(thick)
	}
	return p.err
}

// Table prints a frequency table. Percentages are rounded to two places
// here and nowhere else.
func Table(w io.Writer, t *tagfreq.Table) error {
	rows := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = []string{
			r.Version,
			r.Label,
			strconv.Itoa(r.Count),
			strconv.FormatFloat(r.Percentage, 'f', 2, 64),
		}
	}
	_, err := fmt.Fprintln(w, render([]string{"Version", "Feature Label", "Count", "Percentage"}, rows))
	return err
}

// Matrix prints a similarity matrix with four decimal places.
func Matrix(w io.Writer, m *similarity.Matrix) error {
	headers := append([]string{string(m.Metric)}, m.Versions...)
	rows := make([][]string, len(m.Versions))
	for i, v := range m.Versions {
		row := []string{v}
		for _, x := range m.Values[i] {
			row = append(row, strconv.FormatFloat(x, 'f', 4, 64))
		}
		rows[i] = row
	}
	_, err := fmt.Fprintln(w, render(headers, rows))
	return err
}

// JSON writes v indented, for --format json.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func render(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func headerN[T any](xs []T, topN int) int {
	if topN <= 0 {
		return len(xs)
	}
	return topN
}

func head[T any](xs []T, n int) []T {
	if n > 0 && n < len(xs) {
		return xs[:n]
	}
	return xs
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

// printer keeps the first write error so callers check once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err == nil {
		_, p.err = fmt.Fprintf(p.w, format, args...)
	}
}

func (p *printer) println(s string) {
	if p.err == nil {
		_, p.err = fmt.Fprintln(p.w, s)
	}
}
