package analysis

import (
	"encoding/json"
	"time"
)

// ReportKind names the analysis that produced a report.
type ReportKind string

const (
	KindSimilarity         ReportKind = "similarity"
	KindSimilarityExamples ReportKind = "similarity_examples"
	KindFrequency          ReportKind = "frequency"
	KindDivergence         ReportKind = "divergence"
)

// ReportEvent is published once per completed report and stored by the
// report sink.
type ReportEvent struct {
	RunID      string          `json:"run_id"`
	Kind       ReportKind      `json:"kind"`
	Corpus     string          `json:"corpus"`
	Params     json.RawMessage `json:"params"`
	Result     json.RawMessage `json:"result"`
	DurationMs int64           `json:"duration_ms"`
	RequestID  string          `json:"request_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
