package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Arc is one dependency relation: the head index and the relation label.
// On the wire it is the pair [head, rel].
type Arc struct {
	Head int
	Rel  string
}

func (a *Arc) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("dependency arc: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("dependency arc: want [head, rel], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &a.Head); err != nil {
		return fmt.Errorf("dependency arc head: %w", err)
	}
	if err := json.Unmarshal(pair[1], &a.Rel); err != nil {
		return fmt.Errorf("dependency arc rel: %w", err)
	}
	return nil
}

func (a Arc) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Head, a.Rel})
}

// SemTag is one USAS-tagged span.
type SemTag struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Desc string `json:"desc,omitempty"`
}

// Payload is one version's annotation of a record. Which fields are set
// depends on the annotation family that produced the corpus.
type Payload struct {
	RawText   string     `json:"raw_text,omitempty"`
	Sentences []string   `json:"sentences,omitempty"`
	Tokens    [][]string `json:"tokens,omitempty"`
	POS       [][]string `json:"pos,omitempty"`
	Dep       [][]Arc    `json:"dep,omitempty"`
	Lemmas    [][]string `json:"lem,omitempty"`
	USAS      []SemTag   `json:"usas_tags,omitempty"`
}

// UnmarshalJSON accepts either an annotation object or a bare string, which
// is taken as the raw text. null leaves the payload empty.
func (p *Payload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		return json.Unmarshal(data, &p.RawText)
	case data[0] == '{':
		type plain Payload
		return json.Unmarshal(data, (*plain)(p))
	default:
		return fmt.Errorf("payload must be a string or an object, got %.20s", data)
	}
}

// IsEmpty reports whether the payload carries no text and no annotations.
func (p Payload) IsEmpty() bool {
	return p.RawText == "" && len(p.Sentences) == 0 && len(p.Tokens) == 0 &&
		len(p.POS) == 0 && len(p.Dep) == 0 && len(p.Lemmas) == 0 && len(p.USAS) == 0
}

// Text returns the raw text, or the sentences joined by single spaces when
// no raw text was recorded.
func (p Payload) Text() string {
	if p.RawText != "" {
		return p.RawText
	}
	return strings.Join(p.Sentences, " ")
}

// HasAnnotations reports whether the payload carries any tag layer.
func (p Payload) HasAnnotations() bool {
	return len(p.POS) > 0 || len(p.Dep) > 0 || len(p.USAS) > 0
}
