package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// maxLineBytes bounds one JSONL line. Syntax-annotated records with long
// token and dependency arrays run well past bufio's 64 KiB default.
const maxLineBytes = 16 << 20

type rawRecord struct {
	ID      json.RawMessage `json:"id"`
	Source  Payload         `json:"source"`
	Targets json.RawMessage `json:"targets"`
}

type record struct {
	id       string
	source   Payload
	versions []string
	targets  map[string]Payload
}

// lineResult is the outcome of parsing one line: a record, or the reason it
// was skipped.
type lineResult struct {
	rec  record
	skip SkipReason
	err  error
}

// Load reads the corpus at path. limit caps the number of accepted records;
// zero or less means no cap. Lines that fail to parse or lack a tracked
// version are skipped; only I/O errors fail the load.
func Load(path string, limit int) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	c, err := Read(f, limit)
	if err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Read loads a corpus from r. See Load.
func Read(r io.Reader, limit int) (*Corpus, error) {
	logger := slog.Default().With("component", "corpus-loader")

	c := &Corpus{
		Stats:    LoadStats{Skipped: map[SkipReason]int{}},
		payloads: map[string][]Payload{},
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		if limit > 0 && c.Stats.Accepted >= limit {
			break
		}
		lineNo++
		c.Stats.Scanned++

		res := parseLine(scanner.Bytes())
		if res.skip == SkipNone && c.Versions == nil {
			// The first well-formed record fixes the version set.
			if len(res.rec.versions) == 0 {
				res.skip = SkipIncomplete
			} else {
				c.Versions = res.rec.versions
				for _, v := range c.Versions {
					c.payloads[v] = nil
				}
			}
		}
		if res.skip == SkipNone && !c.complete(res.rec) {
			res.skip = SkipIncomplete
		}
		if res.skip != SkipNone {
			c.Stats.Skipped[res.skip]++
			logger.Debug("skipping corpus line", "line", lineNo, "reason", res.skip, "error", res.err)
			continue
		}
		c.add(res.rec)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("line %d exceeds %d bytes: %w", lineNo+1, maxLineBytes, err)
		}
		return nil, err
	}

	logger.Info("corpus loaded",
		"records_accepted", c.Stats.Accepted,
		"records_skipped", c.Stats.SkippedTotal(),
		"versions", c.Versions,
	)
	return c, nil
}

func (c *Corpus) complete(rec record) bool {
	for _, v := range c.Versions {
		p, ok := rec.targets[v]
		if !ok || p.IsEmpty() {
			return false
		}
	}
	return true
}

func (c *Corpus) add(rec record) {
	c.IDs = append(c.IDs, rec.id)
	c.Sources = append(c.Sources, rec.source)
	for _, v := range c.Versions {
		c.payloads[v] = append(c.payloads[v], rec.targets[v])
	}
	c.Stats.Accepted++
}

func parseLine(line []byte) lineResult {
	if len(bytes.TrimSpace(line)) == 0 {
		return lineResult{skip: SkipBlank}
	}
	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		return lineResult{skip: SkipMalformed, err: err}
	}
	versions, targets, err := decodeTargets(raw.Targets)
	if err != nil {
		return lineResult{skip: SkipMalformed, err: err}
	}
	return lineResult{rec: record{
		id:       decodeID(raw.ID),
		source:   raw.Source,
		versions: versions,
		targets:  targets,
	}}
}

// decodeTargets walks the targets object token by token so that version
// names come back in document order.
func decodeTargets(raw json.RawMessage) ([]string, map[string]Payload, error) {
	targets := map[string]Payload{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, targets, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("targets must be an object")
	}

	var versions []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, _ := tok.(string)
		var p Payload
		if err := dec.Decode(&p); err != nil {
			return nil, nil, fmt.Errorf("target %q: %w", name, err)
		}
		if _, dup := targets[name]; !dup {
			versions = append(versions, name)
		}
		targets[name] = p
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return versions, targets, nil
}

// decodeID accepts string and numeric ids; anything else becomes "".
func decodeID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
