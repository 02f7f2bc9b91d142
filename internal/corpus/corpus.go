// Package corpus loads the annotated parallel corpus: one JSON record per
// line, each carrying a source sentence and one annotated payload per
// translation version. The loaded Corpus is index-aligned and read-only.
package corpus

import (
	"slices"

	apperrors "github.com/bfsujason/llm-corpus-annotation/pkg/errors"
)

// SourceVersion is the pseudo-version name under which source annotations
// are counted.
const SourceVersion = "source"

// SkipReason says why the loader dropped a line.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipBlank      SkipReason = "blank"
	SkipMalformed  SkipReason = "malformed"
	SkipIncomplete SkipReason = "incomplete"
)

// LoadStats summarises one load.
type LoadStats struct {
	Scanned  int                `json:"scanned"`
	Accepted int                `json:"accepted"`
	Skipped  map[SkipReason]int `json:"skipped"`
}

// SkippedTotal sums skips over all reasons.
func (s LoadStats) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// Corpus holds accepted records as parallel arrays: IDs[i], Sources[i] and
// Payloads(v)[i] describe the same record for every tracked version v.
type Corpus struct {
	Path     string
	IDs      []string
	Sources  []Payload
	Versions []string
	Stats    LoadStats

	payloads map[string][]Payload
}

// Len returns the number of accepted records.
func (c *Corpus) Len() int { return len(c.IDs) }

// HasVersion reports whether v is in the VersionSet.
func (c *Corpus) HasVersion(v string) bool {
	return slices.Contains(c.Versions, v)
}

// Payloads returns the payload array of version v. The slice is shared and
// must not be modified.
func (c *Corpus) Payloads(v string) ([]Payload, bool) {
	p, ok := c.payloads[v]
	return p, ok
}

// Require fails with ErrMissingVersion naming every version not tracked by
// the corpus.
func (c *Corpus) Require(versions ...string) error {
	var missing []string
	for _, v := range versions {
		if !c.HasVersion(v) && !slices.Contains(missing, v) {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return apperrors.MissingVersions(missing)
	}
	return nil
}

// HasSourceAnnotations reports whether any source payload carries tags, in
// which case the "source" pseudo-version can be counted.
func (c *Corpus) HasSourceAnnotations() bool {
	for _, s := range c.Sources {
		if s.HasAnnotations() {
			return true
		}
	}
	return false
}
