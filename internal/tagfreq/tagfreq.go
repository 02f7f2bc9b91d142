// Package tagfreq counts POS tags, dependency relations and USAS semantic
// categories per version and reports grouped frequencies as percentages of
// each version's total.
package tagfreq

import (
	"slices"
	"strings"
	"unicode"

	apperrors "github.com/bfsujason/llm-corpus-annotation/pkg/errors"
)

// Dimension is a tag layer of the corpus.
type Dimension string

const (
	DimensionPOS  Dimension = "pos"
	DimensionDep  Dimension = "dep"
	DimensionUSAS Dimension = "usas"
)

// Dimensions lists every dimension in report order.
var Dimensions = []Dimension{DimensionPOS, DimensionDep, DimensionUSAS}

func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Dimensions, d) {
		return d, nil
	}
	return "", apperrors.Newf(apperrors.ErrInvalidInput, 0, "unknown dimension %q (want pos, dep or usas)", s)
}

// MatchPolicy decides whether a recorded tag counts toward a group.
type MatchPolicy string

const (
	// MatchDefault is MatchExact for USAS and MatchSubstring otherwise.
	MatchDefault MatchPolicy = ""
	// MatchExact counts a tag iff it equals one of the keys.
	MatchExact MatchPolicy = "exact"
	// MatchSubstring counts a tag iff any key occurs inside it, so "pass"
	// hits "nsubj:pass" and "NN" hits "NNS". Short keys can collide: "cc"
	// also hits "ccomp".
	MatchSubstring MatchPolicy = "substring"
	// MatchSegment counts a tag iff a key equals one of its ":"-separated
	// segments: "pass" hits "aux:pass", "cc" hits "cc:preconj" but not
	// "ccomp".
	MatchSegment MatchPolicy = "segment"
)

func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch p := MatchPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case MatchDefault, MatchExact, MatchSubstring, MatchSegment:
		return p, nil
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidInput, 0, "unknown match policy %q", s)
	}
}

func (p MatchPolicy) resolve(d Dimension) MatchPolicy {
	if p != MatchDefault {
		return p
	}
	if d == DimensionUSAS {
		return MatchExact
	}
	return MatchSubstring
}

func (p MatchPolicy) matches(tag string, keys []string) bool {
	switch p {
	case MatchExact:
		return slices.Contains(keys, tag)
	case MatchSegment:
		segments := strings.Split(tag, ":")
		for _, k := range keys {
			if slices.Contains(segments, k) {
				return true
			}
		}
		return false
	default:
		for _, k := range keys {
			if strings.Contains(tag, k) {
				return true
			}
		}
		return false
	}
}

// Group is a labelled set of match keys.
type Group struct {
	Label string   `json:"label" yaml:"label"`
	Keys  []string `json:"keys" yaml:"keys"`
}

// Grouping is an ordered list of groups; report rows follow its order.
type Grouping []Group

// GroupTags builds a grouping with one group per tag, labelled by the tag.
func GroupTags(tags ...string) Grouping {
	g := make(Grouping, 0, len(tags))
	for _, t := range tags {
		g = append(g, Group{Label: t, Keys: []string{t}})
	}
	return g
}

func (g Grouping) validate() error {
	if len(g) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, 0, "grouping is empty")
	}
	for _, grp := range g {
		if grp.Label == "" || len(grp.Keys) == 0 {
			return apperrors.Newf(apperrors.ErrInvalidInput, 0, "group %q needs a label and at least one key", grp.Label)
		}
	}
	return nil
}

// RollUp reduces a USAS tag to its major category: the first character of
// the trimmed tag, upper-cased. Empty tags and tags that do not start with a
// letter are rejected.
func RollUp(tag string) (string, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", false
	}
	r := []rune(tag)[0]
	if !unicode.IsLetter(r) {
		return "", false
	}
	return string(unicode.ToUpper(r)), true
}
