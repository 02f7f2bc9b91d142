package divergence

import (
	"strings"

	"github.com/bfsujason/llm-corpus-annotation/internal/corpus"
	"github.com/bfsujason/llm-corpus-annotation/internal/tagfreq"
	apperrors "github.com/bfsujason/llm-corpus-annotation/pkg/errors"
)

// Keyword is a matched token and the tag that matched.
type Keyword struct {
	Token string `json:"token"`
	Tag   string `json:"tag"`
}

func (k Keyword) String() string { return k.Token + "(" + k.Tag + ")" }

// Extractor counts the feature occurrences in one payload and lists the
// matching tokens. The count may exceed len(keywords) when a tag has no
// aligned token.
type Extractor interface {
	Extract(p corpus.Payload) (count int, keywords []Keyword)
	Name() string
}

// Semantic matches USAS tags whose major category equals Category.
type Semantic struct {
	Category string
}

func (s Semantic) Name() string { return "usas:" + strings.ToUpper(s.Category) }

func (s Semantic) Extract(p corpus.Payload) (int, []Keyword) {
	want := strings.ToUpper(strings.TrimSpace(s.Category))
	count := 0
	var keywords []Keyword
	for _, item := range p.USAS {
		cat, ok := tagfreq.RollUp(item.Tag)
		if !ok || cat != want {
			continue
		}
		count++
		keywords = append(keywords, Keyword{Token: item.Text, Tag: strings.TrimSpace(item.Tag)})
	}
	return count, keywords
}

// POS matches part-of-speech tags starting with any of Tags.
type POS struct {
	Tags []string
}

func (x POS) Name() string { return "pos:" + strings.Join(x.Tags, ",") }

func (x POS) Extract(p corpus.Payload) (int, []Keyword) {
	count := 0
	var keywords []Keyword
	for s := 0; s < min(len(p.Tokens), len(p.POS)); s++ {
		tokens := p.Tokens[s]
		for i, tag := range p.POS[s] {
			if !hasAnyPrefix(tag, x.Tags) {
				continue
			}
			count++
			if i < len(tokens) {
				keywords = append(keywords, Keyword{Token: tokens[i], Tag: tag})
			}
		}
	}
	return count, keywords
}

// Dependency matches relations equal to one of Relations or a colon subtype
// of one: "cc" matches "cc" and "cc:preconj" but not "ccomp".
type Dependency struct {
	Relations []string
}

func (x Dependency) Name() string { return "dep:" + strings.Join(x.Relations, ",") }

func (x Dependency) Extract(p corpus.Payload) (int, []Keyword) {
	count := 0
	var keywords []Keyword
	for s := 0; s < min(len(p.Tokens), len(p.Dep)); s++ {
		tokens := p.Tokens[s]
		for i, arc := range p.Dep[s] {
			if !isRelation(arc.Rel, x.Relations) {
				continue
			}
			count++
			if i < len(tokens) {
				keywords = append(keywords, Keyword{Token: tokens[i], Tag: arc.Rel})
			}
		}
	}
	return count, keywords
}

func hasAnyPrefix(tag string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(tag, p) {
			return true
		}
	}
	return false
}

func isRelation(rel string, bases []string) bool {
	for _, b := range bases {
		if rel == b || strings.HasPrefix(rel, b+":") {
			return true
		}
	}
	return false
}

// NewExtractor builds the extractor for a feature family: "pos", "dep", or
// "usas" (alias "semantic"), which takes exactly one category.
func NewExtractor(feature string, tags []string) (Extractor, error) {
	if len(tags) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 0, "at least one tag is required")
	}
	switch strings.ToLower(feature) {
	case "pos":
		return POS{Tags: tags}, nil
	case "dep":
		return Dependency{Relations: tags}, nil
	case "usas", "semantic":
		if len(tags) != 1 {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "usas takes one category, got %v", tags)
		}
		if _, ok := tagfreq.RollUp(tags[0]); !ok || len(strings.TrimSpace(tags[0])) != 1 {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "usas category must be a single letter, got %q", tags[0])
		}
		return Semantic{Category: tags[0]}, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "unknown feature %q (want pos, dep or usas)", feature)
	}
}
