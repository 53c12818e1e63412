package learning

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/gobwas/glob"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/storage"
)

// Concept namespaces.
const (
	NamespaceFile     = "file"
	NamespacePattern  = "pattern"
	NamespaceSeverity = "severity"
	NamespaceTerm     = "term"
)

const (
	// maxTermConcepts bounds the term concepts taken from one review text.
	maxTermConcepts = 12

	// minTermLength drops short tokens like "if" or "to".
	minTermLength = 3
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true,
	"that": true, "from": true, "are": true, "was": true, "not": true,
	"but": true, "have": true, "has": true, "should": true, "could": true,
	"would": true, "into": true, "when": true, "then": true, "than": true,
	"there": true, "their": true, "which": true, "will": true, "been": true,
	"also": true, "can": true, "use": true, "used": true, "all": true,
	"any": true, "more": true, "some": true, "such": true, "only": true,
	"what": true, "why": true, "learned": true, "file": true, "line": true,
}

// Normalize returns the canonical form of a concept key, or "" if raw is
// blank. A key without a namespace becomes a term concept. File paths keep
// their case; every other value is lower-cased. Inner whitespace collapses
// to "-".
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	ns, value, ok := strings.Cut(raw, ":")
	if !ok || strings.TrimSpace(ns) == "" || strings.ContainsAny(ns, " \t/") {
		ns, value = NamespaceTerm, raw
	}
	ns = strings.ToLower(strings.TrimSpace(ns))
	value = strings.Join(strings.Fields(value), "-")
	if value == "" {
		return ""
	}

	if ns == NamespaceFile {
		value = path.Clean(strings.ReplaceAll(value, "\\", "/"))
	} else {
		value = strings.ToLower(value)
	}
	return ns + ":" + value
}

// NormalizeAll normalizes and deduplicates concepts, keeping first-seen order.
func NormalizeAll(concepts []string) []string {
	seen := make(map[string]bool, len(concepts))
	out := make([]string, 0, len(concepts))
	for _, c := range concepts {
		n := Normalize(c)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// FileConcept returns the concept key of a file path.
func FileConcept(p string) string {
	return Normalize(NamespaceFile + ":" + p)
}

// InsightConcepts returns the pattern and severity concepts of an insight.
func InsightConcepts(in storage.Insight) []string {
	var out []string
	if in.Type != "" {
		out = append(out, Normalize(NamespacePattern+":"+in.Type))
	}
	if in.Severity != "" {
		out = append(out, Normalize(NamespaceSeverity+":"+in.Severity))
	}
	return out
}

// Tokenize splits text into lower-case term tokens, dropping stop words,
// short tokens and numbers. Order of first appearance is kept.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if len(f) < minTermLength || stopWords[f] || seen[f] || isNumber(f) {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ReviewInput is the material one review contributes to the memory.
type ReviewInput struct {
	// Files are the reviewed paths.
	Files []string

	// ConceptText is the text term concepts are tokenized from. When empty,
	// Summary is used instead.
	ConceptText string

	Summary string
	Status  string

	// Insights are the classified findings of the review.
	Insights []storage.Insight
}

// Deriver turns review input into a concept set.
type Deriver struct {
	ignore []glob.Glob
}

// NewDeriver compiles the ignore patterns. A malformed pattern is a
// ConfigError.
func NewDeriver(ignorePatterns []string) (*Deriver, error) {
	matchers := make([]glob.Glob, 0, len(ignorePatterns))
	for _, p := range ignorePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, &config.ConfigError{
				Field:   "learning.ignore_files",
				Message: fmt.Sprintf("invalid pattern %q: %v", p, err),
			}
		}
		matchers = append(matchers, g)
	}
	return &Deriver{ignore: matchers}, nil
}

// Ignored reports whether a file path matches an ignore pattern. Paths are
// also matched with a leading "/" so "**/x" patterns cover top-level files.
func (d *Deriver) Ignored(p string) bool {
	p = strings.ReplaceAll(p, "\\", "/")
	for _, g := range d.ignore {
		if g.Match(p) || g.Match("/"+strings.TrimPrefix(p, "/")) {
			return true
		}
	}
	return false
}

// Derive returns the normalized, deduplicated concept set of a review:
// file concepts first, then insight concepts, then term concepts.
func (d *Deriver) Derive(in ReviewInput) []string {
	var raw []string
	for _, f := range in.Files {
		if strings.TrimSpace(f) == "" || d.Ignored(f) {
			continue
		}
		raw = append(raw, FileConcept(f))
	}
	for _, ins := range in.Insights {
		raw = append(raw, InsightConcepts(ins)...)
	}

	text := in.ConceptText
	if strings.TrimSpace(text) == "" {
		text = in.Summary
	}
	terms := Tokenize(text)
	if len(terms) > maxTermConcepts {
		terms = terms[:maxTermConcepts]
	}
	for _, t := range terms {
		raw = append(raw, NamespaceTerm+":"+t)
	}

	return NormalizeAll(raw)
}
