// Package insight classifies raw review output into at most one Insight
// using an ordered list of keyword rules.
package insight

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/khanglvm/review-memory/internal/storage"
)

// Insight types.
const (
	TypeBugfix      = "bugfix"
	TypeSecurity    = "security"
	TypePattern     = "pattern"
	TypeDecision    = "decision"
	TypeStyle       = "style"
	TypePerformance = "performance"
)

// Severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// maxDescriptionLength caps the short description, in runes.
const maxDescriptionLength = 120

// Predicate reports whether lower-cased review text matches a rule.
type Predicate func(text string) bool

// Rule labels review text that satisfies Predicate.
type Rule struct {
	Name      string
	Predicate Predicate
	Type      string
	Severity  string
}

// DefaultRules are evaluated in order; the first match wins.
var DefaultRules = []Rule{
	{
		Name:      "critical-security",
		Predicate: ContainsAny("sql injection", "remote code execution", "rce", "auth bypass", "authentication bypass", "privilege escalation"),
		Type:      TypeSecurity,
		Severity:  SeverityCritical,
	},
	{
		Name:      "security",
		Predicate: ContainsAny("security", "vulnerab", "xss", "csrf", "injection", "secret", "credential", "unsanitized", "token expiry"),
		Type:      TypeSecurity,
		Severity:  SeverityHigh,
	},
	{
		Name:      "severe-bug",
		Predicate: ContainsAny("crash", "panic", "nil pointer", "null pointer", "data loss", "race condition", "deadlock", "memory corruption"),
		Type:      TypeBugfix,
		Severity:  SeverityHigh,
	},
	{
		Name:      "performance",
		Predicate: ContainsAny("performance", "slow", "n+1", "latency", "memory leak", "allocation", "quadratic", "o(n^2)"),
		Type:      TypePerformance,
		Severity:  SeverityMedium,
	},
	{
		Name:      "bug",
		Predicate: ContainsAny("bug", "incorrect", "off-by-one", "off by one", "wrong", "broken", "error handling", "edge case", "regression"),
		Type:      TypeBugfix,
		Severity:  SeverityMedium,
	},
	{
		Name:      "decision",
		Predicate: ContainsAny("decided", "decision", "trade-off", "tradeoff", "architecture", "we chose"),
		Type:      TypeDecision,
		Severity:  SeverityLow,
	},
	{
		Name:      "pattern",
		Predicate: ContainsAny("pattern", "refactor", "duplicat", "abstraction", "reuse", "extract"),
		Type:      TypePattern,
		Severity:  SeverityLow,
	},
	{
		Name:      "style",
		Predicate: ContainsAny("naming", "style", "format", "typo", "lint", "nit", "readability", "comment"),
		Type:      TypeStyle,
		Severity:  SeverityLow,
	},
}

// ContainsAny matches when any keyword occurs at the start of a word.
func ContainsAny(keywords ...string) Predicate {
	return func(text string) bool {
		for _, kw := range keywords {
			if containsWordPrefix(text, kw) {
				return true
			}
		}
		return false
	}
}

func containsWordPrefix(text, kw string) bool {
	for offset := 0; offset <= len(text)-len(kw); {
		i := strings.Index(text[offset:], kw)
		if i < 0 {
			return false
		}
		i += offset
		if i == 0 {
			return true
		}
		prev, _ := utf8.DecodeLastRuneInString(text[:i])
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return true
		}
		offset = i + 1
	}
	return false
}

// Extractor applies rules to review output.
type Extractor struct {
	rules []Rule
}

// NewExtractor returns an extractor over rules, or DefaultRules when none
// are given.
func NewExtractor(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Extractor{rules: rules}
}

// Classify returns the first rule matching text, or false.
func (e *Extractor) Classify(text string) (Rule, bool) {
	lower := strings.ToLower(text)
	for _, r := range e.rules {
		if r.Predicate != nil && r.Predicate(lower) {
			return r, true
		}
	}
	return Rule{}, false
}

// Extract returns the insight for a review result, or nil when no rule
// matches. ReviewID is left for the caller to set.
func (e *Extractor) Extract(result string, files []string) *storage.Insight {
	if strings.TrimSpace(result) == "" {
		return nil
	}
	rule, ok := e.Classify(result)
	if !ok {
		return nil
	}

	in := &storage.Insight{
		Type:     rule.Type,
		Severity: rule.Severity,
		Files:    files,
	}
	in.Description, in.What, in.Why, in.Learned = splitSections(result)
	return in
}

// splitSections pulls "What:", "Why:" and "Learned:" lines out of text. The
// description is the first other non-empty line.
func splitSections(text string) (description, what, why, learned string) {
	for _, raw := range strings.Split(text, "\n") {
		line := cleanLine(raw)
		if line == "" {
			continue
		}

		label, value, ok := strings.Cut(line, ":")
		if ok {
			value = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "*"))
			switch strings.ToLower(strings.Trim(label, "* ")) {
			case "what":
				if what == "" {
					what = value
				}
				continue
			case "why":
				if why == "" {
					why = value
				}
				continue
			case "learned", "lesson", "takeaway":
				if learned == "" {
					learned = value
				}
				continue
			}
		}
		if description == "" {
			description = shorten(line, maxDescriptionLength)
		}
	}
	if description == "" {
		description = shorten(what, maxDescriptionLength)
	}
	return description, what, why, learned
}

// cleanLine drops list markers and heading hashes.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "#>-*+ \t")
	return strings.TrimSpace(s)
}

func shorten(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit-3])) + "..."
}
