package disclosure

import (
	"fmt"
	"math"
	"strings"

	"github.com/khanglvm/review-memory/internal/search"
	"github.com/khanglvm/review-memory/internal/storage"
)

// Tier controls how much of a past review is surfaced.
type Tier int

const (
	TierCompact Tier = iota
	TierDetail
	TierFull
)

func (t Tier) String() string {
	switch t {
	case TierFull:
		return "full"
	case TierDetail:
		return "detail"
	default:
		return "compact"
	}
}

// maxListedFiles caps the file names listed in any tier.
const maxListedFiles = 3

// entry is a candidate plus whatever the store knows about it. review is nil
// when the lookup failed or the review is gone.
type entry struct {
	candidate search.Candidate
	review    *storage.Review
	insights  []storage.Insight
}

func (e entry) files() []string {
	if len(e.candidate.Files) == 0 && e.review != nil {
		return e.review.Files
	}
	return e.candidate.Files
}

func (e entry) status() string {
	if e.review == nil {
		return ""
	}
	return e.review.Status
}

// listFiles joins at most maxListedFiles names with sep and appends "+N"
// for the rest.
func listFiles(files []string, sep string) string {
	shown := files
	if len(shown) > maxListedFiles {
		shown = shown[:maxListedFiles]
	}
	list := strings.Join(shown, sep)
	if extra := len(files) - len(shown); extra > 0 {
		list += fmt.Sprintf(" +%d", extra)
	}
	return list
}

func percent(score float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(score*100)))
}

func header(e entry, marker string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### Review #%d", e.candidate.ReviewID)
	if e.candidate.Project != "" {
		fmt.Fprintf(&sb, " (%s)", e.candidate.Project)
	}
	if marker != "" {
		fmt.Fprintf(&sb, " [%s]", marker)
	}
	fmt.Fprintf(&sb, " %s", percent(e.candidate.Score))
	return sb.String()
}

// renderFull writes the header, status and the verbatim insight detail, or
// the raw result when the review has no insights. The body is cut to limit
// characters; truncated reports whether that happened.
func renderFull(e entry, limit int) (text string, truncated bool) {
	lines := []string{header(e, "detailed")}
	if files := e.files(); len(files) > 0 {
		lines = append(lines, "Files: "+listFiles(files, ", "))
	}
	if status := e.status(); status != "" {
		lines = append(lines, "Status: "+status)
	}

	var body string
	if len(e.insights) > 0 {
		body = insightDetail(e.insights)
	} else if e.review != nil {
		body = strings.TrimSpace(e.review.Result)
	}
	if body != "" {
		body, truncated = truncate(body, limit)
		lines = append(lines, body)
	}
	return strings.Join(lines, "\n"), truncated
}

func insightDetail(insights []storage.Insight) string {
	var lines []string
	for _, in := range insights {
		line := fmt.Sprintf("- %s/%s", in.Type, in.Severity)
		if in.Description != "" {
			line += ": " + in.Description
		}
		lines = append(lines, line)
		if in.What != "" {
			lines = append(lines, "  What: "+in.What)
		}
		if in.Why != "" {
			lines = append(lines, "  Why: "+in.Why)
		}
		if in.Learned != "" {
			lines = append(lines, "  Learned: "+in.Learned)
		}
	}
	return strings.Join(lines, "\n")
}

// renderDetail lists insight types and severities, never the diff or result.
func renderDetail(e entry) string {
	lines := []string{header(e, "")}
	if files := e.files(); len(files) > 0 {
		lines = append(lines, "Files: "+listFiles(files, ", "))
	}
	if len(e.insights) > 0 {
		labels := make([]string, 0, len(e.insights))
		for _, in := range e.insights {
			labels = append(labels, in.Type+"/"+in.Severity)
		}
		lines = append(lines, "Insights: "+strings.Join(labels, ", "))
	} else if status := e.status(); status != "" {
		lines = append(lines, "Status: "+status)
	}
	return strings.Join(lines, "\n")
}

// renderCompact produces a single line without a review header.
func renderCompact(e entry) string {
	var sb strings.Builder
	sb.WriteString("- ")
	sb.WriteString(percent(e.candidate.Score))

	if files := e.files(); len(files) > 0 {
		sb.WriteString(" ")
		sb.WriteString(listFiles(files, ","))
	}
	if e.candidate.Project != "" {
		fmt.Fprintf(&sb, " (%s)", e.candidate.Project)
	}

	var label string
	if len(e.insights) > 0 {
		types := make([]string, 0, len(e.insights))
		seen := make(map[string]bool)
		for _, in := range e.insights {
			if !seen[in.Type] {
				seen[in.Type] = true
				types = append(types, in.Type)
			}
		}
		label = strings.Join(types, ", ")
	} else {
		label = e.status()
	}
	if label != "" {
		sb.WriteString(": ")
		sb.WriteString(label)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// truncate cuts s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) (string, bool) {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s, false
	}
	cut := limit - 3
	if cut < 0 {
		cut = 0
	}
	return strings.TrimRight(string(runes[:cut]), " \n") + "...", true
}
