/*
Package benchmark measures the token consumption of rendered review history.

It compares two renderings of the same ranked candidates:
1. Verbatim: every candidate shown in full, without a budget
2. Progressive: tiered rendering under the token budget

Token estimation uses the usual approximation for English text of ~4
characters per token.
*/
package benchmark

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/disclosure"
	"github.com/khanglvm/review-memory/internal/search"
)

// CharsPerToken is the character-to-token approximation.
const CharsPerToken = 4

// verbatimCost is the per-entry cost of the verbatim rendering. It is large
// enough that no stored review body is truncated.
const verbatimCost = 1 << 20

// TokenEstimate represents token consumption estimates.
type TokenEstimate struct {
	Entries     int    `json:"entries"`
	Tokens      int    `json:"tokens"`
	Description string `json:"description"`
}

// Result contains comparison results.
type Result struct {
	Candidates     int           `json:"candidates"`
	Budget         int           `json:"budget"`
	Verbatim       TokenEstimate `json:"verbatim"`
	Progressive    TokenEstimate `json:"progressive"`
	Full           int           `json:"full"`
	Detail         int           `json:"detail"`
	Compact        int           `json:"compact"`
	Dropped        int           `json:"dropped"`
	TokenSavings   int           `json:"tokenSavings"`
	SavingsPercent float64       `json:"savingsPercent"`
}

// CountTokens estimates the token count of rendered text.
func CountTokens(text string) int {
	return (utf8.RuneCountInString(text) + CharsPerToken - 1) / CharsPerToken
}

// Run renders candidates verbatim and progressively with cfg and compares
// their sizes. A non-positive budget uses cfg.MaxTokens.
func Run(ctx context.Context, source disclosure.ReviewSource, cfg config.DisclosureConfig, candidates []search.Candidate, budget int, logger *zap.Logger) (*Result, error) {
	if budget <= 0 {
		budget = cfg.MaxTokens
	}

	progressive, err := disclosure.NewBuilder(source, cfg, logger)
	if err != nil {
		return nil, err
	}
	verbatim, err := disclosure.NewBuilder(source, verbatimConfig(len(candidates)), logger)
	if err != nil {
		return nil, err
	}

	result := &Result{Candidates: len(candidates), Budget: budget}

	fullText, err := verbatim.Render(ctx, candidates, verbatimCost*(len(candidates)+1))
	if err != nil {
		return nil, err
	}
	result.Verbatim = TokenEstimate{
		Entries:     len(candidates),
		Tokens:      CountTokens(fullText),
		Description: fmt.Sprintf("%d reviews shown in full", len(candidates)),
	}

	tiers := progressive.Plan(candidates, budget)
	for _, t := range tiers {
		switch t {
		case disclosure.TierFull:
			result.Full++
		case disclosure.TierDetail:
			result.Detail++
		default:
			result.Compact++
		}
	}
	result.Dropped = len(candidates) - len(tiers)

	text, err := progressive.Render(ctx, candidates, budget)
	if err != nil {
		return nil, err
	}
	result.Progressive = TokenEstimate{
		Entries: len(tiers),
		Tokens:  CountTokens(text),
		Description: fmt.Sprintf("%d full, %d detail, %d compact, %d dropped",
			result.Full, result.Detail, result.Compact, result.Dropped),
	}

	result.TokenSavings = result.Verbatim.Tokens - result.Progressive.Tokens
	if result.Verbatim.Tokens > 0 {
		result.SavingsPercent = float64(result.TokenSavings) / float64(result.Verbatim.Tokens) * 100
	}
	return result, nil
}

// verbatimConfig classifies every score as full with no truncation.
func verbatimConfig(n int) config.DisclosureConfig {
	return config.DisclosureConfig{
		HighThreshold:   0,
		MediumThreshold: 0,
		MaxTokens:       verbatimCost * (n + 1),
		FullCost:        verbatimCost,
		DetailCost:      verbatimCost,
		CompactCost:     verbatimCost,
	}
}

const boxWidth = 62

func row(sb *strings.Builder, format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if pad := boxWidth - utf8.RuneCountInString(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	sb.WriteString("║" + line + "║\n")
}

// FormatResult formats the benchmark result for display.
func FormatResult(result *Result) string {
	var sb strings.Builder
	rule := strings.Repeat("═", boxWidth)

	sb.WriteString("╔" + rule + "╗\n")
	row(&sb, "           TOKEN EFFICIENCY BENCHMARK RESULTS")
	sb.WriteString("╠" + rule + "╣\n")
	row(&sb, "")
	row(&sb, "  VERBATIM HISTORY")
	row(&sb, "     Reviews: %d", result.Verbatim.Entries)
	row(&sb, "     Tokens:  ~%d", result.Verbatim.Tokens)
	row(&sb, "")
	sb.WriteString("╠" + rule + "╣\n")
	row(&sb, "")
	row(&sb, "  PROGRESSIVE DISCLOSURE (budget %d)", result.Budget)
	row(&sb, "     Reviews: %d of %d", result.Progressive.Entries, result.Candidates)
	row(&sb, "     Tiers:   %s", result.Progressive.Description)
	row(&sb, "     Tokens:  ~%d", result.Progressive.Tokens)
	row(&sb, "")
	sb.WriteString("╠" + rule + "╣\n")
	row(&sb, "")
	row(&sb, "  SAVINGS")
	row(&sb, "     Tokens saved: ~%d", result.TokenSavings)
	row(&sb, "     Reduction:    %.1f%%", result.SavingsPercent)
	row(&sb, "")
	sb.WriteString("╚" + rule + "╝\n")

	return sb.String()
}
