package benchmark

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/search"
	"github.com/khanglvm/review-memory/internal/storage"
)

// longReviews serves every review with a body of about 1000 tokens.
type longReviews struct{}

func (longReviews) GetReview(_ context.Context, id int64) (*storage.Review, error) {
	return &storage.Review{
		ID:     id,
		Files:  []string{"src/app.go"},
		Result: strings.Repeat("word ", 800),
		Status: "changes_requested",
	}, nil
}

func (longReviews) InsightsForReview(context.Context, int64) ([]storage.Insight, error) {
	return nil, nil
}

var candidates = []search.Candidate{
	{Score: 0.9, ReviewID: 3, Project: "p", Files: []string{"src/app.go"}},
	{Score: 0.6, ReviewID: 2, Project: "p", Files: []string{"src/app.go"}},
	{Score: 0.2, ReviewID: 1, Project: "p", Files: []string{"src/app.go"}},
}

func TestCountTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{"héllo wörld", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CountTokens(tt.text), tt.text)
	}
}

func TestRun(t *testing.T) {
	cfg := config.NewConfig().Disclosure

	result, err := Run(context.Background(), longReviews{}, cfg, candidates, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Candidates)
	assert.Equal(t, cfg.MaxTokens, result.Budget)
	assert.Equal(t, 3, result.Verbatim.Entries)
	assert.Greater(t, result.Verbatim.Tokens, 2900)

	assert.Equal(t, 1, result.Full)
	assert.Equal(t, 1, result.Detail)
	assert.Equal(t, 1, result.Compact)
	assert.Zero(t, result.Dropped)
	assert.Equal(t, 3, result.Progressive.Entries)

	// The full entry is cut to its allowance.
	assert.Less(t, result.Progressive.Tokens, cfg.FullCost+cfg.DetailCost+cfg.CompactCost)
	assert.Equal(t, result.Verbatim.Tokens-result.Progressive.Tokens, result.TokenSavings)
	assert.Greater(t, result.SavingsPercent, 50.0)
}

func TestRun_TightBudget(t *testing.T) {
	result, err := Run(context.Background(), longReviews{}, config.NewConfig().Disclosure, candidates, 130, nil)
	require.NoError(t, err)

	assert.Zero(t, result.Full)
	assert.Equal(t, 1, result.Detail)
	assert.Zero(t, result.Compact)
	assert.Equal(t, 2, result.Dropped)
	assert.Equal(t, "0 full, 1 detail, 0 compact, 2 dropped", result.Progressive.Description)
}

func TestRun_NoCandidates(t *testing.T) {
	result, err := Run(context.Background(), nil, config.NewConfig().Disclosure, nil, 0, nil)
	require.NoError(t, err)

	assert.Zero(t, result.Verbatim.Tokens)
	assert.Zero(t, result.Progressive.Tokens)
	assert.Zero(t, result.SavingsPercent)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig().Disclosure
	cfg.HighThreshold = 0.1

	_, err := Run(context.Background(), nil, cfg, candidates, 0, nil)
	assert.True(t, config.IsConfigError(err))
}

func TestFormatResult(t *testing.T) {
	result, err := Run(context.Background(), longReviews{}, config.NewConfig().Disclosure, candidates, 0, nil)
	require.NoError(t, err)

	output := FormatResult(result)
	for _, want := range []string{"VERBATIM HISTORY", "PROGRESSIVE DISCLOSURE (budget 2000)", "1 full, 1 detail, 1 compact, 0 dropped", "Reduction:"} {
		assert.Contains(t, output, want)
	}

	// Every line of the box has the same width.
	lines := strings.Split(strings.TrimSuffix(output, "\n"), "\n")
	width := len([]rune(lines[0]))
	for _, line := range lines {
		assert.Len(t, []rune(line), width, line)
	}
}
