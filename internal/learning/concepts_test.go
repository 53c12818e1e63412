package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/storage"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"pattern:security", "pattern:security"},
		{"Pattern:Security", "pattern:security"},
		{" severity: high ", "severity:high"},
		{"file:src/Auth.ts", "file:src/Auth.ts"},
		{"FILE:./src//Auth.ts", "file:src/Auth.ts"},
		{"file:src\\win\\Path.cs", "file:src/win/Path.cs"},
		{"token", "term:token"},
		{"Token Refresh", "term:token-refresh"},
		{"pattern:input   validation", "pattern:input-validation"},
		{"src/a:b.go", "term:src/a:b.go"},
		{"pattern:", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Normalize(got), "normalization must be idempotent")
		})
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"b", "a", "B", "", "term:a", "file:x.go"})
	assert.Equal(t, []string{"term:b", "term:a", "file:x.go"}, got)
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The token_refresh is not validated; 42 tokens, Token! if JWT")
	assert.Equal(t, []string{"token_refresh", "validated", "tokens", "token", "jwt"}, got)
	assert.Empty(t, Tokenize(""))
}

func TestInsightConcepts(t *testing.T) {
	got := InsightConcepts(storage.Insight{Type: "Security", Severity: "critical"})
	assert.Equal(t, []string{"pattern:security", "severity:critical"}, got)
	assert.Empty(t, InsightConcepts(storage.Insight{}))
}

func TestDeriver_Ignored(t *testing.T) {
	d, err := NewDeriver(config.NewConfig().Learning.IgnoreFiles)
	require.NoError(t, err)

	assert.True(t, d.Ignored("yarn.lock"))
	assert.True(t, d.Ignored("web/package.lock"))
	assert.True(t, d.Ignored("vendor/github.com/x/y.go"))
	assert.True(t, d.Ignored("web/node_modules/react/index.js"))
	assert.False(t, d.Ignored("internal/auth/token.go"))
	assert.False(t, d.Ignored("vendored.go"))
}

func TestDeriver_InvalidPattern(t *testing.T) {
	_, err := NewDeriver([]string{"["})
	var ce *config.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "learning.ignore_files", ce.Field)
}

func TestDeriver_Derive(t *testing.T) {
	d, err := NewDeriver([]string{"*.md"})
	require.NoError(t, err)

	got := d.Derive(ReviewInput{
		Files:       []string{"auth.ts", "README.md", "", "auth.ts"},
		ConceptText: "Token expiry not checked",
		Summary:     "ignored because concept text is set",
		Insights: []storage.Insight{
			{Type: "security", Severity: "high"},
			{Type: "bugfix", Severity: "high"},
		},
	})
	assert.Equal(t, []string{
		"file:auth.ts",
		"pattern:security",
		"severity:high",
		"pattern:bugfix",
		"term:token",
		"term:expiry",
		"term:checked",
	}, got)

	// Summary is the fallback source of terms.
	got = d.Derive(ReviewInput{Summary: "race condition"})
	assert.Equal(t, []string{"term:race", "term:condition"}, got)
}

func TestDeriver_TermLimit(t *testing.T) {
	d, err := NewDeriver(nil)
	require.NoError(t, err)

	got := d.Derive(ReviewInput{
		ConceptText: "alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima mike november",
	})
	assert.Len(t, got, maxTermConcepts)
	assert.Equal(t, "term:alpha", got[0])
}
