package insight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_Classification(t *testing.T) {
	tests := []struct {
		name     string
		result   string
		wantType string
		wantSev  string
	}{
		{"sql injection", "Query built by concatenation allows SQL injection.", TypeSecurity, SeverityCritical},
		{"xss", "Unescaped user input leads to XSS.", TypeSecurity, SeverityHigh},
		{"panic", "Dereferencing a nil pointer causes a panic.", TypeBugfix, SeverityHigh},
		{"n+1", "This loop issues N+1 queries.", TypePerformance, SeverityMedium},
		{"off by one", "Loop bound is off-by-one.", TypeBugfix, SeverityMedium},
		{"decision", "We decided to keep the cache in process.", TypeDecision, SeverityLow},
		{"refactor", "Consider a refactor of the handler.", TypePattern, SeverityLow},
		{"naming", "Naming of variables is unclear.", TypeStyle, SeverityLow},
	}

	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := e.Extract(tt.result, []string{"a.go"})
			require.NotNil(t, in)
			assert.Equal(t, tt.wantType, in.Type)
			assert.Equal(t, tt.wantSev, in.Severity)
			assert.Equal(t, []string{"a.go"}, in.Files)
		})
	}
}

func TestExtract_FirstMatchWins(t *testing.T) {
	in := NewExtractor().Extract("Style nit, but this is also a security problem.", nil)
	require.NotNil(t, in)
	assert.Equal(t, TypeSecurity, in.Type)

	custom := NewExtractor(
		Rule{Name: "style", Predicate: ContainsAny("style"), Type: TypeStyle, Severity: SeverityLow},
		Rule{Name: "security", Predicate: ContainsAny("security"), Type: TypeSecurity, Severity: SeverityHigh},
	)
	in = custom.Extract("Style nit, but this is also a security problem.", nil)
	require.NotNil(t, in)
	assert.Equal(t, TypeStyle, in.Type)
}

func TestExtract_NoMatch(t *testing.T) {
	e := NewExtractor()
	assert.Nil(t, e.Extract("", nil))
	assert.Nil(t, e.Extract("   \n", nil))
	assert.Nil(t, e.Extract("LGTM", nil))
}

func TestExtract_Sections(t *testing.T) {
	result := `## Token expiry is never validated
- **What:** the exp claim is ignored
- **Why:** stolen tokens stay valid forever
- **Learned:** always validate exp on every request
Other security notes follow.`

	in := NewExtractor().Extract(result, nil)
	require.NotNil(t, in)
	assert.Equal(t, TypeSecurity, in.Type)
	assert.Equal(t, "Token expiry is never validated", in.Description)
	assert.Equal(t, "the exp claim is ignored", in.What)
	assert.Equal(t, "stolen tokens stay valid forever", in.Why)
	assert.Equal(t, "always validate exp on every request", in.Learned)
}

func TestExtract_DescriptionFallsBackToWhat(t *testing.T) {
	in := NewExtractor().Extract("What: loop bound is wrong", nil)
	require.NotNil(t, in)
	assert.Equal(t, "loop bound is wrong", in.Description)
	assert.Equal(t, "loop bound is wrong", in.What)
}

func TestExtract_LongDescription(t *testing.T) {
	long := "bug " + strings.Repeat("word ", 60)
	in := NewExtractor().Extract(long, nil)
	require.NotNil(t, in)
	assert.LessOrEqual(t, len([]rune(in.Description)), maxDescriptionLength)
	assert.Contains(t, in.Description, "...")
}

func TestContainsAny_WordStart(t *testing.T) {
	p := ContainsAny("nit", "vulnerab")
	assert.True(t, p("nit: rename this"))
	assert.True(t, p("small (nit) here"))
	assert.True(t, p("a vulnerability"))
	assert.False(t, p("initial commit"))
	assert.False(t, p("unity"))
}
