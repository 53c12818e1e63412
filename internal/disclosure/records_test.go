package disclosure

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanglvm/review-memory/internal/search"
)

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    search.Candidate
		wantErr bool
	}{
		{
			name: "single file",
			line: "0.8000|1|p|auth.ts",
			want: search.Candidate{Score: 0.8, ReviewID: 1, Project: "p", Files: []string{"auth.ts"}},
		},
		{
			name: "several files and spaces",
			line: " 0.5 | 12 | web | a.go, b.go ,",
			want: search.Candidate{Score: 0.5, ReviewID: 12, Project: "web", Files: []string{"a.go", "b.go"}},
		},
		{
			name: "score bounds",
			line: "1|2|p|",
			want: search.Candidate{Score: 1, ReviewID: 2, Project: "p"},
		},
		{
			name: "empty project and files",
			line: "0.1|3||",
			want: search.Candidate{Score: 0.1, ReviewID: 3},
		},
		{name: "too few fields", line: "0.8|1|p", wantErr: true},
		{name: "too many fields", line: "0.8|1|p|a|b", wantErr: true},
		{name: "bad score", line: "high|1|p|a", wantErr: true},
		{name: "nan score", line: "NaN|1|p|a", wantErr: true},
		{name: "infinite score", line: "+Inf|1|p|a", wantErr: true},
		{name: "score above one", line: "1.7|3|p|a", wantErr: true},
		{name: "negative score", line: "-0.4|4|p|b", wantErr: true},
		{name: "bad id", line: "0.8|one|p|a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecord(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedRecord))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCandidates(t *testing.T) {
	input := strings.Join([]string{
		"0.9000|1|p|a.go",
		"",
		"garbage",
		"0.5|x|p|b.go",
		"0.4000|2|p|c.go",
		"   ",
		"0.3|3|p",
	}, "\n")

	got, skipped, err := ParseCandidates(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ReviewID)
	assert.Equal(t, int64(2), got[1].ReviewID)
}

func TestParseCandidates_RoundTripsRecord(t *testing.T) {
	c := search.Candidate{Score: 0.75, ReviewID: 9, Project: "api", Files: []string{"x.go", "y.go"}}

	got, skipped, err := ParseCandidates(strings.NewReader(c.Record() + "\n"))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, []search.Candidate{c}, got)
}

func TestParseCandidates_SeparatorsInNames(t *testing.T) {
	c := search.Candidate{Score: 0.5, ReviewID: 9, Project: "a|b", Files: []string{"x|y.go", "z.go"}}

	got, skipped, err := ParseCandidates(strings.NewReader(c.Record()))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, got, 1)
	assert.Equal(t, "a_b", got[0].Project)
	assert.Equal(t, []string{"x_y.go", "z.go"}, got[0].Files)
}

func TestParseCandidates_SkipsOutOfRangeScores(t *testing.T) {
	got, skipped, err := ParseCandidates(strings.NewReader("1.7|3|p|a\n-0.4|4|p|b\n0.6|5|p|c"))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].ReviewID)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("pipe closed") }

func TestParseCandidates_ReadError(t *testing.T) {
	_, _, err := ParseCandidates(errReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe closed")
}
