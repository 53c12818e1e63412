package disclosure

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/khanglvm/review-memory/internal/search"
)

// maxRecordSize bounds a single input line.
const maxRecordSize = 1024 * 1024

// ErrMalformedRecord is returned by ParseRecord for unusable lines.
var ErrMalformedRecord = errors.New("malformed candidate record")

// ParseRecord parses one "score|reviewId|project|files" line. score must be
// in [0, 1]; files is a comma-separated list and may be empty.
func ParseRecord(line string) (search.Candidate, error) {
	fields := strings.Split(strings.TrimSpace(line), "|")
	if len(fields) != 4 {
		return search.Candidate{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedRecord, len(fields))
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil || math.IsNaN(score) || score < 0 || score > 1 {
		return search.Candidate{}, fmt.Errorf("%w: bad score %q", ErrMalformedRecord, fields[0])
	}
	id, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return search.Candidate{}, fmt.Errorf("%w: bad review id %q", ErrMalformedRecord, fields[1])
	}

	var files []string
	for _, f := range strings.Split(fields[3], ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}

	return search.Candidate{
		Score:    score,
		ReviewID: id,
		Project:  strings.TrimSpace(fields[2]),
		Files:    files,
	}, nil
}

// ParseCandidates reads one record per line. Blank lines are ignored and
// malformed records are skipped and counted. Only a read failure is an error.
func ParseCandidates(r io.Reader) ([]search.Candidate, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	candidates := []search.Candidate{}
	skipped := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c, err := ParseRecord(line)
		if err != nil {
			skipped++
			continue
		}
		candidates = append(candidates, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read candidate records: %w", err)
	}
	return candidates, skipped, nil
}
