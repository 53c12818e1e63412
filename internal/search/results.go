/*
Package search ranks stored reviews against the concepts of the current one.

Each candidate review gets three signals normalized to [0, 1]: lexical
relevance from full-text search, graph strength from the associative memory
and recency. A Strategy combines them into one score.
*/
package search

import (
	"strconv"
	"strings"
)

// Query is the input of a ranking.
type Query struct {
	// Concepts is the derived concept set of the current review.
	Concepts []string

	// Text is matched lexically. When empty it is built from Concepts.
	Text string

	// Project restricts candidates to one project. Empty matches all.
	Project string

	// Limit caps the result count. Non-positive uses the configured limit.
	Limit int
}

// Signals are the per-candidate inputs of a Strategy, each in [0, 1].
type Signals struct {
	Lexical float64 `json:"lexical"`
	Graph   float64 `json:"graph"`
	Recency float64 `json:"recency"`
}

// Candidate is one ranked historical review.
type Candidate struct {
	Score    float64  `json:"score"`
	ReviewID int64    `json:"review_id"`
	Project  string   `json:"project"`
	Files    []string `json:"files"`
	Signals  Signals  `json:"signals"`
}

// recordField replaces the record separators inside a project name.
var recordField = strings.NewReplacer("|", "_", "\n", " ", "\r", " ")

// recordFile also replaces the file list separator.
var recordFile = strings.NewReplacer("|", "_", ",", "_", "\n", " ", "\r", " ")

// Record formats the candidate as a "score|reviewId|project|files" line.
// Separators inside the project or a file name become "_", line breaks
// become spaces.
func (c Candidate) Record() string {
	files := make([]string, len(c.Files))
	for i, f := range c.Files {
		files[i] = recordFile.Replace(f)
	}
	return strings.Join([]string{
		strconv.FormatFloat(c.Score, 'f', 4, 64),
		strconv.FormatInt(c.ReviewID, 10),
		recordField.Replace(c.Project),
		strings.Join(files, ","),
	}, "|")
}
