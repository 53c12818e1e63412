/*
Package storage provides data models for the review memory.

These models represent stored reviews and their insights, learning sessions
with their concepts, and the weighted associations between concepts.
*/
package storage

import "time"

// Association contexts.
const (
	// ContextReview marks associations learned from a single review.
	ContextReview = "review"

	// ContextSession marks associations learned when a session closes.
	ContextSession = "session"
)

// Review represents one stored code review.
type Review struct {
	ID int64 `json:"id" yaml:"id"`

	// Project is the project the review belongs to.
	Project string `json:"project" yaml:"project"`

	// Commit is the commit the review was run against.
	Commit string `json:"commit" yaml:"commit"`

	// Files are the reviewed file paths.
	Files []string `json:"files" yaml:"files"`

	// Diff is the reviewed diff text.
	Diff string `json:"diff" yaml:"diff"`

	// Result is the raw review output.
	Result string `json:"result" yaml:"result"`

	// Status is the review outcome (e.g. "approved", "changes_requested").
	Status string `json:"status" yaml:"status"`

	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`

	// ContentHash deduplicates identical diffs.
	ContentHash string `json:"content_hash" yaml:"content_hash"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Insight is a classified finding extracted from a review result.
type Insight struct {
	ID          int64     `json:"id" yaml:"id"`
	ReviewID    int64     `json:"review_id" yaml:"review_id"`
	Type        string    `json:"type" yaml:"type"`
	Severity    string    `json:"severity" yaml:"severity"`
	Files       []string  `json:"files,omitempty" yaml:"files,omitempty"`
	Description string    `json:"description" yaml:"description"`
	What        string    `json:"what,omitempty" yaml:"what,omitempty"`
	Why         string    `json:"why,omitempty" yaml:"why,omitempty"`
	Learned     string    `json:"learned,omitempty" yaml:"learned,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// ReviewHit is one full-text search match.
type ReviewHit struct {
	ReviewID int64
	// Score is the negated bm25 rank: higher is more relevant.
	Score     float64
	CreatedAt time.Time
}

// LearningSession is a bounded window of concepts from one review invocation.
type LearningSession struct {
	ID         int64      `json:"id"`
	SessionRef string     `json:"session_ref"`
	Project    string     `json:"project"`
	Commit     string     `json:"commit"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session has not been ended.
func (s *LearningSession) Active() bool {
	return s != nil && s.EndedAt == nil
}

// SessionConcept records the first time a concept was seen in a session.
type SessionConcept struct {
	SessionID   int64
	Concept     string
	FirstSeenAt time.Time
}

// SessionStat summarizes one session for reporting.
type SessionStat struct {
	SessionID    int64      `json:"session_id" yaml:"session_id"`
	SessionRef   string     `json:"session_ref" yaml:"session_ref"`
	Project      string     `json:"project" yaml:"project"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	ConceptCount int        `json:"concept_count" yaml:"concept_count"`
}

// Association is a weighted undirected edge between two concepts.
// ConceptA is always the lexically smaller key.
type Association struct {
	ConceptA  string    `json:"concept_a" yaml:"concept_a"`
	ConceptB  string    `json:"concept_b" yaml:"concept_b"`
	Context   string    `json:"context" yaml:"context"`
	Weight    float64   `json:"weight" yaml:"weight"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Neighbor is an association seen from one of its endpoints.
type Neighbor struct {
	Concept string  `json:"concept"`
	Context string  `json:"context"`
	Weight  float64 `json:"weight"`
}

// RetrievalRecord represents a context retrieval for analytics.
type RetrievalRecord struct {
	// RetrievalID is a unique identifier for this retrieval (UUID).
	RetrievalID string

	// QueryHash is the SHA256 hash of the concept query for privacy.
	QueryHash string

	Timestamp time.Time

	// ResultsCount is the number of candidates returned.
	ResultsCount int
}

// StoreStats holds row counts for status reporting.
type StoreStats struct {
	Reviews             int `json:"reviews"`
	Insights            int `json:"insights"`
	Sessions            int `json:"sessions"`
	ActiveSessions      int `json:"active_sessions"`
	ReviewAssociations  int `json:"review_associations"`
	SessionAssociations int `json:"session_associations"`
}

// CanonicalPair orders two concept keys so that a <= b.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
