// Package metrics holds the Prometheus instruments of the review memory.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for review-memory.
type Metrics struct {
	// Learning
	Reinforcements  *prometheus.CounterVec
	Sessions        *prometheus.CounterVec
	SessionPairs    prometheus.Histogram
	DroppedConcepts prometheus.Counter

	// Retrieval
	Retrievals          prometheus.Counter
	RetrievalDuration   prometheus.Histogram
	RetrievalCandidates prometheus.Histogram

	// Disclosure
	RenderedEntries  *prometheus.CounterVec
	RenderTruncated  prometheus.Counter
	MalformedRecords prometheus.Counter

	// Errors swallowed by best-effort callers.
	BestEffortErrors *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// Default creates and registers all metrics on first use and returns the
// shared instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			Reinforcements: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "review_memory_reinforcements_total",
					Help: "Association reinforcements applied, by context",
				},
				[]string{"context"},
			),
			Sessions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "review_memory_sessions_total",
					Help: "Learning session transitions (started, ended, stale_ended)",
				},
				[]string{"event"},
			),
			SessionPairs: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "review_memory_session_pairs",
					Help:    "Pairs reinforced when a session ends",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12),
				},
			),
			DroppedConcepts: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "review_memory_session_concepts_dropped_total",
					Help: "Concepts dropped because a session reached its concept cap",
				},
			),
			Retrievals: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "review_memory_retrievals_total",
					Help: "Rank calls served",
				},
			),
			RetrievalDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "review_memory_retrieval_duration_seconds",
					Help:    "Duration of rank calls in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
				},
			),
			RetrievalCandidates: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "review_memory_retrieval_candidates",
					Help:    "Candidates returned per rank call",
					Buckets: prometheus.LinearBuckets(0, 5, 10),
				},
			),
			RenderedEntries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "review_memory_rendered_entries_total",
					Help: "Rendered context entries, by disclosure tier",
				},
				[]string{"tier"},
			),
			RenderTruncated: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "review_memory_render_truncated_total",
					Help: "Renders that stopped early on the token budget",
				},
			),
			MalformedRecords: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "review_memory_malformed_records_total",
					Help: "Candidate records skipped while parsing",
				},
			),
			BestEffortErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "review_memory_best_effort_errors_total",
					Help: "Learning and retrieval failures logged and skipped, by operation",
				},
				[]string{"op"},
			),
		}
	})
	return sharedMetrics
}
