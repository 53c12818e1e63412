package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/learning"
	"github.com/khanglvm/review-memory/internal/metrics"
	"github.com/khanglvm/review-memory/internal/storage"
)

// poolFactor sizes each candidate source relative to the requested limit.
const poolFactor = 3

// Ranker scores stored reviews against the current review's concepts.
type Ranker struct {
	store             storage.Storage
	lexical           LexicalSearcher
	strategy          Strategy
	limit             int
	halfLife          time.Duration
	minNeighborWeight float64
	logger            *zap.Logger
	metrics           *metrics.Metrics
	now               func() time.Time
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithStrategy replaces the weighted-sum strategy built from config.
func WithStrategy(s Strategy) RankerOption {
	return func(r *Ranker) { r.strategy = s }
}

// WithLexical replaces the store's FTS5 search as the lexical backend.
func WithLexical(l LexicalSearcher) RankerOption {
	return func(r *Ranker) { r.lexical = l }
}

// WithClock sets the time source used for recency.
func WithClock(now func() time.Time) RankerOption {
	return func(r *Ranker) { r.now = now }
}

// NewRanker creates a ranker from the retrieval configuration.
func NewRanker(store storage.Storage, cfg config.RetrievalConfig, logger *zap.Logger, opts ...RankerOption) (*Ranker, error) {
	if cfg.Limit <= 0 {
		return nil, &config.ConfigError{Field: "retrieval.limit", Message: "must be positive"}
	}
	if cfg.RecencyHalfLife <= 0 {
		return nil, &config.ConfigError{Field: "retrieval.recency_half_life", Message: "must be positive"}
	}

	weights := WeightedSum{Lexical: cfg.LexicalWeight, Graph: cfg.GraphWeight, Recency: cfg.RecencyWeight}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	r := &Ranker{
		store:             store,
		lexical:           StoreSearcher{Store: store},
		strategy:          weights,
		limit:             cfg.Limit,
		halfLife:          cfg.RecencyHalfLife,
		minNeighborWeight: cfg.MinNeighborWeight,
		logger:            nopIfNil(logger),
		metrics:           metrics.Default(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// pooled accumulates the raw evidence for one candidate review.
type pooled struct {
	lexical float64
	graph   float64
	review  *storage.Review
}

// Rank returns up to q.Limit candidates, best first. Equal scores order by
// higher review id. No candidates yields an empty slice.
func (r *Ranker) Rank(ctx context.Context, q Query) ([]Candidate, error) {
	start := time.Now()
	defer func() { r.metrics.RetrievalDuration.Observe(time.Since(start).Seconds()) }()
	r.metrics.Retrievals.Inc()

	limit := q.Limit
	if limit <= 0 {
		limit = r.limit
	}
	concepts := learning.NormalizeAll(q.Concepts)
	text := q.Text
	if strings.TrimSpace(text) == "" {
		text = conceptText(concepts)
	}

	pool := make(map[int64]*pooled)
	entry := func(id int64) *pooled {
		p, ok := pool[id]
		if !ok {
			p = &pooled{}
			pool[id] = p
		}
		return p
	}

	if strings.TrimSpace(text) != "" {
		hits, err := r.lexical.Search(ctx, text, q.Project, limit*poolFactor)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			entry(h.ReviewID).lexical = h.Score
		}
	}

	strength, lookup, err := r.neighborhood(ctx, concepts)
	if err != nil {
		return nil, err
	}
	ids, err := r.store.ReviewsForConcepts(ctx, lookup, q.Project, limit*poolFactor)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		entry(id)
	}

	lexical := make(map[int64]float64, len(pool))
	graph := make(map[int64]float64, len(pool))
	for id, p := range pool {
		review, err := r.store.GetReview(ctx, id)
		if err != nil {
			return nil, err
		}
		if review == nil {
			delete(pool, id)
			continue
		}
		p.review = review

		reviewConcepts, err := r.store.ReviewConcepts(ctx, id)
		if err != nil {
			return nil, err
		}
		p.graph = graphStrength(concepts, reviewConcepts, strength)

		lexical[id] = p.lexical
		graph[id] = p.graph
	}

	lexical = normalizeByMax(lexical)
	graph = normalizeByMax(graph)
	now := r.now()

	candidates := make([]Candidate, 0, len(pool))
	for id, p := range pool {
		signals := Signals{
			Lexical: lexical[id],
			Graph:   graph[id],
			Recency: r.recency(now, p.review.CreatedAt),
		}
		candidates = append(candidates, Candidate{
			Score:    clamp01(r.strategy.Score(signals)),
			ReviewID: id,
			Project:  p.review.Project,
			Files:    p.review.Files,
			Signals:  signals,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ReviewID > candidates[j].ReviewID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	r.metrics.RetrievalCandidates.Observe(float64(len(candidates)))
	r.recordRetrieval(ctx, concepts, text, len(candidates))
	return candidates, nil
}

// neighborhood loads the associations of the current concepts. strength maps
// current concept -> neighbor -> weight summed over both contexts. lookup is
// the current concepts plus every neighbor.
func (r *Ranker) neighborhood(ctx context.Context, concepts []string) (map[string]map[string]float64, []string, error) {
	strength := make(map[string]map[string]float64, len(concepts))
	seen := make(map[string]bool)
	lookup := make([]string, 0, len(concepts))
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			lookup = append(lookup, c)
		}
	}

	for _, c := range concepts {
		add(c)
		neighbors, err := r.store.Neighbors(ctx, c, r.minNeighborWeight)
		if err != nil {
			return nil, nil, err
		}
		m := make(map[string]float64, len(neighbors))
		for _, n := range neighbors {
			m[n.Concept] += n.Weight
			add(n.Concept)
		}
		strength[c] = m
	}
	return strength, lookup, nil
}

// graphStrength sums the association weights between the current concepts
// and a candidate's concepts. A shared concept counts 1.0.
func graphStrength(current, candidate []string, strength map[string]map[string]float64) float64 {
	total := 0.0
	for _, c := range current {
		for _, d := range candidate {
			if c == d {
				total += 1.0
				continue
			}
			total += strength[c][d]
		}
	}
	return total
}

// recency halves every halfLife. Future timestamps count as now.
func (r *Ranker) recency(now, createdAt time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(r.halfLife))
}

func (r *Ranker) recordRetrieval(ctx context.Context, concepts []string, text string, results int) {
	err := r.store.RecordRetrieval(ctx, storage.RetrievalRecord{
		RetrievalID:  uuid.NewString(),
		QueryHash:    storage.HashQuery(strings.Join(concepts, "\n") + "\x00" + text),
		Timestamp:    time.Now(),
		ResultsCount: results,
	})
	if err != nil {
		r.logger.Warn("failed to record retrieval", zap.Error(err))
	}
}

// conceptText builds search text from concept values.
func conceptText(concepts []string) string {
	terms := make([]string, 0, len(concepts))
	for _, c := range concepts {
		_, value, ok := strings.Cut(c, ":")
		if !ok {
			value = c
		}
		value = strings.NewReplacer("-", " ", "_", " ").Replace(value)
		if value = strings.TrimSpace(value); value != "" {
			terms = append(terms, value)
		}
	}
	return strings.Join(terms, " ")
}
