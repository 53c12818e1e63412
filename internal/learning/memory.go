/*
Package learning implements the associative concept memory and the session
cohesion tracker.

Concepts that co-occur in one review are reinforced as "review" associations
immediately. Concepts accumulated across a session are reinforced pairwise as
"session" associations when the session ends. Both use the saturating update

	w' = w + learningRate * boost * (1 - w)

so weights approach 1 without reaching it.
*/
package learning

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/metrics"
	"github.com/khanglvm/review-memory/internal/storage"
)

// maxWeight is the largest weight an association may hold.
var maxWeight = math.Nextafter(1, 0)

// AssociativeMemory is a durable weighted graph over concept keys,
// partitioned by association context.
type AssociativeMemory struct {
	store        storage.Storage
	learningRate float64
	baseWeight   float64
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewAssociativeMemory creates a memory over store. learningRate must be in
// (0, 1] and baseWeight in (0, 1).
func NewAssociativeMemory(store storage.Storage, learningRate, baseWeight float64, logger *zap.Logger) (*AssociativeMemory, error) {
	if learningRate <= 0 || learningRate > 1 {
		return nil, &config.ConfigError{Field: "learning.learning_rate", Message: fmt.Sprintf("must be in (0, 1], got %g", learningRate)}
	}
	if baseWeight <= 0 || baseWeight >= 1 {
		return nil, &config.ConfigError{Field: "learning.base_weight", Message: fmt.Sprintf("must be in (0, 1), got %g", baseWeight)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssociativeMemory{
		store:        store,
		learningRate: learningRate,
		baseWeight:   baseWeight,
		logger:       logger,
		metrics:      metrics.Default(),
	}, nil
}

// Reinforce strengthens the association between a and b in assocContext.
//
// A self-pair is a no-op. An absent association is created with the base
// weight; a present one gets the saturating update scaled by boost.
func (m *AssociativeMemory) Reinforce(ctx context.Context, a, b, assocContext string, boost float64) error {
	if err := validContext(assocContext); err != nil {
		return err
	}
	if boost <= 0 {
		return &config.ConfigError{Field: "boost", Message: fmt.Sprintf("must be positive, got %g", boost)}
	}

	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" || a == b {
		return nil
	}
	return m.reinforce(ctx, a, b, assocContext, boost)
}

func (m *AssociativeMemory) reinforce(ctx context.Context, a, b, assocContext string, boost float64) error {
	_, err := m.store.UpdateAssociation(ctx, a, b, assocContext, m.update(boost))
	if err != nil {
		return err
	}
	m.metrics.Reinforcements.WithLabelValues(assocContext).Inc()
	return nil
}

// update returns the weight function applied by one reinforcement.
func (m *AssociativeMemory) update(boost float64) storage.WeightUpdate {
	step := math.Min(m.learningRate*boost, 1)
	return func(w float64, found bool) float64 {
		if !found {
			return m.baseWeight
		}
		next := w + step*(1-w)
		if next > maxWeight {
			next = maxWeight
		}
		if next < 0 {
			next = 0
		}
		return next
	}
}

// ReinforceAll reinforces every unordered pair of the deduplicated concept
// set and returns the number of pairs applied. It stops at the first store
// error; pairs applied before it stay applied.
func (m *AssociativeMemory) ReinforceAll(ctx context.Context, concepts []string, assocContext string, boost float64) (int, error) {
	if err := validContext(assocContext); err != nil {
		return 0, err
	}
	if boost <= 0 {
		return 0, &config.ConfigError{Field: "boost", Message: fmt.Sprintf("must be positive, got %g", boost)}
	}

	set := NormalizeAll(concepts)
	applied := 0
	for i := 0; i < len(set); i++ {
		for j := i + 1; j < len(set); j++ {
			if err := m.reinforce(ctx, set[i], set[j], assocContext, boost); err != nil {
				return applied, err
			}
			applied++
		}
	}
	return applied, nil
}

// Query returns the associations of concept with weight >= minWeight,
// strongest first, ties by neighbor key then context.
func (m *AssociativeMemory) Query(ctx context.Context, concept string, minWeight float64) ([]storage.Neighbor, error) {
	concept = Normalize(concept)
	if concept == "" {
		return []storage.Neighbor{}, nil
	}
	return m.store.Neighbors(ctx, concept, minWeight)
}

// Strength returns the summed weight of the pair across both contexts.
func (m *AssociativeMemory) Strength(ctx context.Context, a, b string) (float64, error) {
	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" || a == b {
		return 0, nil
	}

	total := 0.0
	for _, c := range []string{storage.ContextReview, storage.ContextSession} {
		assoc, err := m.store.GetAssociation(ctx, a, b, c)
		if err != nil {
			return 0, err
		}
		if assoc != nil {
			total += assoc.Weight
		}
	}
	return total, nil
}

// Decay multiplies by factor the weight of every association not reinforced
// within olderThan. It runs only when invoked.
func (m *AssociativeMemory) Decay(ctx context.Context, factor float64, olderThan time.Duration) (int, error) {
	if factor <= 0 || factor >= 1 {
		return 0, &config.ConfigError{Field: "factor", Message: fmt.Sprintf("must be in (0, 1), got %g", factor)}
	}
	if olderThan < 0 {
		return 0, &config.ConfigError{Field: "older_than", Message: "must not be negative"}
	}

	n, err := m.store.DecayAssociations(ctx, factor, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	m.logger.Info("decayed associations", zap.Int("rows", n), zap.Float64("factor", factor))
	return n, nil
}

// Prune deletes associations weaker than below. It is the only path that
// removes associations.
func (m *AssociativeMemory) Prune(ctx context.Context, below float64) (int, error) {
	if below <= 0 || below >= 1 {
		return 0, &config.ConfigError{Field: "below", Message: fmt.Sprintf("must be in (0, 1), got %g", below)}
	}

	n, err := m.store.PruneAssociations(ctx, below)
	if err != nil {
		return 0, err
	}
	m.logger.Info("pruned associations", zap.Int("rows", n), zap.Float64("below", below))
	return n, nil
}

// Export lists every association with weight >= minWeight.
func (m *AssociativeMemory) Export(ctx context.Context, minWeight float64) ([]storage.Association, error) {
	return m.store.Associations(ctx, minWeight)
}

func validContext(c string) error {
	if c != storage.ContextReview && c != storage.ContextSession {
		return &config.ConfigError{
			Field:   "context",
			Message: fmt.Sprintf("must be %q or %q, got %q", storage.ContextReview, storage.ContextSession, c),
		}
	}
	return nil
}
