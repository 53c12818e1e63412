package search

import (
	"fmt"

	"github.com/khanglvm/review-memory/internal/config"
)

// Strategy turns a candidate's signals into one score in [0, 1].
type Strategy interface {
	Score(s Signals) float64
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(s Signals) float64

func (f StrategyFunc) Score(s Signals) float64 { return f(s) }

// WeightedSum mixes the signals linearly, normalized by the weight total.
type WeightedSum struct {
	Lexical float64
	Graph   float64
	Recency float64
}

// DefaultWeights gives lexical and graph evidence equal say and recency less.
var DefaultWeights = WeightedSum{Lexical: 0.4, Graph: 0.4, Recency: 0.2}

// Validate rejects negative weights and an all-zero mix.
func (w WeightedSum) Validate() error {
	if w.Lexical < 0 || w.Graph < 0 || w.Recency < 0 {
		return &config.ConfigError{Field: "retrieval", Message: fmt.Sprintf("signal weights must be non-negative, got %+v", w)}
	}
	if w.Lexical+w.Graph+w.Recency == 0 {
		return &config.ConfigError{Field: "retrieval", Message: "at least one signal weight must be positive"}
	}
	return nil
}

// Score implements Strategy.
func (w WeightedSum) Score(s Signals) float64 {
	total := w.Lexical + w.Graph + w.Recency
	if total <= 0 {
		return 0
	}
	return clamp01((w.Lexical*s.Lexical + w.Graph*s.Graph + w.Recency*s.Recency) / total)
}

// normalizeByMax divides every value by the largest one. All-zero input
// stays zero.
func normalizeByMax(values map[int64]float64) map[int64]float64 {
	maxValue := 0.0
	for _, v := range values {
		if v > maxValue {
			maxValue = v
		}
	}

	normalized := make(map[int64]float64, len(values))
	for id, v := range values {
		if maxValue <= 0 || v <= 0 {
			normalized[id] = 0
			continue
		}
		normalized[id] = v / maxValue
	}
	return normalized
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
