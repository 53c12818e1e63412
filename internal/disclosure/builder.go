/*
Package disclosure renders ranked past reviews into a token-budgeted text
blob for the next review prompt.

Each candidate is shown at one of three tiers chosen by its score: full
(score >= high threshold), detail (medium <= score < high) or compact.
Every tier has a fixed approximate token cost; entries are accumulated
greedily in ranked order until the budget is spent.
*/
package disclosure

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/metrics"
	"github.com/khanglvm/review-memory/internal/search"
	"github.com/khanglvm/review-memory/internal/storage"
)

// charsPerToken converts a tier's token cost into its character allowance.
const charsPerToken = 4

// ReviewSource looks up the stored review and insights behind a candidate.
// storage.Storage satisfies it.
type ReviewSource interface {
	GetReview(ctx context.Context, id int64) (*storage.Review, error)
	InsightsForReview(ctx context.Context, reviewID int64) ([]storage.Insight, error)
}

// Builder renders candidates under a token budget.
type Builder struct {
	source  ReviewSource
	cfg     config.DisclosureConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewBuilder validates cfg and returns a builder. A nil source renders every
// entry from the candidate record alone.
func NewBuilder(source ReviewSource, cfg config.DisclosureConfig, logger *zap.Logger) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Default(),
	}, nil
}

// Classify returns the tier for a score.
func (b *Builder) Classify(score float64) Tier {
	switch {
	case score >= b.cfg.HighThreshold:
		return TierFull
	case score >= b.cfg.MediumThreshold:
		return TierDetail
	default:
		return TierCompact
	}
}

// Cost returns the approximate token cost of one entry at tier t.
func (b *Builder) Cost(t Tier) int {
	switch t {
	case TierFull:
		return b.cfg.FullCost
	case TierDetail:
		return b.cfg.DetailCost
	default:
		return b.cfg.CompactCost
	}
}

// fit returns the richest tier no richer than want whose cost fits remaining.
func (b *Builder) fit(want Tier, remaining int) (Tier, bool) {
	for t := want; t >= TierCompact; t-- {
		if b.Cost(t) <= remaining {
			return t, true
		}
	}
	return TierCompact, false
}

// Plan returns the tier each candidate renders at under budget, in order. A
// non-positive budget uses disclosure.max_tokens. An entry that does not fit
// at its tier gets the richest lower tier that does; the plan ends at the
// first candidate for which not even a compact entry fits.
func (b *Builder) Plan(candidates []search.Candidate, budget int) []Tier {
	if budget <= 0 {
		budget = b.cfg.MaxTokens
	}

	tiers := make([]Tier, 0, len(candidates))
	used := 0
	for _, c := range candidates {
		tier, ok := b.fit(b.Classify(c.Score), budget-used)
		if !ok {
			break
		}
		tiers = append(tiers, tier)
		used += b.Cost(tier)
	}
	return tiers
}

// Render renders candidates in the given order following Plan. Candidates
// past the end of the plan are dropped. No candidates renders "".
func (b *Builder) Render(ctx context.Context, candidates []search.Candidate, budget int) (string, error) {
	tiers := b.Plan(candidates, budget)
	if dropped := len(candidates) - len(tiers); dropped > 0 {
		b.logger.Debug("token budget exhausted",
			zap.Int("budget", budget),
			zap.Int("rendered", len(tiers)),
			zap.Int("dropped", dropped))
	}

	var sb strings.Builder
	prev := TierCompact
	for i, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text := b.renderEntry(tier, b.load(ctx, candidates[i]))
		if i > 0 {
			sb.WriteString("\n")
			if tier != TierCompact || prev != TierCompact {
				sb.WriteString("\n")
			}
		}
		sb.WriteString(text)

		prev = tier
		b.metrics.RenderedEntries.WithLabelValues(tier.String()).Inc()
	}
	return sb.String(), nil
}

// RenderStream parses "score|reviewId|project|files" records from r and
// renders them. Malformed records are skipped.
func (b *Builder) RenderStream(ctx context.Context, r io.Reader, budget int) (string, error) {
	candidates, skipped, err := ParseCandidates(r)
	if err != nil {
		return "", err
	}
	if skipped > 0 {
		b.logger.Warn("skipped malformed candidate records", zap.Int("count", skipped))
		b.metrics.MalformedRecords.Add(float64(skipped))
	}
	return b.Render(ctx, candidates, budget)
}

func (b *Builder) renderEntry(tier Tier, e entry) string {
	switch tier {
	case TierFull:
		text, truncated := renderFull(e, b.cfg.FullCost*charsPerToken)
		if truncated {
			b.metrics.RenderTruncated.Inc()
		}
		return text
	case TierDetail:
		return renderDetail(e)
	default:
		return renderCompact(e)
	}
}

// load fetches the stored review and insights. Lookup failures are logged
// and degrade the entry to the candidate record.
func (b *Builder) load(ctx context.Context, c search.Candidate) entry {
	e := entry{candidate: c}
	if b.source == nil {
		return e
	}

	review, err := b.source.GetReview(ctx, c.ReviewID)
	if err != nil {
		b.logger.Warn("failed to load review for context",
			zap.Int64("review_id", c.ReviewID), zap.Error(err))
		b.metrics.BestEffortErrors.WithLabelValues("render_review").Inc()
		return e
	}
	if review == nil {
		return e
	}
	e.review = review

	insights, err := b.source.InsightsForReview(ctx, c.ReviewID)
	if err != nil {
		b.logger.Warn("failed to load insights for context",
			zap.Int64("review_id", c.ReviewID), zap.Error(err))
		b.metrics.BestEffortErrors.WithLabelValues("render_insights").Inc()
		return e
	}
	e.insights = insights
	return e
}
