package learning

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/storage"
)

func newTestTracker(t *testing.T, mutate ...func(*config.LearningConfig)) (*Tracker, *storage.SQLiteStorage) {
	t.Helper()

	cfg := config.NewConfig().Learning
	for _, m := range mutate {
		m(&cfg)
	}

	store := newTestStore(t)
	tracker, err := NewTracker(store, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return tracker, store
}

func countAssociations(t *testing.T, store storage.Storage) (review, session int) {
	t.Helper()
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	return stats.ReviewAssociations, stats.SessionAssociations
}

func TestNewTracker_Validation(t *testing.T) {
	store := newTestStore(t)

	cfg := config.NewConfig().Learning
	cfg.SessionBoost = 0.5
	_, err := NewTracker(store, cfg, nil)
	assert.True(t, config.IsConfigError(err))

	cfg = config.NewConfig().Learning
	cfg.IgnoreFiles = []string{"["}
	_, err = NewTracker(store, cfg, nil)
	assert.True(t, config.IsConfigError(err))
}

func TestScenarioA_SessionPairs(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	s, err := tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)
	require.True(t, s.Active())

	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"pattern:security", "pattern:authentication", "file:auth.ts"}))

	pairs, err := tracker.EndSession(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 3, pairs)
	assert.False(t, s.Active())

	review, session := countAssociations(t, store)
	assert.Zero(t, review)
	assert.Equal(t, 3, session)

	// Ending again is a no-op.
	pairs, err = tracker.EndSession(ctx, s)
	require.NoError(t, err)
	assert.Zero(t, pairs)

	ls, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ls.Active())
}

func TestEndSession_PairCount(t *testing.T) {
	for n := 0; n <= 7; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			tracker, store := newTestTracker(t)
			ctx := context.Background()

			s, err := tracker.StartSession(ctx, "ref", "p", "")
			require.NoError(t, err)

			concepts := make([]string, n)
			for i := range concepts {
				concepts[i] = fmt.Sprintf("term:c%d", i)
			}
			require.NoError(t, tracker.AddConcepts(ctx, s, concepts))

			pairs, err := tracker.EndSession(ctx, s)
			require.NoError(t, err)

			want := n * (n - 1) / 2
			assert.Equal(t, want, pairs)
			_, session := countAssociations(t, store)
			assert.Equal(t, want, session)
		})
	}
}

func TestAddConcepts_Deduplicates(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	s, err := tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)

	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"file:auth.ts", "file:auth.ts"}))
	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"file:auth.ts", " file:auth.ts "}))

	n, err := store.CountSessionConcepts(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pairs, err := tracker.EndSession(ctx, s)
	require.NoError(t, err)
	assert.Zero(t, pairs)
}

func TestAddConcepts_CapKeepsEarliest(t *testing.T) {
	tracker, store := newTestTracker(t, func(c *config.LearningConfig) { c.MaxSessionConcepts = 3 })
	ctx := context.Background()

	s, err := tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)

	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"a", "b"}))
	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"c", "d", "e"}))

	concepts, err := store.SessionConcepts(ctx, s.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"term:a", "term:b", "term:c"}, concepts)

	pairs, err := tracker.EndSession(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 3, pairs)
}

func TestAddConcepts_CapCountsOnlyNewConcepts(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := config.NewConfig().Learning
	cfg.MaxSessionConcepts = 2
	tracker, err := NewTracker(newTestStore(t), cfg, zap.New(core))
	require.NoError(t, err)
	ctx := context.Background()

	s, err := tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)
	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"a", "b"}))

	capLogs := func() *observer.ObservedLogs {
		return logs.FilterMessage("session concept cap reached")
	}

	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"a", "b"}))
	assert.Zero(t, capLogs().Len())

	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"b", "c", "d"}))
	entries := capLogs().All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["dropped"])
}

func TestStartSession_EmptyRef(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	s, err := tracker.StartSession(ctx, "  ", "p", "c")
	assert.Nil(t, s)

	var ce *config.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "session_ref", ce.Field)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Sessions)
}

func TestStartSession_EndsStaleSession(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := newTestStore(t)
	tracker, err := NewTracker(store, config.NewConfig().Learning, zap.New(core))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)
	require.NoError(t, tracker.AddConcepts(ctx, first, []string{"a", "b", "c"}))

	// A second process would not hold the first handle.
	second, err := tracker.StartSession(ctx, "s2", "p", "c")
	require.NoError(t, err)
	require.NotNil(t, second)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 3, stats.SessionAssociations)
	assert.Equal(t, 1, logs.FilterMessage("ending stale active session").Len())

	active, err := tracker.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestResumeSession(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	s, err := tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)

	resumed, err := tracker.ResumeSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, "s1", resumed.Ref)
	require.NoError(t, tracker.AddConcepts(ctx, resumed, []string{"a", "b"}))

	pairs, err := tracker.EndSession(ctx, resumed)
	require.NoError(t, err)
	assert.Equal(t, 1, pairs)

	gone, err := tracker.ResumeSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	unknown, err := tracker.ResumeSession(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestLearnFromReview_ReviewAndSessionContexts(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	s, err := tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)

	res, err := tracker.LearnFromReview(ctx, s, ReviewInput{
		Files:    []string{"auth.ts", "yarn.lock"},
		Insights: []storage.Insight{{Type: "security", Severity: "high"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"file:auth.ts", "pattern:security", "severity:high"}, res.Concepts)
	assert.Equal(t, 3, res.Pairs)
	assert.Equal(t, 3, res.AddedToSession)

	pairs, err := tracker.EndSession(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 3, pairs)

	review := weightOf(t, store, "file:auth.ts", "pattern:security", storage.ContextReview)
	session := weightOf(t, store, "file:auth.ts", "pattern:security", storage.ContextSession)
	assert.InDelta(t, 0.1, review, 1e-9)
	assert.InDelta(t, 0.1, session, 1e-9)

	neighbors, err := tracker.Memory().Query(ctx, "file:auth.ts", 0)
	require.NoError(t, err)
	assert.Len(t, neighbors, 4)
}

func TestLearnFromReview_WithoutSession(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	res, err := tracker.LearnFromReview(ctx, nil, ReviewInput{
		Files:       []string{"a.go", "b.go"},
		ConceptText: "token refresh",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"file:a.go", "file:b.go", "term:token", "term:refresh"}, res.Concepts)
	assert.Equal(t, 6, res.Pairs)
	assert.Zero(t, res.AddedToSession)

	review, session := countAssociations(t, store)
	assert.Equal(t, 6, review)
	assert.Zero(t, session)
}

func TestDisabledLearning_IsNoop(t *testing.T) {
	tracker, store := newTestTracker(t, func(c *config.LearningConfig) { c.Enabled = false })
	ctx := context.Background()

	s, err := tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"a", "b"}))

	pairs, err := tracker.EndSession(ctx, s)
	require.NoError(t, err)
	assert.Zero(t, pairs)

	res, err := tracker.LearnFromReview(ctx, s, ReviewInput{Files: []string{"a.go", "b.go"}})
	require.NoError(t, err)
	assert.Empty(t, res.Concepts)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.StoreStats{}, *stats)

	// Empty refs are rejected even when disabled.
	_, err = tracker.StartSession(ctx, "", "p", "c")
	assert.True(t, config.IsConfigError(err))

	tracker.Enable()
	s, err = tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestNilHandle_IsNoop(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.AddConcepts(ctx, nil, []string{"a", "b"}))
	pairs, err := tracker.EndSession(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, pairs)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Sessions)
}

func TestSessionStats(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	s1, err := tracker.StartSession(ctx, "first", "p", "c")
	require.NoError(t, err)
	require.NoError(t, tracker.AddConcepts(ctx, s1, []string{"a", "b"}))
	_, err = tracker.EndSession(ctx, s1)
	require.NoError(t, err)

	s2, err := tracker.StartSession(ctx, "second", "q", "c")
	require.NoError(t, err)
	require.NoError(t, tracker.AddConcepts(ctx, s2, []string{"x"}))

	stats, err := tracker.SessionStats(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "second", stats[0].SessionRef)
	assert.Equal(t, "q", stats[0].Project)
	assert.Equal(t, 1, stats[0].ConceptCount)
	assert.Nil(t, stats[0].EndedAt)
	assert.Equal(t, "first", stats[1].SessionRef)
	assert.Equal(t, 2, stats[1].ConceptCount)
	assert.NotNil(t, stats[1].EndedAt)
}

func TestEndSession_FailureKeepsSessionActive(t *testing.T) {
	store := newTestStore(t)
	fs := &failingStore{Storage: store, n: 1}
	tracker, err := NewTracker(fs, config.NewConfig().Learning, nil)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := tracker.StartSession(ctx, "s1", "p", "c")
	require.NoError(t, err)
	require.NoError(t, tracker.AddConcepts(ctx, s, []string{"a", "b", "c"}))

	pairs, err := tracker.EndSession(ctx, s)
	assert.Equal(t, 1, pairs)
	assert.True(t, storage.IsStoreError(err))
	assert.True(t, s.Active())

	ls, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ls.Active())
}
