package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	s := storage.NewStorage(filepath.Join(t.TempDir(), "engine.db"), zaptest.NewLogger(t))
	require.NoError(t, s.Init())
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, store storage.Storage, mutate ...func(*config.Config)) *Engine {
	t.Helper()

	cfg := config.NewConfig()
	for _, m := range mutate {
		m(cfg)
	}
	e, err := New(cfg, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

var authReview = LearnRequest{
	Project: "web",
	Commit:  "abc123",
	Files:   []string{"src/auth.ts"},
	Diff:    "+ const claims = jwt.decode(token)",
	Result:  "Token expiry is never checked, a security hole.\nWhat: exp claim ignored\nWhy: stolen tokens stay valid",
	Status:  "changes_requested",
}

func TestLearn_StoresAndClassifies(t *testing.T) {
	store := newTestStore(t)
	e := newTestEngine(t, store)
	ctx := context.Background()

	resp, err := e.Learn(ctx, nil, authReview)
	require.NoError(t, err)
	assert.True(t, resp.Created)
	assert.NotZero(t, resp.ReviewID)

	require.NotNil(t, resp.Insight)
	assert.Equal(t, "security", resp.Insight.Type)
	assert.Equal(t, "high", resp.Insight.Severity)
	assert.Equal(t, "exp claim ignored", resp.Insight.What)

	assert.Contains(t, resp.Concepts, "file:src/auth.ts")
	assert.Contains(t, resp.Concepts, "pattern:security")
	assert.Contains(t, resp.Concepts, "severity:high")
	n := len(resp.Concepts)
	assert.Equal(t, n*(n-1)/2, resp.Pairs)
	assert.Zero(t, resp.AddedToSession)

	insights, err := store.InsightsForReview(ctx, resp.ReviewID)
	require.NoError(t, err)
	require.Len(t, insights, 1)

	concepts, err := store.ReviewConcepts(ctx, resp.ReviewID)
	require.NoError(t, err)
	assert.ElementsMatch(t, resp.Concepts, concepts)

	strength, err := e.Memory().Strength(ctx, "file:src/auth.ts", "pattern:security")
	require.NoError(t, err)
	assert.Greater(t, strength, 0.0)
}

func TestLearn_DuplicateReview(t *testing.T) {
	store := newTestStore(t)
	e := newTestEngine(t, store)
	ctx := context.Background()

	first, err := e.Learn(ctx, nil, authReview)
	require.NoError(t, err)
	second, err := e.Learn(ctx, nil, authReview)
	require.NoError(t, err)

	assert.Equal(t, first.ReviewID, second.ReviewID)
	assert.False(t, second.Created)

	insights, err := store.InsightsForReview(ctx, first.ReviewID)
	require.NoError(t, err)
	assert.Len(t, insights, 1)
}

func TestLearn_WithSession(t *testing.T) {
	store := newTestStore(t)
	e := newTestEngine(t, store)
	ctx := context.Background()

	s, err := e.StartSession(ctx, "run-1", "web", "abc123")
	require.NoError(t, err)
	require.NotNil(t, s)

	resp, err := e.Learn(ctx, s, authReview)
	require.NoError(t, err)
	assert.Equal(t, len(resp.Concepts), resp.AddedToSession)

	resumed, err := e.Session(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, s.ID, resumed.ID)

	pairs, err := e.Tracker().EndSession(ctx, resumed)
	require.NoError(t, err)
	n := len(resp.Concepts)
	assert.Equal(t, n*(n-1)/2, pairs)

	assoc, err := store.GetAssociation(ctx, "file:src/auth.ts", "pattern:security", storage.ContextSession)
	require.NoError(t, err)
	assert.NotNil(t, assoc)

	none, err := e.Session(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestLearn_LearningDisabled(t *testing.T) {
	store := newTestStore(t)
	e := newTestEngine(t, store, func(c *config.Config) { c.Learning.Enabled = false })
	ctx := context.Background()

	resp, err := e.Learn(ctx, nil, authReview)
	require.NoError(t, err)
	assert.True(t, resp.Created)
	assert.Zero(t, resp.Pairs)

	assocs, err := store.Associations(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, assocs)

	// Retrieval still works from stored concepts.
	out, err := e.Context(ctx, ContextRequest{Files: []string{"src/auth.ts"}})
	require.NoError(t, err)
	require.Len(t, out.Candidates, 1)
}

func TestContext_RendersPastReview(t *testing.T) {
	store := newTestStore(t)
	e := newTestEngine(t, store)
	ctx := context.Background()

	learned, err := e.Learn(ctx, nil, authReview)
	require.NoError(t, err)
	_, err = e.Learn(ctx, nil, LearnRequest{
		Project: "web", Files: []string{"docs/readme.md"}, Diff: "typo", Result: "Fix the typo in the heading.", Status: "approved",
	})
	require.NoError(t, err)

	resp, err := e.Context(ctx, ContextRequest{Files: []string{"src/auth.ts"}, Project: "web"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Candidates)
	assert.Equal(t, learned.ReviewID, resp.Candidates[0].ReviewID)
	assert.Contains(t, resp.Concepts, "file:src/auth.ts")
	assert.Contains(t, resp.Text, "[detailed]")
	assert.Contains(t, resp.Text, "security/high")
	assert.Contains(t, resp.Text, "What: exp claim ignored")
}

func TestContext_EmptyMemory(t *testing.T) {
	e := newTestEngine(t, newTestStore(t))

	resp, err := e.Context(context.Background(), ContextRequest{Files: []string{"main.go"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Candidates)
	assert.Equal(t, "", resp.Text)
}

// brokenStore fails review writes and full-text search.
type brokenStore struct {
	storage.Storage
}

var errBroken = errors.New("database is locked")

func (brokenStore) UpsertReview(context.Context, storage.Review) (int64, bool, error) {
	return 0, false, &storage.StoreError{Op: "upsert review", Err: errBroken}
}

func (brokenStore) SearchReviews(context.Context, string, string, int) ([]storage.ReviewHit, error) {
	return nil, &storage.StoreError{Op: "search reviews", Err: errBroken}
}

func TestBestEffort_StoreFailures(t *testing.T) {
	e := newTestEngine(t, brokenStore{Storage: newTestStore(t)})
	ctx := context.Background()

	resp, err := e.Learn(ctx, nil, authReview)
	require.NoError(t, err)
	assert.Zero(t, resp.ReviewID)
	assert.NotEmpty(t, resp.Concepts)

	out, err := e.Context(ctx, ContextRequest{Files: []string{"src/auth.ts"}})
	require.NoError(t, err)
	assert.Empty(t, out.Candidates)
	assert.Equal(t, "", out.Text)
}

func TestOpen_BleveBackend(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Retrieval.LexicalBackend = config.BackendBleve
	ctx := context.Background()

	e, err := Open(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, e.indexer)

	learned, err := e.Learn(ctx, nil, authReview)
	require.NoError(t, err)

	resp, err := e.Context(ctx, ContextRequest{Text: "token expiry"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Candidates)
	assert.Equal(t, learned.ReviewID, resp.Candidates[0].ReviewID)
	require.NoError(t, e.Close())

	// Reopening finds the index already in sync.
	e, err = Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer e.Close()
	last, err := e.indexer.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, learned.ReviewID, last)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Disclosure.HighThreshold = 0.2

	_, err := New(cfg, newTestStore(t), nil)
	assert.True(t, config.IsConfigError(err))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a.go", "b/c.go", "d.go"}, SplitList(" a.go, b/c.go\nd.go,, "))
	assert.Empty(t, SplitList(""))
}
