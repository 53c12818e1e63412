package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/khanglvm/review-memory/internal/storage"
)

func sampleReviews() []storage.Review {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []storage.Review{
		{ID: 1, Project: "web", Files: []string{"auth.ts"}, Diff: "check jwt token", Result: "token expiry not validated", CreatedAt: created},
		{ID: 2, Project: "web", Files: []string{"screenshot.ts"}, Diff: "capture page", Result: "take screenshot on failure", CreatedAt: created},
		{ID: 3, Project: "api", Files: []string{"auth.go"}, Diff: "token refresh", Result: "refresh token reuse", CreatedAt: created},
	}
}

func TestNewIndexer(t *testing.T) {
	indexer, err := NewIndexer(nil)
	require.NoError(t, err)
	defer indexer.Close()

	count, err := indexer.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndexer_Search(t *testing.T) {
	indexer, err := NewIndexer(zaptest.NewLogger(t))
	require.NoError(t, err)
	defer indexer.Close()

	require.NoError(t, indexer.IndexReviews(sampleReviews()))

	count, err := indexer.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	ctx := context.Background()
	hits, err := indexer.Search(ctx, "screenshot", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].ReviewID)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.Equal(t, sampleReviews()[1].CreatedAt, hits[0].CreatedAt)

	hits, err = indexer.Search(ctx, "token", "", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = indexer.Search(ctx, "token", "api", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(3), hits[0].ReviewID)

	hits, err = indexer.Search(ctx, "nonexistent_term_xyz", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexer_RemoveReview(t *testing.T) {
	indexer, err := NewIndexer(nil)
	require.NoError(t, err)
	defer indexer.Close()

	require.NoError(t, indexer.IndexReviews(sampleReviews()))
	require.NoError(t, indexer.RemoveReview(2))

	hits, err := indexer.Search(context.Background(), "screenshot", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexer_SyncIsIncremental(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, r := range sampleReviews()[:2] {
		r.ID = 0
		_, _, err := store.UpsertReview(ctx, r)
		require.NoError(t, err)
	}

	indexer, err := NewIndexer(nil)
	require.NoError(t, err)
	defer indexer.Close()

	n, err := indexer.Sync(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	third := sampleReviews()[2]
	third.ID = 0
	thirdID, _, err := store.UpsertReview(ctx, third)
	require.NoError(t, err)

	n, err = indexer.Sync(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	last, err := indexer.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, thirdID, last)

	n, err = indexer.Sync(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexer_Persistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "reviews.bleve")

	indexer, err := NewIndexerWithPath(path, nil)
	require.NoError(t, err)
	require.NoError(t, indexer.IndexReviews(sampleReviews()))
	require.NoError(t, indexer.Close())

	reopened, err := NewIndexerWithPath(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	last, err := reopened.LastIndexed()
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}
