package search

import (
	"context"

	"github.com/khanglvm/review-memory/internal/storage"
)

// LexicalSearcher returns reviews matching free text, best first. Higher
// scores are more relevant; scales differ between backends.
type LexicalSearcher interface {
	Search(ctx context.Context, text, project string, limit int) ([]storage.ReviewHit, error)
}

// StoreSearcher searches through the store's FTS5 index.
type StoreSearcher struct {
	Store storage.Storage
}

// Search implements LexicalSearcher.
func (s StoreSearcher) Search(ctx context.Context, text, project string, limit int) ([]storage.ReviewHit, error) {
	return s.Store.SearchReviews(ctx, text, project, limit)
}
