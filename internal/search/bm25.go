package search

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/storage"
)

// Search performs BM25 keyword search over indexed reviews. An empty
// project matches every project.
func (i *Indexer) Search(ctx context.Context, text, project string, limit int) ([]storage.ReviewHit, error) {
	if limit <= 0 {
		limit = 20
	}

	var q query.Query = bleve.NewMatchQuery(text)
	if project != "" {
		projectQuery := bleve.NewTermQuery(project)
		projectQuery.SetField("project")
		q = bleve.NewConjunctionQuery(q, projectQuery)
	}

	searchRequest := bleve.NewSearchRequestOptions(q, limit, 0, false)
	searchRequest.Fields = []string{"created_at"}

	i.mu.RLock()
	defer i.mu.RUnlock()

	results, err := i.bleveIndex.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}
	return i.convertBleveResults(results), nil
}

// convertBleveResults converts Bleve hits to review hits.
func (i *Indexer) convertBleveResults(results *bleve.SearchResult) []storage.ReviewHit {
	hits := make([]storage.ReviewHit, 0, len(results.Hits))

	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			i.logger.Warn("skipping index hit with bad id", zap.String("id", hit.ID))
			continue
		}

		var createdAt time.Time
		if raw, ok := hit.Fields["created_at"].(string); ok {
			createdAt, _ = time.Parse(time.RFC3339Nano, raw)
		}

		hits = append(hits, storage.ReviewHit{
			ReviewID:  id,
			Score:     hit.Score,
			CreatedAt: createdAt,
		})
	}
	return hits
}
