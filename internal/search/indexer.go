package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/storage"
)

const (
	// syncPageSize is the number of reviews indexed per batch during Sync.
	syncPageSize = 200

	// lastIndexedKey stores the highest review id already indexed.
	lastIndexedKey = "last_review_id"
)

// Indexer keeps a bleve index of stored reviews. It is the alternative
// lexical backend to the store's FTS5 table.
type Indexer struct {
	bleveIndex bleve.Index
	mu         sync.RWMutex
	indexPath  string
	logger     *zap.Logger
}

// NewIndexer creates a new indexer with an in-memory Bleve index.
func NewIndexer(logger *zap.Logger) (*Indexer, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}

	return &Indexer{
		bleveIndex: index,
		logger:     nopIfNil(logger),
	}, nil
}

// NewIndexerWithPath creates a new indexer with persistent disk storage.
func NewIndexerWithPath(indexPath string, logger *zap.Logger) (*Indexer, error) {
	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	// Open or create index with Scorch backend
	index, err := bleve.NewUsing(indexPath, buildIndexMapping(), scorch.Name, scorch.Name, nil)
	if err != nil {
		index, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open/create index: %w", err)
		}
	}

	return &Indexer{
		bleveIndex: index,
		indexPath:  indexPath,
		logger:     nopIfNil(logger),
	}, nil
}

// buildIndexMapping creates the Bleve index mapping for review documents.
func buildIndexMapping() mapping.IndexMapping {
	reviewMapping := bleve.NewDocumentMapping()

	reviewMapping.AddFieldMappingsAt("files", bleve.NewTextFieldMapping())
	reviewMapping.AddFieldMappingsAt("diff", bleve.NewTextFieldMapping())
	reviewMapping.AddFieldMappingsAt("result", bleve.NewTextFieldMapping())

	// Project: exact-match filter only
	projectMapping := bleve.NewTextFieldMapping()
	projectMapping.Analyzer = keyword.Name
	projectMapping.IncludeInAll = false
	reviewMapping.AddFieldMappingsAt("project", projectMapping)

	// CreatedAt: stored for recency, not searchable
	createdMapping := bleve.NewTextFieldMapping()
	createdMapping.Index = false
	createdMapping.IncludeInAll = false
	reviewMapping.AddFieldMappingsAt("created_at", createdMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", reviewMapping)
	return indexMapping
}

func reviewDocument(r storage.Review) map[string]interface{} {
	return map[string]interface{}{
		"files":      strings.Join(r.Files, " "),
		"diff":       r.Diff,
		"result":     r.Result,
		"project":    r.Project,
		"created_at": r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// IndexReviews indexes reviews in one batch.
func (i *Indexer) IndexReviews(reviews []storage.Review) error {
	if len(reviews) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.bleveIndex.NewBatch()
	var last int64
	for _, r := range reviews {
		docID := strconv.FormatInt(r.ID, 10)
		if err := batch.Index(docID, reviewDocument(r)); err != nil {
			i.logger.Warn("failed to index review", zap.Int64("review_id", r.ID), zap.Error(err))
			continue
		}
		if r.ID > last {
			last = r.ID
		}
	}

	if err := i.bleveIndex.Batch(batch); err != nil {
		return fmt.Errorf("failed to batch index reviews: %w", err)
	}
	return i.advanceLastIndexed(last)
}

// RemoveReview deletes a review from the index.
func (i *Indexer) RemoveReview(id int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.bleveIndex.Delete(strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("failed to delete review %d: %w", id, err)
	}
	return nil
}

// Sync indexes every stored review newer than the last one indexed and
// returns how many were added.
func (i *Indexer) Sync(ctx context.Context, store storage.Storage) (int, error) {
	after, err := i.LastIndexed()
	if err != nil {
		return 0, err
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		page, err := store.ListReviews(ctx, after, syncPageSize)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			return total, nil
		}
		if err := i.IndexReviews(page); err != nil {
			return total, err
		}
		total += len(page)
		after = page[len(page)-1].ID
	}
}

// LastIndexed returns the highest review id indexed so far.
func (i *Indexer) LastIndexed() (int64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	raw, err := i.bleveIndex.GetInternal([]byte(lastIndexedKey))
	if err != nil {
		return 0, fmt.Errorf("failed to read index state: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// advanceLastIndexed must be called with the write lock held.
func (i *Indexer) advanceLastIndexed(id int64) error {
	raw, err := i.bleveIndex.GetInternal([]byte(lastIndexedKey))
	if err != nil {
		return fmt.Errorf("failed to read index state: %w", err)
	}
	if len(raw) > 0 {
		if cur, err := strconv.ParseInt(string(raw), 10, 64); err == nil && cur >= id {
			return nil
		}
	}
	return i.bleveIndex.SetInternal([]byte(lastIndexedKey), []byte(strconv.FormatInt(id, 10)))
}

// Count returns the total number of indexed reviews.
func (i *Indexer) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	docCount, err := i.bleveIndex.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get doc count: %w", err)
	}
	return docCount, nil
}

// Close closes the index and releases resources.
func (i *Indexer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.bleveIndex != nil {
		return i.bleveIndex.Close()
	}
	return nil
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
