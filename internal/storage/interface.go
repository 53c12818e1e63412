/*
Package storage implements the persistent store behind the review memory.

This package provides SQLite-based storage for reviews (with FTS5 full-text
search), classified insights, learning sessions, session concepts and the
weighted concept associations, with graceful degradation if the database is
unavailable.

The database is stored at ~/.review-memory/history.db by default and uses
modernc.org/sqlite (a pure Go, CGo-free implementation).
*/
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Storage defines the interface for persistent storage operations.
type Storage interface {
	// Init initializes the database and runs migrations.
	Init() error

	// UpsertReview stores a review, returning the existing id when a review
	// with the same content hash is already stored.
	UpsertReview(ctx context.Context, review Review) (id int64, created bool, err error)

	// GetReview returns a review by id, or nil if it does not exist.
	GetReview(ctx context.Context, id int64) (*Review, error)

	// ListReviews pages through reviews by ascending id.
	ListReviews(ctx context.Context, afterID int64, limit int) ([]Review, error)

	// SearchReviews runs a full-text search over review files, diff and result.
	SearchReviews(ctx context.Context, text, project string, limit int) ([]ReviewHit, error)

	// SaveInsight stores an insight for a review.
	SaveInsight(ctx context.Context, insight Insight) (int64, error)

	// InsightsForReview returns the insights recorded for a review.
	InsightsForReview(ctx context.Context, reviewID int64) ([]Insight, error)

	// AddReviewConcepts records the derived concept set of a review.
	AddReviewConcepts(ctx context.Context, reviewID int64, concepts []string) error

	// ReviewConcepts returns the concept set recorded for a review.
	ReviewConcepts(ctx context.Context, reviewID int64) ([]string, error)

	// ReviewsForConcepts returns ids of reviews tagged with any of the concepts.
	ReviewsForConcepts(ctx context.Context, concepts []string, project string, limit int) ([]int64, error)

	// CreateSession inserts a new active learning session.
	CreateSession(ctx context.Context, session LearningSession) (int64, error)

	// GetSession returns a learning session by id, or nil if it does not exist.
	GetSession(ctx context.Context, id int64) (*LearningSession, error)

	// ActiveSession returns the most recent session without ended_at, or nil.
	ActiveSession(ctx context.Context) (*LearningSession, error)

	// EndSession stamps ended_at on a session.
	EndSession(ctx context.Context, id int64, endedAt time.Time) error

	// AddSessionConcept records a concept for a session. It reports false
	// when the concept was already recorded.
	AddSessionConcept(ctx context.Context, sessionID int64, concept string, seenAt time.Time) (bool, error)

	// SessionConcepts returns up to limit distinct concepts, earliest first.
	SessionConcepts(ctx context.Context, sessionID int64, limit int) ([]string, error)

	// CountSessionConcepts returns the number of distinct concepts in a session.
	CountSessionConcepts(ctx context.Context, sessionID int64) (int, error)

	// SessionStats reports session history, most recent first.
	SessionStats(ctx context.Context, limit int) ([]SessionStat, error)

	// UpdateAssociation applies update to the canonical (pair, context) row
	// in a single committed transaction and returns the stored weight.
	UpdateAssociation(ctx context.Context, a, b, assocContext string, update WeightUpdate) (float64, error)

	// GetAssociation returns the canonical (pair, context) row, or nil.
	GetAssociation(ctx context.Context, a, b, assocContext string) (*Association, error)

	// Neighbors returns associations touching concept with weight >= minWeight.
	Neighbors(ctx context.Context, concept string, minWeight float64) ([]Neighbor, error)

	// Associations lists every association with weight >= minWeight.
	Associations(ctx context.Context, minWeight float64) ([]Association, error)

	// DecayAssociations multiplies weights not updated since cutoff.
	DecayAssociations(ctx context.Context, factor float64, cutoff time.Time) (int, error)

	// PruneAssociations deletes associations with weight below threshold.
	PruneAssociations(ctx context.Context, below float64) (int, error)

	// RecordRetrieval records a retrieval for analytics.
	RecordRetrieval(ctx context.Context, record RetrievalRecord) error

	// Stats returns row counts for status reporting.
	Stats(ctx context.Context) (*StoreStats, error)

	// Cleanup removes ended sessions and retrieval history older than retention.
	Cleanup(ctx context.Context, retention time.Duration) error

	// Close closes the database connection.
	Close() error
}

// WeightUpdate computes the new weight of an association. found reports
// whether the row existed; weight is zero when it did not.
type WeightUpdate func(weight float64, found bool) float64

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db       *sql.DB
	dbPath   string
	enabled  bool
	logger   *zap.Logger
	mu       sync.Mutex
	initOnce sync.Once
}

// DefaultDBPath returns ~/.review-memory/history.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".review-memory", "history.db"), nil
}

// NewStorage creates a new SQLite storage instance at dbPath.
//
// An empty dbPath selects DefaultDBPath. If the path cannot be resolved the
// storage is disabled but operations will not fail.
func NewStorage(dbPath string, logger *zap.Logger) *SQLiteStorage {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dbPath == "" {
		p, err := DefaultDBPath()
		if err != nil {
			logger.Warn("storage disabled", zap.Error(err))
			return &SQLiteStorage{enabled: false, logger: logger}
		}
		dbPath = p
	}

	return &SQLiteStorage{
		dbPath:  dbPath,
		enabled: true,
		logger:  logger,
	}
}

// Init initializes the database and runs migrations.
//
// If initialization fails, storage is disabled and subsequent operations
// become no-ops (graceful degradation).
func (s *SQLiteStorage) Init() error {
	if !s.enabled {
		return nil
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	var initErr error
	s.initOnce.Do(func() {
		dbDir := filepath.Dir(s.dbPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			initErr = fmt.Errorf("failed to create db directory: %w", err)
			s.enabled = false
			s.logger.Warn("storage disabled", zap.Error(initErr))
			return
		}

		dsn := s.dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			initErr = fmt.Errorf("failed to open database: %w", err)
			s.enabled = false
			s.logger.Warn("storage disabled", zap.Error(initErr))
			return
		}
		// A single connection keeps transactions and pragmas on one handle.
		db.SetMaxOpenConns(1)
		s.db = db

		if err := db.Ping(); err != nil {
			initErr = fmt.Errorf("failed to ping database: %w", err)
			s.enabled = false
			s.logger.Warn("storage disabled", zap.Error(initErr))
			return
		}

		if err := s.runMigrations(); err != nil {
			initErr = fmt.Errorf("failed to run migrations: %w", err)
			s.enabled = false
			s.logger.Warn("storage disabled", zap.Error(initErr))
			return
		}
	})

	return initErr
}

// Enabled reports whether the storage is usable.
func (s *SQLiteStorage) Enabled() bool {
	return s.enabled && s.db != nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if !s.enabled || s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.db = nil
	return nil
}

// HashQuery creates a SHA256 hash of a query string for privacy.
func HashQuery(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:])
}

// ContentHash returns the dedup hash of a review: its diff plus its files.
func ContentHash(diff string, files []string) string {
	h := sha256.New()
	h.Write([]byte(diff))
	for _, f := range files {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
