package storage

import (
	"context"
	"time"
)

// RecordRetrieval records a context retrieval for analytics.
func (s *SQLiteStorage) RecordRetrieval(ctx context.Context, record RetrievalRecord) error {
	if !s.ready() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO retrieval_history (retrieval_id, query_hash, timestamp, results_count)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.RetrievalID,
		record.QueryHash,
		formatTime(record.Timestamp),
		record.ResultsCount,
	)
	return storeErr("record retrieval", err)
}

// Stats returns row counts for status reporting.
func (s *SQLiteStorage) Stats(ctx context.Context) (*StoreStats, error) {
	if !s.ready() {
		return &StoreStats{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var st StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM reviews),
			(SELECT COUNT(*) FROM insights),
			(SELECT COUNT(*) FROM learning_sessions),
			(SELECT COUNT(*) FROM learning_sessions WHERE ended_at IS NULL),
			(SELECT COUNT(*) FROM associations WHERE context = 'review'),
			(SELECT COUNT(*) FROM associations WHERE context = 'session')
	`).Scan(
		&st.Reviews,
		&st.Insights,
		&st.Sessions,
		&st.ActiveSessions,
		&st.ReviewAssociations,
		&st.SessionAssociations,
	)
	if err != nil {
		return nil, storeErr("stats", err)
	}
	return &st, nil
}

// Cleanup removes ended sessions (with their concepts) and retrieval history
// older than retention. Associations are never touched here.
func (s *SQLiteStorage) Cleanup(ctx context.Context, retention time.Duration) error {
	if !s.ready() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-retention))

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM learning_sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, cutoff); err != nil {
		return storeErr("cleanup sessions", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM retrieval_history WHERE timestamp < ?`, cutoff); err != nil {
		return storeErr("cleanup retrieval history", err)
	}

	// Vacuum to reclaim space
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		s.logger.Sugar().Warnf("failed to vacuum database: %v", err)
	}

	return nil
}
