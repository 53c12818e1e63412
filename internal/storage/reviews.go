package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ready reports whether the database can be used.
func (s *SQLiteStorage) ready() bool {
	return s.enabled && s.db != nil
}

// UpsertReview stores a review keyed by its content hash.
//
// If an identical review is already stored its id is returned with created
// set to false and the stored row is left untouched.
func (s *SQLiteStorage) UpsertReview(ctx context.Context, review Review) (int64, bool, error) {
	if !s.ready() {
		return 0, false, storeErr("upsert review", ErrDisabled)
	}

	if review.ContentHash == "" {
		review.ContentHash = ContentHash(review.Diff, review.Files)
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM reviews WHERE content_hash = ?`, review.ContentHash,
	).Scan(&id)
	switch {
	case err == nil:
		return id, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, storeErr("upsert review", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (project, commit_hash, files, diff, result, status, provider, model, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		review.Project,
		review.Commit,
		joinList(review.Files),
		review.Diff,
		review.Result,
		review.Status,
		review.Provider,
		review.Model,
		review.ContentHash,
		formatTime(review.CreatedAt),
	)
	if err != nil {
		return 0, false, storeErr("upsert review", err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, storeErr("upsert review", err)
	}
	return id, true, nil
}

// GetReview returns a review by id, or nil if it does not exist.
func (s *SQLiteStorage) GetReview(ctx context.Context, id int64) (*Review, error) {
	if !s.ready() {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var r Review
	var files, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project, commit_hash, files, diff, result, status, provider, model, content_hash, created_at
		FROM reviews
		WHERE id = ?
	`, id).Scan(
		&r.ID,
		&r.Project,
		&r.Commit,
		&files,
		&r.Diff,
		&r.Result,
		&r.Status,
		&r.Provider,
		&r.Model,
		&r.ContentHash,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get review", err)
	}

	r.Files = splitList(files)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, storeErr("get review", fmt.Errorf("parse created_at: %w", err))
	}
	return &r, nil
}

// ListReviews returns up to limit reviews with id greater than afterID,
// oldest first.
func (s *SQLiteStorage) ListReviews(ctx context.Context, afterID int64, limit int) ([]Review, error) {
	if !s.ready() {
		return []Review{}, nil
	}
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, commit_hash, files, diff, result, status, provider, model, content_hash, created_at
		FROM reviews
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, storeErr("list reviews", err)
	}
	defer rows.Close()

	reviews := []Review{}
	for rows.Next() {
		var r Review
		var files, createdAt string
		if err := rows.Scan(&r.ID, &r.Project, &r.Commit, &files, &r.Diff, &r.Result,
			&r.Status, &r.Provider, &r.Model, &r.ContentHash, &createdAt); err != nil {
			return nil, storeErr("list reviews", err)
		}
		r.Files = splitList(files)
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storeErr("list reviews", fmt.Errorf("parse created_at: %w", err))
		}
		reviews = append(reviews, r)
	}
	return reviews, storeErr("list reviews", rows.Err())
}

// SearchReviews runs a full-text search over review files, diff and result.
// An empty project matches every project.
func (s *SQLiteStorage) SearchReviews(ctx context.Context, text, project string, limit int) ([]ReviewHit, error) {
	if !s.ready() {
		return []ReviewHit{}, nil
	}

	match := sanitizeFTS(text)
	if match == "" {
		return []ReviewHit{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT r.id, -bm25(reviews_fts) AS score, r.created_at
		FROM reviews_fts
		JOIN reviews r ON r.id = reviews_fts.rowid
		WHERE reviews_fts MATCH ?`
	args := []interface{}{match}
	if project != "" {
		query += ` AND r.project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY score DESC, r.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("search reviews", err)
	}
	defer rows.Close()

	hits := []ReviewHit{}
	for rows.Next() {
		var hit ReviewHit
		var createdAt string
		if err := rows.Scan(&hit.ReviewID, &hit.Score, &createdAt); err != nil {
			return nil, storeErr("search reviews", err)
		}
		if hit.CreatedAt, err = parseTime(createdAt); err != nil {
			s.logger.Sugar().Warnf("skipping review %d with bad timestamp: %v", hit.ReviewID, err)
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search reviews", err)
	}

	return hits, nil
}

// AddReviewConcepts records the derived concept set of a review.
// Concepts already recorded are ignored.
func (s *SQLiteStorage) AddReviewConcepts(ctx context.Context, reviewID int64, concepts []string) error {
	if !s.ready() || len(concepts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("add review concepts", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO review_concepts (review_id, concept) VALUES (?, ?)`)
	if err != nil {
		return storeErr("add review concepts", err)
	}
	defer stmt.Close()

	for _, c := range concepts {
		if _, err := stmt.ExecContext(ctx, reviewID, c); err != nil {
			return storeErr("add review concepts", err)
		}
	}

	return storeErr("add review concepts", tx.Commit())
}

// ReviewConcepts returns the concept set recorded for a review, sorted.
func (s *SQLiteStorage) ReviewConcepts(ctx context.Context, reviewID int64) ([]string, error) {
	if !s.ready() {
		return []string{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT concept FROM review_concepts WHERE review_id = ? ORDER BY concept`, reviewID)
	if err != nil {
		return nil, storeErr("review concepts", err)
	}
	defer rows.Close()

	concepts := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, storeErr("review concepts", err)
		}
		concepts = append(concepts, c)
	}
	return concepts, storeErr("review concepts", rows.Err())
}

// ReviewsForConcepts returns ids of reviews tagged with any of the concepts,
// most recent first.
func (s *SQLiteStorage) ReviewsForConcepts(ctx context.Context, concepts []string, project string, limit int) ([]int64, error) {
	if !s.ready() || len(concepts) == 0 {
		return []int64{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// placeholders only expands to "?,?,?": no user input reaches the SQL text.
	query := fmt.Sprintf(`
		SELECT DISTINCT rc.review_id
		FROM review_concepts rc
		JOIN reviews r ON r.id = rc.review_id
		WHERE rc.concept IN (%s)`, placeholders(len(concepts)))
	args := make([]interface{}, 0, len(concepts)+2)
	for _, c := range concepts {
		args = append(args, c)
	}
	if project != "" {
		query += ` AND r.project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY rc.review_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("reviews for concepts", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("reviews for concepts", err)
		}
		ids = append(ids, id)
	}
	return ids, storeErr("reviews for concepts", rows.Err())
}

// SaveInsight stores an insight for a review.
func (s *SQLiteStorage) SaveInsight(ctx context.Context, insight Insight) (int64, error) {
	if !s.ready() {
		return 0, storeErr("save insight", ErrDisabled)
	}
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO insights (review_id, type, severity, files, description, what, why, learned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		insight.ReviewID,
		insight.Type,
		insight.Severity,
		joinList(insight.Files),
		insight.Description,
		insight.What,
		insight.Why,
		insight.Learned,
		formatTime(insight.CreatedAt),
	)
	if err != nil {
		return 0, storeErr("save insight", err)
	}

	id, err := res.LastInsertId()
	return id, storeErr("save insight", err)
}

// InsightsForReview returns the insights recorded for a review, oldest first.
func (s *SQLiteStorage) InsightsForReview(ctx context.Context, reviewID int64) ([]Insight, error) {
	if !s.ready() {
		return []Insight{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, type, severity, files, description, what, why, learned, created_at
		FROM insights
		WHERE review_id = ?
		ORDER BY id
	`, reviewID)
	if err != nil {
		return nil, storeErr("insights for review", err)
	}
	defer rows.Close()

	insights := []Insight{}
	for rows.Next() {
		var in Insight
		var files, createdAt string
		if err := rows.Scan(
			&in.ID,
			&in.ReviewID,
			&in.Type,
			&in.Severity,
			&files,
			&in.Description,
			&in.What,
			&in.Why,
			&in.Learned,
			&createdAt,
		); err != nil {
			return nil, storeErr("insights for review", err)
		}
		in.Files = splitList(files)
		if in.CreatedAt, err = parseTime(createdAt); err != nil {
			s.logger.Sugar().Warnf("insight %d has bad timestamp: %v", in.ID, err)
		}
		insights = append(insights, in)
	}
	return insights, storeErr("insights for review", rows.Err())
}
