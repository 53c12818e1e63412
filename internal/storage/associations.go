package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpdateAssociation applies update to the canonical (pair, context) row and
// returns the stored weight.
//
// The read and the write happen in one transaction so each reinforcement is
// its own committed operation. The caller is responsible for rejecting
// self-pairs.
func (s *SQLiteStorage) UpdateAssociation(ctx context.Context, a, b, assocContext string, update WeightUpdate) (float64, error) {
	if !s.ready() {
		return 0, nil
	}
	a, b = CanonicalPair(a, b)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("update association", err)
	}
	defer tx.Rollback()

	var weight float64
	found := true
	err = tx.QueryRowContext(ctx, `
		SELECT weight FROM associations
		WHERE concept_a = ? AND concept_b = ? AND context = ?
	`, a, b, assocContext).Scan(&weight)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
		weight = 0
	} else if err != nil {
		return 0, storeErr("update association", err)
	}

	next := update(weight, found)
	now := formatTime(time.Now())

	if found {
		_, err = tx.ExecContext(ctx, `
			UPDATE associations SET weight = ?, updated_at = ?
			WHERE concept_a = ? AND concept_b = ? AND context = ?
		`, next, now, a, b, assocContext)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO associations (concept_a, concept_b, context, weight, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, a, b, assocContext, next, now, now)
	}
	if err != nil {
		return 0, storeErr("update association", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("update association", err)
	}
	return next, nil
}

// GetAssociation returns the canonical (pair, context) row, or nil.
func (s *SQLiteStorage) GetAssociation(ctx context.Context, a, b, assocContext string) (*Association, error) {
	if !s.ready() {
		return nil, nil
	}
	a, b = CanonicalPair(a, b)

	s.mu.Lock()
	defer s.mu.Unlock()

	assoc := Association{ConceptA: a, ConceptB: b, Context: assocContext}
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT weight, updated_at FROM associations
		WHERE concept_a = ? AND concept_b = ? AND context = ?
	`, a, b, assocContext).Scan(&assoc.Weight, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get association", err)
	}
	if assoc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, storeErr("get association", err)
	}
	return &assoc, nil
}

// Neighbors returns the associations touching concept with weight >=
// minWeight, strongest first. Ties order by neighbor key, then context.
func (s *SQLiteStorage) Neighbors(ctx context.Context, concept string, minWeight float64) ([]Neighbor, error) {
	if !s.ready() {
		return []Neighbor{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN concept_a = ? THEN concept_b ELSE concept_a END AS other,
		       context, weight
		FROM associations
		WHERE (concept_a = ? OR concept_b = ?) AND weight >= ?
		ORDER BY weight DESC, other ASC, context ASC
	`, concept, concept, concept, minWeight)
	if err != nil {
		return nil, storeErr("neighbors", err)
	}
	defer rows.Close()

	neighbors := []Neighbor{}
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.Concept, &n.Context, &n.Weight); err != nil {
			return nil, storeErr("neighbors", err)
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, storeErr("neighbors", rows.Err())
}

// Associations lists every association with weight >= minWeight, strongest
// first.
func (s *SQLiteStorage) Associations(ctx context.Context, minWeight float64) ([]Association, error) {
	if !s.ready() {
		return []Association{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT concept_a, concept_b, context, weight, updated_at
		FROM associations
		WHERE weight >= ?
		ORDER BY weight DESC, concept_a, concept_b, context
	`, minWeight)
	if err != nil {
		return nil, storeErr("associations", err)
	}
	defer rows.Close()

	out := []Association{}
	for rows.Next() {
		var a Association
		var updatedAt string
		if err := rows.Scan(&a.ConceptA, &a.ConceptB, &a.Context, &a.Weight, &updatedAt); err != nil {
			return nil, storeErr("associations", err)
		}
		if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, storeErr("associations", err)
		}
		out = append(out, a)
	}
	return out, storeErr("associations", rows.Err())
}

// DecayAssociations multiplies by factor the weight of every association not
// updated since cutoff. updated_at is left unchanged so decay is not mistaken
// for reinforcement.
func (s *SQLiteStorage) DecayAssociations(ctx context.Context, factor float64, cutoff time.Time) (int, error) {
	if !s.ready() {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE associations SET weight = weight * ? WHERE updated_at < ?`,
		factor, formatTime(cutoff))
	if err != nil {
		return 0, storeErr("decay associations", err)
	}
	n, err := res.RowsAffected()
	return int(n), storeErr("decay associations", err)
}

// PruneAssociations deletes every association whose weight is below the
// threshold.
func (s *SQLiteStorage) PruneAssociations(ctx context.Context, below float64) (int, error) {
	if !s.ready() {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM associations WHERE weight < ?`, below)
	if err != nil {
		return 0, storeErr("prune associations", err)
	}
	n, err := res.RowsAffected()
	return int(n), storeErr("prune associations", err)
}
