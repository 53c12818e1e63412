package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CreateSession inserts a new active learning session.
func (s *SQLiteStorage) CreateSession(ctx context.Context, session LearningSession) (int64, error) {
	if !s.ready() {
		return 0, storeErr("create session", ErrDisabled)
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_sessions (session_ref, project, commit_hash, started_at)
		VALUES (?, ?, ?, ?)
	`,
		session.SessionRef,
		session.Project,
		session.Commit,
		formatTime(session.StartedAt),
	)
	if err != nil {
		return 0, storeErr("create session", err)
	}

	id, err := res.LastInsertId()
	return id, storeErr("create session", err)
}

// GetSession returns a learning session by id, or nil if it does not exist.
func (s *SQLiteStorage) GetSession(ctx context.Context, id int64) (*LearningSession, error) {
	if !s.ready() {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_ref, project, commit_hash, started_at, ended_at
		FROM learning_sessions
		WHERE id = ?
	`, id)
	return scanSession(row, "get session")
}

// ActiveSession returns the most recently started session that has not
// ended, or nil.
func (s *SQLiteStorage) ActiveSession(ctx context.Context) (*LearningSession, error) {
	if !s.ready() {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_ref, project, commit_hash, started_at, ended_at
		FROM learning_sessions
		WHERE ended_at IS NULL
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`)
	return scanSession(row, "active session")
}

func scanSession(row *sql.Row, op string) (*LearningSession, error) {
	var ls LearningSession
	var startedAt string
	var endedAt sql.NullString
	err := row.Scan(&ls.ID, &ls.SessionRef, &ls.Project, &ls.Commit, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(op, err)
	}

	if ls.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, storeErr(op, err)
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, storeErr(op, err)
		}
		ls.EndedAt = &t
	}
	return &ls, nil
}

// EndSession stamps ended_at on a session that is still active.
func (s *SQLiteStorage) EndSession(ctx context.Context, id int64, endedAt time.Time) error {
	if !s.ready() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE learning_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(endedAt), id)
	return storeErr("end session", err)
}

// AddSessionConcept records a concept for a session. It reports false when
// the concept was already recorded for that session.
func (s *SQLiteStorage) AddSessionConcept(ctx context.Context, sessionID int64, concept string, seenAt time.Time) (bool, error) {
	if !s.ready() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO session_concepts (session_id, concept, first_seen_at)
		VALUES (?, ?, ?)
	`, sessionID, concept, formatTime(seenAt))
	if err != nil {
		return false, storeErr("add session concept", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("add session concept", err)
	}
	return n > 0, nil
}

// SessionConcepts returns up to limit distinct concepts of a session,
// earliest first. A non-positive limit returns every concept.
func (s *SQLiteStorage) SessionConcepts(ctx context.Context, sessionID int64, limit int) ([]string, error) {
	if !s.ready() {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT concept
		FROM session_concepts
		WHERE session_id = ?
		ORDER BY first_seen_at, id
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, storeErr("session concepts", err)
	}
	defer rows.Close()

	concepts := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, storeErr("session concepts", err)
		}
		concepts = append(concepts, c)
	}
	return concepts, storeErr("session concepts", rows.Err())
}

// CountSessionConcepts returns the number of distinct concepts in a session.
func (s *SQLiteStorage) CountSessionConcepts(ctx context.Context, sessionID int64) (int, error) {
	if !s.ready() {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_concepts WHERE session_id = ?`, sessionID).Scan(&n)
	return n, storeErr("count session concepts", err)
}

// SessionStats reports session history, most recent first. A non-positive
// limit returns every session.
func (s *SQLiteStorage) SessionStats(ctx context.Context, limit int) ([]SessionStat, error) {
	if !s.ready() {
		return []SessionStat{}, nil
	}
	if limit <= 0 {
		limit = -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT ls.id, ls.session_ref, ls.project, ls.started_at, ls.ended_at,
		       COUNT(sc.id) AS concept_count
		FROM learning_sessions ls
		LEFT JOIN session_concepts sc ON sc.session_id = ls.id
		GROUP BY ls.id
		ORDER BY ls.started_at DESC, ls.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, storeErr("session stats", err)
	}
	defer rows.Close()

	stats := []SessionStat{}
	for rows.Next() {
		var st SessionStat
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&st.SessionID, &st.SessionRef, &st.Project, &startedAt, &endedAt, &st.ConceptCount); err != nil {
			return nil, storeErr("session stats", err)
		}
		if st.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, storeErr("session stats", err)
		}
		if endedAt.Valid {
			if t, err := parseTime(endedAt.String); err == nil {
				st.EndedAt = &t
			}
		}
		stats = append(stats, st)
	}
	return stats, storeErr("session stats", rows.Err())
}
