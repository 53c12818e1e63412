/*
Package storage provides SQLite database migrations and helper functions.

This file contains schema definitions, migration logic, and time and list
serialization utilities for the storage layer.
*/
package storage

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// runMigrations executes database schema migrations.
func (s *SQLiteStorage) runMigrations() error {
	if !s.enabled || s.db == nil {
		return nil
	}

	if err := s.createMigrationsTable(); err != nil {
		return err
	}

	version, err := s.getCurrentMigrationVersion()
	if err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "initial_schema", up: s.migration001InitialSchema},
		{version: 2, name: "review_fts", up: s.migration002ReviewFTS},
	}

	for _, m := range migrations {
		if version < m.version {
			s.logger.Info("running migration", zap.Int("version", m.version), zap.String("name", m.name))
			if err := m.up(); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			if err := s.setMigrationVersion(m.version, m.name); err != nil {
				return err
			}
		}
	}

	return nil
}

// migration represents a single database migration.
type migration struct {
	version int
	name    string
	up      func() error
}

// createMigrationsTable creates the schema_migrations table.
func (s *SQLiteStorage) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`
	_, err := s.db.Exec(query)
	return err
}

// getCurrentMigrationVersion returns the highest applied migration version.
func (s *SQLiteStorage) getCurrentMigrationVersion() (int, error) {
	query := "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"
	row := s.db.QueryRow(query)

	var version int
	if err := row.Scan(&version); err != nil {
		return 0, err
	}

	return version, nil
}

// setMigrationVersion records a migration as applied.
func (s *SQLiteStorage) setMigrationVersion(version int, name string) error {
	query := "INSERT INTO schema_migrations (version, name) VALUES (?, ?)"
	_, err := s.db.Exec(query, version, name)
	return err
}

// migration001InitialSchema creates the review, session and association tables.
func (s *SQLiteStorage) migration001InitialSchema() error {
	statements := []struct {
		what  string
		query string
	}{
		{"reviews table", `
			CREATE TABLE IF NOT EXISTS reviews (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project TEXT NOT NULL DEFAULT '',
				commit_hash TEXT NOT NULL DEFAULT '',
				files TEXT NOT NULL DEFAULT '',
				diff TEXT NOT NULL DEFAULT '',
				result TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT '',
				provider TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				content_hash TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL
			)`},
		{"reviews project index", `
			CREATE INDEX IF NOT EXISTS idx_reviews_project
			ON reviews(project, created_at DESC)`},
		{"insights table", `
			CREATE TABLE IF NOT EXISTS insights (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				review_id INTEGER NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
				type TEXT NOT NULL CHECK (type IN ('bugfix','security','pattern','decision','style','performance')),
				severity TEXT NOT NULL CHECK (severity IN ('low','medium','high','critical')),
				files TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				what TEXT NOT NULL DEFAULT '',
				why TEXT NOT NULL DEFAULT '',
				learned TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL
			)`},
		{"insights review index", `
			CREATE INDEX IF NOT EXISTS idx_insights_review
			ON insights(review_id)`},
		{"review_concepts table", `
			CREATE TABLE IF NOT EXISTS review_concepts (
				review_id INTEGER NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
				concept TEXT NOT NULL,
				UNIQUE (review_id, concept)
			)`},
		{"review_concepts concept index", `
			CREATE INDEX IF NOT EXISTS idx_review_concepts_concept
			ON review_concepts(concept)`},
		{"learning_sessions table", `
			CREATE TABLE IF NOT EXISTS learning_sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_ref TEXT NOT NULL,
				project TEXT NOT NULL DEFAULT '',
				commit_hash TEXT NOT NULL DEFAULT '',
				started_at TEXT NOT NULL,
				ended_at TEXT
			)`},
		{"learning_sessions active index", `
			CREATE INDEX IF NOT EXISTS idx_learning_sessions_active
			ON learning_sessions(ended_at, started_at DESC)`},
		{"session_concepts table", `
			CREATE TABLE IF NOT EXISTS session_concepts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id INTEGER NOT NULL REFERENCES learning_sessions(id) ON DELETE CASCADE,
				concept TEXT NOT NULL,
				first_seen_at TEXT NOT NULL,
				UNIQUE (session_id, concept)
			)`},
		{"associations table", `
			CREATE TABLE IF NOT EXISTS associations (
				concept_a TEXT NOT NULL,
				concept_b TEXT NOT NULL,
				context TEXT NOT NULL CHECK (context IN ('review','session')),
				weight REAL NOT NULL CHECK (weight >= 0 AND weight <= 1),
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (concept_a, concept_b, context),
				CHECK (concept_a < concept_b)
			)`},
		{"associations concept_b index", `
			CREATE INDEX IF NOT EXISTS idx_associations_b
			ON associations(concept_b)`},
		{"retrieval_history table", `
			CREATE TABLE IF NOT EXISTS retrieval_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				retrieval_id TEXT NOT NULL UNIQUE,
				query_hash TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				results_count INTEGER NOT NULL
			)`},
	}

	for _, st := range statements {
		if _, err := s.db.Exec(st.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.what, err)
		}
	}

	return nil
}

// migration002ReviewFTS creates the FTS5 index over reviews and the triggers
// that keep it in sync.
func (s *SQLiteStorage) migration002ReviewFTS() error {
	if _, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS reviews_fts USING fts5(
			files,
			diff,
			result,
			content='reviews',
			content_rowid='id'
		)
	`); err != nil {
		return fmt.Errorf("failed to create reviews_fts: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS reviews_fts_insert AFTER INSERT ON reviews BEGIN
			INSERT INTO reviews_fts(rowid, files, diff, result)
			VALUES (new.id, new.files, new.diff, new.result);
		END;

		CREATE TRIGGER IF NOT EXISTS reviews_fts_delete AFTER DELETE ON reviews BEGIN
			INSERT INTO reviews_fts(reviews_fts, rowid, files, diff, result)
			VALUES ('delete', old.id, old.files, old.diff, old.result);
		END;

		CREATE TRIGGER IF NOT EXISTS reviews_fts_update AFTER UPDATE ON reviews BEGIN
			INSERT INTO reviews_fts(reviews_fts, rowid, files, diff, result)
			VALUES ('delete', old.id, old.files, old.diff, old.result);
			INSERT INTO reviews_fts(rowid, files, diff, result)
			VALUES (new.id, new.files, new.diff, new.result);
		END;
	`); err != nil {
		return fmt.Errorf("failed to create reviews_fts triggers: %w", err)
	}

	// Backfill rows stored before the index existed.
	if _, err := s.db.Exec(`INSERT INTO reviews_fts(reviews_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("failed to rebuild reviews_fts: %w", err)
	}

	return nil
}

// formatTime renders t in the fixed-width UTC storage layout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// joinList stores a string list as newline-separated text.
func joinList(items []string) string {
	return strings.Join(items, "\n")
}

// splitList parses newline-separated text into a list.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// placeholders returns "?,?,..." for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// sanitizeFTS quotes each term so user text cannot inject FTS5 syntax and
// joins them with OR so any matching term contributes to the rank.
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
