// Package config handles loading, validating and saving review-memory configuration.
//
// Configuration is stored in ~/.review-memory/config.yaml and can be overridden
// with REVIEW_MEMORY_* environment variables.
//
// Schema:
//
//	storage:
//	  path: ~/.review-memory/history.db
//	  retention: 2160h
//	learning:
//	  enabled: true
//	  learning_rate: 0.1
//	  base_weight: 0.1
//	  session_boost: 1.5
//	  max_session_concepts: 64
//	  ignore_files: ["**/*.lock", "vendor/**"]
//	retrieval:
//	  limit: 20
//	  recency_half_life: 168h
//	  lexical_backend: fts
//	  min_neighbor_weight: 0.05
//	  lexical_weight: 0.4
//	  graph_weight: 0.4
//	  recency_weight: 0.2
//	disclosure:
//	  high_threshold: 0.7
//	  medium_threshold: 0.5
//	  max_tokens: 2000
//	logging:
//	  level: info
//	  format: console
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Lexical backends for the retrieval ranker.
const (
	BackendFTS   = "fts"
	BackendBleve = "bleve"
)

// Config represents the root configuration structure.
type Config struct {
	Storage    StorageConfig    `koanf:"storage" yaml:"storage"`
	Learning   LearningConfig   `koanf:"learning" yaml:"learning"`
	Retrieval  RetrievalConfig  `koanf:"retrieval" yaml:"retrieval"`
	Disclosure DisclosureConfig `koanf:"disclosure" yaml:"disclosure"`
	Logging    LoggingConfig    `koanf:"logging" yaml:"logging"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	// Path is the database file. Empty means ~/.review-memory/history.db.
	Path string `koanf:"path" yaml:"path,omitempty"`

	// Retention bounds how long ended sessions and retrieval history are kept.
	Retention time.Duration `koanf:"retention" yaml:"retention"`
}

// LearningConfig controls association reinforcement.
type LearningConfig struct {
	// Enabled gates every learning write. Disabled learning is a no-op.
	Enabled bool `koanf:"enabled" yaml:"enabled"`

	// LearningRate scales each saturating update, in (0, 1].
	LearningRate float64 `koanf:"learning_rate" yaml:"learning_rate"`

	// BaseWeight is the weight of a newly created association, in (0, 1).
	BaseWeight float64 `koanf:"base_weight" yaml:"base_weight"`

	// SessionBoost multiplies the learning rate when a session closes.
	SessionBoost float64 `koanf:"session_boost" yaml:"session_boost"`

	// MaxSessionConcepts caps the distinct concepts kept per session.
	MaxSessionConcepts int `koanf:"max_session_concepts" yaml:"max_session_concepts"`

	// IgnoreFiles are glob patterns of files that never become concepts.
	IgnoreFiles []string `koanf:"ignore_files" yaml:"ignore_files,omitempty"`
}

// RetrievalConfig controls the ranker.
type RetrievalConfig struct {
	Limit             int           `koanf:"limit" yaml:"limit"`
	RecencyHalfLife   time.Duration `koanf:"recency_half_life" yaml:"recency_half_life"`
	LexicalBackend    string        `koanf:"lexical_backend" yaml:"lexical_backend"`
	MinNeighborWeight float64       `koanf:"min_neighbor_weight" yaml:"min_neighbor_weight"`
	LexicalWeight     float64       `koanf:"lexical_weight" yaml:"lexical_weight"`
	GraphWeight       float64       `koanf:"graph_weight" yaml:"graph_weight"`
	RecencyWeight     float64       `koanf:"recency_weight" yaml:"recency_weight"`
}

// DisclosureConfig controls rendering tiers and the token budget.
type DisclosureConfig struct {
	HighThreshold   float64 `koanf:"high_threshold" yaml:"high_threshold"`
	MediumThreshold float64 `koanf:"medium_threshold" yaml:"medium_threshold"`
	MaxTokens       int     `koanf:"max_tokens" yaml:"max_tokens"`
	FullCost        int     `koanf:"full_cost" yaml:"full_cost"`
	DetailCost      int     `koanf:"detail_cost" yaml:"detail_cost"`
	CompactCost     int     `koanf:"compact_cost" yaml:"compact_cost"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Retention: 90 * 24 * time.Hour,
		},
		Learning: LearningConfig{
			Enabled:            true,
			LearningRate:       0.1,
			BaseWeight:         0.1,
			SessionBoost:       1.5,
			MaxSessionConcepts: 64,
			IgnoreFiles:        []string{"**/*.lock", "**/vendor/**", "**/node_modules/**"},
		},
		Retrieval: RetrievalConfig{
			Limit:             20,
			RecencyHalfLife:   7 * 24 * time.Hour,
			LexicalBackend:    BackendFTS,
			MinNeighborWeight: 0.05,
			LexicalWeight:     0.4,
			GraphWeight:       0.4,
			RecencyWeight:     0.2,
		},
		Disclosure: DisclosureConfig{
			HighThreshold:   0.7,
			MediumThreshold: 0.5,
			MaxTokens:       2000,
			FullCost:        400,
			DetailCost:      120,
			CompactCost:     25,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks every section and returns the first ConfigError found.
func (c *Config) Validate() error {
	l := c.Learning
	if l.LearningRate <= 0 || l.LearningRate > 1 {
		return &ConfigError{Field: "learning.learning_rate", Message: fmt.Sprintf("must be in (0, 1], got %g", l.LearningRate)}
	}
	if l.BaseWeight <= 0 || l.BaseWeight >= 1 {
		return &ConfigError{Field: "learning.base_weight", Message: fmt.Sprintf("must be in (0, 1), got %g", l.BaseWeight)}
	}
	if l.SessionBoost < 1 {
		return &ConfigError{Field: "learning.session_boost", Message: fmt.Sprintf("must be >= 1, got %g", l.SessionBoost)}
	}
	if l.MaxSessionConcepts < 2 {
		return &ConfigError{Field: "learning.max_session_concepts", Message: fmt.Sprintf("must be >= 2, got %d", l.MaxSessionConcepts)}
	}

	r := c.Retrieval
	if r.Limit <= 0 {
		return &ConfigError{Field: "retrieval.limit", Message: "must be positive"}
	}
	if r.RecencyHalfLife <= 0 {
		return &ConfigError{Field: "retrieval.recency_half_life", Message: "must be positive"}
	}
	if r.LexicalBackend != BackendFTS && r.LexicalBackend != BackendBleve {
		return &ConfigError{Field: "retrieval.lexical_backend", Message: fmt.Sprintf("must be %q or %q, got %q", BackendFTS, BackendBleve, r.LexicalBackend)}
	}
	if r.LexicalWeight < 0 || r.GraphWeight < 0 || r.RecencyWeight < 0 {
		return &ConfigError{Field: "retrieval", Message: "signal weights must be non-negative"}
	}
	if r.LexicalWeight+r.GraphWeight+r.RecencyWeight == 0 {
		return &ConfigError{Field: "retrieval", Message: "at least one signal weight must be positive"}
	}

	if err := c.Disclosure.Validate(); err != nil {
		return err
	}

	if c.Storage.Retention < 0 {
		return &ConfigError{Field: "storage.retention", Message: "must not be negative"}
	}
	return nil
}

// Validate checks thresholds, budget and tier costs.
func (d DisclosureConfig) Validate() error {
	if d.HighThreshold < 0 || d.HighThreshold > 1 || d.MediumThreshold < 0 || d.MediumThreshold > 1 {
		return &ConfigError{Field: "disclosure", Message: "thresholds must be in [0, 1]"}
	}
	if d.HighThreshold < d.MediumThreshold {
		return &ConfigError{
			Field:   "disclosure.high_threshold",
			Message: fmt.Sprintf("high threshold %g is below medium threshold %g", d.HighThreshold, d.MediumThreshold),
		}
	}
	if d.MaxTokens <= 0 {
		return &ConfigError{Field: "disclosure.max_tokens", Message: "must be positive"}
	}
	if d.CompactCost <= 0 || d.DetailCost < d.CompactCost || d.FullCost < d.DetailCost {
		return &ConfigError{Field: "disclosure", Message: "tier costs must satisfy 0 < compact <= detail <= full"}
	}
	return nil
}

// GetDefaultConfigPath returns the path to ~/.review-memory/config.yaml
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".review-memory", "config.yaml"), nil
}
