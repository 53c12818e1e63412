package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.True(t, cfg.Learning.Enabled)
	assert.Equal(t, 0.1, cfg.Learning.LearningRate)
	assert.Equal(t, 0.1, cfg.Learning.BaseWeight)
	assert.Equal(t, 1.5, cfg.Learning.SessionBoost)
	assert.Equal(t, 64, cfg.Learning.MaxSessionConcepts)
	assert.Equal(t, 168*time.Hour, cfg.Retrieval.RecencyHalfLife)
	assert.Equal(t, BackendFTS, cfg.Retrieval.LexicalBackend)
	assert.Equal(t, 0.7, cfg.Disclosure.HighThreshold)
	assert.Equal(t, 0.5, cfg.Disclosure.MediumThreshold)
	assert.Equal(t, 2000, cfg.Disclosure.MaxTokens)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
learning:
  learning_rate: 0.2
  ignore_files: ["*.md"]
retrieval:
  recency_half_life: 24h
  lexical_backend: bleve
disclosure:
  max_tokens: 500
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Learning.LearningRate)
	assert.Equal(t, []string{"*.md"}, cfg.Learning.IgnoreFiles)
	assert.Equal(t, 24*time.Hour, cfg.Retrieval.RecencyHalfLife)
	assert.Equal(t, BackendBleve, cfg.Retrieval.LexicalBackend)
	assert.Equal(t, 500, cfg.Disclosure.MaxTokens)

	// Untouched keys keep defaults.
	assert.Equal(t, 0.1, cfg.Learning.BaseWeight)
	assert.Equal(t, 0.7, cfg.Disclosure.HighThreshold)
	assert.True(t, cfg.Learning.Enabled)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "disclosure:\n  max_tokens: 500\n")

	t.Setenv("REVIEW_MEMORY_DISCLOSURE_MAX_TOKENS", "750")
	t.Setenv("REVIEW_MEMORY_LEARNING_ENABLED", "false")
	t.Setenv("REVIEW_MEMORY_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 750, cfg.Disclosure.MaxTokens)
	assert.False(t, cfg.Learning.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	var nf *ConfigNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestLoad_DefaultPathAbsent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "learning: [unclosed\n")

	_, err := Load(path)
	var ice *InvalidConfigError
	assert.ErrorAs(t, err, &ice)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
disclosure:
  high_threshold: 0.4
  medium_threshold: 0.6
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "disclosure.high_threshold", ce.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero learning rate", func(c *Config) { c.Learning.LearningRate = 0 }, "learning.learning_rate"},
		{"learning rate above one", func(c *Config) { c.Learning.LearningRate = 1.5 }, "learning.learning_rate"},
		{"base weight one", func(c *Config) { c.Learning.BaseWeight = 1 }, "learning.base_weight"},
		{"session boost below one", func(c *Config) { c.Learning.SessionBoost = 0.5 }, "learning.session_boost"},
		{"tiny session cap", func(c *Config) { c.Learning.MaxSessionConcepts = 1 }, "learning.max_session_concepts"},
		{"zero limit", func(c *Config) { c.Retrieval.Limit = 0 }, "retrieval.limit"},
		{"zero half life", func(c *Config) { c.Retrieval.RecencyHalfLife = 0 }, "retrieval.recency_half_life"},
		{"unknown backend", func(c *Config) { c.Retrieval.LexicalBackend = "lucene" }, "retrieval.lexical_backend"},
		{"negative weight", func(c *Config) { c.Retrieval.GraphWeight = -1 }, "retrieval"},
		{"all weights zero", func(c *Config) {
			c.Retrieval.LexicalWeight, c.Retrieval.GraphWeight, c.Retrieval.RecencyWeight = 0, 0, 0
		}, "retrieval"},
		{"zero budget", func(c *Config) { c.Disclosure.MaxTokens = 0 }, "disclosure.max_tokens"},
		{"costs out of order", func(c *Config) { c.Disclosure.DetailCost = 500 }, "disclosure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestValidate_EqualThresholdsAllowed(t *testing.T) {
	cfg := NewConfig()
	cfg.Disclosure.HighThreshold = 0.6
	cfg.Disclosure.MediumThreshold = 0.6
	assert.NoError(t, cfg.Validate())
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := NewConfig()
	cfg.Retrieval.Limit = 7
	cfg.Storage.Retention = 48 * time.Hour
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Retrieval.Limit)
	assert.Equal(t, 48*time.Hour, loaded.Storage.Retention)

	// Second save leaves a backup of the first.
	cfg.Retrieval.Limit = 9
	require.NoError(t, Save(cfg, path))
	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err)
}

func TestSave_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := NewConfig()
	cfg.Disclosure.MaxTokens = -1
	assert.True(t, IsConfigError(Save(cfg, path)))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "learning.learning_rate", envKey("REVIEW_MEMORY_LEARNING_LEARNING_RATE"))
	assert.Equal(t, "storage.path", envKey("REVIEW_MEMORY_STORAGE_PATH"))
	assert.Equal(t, "verbose", envKey("REVIEW_MEMORY_VERBOSE"))
}
