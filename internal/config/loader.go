package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override config keys.
const EnvPrefix = "REVIEW_MEMORY_"

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration with the precedence, highest first:
//  1. REVIEW_MEMORY_* environment variables
//  2. the YAML file at path
//  3. defaults from NewConfig
//
// An empty path means ~/.review-memory/config.yaml, which may be absent.
// An explicit path that does not exist is a ConfigNotFoundError.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	k := koanf.New(".")

	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, &InvalidConfigError{
				Path:    path,
				Message: err.Error(),
				Hint:    "Fix the YAML syntax or run 'review-memory config init --force'",
			}
		}
	case errors.Is(err, os.ErrNotExist):
		if explicit {
			return nil, &ConfigNotFoundError{
				Path: path,
				Hint: "Run 'review-memory config init --config " + path + "' to create it",
			}
		}
	case errors.Is(err, os.ErrPermission):
		return nil, &PermissionError{
			Path: path,
			Op:   "read",
			Fix:  fmt.Sprintf("Run: chmod u+r %s", path),
		}
	default:
		return nil, err
	}

	// REVIEW_MEMORY_LEARNING_LEARNING_RATE -> learning.learning_rate
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, &InvalidConfigError{Path: path, Message: err.Error()}
	}
	// Lists replace the defaults rather than merging element-wise.
	if k.Exists("learning.ignore_files") {
		cfg.Learning.IgnoreFiles = k.Strings("learning.ignore_files")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps SECTION_FIELD_NAME (prefix already present) to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &InvalidConfigError{Path: path, Message: "path is a directory"}
	}
	if info.Size() > maxConfigFileSize {
		return nil, &InvalidConfigError{
			Path:    path,
			Message: fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), maxConfigFileSize),
		}
	}
	return io.ReadAll(f)
}
