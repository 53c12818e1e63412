package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/engine"
	"github.com/khanglvm/review-memory/internal/gitinfo"
	"github.com/khanglvm/review-memory/internal/learning"
	"github.com/khanglvm/review-memory/internal/logging"
)

// loadConfig loads configuration and applies the --log-level override.
func (o *Options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return cfg, nil
}

// configPath returns --config or the default config location.
func (o *Options) configPath() (string, error) {
	if o.ConfigPath != "" {
		return o.ConfigPath, nil
	}
	return config.GetDefaultConfigPath()
}

// openEngine opens the review memory for one command. The caller closes it.
func (o *Options) openEngine(cmd *cobra.Command) (*engine.Engine, *zap.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewWithWriter(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}

	e, err := engine.Open(commandContext(cmd), cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open review memory: %w", err)
	}
	return e, logger, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// repoDefaults fills an empty project or commit from the git repository
// enclosing dir.
func repoDefaults(logger *zap.Logger, dir, project, commit string) (string, string) {
	if project != "" && commit != "" {
		return project, commit
	}
	info, err := gitinfo.Detect(dir)
	if err != nil {
		logger.Warn("failed to read git repository", zap.String("dir", dir), zap.Error(err))
		return project, commit
	}
	if project == "" {
		project = info.Project
	}
	if commit == "" {
		commit = info.Commit
	}
	return project, commit
}

// resolveSession returns the session named by id, the active session when id
// is 0, or nil when disabled.
func resolveSession(ctx context.Context, e *engine.Engine, id int64, disabled bool) (*learning.Session, error) {
	if disabled {
		return nil, nil
	}
	s, err := e.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil && id != 0 {
		return nil, fmt.Errorf("session #%d is not active", id)
	}
	return s, nil
}

// readInput reads a whole file, or stdin for "-". An empty path reads nothing.
func readInput(cmd *cobra.Command, path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// openInput opens a file for streaming, or stdin for "-".
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// formatJSON pretty-prints JSON for export.
func formatJSON(data interface{}) (string, error) {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func formatYAML(data interface{}) (string, error) {
	bytes, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(bytes), "\n"), nil
}

// printJSON writes data as indented JSON followed by a newline.
func printJSON(w io.Writer, data interface{}) error {
	s, err := formatJSON(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, s)
	return err
}
