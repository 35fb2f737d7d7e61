package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aybkose/questline/internal/config"
	"github.com/aybkose/questline/internal/logging"
	"github.com/aybkose/questline/internal/store"
	"github.com/aybkose/questline/internal/task"
)

// loadConfig reads configuration, honoring the global --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	wd, _ := os.Getwd()
	cfg, err := config.LoadFromPaths(wd, explicit)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// initLogging configures the global logger from config.
func initLogging(cfg *config.Config) error {
	return logging.Init(logging.Config{
		Level:         cfg.Logging.Level,
		Path:          cfg.Logging.Path,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	})
}

// openStore opens the sqlite store at the configured path.
func openStore(cfg *config.Config) (*store.Store, error) {
	return openStoreAt(cfg.ExpandedDBPath())
}

func openStoreAt(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// parseParams turns key=value CLI arguments into task params. Values
// that look like integers or booleans are converted; everything else
// stays a string.
func parseParams(pairs []string) (task.Params, error) {
	params := make(task.Params, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q (want key=value)", pair)
		}
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			params[key] = n
			continue
		}
		if b, err := strconv.ParseBool(value); err == nil {
			params[key] = b
			continue
		}
		params[key] = value
	}
	return params, nil
}
