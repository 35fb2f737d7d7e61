// Package config handles loading and validating questline configuration.
// Supports YAML config files, QUESTLINE_* environment overrides, and hot
// reload of runtime-tunable settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all questline configuration.
type Config struct {
	DB       DBConfig       `mapstructure:"db"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Platform PlatformConfig `mapstructure:"platform"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// EngineConfig holds verification engine settings.
type EngineConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // expiry sweep + recheck cadence
	SweepCron     string        `mapstructure:"sweep_cron"`     // overrides SweepInterval when set
	QueueSize     int           `mapstructure:"queue_size"`     // event bus buffer
	DailyLimit    int           `mapstructure:"daily_limit"`    // assignments per user per day, 0 = unlimited
	Notify        bool          `mapstructure:"notify"`         // send user notifications via the platform
}

// TasksConfig holds per-definition overrides.
type TasksConfig struct {
	Enabled   []string                 `mapstructure:"enabled"`   // empty = all registered definitions
	Durations map[string]time.Duration `mapstructure:"durations"` // per type_key default duration override
	Cooldowns map[string]time.Duration `mapstructure:"cooldowns"` // per type_key cooldown override
	Templates []TaskTemplate           `mapstructure:"templates"` // assignable task pool for the factory
}

// TaskTemplate is one assignable entry in the factory pool: a definition
// type key plus the concrete params an instance of it needs.
type TaskTemplate struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// PlatformConfig holds messaging-platform client settings.
type PlatformConfig struct {
	Token       string `mapstructure:"token"`
	BotUsername string `mapstructure:"bot_username"`
}

// GlobalConfigPath returns the path of the global config file.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "questline", "questline.yaml")
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "questline", "questline.db")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("questline")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("QUESTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db.path", DefaultDBPath())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.retention_days", 7)
	v.SetDefault("engine.sweep_interval", 30*time.Second)
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.daily_limit", 0)
	v.SetDefault("engine.notify", true)

	return v
}

// Load reads configuration from the working directory, the global config
// path, and the environment.
func Load() (*Config, error) {
	wd, _ := os.Getwd()
	return LoadFromPaths(wd, "")
}

// LoadFromPaths reads configuration, preferring an explicit file over a
// questline.yaml found in searchDir or the global config path. A missing
// config file is not an error; defaults and env vars still apply.
func LoadFromPaths(searchDir, explicit string) (*Config, error) {
	v := newViper()

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		if searchDir != "" {
			v.AddConfigPath(searchDir)
		}
		v.AddConfigPath(filepath.Dir(GlobalConfigPath()))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// no config file found; defaults and env overrides still apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Watch re-reads the config file on change and invokes onChange with the
// fresh config. Parse or validation failures keep the previous config and
// are reported through onError.
func Watch(explicit string, onChange func(*Config), onError func(error)) error {
	v := newViper()

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		wd, _ := os.Getwd()
		v.AddConfigPath(wd)
		v.AddConfigPath(filepath.Dir(GlobalConfigPath()))
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config for watch: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onError(fmt.Errorf("reload config: %w", err))
			return
		}
		if err := cfg.Validate(); err != nil {
			onError(fmt.Errorf("reload config: %w", err))
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()

	return nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	if c.Engine.SweepInterval < 0 {
		return fmt.Errorf("engine.sweep_interval must not be negative")
	}
	if c.Engine.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must not be negative")
	}
	if c.Engine.DailyLimit < 0 {
		return fmt.Errorf("engine.daily_limit must not be negative")
	}
	for key, d := range c.Tasks.Durations {
		if d <= 0 {
			return fmt.Errorf("tasks.durations[%s] must be positive", key)
		}
	}
	for i, tpl := range c.Tasks.Templates {
		if tpl.Type == "" {
			return fmt.Errorf("tasks.templates[%d] is missing a type", i)
		}
	}
	return nil
}

// ExpandedDBPath returns the database path with ~ expanded.
func (c *Config) ExpandedDBPath() string {
	path := c.DB.Path
	if path == "" {
		return DefaultDBPath()
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// IsTaskEnabled reports whether a task definition is enabled. An empty
// enabled list means every registered definition is enabled.
func (c *Config) IsTaskEnabled(typeKey string) bool {
	if len(c.Tasks.Enabled) == 0 {
		return true
	}
	for _, key := range c.Tasks.Enabled {
		if key == typeKey {
			return true
		}
	}
	return false
}

// TaskDuration returns the configured duration override for a type key,
// or 0 when the definition default applies.
func (c *Config) TaskDuration(typeKey string) time.Duration {
	return c.Tasks.Durations[typeKey]
}

// TaskCooldown returns the configured cooldown override for a type key,
// or -1 when the definition default applies.
func (c *Config) TaskCooldown(typeKey string) time.Duration {
	if d, ok := c.Tasks.Cooldowns[typeKey]; ok {
		return d
	}
	return -1
}
