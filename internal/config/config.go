// Package config handles loading and validating flightplan configuration.
// Supports YAML config files and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/marcus/flightplan/internal/engine"
	"github.com/marcus/flightplan/internal/logging"
)

// ProjectConfigName is the per-project config file looked up in the
// working directory.
const ProjectConfigName = "flightplan.yaml"

// Config holds all flightplan configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	History HistoryConfig `mapstructure:"history"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
}

// LogConfig mirrors the logging package configuration.
type LogConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// EngineConfig configures plan execution.
type EngineConfig struct {
	MaxParallel   int           `mapstructure:"max_parallel"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	FailurePolicy string        `mapstructure:"failure_policy"`
}

// ToolsConfig configures tool selection and the rehearsal simulator.
type ToolsConfig struct {
	DefaultProvider string    `mapstructure:"default_provider"`
	Sim             SimConfig `mapstructure:"sim"`
}

// SimConfig configures the rehearsal simulator.
type SimConfig struct {
	Scale   float64       `mapstructure:"scale"`
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// HistoryConfig configures the run-history database.
type HistoryConfig struct {
	Path     string `mapstructure:"path"`
	KeepRuns int    `mapstructure:"keep_runs"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DaemonConfig configures scheduled rehearsals. Interval takes precedence
// over Schedule when both are set, since Schedule carries a default.
type DaemonConfig struct {
	Schedule  string        `mapstructure:"schedule"`
	Interval  time.Duration `mapstructure:"interval"`
	Window    WindowConfig  `mapstructure:"window"`
	Plans     []string      `mapstructure:"plans"`
	StatePath string        `mapstructure:"state_path"`
}

// WindowConfig restricts scheduled runs to a time-of-day window.
// Empty start and end mean no restriction.
type WindowConfig struct {
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Timezone string `mapstructure:"timezone"`
}

// Load reads configuration from the given file, or discovers one when path
// is empty: ./flightplan.yaml first, then the global config. A missing
// discovered file is not an error; defaults apply. Environment variables
// override file values with the FLIGHTPLAN_ prefix (FLIGHTPLAN_LOG_LEVEL,
// FLIGHTPLAN_ENGINE_MAX_PARALLEL, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("FLIGHTPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case path != "":
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	default:
		if found := Discover(); found != "" {
			v.SetConfigFile(found)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", found, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Discover returns the first config file that exists: the project file in
// the working directory, then the global one. Empty when neither exists.
func Discover() string {
	if _, err := os.Stat(ProjectConfigName); err == nil {
		return ProjectConfigName
	}
	global := GlobalConfigPath()
	if _, err := os.Stat(global); err == nil {
		return global
	}
	return ""
}

// GlobalConfigPath returns the per-user config file location.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "flightplan", "config.yaml")
}

// DefaultDataDir returns where flightplan keeps its own files.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "flightplan")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", filepath.Join(DefaultDataDir(), "logs"))
	v.SetDefault("log.format", "json")
	v.SetDefault("log.retention_days", 7)

	v.SetDefault("engine.max_parallel", engine.DefaultMaxParallel)
	v.SetDefault("engine.retry_attempts", engine.DefaultRetryLimit)
	v.SetDefault("engine.retry_backoff", engine.DefaultRetryBackoff.String())
	v.SetDefault("engine.failure_policy", "block")

	v.SetDefault("tools.default_provider", "sim")
	v.SetDefault("tools.sim.scale", 0.01)
	v.SetDefault("tools.sim.max_wait", "2s")

	v.SetDefault("history.path", filepath.Join(DefaultDataDir(), "flightplan.db"))
	v.SetDefault("history.keep_runs", 200)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", filepath.Join(DefaultDataDir(), "audit"))

	v.SetDefault("daemon.schedule", "0 7 * * *")
	v.SetDefault("daemon.interval", "0s")
	v.SetDefault("daemon.window.start", "")
	v.SetDefault("daemon.window.end", "")
	v.SetDefault("daemon.window.timezone", "")
	v.SetDefault("daemon.state_path", filepath.Join(DefaultDataDir(), "state.json"))
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %s", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log.format: %s", c.Log.Format)
	}
	if c.Engine.MaxParallel <= 0 {
		return fmt.Errorf("engine.max_parallel must be positive, got %d", c.Engine.MaxParallel)
	}
	if c.Engine.RetryAttempts <= 0 {
		return fmt.Errorf("engine.retry_attempts must be positive, got %d", c.Engine.RetryAttempts)
	}
	if c.Engine.RetryBackoff < 0 {
		return fmt.Errorf("engine.retry_backoff must not be negative, got %s", c.Engine.RetryBackoff)
	}
	if _, err := engine.ParseFailurePolicy(c.Engine.FailurePolicy); err != nil {
		return fmt.Errorf("engine.failure_policy: %w", err)
	}
	if c.Tools.Sim.Scale <= 0 {
		return fmt.Errorf("tools.sim.scale must be positive, got %g", c.Tools.Sim.Scale)
	}
	if c.History.KeepRuns < 0 {
		return fmt.Errorf("history.keep_runs must not be negative, got %d", c.History.KeepRuns)
	}
	if c.Daemon.Schedule != "" {
		if _, err := cron.ParseStandard(c.Daemon.Schedule); err != nil {
			return fmt.Errorf("invalid daemon.schedule: %w", err)
		}
	}
	if c.Daemon.Interval < 0 {
		return fmt.Errorf("daemon.interval must not be negative, got %s", c.Daemon.Interval)
	}
	return nil
}

// LoggingConfig maps the log section onto the logging package's config.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:         c.Log.Level,
		Path:          ExpandPath(c.Log.Path),
		Format:        c.Log.Format,
		RetentionDays: c.Log.RetentionDays,
	}
}

// EngineConfig maps the engine section onto the engine package's config.
func (c *Config) EngineConfig() engine.Config {
	policy, _ := engine.ParseFailurePolicy(c.Engine.FailurePolicy)
	return engine.Config{
		MaxParallel:   c.Engine.MaxParallel,
		RetryLimit:    c.Engine.RetryAttempts,
		RetryBackoff:  c.Engine.RetryBackoff,
		FailurePolicy: policy,
	}
}

// ExpandedHistoryPath returns the history database path with ~ expanded.
func (c *Config) ExpandedHistoryPath() string {
	return ExpandPath(c.History.Path)
}

// ExpandedAuditDir returns the audit directory with ~ expanded.
func (c *Config) ExpandedAuditDir() string {
	return ExpandPath(c.Audit.Path)
}

// ExpandedStatePath returns the daemon state file path with ~ expanded.
func (c *Config) ExpandedStatePath() string {
	return ExpandPath(c.Daemon.StatePath)
}

// ExpandPath expands a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
