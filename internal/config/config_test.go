package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marcus/flightplan/internal/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flightplan.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// chdir changes the working directory for the duration of the test,
// restoring the original directory on cleanup. (testing.T.Chdir needs Go 1.24.)
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getting wd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("changing wd: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Errorf("restoring wd: %v", err)
		}
	})
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	// empty cwd and home so no config file is discovered
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %s, want info", cfg.Log.Level)
	}
	if cfg.Engine.MaxParallel != engine.DefaultMaxParallel {
		t.Errorf("engine.max_parallel = %d, want %d", cfg.Engine.MaxParallel, engine.DefaultMaxParallel)
	}
	if cfg.Engine.RetryBackoff != engine.DefaultRetryBackoff {
		t.Errorf("engine.retry_backoff = %v, want %v", cfg.Engine.RetryBackoff, engine.DefaultRetryBackoff)
	}
	if cfg.Tools.DefaultProvider != "sim" {
		t.Errorf("tools.default_provider = %s, want sim", cfg.Tools.DefaultProvider)
	}
	if !cfg.Audit.Enabled {
		t.Error("audit.enabled = false, want true by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: text
engine:
  max_parallel: 8
  retry_attempts: 5
  retry_backoff: 2s
  failure_policy: abort
tools:
  sim:
    scale: 0.5
    max_wait: 10s
history:
  keep_runs: 50
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v, want debug/text", cfg.Log)
	}
	if cfg.Engine.MaxParallel != 8 {
		t.Errorf("engine.max_parallel = %d, want 8", cfg.Engine.MaxParallel)
	}
	if cfg.Engine.RetryAttempts != 5 {
		t.Errorf("engine.retry_attempts = %d, want 5", cfg.Engine.RetryAttempts)
	}
	if cfg.Engine.RetryBackoff != 2*time.Second {
		t.Errorf("engine.retry_backoff = %v, want 2s", cfg.Engine.RetryBackoff)
	}
	if cfg.Tools.Sim.Scale != 0.5 {
		t.Errorf("tools.sim.scale = %g, want 0.5", cfg.Tools.Sim.Scale)
	}
	if cfg.Tools.Sim.MaxWait != 10*time.Second {
		t.Errorf("tools.sim.max_wait = %v, want 10s", cfg.Tools.Sim.MaxWait)
	}
	if cfg.History.KeepRuns != 50 {
		t.Errorf("history.keep_runs = %d, want 50", cfg.History.KeepRuns)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	// a sparse file from an older install still loads with full defaults
	path := writeConfig(t, `
log:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %s, want warn", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log.format = %s, want default json", cfg.Log.Format)
	}
	if cfg.Engine.RetryAttempts != engine.DefaultRetryLimit {
		t.Errorf("engine.retry_attempts = %d, want default %d", cfg.Engine.RetryAttempts, engine.DefaultRetryLimit)
	}
	if cfg.Daemon.Schedule == "" {
		t.Error("daemon.schedule is empty, want default cron expression")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() succeeded for a missing explicit path, want error")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())
	t.Setenv("FLIGHTPLAN_LOG_LEVEL", "error")
	t.Setenv("FLIGHTPLAN_ENGINE_MAX_PARALLEL", "16")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("log.level = %s, want env override error", cfg.Log.Level)
	}
	if cfg.Engine.MaxParallel != 16 {
		t.Errorf("engine.max_parallel = %d, want env override 16", cfg.Engine.MaxParallel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero parallel", func(c *Config) { c.Engine.MaxParallel = 0 }, "max_parallel"},
		{"zero attempts", func(c *Config) { c.Engine.RetryAttempts = 0 }, "retry_attempts"},
		{"negative backoff", func(c *Config) { c.Engine.RetryBackoff = -time.Second }, "retry_backoff"},
		{"bad policy", func(c *Config) { c.Engine.FailurePolicy = "explode" }, "failure_policy"},
		{"zero scale", func(c *Config) { c.Tools.Sim.Scale = 0 }, "sim.scale"},
		{"negative keep", func(c *Config) { c.History.KeepRuns = -1 }, "keep_runs"},
		{"bad schedule", func(c *Config) { c.Daemon.Schedule = "not a cron" }, "daemon.schedule"},
		{"negative interval", func(c *Config) { c.Daemon.Interval = -time.Minute }, "daemon.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %s", err, tt.wantSub)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Format: "json", RetentionDays: 7},
		Engine:  EngineConfig{MaxParallel: 4, RetryAttempts: 3, RetryBackoff: time.Second, FailurePolicy: "block"},
		Tools:   ToolsConfig{DefaultProvider: "sim", Sim: SimConfig{Scale: 0.01, MaxWait: time.Second}},
		History: HistoryConfig{Path: "x.db", KeepRuns: 10},
	}
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.FailurePolicy = "abort"

	ec := cfg.EngineConfig()
	if ec.MaxParallel != 4 || ec.RetryLimit != 3 || ec.RetryBackoff != time.Second {
		t.Errorf("EngineConfig() = %+v, want mapped values", ec)
	}
	if ec.FailurePolicy != engine.FailAbort {
		t.Errorf("FailurePolicy = %v, want abort", ec.FailurePolicy)
	}
}

func TestLoggingConfigMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Path = "~/logs"

	lc := cfg.LoggingConfig()
	if lc.Level != "info" || lc.Format != "json" || lc.RetentionDays != 7 {
		t.Errorf("LoggingConfig() = %+v, want mapped values", lc)
	}
	if strings.HasPrefix(lc.Path, "~") {
		t.Errorf("LoggingConfig() path = %s, want ~ expanded", lc.Path)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		input string
		want  string
	}{
		{"~/data", filepath.Join(home, "data")},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.input); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDiscoverPrefersProjectFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())

	if got := Discover(); got != "" {
		t.Errorf("Discover() in empty dir = %q, want empty", got)
	}

	if err := os.WriteFile(ProjectConfigName, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("writing project config: %v", err)
	}
	if got := Discover(); got != ProjectConfigName {
		t.Errorf("Discover() = %q, want %q", got, ProjectConfigName)
	}
}
