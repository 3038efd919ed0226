package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/flightplan/internal/config"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create configuration file",
	Long: `Initialize a new flightplan configuration file.

By default, creates flightplan.yaml in the current directory.
Use --global to create a global config at ~/.config/flightplan/config.yaml.
Use --example to also write a starter plan (example-plan.yaml) you can
rehearse immediately.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().Bool("global", false, "Create global config instead of project config")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite existing config without prompting")
	initCmd.Flags().Bool("example", false, "Also write a starter plan file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	global, _ := cmd.Flags().GetBool("global")
	force, _ := cmd.Flags().GetBool("force")
	example, _ := cmd.Flags().GetBool("example")

	var configPath string
	var configType string

	if global {
		configPath = config.GlobalConfigPath()
		configType = "global"
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		configPath = filepath.Join(cwd, config.ProjectConfigName)
		configType = "project"
	}

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		if !force {
			fmt.Printf("%sConfig already exists:%s %s\n", colorYellow, colorReset, configPath)
			fmt.Print("Overwrite? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}
	}

	// Create parent directory if needed
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(configPath, []byte(generateDefaultConfig()), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	var planPath string
	if example {
		planPath = "example-plan.yaml"
		if err := os.WriteFile(planPath, []byte(generateExamplePlan()), 0644); err != nil {
			return fmt.Errorf("write example plan: %w", err)
		}
	}

	// Success output
	fmt.Printf("\n%s%sCreated %s config:%s %s\n", colorBold, colorGreen, configType, colorReset, configPath)
	if planPath != "" {
		fmt.Printf("%s%sCreated starter plan:%s %s\n", colorBold, colorGreen, colorReset, planPath)
	}
	fmt.Printf("\n%sNext steps:%s\n", colorCyan, colorReset)
	if example {
		fmt.Printf("  1. Run 'flightplan inspect %s' to see the plan structure\n", planPath)
		fmt.Printf("  2. Run 'flightplan run %s' to rehearse it\n", planPath)
		fmt.Println("  3. Edit the plan and re-rehearse until it is clean")
	} else {
		fmt.Println("  1. Edit the config to set engine and daemon defaults")
		fmt.Println("  2. Write a plan file (or re-run init with --example)")
		fmt.Println("  3. Run 'flightplan run <plan>' to rehearse it")
	}
	fmt.Println()

	return nil
}

// generateDefaultConfig creates the default config YAML with helpful comments.
func generateDefaultConfig() string {
	return `# Flightplan Configuration
#
# Project config: flightplan.yaml (current directory)
# Global config:  ~/.config/flightplan/config.yaml
# The project config wins when both exist. Any key can also be set via
# environment variables with the FLIGHTPLAN_ prefix, e.g.
# FLIGHTPLAN_LOG_LEVEL=debug.

# Execution engine
engine:
  max_parallel: 4              # Tasks running at once within a wave
  retry_attempts: 3            # Attempts per task before it fails for good
  retry_backoff: 500ms         # Base backoff, doubled per retry
  failure_policy: block        # block | block-dependents | abort

# Tool providers
tools:
  default_provider: sim        # Provider for tasks that don't name one
  sim:
    scale: 0.01                # Fraction of each estimate rehearsals sleep
    max_wait: 2s               # Cap on per-attempt sleep

# Run history (SQLite)
history:
  path: ~/.local/share/flightplan/flightplan.db
  keep_runs: 200               # Older runs are trimmed after each record

# Append-only audit trail (JSON lines, one file per day)
audit:
  enabled: true
  path: ~/.local/share/flightplan/audit

# Scheduled rehearsals
daemon:
  schedule: "0 7 * * *"        # Cron: rehearse every morning at 7
  # interval: 4h               # Alternative: fixed interval (wins over cron)
  window:                      # Optional: restrict runs to a time window
    start: ""
    end: ""
    timezone: ""
  plans: []                    # Plan files the daemon rehearses
  # plans:
  #   - ~/plans/release.yaml
  #   - ~/plans/migration.yaml
  state_path: ~/.local/share/flightplan/state.json

# Logging
log:
  level: info                  # debug | info | warn | error
  path: ~/.local/share/flightplan/logs
  format: json                 # json | text
  retention_days: 7
`
}

// generateExamplePlan creates a starter plan exercising dependencies,
// parallel waves, and a scripted retry.
func generateExamplePlan() string {
	return `# Example flightplan task plan.
#
# Tasks declare what they depend on; flightplan derives the execution
# waves. The simulate_* inputs script rehearsal behavior: flaky-check
# below fails once and succeeds on retry.
version: 1
goal: ship the 2.0 release
tasks:
  - id: fetch-deps
    description: download and verify third-party dependencies
    kind: read
    estimate: 5m
  - id: generate-docs
    description: regenerate API documentation
    kind: write
    estimate: 10m
  - id: build
    description: compile all release binaries
    kind: execute
    estimate: 20m
    depends_on: [fetch-deps]
  - id: flaky-check
    description: run the integration suite
    kind: validate
    estimate: 15m
    depends_on: [build]
    requires:
      inputs:
        simulate_failures: 1
        simulate_error: integration suite flaked
  - id: package
    description: bundle binaries and docs into the release archive
    kind: execute
    estimate: 5m
    depends_on: [build, generate-docs]
  - id: verify-release
    description: smoke-test the packaged release
    kind: validate
    estimate: 10m
    depends_on: [flaky-check, package]
`
}
