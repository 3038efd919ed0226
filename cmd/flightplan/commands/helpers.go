package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/marcus/flightplan/internal/config"
	"github.com/marcus/flightplan/internal/logging"
	"github.com/marcus/flightplan/internal/plan"
	"github.com/marcus/flightplan/internal/tools"
)

// loadConfig loads configuration honoring the persistent --config,
// --log-level and --verbose flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogging initializes the global logger from config.
func initLogging(cfg *config.Config) error {
	if err := logging.Init(cfg.LoggingConfig()); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// Real executions follow the plan's own estimates; the cap only guards
// against a runaway estimate holding a worker for days.
const executeMaxWait = 24 * time.Hour

// buildRegistry assembles the tool registry for a run. Rehearsals compress
// time by the configured scale; executions run estimates at full length.
func buildRegistry(cfg *config.Config, execute bool) (*tools.Registry, error) {
	var sim *tools.Simulator
	if execute {
		sim = tools.NewSimulator(
			tools.WithScale(1.0),
			tools.WithMaxWait(executeMaxWait),
		)
	} else {
		sim = tools.NewSimulator(
			tools.WithScale(cfg.Tools.Sim.Scale),
			tools.WithMaxWait(cfg.Tools.Sim.MaxWait),
		)
	}
	return tools.NewRegistry(sim)
}

// applyDefaultProvider fills in the configured default provider on tasks
// that do not name one. The registry refuses tasks without a provider, so
// this runs before any execution or preflight.
func applyDefaultProvider(p *plan.Plan, provider string) {
	if provider == "" {
		return
	}
	for _, t := range p.Tasks {
		if t.Requires.Provider == "" {
			t.Requires.Provider = provider
		}
	}
}

// applyNoColor disables colored output when requested by flag or by the
// NO_COLOR convention.
func applyNoColor(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}
