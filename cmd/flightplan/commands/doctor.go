package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/flightplan/internal/audit"
	"github.com/marcus/flightplan/internal/config"
	"github.com/marcus/flightplan/internal/daemon"
	"github.com/marcus/flightplan/internal/history"
	"github.com/marcus/flightplan/internal/state"
)

type checkStatus string

const (
	statusOK   checkStatus = "OK"
	statusWarn checkStatus = "WARN"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	name   string
	status checkStatus
	detail string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check flightplan configuration and environment",
	Long: `Run diagnostics to detect configuration and environment issues.

Checks config, the tool registry, history database health, the audit
trail, scheduling, and daemon state.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	results := make([]checkResult, 0)
	hasFail := false

	add := func(name string, status checkStatus, detail string) {
		if status == statusFail {
			hasFail = true
		}
		results = append(results, checkResult{name: name, status: status, detail: detail})
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		add("config", statusFail, err.Error())
		printDoctorResults(results)
		return fmt.Errorf("config load failed")
	}
	add("config", statusOK, "loaded")

	logDir := cfg.LoggingConfig().Path
	if err := os.MkdirAll(logDir, 0755); err != nil {
		add("logs", statusFail, err.Error())
	} else {
		add("logs", statusOK, logDir)
	}

	checkHistory(cfg.ExpandedHistoryPath(), add)
	checkAudit(cfg.Audit.Enabled, cfg.ExpandedAuditDir(), add)
	checkRegistry(cfg, add)
	checkSchedule(cfg, add)
	checkState(cfg.ExpandedStatePath(), add)
	checkDaemon(add)

	printDoctorResults(results)

	if hasFail {
		return fmt.Errorf("doctor found failures")
	}
	return nil
}

func checkHistory(dbPath string, add func(string, checkStatus, string)) {
	store, err := history.Open(dbPath)
	if err != nil {
		add("history", statusFail, err.Error())
		return
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats()
	if err != nil {
		add("history", statusWarn, fmt.Sprintf("opened, stats failed: %v", err))
		return
	}
	add("history", statusOK, fmt.Sprintf("%s (%d runs recorded)", dbPath, stats.TotalRuns))
}

func checkAudit(enabled bool, dir string, add func(string, checkStatus, string)) {
	if !enabled {
		add("audit", statusOK, "disabled")
		return
	}
	logger, err := audit.NewLogger(dir)
	if err != nil {
		add("audit", statusFail, err.Error())
		return
	}
	defer func() { _ = logger.Close() }()

	files, err := logger.LogFiles()
	if err != nil {
		add("audit", statusWarn, fmt.Sprintf("writable, listing failed: %v", err))
		return
	}
	add("audit", statusOK, fmt.Sprintf("%s (%d log file(s))", dir, len(files)))
}

func checkRegistry(cfg *config.Config, add func(string, checkStatus, string)) {
	registry, err := buildRegistry(cfg, false)
	if err != nil {
		add("tools", statusFail, err.Error())
		return
	}
	provider := cfg.Tools.DefaultProvider
	if provider == "" {
		add("tools", statusWarn, "no default provider; every task must name one")
		return
	}
	if _, ok := registry.Lookup(provider); !ok {
		add("tools", statusFail, fmt.Sprintf("default provider %q not registered (registered: %v)", provider, registry.Names()))
		return
	}
	add("tools", statusOK, fmt.Sprintf("default provider %q registered", provider))
}

func checkSchedule(cfg *config.Config, add func(string, checkStatus, string)) {
	_, err := daemon.NewFromConfig(&cfg.Daemon)
	if err != nil {
		if errors.Is(err, daemon.ErrNoSchedule) {
			add("schedule", statusWarn, "no schedule configured (cron or interval)")
			return
		}
		add("schedule", statusFail, err.Error())
		return
	}

	var detail string
	if cfg.Daemon.Interval > 0 {
		detail = fmt.Sprintf("every %s", cfg.Daemon.Interval)
	} else {
		detail = fmt.Sprintf("cron %s", cfg.Daemon.Schedule)
	}
	if len(cfg.Daemon.Plans) == 0 {
		add("schedule", statusWarn, detail+", but no plans configured")
		return
	}
	add("schedule", statusOK, fmt.Sprintf("%s, %d plan(s)", detail, len(cfg.Daemon.Plans)))
}

func checkState(statePath string, add func(string, checkStatus, string)) {
	st, err := state.New(statePath)
	if err != nil {
		add("state", statusFail, err.Error())
		return
	}
	add("state", statusOK, fmt.Sprintf("%d plan(s) tracked", st.PlanCount()))
}

func checkDaemon(add func(string, checkStatus, string)) {
	pid, err := readPidFile()
	if err != nil {
		add("daemon", statusWarn, "not running (pid file missing)")
		return
	}
	if isProcessRunning(pid) {
		add("daemon", statusOK, fmt.Sprintf("running (pid %d)", pid))
	} else {
		add("daemon", statusWarn, "pid file present but process not running")
	}
}

func printDoctorResults(results []checkResult) {
	fmt.Println("Flightplan doctor")
	fmt.Println("=================")
	for _, result := range results {
		fmt.Printf("[%s] %-20s %s\n", result.status, result.name, result.detail)
	}
	fmt.Println()
}
