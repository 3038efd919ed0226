package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/marcus/flightplan/internal/audit"
	"github.com/marcus/flightplan/internal/engine"
	"github.com/marcus/flightplan/internal/graph"
	"github.com/marcus/flightplan/internal/history"
	"github.com/marcus/flightplan/internal/logging"
	"github.com/marcus/flightplan/internal/plan"
	"github.com/marcus/flightplan/internal/reporting"
	"github.com/marcus/flightplan/internal/resolver"
	"github.com/marcus/flightplan/internal/ui"
)

// isInteractive reports whether stdout is a terminal. Override in tests.
var isInteractive = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// confirmRun prompts the user for confirmation unless bypassed by flags or
// non-TTY context. Returns true if execution should proceed.
func confirmRun(yes bool, log *logging.Logger) (bool, error) {
	if yes {
		return true, nil
	}
	if !isInteractive() {
		log.Info("non-TTY: auto-confirming")
		return true, nil
	}
	fmt.Print("Proceed? [y/N]: ")
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		ans := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(ans, "y") || strings.EqualFold(ans, "yes") {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read stdin: %w", err)
	}
	return false, nil
}

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Rehearse or execute a task plan",
	Long: `Validate a plan's dependency structure and run it wave by wave.

By default the run is a rehearsal: every task goes through the simulated
tool provider with estimates compressed by the configured time scale, so
a multi-hour plan plays out in seconds. Pass --execute to run at
real-time pacing instead; execution asks for confirmation in interactive
terminals (skip with --yes).

Before anything runs, a preflight summary shows the wave layout, the
critical path, implicit dependencies that will be enforced, and any
advisories. Results land in the reports directory as JSON and Markdown,
and every run is recorded in history.

Flags:
  --execute          Run at real-time pacing instead of rehearsing.
  --tui              Watch the run in a full-screen terminal UI.
  --max-concurrent N Override how many tasks may run at once.
  --retries N        Override retry attempts per task.
  --fail-fast        Abort the whole run on the first permanent failure.
  --json             Print run results as JSON (suppresses live output).
  --output-dir DIR   Where to write run artifacts.
  --yes / -y         Skip the confirmation prompt.

Examples:
  flightplan run plan.yaml                  # Rehearse with live output
  flightplan run plan.yaml --tui            # Rehearse in the TUI
  flightplan run plan.yaml --execute -y     # Execute without prompting
  flightplan run plan.yaml --json > out.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("simulate", true, "Rehearse against simulated tools (default)")
	runCmd.Flags().Bool("execute", false, "Execute at real-time pacing")
	runCmd.Flags().Bool("tui", false, "Render the run in a full-screen terminal UI")
	runCmd.Flags().Int("max-concurrent", 0, "Override max concurrently running tasks")
	runCmd.Flags().Int("retries", 0, "Override retry attempts per task")
	runCmd.Flags().Bool("fail-fast", false, "Abort the run on the first permanent failure")
	runCmd.Flags().Bool("json", false, "Print run results as JSON")
	runCmd.Flags().String("output-dir", "", "Directory for run artifacts")
	runCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
	runCmd.Flags().Bool("no-color", false, "Disable colored output")
	rootCmd.AddCommand(runCmd)
}

// preflight captures everything shown before a run starts.
type preflight struct {
	planFile      string
	goal          string
	mode          string
	provider      string
	taskCount     int
	waves         [][]*plan.Task
	critical      []*plan.Task
	criticalLen   time.Duration
	totalEstimate time.Duration
	implicit      []resolver.ImplicitDependency
	advisories    []string
}

// buildPreflight validates the plan's structure and assembles the summary
// shown before execution. Structural problems are returned as errors;
// advisories never block.
func buildPreflight(planFile string, p *plan.Plan, mode, provider string) (*preflight, error) {
	g, err := graph.New(p.Tasks)
	if err != nil {
		return nil, err
	}
	if ok, cycles := g.IsValidDAG(); !ok {
		return nil, fmt.Errorf("plan is not a valid DAG: %s", strings.Join(cycles, "; "))
	}
	waves, err := g.ParallelBatches()
	if err != nil {
		return nil, err
	}
	critical, err := g.CriticalPath()
	if err != nil {
		return nil, err
	}
	criticalLen, err := g.CriticalPathLength()
	if err != nil {
		return nil, err
	}

	res := resolver.New(p)
	return &preflight{
		planFile:      planFile,
		goal:          p.Goal,
		mode:          mode,
		provider:      provider,
		taskCount:     len(p.Tasks),
		waves:         waves,
		critical:      critical,
		criticalLen:   criticalLen,
		totalEstimate: p.TotalEstimate(),
		implicit:      res.DetectImplicitDependencies(),
		advisories:    res.SuggestOptimizations(),
	}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	planFile := args[0]
	simulateFlag, _ := cmd.Flags().GetBool("simulate")
	executeFlag, _ := cmd.Flags().GetBool("execute")
	useTUI, _ := cmd.Flags().GetBool("tui")
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
	retries, _ := cmd.Flags().GetInt("retries")
	failFast, _ := cmd.Flags().GetBool("fail-fast")
	jsonOut, _ := cmd.Flags().GetBool("json")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	yes, _ := cmd.Flags().GetBool("yes")

	if executeFlag && cmd.Flags().Changed("simulate") && simulateFlag {
		return fmt.Errorf("--simulate and --execute are mutually exclusive")
	}
	mode := "simulate"
	if executeFlag {
		mode = "execute"
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	applyNoColor(noColor)

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\ninterrupt received, shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	log := logging.Component("run")
	log.InfoCtx("starting run", map[string]any{"plan": planFile, "mode": mode})

	p, err := plan.Load(planFile)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	applyDefaultProvider(p, cfg.Tools.DefaultProvider)

	pf, err := buildPreflight(planFile, p, mode, cfg.Tools.DefaultProvider)
	if err != nil {
		return err
	}

	if !jsonOut {
		if isInteractive() {
			displayPreflightColored(pf)
		} else {
			displayPreflight(os.Stdout, pf)
		}
	}

	// Rehearsals are side-effect free; only real executions need consent.
	if executeFlag {
		proceed, err := confirmRun(yes, log)
		if err != nil {
			return err
		}
		if !proceed {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	registry, err := buildRegistry(cfg, executeFlag)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	engCfg := cfg.EngineConfig()
	if cmd.Flags().Changed("max-concurrent") && maxConcurrent > 0 {
		engCfg.MaxParallel = maxConcurrent
	}
	if cmd.Flags().Changed("retries") && retries > 0 {
		engCfg.RetryLimit = retries
	}
	if failFast {
		engCfg.FailurePolicy = engine.FailAbort
	}

	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.ExpandedHistoryPath())
		if err != nil {
			log.Warnf("history disabled: %v", err)
			store = nil
		} else {
			defer func() { _ = store.Close() }()
		}
	}

	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		auditLog, err := audit.NewLogger(cfg.ExpandedAuditDir())
		if err != nil {
			log.Warnf("audit disabled: %v", err)
		} else {
			defer func() { _ = auditLog.Close() }()
			recorder = audit.NewRecorder(auditLog)
		}
	}

	var prog *tea.Program
	var renderer *liveRenderer
	switch {
	case useTUI:
		prog = ui.New(p).RunWithProgram()
	case jsonOut:
		// Live output suppressed; results go to stdout as JSON.
	case isInteractive():
		renderer = newLiveRenderer()
		defer renderer.cleanup()
	}

	handler := func(ev engine.Event) {
		recorder.HandleEvent(ev)
		switch {
		case prog != nil:
			prog.Send(ui.EventMsg(ev))
		case renderer != nil:
			renderer.HandleEvent(ev)
		case !jsonOut:
			plainEventLine(os.Stdout, ev)
		}
	}

	hooks := engine.Hooks{
		OnPlanComplete: func(rep *engine.Report) {
			if store == nil {
				return
			}
			if err := store.RecordRun(rep); err != nil {
				log.Warnf("record run: %v", err)
				return
			}
			if cfg.History.KeepRuns > 0 {
				if _, err := store.Trim(cfg.History.KeepRuns); err != nil {
					log.Warnf("trim history: %v", err)
				}
			}
		},
		OnPlanAudit: func(rep *engine.Report) {
			recorder.RecordReport(rep)
		},
	}

	eng := engine.New(
		engine.WithRegistry(registry),
		engine.WithConfig(engCfg),
		engine.WithLogger(logging.Component("engine")),
		engine.WithEventHandler(handler),
		engine.WithHooks(hooks),
	)

	report, execErr := eng.ExecutePlan(ctx, p)

	if prog != nil {
		if report != nil {
			prog.Send(ui.ReportMsg(report))
		}
		prog.Wait()
	}
	if renderer != nil {
		renderer.cleanup()
	}

	if report == nil {
		return execErr
	}

	results := &reporting.RunResults{
		PlanFile:    planFile,
		Mode:        mode,
		Provider:    cfg.Tools.DefaultProvider,
		Advisories:  pf.advisories,
		Report:      report,
		GeneratedAt: time.Now(),
	}

	dir := outputDir
	if dir == "" {
		dir = reporting.DefaultReportsDir()
	}
	resultsPath := reporting.ResultsPath(dir, report.RunID)
	reportPath := reporting.ReportPath(dir, report.RunID)
	if err := reporting.SaveResults(results, resultsPath); err != nil {
		log.Warnf("save results: %v", err)
	}
	if err := reporting.SaveReport(results, reportPath); err != nil {
		log.Warnf("save report: %v", err)
	}

	if jsonOut {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		fmt.Println(string(data))
	} else if prog == nil {
		if isInteractive() {
			displayRunSummaryColored(report)
		} else {
			displayRunSummary(os.Stdout, report)
		}
		fmt.Printf("Results: %s\n", resultsPath)
		fmt.Printf("Report:  %s\n", reportPath)
	}

	if execErr != nil {
		return execErr
	}
	if !report.Succeeded() {
		return fmt.Errorf("run %s finished %s", report.RunID, report.State)
	}
	return nil
}
