package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/flightplan/internal/config"
	"github.com/marcus/flightplan/internal/history"
	"github.com/marcus/flightplan/internal/reporting"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runs",
	Long: `List, show and aggregate runs recorded in the history database.

Every run writes one row per run and one per task, so 'history stats'
can surface flaky tasks and compare estimated against actual durations
per task kind.

Examples:
  flightplan history                 # Recent runs
  flightplan history --limit 50
  flightplan history show abc12345   # Full report for one run
  flightplan history stats`,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full report for one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate statistics across recorded runs",
	RunE:  runHistoryStats,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Max runs to list")
	historyCmd.Flags().Bool("json", false, "Print runs as JSON")
	historyShowCmd.Flags().Bool("json", false, "Print the report as JSON")
	historyStatsCmd.Flags().Bool("json", false, "Print statistics as JSON")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyStatsCmd)
	rootCmd.AddCommand(historyCmd)
}

// openHistory loads config and opens the history store.
func openHistory(cmd *cobra.Command) (*history.Store, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := history.Open(cfg.ExpandedHistoryPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open history: %w", err)
	}
	return store, cfg, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOut, _ := cmd.Flags().GetBool("json")

	store, _, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if jsonOut {
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return fmt.Errorf("encode runs: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-17s %-9s %-22s %s\n", "RUN", "STATE", "STARTED", "DURATION", "TASKS", "GOAL")
	for _, r := range runs {
		fmt.Printf("%-10s %-10s %-17s %-9s %-22s %s\n",
			r.ID,
			r.State,
			r.StartedAt.Format("2006-01-02 15:04"),
			r.Duration.Round(time.Millisecond),
			taskTally(r),
			r.Goal)
	}
	return nil
}

// taskTally formats the per-run task counters, hiding zero columns.
func taskTally(r history.RunSummary) string {
	out := fmt.Sprintf("%d ok", r.Completed)
	if r.Failed > 0 {
		out += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.Blocked > 0 {
		out += fmt.Sprintf(", %d blocked", r.Blocked)
	}
	if r.Skipped > 0 {
		out += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	return out
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	store, _, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rep, err := store.GetRun(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	content, err := reporting.RenderReport(&reporting.RunResults{Report: rep})
	if err != nil {
		return err
	}
	fmt.Print(content)
	return nil
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	store, _, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("compute stats: %w", err)
	}

	if jsonOut {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if stats.TotalRuns == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Printf("Runs: %d", stats.TotalRuns)
	if stats.FirstRunAt != nil && stats.LastRunAt != nil {
		fmt.Printf(" (first %s, last %s)",
			stats.FirstRunAt.Format("2006-01-02"),
			stats.LastRunAt.Format("2006-01-02"))
	}
	fmt.Println()
	fmt.Printf("Time: %s total, %s avg per run\n", stats.TotalDuration, stats.AvgRunDuration)
	fmt.Printf("Tasks: %d completed, %d failed, %d blocked, %d skipped (%.1f%% success)\n",
		stats.TasksCompleted, stats.TasksFailed, stats.TasksBlocked, stats.TasksSkipped,
		stats.SuccessRate*100)
	fmt.Printf("Retries: %d\n", stats.TotalRetries)

	if len(stats.StateBreakdown) > 0 {
		fmt.Printf("States:")
		for _, state := range []string{"completed", "failed", "cancelled"} {
			if n, ok := stats.StateBreakdown[state]; ok {
				fmt.Printf(" %s=%d", state, n)
			}
		}
		fmt.Println()
	}

	if len(stats.FlakyTasks) > 0 {
		fmt.Println("\nFlaky tasks:")
		for _, t := range stats.FlakyTasks {
			fmt.Printf("  - %s: %d failure(s), %d retr%s over %d run(s), avg %s\n",
				t.TaskID, t.Failures, t.Retries, pluralY(t.Retries), t.Runs, t.AvgDuration)
		}
	}

	if len(stats.KindAccuracy) > 0 {
		fmt.Println("\nEstimate accuracy by kind:")
		for _, k := range stats.KindAccuracy {
			fmt.Printf("  - %s: %.2fx actual/estimate over %d task(s) (est %s, actual %s)\n",
				k.Kind, k.Ratio, k.Tasks, k.AvgEstimate, k.AvgActual)
		}
	}
	return nil
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
