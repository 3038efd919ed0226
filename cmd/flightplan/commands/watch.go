package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marcus/flightplan/internal/graph"
	"github.com/marcus/flightplan/internal/plan"
	"github.com/marcus/flightplan/internal/resolver"
)

var watchCmd = &cobra.Command{
	Use:   "watch <plan-file>",
	Short: "Re-validate a plan whenever it changes",
	Long: `Watch a plan file and re-run validation and advisories on every
save. Useful in a split terminal while hand-editing a plan: structural
errors and missing edges show up the moment the file is written.

Press Ctrl+C to stop watching.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// Editors tend to fire several events per save (write, rename, chmod).
// A short debounce collapses them into one check.
const watchDebounce = 200 * time.Millisecond

func runWatch(cmd *cobra.Command, args []string) error {
	planFile := args[0]

	abs, err := filepath.Abs(planFile)
	if err != nil {
		return fmt.Errorf("resolve plan path: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save,
	// which drops a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching plan dir: %w", err)
	}

	fmt.Printf("--- Watching %s (Ctrl+C to exit) ---\n", planFile)
	checkPlan(planFile)

	var pending *time.Timer
	recheck := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nstopped watching")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(abs) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(watchDebounce, func() {
				select {
				case recheck <- struct{}{}:
				default:
				}
			})

		case <-recheck:
			checkPlan(planFile)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

// checkPlan runs one validation pass and prints a timestamped verdict.
func checkPlan(planFile string) {
	stamp := time.Now().Format("15:04:05")

	p, err := plan.Load(planFile)
	if err != nil {
		fmt.Printf("[%s] FAIL %v\n", stamp, err)
		return
	}
	g, err := graph.New(p.Tasks)
	if err != nil {
		fmt.Printf("[%s] FAIL %v\n", stamp, err)
		return
	}
	if ok, cycles := g.IsValidDAG(); !ok {
		fmt.Printf("[%s] FAIL cycle: %s\n", stamp, strings.Join(cycles, "; "))
		return
	}

	waves, err := g.ParallelBatches()
	if err != nil {
		fmt.Printf("[%s] FAIL %v\n", stamp, err)
		return
	}
	fmt.Printf("[%s] PASS %d task(s) in %d wave(s), serial estimate %s\n",
		stamp, len(p.Tasks), len(waves), p.TotalEstimate())

	for _, a := range resolver.New(p).SuggestOptimizations() {
		fmt.Printf("         advisory: %s\n", a)
	}
}
