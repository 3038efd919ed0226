package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/flightplan/internal/graph"
	"github.com/marcus/flightplan/internal/plan"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <plan-file>",
	Short: "Analyze a plan's structure without running it",
	Long: `Validate a plan and print its dependency structure.

With no flags, inspect prints a summary: roots, leaves, wave layout,
serial estimate and critical path. Pass one or more section flags to
print just those sections, in a form suitable for scripting. A plan
with a dependency cycle or unknown task reference fails validation and
the cycle is named in the error.

Examples:
  flightplan inspect plan.yaml
  flightplan inspect plan.yaml --batches
  flightplan inspect plan.yaml --diagram > plan.mmd
  flightplan inspect plan.yaml --json | jq .critical_path`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().Bool("order", false, "Print a sequential execution order, one task per line")
	inspectCmd.Flags().Bool("batches", false, "Print the parallel wave layout")
	inspectCmd.Flags().Bool("critical-path", false, "Print the critical path")
	inspectCmd.Flags().Bool("roots", false, "Print tasks with no dependencies")
	inspectCmd.Flags().Bool("leaves", false, "Print tasks nothing depends on")
	inspectCmd.Flags().Bool("diagram", false, "Print a Mermaid diagram of the dependency graph")
	inspectCmd.Flags().Bool("json", false, "Print the full analysis as JSON")
	rootCmd.AddCommand(inspectCmd)
}

// inspectResult is the JSON shape of a full plan analysis.
type inspectResult struct {
	Goal               string     `json:"goal"`
	Tasks              int        `json:"tasks"`
	Roots              []string   `json:"roots"`
	Leaves             []string   `json:"leaves"`
	Order              []string   `json:"order"`
	Waves              [][]string `json:"waves"`
	CriticalPath       []string   `json:"critical_path"`
	CriticalPathLength string     `json:"critical_path_length"`
	SerialEstimate     string     `json:"serial_estimate"`
	Diagram            string     `json:"diagram,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	planFile := args[0]

	p, err := plan.Load(planFile)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	g, err := graph.New(p.Tasks)
	if err != nil {
		return err
	}
	if ok, cycles := g.IsValidDAG(); !ok {
		return fmt.Errorf("plan is not a valid DAG: %s", strings.Join(cycles, "; "))
	}

	order, err := g.ExecutionOrder()
	if err != nil {
		return err
	}
	waves, err := g.ParallelBatches()
	if err != nil {
		return err
	}
	critical, err := g.CriticalPath()
	if err != nil {
		return err
	}
	criticalLen, err := g.CriticalPathLength()
	if err != nil {
		return err
	}
	roots := g.RootTasks()
	leaves := g.LeafTasks()

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		result := inspectResult{
			Goal:               p.Goal,
			Tasks:              len(p.Tasks),
			Roots:              taskIDList(roots),
			Leaves:             taskIDList(leaves),
			Order:              taskIDList(order),
			Waves:              waveIDList(waves),
			CriticalPath:       taskIDList(critical),
			CriticalPathLength: criticalLen.String(),
			SerialEstimate:     p.TotalEstimate().String(),
			Diagram:            g.ExportDiagram(),
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode analysis: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	showOrder, _ := cmd.Flags().GetBool("order")
	showBatches, _ := cmd.Flags().GetBool("batches")
	showCritical, _ := cmd.Flags().GetBool("critical-path")
	showRoots, _ := cmd.Flags().GetBool("roots")
	showLeaves, _ := cmd.Flags().GetBool("leaves")
	showDiagram, _ := cmd.Flags().GetBool("diagram")

	anySection := showOrder || showBatches || showCritical || showRoots || showLeaves || showDiagram
	if !anySection {
		printInspectSummary(p, planFile, roots, leaves, waves, critical, criticalLen)
		return nil
	}

	if showOrder {
		for _, t := range order {
			fmt.Println(t.ID)
		}
	}
	if showBatches {
		for i, wave := range waves {
			fmt.Printf("%d. %s\n", i+1, joinTaskIDs(wave, ", "))
		}
	}
	if showCritical {
		fmt.Printf("%s (%s)\n", joinTaskIDs(critical, " -> "), criticalLen)
	}
	if showRoots {
		for _, t := range roots {
			fmt.Println(t.ID)
		}
	}
	if showLeaves {
		for _, t := range leaves {
			fmt.Println(t.ID)
		}
	}
	if showDiagram {
		fmt.Println(g.ExportDiagram())
	}
	return nil
}

func printInspectSummary(p *plan.Plan, planFile string, roots, leaves []*plan.Task, waves [][]*plan.Task, critical []*plan.Task, criticalLen time.Duration) {
	fmt.Printf("Plan: %s\n", p.Goal)
	fmt.Printf("File: %s\n", planFile)
	fmt.Printf("Tasks: %d\n", len(p.Tasks))
	fmt.Printf("Roots: %s\n", joinTaskIDs(roots, ", "))
	fmt.Printf("Leaves: %s\n", joinTaskIDs(leaves, ", "))
	fmt.Printf("Serial estimate: %s\n", p.TotalEstimate())
	fmt.Printf("Critical path: %s (%s)\n", joinTaskIDs(critical, " -> "), criticalLen)

	fmt.Printf("\nWaves:\n")
	for i, wave := range waves {
		fmt.Printf("  %d. %s\n", i+1, joinTaskIDs(wave, ", "))
	}
}

func taskIDList(tasks []*plan.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func waveIDList(waves [][]*plan.Task) [][]string {
	out := make([][]string, len(waves))
	for i, wave := range waves {
		out[i] = taskIDList(wave)
	}
	return out
}
