package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/flightplan/internal/plan"
	"github.com/marcus/flightplan/internal/resolver"
)

var adviseCmd = &cobra.Command{
	Use:   "advise <plan-file>",
	Short: "Suggest improvements to a plan",
	Long: `Analyze a plan for missing dependency edges, bottlenecks and
implausible time estimates.

Two tasks that touch the same file or endpoint without a declared edge
between them are reported as an implicit dependency. Pass --apply to
write those edges into the plan file; everything else stays advisory.

Examples:
  flightplan advise plan.yaml
  flightplan advise plan.yaml --apply
  flightplan advise plan.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAdvise,
}

func init() {
	adviseCmd.Flags().Bool("apply", false, "Write detected implicit dependencies into the plan file")
	adviseCmd.Flags().Bool("json", false, "Print the analysis as JSON")
	rootCmd.AddCommand(adviseCmd)
}

// adviseResult is the JSON shape of a plan advisory analysis.
type adviseResult struct {
	Implicit         []resolver.ImplicitDependency `json:"implicit_dependencies,omitempty"`
	Bottlenecks      []resolver.Bottleneck         `json:"bottlenecks,omitempty"`
	EstimateWarnings []resolver.EstimateWarning    `json:"estimate_warnings,omitempty"`
	Advice           []string                      `json:"advice,omitempty"`
}

func runAdvise(cmd *cobra.Command, args []string) error {
	planFile := args[0]
	apply, _ := cmd.Flags().GetBool("apply")
	jsonOut, _ := cmd.Flags().GetBool("json")

	p, err := plan.Load(planFile)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	res := resolver.New(p)

	if apply {
		updated, added := res.AddImplicitDependencies()
		if len(added) == 0 {
			fmt.Println("No implicit dependencies to apply.")
			return nil
		}
		if err := plan.Save(updated, planFile); err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
		fmt.Printf("Added %d edge(s) to %s:\n", len(added), planFile)
		for _, dep := range added {
			fmt.Printf("  - %s -> %s (%s)\n", dep.ProducerID, dep.ConsumerID, dep.Reason)
		}
		return nil
	}

	if jsonOut {
		result := adviseResult{
			Implicit:         res.DetectImplicitDependencies(),
			Bottlenecks:      res.IdentifyBottlenecks(),
			EstimateWarnings: res.ValidateTimeEstimates(),
			Advice:           res.SuggestOptimizations(),
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode analysis: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	advice := res.SuggestOptimizations()
	if len(advice) == 0 {
		fmt.Printf("%s: no advisories, the plan looks clean.\n", planFile)
		return nil
	}
	fmt.Printf("Advisories for %s:\n", planFile)
	for _, a := range advice {
		fmt.Printf("  - %s\n", a)
	}
	if len(res.DetectImplicitDependencies()) > 0 {
		fmt.Println("\nRun with --apply to write the missing edges into the plan.")
	}
	return nil
}
