package reporting

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/marcus/flightplan/internal/engine"
	"github.com/marcus/flightplan/internal/plan"
)

// RenderReport renders a markdown report for a single run.
func RenderReport(results *RunResults) (string, error) {
	if results == nil || results.Report == nil {
		return "", fmt.Errorf("results missing a report")
	}
	rep := results.Report

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Flightplan Run %s - %s\n\n", rep.RunID, rep.StartedAt.Format("2006-01-02 15:04"))
	if rep.Goal != "" {
		fmt.Fprintf(&buf, "Goal: %s\n\n", rep.Goal)
	}

	buf.WriteString("## Summary\n")
	fmt.Fprintf(&buf, "- State: %s\n", rep.State)
	if results.PlanFile != "" {
		line := "- Plan: " + results.PlanFile
		if results.Mode != "" {
			line += fmt.Sprintf(" (%s)", results.Mode)
		}
		buf.WriteString(line + "\n")
	}
	fmt.Fprintf(&buf, "- Duration: %s over %s\n", formatDuration(rep.Duration), plural(rep.Waves, "wave"))
	fmt.Fprintf(&buf, "- Tasks: %d completed, %d failed, %d blocked, %d skipped\n",
		rep.Completed, rep.Failed, rep.Blocked, rep.Skipped)
	if rep.Error != "" {
		fmt.Fprintf(&buf, "- Error: %s\n", rep.Error)
	}
	buf.WriteString("\n")

	if len(rep.ImplicitDeps) > 0 {
		buf.WriteString("## Implicit Dependencies Added\n")
		for _, dep := range rep.ImplicitDeps {
			fmt.Fprintf(&buf, "- %s depends on %s (%s)\n", dep.ConsumerID, dep.ProducerID, dep.Reason)
		}
		buf.WriteString("\n")
	}

	writeWaveSections(&buf, rep)

	if len(results.Advisories) > 0 {
		buf.WriteString("## Advisories\n")
		for _, a := range results.Advisories {
			fmt.Fprintf(&buf, "- %s\n", a)
		}
		buf.WriteString("\n")
	}

	return buf.String(), nil
}

// SaveReport renders and writes a markdown report to disk.
func SaveReport(results *RunResults, path string) error {
	content, err := RenderReport(results)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// writeWaveSections groups task outcomes by the wave they ran in.
// Tasks with no wave never dispatched; they land in a Not Run section.
func writeWaveSections(buf *bytes.Buffer, rep *engine.Report) {
	byWave := make(map[int][]engine.TaskReport)
	var notRun []engine.TaskReport
	for _, t := range rep.Tasks {
		if t.Wave == 0 {
			notRun = append(notRun, t)
			continue
		}
		byWave[t.Wave] = append(byWave[t.Wave], t)
	}

	if len(byWave) > 0 {
		buf.WriteString("## Execution\n")
		waves := make([]int, 0, len(byWave))
		for w := range byWave {
			waves = append(waves, w)
		}
		sort.Ints(waves)
		for _, w := range waves {
			fmt.Fprintf(buf, "\n### Wave %d\n", w)
			for _, t := range byWave[w] {
				buf.WriteString(taskLine(t))
			}
		}
		buf.WriteString("\n")
	}

	if len(notRun) > 0 {
		buf.WriteString("## Not Run\n")
		for _, t := range notRun {
			buf.WriteString(taskLine(t))
		}
		buf.WriteString("\n")
	}
}

// taskLine formats one task outcome as a markdown list item.
func taskLine(t engine.TaskReport) string {
	switch t.Status {
	case plan.StatusCompleted:
		line := fmt.Sprintf("- %s %s [%s] %s (estimated %s)",
			glyph(t.Status), t.TaskID, t.Kind, formatDuration(t.Duration), formatDuration(t.Estimate))
		if t.Attempts > 1 {
			line += ", " + plural(t.Attempts, "attempt")
		}
		return line + "\n"
	case plan.StatusFailed:
		line := fmt.Sprintf("- %s %s [%s] failed after %s",
			glyph(t.Status), t.TaskID, t.Kind, plural(t.Attempts, "attempt"))
		if t.Output != nil && t.Output.Error != "" {
			line += ": " + t.Output.Error
		}
		return line + "\n"
	case plan.StatusBlocked:
		line := fmt.Sprintf("- %s %s [%s] blocked", glyph(t.Status), t.TaskID, t.Kind)
		if t.BlockedBy != "" {
			line += " by " + t.BlockedBy
		}
		return line + "\n"
	default:
		if t.Wave == 0 {
			return fmt.Sprintf("- %s %s [%s] never dispatched\n", glyph(t.Status), t.TaskID, t.Kind)
		}
		return fmt.Sprintf("- %s %s [%s] did not finish\n", glyph(t.Status), t.TaskID, t.Kind)
	}
}

// Helper functions

func glyph(s plan.TaskStatus) string {
	switch s {
	case plan.StatusCompleted:
		return "✓"
	case plan.StatusFailed:
		return "✗"
	case plan.StatusBlocked:
		return "⊘"
	default:
		return "·"
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
