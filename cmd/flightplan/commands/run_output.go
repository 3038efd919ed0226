package commands

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/flightplan/internal/engine"
	"github.com/marcus/flightplan/internal/plan"
)

// runStyles holds lipgloss styles for colored run output.
type runStyles struct {
	Title   lipgloss.Style
	Phase   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Warn    lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Accent  lipgloss.Style
}

func newRunStyles() runStyles {
	return runStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
		Phase:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Value:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Success: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		Accent:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
	}
}

// asyncSpinner renders a braille spinner on the current line using \r.
type asyncSpinner struct {
	mu      sync.Mutex
	label   string
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func newAsyncSpinner() *asyncSpinner {
	return &asyncSpinner{}
}

func (s *asyncSpinner) start(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.label = label
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run()
}

func (s *asyncSpinner) run() {
	defer close(s.doneCh)
	idx := 0
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			// Clear the spinner line; protect label read
			s.mu.Lock()
			clearLen := len(s.label) + 4
			s.mu.Unlock()
			fmt.Printf("\r%s\r", strings.Repeat(" ", clearLen))
			return
		case <-ticker.C:
			s.mu.Lock()
			label := s.label
			s.mu.Unlock()
			frame := spinnerFrames[idx%len(spinnerFrames)]
			fmt.Printf("\r  %s %s", frame, label)
			idx++
		}
	}
}

func (s *asyncSpinner) stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	close(s.stopCh)
	<-s.doneCh
}

// liveRenderer handles engine events and renders colored output. The
// engine emits events synchronously, so no mutex is needed here; the
// spinner has its own synchronization.
type liveRenderer struct {
	styles  runStyles
	spinner *asyncSpinner
}

func newLiveRenderer() *liveRenderer {
	return &liveRenderer{
		styles:  newRunStyles(),
		spinner: newAsyncSpinner(),
	}
}

// cleanup stops the spinner if still running. Safe to call multiple times.
func (r *liveRenderer) cleanup() {
	r.spinner.stop()
}

// HandleEvent renders one engine event to the terminal. Task results for a
// wave arrive together once the wave drains, so the spinner runs from the
// last dispatch of a wave until its first result.
func (r *liveRenderer) HandleEvent(e engine.Event) {
	switch e.Type {
	case engine.EventPlanStart:
		fmt.Printf("\n%s %s %s\n", r.styles.Accent.Render(">>>"), r.styles.Title.Render(e.Message), r.styles.Muted.Render(fmt.Sprintf("(run %s)", e.RunID)))

	case engine.EventWaveStart:
		r.spinner.stop()
		fmt.Printf("\n  %s %s\n", r.styles.Phase.Render(fmt.Sprintf("WAVE %d", e.Wave)), r.styles.Muted.Render(fmt.Sprintf("(%s)", e.Message)))
		r.spinner.start(fmt.Sprintf("wave %d", e.Wave))

	case engine.EventTaskStart:
		r.spinner.stop()
		if e.Attempt > 1 {
			fmt.Printf("  %s %s\n", r.styles.Warn.Render("●"), r.styles.Value.Render(fmt.Sprintf("%s (attempt %d/%d)", e.TaskID, e.Attempt, e.Attempts)))
		} else {
			fmt.Printf("  %s %s\n", r.styles.Accent.Render("●"), r.styles.Value.Render(e.TaskID))
		}
		r.spinner.start(fmt.Sprintf("wave %d", e.Wave))

	case engine.EventTaskRetry:
		r.spinner.stop()
		fmt.Printf("  %s %s %s\n", r.styles.Warn.Render("RETRY"), r.styles.Value.Render(fmt.Sprintf("%s (attempt %d/%d)", e.TaskID, e.Attempt, e.Attempts)), r.styles.Muted.Render(e.Error))

	case engine.EventTaskBlocked:
		r.spinner.stop()
		fmt.Printf("  %s %s %s\n", r.styles.Warn.Render("BLOCKED"), r.styles.Value.Render(e.TaskID), r.styles.Muted.Render(fmt.Sprintf("(%s)", e.Message)))

	case engine.EventTaskEnd:
		r.spinner.stop()
		elapsed := e.Duration.Round(time.Millisecond)
		switch e.Status {
		case plan.StatusCompleted:
			fmt.Printf("  %s %s %s\n", r.styles.Success.Render("COMPLETED"), r.styles.Value.Render(e.TaskID), r.styles.Muted.Render(fmt.Sprintf("(%s)", elapsed)))
		case plan.StatusFailed:
			msg := "FAILED"
			if e.Error != "" {
				msg = fmt.Sprintf("FAILED: %s", e.Error)
			}
			fmt.Printf("  %s %s %s\n", r.styles.Error.Render(msg), r.styles.Value.Render(e.TaskID), r.styles.Muted.Render(fmt.Sprintf("(%s)", elapsed)))
		default:
			fmt.Printf("  %s %s %s\n", r.styles.Label.Render(string(e.Status)), r.styles.Value.Render(e.TaskID), r.styles.Muted.Render(fmt.Sprintf("(%s)", elapsed)))
		}

	case engine.EventPlanPaused:
		r.spinner.stop()
		fmt.Printf("  %s\n", r.styles.Warn.Render("PAUSED"))

	case engine.EventPlanResumed:
		fmt.Printf("  %s\n", r.styles.Phase.Render("RESUMED"))

	case engine.EventPlanEnd:
		r.spinner.stop()
	}
}

// plainEventLine renders one engine event as an uncolored progress line
// for non-TTY contexts (cron, CI, piped output).
func plainEventLine(w io.Writer, e engine.Event) {
	switch e.Type {
	case engine.EventPlanStart:
		fmt.Fprintf(w, "run %s: %s\n", e.RunID, e.Message)
	case engine.EventWaveStart:
		fmt.Fprintf(w, "wave %d: %s\n", e.Wave, e.Message)
	case engine.EventTaskStart:
		fmt.Fprintf(w, "  start %s (attempt %d/%d)\n", e.TaskID, e.Attempt, e.Attempts)
	case engine.EventTaskRetry:
		fmt.Fprintf(w, "  retry %s (attempt %d/%d): %s\n", e.TaskID, e.Attempt, e.Attempts, e.Error)
	case engine.EventTaskBlocked:
		fmt.Fprintf(w, "  blocked %s: %s\n", e.TaskID, e.Message)
	case engine.EventTaskEnd:
		if e.Error != "" {
			fmt.Fprintf(w, "  %s %s (%s): %s\n", e.Status, e.TaskID, e.Duration.Round(time.Millisecond), e.Error)
		} else {
			fmt.Fprintf(w, "  %s %s (%s)\n", e.Status, e.TaskID, e.Duration.Round(time.Millisecond))
		}
	case engine.EventPlanPaused:
		fmt.Fprintln(w, "paused")
	case engine.EventPlanResumed:
		fmt.Fprintln(w, "resumed")
	}
}

// displayPreflight renders the preflight summary to the given writer.
func displayPreflight(w io.Writer, pf *preflight) {
	fmt.Fprintf(w, "\n=== Preflight Summary ===\n")
	fmt.Fprintf(w, "Plan: %s\n", pf.goal)
	fmt.Fprintf(w, "File: %s\n", pf.planFile)
	fmt.Fprintf(w, "Mode: %s\n", pf.mode)
	if pf.provider != "" {
		fmt.Fprintf(w, "Provider: %s\n", pf.provider)
	}
	fmt.Fprintf(w, "Tasks: %d across %d wave(s)\n", pf.taskCount, len(pf.waves))
	fmt.Fprintf(w, "Serial estimate: %s\n", pf.totalEstimate)
	fmt.Fprintf(w, "Critical path: %s (%s)\n", joinTaskIDs(pf.critical, " -> "), pf.criticalLen)

	fmt.Fprintf(w, "\nWaves:\n")
	for i, wave := range pf.waves {
		fmt.Fprintf(w, "  %d. %s\n", i+1, joinTaskIDs(wave, ", "))
	}

	if len(pf.implicit) > 0 {
		fmt.Fprintf(w, "\nImplicit dependencies (will be enforced):\n")
		for _, dep := range pf.implicit {
			fmt.Fprintf(w, "  - %s -> %s (%s)\n", dep.ProducerID, dep.ConsumerID, dep.Reason)
		}
	}

	if len(pf.advisories) > 0 {
		fmt.Fprintf(w, "\nAdvisories:\n")
		for _, a := range pf.advisories {
			fmt.Fprintf(w, "  - %s\n", a)
		}
	}

	fmt.Fprintln(w)
}

// displayPreflightColored renders the preflight summary with colors.
func displayPreflightColored(pf *preflight) {
	s := newRunStyles()
	hr := strings.Repeat("─", 40)

	fmt.Println()
	fmt.Println(s.Title.Render("Preflight Summary"))
	fmt.Println(s.Muted.Render(hr))

	fmt.Printf("  %s %s\n", s.Label.Render("Plan:"), s.Value.Render(pf.goal))
	fmt.Printf("  %s %s\n", s.Label.Render("File:"), s.Value.Render(pf.planFile))
	fmt.Printf("  %s %s\n", s.Label.Render("Mode:"), s.Value.Render(pf.mode))
	if pf.provider != "" {
		fmt.Printf("  %s %s\n", s.Label.Render("Provider:"), s.Value.Render(pf.provider))
	}
	fmt.Printf("  %s %s\n", s.Label.Render("Tasks:"), s.Value.Render(fmt.Sprintf("%d across %d wave(s)", pf.taskCount, len(pf.waves))))
	fmt.Printf("  %s %s\n", s.Label.Render("Serial estimate:"), s.Value.Render(pf.totalEstimate.String()))
	fmt.Printf("  %s %s %s\n", s.Label.Render("Critical path:"), s.Value.Render(joinTaskIDs(pf.critical, " -> ")), s.Muted.Render(fmt.Sprintf("(%s)", pf.criticalLen)))

	fmt.Printf("\n  %s\n", s.Phase.Render("Waves"))
	for i, wave := range pf.waves {
		fmt.Printf("  %s %s\n", s.Accent.Render(fmt.Sprintf("%d.", i+1)), s.Value.Render(joinTaskIDs(wave, ", ")))
	}

	if len(pf.implicit) > 0 {
		fmt.Printf("\n  %s\n", s.Phase.Render("Implicit dependencies (will be enforced)"))
		for _, dep := range pf.implicit {
			fmt.Printf("    %s %s %s\n", s.Accent.Render("●"), s.Value.Render(fmt.Sprintf("%s -> %s", dep.ProducerID, dep.ConsumerID)), s.Muted.Render(fmt.Sprintf("(%s)", dep.Reason)))
		}
	}

	if len(pf.advisories) > 0 {
		fmt.Printf("\n  %s\n", s.Warn.Render("Advisories:"))
		for _, a := range pf.advisories {
			fmt.Printf("    %s %s\n", s.Warn.Render("●"), s.Muted.Render(a))
		}
	}

	fmt.Println(s.Muted.Render(hr))
	fmt.Println()
}

// displayRunSummary renders the final run summary to the given writer.
func displayRunSummary(w io.Writer, rep *engine.Report) {
	fmt.Fprintf(w, "\n=== Run Complete ===\n")
	fmt.Fprintf(w, "Run: %s\n", rep.RunID)
	fmt.Fprintf(w, "State: %s\n", rep.State)
	fmt.Fprintf(w, "Duration: %s\n", rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Tasks: %d completed, %d failed, %d blocked, %d skipped (%d wave(s))\n",
		rep.Completed, rep.Failed, rep.Blocked, rep.Skipped, rep.Waves)

	var failed, blocked []engine.TaskReport
	for _, tr := range rep.Tasks {
		switch tr.Status {
		case plan.StatusFailed:
			failed = append(failed, tr)
		case plan.StatusBlocked:
			blocked = append(blocked, tr)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(w, "\nFailed:\n")
		for _, tr := range failed {
			fmt.Fprintf(w, "  - %s (attempt %d): %s\n", tr.TaskID, tr.Attempts, taskErrorMessage(tr))
		}
	}
	if len(blocked) > 0 {
		fmt.Fprintf(w, "\nBlocked:\n")
		for _, tr := range blocked {
			fmt.Fprintf(w, "  - %s (ancestor %s failed)\n", tr.TaskID, tr.BlockedBy)
		}
	}
	if rep.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", rep.Error)
	}
	fmt.Fprintln(w)
}

// displayRunSummaryColored renders the final run summary with colors.
func displayRunSummaryColored(rep *engine.Report) {
	s := newRunStyles()
	hr := strings.Repeat("─", 40)

	fmt.Println()
	fmt.Println(s.Muted.Render(hr))
	fmt.Println(s.Title.Render("Run Complete"))
	fmt.Printf("  %s %s\n", s.Label.Render("Run:"), s.Value.Render(rep.RunID))

	stateStyle := s.Success
	switch rep.State {
	case plan.StateFailed:
		stateStyle = s.Error
	case plan.StateCancelled:
		stateStyle = s.Warn
	}
	fmt.Printf("  %s %s\n", s.Label.Render("State:"), stateStyle.Render(string(rep.State)))
	fmt.Printf("  %s %s\n", s.Label.Render("Duration:"), s.Value.Render(rep.Duration.Round(time.Millisecond).String()))
	fmt.Printf("  %s %s\n", s.Label.Render("Tasks:"),
		s.Value.Render(fmt.Sprintf("%d completed, %d failed, %d blocked, %d skipped (%d wave(s))",
			rep.Completed, rep.Failed, rep.Blocked, rep.Skipped, rep.Waves)))

	for _, tr := range rep.Tasks {
		switch tr.Status {
		case plan.StatusFailed:
			fmt.Printf("    %s %s %s\n", s.Error.Render("●"), s.Value.Render(tr.TaskID), s.Muted.Render(taskErrorMessage(tr)))
		case plan.StatusBlocked:
			fmt.Printf("    %s %s %s\n", s.Warn.Render("●"), s.Value.Render(tr.TaskID), s.Muted.Render(fmt.Sprintf("blocked by %s", tr.BlockedBy)))
		}
	}
	if rep.Error != "" {
		fmt.Printf("  %s %s\n", s.Label.Render("Error:"), s.Error.Render(rep.Error))
	}
	fmt.Println()
}

func taskErrorMessage(tr engine.TaskReport) string {
	if tr.Output == nil {
		return ""
	}
	return tr.Output.Error
}

func joinTaskIDs(tasks []*plan.Task, sep string) string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return strings.Join(ids, sep)
}
