// Package ui provides a terminal UI for monitoring a plan run.
// Uses Bubbletea for interactive display of execution progress and events.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/flightplan/internal/engine"
	"github.com/marcus/flightplan/internal/plan"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelStatus Panel = iota
	PanelTasks
	PanelEvents
)

// TaskItem represents a task in the task list.
type TaskItem struct {
	ID          string
	Description string
	Kind        plan.TaskKind
	Status      plan.TaskStatus
	Attempts    int
}

// EventEntry represents an event log line.
type EventEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// EventMsg delivers an engine event to the model. The engine's event
// handler forwards these with Program.Send, so they arrive on the
// Bubbletea loop regardless of which goroutine emitted them.
type EventMsg engine.Event

// ReportMsg delivers the final report once the run settles.
type ReportMsg *engine.Report

// Model holds the TUI state.
type Model struct {
	// Display state
	width       int
	height      int
	activePanel Panel
	quitting    bool

	// Status panel
	goal          string
	runID         string
	state         plan.PlanState
	wave          int
	startedAt     time.Time
	finalDuration time.Duration

	// Task list
	tasks        []TaskItem
	taskScroll   int
	selectedTask int

	// Events
	events      []EventEntry
	eventScroll int

	// Progress
	progressTick int

	// Styles
	styles *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	// Panel borders
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	// Status indicators
	StatusOK      lipgloss.Style
	StatusWarn    lipgloss.Style
	StatusError   lipgloss.Style
	StatusRunning lipgloss.Style

	// Task list
	TaskSelected lipgloss.Style
	TaskNormal   lipgloss.Style

	// Event levels
	EventInfo  lipgloss.Style
	EventWarn  lipgloss.Style
	EventError lipgloss.Style

	// Help bar
	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

// newStyles creates the default style set.
func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Subtitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#333", Dark: "#ccc"}),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		StatusOK: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),

		StatusWarn: lipgloss.NewStyle().
			Foreground(yellow).
			Bold(true),

		StatusError: lipgloss.NewStyle().
			Foreground(red).
			Bold(true),

		StatusRunning: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),

		TaskSelected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		TaskNormal: lipgloss.NewStyle(),

		EventInfo:  lipgloss.NewStyle().Foreground(blue),
		EventWarn:  lipgloss.NewStyle().Foreground(yellow),
		EventError: lipgloss.NewStyle().Foreground(red),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg is sent periodically to update the UI.
type tickMsg time.Time

// New creates a new TUI model seeded with the plan's task list.
func New(p *plan.Plan) *Model {
	m := &Model{
		width:       80,
		height:      24,
		activePanel: PanelStatus,
		state:       plan.StatePlanning,
		tasks:       make([]TaskItem, 0),
		events:      make([]EventEntry, 0),
		styles:      newStyles(),
	}
	if p != nil {
		m.goal = p.Goal
		for _, t := range p.Tasks {
			m.tasks = append(m.tasks, TaskItem{
				ID:          t.ID,
				Description: t.Description,
				Kind:        t.Kind,
				Status:      t.Status,
			})
		}
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

// tickCmd returns a command that ticks every second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.progressTick++
		return m, tickCmd()

	case EventMsg:
		return m.applyEvent(engine.Event(msg)), nil

	case ReportMsg:
		return m.applyReport((*engine.Report)(msg)), nil
	}

	return m, nil
}

// applyEvent folds an engine lifecycle event into the model.
func (m Model) applyEvent(ev engine.Event) Model {
	switch ev.Type {
	case engine.EventPlanStart:
		m.runID = ev.RunID
		m.state = plan.StateExecuting
		m.startedAt = ev.Time
		m = m.addEvent(ev.Time, "info", "plan started: "+ev.Message)

	case engine.EventWaveStart:
		m.wave = ev.Wave
		m = m.addEvent(ev.Time, "info", fmt.Sprintf("wave %d: %s", ev.Wave, ev.Message))

	case engine.EventTaskStart:
		m = m.setTask(ev.TaskID, plan.StatusRunning, ev.Attempt)
		msg := ev.TaskID + " started"
		if ev.Attempt > 1 {
			msg = fmt.Sprintf("%s started (attempt %d/%d)", ev.TaskID, ev.Attempt, ev.Attempts)
		}
		m = m.addEvent(ev.Time, "info", msg)

	case engine.EventTaskRetry:
		m = m.setTask(ev.TaskID, plan.StatusReady, ev.Attempt)
		m = m.addEvent(ev.Time, "warn", fmt.Sprintf("%s failed, retrying: %s", ev.TaskID, ev.Error))

	case engine.EventTaskBlocked:
		m = m.setTask(ev.TaskID, plan.StatusBlocked, 0)
		m = m.addEvent(ev.Time, "warn", fmt.Sprintf("%s blocked: %s", ev.TaskID, ev.Message))

	case engine.EventTaskEnd:
		m = m.setTask(ev.TaskID, ev.Status, ev.Attempt)
		if ev.Status == plan.StatusFailed {
			m = m.addEvent(ev.Time, "error", fmt.Sprintf("%s failed: %s", ev.TaskID, ev.Error))
		} else {
			m = m.addEvent(ev.Time, "info", fmt.Sprintf("%s completed in %s", ev.TaskID, formatDuration(ev.Duration)))
		}

	case engine.EventPlanPaused:
		m = m.addEvent(ev.Time, "warn", "plan paused")

	case engine.EventPlanResumed:
		m = m.addEvent(ev.Time, "info", "plan resumed")

	case engine.EventPlanEnd:
		m.state = ev.State
		m.finalDuration = ev.Duration
		level := "info"
		if ev.State == plan.StateFailed {
			level = "error"
		}
		m = m.addEvent(ev.Time, level, fmt.Sprintf("plan %s in %s", ev.State, formatDuration(ev.Duration)))
	}
	return m
}

// applyReport reconciles the model with the final report. Events already
// carried most of this; the report is authoritative for terminal statuses.
func (m Model) applyReport(rep *engine.Report) Model {
	if rep == nil {
		return m
	}
	m.runID = rep.RunID
	m.state = rep.State
	m.finalDuration = rep.Duration
	for _, tr := range rep.Tasks {
		m = m.setTask(tr.TaskID, tr.Status, tr.Attempts)
	}
	return m
}

// setTask updates one task's status in the list.
func (m Model) setTask(id string, status plan.TaskStatus, attempts int) Model {
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks[i].Status = status
			if attempts > 0 {
				m.tasks[i].Attempts = attempts
			}
			break
		}
	}
	return m
}

// addEvent appends an event line, following the tail unless the user
// scrolled away.
func (m Model) addEvent(ts time.Time, level, message string) Model {
	if ts.IsZero() {
		ts = time.Now()
	}
	m.events = append(m.events, EventEntry{Time: ts, Level: level, Message: message})
	if m.eventScroll == len(m.events)-2 || len(m.events) == 1 {
		m.eventScroll = len(m.events) - 1
	}
	return m
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % 3
		return m, nil

	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + 2) % 3
		return m, nil

	case "up", "k":
		return m.handleUp(), nil

	case "down", "j":
		return m.handleDown(), nil

	case "home", "g":
		return m.handleHome(), nil

	case "end", "G":
		return m.handleEnd(), nil
	}

	return m, nil
}

// handleUp handles up arrow / k key.
func (m Model) handleUp() Model {
	switch m.activePanel {
	case PanelTasks:
		if m.selectedTask > 0 {
			m.selectedTask--
		}
	case PanelEvents:
		if m.eventScroll > 0 {
			m.eventScroll--
		}
	}
	return m
}

// handleDown handles down arrow / j key.
func (m Model) handleDown() Model {
	switch m.activePanel {
	case PanelTasks:
		if m.selectedTask < len(m.tasks)-1 {
			m.selectedTask++
		}
	case PanelEvents:
		if m.eventScroll < len(m.events)-1 {
			m.eventScroll++
		}
	}
	return m
}

// handleHome handles home / g key.
func (m Model) handleHome() Model {
	switch m.activePanel {
	case PanelTasks:
		m.selectedTask = 0
	case PanelEvents:
		m.eventScroll = 0
	}
	return m
}

// handleEnd handles end / G key.
func (m Model) handleEnd() Model {
	switch m.activePanel {
	case PanelTasks:
		if len(m.tasks) > 0 {
			m.selectedTask = len(m.tasks) - 1
		}
	case PanelEvents:
		if len(m.events) > 0 {
			m.eventScroll = len(m.events) - 1
		}
	}
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	// Panel dimensions
	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 3 // help bar and padding
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	statusPanel := m.renderStatusPanel(leftWidth-2, topHeight-2)
	taskPanel := m.renderTaskPanel(rightWidth-2, topHeight-2)
	eventPanel := m.renderEventPanel(m.width-2, bottomHeight-2)

	statusBorder := m.getBorder(PanelStatus).Width(leftWidth - 2).Height(topHeight - 2)
	taskBorder := m.getBorder(PanelTasks).Width(rightWidth - 2).Height(topHeight - 2)
	eventBorder := m.getBorder(PanelEvents).Width(m.width - 2).Height(bottomHeight - 2)

	topRow := lipgloss.JoinHorizontal(
		lipgloss.Top,
		statusBorder.Render(statusPanel),
		taskBorder.Render(taskPanel),
	)

	helpBar := m.renderHelpBar()

	return lipgloss.JoinVertical(
		lipgloss.Left,
		topRow,
		eventBorder.Render(eventPanel),
		helpBar,
	)
}

// getBorder returns the appropriate border style for a panel.
func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

// renderStatusPanel renders the run status panel content.
func (m Model) renderStatusPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Flightplan Run"))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Goal: "))
	if m.goal != "" {
		b.WriteString(m.styles.Value.Render(m.goal))
	} else {
		b.WriteString(m.styles.Muted.Render("None"))
	}
	b.WriteString("\n\n")

	var stateStyle lipgloss.Style
	switch m.state {
	case plan.StateExecuting:
		stateStyle = m.styles.StatusRunning
	case plan.StateCompleted:
		stateStyle = m.styles.StatusOK
	case plan.StateFailed:
		stateStyle = m.styles.StatusError
	case plan.StateCancelled:
		stateStyle = m.styles.StatusWarn
	default:
		stateStyle = m.styles.Muted
	}
	b.WriteString(m.styles.Label.Render("State: "))
	b.WriteString(stateStyle.Render(string(m.state)))
	if m.runID != "" {
		b.WriteString(m.styles.Muted.Render("  run " + m.runID))
	}
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Wave: "))
	if m.wave > 0 {
		b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d", m.wave)))
	} else {
		b.WriteString(m.styles.Muted.Render("Not started"))
	}
	b.WriteString("\n\n")

	done, failed := m.progressCounts()
	total := len(m.tasks)
	b.WriteString(m.styles.Label.Render("Tasks: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d/%d done, %d failed", done, total, failed)))
	b.WriteString("\n\n")

	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	b.WriteString(m.renderProgressBar(pct, width-4))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Elapsed: "))
	switch {
	case m.finalDuration > 0:
		b.WriteString(m.styles.Value.Render(formatDuration(m.finalDuration)))
	case !m.startedAt.IsZero():
		b.WriteString(m.styles.Value.Render(formatDuration(time.Since(m.startedAt))))
	default:
		b.WriteString(m.styles.Muted.Render("Not started"))
	}

	return b.String()
}

// progressCounts returns how many tasks reached a terminal status and
// how many of those failed or were blocked.
func (m Model) progressCounts() (done, failed int) {
	for _, t := range m.tasks {
		if t.Status.Terminal() {
			done++
		}
		if t.Status == plan.StatusFailed || t.Status == plan.StatusBlocked {
			failed++
		}
	}
	return done, failed
}

// renderProgressBar renders completion progress; failures turn it red.
func (m Model) renderProgressBar(pct, width int) string {
	if width < 10 {
		width = 10
	}

	filled := width * pct / 100
	if filled > width {
		filled = width
	}

	bar := strings.Repeat("=", filled) + strings.Repeat("-", width-filled)

	style := m.styles.StatusOK
	if _, failed := m.progressCounts(); failed > 0 {
		style = m.styles.StatusError
	}

	return "[" + style.Render(bar) + "]"
}

// renderTaskPanel renders the task list panel.
func (m Model) renderTaskPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Tasks"))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(m.styles.Muted.Render("No tasks loaded"))
		return b.String()
	}

	visibleTasks := height - 4
	if visibleTasks < 1 {
		visibleTasks = 1
	}

	// Keep the selected task in view.
	if m.selectedTask < m.taskScroll {
		m.taskScroll = m.selectedTask
	} else if m.selectedTask >= m.taskScroll+visibleTasks {
		m.taskScroll = m.selectedTask - visibleTasks + 1
	}

	for i := m.taskScroll; i < len(m.tasks) && i < m.taskScroll+visibleTasks; i++ {
		task := m.tasks[i]

		var statusIcon string
		var statusStyle lipgloss.Style
		switch task.Status {
		case plan.StatusRunning:
			statusIcon = m.spinner()
			statusStyle = m.styles.StatusRunning
		case plan.StatusCompleted:
			statusIcon = "*"
			statusStyle = m.styles.StatusOK
		case plan.StatusFailed:
			statusIcon = "x"
			statusStyle = m.styles.StatusError
		case plan.StatusBlocked:
			statusIcon = "!"
			statusStyle = m.styles.StatusWarn
		default: // pending, ready
			statusIcon = "o"
			statusStyle = m.styles.Muted
		}

		line := fmt.Sprintf(" %s %s", statusStyle.Render(statusIcon), task.ID)
		line += m.styles.Muted.Render(fmt.Sprintf(" [%s]", task.Kind))

		if i == m.selectedTask && m.activePanel == PanelTasks {
			line = m.styles.TaskSelected.Render(line)
		}

		if task.Attempts > 1 {
			line += m.styles.Muted.Render(fmt.Sprintf(" (attempt %d)", task.Attempts))
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.tasks) > visibleTasks {
		scrollInfo := fmt.Sprintf(" [%d/%d]", m.taskScroll+1, len(m.tasks))
		b.WriteString(m.styles.Muted.Render(scrollInfo))
	}

	return b.String()
}

// spinner returns a spinner character based on the current tick.
func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.progressTick%len(frames)]
}

// renderEventPanel renders the event log panel.
func (m Model) renderEventPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Events"))
	b.WriteString("\n\n")

	if len(m.events) == 0 {
		b.WriteString(m.styles.Muted.Render("No events yet"))
		return b.String()
	}

	visibleEvents := height - 4
	if visibleEvents < 1 {
		visibleEvents = 1
	}

	start := m.eventScroll
	if start+visibleEvents > len(m.events) {
		start = len(m.events) - visibleEvents
		if start < 0 {
			start = 0
		}
	}

	for i := start; i < len(m.events) && i < start+visibleEvents; i++ {
		entry := m.events[i]

		timeStr := entry.Time.Format("15:04:05")

		var levelStyle lipgloss.Style
		switch entry.Level {
		case "warn":
			levelStyle = m.styles.EventWarn
		case "error":
			levelStyle = m.styles.EventError
		default:
			levelStyle = m.styles.EventInfo
		}

		maxMsgLen := width - 20
		msg := entry.Message
		if len(msg) > maxMsgLen && maxMsgLen > 3 {
			msg = msg[:maxMsgLen-3] + "..."
		}

		line := fmt.Sprintf("%s %s %s",
			m.styles.Muted.Render(timeStr),
			levelStyle.Render(fmt.Sprintf("[%-5s]", entry.Level)),
			msg,
		)

		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.events) > visibleEvents {
		scrollInfo := fmt.Sprintf(" [%d/%d]", m.eventScroll+1, len(m.events))
		b.WriteString(m.styles.Muted.Render(scrollInfo))
	}

	return b.String()
}

// renderHelpBar renders the help bar at the bottom.
func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"tab", "switch panel"},
		{"j/k", "up/down"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// Run starts the TUI and blocks until the user quits.
func (m *Model) Run() error {
	p := tea.NewProgram(*m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunWithProgram starts the TUI in the background and returns the
// program so callers can Send it engine events.
func (m *Model) RunWithProgram() *tea.Program {
	p := tea.NewProgram(*m, tea.WithAltScreen())
	go func() {
		_, _ = p.Run()
	}()
	return p
}
