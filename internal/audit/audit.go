// Package audit provides an append-only audit trail for plan executions.
// Every run leaves a durable JSONL record of what dispatched, what
// retried, and how the plan ended.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditPlanStart    AuditEventType = "plan_start"
	AuditPlanComplete AuditEventType = "plan_complete"
	AuditPlanPaused   AuditEventType = "plan_paused"
	AuditPlanResumed  AuditEventType = "plan_resumed"
	AuditTaskStart    AuditEventType = "task_start"
	AuditTaskComplete AuditEventType = "task_complete"
	AuditTaskRetry    AuditEventType = "task_retry"
	AuditTaskFailed   AuditEventType = "task_failed"
	AuditTaskBlocked  AuditEventType = "task_blocked"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType AuditEventType    `json:"event_type"`
	RunID     string            `json:"run_id,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
	Wave      int               `json:"wave,omitempty"`
	Attempt   int               `json:"attempt,omitempty"`
	Action    string            `json:"action,omitempty"`
	Result    string            `json:"result,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// Logger writes audit events to an append-only log file.
type Logger struct {
	logDir    string
	file      *os.File
	mu        sync.Mutex
	sessionID string
}

// NewLogger creates a new audit logger.
func NewLogger(logDir string) (*Logger, error) {
	if logDir == "" {
		home, _ := os.UserHomeDir()
		logDir = filepath.Join(home, ".local", "share", "flightplan", "audit")
	}

	// Restricted permissions: the trail can contain task error detail.
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit log dir: %w", err)
	}

	logger := &Logger{
		logDir:    logDir,
		sessionID: fmt.Sprintf("sess-%d", time.Now().UnixNano()),
	}

	if err := logger.openLogFile(); err != nil {
		return nil, err
	}

	return logger, nil
}

// openLogFile opens or creates the current day's audit log.
func (l *Logger) openLogFile() error {
	filename := fmt.Sprintf("audit-%s.jsonl", time.Now().Format("2006-01-02"))
	path := filepath.Join(l.logDir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	l.file = f
	return nil
}

// Log writes an audit event to the log and syncs it to disk.
func (l *Logger) Log(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.SessionID = l.sessionID
	if event.RequestID == "" {
		event.RequestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing audit log: %w", err)
	}

	return nil
}

// LogPlanStart logs the beginning of a plan execution.
func (l *Logger) LogPlanStart(runID, goal string, taskCount int) error {
	return l.Log(AuditEvent{
		EventType: AuditPlanStart,
		RunID:     runID,
		Action:    "start",
		Result:    goal,
		Metadata:  map[string]string{"tasks": fmt.Sprintf("%d", taskCount)},
	})
}

// LogTaskStart logs one task execution attempt beginning.
func (l *Logger) LogTaskStart(runID, taskID string, wave, attempt int) error {
	return l.Log(AuditEvent{
		EventType: AuditTaskStart,
		RunID:     runID,
		TaskID:    taskID,
		Wave:      wave,
		Attempt:   attempt,
		Action:    "start",
	})
}

// LogTaskComplete logs a task finishing successfully.
func (l *Logger) LogTaskComplete(runID, taskID string, attempt int, duration time.Duration, result string) error {
	return l.Log(AuditEvent{
		EventType: AuditTaskComplete,
		RunID:     runID,
		TaskID:    taskID,
		Attempt:   attempt,
		Action:    "complete",
		Duration:  duration,
		Result:    result,
	})
}

// LogTaskRetry logs a failed attempt that will be retried.
func (l *Logger) LogTaskRetry(runID, taskID string, attempt int, errMsg string) error {
	return l.Log(AuditEvent{
		EventType: AuditTaskRetry,
		RunID:     runID,
		TaskID:    taskID,
		Attempt:   attempt,
		Action:    "retry",
		Error:     errMsg,
	})
}

// LogTaskFailed logs a task exhausting its attempts.
func (l *Logger) LogTaskFailed(runID, taskID string, attempt int, errMsg string) error {
	return l.Log(AuditEvent{
		EventType: AuditTaskFailed,
		RunID:     runID,
		TaskID:    taskID,
		Attempt:   attempt,
		Action:    "failed",
		Error:     errMsg,
	})
}

// LogTaskBlocked logs a task skipped because an ancestor failed.
func (l *Logger) LogTaskBlocked(runID, taskID, reason string) error {
	return l.Log(AuditEvent{
		EventType: AuditTaskBlocked,
		RunID:     runID,
		TaskID:    taskID,
		Action:    "blocked",
		Result:    reason,
	})
}

// LogControl logs a pause or resume transition.
func (l *Logger) LogControl(runID string, eventType AuditEventType) error {
	return l.Log(AuditEvent{
		EventType: eventType,
		RunID:     runID,
		Action:    string(eventType),
	})
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// RotateIfNeeded checks if the log file needs rotation (new day).
func (l *Logger) RotateIfNeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	expectedFilename := fmt.Sprintf("audit-%s.jsonl", time.Now().Format("2006-01-02"))
	expectedPath := filepath.Join(l.logDir, expectedFilename)

	if l.file != nil {
		if l.file.Name() == expectedPath {
			return nil
		}
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("closing old audit log: %w", err)
		}
	}

	return l.openLogFile()
}

// LogFiles returns all audit log files in the log directory.
func (l *Logger) LogFiles() ([]string, error) {
	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return nil, fmt.Errorf("reading audit log dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".jsonl" {
			files = append(files, filepath.Join(l.logDir, entry.Name()))
		}
	}

	return files, nil
}

// ReadEvents reads audit events from a specific log file. Malformed lines
// are skipped.
func ReadEvents(path string) ([]AuditEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var events []AuditEvent
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}

		var event AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// splitLines splits data by newlines without allocating strings.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0

	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}

	if start < len(data) {
		lines = append(lines, data[start:])
	}

	return lines
}
