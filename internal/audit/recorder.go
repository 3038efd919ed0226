package audit

import (
	"strconv"

	"github.com/marcus/flightplan/internal/engine"
	"github.com/marcus/flightplan/internal/plan"
)

// Recorder translates engine activity into audit entries. Wire HandleEvent
// as the engine's event handler and RecordReport as its OnPlanAudit hook.
type Recorder struct {
	logger *Logger
}

// NewRecorder creates a Recorder writing through the given logger.
func NewRecorder(logger *Logger) *Recorder {
	return &Recorder{logger: logger}
}

// HandleEvent records the audit-relevant engine events. Wave starts are
// skipped: the per-task entries already carry the wave number.
func (rec *Recorder) HandleEvent(ev engine.Event) {
	if rec == nil || rec.logger == nil {
		return
	}

	switch ev.Type {
	case engine.EventPlanStart:
		_ = rec.logger.RotateIfNeeded()
		_ = rec.logger.Log(AuditEvent{
			EventType: AuditPlanStart,
			RunID:     ev.RunID,
			Action:    "start",
			Result:    ev.Message,
		})
	case engine.EventTaskStart:
		_ = rec.logger.LogTaskStart(ev.RunID, ev.TaskID, ev.Wave, ev.Attempt)
	case engine.EventTaskRetry:
		_ = rec.logger.LogTaskRetry(ev.RunID, ev.TaskID, ev.Attempt, ev.Error)
	case engine.EventTaskBlocked:
		_ = rec.logger.LogTaskBlocked(ev.RunID, ev.TaskID, ev.Message)
	case engine.EventTaskEnd:
		if ev.Status == plan.StatusCompleted {
			_ = rec.logger.LogTaskComplete(ev.RunID, ev.TaskID, ev.Attempt, ev.Duration, string(ev.Status))
		} else {
			_ = rec.logger.LogTaskFailed(ev.RunID, ev.TaskID, ev.Attempt, ev.Error)
		}
	case engine.EventPlanPaused:
		_ = rec.logger.LogControl(ev.RunID, AuditPlanPaused)
	case engine.EventPlanResumed:
		_ = rec.logger.LogControl(ev.RunID, AuditPlanResumed)
	}
}

// RecordReport writes the run summary entry that closes a run's trail.
func (rec *Recorder) RecordReport(r *engine.Report) {
	if rec == nil || rec.logger == nil || r == nil {
		return
	}

	_ = rec.logger.Log(AuditEvent{
		EventType: AuditPlanComplete,
		RunID:     r.RunID,
		Action:    "complete",
		Result:    string(r.State),
		Duration:  r.Duration,
		Error:     r.Error,
		Metadata: map[string]string{
			"completed": strconv.Itoa(r.Completed),
			"failed":    strconv.Itoa(r.Failed),
			"blocked":   strconv.Itoa(r.Blocked),
			"skipped":   strconv.Itoa(r.Skipped),
			"waves":     strconv.Itoa(r.Waves),
		},
	})
}
