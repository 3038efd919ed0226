// Package daemon runs scheduled rehearsals of configured plan files.
// A cron or interval schedule drives the runs; persistent state keeps
// rehearsals of the same plan from overlapping and records outcomes
// across restarts.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/flightplan/internal/audit"
	"github.com/marcus/flightplan/internal/config"
	"github.com/marcus/flightplan/internal/engine"
	"github.com/marcus/flightplan/internal/history"
	"github.com/marcus/flightplan/internal/logging"
	"github.com/marcus/flightplan/internal/plan"
	"github.com/marcus/flightplan/internal/state"
	"github.com/marcus/flightplan/internal/tools"
)

// staleAfter bounds how long an in-flight mark survives a daemon crash
// before startup clears it.
const staleAfter = 24 * time.Hour

// Daemon rehearses configured plans on a schedule.
type Daemon struct {
	cfg       *config.Config
	scheduler *Scheduler
	registry  *tools.Registry
	state     *state.State
	store     *history.Store  // nil when the history DB cannot be opened
	recorder  *audit.Recorder // nil when auditing is disabled
	auditor   *audit.Logger
	logger    *logging.Logger
}

// New builds a daemon from configuration. The history database and the
// audit trail are optional: failure to open either is logged and
// rehearsals proceed without them.
func New(cfg *config.Config, registry *tools.Registry) (*Daemon, error) {
	sched, err := NewFromConfig(&cfg.Daemon)
	if err != nil {
		return nil, err
	}

	st, err := state.New(cfg.Daemon.StatePath)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:       cfg,
		scheduler: sched,
		registry:  registry,
		state:     st,
		logger:    logging.Component("daemon"),
	}

	if store, err := history.Open(cfg.History.Path); err != nil {
		d.logger.Warnf("history unavailable: %v", err)
	} else {
		d.store = store
	}

	if cfg.Audit.Enabled {
		if al, err := audit.NewLogger(cfg.Audit.Path); err != nil {
			d.logger.Warnf("audit trail unavailable: %v", err)
		} else {
			d.auditor = al
			d.recorder = audit.NewRecorder(al)
		}
	}

	sched.AddJob(d.rehearseAll)
	return d, nil
}

// NextRun returns when the next scheduled rehearsal fires.
func (d *Daemon) NextRun() time.Time {
	return d.scheduler.NextRun()
}

// State exposes the daemon's persistent state for status reporting.
func (d *Daemon) State() *state.State {
	return d.state
}

// Run starts the schedule and blocks until ctx is cancelled. In-flight
// marks older than a day are cleared first so a crashed run cannot wedge
// its plan forever.
func (d *Daemon) Run(ctx context.Context) error {
	if cleared := d.state.ClearStaleInFlight(staleAfter); cleared > 0 {
		d.logger.Warnf("cleared %d stale in-flight marks", cleared)
		if err := d.state.Save(); err != nil {
			d.logger.Errorf("saving state: %v", err)
		}
	}

	if err := d.scheduler.Start(ctx); err != nil {
		return err
	}
	d.logger.InfoCtx("daemon started", map[string]any{
		"plans":    len(d.cfg.Daemon.Plans),
		"next_run": d.scheduler.NextRun().Format(time.RFC3339),
	})

	<-ctx.Done()
	_ = d.scheduler.Stop()
	d.logger.Info("daemon stopped")
	return ctx.Err()
}

// RunOnce rehearses every configured plan immediately, outside the
// schedule.
func (d *Daemon) RunOnce(ctx context.Context) error {
	return d.rehearseAll(ctx)
}

// rehearseAll runs each configured plan in order. One plan's failure
// does not stop the rest; the first error is returned.
func (d *Daemon) rehearseAll(ctx context.Context) error {
	if len(d.cfg.Daemon.Plans) == 0 {
		d.logger.Warn("no plans configured, nothing to rehearse")
		return nil
	}

	var firstErr error
	for _, p := range d.cfg.Daemon.Plans {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.rehearsePlan(ctx, p); err != nil {
			d.logger.ErrorCtx("rehearsal failed", map[string]any{"plan": p, "error": err.Error()})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// rehearsePlan executes one plan through the engine, guarding against a
// concurrent run of the same plan and persisting the outcome.
func (d *Daemon) rehearsePlan(ctx context.Context, path string) error {
	path = config.ExpandPath(path)

	markID := uuid.NewString()[:8]
	if err := d.state.MarkInFlight(path, markID); err != nil {
		return err
	}
	defer func() {
		d.state.ClearInFlight(path)
		if err := d.state.Save(); err != nil {
			d.logger.Errorf("saving state: %v", err)
		}
	}()

	p, err := plan.Load(path)
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}

	opts := []engine.Option{
		engine.WithRegistry(d.registry),
		engine.WithConfig(d.cfg.EngineConfig()),
	}
	if d.recorder != nil {
		opts = append(opts,
			engine.WithEventHandler(d.recorder.HandleEvent),
			engine.WithHooks(engine.Hooks{OnPlanAudit: d.recorder.RecordReport}),
		)
	}
	eng := engine.New(opts...)

	d.logger.InfoCtx("rehearsing plan", map[string]any{
		"plan":  path,
		"goal":  p.Goal,
		"tasks": len(p.Tasks),
	})

	report, err := eng.ExecutePlan(ctx, p)
	if report != nil {
		d.recordOutcome(path, report)
	}
	return err
}

// recordOutcome updates daemon state and the history database with a
// finished run.
func (d *Daemon) recordOutcome(path string, report *engine.Report) {
	d.state.RecordPlanRun(path, report.RunID, string(report.State))
	d.state.AddRunRecord(state.RunRecord{
		RunID:      report.RunID,
		PlanPath:   path,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		State:      string(report.State),
		Completed:  report.Completed,
		Failed:     report.Failed,
		Error:      report.Error,
	})

	if d.store == nil {
		return
	}
	if err := d.store.RecordRun(report); err != nil {
		d.logger.Errorf("recording run %s: %v", report.RunID, err)
		return
	}
	if removed, err := d.store.Trim(d.cfg.History.KeepRuns); err != nil {
		d.logger.Errorf("trimming history: %v", err)
	} else if removed > 0 {
		d.logger.Debugf("trimmed %d old runs", removed)
	}
}

// Close saves state and releases the daemon's resources.
func (d *Daemon) Close() error {
	var firstErr error
	if err := d.state.Save(); err != nil {
		firstErr = err
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.auditor != nil {
		if err := d.auditor.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
