package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/flightplan/internal/config"
	"github.com/marcus/flightplan/internal/logging"
)

// Scheduler errors.
var (
	ErrNoSchedule     = errors.New("no schedule configured")
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler fires registered jobs on a cron expression or a fixed
// interval, optionally gated by a time-of-day window. A tick that lands
// outside the window is skipped, not deferred.
type Scheduler struct {
	mu       sync.Mutex
	cronExpr string
	schedule cron.Schedule
	interval time.Duration
	window   *Window
	jobs     []Job
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *logging.Logger
}

// NewScheduler creates a scheduler with no schedule set.
func NewScheduler() *Scheduler {
	return &Scheduler{
		logger: logging.Component("scheduler"),
	}
}

// NewFromConfig builds a scheduler from the daemon config section.
// A positive interval wins over the cron expression, since the cron
// expression carries a default.
func NewFromConfig(cfg *config.DaemonConfig) (*Scheduler, error) {
	s := NewScheduler()

	switch {
	case cfg.Interval > 0:
		if err := s.SetInterval(cfg.Interval); err != nil {
			return nil, err
		}
	case cfg.Schedule != "":
		if err := s.SetCron(cfg.Schedule); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoSchedule
	}

	if cfg.Window.Start != "" || cfg.Window.End != "" {
		if err := s.SetWindow(cfg.Window); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetCron sets a standard five-field cron expression and clears any
// interval.
func (s *Scheduler) SetCron(expr string) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronExpr = expr
	s.schedule = schedule
	s.interval = 0
	return nil
}

// SetInterval sets a fixed delay between runs and clears any cron
// expression.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %s", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.cronExpr = ""
	s.schedule = nil
	return nil
}

// SetWindow restricts firing to a daily time window.
func (s *Scheduler) SetWindow(cfg config.WindowConfig) error {
	w, err := newWindow(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = w
	return nil
}

// AddJob registers a job to run on every tick. Jobs run sequentially in
// registration order.
func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start launches the scheduling loop. Returns ErrNoSchedule when neither
// a cron expression nor an interval has been set.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if s.schedule == nil && s.interval <= 0 {
		return ErrNoSchedule
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns when the next tick fires, computed from the current
// time. Zero when no schedule is set.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAfter(time.Now())
}

// nextAfter requires mu held.
func (s *Scheduler) nextAfter(now time.Time) time.Time {
	if s.interval > 0 {
		return now.Add(s.interval)
	}
	if s.schedule != nil {
		return s.schedule.Next(now)
	}
	return time.Time{}
}

// IsInWindow reports whether t falls inside the configured window.
// Without a window every time qualifies.
func (s *Scheduler) IsInWindow(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == nil {
		return true
	}
	return s.window.Contains(t)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		s.mu.Lock()
		next := s.nextAfter(time.Now())
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !s.IsInWindow(time.Now()) {
			s.logger.Debugf("tick outside window, skipping (next %s)", s.NextRun().Format(time.RFC3339))
			continue
		}
		s.runJobs(ctx)
	}
}

// runJobs executes every registered job in order, stopping early on
// cancellation. Failures are logged, never fatal to the loop.
func (s *Scheduler) runJobs(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := job(ctx); err != nil {
			s.logger.Errorf("scheduled job failed: %v", err)
		}
	}
}
