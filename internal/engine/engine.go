// Package engine schedules and executes a validated plan wave by wave.
// Within a wave, independent tasks dispatch concurrently against the tool
// boundary; between waves, a single coordinating loop applies results,
// retry policy, and failure propagation. Task state is mutated only by
// that loop, never by workers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marcus/flightplan/internal/graph"
	"github.com/marcus/flightplan/internal/logging"
	"github.com/marcus/flightplan/internal/plan"
	"github.com/marcus/flightplan/internal/resolver"
	"github.com/marcus/flightplan/internal/tools"
)

// Constants for execution.
const (
	DefaultMaxParallel  = 4
	DefaultRetryLimit   = 3
	DefaultRetryBackoff = 500 * time.Millisecond

	maxRetryBackoff = 30 * time.Second
)

// FailurePolicy controls what happens to the rest of a plan when one task
// exhausts its retries.
type FailurePolicy int

const (
	// FailBlockDependents blocks the failed task's transitive dependents
	// and lets independent branches run to completion.
	FailBlockDependents FailurePolicy = iota
	// FailAbort stops dispatching entirely; remaining tasks are blocked.
	FailAbort
)

// String returns the policy's configuration name.
func (p FailurePolicy) String() string {
	if p == FailAbort {
		return "abort"
	}
	return "block"
}

// ParseFailurePolicy parses a configuration value into a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block", "block-dependents":
		return FailBlockDependents, nil
	case "abort":
		return FailAbort, nil
	default:
		return FailBlockDependents, fmt.Errorf("invalid failure policy: %s (supported: block, abort)", s)
	}
}

// Config holds engine configuration.
type Config struct {
	MaxParallel   int           // concurrent dispatch bound per wave (default: 4)
	RetryLimit    int           // total attempts per task (default: 3)
	RetryBackoff  time.Duration // base delay before a retry, doubles per attempt (default: 500ms)
	FailurePolicy FailurePolicy
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		MaxParallel:   DefaultMaxParallel,
		RetryLimit:    DefaultRetryLimit,
		RetryBackoff:  DefaultRetryBackoff,
		FailurePolicy: FailBlockDependents,
	}
}

// DeadlockError reports that no task is runnable while unfinished tasks
// remain. With a validated DAG this cannot happen unless ready-set
// computation is broken, so the run aborts instead of spinning.
type DeadlockError struct {
	Remaining []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock: no runnable tasks, %d unfinished (%s)",
		len(e.Remaining), strings.Join(e.Remaining, ", "))
}

// Hooks are caller-supplied lifecycle callbacks. A panic inside any hook
// is recovered and logged, never propagated into engine control flow.
type Hooks struct {
	OnTaskStart    func(t *plan.Task)
	OnTaskComplete func(t *plan.Task, out *plan.TaskOutput)
	OnPlanComplete func(r *Report)
	OnPlanAudit    func(r *Report)
}

// Engine drives one plan at a time through validation, implicit-dependency
// resolution, and wave-based execution.
type Engine struct {
	registry *tools.Registry
	config   Config
	logger   *logging.Logger
	handler  EventHandler
	hooks    Hooks

	ctl       sync.Mutex
	running   bool
	paused    bool
	cancelled bool
	resumeCh  chan struct{}
	cancelCh  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry sets the tool registry tasks execute against.
func WithRegistry(r *tools.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithConfig sets engine configuration.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		e.config = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithEventHandler sets an optional callback for real-time engine events.
func WithEventHandler(h EventHandler) Option {
	return func(e *Engine) {
		e.handler = h
	}
}

// WithHooks sets the lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) {
		e.hooks = h
	}
}

// New creates an engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		config: DefaultConfig(),
		logger: logging.Component("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config.MaxParallel <= 0 {
		e.config.MaxParallel = DefaultMaxParallel
	}
	if e.config.RetryLimit <= 0 {
		e.config.RetryLimit = DefaultRetryLimit
	}
	// zero backoff is a valid choice: retries become eligible immediately
	if e.config.RetryBackoff < 0 {
		e.config.RetryBackoff = 0
	}
	return e
}

// Pause holds dispatch at the next wave boundary. In-flight tasks always
// run to completion.
func (e *Engine) Pause() {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	e.resumeCh = make(chan struct{})
}

// Resume releases a paused run.
func (e *Engine) Resume() {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	close(e.resumeCh)
}

// Cancel stops dispatching new waves. Already-dispatched tasks finish and
// their results are recorded; the plan then ends cancelled.
func (e *Engine) Cancel() {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.cancelCh == nil || e.cancelled {
		return
	}
	e.cancelled = true
	close(e.cancelCh)
}

// taskResult is what a worker reports back to the coordinating loop.
type taskResult struct {
	taskID    string
	attempt   int
	duration  time.Duration
	output    *plan.TaskOutput
	permanent bool // selection/validation failure, retrying cannot help
}

// run carries the mutable state of one ExecutePlan call. Only the
// coordinating loop touches it.
type run struct {
	id         string
	plan       *plan.Plan
	graph      *graph.Graph
	report     *Report
	completed  map[string]struct{}
	attempts   map[string]int
	retryAt    map[string]time.Time
	waves      map[string]int    // wave each task last ran in
	blockedBy  map[string]string // failed ancestor per blocked task
	env        map[string]any    // context values produced by completed tasks
	wave       int
	abort      bool
	abortCause string
}

// ExecutePlan validates the plan, folds in implicit dependencies, and
// executes it to a terminal state. Task-level failures are recorded in the
// returned report, never returned as errors; the error return is reserved
// for structural problems, configuration problems, and the defensive
// deadlock check. The report is nil only when the engine itself was
// misconfigured and nothing could start.
func (e *Engine) ExecutePlan(ctx context.Context, p *plan.Plan) (*Report, error) {
	if e.registry == nil {
		return nil, errors.New("no tool registry configured")
	}
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	start := time.Now()
	report := &Report{
		RunID:     uuid.NewString()[:8],
		Goal:      p.Goal,
		State:     plan.StatePlanning,
		StartedAt: start,
	}

	work, g, err := e.preflight(p, report)
	if err != nil {
		report.State = plan.StateFailed
		report.Error = err.Error()
		e.finish(nil, report, start)
		return report, err
	}

	r := &run{
		id:        report.RunID,
		plan:      work,
		graph:     g,
		report:    report,
		completed: make(map[string]struct{}, len(work.Tasks)),
		attempts:  make(map[string]int, len(work.Tasks)),
		retryAt:   make(map[string]time.Time),
		waves:     make(map[string]int, len(work.Tasks)),
		blockedBy: make(map[string]string),
		env:       make(map[string]any),
	}

	report.State = plan.StateExecuting
	e.logger.InfoCtx("plan accepted", map[string]any{
		"run_id": r.id,
		"goal":   work.Goal,
		"tasks":  len(work.Tasks),
	})
	e.emit(Event{Type: EventPlanStart, RunID: r.id, Message: work.Goal})

	err = e.loop(ctx, r)

	e.finish(r, report, start)
	e.safely("onPlanComplete", func() {
		if e.hooks.OnPlanComplete != nil {
			e.hooks.OnPlanComplete(report)
		}
	})
	e.safely("onPlanAudit", func() {
		if e.hooks.OnPlanAudit != nil {
			e.hooks.OnPlanAudit(report)
		}
	})
	e.emit(Event{
		Type:     EventPlanEnd,
		RunID:    r.id,
		State:    report.State,
		Duration: report.Duration,
		Error:    report.Error,
	})
	return report, err
}

// preflight validates structure, folds in implicit dependencies, and
// re-validates the augmented plan. Execution works on a private copy; the
// caller's plan is never mutated.
func (e *Engine) preflight(p *plan.Plan, report *Report) (*plan.Plan, *graph.Graph, error) {
	work := p.Clone()

	g, err := graph.New(work.Tasks)
	if err != nil {
		return nil, nil, err
	}
	if ok, cycles := g.IsValidDAG(); !ok {
		return nil, nil, &graph.StructuralError{Problems: cycles}
	}

	res := resolver.New(work)
	augmented, applied := res.AddImplicitDependencies()
	if len(applied) > 0 {
		work = augmented
		report.ImplicitDeps = applied
		e.logger.InfoCtx("implicit dependencies added", map[string]any{"count": len(applied)})

		if g, err = graph.New(work.Tasks); err != nil {
			return nil, nil, err
		}
		if ok, cycles := g.IsValidDAG(); !ok {
			return nil, nil, &graph.StructuralError{Problems: cycles}
		}
	}
	return work, g, nil
}

// loop is the coordinating loop: compute the eligible ready set, dispatch
// it as one wave, join the results, repeat. All task-state writes happen
// here.
func (e *Engine) loop(ctx context.Context, r *run) error {
	for {
		if e.cancelRequested(ctx) {
			e.markCancelled(r)
			return nil
		}
		if stop := e.holdWhilePaused(ctx, r); stop {
			e.markCancelled(r)
			return nil
		}
		if r.abort {
			e.markAborted(r)
			return nil
		}

		eligible, nextRetry := e.eligible(r)
		if len(eligible) == 0 {
			remaining := unfinished(r.plan)
			if len(remaining) == 0 {
				return nil
			}
			if !nextRetry.IsZero() {
				if stop := e.sleepUntil(ctx, nextRetry); stop {
					e.markCancelled(r)
					return nil
				}
				continue
			}
			derr := &DeadlockError{Remaining: remaining}
			r.report.State = plan.StateFailed
			r.report.Error = derr.Error()
			e.logger.ErrorCtx("deadlock detected", map[string]any{"remaining": remaining})
			return derr
		}

		e.dispatch(ctx, r, eligible)
	}
}

// eligible returns the ready tasks whose retry hold has expired, plus the
// earliest pending retry time among the held ones.
func (e *Engine) eligible(r *run) ([]*plan.Task, time.Time) {
	ready := r.plan.ReadyTasks(r.completed)
	now := time.Now()

	var out []*plan.Task
	var nextRetry time.Time
	for _, t := range ready {
		if at, held := r.retryAt[t.ID]; held && at.After(now) {
			if nextRetry.IsZero() || at.Before(nextRetry) {
				nextRetry = at
			}
			continue
		}
		out = append(out, t)
	}
	return out, nextRetry
}

// dispatch runs one wave: every eligible task starts, bounded by
// MaxParallel, and the loop blocks until all results are joined back.
func (e *Engine) dispatch(ctx context.Context, r *run, wave []*plan.Task) {
	r.wave++
	r.report.Waves = r.wave
	e.logger.InfoCtx("wave dispatched", map[string]any{
		"run_id": r.id,
		"wave":   r.wave,
		"tasks":  taskIDs(wave),
	})
	e.emit(Event{
		Type:    EventWaveStart,
		RunID:   r.id,
		Wave:    r.wave,
		Message: fmt.Sprintf("%d task(s) ready", len(wave)),
	})

	results := make(chan taskResult, len(wave))
	var grp errgroup.Group
	grp.SetLimit(e.config.MaxParallel)

	for _, t := range wave {
		t.Status = plan.StatusRunning
		if t.StartedAt.IsZero() {
			t.StartedAt = time.Now()
		}
		delete(r.retryAt, t.ID)
		r.attempts[t.ID]++
		r.waves[t.ID] = r.wave

		attempt := r.attempts[t.ID]
		task := t
		resolved := resolveContext(task, r.env)

		e.safely("onTaskStart", func() {
			if e.hooks.OnTaskStart != nil {
				e.hooks.OnTaskStart(task)
			}
		})
		e.emit(Event{
			Type:     EventTaskStart,
			RunID:    r.id,
			TaskID:   task.ID,
			Wave:     r.wave,
			Attempt:  attempt,
			Attempts: e.config.RetryLimit,
		})

		grp.Go(func() error {
			results <- e.runTask(ctx, task, attempt, resolved)
			return nil
		})
	}

	_ = grp.Wait()
	close(results)

	for res := range results {
		e.apply(r, res)
	}
}

// runTask executes one attempt on a worker goroutine. It only reads the
// task; the outcome travels back to the coordinating loop as a taskResult.
func (e *Engine) runTask(ctx context.Context, t *plan.Task, attempt int, resolved map[string]any) taskResult {
	start := time.Now()

	tool, err := e.registry.Select(t)
	if err != nil {
		return taskResult{
			taskID:    t.ID,
			attempt:   attempt,
			duration:  time.Since(start),
			output:    &plan.TaskOutput{Success: false, Error: err.Error()},
			permanent: true,
		}
	}
	if ok, issues := e.registry.Validate(tool, t); !ok {
		return taskResult{
			taskID:    t.ID,
			attempt:   attempt,
			duration:  time.Since(start),
			output:    &plan.TaskOutput{Success: false, Error: strings.Join(issues, "; ")},
			permanent: true,
		}
	}

	res, err := tool.Execute(ctx, tools.Request{Task: t, Context: resolved, Attempt: attempt})
	if err != nil {
		return taskResult{
			taskID:   t.ID,
			attempt:  attempt,
			duration: time.Since(start),
			output:   &plan.TaskOutput{Success: false, Error: err.Error()},
		}
	}
	return taskResult{
		taskID:   t.ID,
		attempt:  attempt,
		duration: time.Since(start),
		output: &plan.TaskOutput{
			Success: res.Success,
			Result:  res.Data,
			Error:   res.Error,
			Context: res.Context,
		},
	}
}

// apply folds one joined result into the run state.
func (e *Engine) apply(r *run, res taskResult) {
	t := r.plan.Task(res.taskID)
	if t == nil {
		return
	}

	if res.output.Success {
		t.Status = plan.StatusCompleted
		t.FinishedAt = time.Now()
		t.Output = res.output
		r.completed[t.ID] = struct{}{}
		for k, v := range res.output.Context {
			r.env[k] = v
		}
		e.logger.InfoCtx("task completed", map[string]any{
			"run_id":   r.id,
			"task_id":  t.ID,
			"attempts": res.attempt,
		})
		e.safely("onTaskComplete", func() {
			if e.hooks.OnTaskComplete != nil {
				e.hooks.OnTaskComplete(t, t.Output)
			}
		})
		e.emit(Event{
			Type:     EventTaskEnd,
			RunID:    r.id,
			TaskID:   t.ID,
			Status:   plan.StatusCompleted,
			Attempt:  res.attempt,
			Duration: res.duration,
		})
		return
	}

	if !res.permanent && res.attempt < e.config.RetryLimit {
		t.Status = plan.StatusReady
		hold := e.backoff(res.attempt)
		r.retryAt[t.ID] = time.Now().Add(hold)
		e.logger.WarnCtx("task failed, retrying", map[string]any{
			"run_id":  r.id,
			"task_id": t.ID,
			"attempt": res.attempt,
			"backoff": hold.String(),
			"error":   res.output.Error,
		})
		e.emit(Event{
			Type:     EventTaskRetry,
			RunID:    r.id,
			TaskID:   t.ID,
			Attempt:  res.attempt,
			Attempts: e.config.RetryLimit,
			Error:    res.output.Error,
		})
		return
	}

	t.Status = plan.StatusFailed
	t.FinishedAt = time.Now()
	t.Output = res.output
	e.logger.ErrorCtx("task failed permanently", map[string]any{
		"run_id":   r.id,
		"task_id":  t.ID,
		"attempts": res.attempt,
		"error":    res.output.Error,
	})
	e.emit(Event{
		Type:     EventTaskEnd,
		RunID:    r.id,
		TaskID:   t.ID,
		Status:   plan.StatusFailed,
		Attempt:  res.attempt,
		Duration: res.duration,
		Error:    res.output.Error,
	})

	if e.config.FailurePolicy == FailAbort {
		r.abort = true
		r.abortCause = t.ID
		return
	}
	e.blockDependents(r, t.ID)
}

// blockDependents marks every unfinished transitive dependent of id as
// blocked. Independent branches are untouched.
func (e *Engine) blockDependents(r *run, id string) {
	for _, depID := range r.graph.TransitiveDependents(id) {
		dep := r.plan.Task(depID)
		if dep == nil || dep.Status.Terminal() || dep.Status == plan.StatusRunning {
			continue
		}
		dep.Status = plan.StatusBlocked
		r.blockedBy[depID] = id
		e.logger.WarnCtx("task blocked", map[string]any{
			"run_id":   r.id,
			"task_id":  depID,
			"ancestor": id,
		})
		e.emit(Event{
			Type:    EventTaskBlocked,
			RunID:   r.id,
			TaskID:  depID,
			Message: fmt.Sprintf("ancestor %s failed", id),
		})
	}
}

// markAborted blocks everything that has not finished and fails the plan.
func (e *Engine) markAborted(r *run) {
	for _, t := range r.plan.Tasks {
		if t.Status.Terminal() {
			continue
		}
		t.Status = plan.StatusBlocked
		if r.abortCause != "" {
			r.blockedBy[t.ID] = r.abortCause
		}
		e.emit(Event{Type: EventTaskBlocked, RunID: r.id, TaskID: t.ID, Message: "plan aborted"})
	}
	r.report.State = plan.StateFailed
	e.logger.WarnCtx("plan aborted on first permanent failure", map[string]any{"run_id": r.id})
}

// markCancelled ends the run without touching unfinished task statuses;
// tasks that never dispatched stay pending and count as skipped.
func (e *Engine) markCancelled(r *run) {
	r.report.State = plan.StateCancelled
	e.logger.InfoCtx("plan cancelled", map[string]any{
		"run_id":     r.id,
		"unfinished": unfinished(r.plan),
	})
}

// finish stamps the report's terminal fields. The state is only decided
// here when nothing upstream already settled it. r is nil when preflight
// failed and nothing ran.
func (e *Engine) finish(r *run, report *Report, start time.Time) {
	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(start)
	if r != nil {
		report.Tasks = make([]TaskReport, 0, len(r.plan.Tasks))
		for _, t := range r.plan.Tasks {
			tr := TaskReport{
				TaskID:    t.ID,
				Kind:      t.Kind,
				Status:    t.Status,
				Attempts:  r.attempts[t.ID],
				Wave:      r.waves[t.ID],
				BlockedBy: r.blockedBy[t.ID],
				Estimate:  t.Estimate,
				Output:    t.Output,
			}
			if !t.StartedAt.IsZero() && !t.FinishedAt.IsZero() {
				tr.Duration = t.FinishedAt.Sub(t.StartedAt)
			}
			report.Tasks = append(report.Tasks, tr)
		}
	}
	report.tally()
	if report.State == plan.StateExecuting {
		if report.Failed > 0 {
			report.State = plan.StateFailed
		} else {
			report.State = plan.StateCompleted
		}
	}
}

// cancelRequested reports whether Cancel was called or the context died.
func (e *Engine) cancelRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	e.ctl.Lock()
	defer e.ctl.Unlock()
	return e.cancelled
}

// holdWhilePaused blocks at a wave boundary while the engine is paused.
// It returns true if the hold ended in cancellation.
func (e *Engine) holdWhilePaused(ctx context.Context, r *run) bool {
	e.ctl.Lock()
	paused, resume, cancel := e.paused, e.resumeCh, e.cancelCh
	e.ctl.Unlock()
	if !paused {
		return false
	}

	e.logger.InfoCtx("plan paused", map[string]any{"run_id": r.id})
	e.emit(Event{Type: EventPlanPaused, RunID: r.id})
	select {
	case <-resume:
		e.logger.InfoCtx("plan resumed", map[string]any{"run_id": r.id})
		e.emit(Event{Type: EventPlanResumed, RunID: r.id})
		return false
	case <-cancel:
		return true
	case <-ctx.Done():
		return true
	}
}

// sleepUntil waits for the earliest retry hold to expire. It returns true
// if the wait ended in cancellation.
func (e *Engine) sleepUntil(ctx context.Context, at time.Time) bool {
	d := time.Until(at)
	if d <= 0 {
		return false
	}
	e.ctl.Lock()
	cancel := e.cancelCh
	e.ctl.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-cancel:
		return true
	case <-ctx.Done():
		return true
	}
}

// backoff returns the hold before the next attempt, doubling per failed
// attempt and capped at maxRetryBackoff.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.config.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}

// begin reserves the engine for one run. The engine drives one plan at a
// time; a second concurrent call fails.
func (e *Engine) begin() error {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.running {
		return errors.New("engine is already executing a plan")
	}
	e.running = true
	e.paused = false
	e.cancelled = false
	e.resumeCh = nil
	e.cancelCh = make(chan struct{})
	return nil
}

func (e *Engine) end() {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	e.running = false
	e.cancelCh = nil
}

// emit sends an event to the registered handler, if any. Handler panics
// are contained like hook panics.
func (e *Engine) emit(ev Event) {
	if e.handler == nil {
		return
	}
	ev.Time = time.Now()
	e.safely("event handler", func() { e.handler(ev) })
}

// safely runs a caller-supplied callback, recovering and logging any panic.
func (e *Engine) safely(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.ErrorCtx("hook panicked", map[string]any{
				"hook":  name,
				"panic": fmt.Sprint(rec),
			})
		}
	}()
	fn()
}

// resolveContext builds the context mapping a task receives: the named
// upstream values it declares, taken from the propagation environment.
func resolveContext(t *plan.Task, env map[string]any) map[string]any {
	if len(t.Requires.ContextDeps) == 0 {
		return nil
	}
	out := make(map[string]any, len(t.Requires.ContextDeps))
	for _, name := range t.Requires.ContextDeps {
		if v, ok := env[name]; ok {
			out[name] = v
		}
	}
	return out
}

// unfinished returns the ids of tasks not yet in a terminal status, in
// declaration order.
func unfinished(p *plan.Plan) []string {
	var ids []string
	for _, t := range p.Tasks {
		if !t.Status.Terminal() {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func taskIDs(tasks []*plan.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
