package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcus/flightplan/internal/graph"
	"github.com/marcus/flightplan/internal/plan"
	"github.com/marcus/flightplan/internal/tools"
)

// stubTool implements tools.Tool with scripted outcomes and call recording.
type stubTool struct {
	mu         sync.Mutex
	failures   map[string]int            // task id -> number of attempts that fail
	hardErrs   map[string]error          // task id -> error returned instead of a result
	emit       map[string]map[string]any // task id -> context emitted on success
	starts     []string                  // execution starts in order
	execCount  map[string]int
	contexts   map[string]map[string]any // last Request.Context per task
	beforeExec func(taskID string)
	delay      time.Duration
}

func newStubTool() *stubTool {
	return &stubTool{
		failures:  make(map[string]int),
		hardErrs:  make(map[string]error),
		emit:      make(map[string]map[string]any),
		execCount: make(map[string]int),
		contexts:  make(map[string]map[string]any),
	}
}

func (s *stubTool) Name() string { return "stub" }

func (s *stubTool) Categories() []tools.Category {
	return []tools.Category{
		tools.CategoryRead, tools.CategoryWrite, tools.CategoryExecute,
		tools.CategoryValidate, tools.CategoryPlan, tools.CategoryThink,
	}
}

func (s *stubTool) Execute(ctx context.Context, req tools.Request) (*tools.Result, error) {
	id := req.Task.ID

	s.mu.Lock()
	s.starts = append(s.starts, id)
	s.execCount[id]++
	n := s.execCount[id]
	s.contexts[id] = req.Context
	before := s.beforeExec
	delay := s.delay
	hardErr := s.hardErrs[id]
	failUntil := s.failures[id]
	emit := s.emit[id]
	s.mu.Unlock()

	if before != nil {
		before(id)
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if hardErr != nil {
		return nil, hardErr
	}
	if n <= failUntil {
		return &tools.Result{Success: false, Error: "scripted failure"}, nil
	}
	return &tools.Result{Success: true, Data: "ok", Context: emit}, nil
}

func (s *stubTool) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execCount[id]
}

func (s *stubTool) started(id string) bool {
	return s.count(id) > 0
}

func (s *stubTool) startOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.starts...)
}

func (s *stubTool) contextFor(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts[id]
}

func execTask(id string, deps ...string) *plan.Task {
	return &plan.Task{
		ID:          id,
		Description: "work on " + id,
		Kind:        plan.KindExecute,
		Estimate:    time.Minute,
		Requires:    plan.Requirement{Provider: "stub"},
		DependsOn:   deps,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, tool tools.Tool, cfg Config, opts ...Option) *Engine {
	t.Helper()
	reg, err := tools.NewRegistry(tool)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	all := append([]Option{WithRegistry(reg), WithConfig(cfg)}, opts...)
	return New(all...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestNewDefaults(t *testing.T) {
	e := New()
	if e.config.MaxParallel != DefaultMaxParallel {
		t.Errorf("MaxParallel = %d, want %d", e.config.MaxParallel, DefaultMaxParallel)
	}
	if e.config.RetryLimit != DefaultRetryLimit {
		t.Errorf("RetryLimit = %d, want %d", e.config.RetryLimit, DefaultRetryLimit)
	}
	if e.config.RetryBackoff != DefaultRetryBackoff {
		t.Errorf("RetryBackoff = %v, want %v", e.config.RetryBackoff, DefaultRetryBackoff)
	}
	if e.config.FailurePolicy != FailBlockDependents {
		t.Errorf("FailurePolicy = %v, want block", e.config.FailurePolicy)
	}
}

func TestExecutePlanNoRegistry(t *testing.T) {
	e := New()
	_, err := e.ExecutePlan(context.Background(), plan.NewPlan("goal", nil))
	if err == nil || !strings.Contains(err.Error(), "no tool registry") {
		t.Fatalf("ExecutePlan() error = %v, want missing-registry error", err)
	}
}

func TestExecutePlanDiamond(t *testing.T) {
	tool := newStubTool()
	e := newTestEngine(t, tool, testConfig())

	p := plan.NewPlan("diamond", []*plan.Task{
		execTask("t1"),
		execTask("t2", "t1"),
		execTask("t3", "t1"),
		execTask("t4", "t2", "t3"),
	})

	report, err := e.ExecutePlan(context.Background(), p)
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	if !report.Succeeded() {
		t.Fatalf("report state = %s, want completed", report.State)
	}
	if report.Completed != 4 || report.Failed != 0 || report.Blocked != 0 {
		t.Errorf("counts = %d/%d/%d, want 4/0/0", report.Completed, report.Failed, report.Blocked)
	}
	if report.Waves != 3 {
		t.Errorf("waves = %d, want 3", report.Waves)
	}

	order := tool.startOrder()
	if len(order) != 4 {
		t.Fatalf("executions = %v, want 4 starts", order)
	}
	if order[0] != "t1" {
		t.Errorf("first start = %s, want t1", order[0])
	}
	if last := order[len(order)-1]; last != "t4" {
		t.Errorf("last start = %s, want t4", last)
	}
	if indexOf(order, "t4") < indexOf(order, "t2") || indexOf(order, "t4") < indexOf(order, "t3") {
		t.Errorf("t4 started before its dependencies: %v", order)
	}

	// the caller's plan is never mutated
	for _, task := range p.Tasks {
		if task.Status != plan.StatusPending {
			t.Errorf("caller task %s status = %s, want pending", task.ID, task.Status)
		}
	}
}

func TestExecutePlanEmpty(t *testing.T) {
	e := newTestEngine(t, newStubTool(), testConfig())
	report, err := e.ExecutePlan(context.Background(), plan.NewPlan("nothing to do", nil))
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	if !report.Succeeded() {
		t.Errorf("report state = %s, want completed", report.State)
	}
	if report.Waves != 0 {
		t.Errorf("waves = %d, want 0", report.Waves)
	}
}

func TestExecutePlanFailureBlocksDependents(t *testing.T) {
	tool := newStubTool()
	tool.failures["t2"] = 99 // always fails

	cfg := testConfig()
	cfg.RetryLimit = 2
	e := newTestEngine(t, tool, cfg)

	p := plan.NewPlan("partial failure", []*plan.Task{
		execTask("t1"),
		execTask("t2", "t1"),
		execTask("t3", "t2"),
		execTask("t4"),
	})

	report, err := e.ExecutePlan(context.Background(), p)
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}

	if report.State != plan.StateFailed {
		t.Errorf("report state = %s, want failed", report.State)
	}
	wantStatus := map[string]plan.TaskStatus{
		"t1": plan.StatusCompleted,
		"t2": plan.StatusFailed,
		"t3": plan.StatusBlocked,
		"t4": plan.StatusCompleted,
	}
	for id, want := range wantStatus {
		tr := report.Task(id)
		if tr == nil {
			t.Fatalf("report has no entry for %s", id)
		}
		if tr.Status != want {
			t.Errorf("%s status = %s, want %s", id, tr.Status, want)
		}
	}
	if got := report.Task("t2").Attempts; got != 2 {
		t.Errorf("t2 attempts = %d, want 2", got)
	}
	if got := tool.count("t2"); got != 2 {
		t.Errorf("t2 executions = %d, want 2", got)
	}
	if tool.started("t3") {
		t.Error("blocked task t3 was dispatched")
	}
	if got := report.Task("t3").BlockedBy; got != "t2" {
		t.Errorf("t3 blocked by %q, want t2", got)
	}
	if report.Completed != 2 || report.Failed != 1 || report.Blocked != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", report.Completed, report.Failed, report.Blocked)
	}
}

func TestExecutePlanRetrySucceeds(t *testing.T) {
	tool := newStubTool()
	tool.failures["t1"] = 1 // first attempt fails, second succeeds

	e := newTestEngine(t, tool, testConfig())
	p := plan.NewPlan("flaky", []*plan.Task{execTask("t1"), execTask("t2", "t1")})

	report, err := e.ExecutePlan(context.Background(), p)
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	if !report.Succeeded() {
		t.Fatalf("report state = %s, want completed", report.State)
	}
	if got := report.Task("t1").Attempts; got != 2 {
		t.Errorf("t1 attempts = %d, want 2", got)
	}
	if !tool.started("t2") {
		t.Error("t2 never ran after t1 recovered")
	}
}

func TestExecutePlanHardErrorRetries(t *testing.T) {
	tool := newStubTool()
	tool.hardErrs["t1"] = errors.New("transport exploded")

	cfg := testConfig()
	cfg.RetryLimit = 3
	e := newTestEngine(t, tool, cfg)

	report, err := e.ExecutePlan(context.Background(), plan.NewPlan("hard error", []*plan.Task{execTask("t1")}))
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	tr := report.Task("t1")
	if tr.Status != plan.StatusFailed {
		t.Errorf("t1 status = %s, want failed", tr.Status)
	}
	if tr.Attempts != 3 {
		t.Errorf("t1 attempts = %d, want 3", tr.Attempts)
	}
	if tr.Output == nil || !strings.Contains(tr.Output.Error, "transport exploded") {
		t.Errorf("t1 output error = %+v, want transport error", tr.Output)
	}
}

func TestExecutePlanAbortPolicy(t *testing.T) {
	tool := newStubTool()
	tool.failures["t1"] = 99

	cfg := testConfig()
	cfg.RetryLimit = 1
	cfg.FailurePolicy = FailAbort
	e := newTestEngine(t, tool, cfg)

	// t3 is independent of t1 but sits behind t4, so it is still
	// undispatched when the abort lands.
	p := plan.NewPlan("abort", []*plan.Task{
		execTask("t1"),
		execTask("t2", "t1"),
		execTask("t4"),
		execTask("t3", "t4"),
	})

	report, err := e.ExecutePlan(context.Background(), p)
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	if report.State != plan.StateFailed {
		t.Errorf("report state = %s, want failed", report.State)
	}
	if got := report.Task("t2").Status; got != plan.StatusBlocked {
		t.Errorf("t2 status = %s, want blocked", got)
	}
	if got := report.Task("t3").Status; got != plan.StatusBlocked {
		t.Errorf("independent t3 status = %s, want blocked under abort policy", got)
	}
	if got := report.Task("t3").BlockedBy; got != "t1" {
		t.Errorf("t3 blocked by %q, want the aborting task t1", got)
	}
	if tool.started("t3") {
		t.Error("t3 was dispatched after abort")
	}
}

func TestExecutePlanUnknownProviderFailsWithoutRetry(t *testing.T) {
	tool := newStubTool()
	e := newTestEngine(t, tool, testConfig())

	bad := execTask("t1")
	bad.Requires.Provider = "ghost"
	bad.Requires.Tools = nil

	report, err := e.ExecutePlan(context.Background(), plan.NewPlan("bad provider", []*plan.Task{bad}))
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	tr := report.Task("t1")
	if tr.Status != plan.StatusFailed {
		t.Errorf("t1 status = %s, want failed", tr.Status)
	}
	if tr.Attempts != 1 {
		t.Errorf("t1 attempts = %d, want 1 (selection failures must not retry)", tr.Attempts)
	}
	if tool.started("t1") {
		t.Error("stub executed a task that should never have been selected")
	}
}

func TestExecutePlanCycleFailsFast(t *testing.T) {
	tool := newStubTool()
	e := newTestEngine(t, tool, testConfig())

	p := plan.NewPlan("cyclic", []*plan.Task{
		execTask("t1", "t2"),
		execTask("t2", "t1"),
	})

	report, err := e.ExecutePlan(context.Background(), p)
	var serr *graph.StructuralError
	if !errors.As(err, &serr) {
		t.Fatalf("ExecutePlan() error = %v, want *graph.StructuralError", err)
	}
	if report == nil || report.State != plan.StateFailed {
		t.Fatalf("report = %+v, want failed report", report)
	}
	if len(tool.startOrder()) != 0 {
		t.Error("tasks were dispatched despite a cyclic plan")
	}
}

func TestExecutePlanDanglingReferenceFailsFast(t *testing.T) {
	tool := newStubTool()
	e := newTestEngine(t, tool, testConfig())

	report, err := e.ExecutePlan(context.Background(), plan.NewPlan("dangling", []*plan.Task{
		execTask("t1", "ghost"),
	}))
	var serr *graph.StructuralError
	if !errors.As(err, &serr) {
		t.Fatalf("ExecutePlan() error = %v, want *graph.StructuralError", err)
	}
	if report.Error == "" {
		t.Error("report.Error is empty for a structural failure")
	}
}

func TestExecutePlanAddsImplicitDependencies(t *testing.T) {
	tool := newStubTool()
	e := newTestEngine(t, tool, testConfig())

	producer := execTask("producer")
	producer.Kind = plan.KindWrite
	producer.Requires.Inputs = map[string]any{"file": "main.py"}
	consumer := execTask("consumer")
	consumer.Requires.Inputs = map[string]any{"file": "main.py"}

	report, err := e.ExecutePlan(context.Background(), plan.NewPlan("implicit", []*plan.Task{producer, consumer}))
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	if len(report.ImplicitDeps) != 1 {
		t.Fatalf("ImplicitDeps = %v, want one entry", report.ImplicitDeps)
	}
	dep := report.ImplicitDeps[0]
	if dep.ProducerID != "producer" || dep.ConsumerID != "consumer" {
		t.Errorf("implicit edge = %s -> %s, want producer -> consumer", dep.ProducerID, dep.ConsumerID)
	}
	if dep.Reason != "shared resource main.py" {
		t.Errorf("reason = %q, want %q", dep.Reason, "shared resource main.py")
	}

	order := tool.startOrder()
	if indexOf(order, "producer") > indexOf(order, "consumer") {
		t.Errorf("consumer ran before producer: %v", order)
	}
	if report.Waves != 2 {
		t.Errorf("waves = %d, want 2 after implicit edge", report.Waves)
	}
}

func TestExecutePlanPropagatesContext(t *testing.T) {
	tool := newStubTool()
	tool.emit["t1"] = map[string]any{"token": "abc123", "noise": 7}

	e := newTestEngine(t, tool, testConfig())

	consumer := execTask("t2", "t1")
	consumer.Requires.ContextDeps = []string{"token"}
	bystander := execTask("t3", "t1")

	report, err := e.ExecutePlan(context.Background(), plan.NewPlan("ctx", []*plan.Task{
		execTask("t1"), consumer, bystander,
	}))
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	if !report.Succeeded() {
		t.Fatalf("report state = %s, want completed", report.State)
	}

	got := tool.contextFor("t2")
	if got["token"] != "abc123" {
		t.Errorf("t2 context = %v, want token=abc123", got)
	}
	if _, leaked := got["noise"]; leaked {
		t.Errorf("t2 received undeclared context value: %v", got)
	}
	if by := tool.contextFor("t3"); by != nil {
		t.Errorf("t3 context = %v, want nil", by)
	}
}

func TestPauseHoldsNextWave(t *testing.T) {
	tool := newStubTool()
	var events []Event
	var evMu sync.Mutex
	e := newTestEngine(t, tool, testConfig(), WithEventHandler(func(ev Event) {
		evMu.Lock()
		events = append(events, ev)
		evMu.Unlock()
	}))
	tool.beforeExec = func(id string) {
		if id == "t1" {
			e.Pause()
		}
	}

	p := plan.NewPlan("pause", []*plan.Task{execTask("t1"), execTask("t2", "t1")})

	done := make(chan *Report, 1)
	go func() {
		report, _ := e.ExecutePlan(context.Background(), p)
		done <- report
	}()

	waitFor(t, func() bool { return tool.started("t1") }, "t1 to start")
	time.Sleep(100 * time.Millisecond)
	if tool.started("t2") {
		t.Fatal("t2 started while the engine was paused")
	}

	e.Resume()
	var report *Report
	select {
	case report = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ExecutePlan did not finish after Resume")
	}
	if !report.Succeeded() {
		t.Errorf("report state = %s, want completed", report.State)
	}
	if !tool.started("t2") {
		t.Error("t2 never ran after Resume")
	}

	evMu.Lock()
	defer evMu.Unlock()
	var paused, resumed bool
	for _, ev := range events {
		if ev.Type == EventPlanPaused {
			paused = true
		}
		if ev.Type == EventPlanResumed {
			resumed = true
		}
	}
	if !paused || !resumed {
		t.Errorf("pause/resume events = %v/%v, want both", paused, resumed)
	}
}

func TestCancelDrainsAndStops(t *testing.T) {
	tool := newStubTool()
	e := newTestEngine(t, tool, testConfig())
	tool.beforeExec = func(id string) {
		if id == "t1" {
			e.Cancel()
		}
	}

	p := plan.NewPlan("cancel", []*plan.Task{execTask("t1"), execTask("t2", "t1")})
	report, err := e.ExecutePlan(context.Background(), p)
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	if report.State != plan.StateCancelled {
		t.Errorf("report state = %s, want cancelled", report.State)
	}
	if got := report.Task("t1").Status; got != plan.StatusCompleted {
		t.Errorf("in-flight t1 status = %s, want completed (graceful drain)", got)
	}
	if tool.started("t2") {
		t.Error("t2 was dispatched after Cancel")
	}
	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", report.Skipped)
	}
}

func TestContextCancellationStopsDispatch(t *testing.T) {
	tool := newStubTool()
	e := newTestEngine(t, tool, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	tool.beforeExec = func(id string) {
		if id == "t1" {
			cancel()
		}
	}

	report, err := e.ExecutePlan(ctx, plan.NewPlan("ctx cancel", []*plan.Task{
		execTask("t1"), execTask("t2", "t1"),
	}))
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	if report.State != plan.StateCancelled {
		t.Errorf("report state = %s, want cancelled", report.State)
	}
	if tool.started("t2") {
		t.Error("t2 was dispatched after context cancellation")
	}
}

func TestHooksFire(t *testing.T) {
	tool := newStubTool()

	var mu sync.Mutex
	var startIDs, completeIDs []string
	var planReport, auditReport *Report

	hooks := Hooks{
		OnTaskStart: func(task *plan.Task) {
			mu.Lock()
			startIDs = append(startIDs, task.ID)
			mu.Unlock()
		},
		OnTaskComplete: func(task *plan.Task, out *plan.TaskOutput) {
			mu.Lock()
			completeIDs = append(completeIDs, task.ID)
			mu.Unlock()
		},
		OnPlanComplete: func(r *Report) { planReport = r },
		OnPlanAudit:    func(r *Report) { auditReport = r },
	}
	e := newTestEngine(t, tool, testConfig(), WithHooks(hooks))

	report, err := e.ExecutePlan(context.Background(), plan.NewPlan("hooks", []*plan.Task{
		execTask("t1"), execTask("t2", "t1"),
	}))
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}

	if len(startIDs) != 2 || len(completeIDs) != 2 {
		t.Errorf("hook calls = %d starts / %d completes, want 2/2", len(startIDs), len(completeIDs))
	}
	if planReport != report {
		t.Error("onPlanComplete received a different report")
	}
	if auditReport != report {
		t.Error("onPlanAudit received a different report")
	}
}

func TestHookPanicsAreContained(t *testing.T) {
	tool := newStubTool()
	hooks := Hooks{
		OnTaskStart:    func(*plan.Task) { panic("start hook") },
		OnTaskComplete: func(*plan.Task, *plan.TaskOutput) { panic("complete hook") },
		OnPlanComplete: func(*Report) { panic("plan hook") },
		OnPlanAudit:    func(*Report) { panic("audit hook") },
	}
	e := newTestEngine(t, tool, testConfig(),
		WithHooks(hooks),
		WithEventHandler(func(Event) { panic("handler") }),
	)

	report, err := e.ExecutePlan(context.Background(), plan.NewPlan("panics", []*plan.Task{execTask("t1")}))
	if err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}
	if !report.Succeeded() {
		t.Errorf("report state = %s, want completed despite panicking hooks", report.State)
	}
}

func TestEventsBracketTheRun(t *testing.T) {
	tool := newStubTool()
	var mu sync.Mutex
	var events []Event
	e := newTestEngine(t, tool, testConfig(), WithEventHandler(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	if _, err := e.ExecutePlan(context.Background(), plan.NewPlan("events", []*plan.Task{execTask("t1")})); err != nil {
		t.Fatalf("ExecutePlan() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 4 {
		t.Fatalf("events = %d, want at least plan start/wave/task/end", len(events))
	}
	if events[0].Type != EventPlanStart {
		t.Errorf("first event = %v, want EventPlanStart", events[0].Type)
	}
	if last := events[len(events)-1]; last.Type != EventPlanEnd {
		t.Errorf("last event = %v, want EventPlanEnd", last.Type)
	} else if last.State != plan.StateCompleted {
		t.Errorf("final state in event = %s, want completed", last.State)
	}
	var sawWave, sawStart, sawEnd bool
	for _, ev := range events {
		switch ev.Type {
		case EventWaveStart:
			sawWave = true
		case EventTaskStart:
			sawStart = true
		case EventTaskEnd:
			sawEnd = true
		}
	}
	if !sawWave || !sawStart || !sawEnd {
		t.Errorf("event coverage wave/start/end = %v/%v/%v, want all", sawWave, sawStart, sawEnd)
	}
}

func TestEngineRejectsConcurrentRuns(t *testing.T) {
	tool := newStubTool()
	tool.delay = 150 * time.Millisecond
	e := newTestEngine(t, tool, testConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.ExecutePlan(context.Background(), plan.NewPlan("slow", []*plan.Task{execTask("t1")}))
	}()

	waitFor(t, func() bool { return tool.started("t1") }, "first run to start")
	_, err := e.ExecutePlan(context.Background(), plan.NewPlan("second", []*plan.Task{execTask("x")}))
	if err == nil || !strings.Contains(err.Error(), "already executing") {
		t.Errorf("second ExecutePlan() error = %v, want already-executing error", err)
	}
	<-done
}

func TestParseFailurePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FailurePolicy
		wantErr bool
	}{
		{"block", FailBlockDependents, false},
		{"block-dependents", FailBlockDependents, false},
		{"", FailBlockDependents, false},
		{"abort", FailAbort, false},
		{"ABORT", FailAbort, false},
		{"explode", FailBlockDependents, true},
	}
	for _, tt := range tests {
		got, err := ParseFailurePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFailurePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFailurePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	e := New(WithConfig(Config{RetryBackoff: 100 * time.Millisecond}))
	if got := e.backoff(1); got != 100*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 100ms", got)
	}
	if got := e.backoff(2); got != 200*time.Millisecond {
		t.Errorf("backoff(2) = %v, want 200ms", got)
	}
	if got := e.backoff(3); got != 400*time.Millisecond {
		t.Errorf("backoff(3) = %v, want 400ms", got)
	}
	if got := e.backoff(30); got != maxRetryBackoff {
		t.Errorf("backoff(30) = %v, want cap %v", got, maxRetryBackoff)
	}
}

func TestDeadlockErrorMessage(t *testing.T) {
	err := &DeadlockError{Remaining: []string{"a", "b"}}
	msg := err.Error()
	if !strings.Contains(msg, "deadlock") || !strings.Contains(msg, "a, b") {
		t.Errorf("Error() = %q, want deadlock message naming a, b", msg)
	}
}
