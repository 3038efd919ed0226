package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/marcus/flightplan/internal/plan"
)

func simTask(inputs map[string]any) *plan.Task {
	return &plan.Task{
		ID:       "t1",
		Kind:     plan.KindExecute,
		Estimate: time.Minute,
		Requires: plan.Requirement{Provider: "sim", Inputs: inputs},
	}
}

func TestSimulatorSucceedsByDefault(t *testing.T) {
	sim := NewSimulator(WithScale(0.0001))
	res, err := sim.Execute(context.Background(), Request{Task: simTask(nil), Attempt: 1})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !res.Success {
		t.Errorf("Execute() failed: %s", res.Error)
	}
	if res.Data == nil {
		t.Error("Execute() returned no data")
	}
}

func TestSimulatorScriptedFailures(t *testing.T) {
	sim := NewSimulator(WithScale(0.0001))
	task := simTask(map[string]any{InputFailures: 2})

	for attempt := 1; attempt <= 3; attempt++ {
		res, err := sim.Execute(context.Background(), Request{Task: task, Attempt: attempt})
		if err != nil {
			t.Fatalf("Execute() attempt %d error: %v", attempt, err)
		}
		wantSuccess := attempt > 2
		if res.Success != wantSuccess {
			t.Errorf("attempt %d success = %v, want %v", attempt, res.Success, wantSuccess)
		}
	}
}

func TestSimulatorCustomErrorMessage(t *testing.T) {
	sim := NewSimulator(WithScale(0.0001))
	task := simTask(map[string]any{InputFailures: 1, InputError: "disk on fire"})

	res, err := sim.Execute(context.Background(), Request{Task: task, Attempt: 1})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Success {
		t.Fatal("Execute() succeeded, want scripted failure")
	}
	if res.Error != "disk on fire" {
		t.Errorf("Execute() error = %q, want %q", res.Error, "disk on fire")
	}
}

func TestSimulatorEmitsContext(t *testing.T) {
	sim := NewSimulator(WithScale(0.0001))
	task := simTask(map[string]any{
		InputContext: map[string]any{"artifact": "build/out.tar"},
	})

	res, err := sim.Execute(context.Background(), Request{Task: task, Attempt: 1})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if got := res.Context["artifact"]; got != "build/out.tar" {
		t.Errorf("Context[artifact] = %v, want build/out.tar", got)
	}
}

func TestSimulatorHonorsCancellation(t *testing.T) {
	sim := NewSimulator(WithScale(1), WithMaxWait(time.Minute))
	task := simTask(nil)
	task.Estimate = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sim.Execute(ctx, Request{Task: task, Attempt: 1})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Execute() returned nil after cancellation, want context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute() did not return after cancellation")
	}
}

func TestSimulatorCapsWait(t *testing.T) {
	sim := NewSimulator(WithScale(1), WithMaxWait(10*time.Millisecond))
	task := simTask(nil)
	task.Estimate = time.Hour

	start := time.Now()
	if _, err := sim.Execute(context.Background(), Request{Task: task, Attempt: 1}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Execute() took %s, want well under a second", elapsed)
	}
}

func TestSimulatorValidateTask(t *testing.T) {
	sim := NewSimulator()

	if issues := sim.ValidateTask(simTask(map[string]any{InputFailures: 1})); len(issues) != 0 {
		t.Errorf("ValidateTask() = %v for a clean task, want none", issues)
	}

	issues := sim.ValidateTask(simTask(map[string]any{InputFailures: "many"}))
	if len(issues) != 1 || !strings.Contains(issues[0], InputFailures) {
		t.Errorf("ValidateTask() = %v, want a %s type issue", issues, InputFailures)
	}

	issues = sim.ValidateTask(simTask(map[string]any{InputFailures: -1}))
	if len(issues) != 1 || !strings.Contains(issues[0], "negative") {
		t.Errorf("ValidateTask() = %v, want a negative-count issue", issues)
	}

	issues = sim.ValidateTask(simTask(map[string]any{InputContext: "not-a-map"}))
	if len(issues) != 1 || !strings.Contains(issues[0], InputContext) {
		t.Errorf("ValidateTask() = %v, want a %s type issue", issues, InputContext)
	}
}
