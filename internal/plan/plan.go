// Package plan defines the task and plan model shared by the graph,
// resolver, and engine layers, plus the versioned plan-file codec.
package plan

import (
	"fmt"
	"math"
	"time"
)

// TaskKind classifies what a task fundamentally does. The set is closed;
// the codec rejects anything else at the boundary.
type TaskKind string

const (
	KindRead     TaskKind = "read"
	KindWrite    TaskKind = "write"
	KindExecute  TaskKind = "execute"
	KindValidate TaskKind = "validate"
	KindPlan     TaskKind = "plan"
	KindThink    TaskKind = "think"
)

// Kinds lists all valid task kinds in a stable order.
func Kinds() []TaskKind {
	return []TaskKind{KindRead, KindWrite, KindExecute, KindValidate, KindPlan, KindThink}
}

// ValidKind reports whether k is one of the closed task kinds.
func ValidKind(k TaskKind) bool {
	switch k {
	case KindRead, KindWrite, KindExecute, KindValidate, KindPlan, KindThink:
		return true
	}
	return false
}

// RiskTier grades how much damage a task could do if it misbehaves.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusReady     TaskStatus = "ready"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusBlocked   TaskStatus = "blocked"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

// CanTransition reports whether moving from s to next is a legal status
// change. Transitions are monotonic: terminal states have no successors,
// and the only backward edge is running -> ready for a retry attempt.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusReady || next == StatusBlocked
	case StatusReady:
		return next == StatusRunning || next == StatusBlocked
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusReady
	default:
		return false
	}
}

// PlanState represents the lifecycle state of a whole plan.
type PlanState string

const (
	StatePlanning  PlanState = "planning"
	StateExecuting PlanState = "executing"
	StateCompleted PlanState = "completed"
	StateFailed    PlanState = "failed"
	StateCancelled PlanState = "cancelled"
)

// Requirement describes what a task needs from the tool layer: a capability
// provider, optional candidate tool names, opaque inputs whose schema belongs
// to the tool, and the names of upstream context values the task consumes.
type Requirement struct {
	Provider    string
	Tools       []string
	Inputs      map[string]any
	ContextDeps []string
}

// TaskOutput records the terminal result of a task. It is written exactly
// once, by the engine, and is the only channel through which dependents read
// upstream-produced context.
type TaskOutput struct {
	Success bool
	Result  any
	Error   string
	Context map[string]any
}

// Task is a single unit of work inside a plan.
type Task struct {
	ID          string
	Description string
	Kind        TaskKind
	Requires    Requirement
	DependsOn   []string
	Estimate    time.Duration
	Risk        RiskTier
	Status      TaskStatus
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Output      *TaskOutput
}

// DependsOnTask reports whether the task declares a direct dependency on id.
func (t *Task) DependsOnTask(id string) bool {
	for _, d := range t.DependsOn {
		if d == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Requires.Tools = append([]string(nil), t.Requires.Tools...)
	c.Requires.ContextDeps = append([]string(nil), t.Requires.ContextDeps...)
	if t.Requires.Inputs != nil {
		c.Requires.Inputs = make(map[string]any, len(t.Requires.Inputs))
		for k, v := range t.Requires.Inputs {
			c.Requires.Inputs[k] = v
		}
	}
	if t.Output != nil {
		o := *t.Output
		if t.Output.Context != nil {
			o.Context = make(map[string]any, len(t.Output.Context))
			for k, v := range t.Output.Context {
				o.Context[k] = v
			}
		}
		c.Output = &o
	}
	return &c
}

// Plan is an ordered set of tasks working toward one goal. Task order is
// declaration order from the planner, not execution order.
type Plan struct {
	Goal  string
	Tasks []*Task
}

// NewPlan creates a plan and stamps all tasks pending.
func NewPlan(goal string, tasks []*Task) *Plan {
	now := time.Now()
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = StatusPending
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.Risk == "" {
			t.Risk = RiskLow
		}
	}
	return &Plan{Goal: goal, Tasks: tasks}
}

// Task returns the task with the given id, or nil.
func (p *Plan) Task(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	tasks := make([]*Task, len(p.Tasks))
	for i, t := range p.Tasks {
		tasks[i] = t.Clone()
	}
	return &Plan{Goal: p.Goal, Tasks: tasks}
}

// ReadyTasks returns, in declaration order, every task that is still
// waiting (pending or ready) and whose declared dependencies are all in
// the completed set.
func (p *Plan) ReadyTasks(completed map[string]struct{}) []*Task {
	var ready []*Task
	for _, t := range p.Tasks {
		if t.Status != StatusPending && t.Status != StatusReady {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if _, done := completed[dep]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// TotalEstimate sums the estimated durations of all tasks.
func (p *Plan) TotalEstimate() time.Duration {
	var total time.Duration
	for _, t := range p.Tasks {
		total += t.Estimate
	}
	return total
}

// EdgeCount returns the number of declared dependency edges.
func (p *Plan) EdgeCount() int {
	n := 0
	for _, t := range p.Tasks {
		n += len(t.DependsOn)
	}
	return n
}

// ComplexityScore grades how hard the plan is to execute: one point per
// task, half a point per dependency edge, and half a point per high-risk
// task, rounded to one decimal.
func (p *Plan) ComplexityScore() float64 {
	score := float64(len(p.Tasks)) + 0.5*float64(p.EdgeCount())
	for _, t := range p.Tasks {
		if t.Risk == RiskHigh {
			score += 0.5
		}
	}
	return math.Round(score*10) / 10
}

// Reset returns every task to pending and clears outputs and timestamps.
// This is the explicit external reset: the engine itself never resurrects
// a terminal task.
func (p *Plan) Reset() {
	for _, t := range p.Tasks {
		t.Status = StatusPending
		t.Output = nil
		t.StartedAt = time.Time{}
		t.FinishedAt = time.Time{}
	}
}

// CheckIDs verifies that task ids are unique and non-empty.
func (p *Plan) CheckIDs() error {
	seen := make(map[string]struct{}, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task at index %d has an empty id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}
