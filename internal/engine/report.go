package engine

import (
	"time"

	"github.com/marcus/flightplan/internal/plan"
	"github.com/marcus/flightplan/internal/resolver"
)

// Report describes the outcome of one plan execution. Task-level failures
// never surface as errors from ExecutePlan; they are recorded here.
type Report struct {
	RunID        string                        `json:"run_id"`
	Goal         string                        `json:"goal"`
	State        plan.PlanState                `json:"state"`
	Tasks        []TaskReport                  `json:"tasks"`
	ImplicitDeps []resolver.ImplicitDependency `json:"implicit_deps,omitempty"`
	StartedAt    time.Time                     `json:"started_at"`
	FinishedAt   time.Time                     `json:"finished_at"`
	Duration     time.Duration                 `json:"duration"`
	Completed    int                           `json:"completed"`
	Failed       int                           `json:"failed"`
	Blocked      int                           `json:"blocked"`
	Skipped      int                           `json:"skipped"` // never dispatched (cancelled runs)
	Waves        int                           `json:"waves"`
	Error        string                        `json:"error,omitempty"`
}

// TaskReport holds the per-task outcome, in plan declaration order.
// Kind and Estimate come along so consumers can compare estimated
// against actual duration without the original plan in hand. Wave is
// the wave the task last ran in; zero for tasks never dispatched.
// BlockedBy names the failed task that blocked this one.
type TaskReport struct {
	TaskID    string           `json:"task_id"`
	Kind      plan.TaskKind    `json:"kind"`
	Status    plan.TaskStatus  `json:"status"`
	Attempts  int              `json:"attempts"`
	Wave      int              `json:"wave,omitempty"`
	BlockedBy string           `json:"blocked_by,omitempty"`
	Estimate  time.Duration    `json:"estimate"`
	Duration  time.Duration    `json:"duration"`
	Output    *plan.TaskOutput `json:"output,omitempty"`
}

// Succeeded reports whether every task completed.
func (r *Report) Succeeded() bool {
	return r.State == plan.StateCompleted
}

// Task returns the report entry for the given task id, or nil.
func (r *Report) Task(id string) *TaskReport {
	for i := range r.Tasks {
		if r.Tasks[i].TaskID == id {
			return &r.Tasks[i]
		}
	}
	return nil
}

// tally fills the aggregate counters from the task entries.
func (r *Report) tally() {
	r.Completed, r.Failed, r.Blocked, r.Skipped = 0, 0, 0, 0
	for _, tr := range r.Tasks {
		switch tr.Status {
		case plan.StatusCompleted:
			r.Completed++
		case plan.StatusFailed:
			r.Failed++
		case plan.StatusBlocked:
			r.Blocked++
		default:
			r.Skipped++
		}
	}
}
