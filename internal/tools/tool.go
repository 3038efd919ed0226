// Package tools defines the boundary between the engine and concrete
// capability providers. The engine selects, validates, and executes
// through this package and never learns what a tool actually does.
package tools

import (
	"context"
	"time"

	"github.com/marcus/flightplan/internal/plan"
)

// Category is a closed capability category. Every task kind maps onto
// exactly one category, so the set of tools a plan needs is enumerable
// before anything runs.
type Category string

const (
	CategoryRead     Category = "read"
	CategoryWrite    Category = "write"
	CategoryExecute  Category = "execute"
	CategoryValidate Category = "validate"
	CategoryPlan     Category = "plan"
	CategoryThink    Category = "think"
)

// CategoryFor returns the capability category a task kind requires.
func CategoryFor(kind plan.TaskKind) Category {
	return Category(kind)
}

// Request carries everything a tool receives for one execution attempt.
type Request struct {
	Task    *plan.Task
	Context map[string]any // upstream context values, resolved by the engine
	Attempt int            // 1-based attempt counter
}

// Result holds the outcome of one execution attempt.
type Result struct {
	Success  bool
	Data     any
	Error    string
	Context  map[string]any // values exposed to dependent tasks
	Duration time.Duration
}

// Tool executes tasks of the categories it supports. Implementations own
// their per-task timeouts; a timeout surfaces as an ordinary failed Result
// or error, never as special engine behavior.
type Tool interface {
	// Name returns the provider identifier tasks select by.
	Name() string

	// Categories returns the capability categories the tool serves.
	Categories() []Category

	// Execute runs one attempt. May block on I/O or subprocesses.
	Execute(ctx context.Context, req Request) (*Result, error)
}

// TaskValidator is an optional extension: tools that can sanity-check a
// task's inputs ahead of execution implement it, and Registry.Validate
// folds their findings into the preflight issues.
type TaskValidator interface {
	ValidateTask(t *plan.Task) []string
}
