package engine

import (
	"time"

	"github.com/marcus/flightplan/internal/plan"
)

// EventType classifies engine lifecycle events.
type EventType int

const (
	EventPlanStart   EventType = iota // plan validated, execution begins
	EventWaveStart                    // a wave of ready tasks dispatches
	EventTaskStart                    // one execution attempt begins
	EventTaskRetry                    // attempt failed, another is scheduled
	EventTaskBlocked                  // ancestor failed permanently, task skipped
	EventTaskEnd                      // task reached a terminal status
	EventPlanPaused                   // dispatch held at a wave boundary
	EventPlanResumed                  // dispatch released
	EventPlanEnd                      // plan reached a terminal state
)

// Event carries data about an engine lifecycle event.
type Event struct {
	Type     EventType
	Time     time.Time
	RunID    string
	TaskID   string
	Wave     int             // 1-based wave counter
	Attempt  int             // current attempt (1-based)
	Attempts int             // attempts configured
	Status   plan.TaskStatus // for EventTaskEnd: terminal task status
	State    plan.PlanState  // for EventPlanEnd: terminal plan state
	Message  string          // human-readable message
	Error    string          // error message if applicable
	Duration time.Duration   // for EventTaskEnd/EventPlanEnd: elapsed time
}

// EventHandler is a callback that receives engine events.
type EventHandler func(Event)
