package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/flightplan/internal/plan"
)

// Simulator input keys. Plans script rehearsal behavior through task
// inputs instead of through tool configuration, so one plan file can mix
// succeeding and failing tasks.
const (
	// InputFailures makes the first N attempts fail.
	InputFailures = "simulate_failures"
	// InputError overrides the message reported by scripted failures.
	InputError = "simulate_error"
	// InputContext is a map copied into the result context on success.
	InputContext = "simulate_context"
)

const (
	defaultSimScale   = 0.01
	defaultSimMaxWait = 2 * time.Second
)

// Simulator rehearses tasks without touching the outside world. Each
// attempt sleeps a scaled-down slice of the task's estimate, then succeeds
// or fails according to the task's simulate_* inputs.
type Simulator struct {
	name    string
	scale   float64
	maxWait time.Duration
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithScale sets the fraction of each task's estimate the simulator
// actually sleeps.
func WithScale(scale float64) SimulatorOption {
	return func(s *Simulator) {
		if scale > 0 {
			s.scale = scale
		}
	}
}

// WithMaxWait caps the per-attempt sleep.
func WithMaxWait(d time.Duration) SimulatorOption {
	return func(s *Simulator) {
		if d > 0 {
			s.maxWait = d
		}
	}
}

// NewSimulator returns a simulator registered under the name "sim".
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		name:    "sim",
		scale:   defaultSimScale,
		maxWait: defaultSimMaxWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Tool.
func (s *Simulator) Name() string { return s.name }

// Categories implements Tool. The simulator stands in for any provider.
func (s *Simulator) Categories() []Category {
	return []Category{
		CategoryRead,
		CategoryWrite,
		CategoryExecute,
		CategoryValidate,
		CategoryPlan,
		CategoryThink,
	}
}

// Execute implements Tool.
func (s *Simulator) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := s.wait(ctx, req.Task.Estimate); err != nil {
		return nil, err
	}

	failures, err := intInput(req.Task.Requires.Inputs, InputFailures)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", req.Task.ID, err)
	}
	if req.Attempt <= failures {
		msg := stringInput(req.Task.Requires.Inputs, InputError)
		if msg == "" {
			msg = fmt.Sprintf("simulated failure %d of %d", req.Attempt, failures)
		}
		return &Result{
			Success:  false,
			Error:    msg,
			Duration: time.Since(start),
		}, nil
	}

	res := &Result{
		Success:  true,
		Data:     fmt.Sprintf("simulated %s (%s)", req.Task.Kind, req.Task.Estimate),
		Duration: time.Since(start),
	}
	if extra := mapInput(req.Task.Requires.Inputs, InputContext); len(extra) > 0 {
		res.Context = extra
	}
	return res, nil
}

// ValidateTask implements TaskValidator.
func (s *Simulator) ValidateTask(t *plan.Task) []string {
	var issues []string
	if n, err := intInput(t.Requires.Inputs, InputFailures); err != nil {
		issues = append(issues, err.Error())
	} else if n < 0 {
		issues = append(issues, fmt.Sprintf("%s must not be negative, got %d", InputFailures, n))
	}
	if raw, ok := t.Requires.Inputs[InputContext]; ok {
		if mapInput(t.Requires.Inputs, InputContext) == nil {
			issues = append(issues, fmt.Sprintf("%s must be a map, got %T", InputContext, raw))
		}
	}
	return issues
}

func (s *Simulator) wait(ctx context.Context, estimate time.Duration) error {
	d := time.Duration(float64(estimate) * s.scale)
	if d > s.maxWait {
		d = s.maxWait
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// intInput reads an integer input, tolerating the numeric types YAML
// decoding produces.
func intInput(inputs map[string]any, key string) (int, error) {
	raw, ok := inputs[key]
	if !ok {
		return 0, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, raw)
	}
}

func stringInput(inputs map[string]any, key string) string {
	if v, ok := inputs[key].(string); ok {
		return v
	}
	return ""
}

func mapInput(inputs map[string]any, key string) map[string]any {
	if v, ok := inputs[key].(map[string]any); ok {
		return v
	}
	return nil
}
