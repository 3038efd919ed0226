package tools

import (
	"fmt"
	"sort"

	"github.com/marcus/flightplan/internal/plan"
)

// Registry resolves provider names to implementations. The mapping is fixed
// at construction so a whole plan can be checked against it before the first
// task dispatches.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from the given tools. Names must be unique.
func NewRegistry(tools ...Tool) (*Registry, error) {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return nil, fmt.Errorf("tool with empty name (%T)", t)
		}
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		m[name] = t
	}
	return &Registry{tools: m}, nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select picks the tool for a task. The task's provider name is tried
// first, then each candidate identifier in declaration order. The chosen
// tool must support the task's category.
func (r *Registry) Select(t *plan.Task) (Tool, error) {
	category := CategoryFor(t.Kind)
	var tried []string
	for _, name := range selectionOrder(t) {
		tool, ok := r.tools[name]
		if !ok {
			tried = append(tried, name)
			continue
		}
		if !supports(tool, category) {
			tried = append(tried, name)
			continue
		}
		return tool, nil
	}
	if len(tried) == 0 {
		return nil, fmt.Errorf("task %s names no provider (registered: %v)", t.ID, r.Names())
	}
	return nil, fmt.Errorf("no registered tool for task %s supports %s (tried %v)", t.ID, category, tried)
}

// Validate checks a selected tool against a task before dispatch. It
// returns ok and, when not ok, the concrete issues found.
func (r *Registry) Validate(tool Tool, t *plan.Task) (bool, []string) {
	var issues []string
	category := CategoryFor(t.Kind)
	if !supports(tool, category) {
		issues = append(issues, fmt.Sprintf("tool %s does not support %s tasks", tool.Name(), category))
	}
	if v, ok := tool.(TaskValidator); ok {
		issues = append(issues, v.ValidateTask(t)...)
	}
	return len(issues) == 0, issues
}

func selectionOrder(t *plan.Task) []string {
	var order []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}
	add(t.Requires.Provider)
	for _, name := range t.Requires.Tools {
		add(name)
	}
	return order
}

func supports(tool Tool, category Category) bool {
	for _, c := range tool.Categories() {
		if c == category {
			return true
		}
	}
	return false
}
