// Package graph builds a validated dependency DAG over a plan's tasks and
// answers the structural questions execution needs: cycle freedom,
// topological order, parallel waves, critical path, and diagram export.
//
// A Graph is a derived, disposable view of a plan. It never mutates the
// tasks it was built from and is recomputed on demand.
package graph

import (
	"fmt"
	"strings"

	"github.com/marcus/flightplan/internal/plan"
)

// StructuralError describes why a task list cannot form a valid DAG:
// dangling dependency references or cycles. It is raised before any task
// runs and aborts the whole call.
type StructuralError struct {
	Problems []string
}

func (e *StructuralError) Error() string {
	return "invalid task graph: " + strings.Join(e.Problems, "; ")
}

// Graph is a directed acyclic view of a plan's dependency relation.
// Edges run from a dependency to its dependents.
type Graph struct {
	tasks      []*plan.Task
	index      map[string]int      // task id -> declaration index
	deps       map[string][]string // task id -> ids it depends on (deduped, declaration order)
	dependents map[string][]string // task id -> ids that depend on it
}

// New builds a graph from the plan's tasks. Unknown dependency references
// and duplicate ids fail with a StructuralError; cycle detection is left to
// IsValidDAG so callers can report every cycle, not just the first.
func New(tasks []*plan.Task) (*Graph, error) {
	g := &Graph{
		tasks:      tasks,
		index:      make(map[string]int, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}

	var problems []string
	for i, t := range tasks {
		if t.ID == "" {
			problems = append(problems, fmt.Sprintf("task at index %d has an empty id", i))
			continue
		}
		if _, dup := g.index[t.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate task id %q", t.ID))
			continue
		}
		g.index[t.ID] = i
	}

	for _, t := range tasks {
		seen := make(map[string]struct{}, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if _, known := g.index[dep]; !known {
				problems = append(problems, fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep))
				continue
			}
			if _, dupEdge := seen[dep]; dupEdge {
				continue
			}
			seen[dep] = struct{}{}
			g.deps[t.ID] = append(g.deps[t.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], t.ID)
		}
	}

	if len(problems) > 0 {
		return nil, &StructuralError{Problems: problems}
	}
	return g, nil
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int { return len(g.tasks) }

// Task returns the task with the given id, or nil.
func (g *Graph) Task(id string) *plan.Task {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.tasks[i]
}

// Dependencies returns the ids the given task depends on, deduplicated,
// in declaration order.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Dependents returns the ids that directly depend on the given task.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// RootTasks returns tasks with no dependencies, in declaration order.
func (g *Graph) RootTasks() []*plan.Task {
	var roots []*plan.Task
	for _, t := range g.tasks {
		if len(g.deps[t.ID]) == 0 {
			roots = append(roots, t)
		}
	}
	return roots
}

// LeafTasks returns tasks nothing depends on, in declaration order.
func (g *Graph) LeafTasks() []*plan.Task {
	var leaves []*plan.Task
	for _, t := range g.tasks {
		if len(g.dependents[t.ID]) == 0 {
			leaves = append(leaves, t)
		}
	}
	return leaves
}

// TransitiveDependents returns every task reachable from id along dependent
// edges, BFS order, excluding id itself. This is the set that becomes
// blocked when id fails terminally.
func (g *Graph) TransitiveDependents(id string) []string {
	var out []string
	visited := map[string]struct{}{id: {}}
	queue := append([]string(nil), g.dependents[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		out = append(out, cur)
		queue = append(queue, g.dependents[cur]...)
	}
	return out
}

