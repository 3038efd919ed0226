package graph

import (
	"container/heap"
	"strings"

	"github.com/marcus/flightplan/internal/plan"
)

// IsValidDAG reports whether the dependency relation is acyclic. On failure
// the second return holds one description per cycle found, each formatted
// "cycle: t1 -> t2 -> t1" following the depends-on direction. The graph is
// never mutated.
func (g *Graph) IsValidDAG() (bool, []string) {
	if g.acyclic() {
		return true, nil
	}
	return false, g.findCycles()
}

// acyclic runs Kahn's algorithm, counting residual dependencies.
func (g *Graph) acyclic() bool {
	remaining := make(map[string]int, len(g.tasks))
	var queue []string
	for _, t := range g.tasks {
		remaining[t.ID] = len(g.deps[t.ID])
		if remaining[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range g.dependents[id] {
			remaining[dep]--
			if remaining[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return processed == len(g.tasks)
}

// findCycles walks the depends-on relation depth-first in declaration
// order. Every back edge yields one cycle description reconstructed from
// the visit stack, so the output is deterministic for a given plan.
func (g *Graph) findCycles() []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.tasks))
	var stack []string
	var cycles []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				cycles = append(cycles, formatCycle(stack, dep))
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, t := range g.tasks {
		if color[t.ID] == white {
			visit(t.ID)
		}
	}

	// Distinct back edges can describe the same rotation; drop exact repeats.
	seen := make(map[string]struct{}, len(cycles))
	out := cycles[:0]
	for _, c := range cycles {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// formatCycle renders the tail of the visit stack starting at the back
// edge's target, closing the loop on it.
func formatCycle(stack []string, start string) string {
	i := 0
	for i < len(stack) && stack[i] != start {
		i++
	}
	path := make([]string, 0, len(stack)-i+1)
	path = append(path, stack[i:]...)
	path = append(path, start)
	return "cycle: " + strings.Join(path, " -> ")
}

// indexHeap is a min-heap of declaration indices, giving the topological
// sort its deterministic tie-break.
type indexHeap []int

func (h indexHeap) Len() int            { return len(h) }
func (h indexHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)         { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// ExecutionOrder returns a topological order of the tasks: for every edge,
// the dependency precedes its dependents. Among the tasks eligible at each
// step, declaration order wins. A cyclic graph returns a StructuralError
// carrying the cycle descriptions.
func (g *Graph) ExecutionOrder() ([]*plan.Task, error) {
	remaining := make([]int, len(g.tasks))
	h := &indexHeap{}
	for i, t := range g.tasks {
		remaining[i] = len(g.deps[t.ID])
		if remaining[i] == 0 {
			heap.Push(h, i)
		}
	}

	order := make([]*plan.Task, 0, len(g.tasks))
	for h.Len() > 0 {
		i := heap.Pop(h).(int)
		t := g.tasks[i]
		order = append(order, t)
		for _, dep := range g.dependents[t.ID] {
			j := g.index[dep]
			remaining[j]--
			if remaining[j] == 0 {
				heap.Push(h, j)
			}
		}
	}

	if len(order) != len(g.tasks) {
		return nil, &StructuralError{Problems: g.findCycles()}
	}
	return order, nil
}
