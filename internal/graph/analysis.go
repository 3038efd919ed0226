package graph

import (
	"time"

	"github.com/marcus/flightplan/internal/plan"
)

// ParallelBatches partitions the tasks into execution waves by BFS layering
// from the roots: a task's wave index is one more than the highest wave
// among its dependencies, zero for roots. Tasks inside a wave share no
// dependency edges and may run concurrently; within a wave, declaration
// order is preserved.
func (g *Graph) ParallelBatches() ([][]*plan.Task, error) {
	if len(g.tasks) == 0 {
		return nil, nil
	}
	order, err := g.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	wave := make(map[string]int, len(order))
	maxWave := 0
	for _, t := range order {
		w := 0
		for _, dep := range g.deps[t.ID] {
			if wave[dep]+1 > w {
				w = wave[dep] + 1
			}
		}
		wave[t.ID] = w
		if w > maxWave {
			maxWave = w
		}
	}

	batches := make([][]*plan.Task, maxWave+1)
	for _, t := range g.tasks {
		batches[wave[t.ID]] = append(batches[wave[t.ID]], t)
	}
	return batches, nil
}

// CriticalPathLength returns the maximum cumulative estimated duration
// along any root-to-leaf path, the classic CPM longest-path bound. It is a
// lower bound on total plan duration under unlimited concurrency.
func (g *Graph) CriticalPathLength() (time.Duration, error) {
	length, _, err := g.criticalPath()
	return length, err
}

// CriticalPath returns the tasks on one longest duration-weighted path,
// root first. When several paths tie, the first-listed dependency wins.
func (g *Graph) CriticalPath() ([]*plan.Task, error) {
	_, path, err := g.criticalPath()
	return path, err
}

// criticalPath runs the longest-path DP over topological order, keeping the
// best predecessor of each task for path reconstruction.
func (g *Graph) criticalPath() (time.Duration, []*plan.Task, error) {
	if len(g.tasks) == 0 {
		return 0, nil, nil
	}
	order, err := g.ExecutionOrder()
	if err != nil {
		return 0, nil, err
	}

	longest := make(map[string]time.Duration, len(order))
	prev := make(map[string]string, len(order))
	var (
		best    time.Duration
		bestEnd string
	)
	for _, t := range order {
		var viaDeps time.Duration
		var via string
		for _, dep := range g.deps[t.ID] {
			if longest[dep] > viaDeps || (longest[dep] == viaDeps && via == "") {
				viaDeps = longest[dep]
				via = dep
			}
		}
		longest[t.ID] = viaDeps + t.Estimate
		if via != "" {
			prev[t.ID] = via
		}
		if longest[t.ID] > best {
			best = longest[t.ID]
			bestEnd = t.ID
		}
	}

	var path []*plan.Task
	for id := bestEnd; id != ""; id = prev[id] {
		path = append(path, g.Task(id))
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return best, path, nil
}
