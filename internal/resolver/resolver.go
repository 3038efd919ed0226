// Package resolver analyzes a plan for problems the planner missed:
// undeclared dependencies implied by shared resources, bottleneck tasks,
// and implausible time estimates. Everything here is advisory and pure;
// the input plan is never mutated.
package resolver

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/marcus/flightplan/internal/plan"
)

// ImplicitDependency is an undeclared producer-consumer relationship
// discovered from shared resource usage in task inputs.
type ImplicitDependency struct {
	ProducerID string
	ConsumerID string
	Reason     string
}

// Bottleneck flags a task likely to gate overall throughput.
type Bottleneck struct {
	TaskID     string
	Dependents int
	Estimate   time.Duration
	Score      float64
}

// EstimateWarning is a non-fatal complaint about a task's time estimate.
type EstimateWarning struct {
	TaskID  string
	Message string
}

// Resolver inspects one plan. Build a fresh one per plan; it keeps no
// state beyond the plan reference.
type Resolver struct {
	plan *plan.Plan
}

// New creates a resolver for the given plan.
func New(p *plan.Plan) *Resolver {
	return &Resolver{plan: p}
}

// producingKind reports whether tasks of this kind create or modify the
// resources their inputs name.
func producingKind(k plan.TaskKind) bool {
	return k == plan.KindWrite || k == plan.KindExecute
}

// resourceKey reports whether an input key names a resource identifier.
func resourceKey(key string) bool {
	switch key {
	case "file", "path", "file_path", "target", "output":
		return true
	}
	return strings.HasSuffix(key, "_path") || strings.HasSuffix(key, "_file")
}

// taskResources extracts the resource identifiers a task's inputs reference,
// sorted for deterministic output.
func taskResources(t *plan.Task) []string {
	var res []string
	for key, val := range t.Requires.Inputs {
		if !resourceKey(key) {
			continue
		}
		if s, ok := val.(string); ok && s != "" {
			res = append(res, s)
		}
	}
	sort.Strings(res)
	return res
}

// DetectImplicitDependencies scans tasks in declaration order and flags
// every pair where a later task references a resource a prior producing
// task (write or execute) touches, without declaring the edge. The reason
// reads "shared resource <identifier>".
func (r *Resolver) DetectImplicitDependencies() []ImplicitDependency {
	var found []ImplicitDependency
	tasks := r.plan.Tasks

	for i, producer := range tasks {
		if !producingKind(producer.Kind) {
			continue
		}
		produced := taskResources(producer)
		if len(produced) == 0 {
			continue
		}
		producedSet := make(map[string]struct{}, len(produced))
		for _, res := range produced {
			producedSet[res] = struct{}{}
		}

		for _, consumer := range tasks[i+1:] {
			if consumer.DependsOnTask(producer.ID) {
				continue
			}
			for _, res := range taskResources(consumer) {
				if _, shared := producedSet[res]; !shared {
					continue
				}
				found = append(found, ImplicitDependency{
					ProducerID: producer.ID,
					ConsumerID: consumer.ID,
					Reason:     fmt.Sprintf("shared resource %s", res),
				})
				break // one edge per task pair is enough
			}
		}
	}
	return found
}

// AddImplicitDependencies returns a new plan with every detected implicit
// edge merged into the consumer's depends_on, plus the list of edges that
// were applied. The receiver's plan is left untouched.
func (r *Resolver) AddImplicitDependencies() (*plan.Plan, []ImplicitDependency) {
	found := r.DetectImplicitDependencies()
	augmented := r.plan.Clone()
	for _, dep := range found {
		consumer := augmented.Task(dep.ConsumerID)
		if consumer == nil || consumer.DependsOnTask(dep.ProducerID) {
			continue
		}
		consumer.DependsOn = append(consumer.DependsOn, dep.ProducerID)
	}
	return augmented, found
}

// IdentifyBottlenecks ranks tasks by how hard they gate the rest of the
// plan: direct dependent count weighted by estimated duration. Tasks
// nothing waits on are not bottlenecks. Results are sorted by descending
// score, declaration order on ties.
func (r *Resolver) IdentifyBottlenecks() []Bottleneck {
	dependents := make(map[string]int, len(r.plan.Tasks))
	for _, t := range r.plan.Tasks {
		for _, dep := range t.DependsOn {
			dependents[dep]++
		}
	}

	rank := make(map[string]int, len(r.plan.Tasks))
	var out []Bottleneck
	for i, t := range r.plan.Tasks {
		n := dependents[t.ID]
		if n == 0 {
			continue
		}
		rank[t.ID] = i
		out = append(out, Bottleneck{
			TaskID:     t.ID,
			Dependents: n,
			Estimate:   t.Estimate,
			Score:      float64(n) * t.Estimate.Minutes(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return rank[out[i].TaskID] < rank[out[j].TaskID]
	})
	return out
}

// Estimate plausibility bounds by kind. Writes and executions that claim
// under a couple of minutes rarely include their own verification; anything
// over two hours suggests the task should have been decomposed further.
var minEstimateByKind = map[plan.TaskKind]time.Duration{
	plan.KindWrite:   2 * time.Minute,
	plan.KindExecute: 1 * time.Minute,
}

const maxEstimate = 2 * time.Hour

// ValidateTimeEstimates flags estimates that are implausible for the task's
// kind. Warnings never block execution.
func (r *Resolver) ValidateTimeEstimates() []EstimateWarning {
	var warnings []EstimateWarning
	for _, t := range r.plan.Tasks {
		if floor, ok := minEstimateByKind[t.Kind]; ok && t.Estimate < floor {
			warnings = append(warnings, EstimateWarning{
				TaskID: t.ID,
				Message: fmt.Sprintf("estimate %s is suspiciously small for a %s task (expect at least %s)",
					t.Estimate, t.Kind, floor),
			})
		}
		if t.Estimate > maxEstimate {
			warnings = append(warnings, EstimateWarning{
				TaskID: t.ID,
				Message: fmt.Sprintf("estimate %s exceeds %s; the task is probably under-decomposed",
					t.Estimate, maxEstimate),
			})
		}
	}
	return warnings
}

// SuggestOptimizations composes the detectors into a human-readable
// advisory list. It never blocks execution and returns nil when the plan
// looks clean.
func (r *Resolver) SuggestOptimizations() []string {
	var advice []string

	for _, dep := range r.DetectImplicitDependencies() {
		advice = append(advice, fmt.Sprintf(
			"declare %s -> %s: %s is used by both but the edge is missing",
			dep.ProducerID, dep.ConsumerID, strings.TrimPrefix(dep.Reason, "shared resource ")))
	}

	for i, b := range r.IdentifyBottlenecks() {
		if i >= 3 {
			break
		}
		if b.Dependents < 2 {
			continue
		}
		advice = append(advice, fmt.Sprintf(
			"task %s gates %d tasks for %s; consider splitting it or starting it earlier",
			b.TaskID, b.Dependents, b.Estimate))
	}

	for _, w := range r.ValidateTimeEstimates() {
		advice = append(advice, fmt.Sprintf("task %s: %s", w.TaskID, w.Message))
	}

	if serial := r.fullySerial(); serial && len(r.plan.Tasks) > 2 {
		advice = append(advice, "no two tasks can run in parallel; the plan is a single chain")
	}

	return advice
}

// fullySerial reports whether every task (after the first) depends on work
// before it, leaving no room for parallel dispatch.
func (r *Resolver) fullySerial() bool {
	roots := 0
	maxDependents := 0
	dependents := make(map[string]int, len(r.plan.Tasks))
	for _, t := range r.plan.Tasks {
		if len(t.DependsOn) == 0 {
			roots++
		}
		for _, dep := range t.DependsOn {
			dependents[dep]++
			if dependents[dep] > maxDependents {
				maxDependents = dependents[dep]
			}
		}
	}
	return roots == 1 && maxDependents <= 1
}
