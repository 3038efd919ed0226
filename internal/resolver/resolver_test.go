package resolver

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/flightplan/internal/plan"
)

func sharedFilePlan() *plan.Plan {
	return plan.NewPlan("touch the same file", []*plan.Task{
		{
			ID: "a", Description: "create module", Kind: plan.KindWrite,
			Requires: plan.Requirement{Inputs: map[string]any{"file_path": "file.py"}},
			Estimate: 10 * time.Minute,
		},
		{
			ID: "b", Description: "edit module", Kind: plan.KindWrite,
			Requires: plan.Requirement{Inputs: map[string]any{"file_path": "file.py"}},
			Estimate: 10 * time.Minute,
		},
	})
}

func TestDetectImplicitDependencies(t *testing.T) {
	r := New(sharedFilePlan())

	found := r.DetectImplicitDependencies()
	if len(found) != 1 {
		t.Fatalf("DetectImplicitDependencies() = %v, want one edge", found)
	}
	dep := found[0]
	if dep.ProducerID != "a" || dep.ConsumerID != "b" {
		t.Errorf("edge = %s -> %s, want a -> b", dep.ProducerID, dep.ConsumerID)
	}
	if dep.Reason != "shared resource file.py" {
		t.Errorf("reason = %q, want %q", dep.Reason, "shared resource file.py")
	}
}

func TestDetectSkipsDeclaredEdges(t *testing.T) {
	p := sharedFilePlan()
	p.Task("b").DependsOn = []string{"a"}

	if found := New(p).DetectImplicitDependencies(); len(found) != 0 {
		t.Errorf("DetectImplicitDependencies() = %v for declared edge, want none", found)
	}
}

func TestDetectIgnoresNonProducers(t *testing.T) {
	p := sharedFilePlan()
	p.Task("a").Kind = plan.KindRead

	if found := New(p).DetectImplicitDependencies(); len(found) != 0 {
		t.Errorf("two readers of the same file produced %v, want no edges", found)
	}
}

func TestDetectRespectsDeclarationOrder(t *testing.T) {
	// The consumer comes first, so there is no prior producer to depend on.
	p := plan.NewPlan("reversed", []*plan.Task{
		{
			ID: "early-reader", Description: "read it", Kind: plan.KindRead,
			Requires: plan.Requirement{Inputs: map[string]any{"path": "data.csv"}},
			Estimate: time.Minute,
		},
		{
			ID: "late-writer", Description: "write it", Kind: plan.KindWrite,
			Requires: plan.Requirement{Inputs: map[string]any{"path": "data.csv"}},
			Estimate: 5 * time.Minute,
		},
	})

	if found := New(p).DetectImplicitDependencies(); len(found) != 0 {
		t.Errorf("later writer treated as producer for earlier task: %v", found)
	}
}

func TestDetectHonorsResourceKeysOnly(t *testing.T) {
	p := sharedFilePlan()
	p.Task("a").Requires.Inputs = map[string]any{"note": "file.py"}
	p.Task("b").Requires.Inputs = map[string]any{"note": "file.py"}

	if found := New(p).DetectImplicitDependencies(); len(found) != 0 {
		t.Errorf("non-resource input keys produced %v, want no edges", found)
	}
}

func TestAddImplicitDependenciesIsPure(t *testing.T) {
	p := sharedFilePlan()
	r := New(p)

	augmented, applied := r.AddImplicitDependencies()

	if len(applied) != 1 {
		t.Fatalf("applied = %v, want one edge", applied)
	}
	if !augmented.Task("b").DependsOnTask("a") {
		t.Error("augmented plan missing b -> a dependency")
	}
	if p.Task("b").DependsOnTask("a") {
		t.Error("original plan was mutated")
	}

	// Applying twice must not double the edge.
	again, _ := New(augmented).AddImplicitDependencies()
	if got := len(again.Task("b").DependsOn); got != 1 {
		t.Errorf("depends_on after reapply = %d entries, want 1", got)
	}
}

func TestIdentifyBottlenecks(t *testing.T) {
	p := plan.NewPlan("fan out", []*plan.Task{
		{ID: "hub", Description: "build core", Kind: plan.KindWrite, Estimate: 30 * time.Minute},
		{ID: "s1", Description: "spoke", Kind: plan.KindWrite, Estimate: 5 * time.Minute, DependsOn: []string{"hub"}},
		{ID: "s2", Description: "spoke", Kind: plan.KindWrite, Estimate: 5 * time.Minute, DependsOn: []string{"hub"}},
		{ID: "s3", Description: "spoke", Kind: plan.KindWrite, Estimate: 5 * time.Minute, DependsOn: []string{"hub"}},
		{ID: "tail", Description: "finish", Kind: plan.KindValidate, Estimate: 5 * time.Minute, DependsOn: []string{"s1"}},
	})

	got := New(p).IdentifyBottlenecks()
	if len(got) != 2 {
		t.Fatalf("IdentifyBottlenecks() = %v, want hub and s1", got)
	}
	if got[0].TaskID != "hub" {
		t.Errorf("top bottleneck = %s, want hub", got[0].TaskID)
	}
	if got[0].Dependents != 3 {
		t.Errorf("hub dependents = %d, want 3", got[0].Dependents)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v", got)
	}
}

func TestValidateTimeEstimates(t *testing.T) {
	p := plan.NewPlan("odd estimates", []*plan.Task{
		{ID: "tiny", Description: "rewrite everything", Kind: plan.KindWrite, Estimate: 30 * time.Second},
		{ID: "huge", Description: "one giant step", Kind: plan.KindExecute, Estimate: 3 * time.Hour},
		{ID: "fine", Description: "normal work", Kind: plan.KindWrite, Estimate: 20 * time.Minute},
		{ID: "quick-think", Description: "ponder", Kind: plan.KindThink, Estimate: 10 * time.Second},
	})

	warnings := New(p).ValidateTimeEstimates()
	if len(warnings) != 2 {
		t.Fatalf("ValidateTimeEstimates() = %v, want warnings for tiny and huge", warnings)
	}

	byTask := make(map[string]string, len(warnings))
	for _, w := range warnings {
		byTask[w.TaskID] = w.Message
	}
	if msg, ok := byTask["tiny"]; !ok || !strings.Contains(msg, "small") {
		t.Errorf("tiny warning = %q, want a too-small complaint", msg)
	}
	if msg, ok := byTask["huge"]; !ok || !strings.Contains(msg, "under-decomposed") {
		t.Errorf("huge warning = %q, want an under-decomposition complaint", msg)
	}
	if _, ok := byTask["fine"]; ok {
		t.Error("plausible estimate was flagged")
	}
}

func TestSuggestOptimizations(t *testing.T) {
	p := sharedFilePlan()
	advice := New(p).SuggestOptimizations()

	if len(advice) == 0 {
		t.Fatal("SuggestOptimizations() = none, want implicit-edge advice")
	}
	joined := strings.Join(advice, "\n")
	if !strings.Contains(joined, "a -> b") {
		t.Errorf("advice %q does not mention the missing a -> b edge", joined)
	}
}

func TestSuggestOptimizationsSerialChain(t *testing.T) {
	p := plan.NewPlan("chain", []*plan.Task{
		{ID: "one", Description: "first", Kind: plan.KindRead, Estimate: 5 * time.Minute},
		{ID: "two", Description: "second", Kind: plan.KindWrite, Estimate: 5 * time.Minute, DependsOn: []string{"one"}},
		{ID: "three", Description: "third", Kind: plan.KindValidate, Estimate: 5 * time.Minute, DependsOn: []string{"two"}},
	})

	advice := New(p).SuggestOptimizations()
	joined := strings.Join(advice, "\n")
	if !strings.Contains(joined, "single chain") {
		t.Errorf("advice %q does not flag the fully serial plan", joined)
	}
}

func TestSuggestOptimizationsCleanPlan(t *testing.T) {
	p := plan.NewPlan("clean", []*plan.Task{
		{ID: "left", Description: "independent", Kind: plan.KindWrite, Estimate: 10 * time.Minute},
		{ID: "right", Description: "independent", Kind: plan.KindWrite, Estimate: 10 * time.Minute},
	})

	if advice := New(p).SuggestOptimizations(); len(advice) != 0 {
		t.Errorf("SuggestOptimizations() = %v for clean plan, want none", advice)
	}
}
