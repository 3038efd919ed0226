package reporting

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAndLoadResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-a1b2c3d4.json")
	original := sampleResults()

	if err := SaveResults(original, path); err != nil {
		t.Fatalf("SaveResults() error: %v", err)
	}

	loaded, err := LoadResults(path)
	if err != nil {
		t.Fatalf("LoadResults() error: %v", err)
	}

	if loaded.PlanFile != original.PlanFile {
		t.Errorf("plan file = %q, want %q", loaded.PlanFile, original.PlanFile)
	}
	if loaded.Mode != "simulate" {
		t.Errorf("mode = %q, want simulate", loaded.Mode)
	}
	if loaded.Report == nil {
		t.Fatal("loaded results have no report")
	}
	if loaded.Report.RunID != "a1b2c3d4" {
		t.Errorf("run id = %q, want a1b2c3d4", loaded.Report.RunID)
	}
	if len(loaded.Report.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(loaded.Report.Tasks))
	}
	if got := loaded.Report.Tasks[1].Wave; got != 2 {
		t.Errorf("build wave = %d, want 2", got)
	}
	if len(loaded.Advisories) != 1 {
		t.Errorf("advisories = %d, want 1", len(loaded.Advisories))
	}
	if !loaded.GeneratedAt.Equal(original.GeneratedAt) {
		t.Error("generated-at timestamp did not survive the roundtrip")
	}
}

func TestSaveResultsCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "results.json")

	if err := SaveResults(sampleResults(), path); err != nil {
		t.Fatalf("SaveResults() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file should exist at %s: %v", path, err)
	}
}

func TestSaveResultsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	if err := SaveResults(nil, path); err == nil {
		t.Error("expected error for nil results")
	}
	if err := SaveResults(&RunResults{}, path); err == nil {
		t.Error("expected error for results without a report")
	}
}

func TestLoadResultsNotFound(t *testing.T) {
	if _, err := LoadResults(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadResultsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadResults(path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestArtifactPaths(t *testing.T) {
	if got := ResultsPath("/tmp/reports", "a1b2c3d4"); got != "/tmp/reports/run-a1b2c3d4.json" {
		t.Errorf("ResultsPath = %q", got)
	}
	if got := ReportPath("/tmp/reports", "a1b2c3d4"); got != "/tmp/reports/run-a1b2c3d4.md" {
		t.Errorf("ReportPath = %q", got)
	}
	dir := DefaultReportsDir()
	if !strings.Contains(dir, "flightplan") || !strings.Contains(dir, "reports") {
		t.Errorf("DefaultReportsDir = %q, want a flightplan reports dir", dir)
	}
}
