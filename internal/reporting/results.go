// Package reporting turns finished runs into artifacts: a markdown
// report for people and a JSON results file for tooling. Artifacts are
// named by run id so they line up with the run history.
package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcus/flightplan/internal/engine"
)

// RunResults bundles a finished run with the context the report needs:
// which plan file ran, in which mode, and what the resolver advised.
type RunResults struct {
	PlanFile    string         `json:"plan_file,omitempty"`
	Mode        string         `json:"mode,omitempty"` // simulate or execute
	Provider    string         `json:"provider,omitempty"`
	Advisories  []string       `json:"advisories,omitempty"`
	Report      *engine.Report `json:"report"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// DefaultReportsDir returns the default directory for run artifacts.
func DefaultReportsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "flightplan", "reports")
}

// ResultsPath returns the JSON results path for a run under dir.
func ResultsPath(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("run-%s.json", runID))
}

// ReportPath returns the markdown report path for a run under dir.
func ReportPath(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("run-%s.md", runID))
}

// SaveResults writes run results to disk as indented JSON.
func SaveResults(results *RunResults, path string) error {
	if results == nil || results.Report == nil {
		return fmt.Errorf("results missing a report")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating results dir: %w", err)
	}
	payload, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

// LoadResults reads run results back from disk.
func LoadResults(path string) (*RunResults, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	var results RunResults
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, fmt.Errorf("decoding results: %w", err)
	}
	return &results, nil
}
