// Package state persists daemon state between scheduled runs. It tracks
// which plan files ran when, which runs are still in flight, and a short
// history of scheduled-run outcomes.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// State manages persistent daemon state.
type State struct {
	mu       sync.RWMutex
	filePath string
	data     *StateData
}

// StateData is the serialized state structure.
type StateData struct {
	Version    int                   `json:"version"`
	Plans      map[string]*PlanState `json:"plans"`
	InFlight   map[string]RunMark    `json:"in_flight"`
	Recent     []RunRecord           `json:"recent"`
	LastUpdate time.Time             `json:"last_update"`
}

// PlanState tracks scheduled-run state for a single plan file.
type PlanState struct {
	Path      string    `json:"path"`
	LastRun   time.Time `json:"last_run"`
	LastRunID string    `json:"last_run_id"`
	LastState string    `json:"last_state"`
	RunCount  int       `json:"run_count"`
}

// RunMark marks a plan execution currently in flight.
type RunMark struct {
	PlanPath  string    `json:"plan_path"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// RunRecord summarizes one scheduled run for history tracking.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	PlanPath   string    `json:"plan_path"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	State      string    `json:"state"` // completed, failed, cancelled
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

const (
	stateVersion  = 1
	maxRunRecords = 100
)

// DefaultStatePath returns the default state file path.
func DefaultStatePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "flightplan", "state.json")
}

// New creates a State manager for the given file, loading existing state
// if present.
func New(statePath string) (*State, error) {
	if statePath == "" {
		statePath = DefaultStatePath()
	}
	statePath = expandPath(statePath)

	if err := os.MkdirAll(filepath.Dir(statePath), 0755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	s := &State{
		filePath: statePath,
		data:     newStateData(),
	}

	if err := s.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	return s, nil
}

func newStateData() *StateData {
	return &StateData{
		Version:  stateVersion,
		Plans:    make(map[string]*PlanState),
		InFlight: make(map[string]RunMark),
		Recent:   make([]RunRecord, 0),
	}
}

// Load reads state from disk.
func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return err
	}

	var loaded StateData
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing state: %w", err)
	}

	if loaded.Plans == nil {
		loaded.Plans = make(map[string]*PlanState)
	}
	if loaded.InFlight == nil {
		loaded.InFlight = make(map[string]RunMark)
	}
	if loaded.Recent == nil {
		loaded.Recent = make([]RunRecord, 0)
	}

	s.data = &loaded
	return nil
}

// Save writes state to disk atomically via a temp file.
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.LastUpdate = time.Now()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("renaming state file: %w", err)
	}

	return nil
}

// RecordPlanRun marks a plan as having been executed.
func (s *State) RecordPlanRun(planPath, runID, runState string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	planPath = normalizePath(planPath)
	ps := s.getOrCreatePlan(planPath)
	ps.LastRun = time.Now()
	ps.LastRunID = runID
	ps.LastState = runState
	ps.RunCount++
}

// RanToday returns true if the plan was already executed today.
func (s *State) RanToday(planPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.data.Plans[normalizePath(planPath)]
	if !ok {
		return false
	}
	return isSameDay(ps.LastRun, time.Now())
}

// LastPlanRun returns when a plan was last executed.
func (s *State) LastPlanRun(planPath string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.data.Plans[normalizePath(planPath)]
	if !ok {
		return time.Time{}
	}
	return ps.LastRun
}

// GetPlanState returns the state for a plan (or nil if not tracked).
func (s *State) GetPlanState(planPath string) *PlanState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.data.Plans[normalizePath(planPath)]
}

// PlanCount returns the number of tracked plans.
func (s *State) PlanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data.Plans)
}

// MarkInFlight marks a plan execution as in progress. It fails if the plan
// already has a run in flight, which is what prevents a schedule tick from
// doubling up on a long run.
func (s *State) MarkInFlight(planPath, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	planPath = normalizePath(planPath)
	if mark, ok := s.data.InFlight[planPath]; ok {
		return fmt.Errorf("plan %s already running as %s since %s",
			planPath, mark.RunID, mark.StartedAt.Format(time.RFC3339))
	}

	s.data.InFlight[planPath] = RunMark{
		PlanPath:  planPath,
		RunID:     runID,
		StartedAt: time.Now(),
	}
	return nil
}

// ClearInFlight removes the in-flight mark for a plan.
func (s *State) ClearInFlight(planPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data.InFlight, normalizePath(planPath))
}

// ClearStaleInFlight removes in-flight marks older than maxAge. Used on
// daemon startup so a crash does not wedge a plan forever.
func (s *State) ClearStaleInFlight(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	cleared := 0

	for path, mark := range s.data.InFlight {
		if mark.StartedAt.Before(cutoff) {
			delete(s.data.InFlight, path)
			cleared++
		}
	}
	return cleared
}

// InFlight returns all currently in-flight run marks.
func (s *State) InFlight() []RunMark {
	s.mu.RLock()
	defer s.mu.RUnlock()

	marks := make([]RunMark, 0, len(s.data.InFlight))
	for _, m := range s.data.InFlight {
		marks = append(marks, m)
	}
	return marks
}

// AddRunRecord adds a scheduled-run record to the recent history.
func (s *State) AddRunRecord(record RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.RunID == "" {
		record.RunID = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}

	s.data.Recent = append(s.data.Recent, record)

	if len(s.data.Recent) > maxRunRecords {
		s.data.Recent = s.data.Recent[len(s.data.Recent)-maxRunRecords:]
	}
}

// RecentRuns returns the last n run records, most recent first.
func (s *State) RecentRuns(n int) []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.data.Recent) {
		n = len(s.data.Recent)
	}

	result := make([]RunRecord, n)
	for i := 0; i < n; i++ {
		result[i] = s.data.Recent[len(s.data.Recent)-1-i]
	}
	return result
}

// DaySummary summarizes today's scheduled activity.
type DaySummary struct {
	Runs      int
	Succeeded int
	Failed    int
	Plans     []string
}

// TodaySummary returns a summary of today's scheduled runs.
func (s *State) TodaySummary() DaySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary DaySummary
	now := time.Now()
	planSet := make(map[string]bool)

	for i := len(s.data.Recent) - 1; i >= 0; i-- {
		run := s.data.Recent[i]
		if !isSameDay(run.StartedAt, now) {
			continue
		}

		summary.Runs++
		switch run.State {
		case "completed":
			summary.Succeeded++
		case "failed":
			summary.Failed++
		}

		if run.PlanPath != "" && !planSet[run.PlanPath] {
			planSet[run.PlanPath] = true
			summary.Plans = append(summary.Plans, run.PlanPath)
		}
	}

	return summary
}

// getOrCreatePlan returns the plan state, creating if needed.
// Must be called with lock held.
func (s *State) getOrCreatePlan(planPath string) *PlanState {
	ps, ok := s.data.Plans[planPath]
	if !ok {
		ps = &PlanState{Path: planPath}
		s.data.Plans[planPath] = ps
	}
	return ps
}

// isSameDay checks if two times are on the same calendar day.
func isSameDay(t1, t2 time.Time) bool {
	y1, m1, d1 := t1.Date()
	y2, m2, d2 := t2.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// normalizePath normalizes a plan path for consistent lookups.
func normalizePath(path string) string {
	path = expandPath(path)
	path = filepath.Clean(path)
	return path
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
