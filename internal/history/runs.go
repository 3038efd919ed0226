package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/flightplan/internal/engine"
)

// RunSummary is the listing row for one recorded run.
type RunSummary struct {
	ID        string        `json:"id"`
	Goal      string        `json:"goal"`
	State     string        `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Blocked   int           `json:"blocked"`
	Skipped   int           `json:"skipped"`
	Waves     int           `json:"waves"`
	Error     string        `json:"error,omitempty"`
}

// RecordRun stores a finished run report, with one row per task for
// aggregate queries and the full report JSON for exact replay.
func (s *Store) RecordRun(r *engine.Report) error {
	if r == nil {
		return errors.New("report is nil")
	}
	if r.RunID == "" {
		return errors.New("report has no run id")
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}

	var finished any
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt
	}

	if _, err := tx.Exec(`
		INSERT INTO runs (id, goal, state, started_at, finished_at, duration_ms,
		                  completed, failed, blocked, skipped, waves, error, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Goal, string(r.State), r.StartedAt, finished, r.Duration.Milliseconds(),
		r.Completed, r.Failed, r.Blocked, r.Skipped, r.Waves, r.Error, string(raw),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}

	for _, tr := range r.Tasks {
		taskErr := ""
		if tr.Output != nil {
			taskErr = tr.Output.Error
		}
		if _, err := tx.Exec(`
			INSERT INTO run_tasks (run_id, task_id, kind, status, attempts, estimate_ms, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, tr.TaskID, string(tr.Kind), string(tr.Status), tr.Attempts,
			tr.Estimate.Milliseconds(), tr.Duration.Milliseconds(), taskErr,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert task %s/%s: %w", r.RunID, tr.TaskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record run: %w", err)
	}
	return nil
}

// ListRuns returns run summaries, most recent first. A non-positive limit
// returns everything.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.sql.Query(`
		SELECT id, goal, state, CAST(started_at AS TEXT), duration_ms,
		       completed, failed, blocked, skipped, waves, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunSummary
	for rows.Next() {
		var (
			rs         RunSummary
			startedRaw string
			durationMS int64
		)
		if err := rows.Scan(&rs.ID, &rs.Goal, &rs.State, &startedRaw, &durationMS,
			&rs.Completed, &rs.Failed, &rs.Blocked, &rs.Skipped, &rs.Waves, &rs.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if t, ok := parseDBTimestamp(startedRaw); ok {
			rs.StartedAt = t
		}
		rs.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows runs: %w", err)
	}
	return out, nil
}

// GetRun returns the stored report for a run id.
func (s *Store) GetRun(id string) (*engine.Report, error) {
	row := s.sql.QueryRow(`SELECT report FROM runs WHERE id = ?`, id)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}

	var report engine.Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", id, err)
	}
	return &report, nil
}

// Trim deletes all but the most recent keep runs and returns how many were
// removed. A non-positive keep disables trimming. Task rows go with their
// run via the cascade.
func (s *Store) Trim(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	res, err := s.sql.Exec(`
		DELETE FROM runs WHERE id NOT IN
		(SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("trim runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
