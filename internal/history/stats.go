package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration for clean JSON serialization as seconds.
type Duration struct {
	time.Duration
}

// MarshalJSON serializes Duration as integer seconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(d.Seconds()))
}

// UnmarshalJSON deserializes Duration from integer seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	d.Duration = time.Duration(secs) * time.Second
	return nil
}

// String returns a human-readable duration string.
func (d Duration) String() string {
	dur := d.Duration
	if dur < time.Minute {
		return fmt.Sprintf("%ds", int(dur.Seconds()))
	}
	if dur < time.Hour {
		return fmt.Sprintf("%dm %ds", int(dur.Minutes()), int(dur.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(dur.Hours()), int(dur.Minutes())%60)
}

// Stats holds aggregate statistics over recorded runs, JSON-serializable.
type Stats struct {
	TotalRuns      int        `json:"total_runs"`
	FirstRunAt     *time.Time `json:"first_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	TotalDuration  Duration   `json:"total_duration"`
	AvgRunDuration Duration   `json:"avg_run_duration"`

	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	TasksBlocked   int     `json:"tasks_blocked"`
	TasksSkipped   int     `json:"tasks_skipped"`
	SuccessRate    float64 `json:"success_rate"`
	TotalRetries   int     `json:"total_retries"`

	StateBreakdown map[string]int `json:"state_breakdown,omitempty"`
	FlakyTasks     []TaskStats    `json:"flaky_tasks,omitempty"`
	KindAccuracy   []KindStats    `json:"kind_accuracy,omitempty"`
}

// TaskStats summarizes one task id across runs. A task shows up here when
// it has retried or failed at least once.
type TaskStats struct {
	TaskID      string   `json:"task_id"`
	Runs        int      `json:"runs"`
	Failures    int      `json:"failures"`
	Retries     int      `json:"retries"`
	AvgDuration Duration `json:"avg_duration"`
}

// KindStats compares estimated against actual duration per task kind,
// over completed tasks that carried an estimate. Ratio > 1 means the
// kind runs longer than planned.
type KindStats struct {
	Kind        string   `json:"kind"`
	Tasks       int      `json:"tasks"`
	AvgEstimate Duration `json:"avg_estimate"`
	AvgActual   Duration `json:"avg_actual"`
	Ratio       float64  `json:"ratio"`
}

// Stats computes aggregate statistics from the runs and run_tasks tables.
func (s *Store) Stats() (*Stats, error) {
	result := &Stats{StateBreakdown: make(map[string]int)}

	row := s.sql.QueryRow(`SELECT COUNT(*), COALESCE(SUM(duration_ms), 0) FROM runs`)
	var totalMS int64
	if err := row.Scan(&result.TotalRuns, &totalMS); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	result.TotalDuration = Duration{time.Duration(totalMS) * time.Millisecond}

	if result.TotalRuns == 0 {
		return result, nil
	}
	result.AvgRunDuration = Duration{result.TotalDuration.Duration / time.Duration(result.TotalRuns)}

	// Aggregated DATETIME columns come back from the modernc driver as
	// strings, not time.Time.
	row = s.sql.QueryRow(`SELECT CAST(MIN(started_at) AS TEXT), CAST(MAX(started_at) AS TEXT) FROM runs`)
	var firstRaw, lastRaw string
	if err := row.Scan(&firstRaw, &lastRaw); err != nil {
		return nil, fmt.Errorf("runs min/max: %w", err)
	}
	if t, ok := parseDBTimestamp(firstRaw); ok {
		result.FirstRunAt = &t
	}
	if t, ok := parseDBTimestamp(lastRaw); ok {
		result.LastRunAt = &t
	}

	rows, err := s.sql.Query(`SELECT state, COUNT(*) FROM runs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("group runs by state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		result.StateBreakdown[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows state counts: %w", err)
	}

	if err := s.computeTaskStats(result); err != nil {
		return nil, err
	}

	totalTasks := result.TasksCompleted + result.TasksFailed + result.TasksBlocked + result.TasksSkipped
	if totalTasks > 0 {
		result.SuccessRate = float64(result.TasksCompleted) / float64(totalTasks) * 100
	}

	return result, nil
}

func (s *Store) computeTaskStats(result *Stats) error {
	rows, err := s.sql.Query(`SELECT status, COUNT(*) FROM run_tasks GROUP BY status`)
	if err != nil {
		return fmt.Errorf("group tasks by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return fmt.Errorf("scan status count: %w", err)
		}
		switch status {
		case "completed":
			result.TasksCompleted = count
		case "failed":
			result.TasksFailed = count
		case "blocked":
			result.TasksBlocked = count
		default:
			result.TasksSkipped += count
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows status counts: %w", err)
	}

	row := s.sql.QueryRow(`SELECT COALESCE(SUM(attempts - 1), 0) FROM run_tasks WHERE attempts > 1`)
	if err := row.Scan(&result.TotalRetries); err != nil {
		return fmt.Errorf("sum retries: %w", err)
	}

	flaky, err := s.sql.Query(`
		SELECT task_id, COUNT(*),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN attempts > 1 THEN attempts - 1 ELSE 0 END),
		       COALESCE(AVG(duration_ms), 0)
		FROM run_tasks
		GROUP BY task_id
		HAVING SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) > 0
		    OR SUM(CASE WHEN attempts > 1 THEN attempts - 1 ELSE 0 END) > 0
		ORDER BY 4 DESC, 3 DESC
		LIMIT 10`)
	if err != nil {
		return fmt.Errorf("query flaky tasks: %w", err)
	}
	defer func() { _ = flaky.Close() }()
	for flaky.Next() {
		var (
			ts    TaskStats
			avgMS float64
		)
		if err := flaky.Scan(&ts.TaskID, &ts.Runs, &ts.Failures, &ts.Retries, &avgMS); err != nil {
			return fmt.Errorf("scan flaky task: %w", err)
		}
		ts.AvgDuration = Duration{time.Duration(avgMS) * time.Millisecond}
		result.FlakyTasks = append(result.FlakyTasks, ts)
	}
	if err := flaky.Err(); err != nil {
		return fmt.Errorf("rows flaky tasks: %w", err)
	}

	kinds, err := s.sql.Query(`
		SELECT kind, COUNT(*), AVG(estimate_ms), AVG(duration_ms)
		FROM run_tasks
		WHERE status = 'completed' AND kind != '' AND estimate_ms > 0
		GROUP BY kind
		ORDER BY kind`)
	if err != nil {
		return fmt.Errorf("query kind accuracy: %w", err)
	}
	defer func() { _ = kinds.Close() }()
	for kinds.Next() {
		var (
			ks                KindStats
			avgEst, avgActual float64
		)
		if err := kinds.Scan(&ks.Kind, &ks.Tasks, &avgEst, &avgActual); err != nil {
			return fmt.Errorf("scan kind accuracy: %w", err)
		}
		ks.AvgEstimate = Duration{time.Duration(avgEst) * time.Millisecond}
		ks.AvgActual = Duration{time.Duration(avgActual) * time.Millisecond}
		if avgEst > 0 {
			ks.Ratio = avgActual / avgEst
		}
		result.KindAccuracy = append(result.KindAccuracy, ks)
	}
	if err := kinds.Err(); err != nil {
		return fmt.Errorf("rows kind accuracy: %w", err)
	}
	return nil
}

// parseDBTimestamp handles the timestamp layouts SQLite hands back for
// DATETIME columns bound from time.Time values.
func parseDBTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if idx := strings.Index(raw, " m=+"); idx >= 0 {
		raw = strings.TrimSpace(raw[:idx])
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
