package state

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// Run is one finished task run.
type Run struct {
	ID         string
	Project    string
	Slot       int
	TaskID     string
	Outcome    models.Outcome
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordRun stores a finished run.
func (db *DB) RecordRun(ctx context.Context, r Run) error {
	_, err := db.Exec(ctx, `
		INSERT INTO task_runs (id, project, slot, task_id, outcome, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Project, r.Slot, r.TaskID, string(r.Outcome), r.Error, formatTime(r.StartedAt), formatTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first. An empty project
// matches every project.
func (db *DB) RecentRuns(ctx context.Context, project string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(ctx, `
		SELECT id, project, slot, task_id, outcome, error, started_at, finished_at
		FROM task_runs
		WHERE ? = '' OR project = ?
		ORDER BY finished_at DESC
		LIMIT ?
	`, project, project, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var outcome, startedAt, finishedAt string
		if err := rows.Scan(&r.ID, &r.Project, &r.Slot, &r.TaskID, &outcome, &r.Error, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Outcome = models.Outcome(outcome)
		r.StartedAt, _ = parseTime(startedAt)
		r.FinishedAt, _ = parseTime(finishedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
