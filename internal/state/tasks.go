package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// ProjectBacklog is the backlog of one project, stored in SQLite.
type ProjectBacklog struct {
	db      *DB
	project string
}

// Project returns the backlog of the project with id.
func (db *DB) Project(id string) *ProjectBacklog {
	return &ProjectBacklog{db: db, project: id}
}

// Name identifies the backlog in logs.
func (p *ProjectBacklog) Name() string {
	return "sqlite:" + p.project
}

const taskColumns = `id, project, title, description, priority, estimate, state,
	auto_merge, pr_number, unmergable, unmergable_reason, updated_at`

// List returns the project's open tasks: not cancelled and not done.
func (p *ProjectBacklog) List(ctx context.Context) ([]models.Task, error) {
	return p.list(ctx, false)
}

// ListAll returns every non-cancelled task, including done ones.
func (p *ProjectBacklog) ListAll(ctx context.Context) ([]models.Task, error) {
	return p.list(ctx, true)
}

func (p *ProjectBacklog) list(ctx context.Context, includeDone bool) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE project = ? AND canceled_at IS NULL`
	if !includeDone {
		query += ` AND state != 'done'`
	}
	query += ` ORDER BY seq`

	rows, err := p.db.Query(ctx, query, p.project)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	blockers, err := p.openBlockers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].BlockedBy = blockers[tasks[i].ID]
	}
	return tasks, nil
}

// Get returns one task or backlog.ErrTaskNotFound.
func (p *ProjectBacklog) Get(ctx context.Context, id string) (models.Task, error) {
	rows, err := p.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE project = ? AND id = ? AND canceled_at IS NULL`, p.project, id)
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return models.Task{}, err
	}
	if len(tasks) == 0 {
		return models.Task{}, fmt.Errorf("%s: %w", id, backlog.ErrTaskNotFound)
	}

	blockers, err := p.openBlockers(ctx)
	if err != nil {
		return models.Task{}, err
	}
	tasks[0].BlockedBy = blockers[id]
	return tasks[0], nil
}

// openBlockers maps task ids to blockers that are still unfinished. A
// blocker that is done, cancelled or unknown no longer blocks.
func (p *ProjectBacklog) openBlockers(ctx context.Context) (map[string][]string, error) {
	rows, err := p.db.Query(ctx, `
		SELECT b.task_id, b.blocker_id
		FROM task_blockers b
		JOIN tasks t ON t.id = b.task_id
		JOIN tasks blocker ON blocker.id = b.blocker_id
		WHERE t.project = ? AND blocker.state != 'done' AND blocker.canceled_at IS NULL
		ORDER BY b.blocker_id
	`, p.project)
	if err != nil {
		return nil, fmt.Errorf("list blockers: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var taskID, blockerID string
		if err := rows.Scan(&taskID, &blockerID); err != nil {
			return nil, fmt.Errorf("scan blocker: %w", err)
		}
		out[taskID] = append(out[taskID], blockerID)
	}
	return out, rows.Err()
}

// Create inserts a task, assigning the next T-<n> id when it has none.
func (p *ProjectBacklog) Create(ctx context.Context, task models.Task) (models.Task, error) {
	if strings.TrimSpace(task.Title) == "" {
		return models.Task{}, errors.New("create task: title is required")
	}
	if task.State == "" {
		task.State = models.TaskStateTodo
	}
	if !task.State.Valid() {
		return models.Task{}, fmt.Errorf("create task: invalid state %q", task.State)
	}
	task.Project = p.project
	now := time.Now()
	task.UpdatedAt = now

	err := p.db.Transaction(ctx, func(tx *sql.Tx) error {
		if task.ID == "" {
			var next int
			if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM tasks").Scan(&next); err != nil {
				return fmt.Errorf("next task id: %w", err)
			}
			task.ID = fmt.Sprintf("T-%d", next)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project, title, description, priority, estimate, state,
				auto_merge, pr_number, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.ID, task.Project, task.Title, task.Description, task.Priority, task.Estimate,
			string(task.State), task.AutoMerge, task.PRNumber, formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return replaceBlockers(ctx, tx, task.ID, task.BlockedBy)
	})
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// Update applies the set fields of u.
func (p *ProjectBacklog) Update(ctx context.Context, id string, u backlog.Update) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	if u.IsZero() {
		return nil
	}

	return p.db.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
			WHERE project = ? AND id = ? AND canceled_at IS NULL`, p.project, id)
		if err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
		tasks, err := scanTasks(rows)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return fmt.Errorf("%s: %w", id, backlog.ErrTaskNotFound)
		}

		t := tasks[0]
		u.Apply(&t)
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET title = ?, description = ?, state = ?, auto_merge = ?,
				pr_number = ?, updated_at = ?
			WHERE id = ?
		`, t.Title, t.Description, string(t.State), t.AutoMerge, t.PRNumber, formatTime(time.Now()), id)
		if err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}

		if u.BlockedBy != nil {
			return replaceBlockers(ctx, tx, id, *u.BlockedBy)
		}
		return nil
	})
}

func replaceBlockers(ctx context.Context, tx *sql.Tx, id string, blockedBy []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM task_blockers WHERE task_id = ?", id); err != nil {
		return fmt.Errorf("clear blockers of %s: %w", id, err)
	}
	seen := make(map[string]bool)
	for _, b := range blockedBy {
		b = strings.TrimSpace(b)
		if b == "" || b == id || seen[b] {
			continue
		}
		seen[b] = true
		if _, err := tx.ExecContext(ctx, "INSERT INTO task_blockers (task_id, blocker_id) VALUES (?, ?)", id, b); err != nil {
			return fmt.Errorf("add blocker %s to %s: %w", b, id, err)
		}
	}
	return nil
}

// Cancel removes a task from the open backlog.
func (p *ProjectBacklog) Cancel(ctx context.Context, id string) error {
	return p.touch(ctx, id, "canceled_at = ?", formatTime(time.Now()))
}

// FlagUnmergable marks a task as needing human integration.
func (p *ProjectBacklog) FlagUnmergable(ctx context.Context, id, reason string) error {
	return p.touch(ctx, id, "unmergable = 1, unmergable_reason = ?", reason)
}

func (p *ProjectBacklog) touch(ctx context.Context, id, set string, arg any) error {
	result, err := p.db.Exec(ctx, `UPDATE tasks SET `+set+`, updated_at = ?
		WHERE project = ? AND id = ? AND canceled_at IS NULL`,
		arg, formatTime(time.Now()), p.project, id)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, backlog.ErrTaskNotFound)
	}
	return nil
}

// scanTasks scans task rows into a slice and closes rows.
func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var state, updatedAt string
		var estimate sql.NullFloat64
		var prNumber sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Project, &t.Title, &t.Description, &t.Priority, &estimate, &state,
			&t.AutoMerge, &prNumber, &t.Unmergable, &t.UnmergableReason, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.State = models.TaskState(state)
		if estimate.Valid {
			v := estimate.Float64
			t.Estimate = &v
		}
		if prNumber.Valid {
			t.PRNumber = models.IntPtr(int(prNumber.Int64))
		}
		t.UpdatedAt, _ = parseTime(updatedAt)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return tasks, nil
}

// Projects returns the ids of projects that have tasks, sorted.
func (db *DB) Projects(ctx context.Context) ([]string, error) {
	rows, err := db.Query(ctx, "SELECT DISTINCT project FROM tasks")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}
