package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"taskpoints/internal/model"
)

type TaskStore struct {
	db DBTX
}

func NewTaskStore(db DBTX) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(sc scanner) (*model.Task, error) {
	var t model.Task
	var dueAt sql.NullTime
	var active int

	err := sc.Scan(
		&t.ID, &t.Title, &t.Description, &t.Type, &t.Reward,
		&t.DueTime, &t.DueDay, &dueAt, &t.CreatedBy, &active, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dueAt.Valid {
		t.DueAt = &dueAt.Time
	}
	t.IsActive = active != 0
	return &t, nil
}

const taskCols = `task_id, title, description, type, reward, due_time, due_day, due_at, created_by, is_active, created_at`

// validate checks the shape of a task definition: positive reward and a
// schedule rule matching the type, with the other rule fields empty.
func validate(t *model.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !t.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", t.Type)}
	}
	if t.Reward <= 0 {
		return &ValidationError{Field: "reward", Reason: "must be positive"}
	}

	switch t.Type {
	case model.TaskDaily:
		if t.DueTime == "" {
			return &ValidationError{Field: "due_time", Reason: "required for daily tasks"}
		}
		if t.DueDay != "" || t.DueAt != nil {
			return &ValidationError{Field: "schedule", Reason: "daily tasks take only a due time"}
		}
	case model.TaskWeekly:
		if t.DueTime == "" {
			return &ValidationError{Field: "due_time", Reason: "required for weekly tasks"}
		}
		if !slices.Contains(model.Weekdays, t.DueDay) {
			return &ValidationError{Field: "due_day", Reason: fmt.Sprintf("unknown weekday %q", t.DueDay)}
		}
		if t.DueAt != nil {
			return &ValidationError{Field: "schedule", Reason: "weekly tasks take a weekday and time"}
		}
	case model.TaskSpecial:
		if t.DueAt == nil {
			return &ValidationError{Field: "due_at", Reason: "required for special tasks"}
		}
		if t.DueTime != "" || t.DueDay != "" {
			return &ValidationError{Field: "schedule", Reason: "special tasks take only an absolute due instant"}
		}
	}
	if t.DueTime != "" {
		if _, err := time.Parse("15:04", t.DueTime); err != nil {
			return &ValidationError{Field: "due_time", Reason: "must be HH:MM"}
		}
	}
	return nil
}

// Create validates and inserts a task definition, active by default.
func (s *TaskStore) Create(ctx context.Context, t *model.Task) (*model.Task, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	var dueAt sql.NullTime
	if t.DueAt != nil {
		dueAt = sql.NullTime{Time: t.DueAt.UTC(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (title, description, type, reward, due_time, due_day, due_at, created_by, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		t.Title, t.Description, t.Type, t.Reward, t.DueTime, t.DueDay, dueAt, t.CreatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *TaskStore) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE task_id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// GetOwned returns the task only if it exists and belongs to owner.
func (s *TaskStore) GetOwned(ctx context.Context, id, owner int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE task_id = ? AND created_by = ?`, id, owner)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get owned task: %w", err)
	}
	return t, nil
}

// ListByOwner returns an admin's tasks in stable display order.
func (s *TaskStore) ListByOwner(ctx context.Context, owner int64) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE created_by = ?
		 ORDER BY type ASC, is_active DESC, task_id ASC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListActiveByType returns every active task of the given type across all
// admins, grouped by owner for the sweep.
func (s *TaskStore) ListActiveByType(ctx context.Context, typ model.TaskType) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE type = ? AND is_active = 1
		 ORDER BY created_by ASC, task_id ASC`,
		typ,
	)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListActiveWeekly returns active weekly tasks due on the given weekday.
func (s *TaskStore) ListActiveWeekly(ctx context.Context, dayName string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE type = 'weekly' AND is_active = 1 AND due_day = ?
		 ORDER BY created_by ASC, task_id ASC`,
		dayName,
	)
	if err != nil {
		return nil, fmt.Errorf("list weekly tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// SetActive toggles a task owned by owner.
func (s *TaskStore) SetActive(ctx context.Context, id, owner int64, active bool) error {
	var a int
	if active {
		a = 1
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET is_active = ? WHERE task_id = ? AND created_by = ?`,
		a, id, owner,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set active rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingChildIDs returns the distinct children holding a live assignment of
// the task, so a delete can tell the caller who to notify.
func (s *TaskStore) PendingChildIDs(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT child_id FROM assignments WHERE task_id = ? AND is_completed = 0`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("pending children: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the definition and its pending assignments. Completed
// assignments survive with task_id nulled by the foreign key, keeping their
// ledger history intact. Callers run this inside a transaction.
func (s *TaskStore) Delete(ctx context.Context, id, owner int64) error {
	if _, err := s.GetOwned(ctx, id, owner); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM assignments WHERE task_id = ? AND is_completed = 0`, id); err != nil {
		return fmt.Errorf("delete pending assignments: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE task_id = ? AND created_by = ?`, id, owner); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
