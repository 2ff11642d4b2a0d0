package engine

import (
	"context"
	"database/sql"
	"time"

	"taskpoints/internal/model"
	"taskpoints/internal/store"
)

// CreateTask stores a new task definition. Daily and weekly tasks wait for
// the next sweep; a special task is handed out immediately to every child
// the admin can assign to, since its one-off window is already running.
// Returns the created task and the ids of children assigned right away.
func (e *Engine) CreateTask(ctx context.Context, t *model.Task, now time.Time) (*model.Task, []int64, error) {
	var created *model.Task
	var assigned []int64

	err := e.withTx(ctx, func(tx *sql.Tx) error {
		tasks := store.NewTaskStore(tx)
		users := store.NewUserStore(tx)
		assignments := store.NewAssignmentStore(tx)

		var err error
		created, err = tasks.Create(ctx, t)
		if err != nil {
			return err
		}
		if created.Type != model.TaskSpecial {
			return nil
		}

		children, err := users.ListChildrenForAdmin(ctx, created.CreatedBy)
		if err != nil {
			return err
		}
		date := model.DayKey(now)
		for _, child := range children {
			a, err := assignments.CreateIfAbsent(ctx, created.ID, child.ID, created.PeriodKey(now), date, *created.DueAt)
			if err != nil {
				return err
			}
			if a != nil {
				assigned = append(assigned, child.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	e.broadcast("task", "created", created.ID, map[string]any{"type": string(created.Type)})
	return created, assigned, nil
}

// DeletedTask reports what a delete removed so callers can notify the
// affected children.
type DeletedTask struct {
	Title           string
	PendingChildIDs []int64
}

// DeleteTask removes one of the admin's task definitions together with its
// open assignments. Completed assignments and their ledger entries survive.
func (e *Engine) DeleteTask(ctx context.Context, taskID, adminID int64) (*DeletedTask, error) {
	var res DeletedTask
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		tasks := store.NewTaskStore(tx)

		task, err := tasks.GetOwned(ctx, taskID, adminID)
		if err != nil {
			return err
		}
		res.Title = task.Title

		res.PendingChildIDs, err = tasks.PendingChildIDs(ctx, taskID)
		if err != nil {
			return err
		}
		return tasks.Delete(ctx, taskID, adminID)
	})
	if err != nil {
		return nil, err
	}

	e.broadcast("task", "deleted", taskID, nil)
	return &res, nil
}

// SetTaskActive toggles one of the admin's tasks in or out of the sweeps.
func (e *Engine) SetTaskActive(ctx context.Context, taskID, adminID int64, active bool) error {
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		return store.NewTaskStore(tx).SetActive(ctx, taskID, adminID, active)
	})
	if err != nil {
		return err
	}

	action := "deactivated"
	if active {
		action = "activated"
	}
	e.broadcast("task", action, taskID, nil)
	return nil
}
