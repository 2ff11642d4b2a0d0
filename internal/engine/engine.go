// Package engine implements the reward operations that move points: task
// completion, admin returns, and manual balance adjustments. Every operation
// runs in a single transaction so the ledger, the running balance, and the
// assignment row always change together.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"taskpoints/internal/model"
	"taskpoints/internal/reward"
	"taskpoints/internal/store"
	"taskpoints/internal/websocket"
)

type Engine struct {
	db     *sql.DB
	hub    *websocket.Hub
	logger *slog.Logger
}

func New(db *sql.DB, hub *websocket.Hub, logger *slog.Logger) *Engine {
	return &Engine{db: db, hub: hub, logger: logger}
}

func (e *Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (e *Engine) broadcast(entity, action string, id int64, extra map[string]any) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(websocket.NewMessage(entity, action, id, extra))
}

// CompleteResult describes a successful completion.
type CompleteResult struct {
	Title      string
	TaskType   model.TaskType
	OwnerID    int64
	Window     reward.Window
	Paid       int
	NewBalance int
}

// Complete pays out an open assignment for the child. The reward is the
// task's nominal amount on time and half after the due instant. Once the
// completion window has closed the assignment is no longer actionable: the
// row stays untouched and the attempt fails with ErrNotFound, the same as
// its absence from the child's list.
func (e *Engine) Complete(ctx context.Context, assignmentID, childID int64, now time.Time) (*CompleteResult, error) {
	var res CompleteResult
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		assignments := store.NewAssignmentStore(tx)
		tasks := store.NewTaskStore(tx)
		users := store.NewUserStore(tx)
		ledger := store.NewLedgerStore(tx)

		a, err := assignments.GetByID(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a == nil || a.ChildID != childID || a.TaskID == nil {
			return store.ErrNotFound
		}
		if a.IsCompleted {
			return store.ErrAlreadyCompleted
		}

		task, err := tasks.GetByID(ctx, *a.TaskID)
		if err != nil {
			return err
		}
		if task == nil {
			return store.ErrNotFound
		}

		assignedDay, err := a.AssignedDay(now.Location())
		if err != nil {
			return fmt.Errorf("parse assigned date: %w", err)
		}

		res.Title = task.Title
		res.TaskType = task.Type
		res.OwnerID = task.CreatedBy
		res.Window = reward.Classify(task.Type, a.DueAt, assignedDay, now)

		paid, ok := reward.Compute(task.Type, task.Reward, a.DueAt, assignedDay, now)
		if !ok {
			return store.ErrNotFound
		}
		res.Paid = paid

		if err := assignments.MarkCompleted(ctx, assignmentID, childID, paid, now); err != nil {
			return err
		}
		if paid > 0 {
			if _, err := ledger.Append(ctx, childID, paid, model.LedgerTaskReward, task.Title); err != nil {
				return err
			}
			if err := users.AdjustBalance(ctx, childID, paid); err != nil {
				return err
			}
		}

		res.NewBalance, err = users.Balance(ctx, childID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.broadcast("assignment", "completed", assignmentID, map[string]any{
		"child_id": childID,
		"paid":     res.Paid,
	})
	return &res, nil
}

// ReturnResult describes a reverted completion.
type ReturnResult struct {
	ChildID    int64
	Title      string
	Amount     int
	NewBalance int
}

// Return reverts a completed assignment of one of the admin's tasks: the
// paid reward is debited from the child (the balance may go negative) and
// the assignment reopens in its original period.
func (e *Engine) Return(ctx context.Context, assignmentID, adminID int64) (*ReturnResult, error) {
	var res ReturnResult
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		assignments := store.NewAssignmentStore(tx)
		users := store.NewUserStore(tx)
		ledger := store.NewLedgerStore(tx)

		ret, err := assignments.MarkReturned(ctx, assignmentID, adminID)
		if err != nil {
			return err
		}
		res.ChildID = ret.ChildID
		res.Title = ret.Title
		res.Amount = ret.RewardReceived

		if _, err := ledger.Append(ctx, ret.ChildID, -ret.RewardReceived, model.LedgerTaskReturn, ret.Title); err != nil {
			return err
		}
		if err := users.AdjustBalance(ctx, ret.ChildID, -ret.RewardReceived); err != nil {
			return err
		}

		res.NewBalance, err = users.Balance(ctx, ret.ChildID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.broadcast("assignment", "returned", assignmentID, map[string]any{
		"child_id": res.ChildID,
		"amount":   res.Amount,
	})
	return &res, nil
}

// AddBalance credits a child manually.
func (e *Engine) AddBalance(ctx context.Context, childID int64, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, &store.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	var balance int
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		users := store.NewUserStore(tx)
		ledger := store.NewLedgerStore(tx)

		if _, err := ledger.Append(ctx, childID, amount, model.LedgerManualAdd, reason); err != nil {
			return err
		}
		if err := users.AdjustBalance(ctx, childID, amount); err != nil {
			return err
		}
		var err error
		balance, err = users.Balance(ctx, childID)
		return err
	})
	if err != nil {
		return 0, err
	}

	e.broadcast("balance", "adjusted", childID, map[string]any{"amount": amount})
	return balance, nil
}

// RemoveBalance debits a child manually. Unlike a return, a manual debit
// never overdraws: it fails with ErrInsufficientBalance when the child does
// not hold enough points.
func (e *Engine) RemoveBalance(ctx context.Context, childID int64, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, &store.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	var balance int
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		users := store.NewUserStore(tx)
		ledger := store.NewLedgerStore(tx)

		current, err := users.Balance(ctx, childID)
		if err != nil {
			return err
		}
		if current < amount {
			return store.ErrInsufficientBalance
		}

		if _, err := ledger.Append(ctx, childID, -amount, model.LedgerManualRemove, reason); err != nil {
			return err
		}
		if err := users.AdjustBalance(ctx, childID, -amount); err != nil {
			return err
		}
		balance, err = users.Balance(ctx, childID)
		return err
	})
	if err != nil {
		return 0, err
	}

	e.broadcast("balance", "adjusted", childID, map[string]any{"amount": -amount})
	return balance, nil
}
