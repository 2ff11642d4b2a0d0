package store

import (
	"context"
	"fmt"
	"time"

	"taskpoints/internal/model"
)

type SweepRunStore struct {
	db DBTX
}

func NewSweepRunStore(db DBTX) *SweepRunStore {
	return &SweepRunStore{db: db}
}

// Record logs one sweep outcome for the stats view.
func (s *SweepRunStore) Record(ctx context.Context, typ model.TaskType, assigned, success, errorCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sweep_runs (task_type, assigned_count, success_count, error_count)
		 VALUES (?, ?, ?, ?)`,
		typ, assigned, success, errorCount,
	)
	if err != nil {
		return fmt.Errorf("record sweep run: %w", err)
	}
	return nil
}

// ListSince returns sweep runs after the cutoff, newest first.
func (s *SweepRunStore) ListSince(ctx context.Context, since time.Time) ([]model.SweepRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_type, assigned_count, success_count, error_count, created_at
		 FROM sweep_runs WHERE created_at >= ? ORDER BY created_at DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []model.SweepRun
	for rows.Next() {
		var r model.SweepRun
		if err := rows.Scan(&r.ID, &r.TaskType, &r.AssignedCount, &r.SuccessCount, &r.ErrorCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sweep run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
