package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskpoints/internal/model"
	"taskpoints/internal/reward"
)

func TestAssignmentCreateIfAbsent(t *testing.T) {
	db := setupTestDB(t)
	seedAdmin(t, db, 100)
	seedChild(t, db, 1, "kid")
	ts := NewTaskStore(db)
	as := NewAssignmentStore(db)
	ctx := context.Background()

	task := seedTask(t, ts, 100, model.TaskDaily, 10)
	due := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	first, err := as.CreateIfAbsent(ctx, task.ID, 1, "2026-03-02", "2026-03-02", due)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if first == nil {
		t.Fatal("expected assignment on first insert")
	}
	if first.IsCompleted {
		t.Error("new assignment should be open")
	}

	second, err := as.CreateIfAbsent(ctx, task.ID, 1, "2026-03-02", "2026-03-02", due)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if second != nil {
		t.Error("duplicate period should be a no-op")
	}

	next, err := as.CreateIfAbsent(ctx, task.ID, 1, "2026-03-03", "2026-03-03", due.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("next period insert: %v", err)
	}
	if next == nil {
		t.Error("new period should create a fresh assignment")
	}
}

func TestAssignmentMarkCompleted(t *testing.T) {
	db := setupTestDB(t)
	seedAdmin(t, db, 100)
	seedChild(t, db, 1, "kid")
	ts := NewTaskStore(db)
	as := NewAssignmentStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)

	task := seedTask(t, ts, 100, model.TaskDaily, 10)
	a, err := as.CreateIfAbsent(ctx, task.ID, 1, "2026-03-02", "2026-03-02", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	if err := as.MarkCompleted(ctx, a.ID, 1, 10, now); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	got, _ := as.GetByID(ctx, a.ID)
	if !got.IsCompleted {
		t.Error("assignment should be completed")
	}
	if got.RewardReceived == nil || *got.RewardReceived != 10 {
		t.Errorf("reward_received = %v, want 10", got.RewardReceived)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at should be set")
	}

	if err := as.MarkCompleted(ctx, a.ID, 1, 10, now); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("double complete: expected ErrAlreadyCompleted, got %v", err)
	}
	if err := as.MarkCompleted(ctx, 9999, 1, 10, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing assignment: expected ErrNotFound, got %v", err)
	}
	if err := as.MarkCompleted(ctx, a.ID, 2, 10, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrong child: expected ErrNotFound, got %v", err)
	}
}

func TestAssignmentMarkReturned(t *testing.T) {
	db := setupTestDB(t)
	seedAdmin(t, db, 100)
	seedAdmin(t, db, 200)
	seedChild(t, db, 1, "kid")
	ts := NewTaskStore(db)
	as := NewAssignmentStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)

	task := seedTask(t, ts, 100, model.TaskDaily, 10)
	a, _ := as.CreateIfAbsent(ctx, task.ID, 1, "2026-03-02", "2026-03-02", now.Add(time.Hour))

	// Not completed yet.
	if _, err := as.MarkReturned(ctx, a.ID, 100); !errors.Is(err, ErrNotFound) {
		t.Errorf("open assignment: expected ErrNotFound, got %v", err)
	}

	if err := as.MarkCompleted(ctx, a.ID, 1, 10, now); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	// Wrong admin.
	if _, err := as.MarkReturned(ctx, a.ID, 200); !errors.Is(err, ErrNotFound) {
		t.Errorf("other admin: expected ErrNotFound, got %v", err)
	}

	ret, err := as.MarkReturned(ctx, a.ID, 100)
	if err != nil {
		t.Fatalf("mark returned: %v", err)
	}
	if ret.ChildID != 1 || ret.RewardReceived != 10 {
		t.Errorf("returned = %+v", ret)
	}

	got, _ := as.GetByID(ctx, a.ID)
	if got.IsCompleted || got.CompletedAt != nil || got.RewardReceived != nil {
		t.Errorf("assignment not reopened: %+v", got)
	}

	// The reopened row occupies its original period slot.
	dup, err := as.CreateIfAbsent(ctx, task.ID, 1, "2026-03-02", "2026-03-02", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("re-insert after return: %v", err)
	}
	if dup != nil {
		t.Error("returned assignment should still hold its period")
	}

	// Completing again pays out again.
	if err := as.MarkCompleted(ctx, a.ID, 1, 5, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("re-complete: %v", err)
	}
}

func TestAssignmentListActiveForChild(t *testing.T) {
	db := setupTestDB(t)
	seedAdmin(t, db, 100)
	seedChild(t, db, 1, "kid")
	ts := NewTaskStore(db)
	as := NewAssignmentStore(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // Monday noon

	daily := seedTask(t, ts, 100, model.TaskDaily, 10)
	weekly := seedTask(t, ts, 100, model.TaskWeekly, 20)
	special := seedTask(t, ts, 100, model.TaskSpecial, 6)

	// Overdue daily from today: still actionable at half reward.
	lateDue := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if _, err := as.CreateIfAbsent(ctx, daily.ID, 1, "2026-03-02", "2026-03-02", lateDue); err != nil {
		t.Fatalf("create late daily: %v", err)
	}
	// Yesterday's daily: expired, must not appear.
	stale, err := as.CreateIfAbsent(ctx, daily.ID, 1, "2026-03-01", "2026-03-01", lateDue.AddDate(0, 0, -1))
	if err != nil || stale == nil {
		t.Fatalf("create stale daily: %v", err)
	}
	// Weekly due Sunday evening.
	weeklyDue := time.Date(2026, 3, 8, 18, 0, 0, 0, time.UTC)
	if _, err := as.CreateIfAbsent(ctx, weekly.ID, 1, "2026-W10", "2026-03-02", weeklyDue); err != nil {
		t.Fatalf("create weekly: %v", err)
	}
	// Special due next week.
	if _, err := as.CreateIfAbsent(ctx, special.ID, 1, "lifetime", "2026-03-02", *special.DueAt); err != nil {
		t.Fatalf("create special: %v", err)
	}

	list, err := as.ListActiveForChild(ctx, 1, now)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(list))
	}
	if list[0].Window != reward.LateHalf || list[0].TaskType != model.TaskDaily {
		t.Errorf("first entry should be the overdue daily, got %+v", list[0])
	}
	if list[1].TaskType != model.TaskSpecial {
		t.Errorf("second entry should be the special task, got %+v", list[1])
	}
	if list[2].TaskType != model.TaskWeekly {
		t.Errorf("third entry should be the weekly task, got %+v", list[2])
	}
}

func TestAssignmentListCompletedForAdmin(t *testing.T) {
	db := setupTestDB(t)
	seedAdmin(t, db, 100)
	seedChild(t, db, 1, "kid")
	ts := NewTaskStore(db)
	as := NewAssignmentStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)

	task := seedTask(t, ts, 100, model.TaskDaily, 10)
	a, _ := as.CreateIfAbsent(ctx, task.ID, 1, "2026-03-02", "2026-03-02", now.Add(time.Hour))
	if err := as.MarkCompleted(ctx, a.ID, 1, 10, now); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	list, err := as.ListCompletedForAdmin(ctx, 100, now.AddDate(0, 0, -7), 50, 0)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(list))
	}
	if list[0].AssignmentID != a.ID || list[0].ChildName != "kid" || list[0].RewardReceived != 10 {
		t.Errorf("completion = %+v", list[0])
	}

	// Outside the window.
	old, err := as.ListCompletedForAdmin(ctx, 100, now.Add(time.Hour), 50, 0)
	if err != nil {
		t.Fatalf("list completed since future: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("expected no completions, got %d", len(old))
	}
}
