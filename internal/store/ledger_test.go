package store

import (
	"context"
	"testing"

	"taskpoints/internal/model"
)

func TestLedgerAppendAndSum(t *testing.T) {
	db := setupTestDB(t)
	seedChild(t, db, 1, "kid")
	ls := NewLedgerStore(db)
	ctx := context.Background()

	e, err := ls.Append(ctx, 1, 10, model.LedgerTaskReward, "Dishes")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.TransactionID == "" {
		t.Error("expected transaction id")
	}
	if e.Amount != 10 || e.Type != model.LedgerTaskReward {
		t.Errorf("entry = %+v", e)
	}

	if _, err := ls.Append(ctx, 1, -10, model.LedgerTaskReturn, "Dishes returned"); err != nil {
		t.Fatalf("append return: %v", err)
	}
	if _, err := ls.Append(ctx, 1, 25, model.LedgerManualAdd, "Allowance"); err != nil {
		t.Fatalf("append manual: %v", err)
	}

	sum, err := ls.SumForChild(ctx, 1)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 25 {
		t.Errorf("sum = %d, want 25", sum)
	}
}

func TestLedgerSumEmptyChild(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLedgerStore(db)

	sum, err := ls.SumForChild(context.Background(), 42)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 0 {
		t.Errorf("sum = %d, want 0", sum)
	}
}

func TestLedgerListByChild(t *testing.T) {
	db := setupTestDB(t)
	seedChild(t, db, 1, "kid")
	seedChild(t, db, 2, "other")
	ls := NewLedgerStore(db)
	ctx := context.Background()

	if _, err := ls.Append(ctx, 1, 10, model.LedgerTaskReward, "a"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := ls.Append(ctx, 1, -4, model.LedgerManualRemove, "b"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := ls.Append(ctx, 2, 99, model.LedgerManualAdd, "c"); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := ls.ListByChild(ctx, 1, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.ChildID != 1 {
			t.Errorf("entry for child %d leaked in", e.ChildID)
		}
	}

	capped, err := ls.ListByChild(ctx, 1, 1)
	if err != nil {
		t.Fatalf("list capped: %v", err)
	}
	if len(capped) != 1 {
		t.Errorf("expected 1 entry, got %d", len(capped))
	}
}
