package model

import "time"

// LedgerType classifies a balance-affecting event.
type LedgerType string

const (
	LedgerTaskReward   LedgerType = "task_reward"
	LedgerTaskReturn   LedgerType = "task_return"
	LedgerManualAdd    LedgerType = "manual_add"
	LedgerManualRemove LedgerType = "manual_remove"
)

// LedgerEntry is one append-only balance event. The sum of a child's entries
// equals that child's balance at all times.
type LedgerEntry struct {
	TransactionID string     `json:"transaction_id"`
	ChildID       int64      `json:"child_id"`
	Amount        int        `json:"amount"` // signed
	Type          LedgerType `json:"type"`
	Description   string     `json:"description"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SweepRun records one scheduler sweep for the stats view.
type SweepRun struct {
	ID            int64     `json:"id"`
	TaskType      TaskType  `json:"task_type"`
	AssignedCount int       `json:"assigned_count"`
	SuccessCount  int       `json:"success_count"`
	ErrorCount    int       `json:"error_count"`
	CreatedAt     time.Time `json:"created_at"`
}
