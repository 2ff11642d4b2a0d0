package bot

import (
	"sync"
	"time"

	"taskpoints/internal/model"
)

// draftStep walks the task creation conversation in order. Which schedule
// steps run depends on the chosen type.
type draftStep int

const (
	stepTitle draftStep = iota
	stepDescription
	stepType
	stepReward
	stepDueTime // daily and weekly
	stepDueDay  // weekly only
	stepDueAt   // special only
	stepConfirm
)

// TaskDraft is a partially entered task definition for one admin.
type TaskDraft struct {
	Step      draftStep
	Task      model.Task
	UpdatedAt time.Time
}

type balanceOp string

const (
	opAdd    balanceOp = "add"
	opRemove balanceOp = "remove"
)

// BalanceDraft waits for the admin to type an amount and reason.
type BalanceDraft struct {
	ChildID   int64
	Op        balanceOp
	UpdatedAt time.Time
}

// Drafts holds in-flight conversations keyed by user id. Entries expire so
// an abandoned flow does not swallow unrelated messages days later.
type Drafts struct {
	mu       sync.Mutex
	tasks    map[int64]*TaskDraft
	balances map[int64]*BalanceDraft
	ttl      time.Duration
}

func NewDrafts(ttl time.Duration) *Drafts {
	return &Drafts{
		tasks:    make(map[int64]*TaskDraft),
		balances: make(map[int64]*BalanceDraft),
		ttl:      ttl,
	}
}

func (d *Drafts) Task(userID int64) *TaskDraft {
	d.mu.Lock()
	defer d.mu.Unlock()

	draft, ok := d.tasks[userID]
	if !ok {
		return nil
	}
	if time.Since(draft.UpdatedAt) > d.ttl {
		delete(d.tasks, userID)
		return nil
	}
	return draft
}

func (d *Drafts) PutTask(userID int64, draft *TaskDraft) {
	draft.UpdatedAt = time.Now()
	d.mu.Lock()
	d.tasks[userID] = draft
	d.mu.Unlock()
}

func (d *Drafts) Balance(userID int64) *BalanceDraft {
	d.mu.Lock()
	defer d.mu.Unlock()

	draft, ok := d.balances[userID]
	if !ok {
		return nil
	}
	if time.Since(draft.UpdatedAt) > d.ttl {
		delete(d.balances, userID)
		return nil
	}
	return draft
}

func (d *Drafts) PutBalance(userID int64, draft *BalanceDraft) {
	draft.UpdatedAt = time.Now()
	d.mu.Lock()
	d.balances[userID] = draft
	d.mu.Unlock()
}

// Clear drops every in-flight conversation for the user.
func (d *Drafts) Clear(userID int64) {
	d.mu.Lock()
	delete(d.tasks, userID)
	delete(d.balances, userID)
	d.mu.Unlock()
}
