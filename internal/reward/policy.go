// Package reward holds the pure timing and payout rules for assignments.
// It is the single dispatch point over the task type variant: stores and the
// completion engine ask it what an assignment's window is and what a
// completion pays, and never branch on the type themselves.
package reward

import (
	"time"

	"taskpoints/internal/model"
)

// Window classifies an assignment's completion window at a given instant.
type Window int

const (
	// OnTime means completion now pays the full nominal reward.
	OnTime Window = iota
	// LateHalf means completion is still allowed but pays half, floored.
	LateHalf
	// Expired means the assignment is no longer actionable and must be
	// excluded from the completable set.
	Expired
)

// Classify determines the completion window for an assignment of the given
// type at instant now. assignedDay is the midnight of the assignment's
// calendar day in now's location.
//
// Special tasks never expire: any completion past the due instant pays half.
// Daily tasks get a grace window until the end of their assigned day; once
// the day has rolled over they are gone. Weekly tasks have the same
// end-of-day terminal cutoff but no on-the-day grace beyond it either way:
// their due instant falls on the assigned day, so a late same-day completion
// is the only half-pay case.
func Classify(taskType model.TaskType, dueAt, assignedDay, now time.Time) Window {
	if taskType == model.TaskSpecial {
		if now.After(dueAt) {
			return LateHalf
		}
		return OnTime
	}

	endOfDay := time.Date(assignedDay.Year(), assignedDay.Month(), assignedDay.Day(),
		23, 59, 59, 0, assignedDay.Location())

	if taskType == model.TaskDaily && !sameDay(assignedDay, now) && now.After(dueAt) {
		return Expired
	}
	if now.After(endOfDay) {
		return Expired
	}
	if now.After(dueAt) {
		return LateHalf
	}
	return OnTime
}

// Compute returns the paid reward for a completion at instant now, or 0 and
// false when the window has expired and no completion is possible. The
// nominal reward is validated positive at task creation; the half-pay floor
// division may still legitimately yield 0 for a 1-point task.
func Compute(taskType model.TaskType, nominal int, dueAt, assignedDay, now time.Time) (int, bool) {
	switch Classify(taskType, dueAt, assignedDay, now) {
	case OnTime:
		return nominal, true
	case LateHalf:
		return Halve(nominal), true
	default:
		return 0, false
	}
}

// Halve is the late-completion payout for a nominal reward, floored.
func Halve(nominal int) int {
	return nominal / 2
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
