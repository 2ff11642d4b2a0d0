package model

import (
	"fmt"
	"time"
)

// TaskType is the closed set of task schedule variants.
type TaskType string

const (
	TaskDaily   TaskType = "daily"
	TaskWeekly  TaskType = "weekly"
	TaskSpecial TaskType = "special"
)

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskDaily, TaskWeekly, TaskSpecial:
		return true
	}
	return false
}

// Weekday names accepted for weekly task due days, Monday first to match the
// ISO week the weekly period key is derived from.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// WeekdayName returns the lowercase weekday name for t.
func WeekdayName(t time.Time) string {
	// time.Weekday is Sunday-based
	return Weekdays[(int(t.Weekday())+6)%7]
}

// Task is a reusable chore template owned by an admin. Exactly one schedule
// rule is set, determined by Type: DueTime for daily, DueDay+DueTime for
// weekly, DueAt for special.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Type        TaskType   `json:"type"`
	Reward      int        `json:"reward"`
	DueTime     string     `json:"due_time,omitempty"` // "15:04", daily and weekly
	DueDay      string     `json:"due_day,omitempty"`  // weekday name, weekly only
	DueAt       *time.Time `json:"due_at,omitempty"`   // absolute instant, special only
	CreatedBy   int64      `json:"created_by"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DueInstant resolves the absolute due instant of an assignment of this task
// created on the given day.
func (t *Task) DueInstant(day time.Time) (time.Time, error) {
	switch t.Type {
	case TaskDaily, TaskWeekly:
		clock, err := time.Parse("15:04", t.DueTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse due time %q: %w", t.DueTime, err)
		}
		return time.Date(day.Year(), day.Month(), day.Day(),
			clock.Hour(), clock.Minute(), 0, 0, day.Location()), nil
	case TaskSpecial:
		if t.DueAt == nil {
			return time.Time{}, fmt.Errorf("special task %d has no due instant", t.ID)
		}
		return *t.DueAt, nil
	}
	return time.Time{}, fmt.Errorf("unknown task type %q", t.Type)
}

// PeriodKey returns the recurrence bucket an assignment of this task belongs
// to when created at now: the calendar day for daily, the ISO week for
// weekly, and a single lifetime bucket for special. The assignment store's
// uniqueness constraint is keyed on it.
func (t *Task) PeriodKey(now time.Time) string {
	switch t.Type {
	case TaskDaily:
		return DayKey(now)
	case TaskWeekly:
		return WeekKey(now)
	default:
		return "lifetime"
	}
}

// DayKey formats t as a calendar-day period key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// WeekKey formats t as an ISO-week period key, e.g. "2024-W52".
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
