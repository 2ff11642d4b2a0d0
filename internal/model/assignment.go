package model

import "time"

// Assignment is one concrete instance of a task given to one child for one
// period. Completion fields are set together by the completion path and
// cleared together by a return; the scheduler never touches a row after
// creating it.
type Assignment struct {
	ID             int64      `json:"id"`
	TaskID         *int64     `json:"task_id"`
	ChildID        int64      `json:"child_id"`
	PeriodKey      string     `json:"period_key"`
	AssignedDate   string     `json:"assigned_date"` // "2006-01-02"
	DueAt          time.Time  `json:"due_at"`
	IsCompleted    bool       `json:"is_completed"`
	CompletedAt    *time.Time `json:"completed_at"`
	RewardReceived *int       `json:"reward_received"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AssignedDay parses the assignment's calendar day in the given location.
func (a *Assignment) AssignedDay(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", a.AssignedDate, loc)
}
