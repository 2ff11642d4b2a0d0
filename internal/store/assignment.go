package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"taskpoints/internal/model"
	"taskpoints/internal/reward"
)

type AssignmentStore struct {
	db DBTX
}

func NewAssignmentStore(db DBTX) *AssignmentStore {
	return &AssignmentStore{db: db}
}

func scanAssignment(sc scanner) (*model.Assignment, error) {
	var a model.Assignment
	var taskID sql.NullInt64
	var completed int
	var completedAt sql.NullTime
	var rewardReceived sql.NullInt64

	err := sc.Scan(
		&a.ID, &taskID, &a.ChildID, &a.PeriodKey, &a.AssignedDate, &a.DueAt,
		&completed, &completedAt, &rewardReceived, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if taskID.Valid {
		a.TaskID = &taskID.Int64
	}
	a.IsCompleted = completed != 0
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	if rewardReceived.Valid {
		r := int(rewardReceived.Int64)
		a.RewardReceived = &r
	}
	return &a, nil
}

const assignmentCols = `assignment_id, task_id, child_id, period_key, assigned_date, due_at, is_completed, completed_at, reward_received, created_at`

// CreateIfAbsent atomically inserts an assignment for (task, child, period)
// and returns nil when one already exists in that period, completed or not.
// Repeated sweeps and retries rely on this being a single check-and-insert.
func (s *AssignmentStore) CreateIfAbsent(ctx context.Context, taskID, childID int64, periodKey, assignedDate string, dueAt time.Time) (*model.Assignment, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (task_id, child_id, period_key, assigned_date, due_at, is_completed)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT(task_id, child_id, period_key) DO NOTHING`,
		taskID, childID, periodKey, assignedDate, dueAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *AssignmentStore) GetByID(ctx context.Context, id int64) (*model.Assignment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assignmentCols+` FROM assignments WHERE assignment_id = ?`, id)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

// ChildAssignment is an open assignment joined with its task and enriched
// with the derived completion window for display.
type ChildAssignment struct {
	model.Assignment
	Title       string
	Description string
	TaskType    model.TaskType
	Reward      int
	Window      reward.Window
}

// ListActiveForChild returns the child's open assignments that are still
// actionable at now. Expired assignments (a daily task whose day has rolled
// over, or any daily/weekly past the end of its assigned day) are excluded
// entirely. Ordering: overdue-but-still-actionable first, then special,
// daily, weekly, each by due instant ascending.
func (s *AssignmentStore) ListActiveForChild(ctx context.Context, childID int64, now time.Time) ([]ChildAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.assignment_id, a.task_id, a.child_id, a.period_key, a.assigned_date, a.due_at,
		        a.is_completed, a.completed_at, a.reward_received, a.created_at,
		        t.title, t.description, t.type, t.reward
		 FROM assignments a
		 JOIN tasks t ON a.task_id = t.task_id
		 WHERE a.child_id = ? AND a.is_completed = 0
		 ORDER BY a.due_at ASC`,
		childID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active assignments: %w", err)
	}
	defer rows.Close()

	var out []ChildAssignment
	for rows.Next() {
		var ca ChildAssignment
		var taskID sql.NullInt64
		var completed int
		var completedAt sql.NullTime
		var rewardReceived sql.NullInt64

		err := rows.Scan(
			&ca.ID, &taskID, &ca.ChildID, &ca.PeriodKey, &ca.AssignedDate, &ca.DueAt,
			&completed, &completedAt, &rewardReceived, &ca.CreatedAt,
			&ca.Title, &ca.Description, &ca.TaskType, &ca.Reward,
		)
		if err != nil {
			return nil, fmt.Errorf("scan active assignment: %w", err)
		}
		if taskID.Valid {
			ca.TaskID = &taskID.Int64
		}
		ca.IsCompleted = completed != 0

		assignedDay, err := ca.AssignedDay(now.Location())
		if err != nil {
			return nil, fmt.Errorf("parse assigned date: %w", err)
		}
		ca.Window = reward.Classify(ca.TaskType, ca.DueAt, assignedDay, now)
		if ca.Window == reward.Expired {
			continue
		}
		out = append(out, ca)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		gi, gj := displayGroup(out[i]), displayGroup(out[j])
		if gi != gj {
			return gi < gj
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}

func displayGroup(ca ChildAssignment) int {
	if ca.Window == reward.LateHalf {
		return 0
	}
	switch ca.TaskType {
	case model.TaskSpecial:
		return 1
	case model.TaskDaily:
		return 2
	default:
		return 3
	}
}

// MarkCompleted records a completion for an open assignment owned by the
// child. The caller wraps it in the same transaction as the ledger append
// and balance update.
func (s *AssignmentStore) MarkCompleted(ctx context.Context, id, childID int64, paidReward int, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET is_completed = 1, completed_at = ?, reward_received = ?
		 WHERE assignment_id = ? AND child_id = ? AND is_completed = 0`,
		now.UTC(), paidReward, id, childID,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark completed rows: %w", err)
	}
	if n == 0 {
		// Distinguish the idempotence conflict from a missing row.
		var completed int
		err := s.db.QueryRowContext(ctx,
			`SELECT is_completed FROM assignments WHERE assignment_id = ? AND child_id = ?`,
			id, childID,
		).Scan(&completed)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check completion: %w", err)
		}
		if completed != 0 {
			return ErrAlreadyCompleted
		}
		return ErrNotFound
	}
	return nil
}

// Returned describes a reverted completion for the caller's ledger entry and
// notifications.
type Returned struct {
	ChildID        int64
	RewardReceived int
	Title          string
	TaskType       model.TaskType
}

// MarkReturned reverts a completed assignment owned (via its task) by the
// admin back to its pre-completion state, making it live again in the same
// period it originally occupied. Fails when the assignment is missing, not
// completed, not the admin's, or paid no reward.
func (s *AssignmentStore) MarkReturned(ctx context.Context, id, adminID int64) (*Returned, error) {
	var ret Returned
	var rewardReceived sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT a.child_id, a.reward_received, t.title, t.type
		 FROM assignments a
		 JOIN tasks t ON a.task_id = t.task_id
		 WHERE a.assignment_id = ? AND a.is_completed = 1 AND t.created_by = ?`,
		id, adminID,
	).Scan(&ret.ChildID, &rewardReceived, &ret.Title, &ret.TaskType)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get completed assignment: %w", err)
	}

	if !rewardReceived.Valid || rewardReceived.Int64 <= 0 {
		return nil, ErrNoReward
	}
	ret.RewardReceived = int(rewardReceived.Int64)

	res, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET is_completed = 0, completed_at = NULL, reward_received = NULL
		 WHERE assignment_id = ? AND is_completed = 1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("mark returned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotCompleted
	}
	return &ret, nil
}

// CompletedForAdmin is one row of the admin's recently-completed review.
type CompletedForAdmin struct {
	AssignmentID   int64
	Title          string
	TaskType       model.TaskType
	CompletedAt    time.Time
	RewardReceived int
	ChildID        int64
	ChildName      string
}

// ListCompletedForAdmin returns completions of the admin's tasks since the
// given instant, newest first.
func (s *AssignmentStore) ListCompletedForAdmin(ctx context.Context, adminID int64, since time.Time, limit, offset int) ([]CompletedForAdmin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.assignment_id, t.title, t.type, a.completed_at, a.reward_received, a.child_id, u.full_name
		 FROM assignments a
		 JOIN tasks t ON a.task_id = t.task_id
		 JOIN users u ON a.child_id = u.user_id
		 WHERE a.is_completed = 1 AND t.created_by = ? AND a.completed_at >= ?
		 ORDER BY a.completed_at DESC
		 LIMIT ? OFFSET ?`,
		adminID, since.UTC(), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	defer rows.Close()

	var out []CompletedForAdmin
	for rows.Next() {
		var c CompletedForAdmin
		if err := rows.Scan(&c.AssignmentID, &c.Title, &c.TaskType, &c.CompletedAt, &c.RewardReceived, &c.ChildID, &c.ChildName); err != nil {
			return nil, fmt.Errorf("scan completed: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
