// Package scheduler hands out the day's assignments. Sweeps are idempotent:
// the unique (task, child, period) constraint makes a re-run a no-op, so a
// crashed or doubled sweep never produces duplicate assignments.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskpoints/internal/model"
	"taskpoints/internal/store"
)

// Notifier delivers sweep messages to users. Send failures are logged and
// counted but never abort a sweep.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type Sweeper struct {
	db       *sql.DB
	notifier Notifier
	logger   *slog.Logger
}

func NewSweeper(db *sql.DB, notifier Notifier, logger *slog.Logger) *Sweeper {
	return &Sweeper{db: db, notifier: notifier, logger: logger}
}

// Stats summarizes one sweep.
type Stats struct {
	Created  int
	Notified int
	Errors   int
}

// RunDaily assigns every active daily task to its admin's children for
// today's period. Children get one combined message listing their new
// tasks; each admin gets a count of what was handed out.
func (s *Sweeper) RunDaily(ctx context.Context, now time.Time) (*Stats, error) {
	tasks, err := store.NewTaskStore(s.db).ListActiveByType(ctx, model.TaskDaily)
	if err != nil {
		return nil, fmt.Errorf("list daily tasks: %w", err)
	}
	return s.assign(ctx, tasks, model.TaskDaily, now)
}

// RunWeekly assigns active weekly tasks whose due day is today. Running it
// on any other day assigns nothing for tasks due elsewhere in the week.
func (s *Sweeper) RunWeekly(ctx context.Context, now time.Time) (*Stats, error) {
	tasks, err := store.NewTaskStore(s.db).ListActiveWeekly(ctx, model.WeekdayName(now))
	if err != nil {
		return nil, fmt.Errorf("list weekly tasks: %w", err)
	}
	return s.assign(ctx, tasks, model.TaskWeekly, now)
}

func (s *Sweeper) assign(ctx context.Context, tasks []model.Task, typ model.TaskType, now time.Time) (*Stats, error) {
	assignments := store.NewAssignmentStore(s.db)
	users := store.NewUserStore(s.db)

	var stats Stats
	date := model.DayKey(now)
	childrenByAdmin := make(map[int64][]model.User)
	newTitles := make(map[int64][]string)
	perAdmin := make(map[int64]int)

	for _, task := range tasks {
		children, ok := childrenByAdmin[task.CreatedBy]
		if !ok {
			var err error
			children, err = users.ListChildrenForAdmin(ctx, task.CreatedBy)
			if err != nil {
				s.logger.Error("sweep: list children", "admin_id", task.CreatedBy, "error", err)
				stats.Errors++
				continue
			}
			childrenByAdmin[task.CreatedBy] = children
		}

		dueAt, err := task.DueInstant(now)
		if err != nil {
			s.logger.Error("sweep: resolve due instant", "task_id", task.ID, "error", err)
			stats.Errors++
			continue
		}
		periodKey := task.PeriodKey(now)

		for _, child := range children {
			a, err := assignments.CreateIfAbsent(ctx, task.ID, child.ID, periodKey, date, dueAt)
			if err != nil {
				s.logger.Error("sweep: create assignment",
					"task_id", task.ID, "child_id", child.ID, "error", err)
				stats.Errors++
				continue
			}
			if a == nil {
				continue // already assigned this period
			}
			stats.Created++
			perAdmin[task.CreatedBy]++
			newTitles[child.ID] = append(newTitles[child.ID], task.Title)
		}
	}

	s.notify(ctx, typ, newTitles, perAdmin, &stats)

	if err := store.NewSweepRunStore(s.db).Record(ctx, typ, stats.Created, stats.Notified, stats.Errors); err != nil {
		s.logger.Error("sweep: record run", "error", err)
	}

	s.logger.Info("sweep finished", "type", typ,
		"created", stats.Created, "notified", stats.Notified, "errors", stats.Errors)
	return &stats, nil
}

func (s *Sweeper) notify(ctx context.Context, typ model.TaskType, newTitles map[int64][]string, perAdmin map[int64]int, stats *Stats) {
	if s.notifier == nil {
		return
	}

	label := "today"
	if typ == model.TaskWeekly {
		label = "this week"
	}

	for childID, titles := range newTitles {
		var b strings.Builder
		fmt.Fprintf(&b, "You have %d new task(s) %s:\n", len(titles), label)
		for _, title := range titles {
			fmt.Fprintf(&b, "  - %s\n", title)
		}
		if err := s.notifier.SendMessage(ctx, childID, b.String()); err != nil {
			s.logger.Error("sweep: notify child", "child_id", childID, "error", err)
			stats.Errors++
			continue
		}
		stats.Notified++
	}

	for adminID, count := range perAdmin {
		if count == 0 {
			continue
		}
		msg := fmt.Sprintf("Assigned %d task(s) %s.", count, label)
		if err := s.notifier.SendMessage(ctx, adminID, msg); err != nil {
			s.logger.Error("sweep: notify admin", "admin_id", adminID, "error", err)
			stats.Errors++
		}
	}
}
