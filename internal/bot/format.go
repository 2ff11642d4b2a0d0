package bot

import (
	"fmt"
	"strings"
	"time"

	"taskpoints/internal/model"
	"taskpoints/internal/reward"
	"taskpoints/internal/store"
)

func formatAssignment(ca store.ChildAssignment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d pts", ca.Title, ca.Reward)
	if ca.Window == reward.LateHalf {
		fmt.Fprintf(&b, ", overdue: %d pts now", reward.Halve(ca.Reward))
	}
	b.WriteString(")")

	switch ca.TaskType {
	case model.TaskDaily:
		fmt.Fprintf(&b, "\n   due today %s", ca.DueAt.Format("15:04"))
	case model.TaskWeekly:
		fmt.Fprintf(&b, "\n   due %s %s", model.WeekdayName(ca.DueAt), ca.DueAt.Format("15:04"))
	case model.TaskSpecial:
		fmt.Fprintf(&b, "\n   due %s", ca.DueAt.Format("Jan 2 15:04"))
	}
	return b.String()
}

func formatTask(t model.Task) string {
	status := ""
	if !t.IsActive {
		status = " [paused]"
	}
	var schedule string
	switch t.Type {
	case model.TaskDaily:
		schedule = fmt.Sprintf("daily at %s", t.DueTime)
	case model.TaskWeekly:
		schedule = fmt.Sprintf("weekly, %s at %s", t.DueDay, t.DueTime)
	case model.TaskSpecial:
		schedule = fmt.Sprintf("once, due %s", t.DueAt.Format("Jan 2 15:04"))
	}
	return fmt.Sprintf("%s%s\n   %d pts, %s", t.Title, status, t.Reward, schedule)
}

func formatLedgerEntry(e model.LedgerEntry) string {
	sign := "+"
	if e.Amount < 0 {
		sign = ""
	}
	desc := e.Description
	if desc == "" {
		desc = string(e.Type)
	}
	return fmt.Sprintf("%s  %s%d  %s", e.CreatedAt.Format("Jan 2"), sign, e.Amount, desc)
}

func formatCompleted(c store.CompletedForAdmin, loc *time.Location) string {
	return fmt.Sprintf("%s completed %q for %d pts (%s)",
		c.ChildName, c.Title, c.RewardReceived, c.CompletedAt.In(loc).Format("Jan 2 15:04"))
}

func formatDraftSummary(t *model.Task) string {
	var b strings.Builder
	b.WriteString("New task:\n")
	fmt.Fprintf(&b, "  Title: %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "  Description: %s\n", t.Description)
	}
	fmt.Fprintf(&b, "  Type: %s\n", t.Type)
	fmt.Fprintf(&b, "  Reward: %d pts\n", t.Reward)
	switch t.Type {
	case model.TaskDaily:
		fmt.Fprintf(&b, "  Due: every day at %s\n", t.DueTime)
	case model.TaskWeekly:
		fmt.Fprintf(&b, "  Due: every %s at %s\n", t.DueDay, t.DueTime)
	case model.TaskSpecial:
		fmt.Fprintf(&b, "  Due: %s\n", t.DueAt.Format("2006-01-02 15:04"))
	}
	b.WriteString("\nCreate it?")
	return b.String()
}
