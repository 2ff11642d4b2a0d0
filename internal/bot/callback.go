package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskpoints/internal/model"
	"taskpoints/internal/reward"
	"taskpoints/internal/store"
	"taskpoints/internal/telegram"
)

func (b *Bot) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) {
	userID := cq.From.ID
	chatID := userID
	if cq.Message != nil {
		chatID = cq.Message.Chat.ID
	}

	data := cq.Data
	switch {
	case strings.HasPrefix(data, "complete_"):
		b.cbComplete(ctx, cq, userID, chatID, strings.TrimPrefix(data, "complete_"))
		return
	case strings.HasPrefix(data, "type_"), strings.HasPrefix(data, "day_"),
		data == "confirm_yes", data == "confirm_no":
		b.cbDraft(ctx, cq, userID, data)
		return
	}

	// Everything below manages tasks and balances.
	admin, err := b.users.IsAdmin(ctx, userID)
	if err != nil {
		b.logger.Error("check admin", "user_id", userID, "error", err)
		return
	}
	if !admin {
		b.answer(ctx, cq, "Admins only.")
		return
	}

	switch {
	case data == "menu_main":
		b.sendKeyboard(ctx, chatID, "Admin menu:", adminMenu())
		b.answer(ctx, cq, "")
	case data == "menu_add":
		b.drafts.Clear(userID)
		b.drafts.PutTask(userID, &TaskDraft{Step: stepTitle, Task: model.Task{CreatedBy: userID}})
		b.send(ctx, chatID, "What is the task called?")
		b.answer(ctx, cq, "")
	case data == "menu_tasks":
		b.cbListTasks(ctx, cq, userID, chatID)
	case data == "menu_assign":
		b.cbAssignNow(ctx, cq, chatID)
	case data == "menu_balances":
		b.cbBalances(ctx, cq, userID, chatID)
	case data == "menu_completed":
		b.cbCompleted(ctx, cq, userID, chatID)
	case strings.HasPrefix(data, "task_"):
		b.cbTaskDetail(ctx, cq, userID, chatID, strings.TrimPrefix(data, "task_"))
	case strings.HasPrefix(data, "toggle_"):
		b.cbToggleTask(ctx, cq, userID, chatID, strings.TrimPrefix(data, "toggle_"))
	case strings.HasPrefix(data, "del_"):
		b.cbConfirmDelete(ctx, cq, chatID, strings.TrimPrefix(data, "del_"))
	case strings.HasPrefix(data, "delyes_"):
		b.cbDeleteTask(ctx, cq, userID, chatID, strings.TrimPrefix(data, "delyes_"))
	case strings.HasPrefix(data, "ret_"):
		b.cbReturn(ctx, cq, userID, chatID, strings.TrimPrefix(data, "ret_"))
	case strings.HasPrefix(data, "bal_"):
		b.cbChildBalance(ctx, cq, chatID, strings.TrimPrefix(data, "bal_"))
	case strings.HasPrefix(data, "baladd_"):
		b.cbStartAdjust(ctx, cq, userID, chatID, opAdd, strings.TrimPrefix(data, "baladd_"))
	case strings.HasPrefix(data, "balrem_"):
		b.cbStartAdjust(ctx, cq, userID, chatID, opRemove, strings.TrimPrefix(data, "balrem_"))
	default:
		b.answer(ctx, cq, "")
	}
}

func (b *Bot) answer(ctx context.Context, cq *telegram.CallbackQuery, text string) {
	if err := b.client.AnswerCallbackQuery(ctx, cq.ID, text); err != nil {
		b.logger.Error("answer callback", "error", err)
	}
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

// cbComplete pays out a child's completion attempt.
func (b *Bot) cbComplete(ctx context.Context, cq *telegram.CallbackQuery, userID, chatID int64, idStr string) {
	id, ok := parseID(idStr)
	if !ok {
		b.answer(ctx, cq, "")
		return
	}

	res, err := b.engine.Complete(ctx, id, userID, time.Now().In(b.loc))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyCompleted):
			b.answer(ctx, cq, "Already done.")
		case errors.Is(err, store.ErrNotFound):
			b.answer(ctx, cq, "That task is no longer available.")
		default:
			b.logger.Error("complete assignment", "assignment_id", id, "error", err)
			b.answer(ctx, cq, "Something went wrong, try again.")
		}
		return
	}

	if res.Window == reward.LateHalf {
		b.answer(ctx, cq, fmt.Sprintf("+%d pts (late)", res.Paid))
		b.send(ctx, chatID, fmt.Sprintf(
			"%q done late: %d pts (half). Balance: %d pts.", res.Title, res.Paid, res.NewBalance))
	} else {
		b.answer(ctx, cq, fmt.Sprintf("+%d pts", res.Paid))
		b.send(ctx, chatID, fmt.Sprintf(
			"%q done: +%d pts. Balance: %d pts.", res.Title, res.Paid, res.NewBalance))
	}

	// The owner can reverse the payout straight from this message.
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("Return task", fmt.Sprintf("ret_%d", id))),
	}}
	b.sendKeyboard(ctx, res.OwnerID, fmt.Sprintf(
		"%s completed %q (+%d pts).", cq.From.FullName(), res.Title, res.Paid), kb)
}

// cbAssignNow runs both sweeps on demand, the same operations the scheduled
// loop and cron endpoints run.
func (b *Bot) cbAssignNow(ctx context.Context, cq *telegram.CallbackQuery, chatID int64) {
	now := time.Now().In(b.loc)

	daily, err := b.sweeper.RunDaily(ctx, now)
	if err != nil {
		b.logger.Error("manual daily sweep", "error", err)
		b.answer(ctx, cq, "Sweep failed, try again.")
		return
	}
	weekly, err := b.sweeper.RunWeekly(ctx, now)
	if err != nil {
		b.logger.Error("manual weekly sweep", "error", err)
		b.answer(ctx, cq, "Sweep failed, try again.")
		return
	}

	b.answer(ctx, cq, "")
	msg := fmt.Sprintf("Assigned %d daily and %d weekly task(s).", daily.Created, weekly.Created)
	if errs := daily.Errors + weekly.Errors; errs > 0 {
		msg += fmt.Sprintf(" %d task(s) could not be assigned.", errs)
	}
	b.send(ctx, chatID, msg)
}

// cbDraft handles the keyboard-driven task creation steps.
func (b *Bot) cbDraft(ctx context.Context, cq *telegram.CallbackQuery, userID int64, data string) {
	draft := b.drafts.Task(userID)
	if draft == nil {
		b.answer(ctx, cq, "That flow has expired. Start again from /admin.")
		return
	}

	switch {
	case strings.HasPrefix(data, "type_") && draft.Step == stepType:
		typ := model.TaskType(strings.TrimPrefix(data, "type_"))
		if !typ.Valid() {
			b.answer(ctx, cq, "")
			return
		}
		draft.Task.Type = typ
		draft.Step = stepReward
		b.drafts.PutTask(userID, draft)
		b.answer(ctx, cq, "")
		b.send(ctx, userID, "How many points is it worth?")

	case strings.HasPrefix(data, "day_") && draft.Step == stepDueDay:
		draft.Task.DueDay = strings.TrimPrefix(data, "day_")
		b.answer(ctx, cq, "")
		b.askConfirm(ctx, userID, draft)

	case data == "confirm_yes" && draft.Step == stepConfirm:
		task, assigned, err := b.engine.CreateTask(ctx, &draft.Task, time.Now().In(b.loc))
		if err != nil {
			b.logger.Error("create task", "error", err)
			b.answer(ctx, cq, "Could not create the task.")
			return
		}
		b.drafts.Clear(userID)
		b.answer(ctx, cq, "Created.")

		msg := fmt.Sprintf("Created %q.", task.Title)
		if task.Type == model.TaskSpecial {
			msg += fmt.Sprintf(" Assigned to %d child(ren) right away.", len(assigned))
		} else {
			msg += " It will be handed out on the next sweep."
		}
		b.send(ctx, userID, msg)

		for _, childID := range assigned {
			b.send(ctx, childID, fmt.Sprintf(
				"New task for you: %q, %d pts, due %s.",
				task.Title, task.Reward, task.DueAt.In(b.loc).Format("Jan 2 15:04")))
		}

	case data == "confirm_no" && draft.Step == stepConfirm:
		b.drafts.Clear(userID)
		b.answer(ctx, cq, "Discarded.")

	default:
		b.answer(ctx, cq, "")
	}
}

func (b *Bot) cbListTasks(ctx context.Context, cq *telegram.CallbackQuery, userID, chatID int64) {
	tasks, err := b.tasks.ListByOwner(ctx, userID)
	if err != nil {
		b.logger.Error("list tasks", "error", err)
		b.answer(ctx, cq, "Could not load tasks.")
		return
	}
	b.answer(ctx, cq, "")
	if len(tasks) == 0 {
		b.send(ctx, chatID, "No tasks yet. Create one from the admin menu.")
		return
	}

	var rows [][]telegram.InlineKeyboardButton
	for _, t := range tasks {
		label := t.Title
		if !t.IsActive {
			label += " [paused]"
		}
		rows = append(rows, telegram.Row(telegram.Button(label, fmt.Sprintf("task_%d", t.ID))))
	}
	rows = append(rows, telegram.Row(telegram.Button("Back", "menu_main")))
	b.sendKeyboard(ctx, chatID, "Your tasks:", &telegram.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (b *Bot) cbTaskDetail(ctx context.Context, cq *telegram.CallbackQuery, userID, chatID int64, idStr string) {
	id, ok := parseID(idStr)
	if !ok {
		b.answer(ctx, cq, "")
		return
	}
	task, err := b.tasks.GetOwned(ctx, id, userID)
	if err != nil {
		b.answer(ctx, cq, "That task is gone.")
		return
	}
	b.answer(ctx, cq, "")

	toggle := "Pause"
	if !task.IsActive {
		toggle = "Resume"
	}
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(
			telegram.Button(toggle, fmt.Sprintf("toggle_%d", task.ID)),
			telegram.Button("Delete", fmt.Sprintf("del_%d", task.ID)),
		),
		telegram.Row(telegram.Button("Back", "menu_tasks")),
	}}
	b.sendKeyboard(ctx, chatID, formatTask(*task), kb)
}

func (b *Bot) cbToggleTask(ctx context.Context, cq *telegram.CallbackQuery, userID, chatID int64, idStr string) {
	id, ok := parseID(idStr)
	if !ok {
		b.answer(ctx, cq, "")
		return
	}
	task, err := b.tasks.GetOwned(ctx, id, userID)
	if err != nil {
		b.answer(ctx, cq, "That task is gone.")
		return
	}

	if err := b.engine.SetTaskActive(ctx, id, userID, !task.IsActive); err != nil {
		b.logger.Error("toggle task", "task_id", id, "error", err)
		b.answer(ctx, cq, "Could not update the task.")
		return
	}
	if task.IsActive {
		b.answer(ctx, cq, "Paused. It will skip future sweeps.")
	} else {
		b.answer(ctx, cq, "Active again.")
	}
	b.cbTaskDetail(ctx, cq, userID, chatID, idStr)
}

func (b *Bot) cbConfirmDelete(ctx context.Context, cq *telegram.CallbackQuery, chatID int64, idStr string) {
	b.answer(ctx, cq, "")
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(
			telegram.Button("Yes, delete", "delyes_"+idStr),
			telegram.Button("Keep it", "menu_tasks"),
		),
	}}
	b.sendKeyboard(ctx, chatID,
		"Delete this task? Open assignments disappear; completed history and points stay.", kb)
}

func (b *Bot) cbDeleteTask(ctx context.Context, cq *telegram.CallbackQuery, userID, chatID int64, idStr string) {
	id, ok := parseID(idStr)
	if !ok {
		b.answer(ctx, cq, "")
		return
	}

	res, err := b.engine.DeleteTask(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.answer(ctx, cq, "That task is gone.")
		} else {
			b.logger.Error("delete task", "task_id", id, "error", err)
			b.answer(ctx, cq, "Could not delete the task.")
		}
		return
	}
	b.answer(ctx, cq, "Deleted.")
	b.send(ctx, chatID, fmt.Sprintf("Deleted %q.", res.Title))

	for _, childID := range res.PendingChildIDs {
		b.send(ctx, childID, fmt.Sprintf("%q was removed from your list.", res.Title))
	}
}

func (b *Bot) cbReturn(ctx context.Context, cq *telegram.CallbackQuery, userID, chatID int64, idStr string) {
	id, ok := parseID(idStr)
	if !ok {
		b.answer(ctx, cq, "")
		return
	}

	res, err := b.engine.Return(ctx, id, userID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotCompleted):
			b.answer(ctx, cq, "Nothing to return there.")
		case errors.Is(err, store.ErrNoReward):
			b.answer(ctx, cq, "That completion paid nothing.")
		default:
			b.logger.Error("return assignment", "assignment_id", id, "error", err)
			b.answer(ctx, cq, "Something went wrong, try again.")
		}
		return
	}

	b.answer(ctx, cq, "Returned.")
	b.send(ctx, chatID, fmt.Sprintf(
		"Returned %q: %d pts taken back. Child balance: %d pts.", res.Title, res.Amount, res.NewBalance))
	b.send(ctx, res.ChildID, fmt.Sprintf(
		"%q was sent back. %d pts removed; please redo it. Balance: %d pts.",
		res.Title, res.Amount, res.NewBalance))
}

func (b *Bot) cbBalances(ctx context.Context, cq *telegram.CallbackQuery, userID, chatID int64) {
	children, err := b.users.ListChildrenForAdmin(ctx, userID)
	if err != nil {
		b.logger.Error("list children", "error", err)
		b.answer(ctx, cq, "Could not load balances.")
		return
	}
	b.answer(ctx, cq, "")
	if len(children) == 0 {
		b.send(ctx, chatID, "No children signed up yet. They each need to send /start.")
		return
	}

	var rows [][]telegram.InlineKeyboardButton
	for _, c := range children {
		rows = append(rows, telegram.Row(telegram.Button(
			fmt.Sprintf("%s: %d pts", c.FullName, c.Balance),
			fmt.Sprintf("bal_%d", c.ID),
		)))
	}
	rows = append(rows, telegram.Row(telegram.Button("Back", "menu_main")))
	b.sendKeyboard(ctx, chatID, "Balances:", &telegram.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (b *Bot) cbChildBalance(ctx context.Context, cq *telegram.CallbackQuery, chatID int64, idStr string) {
	childID, ok := parseID(idStr)
	if !ok {
		b.answer(ctx, cq, "")
		return
	}
	child, err := b.users.GetByID(ctx, childID)
	if err != nil || child == nil {
		b.answer(ctx, cq, "Unknown child.")
		return
	}
	entries, err := b.ledger.ListByChild(ctx, childID, 10)
	if err != nil {
		b.logger.Error("list ledger", "child_id", childID, "error", err)
	}
	b.answer(ctx, cq, "")

	var text strings.Builder
	fmt.Fprintf(&text, "%s: %d pts\n", child.FullName, child.Balance)
	if len(entries) > 0 {
		text.WriteString("\nRecent:\n")
		for _, e := range entries {
			fmt.Fprintf(&text, "  %s\n", formatLedgerEntry(e))
		}
	}
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(
			telegram.Button("Add points", "baladd_"+idStr),
			telegram.Button("Deduct points", "balrem_"+idStr),
		),
		telegram.Row(telegram.Button("Back", "menu_balances")),
	}}
	b.sendKeyboard(ctx, chatID, text.String(), kb)
}

func (b *Bot) cbStartAdjust(ctx context.Context, cq *telegram.CallbackQuery, userID, chatID int64, op balanceOp, idStr string) {
	childID, ok := parseID(idStr)
	if !ok {
		b.answer(ctx, cq, "")
		return
	}
	b.drafts.Clear(userID)
	b.drafts.PutBalance(userID, &BalanceDraft{ChildID: childID, Op: op})
	b.answer(ctx, cq, "")

	verb := "add"
	if op == opRemove {
		verb = "deduct"
	}
	b.send(ctx, chatID, fmt.Sprintf("How many points to %s? Send '<amount> <reason>'.", verb))
}

func (b *Bot) cbCompleted(ctx context.Context, cq *telegram.CallbackQuery, userID, chatID int64) {
	since := time.Now().In(b.loc).AddDate(0, 0, -7)
	list, err := b.assignments.ListCompletedForAdmin(ctx, userID, since, 25, 0)
	if err != nil {
		b.logger.Error("list completed", "error", err)
		b.answer(ctx, cq, "Could not load completions.")
		return
	}
	b.answer(ctx, cq, "")
	if len(list) == 0 {
		b.send(ctx, chatID, "Nothing completed in the last week.")
		return
	}

	var rows [][]telegram.InlineKeyboardButton
	var text strings.Builder
	text.WriteString("Completed this week:\n\n")
	for i, c := range list {
		fmt.Fprintf(&text, "%d. %s\n", i+1, formatCompleted(c, b.loc))
		rows = append(rows, telegram.Row(telegram.Button(
			fmt.Sprintf("Return: %s (%s)", c.Title, c.ChildName),
			fmt.Sprintf("ret_%d", c.AssignmentID),
		)))
	}
	rows = append(rows, telegram.Row(telegram.Button("Back", "menu_main")))
	b.sendKeyboard(ctx, chatID, text.String(), &telegram.InlineKeyboardMarkup{InlineKeyboard: rows})
}
