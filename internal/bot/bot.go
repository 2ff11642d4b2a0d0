// Package bot turns Telegram updates into task and balance operations.
// Children talk to /tasks and /balance; admins manage everything through
// the /admin inline menus. Multi-step input (new tasks, manual balance
// changes) runs through expiring per-user drafts.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"taskpoints/internal/engine"
	"taskpoints/internal/model"
	"taskpoints/internal/scheduler"
	"taskpoints/internal/store"
	"taskpoints/internal/telegram"
)

const draftTTL = 30 * time.Minute

type Bot struct {
	engine  *engine.Engine
	client  *telegram.Client
	sweeper *scheduler.Sweeper
	drafts  *Drafts
	logger  *slog.Logger
	loc     *time.Location

	users       *store.UserStore
	tasks       *store.TaskStore
	assignments *store.AssignmentStore
	ledger      *store.LedgerStore
}

func New(db *sql.DB, eng *engine.Engine, client *telegram.Client, loc *time.Location, logger *slog.Logger) *Bot {
	return &Bot{
		engine:      eng,
		client:      client,
		sweeper:     scheduler.NewSweeper(db, client, logger),
		drafts:      NewDrafts(draftTTL),
		logger:      logger,
		loc:         loc,
		users:       store.NewUserStore(db),
		tasks:       store.NewTaskStore(db),
		assignments: store.NewAssignmentStore(db),
		ledger:      store.NewLedgerStore(db),
	}
}

// HandleUpdate routes one webhook update. Processing failures are reported
// to the user where possible and always logged; the webhook itself has
// already been acknowledged.
func (b *Bot) HandleUpdate(ctx context.Context, u *telegram.Update) {
	switch {
	case u.Message != nil && u.Message.From != nil && !u.Message.From.IsBot:
		b.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if err := b.client.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendKeyboard(ctx context.Context, chatID int64, text string, kb *telegram.InlineKeyboardMarkup) {
	if err := b.client.SendMessageWithKeyboard(ctx, chatID, text, kb); err != nil {
		b.logger.Error("send keyboard", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		b.handleCommand(ctx, msg, cmd)
		return
	}

	if draft := b.drafts.Task(userID); draft != nil {
		b.handleTaskDraftText(ctx, userID, draft, text)
		return
	}
	if draft := b.drafts.Balance(userID); draft != nil {
		b.handleBalanceDraftText(ctx, userID, draft, text)
		return
	}

	b.send(ctx, msg.Chat.ID, "I did not understand that. Try /help.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, cmd string) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	// Strip the @botname suffix used in groups.
	if name, _, ok := strings.Cut(cmd, "@"); ok {
		cmd = name
	}

	switch cmd {
	case "/start":
		b.cmdStart(ctx, msg)
	case "/help":
		b.send(ctx, chatID, helpText)
	case "/cancel":
		b.drafts.Clear(userID)
		b.send(ctx, chatID, "Cancelled.")
	case "/tasks":
		b.cmdTasks(ctx, userID, chatID)
	case "/balance":
		b.cmdBalance(ctx, userID, chatID)
	case "/admin":
		b.cmdAdmin(ctx, userID, chatID)
	default:
		b.send(ctx, chatID, "Unknown command. Try /help.")
	}
}

const helpText = `Commands:
/tasks - your open tasks
/balance - your points and recent history
/admin - manage tasks and balances (admins)
/cancel - abandon the current flow`

func (b *Bot) cmdStart(ctx context.Context, msg *telegram.Message) {
	from := msg.From
	user, created, err := b.users.Register(ctx, from.ID, from.Username, from.FullName())
	if err != nil {
		b.logger.Error("register user", "user_id", from.ID, "error", err)
		b.send(ctx, msg.Chat.ID, "Something went wrong, try again.")
		return
	}

	switch {
	case user.IsAdmin():
		b.send(ctx, msg.Chat.ID, fmt.Sprintf("Welcome back, %s. Use /admin to manage tasks.", user.FullName))
	case created:
		b.send(ctx, msg.Chat.ID, fmt.Sprintf(
			"Hi %s! You are signed up. Use /tasks to see your tasks and /balance for your points.", user.FullName))
	default:
		b.send(ctx, msg.Chat.ID, fmt.Sprintf("Welcome back, %s. Use /tasks to see what's up.", user.FullName))
	}
}

func (b *Bot) cmdTasks(ctx context.Context, userID, chatID int64) {
	list, err := b.assignments.ListActiveForChild(ctx, userID, time.Now().In(b.loc))
	if err != nil {
		b.logger.Error("list tasks", "user_id", userID, "error", err)
		b.send(ctx, chatID, "Could not load your tasks, try again.")
		return
	}
	if len(list) == 0 {
		b.send(ctx, chatID, "No open tasks. Enjoy!")
		return
	}

	var rows [][]telegram.InlineKeyboardButton
	var text strings.Builder
	text.WriteString("Your tasks:\n\n")
	for i, ca := range list {
		fmt.Fprintf(&text, "%d. %s\n", i+1, formatAssignment(ca))
		rows = append(rows, telegram.Row(telegram.Button(
			fmt.Sprintf("Done: %s", ca.Title),
			fmt.Sprintf("complete_%d", ca.ID),
		)))
	}
	b.sendKeyboard(ctx, chatID, text.String(), &telegram.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (b *Bot) cmdBalance(ctx context.Context, userID, chatID int64) {
	balance, err := b.users.Balance(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.send(ctx, chatID, "You are not signed up yet. Send /start first.")
			return
		}
		b.logger.Error("get balance", "user_id", userID, "error", err)
		b.send(ctx, chatID, "Could not load your balance, try again.")
		return
	}

	entries, err := b.ledger.ListByChild(ctx, userID, 10)
	if err != nil {
		b.logger.Error("list ledger", "user_id", userID, "error", err)
		entries = nil
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Balance: %d pts\n", balance)
	if len(entries) > 0 {
		text.WriteString("\nRecent:\n")
		for _, e := range entries {
			fmt.Fprintf(&text, "  %s\n", formatLedgerEntry(e))
		}
	}
	b.send(ctx, chatID, text.String())
}

func (b *Bot) cmdAdmin(ctx context.Context, userID, chatID int64) {
	admin, err := b.users.IsAdmin(ctx, userID)
	if err != nil {
		b.logger.Error("check admin", "user_id", userID, "error", err)
		return
	}
	if !admin {
		b.send(ctx, chatID, "This command is for admins.")
		return
	}
	b.sendKeyboard(ctx, chatID, "Admin menu:", adminMenu())
}

func adminMenu() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("New task", "menu_add")),
		telegram.Row(telegram.Button("My tasks", "menu_tasks")),
		telegram.Row(telegram.Button("Assign now", "menu_assign")),
		telegram.Row(telegram.Button("Balances", "menu_balances")),
		telegram.Row(telegram.Button("Completed this week", "menu_completed")),
	}}
}

// handleTaskDraftText consumes typed answers for the steps that are not
// keyboard-driven.
func (b *Bot) handleTaskDraftText(ctx context.Context, userID int64, draft *TaskDraft, text string) {
	switch draft.Step {
	case stepTitle:
		if text == "" {
			b.send(ctx, userID, "Send a title for the task.")
			return
		}
		draft.Task.Title = text
		draft.Step = stepDescription
		b.drafts.PutTask(userID, draft)
		b.send(ctx, userID, "Description? Send '-' for none.")

	case stepDescription:
		if text != "-" {
			draft.Task.Description = text
		}
		draft.Step = stepType
		b.drafts.PutTask(userID, draft)
		b.sendKeyboard(ctx, userID, "What kind of task is it?", typeKeyboard())

	case stepReward:
		reward, err := strconv.Atoi(text)
		if err != nil || reward <= 0 {
			b.send(ctx, userID, "Send the reward as a positive number of points.")
			return
		}
		draft.Task.Reward = reward
		b.advanceToSchedule(ctx, userID, draft)

	case stepDueTime:
		if _, err := time.Parse("15:04", text); err != nil {
			b.send(ctx, userID, "Send the due time as HH:MM, e.g. 18:00.")
			return
		}
		draft.Task.DueTime = text
		if draft.Task.Type == model.TaskWeekly && draft.Task.DueDay == "" {
			draft.Step = stepDueDay
			b.drafts.PutTask(userID, draft)
			b.sendKeyboard(ctx, userID, "Which day is it due?", dayKeyboard())
			return
		}
		b.askConfirm(ctx, userID, draft)

	case stepDueAt:
		due, err := time.ParseInLocation("2006-01-02 15:04", text, b.loc)
		if err != nil {
			b.send(ctx, userID, "Send the deadline as YYYY-MM-DD HH:MM, e.g. 2026-03-10 17:00.")
			return
		}
		draft.Task.DueAt = &due
		b.askConfirm(ctx, userID, draft)

	default:
		b.send(ctx, userID, "Use the buttons above, or /cancel to start over.")
	}
}

func typeKeyboard() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(
			telegram.Button("Daily", "type_daily"),
			telegram.Button("Weekly", "type_weekly"),
			telegram.Button("One-off", "type_special"),
		),
	}}
}

func dayKeyboard() *telegram.InlineKeyboardMarkup {
	var rows [][]telegram.InlineKeyboardButton
	for _, day := range model.Weekdays {
		label := strings.ToUpper(day[:1]) + day[1:]
		rows = append(rows, telegram.Row(telegram.Button(label, "day_"+day)))
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (b *Bot) advanceToSchedule(ctx context.Context, userID int64, draft *TaskDraft) {
	switch draft.Task.Type {
	case model.TaskSpecial:
		draft.Step = stepDueAt
		b.drafts.PutTask(userID, draft)
		b.send(ctx, userID, "When is it due? Send YYYY-MM-DD HH:MM.")
	default:
		draft.Step = stepDueTime
		b.drafts.PutTask(userID, draft)
		b.send(ctx, userID, "What time is it due? Send HH:MM.")
	}
}

func (b *Bot) askConfirm(ctx context.Context, userID int64, draft *TaskDraft) {
	draft.Step = stepConfirm
	b.drafts.PutTask(userID, draft)
	kb := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(
			telegram.Button("Create", "confirm_yes"),
			telegram.Button("Discard", "confirm_no"),
		),
	}}
	b.sendKeyboard(ctx, userID, formatDraftSummary(&draft.Task), kb)
}

// handleBalanceDraftText parses "<amount> <reason>" for a manual adjustment.
func (b *Bot) handleBalanceDraftText(ctx context.Context, userID int64, draft *BalanceDraft, text string) {
	amountStr, reason, _ := strings.Cut(text, " ")
	amount, err := strconv.Atoi(amountStr)
	if err != nil || amount <= 0 {
		b.send(ctx, userID, "Send the change as '<amount> <reason>', e.g. '20 allowance'.")
		return
	}
	reason = strings.TrimSpace(reason)

	var balance int
	if draft.Op == opAdd {
		balance, err = b.engine.AddBalance(ctx, draft.ChildID, amount, reason)
	} else {
		balance, err = b.engine.RemoveBalance(ctx, draft.ChildID, amount, reason)
	}
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			b.send(ctx, userID, "Not enough points for that deduction.")
			return
		}
		b.logger.Error("manual adjustment", "child_id", draft.ChildID, "error", err)
		b.send(ctx, userID, "Adjustment failed, try again.")
		return
	}

	b.drafts.Clear(userID)
	b.send(ctx, userID, fmt.Sprintf("Done. New balance: %d pts.", balance))

	verb := "received"
	if draft.Op == opRemove {
		verb = "spent"
	}
	note := fmt.Sprintf("You %s %d pts", verb, amount)
	if reason != "" {
		note += " (" + reason + ")"
	}
	b.send(ctx, draft.ChildID, note+".")
}
