package bot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"taskpoints/internal/database"
	"taskpoints/internal/engine"
	"taskpoints/internal/model"
	"taskpoints/internal/store"
	"taskpoints/internal/telegram"
)

type apiCall struct {
	Method string
	Body   map[string]any
}

// capture records every Bot API call the bot makes.
type capture struct {
	mu    sync.Mutex
	calls []apiCall
}

func (c *capture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		c.mu.Lock()
		c.calls = append(c.calls, apiCall{Method: method, Body: body})
		c.mu.Unlock()

		fmt.Fprint(w, `{"ok":true}`)
	})
}

// sentTexts returns the texts of sendMessage calls to the given chat.
func (c *capture) sentTexts(chatID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var texts []string
	for _, call := range c.calls {
		if call.Method != "sendMessage" {
			continue
		}
		if id, ok := call.Body["chat_id"].(float64); !ok || int64(id) != chatID {
			continue
		}
		if text, ok := call.Body["text"].(string); ok {
			texts = append(texts, text)
		}
	}
	return texts
}

func (c *capture) lastText(chatID int64) string {
	texts := c.sentTexts(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// callbackData returns the callback_data of every keyboard button sent to
// the given chat.
func (c *capture) callbackData(chatID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []string
	for _, call := range c.calls {
		if call.Method != "sendMessage" {
			continue
		}
		if id, ok := call.Body["chat_id"].(float64); !ok || int64(id) != chatID {
			continue
		}
		markup, ok := call.Body["reply_markup"].(map[string]any)
		if !ok {
			continue
		}
		rows, _ := markup["inline_keyboard"].([]any)
		for _, row := range rows {
			buttons, _ := row.([]any)
			for _, btn := range buttons {
				if b, ok := btn.(map[string]any); ok {
					if cb, ok := b["callback_data"].(string); ok {
						data = append(data, cb)
					}
				}
			}
		}
	}
	return data
}

// lastAnswer returns the text of the most recent answerCallbackQuery call.
func (c *capture) lastAnswer() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.calls) - 1; i >= 0; i-- {
		if c.calls[i].Method == "answerCallbackQuery" {
			text, _ := c.calls[i].Body["text"].(string)
			return text
		}
	}
	return ""
}

func (c *capture) reset() {
	c.mu.Lock()
	c.calls = nil
	c.mu.Unlock()
}

func setupBot(t *testing.T) (*Bot, *capture, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tg := &capture{}
	srv := httptest.NewServer(tg.handler())
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := telegram.NewClient("test", telegram.WithBaseURL(srv.URL))
	eng := engine.New(db, nil, logger)
	return New(db, eng, client, time.UTC, logger), tg, db
}

func message(userID int64, text string) *telegram.Update {
	return &telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: userID, FirstName: "User"},
		Chat: telegram.Chat{ID: userID, Type: "private"},
		Text: text,
	}}
}

func callback(userID int64, data string) *telegram.Update {
	return &telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:   "cb1",
		From: telegram.User{ID: userID, FirstName: "User"},
		Message: &telegram.Message{
			MessageID: 1,
			Chat:      telegram.Chat{ID: userID, Type: "private"},
		},
		Data: data,
	}}
}

func promote(t *testing.T, db *sql.DB, userID int64) {
	t.Helper()
	if _, err := db.Exec(`UPDATE users SET role = 'admin' WHERE user_id = ?`, userID); err != nil {
		t.Fatalf("promote user: %v", err)
	}
}

func TestStartRegistersChild(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(1, "/start"))

	u, err := store.NewUserStore(db).GetByID(ctx, 1)
	if err != nil || u == nil {
		t.Fatalf("user not registered: %v", err)
	}
	if u.Role != model.RoleChild || u.Balance != 0 {
		t.Errorf("user = %+v", u)
	}
	if !strings.Contains(tg.lastText(1), "signed up") {
		t.Errorf("welcome = %q", tg.lastText(1))
	}

	tg.reset()
	b.HandleUpdate(ctx, message(1, "/start"))
	if !strings.Contains(tg.lastText(1), "Welcome back") {
		t.Errorf("second start = %q", tg.lastText(1))
	}
}

func TestTasksListAndComplete(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(100, "/start"))
	promote(t, db, 100)
	b.HandleUpdate(ctx, message(1, "/start"))

	// Seed one open assignment due later today.
	now := time.Now().UTC()
	task, err := store.NewTaskStore(db).Create(ctx, &model.Task{
		Title: "Dishes", Type: model.TaskDaily, Reward: 10, DueTime: "23:59", CreatedBy: 100,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	due := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 0, 0, time.UTC)
	a, err := store.NewAssignmentStore(db).CreateIfAbsent(ctx, task.ID, 1, model.DayKey(now), model.DayKey(now), due)
	if err != nil || a == nil {
		t.Fatalf("create assignment: %v", err)
	}

	tg.reset()
	b.HandleUpdate(ctx, message(1, "/tasks"))
	if !strings.Contains(tg.lastText(1), "Dishes") {
		t.Errorf("task list = %q", tg.lastText(1))
	}

	tg.reset()
	b.HandleUpdate(ctx, callback(1, fmt.Sprintf("complete_%d", a.ID)))
	if !strings.Contains(tg.lastText(1), "+10 pts") {
		t.Errorf("completion = %q", tg.lastText(1))
	}

	balance, _ := store.NewUserStore(db).Balance(ctx, 1)
	if balance != 10 {
		t.Errorf("balance = %d, want 10", balance)
	}

	tg.reset()
	b.HandleUpdate(ctx, message(1, "/tasks"))
	if !strings.Contains(tg.lastText(1), "No open tasks") {
		t.Errorf("after completion = %q", tg.lastText(1))
	}
}

func TestAdminCommandRequiresRole(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(1, "/start"))
	b.HandleUpdate(ctx, message(1, "/admin"))
	if !strings.Contains(tg.lastText(1), "for admins") {
		t.Errorf("child /admin = %q", tg.lastText(1))
	}

	promote(t, db, 1)
	tg.reset()
	b.HandleUpdate(ctx, message(1, "/admin"))
	if !strings.Contains(tg.lastText(1), "Admin menu") {
		t.Errorf("admin /admin = %q", tg.lastText(1))
	}
}

func TestTaskCreationFlow(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(100, "/start"))
	promote(t, db, 100)

	b.HandleUpdate(ctx, callback(100, "menu_add"))
	b.HandleUpdate(ctx, message(100, "Dishes"))
	b.HandleUpdate(ctx, message(100, "-"))
	b.HandleUpdate(ctx, callback(100, "type_daily"))
	b.HandleUpdate(ctx, message(100, "10"))
	b.HandleUpdate(ctx, message(100, "18:00"))

	if !strings.Contains(tg.lastText(100), "Create it?") {
		t.Fatalf("summary = %q", tg.lastText(100))
	}

	b.HandleUpdate(ctx, callback(100, "confirm_yes"))

	tasks, err := store.NewTaskStore(db).ListByOwner(ctx, 100)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Title != "Dishes" || tasks[0].Type != model.TaskDaily ||
		tasks[0].Reward != 10 || tasks[0].DueTime != "18:00" {
		t.Errorf("task = %+v", tasks[0])
	}
}

func TestTaskCreationRejectsBadInput(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(100, "/start"))
	promote(t, db, 100)

	b.HandleUpdate(ctx, callback(100, "menu_add"))
	b.HandleUpdate(ctx, message(100, "Dishes"))
	b.HandleUpdate(ctx, message(100, "-"))
	b.HandleUpdate(ctx, callback(100, "type_daily"))

	b.HandleUpdate(ctx, message(100, "lots"))
	if !strings.Contains(tg.lastText(100), "positive number") {
		t.Errorf("bad reward = %q", tg.lastText(100))
	}
	b.HandleUpdate(ctx, message(100, "-5"))
	if !strings.Contains(tg.lastText(100), "positive number") {
		t.Errorf("negative reward = %q", tg.lastText(100))
	}

	b.HandleUpdate(ctx, message(100, "10"))
	b.HandleUpdate(ctx, message(100, "sometime"))
	if !strings.Contains(tg.lastText(100), "HH:MM") {
		t.Errorf("bad time = %q", tg.lastText(100))
	}
}

func TestBalanceAdjustmentFlow(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(100, "/start"))
	promote(t, db, 100)
	b.HandleUpdate(ctx, message(1, "/start"))

	b.HandleUpdate(ctx, callback(100, "baladd_1"))
	b.HandleUpdate(ctx, message(100, "20 allowance"))

	if !strings.Contains(tg.lastText(100), "New balance: 20") {
		t.Errorf("admin reply = %q", tg.lastText(100))
	}
	if !strings.Contains(tg.lastText(1), "received 20 pts") {
		t.Errorf("child note = %q", tg.lastText(1))
	}

	// Deduction beyond the balance fails.
	tg.reset()
	b.HandleUpdate(ctx, callback(100, "balrem_1"))
	b.HandleUpdate(ctx, message(100, "50 toy"))
	if !strings.Contains(tg.lastText(100), "Not enough points") {
		t.Errorf("overdraw reply = %q", tg.lastText(100))
	}
	balance, _ := store.NewUserStore(db).Balance(ctx, 1)
	if balance != 20 {
		t.Errorf("balance = %d, want 20", balance)
	}
}

func TestReturnFlow(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(100, "/start"))
	promote(t, db, 100)
	b.HandleUpdate(ctx, message(1, "/start"))

	now := time.Now().UTC()
	task, err := store.NewTaskStore(db).Create(ctx, &model.Task{
		Title: "Dishes", Type: model.TaskDaily, Reward: 10, DueTime: "23:59", CreatedBy: 100,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	due := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 0, 0, time.UTC)
	a, _ := store.NewAssignmentStore(db).CreateIfAbsent(ctx, task.ID, 1, model.DayKey(now), model.DayKey(now), due)
	b.HandleUpdate(ctx, callback(1, fmt.Sprintf("complete_%d", a.ID)))

	tg.reset()
	b.HandleUpdate(ctx, callback(100, fmt.Sprintf("ret_%d", a.ID)))
	if !strings.Contains(tg.lastText(100), "Returned") {
		t.Errorf("admin reply = %q", tg.lastText(100))
	}
	if !strings.Contains(tg.lastText(1), "redo") {
		t.Errorf("child note = %q", tg.lastText(1))
	}

	balance, _ := store.NewUserStore(db).Balance(ctx, 1)
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestCompleteNotifiesOwnerWithReturnAction(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(100, "/start"))
	promote(t, db, 100)
	b.HandleUpdate(ctx, message(1, "/start"))

	now := time.Now().UTC()
	task, err := store.NewTaskStore(db).Create(ctx, &model.Task{
		Title: "Dishes", Type: model.TaskDaily, Reward: 10, DueTime: "23:59", CreatedBy: 100,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	due := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 0, 0, time.UTC)
	a, _ := store.NewAssignmentStore(db).CreateIfAbsent(ctx, task.ID, 1, model.DayKey(now), model.DayKey(now), due)

	tg.reset()
	b.HandleUpdate(ctx, callback(1, fmt.Sprintf("complete_%d", a.ID)))

	note := tg.lastText(100)
	if !strings.Contains(note, "completed") || !strings.Contains(note, "Dishes") {
		t.Errorf("owner note = %q", note)
	}

	want := fmt.Sprintf("ret_%d", a.ID)
	var found bool
	for _, data := range tg.callbackData(100) {
		if data == want {
			found = true
		}
	}
	if !found {
		t.Errorf("owner note buttons = %v, want %s", tg.callbackData(100), want)
	}

	// The button works end to end.
	tg.reset()
	b.HandleUpdate(ctx, callback(100, want))
	balance, _ := store.NewUserStore(db).Balance(ctx, 1)
	if balance != 0 {
		t.Errorf("balance after return = %d, want 0", balance)
	}
}

func TestCompleteExpiredRejected(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(100, "/start"))
	promote(t, db, 100)
	b.HandleUpdate(ctx, message(1, "/start"))

	task, err := store.NewTaskStore(db).Create(ctx, &model.Task{
		Title: "Dishes", Type: model.TaskDaily, Reward: 10, DueTime: "18:00", CreatedBy: 100,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	// Yesterday's assignment, attempted today.
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	due := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 18, 0, 0, 0, time.UTC)
	a, _ := store.NewAssignmentStore(db).CreateIfAbsent(
		ctx, task.ID, 1, model.DayKey(yesterday), model.DayKey(yesterday), due)

	tg.reset()
	b.HandleUpdate(ctx, callback(1, fmt.Sprintf("complete_%d", a.ID)))

	if !strings.Contains(tg.lastAnswer(), "no longer available") {
		t.Errorf("answer = %q", tg.lastAnswer())
	}
	if texts := tg.sentTexts(100); len(texts) != 0 {
		t.Errorf("owner notified of expired attempt: %v", texts)
	}
	balance, _ := store.NewUserStore(db).Balance(ctx, 1)
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestAssignNowFromAdminMenu(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(100, "/start"))
	promote(t, db, 100)
	b.HandleUpdate(ctx, message(1, "/start"))

	if _, err := store.NewTaskStore(db).Create(ctx, &model.Task{
		Title: "Dishes", Type: model.TaskDaily, Reward: 10, DueTime: "23:59", CreatedBy: 100,
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	tg.reset()
	b.HandleUpdate(ctx, callback(100, "menu_assign"))

	if !strings.Contains(tg.lastText(100), "Assigned 1 daily and 0 weekly") {
		t.Errorf("summary = %q", tg.lastText(100))
	}
	if !strings.Contains(strings.Join(tg.sentTexts(1), "\n"), "new task") {
		t.Errorf("child notice = %v", tg.sentTexts(1))
	}

	list, err := store.NewAssignmentStore(db).ListActiveForChild(ctx, 1, time.Now().UTC())
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Dishes" {
		t.Fatalf("assignments = %+v", list)
	}

	// Running it again is idempotent for the same period.
	tg.reset()
	b.HandleUpdate(ctx, callback(100, "menu_assign"))
	if !strings.Contains(tg.lastText(100), "Assigned 0 daily and 0 weekly") {
		t.Errorf("repeat summary = %q", tg.lastText(100))
	}
}

func TestCancelClearsDraft(t *testing.T) {
	b, tg, db := setupBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, message(100, "/start"))
	promote(t, db, 100)

	b.HandleUpdate(ctx, callback(100, "menu_add"))
	b.HandleUpdate(ctx, message(100, "/cancel"))
	if !strings.Contains(tg.lastText(100), "Cancelled") {
		t.Errorf("cancel reply = %q", tg.lastText(100))
	}

	tg.reset()
	b.HandleUpdate(ctx, message(100, "Dishes"))
	if !strings.Contains(tg.lastText(100), "did not understand") {
		t.Errorf("post-cancel = %q", tg.lastText(100))
	}
}
