package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"taskpoints/internal/database"
	"taskpoints/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAdmin(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO users (user_id, username, full_name, role) VALUES (?, ?, ?, 'admin')`,
		id, "admin", "Test Admin",
	)
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
}

func seedChild(t *testing.T, db *sql.DB, id int64, name string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO users (user_id, username, full_name, role) VALUES (?, ?, ?, 'child')`,
		id, name, name,
	)
	if err != nil {
		t.Fatalf("seed child: %v", err)
	}
}

func seedTask(t *testing.T, ts *TaskStore, owner int64, typ model.TaskType, reward int) *model.Task {
	t.Helper()
	task := &model.Task{
		Title:     "Test task",
		Type:      typ,
		Reward:    reward,
		CreatedBy: owner,
	}
	switch typ {
	case model.TaskDaily:
		task.DueTime = "18:00"
	case model.TaskWeekly:
		task.DueTime = "18:00"
		task.DueDay = "sunday"
	case model.TaskSpecial:
		due := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
		task.DueAt = &due
	}
	created, err := ts.Create(context.Background(), task)
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return created
}
