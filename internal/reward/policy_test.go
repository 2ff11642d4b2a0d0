package reward

import (
	"testing"
	"time"

	"taskpoints/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestComputeOnTime(t *testing.T) {
	// Due 18:00 today, completed 17:00 -> full reward.
	assigned := day(2024, 12, 20)
	due := at(2024, 12, 20, 18, 0)
	now := at(2024, 12, 20, 17, 0)

	paid, ok := Compute(model.TaskDaily, 10, due, assigned, now)
	if !ok {
		t.Fatal("expected completable")
	}
	if paid != 10 {
		t.Errorf("paid = %d, want 10", paid)
	}
}

func TestComputeDailyLateSameDay(t *testing.T) {
	// Due 18:00, completed 20:00 the same day -> half.
	assigned := day(2024, 12, 20)
	due := at(2024, 12, 20, 18, 0)
	now := at(2024, 12, 20, 20, 0)

	paid, ok := Compute(model.TaskDaily, 10, due, assigned, now)
	if !ok {
		t.Fatal("expected completable")
	}
	if paid != 5 {
		t.Errorf("paid = %d, want 5", paid)
	}
}

func TestComputeSpecialLate(t *testing.T) {
	// 7-point special due 25.12 18:00, completed 26.12 -> 7 // 2 = 3.
	due := at(2024, 12, 25, 18, 0)
	now := at(2024, 12, 26, 11, 0)

	paid, ok := Compute(model.TaskSpecial, 7, due, day(2024, 12, 20), now)
	if !ok {
		t.Fatal("special tasks never expire")
	}
	if paid != 3 {
		t.Errorf("paid = %d, want 3", paid)
	}
}

func TestComputeDailyExpiredNextDay(t *testing.T) {
	// Daily due yesterday 18:00, now today 10:00 -> expired, not completable.
	assigned := day(2024, 12, 19)
	due := at(2024, 12, 19, 18, 0)
	now := at(2024, 12, 20, 10, 0)

	if _, ok := Compute(model.TaskDaily, 10, due, assigned, now); ok {
		t.Fatal("expected expired assignment to be uncompletable")
	}
	if w := Classify(model.TaskDaily, due, assigned, now); w != Expired {
		t.Errorf("window = %v, want Expired", w)
	}
}

func TestClassify(t *testing.T) {
	assigned := day(2024, 12, 20)
	due := at(2024, 12, 20, 18, 0)

	tests := []struct {
		name string
		typ  model.TaskType
		due  time.Time
		now  time.Time
		want Window
	}{
		{"daily before due", model.TaskDaily, due, at(2024, 12, 20, 9, 0), OnTime},
		{"daily at due", model.TaskDaily, due, due, OnTime},
		{"daily after due same day", model.TaskDaily, due, at(2024, 12, 20, 23, 59), LateHalf},
		{"daily after midnight", model.TaskDaily, due, at(2024, 12, 21, 0, 30), Expired},
		{"weekly before due", model.TaskWeekly, due, at(2024, 12, 20, 12, 0), OnTime},
		{"weekly late same day", model.TaskWeekly, due, at(2024, 12, 20, 21, 0), LateHalf},
		{"weekly after midnight", model.TaskWeekly, due, at(2024, 12, 21, 8, 0), Expired},
		{"special on time", model.TaskSpecial, at(2024, 12, 25, 18, 0), at(2024, 12, 22, 10, 0), OnTime},
		{"special long overdue", model.TaskSpecial, at(2024, 12, 25, 18, 0), at(2025, 1, 15, 10, 0), LateHalf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.typ, tt.due, assigned, tt.now)
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeHalfFloorsToZero(t *testing.T) {
	// A 1-point reward floors to 0 on penalty. Accepted behavior.
	assigned := day(2024, 12, 20)
	due := at(2024, 12, 20, 18, 0)
	now := at(2024, 12, 20, 19, 0)

	paid, ok := Compute(model.TaskDaily, 1, due, assigned, now)
	if !ok {
		t.Fatal("expected completable")
	}
	if paid != 0 {
		t.Errorf("paid = %d, want 0", paid)
	}
}

func TestComputeFullRewardWheneverOnTime(t *testing.T) {
	assigned := day(2024, 12, 20)
	due := at(2024, 12, 20, 18, 0)
	now := at(2024, 12, 20, 17, 59)

	for _, typ := range []model.TaskType{model.TaskDaily, model.TaskWeekly, model.TaskSpecial} {
		paid, ok := Compute(typ, 25, due, assigned, now)
		if !ok || paid != 25 {
			t.Errorf("%s: paid = %d ok = %v, want 25 true", typ, paid, ok)
		}
	}
}
