package budget

import (
	"context"
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }

func TestTracker_SetAndGetBudget(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()

	if err := tr.SetBudget(ctx, "user1", floatPtr(100), floatPtr(10)); err != nil {
		t.Fatal(err)
	}

	rec, err := tr.GetBudget(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || *rec.MonthlyLimit != 100 || *rec.DailyLimit != 10 {
		t.Fatalf("GetBudget() = %+v", rec)
	}
	if rec.MonthlyUsed != 0 || rec.DailyUsed != 0 {
		t.Fatalf("new budget should start at zero usage, got %+v", rec)
	}
}

func TestTracker_CheckBudget_NoBudgetRowIsUnlimited(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	result, err := tr.CheckBudget(context.Background(), "unknown-user")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusOK {
		t.Errorf("Status = %v, want StatusOK", result.Status)
	}
}

func TestTracker_RecordUsage_Accumulates(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()

	if err := tr.SetBudget(ctx, "user1", floatPtr(100), floatPtr(50)); err != nil {
		t.Fatal(err)
	}
	for _, cost := range []float64{5, 3, 2} {
		if err := tr.RecordUsage(ctx, "user1", cost); err != nil {
			t.Fatal(err)
		}
	}

	rec, _ := tr.GetBudget(ctx, "user1")
	if rec.MonthlyUsed != 10 || rec.DailyUsed != 10 {
		t.Fatalf("usage = %+v, want 10/10", rec)
	}
}

func TestTracker_CheckBudget_Warning(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()

	// Daily limit set high so the daily check doesn't return Exceeded
	// before the monthly warning threshold is evaluated.
	if err := tr.SetBudget(ctx, "user1", floatPtr(100), floatPtr(200)); err != nil {
		t.Fatal(err)
	}
	if err := tr.RecordUsage(ctx, "user1", 85); err != nil {
		t.Fatal(err)
	}

	result, err := tr.CheckBudget(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusWarning {
		t.Fatalf("Status = %v, want StatusWarning", result.Status)
	}
	if result.Percent < 84.9 || result.Percent > 85.1 {
		t.Errorf("Percent = %v, want ~85", result.Percent)
	}
}

func TestTracker_CheckBudget_ExceededMonthly(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()

	if err := tr.SetBudget(ctx, "user1", floatPtr(100), floatPtr(200)); err != nil {
		t.Fatal(err)
	}
	if err := tr.RecordUsage(ctx, "user1", 100); err != nil {
		t.Fatal(err)
	}

	result, err := tr.CheckBudget(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusExceeded {
		t.Fatalf("Status = %v, want StatusExceeded", result.Status)
	}
}

func TestTracker_CheckBudget_ExceededDaily(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()

	if err := tr.SetBudget(ctx, "user1", floatPtr(1000), floatPtr(10)); err != nil {
		t.Fatal(err)
	}
	if err := tr.RecordUsage(ctx, "user1", 10); err != nil {
		t.Fatal(err)
	}

	result, err := tr.CheckBudget(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusExceeded {
		t.Fatalf("Status = %v, want StatusExceeded", result.Status)
	}
}

func TestTracker_CheckBudget_NoLimitsNeverExceeds(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()

	if err := tr.SetBudget(ctx, "user1", nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := tr.RecordUsage(ctx, "user1", 999); err != nil {
		t.Fatal(err)
	}

	result, err := tr.CheckBudget(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusOK {
		t.Fatalf("Status = %v, want StatusOK", result.Status)
	}
}

func TestTracker_SetBudget_Upsert(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 80)
	ctx := context.Background()

	tr.SetBudget(ctx, "user1", floatPtr(100), floatPtr(10))
	tr.SetBudget(ctx, "user1", floatPtr(200), floatPtr(20))

	rec, _ := tr.GetBudget(ctx, "user1")
	if *rec.MonthlyLimit != 200 || *rec.DailyLimit != 20 {
		t.Fatalf("SetBudget should upsert, got %+v", rec)
	}
}

func TestTracker_MonthlyRollover(t *testing.T) {
	store := NewMemoryStore()
	tr := NewTracker(store, 80)
	ctx := context.Background()

	tr.SetBudget(ctx, "user1", floatPtr(100), floatPtr(1000))
	tr.RecordUsage(ctx, "user1", 50)

	// Force the stored period_start into the past so the next check rolls
	// the monthly counter over.
	rec, _ := store.GetBudget(ctx, "user1")
	past := rec.PeriodStart.AddDate(0, -2, 0)
	store.budgets["user1"].PeriodStart = past
	store.budgets["user1"].DayStart = past

	result, err := tr.CheckBudget(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusOK {
		t.Fatalf("Status after rollover = %v, want StatusOK", result.Status)
	}

	rec, _ = tr.GetBudget(ctx, "user1")
	if rec.MonthlyUsed != 0 {
		t.Errorf("MonthlyUsed after rollover = %v, want 0", rec.MonthlyUsed)
	}
}

func TestAddOneMonth_Normal(t *testing.T) {
	dt := time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)
	got := addOneMonth(dt)
	if got.Month() != time.February || got.Day() != 15 {
		t.Errorf("addOneMonth() = %v", got)
	}
}

func TestAddOneMonth_DecemberRollsYear(t *testing.T) {
	dt := time.Date(2025, time.December, 15, 12, 0, 0, 0, time.UTC)
	got := addOneMonth(dt)
	if got.Year() != 2026 || got.Month() != time.January {
		t.Errorf("addOneMonth() = %v", got)
	}
}

func TestAddOneMonth_ClampsDay(t *testing.T) {
	dt := time.Date(2025, time.January, 31, 12, 0, 0, 0, time.UTC)
	got := addOneMonth(dt)
	if got.Month() != time.February || got.Day() != 28 {
		t.Errorf("addOneMonth() = %v, want Feb 28", got)
	}
}

func TestDaysInMonth_LeapYear(t *testing.T) {
	cases := []struct {
		year int
		want int
	}{
		{2024, 29},
		{2025, 28},
		{2000, 29},
		{1900, 28},
	}
	for _, c := range cases {
		if got := daysInMonth(c.year, time.February); got != c.want {
			t.Errorf("daysInMonth(%d, Feb) = %d, want %d", c.year, got, c.want)
		}
	}
}
