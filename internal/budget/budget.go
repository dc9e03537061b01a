// Package budget enforces per-user monthly/daily spend limits and records
// completed-request usage against them.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var statusCaser = cases.Title(language.English)

// Status is the outcome of a budget check.
type Status int

const (
	// StatusOK means the user is within both limits and below the warning
	// threshold.
	StatusOK Status = iota
	// StatusWarning means a limit has not been reached but usage has
	// crossed the configured warning threshold. Percent holds how much of
	// the tightest crossed limit has been consumed.
	StatusWarning
	// StatusExceeded means a limit has been reached; the request must be
	// rejected.
	StatusExceeded
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

// Label returns a title-cased status name for display in an admin UI or
// alert, the same treatment budget alerts elsewhere in this stack give
// entity names.
func (s Status) Label() string {
	return statusCaser.String(s.String())
}

// Result is the outcome of CheckBudget, including the warning percentage
// when Status is StatusWarning.
type Result struct {
	Status  Status
	Percent float64
}

// Record is the persisted budget row for a single user. Limits are pointers
// so a nil limit means unlimited.
type Record struct {
	UserID       string
	MonthlyLimit *float64
	DailyLimit   *float64
	MonthlyUsed  float64
	DailyUsed    float64
	PeriodStart  time.Time
	DayStart     time.Time
}

// Store persists Budget rows and also serves as the primary UsageSink for
// budget.AuditLogger, since crediting a batch's cost against a user's
// counters and recording the batch itself happen in the same transaction for
// PostgresStore. Implementations are not required to serialize access
// themselves — the Tracker serializes per user.
type Store interface {
	GetBudget(ctx context.Context, userID string) (*Record, error)
	SetBudget(ctx context.Context, userID string, monthlyLimit, dailyLimit *float64) error
	ResetPeriods(ctx context.Context, userID string, resetMonthly, resetDaily bool, now time.Time) error
	RecordUsage(ctx context.Context, userID string, cost float64) error
	UsageSink
}

// Tracker checks and records spend against per-user budgets, lazily rolling
// over monthly/daily periods and serializing access per user so concurrent
// requests for the same user never race on the same counters.
type Tracker struct {
	store            Store
	warningThreshold int // percent, e.g. 80
	mu               sync.Mutex
	locks            map[string]*sync.Mutex
}

// NewTracker creates a Tracker. warningThresholdPercent is the
// budget.warning_threshold_percent configuration value.
func NewTracker(store Store, warningThresholdPercent int) *Tracker {
	return &Tracker{
		store:            store,
		warningThreshold: warningThresholdPercent,
		locks:            make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lockFor(userID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[userID] = l
	}
	return l
}

// CheckBudget rolls over stale periods and reports whether userID is within
// budget. A user with no budget row is unlimited.
func (t *Tracker) CheckBudget(ctx context.Context, userID string) (Result, error) {
	lock := t.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	return t.checkBudgetLocked(ctx, userID, time.Now().UTC())
}

func (t *Tracker) checkBudgetLocked(ctx context.Context, userID string, now time.Time) (Result, error) {
	if err := t.maybeResetPeriods(ctx, userID, now); err != nil {
		return Result{}, err
	}

	rec, err := t.store.GetBudget(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if rec == nil {
		return Result{Status: StatusOK}, nil
	}

	if rec.MonthlyLimit != nil && *rec.MonthlyLimit > 0 && rec.MonthlyUsed >= *rec.MonthlyLimit {
		return Result{Status: StatusExceeded}, nil
	}
	if rec.DailyLimit != nil && *rec.DailyLimit > 0 && rec.DailyUsed >= *rec.DailyLimit {
		return Result{Status: StatusExceeded}, nil
	}

	threshold := float64(t.warningThreshold) / 100.0

	if rec.MonthlyLimit != nil && *rec.MonthlyLimit > 0 {
		frac := rec.MonthlyUsed / *rec.MonthlyLimit
		if frac >= threshold {
			return Result{Status: StatusWarning, Percent: frac * 100}, nil
		}
	}
	if rec.DailyLimit != nil && *rec.DailyLimit > 0 {
		frac := rec.DailyUsed / *rec.DailyLimit
		if frac >= threshold {
			return Result{Status: StatusWarning, Percent: frac * 100}, nil
		}
	}

	return Result{Status: StatusOK}, nil
}

// RecordUsage rolls over stale periods and adds cost to both the monthly and
// daily counters.
func (t *Tracker) RecordUsage(ctx context.Context, userID string, cost float64) error {
	lock := t.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	if err := t.maybeResetPeriods(ctx, userID, now); err != nil {
		return err
	}
	return t.store.RecordUsage(ctx, userID, cost)
}

// GetBudget returns the raw budget row, or nil if none exists.
func (t *Tracker) GetBudget(ctx context.Context, userID string) (*Record, error) {
	return t.store.GetBudget(ctx, userID)
}

// SetBudget upserts monthly/daily limits for a user.
func (t *Tracker) SetBudget(ctx context.Context, userID string, monthlyLimit, dailyLimit *float64) error {
	return t.store.SetBudget(ctx, userID, monthlyLimit, dailyLimit)
}

// maybeResetPeriods zeroes stale monthly/daily counters. Monthly rolls over
// on the first of the UTC month, daily at UTC midnight.
func (t *Tracker) maybeResetPeriods(ctx context.Context, userID string, now time.Time) error {
	rec, err := t.store.GetBudget(ctx, userID)
	if err != nil {
		return fmt.Errorf("budget: get budget for reset check: %w", err)
	}
	if rec == nil {
		return nil
	}

	resetMonthly := !rec.PeriodStart.IsZero() && !now.Before(addOneMonth(rec.PeriodStart))
	resetDaily := !rec.DayStart.IsZero() && now.Truncate(24*time.Hour).After(rec.DayStart.Truncate(24*time.Hour))

	if !resetMonthly && !resetDaily {
		return nil
	}
	return t.store.ResetPeriods(ctx, userID, resetMonthly, resetDaily, now)
}

// addOneMonth returns t advanced by one calendar month, clamping the day to
// the last day of the target month (e.g. Jan 31 -> Feb 28).
func addOneMonth(t time.Time) time.Time {
	year, month, day := t.Date()
	year, month = nextMonth(year, month)
	if max := daysInMonth(year, month); day > max {
		day = max
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
