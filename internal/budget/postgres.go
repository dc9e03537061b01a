package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL, mirroring the schema
// shape of the relational auth store: one row per user in a `budgets`
// table, updated in place rather than versioned.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:         "localhost",
		Port:         5432,
		Database:     "gaud",
		SSLMode:      "disable",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// NewPostgresStore opens a pooled connection and verifies it with a ping.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("budget: open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("budget: ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-opened *sql.DB, e.g. one shared
// with the auth store.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetBudget(ctx context.Context, userID string) (*Record, error) {
	const query = `
		SELECT user_id, monthly_limit, daily_limit, monthly_used, daily_used, period_start, day_start
		FROM budgets WHERE user_id = $1`

	var rec Record
	var monthlyLimit, dailyLimit sql.NullFloat64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &monthlyLimit, &dailyLimit, &rec.MonthlyUsed, &rec.DailyUsed,
		&rec.PeriodStart, &rec.DayStart,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("budget: query budget: %w", err)
	}

	if monthlyLimit.Valid {
		rec.MonthlyLimit = &monthlyLimit.Float64
	}
	if dailyLimit.Valid {
		rec.DailyLimit = &dailyLimit.Float64
	}
	return &rec, nil
}

func (s *PostgresStore) SetBudget(ctx context.Context, userID string, monthlyLimit, dailyLimit *float64) error {
	const query = `
		INSERT INTO budgets (user_id, monthly_limit, daily_limit, period_start, day_start)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET monthly_limit = $2, daily_limit = $3`

	if _, err := s.db.ExecContext(ctx, query, userID, monthlyLimit, dailyLimit); err != nil {
		return fmt.Errorf("budget: set budget: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetPeriods(ctx context.Context, userID string, resetMonthly, resetDaily bool, now time.Time) error {
	switch {
	case resetMonthly && resetDaily:
		_, err := s.db.ExecContext(ctx,
			`UPDATE budgets SET monthly_used = 0, daily_used = 0, period_start = $1, day_start = $1 WHERE user_id = $2`,
			now, userID)
		return err
	case resetMonthly:
		_, err := s.db.ExecContext(ctx,
			`UPDATE budgets SET monthly_used = 0, period_start = $1 WHERE user_id = $2`, now, userID)
		return err
	case resetDaily:
		_, err := s.db.ExecContext(ctx,
			`UPDATE budgets SET daily_used = 0, day_start = $1 WHERE user_id = $2`, now, userID)
		return err
	default:
		return nil
	}
}

func (s *PostgresStore) RecordUsage(ctx context.Context, userID string, cost float64) error {
	const query = `UPDATE budgets SET monthly_used = monthly_used + $1, daily_used = daily_used + $1 WHERE user_id = $2`
	if _, err := s.db.ExecContext(ctx, query, cost, userID); err != nil {
		return fmt.Errorf("budget: record usage: %w", err)
	}
	return nil
}
