package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// batchSize is the maximum number of entries buffered before a flush,
// regardless of the flush timer.
const batchSize = 100

// flushInterval is how often buffered entries are flushed even if the
// batch isn't full.
const flushInterval = time.Second

// UsageEntry is one completed request's accounting record.
type UsageEntry struct {
	UserID       string
	RequestID    string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	LatencyMS    int64
	Status       string // "success", "error", or "aborted"
	CreatedAt    time.Time
}

// UsageFilter narrows a usage query for the admin usage endpoint.
type UsageFilter struct {
	UserID   string
	Provider string
	From     time.Time
	To       time.Time
	Page     int // 1-based
	PerPage  int
}

// UsageQuerier is implemented by usage sinks that can page back through
// recorded entries for the admin usage endpoint.
type UsageQuerier interface {
	QueryUsage(ctx context.Context, filter UsageFilter) (entries []UsageEntry, total int, err error)
}

// UsageSink persists a batch of UsageEntry values in a single transaction
// and, for entries with a non-zero cost, atomically increments the
// corresponding budget counters.
type UsageSink interface {
	WriteUsageBatch(ctx context.Context, entries []UsageEntry) error
}

// MultiSink fans a flushed batch out to a primary sink and zero or more
// secondary archival sinks. Only the primary sink's error is returned to
// AuditLogger, so a batch already committed against budget counters isn't
// retried (and double-counted) just because a secondary sink — S3, say —
// is unreachable; secondary failures are logged and dropped.
type MultiSink struct {
	primary   UsageSink
	secondary []UsageSink
	logger    *slog.Logger
}

// NewMultiSink builds a MultiSink around primary. Nil entries in secondary
// are skipped, so callers can pass through an optionally-nil sink without a
// branch.
func NewMultiSink(logger *slog.Logger, primary UsageSink, secondary ...UsageSink) *MultiSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &MultiSink{primary: primary, logger: logger}
	for _, s := range secondary {
		if s != nil {
			m.secondary = append(m.secondary, s)
		}
	}
	return m
}

// WriteUsageBatch implements UsageSink.
func (m *MultiSink) WriteUsageBatch(ctx context.Context, entries []UsageEntry) error {
	if err := m.primary.WriteUsageBatch(ctx, entries); err != nil {
		return err
	}
	for _, s := range m.secondary {
		if err := s.WriteUsageBatch(ctx, entries); err != nil {
			m.logger.Error("secondary usage sink write failed", "count", len(entries), "error", err)
		}
	}
	return nil
}

// AuditLogger batches usage entries off the request path: Record never
// blocks a response on the write, and writes land in batches of up to
// batchSize or every flushInterval, whichever comes first.
type AuditLogger struct {
	sink   UsageSink
	logger *slog.Logger
	ch     chan UsageEntry
	done   chan struct{}
}

// NewAuditLogger starts the background flush loop and returns the logger.
// Call Close to flush any remaining entries and stop the loop.
func NewAuditLogger(sink UsageSink, logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &AuditLogger{
		sink:   sink,
		logger: logger,
		ch:     make(chan UsageEntry, batchSize),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Record enqueues an entry for the next flush. It never blocks the caller
// on the database write.
func (a *AuditLogger) Record(entry UsageEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	a.ch <- entry
}

// Close stops accepting new entries, flushes anything buffered, and waits
// for the background loop to exit.
func (a *AuditLogger) Close() {
	close(a.ch)
	<-a.done
}

func (a *AuditLogger) run() {
	defer close(a.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	buffer := make([]UsageEntry, 0, batchSize)
	ctx := context.Background()

	for {
		select {
		case entry, ok := <-a.ch:
			if !ok {
				if len(buffer) > 0 {
					a.flush(ctx, buffer)
				}
				a.logger.Info("audit logger shutting down")
				return
			}
			buffer = append(buffer, entry)
			if len(buffer) >= batchSize {
				buffer = a.flush(ctx, buffer)
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				buffer = a.flush(ctx, buffer)
			}
		}
	}
}

// flush writes buffer and returns a fresh, empty slice on success. On
// failure the entries are kept so the next tick retries them.
func (a *AuditLogger) flush(ctx context.Context, buffer []UsageEntry) []UsageEntry {
	if err := a.sink.WriteUsageBatch(ctx, buffer); err != nil {
		a.logger.Error("failed to flush audit batch", "count", len(buffer), "error", err)
		return buffer
	}
	a.logger.Debug("flushed audit batch", "count", len(buffer))
	return buffer[:0]
}

// WriteUsageBatch implements UsageSink for MemoryStore: it appends to an
// in-process log and folds non-zero costs into the matching budget row.
func (s *MemoryStore) WriteUsageBatch(ctx context.Context, entries []UsageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usageLog = append(s.usageLog, entries...)
	for _, e := range entries {
		if e.Cost <= 0 {
			continue
		}
		if rec, ok := s.budgets[e.UserID]; ok {
			rec.MonthlyUsed += e.Cost
			rec.DailyUsed += e.Cost
		}
	}
	return nil
}

// UsageLog returns the entries recorded so far, for tests.
func (s *MemoryStore) UsageLog() []UsageEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]UsageEntry, len(s.usageLog))
	copy(cp, s.usageLog)
	return cp
}

// QueryUsage implements UsageQuerier for MemoryStore: filter then paginate
// newest-first, in process.
func (s *MemoryStore) QueryUsage(_ context.Context, filter UsageFilter) ([]UsageEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []UsageEntry
	for i := len(s.usageLog) - 1; i >= 0; i-- {
		e := s.usageLog[i]
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Provider != "" && e.Provider != filter.Provider {
			continue
		}
		if !filter.From.IsZero() && e.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.CreatedAt.After(filter.To) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	return paginateUsage(matched, filter), total, nil
}

func paginateUsage(entries []UsageEntry, filter UsageFilter) []UsageEntry {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 500 {
		perPage = 500
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * perPage
	if start >= len(entries) {
		return []UsageEntry{}
	}
	end := start + perPage
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}

// WriteUsageBatch implements UsageSink for PostgresStore: one transaction
// inserts every entry into usage_log and updates budgets.{monthly,daily}_used
// for entries with a non-zero cost.
func (s *PostgresStore) WriteUsageBatch(ctx context.Context, entries []UsageEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("budget: begin usage batch: %w", err)
	}
	defer tx.Rollback()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_log (id, user_id, request_id, provider, model, input_tokens, output_tokens, cost, latency_ms, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("budget: prepare usage insert: %w", err)
	}
	defer insertStmt.Close()

	updateStmt, err := tx.PrepareContext(ctx, `
		UPDATE budgets SET monthly_used = monthly_used + $1, daily_used = daily_used + $1 WHERE user_id = $2`)
	if err != nil {
		return fmt.Errorf("budget: prepare budget update: %w", err)
	}
	defer updateStmt.Close()

	for _, e := range entries {
		if _, err := insertStmt.ExecContext(ctx, uuid.NewString(), e.UserID, e.RequestID, e.Provider,
			e.Model, e.InputTokens, e.OutputTokens, e.Cost, e.LatencyMS, e.Status, e.CreatedAt); err != nil {
			return fmt.Errorf("budget: insert usage_log: %w", err)
		}
		if e.Cost > 0 {
			if _, err := updateStmt.ExecContext(ctx, e.Cost, e.UserID); err != nil {
				return fmt.Errorf("budget: update budget counters: %w", err)
			}
		}
	}

	return tx.Commit()
}

// QueryUsage implements UsageQuerier for PostgresStore with a dynamic WHERE
// clause built from the non-zero filter fields.
func (s *PostgresStore) QueryUsage(ctx context.Context, filter UsageFilter) ([]UsageEntry, int, error) {
	var (
		clauses []string
		args    []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = "+arg(filter.UserID))
	}
	if filter.Provider != "" {
		clauses = append(clauses, "provider = "+arg(filter.Provider))
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, "created_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, "created_at <= "+arg(filter.To))
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM usage_log" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("budget: count usage_log: %w", err)
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 500 {
		perPage = 500
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage

	limitArg := arg(perPage)
	offsetArg := arg(offset)
	query := fmt.Sprintf(`
		SELECT user_id, request_id, provider, model, input_tokens, output_tokens, cost, latency_ms, status, created_at
		FROM usage_log%s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s`, where, limitArg, offsetArg)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("budget: query usage_log: %w", err)
	}
	defer rows.Close()

	var entries []UsageEntry
	for rows.Next() {
		var e UsageEntry
		if err := rows.Scan(&e.UserID, &e.RequestID, &e.Provider, &e.Model, &e.InputTokens,
			&e.OutputTokens, &e.Cost, &e.LatencyMS, &e.Status, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("budget: scan usage_log row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("budget: iterate usage_log rows: %w", err)
	}

	return entries, total, nil
}
