package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"polymarket-copytrader/models"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite persistence for trade records and positions. The
// default backend: a single file, no external services.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	store := &Store{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendRecord inserts one statistics row. Rows are never updated.
func (s *Store) AppendRecord(ctx context.Context, rec models.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO trade_records (
            source_trade_id, account, market_id, side, size, price,
            outcome, reason, sized_amount, scheduled_at, order_id, fill_price, fill_size,
            trade_time, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		rec.SourceTradeID,
		rec.Account,
		rec.MarketID,
		string(rec.Side),
		rec.Size,
		rec.Price,
		rec.Outcome,
		rec.Reason,
		rec.SizedAmount,
		timeString(rec.ScheduledAt),
		rec.OrderID,
		rec.FillPrice,
		rec.FillSize,
		timeString(rec.TradeTime),
		timeString(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: append record: %w", err)
	}
	return nil
}

// RecordsInRange returns rows recorded in [from, to), newest first.
func (s *Store) RecordsInRange(ctx context.Context, from, to time.Time, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, source_trade_id, account, market_id, side, size, price,
               outcome, reason, sized_amount, scheduled_at, order_id, fill_price, fill_size,
               trade_time, recorded_at
        FROM trade_records
        WHERE recorded_at >= ? AND recorded_at < ?
        ORDER BY recorded_at DESC, id DESC
        LIMIT ?
    `, timeString(from), timeString(to), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: records in range: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// RecordsBySource returns every row for one exchange trade, oldest first,
// so the decision row precedes its execution outcome.
func (s *Store) RecordsBySource(ctx context.Context, sourceTradeID string) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, source_trade_id, account, market_id, side, size, price,
               outcome, reason, sized_amount, scheduled_at, order_id, fill_price, fill_size,
               trade_time, recorded_at
        FROM trade_records
        WHERE source_trade_id = ?
        ORDER BY id ASC
    `, sourceTradeID)
	if err != nil {
		return nil, fmt.Errorf("storage: records by source: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]models.TradeRecord, error) {
	var out []models.TradeRecord
	for rows.Next() {
		var rec models.TradeRecord
		var side, scheduledAt, tradeTime, recordedAt string
		if err := rows.Scan(
			&rec.ID,
			&rec.SourceTradeID,
			&rec.Account,
			&rec.MarketID,
			&side,
			&rec.Size,
			&rec.Price,
			&rec.Outcome,
			&rec.Reason,
			&rec.SizedAmount,
			&scheduledAt,
			&rec.OrderID,
			&rec.FillPrice,
			&rec.FillSize,
			&tradeTime,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan record: %w", err)
		}
		rec.Side = models.Side(side)
		rec.ScheduledAt = parseTime(scheduledAt)
		rec.TradeTime = parseTime(tradeTime)
		rec.RecordedAt = parseTime(recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summary aggregates recorded outcomes for one account.
func (s *Store) Summary(ctx context.Context, account string) (models.AccountSummary, error) {
	summary := models.AccountSummary{Account: account}

	rows, err := s.db.QueryContext(ctx, `
        SELECT outcome, COUNT(*), COALESCE(SUM(sized_amount), 0)
        FROM trade_records
        WHERE account = ?
        GROUP BY outcome
    `, account)
	if err != nil {
		return summary, fmt.Errorf("storage: summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int
		var notional float64
		if err := rows.Scan(&outcome, &count, &notional); err != nil {
			return summary, fmt.Errorf("storage: scan summary: %w", err)
		}
		applyOutcome(&summary, outcome, count, notional)
	}
	return summary, rows.Err()
}

// Summaries aggregates recorded outcomes per account.
func (s *Store) Summaries(ctx context.Context) ([]models.AccountSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT account, outcome, COUNT(*), COALESCE(SUM(sized_amount), 0)
        FROM trade_records
        GROUP BY account, outcome
        ORDER BY account
    `)
	if err != nil {
		return nil, fmt.Errorf("storage: summaries: %w", err)
	}
	defer rows.Close()

	byAccount := make(map[string]*models.AccountSummary)
	var order []string
	for rows.Next() {
		var account, outcome string
		var count int
		var notional float64
		if err := rows.Scan(&account, &outcome, &count, &notional); err != nil {
			return nil, fmt.Errorf("storage: scan summaries: %w", err)
		}
		summary := byAccount[account]
		if summary == nil {
			summary = &models.AccountSummary{Account: account}
			byAccount[account] = summary
			order = append(order, account)
		}
		applyOutcome(summary, outcome, count, notional)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.AccountSummary, 0, len(order))
	for _, account := range order {
		out = append(out, *byAccount[account])
	}
	return out, nil
}

// applyOutcome folds one GROUP BY row into a summary. Every row counts as
// observed; executed rows also accumulate notional.
func applyOutcome(summary *models.AccountSummary, outcome string, count int, notional float64) {
	summary.Observed += count
	switch outcome {
	case models.OutcomeAccepted:
		summary.Accepted += count
	case models.OutcomeRejected:
		summary.Rejected += count
	case models.OutcomeSimulated:
		summary.Simulated += count
	case models.OutcomeExecuted:
		summary.Executed += count
		summary.TotalNotional += notional
	case models.OutcomeFailed:
		summary.Failed += count
	}
}

// OpenPositions returns our current copied positions.
func (s *Store) OpenPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT market_id, token_id, outcome, title, size, avg_price, total_cost, updated_at
        FROM positions
        ORDER BY updated_at DESC
    `)
	if err != nil {
		return nil, fmt.Errorf("storage: open positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var pos models.Position
		var updatedAt string
		if err := rows.Scan(&pos.MarketID, &pos.TokenID, &pos.Outcome, &pos.Title,
			&pos.Size, &pos.AvgPrice, &pos.TotalCost, &updatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan position: %w", err)
		}
		pos.UpdatedAt = parseTime(updatedAt)
		out = append(out, pos)
	}
	return out, rows.Err()
}

// UpsertPosition writes the current state of one copied position.
func (s *Store) UpsertPosition(ctx context.Context, pos models.Position) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO positions (market_id, token_id, outcome, title, size, avg_price, total_cost, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(market_id) DO UPDATE SET
            token_id = excluded.token_id,
            outcome = excluded.outcome,
            title = excluded.title,
            size = excluded.size,
            avg_price = excluded.avg_price,
            total_cost = excluded.total_cost,
            updated_at = excluded.updated_at
    `, pos.MarketID, pos.TokenID, pos.Outcome, pos.Title,
		pos.Size, pos.AvgPrice, pos.TotalCost, timeString(pos.UpdatedAt))
	if err != nil {
		return fmt.Errorf("storage: upsert position: %w", err)
	}
	return nil
}

// ClearPosition removes a fully closed position.
func (s *Store) ClearPosition(ctx context.Context, marketID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE market_id = ?`, marketID); err != nil {
		return fmt.Errorf("storage: clear position: %w", err)
	}
	return nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	const schema = `
    PRAGMA journal_mode = WAL;

    CREATE TABLE IF NOT EXISTS trade_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source_trade_id TEXT NOT NULL,
        account TEXT NOT NULL,
        market_id TEXT,
        side TEXT,
        size REAL,
        price REAL,
        outcome TEXT NOT NULL,
        reason TEXT,
        sized_amount REAL,
        scheduled_at TEXT,
        order_id TEXT,
        fill_price REAL,
        fill_size REAL,
        trade_time TEXT,
        recorded_at TEXT NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_records_source ON trade_records(source_trade_id);
    CREATE INDEX IF NOT EXISTS idx_records_account ON trade_records(account);
    CREATE INDEX IF NOT EXISTS idx_records_recorded ON trade_records(recorded_at);

    CREATE TABLE IF NOT EXISTS positions (
        market_id TEXT PRIMARY KEY,
        token_id TEXT,
        outcome TEXT,
        title TEXT,
        size REAL,
        avg_price REAL,
        total_cost REAL,
        updated_at TEXT
    );
    `

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: run migrations: %w", err)
	}
	return nil
}

// timeLayout is fixed width: fractional seconds are zero-padded so the
// TEXT comparisons and ORDER BY in the range queries follow
// chronological order. RFC3339Nano trims trailing zeros and would not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
