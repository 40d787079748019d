package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"polymarket-copytrader/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const summaryCacheTTL = 30 * time.Second

// PostgresStore wraps PostgreSQL persistence with Redis caching for the
// reporting queries. Used when several processes share one statistics
// database.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates a PostgreSQL store with connection pooling and a
// Redis cache, configured from the environment.
func NewPostgres() (*PostgresStore, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "copytrader")
	password := getEnv("POSTGRES_PASSWORD", "copytrader")
	dbname := getEnv("POSTGRES_DB", "copytrader")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379")),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	store := &PostgresStore{pool: pool, redis: rdb}
	if err := store.runMigrations(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Close releases database and cache connections.
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS trade_records (
        id BIGSERIAL PRIMARY KEY,
        source_trade_id TEXT NOT NULL,
        account TEXT NOT NULL,
        market_id TEXT,
        side TEXT,
        size DOUBLE PRECISION,
        price DOUBLE PRECISION,
        outcome TEXT NOT NULL,
        reason TEXT,
        sized_amount DOUBLE PRECISION,
        scheduled_at TIMESTAMPTZ,
        order_id TEXT,
        fill_price DOUBLE PRECISION,
        fill_size DOUBLE PRECISION,
        trade_time TIMESTAMPTZ,
        recorded_at TIMESTAMPTZ NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_records_source ON trade_records(source_trade_id);
    CREATE INDEX IF NOT EXISTS idx_records_account ON trade_records(account);
    CREATE INDEX IF NOT EXISTS idx_records_recorded ON trade_records(recorded_at);

    CREATE TABLE IF NOT EXISTS positions (
        market_id TEXT PRIMARY KEY,
        token_id TEXT,
        outcome TEXT,
        title TEXT,
        size DOUBLE PRECISION,
        avg_price DOUBLE PRECISION,
        total_cost DOUBLE PRECISION,
        updated_at TIMESTAMPTZ
    );
    `
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: run migrations: %w", err)
	}
	return nil
}

// AppendRecord inserts one statistics row and invalidates the account's
// cached summary.
func (s *PostgresStore) AppendRecord(ctx context.Context, rec models.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO trade_records (
            source_trade_id, account, market_id, side, size, price,
            outcome, reason, sized_amount, scheduled_at, order_id, fill_price, fill_size,
            trade_time, recorded_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `,
		rec.SourceTradeID, rec.Account, rec.MarketID, string(rec.Side),
		rec.Size, rec.Price, rec.Outcome, rec.Reason, rec.SizedAmount,
		rec.ScheduledAt, rec.OrderID, rec.FillPrice, rec.FillSize,
		rec.TradeTime, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append record: %w", err)
	}

	if err := s.redis.Del(ctx, summaryKey(rec.Account), summaryKey("")).Err(); err != nil {
		log.Printf("[Storage] invalidate summary cache: %v", err)
	}
	return nil
}

// RecordsInRange returns rows recorded in [from, to), newest first.
func (s *PostgresStore) RecordsInRange(ctx context.Context, from, to time.Time, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
        SELECT id, source_trade_id, account, market_id, side, size, price,
               outcome, reason, sized_amount, scheduled_at, order_id, fill_price, fill_size,
               trade_time, recorded_at
        FROM trade_records
        WHERE recorded_at >= $1 AND recorded_at < $2
        ORDER BY recorded_at DESC, id DESC
        LIMIT $3
    `, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: records in range: %w", err)
	}
	defer rows.Close()

	return scanPgRecords(rows)
}

// RecordsBySource returns every row for one exchange trade, oldest first.
func (s *PostgresStore) RecordsBySource(ctx context.Context, sourceTradeID string) ([]models.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, source_trade_id, account, market_id, side, size, price,
               outcome, reason, sized_amount, scheduled_at, order_id, fill_price, fill_size,
               trade_time, recorded_at
        FROM trade_records
        WHERE source_trade_id = $1
        ORDER BY id ASC
    `, sourceTradeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: records by source: %w", err)
	}
	defer rows.Close()

	return scanPgRecords(rows)
}

func scanPgRecords(rows pgx.Rows) ([]models.TradeRecord, error) {
	var out []models.TradeRecord
	for rows.Next() {
		var rec models.TradeRecord
		var side string
		if err := rows.Scan(
			&rec.ID, &rec.SourceTradeID, &rec.Account, &rec.MarketID, &side,
			&rec.Size, &rec.Price, &rec.Outcome, &rec.Reason, &rec.SizedAmount,
			&rec.ScheduledAt, &rec.OrderID, &rec.FillPrice, &rec.FillSize,
			&rec.TradeTime, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		rec.Side = models.Side(side)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summary aggregates recorded outcomes for one account, served from the
// Redis cache when fresh.
func (s *PostgresStore) Summary(ctx context.Context, account string) (models.AccountSummary, error) {
	if cached, err := s.redis.Get(ctx, summaryKey(account)).Result(); err == nil {
		var summary models.AccountSummary
		if json.Unmarshal([]byte(cached), &summary) == nil {
			return summary, nil
		}
	}

	summary := models.AccountSummary{Account: account}
	rows, err := s.pool.Query(ctx, `
        SELECT outcome, COUNT(*), COALESCE(SUM(sized_amount), 0)
        FROM trade_records
        WHERE account = $1
        GROUP BY outcome
    `, account)
	if err != nil {
		return summary, fmt.Errorf("postgres: summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int
		var notional float64
		if err := rows.Scan(&outcome, &count, &notional); err != nil {
			return summary, fmt.Errorf("postgres: scan summary: %w", err)
		}
		applyOutcome(&summary, outcome, count, notional)
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}

	s.cacheSummary(ctx, summaryKey(account), summary)
	return summary, nil
}

// Summaries aggregates recorded outcomes per account.
func (s *PostgresStore) Summaries(ctx context.Context) ([]models.AccountSummary, error) {
	if cached, err := s.redis.Get(ctx, summaryKey("")).Result(); err == nil {
		var summaries []models.AccountSummary
		if json.Unmarshal([]byte(cached), &summaries) == nil {
			return summaries, nil
		}
	}

	rows, err := s.pool.Query(ctx, `
        SELECT account, outcome, COUNT(*), COALESCE(SUM(sized_amount), 0)
        FROM trade_records
        GROUP BY account, outcome
        ORDER BY account
    `)
	if err != nil {
		return nil, fmt.Errorf("postgres: summaries: %w", err)
	}
	defer rows.Close()

	byAccount := make(map[string]*models.AccountSummary)
	var order []string
	for rows.Next() {
		var account, outcome string
		var count int
		var notional float64
		if err := rows.Scan(&account, &outcome, &count, &notional); err != nil {
			return nil, fmt.Errorf("postgres: scan summaries: %w", err)
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
	s.cacheSummary(ctx, summaryKey(""), out)
	return out, nil
}

func (s *PostgresStore) cacheSummary(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, data, summaryCacheTTL).Err(); err != nil {
		log.Printf("[Storage] cache summary: %v", err)
	}
}

func summaryKey(account string) string {
	if account == "" {
		return "copytrader:summary:all"
	}
	return "copytrader:summary:" + account
}

// OpenPositions returns our current copied positions.
func (s *PostgresStore) OpenPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT market_id, token_id, outcome, title, size, avg_price, total_cost, updated_at
        FROM positions
        ORDER BY updated_at DESC
    `)
	if err != nil {
		return nil, fmt.Errorf("postgres: open positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var pos models.Position
		if err := rows.Scan(&pos.MarketID, &pos.TokenID, &pos.Outcome, &pos.Title,
			&pos.Size, &pos.AvgPrice, &pos.TotalCost, &pos.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

// UpsertPosition writes the current state of one copied position.
func (s *PostgresStore) UpsertPosition(ctx context.Context, pos models.Position) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO positions (market_id, token_id, outcome, title, size, avg_price, total_cost, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (market_id) DO UPDATE SET
            token_id = EXCLUDED.token_id,
            outcome = EXCLUDED.outcome,
            title = EXCLUDED.title,
            size = EXCLUDED.size,
            avg_price = EXCLUDED.avg_price,
            total_cost = EXCLUDED.total_cost,
            updated_at = EXCLUDED.updated_at
    `, pos.MarketID, pos.TokenID, pos.Outcome, pos.Title,
		pos.Size, pos.AvgPrice, pos.TotalCost, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert position: %w", err)
	}
	return nil
}

// ClearPosition removes a fully closed position.
func (s *PostgresStore) ClearPosition(ctx context.Context, marketID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE market_id = $1`, marketID); err != nil {
		return fmt.Errorf("postgres: clear position: %w", err)
	}
	return nil
}
