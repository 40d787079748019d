package storage

import (
	"context"
	"time"

	"polymarket-copytrader/models"
)

// RecordStore defines the interface for statistics backends. Records are
// append-only: corrections are new rows referencing the original
// source_trade_id, never updates.
type RecordStore interface {
	Close() error

	// Statistics rows
	AppendRecord(ctx context.Context, rec models.TradeRecord) error
	RecordsInRange(ctx context.Context, from, to time.Time, limit int) ([]models.TradeRecord, error)
	RecordsBySource(ctx context.Context, sourceTradeID string) ([]models.TradeRecord, error)

	// Reporting
	Summary(ctx context.Context, account string) (models.AccountSummary, error)
	Summaries(ctx context.Context) ([]models.AccountSummary, error)

	// Our copied positions
	OpenPositions(ctx context.Context) ([]models.Position, error)
	UpsertPosition(ctx context.Context, pos models.Position) error
	ClearPosition(ctx context.Context, marketID string) error
}

// Ensure all implementations satisfy the interface
var (
	_ RecordStore = (*Store)(nil)
	_ RecordStore = (*PostgresStore)(nil)
	_ RecordStore = (*MockStore)(nil)
)
