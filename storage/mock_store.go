package storage

import (
	"context"
	"sync"
	"time"

	"polymarket-copytrader/models"
)

// MockStore is an in-memory RecordStore for tests.
type MockStore struct {
	mu        sync.Mutex
	records   []models.TradeRecord
	positions map[string]models.Position
	nextID    int64

	// FailAppend, when set, is returned by AppendRecord.
	FailAppend error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{positions: make(map[string]models.Position), nextID: 1}
}

func (m *MockStore) Close() error { return nil }

func (m *MockStore) AppendRecord(ctx context.Context, rec models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppend != nil {
		return m.FailAppend
	}
	rec.ID = m.nextID
	m.nextID++
	m.records = append(m.records, rec)
	return nil
}

func (m *MockStore) RecordsInRange(ctx context.Context, from, to time.Time, limit int) ([]models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TradeRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if rec.RecordedAt.Before(from) || !rec.RecordedAt.Before(to) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockStore) RecordsBySource(ctx context.Context, sourceTradeID string) ([]models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TradeRecord
	for _, rec := range m.records {
		if rec.SourceTradeID == sourceTradeID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MockStore) Summary(ctx context.Context, account string) (models.AccountSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := models.AccountSummary{Account: account}
	for _, rec := range m.records {
		if rec.Account == account {
			applyOutcome(&summary, rec.Outcome, 1, rec.SizedAmount)
		}
	}
	return summary, nil
}

func (m *MockStore) Summaries(ctx context.Context) ([]models.AccountSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byAccount := make(map[string]*models.AccountSummary)
	var order []string
	for _, rec := range m.records {
		summary := byAccount[rec.Account]
		if summary == nil {
			summary = &models.AccountSummary{Account: rec.Account}
			byAccount[rec.Account] = summary
			order = append(order, rec.Account)
		}
		applyOutcome(summary, rec.Outcome, 1, rec.SizedAmount)
	}
	out := make([]models.AccountSummary, 0, len(order))
	for _, account := range order {
		out = append(out, *byAccount[account])
	}
	return out, nil
}

func (m *MockStore) OpenPositions(ctx context.Context) ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (m *MockStore) UpsertPosition(ctx context.Context, pos models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.MarketID] = pos
	return nil
}

func (m *MockStore) ClearPosition(ctx context.Context, marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, marketID)
	return nil
}

// Records returns a copy of everything appended so far.
func (m *MockStore) Records() []models.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TradeRecord, len(m.records))
	copy(out, m.records)
	return out
}

// SetPosition seeds an open position.
func (m *MockStore) SetPosition(pos models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.MarketID] = pos
}
