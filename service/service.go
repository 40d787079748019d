package service

import (
	"context"
	"fmt"
	"time"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/syncer"
)

// Service exposes the reporting surface over the statistics store and the
// running copy engine. Handlers go through here rather than touching the
// store or monitor directly.
type Service struct {
	store   storage.RecordStore
	monitor *syncer.Monitor
}

// NewService wires the reporting layer.
func NewService(store storage.RecordStore, monitor *syncer.Monitor) *Service {
	return &Service{store: store, monitor: monitor}
}

// RecordsInRange returns statistics rows recorded in [from, to). A zero
// `to` means now; a zero `from` means the trailing 24 hours.
func (s *Service) RecordsInRange(ctx context.Context, from, to time.Time, limit int) ([]models.TradeRecord, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Second)
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("service: from %s is not before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return s.store.RecordsInRange(ctx, from, to, limit)
}

// TradeHistory returns the full append-only history for one exchange
// trade: the decision row first, then any execution outcome rows.
func (s *Service) TradeHistory(ctx context.Context, sourceTradeID string) ([]models.TradeRecord, error) {
	if sourceTradeID == "" {
		return nil, fmt.Errorf("service: source trade id is empty")
	}
	return s.store.RecordsBySource(ctx, sourceTradeID)
}

// AccountSummary aggregates outcomes for one watched account.
func (s *Service) AccountSummary(ctx context.Context, account string) (models.AccountSummary, error) {
	if account == "" {
		return models.AccountSummary{}, fmt.Errorf("service: account is empty")
	}
	return s.store.Summary(ctx, account)
}

// AccountSummaries aggregates outcomes for every account with records.
func (s *Service) AccountSummaries(ctx context.Context) ([]models.AccountSummary, error) {
	return s.store.Summaries(ctx)
}

// OpenPositions returns our current copied positions.
func (s *Service) OpenPositions(ctx context.Context) ([]models.Position, error) {
	return s.store.OpenPositions(ctx)
}

// EngineStatus is a point-in-time view of the running engine.
type EngineStatus struct {
	TradingActive   bool                   `json:"trading_active"`
	WatchedTraders  []models.WatchedTrader `json:"watched_traders"`
	Risk            syncer.RiskState       `json:"risk"`
	PollingInterval int                    `json:"polling_interval"`
}

// Status reports the engine's watch list, risk counters, and gate state.
func (s *Service) Status() EngineStatus {
	cfg := s.monitor.CopyConfig()
	return EngineStatus{
		TradingActive:   cfg.TradingActive,
		WatchedTraders:  s.monitor.Traders(),
		Risk:            s.monitor.RiskSnapshot(),
		PollingInterval: cfg.PollingIntervalSec,
	}
}

// AddTrader starts watching an account at runtime.
func (s *Service) AddTrader(address string) error {
	if address == "" {
		return fmt.Errorf("service: trader address is empty")
	}
	if !s.monitor.AddTrader(address, false) {
		return fmt.Errorf("service: trader %s already watched", address)
	}
	return nil
}

// RemoveTrader stops watching an account at runtime.
func (s *Service) RemoveTrader(address string) error {
	if !s.monitor.RemoveTrader(address) {
		return fmt.Errorf("service: trader %s not watched", address)
	}
	return nil
}

// SetTradingActive flips the live-trading gate.
func (s *Service) SetTradingActive(active bool) {
	s.monitor.SetTradingActive(active)
}

// CopyConfig returns the engine's current copy parameters.
func (s *Service) CopyConfig() config.CopyConfig {
	return s.monitor.CopyConfig()
}
