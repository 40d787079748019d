package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
)

// FillSource retrieves fills for one account past a cursor. The returned
// cursor is handed back on the next call; on error the old cursor must be
// returned unchanged so no fills are skipped.
type FillSource interface {
	GetFills(ctx context.Context, account string, sinceCursor int64) ([]models.Fill, int64, error)
}

// Recorder persists statistics rows and our copied positions.
type Recorder interface {
	AppendRecord(ctx context.Context, rec models.TradeRecord) error
	UpsertPosition(ctx context.Context, pos models.Position) error
	ClearPosition(ctx context.Context, marketID string) error
	OpenPositions(ctx context.Context) ([]models.Position, error)
}

type accountFills struct {
	account string
	fills   []models.Fill
	cursor  int64
	err     error
}

// Monitor polls watched accounts for new fills, runs each through the
// filter pipeline, and hands accepted trades to the execution scheduler.
// One Monitor instance drives the whole copy engine.
type Monitor struct {
	feed  FillSource
	store Recorder
	dedup *Deduper
	risk  *RiskTracker
	sched *Scheduler

	mu        sync.Mutex
	cfg       config.CopyConfig
	traders   map[string]models.WatchedTrader
	cursors   map[string]int64
	positions map[string]models.Position // open copied positions by market

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMonitor builds the copy engine around a fill source, an order
// executor, and a statistics store. Watched traders from the config are
// registered with cursors starting at construction time, so historical
// fills are observed but never copied twice across restarts of the same
// process.
func NewMonitor(feed FillSource, executor OrderExecutor, store Recorder, cfg config.CopyConfig) *Monitor {
	m := &Monitor{
		feed:      feed,
		store:     store,
		dedup:     NewDeduper(0),
		risk:      NewRiskTracker(riskLimitsFrom(cfg)),
		cfg:       cfg,
		traders:   make(map[string]models.WatchedTrader),
		cursors:   make(map[string]int64),
		positions: make(map[string]models.Position),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		now:       time.Now,
	}
	m.sched = NewScheduler(executor,
		time.Duration(cfg.MinCopyDelaySec)*time.Second,
		time.Duration(cfg.MaxCopyDelaySec)*time.Second,
		m.handleResult)

	start := m.now().Unix()
	for _, addr := range cfg.WatchedTraders {
		m.traders[addr] = models.WatchedTrader{Address: addr, AddedAt: m.now()}
		m.cursors[addr] = start
	}
	return m
}

func riskLimitsFrom(cfg config.CopyConfig) RiskLimits {
	return RiskLimits{
		MaxDailyTrades:     cfg.MaxDailyTrades,
		MaxDailyAmount:     cfg.MaxDailyAmount,
		MaxPositionsPerMkt: cfg.MaxPositionsPerMkt,
	}
}

// Start restores open positions from the store and launches the polling
// loop. The first poll happens immediately.
func (m *Monitor) Start(ctx context.Context) error {
	positions, err := m.store.OpenPositions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, p := range positions {
		m.positions[p.MarketID] = p
	}
	interval := time.Duration(m.cfg.PollingIntervalSec) * time.Second
	m.mu.Unlock()

	log.Printf("[Monitor] starting: %d traders, %d open positions, poll every %v",
		m.TraderCount(), len(positions), interval)

	go m.run(ctx, interval)
	return nil
}

func (m *Monitor) run(ctx context.Context, interval time.Duration) {
	defer close(m.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// Stop halts polling, cancels scheduled intents, and waits for in-flight
// executions. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
		m.sched.Shutdown()
		log.Printf("[Monitor] stopped")
	})
}

// pollOnce runs one cycle: fetch fills for every watched account in
// parallel, then process the merged batch under a single config snapshot
// so mid-cycle config changes apply only to the next cycle.
func (m *Monitor) pollOnce(ctx context.Context) {
	m.mu.Lock()
	cfg := m.cfg
	accounts := make([]string, 0, len(m.traders))
	cursors := make(map[string]int64, len(m.traders))
	for addr := range m.traders {
		accounts = append(accounts, addr)
		cursors[addr] = m.cursors[addr]
	}
	m.mu.Unlock()

	if len(accounts) == 0 {
		return
	}

	results := make(chan accountFills, len(accounts))
	var wg sync.WaitGroup
	for _, addr := range accounts {
		wg.Add(1)
		go func(addr string, cursor int64) {
			defer wg.Done()
			fills, next, err := m.feed.GetFills(ctx, addr, cursor)
			results <- accountFills{account: addr, fills: fills, cursor: next, err: err}
		}(addr, cursors[addr])
	}
	wg.Wait()
	close(results)

	var merged []models.Fill
	for res := range results {
		if res.err != nil {
			// Cursor stays put; the fills will be retried next cycle.
			log.Printf("[Monitor] poll %s failed: %v", res.account, res.err)
			continue
		}
		merged = append(merged, res.fills...)
		m.mu.Lock()
		if _, watched := m.traders[res.account]; watched {
			m.cursors[res.account] = res.cursor
		}
		m.mu.Unlock()
	}

	for _, trade := range m.dedup.NormalizeBatch(merged) {
		m.processTrade(ctx, trade, cfg)
	}
}

// HandleRealtimeFill processes a fill pushed by the websocket feed
// without waiting for the next poll. The dedup window makes the eventual
// polled copy of the same fill a no-op.
func (m *Monitor) HandleRealtimeFill(fill models.Fill) {
	trade, fresh := m.dedup.Normalize(fill)
	if !fresh {
		return
	}
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()
	m.processTrade(context.Background(), trade, cfg)
}

func (m *Monitor) processTrade(ctx context.Context, trade models.ObservedTrade, cfg config.CopyConfig) {
	closing := m.isClosing(trade, cfg)
	decision := Decide(trade, cfg, m.risk, closing)

	switch decision.Outcome {
	case models.OutcomeRejected:
		log.Printf("[Monitor] reject %s %s by %s: %s",
			trade.Side, trade.MarketID, shortAddr(trade.Account), decision.Reason)
		m.record(ctx, trade, models.OutcomeRejected, decision.Reason, decision.SizedAmount)

	case models.OutcomeSimulated:
		log.Printf("[Monitor] simulate %s %s by %s: would copy $%.2f",
			trade.Side, trade.MarketID, shortAddr(trade.Account), decision.SizedAmount)
		m.record(ctx, trade, models.OutcomeSimulated, decision.Reason, decision.SizedAmount)

	case models.OutcomeAccepted:
		intent, ok := m.sched.Schedule(trade, decision.SizedAmount, closing)
		if !ok {
			m.record(ctx, trade, models.OutcomeCancelled, "shutdown", decision.SizedAmount)
			return
		}
		rec := m.buildRecord(trade, models.OutcomeAccepted, "", decision.SizedAmount)
		rec.ScheduledAt = intent.ScheduledTime
		m.append(ctx, rec)
	}
}

// isClosing reports whether a watched sell should liquidate a position we
// opened by copying the same trader's buy.
func (m *Monitor) isClosing(trade models.ObservedTrade, cfg config.CopyConfig) bool {
	if !cfg.AutoClosePositions || trade.Side != models.SideSell {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.positions[trade.MarketID]
	return held
}

// handleResult is the scheduler's completion callback. Executed buys grow
// our position; executed closing sells clear it and free the market's
// position slot. Failed executions keep their risk reservation.
func (m *Monitor) handleResult(res ExecutionResult) {
	ctx := context.Background()
	trade := res.Intent.Trade

	rec := models.TradeRecord{
		SourceTradeID: trade.SourceTradeID,
		Account:       trade.Account,
		MarketID:      trade.MarketID,
		Side:          trade.Side,
		Size:          trade.Size,
		Price:         trade.Price,
		SizedAmount:   res.Intent.SizedAmount,
		ScheduledAt:   res.Intent.ScheduledTime,
		OrderID:       res.OrderID,
		FillPrice:     res.FillPrice,
		FillSize:      res.FillSize,
		TradeTime:     trade.Timestamp,
		RecordedAt:    m.now(),
	}

	switch res.Intent.Status {
	case models.IntentExecuted:
		rec.Outcome = models.OutcomeExecuted
		if res.Intent.Closing {
			m.clearPosition(ctx, trade.MarketID)
		} else if trade.Side == models.SideBuy {
			m.growPosition(ctx, trade, res.FillPrice, res.FillSize)
		}
	case models.IntentFailed:
		rec.Outcome = models.OutcomeFailed
		if res.Err != nil {
			rec.Reason = res.Err.Error()
		}
	case models.IntentCancelled:
		rec.Outcome = models.OutcomeCancelled
	default:
		return
	}

	m.append(ctx, rec)
}

func (m *Monitor) growPosition(ctx context.Context, trade models.ObservedTrade, fillPrice, fillSize float64) {
	m.mu.Lock()
	pos := m.positions[trade.MarketID]
	pos.MarketID = trade.MarketID
	pos.TokenID = trade.TokenID
	pos.Outcome = trade.Outcome
	pos.Title = trade.Title
	pos.Size += fillSize
	pos.TotalCost += fillPrice * fillSize
	if pos.Size > 0 {
		pos.AvgPrice = pos.TotalCost / pos.Size
	}
	pos.UpdatedAt = m.now()
	m.positions[trade.MarketID] = pos
	m.mu.Unlock()

	if err := m.store.UpsertPosition(ctx, pos); err != nil {
		log.Printf("[Monitor] upsert position %s: %v", trade.MarketID, err)
	}
}

func (m *Monitor) clearPosition(ctx context.Context, marketID string) {
	m.mu.Lock()
	delete(m.positions, marketID)
	m.mu.Unlock()

	m.risk.ReleasePosition(marketID)
	if err := m.store.ClearPosition(ctx, marketID); err != nil {
		log.Printf("[Monitor] clear position %s: %v", marketID, err)
	}
}

func (m *Monitor) buildRecord(trade models.ObservedTrade, outcome, reason string, sized float64) models.TradeRecord {
	return models.TradeRecord{
		SourceTradeID: trade.SourceTradeID,
		Account:       trade.Account,
		MarketID:      trade.MarketID,
		Side:          trade.Side,
		Size:          trade.Size,
		Price:         trade.Price,
		Outcome:       outcome,
		Reason:        reason,
		SizedAmount:   sized,
		TradeTime:     trade.Timestamp,
		RecordedAt:    m.now(),
	}
}

func (m *Monitor) record(ctx context.Context, trade models.ObservedTrade, outcome, reason string, sized float64) {
	m.append(ctx, m.buildRecord(trade, outcome, reason, sized))
}

func (m *Monitor) append(ctx context.Context, rec models.TradeRecord) {
	if err := m.store.AppendRecord(ctx, rec); err != nil {
		log.Printf("[Monitor] record %s: %v", rec.Outcome, err)
	}
}

// PositionSize reports our open copied position in a market, for closing
// orders.
func (m *Monitor) PositionSize(marketID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[marketID]
	return pos.Size, ok
}

// AddTrader registers an account at runtime. Its cursor starts now, so
// only fills after registration are copied.
func (m *Monitor) AddTrader(addr string, autoAdded bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.traders[addr]; exists {
		return false
	}
	m.traders[addr] = models.WatchedTrader{Address: addr, AddedAt: m.now(), AutoAdded: autoAdded}
	m.cursors[addr] = m.now().Unix()
	log.Printf("[Monitor] watching %s (auto=%v)", shortAddr(addr), autoAdded)
	return true
}

// RemoveTrader stops watching an account. Already-scheduled intents for
// its trades still execute.
func (m *Monitor) RemoveTrader(addr string) bool {
	m.mu.Lock()
	_, exists := m.traders[addr]
	delete(m.traders, addr)
	delete(m.cursors, addr)
	m.mu.Unlock()

	if exists {
		m.dedup.Forget(addr)
		log.Printf("[Monitor] unwatching %s", shortAddr(addr))
	}
	return exists
}

// Traders returns the current watch list.
func (m *Monitor) Traders() []models.WatchedTrader {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WatchedTrader, 0, len(m.traders))
	for _, t := range m.traders {
		out = append(out, t)
	}
	return out
}

// TraderCount reports how many accounts are being watched.
func (m *Monitor) TraderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.traders)
}

// TraderAddresses returns the watched addresses, for feed subscriptions.
func (m *Monitor) TraderAddresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.traders))
	for addr := range m.traders {
		out = append(out, addr)
	}
	return out
}

// UpdateCopyConfig swaps the filter/sizing parameters. Takes effect on
// the next cycle; in-flight intents keep the terms they were accepted
// under.
func (m *Monitor) UpdateCopyConfig(cfg config.CopyConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.risk.SetLimits(riskLimitsFrom(cfg))
	m.sched.SetDelayBounds(
		time.Duration(cfg.MinCopyDelaySec)*time.Second,
		time.Duration(cfg.MaxCopyDelaySec)*time.Second)
}

// SetTradingActive flips the live-trading gate at runtime.
func (m *Monitor) SetTradingActive(active bool) {
	m.mu.Lock()
	m.cfg.TradingActive = active
	m.mu.Unlock()
	log.Printf("[Monitor] trading_active=%v", active)
}

// CopyConfig returns the current config snapshot.
func (m *Monitor) CopyConfig() config.CopyConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// RiskSnapshot exposes the current day's consumed budgets.
func (m *Monitor) RiskSnapshot() RiskState {
	return m.risk.Snapshot()
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
