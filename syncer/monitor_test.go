package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
)

type fakeFeed struct {
	mu      sync.Mutex
	fills   map[string][]models.Fill
	cursors map[string]int64
	errs    map[string]error
	seen    map[string][]int64 // cursor value of each call, per account
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		fills:   make(map[string][]models.Fill),
		cursors: make(map[string]int64),
		errs:    make(map[string]error),
		seen:    make(map[string][]int64),
	}
}

func (f *fakeFeed) GetFills(ctx context.Context, account string, sinceCursor int64) ([]models.Fill, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[account] = append(f.seen[account], sinceCursor)
	if err := f.errs[account]; err != nil {
		return nil, sinceCursor, err
	}
	next := f.cursors[account]
	if next == 0 {
		next = sinceCursor
	}
	return f.fills[account], next, nil
}

func monitorConfig() config.CopyConfig {
	cfg := testCopyConfig()
	cfg.WatchedTraders = []string{"0xtrader"}
	cfg.PollingIntervalSec = 60
	cfg.AutoClosePositions = true
	return cfg
}

func accountFill(account, id string, side string, size, price float64, ts int64) models.Fill {
	return models.Fill{
		ID:        id,
		Account:   account,
		MarketID:  "market-1",
		TokenID:   "token-1",
		Type:      "TRADE",
		Side:      side,
		Size:      size,
		Price:     price,
		Timestamp: ts,
	}
}

func waitRecords(t *testing.T, store *storage.MockStore, outcome string) models.TradeRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, rec := range store.Records() {
			if rec.Outcome == outcome {
				return rec
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q record appeared; have %+v", outcome, store.Records())
	return models.TradeRecord{}
}

func TestPollRejectionRecorded(t *testing.T) {
	feed := newFakeFeed()
	feed.fills["0xtrader"] = []models.Fill{
		accountFill("0xtrader", "f1", "BUY", 100, 0.1, 100), // value 100 -> $10 < min
	}
	store := storage.NewMockStore()
	m := NewMonitor(feed, &fakeExecutor{}, store, monitorConfig())
	defer m.sched.Shutdown()

	m.pollOnce(context.Background())

	rec := waitRecords(t, store, models.OutcomeRejected)
	if rec.Reason != ReasonBelowMinimum {
		t.Errorf("reason = %q, want %q", rec.Reason, ReasonBelowMinimum)
	}
	if rec.SourceTradeID != "f1" {
		t.Errorf("source = %q", rec.SourceTradeID)
	}
}

func TestPollAcceptedThenExecuted(t *testing.T) {
	feed := newFakeFeed()
	feed.fills["0xtrader"] = []models.Fill{
		accountFill("0xtrader", "f1", "BUY", 1000, 0.1, 100), // $100 copy
	}
	store := storage.NewMockStore()
	cfg := monitorConfig()
	cfg.MinCopyDelaySec, cfg.MaxCopyDelaySec = 0, 0
	m := NewMonitor(feed, &fakeExecutor{}, store, cfg)
	defer m.sched.Shutdown()

	m.pollOnce(context.Background())

	accepted := waitRecords(t, store, models.OutcomeAccepted)
	if !floatEquals(accepted.SizedAmount, 100, 0.001) {
		t.Errorf("accepted sized = %.2f, want 100", accepted.SizedAmount)
	}

	executed := waitRecords(t, store, models.OutcomeExecuted)
	if executed.OrderID != "order-1" {
		t.Errorf("order id = %q", executed.OrderID)
	}

	// The executed buy opened a tracked position.
	size, held := m.PositionSize("market-1")
	if !held || size <= 0 {
		t.Errorf("position after buy: held=%v size=%.2f", held, size)
	}
	positions, _ := store.OpenPositions(context.Background())
	if len(positions) != 1 {
		t.Errorf("stored positions = %d, want 1", len(positions))
	}
}

func TestPollFailedExecutionKeepsBudget(t *testing.T) {
	feed := newFakeFeed()
	feed.fills["0xtrader"] = []models.Fill{
		accountFill("0xtrader", "f1", "BUY", 1000, 0.1, 100),
	}
	store := storage.NewMockStore()
	cfg := monitorConfig()
	cfg.MinCopyDelaySec, cfg.MaxCopyDelaySec = 0, 0
	m := NewMonitor(feed, &fakeExecutor{err: errors.New("exchange rejected")}, store, cfg)
	defer m.sched.Shutdown()

	m.pollOnce(context.Background())

	failed := waitRecords(t, store, models.OutcomeFailed)
	if failed.Reason == "" {
		t.Error("failed record carries no reason")
	}

	// The reservation stays consumed even though the order failed.
	if got := m.RiskSnapshot().DailyTrades; got != 1 {
		t.Errorf("daily trades = %d, want 1", got)
	}
	if _, held := m.PositionSize("market-1"); held {
		t.Error("failed buy opened a position")
	}
}

func TestPollCursorIsolationOnError(t *testing.T) {
	feed := newFakeFeed()
	feed.errs["0xtrader"] = errors.New("data api 503")
	feed.fills["0xother"] = []models.Fill{
		accountFill("0xother", "f2", "BUY", 1000, 0.1, 200),
	}
	feed.cursors["0xother"] = 200

	store := storage.NewMockStore()
	cfg := monitorConfig()
	cfg.WatchedTraders = []string{"0xtrader", "0xother"}
	m := NewMonitor(feed, &fakeExecutor{}, store, cfg)
	defer m.sched.Shutdown()

	m.mu.Lock()
	initial := m.cursors["0xtrader"]
	m.mu.Unlock()

	m.pollOnce(context.Background())

	// The healthy account's trade still went through the pipeline.
	waitRecords(t, store, models.OutcomeAccepted)

	m.mu.Lock()
	failedCursor := m.cursors["0xtrader"]
	okCursor := m.cursors["0xother"]
	m.mu.Unlock()

	if okCursor != 200 {
		t.Errorf("healthy cursor = %d, want 200", okCursor)
	}
	if failedCursor != initial {
		t.Errorf("failed cursor moved to %d", failedCursor)
	}

	// Next cycle retries the failed account from the same cursor.
	m.pollOnce(context.Background())
	calls := feed.seen["0xtrader"]
	if len(calls) != 2 || calls[0] != calls[1] {
		t.Errorf("failed account cursors across polls = %v, want identical", calls)
	}
}

func TestAutoCloseClearsPosition(t *testing.T) {
	feed := newFakeFeed()
	feed.fills["0xtrader"] = []models.Fill{
		accountFill("0xtrader", "f-sell", "SELL", 2000, 0.5, 300), // value $1000 -> $100 copy
	}
	store := storage.NewMockStore()
	cfg := monitorConfig()
	cfg.MinCopyDelaySec, cfg.MaxCopyDelaySec = 0, 0
	m := NewMonitor(feed, &fakeExecutor{}, store, cfg)
	defer m.sched.Shutdown()

	// We hold a copied position in this market.
	m.mu.Lock()
	m.positions["market-1"] = models.Position{MarketID: "market-1", TokenID: "token-1", Size: 150}
	m.mu.Unlock()

	m.pollOnce(context.Background())

	waitRecords(t, store, models.OutcomeExecuted)
	if _, held := m.PositionSize("market-1"); held {
		t.Error("position not cleared after auto-close")
	}
}

func TestRealtimeFillDeduplicatedAgainstPoll(t *testing.T) {
	feed := newFakeFeed()
	fill := accountFill("0xtrader", "f1", "BUY", 1000, 0.1, 100)
	feed.fills["0xtrader"] = []models.Fill{fill}

	store := storage.NewMockStore()
	cfg := monitorConfig()
	cfg.MinCopyDelaySec, cfg.MaxCopyDelaySec = 0, 0
	m := NewMonitor(feed, &fakeExecutor{}, store, cfg)
	defer m.sched.Shutdown()

	m.HandleRealtimeFill(fill)
	waitRecords(t, store, models.OutcomeAccepted)

	// The poll sees the same fill; it must not produce a second decision.
	m.pollOnce(context.Background())
	time.Sleep(20 * time.Millisecond)

	decisions := 0
	for _, rec := range store.Records() {
		if rec.Outcome == models.OutcomeAccepted {
			decisions++
		}
	}
	if decisions != 1 {
		t.Fatalf("accepted decisions = %d, want 1", decisions)
	}
}

func TestAddRemoveTrader(t *testing.T) {
	feed := newFakeFeed()
	store := storage.NewMockStore()
	m := NewMonitor(feed, &fakeExecutor{}, store, monitorConfig())
	defer m.sched.Shutdown()

	if !m.AddTrader("0xnew", false) {
		t.Fatal("add refused")
	}
	if m.AddTrader("0xnew", false) {
		t.Fatal("duplicate add accepted")
	}
	if m.TraderCount() != 2 {
		t.Errorf("count = %d, want 2", m.TraderCount())
	}

	if !m.RemoveTrader("0xnew") {
		t.Fatal("remove refused")
	}
	if m.RemoveTrader("0xnew") {
		t.Fatal("second remove accepted")
	}

	// Removed accounts are not polled.
	m.pollOnce(context.Background())
	if len(feed.seen["0xnew"]) != 0 {
		t.Error("removed trader was polled")
	}
}

func TestSetTradingActiveSimulates(t *testing.T) {
	feed := newFakeFeed()
	feed.fills["0xtrader"] = []models.Fill{
		accountFill("0xtrader", "f1", "BUY", 1000, 0.1, 100),
	}
	store := storage.NewMockStore()
	exec := &fakeExecutor{}
	m := NewMonitor(feed, exec, store, monitorConfig())
	defer m.sched.Shutdown()

	m.SetTradingActive(false)
	m.pollOnce(context.Background())

	rec := waitRecords(t, store, models.OutcomeSimulated)
	if !floatEquals(rec.SizedAmount, 100, 0.001) {
		t.Errorf("simulated sized = %.2f, want 100", rec.SizedAmount)
	}
	if exec.callCount() != 0 {
		t.Error("simulated trade reached the executor")
	}
	if got := m.RiskSnapshot().DailyTrades; got != 0 {
		t.Errorf("daily trades = %d, want 0", got)
	}
}
