package syncer

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTryReserveLimits(t *testing.T) {
	r := NewRiskTracker(RiskLimits{MaxDailyTrades: 2, MaxDailyAmount: 150, MaxPositionsPerMkt: 1})

	if err := r.TryReserve("m1", 100, true); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := r.TryReserve("m1", 40, true); !errors.Is(err, ErrPositionLimit) {
		t.Fatalf("second open in m1 = %v, want position limit", err)
	}
	// Closing trades skip the position cap but still consume daily budget.
	if err := r.TryReserve("m1", 40, false); err != nil {
		t.Fatalf("closing reserve: %v", err)
	}
	if err := r.TryReserve("m2", 10, true); !errors.Is(err, ErrDailyTradeLimit) {
		t.Fatalf("third trade = %v, want trade limit", err)
	}
}

func TestTryReserveAmountLimit(t *testing.T) {
	r := NewRiskTracker(RiskLimits{MaxDailyTrades: 10, MaxDailyAmount: 100, MaxPositionsPerMkt: 5})

	if err := r.TryReserve("m1", 60, true); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := r.TryReserve("m2", 50, true); !errors.Is(err, ErrDailyAmountLimit) {
		t.Fatalf("over budget = %v, want amount limit", err)
	}
	// Exact fit is allowed; the invariant is notional <= cap, not <.
	if err := r.TryReserve("m2", 40, true); err != nil {
		t.Fatalf("exact fit: %v", err)
	}

	state := r.Snapshot()
	if state.DailyTrades != 2 || state.DailyNotional != 100 {
		t.Errorf("snapshot = %d trades $%.0f, want 2 trades $100", state.DailyTrades, state.DailyNotional)
	}
}

func TestTryReserveFailureLeavesCountersUntouched(t *testing.T) {
	r := NewRiskTracker(RiskLimits{MaxDailyTrades: 1, MaxDailyAmount: 1000, MaxPositionsPerMkt: 1})

	if err := r.TryReserve("m1", 100, true); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	before := r.Snapshot()

	if err := r.TryReserve("m2", 100, true); err == nil {
		t.Fatal("expected failure")
	}
	after := r.Snapshot()

	if after.DailyTrades != before.DailyTrades || after.DailyNotional != before.DailyNotional {
		t.Errorf("counters moved on failed reservation: %+v -> %+v", before, after)
	}
	if after.MarketPosCount["m2"] != 0 {
		t.Errorf("m2 position count = %d after failed reserve", after.MarketPosCount["m2"])
	}
}

func TestDayBoundaryReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	r := NewRiskTracker(RiskLimits{MaxDailyTrades: 1, MaxDailyAmount: 100, MaxPositionsPerMkt: 1})
	r.now = func() time.Time { return now }

	if err := r.TryReserve("m1", 100, true); err != nil {
		t.Fatalf("day one: %v", err)
	}
	if err := r.TryReserve("m2", 100, true); !errors.Is(err, ErrDailyTradeLimit) {
		t.Fatalf("day one second = %v, want trade limit", err)
	}

	// 20 minutes later it is a new UTC day; all counters are fresh.
	now = now.Add(20 * time.Minute)
	if err := r.TryReserve("m2", 100, true); err != nil {
		t.Fatalf("day two: %v", err)
	}

	state := r.Snapshot()
	if state.Day != "2025-06-02" {
		t.Errorf("day = %s, want 2025-06-02", state.Day)
	}
	if state.DailyTrades != 1 {
		t.Errorf("daily trades = %d, want 1", state.DailyTrades)
	}
}

func TestReleasePosition(t *testing.T) {
	r := NewRiskTracker(RiskLimits{MaxDailyTrades: 10, MaxDailyAmount: 1000, MaxPositionsPerMkt: 1})

	if err := r.TryReserve("m1", 50, true); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := r.TryReserve("m1", 50, true); !errors.Is(err, ErrPositionLimit) {
		t.Fatalf("full market = %v, want position limit", err)
	}

	r.ReleasePosition("m1")
	if err := r.TryReserve("m1", 50, true); err != nil {
		t.Fatalf("after release: %v", err)
	}

	// Daily counters stay consumed across releases.
	if got := r.Snapshot().DailyTrades; got != 2 {
		t.Errorf("daily trades = %d, want 2", got)
	}
}

func TestTryReserveConcurrent(t *testing.T) {
	const limit = 10
	r := NewRiskTracker(RiskLimits{MaxDailyTrades: limit, MaxDailyAmount: 100000, MaxPositionsPerMkt: 100})

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.TryReserve("m1", 10, true); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != limit {
		t.Fatalf("granted = %d, want exactly %d", granted, limit)
	}
	if got := r.Snapshot().DailyTrades; got != limit {
		t.Fatalf("daily trades = %d, want %d", got, limit)
	}
}
