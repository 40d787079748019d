package syncer

import (
	"fmt"
	"sync"
	"time"
)

// Reservation failures. These are expected outcomes, not faults: the
// filter pipeline turns them into reject reasons.
var (
	ErrDailyTradeLimit  = fmt.Errorf("daily trade limit")
	ErrDailyAmountLimit = fmt.Errorf("daily amount limit")
	ErrPositionLimit    = fmt.Errorf("position limit")
)

// RiskLimits is the immutable bound set a tracker enforces.
type RiskLimits struct {
	MaxDailyTrades     int
	MaxDailyAmount     float64
	MaxPositionsPerMkt int
}

// RiskState is a read-only snapshot of the tracker's counters.
type RiskState struct {
	Day            string         `json:"day"` // UTC date
	DailyTrades    int            `json:"daily_trades"`
	DailyNotional  float64        `json:"daily_notional"`
	MarketPosCount map[string]int `json:"market_position_count"`
}

// RiskTracker holds the daily counters consulted by the filter pipeline.
// TryReserve is the single mutating entry point: the check and the
// increment are one critical section, so concurrent decisions can never
// jointly exceed a limit that each saw as satisfiable. Counters reset on
// the first reservation attempt of a new UTC day. Reservations are never
// rolled back: a failed execution still consumed its slot and notional.
type RiskTracker struct {
	mu sync.Mutex

	limits RiskLimits

	day           time.Time // UTC midnight of the current counting day
	dailyTrades   int
	dailyNotional float64
	marketCount   map[string]int

	now func() time.Time // injectable clock for tests
}

// NewRiskTracker creates a tracker with the given limits.
func NewRiskTracker(limits RiskLimits) *RiskTracker {
	return &RiskTracker{
		limits:      limits,
		marketCount: make(map[string]int),
		now:         time.Now,
	}
}

// SetLimits swaps the enforced limits (config snapshot per cycle).
func (r *RiskTracker) SetLimits(limits RiskLimits) {
	r.mu.Lock()
	r.limits = limits
	r.mu.Unlock()
}

// TryReserve atomically checks all limits and, if every one holds,
// consumes one trade slot, the notional, and (for opening trades) one
// market position slot. Either everything is applied or nothing is.
func (r *RiskTracker) TryReserve(market string, amount float64, opening bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollDayLocked()

	if opening && r.marketCount[market] >= r.limits.MaxPositionsPerMkt {
		return ErrPositionLimit
	}
	if r.dailyTrades >= r.limits.MaxDailyTrades {
		return ErrDailyTradeLimit
	}
	if r.dailyNotional+amount > r.limits.MaxDailyAmount {
		return ErrDailyAmountLimit
	}

	r.dailyTrades++
	r.dailyNotional += amount
	if opening {
		r.marketCount[market]++
	}
	return nil
}

// ReleasePosition decrements a market's position count after a copied
// position is fully closed. Daily counters stay consumed.
func (r *RiskTracker) ReleasePosition(market string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.marketCount[market] > 0 {
		r.marketCount[market]--
	}
}

// Snapshot returns the current counters for reporting.
func (r *RiskTracker) Snapshot() RiskState {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollDayLocked()

	counts := make(map[string]int, len(r.marketCount))
	for m, n := range r.marketCount {
		counts[m] = n
	}
	return RiskState{
		Day:            r.day.Format("2006-01-02"),
		DailyTrades:    r.dailyTrades,
		DailyNotional:  r.dailyNotional,
		MarketPosCount: counts,
	}
}

// rollDayLocked zeroes the counters when the UTC day has changed since
// the last reservation. Caller holds the mutex.
func (r *RiskTracker) rollDayLocked() {
	today := r.now().UTC().Truncate(24 * time.Hour)
	if r.day.Equal(today) {
		return
	}
	r.day = today
	r.dailyTrades = 0
	r.dailyNotional = 0
	r.marketCount = make(map[string]int)
}
