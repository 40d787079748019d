package models

import "time"

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// WatchedTrader is an exchange account whose fills we monitor for copying.
type WatchedTrader struct {
	Address string    `json:"address"`
	WinRate float64   `json:"win_rate,omitempty"`
	PNL     float64   `json:"pnl,omitempty"`
	AddedAt time.Time `json:"added_at"`
	// AutoAdded marks traders pulled in by the discovery refresh rather
	// than the config file.
	AutoAdded bool `json:"auto_added"`
}

// Fill is a raw trade execution reported by the exchange feed.
type Fill struct {
	ID        string  `json:"id"`
	Account   string  `json:"account"`
	MarketID  string  `json:"market_id"`
	TokenID   string  `json:"token_id"`
	Type      string  `json:"type"` // TRADE, REDEEM, SPLIT, MERGE
	Side      string  `json:"side"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
	Title     string  `json:"title"`
	Outcome   string  `json:"outcome"`
	Timestamp int64   `json:"timestamp"` // unix seconds
}

// ObservedTrade is the canonical trade event emitted by the normalizer.
// Immutable once created. SourceTradeID is globally unique per exchange
// trade and is the dedup key.
type ObservedTrade struct {
	SourceTradeID string    `json:"source_trade_id"`
	Account       string    `json:"account"`
	MarketID      string    `json:"market_id"`
	TokenID       string    `json:"token_id"`
	Side          Side      `json:"side"`
	Size          float64   `json:"size"`
	Price         float64   `json:"price"`
	Title         string    `json:"title"`
	Outcome       string    `json:"outcome"`
	Timestamp     time.Time `json:"timestamp"`
}

// Value returns the trade's notional in USDC. Buys report size already in
// USDC; sells report token size, so the notional is size*price.
func (t ObservedTrade) Value() float64 {
	if t.Side == SideSell {
		return t.Size * t.Price
	}
	return t.Size
}

// IntentStatus is the finite state of a copy intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentScheduled IntentStatus = "scheduled"
	IntentExecuting IntentStatus = "executing"
	IntentExecuted  IntentStatus = "executed"
	IntentFailed    IntentStatus = "failed"
	IntentCancelled IntentStatus = "cancelled"
)

// CopyIntent is an accepted decision to replicate an observed trade,
// pending its scheduled execution.
type CopyIntent struct {
	ID            string        `json:"id"`
	Trade         ObservedTrade `json:"trade"`
	SizedAmount   float64       `json:"sized_amount"` // USDC
	Closing       bool          `json:"closing"`      // auto-close of our copied position
	DecisionTime  time.Time     `json:"decision_time"`
	ScheduledTime time.Time     `json:"scheduled_time"`
	Status        IntentStatus  `json:"status"`
}

// Outcome values recorded for each observed trade.
const (
	OutcomeObserved  = "observed"
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeSimulated = "simulated"
	OutcomeExecuted  = "executed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// TradeRecord is one append-only statistics row. Corrections are new
// appends referencing the same SourceTradeID; rows are never mutated.
type TradeRecord struct {
	ID            int64     `json:"id"`
	SourceTradeID string    `json:"source_trade_id"`
	Account       string    `json:"account"`
	MarketID      string    `json:"market_id"`
	Side          Side      `json:"side"`
	Size          float64   `json:"size"`
	Price         float64   `json:"price"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	SizedAmount   float64   `json:"sized_amount,omitempty"`
	ScheduledAt   time.Time `json:"scheduled_at,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	FillPrice     float64   `json:"fill_price,omitempty"`
	FillSize      float64   `json:"fill_size,omitempty"`
	TradeTime     time.Time `json:"trade_time"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Position is our current holding in a market outcome, built from
// executed copy trades.
type Position struct {
	MarketID  string    `json:"market_id"`
	TokenID   string    `json:"token_id"`
	Outcome   string    `json:"outcome"`
	Title     string    `json:"title"`
	Size      float64   `json:"size"`
	AvgPrice  float64   `json:"avg_price"`
	TotalCost float64   `json:"total_cost"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountSummary aggregates recorded activity for one watched account.
type AccountSummary struct {
	Account       string  `json:"account"`
	Observed      int     `json:"observed"`
	Accepted      int     `json:"accepted"`
	Rejected      int     `json:"rejected"`
	Simulated     int     `json:"simulated"`
	Executed      int     `json:"executed"`
	Failed        int     `json:"failed"`
	TotalNotional float64 `json:"total_notional"` // USDC across executed copies
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
}

// TraderInfo is a discovery-service result row.
type TraderInfo struct {
	Address string  `json:"address"`
	WinRate float64 `json:"win_rate"`
	PNL     float64 `json:"pnl"`
}
