// Package syncer implements the copy-trading engine: polling, dedup,
// filtering, risk limits, delayed execution, and statistics recording.
package syncer

import (
	"sort"
	"strings"
	"sync"
	"time"

	"polymarket-copytrader/models"
)

// defaultDedupWindow covers several polling cycles of fetch-window
// overlap for an active trader.
const defaultDedupWindow = 512

// Deduper converts raw fills into canonical ObservedTrades, suppressing
// trade IDs already seen. The seen set is bounded per account: once the
// window is full the oldest ID is evicted.
type Deduper struct {
	window int

	mu    sync.Mutex
	seen  map[string]map[string]bool // account -> trade ID set
	order map[string][]string        // account -> IDs in insertion order
}

// NewDeduper creates a deduper with the given per-account window size
// (<=0 uses the default).
func NewDeduper(window int) *Deduper {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &Deduper{
		window: window,
		seen:   make(map[string]map[string]bool),
		order:  make(map[string][]string),
	}
}

// Normalize returns the canonical event for a raw fill, or false when the
// fill is a duplicate or not a trade (REDEEM/SPLIT/MERGE). For any source
// trade ID at most one ObservedTrade is emitted within the window.
func (d *Deduper) Normalize(fill models.Fill) (models.ObservedTrade, bool) {
	if fill.Type != "" && fill.Type != "TRADE" {
		return models.ObservedTrade{}, false
	}
	if fill.ID == "" || fill.Account == "" {
		return models.ObservedTrade{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ids := d.seen[fill.Account]
	if ids == nil {
		ids = make(map[string]bool, d.window)
		d.seen[fill.Account] = ids
	}
	if ids[fill.ID] {
		return models.ObservedTrade{}, false
	}

	ids[fill.ID] = true
	d.order[fill.Account] = append(d.order[fill.Account], fill.ID)
	if len(d.order[fill.Account]) > d.window {
		oldest := d.order[fill.Account][0]
		d.order[fill.Account] = d.order[fill.Account][1:]
		delete(ids, oldest)
	}

	return models.ObservedTrade{
		SourceTradeID: fill.ID,
		Account:       fill.Account,
		MarketID:      fill.MarketID,
		TokenID:       fill.TokenID,
		Side:          models.Side(strings.ToUpper(fill.Side)),
		Size:          fill.Size,
		Price:         fill.Price,
		Title:         fill.Title,
		Outcome:       fill.Outcome,
		Timestamp:     time.Unix(fill.Timestamp, 0).UTC(),
	}, true
}

// NormalizeBatch applies Normalize to a merged fetch result and returns
// the surviving events sorted by exchange timestamp, so per-market caps
// are applied in the order trades actually happened.
func (d *Deduper) NormalizeBatch(fills []models.Fill) []models.ObservedTrade {
	out := make([]models.ObservedTrade, 0, len(fills))
	for _, fill := range fills {
		if trade, ok := d.Normalize(fill); ok {
			out = append(out, trade)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Forget drops an account's dedup state. Used when a trader is removed
// from the watch list.
func (d *Deduper) Forget(account string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, account)
	delete(d.order, account)
}
