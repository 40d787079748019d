package syncer

import (
	"fmt"
	"testing"

	"polymarket-copytrader/models"
)

func testFill(id string, ts int64) models.Fill {
	return models.Fill{
		ID:        id,
		Account:   "0xtrader",
		MarketID:  "market-1",
		TokenID:   "token-1",
		Type:      "TRADE",
		Side:      "BUY",
		Size:      100,
		Price:     0.5,
		Timestamp: ts,
	}
}

func TestNormalizeSuppressesDuplicates(t *testing.T) {
	d := NewDeduper(0)

	if _, ok := d.Normalize(testFill("f1", 100)); !ok {
		t.Fatal("first sighting suppressed")
	}
	if _, ok := d.Normalize(testFill("f1", 100)); ok {
		t.Fatal("duplicate emitted")
	}
	// Same ID under another account is independent.
	other := testFill("f1", 100)
	other.Account = "0xother"
	if _, ok := d.Normalize(other); !ok {
		t.Fatal("other account suppressed")
	}
}

func TestNormalizeSkipsNonTrades(t *testing.T) {
	d := NewDeduper(0)

	for _, typ := range []string{"REDEEM", "SPLIT", "MERGE"} {
		fill := testFill("f-"+typ, 100)
		fill.Type = typ
		if _, ok := d.Normalize(fill); ok {
			t.Errorf("%s emitted as trade", typ)
		}
	}
}

func TestNormalizeCanonicalFields(t *testing.T) {
	d := NewDeduper(0)

	fill := testFill("f1", 1700000000)
	fill.Side = "sell"
	trade, ok := d.Normalize(fill)
	if !ok {
		t.Fatal("suppressed")
	}
	if trade.Side != models.SideSell {
		t.Errorf("side = %q, want SELL", trade.Side)
	}
	if trade.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", trade.Timestamp)
	}
	// Sell notional is size*price.
	if !floatEquals(trade.Value(), 50, 0.001) {
		t.Errorf("value = %.2f, want 50", trade.Value())
	}
}

func TestNormalizeBatchSortsAndRepollsIdempotently(t *testing.T) {
	d := NewDeduper(0)

	batch := []models.Fill{
		testFill("f3", 300),
		testFill("f1", 100),
		testFill("f2", 200),
	}

	trades := d.NormalizeBatch(batch)
	if len(trades) != 3 {
		t.Fatalf("len = %d, want 3", len(trades))
	}
	for i, want := range []string{"f1", "f2", "f3"} {
		if trades[i].SourceTradeID != want {
			t.Errorf("trades[%d] = %s, want %s", i, trades[i].SourceTradeID, want)
		}
	}

	// A re-poll returning the same window yields nothing new.
	if again := d.NormalizeBatch(batch); len(again) != 0 {
		t.Fatalf("re-poll emitted %d trades", len(again))
	}
}

func TestDedupWindowEviction(t *testing.T) {
	d := NewDeduper(3)

	for i := 0; i < 4; i++ {
		d.Normalize(testFill(fmt.Sprintf("f%d", i), int64(i)))
	}

	// f0 was evicted, so it counts as new again; f3 is still within the
	// window and stays suppressed.
	if _, ok := d.Normalize(testFill("f0", 0)); !ok {
		t.Error("evicted ID still suppressed")
	}
	if _, ok := d.Normalize(testFill("f3", 3)); ok {
		t.Error("in-window ID emitted")
	}
}

func TestForget(t *testing.T) {
	d := NewDeduper(0)

	d.Normalize(testFill("f1", 100))
	d.Forget("0xtrader")
	if _, ok := d.Normalize(testFill("f1", 100)); !ok {
		t.Error("forgotten account still suppressed")
	}
}
