package api

import (
	"testing"

	"polymarket-copytrader/models"
)

func level(price, size string) BookLevel {
	return BookLevel{Price: price, Size: size}
}

func almost(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 0.0001
}

func TestEstimateFill(t *testing.T) {
	book := &OrderBook{
		Asks: []BookLevel{
			level("0.50", "100"), // $50
			level("0.55", "200"), // $110
			level("0.60", "500"), // $300
		},
		Bids: []BookLevel{
			level("0.45", "100"), // $45
			level("0.40", "200"), // $80
		},
	}

	tests := []struct {
		name       string
		side       models.Side
		amount     float64
		wantSize   float64
		wantFilled float64
	}{
		{
			name:       "buy within first level",
			side:       models.SideBuy,
			amount:     25,
			wantSize:   50, // 25 / 0.50
			wantFilled: 25,
		},
		{
			name:       "buy spans two levels",
			side:       models.SideBuy,
			amount:     105,               // $50 at 0.50, $55 at 0.55
			wantSize:   100 + 55.0/0.55,   // 100 + 100
			wantFilled: 105,
		},
		{
			name:       "buy exhausts the book",
			side:       models.SideBuy,
			amount:     1000,
			wantSize:   800,
			wantFilled: 460, // 50 + 110 + 300
		},
		{
			name:       "sell walks the bids",
			side:       models.SideSell,
			amount:     45,
			wantSize:   100,
			wantFilled: 45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, avg, filled := EstimateFill(book, tt.side, tt.amount)
			if !almost(size, tt.wantSize) {
				t.Errorf("size = %.4f, want %.4f", size, tt.wantSize)
			}
			if !almost(filled, tt.wantFilled) {
				t.Errorf("filled = %.4f, want %.4f", filled, tt.wantFilled)
			}
			if size > 0 && !almost(avg, filled/size) {
				t.Errorf("avg = %.4f, want %.4f", avg, filled/size)
			}
		})
	}
}

func TestEstimateFillEmptyBook(t *testing.T) {
	size, avg, filled := EstimateFill(&OrderBook{}, models.SideBuy, 100)
	if size != 0 || avg != 0 || filled != 0 {
		t.Errorf("empty book: size=%.2f avg=%.2f filled=%.2f", size, avg, filled)
	}
}
