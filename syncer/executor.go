package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
)

// OrderExecutor submits a copy intent to the exchange. Implementations
// must respect ctx cancellation; a timed-out order reports failure
// without probing the exchange again.
type OrderExecutor interface {
	Execute(ctx context.Context, intent models.CopyIntent) (orderID string, fillPrice, fillSize float64, err error)
}

// ErrOrderRejected wraps the exchange's reason for refusing an order.
var ErrOrderRejected = errors.New("order rejected")

// ClobExecutor places real orders through the CLOB client.
type ClobExecutor struct {
	clob *api.ClobClient
	// closingSize reports the size of our open position for a market, so
	// closing intents sell what we actually hold rather than the watched
	// trader's size. May be nil when auto-close is disabled.
	closingSize func(marketID string) (float64, bool)
}

// NewClobExecutor wraps the CLOB client. closingSize may be nil.
func NewClobExecutor(clob *api.ClobClient, closingSize func(marketID string) (float64, bool)) *ClobExecutor {
	return &ClobExecutor{clob: clob, closingSize: closingSize}
}

// Execute submits the intent as a FOK market order. Buys spend the sized
// USDC amount; closing sells liquidate our recorded position at the
// watched trader's price.
func (e *ClobExecutor) Execute(ctx context.Context, intent models.CopyIntent) (string, float64, float64, error) {
	trade := intent.Trade

	if intent.Closing && e.closingSize != nil {
		size, ok := e.closingSize(trade.MarketID)
		if !ok || size <= 0 {
			return "", 0, 0, fmt.Errorf("%w: no open position in %s", ErrOrderRejected, trade.MarketID)
		}
		resp, err := e.clob.PlaceLimitOrder(ctx, trade.TokenID, models.SideSell, size, trade.Price, false)
		return e.finish(resp, trade.Price, size, err)
	}

	book, err := e.clob.GetOrderBook(ctx, trade.TokenID)
	if err != nil {
		return "", 0, 0, e.mapErr(fmt.Errorf("get order book: %w", err))
	}
	size, avgPrice, filled := api.EstimateFill(book, trade.Side, intent.SizedAmount)
	if size <= 0 || filled <= 0 {
		return "", 0, 0, fmt.Errorf("%w: no liquidity for $%.2f", ErrOrderRejected, intent.SizedAmount)
	}

	resp, err := e.clob.PlaceMarketOrder(ctx, trade.TokenID, trade.Side, intent.SizedAmount, false)
	return e.finish(resp, avgPrice, size, err)
}

func (e *ClobExecutor) finish(resp *api.OrderResponse, price, size float64, err error) (string, float64, float64, error) {
	if err != nil {
		return "", 0, 0, e.mapErr(err)
	}
	if !resp.Success {
		log.Printf("[Executor] exchange rejected order: %s", resp.ErrorMsg)
		return "", 0, 0, fmt.Errorf("%w: %s", ErrOrderRejected, resp.ErrorMsg)
	}
	return resp.OrderID, price, size, nil
}

func (e *ClobExecutor) mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("order timeout: %w", err)
	}
	return err
}
