package api

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-copytrader/models"
)

const userFeedURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// UserFeed streams trade events for watched accounts over the CLOB
// WebSocket. It is a supplementary source: events land in the same dedup
// path as polled fills, so whichever source sees a fill first wins.
type UserFeed struct {
	url     string
	onFill  func(models.Fill)
	watched map[string]bool
	mu      sync.RWMutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewUserFeed creates an unstarted feed. onFill is invoked from the read
// loop goroutine for every trade event involving a watched account.
func NewUserFeed(onFill func(models.Fill)) *UserFeed {
	return &UserFeed{
		url:     userFeedURL,
		onFill:  onFill,
		watched: make(map[string]bool),
		stopCh:  make(chan struct{}),
	}
}

// SetWatched replaces the set of accounts whose events are forwarded.
func (f *UserFeed) SetWatched(accounts []string) {
	next := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		next[a] = true
	}
	f.mu.Lock()
	f.watched = next
	f.mu.Unlock()
}

// Start launches the connect/read loop. Reconnects with backoff until
// Stop is called.
func (f *UserFeed) Start(ctx context.Context) {
	f.wg.Add(1)
	go f.run(ctx)
}

// Stop terminates the feed and waits for the read loop to exit.
func (f *UserFeed) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

func (f *UserFeed) run(ctx context.Context) {
	defer f.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connectAndRead(ctx); err != nil {
			log.Printf("[UserFeed] connection lost: %v (reconnecting in %v)", err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type wsTradeEvent struct {
	EventType string `json:"event_type"`
	Market    string `json:"market"`
	AssetID   string `json:"asset_id"`
	Maker     string `json:"maker_address"`
	Taker     string `json:"taker_address"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	Outcome   string `json:"outcome"`
	Timestamp string `json:"timestamp"`
	TradeID   string `json:"id"`
}

func (f *UserFeed) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Subscribe to all market trade events; account filtering happens on
	// our side because the channel does not support per-user filters.
	sub := map[string]interface{}{"type": "subscribe", "channel": "market"}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	log.Printf("[UserFeed] connected")

	// Close the connection when asked to stop so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-f.stopCh:
			conn.Close()
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var evt wsTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.EventType != "trade" {
			continue
		}
		f.handleTrade(evt)
	}
}

func (f *UserFeed) handleTrade(evt wsTradeEvent) {
	f.mu.RLock()
	makerWatched := f.watched[evt.Maker]
	takerWatched := f.watched[evt.Taker]
	f.mu.RUnlock()

	account := ""
	switch {
	case takerWatched:
		account = evt.Taker
	case makerWatched:
		account = evt.Maker
	default:
		return
	}

	size, _ := strconv.ParseFloat(evt.Size, 64)
	price, _ := strconv.ParseFloat(evt.Price, 64)
	ts, _ := strconv.ParseInt(evt.Timestamp, 10, 64)

	f.onFill(models.Fill{
		ID:        evt.TradeID,
		Account:   account,
		MarketID:  evt.Market,
		TokenID:   evt.AssetID,
		Type:      "TRADE",
		Side:      evt.Side,
		Size:      size,
		Price:     price,
		Outcome:   evt.Outcome,
		Timestamp: ts,
	})
}
