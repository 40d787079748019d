package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"polymarket-copytrader/models"
)

const defaultDataURL = "https://data-api.polymarket.com"

// FeedClient reads watched accounts' fills from the Data API. Delivery is
// at-least-once: the feed may re-report fills around the cursor, and fills
// within a batch may arrive out of order. Dedup happens downstream.
type FeedClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewFeedClient creates a fill feed client.
func NewFeedClient(baseURL string) *FeedClient {
	if baseURL == "" {
		baseURL = defaultDataURL
	}
	return &FeedClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type rawActivity struct {
	TransactionHash string  `json:"transactionHash"`
	ProxyWallet     string  `json:"proxyWallet"`
	ConditionID     string  `json:"conditionId"`
	Asset           string  `json:"asset"`
	Type            string  `json:"type"`
	Side            string  `json:"side"`
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
	Timestamp       int64   `json:"timestamp"`
}

// GetFills returns fills for one account strictly after sinceCursor (unix
// seconds of the newest fill previously seen) together with the new
// cursor. On error the cursor is returned unchanged so the next cycle
// retries the same window.
func (c *FeedClient) GetFills(ctx context.Context, account string, sinceCursor int64) ([]models.Fill, int64, error) {
	values := url.Values{}
	values.Set("user", account)
	values.Set("limit", "100")
	values.Set("sortDirection", "ASC")
	if sinceCursor > 0 {
		values.Set("start", strconv.FormatInt(sinceCursor, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/activity?"+values.Encode(), nil)
	if err != nil {
		return nil, sinceCursor, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, sinceCursor, fmt.Errorf("fetch activity for %s: %w", account, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, sinceCursor, fmt.Errorf("fetch activity for %s: %d %s", account, resp.StatusCode, string(body))
	}

	var raws []rawActivity
	if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
		return nil, sinceCursor, fmt.Errorf("decode activity: %w", err)
	}

	fills := make([]models.Fill, 0, len(raws))
	newCursor := sinceCursor
	for _, r := range raws {
		// Unique per fill: one transaction can carry multiple fills for
		// different assets, so the asset is part of the ID.
		id := r.TransactionHash + ":" + r.Asset

		size := r.Size
		if r.Side == "BUY" && r.UsdcSize > 0 {
			size = r.UsdcSize
		}

		fills = append(fills, models.Fill{
			ID:        id,
			Account:   account,
			MarketID:  r.ConditionID,
			TokenID:   r.Asset,
			Type:      r.Type,
			Side:      r.Side,
			Size:      size,
			Price:     r.Price,
			Title:     r.Title,
			Outcome:   r.Outcome,
			Timestamp: r.Timestamp,
		})
		if r.Timestamp > newCursor {
			newCursor = r.Timestamp
		}
	}

	return fills, newCursor, nil
}
