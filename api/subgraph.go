package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"polymarket-copytrader/models"
)

const (
	// Goldsky-hosted Polymarket orderbook subgraph (free, no API key needed)
	subgraphURL = "https://api.goldsky.com/api/public/project_cl6mb8i9h0003e201j6li0diw/subgraphs/orderbook-subgraph/0.0.1/gn"

	subgraphBatchSize = 1000
)

// DiscoveryClient ranks high-performing accounts from the subgraph's
// aggregated account stats. Failures degrade to an empty list; discovery
// is never fatal to the copy engine.
type DiscoveryClient struct {
	httpClient *http.Client
	url        string
}

// NewDiscoveryClient creates a discovery client against the public
// orderbook subgraph.
func NewDiscoveryClient() *DiscoveryClient {
	return &DiscoveryClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        subgraphURL,
	}
}

type accountStat struct {
	ID             string `json:"id"`
	ScaledProfit   string `json:"scaledProfit"`
	TradesQuantity string `json:"tradesQuantity"`
	ProfitableNum  string `json:"profitableTradesQuantity"`
}

type subgraphResponse struct {
	Data struct {
		Accounts []accountStat `json:"accounts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ListTopTraders returns up to count traders with winRate >= minWinRate
// and pnl >= minPnl, best PnL first.
func (c *DiscoveryClient) ListTopTraders(ctx context.Context, minWinRate, minPnl float64, count int) ([]models.TraderInfo, error) {
	if count <= 0 {
		count = 20
	}

	query := fmt.Sprintf(`{
		accounts(
			first: %d,
			orderBy: scaledProfit,
			orderDirection: desc,
			where: {tradesQuantity_gt: "0"}
		) {
			id
			scaledProfit
			tradesQuantity
			profitableTradesQuantity
		}
	}`, subgraphBatchSize)

	resp, err := c.query(ctx, query)
	if err != nil {
		return nil, err
	}

	traders := make([]models.TraderInfo, 0, count)
	for _, acct := range resp.Data.Accounts {
		pnl, _ := strconv.ParseFloat(acct.ScaledProfit, 64)
		total, _ := strconv.ParseFloat(acct.TradesQuantity, 64)
		wins, _ := strconv.ParseFloat(acct.ProfitableNum, 64)

		if total <= 0 {
			continue
		}
		winRate := wins / total
		if winRate < minWinRate || pnl < minPnl {
			continue
		}

		traders = append(traders, models.TraderInfo{
			Address: acct.ID,
			WinRate: winRate,
			PNL:     pnl,
		})
	}

	sort.Slice(traders, func(i, j int) bool { return traders[i].PNL > traders[j].PNL })
	if len(traders) > count {
		traders = traders[:count]
	}

	log.Printf("[Discovery] %d traders matched (minWinRate=%.2f, minPnl=%.0f)", len(traders), minWinRate, minPnl)
	return traders, nil
}

func (c *DiscoveryClient) query(ctx context.Context, query string) (*subgraphResponse, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subgraph query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("subgraph query: %d %s", resp.StatusCode, string(respBody))
	}

	var parsed subgraphResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode subgraph response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("subgraph error: %s", parsed.Errors[0].Message)
	}
	return &parsed, nil
}
