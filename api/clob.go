package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"polymarket-copytrader/models"
)

const defaultClobURL = "https://clob.polymarket.com"

// Exchange contract addresses on Polygon.
const (
	ctfExchangeAddr     = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchangeAddr = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
)

// APICreds are the L2 credentials derived from the wallet key.
type APICreds struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// OrderBook is the current book for one outcome token.
type OrderBook struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Timestamp string      `json:"timestamp"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
}

// BookLevel is a single price level. The CLOB reports decimal strings.
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderResponse is the CLOB's reply to an order submission.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderId"`
	Status   string `json:"status"` // matched, live, delayed, unmatched
}

// signedOrder is the wire form of an EIP-712 signed CTF exchange order.
type signedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`

	sideInt int
}

type orderPayload struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"` // FOK or GTC
}

// ClobClient submits signed orders and reads order books. It is the only
// component that touches the exchange's trading surface.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	auth       *Auth
	creds      *APICreds
}

// NewClobClient creates a CLOB client authenticated with the given key.
func NewClobClient(baseURL string, auth *Auth) *ClobClient {
	if baseURL == "" {
		baseURL = defaultClobURL
	}
	return &ClobClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		auth:       auth,
	}
}

// DeriveAPICreds obtains L2 API credentials, creating them if the wallet
// has none yet.
func (c *ClobClient) DeriveAPICreds(ctx context.Context) (*APICreds, error) {
	creds, err := c.credsRequest(ctx, http.MethodGet, "/auth/derive-api-key", "")
	if err == nil {
		c.creds = creds
		return creds, nil
	}

	log.Printf("[CLOB] derive failed (%v), creating new API credentials", err)
	body := fmt.Sprintf(`{"nonce":%d}`, time.Now().UnixNano())
	creds, err = c.credsRequest(ctx, http.MethodPost, "/auth/api-key", body)
	if err != nil {
		return nil, fmt.Errorf("create API creds: %w", err)
	}
	c.creds = creds
	return creds, nil
}

func (c *ClobClient) credsRequest(ctx context.Context, method, path, body string) (*APICreds, error) {
	headers, err := c.auth.SignAuthHeaders()
	if err != nil {
		return nil, fmt.Errorf("sign auth headers: %w", err)
	}

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("decode creds: %w", err)
	}
	return &creds, nil
}

// GetOrderBook fetches the book for a token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	values := url.Values{}
	values.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/book?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get order book: %d %s", resp.StatusCode, string(body))
	}

	var book OrderBook
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("decode order book: %w", err)
	}
	return &book, nil
}

// PlaceMarketOrder spends amountUSDC against the book (buy) or sells
// tokens worth amountUSDC at the current book (sell). The fill estimate
// from the book determines the limit-equivalent price of the signed order.
func (c *ClobClient) PlaceMarketOrder(ctx context.Context, tokenID string, side models.Side, amountUSDC float64, negRisk bool) (*OrderResponse, error) {
	if c.creds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return nil, fmt.Errorf("get API creds: %w", err)
		}
	}

	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("get order book: %w", err)
	}

	size, avgPrice, filled := EstimateFill(book, side, amountUSDC)
	if size <= 0 || filled <= 0 {
		return nil, fmt.Errorf("insufficient liquidity for %s of $%.2f", side, amountUSDC)
	}

	log.Printf("[CLOB] market %s: $%.2f at avg %.4f (size %.2f)", side, filled, avgPrice, size)

	order, err := c.buildOrder(tokenID, side, size, avgPrice, negRisk)
	if err != nil {
		return nil, err
	}
	return c.postOrder(ctx, order, "FOK")
}

// PlaceLimitOrder places a GTC order at the given price.
func (c *ClobClient) PlaceLimitOrder(ctx context.Context, tokenID string, side models.Side, size, price float64, negRisk bool) (*OrderResponse, error) {
	if c.creds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return nil, fmt.Errorf("get API creds: %w", err)
		}
	}

	order, err := c.buildOrder(tokenID, side, size, price, negRisk)
	if err != nil {
		return nil, err
	}
	return c.postOrder(ctx, order, "GTC")
}

func (c *ClobClient) buildOrder(tokenID string, side models.Side, size, price float64, negRisk bool) (*signedOrder, error) {
	// Round to the 0.01 tick and whole-cent sizes.
	price = float64(int(price*100+0.5)) / 100
	size = float64(int(size*100+0.5)) / 100
	if size < 0.01 {
		size = 0.01
	}

	// USDC and outcome tokens both use 6 decimals.
	sizeUnits, _ := new(big.Float).Mul(big.NewFloat(size), big.NewFloat(1e6)).Int(nil)
	usdcUnits, _ := new(big.Float).Mul(big.NewFloat(size*price), big.NewFloat(1e6)).Int(nil)

	order := &signedOrder{
		Salt:       rand.Int63n(1_000_000_000),
		Maker:      c.auth.Address().Hex(),
		Signer:     c.auth.Address().Hex(),
		Taker:      "0x0000000000000000000000000000000000000000",
		TokenID:    tokenID,
		Expiration: "0",
		Nonce:      "0",
		FeeRateBps: "0",
	}

	if side == models.SideBuy {
		order.MakerAmount = usdcUnits.String() // give USDC
		order.TakerAmount = sizeUnits.String() // get tokens
		order.Side = "BUY"
		order.sideInt = 0
	} else {
		order.MakerAmount = sizeUnits.String() // give tokens
		order.TakerAmount = usdcUnits.String() // get USDC
		order.Side = "SELL"
		order.sideInt = 1
	}

	sig, err := c.signOrder(order, negRisk)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	order.Signature = sig
	return order, nil
}

func (c *ClobClient) signOrder(order *signedOrder, negRisk bool) (string, error) {
	verifying := ctfExchangeAddr
	if negRisk {
		verifying = negRiskExchangeAddr
	}

	toBig := func(s string) *big.Int {
		v := new(big.Int)
		v.SetString(s, 10)
		return v
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(c.auth.chainID),
			VerifyingContract: verifying,
		},
		Message: map[string]interface{}{
			"salt":          big.NewInt(order.Salt),
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         order.Taker,
			"tokenId":       toBig(order.TokenID),
			"makerAmount":   toBig(order.MakerAmount),
			"takerAmount":   toBig(order.TakerAmount),
			"expiration":    toBig(order.Expiration),
			"nonce":         toBig(order.Nonce),
			"feeRateBps":    toBig(order.FeeRateBps),
			"side":          big.NewInt(int64(order.sideInt)),
			"signatureType": big.NewInt(int64(order.SignatureType)),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("hash typed data: %w", err)
	}

	sig, err := c.auth.signHash(hash)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func (c *ClobClient) postOrder(ctx context.Context, order *signedOrder, orderType string) (*OrderResponse, error) {
	body, err := json.Marshal(orderPayload{Order: *order, Owner: c.creds.APIKey, OrderType: orderType})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setL2Headers(req, body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post order: %d %s", resp.StatusCode, string(respBody))
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return &orderResp, nil
}

// setL2Headers signs the request with the HMAC API credentials.
// Message format: timestamp + method + path + body.
func (c *ClobClient) setL2Headers(req *http.Request, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := timestamp + req.Method + req.URL.Path + string(body)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.auth.Address().Hex())
	req.Header.Set("POLY_API_KEY", c.creds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_SIGNATURE", hmacSign(message, c.creds.Secret))
}

func hmacSign(message, secret string) string {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		if key, err = base64.StdEncoding.DecodeString(secret); err != nil {
			key = []byte(secret)
		}
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// EstimateFill walks the book and returns the size, average price, and
// USDC actually fillable for an order of amountUSDC.
func EstimateFill(book *OrderBook, side models.Side, amountUSDC float64) (totalSize, avgPrice, filledUSDC float64) {
	var levels []BookLevel
	if side == models.SideBuy {
		levels = book.Asks
	} else {
		levels = book.Bids
	}

	remaining := amountUSDC
	totalCost := 0.0

	for _, level := range levels {
		price, _ := strconv.ParseFloat(level.Price, 64)
		size, _ := strconv.ParseFloat(level.Size, 64)
		if price <= 0 {
			continue
		}

		levelValue := size * price
		if levelValue <= remaining {
			totalSize += size
			totalCost += levelValue
			remaining -= levelValue
		} else {
			totalSize += remaining / price
			totalCost += remaining
			remaining = 0
		}
		if remaining <= 0 {
			break
		}
	}

	if totalSize > 0 {
		avgPrice = totalCost / totalSize
	}
	filledUSDC = amountUSDC - remaining
	return
}
