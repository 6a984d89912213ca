// Package exchange implements the engine's collaborator ports against
// Binance spot: REST market data with bounded retries, a websocket
// last-price cache for live mode, exchange trading rules, and the
// paper/live/backtest order executors.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"fvg-systemv1/internal/model"
)

const (
	defaultBaseURL = "https://api.binance.com"
	defaultTimeout = 7 * time.Second

	retryAttempts = 3
	retryBase     = 1 * time.Second
)

// ClientConfig configures the Binance REST client.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client talks to the Binance spot REST API. It implements the
// MarketData and SymbolMeta ports; order placement is used by the
// live executor only.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client

	mu    sync.RWMutex
	rules map[string]symbolRules // exchangeInfo cache

	ticker *tickerCache // nil unless the live stream is started
}

type symbolRules struct {
	minQty      float64
	stepSize    float64
	tickSize    float64
	minNotional float64
}

// NewClient creates a Binance client. APIKey/APISecret may be empty for
// public (market data only) usage.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		rules:      make(map[string]symbolRules),
	}
}

// GetCandles fetches up to limit closed klines, strictly time-ordered.
// The exchange returns the still-forming bucket as the last element; it
// is dropped so callers only ever see closed candles.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	// +1 so the count survives dropping the forming candle.
	q.Set("limit", strconv.Itoa(limit+1))

	body, err := c.get(ctx, "/api/v3/klines", q)
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("klines %s: decode: %w", symbol, err)
	}

	now := time.Now().UTC()
	candles := make([]model.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 7 {
			continue
		}
		var openMs, closeMs int64
		var o, h, l, cl, v string
		if err := json.Unmarshal(k[0], &openMs); err != nil {
			return nil, fmt.Errorf("klines %s: open time: %w", symbol, err)
		}
		if err := json.Unmarshal(k[6], &closeMs); err != nil {
			return nil, fmt.Errorf("klines %s: close time: %w", symbol, err)
		}
		if time.UnixMilli(closeMs).After(now) {
			continue // forming bucket
		}
		for i, dst := range []*string{&o, &h, &l, &cl, &v} {
			if err := json.Unmarshal(k[i+1], dst); err != nil {
				return nil, fmt.Errorf("klines %s: field %d: %w", symbol, i+1, err)
			}
		}
		candle := model.Candle{OpenTime: time.UnixMilli(openMs).UTC()}
		for _, f := range []struct {
			s   string
			dst *float64
		}{{o, &candle.Open}, {h, &candle.High}, {l, &candle.Low}, {cl, &candle.Close}, {v, &candle.Volume}} {
			val, err := strconv.ParseFloat(f.s, 64)
			if err != nil {
				return nil, fmt.Errorf("klines %s: parse %q: %w", symbol, f.s, err)
			}
			*f.dst = val
		}
		candles = append(candles, candle)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// GetTicker returns the last traded price. When the live ticker stream is
// running and fresh it answers from the cache, otherwise falls back to REST.
func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	if c.ticker != nil {
		if px, ok := c.ticker.Last(symbol); ok {
			return px, nil
		}
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := c.get(ctx, "/api/v3/ticker/price", q)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", symbol, err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("ticker %s: decode: %w", symbol, err)
	}
	px, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: parse %q: %w", symbol, resp.Price, err)
	}
	return px, nil
}

// StartTickerStream connects the miniTicker websocket cache for live mode.
func (c *Client) StartTickerStream(ctx context.Context, symbols []string) {
	c.ticker = newTickerCache(symbols)
	go c.ticker.run(ctx)
}

// ── SymbolMeta port ──

// MinOrderSize returns the LOT_SIZE minQty, or 0 when unknown.
func (c *Client) MinOrderSize(symbol string) float64 { return c.ruleset(symbol).minQty }

// MinNotional returns the NOTIONAL filter floor, or 0 when unknown.
func (c *Client) MinNotional(symbol string) float64 { return c.ruleset(symbol).minNotional }

// SizeStep returns the LOT_SIZE stepSize, or 0 when unknown.
func (c *Client) SizeStep(symbol string) float64 { return c.ruleset(symbol).stepSize }

// PriceTick returns the PRICE_FILTER tickSize, or 0 when unknown.
func (c *Client) PriceTick(symbol string) float64 { return c.ruleset(symbol).tickSize }

// ruleset returns cached trading rules, fetching exchangeInfo lazily.
// On failure it caches zeros: callers treat them as "unknown minimum"
// and proceed with conservative defaults.
func (c *Client) ruleset(symbol string) symbolRules {
	c.mu.RLock()
	r, ok := c.rules[symbol]
	c.mu.RUnlock()
	if ok {
		return r
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	r, err := c.fetchRules(ctx, symbol)
	if err != nil {
		log.Printf("[exchange] exchangeInfo %s unavailable, using defaults: %v", symbol, err)
	}
	c.mu.Lock()
	c.rules[symbol] = r
	c.mu.Unlock()
	return r
}

func (c *Client) fetchRules(ctx context.Context, symbol string) (symbolRules, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := c.get(ctx, "/api/v3/exchangeInfo", q)
	if err != nil {
		return symbolRules{}, err
	}

	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				MinQty      string `json:"minQty"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return symbolRules{}, fmt.Errorf("decode: %w", err)
	}

	var r symbolRules
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				r.minQty, _ = strconv.ParseFloat(f.MinQty, 64)
				r.stepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			case "PRICE_FILTER":
				r.tickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			case "NOTIONAL", "MIN_NOTIONAL":
				r.minNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
			}
		}
	}
	return r, nil
}

// PlaceMarketOrder submits a signed market order and returns the fill.
// Used by the live executor.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) (model.Fill, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return model.Fill{}, fmt.Errorf("order %s: missing API credentials", symbol)
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", string(side))
	q.Set("type", "MARKET")
	q.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	body, err := c.signedPost(ctx, "/api/v3/order", q)
	if err != nil {
		return model.Fill{}, fmt.Errorf("order %s: %w", symbol, err)
	}

	var resp struct {
		OrderID      int64  `json:"orderId"`
		ExecutedQty  string `json:"executedQty"`
		CumQuoteQty  string `json:"cummulativeQuoteQty"`
		TransactTime int64  `json:"transactTime"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Fill{}, fmt.Errorf("order %s: decode: %w", symbol, err)
	}

	filled, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(resp.CumQuoteQty, 64)
	if filled <= 0 {
		return model.Fill{}, fmt.Errorf("order %s: not filled (status %s)", symbol, resp.Status)
	}

	return model.Fill{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		Price:     quote / filled,
		Size:      filled,
		Timestamp: time.UnixMilli(resp.TransactTime).UTC(),
	}, nil
}

// ── HTTP plumbing ──

// get issues a GET with bounded retries: network errors, 429 and 5xx are
// retried with exponential backoff; other statuses are terminal.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, q.Encode(), false)
}

// signedPost issues an HMAC-SHA256 signed POST. The signature is appended
// after the encoded payload — Binance verifies over the exact sent string.
// Order placement is NOT retried: a timeout after submission could
// otherwise double-fill.
func (c *Client) signedPost(ctx context.Context, path string, q url.Values) ([]byte, error) {
	payload := q.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	payload += "&signature=" + hex.EncodeToString(mac.Sum(nil))
	return c.do(ctx, http.MethodPost, path, payload, true)
}

func (c *Client) do(ctx context.Context, method, path, payload string, once bool) ([]byte, error) {
	attempts := retryAttempts
	if once {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryBase << (attempt - 1)
			log.Printf("[exchange] %s %s retry %d in %v: %v", method, path, attempt, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, retryable, err := c.doOnce(ctx, method, path, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path, payload string) (body []byte, retryable bool, err error) {
	reqURL := c.baseURL + path
	var reqBody io.Reader
	if method == http.MethodGet {
		reqURL += "?" + payload
	} else {
		reqBody = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, false, err
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, false, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
