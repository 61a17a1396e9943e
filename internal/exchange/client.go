// Package exchange implements the contract venue's signed REST client.
//
// Endpoints consumed by the engine:
//   - GET  /api/mix/v1/market/ticker            single ticker
//   - GET  /api/mix/v1/market/depth             order book (top levels)
//   - GET  /api/mix/v1/market/candles           OHLCV bars, newest last
//   - GET  /api/mix/v1/market/current-fundRate  funding rate
//   - GET  /api/mix/v1/account/accounts         balances
//   - GET  /api/mix/v1/position/allPosition     open positions
//   - GET  /api/mix/v1/order/history            order history
//   - POST /api/mix/v1/order/placeOrder         market order by side code
//   - POST /api/mix/v1/trace/uploadAILog        fire-and-forget audit sink
//
// Every request is rate limited, retried on 5xx, signed with the venue's
// HMAC headers, and optionally guarded by a transport circuit breaker.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 10 // requests per second
	productType      = "umcbl"
	marginCoin       = "USDT"
)

// RESTConfig configures the REST client.
type RESTConfig struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	Passphrase string
	Timeout    time.Duration
	RatePerSec float64
	// Breaker guards transport calls; nil disables breaker protection.
	Breaker *gobreaker.CircuitBreaker
}

// RESTClient is the live venue client. Safe for concurrent use.
type RESTClient struct {
	http    *resty.Client
	signer  *Signer
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewRESTClient creates a signed REST client with rate limiting and retry.
func NewRESTClient(cfg RESTConfig, log zerolog.Logger) *RESTClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = defaultRateLimit
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &RESTClient{
		http:    httpClient,
		signer:  NewSigner(cfg.APIKey, cfg.SecretKey, cfg.Passphrase),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(cfg.RatePerSec)),
		breaker: cfg.Breaker,
		log:     log.With().Str("component", "exchange").Logger(),
	}
}

// GetTicker fetches a single ticker snapshot.
func (c *RESTClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var raw struct {
		Symbol    string          `json:"symbol"`
		Last      json.RawMessage `json:"last"`
		BestBid   json.RawMessage `json:"bestBid"`
		BestAsk   json.RawMessage `json:"bestAsk"`
		BaseVol   json.RawMessage `json:"baseVolume"`
		ChgUTC24h json.RawMessage `json:"chgUtc"`
	}
	path := "/api/mix/v1/market/ticker?symbol=" + contractSymbol(symbol)
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("get ticker: %w", err)
	}

	t := &Ticker{Symbol: symbol}
	var err error
	if t.Last, err = looseFloat(raw.Last); err != nil {
		return nil, fmt.Errorf("get ticker: last: %w", err)
	}
	if t.Last <= 0 {
		return nil, fmt.Errorf("get ticker: non-positive last price %v", t.Last)
	}
	t.Bid, _ = looseFloat(raw.BestBid)
	t.Ask, _ = looseFloat(raw.BestAsk)
	t.Volume24h, _ = looseFloat(raw.BaseVol)
	t.Change24h, _ = looseFloat(raw.ChgUTC24h)
	return t, nil
}

// GetDepth fetches order book levels, best price first.
func (c *RESTClient) GetDepth(ctx context.Context, symbol string) (*Depth, error) {
	var raw struct {
		Bids [][2]json.RawMessage `json:"bids"`
		Asks [][2]json.RawMessage `json:"asks"`
	}
	path := "/api/mix/v1/market/depth?symbol=" + contractSymbol(symbol) + "&limit=15"
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("get depth: %w", err)
	}

	depth := &Depth{}
	for _, b := range raw.Bids {
		if lvl, err := parseLevel(b); err == nil {
			depth.Bids = append(depth.Bids, lvl)
		}
	}
	for _, a := range raw.Asks {
		if lvl, err := parseLevel(a); err == nil {
			depth.Asks = append(depth.Asks, lvl)
		}
	}
	return depth, nil
}

// GetCandles fetches OHLCV bars, newest last.
func (c *RESTClient) GetCandles(ctx context.Context, symbol, granularity string, limit int) ([]Candle, error) {
	var candles []Candle
	path := fmt.Sprintf("/api/mix/v1/market/candles?symbol=%s&granularity=%s&limit=%d",
		contractSymbol(symbol), granularity, limit)
	if err := c.get(ctx, path, &candles); err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	return candles, nil
}

// GetFundingRate fetches the current funding rate.
func (c *RESTClient) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	var raw struct {
		FundingRate json.RawMessage `json:"fundingRate"`
	}
	path := "/api/mix/v1/market/current-fundRate?symbol=" + contractSymbol(symbol)
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("get funding rate: %w", err)
	}
	fr := &FundingRate{}
	fr.FundingRate, _ = looseFloat(raw.FundingRate)
	return fr, nil
}

// GetAssets fetches account balances.
func (c *RESTClient) GetAssets(ctx context.Context) ([]Asset, error) {
	var raw []struct {
		MarginCoin string          `json:"marginCoin"`
		Equity     json.RawMessage `json:"equity"`
		Available  json.RawMessage `json:"available"`
		Locked     json.RawMessage `json:"locked"`
	}
	path := "/api/mix/v1/account/accounts?productType=" + productType
	if err := c.signedGet(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("get assets: %w", err)
	}

	assets := make([]Asset, 0, len(raw))
	for _, a := range raw {
		asset := Asset{CoinName: a.MarginCoin}
		asset.Equity, _ = looseFloat(a.Equity)
		asset.Available, _ = looseFloat(a.Available)
		asset.Frozen, _ = looseFloat(a.Locked)
		assets = append(assets, asset)
	}
	return assets, nil
}

// GetPositions fetches all open positions. Entries with zero size are elided.
func (c *RESTClient) GetPositions(ctx context.Context) ([]Position, error) {
	var raw []struct {
		Symbol       string          `json:"symbol"`
		HoldSide     string          `json:"holdSide"`
		Total        json.RawMessage `json:"total"`
		AvgOpenPrice json.RawMessage `json:"averageOpenPrice"`
		UnrealizedPL json.RawMessage `json:"unrealizedPL"`
	}
	path := "/api/mix/v1/position/allPosition?productType=" + productType
	if err := c.signedGet(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	var positions []Position
	for _, p := range raw {
		pos := Position{Symbol: spotSymbol(p.Symbol), HoldSide: p.HoldSide}
		pos.Total, _ = looseFloat(p.Total)
		if pos.Total == 0 {
			continue
		}
		pos.AverageOpenPrice, _ = looseFloat(p.AvgOpenPrice)
		pos.UnrealizedPL, _ = looseFloat(p.UnrealizedPL)
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetOrderHistory fetches recent orders for a symbol.
func (c *RESTClient) GetOrderHistory(ctx context.Context, symbol string) ([]Order, error) {
	var raw struct {
		OrderList []struct {
			OrderID string          `json:"orderId"`
			Symbol  string          `json:"symbol"`
			Side    string          `json:"side"`
			Size    json.RawMessage `json:"size"`
			Price   json.RawMessage `json:"priceAvg"`
			State   string          `json:"state"`
			CTime   json.RawMessage `json:"cTime"`
		} `json:"orderList"`
	}
	end := time.Now().UnixMilli()
	start := end - 7*24*time.Hour.Milliseconds()
	path := fmt.Sprintf("/api/mix/v1/order/history?symbol=%s&startTime=%d&endTime=%d&pageSize=50",
		contractSymbol(symbol), start, end)
	if err := c.signedGet(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("get order history: %w", err)
	}

	orders := make([]Order, 0, len(raw.OrderList))
	for _, o := range raw.OrderList {
		ord := Order{OrderID: o.OrderID, Symbol: spotSymbol(o.Symbol), Side: o.Side, Status: o.State}
		ord.Size, _ = looseFloat(o.Size)
		ord.Price, _ = looseFloat(o.Price)
		ct, _ := looseFloat(o.CTime)
		ord.CreateAt = int64(ct)
		orders = append(orders, ord)
	}
	return orders, nil
}

// PlaceOrder submits a market order with a venue side code.
func (c *RESTClient) PlaceOrder(ctx context.Context, symbol string, side SideCode, size float64) (*OrderResult, error) {
	body := map[string]string{
		"symbol":     contractSymbol(symbol),
		"marginCoin": marginCoin,
		"side":       sideParam(side),
		"orderType":  "market",
		"size":       strconv.FormatFloat(size, 'f', -1, 64),
		"clientOid":  uuid.NewString(),
	}

	var result OrderResult
	if err := c.signedPost(ctx, "/api/mix/v1/order/placeOrder", body, &result); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	c.log.Info().
		Str("symbol", symbol).
		Str("side", side.String()).
		Float64("size", size).
		Str("order_id", result.OrderID).
		Msg("Order placed")
	return &result, nil
}

// UploadAILog ships an audit record to the venue's AI-trade log sink.
func (c *RESTClient) UploadAILog(ctx context.Context, entry AILogEntry) (*APIResponse, error) {
	bodyBytes, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("upload ai log: marshal: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/mix/v1/trace/uploadAILog", string(bodyBytes), true)
	if err != nil {
		return nil, fmt.Errorf("upload ai log: %w", err)
	}
	return resp, nil
}

// get performs an unsigned GET and decodes the envelope's data field.
func (c *RESTClient) get(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, "", false)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp.Data, out)
}

// signedGet performs a signed GET and decodes the envelope's data field.
func (c *RESTClient) signedGet(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, "", true)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp.Data, out)
}

// signedPost performs a signed POST and decodes the envelope's data field.
func (c *RESTClient) signedPost(ctx context.Context, path string, body any, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, string(bodyBytes), true)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}

// do runs one HTTP round trip through the rate limiter and, when configured,
// the transport breaker, then validates the response envelope.
func (c *RESTClient) do(ctx context.Context, method, path, body string, signed bool) (*APIResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	call := func() (any, error) {
		return c.roundTrip(ctx, method, path, body, signed)
	}

	var result any
	var err error
	if c.breaker != nil {
		result, err = c.breaker.Execute(call)
	} else {
		result, err = call()
	}
	if err != nil {
		return nil, err
	}
	return result.(*APIResponse), nil
}

func (c *RESTClient) roundTrip(ctx context.Context, method, path, body string, signed bool) (*APIResponse, error) {
	req := c.http.R().SetContext(ctx)
	req.SetHeader("Content-Type", "application/json")

	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		for k, v := range c.signer.Headers(ts, method, path, body) {
			req.SetHeader(k, v)
		}
	}
	if body != "" {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s %s: %s", resp.StatusCode(), method, path, resp.String())
	}

	var envelope APIResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !envelope.OK() {
		return nil, fmt.Errorf("venue error %s: %s", envelope.Code, envelope.Msg)
	}
	return &envelope, nil
}

func parseLevel(raw [2]json.RawMessage) (Level, error) {
	price, err := looseFloat(raw[0])
	if err != nil {
		return Level{}, err
	}
	qty, err := looseFloat(raw[1])
	if err != nil {
		return Level{}, err
	}
	return Level{price, qty}, nil
}

func sideParam(side SideCode) string {
	switch side {
	case SideOpenLong:
		return "open_long"
	case SideCloseShort:
		return "close_short"
	case SideOpenShort:
		return "open_short"
	case SideCloseLong:
		return "close_long"
	}
	return ""
}

// contractSymbol maps a spot symbol like BTCUSDT to the venue's perpetual
// instrument id (BTCUSDT_UMCBL).
func contractSymbol(symbol string) string {
	return symbol + "_UMCBL"
}

// spotSymbol strips the contract suffix back off.
func spotSymbol(symbol string) string {
	if n := len(symbol) - len("_UMCBL"); n > 0 && symbol[n:] == "_UMCBL" {
		return symbol[:n]
	}
	return symbol
}
