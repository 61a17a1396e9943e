package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SideCode is the venue's combined open/close + long/short order intent.
type SideCode int

const (
	SideOpenLong   SideCode = 1
	SideCloseShort SideCode = 2
	SideOpenShort  SideCode = 3
	SideCloseLong  SideCode = 4
)

// String returns the venue name for a side code.
func (s SideCode) String() string {
	switch s {
	case SideOpenLong:
		return "open_long"
	case SideCloseShort:
		return "close_short"
	case SideOpenShort:
		return "open_short"
	case SideCloseLong:
		return "close_long"
	default:
		return fmt.Sprintf("side_code(%d)", int(s))
	}
}

// IsClose reports whether the code closes an existing position.
func (s SideCode) IsClose() bool {
	return s == SideCloseShort || s == SideCloseLong
}

// Ticker is a single REST ticker snapshot.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Volume24h float64 `json:"vol24h"`
	Change24h float64 `json:"change24h"`
}

// Level is one price level: [price, quantity].
type Level [2]float64

// Price returns the level price.
func (l Level) Price() float64 { return l[0] }

// Qty returns the level quantity.
func (l Level) Qty() float64 { return l[1] }

// Depth holds order book levels, best price first.
type Depth struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Candle is one OHLCV bar. The venue encodes candles as
// [ts, open, high, low, close, volume] arrays; see UnmarshalJSON.
type Candle struct {
	Ts     int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// UnmarshalJSON decodes the venue's array form, where every element may be a
// JSON number or a numeric string.
func (c *Candle) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 6 {
		return fmt.Errorf("candle: expected 6 fields, got %d", len(raw))
	}
	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := looseFloat(raw[i])
		if err != nil {
			return fmt.Errorf("candle field %d: %w", i, err)
		}
		vals[i] = v
	}
	c.Ts = int64(vals[0])
	c.Open, c.High, c.Low, c.Close, c.Volume = vals[1], vals[2], vals[3], vals[4], vals[5]
	return nil
}

// FundingRate is the current funding rate for a contract.
type FundingRate struct {
	FundingRate     float64 `json:"fundingRate"`
	NextFundingTime int64   `json:"nextFundingTime,omitempty"`
}

// Asset is one account balance entry.
type Asset struct {
	CoinName  string  `json:"coinName"`
	Equity    float64 `json:"equity"`
	Available float64 `json:"available"`
	Frozen    float64 `json:"frozen,omitempty"`
}

// Position is one open contract position as reported by the venue.
type Position struct {
	Symbol           string  `json:"symbol"`
	HoldSide         string  `json:"holdSide"` // "long" or "short"
	Total            float64 `json:"total"`
	AverageOpenPrice float64 `json:"averageOpenPrice"`
	UnrealizedPL     float64 `json:"unrealizedPL"`
}

// Order is one historical order entry.
type Order struct {
	OrderID  string  `json:"orderId"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Size     float64 `json:"size"`
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
	CreateAt int64   `json:"cTime"`
}

// OrderResult is the venue acknowledgment for a placed order.
type OrderResult struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOid"`
}

// AILogEntry is one audit record for the venue's AI-trade log sink.
type AILogEntry struct {
	Stage       string `json:"stage"`
	Model       string `json:"model"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation"`
}

// APIResponse is the venue's uniform response envelope.
type APIResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// OK reports whether the envelope signals success.
func (r *APIResponse) OK() bool { return r.Code == "00000" || r.Code == "0" }

// looseFloat parses a raw JSON value that may be a number or a numeric string.
func looseFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
