package exchange

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory Client for tests and paper runs. All fields are
// settable; calls record into PlacedOrders.
type MockClient struct {
	mu sync.Mutex

	Tickers   map[string]*Ticker
	Depths    map[string]*Depth
	Candles   map[string][]Candle
	Funding   map[string]*FundingRate
	Assets    []Asset
	Positions []Position
	History   map[string][]Order

	// PlacedOrders records every PlaceOrder call in order.
	PlacedOrders []PlacedOrder
	// AILogs records every UploadAILog call.
	AILogs []AILogEntry

	// Err, when set, is returned by every call.
	Err error
	// PlaceOrderErr, when set, fails only PlaceOrder.
	PlaceOrderErr error
}

// PlacedOrder is one recorded PlaceOrder invocation.
type PlacedOrder struct {
	Symbol string
	Side   SideCode
	Size   float64
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		Tickers: make(map[string]*Ticker),
		Depths:  make(map[string]*Depth),
		Candles: make(map[string][]Candle),
		Funding: make(map[string]*FundingRate),
		History: make(map[string][]Order),
	}
}

// SetTicker installs a ticker snapshot for a symbol.
func (m *MockClient) SetTicker(symbol string, t *Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tickers[symbol] = t
}

// SetDepth installs an order book for a symbol.
func (m *MockClient) SetDepth(symbol string, d *Depth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Depths[symbol] = d
}

// SetPositions replaces the open position list.
func (m *MockClient) SetPositions(positions []Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions = positions
}

func (m *MockClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	t, ok := m.Tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no ticker for %s", symbol)
	}
	return t, nil
}

func (m *MockClient) GetDepth(ctx context.Context, symbol string) (*Depth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	d, ok := m.Depths[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no depth for %s", symbol)
	}
	return d, nil
}

func (m *MockClient) GetCandles(ctx context.Context, symbol, granularity string, limit int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	candles := m.Candles[symbol]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (m *MockClient) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if fr, ok := m.Funding[symbol]; ok {
		return fr, nil
	}
	return &FundingRate{}, nil
}

func (m *MockClient) GetAssets(ctx context.Context) ([]Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]Asset(nil), m.Assets...), nil
}

func (m *MockClient) GetPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]Position(nil), m.Positions...), nil
}

func (m *MockClient) GetOrderHistory(ctx context.Context, symbol string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]Order(nil), m.History[symbol]...), nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, symbol string, side SideCode, size float64) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.PlaceOrderErr != nil {
		return nil, m.PlaceOrderErr
	}
	m.PlacedOrders = append(m.PlacedOrders, PlacedOrder{Symbol: symbol, Side: side, Size: size})
	return &OrderResult{OrderID: fmt.Sprintf("mock-%d", len(m.PlacedOrders))}, nil
}

func (m *MockClient) UploadAILog(ctx context.Context, entry AILogEntry) (*APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.AILogs = append(m.AILogs, entry)
	return &APIResponse{Code: "00000", Msg: "success"}, nil
}

// Logs returns a copy of the recorded AI log entries.
func (m *MockClient) Logs() []AILogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AILogEntry(nil), m.AILogs...)
}

// Orders returns a copy of the recorded orders.
func (m *MockClient) Orders() []PlacedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PlacedOrder(nil), m.PlacedOrders...)
}
