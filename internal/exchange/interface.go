package exchange

import "context"

// Client defines the venue operations the engine consumes.
// RESTClient (live trading) and MockClient (tests) implement it.
// Implementations must be safe for concurrent use: the hot loop, the agents
// and the coordinator all share one client.
type Client interface {
	// GetTicker fetches a single ticker snapshot.
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetDepth fetches order book levels, best price first.
	GetDepth(ctx context.Context, symbol string) (*Depth, error)

	// GetCandles fetches OHLCV bars, newest last.
	GetCandles(ctx context.Context, symbol, granularity string, limit int) ([]Candle, error)

	// GetFundingRate fetches the current funding rate.
	GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error)

	// GetAssets fetches account balances.
	GetAssets(ctx context.Context) ([]Asset, error)

	// GetPositions fetches all open positions.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetOrderHistory fetches recent orders for a symbol.
	GetOrderHistory(ctx context.Context, symbol string) ([]Order, error)

	// PlaceOrder submits a market order with a venue side code.
	PlaceOrder(ctx context.Context, symbol string, side SideCode, size float64) (*OrderResult, error)

	// UploadAILog ships an audit record to the venue's AI-trade log sink.
	// Failures must never block trading; callers treat errors as log-only.
	UploadAILog(ctx context.Context, entry AILogEntry) (*APIResponse, error)
}
