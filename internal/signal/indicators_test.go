package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpdirector/internal/exchange"
)

func TestRSI(t *testing.T) {
	t.Run("insufficient history", func(t *testing.T) {
		_, ok := RSI(linearPrices(100, 110, 14), 14)
		assert.False(t, ok)
	})

	t.Run("monotonic rise saturates high", func(t *testing.T) {
		rsi, ok := RSI(linearPrices(100, 200, 30), 14)
		require.True(t, ok)
		assert.Greater(t, rsi, 70.0)
	})

	t.Run("monotonic fall saturates low", func(t *testing.T) {
		rsi, ok := RSI(linearPrices(200, 100, 30), 14)
		require.True(t, ok)
		assert.Less(t, rsi, 30.0)
	})
}

func TestEMA(t *testing.T) {
	t.Run("flat series converges to price", func(t *testing.T) {
		prices := make([]float64, 50)
		for i := range prices {
			prices[i] = 87000
		}
		ema, ok := EMA(prices, 20)
		require.True(t, ok)
		assert.InDelta(t, 87000, ema, 1e-6)
	})

	t.Run("lags a rising series", func(t *testing.T) {
		prices := linearPrices(100, 200, 50)
		ema, ok := EMA(prices, 20)
		require.True(t, ok)
		assert.Less(t, ema, prices[len(prices)-1])
		assert.Greater(t, ema, prices[0])
	})
}

func TestMACD(t *testing.T) {
	_, _, ok := MACD(linearPrices(100, 110, 20))
	assert.False(t, ok, "needs slow+signal periods of history")

	macdLine, signalLine, ok := MACD(linearPrices(100, 200, 60))
	require.True(t, ok)
	// A steady uptrend keeps the MACD line positive.
	assert.Greater(t, macdLine, 0.0)
	assert.Greater(t, signalLine, 0.0)
}

func TestBollinger(t *testing.T) {
	lower, middle, upper, ok := Bollinger(linearPrices(100, 120, 40))
	require.True(t, ok)
	assert.Less(t, lower, middle)
	assert.Less(t, middle, upper)
}

func TestATR(t *testing.T) {
	var candles []exchange.Candle
	for i := 0; i < 30; i++ {
		base := 87000 + float64(i)*10
		candles = append(candles, exchange.Candle{
			Ts: int64(i), Open: base, High: base + 50, Low: base - 50, Close: base + 10, Volume: 1,
		})
	}

	atr, ok := ATR(candles, 14)
	require.True(t, ok)
	assert.Greater(t, atr, 0.0)

	_, ok = ATR(candles[:10], 14)
	assert.False(t, ok)
}

func TestSpread(t *testing.T) {
	d := &exchange.Depth{
		Bids: []exchange.Level{{87000, 1}},
		Asks: []exchange.Level{{87010, 1}},
	}
	spread, ok := Spread(d)
	require.True(t, ok)
	assert.InDelta(t, 10.0/87005.0, spread, 1e-9)

	_, ok = Spread(&exchange.Depth{})
	assert.False(t, ok)
}
