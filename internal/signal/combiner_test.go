package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpdirector/internal/exchange"
)

func linearPrices(from, to float64, n int) []float64 {
	prices := make([]float64, n)
	step := (to - from) / float64(n-1)
	for i := range prices {
		prices[i] = from + step*float64(i)
	}
	return prices
}

func depthWithVolumes(bidTotal, askTotal float64) *exchange.Depth {
	d := &exchange.Depth{}
	for i := 0; i < 10; i++ {
		d.Bids = append(d.Bids, exchange.Level{87000 - float64(i), bidTotal / 10})
		d.Asks = append(d.Asks, exchange.Level{87001 + float64(i), askTotal / 10})
	}
	return d
}

func TestCombine_EmptyHistoryContributesNothing(t *testing.T) {
	s := Combine(nil, nil, DefaultWeights())
	assert.Zero(t, s)
}

func TestCombine_BullishScenario(t *testing.T) {
	// Rising window plus bid-heavy book: every channel pushes positive.
	prices := linearPrices(87000, 88000, 50)
	depth := depthWithVolumes(100, 50) // OBI = +1/3

	s := Combine(prices, depth, DefaultWeights())

	assert.Greater(t, s, 0.0)
	assert.False(t, math.IsNaN(s))
	assert.False(t, math.IsInf(s, 0))
}

func TestCombine_BoundedOutput(t *testing.T) {
	cases := []struct {
		name   string
		prices []float64
		depth  *exchange.Depth
	}{
		{"rising", linearPrices(100, 200, 100), depthWithVolumes(1000, 1)},
		{"falling", linearPrices(200, 100, 100), depthWithVolumes(1, 1000)},
		{"flat", linearPrices(100, 100.0001, 100), depthWithVolumes(5, 5)},
		{"short history", []float64{100, 101}, nil},
	}

	w := DefaultWeights()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Combine(tc.prices, tc.depth, w)
			require.False(t, math.IsNaN(s))
			assert.GreaterOrEqual(t, s, -2.0)
			assert.LessOrEqual(t, s, 2.0)
		})
	}
}

func TestCombine_OBIOnly(t *testing.T) {
	// Two prices: RSI, EMA and momentum all lack history, only OBI contributes.
	depth := depthWithVolumes(100, 50)
	w := Weights{OBI: 1}

	s := Combine([]float64{87000, 87001}, depth, w)
	assert.InDelta(t, 1.0/3.0, s, 1e-9)
}

func TestCombine_RSIChannelSaturatesDown(t *testing.T) {
	// A strongly rising series drives RSI above 70, which contributes
	// -0.5 x w_rsi against the trend.
	prices := linearPrices(100, 300, 40)
	w := Weights{RSI: 1}

	s := Combine(prices, nil, w)
	assert.InDelta(t, -0.5, s, 1e-9)
}

func TestOBI(t *testing.T) {
	t.Run("imbalance", func(t *testing.T) {
		obi, ok := OBI(depthWithVolumes(100, 50))
		require.True(t, ok)
		assert.InDelta(t, (100.0-50.0)/150.0, obi, 1e-9)
	})

	t.Run("only top ten levels count", func(t *testing.T) {
		d := depthWithVolumes(100, 100)
		// Extra deep bid liquidity beyond level 10 must be ignored.
		d.Bids = append(d.Bids, exchange.Level{86000, 10000})
		obi, ok := OBI(d)
		require.True(t, ok)
		assert.InDelta(t, 0, obi, 1e-9)
	})

	t.Run("empty book", func(t *testing.T) {
		_, ok := OBI(&exchange.Depth{})
		assert.False(t, ok)
	})
}

func TestMomentum(t *testing.T) {
	prices := linearPrices(100, 110, 11) // +1 per tick

	mom, ok := Momentum(prices, 10)
	require.True(t, ok)
	assert.InDelta(t, 0.10, mom, 1e-9)

	_, ok = Momentum(prices[:10], 10)
	assert.False(t, ok, "needs lookback+1 prices")
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.5, clamp(3, -0.5, 0.5))
	assert.Equal(t, -0.5, clamp(-3, -0.5, 0.5))
	assert.Equal(t, 0.1, clamp(0.1, -0.5, 0.5))
}
