package signal

import (
	"perpdirector/internal/exchange"
)

const (
	rsiPeriod        = 14
	emaPeriod        = 20
	momentumLookback = 10

	emaMagnification      = 10
	momentumMagnification = 20
	channelClamp          = 0.5
)

// Weights are the per-channel contributions to the combined signal.
type Weights struct {
	OBI      float64 `json:"obi"`
	RSI      float64 `json:"rsi"`
	EMA      float64 `json:"ema"`
	Momentum float64 `json:"momentum"`
}

// DefaultWeights are the shipped channel weights.
func DefaultWeights() Weights {
	return Weights{OBI: 0.3, RSI: 0.25, EMA: 0.25, Momentum: 0.2}
}

// Combine folds the local indicator channels into one scalar in [-1, 1]
// (bounded by the per-channel clamps; the sum is not re-normalized).
// Pure: no I/O, deterministic; any channel lacking history contributes zero.
func Combine(prices []float64, depth *exchange.Depth, w Weights) float64 {
	var s float64

	if obi, ok := OBI(depth); ok {
		s += obi * w.OBI
	}

	if rsi, ok := RSI(prices, rsiPeriod); ok {
		switch {
		case rsi < 30:
			s += channelClamp * w.RSI
		case rsi > 70:
			s -= channelClamp * w.RSI
		}
	}

	if ema, ok := EMA(prices, emaPeriod); ok && ema != 0 {
		price := prices[len(prices)-1]
		dev := clamp((price-ema)/ema*emaMagnification, -channelClamp, channelClamp)
		s += dev * w.EMA
	}

	if mom, ok := Momentum(prices, momentumLookback); ok {
		s += clamp(mom*momentumMagnification, -channelClamp, channelClamp) * w.Momentum
	}

	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
