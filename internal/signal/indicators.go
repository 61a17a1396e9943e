// Package signal computes local technical signals: indicator pre-digests for
// the agents and the pure per-tick signal combiner for the hot loop.
package signal

import (
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"perpdirector/internal/exchange"
)

// obiLevels is how many book levels per side feed the imbalance.
const obiLevels = 10

func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func lastValue(ch <-chan float64) (float64, bool) {
	var last float64
	ok := false
	for v := range ch {
		last = v
		ok = true
	}
	return last, ok
}

// RSI returns the latest RSI value. ok is false when history is too short.
func RSI(prices []float64, period int) (float64, bool) {
	if len(prices) <= period {
		return 0, false
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return lastValue(rsi.Compute(sliceToChan(prices)))
}

// EMA returns the latest exponential moving average.
func EMA(prices []float64, period int) (float64, bool) {
	if len(prices) < period {
		return 0, false
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return lastValue(ema.Compute(sliceToChan(prices)))
}

// MACD returns the latest MACD line and signal line (12/26/9).
func MACD(prices []float64) (macdLine, signalLine float64, ok bool) {
	const fast, slow, sig = 12, 26, 9
	if len(prices) < slow+sig {
		return 0, 0, false
	}
	ind := trend.NewMacdWithPeriod[float64](fast, slow, sig)
	macdChan, signalChan := ind.Compute(sliceToChan(prices))
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdLine, signalLine = m, s
		ok = true
	}
	return macdLine, signalLine, ok
}

// Bollinger returns the latest Bollinger Bands (period 20, 2 std dev).
func Bollinger(prices []float64) (lower, middle, upper float64, ok bool) {
	const period = 20
	if len(prices) < period {
		return 0, 0, 0, false
	}
	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	// The library returns channels in (upper, middle, lower) order.
	upperChan, middleChan, lowerChan := bb.Compute(sliceToChan(prices))
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower, middle, upper = l, m, u
		ok = true
	}
	return lower, middle, upper, ok
}

// ATR returns the latest average true range over candles.
func ATR(candles []exchange.Candle, period int) (float64, bool) {
	if len(candles) <= period {
		return 0, false
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closings := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closings[i] = c.High, c.Low, c.Close
	}
	atr := volatility.NewAtrWithPeriod[float64](period)
	return lastValue(atr.Compute(sliceToChan(highs), sliceToChan(lows), sliceToChan(closings)))
}

// Momentum returns the fractional price change over lookback ticks:
// (price - price[-lookback]) / price[-lookback].
func Momentum(prices []float64, lookback int) (float64, bool) {
	if len(prices) <= lookback {
		return 0, false
	}
	prev := prices[len(prices)-1-lookback]
	if prev == 0 {
		return 0, false
	}
	return (prices[len(prices)-1] - prev) / prev, true
}

// OBI returns the order book imbalance over the top levels of each side,
// a value in [-1, 1]. ok is false on an empty book.
func OBI(depth *exchange.Depth) (float64, bool) {
	if depth == nil {
		return 0, false
	}
	var bidVol, askVol float64
	for i, lvl := range depth.Bids {
		if i >= obiLevels {
			break
		}
		bidVol += lvl.Qty()
	}
	for i, lvl := range depth.Asks {
		if i >= obiLevels {
			break
		}
		askVol += lvl.Qty()
	}
	total := bidVol + askVol
	if total == 0 {
		return 0, false
	}
	return (bidVol - askVol) / total, true
}

// Spread returns the relative bid-ask spread from the top of book.
func Spread(depth *exchange.Depth) (float64, bool) {
	if depth == nil || len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return 0, false
	}
	bid, ask := depth.Bids[0].Price(), depth.Asks[0].Price()
	if bid <= 0 || ask <= 0 {
		return 0, false
	}
	mid := (bid + ask) / 2
	return (ask - bid) / mid, true
}
