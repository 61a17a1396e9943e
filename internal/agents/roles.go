package agents

import (
	"context"
	"fmt"

	"perpdirector/internal/exchange"
	"perpdirector/internal/signal"
)

const (
	candleGranularity = "1m"
	candleLimit       = 100
)

// gatherInputs collects the role-specific market inputs and pre-digests them
// into scalar indicator values, so the model prompt carries numbers rather
// than raw arrays.
func (a *Agent) gatherInputs(ctx context.Context) (map[string]interface{}, error) {
	switch a.role {
	case "technical":
		return a.technicalInputs(ctx)
	case "structure":
		return a.structureInputs(ctx)
	case "market":
		return a.marketInputs(ctx)
	case "sentiment":
		return a.sentimentInputs(ctx)
	case "risk":
		return a.riskInputs(ctx)
	case "momentum":
		return a.momentumInputs(ctx)
	case "bull", "bear":
		return a.debateInputs(ctx)
	case "fundamentals":
		return a.fundamentalsInputs(ctx)
	default:
		return nil, fmt.Errorf("unknown role %q", a.role)
	}
}

func (a *Agent) technicalInputs(ctx context.Context) (map[string]interface{}, error) {
	candles, err := a.exchange.GetCandles(ctx, a.symbol, candleGranularity, candleLimit)
	if err != nil {
		return nil, err
	}
	closes := closingPrices(candles)

	inputs := map[string]interface{}{
		"symbol": a.symbol,
	}
	if len(closes) > 0 {
		inputs["price"] = closes[len(closes)-1]
	}
	if rsi, ok := signal.RSI(closes, 14); ok {
		inputs["rsi_14"] = rsi
	}
	if ema, ok := signal.EMA(closes, 9); ok {
		inputs["ema_9"] = ema
	}
	if ema, ok := signal.EMA(closes, 21); ok {
		inputs["ema_21"] = ema
	}
	if macd, sig, ok := signal.MACD(closes); ok {
		inputs["macd"] = macd
		inputs["macd_signal"] = sig
	}
	if lower, middle, upper, ok := signal.Bollinger(closes); ok {
		inputs["bollinger_lower"] = lower
		inputs["bollinger_middle"] = middle
		inputs["bollinger_upper"] = upper
	}
	if atr, ok := signal.ATR(candles, 14); ok {
		inputs["atr_14"] = atr
	}
	return inputs, nil
}

func (a *Agent) structureInputs(ctx context.Context) (map[string]interface{}, error) {
	depth, err := a.exchange.GetDepth(ctx, a.symbol)
	if err != nil {
		return nil, err
	}
	funding, err := a.exchange.GetFundingRate(ctx, a.symbol)
	if err != nil {
		return nil, err
	}

	inputs := map[string]interface{}{
		"symbol":       a.symbol,
		"funding_rate": funding.FundingRate,
	}
	if obi, ok := signal.OBI(depth); ok {
		inputs["order_book_imbalance"] = obi
	}
	if spread, ok := signal.Spread(depth); ok {
		inputs["spread"] = spread
	}

	// Account context is optional; agents must still report without it.
	if positions, err := a.exchange.GetPositions(ctx); err == nil {
		inputs["open_positions"] = len(positions)
		inputs["net_exposure"] = netExposure(positions)
	}
	if assets, err := a.exchange.GetAssets(ctx); err == nil {
		inputs["equity"] = totalEquity(assets)
	}
	return inputs, nil
}

func (a *Agent) marketInputs(ctx context.Context) (map[string]interface{}, error) {
	depth, err := a.exchange.GetDepth(ctx, a.symbol)
	if err != nil {
		return nil, err
	}
	ticker, err := a.exchange.GetTicker(ctx, a.symbol)
	if err != nil {
		return nil, err
	}

	inputs := map[string]interface{}{
		"symbol":     a.symbol,
		"last":       ticker.Last,
		"bid":        ticker.Bid,
		"ask":        ticker.Ask,
		"volume_24h": ticker.Volume24h,
	}
	if obi, ok := signal.OBI(depth); ok {
		inputs["order_book_imbalance"] = obi
	}
	if spread, ok := signal.Spread(depth); ok {
		inputs["spread"] = spread
	}
	return inputs, nil
}

func (a *Agent) sentimentInputs(ctx context.Context) (map[string]interface{}, error) {
	funding, err := a.exchange.GetFundingRate(ctx, a.symbol)
	if err != nil {
		return nil, err
	}
	ticker, err := a.exchange.GetTicker(ctx, a.symbol)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"symbol":       a.symbol,
		"funding_rate": funding.FundingRate,
		"change_24h":   ticker.Change24h,
		"last":         ticker.Last,
	}, nil
}

func (a *Agent) riskInputs(ctx context.Context) (map[string]interface{}, error) {
	assets, err := a.exchange.GetAssets(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := a.exchange.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	var unrealized float64
	for _, p := range positions {
		unrealized += p.UnrealizedPL
	}
	return map[string]interface{}{
		"symbol":         a.symbol,
		"equity":         totalEquity(assets),
		"open_positions": len(positions),
		"net_exposure":   netExposure(positions),
		"unrealized_pnl": unrealized,
	}, nil
}

func (a *Agent) momentumInputs(ctx context.Context) (map[string]interface{}, error) {
	candles, err := a.exchange.GetCandles(ctx, a.symbol, candleGranularity, candleLimit)
	if err != nil {
		return nil, err
	}
	closes := closingPrices(candles)

	inputs := map[string]interface{}{
		"symbol": a.symbol,
	}
	var price, ema20, ema50 float64
	if len(closes) > 0 {
		price = closes[len(closes)-1]
		inputs["price"] = price
	}
	if rsi, ok := signal.RSI(closes, 14); ok {
		inputs["rsi_14"] = rsi
	}
	if v, ok := signal.EMA(closes, 20); ok {
		ema20 = v
		inputs["ema_20"] = v
	}
	if v, ok := signal.EMA(closes, 50); ok {
		ema50 = v
		inputs["ema_50"] = v
	}
	if ema20 > 0 && ema50 > 0 {
		inputs["trend"] = classifyTrend(price, ema20, ema50)
	}
	return inputs, nil
}

func (a *Agent) debateInputs(ctx context.Context) (map[string]interface{}, error) {
	ticker, err := a.exchange.GetTicker(ctx, a.symbol)
	if err != nil {
		return nil, err
	}
	funding, err := a.exchange.GetFundingRate(ctx, a.symbol)
	if err != nil {
		return nil, err
	}

	inputs := map[string]interface{}{
		"symbol":       a.symbol,
		"last":         ticker.Last,
		"change_24h":   ticker.Change24h,
		"funding_rate": funding.FundingRate,
	}
	if candles, err := a.exchange.GetCandles(ctx, a.symbol, candleGranularity, candleLimit); err == nil {
		closes := closingPrices(candles)
		if rsi, ok := signal.RSI(closes, 14); ok {
			inputs["rsi_14"] = rsi
		}
		if ema, ok := signal.EMA(closes, 20); ok {
			inputs["ema_20"] = ema
		}
	}
	if other := a.counterpart.Load(); other != nil {
		if report := other.LatestReport(); report != nil {
			inputs["opposing_thesis"] = fmt.Sprintf("%s (%s, %.0f%%): %s",
				other.name, report.Signal, report.Confidence*100, report.Reasoning)
		}
	}
	return inputs, nil
}

func (a *Agent) fundamentalsInputs(ctx context.Context) (map[string]interface{}, error) {
	ticker, err := a.exchange.GetTicker(ctx, a.symbol)
	if err != nil {
		return nil, err
	}
	funding, err := a.exchange.GetFundingRate(ctx, a.symbol)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"symbol":       a.symbol,
		"last":         ticker.Last,
		"change_24h":   ticker.Change24h,
		"funding_rate": funding.FundingRate,
	}, nil
}

func closingPrices(candles []exchange.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

func totalEquity(assets []exchange.Asset) float64 {
	var total float64
	for _, a := range assets {
		total += a.Equity
	}
	return total
}

func netExposure(positions []exchange.Position) float64 {
	var net float64
	for _, p := range positions {
		if p.HoldSide == "short" {
			net -= p.Total
		} else {
			net += p.Total
		}
	}
	return net
}

func classifyTrend(price, ema20, ema50 float64) string {
	switch {
	case price > ema20 && ema20 > ema50:
		return "uptrend"
	case price < ema20 && ema20 < ema50:
		return "downtrend"
	default:
		return "sideways"
	}
}
