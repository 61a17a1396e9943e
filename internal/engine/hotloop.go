// Package engine contains the per-symbol execution hot path and the
// supervisor that wires one trading graph per symbol.
//
// The hot loop is the only component that places orders. It consumes tick
// events in arrival order, blends the coordinator's advisory into the local
// indicator signal and runs every trade intent through the risk engine. No
// language-model call ever happens on this path.
package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpdirector/internal/agents"
	"perpdirector/internal/exchange"
	"perpdirector/internal/feed"
	"perpdirector/internal/metrics"
	"perpdirector/internal/risk"
	"perpdirector/internal/signal"
)

const (
	// aiBiasFactor scales the advisory confidence added to the local signal.
	aiBiasFactor = 0.15

	// confirmOverride is the advisory confidence above which the local RSI
	// confirmation is waived.
	confirmOverride = 0.7

	rsiConfirmPeriod = 14

	// sizePrecision is the venue's contract size precision in decimals.
	// Sizes round toward zero so an order can never exceed the budget.
	sizePrecision = 5

	// statusSampleRate is the fraction of ticks that print a status line.
	statusSampleRate = 0.05

	tickBuffer  = 256
	restTimeout = 30 * time.Second
)

// TickSource is the market data dependency of the hot loop.
type TickSource interface {
	Subscribe(fn func(feed.Tick)) func()
	Latest() *feed.Tick
	Degraded() bool
}

// AdvisorySource is the hot loop's read-only view of the coordinator.
type AdvisorySource interface {
	LatestAdvisory() *agents.Advisory
	TradingConfig() *agents.TradingConfig
}

// position is the hot loop's optimistic view of its open position.
type position struct {
	side PositionSide
	size float64
}

// HotLoop executes the tick-to-order path for one symbol. Not safe for
// concurrent use; exactly one per symbol, driven by Run.
type HotLoop struct {
	symbol      string
	risk        *risk.Engine
	coordinator AdvisorySource
	exchange    exchange.Client
	feed        TickSource
	log         zerolog.Logger

	window    *PriceWindow
	lastDepth *exchange.Depth
	pos       *position // nil means flat
	lastOrder time.Time

	reconcileInterval time.Duration
	staleAfter        time.Duration

	// paused, when set and true, suppresses order placement while leaving
	// market data processing running.
	paused *atomic.Bool

	// onDivergence fires when reconcile finds the venue disagreeing with the
	// optimistic position.
	onDivergence func(optimistic, venue string)

	// onOrderFailed fires when the venue rejects an order placement.
	onOrderFailed func(side string, size float64, err error)

	ticks chan feed.Tick

	// Injectable for tests.
	now    func() time.Time
	sample func() float64
}

// HotLoopOptions configures a HotLoop.
type HotLoopOptions struct {
	Symbol            string
	Risk              *risk.Engine
	Coordinator       AdvisorySource
	Exchange          exchange.Client
	Feed              TickSource
	Logger            zerolog.Logger
	WindowSize        int
	ReconcileInterval time.Duration
	StaleAfter        time.Duration
	Paused            *atomic.Bool
	OnDivergence      func(optimistic, venue string)
	OnOrderFailed     func(side string, size float64, err error)
}

// NewHotLoop creates a hot loop. Call Run to start consuming ticks.
func NewHotLoop(opts HotLoopOptions) *HotLoop {
	if opts.WindowSize <= 0 {
		opts.WindowSize = 100
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 30 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Second
	}
	return &HotLoop{
		symbol:            opts.Symbol,
		risk:              opts.Risk,
		coordinator:       opts.Coordinator,
		exchange:          opts.Exchange,
		feed:              opts.Feed,
		log:               opts.Logger.With().Str("component", "hotloop").Str("symbol", opts.Symbol).Logger(),
		window:            NewPriceWindow(opts.WindowSize),
		reconcileInterval: opts.ReconcileInterval,
		staleAfter:        opts.StaleAfter,
		paused:            opts.Paused,
		onDivergence:      opts.OnDivergence,
		onOrderFailed:     opts.OnOrderFailed,
		ticks:             make(chan feed.Tick, tickBuffer),
		now:               time.Now,
		sample:            rand.Float64,
	}
}

// Run consumes ticks until ctx is cancelled. It reconciles position state at
// startup and on a slow timer, and falls back to REST ticker polls when the
// feed degrades.
func (h *HotLoop) Run(ctx context.Context) error {
	h.reconcile(ctx)

	unsubscribe := h.feed.Subscribe(func(t feed.Tick) {
		select {
		case h.ticks <- t:
		default:
			// Feed outruns the loop; dropping is safer than blocking the
			// socket reader.
		}
	})
	defer unsubscribe()

	slow := time.NewTicker(h.reconcileInterval)
	defer slow.Stop()

	h.log.Info().Msg("Hot loop started")

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Hot loop stopped")
			return ctx.Err()
		case tick := <-h.ticks:
			h.handleTick(ctx, tick)
		case <-slow.C:
			h.reconcile(ctx)
			h.pollIfStale(ctx)
		}
	}
}

// handleTick runs the per-tick decision algorithm. At most one order is
// dispatched per tick.
func (h *HotLoop) handleTick(ctx context.Context, tick feed.Tick) {
	if tick.Price <= 0 || math.IsNaN(tick.Price) {
		panic(fmt.Sprintf("hotloop %s: invalid tick price %v", h.symbol, tick.Price))
	}

	h.window.Push(tick.Price)
	metrics.TicksTotal.WithLabelValues(h.symbol).Inc()

	cfg := h.coordinator.TradingConfig()
	advisory := h.coordinator.LatestAdvisory()
	now := h.now()

	// Dead-man switch: a missing or decayed advisory behaves as hold with
	// zero confidence, idling the loop while the strategic layer is silent.
	action := agents.ActionHold
	effective := 0.0
	bias := 0.0
	if advisory != nil && !advisory.Stale(now, cfg.DecayWindow) {
		action = advisory.Action
		effective = advisory.Confidence
		bias = advisory.Bias()
	}

	local := signal.Combine(h.window.Prices(), h.lastDepth, cfg.Weights)
	combined := local + aiBiasFactor*bias

	if h.sample() < statusSampleRate {
		h.log.Info().
			Float64("price", tick.Price).
			Float64("signal", combined).
			Str("advisory", string(action)).
			Float64("confidence", effective).
			Msg("Tick status")
	}

	if h.paused != nil && h.paused.Load() {
		return
	}

	intent, ok := h.intent(action)
	if !ok {
		return
	}

	if !h.confirmed(intent, effective) {
		return
	}

	if now.Sub(h.lastOrder) < cfg.Cooldown {
		return
	}

	if effective < cfg.MinConfidence || !h.thresholdMet(intent, combined, cfg.SignalThreshold) {
		return
	}

	side, ok := sideCodeFor(intent, h.positionSide())
	if !ok {
		return
	}

	size := h.orderSize(side, tick.Price, cfg)
	if size <= 0 {
		return
	}
	if math.IsNaN(size) {
		panic(fmt.Sprintf("hotloop %s: NaN order size", h.symbol))
	}

	if !h.risk.CanTrade(side, size, tick.Price) {
		h.log.Warn().
			Str("side", side.String()).
			Float64("size", size).
			Msg("Order rejected by risk engine")
		return
	}

	h.placeOrder(ctx, side, size, tick.Price)
}

// intent maps the advisory action to a trade direction. Hold means no trade.
func (h *HotLoop) intent(action agents.Action) (Direction, bool) {
	switch action {
	case agents.ActionLong:
		return DirLong, true
	case agents.ActionShort:
		return DirShort, true
	case agents.ActionClose:
		return DirClose, true
	default:
		return "", false
	}
}

// confirmed applies the local confirmation rule: closes always pass; opens
// pass on strong advisory confidence or an RSI that is not already stretched
// in the trade direction.
func (h *HotLoop) confirmed(intent Direction, effective float64) bool {
	if intent == DirClose {
		return true
	}
	if effective > confirmOverride {
		return true
	}
	rsi, ok := signal.RSI(h.window.Prices(), rsiConfirmPeriod)
	if !ok {
		return true
	}
	if intent == DirLong {
		return rsi < 70
	}
	return rsi > 30
}

// thresholdMet checks the combined signal against the threshold, signed for
// opens and absolute for closes. Exact equality triggers.
func (h *HotLoop) thresholdMet(intent Direction, combined, threshold float64) bool {
	switch intent {
	case DirLong:
		return combined >= threshold
	case DirShort:
		return combined <= -threshold
	default:
		return math.Abs(combined) >= threshold
	}
}

// orderSize returns the contract size for the order: the full position for
// closes, the equity-scaled risk budget for opens.
func (h *HotLoop) orderSize(side exchange.SideCode, price float64, cfg *agents.TradingConfig) float64 {
	if side.IsClose() {
		if h.pos == nil {
			return 0
		}
		return h.pos.size
	}

	equity := h.risk.Status().Equity
	raw := equity * cfg.RiskPerTrade / price
	if raw > cfg.MaxPositionSize {
		raw = cfg.MaxPositionSize
	}
	size, _ := decimal.NewFromFloat(raw).RoundDown(sizePrecision).Float64()
	return size
}

func (h *HotLoop) placeOrder(ctx context.Context, side exchange.SideCode, size, price float64) {
	callCtx, cancel := context.WithTimeout(ctx, restTimeout)
	defer cancel()

	result, err := h.exchange.PlaceOrder(callCtx, h.symbol, side, size)
	if err != nil {
		// An order failure is not a risk event; the breaker stays armed.
		metrics.OrderFailures.WithLabelValues(h.symbol).Inc()
		h.log.Error().Err(err).
			Str("side", side.String()).
			Float64("size", size).
			Msg("Order placement failed")
		if h.onOrderFailed != nil {
			h.onOrderFailed(side.String(), size, err)
		}
		return
	}

	metrics.OrdersTotal.WithLabelValues(h.symbol, side.String()).Inc()
	h.lastOrder = h.now()

	// Optimistic position update; the reconcile timer overwrites it with
	// venue truth.
	switch side {
	case exchange.SideOpenLong:
		h.pos = &position{side: PosLong, size: size}
	case exchange.SideOpenShort:
		h.pos = &position{side: PosShort, size: size}
	default:
		h.pos = nil
	}
	h.risk.SetPositionSize(h.positionSize())

	h.log.Info().
		Str("order_id", result.OrderID).
		Str("side", side.String()).
		Float64("size", size).
		Float64("price", price).
		Msg("Order placed")
}

func (h *HotLoop) positionSide() PositionSide {
	if h.pos == nil {
		return PosFlat
	}
	return h.pos.side
}

func (h *HotLoop) positionSize() float64 {
	if h.pos == nil {
		return 0
	}
	return h.pos.size
}

func (h *HotLoop) describePosition() string {
	if h.pos == nil {
		return "flat"
	}
	return fmt.Sprintf("%s %.5f", h.pos.side, h.pos.size)
}

// reconcile overwrites optimistic state with venue truth: open position,
// account equity and a fresh depth snapshot for the combiner.
func (h *HotLoop) reconcile(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, restTimeout)
	defer cancel()

	if positions, err := h.exchange.GetPositions(callCtx); err == nil {
		before := h.describePosition()
		h.pos = nil
		for _, p := range positions {
			if p.Symbol != h.symbol || p.Total == 0 {
				continue
			}
			side := PosLong
			if p.HoldSide == "short" {
				side = PosShort
			}
			h.pos = &position{side: side, size: p.Total}
			break
		}
		h.risk.SetPositionSize(h.positionSize())

		if after := h.describePosition(); before != after {
			h.log.Warn().Str("optimistic", before).Str("venue", after).Msg("Position diverged from venue, adopting venue truth")
			if h.onDivergence != nil {
				h.onDivergence(before, after)
			}
		}
	} else {
		h.log.Warn().Err(err).Msg("Position reconcile failed")
	}

	if assets, err := h.exchange.GetAssets(callCtx); err == nil {
		var equity float64
		for _, a := range assets {
			equity += a.Equity
		}
		if equity > 0 {
			h.risk.SetEquity(equity)
		}
	} else {
		h.log.Warn().Err(err).Msg("Equity refresh failed")
	}

	if depth, err := h.exchange.GetDepth(callCtx, h.symbol); err == nil {
		h.lastDepth = depth
	}
}

// pollIfStale fetches a single REST tick when the socket feed has degraded
// or gone silent.
func (h *HotLoop) pollIfStale(ctx context.Context) {
	latest := h.feed.Latest()
	fresh := latest != nil && h.now().Sub(latest.Ts) < h.staleAfter
	if !h.feed.Degraded() && fresh {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, restTimeout)
	defer cancel()

	ticker, err := h.exchange.GetTicker(callCtx, h.symbol)
	if err != nil {
		h.log.Warn().Err(err).Msg("REST tick fallback failed")
		return
	}

	h.log.Debug().Float64("price", ticker.Last).Msg("REST tick fallback")
	h.handleTick(ctx, feed.Tick{
		Symbol: h.symbol,
		Price:  ticker.Last,
		Bid:    ticker.Bid,
		Ask:    ticker.Ask,
		Ts:     h.now(),
	})
}
