// Package risk provides the synchronous pre-trade gate and the transport
// circuit breakers for external services.
package risk

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"perpdirector/internal/exchange"
)

// Limits are the trip thresholds for the engine.
type Limits struct {
	MaxPositionSize float64 // absolute contract size cap per symbol
	MaxDailyLoss    float64 // trip when dailyPnL < -MaxDailyLoss
	MinEquity       float64 // trip when equity falls below
	MaxDrawdown     float64 // trip when (peak-equity)/peak exceeds
}

// State is a point-in-time snapshot of the engine.
type State struct {
	Equity        float64
	InitialEquity float64
	PeakEquity    float64
	DailyPnL      float64
	PositionSize  float64
	OpenOrders    int
	Tripped       bool
	TripReason    string
}

// StateUpdate carries the fields to change; nil fields are left untouched.
type StateUpdate struct {
	Equity       *float64
	PositionSize *float64
	OpenOrders   *int
}

// Engine is the latched pre-trade gate. Once tripped it rejects every trade
// until an operator calls Reset. All methods are O(1) and safe for concurrent
// use, though in practice a single hot loop owns each engine.
type Engine struct {
	mu     sync.Mutex
	state  State
	limits Limits
	log    zerolog.Logger

	// onTrip fires outside the lock whenever the engine latches.
	onTrip func(reason string)
}

// NewEngine creates an armed engine seeded with starting equity.
func NewEngine(initialEquity float64, limits Limits, log zerolog.Logger) *Engine {
	return &Engine{
		state: State{
			Equity:        initialEquity,
			InitialEquity: initialEquity,
			PeakEquity:    initialEquity,
		},
		limits: limits,
		log:    log.With().Str("component", "risk").Logger(),
	}
}

// OnTrip registers a callback fired when the engine latches.
func (e *Engine) OnTrip(fn func(reason string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrip = fn
}

// Update applies a partial state update. Peak equity and daily PnL are
// maintained atomically with the equity change.
func (e *Engine) Update(u StateUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.Equity != nil && !math.IsNaN(*u.Equity) {
		e.state.Equity = *u.Equity
		if e.state.Equity > e.state.PeakEquity {
			e.state.PeakEquity = e.state.Equity
		}
		e.state.DailyPnL = e.state.Equity - e.state.InitialEquity
	}
	if u.PositionSize != nil {
		e.state.PositionSize = math.Abs(*u.PositionSize)
	}
	if u.OpenOrders != nil {
		e.state.OpenOrders = *u.OpenOrders
	}
}

// SetEquity is shorthand for Update with only equity.
func (e *Engine) SetEquity(equity float64) {
	e.Update(StateUpdate{Equity: &equity})
}

// SetPositionSize is shorthand for Update with only position size.
func (e *Engine) SetPositionSize(size float64) {
	e.Update(StateUpdate{PositionSize: &size})
}

// CanTrade is the synchronous pre-trade gate. It rejects when the engine is
// tripped or the projected position would exceed the size cap; it evaluates
// every trip condition and latches on the first violated one.
func (e *Engine) CanTrade(side exchange.SideCode, size, price float64) bool {
	if size < 0 || math.IsNaN(size) || price <= 0 || math.IsNaN(price) {
		return false
	}

	e.mu.Lock()

	if e.state.Tripped {
		e.mu.Unlock()
		return false
	}

	if !side.IsClose() {
		projected := e.state.PositionSize + size
		if projected > e.limits.MaxPositionSize {
			e.mu.Unlock()
			e.log.Warn().
				Float64("projected", projected).
				Float64("max", e.limits.MaxPositionSize).
				Msg("Order rejected: position size cap")
			return false
		}
	}

	if reason := e.tripReasonLocked(); reason != "" {
		e.tripLocked(reason)
		cb := e.onTrip
		e.mu.Unlock()
		if cb != nil {
			cb(reason)
		}
		return false
	}

	e.mu.Unlock()
	return true
}

// Trip latches the engine with an explicit reason.
func (e *Engine) Trip(reason string) {
	e.mu.Lock()
	e.tripLocked(reason)
	cb := e.onTrip
	e.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

// Reset re-arms a tripped engine. Operator action only; nothing in the
// trading path calls it.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Tripped {
		return
	}
	e.state.Tripped = false
	e.state.TripReason = ""
	e.log.Warn().Msg("Risk engine reset by operator; trading re-armed")
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) tripLocked(reason string) {
	if e.state.Tripped {
		return
	}
	e.state.Tripped = true
	e.state.TripReason = reason
	e.log.Error().Str("reason", reason).Msg("CIRCUIT BREAKER TRIPPED - trading halted")
}

// tripReasonLocked evaluates every trip condition and returns the first
// violated one, or "".
func (e *Engine) tripReasonLocked() string {
	if e.limits.MaxDailyLoss > 0 && e.state.DailyPnL < -e.limits.MaxDailyLoss {
		return fmt.Sprintf("daily loss %.2f exceeds limit %.2f", -e.state.DailyPnL, e.limits.MaxDailyLoss)
	}
	if e.limits.MinEquity > 0 && e.state.Equity < e.limits.MinEquity {
		return fmt.Sprintf("equity %.2f below minimum %.2f", e.state.Equity, e.limits.MinEquity)
	}
	if e.limits.MaxDrawdown > 0 && e.state.PeakEquity > 0 {
		dd := (e.state.PeakEquity - e.state.Equity) / e.state.PeakEquity
		if dd > e.limits.MaxDrawdown {
			return fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", dd*100, e.limits.MaxDrawdown*100)
		}
	}
	return ""
}
