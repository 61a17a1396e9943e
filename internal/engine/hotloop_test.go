package engine

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpdirector/internal/agents"
	"perpdirector/internal/exchange"
	"perpdirector/internal/feed"
	"perpdirector/internal/risk"
	"perpdirector/internal/signal"
)

type fakeFeed struct {
	latest   *feed.Tick
	degraded bool
}

func (f *fakeFeed) Subscribe(fn func(feed.Tick)) func() { return func() {} }
func (f *fakeFeed) Latest() *feed.Tick                  { return f.latest }
func (f *fakeFeed) Degraded() bool                      { return f.degraded }

type fakeCoordinator struct {
	advisory *agents.Advisory
	cfg      *agents.TradingConfig
}

func (f *fakeCoordinator) LatestAdvisory() *agents.Advisory     { return f.advisory }
func (f *fakeCoordinator) TradingConfig() *agents.TradingConfig { return f.cfg }

func testTradingConfig() *agents.TradingConfig {
	return &agents.TradingConfig{
		Weights:         signal.DefaultWeights(),
		SignalThreshold: 0.1,
		MinConfidence:   0.6,
		Cooldown:        5 * time.Second,
		DecayWindow:     60 * time.Second,
		RiskPerTrade:    0.02,
		MaxPositionSize: 0.05,
	}
}

type hotLoopFixture struct {
	loop  *HotLoop
	mock  *exchange.MockClient
	coord *fakeCoordinator
	feed  *fakeFeed
	risk  *risk.Engine
	now   time.Time
}

func newHotLoopFixture(t *testing.T) *hotLoopFixture {
	t.Helper()

	mock := exchange.NewMockClient()
	coord := &fakeCoordinator{cfg: testTradingConfig()}
	fd := &fakeFeed{}
	engine := risk.NewEngine(1000, risk.Limits{
		MaxPositionSize: 0.05,
		MaxDailyLoss:    50,
		MinEquity:       100,
		MaxDrawdown:     0.1,
	}, zerolog.Nop())

	f := &hotLoopFixture{
		loop: NewHotLoop(HotLoopOptions{
			Symbol:      "BTCUSDT_UMCBL",
			Risk:        engine,
			Coordinator: coord,
			Exchange:    mock,
			Feed:        fd,
			Logger:      zerolog.Nop(),
		}),
		mock:  mock,
		coord: coord,
		feed:  fd,
		risk:  engine,
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.loop.now = func() time.Time { return f.now }
	f.loop.sample = func() float64 { return 1 } // never print status lines
	return f
}

func (f *hotLoopFixture) advise(action agents.Action, confidence float64) {
	f.coord.advisory = &agents.Advisory{
		Action:      action,
		Confidence:  confidence,
		GeneratedAt: f.now,
	}
}

func (f *hotLoopFixture) tick(price float64) {
	f.loop.handleTick(context.Background(), feed.Tick{
		Symbol: "BTCUSDT_UMCBL",
		Price:  price,
		Ts:     f.now,
	})
}

func TestHandleTickOpensLong(t *testing.T) {
	f := newHotLoopFixture(t)
	f.advise(agents.ActionLong, 0.8)

	f.tick(88000)

	orders := f.mock.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.SideOpenLong, orders[0].Side)
	// 1000 * 0.02 / 88000 rounded down to five decimals.
	assert.InDelta(t, 0.00022, orders[0].Size, 1e-9)
	assert.Equal(t, PosLong, f.loop.positionSide())
	assert.InDelta(t, 0.00022, f.risk.Status().PositionSize, 1e-9)
}

func TestNilAdvisoryHolds(t *testing.T) {
	f := newHotLoopFixture(t)

	f.tick(88000)

	assert.Empty(t, f.mock.Orders())
	assert.Equal(t, 1, f.loop.window.Len(), "tick still feeds the window")
}

func TestStaleAdvisoryHolds(t *testing.T) {
	f := newHotLoopFixture(t)
	f.advise(agents.ActionLong, 0.9)
	f.coord.advisory.GeneratedAt = f.now.Add(-61 * time.Second)

	f.tick(88000)

	assert.Empty(t, f.mock.Orders(), "decayed advisory must behave as hold")
}

func TestAdvisoryExactlyAtDecayWindowStillActs(t *testing.T) {
	f := newHotLoopFixture(t)
	f.advise(agents.ActionLong, 0.8)
	f.coord.advisory.GeneratedAt = f.now.Add(-60 * time.Second)

	f.tick(88000)

	assert.Len(t, f.mock.Orders(), 1)
}

func TestReversalClosesThenOpens(t *testing.T) {
	f := newHotLoopFixture(t)
	f.loop.pos = &position{side: PosLong, size: 0.001}
	f.risk.SetPositionSize(0.001)
	f.advise(agents.ActionShort, 0.8)

	f.tick(88000)

	orders := f.mock.Orders()
	require.Len(t, orders, 1, "reversal closes first, at most one order per tick")
	assert.Equal(t, exchange.SideCloseLong, orders[0].Side)
	assert.InDelta(t, 0.001, orders[0].Size, 1e-9)
	assert.Equal(t, PosFlat, f.loop.positionSide())

	// Within the cooldown nothing trades.
	f.now = f.now.Add(3 * time.Second)
	f.coord.advisory.GeneratedAt = f.now
	f.tick(88000)
	require.Len(t, f.mock.Orders(), 1)

	// After the cooldown the short leg opens from flat.
	f.now = f.now.Add(3 * time.Second)
	f.coord.advisory.GeneratedAt = f.now
	f.tick(88000)

	orders = f.mock.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, exchange.SideOpenShort, orders[1].Side)
	assert.InDelta(t, 0.00022, orders[1].Size, 1e-9)
	assert.Equal(t, PosShort, f.loop.positionSide())
}

func TestRepeatLongWhileLongIsNoOp(t *testing.T) {
	f := newHotLoopFixture(t)
	f.advise(agents.ActionLong, 0.8)

	f.tick(88000)
	require.Len(t, f.mock.Orders(), 1)

	f.now = f.now.Add(6 * time.Second)
	f.coord.advisory.GeneratedAt = f.now
	f.tick(88010)

	assert.Len(t, f.mock.Orders(), 1, "adding to an open position is a no-op")
}

func TestConfidenceAtMinimumTriggers(t *testing.T) {
	f := newHotLoopFixture(t)
	f.coord.cfg.SignalThreshold = 0.05
	f.advise(agents.ActionLong, 0.6)

	f.tick(88000)

	assert.Len(t, f.mock.Orders(), 1, "confidence equal to the minimum triggers")
}

func TestConfidenceBelowMinimumHolds(t *testing.T) {
	f := newHotLoopFixture(t)
	f.coord.cfg.SignalThreshold = 0.05
	f.coord.cfg.MinConfidence = 0.61
	f.advise(agents.ActionLong, 0.6)

	f.tick(88000)

	assert.Empty(t, f.mock.Orders())
}

func TestSignalExactlyAtThresholdTriggers(t *testing.T) {
	f := newHotLoopFixture(t)
	// With an empty window and no depth the local signal is zero, so the
	// combined signal is exactly 0.15 * 0.8.
	f.coord.cfg.SignalThreshold = 0.15 * 0.8
	f.advise(agents.ActionLong, 0.8)

	f.tick(88000)

	assert.Len(t, f.mock.Orders(), 1)
}

func TestSignalBelowThresholdHolds(t *testing.T) {
	f := newHotLoopFixture(t)
	f.coord.cfg.SignalThreshold = 0.13
	f.advise(agents.ActionLong, 0.8)

	f.tick(88000)

	assert.Empty(t, f.mock.Orders())
}

func TestShortRequiresNegativeSignal(t *testing.T) {
	f := newHotLoopFixture(t)
	f.advise(agents.ActionShort, 0.8)

	// Bias is negative for a short advisory, combined = -0.12 <= -0.1.
	f.tick(88000)

	orders := f.mock.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.SideOpenShort, orders[0].Side)
}

func TestConfirmationBlocksStretchedRSI(t *testing.T) {
	f := newHotLoopFixture(t)
	for i := 0; i < 30; i++ {
		f.loop.window.Push(88000 + float64(i)*10) // monotone rise, RSI 100
	}

	assert.False(t, f.loop.confirmed(DirLong, 0.65), "overbought long must be blocked")
	assert.True(t, f.loop.confirmed(DirLong, 0.75), "strong advisory waives the check")
	assert.True(t, f.loop.confirmed(DirShort, 0.65), "overbought short is fine")
	assert.True(t, f.loop.confirmed(DirClose, 0))

	g := newHotLoopFixture(t)
	for i := 0; i < 30; i++ {
		g.loop.window.Push(88000 - float64(i)*10) // monotone fall, RSI 0
	}
	assert.False(t, g.loop.confirmed(DirShort, 0.65), "oversold short must be blocked")
	assert.True(t, g.loop.confirmed(DirLong, 0.65))
}

func TestConfirmationPassesWithoutHistory(t *testing.T) {
	f := newHotLoopFixture(t)
	assert.True(t, f.loop.confirmed(DirLong, 0.6))
	assert.True(t, f.loop.confirmed(DirShort, 0.6))
}

func TestPausedSuppressesOrders(t *testing.T) {
	f := newHotLoopFixture(t)
	var paused atomic.Bool
	paused.Store(true)
	f.loop.paused = &paused
	f.advise(agents.ActionLong, 0.8)

	f.tick(88000)

	assert.Empty(t, f.mock.Orders())
	assert.Equal(t, 1, f.loop.window.Len(), "market data keeps flowing while paused")

	paused.Store(false)
	f.tick(88010)
	assert.Len(t, f.mock.Orders(), 1)
}

func TestTrippedRiskEngineBlocksOrders(t *testing.T) {
	f := newHotLoopFixture(t)
	f.risk.Trip("manual halt")
	f.advise(agents.ActionLong, 0.8)

	f.tick(88000)

	assert.Empty(t, f.mock.Orders())
}

func TestOrderFailureDoesNotTripOrAdvanceState(t *testing.T) {
	f := newHotLoopFixture(t)
	f.mock.PlaceOrderErr = assert.AnError
	f.advise(agents.ActionLong, 0.8)

	var failedSide string
	f.loop.onOrderFailed = func(side string, size float64, err error) { failedSide = side }

	f.tick(88000)

	assert.Empty(t, f.mock.Orders())
	assert.False(t, f.risk.Status().Tripped, "a venue rejection is not a risk event")
	assert.Equal(t, PosFlat, f.loop.positionSide())
	assert.Equal(t, "open_long", failedSide, "rejection must raise the failure hook")

	// The cooldown did not start, so the next tick retries immediately.
	f.mock.PlaceOrderErr = nil
	f.tick(88010)
	assert.Len(t, f.mock.Orders(), 1)
}

func TestInvalidTickPanics(t *testing.T) {
	f := newHotLoopFixture(t)
	assert.Panics(t, func() { f.tick(0) })
	assert.Panics(t, func() { f.tick(-1) })
	assert.Panics(t, func() { f.tick(math.NaN()) })
}

func TestOrderSizeClampsToMaxPosition(t *testing.T) {
	f := newHotLoopFixture(t)
	f.coord.cfg.MaxPositionSize = 0.0001
	f.advise(agents.ActionLong, 0.8)

	f.tick(1) // absurdly cheap contract, raw size would be 20

	orders := f.mock.Orders()
	require.Len(t, orders, 1)
	assert.InDelta(t, 0.0001, orders[0].Size, 1e-9)
}

func TestPollIfStaleFallsBackToRest(t *testing.T) {
	f := newHotLoopFixture(t)
	f.feed.degraded = true
	f.mock.SetTicker("BTCUSDT_UMCBL", &exchange.Ticker{
		Symbol: "BTCUSDT_UMCBL",
		Last:   88000,
		Bid:    87999,
		Ask:    88001,
	})

	f.loop.pollIfStale(context.Background())

	assert.Equal(t, 1, f.loop.window.Len(), "REST tick enters the normal path")
	assert.Empty(t, f.mock.Orders(), "no advisory, no trade")
}

func TestPollIfStaleSkipsFreshFeed(t *testing.T) {
	f := newHotLoopFixture(t)
	f.feed.latest = &feed.Tick{Price: 88000, Ts: f.now.Add(-time.Second)}

	// No ticker installed in the mock; a REST call would fail loudly, so a
	// clean window proves no call happened.
	f.loop.pollIfStale(context.Background())

	assert.Equal(t, 0, f.loop.window.Len())
}

func TestReconcileAdoptsVenueTruth(t *testing.T) {
	f := newHotLoopFixture(t)
	f.loop.pos = &position{side: PosLong, size: 0.003}
	f.mock.SetPositions([]exchange.Position{
		{Symbol: "OTHER_UMCBL", HoldSide: "long", Total: 1},
		{Symbol: "BTCUSDT_UMCBL", HoldSide: "short", Total: 0.002},
	})
	f.mock.Assets = []exchange.Asset{{CoinName: "USDT", Equity: 950}}
	f.mock.SetDepth("BTCUSDT_UMCBL", &exchange.Depth{
		Bids: []exchange.Level{{87990, 1}},
		Asks: []exchange.Level{{88010, 1}},
	})

	f.loop.reconcile(context.Background())

	assert.Equal(t, PosShort, f.loop.positionSide())
	assert.InDelta(t, 0.002, f.loop.positionSize(), 1e-9)
	assert.InDelta(t, 950, f.risk.Status().Equity, 1e-9)
	require.NotNil(t, f.loop.lastDepth)
}

func TestReconcileClearsStalePosition(t *testing.T) {
	f := newHotLoopFixture(t)
	f.loop.pos = &position{side: PosLong, size: 0.003}

	// Venue reports no open positions; the optimistic state is overwritten.
	f.loop.reconcile(context.Background())

	assert.Equal(t, PosFlat, f.loop.positionSide())
	assert.Zero(t, f.risk.Status().PositionSize)
}
