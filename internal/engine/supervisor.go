package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"perpdirector/internal/agents"
	"perpdirector/internal/alerts"
	"perpdirector/internal/config"
	"perpdirector/internal/exchange"
	"perpdirector/internal/feed"
	"perpdirector/internal/llm"
	"perpdirector/internal/metrics"
	"perpdirector/internal/risk"
	"perpdirector/internal/signal"
)

const (
	heartbeatInterval = 5 * time.Second
	drainTimeout      = 2 * time.Second
)

// symbolUnit is the trading graph for one symbol: its market data feed, its
// agent coordinator, its risk engine and the hot loop that ties them together.
type symbolUnit struct {
	symbol      string
	risk        *risk.Engine
	feed        *feed.Feed
	coordinator *agents.Coordinator
	hotloop     *HotLoop

	feedAlerted bool
}

// Supervisor owns one trading graph per configured symbol. It starts them
// with a stagger so the venue never sees a burst of identical requests, runs
// a heartbeat that exports gauges, and drains everything on shutdown.
type Supervisor struct {
	cfg      *config.Config
	exchange exchange.Client
	llm      *llm.Client
	alerts   *alerts.Manager
	log      zerolog.Logger

	// paused gates order placement across every hot loop. Market data and
	// analysis keep running while set.
	paused atomic.Bool

	units map[string]*symbolUnit
	order []string

	cancel context.CancelFunc
	group  *errgroup.Group
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Config   *config.Config
	Exchange exchange.Client
	LLM      *llm.Client
	Alerts   *alerts.Manager
	Logger   zerolog.Logger
}

// NewSupervisor builds the per-symbol trading graphs. It does not start them.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	s := &Supervisor{
		cfg:      opts.Config,
		exchange: opts.Exchange,
		llm:      opts.LLM,
		alerts:   opts.Alerts,
		log:      opts.Logger.With().Str("component", "supervisor").Logger(),
		units:    make(map[string]*symbolUnit),
	}
	for _, symbol := range opts.Config.Trading.Symbols {
		s.units[symbol] = s.buildUnit(symbol)
		s.order = append(s.order, symbol)
	}
	return s
}

func (s *Supervisor) buildUnit(symbol string) *symbolUnit {
	cfg := s.cfg

	riskEngine := risk.NewEngine(cfg.Risk.InitialEquity, risk.Limits{
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		MaxDailyLoss:    cfg.Risk.MaxDailyLoss,
		MinEquity:       cfg.Risk.MinEquity,
		MaxDrawdown:     cfg.Risk.MaxDrawdown,
	}, s.log)
	riskEngine.OnTrip(func(reason string) {
		metrics.RiskTripped.WithLabelValues(symbol).Set(1)
		s.alerts.RiskTripped(context.Background(), symbol, reason)
	})

	marketFeed := feed.New(feed.Options{
		URL:    cfg.Exchange.WSURL,
		Symbol: symbol,
		Logger: s.log,
	})

	baseCfg := agents.TradingConfig{
		Weights: signal.Weights{
			OBI:      cfg.Trading.Weights.OBI,
			RSI:      cfg.Trading.Weights.RSI,
			EMA:      cfg.Trading.Weights.EMA,
			Momentum: cfg.Trading.Weights.Momentum,
		},
		SignalThreshold: cfg.Trading.SignalThreshold,
		MinConfidence:   cfg.Trading.MinConfidence,
		Cooldown:        cfg.Trading.Cooldown,
		DecayWindow:     cfg.Trading.DecayWindow,
		RiskPerTrade:    cfg.Trading.RiskPerTrade,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
	}

	coordinator := agents.NewCoordinator(agents.CoordinatorOptions{
		Symbol:     symbol,
		LLM:        s.llm,
		Exchange:   s.exchange,
		Logger:     s.log,
		Warmup:     cfg.Trading.WarmupDelay,
		Interval:   cfg.Trading.CoordinatorInterval,
		BaseConfig: baseCfg,
		Paused:     &s.paused,
	})
	coordinator.OnAdvisory(func(a agents.Advisory) {
		metrics.AdvisoriesTotal.WithLabelValues(symbol, string(a.Action)).Inc()
	})

	llmTimeout := cfg.LLM.Timeout(cfg.Trading.AgentInterval)
	byRole := make(map[string]*agents.Agent, len(cfg.Trading.Roles))
	for _, role := range cfg.Trading.Roles {
		agent := agents.NewAgent(agents.AgentOptions{
			Role:       role,
			Symbol:     symbol,
			Interval:   cfg.Trading.AgentInterval,
			Exchange:   s.exchange,
			LLM:        s.llm,
			LLMTimeout: llmTimeout,
			Logger:     s.log,
			Paused:     &s.paused,
		})
		agent.OnReport(func(r agents.AgentReport) {
			metrics.AgentReportsTotal.WithLabelValues(symbol, string(r.Signal)).Inc()
		})
		coordinator.AddAgent(agent)
		byRole[role] = agent
	}
	if bull, bear := byRole["bull"], byRole["bear"]; bull != nil && bear != nil {
		bull.SetCounterpart(bear)
		bear.SetCounterpart(bull)
	}

	hotloop := NewHotLoop(HotLoopOptions{
		Symbol:            symbol,
		Risk:              riskEngine,
		Coordinator:       coordinator,
		Exchange:          s.exchange,
		Feed:              marketFeed,
		Logger:            s.log,
		WindowSize:        cfg.Trading.PriceWindowSize,
		ReconcileInterval: cfg.Trading.ReconcileInterval,
		Paused:            &s.paused,
		OnDivergence: func(optimistic, venue string) {
			s.alerts.Send(context.Background(), alerts.Alert{
				Title:    "Position divergence",
				Message:  fmt.Sprintf("Venue reports %s where the engine tracked %s for %s; venue truth adopted.", venue, optimistic, symbol),
				Severity: alerts.SeverityWarning,
				Fields:   map[string]interface{}{"symbol": symbol, "optimistic": optimistic, "venue": venue},
			})
		},
		OnOrderFailed: func(side string, size float64, err error) {
			s.alerts.OrderFailed(context.Background(), symbol, side, size, err)
		},
	})

	return &symbolUnit{
		symbol:      symbol,
		risk:        riskEngine,
		feed:        marketFeed,
		coordinator: coordinator,
		hotloop:     hotloop,
	}
}

// Start launches every trading graph with the configured stagger between
// symbols, then the heartbeat. It returns once everything is running.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)

	stagger := s.cfg.Trading.StartStagger
	if stagger < 5*time.Second {
		stagger = 5 * time.Second
	}

	for i, symbol := range s.order {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(stagger):
			}
		}

		unit := s.units[symbol]
		unit.feed.Start(ctx)
		unit.coordinator.Start(ctx)
		s.group.Go(func() error {
			return unit.hotloop.Run(ctx)
		})
		s.log.Info().Str("symbol", symbol).Msg("Trading graph started")
	}

	s.group.Go(func() error {
		s.heartbeat(ctx)
		return nil
	})

	s.log.Info().Int("symbols", len(s.order)).Msg("Supervisor started")
	return nil
}

// Stop shuts everything down, waiting at most the drain timeout for the hot
// loops before giving up.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	for _, unit := range s.units {
		unit.feed.Stop()
		unit.coordinator.Stop()
	}

	done := make(chan struct{})
	go func() {
		if s.group != nil {
			_ = s.group.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("Supervisor stopped")
	case <-time.After(drainTimeout):
		s.log.Warn().Msg("Shutdown drain timed out, abandoning in-flight work")
	}
}

// heartbeat periodically exports per-symbol gauges and logs a status line.
// Feed degradation fires an alert exactly once per symbol.
func (s *Supervisor) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.heartbeatOnce(ctx)
		}
	}
}

func (s *Supervisor) heartbeatOnce(ctx context.Context) {
	for _, symbol := range s.order {
		unit := s.units[symbol]
		status := unit.risk.Status()

		metrics.Equity.WithLabelValues(symbol).Set(status.Equity)
		if status.Tripped {
			metrics.RiskTripped.WithLabelValues(symbol).Set(1)
		} else {
			metrics.RiskTripped.WithLabelValues(symbol).Set(0)
		}

		degraded := unit.feed.Degraded()
		if degraded {
			metrics.FeedDegraded.WithLabelValues(symbol).Set(1)
			if !unit.feedAlerted {
				unit.feedAlerted = true
				s.alerts.FeedSevered(ctx, symbol)
			}
		} else {
			metrics.FeedDegraded.WithLabelValues(symbol).Set(0)
		}

		s.log.Info().
			Str("symbol", symbol).
			Float64("equity", status.Equity).
			Bool("tripped", status.Tripped).
			Bool("degraded", degraded).
			Bool("paused", s.paused.Load()).
			Msg("Heartbeat")
	}
}

// Pause suppresses order placement on every hot loop.
func (s *Supervisor) Pause() {
	s.paused.Store(true)
	s.log.Warn().Msg("Trading paused")
}

// Resume re-enables order placement.
func (s *Supervisor) Resume() {
	s.paused.Store(false)
	s.log.Info().Msg("Trading resumed")
}

// Paused reports whether order placement is suppressed.
func (s *Supervisor) Paused() bool {
	return s.paused.Load()
}

// ResetRisk re-arms the risk engine for one symbol, or for every symbol when
// the argument is empty.
func (s *Supervisor) ResetRisk(symbol string) error {
	if symbol == "" {
		for _, unit := range s.units {
			unit.risk.Reset()
			metrics.RiskTripped.WithLabelValues(unit.symbol).Set(0)
		}
		return nil
	}
	unit, ok := s.units[symbol]
	if !ok {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	unit.risk.Reset()
	metrics.RiskTripped.WithLabelValues(symbol).Set(0)
	return nil
}

// Healthy reports whether every symbol is trading on live data with an armed
// risk engine. Feeds the metrics server health endpoint.
func (s *Supervisor) Healthy() bool {
	for _, unit := range s.units {
		if unit.feed.Degraded() || unit.risk.Status().Tripped {
			return false
		}
	}
	return true
}

// Symbols returns the configured symbols in start order.
func (s *Supervisor) Symbols() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
