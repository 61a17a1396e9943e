package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"perpdirector/internal/exchange"
	"perpdirector/internal/llm"
)

// Size hint bounds, fraction of equity.
const (
	minSizeHint = 0.005
	maxSizeHint = 0.05
)

// singleAgentOverride is the confidence above which one agent alone may set
// the fused direction.
const singleAgentOverride = 0.7

// Coordinator owns the agents for one symbol. On a fixed interval it fuses
// their latest reports into an Advisory via a single model call and
// republishes the execution parameters the hot loop reads.
type Coordinator struct {
	symbol string
	agents []*Agent

	llm        *llm.Client
	llmTimeout time.Duration
	exchange   exchange.Client
	log        zerolog.Logger

	warmup   time.Duration
	interval time.Duration

	mu      sync.Mutex
	reports map[string]AgentReport

	advisory   atomic.Pointer[Advisory]
	tradingCfg atomic.Pointer[TradingConfig]
	baseCfg    TradingConfig

	onAdvisory func(Advisory)

	paused *atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// CoordinatorOptions configures a new Coordinator.
type CoordinatorOptions struct {
	Symbol     string
	LLM        *llm.Client
	LLMTimeout time.Duration
	Exchange   exchange.Client
	Logger     zerolog.Logger
	Warmup     time.Duration
	Interval   time.Duration
	BaseConfig TradingConfig
	Paused     *atomic.Bool
}

// NewCoordinator creates a coordinator with no agents attached.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Warmup <= 0 {
		opts.Warmup = 10 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = opts.Interval - 2*time.Second
	}
	c := &Coordinator{
		symbol:     opts.Symbol,
		llm:        opts.LLM,
		llmTimeout: opts.LLMTimeout,
		exchange:   opts.Exchange,
		log:        opts.Logger.With().Str("component", "coordinator").Str("symbol", opts.Symbol).Logger(),
		warmup:     opts.Warmup,
		interval:   opts.Interval,
		reports:    make(map[string]AgentReport),
		baseCfg:    opts.BaseConfig,
		paused:     opts.Paused,
		now:        time.Now,
	}
	cfg := opts.BaseConfig
	c.tradingCfg.Store(&cfg)
	return c
}

// AddAgent registers an agent and subscribes to its reports. Must be called
// before Start.
func (c *Coordinator) AddAgent(a *Agent) {
	a.OnReport(func(report AgentReport) {
		c.mu.Lock()
		c.reports[report.AgentName] = report
		c.mu.Unlock()
	})
	c.agents = append(c.agents, a)
}

// OnAdvisory registers a callback invoked after every published advisory.
// Must be set before Start.
func (c *Coordinator) OnAdvisory(fn func(Advisory)) {
	c.onAdvisory = fn
}

// LatestAdvisory returns the most recent advisory, or nil before the first
// decision cycle completes.
func (c *Coordinator) LatestAdvisory() *Advisory {
	return c.advisory.Load()
}

// TradingConfig returns the current execution parameter snapshot. Never nil.
func (c *Coordinator) TradingConfig() *TradingConfig {
	return c.tradingCfg.Load()
}

// Start launches all agents and, after the warmup delay, the decision cycle.
// It does not wait for first reports.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	for _, a := range c.agents {
		a.Start(ctx)
	}

	c.wg.Add(1)
	go c.run(ctx)

	c.log.Info().
		Int("agents", len(c.agents)).
		Dur("warmup", c.warmup).
		Dur("interval", c.interval).
		Msg("Coordinator started")
}

// Stop cancels the decision loop and stops all agents.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	for _, a := range c.agents {
		a.Stop()
	}
	c.log.Info().Msg("Coordinator stopped")
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(c.warmup):
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// advisoryReply is the structured fusion response from the model.
type advisoryReply struct {
	Action           string  `json:"action"`
	Confidence       float64 `json:"confidence"`
	PositionSizeHint float64 `json:"position_size_hint"`
	StopLossPct      float64 `json:"stop_loss_pct"`
	TakeProfitPct    float64 `json:"take_profit_pct"`
	Reasoning        string  `json:"reasoning"`
}

// runCycle performs one decision cycle. With fewer than two reports the
// cycle is skipped entirely; a failed model call publishes a hold advisory
// rather than leaving the previous one in place.
func (c *Coordinator) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if c.paused != nil && c.paused.Load() {
		c.log.Debug().Msg("Decision cycle skipped, trading paused")
		return
	}

	reports := c.snapshotReports()
	if len(reports) < 2 {
		c.log.Debug().Int("reports", len(reports)).Msg("Skipping cycle, not enough agent reports")
		return
	}

	summary := buildSummary(reports)

	callCtx, cancel := context.WithTimeout(ctx, c.llmTimeout)
	defer cancel()

	var reply advisoryReply
	err := c.llm.CompleteJSON(callCtx, llm.CoordinatorSystemPrompt, summary, &reply)
	if err != nil {
		c.log.Warn().Err(err).Msg("Fusion call failed, publishing hold")
		reply = advisoryReply{Action: string(ActionHold), Confidence: 0.5, Reasoning: "error"}
	}

	advisory := c.fuse(reply, reports)
	c.publish(advisory, summary)
}

func (c *Coordinator) snapshotReports() []AgentReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	reports := make([]AgentReport, 0, len(c.reports))
	for _, r := range c.reports {
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].AgentName < reports[j].AgentName })
	return reports
}

func buildSummary(reports []AgentReport) string {
	lines := make([]string, len(reports))
	for i, r := range reports {
		lines[i] = fmt.Sprintf("%s: %s (%.0f%%) - %s", r.AgentName, r.Signal, r.Confidence*100, r.Reasoning)
	}
	return strings.Join(lines, "\n")
}

// fuse post-processes the model reply, enforcing the fusion rules the prompt
// asks for: clamp bounds, validate the action and demote a direction that
// lacks agent agreement back to hold.
func (c *Coordinator) fuse(reply advisoryReply, reports []AgentReport) Advisory {
	action := normalizeAction(reply.Action)

	if action == ActionLong || action == ActionShort {
		if !directionSupported(action, reports) {
			c.log.Debug().Str("action", string(action)).Msg("Demoting advisory to hold, insufficient agent agreement")
			action = ActionHold
			if reply.Confidence > 0.5 {
				reply.Confidence = 0.5
			}
		}
	}

	votes := make(map[string]Signal, len(reports))
	for _, r := range reports {
		votes[r.AgentName] = r.Signal
	}

	return Advisory{
		Action:           action,
		Confidence:       clamp01(reply.Confidence),
		PositionSizeHint: clampRange(reply.PositionSizeHint, minSizeHint, maxSizeHint),
		StopLossPct:      clampRange(reply.StopLossPct, 0, 0.1),
		TakeProfitPct:    clampRange(reply.TakeProfitPct, 0, 0.2),
		Reasoning:        reply.Reasoning,
		GeneratedAt:      c.now(),
		AgentVotes:       votes,
	}
}

// directionSupported applies the agreement rule: at least two agents voting
// the direction, or a single same-direction report above the override
// confidence. A high-confidence report for the opposite direction never
// validates the advisory.
func directionSupported(action Action, reports []AgentReport) bool {
	want := SignalBullish
	if action == ActionShort {
		want = SignalBearish
	}

	agree := 0
	for _, r := range reports {
		if r.Signal != want {
			continue
		}
		agree++
		if r.Confidence > singleAgentOverride {
			return true
		}
	}
	return agree >= 2
}

func (c *Coordinator) publish(advisory Advisory, summary string) {
	c.advisory.Store(&advisory)

	cfg := c.baseCfg
	c.tradingCfg.Store(&cfg)

	c.log.Info().
		Str("action", string(advisory.Action)).
		Float64("confidence", advisory.Confidence).
		Float64("size_hint", advisory.PositionSizeHint).
		Msg("Advisory published")

	if c.onAdvisory != nil {
		c.onAdvisory(advisory)
	}

	c.uploadAudit(advisory, summary)
}

// uploadAudit ships the fusion round to the venue's AI-trade log sink.
// Fire and forget; audit failures never touch the decision path.
func (c *Coordinator) uploadAudit(advisory Advisory, summary string) {
	if c.exchange == nil {
		return
	}
	output, _ := json.Marshal(advisory)
	entry := exchange.AILogEntry{
		Stage:       "coordinator",
		Model:       c.llm.Model(),
		Input:       summary,
		Output:      string(output),
		Explanation: advisory.Reasoning,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.exchange.UploadAILog(ctx, entry); err != nil {
			c.log.Debug().Err(err).Msg("AI log upload failed")
		}
	}()
}

func normalizeAction(s string) Action {
	switch Action(s) {
	case ActionLong, ActionShort, ActionHold, ActionClose:
		return Action(s)
	default:
		return ActionHold
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
