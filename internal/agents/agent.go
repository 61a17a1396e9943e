// Package agents provides the role-specialized analysis agents and the lead
// coordinator that fuses their reports into a single advisory.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"perpdirector/internal/exchange"
	"perpdirector/internal/llm"
)

// Agent is one role-specialized analysis worker. On a fixed interval it
// gathers role-specific market inputs, asks the language model for a
// structured call and stores the result as its latest report. Cycles never
// overlap: the loop runs in a single goroutine and a slow cycle simply
// absorbs the next tick.
type Agent struct {
	name     string
	role     string
	symbol   string
	interval time.Duration

	exchange   exchange.Client
	llm        *llm.Client
	llmTimeout time.Duration
	log        zerolog.Logger

	// paused, when set and true, makes cycles no-ops so no model calls are
	// spent while an operator has trading halted.
	paused *atomic.Bool

	latest      atomic.Pointer[AgentReport]
	counterpart atomic.Pointer[Agent]
	onReport    []func(AgentReport)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// AgentOptions configures a new Agent.
type AgentOptions struct {
	Name       string
	Role       string
	Symbol     string
	Interval   time.Duration
	Exchange   exchange.Client
	LLM        *llm.Client
	LLMTimeout time.Duration
	Logger     zerolog.Logger
	Paused     *atomic.Bool
}

// NewAgent creates an analysis agent. It does not start the cycle loop.
func NewAgent(opts AgentOptions) *Agent {
	if opts.Name == "" {
		opts.Name = opts.Role
	}
	if opts.Interval <= 0 {
		opts.Interval = 12 * time.Second
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = opts.Interval - 2*time.Second
		if opts.LLMTimeout < time.Second {
			opts.LLMTimeout = time.Second
		}
	}
	return &Agent{
		name:       opts.Name,
		role:       opts.Role,
		symbol:     opts.Symbol,
		interval:   opts.Interval,
		exchange:   opts.Exchange,
		llm:        opts.LLM,
		llmTimeout: opts.LLMTimeout,
		log:        opts.Logger.With().Str("agent", opts.Name).Str("role", opts.Role).Str("symbol", opts.Symbol).Logger(),
		paused:     opts.Paused,
	}
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Role returns the agent role.
func (a *Agent) Role() string { return a.role }

// SetCounterpart wires the opposing debater for the bull and bear roles. The
// counterpart's latest thesis is included in the prompt as context.
func (a *Agent) SetCounterpart(other *Agent) {
	a.counterpart.Store(other)
}

// OnReport registers a callback invoked after every stored report. Callbacks
// must all be registered before Start.
func (a *Agent) OnReport(fn func(AgentReport)) {
	a.onReport = append(a.onReport, fn)
}

// LatestReport returns the most recent report, or nil before the first cycle
// completes.
func (a *Agent) LatestReport() *AgentReport {
	return a.latest.Load()
}

// Start launches the cycle loop. The first cycle runs immediately.
func (a *Agent) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.run(ctx)
	a.log.Info().Dur("interval", a.interval).Msg("Agent started")
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.log.Info().Msg("Agent stopped")
}

func (a *Agent) run(ctx context.Context) {
	defer a.wg.Done()

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

// agentReply is the structured model response.
type agentReply struct {
	Signal     string             `json:"signal"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning"`
	Data       map[string]float64 `json:"data,omitempty"`
}

// cycle runs one analysis round. Every failure path degrades to a neutral
// report; nothing here may panic or return an error to the loop.
func (a *Agent) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if a.paused != nil && a.paused.Load() {
		a.log.Debug().Msg("Cycle skipped, trading paused")
		return
	}
	start := time.Now()

	inputs, err := a.gatherInputs(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("Input gathering failed, reporting neutral")
		a.store(a.neutralReport(fmt.Sprintf("error: %v", err)))
		return
	}

	userPrompt, err := json.Marshal(inputs)
	if err != nil {
		a.store(a.neutralReport(fmt.Sprintf("error: %v", err)))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, a.llmTimeout)
	defer cancel()

	var reply agentReply
	if err := a.llm.CompleteJSON(callCtx, llm.SystemPromptForRole(a.role), string(userPrompt), &reply); err != nil {
		a.log.Warn().Err(err).Msg("LLM call failed, reporting neutral")
		a.store(a.neutralReport("error"))
		return
	}

	report := AgentReport{
		AgentName:  a.name,
		Role:       a.role,
		Timestamp:  time.Now(),
		Signal:     normalizeSignal(reply.Signal),
		Confidence: clamp01(reply.Confidence),
		Reasoning:  reply.Reasoning,
		Payload:    reply.Data,
	}
	a.store(report)

	a.log.Debug().
		Str("signal", string(report.Signal)).
		Float64("confidence", report.Confidence).
		Dur("duration", time.Since(start)).
		Msg("Analysis cycle completed")
}

func (a *Agent) store(report AgentReport) {
	a.latest.Store(&report)
	for _, fn := range a.onReport {
		fn(report)
	}
}

func (a *Agent) neutralReport(reasoning string) AgentReport {
	return AgentReport{
		AgentName:  a.name,
		Role:       a.role,
		Timestamp:  time.Now(),
		Signal:     SignalNeutral,
		Confidence: 0.5,
		Reasoning:  reasoning,
	}
}

func normalizeSignal(s string) Signal {
	switch Signal(s) {
	case SignalBullish, SignalBearish, SignalNeutral:
		return Signal(s)
	default:
		return SignalNeutral
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
