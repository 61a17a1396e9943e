package agents

import (
	"time"

	"perpdirector/internal/signal"
)

// Signal is an agent's directional call.
type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// Action is the coordinator's fused recommendation.
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionHold  Action = "hold"
	ActionClose Action = "close"
)

// AgentReport is one agent's latest analysis. Exactly one report per agent is
// retained; each cycle overwrites the previous one.
type AgentReport struct {
	AgentName  string             `json:"agent_name"`
	Role       string             `json:"role"`
	Timestamp  time.Time          `json:"timestamp"`
	Signal     Signal             `json:"signal"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning"`
	Payload    map[string]float64 `json:"payload,omitempty"`
}

// Advisory is the coordinator's fused view of the market. The hot loop reads
// only the most recent advisory; one older than the decay window behaves as
// hold with zero confidence.
type Advisory struct {
	Action           Action            `json:"action"`
	Confidence       float64           `json:"confidence"`
	PositionSizeHint float64           `json:"position_size_hint"`
	StopLossPct      float64           `json:"stop_loss_pct"`
	TakeProfitPct    float64           `json:"take_profit_pct"`
	Reasoning        string            `json:"reasoning"`
	GeneratedAt      time.Time         `json:"generated_at"`
	AgentVotes       map[string]Signal `json:"agent_votes,omitempty"`
}

// Stale reports whether the advisory has outlived the decay window.
func (a *Advisory) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(a.GeneratedAt) > window
}

// Bias returns the signed AI bias strength for the signal combiner:
// +confidence for long, -confidence for short, zero otherwise.
func (a *Advisory) Bias() float64 {
	switch a.Action {
	case ActionLong:
		return a.Confidence
	case ActionShort:
		return -a.Confidence
	default:
		return 0
	}
}

// TradingConfig is the execution parameter snapshot the hot loop reads on
// every tick. The coordinator republishes it after each advisory; single
// writer, many readers.
type TradingConfig struct {
	Weights         signal.Weights `json:"weights"`
	SignalThreshold float64        `json:"signal_threshold"`
	MinConfidence   float64        `json:"min_confidence"`
	Cooldown        time.Duration  `json:"cooldown"`
	DecayWindow     time.Duration  `json:"decay_window"`
	RiskPerTrade    float64        `json:"risk_per_trade"`
	MaxPositionSize float64        `json:"max_position_size"`
}
