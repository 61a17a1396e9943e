// Package alerts delivers operator notifications for risk and connectivity
// events.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Severity levels for alerts.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one operator notification.
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Alerter delivers alerts over one channel.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every configured channel. Delivery failures are
// logged and never propagate to the trading path.
type Manager struct {
	alerters []Alerter
	log      zerolog.Logger
}

// NewManager creates an alert manager.
func NewManager(log zerolog.Logger, alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
		log:      log.With().Str("component", "alerts").Logger(),
	}
}

// Send delivers an alert to all channels.
func (m *Manager) Send(ctx context.Context, alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	for _, a := range m.alerters {
		if err := a.Send(ctx, alert); err != nil {
			m.log.Error().Err(err).Str("title", alert.Title).Msg("Failed to send alert")
		}
	}
}

// RiskTripped announces a latched risk breaker.
func (m *Manager) RiskTripped(ctx context.Context, symbol, reason string) {
	m.Send(ctx, Alert{
		Title:    "Risk breaker tripped",
		Message:  fmt.Sprintf("Trading halted for %s: %s. Manual reset required.", symbol, reason),
		Severity: SeverityCritical,
		Fields:   map[string]interface{}{"symbol": symbol, "reason": reason},
	})
}

// FeedSevered announces a degraded market data link.
func (m *Manager) FeedSevered(ctx context.Context, symbol string) {
	m.Send(ctx, Alert{
		Title:    "Market data link severed",
		Message:  fmt.Sprintf("WebSocket feed for %s gave up reconnecting; running on REST fallback.", symbol),
		Severity: SeverityWarning,
		Fields:   map[string]interface{}{"symbol": symbol},
	})
}

// OrderFailed announces a rejected order placement.
func (m *Manager) OrderFailed(ctx context.Context, symbol, side string, size float64, err error) {
	m.Send(ctx, Alert{
		Title:    "Order placement failed",
		Message:  fmt.Sprintf("Failed to place %s %s order: %v", symbol, side, err),
		Severity: SeverityWarning,
		Fields:   map[string]interface{}{"symbol": symbol, "side": side, "size": size},
	})
}

// LogAlerter writes alerts to the structured log. Critical alerts render a
// high-visibility banner so a tripped breaker cannot be missed in a scrollback.
type LogAlerter struct {
	log zerolog.Logger
}

// NewLogAlerter creates a log-backed alerter.
func NewLogAlerter(log zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

// Send writes the alert at a level matching its severity.
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	var event *zerolog.Event
	switch alert.Severity {
	case SeverityCritical:
		event = l.log.Error()
	case SeverityWarning:
		event = l.log.Warn()
	default:
		event = l.log.Info()
	}

	for key, value := range alert.Fields {
		event = event.Interface(key, value)
	}

	msg := alert.Message
	if alert.Severity == SeverityCritical {
		msg = fmt.Sprintf("!!! %s !!! %s", alert.Title, alert.Message)
	}
	event.Str("alert", alert.Title).Msg(msg)
	return nil
}
