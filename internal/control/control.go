// Package control is the operator control plane: a NATS subject carrying
// pause, resume and risk-reset commands for a running engine.
package control

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject is the control subject when none is configured.
const DefaultSubject = "perpdirector.control"

// Event is one operator command.
type Event struct {
	Event  string `json:"event"`
	Symbol string `json:"symbol,omitempty"` // risk_reset only; empty means all
	Reason string `json:"reason,omitempty"`
}

// Engine is the control surface the plane drives.
type Engine interface {
	Pause()
	Resume()
	ResetRisk(symbol string) error
}

// Plane subscribes to the control subject and applies operator commands.
type Plane struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	engine  Engine
	log     zerolog.Logger
}

// Connect dials NATS and subscribes to the control subject.
func Connect(url, subject string, engine Engine, log zerolog.Logger) (*Plane, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := &Plane{
		conn:    conn,
		subject: subject,
		engine:  engine,
		log:     log.With().Str("component", "control").Logger(),
	}

	sub, err := conn.Subscribe(subject, p.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	p.sub = sub

	p.log.Info().Str("url", url).Str("subject", subject).Msg("Control plane connected")
	return p, nil
}

// Close drains the subscription and closes the connection.
func (p *Plane) Close() {
	if p.sub != nil {
		_ = p.sub.Unsubscribe()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// handle processes one control message. Malformed and unknown events are
// logged and dropped; a bad message must never take the engine down.
func (p *Plane) handle(msg *nats.Msg) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		p.log.Error().Err(err).Msg("Failed to unmarshal control event")
		return
	}
	p.apply(event)
}

func (p *Plane) apply(event Event) {
	switch event.Event {
	case "trading_paused":
		p.engine.Pause()
		p.log.Warn().Str("reason", event.Reason).Msg("Trading paused by operator")

	case "trading_resumed":
		p.engine.Resume()
		p.log.Info().Msg("Trading resumed by operator")

	case "risk_reset":
		if err := p.engine.ResetRisk(event.Symbol); err != nil {
			p.log.Error().Err(err).Str("symbol", event.Symbol).Msg("Risk reset rejected")
			return
		}
		p.log.Info().Str("symbol", event.Symbol).Msg("Risk engine reset by operator")

	default:
		p.log.Debug().Str("event", event.Event).Msg("Unknown control event")
	}
}
