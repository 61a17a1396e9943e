// Package metrics exposes Prometheus collectors and the HTTP endpoint that
// serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts market data ticks processed per symbol.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpdirector_ticks_total",
		Help: "Market data ticks processed",
	}, []string{"symbol"})

	// OrdersTotal counts orders placed per symbol and side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpdirector_orders_total",
		Help: "Orders placed",
	}, []string{"symbol", "side"})

	// OrderFailures counts order placements rejected by the venue.
	OrderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpdirector_order_failures_total",
		Help: "Order placements that failed at the venue",
	}, []string{"symbol"})

	// AdvisoriesTotal counts published advisories per symbol and action.
	AdvisoriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpdirector_advisories_total",
		Help: "Advisories published by the coordinator",
	}, []string{"symbol", "action"})

	// AgentReportsTotal counts agent reports per symbol and signal.
	AgentReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpdirector_agent_reports_total",
		Help: "Analysis agent reports",
	}, []string{"symbol", "signal"})

	// Equity is the latest account equity per symbol's risk engine.
	Equity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perpdirector_equity",
		Help: "Account equity tracked by the risk engine",
	}, []string{"symbol"})

	// RiskTripped is 1 while a symbol's risk breaker is latched.
	RiskTripped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perpdirector_risk_tripped",
		Help: "Risk breaker state (0=armed, 1=tripped)",
	}, []string{"symbol"})

	// FeedDegraded is 1 while a symbol's market data link is severed.
	FeedDegraded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perpdirector_feed_degraded",
		Help: "Market data feed state (0=live, 1=degraded)",
	}, []string{"symbol"})
)
