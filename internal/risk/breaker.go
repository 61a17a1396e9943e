package risk

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Transport breaker thresholds per service type.
const (
	// Exchange REST settings.
	exchangeMinRequests     = 5
	exchangeFailureRatio    = 0.6
	exchangeOpenTimeout     = 30 * time.Second
	exchangeHalfOpenMaxReqs = 3
	exchangeCountInterval   = 10 * time.Second

	// LLM settings: longer open timeout, model outages last a while.
	llmMinRequests     = 3
	llmFailureRatio    = 0.6
	llmOpenTimeout     = 60 * time.Second
	llmHalfOpenMaxReqs = 2
	llmCountInterval   = 10 * time.Second
)

// TransportBreakers wraps the gobreaker instances guarding outbound calls to
// the exchange REST API and the LLM provider. It is distinct from Engine:
// these protect transports, the engine protects capital.
type TransportBreakers struct {
	exchange *gobreaker.CircuitBreaker
	llm      *gobreaker.CircuitBreaker
}

var (
	breakerStateGauge *prometheus.GaugeVec
	breakerMetricOnce sync.Once
)

func initBreakerMetrics() {
	breakerMetricOnce.Do(func() {
		breakerStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perpdirector_circuit_breaker_state",
				Help: "Transport circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"service"},
		)
	})
}

// NewTransportBreakers creates breakers with the default thresholds.
func NewTransportBreakers() *TransportBreakers {
	initBreakerMetrics()

	t := &TransportBreakers{}

	t.exchange = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: exchangeHalfOpenMaxReqs,
		Interval:    exchangeCountInterval,
		Timeout:     exchangeOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= exchangeMinRequests && ratio >= exchangeFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			recordBreakerState(name, to)
		},
	})

	t.llm = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: llmHalfOpenMaxReqs,
		Interval:    llmCountInterval,
		Timeout:     llmOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= llmMinRequests && ratio >= llmFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			recordBreakerState(name, to)
		},
	})

	recordBreakerState("exchange", t.exchange.State())
	recordBreakerState("llm", t.llm.State())

	return t
}

// NewPassthroughBreakers creates breakers that never trip, for tests that
// exercise other components.
func NewPassthroughBreakers() *TransportBreakers {
	initBreakerMetrics()

	neverTrip := func(gobreaker.Counts) bool { return false }

	return &TransportBreakers{
		exchange: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "exchange_passthrough",
			MaxRequests: 1000,
			Timeout:     time.Millisecond,
			ReadyToTrip: neverTrip,
		}),
		llm: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm_passthrough",
			MaxRequests: 1000,
			Timeout:     time.Millisecond,
			ReadyToTrip: neverTrip,
		}),
	}
}

// Exchange returns the breaker guarding exchange REST calls.
func (t *TransportBreakers) Exchange() *gobreaker.CircuitBreaker {
	return t.exchange
}

// LLM returns the breaker guarding LLM completions.
func (t *TransportBreakers) LLM() *gobreaker.CircuitBreaker {
	return t.llm
}

func recordBreakerState(service string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	breakerStateGauge.WithLabelValues(service).Set(v)
}
