package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Breaker calls are labeled by breaker name and outcome: ok, failed or rejected.
var (
	breakerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loyalty",
		Subsystem: "breaker",
		Name:      "calls_total",
		Help:      "Calls routed through a circuit breaker, by outcome",
	}, []string{"breaker", "outcome"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "loyalty",
		Subsystem: "breaker",
		Name:      "open",
		Help:      "1 while the breaker is open, 0.5 while half-open, 0 when closed",
	}, []string{"breaker"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loyalty",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions",
	}, []string{"breaker", "to"})
)

func observeState(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 0.5
	}
	breakerState.WithLabelValues(name).Set(v)
}

func observeCall(name, outcome string) {
	breakerCalls.WithLabelValues(name, outcome).Inc()
}
