// Package resilience builds the circuit breakers that guard outbound
// dependencies (push providers, the Kafka producer).
package resilience

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"callsignal-backend/pkg/logger"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "State of a circuit breaker (0=closed, 1=half_open, 2=open)",
		},
		[]string{"breaker"},
	)
	breakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Number of times a circuit breaker opened",
		},
		[]string{"breaker"},
	)
)

// BreakerConfig tunes a circuit breaker
type BreakerConfig struct {
	// Interval is the cyclic period of the closed state after which failure counts reset
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
	// HalfOpenRequests is how many trial requests may pass while half-open
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns settings suitable for best-effort fan-out sinks
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		HalfOpenRequests:    1,
	}
}

// NewBreaker creates a named circuit breaker that logs and exports its state
func NewBreaker[T any](name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[T] {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			breakerState.WithLabelValues(name).Set(stateValue(to))
			if to == gobreaker.StateOpen {
				breakerTrips.WithLabelValues(name).Inc()
			}
		},
	}

	breakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[T](settings)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
