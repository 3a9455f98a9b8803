package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/richxcame/store-loyalty/pkg/config"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings tunes a CircuitBreaker
type Settings struct {
	Name             string
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// SettingsFor converts a config section into breaker settings, filling defaults
// for unset or negative knobs.
func SettingsFor(name string, cfg config.BreakerConfig) Settings {
	s := Settings{
		Name:             name,
		Interval:         cfg.Interval,
		Timeout:          cfg.OpenTimeout,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold > 0 {
		s.FailureThreshold = uint32(cfg.FailureThreshold)
	}
	if cfg.SuccessThreshold > 0 {
		s.SuccessThreshold = uint32(cfg.SuccessThreshold)
	}
	return s
}

// Operation is the guarded call
type Operation func(ctx context.Context) (interface{}, error)

// RejectFunc decides what a caller gets back when the breaker refuses a call
type RejectFunc func(ctx context.Context, err error) (interface{}, error)

// Reject returns ErrCircuitOpen
func Reject(ctx context.Context, err error) (interface{}, error) {
	return nil, ErrCircuitOpen
}

// WarnAndReject logs that dependency is degraded and returns ErrCircuitOpen
func WarnAndReject(dependency string) RejectFunc {
	return func(ctx context.Context, err error) (interface{}, error) {
		logger.WithContext(ctx).Warn("circuit breaker rejected call",
			zap.String("dependency", dependency),
			zap.Error(err),
		)
		return nil, ErrCircuitOpen
	}
}

// CircuitBreaker wraps gobreaker with a rejection handler and Prometheus metrics
type CircuitBreaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	onReject RejectFunc
}

// NewCircuitBreaker builds a breaker that opens after FailureThreshold consecutive failures
func NewCircuitBreaker(settings Settings, onReject RejectFunc) *CircuitBreaker {
	if settings.Name == "" {
		settings.Name = "default"
	}
	if onReject == nil {
		onReject = Reject
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.SuccessThreshold,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			breakerTransitions.WithLabelValues(name, to.String()).Inc()
			observeState(name, to)
		},
	})
	observeState(settings.Name, gobreaker.StateClosed)

	return &CircuitBreaker{name: settings.Name, cb: cb, onReject: onReject}
}

// Execute runs op through the breaker. An open or saturated breaker hands the call to onReject.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return op(ctx)
	})
	switch {
	case err == nil:
		observeCall(b.name, "ok")
		return result, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		observeCall(b.name, "rejected")
		return b.onReject(ctx, err)
	default:
		observeCall(b.name, "failed")
		return nil, err
	}
}

// Name returns the breaker name used in metrics
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current breaker state
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}
