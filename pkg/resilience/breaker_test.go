package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/richxcame/store-loyalty/pkg/config"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPublish = errors.New("nats: timeout")

func failing(ctx context.Context) (interface{}, error) {
	return nil, errPublish
}

func TestCircuitBreaker_PassesThrough(t *testing.T) {
	b := NewCircuitBreaker(Settings{Name: "pass-through"}, nil)

	result, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestCircuitBreaker_ReturnsOperationError(t *testing.T) {
	b := NewCircuitBreaker(Settings{Name: "op-error", FailureThreshold: 3}, nil)

	_, err := b.Execute(context.Background(), failing)

	assert.ErrorIs(t, err, errPublish)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(Settings{
		Name:             "opens",
		Timeout:          time.Minute,
		FailureThreshold: 2,
	}, nil)

	_, _ = b.Execute(context.Background(), failing)
	_, _ = b.Execute(context.Background(), failing)
	require.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	_, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not run the operation")
}

func TestCircuitBreaker_WarnAndReject(t *testing.T) {
	b := NewCircuitBreaker(Settings{
		Name:             "warn",
		Timeout:          time.Minute,
		FailureThreshold: 1,
	}, WarnAndReject("nats"))

	_, _ = b.Execute(context.Background(), failing)

	result, err := b.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Nil(t, result)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	b := NewCircuitBreaker(Settings{
		Name:             "recovers",
		Timeout:          20 * time.Millisecond,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	}, nil)

	_, _ = b.Execute(context.Background(), failing)
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)

	_, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestNewCircuitBreaker_DefaultName(t *testing.T) {
	b := NewCircuitBreaker(Settings{}, nil)
	assert.Equal(t, "default", b.Name())
}

func TestSettingsFor_Defaults(t *testing.T) {
	s := SettingsFor("loyalty-events", config.BreakerConfig{FailureThreshold: -1})

	assert.Equal(t, "loyalty-events", s.Name)
	assert.Equal(t, time.Minute, s.Interval)
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Equal(t, uint32(5), s.FailureThreshold)
	assert.Equal(t, uint32(1), s.SuccessThreshold)
}

func TestSettingsFor_Custom(t *testing.T) {
	s := SettingsFor("loyalty-events", config.BreakerConfig{
		Interval:         10 * time.Second,
		OpenTimeout:      5 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})

	assert.Equal(t, 10*time.Second, s.Interval)
	assert.Equal(t, 5*time.Second, s.Timeout)
	assert.Equal(t, uint32(3), s.FailureThreshold)
	assert.Equal(t, uint32(2), s.SuccessThreshold)
}

func TestCircuitBreaker_CountsOutcomes(t *testing.T) {
	b := NewCircuitBreaker(Settings{Name: "counted", Timeout: time.Minute, FailureThreshold: 1}, nil)
	ok := func(ctx context.Context) (interface{}, error) { return nil, nil }

	_, _ = b.Execute(context.Background(), ok)
	_, _ = b.Execute(context.Background(), failing)
	_, _ = b.Execute(context.Background(), ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(breakerCalls.WithLabelValues("counted", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerCalls.WithLabelValues("counted", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerCalls.WithLabelValues("counted", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("counted")))
}
