package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"daa-assistant/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func TestOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "weather", FailureThreshold: 2, RetryTimeout: time.Minute}, logger.Nop())

	assert.ErrorIs(t, cb.Execute(func() error { return errUpstream }), errUpstream)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return errUpstream }), errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestHalfOpenRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Config{Name: "sensor", FailureThreshold: 1, SuccessThreshold: 1, RetryTimeout: 30 * time.Second}, logger.Nop())
	cb.SetClock(func() time.Time { return now })

	require.Error(t, cb.Execute(func() error { return errUpstream }))
	require.Equal(t, StateOpen, cb.GetState())

	now = now.Add(31 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Config{Name: "calendar", FailureThreshold: 1, RetryTimeout: time.Second}, logger.Nop())
	cb.SetClock(func() time.Time { return now })

	require.Error(t, cb.Execute(func() error { return errUpstream }))
	now = now.Add(2 * time.Second)
	require.Error(t, cb.Execute(func() error { return errUpstream }))
	assert.Equal(t, StateOpen, cb.GetState())
	assert.EqualValues(t, 2, cb.GetMetrics()["open_circuit_count"])
}

func TestDoAppliesTimeout(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "slow", FailureThreshold: 5, Timeout: 20 * time.Millisecond}, logger.Nop())

	err := cb.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, cb.GetMetrics()["total_failures"])
}

func TestCallerCancellationIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "health", FailureThreshold: 1, Timeout: time.Second}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		err := cb.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, StateClosed, cb.GetState())
	assert.EqualValues(t, 0, cb.GetMetrics()["total_failures"])
	assert.NoError(t, cb.Do(context.Background(), func(context.Context) error { return nil }))
}
