package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Hour})

	fail := func() error { return errBoom }
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "open circuit must not invoke the function")
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})

	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Error(t, cb.Execute(func() error { return errBoom }))

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	require.Error(t, cb.Execute(func() error { return errBoom }))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBackoffDelayBounds(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: 500 * time.Millisecond}

	for attempt := 0; attempt < 8; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
}
