package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("test")

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "closed", cb.State())
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     time.Minute,
	})

	boom := errors.New("provider down")
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
	}

	require.True(t, cb.IsOpen())
	assert.Equal(t, "open", cb.State())

	// Open circuit rejects without invoking fn.
	called := false
	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{
		MaxFailures:          1,
		Timeout:              20 * time.Millisecond,
		HalfOpenMaxSuccesses: 1,
	})

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, errors.New("fail once")
	})
	require.Error(t, err)
	require.True(t, cb.IsOpen())

	time.Sleep(50 * time.Millisecond)

	// Half-open lets a probe through; success closes the circuit.
	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreakerHonorsContext(t *testing.T) {
	cb := NewCircuitBreaker("test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := cb.Execute(ctx, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Minute,
	})

	fail := func() (interface{}, error) { return nil, errors.New("transient") }
	ok := func() (interface{}, error) { return nil, nil }

	_, _ = cb.Execute(context.Background(), fail)
	_, _ = cb.Execute(context.Background(), ok)
	_, _ = cb.Execute(context.Background(), fail)

	// Failures were never consecutive, so the circuit stays closed.
	assert.False(t, cb.IsOpen())
}
