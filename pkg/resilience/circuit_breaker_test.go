package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		TimeoutThreshold: time.Second,
	}, nil, nil)

	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	_, err := cb.Execute(context.Background(), failing)
	require.Error(t, err)
	assert.Equal(t, CircuitBreakerClosed, cb.State())

	_, err = cb.Execute(context.Background(), failing)
	require.Error(t, err)
	assert.Equal(t, CircuitBreakerOpen, cb.State())

	_, err = cb.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		SuccessThreshold: 1,
		TimeoutThreshold: time.Second,
	}, nil, nil)

	_, err := cb.Execute(context.Background(), func() (interface{}, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, CircuitBreakerOpen, cb.State())

	// After one failure the cooldown is ResetTimeout*2 ±20%, at most 24ms.
	time.Sleep(30 * time.Millisecond)

	_, err = cb.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, CircuitBreakerClosed, cb.State())
}

func TestCircuitBreakerExecuteTimesOut(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 5,
		TimeoutThreshold: 10 * time.Millisecond,
	}, nil, nil)

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerTimeout)
}

func TestNextBackoffRespectsCeiling(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		ResetTimeout:    time.Second,
		MaxResetTimeout: 5 * time.Second,
	}, nil, nil)

	delay := cb.NextBackoff(20)
	assert.LessOrEqual(t, delay, time.Duration(float64(5*time.Second)*1.2))
}

func TestCircuitBreakerOpenRejectionsDoNotResetCooldown(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     20 * time.Millisecond,
		SuccessThreshold: 1,
		TimeoutThreshold: time.Second,
	}, nil, nil)

	_, err := cb.Execute(context.Background(), func() (interface{}, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	require.Equal(t, CircuitBreakerOpen, cb.State())

	// Poll the breaker repeatedly while still within the cooldown, the way
	// ChainMonitor.Run does every ~250ms. None of these rejections should
	// push the cooldown clock further out.
	deadline := time.Now().Add(15 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, err := cb.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
		assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, CircuitBreakerOpen, cb.State())

	// After one failure the cooldown is ResetTimeout*2 ±20%, at most 48ms.
	time.Sleep(40 * time.Millisecond)

	_, err = cb.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, CircuitBreakerClosed, cb.State())
}

func TestCircuitBreakerManagerReusesInstance(t *testing.T) {
	mgr := NewCircuitBreakerManager(nil, nil, CircuitBreakerConfig{})
	a := mgr.GetCircuitBreaker("chain-1")
	b := mgr.GetCircuitBreaker("chain-1")
	assert.Same(t, a, b)
}
