package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	mgr := NewRateLimiterManager(RateLimiterConfig{Limit: 1, BurstFactor: 3})
	allowed := 0
	for i := 0; i < 5; i++ {
		if mgr.Allow("endpoint-1", 1) {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func TestRateLimiterFallsBackToDefault(t *testing.T) {
	mgr := NewRateLimiterManager(RateLimiterConfig{Limit: 2, BurstFactor: 1})
	assert.True(t, mgr.Allow("endpoint-1", 0))
}

func TestRateLimiterEvictsIdleEntries(t *testing.T) {
	mgr := NewRateLimiterManager(RateLimiterConfig{})
	mgr.Allow("endpoint-1", 10)
	evicted := mgr.EvictIdle(-time.Second)
	assert.Equal(t, 1, evicted)
}
