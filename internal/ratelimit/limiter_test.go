package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grimm.is/zedctl/internal/clock"
)

func TestAllowWithinLimit(t *testing.T) {
	l := NewLimiter(nil)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("1.2.3.4", 5, time.Minute), "request %d", i)
	}
	assert.False(t, l.Allow("1.2.3.4", 5, time.Minute))

	// Other keys are independent.
	assert.True(t, l.Allow("5.6.7.8", 5, time.Minute))
}

func TestRefillAfterInterval(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1700000000, 0))
	l := NewLimiter(clk)

	assert.True(t, l.Allow("k", 1, time.Minute))
	assert.False(t, l.Allow("k", 1, time.Minute))

	clk.Advance(time.Minute)
	assert.True(t, l.Allow("k", 1, time.Minute))
}

func TestReset(t *testing.T) {
	l := NewLimiter(nil)
	assert.True(t, l.Allow("k", 1, time.Minute))
	assert.False(t, l.Allow("k", 1, time.Minute))

	l.Reset("k")
	assert.True(t, l.Allow("k", 1, time.Minute))
}

func TestEvictIdle(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1700000000, 0))
	l := NewLimiter(clk)

	l.Allow("stale", 1, time.Minute)
	clk.Advance(2 * time.Hour)
	l.Allow("fresh", 1, time.Minute)

	l.evictIdle(time.Hour)

	l.mu.Lock()
	_, staleOK := l.buckets["stale"]
	_, freshOK := l.buckets["fresh"]
	l.mu.Unlock()
	assert.False(t, staleOK)
	assert.True(t, freshOK)
}
