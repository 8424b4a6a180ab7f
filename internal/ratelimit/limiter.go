// Package ratelimit provides a keyed token-bucket limiter used to
// throttle login attempts.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/zedctl/internal/clock"
)

// Limiter tracks one token bucket per key.
type Limiter struct {
	clk clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	stop    sync.Once
}

type bucket struct {
	tokens   int
	lastFill time.Time
	lastSeen time.Time
}

// NewLimiter creates a limiter. A nil clock uses real time.
func NewLimiter(clk clock.Clock) *Limiter {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Limiter{
		clk:     clk,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
}

// Allow reports whether a request for key fits within limit requests
// per interval. The bucket refills fully once the interval elapses.
func (l *Limiter) Allow(key string, limit int, interval time.Duration) bool {
	now := l.clk.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: limit, lastFill: now}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if now.Sub(b.lastFill) >= interval {
		b.tokens = limit
		b.lastFill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// StartCleanup evicts buckets idle longer than maxIdle every interval,
// until Stop is called.
func (l *Limiter) StartCleanup(interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-ticker.C:
				l.evictIdle(maxIdle)
			}
		}
	}()
}

// Stop ends the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stop.Do(func() { close(l.done) })
}

func (l *Limiter) evictIdle(maxIdle time.Duration) {
	cutoff := l.clk.Now().Add(-maxIdle)
	l.mu.Lock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
	l.mu.Unlock()
}
