package inmem

import (
	"context"
	"math"
	"sync"
	"time"

	"rolegate/internal/gateway"
)

// DefaultIdleTTL is how long a bucket may go unused before Cleanup drops it.
const DefaultIdleTTL = 10 * time.Minute

// RateLimiter is a token bucket limiter with one bucket per key. Keys are
// principal subjects or client IPs.
type RateLimiter struct {
	rate    float64 // tokens per second
	burst   int     // bucket capacity
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// take refills the bucket for the time elapsed since it was last seen and
// tries to spend one token.
func (b *bucket) take(now time.Time, rate float64, burst int) bool {
	b.tokens = math.Min(float64(burst), b.tokens+now.Sub(b.lastSeen).Seconds()*rate)
	b.lastSeen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// NewRateLimiter creates a rate limiter allowing rate requests per second
// with bursts of up to burst. clock is injectable for deterministic tests.
func NewRateLimiter(rate float64, burst int, clock func() time.Time) *RateLimiter {
	return &RateLimiter{
		rate:    rate,
		burst:   burst,
		idleTTL: DefaultIdleTTL,
		now:     clock,
		buckets: make(map[string]*bucket),
	}
}

// Allow spends a token from key's bucket, creating a full bucket on first use.
func (rl *RateLimiter) Allow(key string) gateway.RateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastSeen: now}
		rl.buckets[key] = b
	}

	res := gateway.RateLimitResult{Limit: rl.burst}
	if b.take(now, rl.rate, rl.burst) {
		res.Allowed = true
		res.Remaining = int(b.tokens)
		return res
	}

	res.RetryAfter = max(int(math.Ceil((1-b.tokens)/rl.rate)), 1)
	return res
}

// Cleanup drops buckets idle for longer than the idle TTL. A dropped key
// starts again with a full bucket.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idleTTL {
			delete(rl.buckets, key)
		}
	}
}

// RunCleanup calls Cleanup every interval until ctx is cancelled.
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// BucketCount returns the number of live buckets.
func (rl *RateLimiter) BucketCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
