package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per key (a client IP for connection
// attempts). Buckets not seen within ttl are evicted in the background.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	r          rate.Limit
	burst      int
	ttl        time.Duration
	maxEntries int
	cancel     context.CancelFunc
}

// NewRateLimiter creates a keyed limiter refilling at r tokens per second with
// the given burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		buckets:    make(map[string]*bucket),
		r:          r,
		burst:      burst,
		ttl:        10 * time.Minute,
		maxEntries: 10000,
		cancel:     cancel,
	}
	go rl.evictLoop(ctx)
	return rl
}

// PerMinute converts a per-minute allowance into a rate.Limit.
func PerMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// Allow reports whether a connection attempt from key may proceed now. Once
// maxEntries client addresses hold a bucket, attempts from new addresses are
// refused until idle ones are evicted.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= rl.maxEntries {
			rl.mu.Unlock()
			return false
		}
		b = &bucket{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()

	return b.limiter.Allow()
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Stop shuts down the eviction goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

// UpdateRate changes the limits. Existing buckets are discarded so every key
// picks up the new rate on its next attempt.
func (rl *RateLimiter) UpdateRate(r rate.Limit, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.r = r
	rl.burst = burst
	rl.buckets = make(map[string]*bucket)
}

func (rl *RateLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict(time.Now())
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.ttl {
			delete(rl.buckets, key)
		}
	}
}

// NewMessageLimiter returns the per-connection limiter for inbound session
// messages, or nil when perSecond is not positive.
func NewMessageLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}
