package memory

import (
	"context"
	"sync"
	"time"

	"custodial-ledger/internal/core/ports"

	"golang.org/x/time/rate"
)

// RateLimiter implements ports.RateLimiter with one token bucket per key.
// Buckets refill continuously, so limit requests are allowed per window
// on average.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*rate.Limiter)}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	if limit < 1 {
		limit = 1
	}
	every := window / time.Duration(limit)

	r.mu.Lock()
	b, ok := r.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(every), int(limit))
		r.buckets[key] = b
	}
	r.mu.Unlock()

	now := time.Now()
	allowed := b.AllowN(now, 1)
	remaining := int64(b.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(every).Unix(),
	}, nil
}
