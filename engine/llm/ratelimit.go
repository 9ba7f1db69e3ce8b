package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound provider calls per provider name so one
// chatty world cannot exhaust a shared API quota.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows callsPerMinute sustained calls per provider with
// the given burst. callsPerMinute <= 0 disables throttling.
func NewRateLimiter(callsPerMinute, burst int) *RateLimiter {
	var limit rate.Limit
	if callsPerMinute <= 0 {
		limit = rate.Inf
	} else {
		limit = rate.Limit(float64(callsPerMinute) / 60.0)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *RateLimiter) limiterFor(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[provider] = lim
	}
	return lim
}

// Wait blocks until the provider may issue another call or the context is
// cancelled.
func (l *RateLimiter) Wait(ctx context.Context, provider string) error {
	return l.limiterFor(provider).Wait(ctx)
}

// Allow reports whether a call may proceed right now without waiting.
func (l *RateLimiter) Allow(provider string) bool {
	return l.limiterFor(provider).Allow()
}
