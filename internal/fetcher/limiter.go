package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	host        string
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("fetcher: reducing rate after 429",
		zap.String("host", a.host),
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// Limiters hands out one AdaptiveLimiter per host. A single Limiters value is
// shared by every session so concurrent crawls of the same registry are
// throttled together.
type Limiters struct {
	mu    sync.Mutex
	rate  rate.Limit
	burst int
	hosts map[string]*AdaptiveLimiter
}

// NewLimiters creates a host limiter set. Non-positive rates default to 2/s.
func NewLimiters(perSecond float64, burst int) *Limiters {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiters{
		rate:  rate.Limit(perSecond),
		burst: burst,
		hosts: make(map[string]*AdaptiveLimiter),
	}
}

// For returns the limiter for host, creating it on first use.
func (l *Limiters) For(host string) *AdaptiveLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.hosts[host]; ok {
		return lim
	}
	lim := NewAdaptiveLimiter(l.rate, l.burst)
	lim.host = host
	l.hosts[host] = lim
	return lim
}
