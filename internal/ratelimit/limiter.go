package ratelimit

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter throttles page requests per source host, so that many symbols
// scraped from the same site share one budget.
type Limiter struct {
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

// New returns a Limiter allowing perSecond requests per host with the given
// burst. A non-positive perSecond disables limiting.
func New(perSecond float64, burst int) *Limiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// forHost returns the limiter for host, creating it on first use
func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

// Wait blocks until the rate limiter permits a request for the given host
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if l == nil || l.limit == rate.Inf {
		return nil
	}
	return l.forHost(host).Wait(ctx)
}

// HostOf returns the host component of a locator, or the locator itself
// when it does not parse as a URL.
func HostOf(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return locator
	}
	return u.Host
}
