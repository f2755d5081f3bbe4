// Package ratelimit holds the per-provider token buckets shared by every
// outbound client so pacing is decided in one place.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"niche-backend/internal/shared/config"
)

// Waiter blocks until the caller may issue one request.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Registry hands out one limiter per provider name.
type Registry struct {
	mu       sync.Mutex
	rules    map[string]config.RateLimit
	limiters map[string]*rate.Limiter
}

// NewRegistry builds a registry from provider rules. Providers without a rule
// are unlimited.
func NewRegistry(rules map[string]config.RateLimit) *Registry {
	copied := make(map[string]config.RateLimit, len(rules))
	for k, v := range rules {
		copied[k] = v
	}
	return &Registry{
		rules:    copied,
		limiters: make(map[string]*rate.Limiter),
	}
}

// For returns the shared limiter for provider.
func (r *Registry) For(provider string) *rate.Limiter {
	if r == nil {
		return rate.NewLimiter(rate.Inf, 1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[provider]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rule, ok := r.rules[provider]; ok && rule.RPS > 0 {
		burst := rule.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rule.RPS), burst)
	}
	r.limiters[provider] = lim
	return lim
}

// Unlimited returns a Waiter that never blocks.
func Unlimited() Waiter {
	return rate.NewLimiter(rate.Inf, 1)
}
