// Package ratelimit throttles outbound provider calls with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/tierfetch/internal/metrics"
)

// providerKey labels the account-wide bucket in metrics.
const providerKey = "provider"

// Config holds rate limiter configuration. Non-positive rates disable a bucket.
type Config struct {
	// ProviderRPS caps calls against the provider account as a whole.
	ProviderRPS   float64
	ProviderBurst int
	// DomainRPS caps calls per target hostname.
	DomainRPS   float64
	DomainBurst int
}

// Limiter applies an account-wide bucket followed by a per-domain bucket.
type Limiter struct {
	mu          sync.Mutex
	provider    *rate.Limiter
	domains     map[string]*rate.Limiter
	domainRate  rate.Limit
	domainBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	providerRate, providerBurst := limitFor(cfg.ProviderRPS, cfg.ProviderBurst)
	domainRate, domainBurst := limitFor(cfg.DomainRPS, cfg.DomainBurst)
	return &Limiter{
		provider:    rate.NewLimiter(providerRate, providerBurst),
		domains:     make(map[string]*rate.Limiter),
		domainRate:  domainRate,
		domainBurst: domainBurst,
	}
}

func limitFor(rps float64, burst int) (rate.Limit, int) {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return r, burst
}

// Wait blocks until both the provider and the target domain have a token, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if err := wait(ctx, l.provider, providerKey); err != nil {
		return err
	}
	domain := domainOf(rawURL)
	return wait(ctx, l.domainLimiter(domain), domain)
}

func (l *Limiter) domainLimiter(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.domains[domain]
	if !exists {
		limiter = rate.NewLimiter(l.domainRate, l.domainBurst)
		l.domains[domain] = limiter
	}
	return limiter
}

func wait(ctx context.Context, limiter *rate.Limiter, label string) error {
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(label, duration)
	}
	return nil
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
