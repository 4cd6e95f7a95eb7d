// Package ratelimit implements per-host token bucket pacing, tightened by robots.txt crawl-delay.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawlrules/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	delays       map[string]time.Duration
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS of zero or less leaves hosts unthrottled until SetDelay is called.
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		delays:       make(map[string]time.Duration),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// SetDelay spaces requests to host at least delay apart. It only ever slows a
// host down relative to the default rate; a non-positive delay is ignored.
func (l *Limiter) SetDelay(host string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	key := strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.delays[key] == delay {
		return
	}
	l.delays[key] = delay

	limit := rate.Every(delay)
	if l.defaultRate < limit {
		limit = l.defaultRate
	}
	limiter, ok := l.limiters[key]
	if !ok {
		l.limiters[key] = rate.NewLimiter(limit, 1)
		return
	}
	limiter.SetLimit(limit)
	limiter.SetBurst(1)
}

// Limit reports the current rate for host.
func (l *Limiter) Limit(host string) rate.Limit {
	return l.limiterFor(strings.ToLower(host)).Limit()
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
