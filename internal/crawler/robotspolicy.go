package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlrules/internal/metrics"
	"github.com/JakeFAU/crawlrules/internal/robots"
)

const (
	maxRobotsBytes         = 1 << 20
	defaultRobotsCacheSize = 1024
)

// RobotsConfig configures a RobotsEnforcer.
type RobotsConfig struct {
	UserAgent string
	// CacheTTL bounds how long an entry is reused; zero keeps entries for the process lifetime.
	CacheTTL time.Duration
	// CacheSize caps the number of cached hosts; least recently used hosts are evicted first.
	CacheSize int
	// Client fetches robots.txt; nil builds one with Timeout.
	Client  *http.Client
	Timeout time.Duration
	Clock   Clock
}

type robotsEntry struct {
	rules   *robots.RobotsTxt
	status  RobotsStatus
	expires time.Time
}

// RobotsEnforcer fetches, parses and caches robots.txt per host.
type RobotsEnforcer struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	clock     Clock
	logger    *zap.Logger
	cache     *lru.Cache[string, robotsEntry]
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewRobotsEnforcer builds an enforcer for cfg.UserAgent.
func NewRobotsEnforcer(cfg RobotsConfig, logger *zap.Logger) *RobotsEnforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = wallClock{}
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultRobotsCacheSize
	}
	// lru.New only fails on a non-positive size.
	cache, _ := lru.New[string, robotsEntry](size)
	return &RobotsEnforcer{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       cfg.CacheTTL,
		clock:     clock,
		logger:    logger,
		cache:     cache,
	}
}

// NewRobotsPolicy returns enforcer when respect is set and an allow-all policy otherwise.
func NewRobotsPolicy(respect bool, enforcer *RobotsEnforcer) RobotsPolicy {
	if !respect || enforcer == nil {
		return allowAllPolicy{}
	}
	return enforcer
}

// UserAgent returns the agent the enforcer evaluates by default.
func (r *RobotsEnforcer) UserAgent() string {
	return r.userAgent
}

// Allowed implements RobotsPolicy.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) bool {
	return r.AllowedFor(ctx, rawURL, r.userAgent)
}

// AllowedFor evaluates rawURL for an arbitrary user agent. Unparseable URLs are denied.
func (r *RobotsEnforcer) AllowedFor(ctx context.Context, rawURL, userAgent string) bool {
	if r == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || !IsCrawlable(parsed) {
		metrics.ObserveRobotsDecision(false)
		return false
	}
	rules, _ := r.lookup(ctx, parsed)
	allowed := rules.Allows(RobotsPath(parsed), userAgent)
	metrics.ObserveRobotsDecision(allowed)
	return allowed
}

// CrawlDelay implements RobotsPolicy.
func (r *RobotsEnforcer) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	rules, _ := r.Lookup(ctx, rawURL)
	return time.Duration(rules.CrawlDelay(r.userAgent)) * time.Second
}

// Sitemaps implements RobotsPolicy.
func (r *RobotsEnforcer) Sitemaps(ctx context.Context, rawURL string) []string {
	rules, _ := r.Lookup(ctx, rawURL)
	return rules.Sitemaps()
}

// Status reports how the robots.txt governing rawURL was obtained.
func (r *RobotsEnforcer) Status(ctx context.Context, rawURL string) RobotsStatus {
	_, status := r.Lookup(ctx, rawURL)
	return status
}

// Lookup returns the parsed robots.txt governing rawURL and how it was obtained.
// The rules are nil when the host is unreachable; nil rules allow everything.
func (r *RobotsEnforcer) Lookup(ctx context.Context, rawURL string) (*robots.RobotsTxt, RobotsStatus) {
	if r == nil {
		return nil, RobotsStatusIgnored
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || !IsCrawlable(parsed) {
		return nil, RobotsStatusUnknown
	}
	return r.lookup(ctx, parsed)
}

func (r *RobotsEnforcer) lookup(ctx context.Context, parsed *url.URL) (*robots.RobotsTxt, RobotsStatus) {
	hostKey := HostKey(parsed)
	now := r.clock.Now()

	entry, ok := r.cache.Get(hostKey)
	if ok && (r.ttl <= 0 || now.Before(entry.expires)) {
		return entry.rules, entry.status
	}

	rules, status, err := r.fetch(ctx, parsed)
	metrics.ObserveRobotsFetch(string(status))
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return nil, status
	}

	r.cache.Add(hostKey, robotsEntry{rules: rules, status: status, expires: now.Add(r.ttl)})
	return rules, status
}

func (r *RobotsEnforcer) fetch(ctx context.Context, parsed *url.URL) (*robots.RobotsTxt, RobotsStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, RobotsURL(parsed), nil)
	if err != nil {
		return nil, RobotsStatusUnavailable, fmt.Errorf("new robots request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, RobotsStatusUnavailable, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		rules, err := robots.Parse(io.LimitReader(resp.Body, maxRobotsBytes))
		if err != nil {
			return nil, RobotsStatusUnavailable, fmt.Errorf("read robots body: %w", err)
		}
		if resp.Header.Get(RobotsFallbackHeader) != "" {
			r.logger.Info("robots.txt replaced by fallback",
				zap.String("host", parsed.Host),
				zap.String("reason", resp.Header.Get(RobotsFallbackHeader)),
			)
			return rules, RobotsStatusIndeterminate, nil
		}
		return rules, RobotsStatusFetched, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return robots.NewBuilder().Build(), RobotsStatusMissing, nil
	default:
		return nil, RobotsStatusUnavailable, fmt.Errorf("fetch robots: unexpected status %d", resp.StatusCode)
	}
}

type allowAllPolicy struct{}

func (allowAllPolicy) Allowed(context.Context, string) bool { return true }

func (allowAllPolicy) CrawlDelay(context.Context, string) time.Duration { return 0 }

func (allowAllPolicy) Sitemaps(context.Context, string) []string { return nil }

func (allowAllPolicy) Status(context.Context, string) RobotsStatus { return RobotsStatusIgnored }
