package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlrules/internal/metrics"
	"github.com/JakeFAU/crawlrules/internal/redirect"
)

// Redirect errors. They are terminal and never retried.
var (
	ErrTooManyRedirects    = errors.New("too many redirects")
	ErrRedirectLoop        = errors.New("redirect loop")
	ErrRobotsDenied        = errors.New("disallowed by robots.txt")
	ErrUnsupportedRedirect = errors.New("redirect target is not http(s)")
)

// DefaultMaxRedirects applies when the follower is built with a negative hop budget.
const DefaultMaxRedirects = 10

// IsRedirect reports whether status is a redirect the follower acts on.
func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// RedirectFollower turns single-hop fetches into pages by resolving Location headers.
type RedirectFollower struct {
	fetcher Fetcher
	robots  RobotsPolicy
	maxHops int
	logger  *zap.Logger
}

// NewRedirectFollower wires a single-hop fetcher to the robots policy checked on every hop.
// maxHops of zero refuses every redirect.
func NewRedirectFollower(fetcher Fetcher, robots RobotsPolicy, maxHops int, logger *zap.Logger) *RedirectFollower {
	if logger == nil {
		logger = zap.NewNop()
	}
	if robots == nil {
		robots = allowAllPolicy{}
	}
	if maxHops < 0 {
		maxHops = DefaultMaxRedirects
	}
	return &RedirectFollower{
		fetcher: fetcher,
		robots:  robots,
		maxHops: maxHops,
		logger:  logger,
	}
}

// FetchPage fetches req.URL and follows redirects until a non-redirect answer.
// The starting URL is assumed to be robots-checked by the caller. On error the
// returned Page still carries the chain walked so far and the last response seen.
func (f *RedirectFollower) FetchPage(ctx context.Context, req FetchRequest) (Page, error) {
	start := time.Now()
	page := Page{URL: req.URL}
	current := req.URL
	seen := map[string]struct{}{current: {}}

	for hop := 0; ; hop++ {
		resp, err := f.fetcher.Fetch(ctx, FetchRequest{URL: current, Headers: req.Headers})
		page.Duration = time.Since(start)
		if err != nil {
			return page, fmt.Errorf("fetch %s: %w", current, err)
		}
		page.FinalURL = current
		page.StatusCode = resp.StatusCode
		page.Headers = resp.Headers
		page.Body = resp.Body

		location := resp.Headers.Get("Location")
		if !IsRedirect(resp.StatusCode) || location == "" {
			return page, nil
		}
		if hop >= f.maxHops {
			metrics.ObserveRedirect("too_many")
			return page, fmt.Errorf("follow %s after %d hops: %w", current, hop, ErrTooManyRedirects)
		}

		next := redirect.Resolve(current, location)
		parsed, err := url.Parse(next)
		if err != nil || !IsCrawlable(parsed) {
			metrics.ObserveRedirect("unsupported")
			return page, fmt.Errorf("follow %s to %q: %w", current, next, ErrUnsupportedRedirect)
		}
		if _, loop := seen[next]; loop {
			metrics.ObserveRedirect("loop")
			return page, fmt.Errorf("follow %s to %s: %w", current, next, ErrRedirectLoop)
		}
		if !f.robots.Allowed(ctx, next) {
			metrics.ObserveRedirect("robots_denied")
			return page, fmt.Errorf("follow %s to %s: %w", current, next, ErrRobotsDenied)
		}

		metrics.ObserveRedirect("followed")
		f.logger.Debug("following redirect",
			zap.String("from", current),
			zap.String("to", next),
			zap.Int("status", resp.StatusCode),
		)
		page.Redirects = append(page.Redirects, current)
		seen[next] = struct{}{}
		current = next
	}
}
