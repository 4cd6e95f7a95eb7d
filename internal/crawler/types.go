package crawler

import (
	"net/http"
	"time"
)

// RobotsStatus describes how the robots.txt for a host was obtained.
type RobotsStatus string

// Robots status values reported by the enforcer.
const (
	// RobotsStatusUnknown means the URL could not be mapped to a host.
	RobotsStatusUnknown RobotsStatus = "unknown"
	// RobotsStatusFetched means a 2xx robots.txt was parsed.
	RobotsStatusFetched RobotsStatus = "fetched"
	// RobotsStatusMissing means the host answered 4xx; everything is allowed.
	RobotsStatusMissing RobotsStatus = "missing"
	// RobotsStatusUnavailable means 5xx or a network error; access fails open.
	RobotsStatusUnavailable RobotsStatus = "unavailable"
	// RobotsStatusIndeterminate means transient failures were answered by the allow-all fallback.
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
	// RobotsStatusIgnored means robots.txt enforcement is turned off.
	RobotsStatusIgnored RobotsStatus = "ignored"
)

// RobotsFallbackHeader marks a synthesized robots.txt response.
const RobotsFallbackHeader = "X-Robots-Fallback"

// Item sources.
const (
	SourceSeed    = "seed"
	SourceSitemap = "sitemap"
)

// Outcome classifies how a crawl item ended.
type Outcome string

// Outcome values recorded by the worker.
const (
	OutcomeFetched       Outcome = "fetched"
	OutcomeRobotsDenied  Outcome = "robots_denied"
	OutcomeBlocked       Outcome = "blocked"
	OutcomeRedirectError Outcome = "redirect_error"
	OutcomeFailed        Outcome = "failed"
)

// QueueItem is one unit of work on the frontier.
type QueueItem struct {
	URL     string `json:"url"`
	Source  string `json:"source"`
	Attempt int    `json:"attempt"`
}

// FetchRequest is a single-hop HTTP GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the unfollowed answer to a FetchRequest.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Page is the end of a redirect chain.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	// Redirects lists every URL that answered with a followed redirect, in order.
	Redirects []string
	Duration  time.Duration
}

// CrawlResult is what a Sink receives for each processed item.
type CrawlResult struct {
	RunID        string       `json:"run_id"`
	URL          string       `json:"url"`
	FinalURL     string       `json:"final_url,omitempty"`
	Source       string       `json:"source"`
	Outcome      Outcome      `json:"outcome"`
	StatusCode   int          `json:"status_code,omitempty"`
	Redirects    []string     `json:"redirects,omitempty"`
	RobotsStatus RobotsStatus `json:"robots_status,omitempty"`
	ContentHash  string       `json:"content_hash,omitempty"`
	Bytes        int          `json:"bytes"`
	DurationMs   int64        `json:"duration_ms"`
	FetchedAt    time.Time    `json:"fetched_at"`
	Error        string       `json:"error,omitempty"`
}

// SitemapEntries lists what a sitemap document points at.
type SitemapEntries struct {
	Pages    []string
	Sitemaps []string
}
