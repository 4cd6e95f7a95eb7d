package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned once the frontier has been closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Fetcher performs a single HTTP hop without following redirects.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// PageFetcher resolves a URL to its final page, following redirects.
type PageFetcher interface {
	FetchPage(ctx context.Context, req FetchRequest) (Page, error)
}

// SitemapReader lists the entries of a sitemap or sitemap index.
type SitemapReader interface {
	ReadSitemap(ctx context.Context, sitemapURL string) (SitemapEntries, error)
}

// RobotsPolicy answers robots.txt questions for the crawler's own user agent.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) time.Duration
	Sitemaps(ctx context.Context, rawURL string) []string
}

// SitemapSource lists the sitemaps a site's robots.txt advertises.
type SitemapSource interface {
	Sitemaps(ctx context.Context, rawURL string) []string
}

// RobotsStatusReporter is implemented by policies that can say where their rules came from.
type RobotsStatusReporter interface {
	Status(ctx context.Context, rawURL string) RobotsStatus
}

// Pacer spaces requests per host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
	SetDelay(host string, delay time.Duration)
}

// Queue is the crawl frontier.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Close()
}

// Sink receives crawl results.
type Sink interface {
	Record(ctx context.Context, result CrawlResult) error
}

// Hasher digests page bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator yields unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether and when a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
