package collyfetcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawlrules/internal/crawler"
	"github.com/JakeFAU/crawlrules/internal/redirect"
)

const maxSitemapRedirects = 5

// ReadSitemap lists the page and child-sitemap locations of a sitemap document.
// Redirects are followed up to a small fixed bound.
func (f *Fetcher) ReadSitemap(ctx context.Context, sitemapURL string) (crawler.SitemapEntries, error) {
	current := sitemapURL
	for hop := 0; hop <= maxSitemapRedirects; hop++ {
		entries, location, status, err := f.readSitemapOnce(ctx, current)
		if err != nil {
			return crawler.SitemapEntries{}, err
		}
		if crawler.IsRedirect(status) && location != "" {
			current = redirect.Resolve(current, location)
			continue
		}
		if status < 200 || status >= 300 {
			return crawler.SitemapEntries{}, fmt.Errorf("read sitemap %s: unexpected status %d", current, status)
		}
		return entries, nil
	}
	return crawler.SitemapEntries{}, fmt.Errorf("read sitemap %s: %w", sitemapURL, crawler.ErrTooManyRedirects)
}

func (f *Fetcher) readSitemapOnce(ctx context.Context, sitemapURL string) (crawler.SitemapEntries, string, int, error) {
	var (
		entries  crawler.SitemapEntries
		location string
		status   int
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		if r.Headers != nil {
			location = r.Headers.Get("Location")
		}
	})
	collector.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		if loc := strings.TrimSpace(e.Text); loc != "" {
			entries.Pages = append(entries.Pages, loc)
		}
	})
	collector.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		if loc := strings.TrimSpace(e.Text); loc != "" {
			entries.Sitemaps = append(entries.Sitemaps, loc)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, sitemapURL, &fetchErr); err != nil {
		return crawler.SitemapEntries{}, "", 0, fmt.Errorf("read sitemap %s: %w", sitemapURL, err)
	}
	return entries, location, status, nil
}
