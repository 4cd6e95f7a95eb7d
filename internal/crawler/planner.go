package crawler

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

const defaultSitemapDepth = 2

// PlannerConfig controls seed expansion.
type PlannerConfig struct {
	FollowSitemaps bool
	// MaxSitemapURLs caps pages taken from sitemaps per run; zero or less means no cap.
	MaxSitemapURLs int
	// MaxSitemapDepth bounds sitemap-index nesting; zero uses 2.
	MaxSitemapDepth int
}

// Planner turns seeds into the initial frontier.
type Planner struct {
	sitemaps SitemapSource
	reader   SitemapReader
	cfg      PlannerConfig
	logger   *zap.Logger
}

// NewPlanner wires the source of advertised sitemaps and the reader that lists them.
// Sitemap discovery does not depend on whether robots rules are enforced.
func NewPlanner(sitemaps SitemapSource, reader SitemapReader, cfg PlannerConfig, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sitemaps == nil {
		sitemaps = allowAllPolicy{}
	}
	if cfg.MaxSitemapDepth <= 0 {
		cfg.MaxSitemapDepth = defaultSitemapDepth
	}
	return &Planner{sitemaps: sitemaps, reader: reader, cfg: cfg, logger: logger}
}

// Plan normalizes and dedupes seeds, then appends sitemap pages for each seed host
// when sitemap following is enabled. Invalid seeds are logged and skipped.
func (p *Planner) Plan(ctx context.Context, seeds []string) []QueueItem {
	seen := make(map[string]struct{})
	items := make([]QueueItem, 0, len(seeds))
	var hosts []*url.URL
	hostSeen := make(map[string]struct{})

	for _, raw := range seeds {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			p.logger.Warn("skipping invalid seed", zap.String("url", raw), zap.Error(err))
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		items = append(items, QueueItem{URL: normalized, Source: SourceSeed, Attempt: 1})

		u, err := url.Parse(normalized)
		if err != nil {
			continue
		}
		if _, ok := hostSeen[HostKey(u)]; !ok {
			hostSeen[HostKey(u)] = struct{}{}
			hosts = append(hosts, u)
		}
	}

	if !p.cfg.FollowSitemaps || p.reader == nil {
		return items
	}

	budget := p.cfg.MaxSitemapURLs
	taken := 0
	for _, host := range hosts {
		if ctx.Err() != nil {
			break
		}
		for _, pageURL := range p.sitemapPages(ctx, host.String()) {
			if budget > 0 && taken >= budget {
				p.logger.Info("sitemap url cap reached", zap.Int("max_sitemap_urls", budget))
				return items
			}
			normalized, err := NormalizeURL(pageURL)
			if err != nil {
				continue
			}
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}
			items = append(items, QueueItem{URL: normalized, Source: SourceSitemap, Attempt: 1})
			taken++
		}
	}
	return items
}

func (p *Planner) sitemapPages(ctx context.Context, seed string) []string {
	type pending struct {
		url   string
		depth int
	}
	var queue []pending
	for _, sm := range p.sitemaps.Sitemaps(ctx, seed) {
		queue = append(queue, pending{url: sm, depth: 0})
	}

	visited := make(map[string]struct{})
	var pages []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := visited[next.url]; ok {
			continue
		}
		visited[next.url] = struct{}{}

		entries, err := p.reader.ReadSitemap(ctx, next.url)
		if err != nil {
			p.logger.Warn("sitemap read failed", zap.String("sitemap", next.url), zap.Error(err))
			continue
		}
		pages = append(pages, entries.Pages...)
		if next.depth+1 >= p.cfg.MaxSitemapDepth {
			continue
		}
		for _, child := range entries.Sitemaps {
			queue = append(queue, pending{url: child, depth: next.depth + 1})
		}
	}
	return pages
}
