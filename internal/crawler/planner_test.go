package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sitemapPolicy struct {
	sitemaps map[string][]string
}

func (sitemapPolicy) Allowed(context.Context, string) bool { return true }

func (sitemapPolicy) CrawlDelay(context.Context, string) time.Duration { return 0 }

func (p sitemapPolicy) Sitemaps(_ context.Context, rawURL string) []string {
	for prefix, list := range p.sitemaps {
		if len(rawURL) >= len(prefix) && rawURL[:len(prefix)] == prefix {
			return list
		}
	}
	return nil
}

type fakeSitemapReader struct {
	docs  map[string]SitemapEntries
	reads []string
}

func (r *fakeSitemapReader) ReadSitemap(_ context.Context, sitemapURL string) (SitemapEntries, error) {
	r.reads = append(r.reads, sitemapURL)
	entries, ok := r.docs[sitemapURL]
	if !ok {
		return SitemapEntries{}, errors.New("not found")
	}
	return entries, nil
}

func urlsOf(items []QueueItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.URL)
	}
	return out
}

func TestPlannerSeedsOnly(t *testing.T) {
	t.Parallel()

	planner := NewPlanner(nil, nil, PlannerConfig{}, nil)
	items := planner.Plan(context.Background(), []string{
		"https://Example.com/a#frag",
		"https://example.com/a",
		"mailto:nobody@example.com",
		"https://example.org/",
	})

	require.Equal(t, []string{"https://example.com/a", "https://example.org/"}, urlsOf(items))
	for _, item := range items {
		require.Equal(t, SourceSeed, item.Source)
		require.Equal(t, 1, item.Attempt)
	}
}

func TestPlannerFollowsSitemapsOncePerHost(t *testing.T) {
	t.Parallel()

	policy := sitemapPolicy{sitemaps: map[string][]string{
		"https://example.com": {"https://example.com/sitemap_index.xml"},
	}}
	reader := &fakeSitemapReader{docs: map[string]SitemapEntries{
		"https://example.com/sitemap_index.xml": {Sitemaps: []string{"https://example.com/products.xml", "https://example.com/missing.xml"}},
		"https://example.com/products.xml":      {Pages: []string{"https://example.com/p/1", "https://example.com/a", "https://example.com/p/2"}},
	}}
	planner := NewPlanner(policy, reader, PlannerConfig{FollowSitemaps: true}, nil)

	items := planner.Plan(context.Background(), []string{"https://example.com/a", "https://example.com/b"})

	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/p/1",
		"https://example.com/p/2",
	}, urlsOf(items))
	require.Equal(t, SourceSitemap, items[2].Source)
	require.Equal(t, []string{
		"https://example.com/sitemap_index.xml",
		"https://example.com/products.xml",
		"https://example.com/missing.xml",
	}, reader.reads)
}

func TestPlannerCapsSitemapURLs(t *testing.T) {
	t.Parallel()

	policy := sitemapPolicy{sitemaps: map[string][]string{
		"https://example.com": {"https://example.com/sitemap.xml"},
	}}
	reader := &fakeSitemapReader{docs: map[string]SitemapEntries{
		"https://example.com/sitemap.xml": {Pages: []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"}},
	}}
	planner := NewPlanner(policy, reader, PlannerConfig{FollowSitemaps: true, MaxSitemapURLs: 2}, nil)

	items := planner.Plan(context.Background(), []string{"https://example.com/"})
	require.Equal(t, []string{"https://example.com/", "https://example.com/1", "https://example.com/2"}, urlsOf(items))
}

func TestPlannerSitemapDepthLimit(t *testing.T) {
	t.Parallel()

	policy := sitemapPolicy{sitemaps: map[string][]string{
		"https://example.com": {"https://example.com/root.xml"},
	}}
	reader := &fakeSitemapReader{docs: map[string]SitemapEntries{
		"https://example.com/root.xml":  {Sitemaps: []string{"https://example.com/child.xml"}},
		"https://example.com/child.xml": {Sitemaps: []string{"https://example.com/grand.xml"}, Pages: []string{"https://example.com/c"}},
		"https://example.com/grand.xml": {Pages: []string{"https://example.com/g"}},
	}}
	planner := NewPlanner(policy, reader, PlannerConfig{FollowSitemaps: true}, nil)

	items := planner.Plan(context.Background(), []string{"https://example.com/"})
	require.Equal(t, []string{"https://example.com/", "https://example.com/c"}, urlsOf(items))
	require.NotContains(t, reader.reads, "https://example.com/grand.xml")
}
