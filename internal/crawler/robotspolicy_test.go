package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const sampleRobots = `User-agent: *
Disallow: /private
Crawl-delay: 2

User-agent: test-agent
Allow: /private/open
Disallow: /private
Disallow: /search?q=
Crawl-delay: 5

User-agent: greedy-bot
Disallow: /

Sitemap: https://example.com/sitemap.xml
`

func newRobotsServer(t *testing.T, status int, body string, header http.Header) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		hits.Add(1)
		for k, vs := range header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRobotsEnforcerAllowed(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusOK, sampleRobots, nil)
	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "test-agent/1.0", CacheTTL: time.Hour}, zap.NewNop())
	ctx := context.Background()

	assert.True(t, enforcer.Allowed(ctx, srv.URL+"/public"))
	assert.True(t, enforcer.Allowed(ctx, srv.URL+"/private/open/page"))
	assert.False(t, enforcer.Allowed(ctx, srv.URL+"/private/secret"))
	assert.False(t, enforcer.Allowed(ctx, srv.URL+"/search?q=shoes"))
	assert.True(t, enforcer.Allowed(ctx, srv.URL+"/search"))
	assert.True(t, enforcer.Allowed(ctx, srv.URL))

	assert.False(t, enforcer.AllowedFor(ctx, srv.URL+"/anything", "Greedy-Bot/2"))
	assert.False(t, enforcer.AllowedFor(ctx, srv.URL+"/private/open", "other"))
	assert.False(t, enforcer.Allowed(ctx, "mailto:someone@example.com"))

	assert.Equal(t, int32(1), hits.Load(), "robots.txt should be fetched once and cached")
}

func TestRobotsEnforcerCrawlDelayAndSitemaps(t *testing.T) {
	t.Parallel()

	srv, _ := newRobotsServer(t, http.StatusOK, sampleRobots, nil)
	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "test-agent"}, nil)
	ctx := context.Background()

	require.Equal(t, 5*time.Second, enforcer.CrawlDelay(ctx, srv.URL+"/x"))
	require.Equal(t, []string{"https://example.com/sitemap.xml"}, enforcer.Sitemaps(ctx, srv.URL+"/x"))

	rules, status := enforcer.Lookup(ctx, srv.URL+"/x")
	require.Equal(t, RobotsStatusFetched, status)
	require.NotNil(t, rules)
	require.Len(t, rules.Directives(), 3)
}

func TestRobotsEnforcerClientErrorAllowsAndCaches(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusNotFound, "not found", nil)
	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "test-agent", CacheTTL: time.Hour}, nil)
	ctx := context.Background()

	require.True(t, enforcer.Allowed(ctx, srv.URL+"/private"))
	_, status := enforcer.Lookup(ctx, srv.URL+"/private")
	require.Equal(t, RobotsStatusMissing, status)
	require.Equal(t, int32(1), hits.Load())
}

func TestRobotsEnforcerServerErrorFailsOpenUncached(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusServiceUnavailable, "down", nil)
	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "test-agent", CacheTTL: time.Hour}, nil)
	ctx := context.Background()

	require.True(t, enforcer.Allowed(ctx, srv.URL+"/private"))
	rules, status := enforcer.Lookup(ctx, srv.URL+"/private")
	require.Nil(t, rules)
	require.Equal(t, RobotsStatusUnavailable, status)
	require.Equal(t, int32(2), hits.Load(), "failures are retried on the next lookup")
}

func TestRobotsEnforcerNetworkErrorFailsOpen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "test-agent", Timeout: time.Second}, nil)
	require.True(t, enforcer.Allowed(context.Background(), addr+"/private"))
	require.Zero(t, enforcer.CrawlDelay(context.Background(), addr+"/private"))
}

func TestRobotsEnforcerFallbackIsIndeterminate(t *testing.T) {
	t.Parallel()

	header := http.Header{}
	header.Set(RobotsFallbackHeader, "tls-handshake-timeout")
	srv, _ := newRobotsServer(t, http.StatusOK, "User-agent: *\nAllow: /\n", header)
	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "test-agent"}, nil)

	rules, status := enforcer.Lookup(context.Background(), srv.URL+"/page")
	require.Equal(t, RobotsStatusIndeterminate, status)
	require.True(t, rules.Allows("/page", "test-agent"))
}

func TestRobotsEnforcerCacheExpires(t *testing.T) {
	t.Parallel()

	srv, hits := newRobotsServer(t, http.StatusOK, sampleRobots, nil)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "test-agent", CacheTTL: time.Minute, Clock: clock}, nil)
	ctx := context.Background()

	enforcer.Allowed(ctx, srv.URL+"/a")
	clock.Advance(30 * time.Second)
	enforcer.Allowed(ctx, srv.URL+"/b")
	require.Equal(t, int32(1), hits.Load())

	clock.Advance(time.Minute)
	enforcer.Allowed(ctx, srv.URL+"/c")
	require.Equal(t, int32(2), hits.Load())
}

func TestRobotsEnforcerCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	first, firstHits := newRobotsServer(t, http.StatusOK, sampleRobots, nil)
	second, secondHits := newRobotsServer(t, http.StatusOK, sampleRobots, nil)
	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "test-agent", CacheSize: 1}, nil)
	ctx := context.Background()

	enforcer.Allowed(ctx, first.URL+"/a")
	enforcer.Allowed(ctx, first.URL+"/b")
	enforcer.Allowed(ctx, second.URL+"/a")
	enforcer.Allowed(ctx, first.URL+"/c")

	require.Equal(t, int32(2), firstHits.Load())
	require.Equal(t, int32(1), secondHits.Load())
}

func TestRobotsEnforcerSendsUserAgent(t *testing.T) {
	t.Parallel()

	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "crawlrules-test/1"}, nil)
	enforcer.Allowed(context.Background(), srv.URL+"/")
	require.Equal(t, "crawlrules-test/1", got.Load())
}

func TestNewRobotsPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	allowAll := NewRobotsPolicy(false, NewRobotsEnforcer(RobotsConfig{UserAgent: "x"}, nil))
	require.True(t, allowAll.Allowed(ctx, "https://example.com/whatever"))
	require.Zero(t, allowAll.CrawlDelay(ctx, "https://example.com/"))
	require.Empty(t, allowAll.Sitemaps(ctx, "https://example.com/"))

	enforcer := NewRobotsEnforcer(RobotsConfig{UserAgent: "x"}, nil)
	require.Same(t, enforcer, NewRobotsPolicy(true, enforcer))
}
