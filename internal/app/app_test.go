package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crawlrules/internal/config"
	"github.com/JakeFAU/crawlrules/internal/crawler"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	var site *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nDisallow: /secret\n\nSitemap: %s/sitemap.xml\n", site.URL)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/from-sitemap</loc></url>
  <url><loc>%s/</loc></url>
</urlset>`, site.URL, site.URL)
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	page := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>page</html>"))
	}
	mux.HandleFunc("/new", page)
	mux.HandleFunc("/secret", page)
	mux.HandleFunc("/from-sitemap", page)
	mux.HandleFunc("/{$}", page)
	site = httptest.NewServer(mux)
	t.Cleanup(site.Close)
	return site
}

func testConfig(output string) config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5, ShutdownTimeoutSeconds: 5},
		Crawler: config.CrawlerConfig{
			Concurrency:        2,
			UserAgent:          "crawlrules-test",
			QueueDepth:         4,
			FollowSitemaps:     true,
			MaxSitemapURLs:     10,
			ForbiddenThreshold: 3,
			Output:             output,
		},
		Robots:   config.RobotsConfig{Respect: true, CacheTTLSeconds: 60, TimeoutSeconds: 5},
		Redirect: config.RedirectConfig{MaxHops: 5},
		HTTP:     config.HTTPConfig{TimeoutSeconds: 5, MaxRetries: 1, BackoffInitialMs: 1, BackoffMaxMs: 2},
	}
}

func TestAppCrawlWritesResults(t *testing.T) {
	site := newSite(t)
	output := filepath.Join(t.TempDir(), "results.jsonl")
	app := NewApp(testConfig(output), zap.NewNop())

	summary, err := app.Crawl(context.Background(), []string{
		site.URL + "/",
		site.URL + "/secret",
		site.URL + "/old",
	})
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 3, summary.Outcomes[crawler.OutcomeFetched])
	assert.Equal(t, 1, summary.Outcomes[crawler.OutcomeRobotsDenied])

	results := readResults(t, output)
	require.Len(t, results, 4)
	byURL := make(map[string]crawler.CrawlResult, len(results))
	for _, r := range results {
		assert.Equal(t, summary.RunID, r.RunID)
		byURL[r.URL] = r
	}

	old := byURL[site.URL+"/old"]
	assert.Equal(t, crawler.OutcomeFetched, old.Outcome)
	assert.Equal(t, site.URL+"/new", old.FinalURL)
	assert.Equal(t, []string{site.URL + "/old"}, old.Redirects)
	assert.Equal(t, http.StatusOK, old.StatusCode)
	assert.Len(t, old.ContentHash, 64)

	assert.Equal(t, crawler.OutcomeRobotsDenied, byURL[site.URL+"/secret"].Outcome)
	assert.Equal(t, crawler.RobotsStatusFetched, byURL[site.URL+"/secret"].RobotsStatus)
	assert.Equal(t, crawler.SourceSitemap, byURL[site.URL+"/from-sitemap"].Source)
}

func TestAppCrawlIgnoresRobotsWhenDisabled(t *testing.T) {
	site := newSite(t)
	output := filepath.Join(t.TempDir(), "results.jsonl")
	cfg := testConfig(output)
	cfg.Robots.Respect = false
	cfg.Crawler.FollowSitemaps = false
	app := NewApp(cfg, zap.NewNop())

	summary, err := app.Crawl(context.Background(), []string{site.URL + "/secret"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Outcomes[crawler.OutcomeFetched])

	results := readResults(t, output)
	require.Len(t, results, 1)
	assert.Equal(t, crawler.RobotsStatusIgnored, results[0].RobotsStatus)
}

func TestAppCrawlFollowsSitemapsWithRobotsIgnored(t *testing.T) {
	site := newSite(t)
	output := filepath.Join(t.TempDir(), "results.jsonl")
	cfg := testConfig(output)
	cfg.Robots.Respect = false
	app := NewApp(cfg, zap.NewNop())

	summary, err := app.Crawl(context.Background(), []string{site.URL + "/secret"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	byURL := make(map[string]crawler.CrawlResult)
	for _, r := range readResults(t, output) {
		byURL[r.URL] = r
	}
	require.Contains(t, byURL, site.URL+"/from-sitemap")
	assert.Equal(t, crawler.SourceSitemap, byURL[site.URL+"/from-sitemap"].Source)
	assert.Equal(t, crawler.OutcomeFetched, byURL[site.URL+"/secret"].Outcome)
}

func TestAppCrawlBlockedDomains(t *testing.T) {
	cfg := testConfig("")
	cfg.Crawler.BlockedDomains = []string{"blocked.invalid"}
	cfg.Crawler.FollowSitemaps = false
	app := NewApp(cfg, zap.NewNop())

	summary, err := app.Crawl(context.Background(), []string{"https://blocked.invalid/page"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Outcomes[crawler.OutcomeBlocked])
}

func TestAppCrawlUsesConfiguredSeeds(t *testing.T) {
	site := newSite(t)
	cfg := testConfig("")
	cfg.Crawler.FollowSitemaps = false
	cfg.Crawler.Seeds = []string{site.URL + "/new"}
	app := NewApp(cfg, zap.NewNop())

	summary, err := app.Crawl(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
}

func TestAppCrawlEmitsProgress(t *testing.T) {
	site := newSite(t)
	cfg := testConfig("")
	cfg.Crawler.FollowSitemaps = false
	cfg.Progress = config.ProgressConfig{Enabled: true, LogEnabled: true, MaxBatchEvents: 1}
	core, logs := observer.New(zap.InfoLevel)
	app := NewApp(cfg, zap.New(core))

	summary, err := app.Crawl(context.Background(), []string{site.URL + "/new"})
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))

	runs := logs.FilterMessage("crawl run").All()
	require.Len(t, runs, 2)
	assert.Equal(t, "RUN_START", runs[0].ContextMap()["stage"])
	assert.Equal(t, "RUN_DONE", runs[1].ContextMap()["stage"])
	assert.Equal(t, summary.RunID, runs[1].ContextMap()["run_id"])
}

func TestAppCrawlWithoutSeeds(t *testing.T) {
	app := NewApp(testConfig(""), zap.NewNop())
	_, err := app.Crawl(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoSeeds)
}

func TestAppServeShutsDownOnCancel(t *testing.T) {
	cfg := testConfig("")
	cfg.Server.Port = freePort(t)
	app := NewApp(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Serve(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL) //nolint:noctx // polling health endpoint
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	require.NoError(t, app.Close(context.Background()))
}

func readResults(t *testing.T, path string) []crawler.CrawlResult {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var out []crawler.CrawlResult
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r crawler.CrawlResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, scanner.Err())
	return out
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	port := srv.Listener.Addr().(*net.TCPAddr).Port
	srv.Close()
	return port
}
