package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const urlsetXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a</loc></url>
  <url><loc>
    https://example.com/b
  </loc></url>
</urlset>`

const indexXML = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-products.xml</loc></sitemap>
  <sitemap><loc>https://example.com/sitemap-blog.xml</loc></sitemap>
</sitemapindex>`

func newSitemapServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, urlsetXML)
	})
	mux.HandleFunc("/sitemap_index.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, indexXML)
	})
	mux.HandleFunc("/old-sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "/sitemap.xml")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/loop.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "/loop.xml")
		w.WriteHeader(http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestReadSitemapURLSet(t *testing.T) {
	t.Parallel()

	srv := newSitemapServer(t)
	f := New(Config{Timeout: time.Second})

	entries, err := f.ReadSitemap(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, entries.Pages)
	require.Empty(t, entries.Sitemaps)
}

func TestReadSitemapIndex(t *testing.T) {
	t.Parallel()

	srv := newSitemapServer(t)
	f := New(Config{Timeout: time.Second})

	entries, err := f.ReadSitemap(context.Background(), srv.URL+"/sitemap_index.xml")
	require.NoError(t, err)
	require.Empty(t, entries.Pages)
	require.Equal(t, []string{
		"https://example.com/sitemap-products.xml",
		"https://example.com/sitemap-blog.xml",
	}, entries.Sitemaps)
}

func TestReadSitemapFollowsRedirect(t *testing.T) {
	t.Parallel()

	srv := newSitemapServer(t)
	f := New(Config{Timeout: time.Second})

	entries, err := f.ReadSitemap(context.Background(), srv.URL+"/old-sitemap.xml")
	require.NoError(t, err)
	require.Len(t, entries.Pages, 2)
}

func TestReadSitemapErrors(t *testing.T) {
	t.Parallel()

	srv := newSitemapServer(t)
	f := New(Config{Timeout: time.Second})

	_, err := f.ReadSitemap(context.Background(), srv.URL+"/missing.xml")
	require.ErrorContains(t, err, "read sitemap")

	_, err = f.ReadSitemap(context.Background(), srv.URL+"/loop.xml")
	require.ErrorContains(t, err, "too many redirects")
}
