package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sitemapXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a</loc></url>
  <url><loc>
    https://example.com/b
  </loc></url>
  <url><loc>https://example.com/c</loc><lastmod>2024-01-02</lastmod></url>
</urlset>`

const sitemapIndexXML = `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-posts.xml</loc></sitemap>
  <sitemap><loc>https://example.com/sitemap-pages.xml</loc></sitemap>
</sitemapindex>`

func TestParseSitemapLocs(t *testing.T) {
	locs, err := parseSitemapLocs(strings.NewReader(sitemapXML))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, locs)
}

func TestParseSitemapLocsIndexFile(t *testing.T) {
	locs, err := parseSitemapLocs(strings.NewReader(sitemapIndexXML))
	require.NoError(t, err)
	assert.Len(t, locs, 2)
	assert.Equal(t, "https://example.com/sitemap-posts.xml", locs[0])
}

func TestParseSitemapLocsMalformed(t *testing.T) {
	_, err := parseSitemapLocs(strings.NewReader("<urlset><loc>https://x</urlset>"))
	assert.Error(t, err)
}

func TestExpandSitemap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sitemapXML))
	}))
	defer srv.Close()

	urls := ExpandSitemap(context.Background(), srv.Client(), srv.URL+"/sitemap.xml", nil)
	assert.Len(t, urls, 3)
}

func TestExpandSitemapNeverFails(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer notFound.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<urlset><loc>broken"))
	}))
	defer garbage.Close()

	assert.Nil(t, ExpandSitemap(context.Background(), notFound.Client(), notFound.URL+"/sitemap.xml", nil))
	assert.Nil(t, ExpandSitemap(context.Background(), garbage.Client(), garbage.URL+"/sitemap.xml", nil))
	assert.Nil(t, ExpandSitemap(context.Background(), nil, "http://127.0.0.1:1/sitemap.xml", nil))
}
