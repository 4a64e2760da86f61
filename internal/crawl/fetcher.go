package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Aman-CERP/crawlmcp/internal/async"
	"github.com/Aman-CERP/crawlmcp/internal/config"
	"github.com/Aman-CERP/crawlmcp/internal/errors"
)

// Page is the outcome of fetching one URL. A failed fetch keeps its
// slot in the batch with OK=false; the batch never aborts.
type Page struct {
	URL      string      `json:"url"`
	Markdown string      `json:"markdown"`
	Links    Outlinks    `json:"outlinks"`
	OK       bool        `json:"ok"`
	Status   int         `json:"status,omitempty"`
	Error    string      `json:"error,omitempty"`
	Kind     errors.Kind `json:"error_kind,omitempty"`
}

// Fetcher downloads pages with a global concurrency bound.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	logger    *slog.Logger
}

func NewFetcher(cfg config.CrawlConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "crawlmcp/1.0"
	}
	return &Fetcher{
		client:    &http.Client{},
		timeout:   timeout,
		maxBytes:  maxBytes,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Client exposes the underlying HTTP client for sitemap expansion.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// FetchBatch fetches urls with at most maxConcurrent in flight.
// Input URLs are deduplicated preserving first occurrence; the result
// holds one Page per distinct URL in that order.
func (f *Fetcher) FetchBatch(ctx context.Context, urls []string, maxConcurrent int) []Page {
	distinct := dedupeURLs(urls)
	if len(distinct) == 0 {
		return nil
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	results := async.RunBatched(ctx, distinct, maxConcurrent, len(distinct),
		func(ctx context.Context, u string) (Page, error) {
			return f.FetchPage(ctx, u), nil
		})

	pages := make([]Page, len(distinct))
	for i, r := range results {
		if r.Err != nil {
			pages[i] = failedPage(distinct[i], 0, errors.KindOf(r.Err), r.Err)
			continue
		}
		pages[i] = r.Value
	}
	return pages
}

// FetchPage fetches a single URL and renders it to markdown.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) Page {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return failedPage(rawURL, 0, errors.KindInvalidInput,
			fmt.Errorf("unsupported URL scheme in %q", rawURL))
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failedPage(rawURL, 0, errors.KindInvalidInput, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		kind := errors.KindFetchFailed
		if ctx.Err() == context.Canceled {
			kind = errors.KindCancelled
		}
		return failedPage(rawURL, 0, kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return failedPage(rawURL, resp.StatusCode, errors.KindFetchFailed,
			fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return failedPage(rawURL, resp.StatusCode, errors.KindFetchFailed, err)
	}

	page := Page{URL: rawURL, OK: true, Status: resp.StatusCode}
	contentType := resp.Header.Get("Content-Type")

	if isPlainText(contentType, rawURL) {
		page.Markdown = string(body)
		return page
	}

	markdown, err := RenderMarkdown(string(body))
	if err != nil {
		f.logger.Warn("markdown render failed, keeping raw text",
			slog.String("url", rawURL), slog.String("error", err.Error()))
		markdown = string(body)
	}
	page.Markdown = markdown
	page.Links = ExtractOutlinks(string(body), rawURL)
	return page
}

func isPlainText(contentType, rawURL string) bool {
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		return true
	}
	return Classify(rawURL) == TextFile
}

func failedPage(url string, status int, kind errors.Kind, err error) Page {
	return Page{
		URL:    url,
		Status: status,
		Error:  errors.Sanitize(err.Error()),
		Kind:   kind,
	}
}

func dedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
