// Package searxng talks to a SearXNG meta-search instance over its
// JSON API. The server surfaces it through the search tool, which
// scrapes the returned URLs before answering.
package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Aman-CERP/crawlmcp/internal/errors"
)

// Result is one hit from the meta-search front-end.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Client queries a SearXNG instance.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "searxng"),
	}
}

// Available reports whether a SearXNG URL is configured.
func (c *Client) Available() bool {
	return c != nil && c.baseURL != ""
}

// Search runs a query and returns up to numResults hits in the
// engine's ranking order.
func (c *Client) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	if !c.Available() {
		return nil, errors.New(errors.KindFetchFailed, "SEARXNG_URL is not configured")
	}
	if numResults < 1 {
		numResults = 6
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidInput, "building search request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindFetchFailed, "searxng request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.KindFetchFailed,
			fmt.Sprintf("searxng returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindFetchFailed, "reading searxng response")
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, errors.KindFetchFailed, "decoding searxng response")
	}

	results := parsed.Results
	if len(results) > numResults {
		results = results[:numResults]
	}
	c.logger.Debug("meta-search complete", "query", query, "results", len(results))
	return results, nil
}
