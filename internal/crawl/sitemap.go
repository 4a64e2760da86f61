package crawl

import (
	"context"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ExpandSitemap fetches and parses a sitemap, returning its <loc>
// entries in document order. Any fetch or parse failure yields an
// empty list; sitemap expansion never fails the caller.
func ExpandSitemap(ctx context.Context, client *http.Client, url string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logger.Warn("sitemap request failed", slog.String("url", url), slog.String("error", err.Error()))
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("sitemap fetch failed", slog.String("url", url), slog.String("error", err.Error()))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn("sitemap fetch non-200", slog.String("url", url), slog.Int("status", resp.StatusCode))
		return nil
	}

	locs, err := parseSitemapLocs(resp.Body)
	if err != nil {
		logger.Warn("sitemap parse failed", slog.String("url", url), slog.String("error", err.Error()))
		return nil
	}
	return locs
}

// parseSitemapLocs streams the XML and collects every <loc> element
// regardless of namespace or nesting.
func parseSitemapLocs(r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)
	var locs []string
	inLoc := false
	var text string

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "loc" {
				inLoc = true
				text = ""
			}
		case xml.CharData:
			if inLoc {
				text += string(t)
			}
		case xml.EndElement:
			if t.Name.Local == "loc" {
				inLoc = false
				if trimmed := strings.TrimSpace(text); trimmed != "" {
					locs = append(locs, trimmed)
				}
			}
		}
	}
	return locs, nil
}
