// Package crawl turns URLs into markdown: classification, sitemap
// expansion, a bounded fetcher pool, HTML rendering with outlink
// extraction, and the breadth-first smart-crawl planner.
package crawl

import (
	"net/url"
	"strings"
)

// URLKind drives the planner's expansion policy.
type URLKind int

const (
	// PlainPage is an ordinary web page, crawled breadth-first.
	PlainPage URLKind = iota
	// TextFile is a plain-text resource fetched as one document.
	TextFile
	// Sitemap expands into its <loc> children, without recursion.
	Sitemap
)

func (k URLKind) String() string {
	switch k {
	case TextFile:
		return "text_file"
	case Sitemap:
		return "sitemap"
	default:
		return "page"
	}
}

// Classify inspects the URL path only; query and fragment are ignored.
func Classify(rawURL string) URLKind {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	switch {
	case strings.HasSuffix(path, ".txt"):
		return TextFile
	case strings.Contains(path, "sitemap") || strings.HasSuffix(path, "sitemap.xml"):
		return Sitemap
	default:
		return PlainPage
	}
}
