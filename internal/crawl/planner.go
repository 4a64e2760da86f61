package crawl

import (
	"context"
	"log/slog"
)

// Planner decides how a start URL is expanded into fetched pages.
// Sitemaps fan out into a single flat batch, plain text files are
// fetched as-is, and regular pages trigger a breadth-first crawl of
// internal links up to maxDepth levels.
type Planner struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

func NewPlanner(fetcher *Fetcher, logger *slog.Logger) *Planner {
	return &Planner{fetcher: fetcher, logger: logger.With("component", "planner")}
}

// Crawl expands startURL according to its kind and returns every page
// that was fetched, successes and failures alike. maxDepth only applies
// to the breadth-first strategy; sitemap and text file starts always
// finish in a single round.
func (p *Planner) Crawl(ctx context.Context, startURL string, maxDepth, maxConcurrent int) []Page {
	if maxDepth < 1 {
		maxDepth = 1
	}
	kind := Classify(startURL)
	p.logger.Info("planning crawl",
		"url", startURL,
		"kind", kind.String(),
		"max_depth", maxDepth,
		"max_concurrent", maxConcurrent)

	switch kind {
	case Sitemap:
		urls := ExpandSitemap(ctx, p.fetcher.Client(), startURL, p.logger)
		if len(urls) == 0 {
			p.logger.Warn("sitemap yielded no urls", "url", startURL)
			return nil
		}
		return p.fetcher.FetchBatch(ctx, urls, maxConcurrent)
	case TextFile:
		return p.fetcher.FetchBatch(ctx, []string{startURL}, maxConcurrent)
	default:
		return p.crawlBFS(ctx, startURL, maxDepth, maxConcurrent)
	}
}

// crawlBFS fetches level by level. Each level's internal outlinks form
// the next frontier, minus any URL already visited.
func (p *Planner) crawlBFS(ctx context.Context, startURL string, maxDepth, maxConcurrent int) []Page {
	visited := map[string]bool{startURL: true}
	frontier := []string{startURL}
	var pages []Page

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		if ctx.Err() != nil {
			p.logger.Warn("crawl cancelled", "depth", depth, "pages", len(pages))
			break
		}
		p.logger.Debug("fetching frontier", "depth", depth, "urls", len(frontier))
		batch := p.fetcher.FetchBatch(ctx, frontier, maxConcurrent)
		pages = append(pages, batch...)

		var next []string
		for _, page := range batch {
			if !page.OK {
				continue
			}
			for _, link := range page.Links.Internal {
				if visited[link] {
					continue
				}
				visited[link] = true
				next = append(next, link)
			}
		}
		frontier = next
	}

	p.logger.Info("crawl complete", "start", startURL, "pages", len(pages))
	return pages
}
