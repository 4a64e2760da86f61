// Package ingest composes the crawl, chunk, enrich, embed, and persist
// stages into the ingestion entry points behind the MCP tools.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/crawlmcp/internal/async"
	"github.com/Aman-CERP/crawlmcp/internal/chunk"
	"github.com/Aman-CERP/crawlmcp/internal/config"
	"github.com/Aman-CERP/crawlmcp/internal/crawl"
	"github.com/Aman-CERP/crawlmcp/internal/embed"
	"github.com/Aman-CERP/crawlmcp/internal/errors"
	"github.com/Aman-CERP/crawlmcp/internal/graph"
	"github.com/Aman-CERP/crawlmcp/internal/llm"
	"github.com/Aman-CERP/crawlmcp/internal/search"
	"github.com/Aman-CERP/crawlmcp/internal/searxng"
	"github.com/Aman-CERP/crawlmcp/internal/vector"
)

// Fetcher is the slice of the crawl fetcher used here.
type Fetcher interface {
	FetchBatch(ctx context.Context, urls []string, maxConcurrent int) []crawl.Page
}

// Crawler expands a start URL into fetched pages.
type Crawler interface {
	Crawl(ctx context.Context, startURL string, maxDepth, maxConcurrent int) []crawl.Page
}

// Embedder converts text batches to vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// MetaSearcher queries the meta-search front-end.
type MetaSearcher interface {
	Available() bool
	Search(ctx context.Context, query string, numResults int) ([]searxng.Result, error)
}

// RAGEngine answers retrieval queries over ingested content.
type RAGEngine interface {
	RAGQuery(ctx context.Context, query, sourceID string, matchCount int) ([]search.RankedResult, error)
}

// GraphIngestor parses repositories into the knowledge graph.
type GraphIngestor interface {
	IngestRepository(ctx context.Context, cloneURL string) (*graph.IngestReport, error)
	IngestRepositoryBranch(ctx context.Context, cloneURL, branch string) (*graph.IngestReport, error)
	UpdateRepository(ctx context.Context, cloneURL string) (*graph.IngestReport, error)
}

// URLOutcome records what happened to one URL during ingestion.
type URLOutcome struct {
	URL          string `json:"url"`
	Success      bool   `json:"success"`
	Chunks       int    `json:"chunks_stored"`
	CodeExamples int    `json:"code_examples_stored"`
	WordCount    int    `json:"word_count"`
	Error        string `json:"error,omitempty"`
}

// ScrapeReport is the completion envelope body for scrape and crawl
// entry points.
type ScrapeReport struct {
	Outcomes          []URLOutcome `json:"outcomes"`
	TotalChunks       int          `json:"total_chunks"`
	TotalCodeExamples int          `json:"total_code_examples"`
	SourcesUpdated    []string     `json:"sources_updated"`
	ElapsedSeconds    float64      `json:"elapsed_seconds"`
}

// SearchReport is the tagged result of the search entry point: either
// a raw markdown map or retrieval results.
type SearchReport struct {
	Mode        string                `json:"mode"`
	Query       string                `json:"query"`
	RawMarkdown map[string]string     `json:"raw_markdown,omitempty"`
	Results     []search.RankedResult `json:"results,omitempty"`
	Outcomes    []URLOutcome          `json:"outcomes"`
}

// Orchestrator wires the ingestion pipeline together.
type Orchestrator struct {
	fetcher    Fetcher
	crawler    Crawler
	store      vector.Store
	embedder   Embedder
	enricher   *llm.Enricher
	summarizer *llm.Summarizer
	searcher   MetaSearcher
	engine     RAGEngine
	graph      GraphIngestor
	cfg        *config.Config
	logger     *slog.Logger
}

func NewOrchestrator(
	fetcher Fetcher,
	crawler Crawler,
	store vector.Store,
	embedder Embedder,
	enricher *llm.Enricher,
	summarizer *llm.Summarizer,
	searcher MetaSearcher,
	engine RAGEngine,
	graphStore GraphIngestor,
	cfg *config.Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		fetcher:    fetcher,
		crawler:    crawler,
		store:      store,
		embedder:   embedder,
		enricher:   enricher,
		summarizer: summarizer,
		searcher:   searcher,
		engine:     engine,
		graph:      graphStore,
		cfg:        cfg,
		logger:     logger.With("component", "ingest"),
	}
}

// ScrapeURLs fetches and ingests every URL in the list. Failed URLs
// keep their outcome slot; the batch never aborts on a single page.
func (o *Orchestrator) ScrapeURLs(ctx context.Context, urls []string, maxConcurrent int) (*ScrapeReport, error) {
	if maxConcurrent < 1 {
		maxConcurrent = o.cfg.Crawl.MaxConcurrentFetches
	}
	pages := o.fetcher.FetchBatch(ctx, urls, maxConcurrent)
	return o.ingestPages(ctx, pages, maxConcurrent)
}

// SmartCrawlURL expands the start URL with the planner and ingests
// every fetched page.
func (o *Orchestrator) SmartCrawlURL(ctx context.Context, startURL string, maxDepth, maxConcurrent int) (*ScrapeReport, error) {
	if maxConcurrent < 1 {
		maxConcurrent = o.cfg.Crawl.MaxConcurrentFetches
	}
	pages := o.crawler.Crawl(ctx, startURL, maxDepth, maxConcurrent)
	return o.ingestPages(ctx, pages, maxConcurrent)
}

// Search asks the meta-search front-end for result URLs, ingests them,
// and answers with either the raw markdown per URL or a RAG pass over
// the freshly indexed content.
func (o *Orchestrator) Search(ctx context.Context, query string, numResults int, returnRawMarkdown bool, maxConcurrent int) (*SearchReport, error) {
	if o.searcher == nil || !o.searcher.Available() {
		return nil, errors.New(errors.KindFetchFailed, "meta-search front-end is not configured")
	}
	hits, err := o.searcher.Search(ctx, query, numResults)
	if err != nil {
		return nil, err
	}
	if maxConcurrent < 1 {
		maxConcurrent = o.cfg.Crawl.MaxConcurrentFetches
	}

	urls := make([]string, 0, len(hits))
	for _, h := range hits {
		urls = append(urls, h.URL)
	}
	pages := o.fetcher.FetchBatch(ctx, urls, maxConcurrent)

	if returnRawMarkdown {
		report := &SearchReport{Mode: "raw_markdown", Query: query, RawMarkdown: make(map[string]string, len(pages))}
		for _, p := range pages {
			if p.OK {
				report.RawMarkdown[p.URL] = p.Markdown
				report.Outcomes = append(report.Outcomes, URLOutcome{URL: p.URL, Success: true, WordCount: len(strings.Fields(p.Markdown))})
			} else {
				report.Outcomes = append(report.Outcomes, URLOutcome{URL: p.URL, Error: p.Error})
			}
		}
		return report, nil
	}

	scrape, err := o.ingestPages(ctx, pages, maxConcurrent)
	if err != nil {
		return nil, err
	}
	results, err := o.engine.RAGQuery(ctx, query, "", numResults)
	if err != nil {
		return nil, err
	}
	return &SearchReport{Mode: "rag", Query: query, Results: results, Outcomes: scrape.Outcomes}, nil
}

// ParseGithubRepository ingests a repository into the knowledge graph.
func (o *Orchestrator) ParseGithubRepository(ctx context.Context, cloneURL string) (*graph.IngestReport, error) {
	if err := o.requireGraph(); err != nil {
		return nil, err
	}
	return o.graph.IngestRepository(ctx, cloneURL)
}

// ParseRepositoryBranch ingests a specific branch.
func (o *Orchestrator) ParseRepositoryBranch(ctx context.Context, cloneURL, branch string) (*graph.IngestReport, error) {
	if err := o.requireGraph(); err != nil {
		return nil, err
	}
	return o.graph.IngestRepositoryBranch(ctx, cloneURL, branch)
}

// UpdateParsedRepository re-parses a previously ingested repository.
func (o *Orchestrator) UpdateParsedRepository(ctx context.Context, cloneURL string) (*graph.IngestReport, error) {
	if err := o.requireGraph(); err != nil {
		return nil, err
	}
	return o.graph.UpdateRepository(ctx, cloneURL)
}

func (o *Orchestrator) requireGraph() error {
	if !o.cfg.Flags.KnowledgeGraph || o.graph == nil {
		return errors.New(errors.KindInvalidInput, "knowledge graph tools are disabled (set USE_KNOWLEDGE_GRAPH=true)")
	}
	return nil
}

// pageResult carries the processed artifacts of one page to the
// persistence stage.
type pageResult struct {
	outcome  URLOutcome
	docs     []vector.DocumentChunk
	examples []vector.CodeExample
	sourceID string
	markdown string
}

// ingestPages runs the per-page pipeline concurrently, then persists
// documents, code examples, and finally the source rows.
func (o *Orchestrator) ingestPages(ctx context.Context, pages []crawl.Page, maxConcurrent int) (*ScrapeReport, error) {
	start := time.Now()
	report := &ScrapeReport{}
	if len(pages) == 0 {
		report.ElapsedSeconds = time.Since(start).Seconds()
		return report, nil
	}

	results := async.RunBatched(ctx, pages, maxConcurrent, len(pages),
		func(ctx context.Context, page crawl.Page) (pageResult, error) {
			return o.processPage(ctx, page), nil
		})

	type sourceAccum struct {
		words   int
		content strings.Builder
	}
	sources := make(map[string]*sourceAccum)

	for i, r := range results {
		pr := r.Value
		if r.Err != nil {
			pr = pageResult{outcome: URLOutcome{URL: pages[i].URL, Error: errors.Sanitize(r.Err.Error())}}
		}
		if pr.outcome.Success && len(pr.docs) > 0 {
			if err := o.store.AddDocuments(ctx, pr.docs); err != nil {
				pr.outcome = URLOutcome{URL: pr.outcome.URL, Error: errors.Sanitize(err.Error())}
			}
		}
		if pr.outcome.Success && len(pr.examples) > 0 {
			if err := o.store.AddCodeExamples(ctx, pr.examples); err != nil {
				o.logger.Warn("storing code examples failed",
					"url", pr.outcome.URL, "error", errors.Sanitize(err.Error()))
				pr.outcome.CodeExamples = 0
			}
		}
		if pr.outcome.Success {
			report.TotalChunks += pr.outcome.Chunks
			report.TotalCodeExamples += pr.outcome.CodeExamples
			acc, ok := sources[pr.sourceID]
			if !ok {
				acc = &sourceAccum{}
				sources[pr.sourceID] = acc
			}
			acc.words += pr.outcome.WordCount
			acc.content.WriteString(pr.markdown)
			acc.content.WriteString("\n\n")
		}
		report.Outcomes = append(report.Outcomes, pr.outcome)
	}

	for sourceID, acc := range sources {
		if err := o.updateSource(ctx, sourceID, acc.content.String(), acc.words); err != nil {
			o.logger.Warn("updating source failed",
				"source_id", sourceID, "error", errors.Sanitize(err.Error()))
			continue
		}
		report.SourcesUpdated = append(report.SourcesUpdated, sourceID)
	}
	sort.Strings(report.SourcesUpdated)

	report.ElapsedSeconds = time.Since(start).Seconds()
	o.logger.Info("ingestion complete",
		"pages", len(pages),
		"chunks", report.TotalChunks,
		"code_examples", report.TotalCodeExamples,
		"sources", len(report.SourcesUpdated),
		"elapsed_seconds", report.ElapsedSeconds)
	return report, nil
}

// processPage runs chunking, code extraction, enrichment, and
// embedding for one fetched page. Storage happens later so source
// word counts accumulate once per batch.
func (o *Orchestrator) processPage(ctx context.Context, page crawl.Page) pageResult {
	if !page.OK {
		return pageResult{outcome: URLOutcome{URL: page.URL, Error: page.Error}}
	}
	if strings.TrimSpace(page.Markdown) == "" {
		return pageResult{outcome: URLOutcome{URL: page.URL, Error: "page produced no markdown content"}}
	}

	sourceID := crawl.RegistrableHost(page.URL)
	if sourceID == "" {
		return pageResult{outcome: URLOutcome{URL: page.URL, Error: "could not derive source host"}}
	}

	// Chunking and code mining read the same markdown independently.
	var chunks []string
	var blocks []chunk.CodeBlock
	done := make(chan struct{})
	go func() {
		defer close(done)
		if o.cfg.Flags.AgenticRAG {
			blocks = chunk.ExtractCodeBlocks(page.Markdown, o.cfg.Crawl.CodeBlockMinChars)
		}
	}()
	chunks = chunk.SmartChunk(page.Markdown, o.cfg.Crawl.ChunkSize)
	<-done

	if len(chunks) == 0 {
		return pageResult{outcome: URLOutcome{URL: page.URL, Error: "page produced no chunks"}}
	}

	enriched := o.enricher.EnrichChunks(ctx, page.Markdown, chunks)
	texts := make([]string, len(enriched))
	for i, e := range enriched {
		texts[i] = e.Text
	}

	embeddings, err := o.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return pageResult{outcome: URLOutcome{URL: page.URL, Error: errors.Sanitize(err.Error())}}
	}

	words := 0
	docs := make([]vector.DocumentChunk, len(enriched))
	for i, e := range enriched {
		info := chunk.ExtractSectionInfo(chunks[i])
		words += info.WordCount
		docs[i] = vector.DocumentChunk{
			URL:         page.URL,
			ChunkNumber: i,
			Content:     e.Text,
			SourceID:    sourceID,
			Embedding:   embeddings[i],
			Metadata: map[string]any{
				"headers":              info.Headers,
				"char_count":           info.CharCount,
				"word_count":           info.WordCount,
				"contextual_embedding": e.UsedLLM,
				"embedding_failed":     embed.IsZeroVector(embeddings[i]),
				"source_id":            sourceID,
			},
		}
	}

	examples, exampleCount := o.processCodeBlocks(ctx, page.URL, sourceID, blocks)

	return pageResult{
		outcome: URLOutcome{
			URL:          page.URL,
			Success:      true,
			Chunks:       len(docs),
			CodeExamples: exampleCount,
			WordCount:    words,
		},
		docs:     docs,
		examples: examples,
		sourceID: sourceID,
		markdown: page.Markdown,
	}
}

// processCodeBlocks summarizes and embeds mined code blocks. The
// embedding covers code and summary together.
func (o *Orchestrator) processCodeBlocks(ctx context.Context, url, sourceID string, blocks []chunk.CodeBlock) ([]vector.CodeExample, int) {
	if len(blocks) == 0 {
		return nil, 0
	}

	summaries := o.summarizer.SummarizeCodeBlocks(ctx, blocks)

	texts := make([]string, len(blocks))
	for i, b := range blocks {
		texts[i] = fmt.Sprintf("%s\n\nSummary: %s", b.Code, summaries[i])
	}
	embeddings, err := o.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		o.logger.Warn("embedding code examples failed",
			"url", url, "error", errors.Sanitize(err.Error()))
		return nil, 0
	}

	examples := make([]vector.CodeExample, len(blocks))
	for i, b := range blocks {
		examples[i] = vector.CodeExample{
			URL:         url,
			ChunkNumber: i,
			Code:        b.Code,
			Summary:     summaries[i],
			SourceID:    sourceID,
			Embedding:   embeddings[i],
			Metadata: map[string]any{
				"language":             b.Language,
				"line_count":           b.LineCount,
				"context_before_words": len(strings.Fields(b.ContextBefore)),
				"context_after_words":  len(strings.Fields(b.ContextAfter)),
				"embedding_failed":     embed.IsZeroVector(embeddings[i]),
				"source_id":            sourceID,
			},
		}
	}
	return examples, len(examples)
}

// updateSource upserts a source row. Word counts accumulate across
// ingestions of the same host.
func (o *Orchestrator) updateSource(ctx context.Context, sourceID, content string, wordDelta int) error {
	total := wordDelta
	if existing, err := o.store.GetSource(ctx, sourceID); err == nil && existing != nil {
		total += existing.TotalWordCount
	}

	summary := o.summarizer.SummarizeSource(ctx, sourceID, content)
	embedding, err := o.embedder.EmbedSingle(ctx, summary)
	if err != nil {
		o.logger.Warn("embedding source summary failed",
			"source_id", sourceID, "error", errors.Sanitize(err.Error()))
		embedding = embed.ZeroVector(o.embedder.Dimensions())
	}
	return o.store.UpdateSourceInfo(ctx, sourceID, summary, total, embedding)
}
