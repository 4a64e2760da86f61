package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/crawlmcp/internal/config"
	"github.com/Aman-CERP/crawlmcp/internal/crawl"
	"github.com/Aman-CERP/crawlmcp/internal/errors"
	"github.com/Aman-CERP/crawlmcp/internal/llm"
	"github.com/Aman-CERP/crawlmcp/internal/search"
	"github.com/Aman-CERP/crawlmcp/internal/searxng"
	"github.com/Aman-CERP/crawlmcp/internal/vector"
)

// memStore is an in-memory vector.Store recording writes.
type memStore struct {
	vector.Store

	mu       sync.Mutex
	docs     map[string][]vector.DocumentChunk
	examples map[string][]vector.CodeExample
	sources  map[string]vector.SourceInfo
}

func newMemStore() *memStore {
	return &memStore{
		docs:     make(map[string][]vector.DocumentChunk),
		examples: make(map[string][]vector.CodeExample),
		sources:  make(map[string]vector.SourceInfo),
	}
}

func (m *memStore) AddDocuments(_ context.Context, docs []vector.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		delete(m.docs, d.URL)
	}
	for _, d := range docs {
		m.docs[d.URL] = append(m.docs[d.URL], d)
	}
	return nil
}

func (m *memStore) AddCodeExamples(_ context.Context, examples []vector.CodeExample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range examples {
		delete(m.examples, e.URL)
	}
	for _, e := range examples {
		m.examples[e.URL] = append(m.examples[e.URL], e)
	}
	return nil
}

func (m *memStore) GetSource(_ context.Context, sourceID string) (*vector.SourceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[sourceID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *memStore) UpdateSourceInfo(_ context.Context, sourceID, summary string, wordCount int, _ []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[sourceID] = vector.SourceInfo{SourceID: sourceID, Summary: summary, TotalWordCount: wordCount}
	return nil
}

// fakeFetcher serves canned pages by URL.
type fakeFetcher struct {
	pages map[string]crawl.Page
}

func (f *fakeFetcher) FetchBatch(_ context.Context, urls []string, _ int) []crawl.Page {
	seen := make(map[string]bool)
	var out []crawl.Page
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		if p, ok := f.pages[u]; ok {
			out = append(out, p)
		} else {
			out = append(out, crawl.Page{URL: u, Error: "not found", Kind: errors.KindFetchFailed})
		}
	}
	return out
}

type fakeCrawler struct {
	pages []crawl.Page
}

func (f *fakeCrawler) Crawl(context.Context, string, int, int) []crawl.Page {
	return f.pages
}

// countingEmbedder records texts. Texts containing the poison marker
// get the zero vector, mirroring the batcher's per-item degradation.
type countingEmbedder struct {
	mu     sync.Mutex
	texts  []string
	poison string
}

func (e *countingEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.texts = append(e.texts, texts...)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if e.poison != "" && strings.Contains(text, e.poison) {
			out[i] = make([]float32, 4)
			continue
		}
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (e *countingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *countingEmbedder) Dimensions() int { return 4 }

type fakeSearcher struct {
	hits []searxng.Result
	err  error
}

func (f *fakeSearcher) Available() bool { return true }

func (f *fakeSearcher) Search(context.Context, string, int) ([]searxng.Result, error) {
	return f.hits, f.err
}

type fakeEngine struct {
	results []search.RankedResult
}

func (f *fakeEngine) RAGQuery(context.Context, string, string, int) ([]search.RankedResult, error) {
	return f.results, nil
}

func okPage(url, markdown string) crawl.Page {
	return crawl.Page{URL: url, Markdown: markdown, OK: true, Status: 200}
}

func testConfig(flags config.FlagsConfig) *config.Config {
	return &config.Config{
		Flags: flags,
		Crawl: config.CrawlConfig{
			ChunkSize:            400,
			MaxConcurrentFetches: 4,
			CodeBlockMinChars:    20,
		},
	}
}

func newTestOrchestrator(t *testing.T, store vector.Store, fetcher Fetcher, crawler Crawler, searcher MetaSearcher, engine RAGEngine, graphStore GraphIngestor, flags config.FlagsConfig) (*Orchestrator, *countingEmbedder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	embedder := &countingEmbedder{}
	enricher := llm.NewEnricher(nil, false, 2, logger)
	summarizer := llm.NewSummarizer(nil, 2, logger)
	o := NewOrchestrator(fetcher, crawler, store, embedder, enricher, summarizer,
		searcher, engine, graphStore, testConfig(flags), logger)
	return o, embedder
}

func TestScrapeURLsStoresChunks(t *testing.T) {
	markdown := "# Guide\n\nSome introduction text about the tool.\n\n## Install\n\nRun the installer."
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://docs.example.com/guide": okPage("https://docs.example.com/guide", markdown),
	}}
	o, _ := newTestOrchestrator(t, store, fetcher, nil, nil, nil, nil, config.FlagsConfig{})

	report, err := o.ScrapeURLs(context.Background(), []string{"https://docs.example.com/guide"}, 2)

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].Success)
	assert.Positive(t, report.Outcomes[0].Chunks)
	assert.Equal(t, []string{"example.com"}, report.SourcesUpdated)

	docs := store.docs["https://docs.example.com/guide"]
	require.NotEmpty(t, docs)
	assert.Equal(t, "example.com", docs[0].SourceID)
	assert.Equal(t, 0, docs[0].ChunkNumber)
	assert.Contains(t, docs[0].Metadata["headers"], "# Guide")
	assert.Equal(t, false, docs[0].Metadata["contextual_embedding"])

	src, err := store.GetSource(context.Background(), "example.com")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "Content from example.com", src.Summary)
	assert.Positive(t, src.TotalWordCount)
}

func TestScrapeURLsFailedPageKeepsSlot(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://a.test/ok": okPage("https://a.test/ok", "# Fine\n\ncontent here"),
	}}
	o, _ := newTestOrchestrator(t, store, fetcher, nil, nil, nil, nil, config.FlagsConfig{})

	report, err := o.ScrapeURLs(context.Background(),
		[]string{"https://a.test/ok", "https://a.test/broken"}, 2)

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.True(t, report.Outcomes[0].Success)
	assert.False(t, report.Outcomes[1].Success)
	assert.NotEmpty(t, report.Outcomes[1].Error)
	assert.Empty(t, store.docs["https://a.test/broken"])
}

func TestScrapeURLsEmptyMarkdownSkipped(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://a.test/empty": okPage("https://a.test/empty", "   \n\t"),
	}}
	o, _ := newTestOrchestrator(t, store, fetcher, nil, nil, nil, nil, config.FlagsConfig{})

	report, err := o.ScrapeURLs(context.Background(), []string{"https://a.test/empty"}, 1)

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.False(t, report.Outcomes[0].Success)
	assert.Empty(t, report.SourcesUpdated)
}

func TestScrapeURLsAdditiveWordCount(t *testing.T) {
	markdown := "# Page\n\none two three four five"
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://a.test/p": okPage("https://a.test/p", markdown),
	}}
	o, _ := newTestOrchestrator(t, store, fetcher, nil, nil, nil, nil, config.FlagsConfig{})

	_, err := o.ScrapeURLs(context.Background(), []string{"https://a.test/p"}, 1)
	require.NoError(t, err)
	first, _ := store.GetSource(context.Background(), "a.test")
	require.NotNil(t, first)

	_, err = o.ScrapeURLs(context.Background(), []string{"https://a.test/p"}, 1)
	require.NoError(t, err)
	second, _ := store.GetSource(context.Background(), "a.test")
	require.NotNil(t, second)

	assert.Equal(t, 2*first.TotalWordCount, second.TotalWordCount)
}

func TestScrapeURLsExtractsCodeWhenFlagged(t *testing.T) {
	code := strings.Repeat("print('hello')\n", 5)
	markdown := "# Examples\n\nIntro prose.\n\n```python\n" + code + "```\n\nClosing prose."
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://a.test/code": okPage("https://a.test/code", markdown),
	}}

	o, embedder := newTestOrchestrator(t, store, fetcher, nil, nil, nil, nil,
		config.FlagsConfig{AgenticRAG: true})
	report, err := o.ScrapeURLs(context.Background(), []string{"https://a.test/code"}, 1)

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, 1, report.Outcomes[0].CodeExamples)

	examples := store.examples["https://a.test/code"]
	require.Len(t, examples, 1)
	assert.Equal(t, "python", examples[0].Metadata["language"])
	assert.Equal(t, llm.DefaultCodeSummary, examples[0].Summary)

	// Code embedding input carries code and summary together.
	found := false
	for _, text := range embedder.texts {
		if strings.Contains(text, "print('hello')") && strings.Contains(text, "Summary:") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScrapeURLsFlagsZeroVectorChunks(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://a.test/good": okPage("https://a.test/good", "# Fine\n\nordinary prose here"),
		"https://a.test/bad":  okPage("https://a.test/bad", "# Broken\n\nUNEMBEDDABLE content"),
	}}
	o, embedder := newTestOrchestrator(t, store, fetcher, nil, nil, nil, nil, config.FlagsConfig{})
	embedder.poison = "UNEMBEDDABLE"

	report, err := o.ScrapeURLs(context.Background(),
		[]string{"https://a.test/good", "https://a.test/bad"}, 2)

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.True(t, report.Outcomes[0].Success)
	assert.True(t, report.Outcomes[1].Success, "degraded chunks still persist")

	good := store.docs["https://a.test/good"]
	require.NotEmpty(t, good)
	assert.Equal(t, false, good[0].Metadata["embedding_failed"])

	bad := store.docs["https://a.test/bad"]
	require.NotEmpty(t, bad)
	assert.Equal(t, true, bad[0].Metadata["embedding_failed"])
	assert.Equal(t, make([]float32, 4), bad[0].Embedding)
}

func TestScrapeURLsFlagsZeroVectorCodeExamples(t *testing.T) {
	code := strings.Repeat("UNEMBEDDABLE = 1\n", 5)
	markdown := "# Examples\n\nIntro prose.\n\n```python\n" + code + "```\n\nClosing prose."
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://a.test/code": okPage("https://a.test/code", markdown),
	}}
	o, embedder := newTestOrchestrator(t, store, fetcher, nil, nil, nil, nil,
		config.FlagsConfig{AgenticRAG: true})
	embedder.poison = "UNEMBEDDABLE"

	_, err := o.ScrapeURLs(context.Background(), []string{"https://a.test/code"}, 1)
	require.NoError(t, err)

	examples := store.examples["https://a.test/code"]
	require.Len(t, examples, 1)
	assert.Equal(t, true, examples[0].Metadata["embedding_failed"])
}

func TestScrapeURLsSkipsCodeWithoutFlag(t *testing.T) {
	markdown := "# Examples\n\n```python\n" + strings.Repeat("x = 1\n", 10) + "```\n"
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://a.test/code": okPage("https://a.test/code", markdown),
	}}
	o, _ := newTestOrchestrator(t, store, fetcher, nil, nil, nil, nil, config.FlagsConfig{})

	report, err := o.ScrapeURLs(context.Background(), []string{"https://a.test/code"}, 1)

	require.NoError(t, err)
	assert.Zero(t, report.Outcomes[0].CodeExamples)
	assert.Empty(t, store.examples["https://a.test/code"])
}

func TestSmartCrawlURLIngestsPlannedPages(t *testing.T) {
	store := newMemStore()
	crawler := &fakeCrawler{pages: []crawl.Page{
		okPage("https://a.test/1", "# One\n\nfirst page"),
		okPage("https://a.test/2", "# Two\n\nsecond page"),
	}}
	o, _ := newTestOrchestrator(t, store, nil, crawler, nil, nil, nil, config.FlagsConfig{})

	report, err := o.SmartCrawlURL(context.Background(), "https://a.test/", 2, 4)

	require.NoError(t, err)
	assert.Len(t, report.Outcomes, 2)
	assert.Len(t, store.docs, 2)
}

func TestSearchRawMarkdown(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://a.test/hit": okPage("https://a.test/hit", "# Hit\n\nmarkdown body"),
	}}
	searcher := &fakeSearcher{hits: []searxng.Result{{URL: "https://a.test/hit", Title: "Hit"}}}
	o, _ := newTestOrchestrator(t, store, fetcher, nil, searcher, nil, nil, config.FlagsConfig{})

	report, err := o.Search(context.Background(), "markdown body", 5, true, 2)

	require.NoError(t, err)
	assert.Equal(t, "raw_markdown", report.Mode)
	assert.Contains(t, report.RawMarkdown["https://a.test/hit"], "markdown body")
	// Raw mode does not index anything.
	assert.Empty(t, store.docs)
}

func TestSearchRAGMode(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]crawl.Page{
		"https://a.test/hit": okPage("https://a.test/hit", "# Hit\n\nindexed body"),
	}}
	searcher := &fakeSearcher{hits: []searxng.Result{{URL: "https://a.test/hit"}}}
	engine := &fakeEngine{results: []search.RankedResult{
		{SearchResult: vector.SearchResult{URL: "https://a.test/hit", Content: "indexed body"}},
	}}
	o, _ := newTestOrchestrator(t, store, fetcher, nil, searcher, engine, nil, config.FlagsConfig{})

	report, err := o.Search(context.Background(), "indexed body", 5, false, 2)

	require.NoError(t, err)
	assert.Equal(t, "rag", report.Mode)
	require.Len(t, report.Results, 1)
	// RAG mode indexes the scraped pages first.
	assert.NotEmpty(t, store.docs)
}

func TestSearchWithoutSearcher(t *testing.T) {
	o, _ := newTestOrchestrator(t, newMemStore(), nil, nil, nil, nil, nil, config.FlagsConfig{})
	_, err := o.Search(context.Background(), "q", 5, false, 2)
	require.Error(t, err)
	assert.Equal(t, errors.KindFetchFailed, errors.KindOf(err))
}

func TestGraphToolsGatedByFlag(t *testing.T) {
	o, _ := newTestOrchestrator(t, newMemStore(), nil, nil, nil, nil, nil, config.FlagsConfig{})

	_, err := o.ParseGithubRepository(context.Background(), "https://github.com/x/y.git")
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	_, err = o.UpdateParsedRepository(context.Background(), "https://github.com/x/y.git")
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}
