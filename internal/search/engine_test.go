package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/crawlmcp/internal/config"
	"github.com/Aman-CERP/crawlmcp/internal/graph"
	"github.com/Aman-CERP/crawlmcp/internal/vector"
)

// fakeStore serves canned results and counts calls.
type fakeStore struct {
	vector.Store

	semanticHits []vector.SearchResult
	keywordHits  []vector.SearchResult
	sources      []vector.SourceInfo

	semanticCalls int
	keywordCalls  int
}

func (f *fakeStore) SearchDocuments(ctx context.Context, _ []float32, matchCount int, _ map[string]any, _ string) ([]vector.SearchResult, error) {
	f.semanticCalls++
	return capResults(f.semanticHits, matchCount), nil
}

func (f *fakeStore) SearchDocumentsByKeyword(ctx context.Context, _ string, matchCount int, _ string) ([]vector.SearchResult, error) {
	f.keywordCalls++
	return capResults(f.keywordHits, matchCount), nil
}

func (f *fakeStore) SearchCodeExamples(ctx context.Context, _ []float32, matchCount int, _ map[string]any, _ string) ([]vector.SearchResult, error) {
	f.semanticCalls++
	return capResults(f.semanticHits, matchCount), nil
}

func (f *fakeStore) SearchCodeExamplesByKeyword(ctx context.Context, _ string, matchCount int, _ string) ([]vector.SearchResult, error) {
	f.keywordCalls++
	return capResults(f.keywordHits, matchCount), nil
}

func (f *fakeStore) GetSources(ctx context.Context) ([]vector.SourceInfo, error) {
	return f.sources, nil
}

func (f *fakeStore) SearchSources(ctx context.Context, _ []float32, matchCount int) ([]vector.SourceInfo, error) {
	out := f.sources
	if len(out) > matchCount {
		out = out[:matchCount]
	}
	return out, nil
}

func capResults(hits []vector.SearchResult, n int) []vector.SearchResult {
	if len(hits) > n {
		hits = hits[:n]
	}
	out := make([]vector.SearchResult, len(hits))
	copy(out, hits)
	return out
}

type fakeEmbedder struct {
	lastText string
}

func (f *fakeEmbedder) EmbedSingle(_ context.Context, text string) ([]float32, error) {
	f.lastText = text
	return []float32{1, 0, 0, 0}, nil
}

// fakeReranker scores documents by a fixed map from content to score.
type fakeReranker struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, documents []string, _ int) ([]RerankResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]RerankResult, len(documents))
	for i, doc := range documents {
		out[i] = RerankResult{Index: i, Score: f.scores[doc]}
	}
	return out, nil
}

func (f *fakeReranker) Available(context.Context) bool { return true }
func (f *fakeReranker) Close() error                   { return nil }

// fakeGraph answers existence checks from fixed sets.
type fakeGraph struct {
	healthy   bool
	repos     []string
	classes   map[string]bool
	methods   map[string]bool
	functions map[string]bool
}

func (f *fakeGraph) Healthy(context.Context) bool { return f.healthy }

func (f *fakeGraph) ListRepositories(context.Context) ([]graph.RepositoryRecord, error) {
	out := make([]graph.RepositoryRecord, len(f.repos))
	for i, name := range f.repos {
		out[i] = graph.RepositoryRecord{Name: name}
	}
	return out, nil
}

func (f *fakeGraph) FindClass(_ context.Context, name, _ string) ([]graph.ClassRecord, error) {
	if f.classes[name] {
		return []graph.ClassRecord{{Name: name}}, nil
	}
	return nil, nil
}

func (f *fakeGraph) FindMethod(_ context.Context, name, _, _ string) ([]graph.MethodRecord, error) {
	if f.methods[name] {
		return []graph.MethodRecord{{Name: name}}, nil
	}
	return nil, nil
}

func (f *fakeGraph) FindFunction(_ context.Context, name, _ string) ([]graph.FunctionRecord, error) {
	if f.functions[name] {
		return []graph.FunctionRecord{{Name: name}}, nil
	}
	return nil, nil
}

func hit(url string, chunk int, content string, similarity float64) vector.SearchResult {
	return vector.SearchResult{
		ID:          fmt.Sprintf("%s-%d", url, chunk),
		URL:         url,
		ChunkNumber: chunk,
		Content:     content,
		SourceID:    "example.com",
		Similarity:  similarity,
	}
}

func newTestEngine(store vector.Store, embedder Embedder, reranker Reranker, checker GraphChecker, flags config.FlagsConfig) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, embedder, reranker, checker, flags, logger)
}

func TestMergeHybridBoost(t *testing.T) {
	semantic := []vector.SearchResult{
		hit("https://x.test/a", 0, "alpha", 0.80),
		hit("https://x.test/b", 0, "beta", 0.70),
	}
	keyword := []vector.SearchResult{
		hit("https://x.test/b", 0, "beta", 0),
		hit("https://x.test/c", 0, "gamma", 0),
	}

	merged := mergeHybrid(semantic, keyword)

	require.Len(t, merged, 3)
	assert.Equal(t, "https://x.test/b", merged[0].URL)
	assert.InDelta(t, 1.20, merged[0].Similarity, 1e-9)
	assert.Equal(t, "https://x.test/a", merged[1].URL)
	assert.InDelta(t, 0.80, merged[1].Similarity, 1e-9)
	assert.Equal(t, "https://x.test/c", merged[2].URL)
	assert.Zero(t, merged[2].Similarity)
}

func TestRAGQuerySemanticOnly(t *testing.T) {
	store := &fakeStore{semanticHits: []vector.SearchResult{
		hit("https://x.test/a", 0, "alpha", 0.9),
		hit("https://x.test/b", 0, "beta", 0.8),
		hit("https://x.test/c", 0, "gamma", 0.7),
	}}

	engine := newTestEngine(store, &fakeEmbedder{}, nil, nil, config.FlagsConfig{})
	results, err := engine.RAGQuery(context.Background(), "q", "", 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://x.test/a", results[0].URL)
	assert.Zero(t, store.keywordCalls)
}

func TestRAGQueryHybridMerge(t *testing.T) {
	store := &fakeStore{
		semanticHits: []vector.SearchResult{
			hit("https://x.test/a", 0, "alpha", 0.80),
			hit("https://x.test/b", 0, "beta", 0.70),
		},
		keywordHits: []vector.SearchResult{
			hit("https://x.test/b", 0, "beta", 0),
			hit("https://x.test/c", 0, "gamma", 0),
		},
	}

	engine := newTestEngine(store, &fakeEmbedder{}, nil, nil, config.FlagsConfig{HybridSearch: true})
	results, err := engine.RAGQuery(context.Background(), "q", "", 3)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "https://x.test/b", results[0].URL)
	assert.Equal(t, 1, store.keywordCalls)
}

func TestRAGQueryCacheHit(t *testing.T) {
	store := &fakeStore{semanticHits: []vector.SearchResult{hit("https://x.test/a", 0, "alpha", 0.9)}}
	engine := newTestEngine(store, &fakeEmbedder{}, nil, nil, config.FlagsConfig{})

	first, err := engine.RAGQuery(context.Background(), "stable query", "", 5)
	require.NoError(t, err)
	second, err := engine.RAGQuery(context.Background(), "stable query", "", 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.semanticCalls)
	assert.Equal(t, uint64(1), engine.CacheStats().Hits)
}

func TestSearchCodeExamplesQueryBias(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	engine := newTestEngine(store, embedder, nil, nil, config.FlagsConfig{})

	_, err := engine.SearchCodeExamples(context.Background(), "parse yaml", "", 5)
	require.NoError(t, err)
	assert.Contains(t, embedder.lastText, "Code example for parse yaml")
	assert.Contains(t, embedder.lastText, "Summary: code that parse yaml")
}

func TestRerankReorders(t *testing.T) {
	store := &fakeStore{semanticHits: []vector.SearchResult{
		hit("https://x.test/a", 0, "alpha", 0.9),
		hit("https://x.test/b", 0, "beta", 0.8),
	}}
	reranker := &fakeReranker{scores: map[string]float64{"alpha": 0.1, "beta": 0.95}}

	engine := newTestEngine(store, &fakeEmbedder{}, reranker, nil, config.FlagsConfig{Reranking: true})
	results, err := engine.RAGQuery(context.Background(), "q", "", 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://x.test/b", results[0].URL)
	require.NotNil(t, results[0].RerankScore)
	assert.InDelta(t, 0.95, *results[0].RerankScore, 1e-9)
	assert.Equal(t, 1, reranker.calls)
}

func TestRerankFailureKeepsMergedOrder(t *testing.T) {
	store := &fakeStore{semanticHits: []vector.SearchResult{
		hit("https://x.test/a", 0, "alpha", 0.9),
		hit("https://x.test/b", 0, "beta", 0.8),
	}}
	reranker := &fakeReranker{err: fmt.Errorf("reranker down")}

	engine := newTestEngine(store, &fakeEmbedder{}, reranker, nil, config.FlagsConfig{Reranking: true})
	results, err := engine.RAGQuery(context.Background(), "q", "", 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://x.test/a", results[0].URL)
	assert.Nil(t, results[0].RerankScore)
}

func TestValidatedCodeSearchDegradesWithoutGraph(t *testing.T) {
	store := &fakeStore{semanticHits: []vector.SearchResult{
		hit("https://x.test/a", 0, "token handling", 0.9),
		hit("https://x.test/b", 0, "auth flow", 0.8),
	}}

	engine := newTestEngine(store, &fakeEmbedder{}, nil, nil, config.FlagsConfig{})
	results, err := engine.ValidatedCodeSearch(context.Background(), "auth token", "", 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotNil(t, r.Validation)
		assert.False(t, r.Validation.Neo4jValidated)
	}
	assert.Equal(t, "https://x.test/a", results[0].URL)
}

func TestValidatedCodeSearchUnhealthyGraph(t *testing.T) {
	store := &fakeStore{semanticHits: []vector.SearchResult{hit("https://x.test/a", 0, "x", 0.9)}}
	engine := newTestEngine(store, &fakeEmbedder{}, nil, &fakeGraph{healthy: false}, config.FlagsConfig{})

	results, err := engine.ValidatedCodeSearch(context.Background(), "q", "", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Validation.Neo4jValidated)
}

func TestValidateItemWeights(t *testing.T) {
	checker := &fakeGraph{
		healthy: true,
		repos:   []string{"widgets"},
		classes: map[string]bool{"Widget": true},
		methods: map[string]bool{"render": true},
	}
	engine := newTestEngine(&fakeStore{}, &fakeEmbedder{}, nil, checker, config.FlagsConfig{})

	tests := []struct {
		name       string
		metadata   map[string]any
		confidence float64
		valid      bool
	}{
		{
			name: "all checks pass",
			metadata: map[string]any{
				"repository": "widgets", "class_name": "Widget", "method_name": "render",
			},
			confidence: 1.0,
			valid:      true,
		},
		{
			name: "method missing fails threshold",
			metadata: map[string]any{
				"repository": "widgets", "class_name": "Widget", "method_name": "render_fancy",
			},
			confidence: 0.6 / 1.3,
			valid:      false,
		},
		{
			name:       "class only",
			metadata:   map[string]any{"class_name": "Widget"},
			confidence: 1.0,
			valid:      true,
		},
		{
			name:       "no declared entities",
			metadata:   map[string]any{"language": "python"},
			confidence: 0,
			valid:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &RankedResult{SearchResult: vector.SearchResult{Metadata: tt.metadata}}
			v := engine.validateItem(context.Background(), item)
			assert.True(t, v.Neo4jValidated)
			assert.InDelta(t, tt.confidence, v.Confidence, 1e-9)
			assert.Equal(t, tt.valid, v.IsValid)
		})
	}
}

func TestGetAvailableSources(t *testing.T) {
	store := &fakeStore{sources: []vector.SourceInfo{{SourceID: "example.com", TotalWordCount: 42}}}
	engine := newTestEngine(store, &fakeEmbedder{}, nil, nil, config.FlagsConfig{})

	sources, err := engine.GetAvailableSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "example.com", sources[0].SourceID)
}

func TestSearchSourcesEmbedsQuery(t *testing.T) {
	store := &fakeStore{sources: []vector.SourceInfo{
		{SourceID: "example.com"},
		{SourceID: "docs.example.com"},
	}}
	embedder := &fakeEmbedder{}
	engine := newTestEngine(store, embedder, nil, nil, config.FlagsConfig{})

	sources, err := engine.SearchSources(context.Background(), "python tutorials", 1)
	require.NoError(t, err)
	assert.Equal(t, "python tutorials", embedder.lastText)
	require.Len(t, sources, 1)
}

func TestCacheKeyDistinguishesOperations(t *testing.T) {
	assert.NotEqual(t,
		cacheKey("rag_query", "q", "", 5),
		cacheKey("search_code_examples", "q", "", 5))
	assert.Equal(t,
		cacheKey("rag_query", "q", "src", 5),
		cacheKey("rag_query", "q", "src", 5))
}
