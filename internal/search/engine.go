// Package search implements the retrieval engine: hybrid
// semantic+keyword queries over the vector store, optional
// cross-encoder reranking, graph-validated code search, and a
// TTL-bounded result cache.
package search

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Aman-CERP/crawlmcp/internal/async"
	"github.com/Aman-CERP/crawlmcp/internal/config"
	"github.com/Aman-CERP/crawlmcp/internal/errors"
	"github.com/Aman-CERP/crawlmcp/internal/graph"
	"github.com/Aman-CERP/crawlmcp/internal/vector"
)

const (
	// hybridBoost is added to the similarity of items found by both
	// the semantic and the keyword pass.
	hybridBoost = 0.5

	// validThreshold is the confidence above which a validated code
	// result counts as valid.
	validThreshold = 0.6

	// Validation check weights.
	weightRepository       = 0.3
	weightClass            = 0.3
	weightMethodOrFunction = 0.7

	resultCacheTTL  = 30 * time.Minute
	resultCacheSize = 512
)

// Embedder is the slice of the embedding batcher the engine needs.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// GraphChecker is the slice of the graph store used by validated code
// search. A nil checker disables validation.
type GraphChecker interface {
	Healthy(ctx context.Context) bool
	ListRepositories(ctx context.Context) ([]graph.RepositoryRecord, error)
	FindClass(ctx context.Context, name, repo string) ([]graph.ClassRecord, error)
	FindMethod(ctx context.Context, name, class, repo string) ([]graph.MethodRecord, error)
	FindFunction(ctx context.Context, name, repo string) ([]graph.FunctionRecord, error)
}

// RankedResult is a search hit with optional rerank and validation
// annotations.
type RankedResult struct {
	vector.SearchResult
	RerankScore *float64    `json:"rerank_score,omitempty"`
	Validation  *Validation `json:"validation,omitempty"`
}

// Validation is the graph-check envelope attached by validated code
// search.
type Validation struct {
	IsValid        bool    `json:"is_valid"`
	Confidence     float64 `json:"confidence"`
	Checks         []Check `json:"checks,omitempty"`
	Neo4jValidated bool    `json:"neo4j_validated"`
}

// Check is one graph existence check with its weight.
type Check struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Weight float64 `json:"weight"`
}

// Engine answers retrieval queries. Behavior is controlled by the
// hybrid-search and reranking feature flags.
type Engine struct {
	store    vector.Store
	embedder Embedder
	reranker Reranker
	graph    GraphChecker
	flags    config.FlagsConfig
	cache    *async.Cache
	logger   *slog.Logger
}

func NewEngine(store vector.Store, embedder Embedder, reranker Reranker, checker GraphChecker, flags config.FlagsConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := async.NewCache(resultCacheSize, resultCacheTTL)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(err)
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		graph:    checker,
		flags:    flags,
		cache:    cache,
		logger:   logger.With("component", "search"),
	}
}

// CacheStats exposes result-cache counters.
func (e *Engine) CacheStats() async.CacheStats {
	return e.cache.Stats()
}

// RAGQuery runs the document retrieval pipeline: semantic search,
// optional keyword merge, optional rerank, truncate to matchCount.
func (e *Engine) RAGQuery(ctx context.Context, query, sourceID string, matchCount int) ([]RankedResult, error) {
	if matchCount < 1 {
		matchCount = 5
	}
	key := cacheKey("rag_query", query, sourceID, matchCount)
	if cached, ok := e.cache.Get(key); ok {
		return cached.([]RankedResult), nil
	}

	results, err := e.hybridQuery(ctx, query, query, sourceID, matchCount,
		e.store.SearchDocuments, e.store.SearchDocumentsByKeyword)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, results)
	return results, nil
}

// SearchCodeExamples runs the same pipeline against the code examples
// collection. The embedded query is rephrased to sit closer to the
// stored code+summary embeddings.
func (e *Engine) SearchCodeExamples(ctx context.Context, query, sourceID string, matchCount int) ([]RankedResult, error) {
	if matchCount < 1 {
		matchCount = 5
	}
	key := cacheKey("search_code_examples", query, sourceID, matchCount)
	if cached, ok := e.cache.Get(key); ok {
		return cached.([]RankedResult), nil
	}

	embedQuery := fmt.Sprintf("Code example for %s\n\nSummary: code that %s", query, query)
	results, err := e.hybridQuery(ctx, query, embedQuery, sourceID, matchCount,
		e.store.SearchCodeExamples, e.store.SearchCodeExamplesByKeyword)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, results)
	return results, nil
}

// ValidatedCodeSearch runs SearchCodeExamples and annotates each hit
// with graph existence checks. When the graph backend is absent or
// unhealthy every item carries neo4j_validated=false and the ordering
// is untouched.
func (e *Engine) ValidatedCodeSearch(ctx context.Context, query, sourceID string, matchCount int) ([]RankedResult, error) {
	key := cacheKey("validated_code_search", query, sourceID, matchCount)
	if cached, ok := e.cache.Get(key); ok {
		return cached.([]RankedResult), nil
	}

	results, err := e.SearchCodeExamples(ctx, query, sourceID, matchCount)
	if err != nil {
		return nil, err
	}

	validated := make([]RankedResult, len(results))
	copy(validated, results)

	if e.graph == nil || !e.graph.Healthy(ctx) {
		for i := range validated {
			validated[i].Validation = &Validation{Neo4jValidated: false}
		}
		e.cache.Set(key, validated)
		return validated, nil
	}

	for i := range validated {
		validated[i].Validation = e.validateItem(ctx, &validated[i])
	}
	e.cache.Set(key, validated)
	return validated, nil
}

// GetAvailableSources lists all known sources.
func (e *Engine) GetAvailableSources(ctx context.Context) ([]vector.SourceInfo, error) {
	return e.store.GetSources(ctx)
}

// SearchSources finds sources whose summaries are semantically close
// to the query.
func (e *Engine) SearchSources(ctx context.Context, query string, matchCount int) ([]vector.SourceInfo, error) {
	queryVec, err := e.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEmbeddingFailed, "embedding source query")
	}
	return e.store.SearchSources(ctx, queryVec, matchCount)
}

type searchFn func(ctx context.Context, queryEmbedding []float32, matchCount int, filter map[string]any, sourceID string) ([]vector.SearchResult, error)
type keywordFn func(ctx context.Context, keyword string, matchCount int, sourceID string) ([]vector.SearchResult, error)

func (e *Engine) hybridQuery(ctx context.Context, query, embedQuery, sourceID string, matchCount int, semantic searchFn, keyword keywordFn) ([]RankedResult, error) {
	queryVec, err := e.embedder.EmbedSingle(ctx, embedQuery)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEmbeddingFailed, "embedding query")
	}

	pool := matchCount * 2
	semanticHits, err := semantic(ctx, queryVec, pool, nil, sourceID)
	if err != nil {
		return nil, err
	}

	merged := semanticHits
	if e.flags.HybridSearch {
		keywordHits, err := keyword(ctx, query, pool, sourceID)
		if err != nil {
			e.logger.Warn("keyword search failed, using semantic results only",
				"error", errors.Sanitize(err.Error()))
		} else {
			merged = mergeHybrid(semanticHits, keywordHits)
		}
	}

	results := make([]RankedResult, len(merged))
	for i, hit := range merged {
		results[i] = RankedResult{SearchResult: hit}
	}

	if e.flags.Reranking && e.reranker != nil {
		results = e.rerank(ctx, query, results, pool)
	}

	if len(results) > matchCount {
		results = results[:matchCount]
	}
	return results, nil
}

// mergeHybrid combines semantic and keyword hits. Items present in
// both lists are boosted by hybridBoost and sort first, remaining
// semantic hits follow in order, keyword-only hits trail with no
// similarity score. Deduplicated by (url, chunk_number).
func mergeHybrid(semantic, keyword []vector.SearchResult) []vector.SearchResult {
	type itemKey struct {
		url   string
		chunk int
	}
	inKeyword := make(map[itemKey]bool, len(keyword))
	for _, k := range keyword {
		inKeyword[itemKey{k.URL, k.ChunkNumber}] = true
	}

	var boosted, semanticOnly []vector.SearchResult
	seen := make(map[itemKey]bool, len(semantic))
	for _, s := range semantic {
		k := itemKey{s.URL, s.ChunkNumber}
		seen[k] = true
		if inKeyword[k] {
			s.Similarity += hybridBoost
			boosted = append(boosted, s)
		} else {
			semanticOnly = append(semanticOnly, s)
		}
	}

	sort.SliceStable(boosted, func(i, j int) bool {
		return boosted[i].Similarity > boosted[j].Similarity
	})

	out := append(boosted, semanticOnly...)
	for _, k := range keyword {
		key := itemKey{k.URL, k.ChunkNumber}
		if seen[key] {
			continue
		}
		seen[key] = true
		k.Similarity = 0
		out = append(out, k)
	}
	return out
}

// rerank scores the top poolSize results with the cross-encoder and
// reorders by score descending, original similarity breaking ties.
// A reranker failure keeps the merged ordering.
func (e *Engine) rerank(ctx context.Context, query string, results []RankedResult, poolSize int) []RankedResult {
	if len(results) == 0 {
		return results
	}
	head := results
	if len(head) > poolSize {
		head = head[:poolSize]
	}

	docs := make([]string, len(head))
	for i, r := range head {
		docs[i] = r.Content
	}

	scored, err := e.reranker.Rerank(ctx, query, docs, 0)
	if err != nil {
		e.logger.Warn("rerank failed, keeping merged order",
			"error", errors.Sanitize(err.Error()))
		return results
	}

	for _, s := range scored {
		if s.Index < 0 || s.Index >= len(head) {
			continue
		}
		score := s.Score
		head[s.Index].RerankScore = &score
	}

	sort.SliceStable(head, func(i, j int) bool {
		si, sj := head[i].RerankScore, head[j].RerankScore
		switch {
		case si != nil && sj != nil && *si != *sj:
			return *si > *sj
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		default:
			return head[i].Similarity > head[j].Similarity
		}
	})
	return results
}

// validateItem runs the graph checks relevant to the entity names
// declared in a code example's metadata. Only applicable checks
// contribute weight; with no declared entities confidence is zero.
func (e *Engine) validateItem(ctx context.Context, item *RankedResult) *Validation {
	repoName := metaString(item.Metadata, "repository", "repo_name")
	className := metaString(item.Metadata, "class_name")
	methodName := metaString(item.Metadata, "method_name")
	functionName := metaString(item.Metadata, "function_name")

	v := &Validation{Neo4jValidated: true}
	var passed, applied float64

	addCheck := func(name string, weight float64, ok bool) {
		v.Checks = append(v.Checks, Check{Name: name, Passed: ok, Weight: weight})
		applied += weight
		if ok {
			passed += weight
		}
	}

	if repoName != "" {
		ok := false
		if repos, err := e.graph.ListRepositories(ctx); err == nil {
			for _, r := range repos {
				if r.Name == repoName {
					ok = true
					break
				}
			}
		}
		addCheck("repository_exists", weightRepository, ok)
	}
	if className != "" {
		classes, err := e.graph.FindClass(ctx, className, repoName)
		addCheck("class_exists", weightClass, err == nil && len(classes) > 0)
	}
	if methodName != "" {
		methods, err := e.graph.FindMethod(ctx, methodName, className, repoName)
		addCheck("method_exists", weightMethodOrFunction, err == nil && len(methods) > 0)
	} else if functionName != "" {
		functions, err := e.graph.FindFunction(ctx, functionName, repoName)
		addCheck("function_exists", weightMethodOrFunction, err == nil && len(functions) > 0)
	}

	if applied > 0 {
		v.Confidence = passed / applied
	}
	v.IsValid = v.Confidence >= validThreshold
	return v
}

func metaString(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := meta[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func cacheKey(operation, query, sourceID string, matchCount int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%s|%d", operation, query, sourceID, matchCount)))
	return fmt.Sprintf("%x", sum)
}
