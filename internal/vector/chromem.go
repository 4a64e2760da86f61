package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/Aman-CERP/crawlmcp/internal/errors"
)

// ChromemStore is the embedded zero-config backend. Vectors live in
// memory, optionally persisted to disk per write.
type ChromemStore struct {
	db     *chromem.DB
	dims   int
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection

	embedFn chromem.EmbeddingFunc
}

// NewChromemStore opens an embedded store. With a non-empty
// persistPath writes are stored under that directory and survive
// restarts; otherwise the store is memory only.
func NewChromemStore(persistPath string, dims int, logger *slog.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindVectorStoreUnavailable, "open persistent vector database")
		}
		logger.Info("opened persistent vector database", slog.String("path", persistPath))
	} else {
		db = chromem.NewDB()
		logger.Info("created in-memory vector database")
	}

	// Embeddings always arrive pre-computed.
	embedFn := func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function invoked but vectors are pre-computed")
	}

	return &ChromemStore{
		db:          db,
		dims:        dims,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
		embedFn:     embedFn,
	}, nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, s.embedFn)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindVectorStoreUnavailable, "get or create collection "+name)
	}
	s.collections[name] = col
	return col, nil
}

// Initialize creates the three collections up front.
func (s *ChromemStore) Initialize(_ context.Context) error {
	for _, name := range []string{CollectionPages, CollectionCode, CollectionSources} {
		if _, err := s.collection(name); err != nil {
			return err
		}
	}
	return nil
}

// safeEmbedding substitutes a unit vector for a zero vector. chromem
// normalizes stored embeddings and a zero vector would turn into NaNs.
func (s *ChromemStore) safeEmbedding(vec []float32) []float32 {
	for _, v := range vec {
		if v != 0 {
			return vec
		}
	}
	out := make([]float32, s.dims)
	out[0] = 1
	return out
}

func (s *ChromemStore) AddDocuments(ctx context.Context, docs []DocumentChunk) error {
	col, err := s.collection(CollectionPages)
	if err != nil {
		return err
	}

	urls := make([]string, len(docs))
	for i, d := range docs {
		urls[i] = d.URL
	}
	for _, u := range distinctURLs(urls) {
		if err := col.Delete(ctx, map[string]string{"url": u}, nil); err != nil {
			s.logger.Warn("delete before insert failed",
				slog.String("url", u), slog.String("error", err.Error()))
		}
	}

	batch := make([]chromem.Document, 0, upsertBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := col.AddDocuments(ctx, batch, 1); err != nil {
			return errors.Wrap(err, errors.KindVectorStoreUnavailable, "insert document batch")
		}
		batch = batch[:0]
		return nil
	}

	for _, d := range docs {
		meta, err := encodeMeta(d.URL, d.ChunkNumber, d.SourceID, d.Metadata)
		if err != nil {
			return err
		}
		batch = append(batch, chromem.Document{
			ID:        DocumentID(d.URL, d.ChunkNumber),
			Content:   d.Content,
			Metadata:  meta,
			Embedding: s.safeEmbedding(d.Embedding),
		})
		if len(batch) == upsertBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *ChromemStore) SearchDocuments(ctx context.Context, queryEmbedding []float32, matchCount int, filter map[string]any, sourceID string) ([]SearchResult, error) {
	return s.semanticSearch(ctx, CollectionPages, queryEmbedding, matchCount, filter, sourceID)
}

func (s *ChromemStore) SearchDocumentsByKeyword(ctx context.Context, keyword string, matchCount int, sourceID string) ([]SearchResult, error) {
	return s.keywordSearch(ctx, CollectionPages, keyword, matchCount, sourceID)
}

func (s *ChromemStore) GetDocumentsByURL(ctx context.Context, url string) ([]SearchResult, error) {
	return s.getByURL(ctx, CollectionPages, url, DocumentID)
}

func (s *ChromemStore) DeleteDocumentsByURL(ctx context.Context, url string) error {
	col, err := s.collection(CollectionPages)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, map[string]string{"url": url}, nil); err != nil {
		return errors.Wrap(err, errors.KindVectorStoreUnavailable, "delete documents for "+url)
	}
	return nil
}

func (s *ChromemStore) AddCodeExamples(ctx context.Context, examples []CodeExample) error {
	col, err := s.collection(CollectionCode)
	if err != nil {
		return err
	}

	urls := make([]string, len(examples))
	for i, e := range examples {
		urls[i] = e.URL
	}
	for _, u := range distinctURLs(urls) {
		if err := col.Delete(ctx, map[string]string{"url": u}, nil); err != nil {
			s.logger.Warn("delete before insert failed",
				slog.String("url", u), slog.String("error", err.Error()))
		}
	}

	batch := make([]chromem.Document, 0, upsertBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := col.AddDocuments(ctx, batch, 1); err != nil {
			return errors.Wrap(err, errors.KindVectorStoreUnavailable, "insert code example batch")
		}
		batch = batch[:0]
		return nil
	}

	for _, e := range examples {
		meta, err := encodeMeta(e.URL, e.ChunkNumber, e.SourceID, e.Metadata)
		if err != nil {
			return err
		}
		meta["summary"] = e.Summary
		batch = append(batch, chromem.Document{
			ID:        CodeExampleID(e.URL, e.ChunkNumber),
			Content:   e.Code,
			Metadata:  meta,
			Embedding: s.safeEmbedding(e.Embedding),
		})
		if len(batch) == upsertBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *ChromemStore) SearchCodeExamples(ctx context.Context, queryEmbedding []float32, matchCount int, filter map[string]any, sourceID string) ([]SearchResult, error) {
	return s.semanticSearch(ctx, CollectionCode, queryEmbedding, matchCount, filter, sourceID)
}

func (s *ChromemStore) SearchCodeExamplesByKeyword(ctx context.Context, keyword string, matchCount int, sourceID string) ([]SearchResult, error) {
	return s.keywordSearch(ctx, CollectionCode, keyword, matchCount, sourceID)
}

func (s *ChromemStore) UpdateSourceInfo(ctx context.Context, sourceID, summary string, wordCount int, embedding []float32) error {
	col, err := s.collection(CollectionSources)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:      SourcePointID(sourceID),
		Content: summary,
		Metadata: map[string]string{
			"source_id":  sourceID,
			"summary":    summary,
			"word_count": strconv.Itoa(wordCount),
		},
		Embedding: s.safeEmbedding(embedding),
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return errors.Wrap(err, errors.KindVectorStoreUnavailable, "upsert source "+sourceID)
	}
	return nil
}

func (s *ChromemStore) GetSource(ctx context.Context, sourceID string) (*SourceInfo, error) {
	col, err := s.collection(CollectionSources)
	if err != nil {
		return nil, err
	}
	doc, err := col.GetByID(ctx, SourcePointID(sourceID))
	if err != nil {
		return nil, nil
	}
	info := sourceFromMeta(doc.Metadata, 0)
	return &info, nil
}

func (s *ChromemStore) GetSources(ctx context.Context) ([]SourceInfo, error) {
	col, err := s.collection(CollectionSources)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}

	probe := make([]float32, s.dims)
	probe[0] = 1
	results, err := col.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindVectorStoreUnavailable, "list sources")
	}

	out := make([]SourceInfo, 0, len(results))
	for _, r := range results {
		out = append(out, sourceFromMeta(r.Metadata, 0))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (s *ChromemStore) SearchSources(ctx context.Context, queryEmbedding []float32, matchCount int) ([]SourceInfo, error) {
	col, err := s.collection(CollectionSources)
	if err != nil {
		return nil, err
	}
	n := clampResults(matchCount, col.Count())
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindVectorStoreUnavailable, "search sources")
	}
	out := make([]SourceInfo, 0, len(results))
	for _, r := range results {
		out = append(out, sourceFromMeta(r.Metadata, clamp01(float64(r.Similarity))))
	}
	return out, nil
}

func (s *ChromemStore) Close() error { return nil }

func (s *ChromemStore) semanticSearch(ctx context.Context, name string, queryEmbedding []float32, matchCount int, filter map[string]any, sourceID string) ([]SearchResult, error) {
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	n := clampResults(matchCount, col.Count())
	if n == 0 {
		return nil, nil
	}

	where := whereFilter(filter, sourceID)
	results, err := col.QueryEmbedding(ctx, queryEmbedding, n, where, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindVectorStoreUnavailable, "query "+name)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, resultFromChromem(r.ID, r.Content, r.Metadata, clamp01(float64(r.Similarity))))
	}
	return out, nil
}

// keywordSearch scans via a fixed probe vector and a $contains
// document filter. Similarity is not meaningful here and stays zero.
func (s *ChromemStore) keywordSearch(ctx context.Context, name, keyword string, matchCount int, sourceID string) ([]SearchResult, error) {
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	n := clampResults(matchCount, col.Count())
	if n == 0 {
		return nil, nil
	}

	probe := make([]float32, s.dims)
	probe[0] = 1
	where := whereFilter(nil, sourceID)
	results, err := col.QueryEmbedding(ctx, probe, n, where, map[string]string{"$contains": keyword})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindVectorStoreUnavailable, "keyword query "+name)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, resultFromChromem(r.ID, r.Content, r.Metadata, 0))
	}
	return out, nil
}

// getByURL walks chunk numbers from zero until the first miss. The
// replace-all write path guarantees chunk numbers are contiguous.
func (s *ChromemStore) getByURL(ctx context.Context, name, url string, idFn func(string, int) string) ([]SearchResult, error) {
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	var out []SearchResult
	for i := 0; ; i++ {
		doc, err := col.GetByID(ctx, idFn(url, i))
		if err != nil {
			break
		}
		out = append(out, resultFromChromem(doc.ID, doc.Content, doc.Metadata, 0))
	}
	return out, nil
}

func clampResults(matchCount, available int) int {
	if matchCount < 0 {
		matchCount = 0
	}
	if matchCount > available {
		return available
	}
	return matchCount
}

func whereFilter(filter map[string]any, sourceID string) map[string]string {
	if len(filter) == 0 && sourceID == "" {
		return nil
	}
	where := make(map[string]string, len(filter)+1)
	for k, v := range filter {
		where[k] = fmt.Sprint(v)
	}
	if sourceID != "" {
		where["source_id"] = sourceID
	}
	return where
}

// encodeMeta flattens the filterable keys and stores the rest of the
// metadata as one JSON value. chromem metadata is string to string.
func encodeMeta(url string, chunkNumber int, sourceID string, metadata map[string]any) (map[string]string, error) {
	out := map[string]string{
		"url":          url,
		"chunk_number": strconv.Itoa(chunkNumber),
		"source_id":    sourceID,
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "encode chunk metadata")
		}
		out["metadata"] = string(raw)
	}
	return out, nil
}

func resultFromChromem(id, content string, meta map[string]string, similarity float64) SearchResult {
	r := SearchResult{
		ID:         id,
		URL:        meta["url"],
		SourceID:   meta["source_id"],
		Content:    content,
		Similarity: similarity,
	}
	if n, err := strconv.Atoi(meta["chunk_number"]); err == nil {
		r.ChunkNumber = n
	}
	if raw, ok := meta["metadata"]; ok {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			r.Metadata = m
		}
	}
	if summary, ok := meta["summary"]; ok {
		if r.Metadata == nil {
			r.Metadata = make(map[string]any, 1)
		}
		r.Metadata["summary"] = summary
	}
	return r
}

func sourceFromMeta(meta map[string]string, similarity float64) SourceInfo {
	info := SourceInfo{
		SourceID:   meta["source_id"],
		Summary:    meta["summary"],
		Similarity: similarity,
	}
	if n, err := strconv.Atoi(meta["word_count"]); err == nil {
		info.TotalWordCount = n
	}
	return info
}

var _ Store = (*ChromemStore)(nil)
