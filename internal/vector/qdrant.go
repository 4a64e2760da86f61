package vector

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/Aman-CERP/crawlmcp/internal/errors"
)

// scrollPageSize is the page size for scroll-and-filter operations.
const scrollPageSize = 256

// QdrantStore talks to a Qdrant server over gRPC.
type QdrantStore struct {
	client *qdrant.Client
	dims   int
	logger *slog.Logger
}

// QdrantConfig carries connection settings for NewQdrantStore.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

func NewQdrantStore(cfg QdrantConfig, dims int, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindVectorStoreUnavailable, "create qdrant client")
	}
	return &QdrantStore{client: client, dims: dims, logger: logger}, nil
}

// Initialize creates the three collections if they are missing.
func (s *QdrantStore) Initialize(ctx context.Context) error {
	for _, name := range []string{CollectionPages, CollectionCode, CollectionSources} {
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return errors.Wrap(err, errors.KindVectorStoreUnavailable, "check collection "+name)
		}
		if exists {
			continue
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return errors.Wrap(err, errors.KindVectorStoreUnavailable, "create collection "+name)
		}
	}
	return nil
}

func (s *QdrantStore) AddDocuments(ctx context.Context, docs []DocumentChunk) error {
	urls := make([]string, len(docs))
	for i, d := range docs {
		urls[i] = d.URL
	}
	s.deleteByURLs(ctx, CollectionPages, distinctURLs(urls))

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, d := range docs {
		payload := basePayload(d.URL, d.ChunkNumber, d.SourceID, d.Content, d.Metadata)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(DocumentID(d.URL, d.ChunkNumber)),
			Vectors: qdrant.NewVectors(d.Embedding...),
			Payload: payload,
		})
	}
	return s.upsertBatches(ctx, CollectionPages, points)
}

func (s *QdrantStore) SearchDocuments(ctx context.Context, queryEmbedding []float32, matchCount int, filter map[string]any, sourceID string) ([]SearchResult, error) {
	return s.semanticSearch(ctx, CollectionPages, queryEmbedding, matchCount, filter, sourceID)
}

func (s *QdrantStore) SearchDocumentsByKeyword(ctx context.Context, keyword string, matchCount int, sourceID string) ([]SearchResult, error) {
	return s.keywordScroll(ctx, CollectionPages, keyword, matchCount, sourceID)
}

func (s *QdrantStore) GetDocumentsByURL(ctx context.Context, url string) ([]SearchResult, error) {
	results, err := s.scrollAll(ctx, CollectionPages, urlFilter(url))
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ChunkNumber < results[j].ChunkNumber })
	return results, nil
}

func (s *QdrantStore) DeleteDocumentsByURL(ctx context.Context, url string) error {
	return s.deleteByFilter(ctx, CollectionPages, urlFilter(url))
}

func (s *QdrantStore) AddCodeExamples(ctx context.Context, examples []CodeExample) error {
	urls := make([]string, len(examples))
	for i, e := range examples {
		urls[i] = e.URL
	}
	s.deleteByURLs(ctx, CollectionCode, distinctURLs(urls))

	points := make([]*qdrant.PointStruct, 0, len(examples))
	for _, e := range examples {
		payload := basePayload(e.URL, e.ChunkNumber, e.SourceID, e.Code, e.Metadata)
		if v, err := qdrant.NewValue(e.Summary); err == nil {
			payload["summary"] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(CodeExampleID(e.URL, e.ChunkNumber)),
			Vectors: qdrant.NewVectors(e.Embedding...),
			Payload: payload,
		})
	}
	return s.upsertBatches(ctx, CollectionCode, points)
}

func (s *QdrantStore) SearchCodeExamples(ctx context.Context, queryEmbedding []float32, matchCount int, filter map[string]any, sourceID string) ([]SearchResult, error) {
	return s.semanticSearch(ctx, CollectionCode, queryEmbedding, matchCount, filter, sourceID)
}

func (s *QdrantStore) SearchCodeExamplesByKeyword(ctx context.Context, keyword string, matchCount int, sourceID string) ([]SearchResult, error) {
	return s.keywordScroll(ctx, CollectionCode, keyword, matchCount, sourceID)
}

func (s *QdrantStore) UpdateSourceInfo(ctx context.Context, sourceID, summary string, wordCount int, embedding []float32) error {
	payload := map[string]*qdrant.Value{}
	for k, v := range map[string]any{
		"source_id":  sourceID,
		"summary":    summary,
		"word_count": wordCount,
	} {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "encode source payload")
		}
		payload[k] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(SourcePointID(sourceID)),
		Vectors: qdrant.NewVectors(embedding...),
		Payload: payload,
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionSources,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return errors.Wrap(err, errors.KindVectorStoreUnavailable, "upsert source "+sourceID)
	}
	return nil
}

func (s *QdrantStore) GetSource(ctx context.Context, sourceID string) (*SourceInfo, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: CollectionSources,
		Ids:            []*qdrant.PointId{qdrant.NewID(SourcePointID(sourceID))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindVectorStoreUnavailable, "get source "+sourceID)
	}
	if len(points) == 0 {
		return nil, nil
	}
	info := sourceFromPayload(points[0].Payload, 0)
	return &info, nil
}

func (s *QdrantStore) GetSources(ctx context.Context) ([]SourceInfo, error) {
	var out []SourceInfo
	err := s.scroll(ctx, CollectionSources, nil, func(p *qdrant.RetrievedPoint) bool {
		out = append(out, sourceFromPayload(p.Payload, 0))
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (s *QdrantStore) SearchSources(ctx context.Context, queryEmbedding []float32, matchCount int) ([]SourceInfo, error) {
	points, err := s.search(ctx, CollectionSources, queryEmbedding, matchCount, nil)
	if err != nil {
		return nil, err
	}
	out := make([]SourceInfo, 0, len(points))
	for _, p := range points {
		out = append(out, sourceFromPayload(p.Payload, clamp01(float64(p.Score))))
	}
	return out, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) upsertBatches(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points[start:end],
		})
		if err != nil {
			return errors.Wrap(err, errors.KindVectorStoreUnavailable, "upsert batch into "+collection)
		}
	}
	return nil
}

// deleteByURLs clears old points per URL. Failures are logged, not
// fatal: the following upsert overwrites any id that survived.
func (s *QdrantStore) deleteByURLs(ctx context.Context, collection string, urls []string) {
	for _, u := range urls {
		if err := s.deleteByFilter(ctx, collection, urlFilter(u)); err != nil {
			s.logger.Warn("delete before insert failed",
				slog.String("collection", collection),
				slog.String("url", u),
				slog.String("error", err.Error()))
		}
	}
}

func (s *QdrantStore) deleteByFilter(ctx context.Context, collection string, filter *qdrant.Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.KindVectorStoreUnavailable, "delete points from "+collection)
	}
	return nil
}

func (s *QdrantStore) semanticSearch(ctx context.Context, collection string, queryEmbedding []float32, matchCount int, filter map[string]any, sourceID string) ([]SearchResult, error) {
	points, err := s.search(ctx, collection, queryEmbedding, matchCount, searchFilter(filter, sourceID))
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(points))
	for _, p := range points {
		out = append(out, resultFromPayload(pointID(p.Id), p.Payload, clamp01(float64(p.Score))))
	}
	return out, nil
}

func (s *QdrantStore) search(ctx context.Context, collection string, queryEmbedding []float32, matchCount int, filter *qdrant.Filter) ([]*qdrant.ScoredPoint, error) {
	if matchCount < 1 {
		return nil, nil
	}
	req := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         queryEmbedding,
		Limit:          uint64(matchCount),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	}
	resp, err := s.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindVectorStoreUnavailable, "search "+collection)
	}
	return resp.GetResult(), nil
}

// keywordScroll pages through the collection and keeps points whose
// content contains keyword. Qdrant substring match needs a text index,
// so the filter runs client side.
func (s *QdrantStore) keywordScroll(ctx context.Context, collection, keyword string, matchCount int, sourceID string) ([]SearchResult, error) {
	if matchCount < 1 {
		return nil, nil
	}
	var out []SearchResult
	err := s.scroll(ctx, collection, searchFilter(nil, sourceID), func(p *qdrant.RetrievedPoint) bool {
		content := p.Payload["content"].GetStringValue()
		if !strings.Contains(content, keyword) {
			return true
		}
		out = append(out, resultFromPayload(pointID(p.Id), p.Payload, 0))
		return len(out) < matchCount
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *QdrantStore) scrollAll(ctx context.Context, collection string, filter *qdrant.Filter) ([]SearchResult, error) {
	var out []SearchResult
	err := s.scroll(ctx, collection, filter, func(p *qdrant.RetrievedPoint) bool {
		out = append(out, resultFromPayload(pointID(p.Id), p.Payload, 0))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scroll pages through collection, invoking visit per point until
// visit returns false or the collection is exhausted.
func (s *QdrantStore) scroll(ctx context.Context, collection string, filter *qdrant.Filter, visit func(*qdrant.RetrievedPoint) bool) error {
	var offset *qdrant.PointId
	for {
		resp, err := s.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			Offset:         offset,
		})
		if err != nil {
			return errors.Wrap(err, errors.KindVectorStoreUnavailable, "scroll "+collection)
		}
		for _, p := range resp.GetResult() {
			if !visit(p) {
				return nil
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return nil
		}
	}
}

func basePayload(url string, chunkNumber int, sourceID, content string, metadata map[string]any) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, 5)
	for k, v := range map[string]any{
		"url":          url,
		"chunk_number": chunkNumber,
		"source_id":    sourceID,
		"content":      content,
	} {
		if val, err := qdrant.NewValue(v); err == nil {
			payload[k] = val
		}
	}
	if len(metadata) > 0 {
		if val, err := qdrant.NewValue(metadata); err == nil {
			payload["metadata"] = val
		}
	}
	return payload
}

func urlFilter(url string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{matchCondition("url", url)},
	}
}

// searchFilter builds equality conditions. Caller filter keys address
// fields nested under the metadata payload; values of unsupported
// types are skipped rather than coerced.
func searchFilter(filter map[string]any, sourceID string) *qdrant.Filter {
	var conditions []*qdrant.Condition
	for k, v := range filter {
		if c := matchCondition("metadata."+k, v); c != nil {
			conditions = append(conditions, c)
		}
	}
	if sourceID != "" {
		conditions = append(conditions, matchCondition("source_id", sourceID))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// matchCondition builds an exact-match condition for the payload types
// qdrant can match on, nil for anything else.
func matchCondition(key string, value any) *qdrant.Condition {
	var match *qdrant.Match
	switch v := value.(type) {
	case string:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
	case bool:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	case int:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case int64:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	default:
		return nil
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: match,
			},
		},
	}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	return id.GetUuid()
}

func resultFromPayload(id string, payload map[string]*qdrant.Value, similarity float64) SearchResult {
	r := SearchResult{
		ID:          id,
		URL:         payload["url"].GetStringValue(),
		ChunkNumber: int(payload["chunk_number"].GetIntegerValue()),
		Content:     payload["content"].GetStringValue(),
		SourceID:    payload["source_id"].GetStringValue(),
		Similarity:  similarity,
	}
	if meta := payload["metadata"]; meta != nil {
		if st := meta.GetStructValue(); st != nil {
			r.Metadata = valueMapToAny(st.Fields)
		}
	}
	if summary := payload["summary"]; summary != nil {
		if r.Metadata == nil {
			r.Metadata = make(map[string]any, 1)
		}
		r.Metadata["summary"] = summary.GetStringValue()
	}
	return r
}

func sourceFromPayload(payload map[string]*qdrant.Value, similarity float64) SourceInfo {
	return SourceInfo{
		SourceID:       payload["source_id"].GetStringValue(),
		Summary:        payload["summary"].GetStringValue(),
		TotalWordCount: int(payload["word_count"].GetIntegerValue()),
		Similarity:     similarity,
	}
}

func valueMapToAny(fields map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = valueToAny(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return valueMapToAny(kind.StructValue.GetFields())
	default:
		return nil
	}
}

var _ Store = (*QdrantStore)(nil)
