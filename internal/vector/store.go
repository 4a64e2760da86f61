// Package vector defines the vector store contract and its two
// backends: an embedded chromem-go store and a Qdrant server reached
// over gRPC. Both persist the same three collections and expose
// identical replace-all and search semantics.
package vector

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// Collection names shared by both backends.
const (
	CollectionPages   = "crawled_pages"
	CollectionCode    = "code_examples"
	CollectionSources = "sources"
)

// upsertBatchSize caps how many points go into one upsert call.
const upsertBatchSize = 100

// DocumentChunk is one indexed unit of crawled text.
type DocumentChunk struct {
	URL         string
	ChunkNumber int
	Content     string
	Metadata    map[string]any
	SourceID    string
	Embedding   []float32
}

// CodeExample is a mined fenced code block and its generated summary.
// The embedding covers the code and summary together.
type CodeExample struct {
	URL         string
	ChunkNumber int
	Code        string
	Summary     string
	Metadata    map[string]any
	SourceID    string
	Embedding   []float32
}

// SearchResult is a stored chunk or code example returned by a query.
// Similarity is cosine based, clamped to [0,1]; it is zero for listing
// and keyword operations where no query vector was involved.
type SearchResult struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	ChunkNumber int            `json:"chunk_number"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SourceID    string         `json:"source_id"`
	Similarity  float64        `json:"similarity"`
}

// SourceInfo describes one crawled source (a registrable host).
type SourceInfo struct {
	SourceID       string  `json:"source_id"`
	Summary        string  `json:"summary"`
	TotalWordCount int     `json:"total_word_count"`
	Similarity     float64 `json:"similarity,omitempty"`
}

// Store is the backend contract. All methods are safe for concurrent
// use. Write operations are idempotent because point ids derive
// deterministically from natural keys.
type Store interface {
	// Initialize ensures the three collections exist with the
	// configured dimension and cosine similarity. Idempotent.
	Initialize(ctx context.Context) error

	// AddDocuments replaces all chunks of every distinct URL in docs,
	// then inserts the new chunks in batches. A failed delete is
	// logged and skipped; a failed insert batch aborts with an error.
	AddDocuments(ctx context.Context, docs []DocumentChunk) error

	SearchDocuments(ctx context.Context, queryEmbedding []float32, matchCount int, filter map[string]any, sourceID string) ([]SearchResult, error)

	// SearchDocumentsByKeyword returns chunks whose content contains
	// keyword as a substring.
	SearchDocumentsByKeyword(ctx context.Context, keyword string, matchCount int, sourceID string) ([]SearchResult, error)

	// GetDocumentsByURL returns every chunk of url ordered by
	// chunk_number ascending. A missing URL yields an empty list.
	GetDocumentsByURL(ctx context.Context, url string) ([]SearchResult, error)

	DeleteDocumentsByURL(ctx context.Context, url string) error

	// AddCodeExamples has the same replace-all semantics as
	// AddDocuments, against the code examples collection.
	AddCodeExamples(ctx context.Context, examples []CodeExample) error

	SearchCodeExamples(ctx context.Context, queryEmbedding []float32, matchCount int, filter map[string]any, sourceID string) ([]SearchResult, error)

	SearchCodeExamplesByKeyword(ctx context.Context, keyword string, matchCount int, sourceID string) ([]SearchResult, error)

	// UpdateSourceInfo upserts a source row. Summary and word count
	// replace previous values.
	UpdateSourceInfo(ctx context.Context, sourceID, summary string, wordCount int, embedding []float32) error

	GetSource(ctx context.Context, sourceID string) (*SourceInfo, error)

	GetSources(ctx context.Context) ([]SourceInfo, error)

	SearchSources(ctx context.Context, queryEmbedding []float32, matchCount int) ([]SourceInfo, error)

	Close() error
}

// DocumentID derives the stable point id for a document chunk.
func DocumentID(url string, chunkNumber int) string {
	return stableID(fmt.Sprintf("%s_%d", url, chunkNumber))
}

// CodeExampleID derives the stable point id for a code example.
func CodeExampleID(url string, chunkNumber int) string {
	return stableID(fmt.Sprintf("code_%s_%d", url, chunkNumber))
}

// SourcePointID derives the stable point id for a source row.
func SourcePointID(sourceID string) string {
	return stableID(sourceID)
}

// stableID hashes a natural key into a UUID-shaped string so both
// backends accept it as a point id.
func stableID(key string) string {
	sum := sha256.Sum256([]byte(key))
	b := sum[:16]
	b[6] = (b[6] & 0x0f) | 0x50
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// distinctURLs returns the unique URLs in input order.
func distinctURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
