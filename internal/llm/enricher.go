package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/crawlmcp/internal/async"
	"github.com/Aman-CERP/crawlmcp/internal/errors"
)

// maxDocumentContext caps how much of the full document is sent along
// with each chunk when asking for situating context.
const maxDocumentContext = 25000

// contextSeparator joins the generated context line to the chunk.
const contextSeparator = "\n---\n"

// EnrichedChunk is the outcome of enriching one chunk.
type EnrichedChunk struct {
	// Text is the possibly context-prefixed chunk.
	Text string
	// UsedLLM reports whether a generated context line was prepended.
	// Recorded in chunk metadata as contextual_embedding.
	UsedLLM bool
}

// Enricher prepends an LLM-generated chunk-in-document summary to each
// chunk, gated by the contextual-embeddings feature flag. A circuit
// breaker stops hammering a failing LLM; tripped calls fall back to the
// raw chunk like any other failure.
type Enricher struct {
	llm     Client
	enabled bool
	workers int
	breaker *errors.CircuitBreaker
	logger  *slog.Logger
}

// NewEnricher creates an enricher. When enabled is false, or llm is
// nil, chunks pass through unchanged.
func NewEnricher(llm Client, enabled bool, workers int, logger *slog.Logger) *Enricher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		llm:     llm,
		enabled: enabled,
		workers: workers,
		breaker: errors.NewCircuitBreaker("llm-enrichment"),
		logger:  logger,
	}
}

// Enabled reports whether enrichment will actually run.
func (e *Enricher) Enabled() bool {
	return e.enabled && e.llm != nil
}

// EnrichChunk generates situating context for one chunk. On any LLM
// failure the original chunk is returned with UsedLLM=false.
func (e *Enricher) EnrichChunk(ctx context.Context, fullDocument, chunk string) EnrichedChunk {
	if !e.Enabled() {
		return EnrichedChunk{Text: chunk}
	}

	doc := fullDocument
	if len(doc) > maxDocumentContext {
		doc = doc[:maxDocumentContext]
	}

	prompt := fmt.Sprintf("<document>\n%s\n</document>\nHere is the chunk we want to situate within the whole document:\n<chunk>\n%s\n</chunk>\nPlease give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.", doc, chunk)

	contextLine, err := errors.ExecuteWithResult(e.breaker,
		func() (string, error) {
			return e.llm.Chat(ctx,
				"You are a helpful assistant that provides concise contextual summaries.",
				prompt)
		},
		func() (string, error) {
			return "", errors.ErrCircuitOpen
		})
	if err != nil {
		e.logger.Warn("contextual enrichment failed, using raw chunk",
			slog.String("error", err.Error()))
		return EnrichedChunk{Text: chunk}
	}

	contextLine = strings.TrimSpace(contextLine)
	if contextLine == "" {
		return EnrichedChunk{Text: chunk}
	}

	return EnrichedChunk{
		Text:    contextLine + contextSeparator + chunk,
		UsedLLM: true,
	}
}

// EnrichChunks enriches every chunk with bounded parallelism. Output
// order matches input order; individual failures degrade per chunk.
func (e *Enricher) EnrichChunks(ctx context.Context, fullDocument string, chunks []string) []EnrichedChunk {
	if !e.Enabled() {
		out := make([]EnrichedChunk, len(chunks))
		for i, c := range chunks {
			out[i] = EnrichedChunk{Text: c}
		}
		return out
	}

	results := async.RunBatched(ctx, chunks, e.workers, len(chunks), func(ctx context.Context, chunk string) (EnrichedChunk, error) {
		return e.EnrichChunk(ctx, fullDocument, chunk), nil
	})

	out := make([]EnrichedChunk, len(chunks))
	for i, r := range results {
		if r.Err != nil {
			out[i] = EnrichedChunk{Text: chunks[i]}
			continue
		}
		out[i] = r.Value
	}
	return out
}
