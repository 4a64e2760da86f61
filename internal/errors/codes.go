// Package errors provides structured error handling for CrawlMCP.
//
// Every error that crosses a component boundary carries a Kind so the
// tool dispatcher can build a uniform error envelope and pick the right
// local recovery.
package errors

// Kind classifies an error for envelope reporting and recovery policy.
type Kind string

const (
	// KindInvalidInput is raised by the dispatcher before any backend
	// is touched.
	KindInvalidInput Kind = "InvalidInput"

	// KindFetchFailed covers timeout, DNS, TLS, connection refusal and
	// HTTP >= 400 during a web fetch. Isolated per URL.
	KindFetchFailed Kind = "FetchFailed"

	// KindEmbeddingFailed means the embedding provider exhausted both
	// the batch and the per-item retry budget.
	KindEmbeddingFailed Kind = "EmbeddingFailed"

	// KindLLMFailed means a summarization or enrichment call failed.
	// Always recovered locally with a default text.
	KindLLMFailed Kind = "LLMFailed"

	// KindVectorStoreUnavailable means the vector backend rejected an
	// operation or its circuit breaker is open.
	KindVectorStoreUnavailable Kind = "VectorStoreUnavailable"

	// KindGraphUnavailable means the graph backend is closed or
	// degraded. Retrieval degrades; ingestion surfaces the error.
	KindGraphUnavailable Kind = "GraphUnavailable"

	// KindGraphCleanupFailed means the repository cascade wipe rolled
	// back; no re-ingest is attempted automatically.
	KindGraphCleanupFailed Kind = "GraphCleanupFailed"

	// KindCancelled reports dispatcher-level cancellation. The
	// envelope reports outcome:cancelled rather than an error.
	KindCancelled Kind = "Cancelled"

	// KindInternal is any unexpected failure. Logged with full detail,
	// surfaced with a generic message.
	KindInternal Kind = "InternalError"
)

// retryableKind reports whether operations failing with this kind are
// worth retrying with backoff.
func retryableKind(k Kind) bool {
	switch k {
	case KindFetchFailed, KindEmbeddingFailed, KindLLMFailed, KindVectorStoreUnavailable:
		return true
	default:
		return false
	}
}
