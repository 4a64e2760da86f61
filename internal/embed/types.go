// Package embed converts text batches into fixed-dimension vectors.
//
// The batcher owns the retry and fallback policy: batches are retried
// with exponential backoff, then failing batches degrade to per-text
// calls, and texts that still fail come back as zero vectors so chunk
// counts are always preserved end to end.
package embed

import (
	"context"
)

// Provider is the external embedding backend.
type Provider interface {
	// EmbedBatch generates embeddings for multiple texts in one call.
	// The returned slice has one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string
}

// ZeroVector returns an all-zero vector of the given dimension. Stored
// for texts whose embedding ultimately failed, keeping position counts
// intact.
func ZeroVector(dims int) []float32 {
	return make([]float32, dims)
}

// IsZeroVector reports whether every component of v is zero.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
