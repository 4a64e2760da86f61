package embed

import (
	"context"
	"log/slog"

	crawlerr "github.com/Aman-CERP/crawlmcp/internal/errors"
)

// Batcher groups texts into provider-sized batches with retry and
// per-text fallback. It is safe for concurrent use.
type Batcher struct {
	provider  Provider
	batchSize int
	retry     crawlerr.RetryConfig
	breaker   *crawlerr.CircuitBreaker
	logger    *slog.Logger
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithRetryConfig overrides the default backoff policy.
func WithRetryConfig(cfg crawlerr.RetryConfig) BatcherOption {
	return func(b *Batcher) {
		b.retry = cfg
	}
}

// WithBreaker installs a circuit breaker around provider calls.
func WithBreaker(cb *crawlerr.CircuitBreaker) BatcherOption {
	return func(b *Batcher) {
		b.breaker = cb
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BatcherOption {
	return func(b *Batcher) {
		b.logger = logger
	}
}

// NewBatcher creates a batcher submitting at most batchSize texts per
// provider call.
func NewBatcher(provider Provider, batchSize int, opts ...BatcherOption) *Batcher {
	if batchSize < 1 {
		batchSize = 1
	}

	b := &Batcher{
		provider:  provider,
		batchSize: batchSize,
		retry:     crawlerr.DefaultRetryConfig(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Dimensions returns the provider's embedding dimension.
func (b *Batcher) Dimensions() int {
	return b.provider.Dimensions()
}

// EmbedTexts embeds every text, preserving order and count. Texts whose
// batch and individual retries are all exhausted come back as the zero
// vector; EmbedTexts itself fails only on context cancellation.
func (b *Batcher) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	if len(texts) == 0 {
		return vectors, nil
	}

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[start:end]
		got, err := b.embedWithRetry(ctx, batch)
		if err == nil {
			copy(vectors[start:], got)
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		b.logger.Warn("batch embedding failed, falling back to per-text calls",
			slog.Int("batch_start", start),
			slog.Int("batch_len", len(batch)),
			slog.String("error", err.Error()))

		for i, text := range batch {
			single, err := b.embedWithRetry(ctx, []string{text})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				b.logger.Warn("embedding failed for text, storing zero vector",
					slog.Int("position", start+i),
					slog.String("error", err.Error()))
				vectors[start+i] = ZeroVector(b.provider.Dimensions())
				continue
			}
			vectors[start+i] = single[0]
		}
	}

	return vectors, nil
}

// EmbedSingle embeds one text. Returns the zero vector on failure.
func (b *Batcher) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := b.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedWithRetry runs one provider call under the breaker and the
// backoff policy.
func (b *Batcher) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	return crawlerr.RetryWithResult(ctx, b.retry, func() ([][]float32, error) {
		if b.breaker == nil {
			return b.provider.EmbedBatch(ctx, batch)
		}

		var out [][]float32
		err := b.breaker.Execute(func() error {
			var inner error
			out, inner = b.provider.EmbedBatch(ctx, batch)
			return inner
		})
		return out, err
	})
}
