package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aman-CERP/crawlmcp/internal/config"
)

// RerankResult is one scored document from the cross-encoder.
type RerankResult struct {
	// Index is the original position in the input documents slice.
	Index int
	// Score is the relevance score assigned by the model.
	Score float64
}

// Reranker reorders search results with a cross-encoder model.
// Cross-encoders jointly encode query-document pairs, which scores
// relevance more accurately than the bi-encoder embeddings used for
// retrieval, at higher latency.
type Reranker interface {
	// Rerank scores documents against the query and returns results
	// sorted by score descending. topK of 0 returns all.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available reports whether the reranker can serve requests.
	Available(ctx context.Context) bool

	Close() error
}

const (
	defaultRerankerModel   = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	defaultRerankerTimeout = 30 * time.Second
)

// HTTPReranker scores (query, document) pairs against a reranker
// service exposing POST /rerank and GET /health.
type HTTPReranker struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

var _ Reranker = (*HTTPReranker)(nil)

func NewHTTPReranker(cfg config.RerankerConfig, logger *slog.Logger) *HTTPReranker {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = defaultRerankerModel
	}
	return &HTTPReranker{
		endpoint: cfg.URL,
		model:    model,
		client: &http.Client{
			Timeout: defaultRerankerTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: logger.With("component", "reranker"),
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return []RerankResult{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: documents,
		Model:     r.model,
		TopK:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank failed with status %d: %s", resp.StatusCode, msg)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	results := make([]RerankResult, len(parsed.Results))
	for i, item := range parsed.Results {
		results[i] = RerankResult{Index: item.Index, Score: item.Score}
	}

	r.logger.Debug("rerank complete",
		"documents", len(documents),
		"elapsed_ms", time.Since(start).Milliseconds())
	return results, nil
}

func (r *HTTPReranker) Available(ctx context.Context) bool {
	if r.endpoint == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (r *HTTPReranker) Close() error {
	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
