// Package mcp exposes the crawl, retrieval, and knowledge-graph
// operations as MCP tools over stdio or streamable HTTP.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/crawlmcp/internal/config"
	"github.com/Aman-CERP/crawlmcp/internal/errors"
	"github.com/Aman-CERP/crawlmcp/internal/graph"
	"github.com/Aman-CERP/crawlmcp/internal/ingest"
	"github.com/Aman-CERP/crawlmcp/internal/search"
	"github.com/Aman-CERP/crawlmcp/internal/vector"
	"github.com/Aman-CERP/crawlmcp/pkg/version"
)

const defaultRequestTimeout = 60 * time.Second

// Ingestor is the orchestrator surface the tools call into.
type Ingestor interface {
	ScrapeURLs(ctx context.Context, urls []string, maxConcurrent int) (*ingest.ScrapeReport, error)
	SmartCrawlURL(ctx context.Context, startURL string, maxDepth, maxConcurrent int) (*ingest.ScrapeReport, error)
	Search(ctx context.Context, query string, numResults int, returnRawMarkdown bool, maxConcurrent int) (*ingest.SearchReport, error)
	ParseGithubRepository(ctx context.Context, cloneURL string) (*graph.IngestReport, error)
	ParseRepositoryBranch(ctx context.Context, cloneURL, branch string) (*graph.IngestReport, error)
	UpdateParsedRepository(ctx context.Context, cloneURL string) (*graph.IngestReport, error)
}

// Retriever is the retrieval engine surface.
type Retriever interface {
	RAGQuery(ctx context.Context, query, sourceID string, matchCount int) ([]search.RankedResult, error)
	SearchCodeExamples(ctx context.Context, query, sourceID string, matchCount int) ([]search.RankedResult, error)
	ValidatedCodeSearch(ctx context.Context, query, sourceID string, matchCount int) ([]search.RankedResult, error)
	GetAvailableSources(ctx context.Context) ([]vector.SourceInfo, error)
	SearchSources(ctx context.Context, query string, matchCount int) ([]vector.SourceInfo, error)
}

// ScriptChecker validates AI-generated scripts against the graph.
type ScriptChecker interface {
	CheckScript(ctx context.Context, scriptPath string) (*graph.HallucinationReport, error)
}

// RepositoryReader answers graph read tools.
type RepositoryReader = graph.Reader

// Server registers the MCP tool surface and serves it over the chosen
// transport. Handles are acquired at startup and released on shutdown;
// handlers hold no global state.
type Server struct {
	mcp       *mcp.Server
	cfg       *config.Config
	ingestor  Ingestor
	retriever Retriever
	reader    RepositoryReader
	checker   ScriptChecker
	timeout   time.Duration
	logger    *slog.Logger
}

// NewServer wires the tool surface. reader and checker may be nil when
// the knowledge graph is disabled; the graph tools are then not
// registered at all.
func NewServer(ingestor Ingestor, retriever Retriever, reader RepositoryReader, checker ScriptChecker, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	s := &Server{
		cfg:       cfg,
		ingestor:  ingestor,
		retriever: retriever,
		reader:    reader,
		checker:   checker,
		timeout:   timeout,
		logger:    logger.With("component", "mcp"),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "crawlmcp",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve blocks until the transport closes or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("starting MCP server",
		"transport", transport,
		"addr", addr,
		"version", version.Version)

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error", "error", err.Error())
			return err
		}
		s.logger.Info("MCP server stopped")
		return nil
	case "http":
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return s.mcp
		}, nil)
		srv := &http.Server{Addr: addr, Handler: handler}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}
}

// Envelope is the uniform completion shape of every tool.
type Envelope struct {
	Success        bool       `json:"success"`
	Operation      string     `json:"operation"`
	RequestID      string     `json:"request_id"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	Result         any        `json:"result,omitempty"`
	Error          *ToolError `json:"error,omitempty"`
}

// ToolError is the error body inside a failed envelope.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// run frames one tool invocation: request id, start/end logs, outer
// timeout, error envelope with sanitized message.
func (s *Server) run(ctx context.Context, operation string, fn func(ctx context.Context) (any, error)) Envelope {
	requestID := generateRequestID()
	start := time.Now()
	s.logger.Info("request start", "operation", operation, "request_id", requestID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := fn(ctx)
	elapsed := time.Since(start)

	env := Envelope{
		Operation:      operation,
		RequestID:      requestID,
		ElapsedSeconds: elapsed.Seconds(),
	}

	outcome := "success"
	if err != nil {
		kind := errors.KindOf(err)
		if ctx.Err() != nil {
			kind = errors.KindCancelled
		}
		outcome = "error"
		if kind == errors.KindCancelled {
			outcome = "cancelled"
		}
		env.Error = &ToolError{
			Kind:    string(kind),
			Message: errors.Sanitize(err.Error()),
		}
	} else {
		env.Success = true
		env.Result = result
	}

	s.logger.Info("request end",
		"operation", operation,
		"request_id", requestID,
		"elapsed_ms", elapsed.Milliseconds(),
		"outcome", outcome)
	return env
}

// generateRequestID creates a short unique id for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
