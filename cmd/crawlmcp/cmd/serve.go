package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/crawlmcp/internal/config"
	"github.com/Aman-CERP/crawlmcp/internal/crawl"
	"github.com/Aman-CERP/crawlmcp/internal/embed"
	crawlerr "github.com/Aman-CERP/crawlmcp/internal/errors"
	"github.com/Aman-CERP/crawlmcp/internal/graph"
	"github.com/Aman-CERP/crawlmcp/internal/ingest"
	"github.com/Aman-CERP/crawlmcp/internal/llm"
	"github.com/Aman-CERP/crawlmcp/internal/logging"
	"github.com/Aman-CERP/crawlmcp/internal/mcp"
	"github.com/Aman-CERP/crawlmcp/internal/search"
	"github.com/Aman-CERP/crawlmcp/internal/searxng"
	"github.com/Aman-CERP/crawlmcp/internal/vector"
)

type serveOptions struct {
	transport  string
	addr       string
	configPath string
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the CrawlMCP server on the chosen transport.

stdio is the transport MCP clients such as Claude Code expect; http
exposes the same tools over a streamable HTTP endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport: stdio or http (default from config)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address for the http transport (default from config)")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to an optional YAML config file")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Vector store.
	store, err := vector.NewStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer store.Close()
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}

	// Embeddings, behind a retrying batcher and a circuit breaker.
	provider, err := embed.NewOpenAIProvider(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	batcher := embed.NewBatcher(provider, cfg.Embedding.BatchSize,
		embed.WithLogger(logger),
		embed.WithBreaker(crawlerr.NewCircuitBreaker("embeddings")))

	// The summarization LLM is optional; enrichment and summaries
	// degrade to their fallbacks without it.
	var llmClient llm.Client
	if cfg.LLM.APIKey != "" {
		client, err := llm.NewOpenAIClient(cfg.LLM)
		if err != nil {
			return fmt.Errorf("creating LLM client: %w", err)
		}
		llmClient = client
	} else {
		logger.Warn("no LLM API key configured, summaries fall back to defaults")
	}
	enricher := llm.NewEnricher(llmClient, cfg.Flags.ContextualEmbeddings, cfg.LLM.Workers, logger)
	summarizer := llm.NewSummarizer(llmClient, cfg.LLM.Workers, logger)

	// Knowledge graph, only when flagged on.
	var (
		graphStore    *graph.Store
		graphChecker  search.GraphChecker
		graphIngestor ingest.GraphIngestor
		graphReader   mcp.RepositoryReader
		scriptChecker mcp.ScriptChecker
	)
	if cfg.Flags.KnowledgeGraph {
		graphStore, err = graph.NewStore(ctx, cfg.Graph, logger)
		if err != nil {
			return fmt.Errorf("connecting to graph backend: %w", err)
		}
		defer graphStore.Close(context.Background())
		graphChecker = graphStore
		graphIngestor = graphStore
		graphReader = graphStore
		scriptChecker = graph.NewValidator(graphStore, logger)
	}

	// Cross-encoder reranker, only when flagged on.
	var reranker search.Reranker
	if cfg.Flags.Reranking {
		httpReranker := search.NewHTTPReranker(cfg.Reranker, logger)
		defer httpReranker.Close()
		reranker = httpReranker
	}

	engine := search.NewEngine(store, batcher, reranker, graphChecker, cfg.Flags, logger)

	fetcher := crawl.NewFetcher(cfg.Crawl, logger)
	planner := crawl.NewPlanner(fetcher, logger)
	searcher := searxng.NewClient(cfg.SearXNG.URL, logger)

	orchestrator := ingest.NewOrchestrator(fetcher, planner, store, batcher,
		enricher, summarizer, searcher, engine, graphIngestor, cfg, logger)

	server, err := mcp.NewServer(orchestrator, engine, graphReader, scriptChecker, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	return server.Serve(ctx, cfg.Server.Transport, cfg.Server.Addr)
}
