// Package config loads the process-wide CrawlMCP configuration.
//
// Precedence, lowest to highest: built-in defaults, optional YAML file,
// environment variables. A .env file in the working directory is loaded
// into the environment first, so deployments can keep credentials out
// of the shell profile.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// VectorBackend selects the vector store implementation.
type VectorBackend string

const (
	// BackendChromem is the embedded chromem-go store (zero-config).
	BackendChromem VectorBackend = "chromem"
	// BackendQdrant is a native Qdrant server reached over gRPC.
	BackendQdrant VectorBackend = "qdrant"
)

// Config is the complete CrawlMCP configuration.
type Config struct {
	Flags     FlagsConfig     `yaml:"flags"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Vector    VectorConfig    `yaml:"vector"`
	Graph     GraphConfig     `yaml:"graph"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	SearXNG   SearXNGConfig   `yaml:"searxng"`
	Server    ServerConfig    `yaml:"server"`
}

// FlagsConfig holds the feature flags gating optional pipeline stages.
type FlagsConfig struct {
	// ContextualEmbeddings enables LLM chunk-in-document enrichment.
	ContextualEmbeddings bool `yaml:"use_contextual_embeddings"`
	// Reranking enables the cross-encoder pass on retrieval.
	Reranking bool `yaml:"use_reranking"`
	// HybridSearch enables keyword search merged with semantic search.
	HybridSearch bool `yaml:"use_hybrid_search"`
	// AgenticRAG enables code-example extraction and storage.
	AgenticRAG bool `yaml:"use_agentic_rag"`
	// KnowledgeGraph enables the graph store and validated code search.
	KnowledgeGraph bool `yaml:"use_knowledge_graph"`
}

// CrawlConfig tunes the fetcher pool and the chunker.
type CrawlConfig struct {
	ChunkSize            int           `yaml:"chunk_size"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	MaxResponseBytes     int64         `yaml:"max_response_bytes"`
	CodeBlockMinChars    int           `yaml:"code_block_min_chars"`
	UserAgent            string        `yaml:"user_agent"`
}

// EmbeddingConfig describes the embedding provider.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// LLMConfig describes the summarization/context model.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// Workers bounds parallel enrichment and summary calls.
	Workers int `yaml:"workers"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	Backend VectorBackend `yaml:"backend"`

	// Qdrant settings.
	QdrantHost   string `yaml:"qdrant_host"`
	QdrantPort   int    `yaml:"qdrant_port"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	QdrantUseTLS bool   `yaml:"qdrant_use_tls"`

	// Chromem settings.
	PersistPath string `yaml:"persist_path"`
}

// GraphConfig configures the Neo4j knowledge graph backend.
type GraphConfig struct {
	URI          string `yaml:"uri"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	ReposDir     string `yaml:"repos_dir"`
	CommitLimit  int    `yaml:"commit_history_limit"`
}

// RerankerConfig configures the cross-encoder service.
type RerankerConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// SearXNGConfig configures the meta-search front-end.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig configures the MCP transport and request handling.
type ServerConfig struct {
	Transport      string        `yaml:"transport"`
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	CacheSize      int           `yaml:"cache_size"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Crawl: CrawlConfig{
			ChunkSize:            5000,
			MaxConcurrentFetches: 10,
			FetchTimeout:         30 * time.Second,
			MaxResponseBytes:     10 * 1024 * 1024,
			CodeBlockMinChars:    250,
			UserAgent:            "crawlmcp/1.0 (+https://github.com/Aman-CERP/crawlmcp)",
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			BatchSize:  20,
		},
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			Workers: 10,
		},
		Vector: VectorConfig{
			Backend:    BackendChromem,
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Graph: GraphConfig{
			URI:         "bolt://localhost:7687",
			User:        "neo4j",
			CommitLimit: 50,
		},
		SearXNG: SearXNGConfig{
			URL: "http://localhost:8080",
		},
		Server: ServerConfig{
			Transport:      "stdio",
			Addr:           ":8051",
			RequestTimeout: 60 * time.Second,
			LogLevel:       "info",
			CacheTTL:       30 * time.Minute,
			CacheSize:      500,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or missing), then environment overrides.
// A .env file in the working directory is honored if present.
func Load(path string) (*Config, error) {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()

	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides fields from environment variables. Variable names
// follow the deployment surface documented in the README.
func (c *Config) applyEnv() {
	if v, ok := lookupBackend("VECTOR_DATABASE"); ok {
		c.Vector.Backend = v
	}

	boolVar(&c.Flags.ContextualEmbeddings, "USE_CONTEXTUAL_EMBEDDINGS")
	boolVar(&c.Flags.Reranking, "USE_RERANKING")
	boolVar(&c.Flags.HybridSearch, "USE_HYBRID_SEARCH")
	boolVar(&c.Flags.AgenticRAG, "USE_AGENTIC_RAG")
	boolVar(&c.Flags.KnowledgeGraph, "USE_KNOWLEDGE_GRAPH")

	intVar(&c.Crawl.ChunkSize, "CHUNK_SIZE")
	intVar(&c.Crawl.MaxConcurrentFetches, "MAX_CONCURRENT_FETCHES")
	intVar(&c.Crawl.CodeBlockMinChars, "CODE_BLOCK_MIN_CHARS")
	intVar(&c.Embedding.BatchSize, "EMBEDDING_BATCH_SIZE")
	intVar(&c.Embedding.Dimensions, "EMBEDDING_DIMENSIONS")
	intVar(&c.Graph.CommitLimit, "COMMIT_HISTORY_LIMIT")

	strVar(&c.Embedding.APIKey, "OPENAI_API_KEY")
	strVar(&c.Embedding.APIKey, "EMBEDDING_API_KEY")
	strVar(&c.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	strVar(&c.Embedding.Model, "EMBEDDING_MODEL")

	strVar(&c.LLM.APIKey, "OPENAI_API_KEY")
	strVar(&c.LLM.APIKey, "LLM_API_KEY")
	strVar(&c.LLM.BaseURL, "LLM_BASE_URL")
	strVar(&c.LLM.Model, "LLM_MODEL")
	intVar(&c.LLM.Workers, "LLM_WORKERS")

	strVar(&c.Vector.QdrantHost, "QDRANT_HOST")
	intVar(&c.Vector.QdrantPort, "QDRANT_PORT")
	strVar(&c.Vector.QdrantAPIKey, "QDRANT_API_KEY")
	strVar(&c.Vector.PersistPath, "CHROMEM_PERSIST_PATH")

	strVar(&c.Graph.URI, "NEO4J_URI")
	strVar(&c.Graph.User, "NEO4J_USER")
	strVar(&c.Graph.Password, "NEO4J_PASSWORD")
	strVar(&c.Graph.ReposDir, "REPOS_DIR")

	strVar(&c.Reranker.URL, "RERANKER_URL")
	strVar(&c.Reranker.Model, "RERANKER_MODEL")
	strVar(&c.SearXNG.URL, "SEARXNG_URL")

	strVar(&c.Server.Transport, "MCP_TRANSPORT")
	strVar(&c.Server.Addr, "MCP_ADDR")
	strVar(&c.Server.LogLevel, "LOG_LEVEL")
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Vector.Backend {
	case BackendChromem, BackendQdrant:
	default:
		return fmt.Errorf("unknown vector backend %q (supported: chromem, qdrant)", c.Vector.Backend)
	}

	if c.Crawl.ChunkSize < 100 {
		return fmt.Errorf("chunk_size %d too small (minimum 100)", c.Crawl.ChunkSize)
	}
	if c.Crawl.MaxConcurrentFetches < 1 {
		return fmt.Errorf("max_concurrent_fetches must be positive, got %d", c.Crawl.MaxConcurrentFetches)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding batch_size must be positive, got %d", c.Embedding.BatchSize)
	}

	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("unknown transport %q (supported: stdio, http)", c.Server.Transport)
	}

	return nil
}

func lookupBackend(key string) (VectorBackend, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	switch strings.ToLower(v) {
	case "qdrant", "native":
		return BackendQdrant, true
	default:
		return BackendChromem, true
	}
}

func boolVar(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v == "true" || v == "1" || v == "yes"
	}
}

func intVar(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func strVar(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
