package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, BackendChromem, cfg.Vector.Backend)
	assert.Equal(t, 5000, cfg.Crawl.ChunkSize)
	assert.Equal(t, 10, cfg.Crawl.MaxConcurrentFetches)
	assert.Equal(t, 20, cfg.Embedding.BatchSize)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 250, cfg.Crawl.CodeBlockMinChars)
	assert.Equal(t, 50, cfg.Graph.CommitLimit)
	assert.False(t, cfg.Flags.HybridSearch)
	assert.False(t, cfg.Flags.KnowledgeGraph)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VECTOR_DATABASE", "qdrant")
	t.Setenv("USE_HYBRID_SEARCH", "true")
	t.Setenv("USE_RERANKING", "1")
	t.Setenv("CHUNK_SIZE", "2000")
	t.Setenv("EMBEDDING_BATCH_SIZE", "40")
	t.Setenv("NEO4J_URI", "bolt://graph.internal:7687")

	cfg := NewConfig()
	cfg.applyEnv()

	assert.Equal(t, BackendQdrant, cfg.Vector.Backend)
	assert.True(t, cfg.Flags.HybridSearch)
	assert.True(t, cfg.Flags.Reranking)
	assert.Equal(t, 2000, cfg.Crawl.ChunkSize)
	assert.Equal(t, 40, cfg.Embedding.BatchSize)
	assert.Equal(t, "bolt://graph.internal:7687", cfg.Graph.URI)
}

func TestVectorDatabaseManagedAlias(t *testing.T) {
	t.Setenv("VECTOR_DATABASE", "native")

	cfg := NewConfig()
	cfg.applyEnv()
	assert.Equal(t, BackendQdrant, cfg.Vector.Backend)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawlmcp.yaml")
	data := []byte("flags:\n  use_agentic_rag: true\ncrawl:\n  chunk_size: 3000\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Flags.AgenticRAG)
	assert.Equal(t, 3000, cfg.Crawl.ChunkSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Crawl.ChunkSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.Vector.Backend = "faiss" }},
		{"tiny chunk size", func(c *Config) { c.Crawl.ChunkSize = 10 }},
		{"zero fetches", func(c *Config) { c.Crawl.MaxConcurrentFetches = 0 }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"bad transport", func(c *Config) { c.Server.Transport = "sse" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
