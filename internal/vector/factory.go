package vector

import (
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/crawlmcp/internal/config"
)

// NewStore builds the backend named by the configuration.
func NewStore(cfg *config.Config, logger *slog.Logger) (Store, error) {
	dims := cfg.Embedding.Dimensions
	switch cfg.Vector.Backend {
	case config.BackendChromem:
		return NewChromemStore(cfg.Vector.PersistPath, dims, logger)
	case config.BackendQdrant:
		return NewQdrantStore(QdrantConfig{
			Host:   cfg.Vector.QdrantHost,
			Port:   cfg.Vector.QdrantPort,
			APIKey: cfg.Vector.QdrantAPIKey,
			UseTLS: cfg.Vector.QdrantUseTLS,
		}, dims, logger)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}
