package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names accepted by Config.Provider.
const (
	ProviderChromem = "chromem"
	ProviderQdrant  = "qdrant"
)

// Config selects and configures a store backend.
type Config struct {
	// Provider picks the backend: "chromem" (embedded, default) or
	// "qdrant" (external server).
	Provider string

	Chromem ChromemConfig
	Qdrant  QdrantConfig
	Client  ClientConfig
}

// NewStore creates the backend named by cfg.Provider.
//
// chromem is the default: embedded, persistent, no external service. The
// qdrant provider requires a running Qdrant instance and is the choice
// for shared deployments.
func NewStore(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case ProviderChromem, "":
		return NewChromemStore(cfg.Chromem, logger)
	case ProviderQdrant:
		return NewQdrantStore(cfg.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)",
			ErrInvalidConfig, cfg.Provider)
	}
}
