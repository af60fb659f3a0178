package memory

import (
	"fmt"

	"go.uber.org/zap"
)

// NewStore creates a Store based on the provider name.
//
//   - "chromem" (default): embedded chromem-go store, no external service
//   - "qdrant": external Qdrant server over gRPC
//   - "inmemory": volatile in-process store, tests and dry runs only
func NewStore(provider string, chromemCfg ChromemConfig, qdrantCfg QdrantConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch provider {
	case "chromem", "":
		return NewChromemStore(chromemCfg, embedder, logger)
	case "qdrant":
		return NewQdrantStore(qdrantCfg, embedder, logger)
	case "inmemory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported memory store provider %q (supported: chromem, qdrant, inmemory)", ErrInvalidConfig, provider)
	}
}
