// Package persistence opens the vector.Store backend named by a vector.Config.
package persistence

import (
	"context"

	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/persistence/chromem"
	"github.com/flarexio/ragblade/persistence/hnsw"
	"github.com/flarexio/ragblade/persistence/memory"
	"github.com/flarexio/ragblade/persistence/qdrant"
	"github.com/flarexio/ragblade/vector"
)

// NewStore opens the configured backend. The provider backs chromem's
// collection embedding function and is unused by the other backends.
func NewStore(ctx context.Context, cfg vector.Config, provider embedding.Provider) (vector.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "", vector.BackendMemory:
		return memory.NewMemoryStore(cfg)

	case vector.BackendChromem:
		if provider == nil {
			return chromem.NewChromemStore(cfg, nil)
		}

		return chromem.NewChromemStore(cfg, embedding.EmbeddingFunc(provider))

	case vector.BackendHNSW:
		return hnsw.NewHNSWStore(cfg)

	case vector.BackendQdrant:
		return qdrant.NewQdrantStore(ctx, cfg)

	default:
		return nil, &vector.ConfigError{Field: "vector.backend", Reason: "unsupported backend " + string(cfg.Backend)}
	}
}
