package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flarexio/ragblade/embedding/embeddingtest"
	"github.com/flarexio/ragblade/vector"
)

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  vector.Config
	}{
		{"default", vector.Config{}},
		{"memory", vector.Config{Backend: vector.BackendMemory, Dimension: 4}},
		{"chromem", vector.Config{Backend: vector.BackendChromem, Dimension: 4}},
		{"hnsw", vector.Config{Backend: vector.BackendHNSW, Dimension: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)

			store, err := NewStore(ctx, tt.cfg, embeddingtest.New(4))
			if err != nil {
				assert.Fail(err.Error())
				return
			}
			defer store.Close()

			n, err := store.Upsert(ctx, []vector.Record{{ID: "a", Text: "a", Embedding: []float32{1, 0, 0, 0}}})
			assert.NoError(err)
			assert.Equal(1, n)
		})
	}
}

func TestNewStoreInvalidConfig(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var cfgErr *vector.ConfigError

	_, err := NewStore(ctx, vector.Config{Backend: "pinecone"}, nil)
	assert.ErrorAs(err, &cfgErr)

	_, err = NewStore(ctx, vector.Config{Backend: vector.BackendQdrant}, nil)
	assert.ErrorAs(err, &cfgErr)

	_, err = NewStore(ctx, vector.Config{Persistent: true}, nil)
	assert.ErrorAs(err, &cfgErr)
}
