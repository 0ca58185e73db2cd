package hnsw

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/ragblade/vector"
	"github.com/flarexio/ragblade/vector/vectortest"
)

func TestHNSWStoreSuite(t *testing.T) {
	suite.Run(t, &vectortest.StoreSuite{
		NewStore: func(dim int) (vector.Store, error) {
			return NewHNSWStore(vector.Config{
				Backend:   vector.BackendHNSW,
				Dimension: dim,
				HNSW:      vector.HNSWConfig{EfSearch: 64},
			})
		},
	})
}

func TestPersistentHNSWStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cfg := vector.Config{
		Backend:    vector.BackendHNSW,
		Dimension:  8,
		Persistent: true,
		Path:       t.TempDir(),
		Compress:   true,
	}

	store, err := NewHNSWStore(cfg)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	rng := rand.New(rand.NewPCG(1, 2))

	records := make([]vector.Record, 50)
	for i := range records {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32() + 0.01
		}

		records[i] = vectortest.Rec(fmt.Sprintf("r%02d", i), "doc", v...)
	}

	_, err = store.Upsert(ctx, records)
	assert.NoError(err)
	assert.NoError(store.Close())

	reopened, err := NewHNSWStore(cfg)
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	assert.NoError(err)
	assert.Equal(50, count)

	results, err := reopened.Search(ctx, records[17].Embedding, 1, nil)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	if assert.Len(results, 1) {
		assert.Equal("r17", results[0].Record.ID)
		assert.InDelta(1.0, results[0].Score, 1e-6)
	}
}
