package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/ragblade/vector"
	"github.com/flarexio/ragblade/vector/vectortest"
)

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &vectortest.StoreSuite{
		NewStore: func(dim int) (vector.Store, error) {
			return NewMemoryStore(vector.Config{
				Backend:   vector.BackendMemory,
				Dimension: dim,
			})
		},
	})
}

func TestDimensionFixedByFirstUpsert(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	store, err := NewMemoryStore(vector.Config{})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(0, store.Dimension())

	_, err = store.Upsert(ctx, []vector.Record{vectortest.Rec("a", "s", 1, 0, 0)})
	assert.NoError(err)
	assert.Equal(3, store.Dimension())

	_, err = store.Upsert(ctx, []vector.Record{vectortest.Rec("b", "s", 1, 0, 0, 0)})

	var dimErr *vector.DimensionMismatchError
	assert.ErrorAs(err, &dimErr)
	assert.Equal(3, dimErr.Expected)
	assert.Equal(4, dimErr.Actual)
}

func TestSelfQuerySimilarity(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	store, err := NewMemoryStore(vector.Config{Dimension: 3})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	v := []float32{0.3, -0.7, 2.5}

	_, err = store.Upsert(ctx, []vector.Record{vectortest.Rec("self", "s", v...)})
	assert.NoError(err)

	results, err := store.Search(ctx, v, 1, nil)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Len(results, 1)
	assert.InDelta(1.0, results[0].Score, 1e-9)
}

func TestStoredEmbeddingIsCopied(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	store, err := NewMemoryStore(vector.Config{Dimension: 2})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	v := []float32{1, 0}
	_, err = store.Upsert(ctx, []vector.Record{vectortest.Rec("a", "s", v...)})
	assert.NoError(err)

	v[0], v[1] = 0, 1

	results, err := store.Search(ctx, []float32{1, 0}, 1, nil)
	assert.NoError(err)
	assert.InDelta(1.0, results[0].Score, 1e-9)
}

func TestClosedStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	store, err := NewMemoryStore(vector.Config{Dimension: 2})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.NoError(store.Close())

	_, err = store.Upsert(ctx, []vector.Record{vectortest.Rec("a", "s", 1, 0)})
	assert.ErrorIs(err, vector.ErrStoreClosed)

	_, err = store.Search(ctx, []float32{1, 0}, 1, nil)
	assert.ErrorIs(err, vector.ErrStoreClosed)
}

func TestSnapshot(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()

			cfg := vector.Config{
				Backend:    vector.BackendMemory,
				Persistent: true,
				Path:       filepath.Join(t.TempDir(), "store.snapshot"),
				Compress:   compress,
			}

			store, err := NewMemoryStore(cfg)
			if err != nil {
				assert.Fail(err.Error())
				return
			}

			_, err = store.Upsert(ctx, []vector.Record{
				vectortest.Rec("first", "doc1", 1, 1),
				vectortest.Rec("second", "doc1", 1, 1),
			})
			assert.NoError(err)
			assert.NoError(store.Close())

			reopened, err := NewMemoryStore(cfg)
			if err != nil {
				assert.Fail(err.Error())
				return
			}
			defer reopened.Close()

			assert.Equal(2, reopened.Dimension())

			count, err := reopened.Count(ctx)
			assert.NoError(err)
			assert.Equal(2, count)

			_, err = reopened.Upsert(ctx, []vector.Record{vectortest.Rec("third", "doc1", 1, 1)})
			assert.NoError(err)

			results, err := reopened.Search(ctx, []float32{1, 1}, 3, nil)
			if err != nil {
				assert.Fail(err.Error())
				return
			}

			ids := []string{results[0].Record.ID, results[1].Record.ID, results[2].Record.ID}
			assert.Equal([]string{"first", "second", "third"}, ids)
		})
	}
}

func TestSnapshotDimensionConflict(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "store.snapshot")

	store, err := NewMemoryStore(vector.Config{Persistent: true, Path: path})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	_, err = store.Upsert(ctx, []vector.Record{vectortest.Rec("a", "s", 1, 0, 0)})
	assert.NoError(err)
	assert.NoError(store.Close())

	_, err = NewMemoryStore(vector.Config{Persistent: true, Path: path, Dimension: 768})

	var dimErr *vector.DimensionMismatchError
	assert.ErrorAs(err, &dimErr)
}
