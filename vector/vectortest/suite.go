// Package vectortest holds the behaviour every vector.Store backend must share.
package vectortest

import (
	"context"
	"fmt"
	"math"

	"github.com/stretchr/testify/suite"

	"github.com/flarexio/ragblade/vector"
)

// StoreSuite runs against a fresh store of dimension 4 for every test.
// Approximate backends set Approximate to relax exact-rank assertions.
type StoreSuite struct {
	suite.Suite

	NewStore    func(dim int) (vector.Store, error)
	Approximate bool

	store vector.Store
}

func (suite *StoreSuite) SetupTest() {
	store, err := suite.NewStore(4)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.store = store
}

func (suite *StoreSuite) TearDownTest() {
	if suite.store != nil {
		suite.store.Close()
	}
}

func Rec(id, source string, v ...float32) vector.Record {
	return vector.Record{
		ID:        id,
		SourceRef: source,
		Text:      "text of " + id,
		Embedding: v,
	}
}

func (suite *StoreSuite) TestEmptySearch() {
	results, err := suite.store.Search(context.Background(), []float32{1, 0, 0, 0}, 3, nil)

	suite.NoError(err)
	suite.Empty(results)
}

func (suite *StoreSuite) TestReadAfterWrite() {
	ctx := context.Background()

	n, err := suite.store.Upsert(ctx, []vector.Record{Rec("a", "doc1", 1, 2, 3, 4)})
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Equal(1, n)

	results, err := suite.store.Search(ctx, []float32{1, 2, 3, 4}, 1, nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	if suite.Len(results, 1) {
		suite.Equal("a", results[0].Record.ID)
		suite.Equal("doc1", results[0].Record.SourceRef)
		suite.Equal("text of a", results[0].Record.Text)
		suite.InDelta(1.0, results[0].Score, 1e-6)
	}
}

func (suite *StoreSuite) TestSearchOrder() {
	ctx := context.Background()

	records := []vector.Record{
		Rec("e1", "s", 1, 0, 0, 0),
		Rec("e2", "s", 0, 1, 0, 0),
		Rec("e3", "s", 0, 0, 1, 0),
		Rec("e4", "s", 0, 0, 0, 1),
		Rec("mix", "s", 1, 1, 0, 0),
	}

	_, err := suite.store.Upsert(ctx, records)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	results, err := suite.store.Search(ctx, []float32{1, 0.2, 0, 0}, 3, nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Len(results, 3)

	for i := 1; i < len(results); i++ {
		suite.GreaterOrEqual(results[i-1].Score, results[i].Score)
	}

	if !suite.Approximate {
		suite.Equal("e1", results[0].Record.ID)
		suite.Equal("mix", results[1].Record.ID)
		suite.Equal("e2", results[2].Record.ID)
	}

	for _, r := range results {
		suite.GreaterOrEqual(r.Score, -1.0)
		suite.LessOrEqual(r.Score, 1.0)
	}
}

func (suite *StoreSuite) TestUpsertIdempotent() {
	ctx := context.Background()

	_, err := suite.store.Upsert(ctx, []vector.Record{Rec("a", "doc1", 1, 0, 0, 0)})
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	updated := Rec("a", "doc1", 1, 0, 0, 0)
	updated.Text = "new text"

	_, err = suite.store.Upsert(ctx, []vector.Record{updated})
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	count, err := suite.store.Count(ctx)
	suite.NoError(err)
	suite.Equal(1, count)

	results, err := suite.store.Search(ctx, []float32{1, 0, 0, 0}, 5, nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	if suite.Len(results, 1) {
		suite.Equal("new text", results[0].Record.Text)
	}
}

func (suite *StoreSuite) TestPartialUpsert() {
	ctx := context.Background()

	records := []vector.Record{
		Rec("good", "s", 1, 0, 0, 0),
		Rec("zero", "s", 0, 0, 0, 0),
		Rec("short", "s", 1, 0),
		Rec("nan", "s", float32(math.NaN()), 0, 0, 0),
	}

	n, err := suite.store.Upsert(ctx, records)
	suite.Equal(1, n)

	var partial *vector.PartialUpsertError
	if !suite.ErrorAs(err, &partial) {
		return
	}

	suite.ElementsMatch([]string{"zero", "short", "nan"}, partial.FailedIDs())

	var dimErr *vector.DimensionMismatchError
	suite.ErrorAs(err, &dimErr)

	var vecErr *vector.InvalidVectorError
	suite.ErrorAs(err, &vecErr)

	count, err := suite.store.Count(ctx)
	suite.NoError(err)
	suite.Equal(1, count)
}

func (suite *StoreSuite) TestQueryValidation() {
	ctx := context.Background()

	_, err := suite.store.Search(ctx, []float32{1, 0, 0, 0}, 0, nil)

	var argErr *vector.InvalidArgumentError
	suite.ErrorAs(err, &argErr)

	_, err = suite.store.Search(ctx, []float32{1, 0, 0}, 3, nil)

	var dimErr *vector.DimensionMismatchError
	suite.ErrorAs(err, &dimErr)
}

func (suite *StoreSuite) TestFilterAndDeleteBySource() {
	ctx := context.Background()

	var records []vector.Record
	for i := range 3 {
		records = append(records, Rec(fmt.Sprintf("a%d", i), "doc-a", 1, float32(i), 0, 0))
		records = append(records, Rec(fmt.Sprintf("b%d", i), "doc-b", 1, float32(i), 0, 0))
	}

	_, err := suite.store.Upsert(ctx, records)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	results, err := suite.store.Search(ctx, []float32{1, 0, 0, 0}, 10, vector.SourceRefFilter("doc-b"))
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Len(results, 3)
	for _, r := range results {
		suite.Equal("doc-b", r.Record.SourceRef)
	}

	deleted, err := suite.store.DeleteBySource(ctx, "doc-a")
	suite.NoError(err)
	suite.Equal(3, deleted)

	count, err := suite.store.Count(ctx)
	suite.NoError(err)
	suite.Equal(3, count)

	results, err = suite.store.Search(ctx, []float32{1, 0, 0, 0}, 10, nil)
	suite.NoError(err)
	for _, r := range results {
		suite.Equal("doc-b", r.Record.SourceRef)
	}
}

func (suite *StoreSuite) TestReupsertThenAdd() {
	ctx := context.Background()

	for _, batch := range [][]vector.Record{
		{Rec("a", "doc1", 1, 0, 0, 0)},
		{Rec("a", "doc1", 0.9, 0.1, 0, 0)},
		{Rec("b", "doc1", 0, 1, 0, 0), Rec("c", "doc1", 0, 0, 1, 0)},
	} {
		if _, err := suite.store.Upsert(ctx, batch); err != nil {
			suite.Fail(err.Error())
			return
		}
	}

	count, err := suite.store.Count(ctx)
	suite.NoError(err)
	suite.Equal(3, count)

	results, err := suite.store.Search(ctx, []float32{0, 1, 0, 0}, 1, nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	if suite.Len(results, 1) {
		suite.Equal("b", results[0].Record.ID)
	}
}

func (suite *StoreSuite) TestDeleteBySourceThenUpsert() {
	ctx := context.Background()

	_, err := suite.store.Upsert(ctx, []vector.Record{Rec("a", "doc", 1, 0, 0, 0)})
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	deleted, err := suite.store.DeleteBySource(ctx, "doc")
	suite.NoError(err)
	suite.Equal(1, deleted)

	_, err = suite.store.Upsert(ctx, []vector.Record{
		Rec("b", "doc", 0, 1, 0, 0),
		Rec("c", "doc", 0, 0, 1, 0),
	})
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	results, err := suite.store.Search(ctx, []float32{0, 0, 1, 0}, 5, nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Record.ID
	}

	suite.ElementsMatch([]string{"b", "c"}, ids)
	if suite.NotEmpty(results) {
		suite.Equal("c", results[0].Record.ID)
	}
}

func (suite *StoreSuite) TestDeleteBySourceKeepsListedIDs() {
	ctx := context.Background()

	_, err := suite.store.Upsert(ctx, []vector.Record{
		Rec("old-1", "doc", 1, 0, 0, 0),
		Rec("old-2", "doc", 0, 1, 0, 0),
		Rec("new-1", "doc", 0, 0, 1, 0),
		Rec("other", "doc-b", 0, 0, 0, 1),
	})
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	deleted, err := suite.store.DeleteBySource(ctx, "doc", "new-1")
	suite.NoError(err)
	suite.Equal(2, deleted)

	results, err := suite.store.Search(ctx, []float32{1, 1, 1, 1}, 10, nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Record.ID
	}

	suite.ElementsMatch([]string{"new-1", "other"}, ids)
}

func (suite *StoreSuite) TestReplaceCycles() {
	ctx := context.Background()

	for round := range 30 {
		for src := range 5 {
			source := fmt.Sprintf("doc-%d", src)

			var records []vector.Record
			for i := range 3 {
				id := fmt.Sprintf("%s-r%d-c%d", source, round, i)
				records = append(records, Rec(id, source, 1, float32(src), float32(i), float32(round%4)))
			}

			if _, err := suite.store.Upsert(ctx, records); err != nil {
				suite.Fail(err.Error())
				return
			}

			keep := make([]string, len(records))
			for i, r := range records {
				keep[i] = r.ID
			}

			if _, err := suite.store.DeleteBySource(ctx, source, keep...); err != nil {
				suite.Fail(err.Error())
				return
			}
		}
	}

	count, err := suite.store.Count(ctx)
	suite.NoError(err)
	suite.Equal(15, count)

	results, err := suite.store.Search(ctx, []float32{1, 2, 0, 0}, 3, vector.SourceRefFilter("doc-2"))
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	if suite.Len(results, 3) {
		for _, r := range results {
			suite.Equal("doc-2", r.Record.SourceRef)
		}
	}
}

func (suite *StoreSuite) TestTieBreakByInsertion() {
	if suite.Approximate {
		suite.T().Skip("approximate backends do not guarantee tie order")
	}

	ctx := context.Background()

	for _, id := range []string{"z-first", "a-second", "m-third"} {
		_, err := suite.store.Upsert(ctx, []vector.Record{Rec(id, "s", 1, 1, 0, 0)})
		if err != nil {
			suite.Fail(err.Error())
			return
		}
	}

	results, err := suite.store.Search(ctx, []float32{1, 1, 0, 0}, 3, nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Record.ID
	}

	suite.Equal([]string{"z-first", "a-second", "m-third"}, ids)
}
