package ragblade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/flarexio/ragblade/embedding/embeddingtest"
	"github.com/flarexio/ragblade/persistence/memory"
	"github.com/flarexio/ragblade/vector"
)

type ragBladeTestSuite struct {
	suite.Suite
	ctx      context.Context
	provider *embeddingtest.Provider
	store    vector.Store
	svc      Service
}

func (suite *ragBladeTestSuite) SetupTest() {
	ctx := context.Background()

	cfg := Config{
		Vector: vector.Config{
			Backend:   vector.BackendMemory,
			Dimension: 4,
		},
		Chunking: ChunkingConfig{
			MaxTokens: 16,
			Overlap:   4,
		},
	}

	store, err := memory.NewMemoryStore(cfg.Vector)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	provider := embeddingtest.New(4)

	svc, err := NewService(cfg, provider, store)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.ctx = ctx
	suite.provider = provider
	suite.store = store
	suite.svc = svc
}

func (suite *ragBladeTestSuite) TearDownTest() {
	if suite.svc != nil {
		suite.svc.Close()
	}
}

func (suite *ragBladeTestSuite) TestIngestAndRetrieve() {
	report, err := suite.svc.Ingest(suite.ctx, "doc1", "The quick brown fox")
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Equal(1, report.Chunks)
	suite.Equal(1, report.Stored)
	suite.Len(report.RecordIDs, 1)

	docs, err := suite.svc.Retrieve(suite.ctx, "quick fox", 3)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	if suite.Len(docs, 1) {
		suite.Equal("The quick brown fox", docs[0].Content)
		suite.Equal("doc1", docs[0].SourceRef)
		suite.Greater(docs[0].Similarity, 0.0)
	}
}

func (suite *ragBladeTestSuite) TestRetrieveTopK() {
	vectors := map[string][]float32{
		"alpha":   {1, 0, 0, 0},
		"beta":    {0.9, 0.1, 0, 0},
		"gamma":   {0.7, 0.3, 0, 0},
		"delta":   {0, 0, 1, 0},
		"epsilon": {0, 0, 0, 1},
	}

	for text, v := range vectors {
		suite.provider.Set(text, v)

		_, err := suite.svc.Ingest(suite.ctx, "doc-"+text, text)
		if err != nil {
			suite.Fail(err.Error())
			return
		}
	}

	suite.provider.Set("query", []float32{1, 0, 0, 0})

	docs, err := suite.svc.Retrieve(suite.ctx, "query", 3)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	if suite.Len(docs, 3) {
		suite.Equal("alpha", docs[0].Content)
		suite.Equal("beta", docs[1].Content)
		suite.Equal("gamma", docs[2].Content)
		suite.InDelta(1.0, docs[0].Similarity, 1e-9)
		suite.GreaterOrEqual(docs[0].Similarity, docs[1].Similarity)
		suite.GreaterOrEqual(docs[1].Similarity, docs[2].Similarity)
	}
}

func (suite *ragBladeTestSuite) TestRetrieveEmptyStore() {
	docs, err := suite.svc.Retrieve(suite.ctx, "anything", 3)

	suite.NoError(err)
	suite.NotNil(docs)
	suite.Empty(docs)
}

func (suite *ragBladeTestSuite) TestRetrieveInvalidK() {
	_, err := suite.svc.Retrieve(suite.ctx, "quick fox", 0)

	var argErr *vector.InvalidArgumentError
	suite.ErrorAs(err, &argErr)
	suite.Equal("k", argErr.Name)
}

func (suite *ragBladeTestSuite) TestRetrieveEmbeddingFailure() {
	suite.provider.FailOn("broken", errors.New("backend unavailable"))

	_, err := suite.svc.Retrieve(suite.ctx, "broken query", 3)

	var embErr *vector.EmbeddingError
	suite.ErrorAs(err, &embErr)
}

func (suite *ragBladeTestSuite) TestRetrieveBySource() {
	_, err := suite.svc.Ingest(suite.ctx, "https://example.com/terms", "The quick brown fox")
	suite.NoError(err)

	_, err = suite.svc.Ingest(suite.ctx, "https://example.com/privacy", "A quick grey fox")
	suite.NoError(err)

	docs, err := suite.svc.Retrieve(suite.ctx, "quick fox", 3, "https://example.com/privacy")
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	if suite.Len(docs, 1) {
		suite.Equal("https://example.com/privacy", docs[0].SourceRef)
	}
}

func (suite *ragBladeTestSuite) TestReingestAppends() {
	for range 2 {
		_, err := suite.svc.Ingest(suite.ctx, "doc1", "The quick brown fox")
		suite.NoError(err)
	}

	count, err := suite.svc.Count(suite.ctx)
	suite.NoError(err)
	suite.Equal(2, count)
}

func (suite *ragBladeTestSuite) TestReingestReplaces() {
	_, err := suite.svc.Ingest(suite.ctx, "doc1", "The quick brown fox")
	suite.NoError(err)

	_, err = suite.svc.Ingest(suite.ctx, "doc2", "An unrelated document")
	suite.NoError(err)

	report, err := suite.svc.Ingest(suite.ctx, "doc1", "The lazy dog", true)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Equal(1, report.Replaced)

	count, err := suite.svc.Count(suite.ctx)
	suite.NoError(err)
	suite.Equal(2, count)

	docs, err := suite.svc.Retrieve(suite.ctx, "lazy dog", 5, "doc1")
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	if suite.Len(docs, 1) {
		suite.Equal("The lazy dog", docs[0].Content)
	}
}

func (suite *ragBladeTestSuite) TestIngestRequiresSourceRef() {
	_, err := suite.svc.Ingest(suite.ctx, "", "The quick brown fox")

	var argErr *vector.InvalidArgumentError
	suite.ErrorAs(err, &argErr)
}

func (suite *ragBladeTestSuite) TestIngestLongDocument() {
	var text string
	for i := range 40 {
		text += fmt.Sprintf("Sentence number %d talks about foxes. ", i)
	}

	report, err := suite.svc.Ingest(suite.ctx, "long", text)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Greater(report.Chunks, 1)
	suite.Equal(report.Chunks, report.Stored)

	count, err := suite.svc.Count(suite.ctx)
	suite.NoError(err)
	suite.Equal(report.Chunks, count)
}

func TestRAGBladeTestSuite(t *testing.T) {
	suite.Run(t, new(ragBladeTestSuite))
}

func TestServiceTimeout(t *testing.T) {
	ctx := context.Background()

	store, err := memory.NewMemoryStore(vector.Config{Dimension: 4})
	if err != nil {
		t.Fatal(err)
	}

	provider := embeddingtest.New(4).WithDelay(time.Second)

	svc, err := NewService(Config{CallTimeout: Duration(20 * time.Millisecond)}, provider, store)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	_, err = svc.Retrieve(ctx, "quick fox", 3)

	var timeoutErr *vector.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected timeout error, got %v", err)
	}

	if timeoutErr.Op != "embed" {
		t.Errorf("unexpected op %q", timeoutErr.Op)
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("timeout error should match context.DeadlineExceeded")
	}
}
