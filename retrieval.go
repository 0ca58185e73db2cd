package ragblade

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/vector"
)

// RetrievalService embeds a query and returns the closest stored chunks.
type RetrievalService struct {
	provider embedding.Provider
	store    vector.Store
	cfg      Config
	log      *zap.Logger
}

func NewRetrievalService(provider embedding.Provider, store vector.Store, cfg Config) *RetrievalService {
	cfg.ApplyDefaults()

	return &RetrievalService{
		provider: provider,
		store:    store,
		cfg:      cfg,
		log: zap.L().With(
			zap.String("component", "retrieval"),
		),
	}
}

// Retrieve returns at most k documents in the store's order, most similar
// first. An embedding failure aborts the call.
func (r *RetrievalService) Retrieve(ctx context.Context, query string, k int, filter *vector.Filter) ([]Document, error) {
	if k <= 0 {
		return nil, &vector.InvalidArgumentError{Name: "k", Reason: "must be positive"}
	}

	if strings.TrimSpace(query) == "" {
		return nil, &vector.InvalidArgumentError{Name: "query", Reason: "must not be empty"}
	}

	timeout := r.cfg.CallTimeout.Duration()

	var q []float32
	err := callWithTimeout(ctx, "embed", timeout, func(ctx context.Context) error {
		var err error
		q, err = r.provider.Embed(ctx, query)
		return err
	})

	if err != nil {
		var timeoutErr *vector.TimeoutError
		var embErr *vector.EmbeddingError
		if !errors.As(err, &timeoutErr) && !errors.As(err, &embErr) {
			err = &vector.EmbeddingError{Model: r.provider.Model(), Err: err}
		}

		return nil, err
	}

	var results []vector.ScoredRecord
	err = callWithTimeout(ctx, "search", timeout, func(ctx context.Context) error {
		var err error
		results, err = r.store.Search(ctx, q, k, filter)
		return err
	})

	if err != nil {
		return nil, err
	}

	docs := make([]Document, len(results))
	for i, result := range results {
		docs[i] = Document{
			Content:    result.Record.Text,
			Similarity: result.Score,
			SourceRef:  result.Record.SourceRef,
		}
	}

	return docs, nil
}
