package ragblade

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/vector"
)

// Service defines the core logic of RAGBlade.
type Service interface {

	// Close releases the vector store and the embedding provider.
	Close() error

	// Ingest chunks, embeds and stores a document. Records of the same
	// source are appended unless replace is set.
	Ingest(ctx context.Context, sourceRef string, text string, replace ...bool) (*IngestReport, error)

	// Retrieve returns the k chunks most similar to query, optionally
	// restricted to the given sources.
	Retrieve(ctx context.Context, query string, k int, sourceRefs ...string) ([]Document, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

type ServiceMiddleware func(Service) Service

func NewService(cfg Config, provider embedding.Provider, store vector.Store) (Service, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if provider == nil {
		return nil, &vector.ConfigError{Field: "embedding", Reason: "provider not set"}
	}

	if store == nil {
		return nil, &vector.ConfigError{Field: "vector", Reason: "store not set"}
	}

	log := zap.L().With(
		zap.String("service", "ragblade"),
	)

	log.Info("service configured",
		zap.String("model", provider.Model()),
		zap.Int("dimension", store.Dimension()),
		zap.Int("max_tokens", cfg.Chunking.MaxTokens),
		zap.Int("overlap", cfg.Chunking.Overlap),
	)

	return &service{
		pipeline:  NewIngestionPipeline(provider, store, cfg),
		retrieval: NewRetrievalService(provider, store, cfg),
		provider:  provider,
		store:     store,
		cfg:       cfg,
		log:       log,
	}, nil
}

type service struct {
	pipeline  *IngestionPipeline
	retrieval *RetrievalService

	provider embedding.Provider
	store    vector.Store

	cfg Config
	log *zap.Logger
}

func (svc *service) Close() error {
	var errs []error

	if err := svc.store.Close(); err != nil {
		errs = append(errs, err)
	}

	if closer, ok := svc.provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (svc *service) Ingest(ctx context.Context, sourceRef string, text string, replace ...bool) (*IngestReport, error) {
	if sourceRef == "" {
		return nil, &vector.InvalidArgumentError{Name: "source_ref", Reason: "must not be empty"}
	}

	return svc.pipeline.Ingest(ctx, sourceRef, text, replace...)
}

func (svc *service) Retrieve(ctx context.Context, query string, k int, sourceRefs ...string) ([]Document, error) {
	var filter *vector.Filter
	if len(sourceRefs) > 0 {
		filter = vector.SourceRefFilter(sourceRefs...)
	}

	return svc.retrieval.Retrieve(ctx, query, k, filter)
}

func (svc *service) Count(ctx context.Context) (int, error) {
	return svc.store.Count(ctx)
}
