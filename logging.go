package ragblade

import (
	"context"

	"go.uber.org/zap"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "ragblade"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("service closed")
	return nil
}

func (mw *loggingMiddleware) Ingest(ctx context.Context, sourceRef string, text string, replace ...bool) (*IngestReport, error) {
	isReplace := false
	if len(replace) > 0 {
		isReplace = replace[0]
	}

	log := mw.log.With(
		zap.String("action", "ingest"),
		zap.String("source_ref", sourceRef),
		zap.Bool("replace", isReplace),
	)

	report, err := mw.next.Ingest(ctx, sourceRef, text, replace...)
	if report != nil {
		log = log.With(
			zap.Int("chunks", report.Chunks),
			zap.Int("stored", report.Stored),
			zap.Int("skipped", len(report.Skipped)),
			zap.Int("failed", len(report.Failed)),
		)

		if report.Replaced > 0 {
			log = log.With(zap.Int("replaced", report.Replaced))
		}
	}

	if err != nil {
		log.Error(err.Error())
		return report, err
	}

	if len(report.Skipped) > 0 || len(report.Failed) > 0 {
		log.Warn("document partially ingested")
		return report, nil
	}

	log.Info("document ingested")
	return report, nil
}

func (mw *loggingMiddleware) Retrieve(ctx context.Context, query string, k int, sourceRefs ...string) ([]Document, error) {
	log := mw.log.With(
		zap.String("action", "retrieve"),
		zap.String("query", query),
		zap.Int("k", k),
	)

	if len(sourceRefs) > 0 {
		log = log.With(
			zap.Strings("source_refs", sourceRefs),
		)
	}

	docs, err := mw.next.Retrieve(ctx, query, k, sourceRefs...)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("documents retrieved", zap.Int("count", len(docs)))
	return docs, nil
}

func (mw *loggingMiddleware) Count(ctx context.Context) (int, error) {
	log := mw.log.With(
		zap.String("action", "count"),
	)

	n, err := mw.next.Count(ctx)
	if err != nil {
		log.Error(err.Error())
		return 0, err
	}

	log.Debug("records counted", zap.Int("count", n))
	return n, nil
}
