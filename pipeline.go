package ragblade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/vector"
)

// IngestionPipeline chunks raw text, embeds every chunk and stores the
// resulting records.
type IngestionPipeline struct {
	provider embedding.Provider
	store    vector.Store
	cfg      Config
	log      *zap.Logger
	newID    func() string
}

func NewIngestionPipeline(provider embedding.Provider, store vector.Store, cfg Config) *IngestionPipeline {
	cfg.ApplyDefaults()

	return &IngestionPipeline{
		provider: provider,
		store:    store,
		cfg:      cfg,
		log: zap.L().With(
			zap.String("component", "ingestion"),
		),
		newID: uuid.NewString,
	}
}

// Ingest stores the chunks of rawText under sourceRef. With replace set,
// the older records of sourceRef are deleted once at least one new record
// is stored, so a failing backend never empties a source. Empty text gives
// an empty report; whitespace-only text is rejected. An error is returned
// with the report when nothing could be stored.
func (p *IngestionPipeline) Ingest(ctx context.Context, sourceRef string, rawText string, replace ...bool) (*IngestReport, error) {
	isReplace := len(replace) > 0 && replace[0]

	if !utf8.ValidString(rawText) {
		return nil, &vector.InvalidArgumentError{Name: "text", Reason: "not valid UTF-8"}
	}

	report := &IngestReport{
		SourceRef: sourceRef,
		RecordIDs: []string{},
	}

	if rawText == "" {
		return report, nil
	}

	if strings.TrimSpace(rawText) == "" {
		return nil, &vector.InvalidArgumentError{Name: "text", Reason: "contains only whitespace"}
	}

	chunks, err := chunker.Chunks(rawText, p.cfg.Chunking.MaxTokens, p.cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	report.Chunks = len(chunks)

	records := p.embed(ctx, sourceRef, chunks, report)

	var causes []error
	for _, skipped := range report.Skipped {
		causes = append(causes, fmt.Errorf("chunk %d: %w", skipped.Index, skipped.Err))
	}

	if len(records) == 0 {
		return report, errors.Join(causes...)
	}

	batchSize := p.cfg.Ingestion.BatchSize
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		stored, failures := p.upsertBatch(ctx, records[start:end])

		report.RecordIDs = append(report.RecordIDs, stored...)
		report.Failed = append(report.Failed, failures...)
	}

	report.Stored = len(report.RecordIDs)

	if report.Stored == 0 {
		for _, f := range report.Failed {
			causes = append(causes, fmt.Errorf("record %s: %w", f.ID, f.Err))
		}

		return report, errors.Join(causes...)
	}

	if isReplace {
		err := callWithTimeout(ctx, "delete", p.cfg.CallTimeout.Duration(), func(ctx context.Context) error {
			n, err := p.store.DeleteBySource(ctx, sourceRef, report.RecordIDs...)
			report.Replaced = n
			return err
		})

		if err != nil {
			return report, fmt.Errorf("replacing %s: %w", sourceRef, err)
		}
	}

	return report, nil
}

// embed embeds chunks concurrently and returns the records of the chunks
// that succeeded, in chunk order. Failures are added to report.Skipped.
func (p *IngestionPipeline) embed(ctx context.Context, sourceRef string, chunks []chunker.Chunk, report *IngestReport) []vector.Record {
	type result struct {
		embedding []float32
		err       error
	}

	results := make([]result, len(chunks))

	var g errgroup.Group
	g.SetLimit(p.cfg.Ingestion.Concurrency)

	for i, c := range chunks {
		g.Go(func() error {
			v, err := p.embedText(ctx, c.Text)
			results[i] = result{v, err}
			return nil
		})
	}

	g.Wait()

	records := make([]vector.Record, 0, len(chunks))
	for i, r := range results {
		if r.err != nil {
			p.log.Warn("chunk skipped",
				zap.String("source_ref", sourceRef),
				zap.Int("chunk_index", i),
				zap.Error(r.err),
			)

			report.Skipped = append(report.Skipped, ChunkFailure{Index: i, Err: r.err})
			continue
		}

		records = append(records, vector.Record{
			ID:         p.newID(),
			SourceRef:  sourceRef,
			Text:       chunks[i].Text,
			Embedding:  r.embedding,
			ChunkIndex: i,
		})
	}

	return records
}

func (p *IngestionPipeline) embedText(ctx context.Context, text string) ([]float32, error) {
	var v []float32

	err := callWithTimeout(ctx, "embed", p.cfg.CallTimeout.Duration(), func(ctx context.Context) error {
		var err error
		v, err = p.provider.Embed(ctx, text)
		return err
	})

	if err != nil {
		var timeoutErr *vector.TimeoutError
		var embErr *vector.EmbeddingError
		if !errors.As(err, &timeoutErr) && !errors.As(err, &embErr) {
			err = &vector.EmbeddingError{Model: p.provider.Model(), Err: err}
		}

		return nil, err
	}

	return v, nil
}

// upsertBatch writes a batch with exponential backoff. Only the records that
// failed transiently are sent again; permanent failures stop at once.
func (p *IngestionPipeline) upsertBatch(ctx context.Context, batch []vector.Record) ([]string, []vector.RecordFailure) {
	var (
		stored   []string
		failures []vector.RecordFailure
	)

	pending := batch
	lastErr := make(map[string]error, len(batch))

	operation := func() (int, error) {
		var n int
		err := callWithTimeout(ctx, "upsert", p.cfg.CallTimeout.Duration(), func(ctx context.Context) error {
			var err error
			n, err = p.store.Upsert(ctx, pending)
			return err
		})

		if err == nil {
			for _, r := range pending {
				stored = append(stored, r.ID)
			}

			pending = nil
			return n, nil
		}

		var partial *vector.PartialUpsertError
		if !errors.As(err, &partial) {
			for _, r := range pending {
				lastErr[r.ID] = err
			}

			if vector.IsPermanent(err) {
				return n, backoff.Permanent(err)
			}

			return n, err
		}

		failed := make(map[string]error, len(partial.Failures))
		for _, f := range partial.Failures {
			failed[f.ID] = f.Err
		}

		retry := make([]vector.Record, 0, len(partial.Failures))
		for _, r := range pending {
			cause, ok := failed[r.ID]
			switch {
			case !ok:
				stored = append(stored, r.ID)
			case vector.IsPermanent(cause):
				failures = append(failures, vector.RecordFailure{ID: r.ID, Err: cause})
			default:
				lastErr[r.ID] = cause
				retry = append(retry, r)
			}
		}

		pending = retry
		if len(pending) == 0 {
			return n, nil
		}

		return n, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.Ingestion.InitialBackoff.Duration()
	b.MaxInterval = p.cfg.Ingestion.MaxBackoff.Duration()

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.Ingestion.MaxAttempts)),
	)

	for _, r := range pending {
		cause := lastErr[r.ID]
		if cause == nil {
			cause = err
		}

		if cause == nil {
			cause = errors.New("upsert not attempted")
		}

		failures = append(failures, vector.RecordFailure{ID: r.ID, Err: cause})
	}

	if err != nil {
		p.log.Warn("batch upsert incomplete",
			zap.Int("batch", len(batch)),
			zap.Int("stored", len(stored)),
			zap.Int("failed", len(failures)),
			zap.Error(err),
		)
	}

	return stored, failures
}
