package chromem

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade/vector"
)

const DefaultCollection = "documents"

const (
	metaSourceRef  = "source_ref"
	metaChunkIndex = "chunk_index"
	metaCreatedAt  = "created_at"
)

func NewChromemStore(cfg vector.Config, embed chromem.EmbeddingFunc) (vector.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var db *chromem.DB
	if !cfg.Persistent {
		db = chromem.NewDB()
	} else {
		d, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, err
		}

		db = d
	}

	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	c, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, err
	}

	if cfg.Dimension == 0 && c.Count() > 0 {
		return nil, &vector.ConfigError{
			Field:  "vector.dimension",
			Reason: "required to reopen non-empty collection " + name,
		}
	}

	return &chromemStore{
		db:         db,
		collection: c,
		dim:        cfg.Dimension,
		log: zap.L().With(
			zap.String("store", string(vector.BackendChromem)),
			zap.String("collection", name),
		),
	}, nil
}

type chromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	log        *zap.Logger

	mu     sync.RWMutex
	dim    int
	closed bool
}

func (s *chromemStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dim
}

func (s *chromemStore) Upsert(ctx context.Context, records []vector.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, vector.ErrStoreClosed
	}

	var failures []vector.RecordFailure

	stored := 0
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			failures = append(failures, vector.RecordFailure{ID: r.ID, Err: err})
			continue
		}

		if err := vector.ValidateRecord(r, s.dim); err != nil {
			failures = append(failures, vector.RecordFailure{ID: r.ID, Err: err})
			continue
		}

		if existing, err := s.collection.GetByID(ctx, r.ID); err == nil {
			if createdAt, err := time.Parse(time.RFC3339Nano, existing.Metadata[metaCreatedAt]); err == nil {
				r.CreatedAt = createdAt
			}
		}

		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}

		document := chromem.Document{
			ID:        r.ID,
			Metadata:  metadata(r),
			Embedding: r.Embedding,
			Content:   r.Text,
		}

		if err := s.collection.AddDocument(ctx, document); err != nil {
			failures = append(failures, vector.RecordFailure{ID: r.ID, Err: err})
			continue
		}

		if s.dim == 0 {
			s.dim = len(r.Embedding)
		}

		stored++
	}

	if len(failures) > 0 {
		return stored, &vector.PartialUpsertError{Failures: failures}
	}

	return stored, nil
}

func (s *chromemStore) Search(ctx context.Context, query []float32, k int, filter *vector.Filter) ([]vector.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, vector.ErrStoreClosed
	}

	if err := vector.ValidateQuery(query, k, s.dim); err != nil {
		return nil, err
	}

	count := s.collection.Count()
	if count == 0 {
		return []vector.ScoredRecord{}, nil
	}

	// chromem rejects nResults above the collection size
	n := count
	if filter == nil {
		n = min(count, vector.OverFetch(k))
	}

	var where map[string]string
	if filter != nil && len(filter.SourceRefs) == 1 {
		where = map[string]string{metaSourceRef: filter.SourceRefs[0]}
	}

	results, err := s.collection.QueryEmbedding(ctx, query, n, where, nil)
	if err != nil {
		return nil, err
	}

	cands := make([]vector.Candidate, 0, len(results))
	for _, result := range results {
		r := record(result.ID, result.Content, result.Embedding, result.Metadata)
		if !filter.Accepts(r) {
			continue
		}

		cands = append(cands, vector.Candidate{
			Record: r,
			Score:  vector.Cosine(query, result.Embedding),
			Seq:    r.CreatedAt.UnixNano(),
		})
	}

	return vector.TopK(cands, k), nil
}

func (s *chromemStore) DeleteBySource(ctx context.Context, sourceRef string, keep ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, vector.ErrStoreClosed
	}

	before := s.collection.Count()
	if before == 0 {
		return 0, nil
	}

	where := map[string]string{metaSourceRef: sourceRef}

	if len(keep) == 0 {
		if err := s.collection.Delete(ctx, where, nil); err != nil {
			return 0, err
		}

		return before - s.collection.Count(), nil
	}

	ids, err := s.sourceIDs(ctx, where)
	if err != nil {
		return 0, err
	}

	ids = slices.DeleteFunc(ids, func(id string) bool {
		return slices.Contains(keep, id)
	})

	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, err
	}

	return before - s.collection.Count(), nil
}

// sourceIDs lists the documents matching where. chromem has no listing
// call, so it queries every matching document with an axis vector.
func (s *chromemStore) sourceIDs(ctx context.Context, where map[string]string) ([]string, error) {
	if s.dim == 0 {
		return nil, nil
	}

	axis := make([]float32, s.dim)
	axis[0] = 1

	results, err := s.collection.QueryEmbedding(ctx, axis, s.collection.Count(), where, nil)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(results))
	for i, result := range results {
		ids[i] = result.ID
	}

	return ids, nil
}

func (s *chromemStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close marks the store closed. Persistent chromem databases write every
// document on insert, so there is nothing to flush.
func (s *chromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func metadata(r vector.Record) map[string]string {
	return map[string]string{
		metaSourceRef:  r.SourceRef,
		metaChunkIndex: strconv.Itoa(r.ChunkIndex),
		metaCreatedAt:  r.CreatedAt.Format(time.RFC3339Nano),
	}
}

func record(id, content string, embedding []float32, meta map[string]string) vector.Record {
	r := vector.Record{
		ID:        id,
		SourceRef: meta[metaSourceRef],
		Text:      content,
		Embedding: embedding,
	}

	if idx, err := strconv.Atoi(meta[metaChunkIndex]); err == nil {
		r.ChunkIndex = idx
	}

	if createdAt, err := time.Parse(time.RFC3339Nano, meta[metaCreatedAt]); err == nil {
		r.CreatedAt = createdAt
	}

	return r
}
