// Package memory implements an exact, brute-force vector store held in
// memory and optionally snapshotted to a zstd-compressed file.
package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade/vector"
)

func NewMemoryStore(cfg vector.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:     cfg,
		dim:     cfg.Dimension,
		records: make(map[string]entry),
		log: zap.L().With(
			zap.String("store", string(vector.BackendMemory)),
		),
	}

	if cfg.Persistent {
		if err := s.load(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

type entry struct {
	Record vector.Record `json:"record"`
	Seq    int64         `json:"seq"`
}

type Store struct {
	cfg vector.Config
	log *zap.Logger

	mu      sync.RWMutex
	dim     int
	seq     int64
	records map[string]entry
	closed  bool
}

func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dim
}

func (s *Store) Upsert(ctx context.Context, records []vector.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, vector.ErrStoreClosed
	}

	var failures []vector.RecordFailure

	stored := 0
	for _, r := range records {
		if err := vector.ValidateRecord(r, s.dim); err != nil {
			failures = append(failures, vector.RecordFailure{ID: r.ID, Err: err})
			continue
		}

		if s.dim == 0 {
			s.dim = len(r.Embedding)
		}

		r.Embedding = slices.Clone(r.Embedding)

		e, ok := s.records[r.ID]
		if ok {
			r.CreatedAt = e.Record.CreatedAt
		} else {
			s.seq++
			e.Seq = s.seq

			if r.CreatedAt.IsZero() {
				r.CreatedAt = time.Now()
			}
		}

		e.Record = r
		s.records[r.ID] = e
		stored++
	}

	if len(failures) > 0 {
		return stored, &vector.PartialUpsertError{Failures: failures}
	}

	return stored, nil
}

func (s *Store) Search(ctx context.Context, query []float32, k int, filter *vector.Filter) ([]vector.ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, vector.ErrStoreClosed
	}

	if err := vector.ValidateQuery(query, k, s.dim); err != nil {
		return nil, err
	}

	cands := make([]vector.Candidate, 0, len(s.records))
	for _, e := range s.records {
		if !filter.Accepts(e.Record) {
			continue
		}

		cands = append(cands, vector.Candidate{
			Record: e.Record,
			Score:  vector.Cosine(query, e.Record.Embedding),
			Seq:    e.Seq,
		})
	}

	return vector.TopK(cands, k), nil
}

func (s *Store) DeleteBySource(ctx context.Context, sourceRef string, keep ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, vector.ErrStoreClosed
	}

	return len(s.deleteWhere(sourceRef, keep)), nil
}

// RemoveSource deletes the records of sourceRef not listed in keep and
// returns their IDs.
func (s *Store) RemoveSource(ctx context.Context, sourceRef string, keep ...string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, vector.ErrStoreClosed
	}

	return s.deleteWhere(sourceRef, keep), nil
}

func (s *Store) deleteWhere(sourceRef string, keep []string) []string {
	var ids []string
	for id, e := range s.records {
		if e.Record.SourceRef == sourceRef && !slices.Contains(keep, id) {
			delete(s.records, id)
			ids = append(ids, id)
		}
	}

	return ids
}

// Get returns a record and its insertion sequence.
func (s *Store) Get(id string) (vector.Record, int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[id]
	return e.Record, e.Seq, ok
}

// Records returns every record in insertion order.
func (s *Store) Records() []vector.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.sorted()

	records := make([]vector.Record, len(entries))
	for i, e := range entries {
		records[i] = e.Record
	}

	return records
}

func (s *Store) sorted() []entry {
	entries := make([]entry, 0, len(s.records))
	for _, e := range s.records {
		entries = append(entries, e)
	}

	slices.SortFunc(entries, func(a, b entry) int {
		return cmp.Compare(a.Seq, b.Seq)
	})

	return entries
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records), nil
}

// Close writes the snapshot of a persistent store. Further calls fail with
// vector.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if !s.cfg.Persistent {
		return nil
	}

	return s.save()
}

// Save writes a snapshot without closing the store.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.cfg.Persistent {
		return nil
	}

	return s.save()
}

type snapshot struct {
	Dimension int     `json:"dimension"`
	Seq       int64   `json:"seq"`
	Entries   []entry `json:"entries"`
}

func (s *Store) save() error {
	snap := snapshot{
		Dimension: s.dim,
		Seq:       s.seq,
		Entries:   s.sorted(),
	}

	dir := filepath.Dir(s.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	var w io.WriteCloser = f
	if s.cfg.Compress {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to create compressor: %w", err)
		}

		w = enc
	}

	if err := json.NewEncoder(w).Encode(&snap); err != nil {
		w.Close()
		f.Close()
		return err
	}

	if s.cfg.Compress {
		if err := w.Close(); err != nil {
			f.Close()
			return err
		}
	}

	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(f.Name(), s.cfg.Path); err != nil {
		return err
	}

	s.log.Debug("snapshot saved",
		zap.String("path", s.cfg.Path),
		zap.Int("records", len(snap.Entries)),
	)

	return nil
}

func (s *Store) load() error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return err
	}
	defer f.Close()

	var r io.Reader = f
	if s.cfg.Compress {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create decompressor: %w", err)
		}
		defer dec.Close()

		r = dec
	}

	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decoding snapshot %s: %w", s.cfg.Path, err)
	}

	if s.dim > 0 && snap.Dimension > 0 && s.dim != snap.Dimension {
		return &vector.DimensionMismatchError{Expected: s.dim, Actual: snap.Dimension}
	}

	if snap.Dimension > 0 {
		s.dim = snap.Dimension
	}

	s.seq = snap.Seq
	for _, e := range snap.Entries {
		s.records[e.Record.ID] = e
	}

	s.log.Debug("snapshot loaded",
		zap.String("path", s.cfg.Path),
		zap.Int("records", len(snap.Entries)),
	)

	return nil
}
