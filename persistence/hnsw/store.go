// Package hnsw implements an approximate vector store over a coder/hnsw graph.
// Record payloads live in a memory store next to the graph; the graph only
// proposes candidates, which are re-ranked with exact cosine similarity.
package hnsw

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade/persistence/memory"
	"github.com/flarexio/ragblade/vector"
)

const (
	graphFile   = "graph.hnsw"
	recordsFile = "records.snapshot"
)

func NewHNSWStore(cfg vector.Config) (vector.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	recordsCfg := cfg
	if cfg.Persistent {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, err
		}

		recordsCfg.Path = filepath.Join(cfg.Path, recordsFile)
	}

	records, err := memory.NewMemoryStore(recordsCfg)
	if err != nil {
		return nil, err
	}

	s := &hnswStore{
		cfg:     cfg,
		records: records,
		log: zap.L().With(
			zap.String("store", string(vector.BackendHNSW)),
		),
	}

	if err := s.openGraph(); err != nil {
		records.Close()
		return nil, err
	}

	return s, nil
}

type hnswStore struct {
	cfg     vector.Config
	records *memory.Store
	log     *zap.Logger

	mu     sync.RWMutex
	graph  *hnsw.SavedGraph[string]
	closed bool
}

func (s *hnswStore) openGraph() error {
	var g *hnsw.SavedGraph[string]

	if s.cfg.Persistent {
		path := filepath.Join(s.cfg.Path, graphFile)

		saved, err := hnsw.LoadSavedGraph[string](path)
		switch {
		case err == nil:
			g = saved
		case errors.Is(err, os.ErrNotExist):
			g = &hnsw.SavedGraph[string]{Graph: hnsw.NewGraph[string](), Path: path}
		default:
			return fmt.Errorf("loading hnsw graph: %w", err)
		}
	} else {
		g = &hnsw.SavedGraph[string]{Graph: hnsw.NewGraph[string]()}
	}

	g.Graph.Distance = hnsw.CosineDistance

	if m := s.cfg.HNSW.M; m > 0 {
		g.Graph.M = m
	}

	if ef := s.cfg.HNSW.EfSearch; ef > 0 {
		g.Graph.EfSearch = ef
	}

	s.graph = g

	// the graph file is only written on Close; rebuild it after a crash
	if g.Graph.Len() != len(s.records.Records()) {
		s.rebuild()
	}

	return nil
}

func (s *hnswStore) rebuild() {
	records := s.records.Records()

	g := hnsw.NewGraph[string]()
	g.Distance = s.graph.Graph.Distance
	g.M = s.graph.Graph.M
	g.EfSearch = s.graph.Graph.EfSearch

	nodes := make([]hnsw.Node[string], len(records))
	for i, r := range records {
		nodes[i] = hnsw.MakeNode(r.ID, r.Embedding)
	}

	if len(nodes) > 0 {
		g.Add(nodes...)
	}

	s.graph.Graph = g

	s.log.Info("hnsw graph rebuilt", zap.Int("nodes", len(nodes)))
}

func (s *hnswStore) Dimension() int {
	return s.records.Dimension()
}

func (s *hnswStore) Upsert(ctx context.Context, records []vector.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.records.Upsert(ctx, records)

	failed := make(map[string]struct{})

	var partial *vector.PartialUpsertError
	if errors.As(err, &partial) {
		for _, id := range partial.FailedIDs() {
			failed[id] = struct{}{}
		}
	} else if err != nil {
		return stored, err
	}

	nodes := make([]hnsw.Node[string], 0, len(records))
	seen := make(map[string]struct{}, len(records))
	replaced := false

	for _, r := range records {
		if _, ok := failed[r.ID]; ok {
			continue
		}

		if _, ok := seen[r.ID]; ok {
			replaced = true
		}
		seen[r.ID] = struct{}{}

		if _, ok := s.graph.Lookup(r.ID); ok {
			replaced = true
		}

		nodes = append(nodes, hnsw.MakeNode(r.ID, r.Embedding))
	}

	// Graph.Delete leaves dangling neighbours behind, so replaced keys
	// rebuild the graph from the stored records instead.
	switch {
	case replaced:
		s.rebuild()
	case len(nodes) > 0:
		s.graph.Add(nodes...)
	}

	return stored, err
}

func (s *hnswStore) Search(ctx context.Context, query []float32, k int, filter *vector.Filter) ([]vector.ScoredRecord, error) {
	if err := vector.ValidateQuery(query, k, s.records.Dimension()); err != nil {
		return nil, err
	}

	// predicates cannot be pushed into the graph walk
	if filter != nil {
		return s.records.Search(ctx, query, k, filter)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, vector.ErrStoreClosed
	}

	if s.graph.Len() == 0 {
		return []vector.ScoredRecord{}, nil
	}

	nodes := s.graph.Search(query, vector.OverFetch(k))

	cands := make([]vector.Candidate, 0, len(nodes))
	for _, node := range nodes {
		r, seq, ok := s.records.Get(node.Key)
		if !ok {
			continue
		}

		cands = append(cands, vector.Candidate{
			Record: r,
			Score:  vector.Cosine(query, r.Embedding),
			Seq:    seq,
		})
	}

	return vector.TopK(cands, k), nil
}

func (s *hnswStore) DeleteBySource(ctx context.Context, sourceRef string, keep ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.records.RemoveSource(ctx, sourceRef, keep...)
	if err != nil {
		return 0, err
	}

	if len(ids) > 0 {
		s.rebuild()
	}

	return len(ids), nil
}

func (s *hnswStore) Count(ctx context.Context) (int, error) {
	return s.records.Count(ctx)
}

func (s *hnswStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	var errs []error

	if s.cfg.Persistent {
		if err := s.graph.Save(); err != nil {
			errs = append(errs, fmt.Errorf("saving hnsw graph: %w", err))
		}
	}

	if err := s.records.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
