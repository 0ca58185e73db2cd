package vector

import (
	"context"
	"slices"
	"time"
)

type Backend string

const (
	BackendMemory  Backend = "memory"
	BackendChromem Backend = "chromem"
	BackendHNSW    Backend = "hnsw"
	BackendQdrant  Backend = "qdrant"
)

type Config struct {
	Backend    Backend      `yaml:"backend"`
	Dimension  int          `yaml:"dimension"`
	Persistent bool         `yaml:"persistent"`
	Path       string       `yaml:"path"`
	Collection string       `yaml:"collection"`
	Compress   bool         `yaml:"compress"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
	HNSW       HNSWConfig   `yaml:"hnsw"`
}

type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type HNSWConfig struct {
	M        int `yaml:"m"`
	EfSearch int `yaml:"efSearch"`
}

func (cfg Config) Validate() error {
	if cfg.Dimension < 0 {
		return &ConfigError{Field: "vector.dimension", Reason: "must not be negative"}
	}

	switch cfg.Backend {
	case "", BackendMemory, BackendChromem, BackendHNSW:
	case BackendQdrant:
		if cfg.Qdrant.Host == "" {
			return &ConfigError{Field: "vector.qdrant.host", Reason: "required for qdrant backend"}
		}
	default:
		return &ConfigError{Field: "vector.backend", Reason: "unsupported backend " + string(cfg.Backend)}
	}

	if cfg.Persistent && cfg.Path == "" {
		return &ConfigError{Field: "vector.path", Reason: "required for persistent stores"}
	}

	return nil
}

// Record is the persisted unit of a vector store.
type Record struct {
	ID         string    `json:"id"`
	SourceRef  string    `json:"source_ref"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
	ChunkIndex int       `json:"chunk_index"`
	CreatedAt  time.Time `json:"created_at"`
}

type ScoredRecord struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

// Filter restricts a search. A nil *Filter accepts everything.
type Filter struct {
	// SourceRefs accepts records of any of these sources when not empty.
	// Backends with a filter language evaluate it server side.
	SourceRefs []string

	// Match is an extra predicate, always evaluated locally.
	Match func(Record) bool
}

func SourceRefFilter(refs ...string) *Filter {
	return &Filter{SourceRefs: refs}
}

// Accepts reports whether r passes the filter.
func (f *Filter) Accepts(r Record) bool {
	if f == nil {
		return true
	}

	if len(f.SourceRefs) > 0 && !slices.Contains(f.SourceRefs, r.SourceRef) {
		return false
	}

	return f.Match == nil || f.Match(r)
}

type Store interface {

	// Dimension returns the embedding length of the store, or 0 when it is not fixed yet.
	Dimension() int

	// Upsert stores records keyed by ID. Each record is committed on its own;
	// failed records are reported with a *PartialUpsertError.
	Upsert(ctx context.Context, records []Record) (int, error)

	// Search returns at most k records ordered by cosine similarity, highest first.
	Search(ctx context.Context, query []float32, k int, filter *Filter) ([]ScoredRecord, error)

	// DeleteBySource removes every record with the given source reference,
	// except the records whose IDs are listed in keep.
	DeleteBySource(ctx context.Context, sourceRef string, keep ...string) (int, error)

	Count(ctx context.Context) (int, error)

	Close() error
}
