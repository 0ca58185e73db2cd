package ragblade

import (
	"encoding/json"
	"errors"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/vector"
)

var (
	ErrInvalidRequestType  = errors.New("invalid request type")
	ErrInvalidResponseType = errors.New("invalid response type")
	ErrNotImplemented      = errors.New("method not implemented")
)

const (
	DefaultK              = 3
	DefaultConcurrency    = 4
	DefaultBatchSize      = 64
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
	DefaultCallTimeout    = 5 * time.Second
)

type Config struct {
	Embedding   embedding.Config `yaml:"embedding"`
	Vector      vector.Config    `yaml:"vector"`
	Chunking    ChunkingConfig   `yaml:"chunking"`
	Ingestion   IngestionConfig  `yaml:"ingestion"`
	CallTimeout Duration         `yaml:"callTimeout"`
}

type ChunkingConfig struct {
	MaxTokens int `yaml:"maxTokens"`
	Overlap   int `yaml:"overlap"`
}

type IngestionConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	BatchSize      int      `yaml:"batchSize"`
	MaxAttempts    int      `yaml:"maxAttempts"`
	InitialBackoff Duration `yaml:"initialBackoff"`
	MaxBackoff     Duration `yaml:"maxBackoff"`
}

// ApplyDefaults fills every zero field. A zero overlap is kept when
// maxTokens is set explicitly.
func (cfg *Config) ApplyDefaults() {
	if cfg.Chunking.MaxTokens == 0 {
		cfg.Chunking.MaxTokens = chunker.DefaultMaxTokens

		if cfg.Chunking.Overlap == 0 {
			cfg.Chunking.Overlap = chunker.DefaultOverlap
		}
	}

	if cfg.Ingestion.Concurrency == 0 {
		cfg.Ingestion.Concurrency = DefaultConcurrency
	}

	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = DefaultBatchSize
	}

	if cfg.Ingestion.MaxAttempts == 0 {
		cfg.Ingestion.MaxAttempts = DefaultMaxAttempts
	}

	if cfg.Ingestion.InitialBackoff == 0 {
		cfg.Ingestion.InitialBackoff = Duration(DefaultInitialBackoff)
	}

	if cfg.Ingestion.MaxBackoff == 0 {
		cfg.Ingestion.MaxBackoff = Duration(DefaultMaxBackoff)
	}

	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = Duration(DefaultCallTimeout)
	}
}

func (cfg Config) Validate() error {
	if err := chunker.Validate(cfg.Chunking.MaxTokens, cfg.Chunking.Overlap); err != nil {
		return err
	}

	if cfg.Ingestion.Concurrency < 0 {
		return &vector.ConfigError{Field: "ingestion.concurrency", Reason: "must not be negative"}
	}

	if cfg.Ingestion.BatchSize < 0 {
		return &vector.ConfigError{Field: "ingestion.batchSize", Reason: "must not be negative"}
	}

	if cfg.Ingestion.MaxAttempts < 0 {
		return &vector.ConfigError{Field: "ingestion.maxAttempts", Reason: "must not be negative"}
	}

	if cfg.CallTimeout < 0 {
		return &vector.ConfigError{Field: "callTimeout", Reason: "must not be negative"}
	}

	return cfg.Vector.Validate()
}

type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	str := d.Duration().String()
	return json.Marshal(str)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration().String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

// IngestReport describes the outcome of one ingestion. Every chunk is either
// stored, skipped or failed.
type IngestReport struct {
	SourceRef string                 `json:"source_ref"`
	Chunks    int                    `json:"chunks"`
	Stored    int                    `json:"stored"`
	Replaced  int                    `json:"replaced,omitempty"`
	RecordIDs []string               `json:"record_ids"`
	Skipped   []ChunkFailure         `json:"skipped,omitempty"`
	Failed    []vector.RecordFailure `json:"failed,omitempty"`
}

// ChunkFailure is a chunk that never reached the store, usually because
// its embedding failed.
type ChunkFailure struct {
	Index int   `json:"index"`
	Err   error `json:"-"`
}

func (f ChunkFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}

	return json.Marshal(struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	}{f.Index, msg})
}

func (f *ChunkFailure) UnmarshalJSON(data []byte) error {
	var raw struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.Index = raw.Index
	if raw.Error != "" {
		f.Err = errors.New(raw.Error)
	}

	return nil
}

// Document is a retrieved chunk.
type Document struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	SourceRef  string  `json:"source_ref"`
}
