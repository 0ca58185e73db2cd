// Package embedding turns text into fixed-length vectors.
package embedding

import (
	"context"
	"errors"

	"github.com/philippgille/chromem-go"

	"github.com/flarexio/ragblade/vector"
)

var ErrUnsupportedProvider = errors.New("unsupported embedding provider")

// Provider generates embeddings. Implementations must return the same vector
// for the same text within one model version.
type Provider interface {

	// Embed returns the embedding of text. Backend failures are reported as
	// *vector.EmbeddingError; a zero vector is never returned in their place.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector length, or 0 when not known yet.
	Dimension() int

	// Model identifies the backing model.
	Model() string
}

type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
	ProviderVertex ProviderType = "vertex"
)

type Config struct {
	Provider  ProviderType `yaml:"provider"`
	Model     string       `yaml:"model"`
	Dimension int          `yaml:"dimension"`
	BaseURL   string       `yaml:"baseURL"`
	APIKey    string       `yaml:"apiKey"`
	Project   string       `yaml:"project"`
	CachePath string       `yaml:"cachePath"`
	RateLimit float64      `yaml:"rateLimit"`
	Burst     int          `yaml:"burst"`
}

func (cfg *Config) applyDefaults() {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.Model == "" {
			cfg.Model = string(chromem.EmbeddingModelOpenAI3Small)
		}

		if cfg.Dimension == 0 && cfg.Model == string(chromem.EmbeddingModelOpenAI3Small) {
			cfg.Dimension = 1536
		}

	case ProviderOllama:
		if cfg.Model == "" {
			cfg.Model = "nomic-embed-text"
		}

		if cfg.Dimension == 0 && cfg.Model == "nomic-embed-text" {
			cfg.Dimension = 768
		}

	case ProviderVertex:
		if cfg.Model == "" {
			cfg.Model = string(chromem.EmbeddingModelVertexEnglishV4)
		}

		if cfg.Dimension == 0 && cfg.Model == string(chromem.EmbeddingModelVertexEnglishV4) {
			cfg.Dimension = 768
		}
	}
}

// NewProvider builds the configured backend and wraps it with the optional
// cache and rate limiter.
func NewProvider(cfg Config) (Provider, error) {
	cfg.applyDefaults()

	if cfg.Dimension < 0 {
		return nil, &vector.ConfigError{Field: "embedding.dimension", Reason: "must not be negative"}
	}

	var fn chromem.EmbeddingFunc

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, &vector.ConfigError{Field: "embedding.apiKey", Reason: "required for openai"}
		}

		fn = chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, chromem.EmbeddingModelOpenAI(cfg.Model))

	case ProviderOllama:
		fn = chromem.NewEmbeddingFuncOllama(cfg.Model, cfg.BaseURL)

	case ProviderVertex:
		if cfg.APIKey == "" || cfg.Project == "" {
			return nil, &vector.ConfigError{Field: "embedding.project", Reason: "apiKey and project required for vertex"}
		}

		fn = chromem.NewEmbeddingFuncVertex(cfg.APIKey, cfg.Project, chromem.EmbeddingModelVertex(cfg.Model))

	default:
		return nil, ErrUnsupportedProvider
	}

	var provider Provider = NewFuncProvider(fn, cfg.Model, cfg.Dimension)

	if cfg.RateLimit > 0 {
		provider = NewRateLimitedProvider(provider, cfg.RateLimit, cfg.Burst)
	}

	if cfg.CachePath != "" {
		cached, err := NewCachedProvider(provider, cfg.CachePath)
		if err != nil {
			return nil, err
		}

		provider = cached
	}

	return provider, nil
}
