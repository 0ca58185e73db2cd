// Package embeddingtest provides a deterministic embedding provider for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/flarexio/ragblade/vector"
)

// Provider hashes every word of the input into one of Dimension buckets and
// counts occurrences. Texts sharing words get a positive cosine similarity.
type Provider struct {
	dimension int
	delay     time.Duration

	mu        sync.RWMutex
	overrides map[string][]float32
	failures  map[string]error

	calls atomic.Int64
}

func New(dimension int) *Provider {
	return &Provider{
		dimension: dimension,
		overrides: make(map[string][]float32),
		failures:  make(map[string]error),
	}
}

// Set pins the embedding returned for an exact text.
func (p *Provider) Set(text string, v []float32) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.overrides[text] = v
	return p
}

// FailOn makes Embed fail for every text containing substr.
func (p *Provider) FailOn(substr string, err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures[substr] = err
	return p
}

// WithDelay makes every call block for d or until the context is done.
func (p *Provider) WithDelay(d time.Duration) *Provider {
	p.delay = d
	return p
}

func (p *Provider) Calls() int {
	return int(p.calls.Load())
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &vector.EmbeddingError{Model: p.Model(), Err: ctx.Err()}
		case <-time.After(p.delay):
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for substr, err := range p.failures {
		if strings.Contains(text, substr) {
			return nil, &vector.EmbeddingError{Model: p.Model(), Err: err}
		}
	}

	if v, ok := p.overrides[text]; ok {
		return append([]float32(nil), v...), nil
	}

	v := make([]float32, p.dimension)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(p.dimension)]++
	}

	return v, nil
}

func (p *Provider) Dimension() int {
	return p.dimension
}

func (p *Provider) Model() string {
	return "stub-bow"
}
