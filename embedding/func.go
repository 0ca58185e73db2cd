package embedding

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/philippgille/chromem-go"

	"github.com/flarexio/ragblade/vector"
)

// NewFuncProvider adapts a chromem-go embedding function. A dimension of 0
// is learned from the first embedding and enforced afterwards.
func NewFuncProvider(fn chromem.EmbeddingFunc, model string, dimension int) *FuncProvider {
	p := &FuncProvider{
		fn:    fn,
		model: model,
	}

	p.dimension.Store(int64(dimension))

	return p
}

type FuncProvider struct {
	fn        chromem.EmbeddingFunc
	model     string
	dimension atomic.Int64
}

func (p *FuncProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.fn == nil {
		return nil, &vector.EmbeddingError{Model: p.model, Err: errors.New("no embedding function")}
	}

	v, err := p.fn(ctx, text)
	if err != nil {
		return nil, &vector.EmbeddingError{Model: p.model, Err: err}
	}

	if len(v) == 0 {
		return nil, &vector.EmbeddingError{Model: p.model, Err: errors.New("empty embedding returned")}
	}

	p.dimension.CompareAndSwap(0, int64(len(v)))

	if dim := int(p.dimension.Load()); len(v) != dim {
		return nil, &vector.DimensionMismatchError{Expected: dim, Actual: len(v)}
	}

	return v, nil
}

func (p *FuncProvider) Dimension() int {
	return int(p.dimension.Load())
}

func (p *FuncProvider) Model() string {
	return p.model
}

// EmbeddingFunc exposes a provider as a chromem-go embedding function.
func EmbeddingFunc(p Provider) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return p.Embed(ctx, text)
	}
}
