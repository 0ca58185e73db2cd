package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider caps the request rate against the embedding backend.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider allows rps requests per second with the given burst.
func NewRateLimitedProvider(inner Provider, rps float64, burst int) *RateLimitedProvider {
	if burst <= 0 {
		burst = 1
	}

	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimitedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return r.inner.Embed(ctx, text)
}

func (r *RateLimitedProvider) Dimension() int {
	return r.inner.Dimension()
}

func (r *RateLimitedProvider) Model() string {
	return r.inner.Model()
}
