package ragblade

import (
	"context"
	"errors"
	"time"

	"github.com/flarexio/ragblade/vector"
)

// callWithTimeout runs fn under its own deadline. Expiry of that deadline,
// as opposed to cancellation by the caller, becomes a *vector.TimeoutError.
// Partial upsert results are returned untouched.
func callWithTimeout(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}

	var partial *vector.PartialUpsertError
	if errors.As(err, &partial) {
		return err
	}

	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &vector.TimeoutError{Op: op, Timeout: timeout}
	}

	return err
}
