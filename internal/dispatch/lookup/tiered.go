// Package lookup implements the tiered fallback pattern: an ordered list of
// attempts, each more relaxed and with a shorter time budget than the last,
// so the worst case is bounded and a best-effort answer beats an outright
// failure.
package lookup

import (
	"context"
	"fmt"
	"time"

	"ride-dispatch/internal/dispatch/domain"
)

// Attempt is one tier. Run reports found=false to fall through to the next
// tier without an error.
type Attempt[T any] struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (result T, found bool, err error)
}

// Result carries the winning value and the tier that produced it.
type Result[T any] struct {
	Value T
	Tier  string
}

// Tiered runs attempts in order under per-attempt timeouts. The first
// attempt that reports found wins. Transient store errors and timeouts fall
// through to the next tier; any other error aborts. When every tier comes
// up empty the last error (or a NotFoundError) is returned.
func Tiered[T any](ctx context.Context, attempts []Attempt[T]) (Result[T], error) {
	var zero Result[T]
	var lastErr error

	for _, attempt := range attempts {
		attemptCtx := ctx
		cancel := func() {}
		if attempt.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, attempt.Timeout)
		}

		value, found, err := attempt.Run(attemptCtx)
		cancel()

		if err != nil {
			if domain.IsTransient(err) || attemptCtx.Err() == context.DeadlineExceeded {
				lastErr = err
				continue
			}
			return zero, fmt.Errorf("lookup tier %s: %w", attempt.Name, err)
		}
		if found {
			return Result[T]{Value: value, Tier: attempt.Name}, nil
		}
		// Parent context cancelled; no point trying further tiers.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	if lastErr != nil {
		return zero, fmt.Errorf("all lookup tiers exhausted: %w", lastErr)
	}
	return zero, &domain.NotFoundError{Entity: "lookup", ID: "no tier produced a result"}
}
