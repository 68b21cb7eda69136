package update

import (
	"context"

	"kode/internal/debug"
)

// Strategy is one attempt in an ordered fallback chain.
type Strategy[T any] struct {
	Name string
	Try  func(ctx context.Context) (T, bool)
}

// FirstSuccess evaluates strategies in order and returns the first result
// whose Try reports ok, along with the winning strategy's name.
// A panicking strategy counts as a failure.
func FirstSuccess[T any](ctx context.Context, strategies ...Strategy[T]) (T, string, bool) {
	var zero T
	for _, s := range strategies {
		if ctx.Err() != nil {
			debug.Logf("strategy chain cancelled before %s: %v", s.Name, ctx.Err())
			return zero, "", false
		}
		if v, ok := attempt(ctx, s); ok {
			return v, s.Name, true
		}
		debug.Logf("strategy %s did not succeed", s.Name)
	}
	return zero, "", false
}

func attempt[T any](ctx context.Context, s Strategy[T]) (v T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			debug.Errorf("strategy %s panicked: %v", s.Name, r)
			var zero T
			v, ok = zero, false
		}
	}()
	return s.Try(ctx)
}
