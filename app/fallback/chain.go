// Package fallback runs ordered "try this, then that" resolution strategies.
package fallback

import "context"

// Step is one named strategy. Resolve reports ok=false when the strategy
// found nothing; a non-nil error stops the chain.
type Step[T any] struct {
	Name    string
	Resolve func(ctx context.Context) (T, bool, error)
}

// First runs steps in order and returns the first successful value along with
// the name of the step that produced it.
func First[T any](ctx context.Context, steps ...Step[T]) (T, string, bool, error) {
	var zero T
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return zero, "", false, err
		}
		v, ok, err := s.Resolve(ctx)
		if err != nil {
			return zero, s.Name, false, err
		}
		if ok {
			return v, s.Name, true, nil
		}
	}
	return zero, "", false, nil
}
