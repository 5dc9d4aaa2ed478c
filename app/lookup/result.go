// Package lookup carries the outcome of a provider lookup without relying on
// provider error strings at the call site.
package lookup

import "fmt"

type Outcome int

const (
	Found Outcome = iota
	NotFound
	Transient
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is Found(value), NotFound, or Transient(err).
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
}

func Of[T any](v T) Result[T] {
	return Result[T]{Value: v, Outcome: Found}
}

func Missing[T any]() Result[T] {
	return Result[T]{Outcome: NotFound}
}

func Failed[T any](err error) Result[T] {
	return Result[T]{Outcome: Transient, Err: err}
}

func (r Result[T]) Found() bool { return r.Outcome == Found }

// Get returns the value and whether it was found.
func (r Result[T]) Get() (T, bool) {
	return r.Value, r.Outcome == Found
}
