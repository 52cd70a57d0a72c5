package types

// Outcome makes the best-effort vs fatal policy of a call site visible
// in its return type: Ok, Degraded (usable value plus a warning that
// an optimization step failed), or Failed.
type OutcomeState int

const (
	OutcomeOk OutcomeState = iota
	OutcomeDegraded
	OutcomeFailed
)

type Outcome[T any] struct {
	State   OutcomeState
	Value   T
	Warning string
	Err     error
}

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{State: OutcomeOk, Value: v}
}

func Degraded[T any](v T, warning string) Outcome[T] {
	return Outcome[T]{State: OutcomeDegraded, Value: v, Warning: warning}
}

func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{State: OutcomeFailed, Err: err}
}

func (o Outcome[T]) Usable() bool { return o.State != OutcomeFailed }
