package future

import (
	"context"
)

// NewFailable returns a future that can be fulfilled with a value of type T or
// an error, and its associated resolver.
func NewFailable[T any]() (Failable[T], FailableResolver[T]) {
	f, r := New[failable[T]]()
	return Failable[T]{f}, FailableResolver[T]{r}
}

// Failable represents a future value of type T, or an error indicating that the
// value can not be computed.
type Failable[T any] struct {
	fut Future[failable[T]]
}

// Ready returns a channel that is closed when the value is ready.
func (f Failable[T]) Ready() <-chan struct{} {
	return f.fut.Ready()
}

// Get returns the value. It panics if the value is not ready.
func (f Failable[T]) Get() (T, error) {
	v := f.fut.Get()
	return v.Value, v.Err
}

// Wait blocks until the value is ready, then returns it.
func (f Failable[T]) Wait(ctx context.Context) (T, error) {
	v, err := f.fut.Wait(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.Value, v.Err
}

// FailableResolver is used to provide a result value to a [Failable].
type FailableResolver[T any] struct {
	res Resolver[failable[T]]
}

// Resolve resolves the future with either v or err. If err is non-nil, v is
// discarded.
func (r FailableResolver[T]) Resolve(v T, err error) {
	if err != nil {
		var zero T
		v = zero
	}
	r.res.Set(failable[T]{v, err})
}

type failable[T any] struct {
	Value T
	Err   error
}
