package syncx

import (
	"sync"
	"sync/atomic"
)

// SucceedOnce runs an operation until it succeeds, and never again after
// that. Unlike [sync.Once], a failed attempt leaves it ready to try again.
type SucceedOnce struct {
	m    sync.Mutex
	done atomic.Bool
}

// Do calls fn unless a previous call to fn has succeeded.
//
// Concurrent calls are serialized, so fn is never running more than once at a
// time.
func (o *SucceedOnce) Do(fn func() error) error {
	if o.Done() {
		return nil
	}

	o.m.Lock()
	defer o.m.Unlock()

	if o.Done() {
		return nil
	}

	err := fn()
	o.done.Store(err == nil)

	return err
}

// Done returns true once an operation passed to Do has succeeded.
func (o *SucceedOnce) Done() bool {
	return o.done.Load()
}
