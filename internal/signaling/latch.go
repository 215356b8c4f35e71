package signaling

import (
	"sync"
	"sync/atomic"
)

// Latch is a signal that, once set, stays set.
type Latch struct {
	init    sync.Once
	sig     chan struct{}
	latched atomic.Bool
}

// Signaled returns a channel that is closed when the latch is set.
func (l *Latch) Signaled() <-chan struct{} {
	return l.channel()
}

// IsSignaled returns true if the latch has been set.
func (l *Latch) IsSignaled() bool {
	return l.latched.Load()
}

// Signal sets the latch. Calls after the first have no effect.
func (l *Latch) Signal() {
	if l.latched.CompareAndSwap(false, true) {
		close(l.channel())
	}
}

func (l *Latch) channel() chan struct{} {
	l.init.Do(func() {
		l.sig = make(chan struct{})
	})
	return l.sig
}
