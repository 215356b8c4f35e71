package journalstore

import (
	"sync"
	"time"
)

// notifier wakes cursors that are waiting for new records.
type notifier struct {
	m     sync.Mutex
	ready chan struct{}
	timer *time.Timer
}

// Ready returns a channel that is closed by the next call to Notify.
//
// If poll is positive, Notify is called automatically once poll has elapsed.
func (n *notifier) Ready(poll time.Duration) <-chan struct{} {
	n.m.Lock()
	defer n.m.Unlock()

	if n.ready == nil {
		n.ready = make(chan struct{})
	}

	if poll > 0 && n.timer == nil {
		n.timer = time.AfterFunc(poll, n.Notify)
	}

	return n.ready
}

// Notify wakes all waiting cursors.
func (n *notifier) Notify() {
	n.m.Lock()
	defer n.m.Unlock()

	if n.ready != nil {
		close(n.ready)
		n.ready = nil
	}

	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
