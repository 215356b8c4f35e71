package journalstore

import (
	"testing"
	"time"
)

func TestNotifier(t *testing.T) {
	t.Parallel()

	t.Run("it closes the ready channel when notified", func(t *testing.T) {
		t.Parallel()

		var n notifier
		ready := n.Ready(0)

		select {
		case <-ready:
			t.Fatal("did not expect the channel to be closed")
		default:
		}

		n.Notify()

		select {
		case <-ready:
		default:
			t.Fatal("expected the channel to be closed")
		}

		if n.Ready(0) == ready {
			t.Fatal("expected a new channel after notification")
		}
	})

	t.Run("it notifies automatically after the poll interval", func(t *testing.T) {
		t.Parallel()

		var n notifier

		select {
		case <-n.Ready(10 * time.Millisecond):
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for notification")
		}
	})

	t.Run("it does not poll when the interval is zero", func(t *testing.T) {
		t.Parallel()

		var n notifier

		select {
		case <-n.Ready(0):
			t.Fatal("did not expect a notification")
		case <-time.After(50 * time.Millisecond):
		}
	})
}
