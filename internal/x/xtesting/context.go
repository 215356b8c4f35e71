package xtesting

import (
	"context"
	"testing"
	"time"
)

// ContextForCleanup returns a context that can be used to cleanup after a test
// ends.
//
// It can be called at any time during the test, including within a cleanup
// function. The returned context is cancelled 3 seconds after the test ends.
func ContextForCleanup(t testing.TB) context.Context {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	startTimeout := func() {
		time.AfterFunc(3*time.Second, cancel)
	}

	if t.Context().Err() == nil {
		t.Cleanup(startTimeout)
	} else {
		startTimeout()
	}

	return ctx
}

// Context returns a context for use within a test, bounded by the given
// timeout and cancelled when the test ends.
func Context(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), timeout)
	t.Cleanup(cancel)

	return ctx
}
