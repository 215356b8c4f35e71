package errorx_test

import (
	"errors"
	"testing"

	. "github.com/dogmatiq/logkit/internal/errorx"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	t.Run("it adds context to the error", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("<cause>")
		err := cause
		Wrap(&err, "unable to trim log %d", 7)

		if got, want := err.Error(), "unable to trim log 7: <cause>"; got != want {
			t.Fatalf("unexpected message: got %q, want %q", got, want)
		}

		if !errors.Is(err, cause) {
			t.Fatal("expected the error to wrap its cause")
		}
	})

	t.Run("it does not change errors that callers test for", func(t *testing.T) {
		t.Parallel()

		cases := []error{
			journal.RecordNotFoundError{LSN: 1},
			journal.ErrConflict,
			logstore.ErrLogNotFound,
		}

		for _, want := range cases {
			err := want
			Wrap(&err, "<context>")

			if err != want {
				t.Fatalf("unexpected error: got %v, want %v", err, want)
			}
		}
	})

	t.Run("it ignores nil errors", func(t *testing.T) {
		t.Parallel()

		var err error
		Wrap(&err, "<context>")

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
