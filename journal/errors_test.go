package journal_test

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/dogmatiq/logkit/journal"
)

func TestIgnoreNotFound(t *testing.T) {
	t.Parallel()

	err := errors.New("<error>")
	notFound := RecordNotFoundError{LogID: 1, LSN: 2}

	cases := []struct {
		Name     string
		Err      error
		Expected error
	}{
		{
			Name:     "RecordNotFoundError",
			Err:      notFound,
			Expected: nil,
		},
		{
			Name:     "wrapped RecordNotFoundError",
			Err:      fmt.Errorf("<context>: %w", notFound),
			Expected: nil,
		},
		{
			Name:     "ErrConflict",
			Err:      ErrConflict,
			Expected: ErrConflict,
		},
		{
			Name:     "unrecognized error",
			Err:      err,
			Expected: err,
		},
		{
			Name:     "nil error",
			Err:      nil,
			Expected: nil,
		},
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			actual := IgnoreNotFound(c.Err)
			if actual != c.Expected {
				t.Fatalf("unexpected result: got %v, want %v", actual, c.Expected)
			}
		})
	}
}

func TestDenyAccess(t *testing.T) {
	t.Parallel()

	cause := errors.New("<cause>")
	err := DenyAccess(cause)

	if !IsAccessDenied(err) {
		t.Fatal("expected error to be an access-denied error")
	}

	if !errors.Is(err, cause) {
		t.Fatal("expected error to wrap the cause")
	}

	if IsAccessDenied(cause) {
		t.Fatal("did not expect the cause to be an access-denied error")
	}
}
