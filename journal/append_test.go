package journal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dogmatiq/logkit/driver/memory/memoryjournal"
	. "github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

func TestAppend(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	store := &memoryjournal.Store{}
	j, err := store.Open(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	t.Run("it appends to the end of the journal", func(t *testing.T) {
		for want := logstore.LSN(1); want <= 3; want++ {
			got, err := Append(
				ctx,
				j,
				func() Entry {
					return Entry{Payload: []byte("<payload>")}
				},
			)
			if err != nil {
				t.Fatal(err)
			}

			if got != want {
				t.Fatalf("unexpected LSN: got %d, want %d", got, want)
			}
		}
	})

	t.Run("it rebuilds the entry for each attempt", func(t *testing.T) {
		other, err := store.Open(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		defer other.Close()

		attempts := 0
		n, err := Append(
			ctx,
			j,
			func() Entry {
				attempts++
				if attempts == 1 {
					// Sneak in a competing append so that the first attempt
					// conflicts.
					if err := other.Append(ctx, 4, Entry{Payload: []byte("<other>")}); err != nil {
						t.Fatal(err)
					}
				}
				return Entry{Key: "<key>", Payload: []byte{byte(attempts)}}
			},
		)
		if err != nil {
			t.Fatal(err)
		}

		if n != 5 {
			t.Fatalf("unexpected LSN: got %d, want 5", n)
		}

		if attempts != 2 {
			t.Fatalf("unexpected number of attempts: got %d, want 2", attempts)
		}

		e, err := j.Get(ctx, n)
		if err != nil {
			t.Fatal(err)
		}

		if e.Payload[0] != 2 {
			t.Fatalf("unexpected payload: got %v, want [2]", e.Payload)
		}
	})
}

func TestAppendWithConflictResolution(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	store := &memoryjournal.Store{}
	j, err := store.Open(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	entry := func(p string) func() Entry {
		return func() Entry {
			return Entry{Payload: []byte(p)}
		}
	}

	t.Run("it appends entries", func(t *testing.T) {
		n, err := AppendWithConflictResolution(
			ctx,
			j,
			1,
			entry("<first>"),
			func(context.Context, logstore.LSN) (logstore.LSN, error) {
				t.Fatal("unexpected call")
				return 0, nil
			},
		)
		if err != nil {
			t.Fatal(err)
		}

		if n != 1 {
			t.Fatalf("unexpected LSN: got %d, want 1", n)
		}

		e, err := j.Get(ctx, n)
		if err != nil {
			t.Fatal(err)
		}

		if string(e.Payload) != "<first>" {
			t.Fatalf("unexpected payload: got %q, want %q", e.Payload, "<first>")
		}
	})

	t.Run("it retries on conflict", func(t *testing.T) {
		if err := j.Append(ctx, 2, Entry{Payload: []byte("<second>")}); err != nil {
			t.Fatal(err)
		}

		n, err := AppendWithConflictResolution(
			ctx,
			j,
			1,
			entry("<third>"),
			func(_ context.Context, n logstore.LSN) (logstore.LSN, error) {
				return n + 1, nil
			},
		)
		if err != nil {
			t.Fatal(err)
		}

		if n != 3 {
			t.Fatalf("unexpected LSN: got %d, want 3", n)
		}

		e, err := j.Get(ctx, n)
		if err != nil {
			t.Fatal(err)
		}

		if string(e.Payload) != "<third>" {
			t.Fatalf("unexpected payload: got %q, want %q", e.Payload, "<third>")
		}
	})

	t.Run("it returns the error returned by the conflict resolution function", func(t *testing.T) {
		want := errors.New("<error>")

		if _, err := AppendWithConflictResolution(
			ctx,
			j,
			1,
			entry("<fourth>"),
			func(context.Context, logstore.LSN) (logstore.LSN, error) {
				return 0, want
			},
		); err != want {
			t.Fatalf("unexpected error: got %v, want %v", err, want)
		}
	})
}
