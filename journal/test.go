package journal

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dogmatiq/logkit/logstore"
	"github.com/google/go-cmp/cmp"
)

// RunTests runs tests that confirm a journal implementation behaves correctly.
func RunTests(
	t *testing.T,
	store Store,
) {
	setup := func(t *testing.T) (context.Context, Journal) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)

		j, err := store.Open(ctx, uniqueLogID())
		if err != nil {
			t.Fatal(err)
		}

		t.Cleanup(func() {
			if err := j.Close(); err != nil {
				t.Error(err)
			}
		})

		return ctx, j
	}

	t.Run("Store", func(t *testing.T) {
		t.Parallel()

		t.Run("Define", func(t *testing.T) {
			t.Parallel()

			t.Run("it makes the log visible to Lookup", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				id := uniqueLogID()
				want := Config{
					Label:          "<label>",
					MaxPayloadSize: 1024,
				}

				if err := store.Define(ctx, id, want); err != nil {
					t.Fatal(err)
				}

				got, ok, err := store.Lookup(ctx, id)
				if err != nil {
					t.Fatal(err)
				}

				if !ok {
					t.Fatal("expected log to be defined")
				}

				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("it replaces the configuration of an existing log", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				id := uniqueLogID()

				if err := store.Define(ctx, id, Config{Label: "<before>"}); err != nil {
					t.Fatal(err)
				}

				want := Config{Label: "<after>"}
				if err := store.Define(ctx, id, want); err != nil {
					t.Fatal(err)
				}

				got, _, err := store.Lookup(ctx, id)
				if err != nil {
					t.Fatal(err)
				}

				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatal(diff)
				}
			})
		})

		t.Run("Lookup", func(t *testing.T) {
			t.Parallel()

			t.Run("it reports logs that have never been defined", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				_, ok, err := store.Lookup(ctx, uniqueLogID())
				if err != nil {
					t.Fatal(err)
				}

				if ok {
					t.Fatal("did not expect log to be defined")
				}
			})
		})

		t.Run("Remove", func(t *testing.T) {
			t.Parallel()

			t.Run("it removes the log from the registry", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				id := uniqueLogID()

				if err := store.Define(ctx, id, Config{}); err != nil {
					t.Fatal(err)
				}

				if err := store.Remove(ctx, id); err != nil {
					t.Fatal(err)
				}

				_, ok, err := store.Lookup(ctx, id)
				if err != nil {
					t.Fatal(err)
				}

				if ok {
					t.Fatal("did not expect log to be defined")
				}
			})

			t.Run("it does not remove the log's entries", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				id := uniqueLogID()

				if err := store.Define(ctx, id, Config{}); err != nil {
					t.Fatal(err)
				}

				j, err := store.Open(ctx, id)
				if err != nil {
					t.Fatal(err)
				}
				defer j.Close()

				want := appendEntries(ctx, t, j, 3)

				if err := store.Remove(ctx, id); err != nil {
					t.Fatal(err)
				}

				if err := store.Define(ctx, id, Config{}); err != nil {
					t.Fatal(err)
				}

				got, err := j.Get(ctx, 3)
				if err != nil {
					t.Fatal(err)
				}

				if diff := cmp.Diff(want[2], got); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("it does not fail if the log is not defined", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				if err := store.Remove(ctx, uniqueLogID()); err != nil {
					t.Fatal(err)
				}
			})
		})

		t.Run("Open", func(t *testing.T) {
			t.Parallel()

			t.Run("allows a journal to be opened multiple times", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				id := uniqueLogID()

				j1, err := store.Open(ctx, id)
				if err != nil {
					t.Fatal(err)
				}
				defer j1.Close()

				j2, err := store.Open(ctx, id)
				if err != nil {
					t.Fatal(err)
				}
				defer j2.Close()

				want := appendEntries(ctx, t, j1, 1)

				got, err := j2.Get(ctx, logstore.LSNOldest)
				if err != nil {
					t.Fatal(err)
				}

				if diff := cmp.Diff(want[0], got); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("it returns a journal with the correct log ID", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				id := uniqueLogID()

				j, err := store.Open(ctx, id)
				if err != nil {
					t.Fatal(err)
				}
				defer j.Close()

				if j.LogID() != id {
					t.Fatalf("unexpected log ID: got %d, want %d", j.LogID(), id)
				}
			})
		})
	})

	t.Run("Journal", func(t *testing.T) {
		t.Parallel()

		t.Run("Bounds", func(t *testing.T) {
			t.Parallel()

			cases := []struct {
				Name   string
				Expect Interval
				Setup  func(context.Context, *testing.T, Journal)
			}{
				{
					"empty",
					Interval{1, 1},
					func(ctx context.Context, t *testing.T, j Journal) {},
				},
				{
					"with entries",
					Interval{1, 11},
					func(ctx context.Context, t *testing.T, j Journal) {
						appendEntries(ctx, t, j, 10)
					},
				},
				{
					"with some entries truncated",
					Interval{6, 11},
					func(ctx context.Context, t *testing.T, j Journal) {
						appendEntries(ctx, t, j, 10)
						if err := j.Truncate(ctx, 6); err != nil {
							t.Fatal(err)
						}
					},
				},
				{
					"with all entries truncated",
					Interval{11, 11},
					func(ctx context.Context, t *testing.T, j Journal) {
						appendEntries(ctx, t, j, 10)
						if err := j.Truncate(ctx, 11); err != nil {
							t.Fatal(err)
						}
					},
				},
			}

			for _, c := range cases {
				t.Run(c.Name, func(t *testing.T) {
					t.Parallel()

					ctx, j := setup(t)
					c.Setup(ctx, t, j)

					got, err := j.Bounds(ctx)
					if err != nil {
						t.Fatal(err)
					}

					if got != c.Expect {
						t.Fatalf("unexpected bounds: got %s, want %s", got, c.Expect)
					}
				})
			}
		})

		t.Run("Get", func(t *testing.T) {
			t.Parallel()

			t.Run("it returns a RecordNotFoundError if there is no entry with the given LSN", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				_, err := j.Get(ctx, 1)
				if !IsNotFound(err) {
					t.Fatalf("unexpected error: got %v, want RecordNotFoundError", err)
				}
			})

			t.Run("it returns the entry if it exists", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				// Use enough entries that some LSNs have two digits, which
				// catches implementations that sort LSNs lexically.
				entries := appendEntries(ctx, t, j, 15)

				for i, want := range entries {
					n := logstore.LSN(i + 1)

					got, err := j.Get(ctx, n)
					if err != nil {
						t.Fatal(err)
					}

					if diff := cmp.Diff(want, got); diff != "" {
						t.Fatalf("unexpected entry at LSN %d:\n%s", n, diff)
					}
				}
			})

			t.Run("it does not return truncated entries", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				entries := appendEntries(ctx, t, j, 5)

				if err := j.Truncate(ctx, 4); err != nil {
					t.Fatal(err)
				}

				for i, want := range entries {
					n := logstore.LSN(i + 1)
					got, err := j.Get(ctx, n)

					if n < 4 {
						if !IsNotFound(err) {
							t.Fatalf("unexpected error at LSN %d: got %v, want RecordNotFoundError", n, err)
						}
						continue
					}

					if err != nil {
						t.Fatal(err)
					}

					if diff := cmp.Diff(want, got); diff != "" {
						t.Fatal(diff)
					}
				}
			})

			t.Run("it does not return its internal byte slice", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				want := appendEntries(ctx, t, j, 1)[0]

				e, err := j.Get(ctx, 1)
				if err != nil {
					t.Fatal(err)
				}

				e.Payload[0] = 'X'

				got, err := j.Get(ctx, 1)
				if err != nil {
					t.Fatal(err)
				}

				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("handles the maximum LSN", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				_, err := j.Get(ctx, logstore.LSNMax)
				if !IsNotFound(err) {
					t.Fatalf("unexpected error: got %v, want RecordNotFoundError", err)
				}
			})
		})

		t.Run("Range", func(t *testing.T) {
			t.Parallel()

			t.Run("calls the function for each entry in the journal", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				want := appendEntries(ctx, t, j, 15)[9:]
				wantLSN := logstore.LSN(10)

				var got []Entry

				if err := j.Range(
					ctx,
					wantLSN,
					func(_ context.Context, n logstore.LSN, e Entry) (bool, error) {
						if n != wantLSN {
							t.Fatalf("unexpected LSN: got %d, want %d", n, wantLSN)
						}

						got = append(got, e)
						wantLSN++

						return true, nil
					},
				); err != nil {
					t.Fatal(err)
				}

				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("it stops iterating if the function returns false", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				appendEntries(ctx, t, j, 2)

				called := false
				if err := j.Range(
					ctx,
					1,
					func(context.Context, logstore.LSN, Entry) (bool, error) {
						if called {
							return false, errors.New("unexpected call")
						}

						called = true
						return false, nil
					},
				); err != nil {
					t.Fatal(err)
				}
			})

			t.Run("it propagates errors returned by the function", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				appendEntries(ctx, t, j, 2)

				want := errors.New("<error>")
				err := j.Range(
					ctx,
					1,
					func(context.Context, logstore.LSN, Entry) (bool, error) {
						return true, want
					},
				)

				if !errors.Is(err, want) {
					t.Fatalf("unexpected error: got %v, want %v", err, want)
				}
			})

			t.Run("it returns a RecordNotFoundError if the journal is empty", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				err := j.Range(
					ctx,
					1,
					func(context.Context, logstore.LSN, Entry) (bool, error) {
						panic("unexpected call")
					},
				)

				if !IsNotFound(err) {
					t.Fatalf("unexpected error: got %v, want RecordNotFoundError", err)
				}
			})

			t.Run("it does not range over truncated entries", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				entries := appendEntries(ctx, t, j, 5)

				if err := j.Truncate(ctx, 4); err != nil {
					t.Fatal(err)
				}

				for i, want := range entries {
					n := logstore.LSN(i + 1)

					err := j.Range(
						ctx,
						n,
						func(_ context.Context, _ logstore.LSN, got Entry) (bool, error) {
							if n < 4 {
								panic("unexpected call")
							}
							if diff := cmp.Diff(want, got); diff != "" {
								return false, fmt.Errorf("unexpected entry at LSN %d:\n%s", n, diff)
							}
							return false, nil
						},
					)

					if n < 4 {
						if !IsNotFound(err) {
							t.Fatalf("unexpected error at LSN %d: got %v, want RecordNotFoundError", n, err)
						}
					} else if err != nil {
						t.Fatal(err)
					}
				}
			})
		})

		t.Run("Append", func(t *testing.T) {
			t.Parallel()

			t.Run("it does not return an error if there is no entry with the given LSN", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				if err := j.Append(ctx, 1, Entry{Payload: []byte("<payload>")}); err != nil {
					t.Fatal(err)
				}
			})

			t.Run("it returns ErrConflict if there is already an entry with the given LSN", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				appendEntries(ctx, t, j, 1)

				err := j.Append(ctx, 1, Entry{Payload: []byte("<payload>")})
				if !IsConflict(err) {
					t.Fatalf("unexpected error: got %v, want ErrConflict", err)
				}
			})

			t.Run("it returns ErrConflict if the LSN has been truncated", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				appendEntries(ctx, t, j, 3)

				if err := j.Truncate(ctx, 4); err != nil {
					t.Fatal(err)
				}

				err := j.Append(ctx, 2, Entry{Payload: []byte("<payload>")})
				if !IsConflict(err) {
					t.Fatalf("unexpected error: got %v, want ErrConflict", err)
				}
			})

			t.Run("it does not modify the entry when ErrConflict is returned", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				want := appendEntries(ctx, t, j, 1)[0]

				if err := j.Append(ctx, 1, Entry{Payload: []byte("<different>")}); !IsConflict(err) {
					t.Fatalf("unexpected error: got %v, want ErrConflict", err)
				}

				got, err := j.Get(ctx, 1)
				if err != nil {
					t.Fatal(err)
				}

				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("it allows only one of many concurrent appends to succeed", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				const attempts = 8

				var (
					succeeded atomic.Int32
					done      = make(chan error, attempts)
				)

				for i := range attempts {
					go func() {
						err := j.Append(ctx, 1, Entry{Payload: fmt.Appendf(nil, "<payload-%d>", i)})
						if err == nil {
							succeeded.Add(1)
						} else if IsConflict(err) {
							err = nil
						}
						done <- err
					}()
				}

				for range attempts {
					if err := <-done; err != nil {
						t.Fatal(err)
					}
				}

				if n := succeeded.Load(); n != 1 {
					t.Fatalf("unexpected number of successful appends: got %d, want 1", n)
				}
			})
		})

		t.Run("Truncate", func(t *testing.T) {
			t.Parallel()

			t.Run("it does not move the beginning of the journal backwards", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				appendEntries(ctx, t, j, 5)

				if err := j.Truncate(ctx, 4); err != nil {
					t.Fatal(err)
				}

				if err := j.Truncate(ctx, 2); err != nil {
					t.Fatal(err)
				}

				bounds, err := j.Bounds(ctx)
				if err != nil {
					t.Fatal(err)
				}

				if want := (Interval{4, 6}); bounds != want {
					t.Fatalf("unexpected bounds: got %s, want %s", bounds, want)
				}
			})

			t.Run("it allows appending after all entries are truncated", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t)

				appendEntries(ctx, t, j, 3)

				if err := j.Truncate(ctx, 4); err != nil {
					t.Fatal(err)
				}

				want := Entry{Payload: []byte("<payload>")}
				if err := j.Append(ctx, 4, want); err != nil {
					t.Fatal(err)
				}

				got, err := j.Get(ctx, 4)
				if err != nil {
					t.Fatal(err)
				}

				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatal(diff)
				}
			})
		})
	})
}

// appendEntries appends n entries to j, returning them in LSN order.
func appendEntries(
	ctx context.Context,
	t *testing.T,
	j Journal,
	n int,
) []Entry {
	t.Helper()

	bounds, err := j.Bounds(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var entries []Entry

	for i := range n {
		e := Entry{
			Timestamp: time.Now().UTC().Truncate(time.Microsecond),
			Key:       fmt.Sprintf("<key-%d>", i%3),
			Payload:   fmt.Appendf(nil, "<payload-%d>", i),
		}

		if err := j.Append(ctx, bounds.End+logstore.LSN(i), e); err != nil {
			t.Fatal(err)
		}

		entries = append(entries, e)
	}

	return entries
}

var logIDs atomic.Uint64

func init() {
	// Start from a random point so that tests that share durable storage do
	// not collide with logs left over from earlier runs.
	logIDs.Store(rand.Uint64() >> 16)
}

// uniqueLogID returns a log ID that has not been used by any other test.
func uniqueLogID() logstore.LogID {
	return logstore.LogID(logIDs.Add(1))
}
