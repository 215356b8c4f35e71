package logkit_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/dogmatiq/logkit"
	"github.com/dogmatiq/logkit/logstore"
)

func TestReader(t *testing.T) {
	t.Parallel()

	t.Run("Read", func(t *testing.T) {
		t.Parallel()

		t.Run("it delivers records in order then ends the stream", func(t *testing.T) {
			t.Parallel()

			ctx, client, env := setup(t)
			env.Define(t, 1)
			appendRecords(t, ctx, client, 1, 5)

			r := newReader(t, ctx, client, 1)

			if err := r.StartReading(ctx, 1, 2, 4); err != nil {
				t.Fatal(err)
			}

			expectEvents(
				t,
				drain(t, ctx, r),
				[]string{"record 2", "record 3", "record 4"},
			)
		})

		t.Run("it delivers exactly one record when start and until are equal", func(t *testing.T) {
			t.Parallel()

			ctx, client, env := setup(t)
			env.Define(t, 1)
			appendRecords(t, ctx, client, 1, 5)

			r := newReader(t, ctx, client, 1)

			if err := r.StartReading(ctx, 1, 3, 3); err != nil {
				t.Fatal(err)
			}

			expectEvents(
				t,
				drain(t, ctx, r),
				[]string{"record 3"},
			)
		})

		t.Run("it returns at most max records", func(t *testing.T) {
			t.Parallel()

			ctx, client, env := setup(t)
			env.Define(t, 1)
			appendRecords(t, ctx, client, 1, 10)

			r := newReader(t, ctx, client, 1)

			if err := r.StartReading(ctx, 1, logstore.LSNOldest, 10); err != nil {
				t.Fatal(err)
			}

			records, _, err := r.Read(ctx, 3)
			if err != nil {
				t.Fatal(err)
			}

			if len(records) != 3 {
				t.Fatalf("unexpected number of records: got %d, want 3", len(records))
			}
		})

		t.Run("it reports lost records as a data loss gap", func(t *testing.T) {
			t.Parallel()

			ctx, client, env := setup(t)
			env.Define(t, 1)
			appendRecords(t, ctx, client, 1, 6)
			env.Memory.Lose(1, 3, 5)

			r := newReader(t, ctx, client, 1)

			if err := r.StartReading(ctx, 1, logstore.LSNOldest, 6); err != nil {
				t.Fatal(err)
			}

			if r.HasDataLoss() {
				t.Fatal("did not expect data loss before reading")
			}

			expectEvents(
				t,
				drain(t, ctx, r),
				[]string{
					"record 1",
					"record 2",
					"DATALOSS gap in log 1 [3, 5]",
					"record 6",
				},
			)

			if !r.HasDataLoss() {
				t.Fatal("expected data loss to be reported")
			}
		})

		t.Run("it reports records excluded by the filter as a gap", func(t *testing.T) {
			t.Parallel()

			ctx, client, env := setup(t)
			env.Define(t, 1)
			appendRecords(t, ctx, client, 1, 1, WithKey("<keep>"))
			appendRecords(t, ctx, client, 1, 2, WithKey("<skip>"))
			appendRecords(t, ctx, client, 1, 1, WithKey("<keep>"))

			r := newReader(
				t, ctx, client, 1,
				WithFilter(func(key string) bool {
					return key == "<keep>"
				}),
			)

			if err := r.StartReading(ctx, 1, logstore.LSNOldest, 4); err != nil {
				t.Fatal(err)
			}

			expectEvents(
				t,
				drain(t, ctx, r),
				[]string{
					"record 1",
					"FILTERED_OUT gap in log 1 [2, 3]",
					"record 4",
				},
			)

			if r.HasDataLoss() {
				t.Fatal("did not expect a filtered gap to be reported as data loss")
			}
		})

		t.Run("it returns end of stream when not reading from any logs", func(t *testing.T) {
			t.Parallel()

			ctx, client, _ := setup(t)
			r := newReader(t, ctx, client, 0)

			if _, _, err := r.Read(ctx, 1); !errors.Is(err, ErrEndOfStream) {
				t.Fatalf("unexpected error: got %v, want %v", err, ErrEndOfStream)
			}
		})

		t.Run("it returns nothing when the timeout elapses", func(t *testing.T) {
			t.Parallel()

			ctx, client, env := setup(t)
			env.Define(t, 1)

			r := newReader(
				t, ctx, client, 1,
				WithTimeout(20*time.Millisecond),
				WithPollInterval(5*time.Millisecond),
			)

			if err := r.StartReading(ctx, 1, logstore.LSNOldest, logstore.LSNMax); err != nil {
				t.Fatal(err)
			}

			records, gap, err := r.Read(ctx, 1)
			if err != nil {
				t.Fatal(err)
			}

			if len(records) != 0 || gap != nil {
				t.Fatalf("unexpected result: %v, %v", records, gap)
			}
		})

		t.Run("it returns an error if the context is canceled", func(t *testing.T) {
			t.Parallel()

			_, client, env := setup(t)
			env.Define(t, 1)

			ctx, cancel := context.WithCancel(context.Background())
			r := newReader(t, ctx, client, 1)

			if err := r.StartReading(ctx, 1, logstore.LSNOldest, logstore.LSNMax); err != nil {
				t.Fatal(err)
			}

			cancel()

			if _, _, err := r.Read(ctx, 1); !errors.Is(err, context.Canceled) {
				t.Fatalf("unexpected error: got %v, want %v", err, context.Canceled)
			}
		})

		cases := []struct {
			Desc    string
			Options []ReaderOption
		}{
			{
				Desc:    "polling",
				Options: []ReaderOption{WithPollInterval(5 * time.Millisecond)},
			},
			{
				Desc:    "waiting only when there is no data",
				Options: []ReaderOption{WithWaitOnlyWhenNoData()},
			},
		}

		for _, c := range cases {
			t.Run("it waits for new records when "+c.Desc, func(t *testing.T) {
				t.Parallel()

				ctx, client, env := setup(t)
				env.Define(t, 1)

				r := newReader(t, ctx, client, 1, c.Options...)

				if err := r.StartReading(ctx, 1, logstore.LSNOldest, logstore.LSNMax); err != nil {
					t.Fatal(err)
				}

				go func() {
					time.Sleep(20 * time.Millisecond)
					client.Append(ctx, 1, []byte("<payload>"))
				}()

				records, gap, err := r.Read(ctx, 10)
				if err != nil {
					t.Fatal(err)
				}

				if gap != nil || len(records) != 1 || records[0].LSN != 1 {
					t.Fatalf("unexpected result: %v, %v", records, gap)
				}
			})
		}
	})

	t.Run("StartReading", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			Desc   string
			Start  logstore.LSN
			Until  logstore.LSN
			Setup  func(context.Context, *Reader) error
			Reason logstore.StartReason
		}{
			{
				Desc:   "it fails if the log is already being read",
				Start:  1,
				Until:  logstore.LSNMax,
				Setup:  func(ctx context.Context, r *Reader) error { return r.StartReading(ctx, 1, 1, logstore.LSNMax) },
				Reason: logstore.StartAlreadyStarted,
			},
			{
				Desc:   "it fails if until is before start",
				Start:  5,
				Until:  4,
				Reason: logstore.StartInvalidRange,
			},
			{
				Desc:   "it fails if the reader is at capacity",
				Start:  1,
				Until:  logstore.LSNMax,
				Setup:  func(ctx context.Context, r *Reader) error { return r.StartReading(ctx, 2, 1, logstore.LSNMax) },
				Reason: logstore.StartTooManyLogs,
			},
		}

		for _, c := range cases {
			t.Run(c.Desc, func(t *testing.T) {
				t.Parallel()

				ctx, client, env := setup(t)
				env.Define(t, 1, 2)

				r := newReader(t, ctx, client, 1)

				if c.Setup != nil {
					if err := c.Setup(ctx, r); err != nil {
						t.Fatal(err)
					}
				}

				err := r.StartReading(ctx, 1, c.Start, c.Until)
				if !errors.Is(err, c.Reason) {
					t.Fatalf("unexpected error: got %v, want %v", err, c.Reason)
				}

				var e *logstore.StartError
				if !errors.As(err, &e) {
					t.Fatalf("unexpected error type: %T", err)
				}
			})
		}

		t.Run("it fails if the log is not defined", func(t *testing.T) {
			t.Parallel()

			ctx, client, _ := setup(t)
			r := newReader(t, ctx, client, 1)

			err := r.StartReading(ctx, 1, 1, logstore.LSNMax)
			if !errors.Is(err, logstore.StartLogNotFound) {
				t.Fatalf("unexpected error: got %v, want %v", err, logstore.StartLogNotFound)
			}
		})
	})

	t.Run("StopReading", func(t *testing.T) {
		t.Parallel()

		t.Run("it stops delivery from the log", func(t *testing.T) {
			t.Parallel()

			ctx, client, env := setup(t)
			env.Define(t, 1)
			appendRecords(t, ctx, client, 1, 5)

			r := newReader(t, ctx, client, 1)

			if err := r.StartReading(ctx, 1, logstore.LSNOldest, logstore.LSNMax); err != nil {
				t.Fatal(err)
			}

			if _, _, err := r.Read(ctx, 2); err != nil {
				t.Fatal(err)
			}

			for range 2 {
				if err := r.StopReading(ctx, 1); err != nil {
					t.Fatal(err)
				}
			}

			if _, _, err := r.Read(ctx, 10); !errors.Is(err, ErrEndOfStream) {
				t.Fatalf("unexpected error: got %v, want %v", err, ErrEndOfStream)
			}
		})

		t.Run("it is a no-op if the log is not being read", func(t *testing.T) {
			t.Parallel()

			ctx, client, _ := setup(t)
			r := newReader(t, ctx, client, 1)

			if err := r.StopReading(ctx, 1); err != nil {
				t.Fatal(err)
			}
		})
	})

	t.Run("it reads from multiple logs", func(t *testing.T) {
		t.Parallel()

		ctx, client, env := setup(t)
		env.Define(t, 1, 2)
		appendRecords(t, ctx, client, 1, 3)
		appendRecords(t, ctx, client, 2, 3)

		r := newReader(t, ctx, client, 2, WithBufferSize(1))

		for _, id := range []logstore.LogID{1, 2} {
			if err := r.StartReading(ctx, id, logstore.LSNOldest, 3); err != nil {
				t.Fatal(err)
			}
		}

		next := map[logstore.LogID]logstore.LSN{1: 1, 2: 1}

		for {
			records, gap, err := r.Read(ctx, 10)
			if errors.Is(err, ErrEndOfStream) {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			if gap != nil {
				t.Fatalf("unexpected gap: %s", gap)
			}

			for _, rec := range records {
				if rec.LSN != next[rec.LogID] {
					t.Fatalf("unexpected LSN in log %s: got %s, want %s", rec.LogID, rec.LSN, next[rec.LogID])
				}
				next[rec.LogID]++
			}
		}

		if next[1] != 4 || next[2] != 4 {
			t.Fatalf("not every record was delivered: %v", next)
		}
	})

	t.Run("Close", func(t *testing.T) {
		t.Parallel()

		t.Run("it can be called more than once", func(t *testing.T) {
			t.Parallel()

			ctx, client, _ := setup(t)

			r, err := client.NewReader(ctx, 1)
			if err != nil {
				t.Fatal(err)
			}

			for range 2 {
				if err := r.Close(); err != nil {
					t.Fatal(err)
				}
			}
		})
	})
}

func newReader(
	t *testing.T,
	ctx context.Context,
	client *Client,
	maxLogs int,
	options ...ReaderOption,
) *Reader {
	t.Helper()

	r, err := client.NewReader(ctx, maxLogs, options...)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		r.Close()
	})

	return r
}

// drain reads from r until the end of the stream, returning a description of
// each record and gap.
func drain(t *testing.T, ctx context.Context, r *Reader) []string {
	t.Helper()

	var events []string

	for {
		records, gap, err := r.Read(ctx, 100)
		if errors.Is(err, ErrEndOfStream) {
			return events
		}
		if err != nil {
			t.Fatal(err)
		}

		for _, rec := range records {
			events = append(events, fmt.Sprintf("record %d", rec.LSN))
		}

		if gap != nil {
			events = append(events, gap.String())
		}
	}
}
