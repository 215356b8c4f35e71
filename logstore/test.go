package logstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// RunTests runs tests that confirm a [Store] implementation behaves correctly.
//
// define is called to make a log available for appending and reading.
func RunTests(
	t *testing.T,
	store Store,
	define func(context.Context, LogID) error,
) {
	setup := func(t *testing.T) (context.Context, LogID) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)

		id := uniqueLogID()
		if err := define(ctx, id); err != nil {
			t.Fatal(err)
		}

		return ctx, id
	}

	openCursor := func(
		ctx context.Context,
		t *testing.T,
		opts CursorOptions,
	) Cursor {
		t.Helper()

		c, err := store.OpenCursor(ctx, opts)
		if err != nil {
			t.Fatal(err)
		}

		t.Cleanup(func() {
			if err := c.Close(); err != nil {
				t.Error(err)
			}
		})

		return c
	}

	t.Run("Append", func(t *testing.T) {
		t.Parallel()

		t.Run("it assigns strictly increasing LSNs without gaps", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)

			for i := range 10 {
				res, err := store.Append(ctx, id, []byte(fmt.Sprintf("<payload-%d>", i)), AppendAttributes{})
				if err != nil {
					t.Fatal(err)
				}

				if want := LSN(i + 1); res.LSN != want {
					t.Fatalf("unexpected LSN: got %s, want %s", res.LSN, want)
				}
			}
		})

		t.Run("it assigns a timestamp", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)

			before := time.Now().Add(-time.Second)
			res, err := store.Append(ctx, id, []byte("<payload>"), AppendAttributes{})
			if err != nil {
				t.Fatal(err)
			}
			after := time.Now().Add(time.Second)

			if res.Timestamp.Before(before) || res.Timestamp.After(after) {
				t.Fatalf("unexpected timestamp: %s", res.Timestamp)
			}
		})

		t.Run("it assigns distinct LSNs to concurrent appends", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)

			const count = 8
			results := make(chan LSN, count)
			errs := make(chan error, count)

			for i := range count {
				go func() {
					res, err := store.Append(ctx, id, []byte(fmt.Sprintf("<payload-%d>", i)), AppendAttributes{})
					if err != nil {
						errs <- err
						return
					}
					results <- res.LSN
				}()
			}

			seen := map[LSN]bool{}
			for range count {
				select {
				case err := <-errs:
					t.Fatal(err)
				case n := <-results:
					if seen[n] {
						t.Fatalf("LSN %s assigned more than once", n)
					}
					seen[n] = true
				}
			}

			for n := LSN(1); n <= count; n++ {
				if !seen[n] {
					t.Fatalf("LSN %s was never assigned", n)
				}
			}
		})

		t.Run("it returns an error if the log is not defined", func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := store.Append(ctx, uniqueLogID(), []byte("<payload>"), AppendAttributes{})
			if !errors.Is(err, AppendLogNotFound) {
				t.Fatalf("unexpected error: got %v, want %v", err, AppendLogNotFound)
			}
		})
	})

	t.Run("AppendBatch", func(t *testing.T) {
		t.Parallel()

		t.Run("it assigns consecutive LSNs", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)

			res, err := store.AppendBatch(
				ctx,
				id,
				[][]byte{[]byte("<a>"), []byte("<b>"), []byte("<c>")},
				AppendAttributes{},
			)
			if err != nil {
				t.Fatal(err)
			}

			var got []LSN
			for _, r := range res {
				got = append(got, r.LSN)
			}

			if diff := cmp.Diff([]LSN{1, 2, 3}, got); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it returns an error if the log is not defined", func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := store.AppendBatch(ctx, uniqueLogID(), [][]byte{[]byte("<a>")}, AppendAttributes{})
			if !errors.Is(err, AppendLogNotFound) {
				t.Fatalf("unexpected error: got %v, want %v", err, AppendLogNotFound)
			}

			if len(res) != 0 {
				t.Fatalf("did not expect any results, got %d", len(res))
			}
		})
	})

	t.Run("Cursor", func(t *testing.T) {
		t.Parallel()

		t.Run("it delivers the appended payloads in order", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)
			want := appendRecords(ctx, t, store, id, 10)

			c := openCursor(ctx, t, CursorOptions{})
			if err := c.StartReading(ctx, ReadRange{id, LSNOldest, LSNMax}); err != nil {
				t.Fatal(err)
			}

			got, gaps := pullRecords(ctx, t, c, len(want))
			if len(gaps) != 0 {
				t.Fatalf("unexpected gaps: %v", gaps)
			}

			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it treats LSNInvalid as LSNOldest", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)
			want := appendRecords(ctx, t, store, id, 3)

			c := openCursor(ctx, t, CursorOptions{})
			if err := c.StartReading(ctx, ReadRange{id, LSNInvalid, LSNMax}); err != nil {
				t.Fatal(err)
			}

			got, _ := pullRecords(ctx, t, c, len(want))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it delivers a single record when start == until", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)
			all := appendRecords(ctx, t, store, id, 5)

			c := openCursor(ctx, t, CursorOptions{})
			if err := c.StartReading(ctx, ReadRange{id, 3, 3}); err != nil {
				t.Fatal(err)
			}

			got, _ := pullRecords(ctx, t, c, 1)
			if diff := cmp.Diff(all[2:3], got); diff != "" {
				t.Fatal(diff)
			}

			b, err := c.Pull(ctx, 10)
			if err != nil {
				t.Fatal(err)
			}

			if !b.IsEmpty() {
				t.Fatalf("did not expect anything beyond the end of the range, got %+v", b)
			}
		})

		t.Run("it delivers records appended after reading starts", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)

			c := openCursor(ctx, t, CursorOptions{})
			if err := c.StartReading(ctx, ReadRange{id, LSNOldest, LSNMax}); err != nil {
				t.Fatal(err)
			}

			b, err := c.Pull(ctx, 10)
			if err != nil {
				t.Fatal(err)
			}
			if !b.IsEmpty() {
				t.Fatalf("did not expect any records, got %+v", b)
			}

			want := appendRecords(ctx, t, store, id, 2)

			got, _ := pullRecords(ctx, t, c, len(want))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it reports trimmed records as a TRIM gap", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)
			all := appendRecords(ctx, t, store, id, 10)

			if err := store.Trim(ctx, id, 4); err != nil {
				t.Fatal(err)
			}

			c := openCursor(ctx, t, CursorOptions{})
			if err := c.StartReading(ctx, ReadRange{id, LSNOldest, LSNMax}); err != nil {
				t.Fatal(err)
			}

			got, gaps := pullRecords(ctx, t, c, 6)

			if diff := cmp.Diff(
				[]Gap{{LogID: id, Low: 1, High: 4, Kind: GapTrim}},
				gaps,
			); diff != "" {
				t.Fatal(diff)
			}

			if diff := cmp.Diff(all[4:], got); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it reports filtered records as a FILTERED_OUT gap", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)

			var want []Record
			for i := range 6 {
				key := "<keep>"
				if i >= 1 && i <= 3 {
					key = "<skip>"
				}

				payload := []byte(fmt.Sprintf("<payload-%d>", i))
				res, err := store.Append(ctx, id, payload, AppendAttributes{Key: key})
				if err != nil {
					t.Fatal(err)
				}

				if key == "<keep>" {
					want = append(want, Record{
						LogID:     id,
						LSN:       res.LSN,
						Payload:   payload,
						Timestamp: res.Timestamp,
						Key:       key,
					})
				}
			}

			c := openCursor(ctx, t, CursorOptions{
				Filter: func(key string) bool {
					return key == "<keep>"
				},
			})
			if err := c.StartReading(ctx, ReadRange{id, LSNOldest, LSNMax}); err != nil {
				t.Fatal(err)
			}

			got, gaps := pullRecords(ctx, t, c, len(want))

			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatal(diff)
			}

			if diff := cmp.Diff(
				[]Gap{{LogID: id, Low: 2, High: 4, Kind: GapFilteredOut}},
				gaps,
			); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it reads from multiple logs", func(t *testing.T) {
			t.Parallel()

			ctx, id1 := setup(t)
			_, id2 := setup(t)

			want1 := appendRecords(ctx, t, store, id1, 5)
			want2 := appendRecords(ctx, t, store, id2, 5)

			c := openCursor(ctx, t, CursorOptions{MaxLogs: 2})
			if err := c.StartReading(ctx, ReadRange{id1, LSNOldest, LSNMax}); err != nil {
				t.Fatal(err)
			}
			if err := c.StartReading(ctx, ReadRange{id2, LSNOldest, LSNMax}); err != nil {
				t.Fatal(err)
			}

			got, _ := pullRecords(ctx, t, c, 10)

			byLog := map[LogID][]Record{}
			for _, rec := range got {
				byLog[rec.LogID] = append(byLog[rec.LogID], rec)
			}

			if diff := cmp.Diff(want1, byLog[id1]); diff != "" {
				t.Fatal(diff)
			}
			if diff := cmp.Diff(want2, byLog[id2]); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("StartReading", func(t *testing.T) {
			t.Parallel()

			cases := []struct {
				Desc   string
				Setup  func(context.Context, *testing.T, Cursor, LogID) ReadRange
				Reason StartReason
			}{
				{
					"it fails if the cursor is already reading from the log",
					func(ctx context.Context, t *testing.T, c Cursor, id LogID) ReadRange {
						r := ReadRange{id, LSNOldest, LSNMax}
						if err := c.StartReading(ctx, r); err != nil {
							t.Fatal(err)
						}
						return r
					},
					StartAlreadyStarted,
				},
				{
					"it fails if until is before start",
					func(context.Context, *testing.T, Cursor, LogID) ReadRange {
						return ReadRange{uniqueLogID(), 10, 5}
					},
					StartInvalidRange,
				},
				{
					"it fails if the log is not defined",
					func(context.Context, *testing.T, Cursor, LogID) ReadRange {
						return ReadRange{uniqueLogID(), LSNOldest, LSNMax}
					},
					StartLogNotFound,
				},
				{
					"it fails if the cursor is reading from the maximum number of logs",
					func(ctx context.Context, t *testing.T, c Cursor, id LogID) ReadRange {
						if err := c.StartReading(ctx, ReadRange{id, LSNOldest, LSNMax}); err != nil {
							t.Fatal(err)
						}

						other := uniqueLogID()
						if err := define(ctx, other); err != nil {
							t.Fatal(err)
						}

						return ReadRange{other, LSNOldest, LSNMax}
					},
					StartTooManyLogs,
				},
			}

			for _, c := range cases {
				t.Run(c.Desc, func(t *testing.T) {
					t.Parallel()

					ctx, id := setup(t)
					cur := openCursor(ctx, t, CursorOptions{MaxLogs: 1})

					r := c.Setup(ctx, t, cur, id)
					err := cur.StartReading(ctx, r)

					var startErr *StartError
					if !errors.As(err, &startErr) {
						t.Fatalf("expected a *StartError, got %v", err)
					}

					if !errors.Is(err, c.Reason) {
						t.Fatalf("unexpected reason: got %v, want %v", startErr.Reason, c.Reason)
					}
				})
			}
		})

		t.Run("StopReading", func(t *testing.T) {
			t.Parallel()

			t.Run("it is idempotent", func(t *testing.T) {
				t.Parallel()

				ctx, id := setup(t)
				c := openCursor(ctx, t, CursorOptions{})

				if err := c.StartReading(ctx, ReadRange{id, LSNOldest, LSNMax}); err != nil {
					t.Fatal(err)
				}

				for range 3 {
					if err := c.StopReading(ctx, id); err != nil {
						t.Fatal(err)
					}
				}
			})

			t.Run("it stops delivery of records from the log", func(t *testing.T) {
				t.Parallel()

				ctx, id := setup(t)
				appendRecords(ctx, t, store, id, 3)

				c := openCursor(ctx, t, CursorOptions{})
				if err := c.StartReading(ctx, ReadRange{id, LSNOldest, LSNMax}); err != nil {
					t.Fatal(err)
				}

				if err := c.StopReading(ctx, id); err != nil {
					t.Fatal(err)
				}

				b, err := c.Pull(ctx, 10)
				if err != nil {
					t.Fatal(err)
				}

				if !b.IsEmpty() {
					t.Fatalf("did not expect any records, got %+v", b)
				}
			})

			t.Run("it allows reading from the log to be restarted", func(t *testing.T) {
				t.Parallel()

				ctx, id := setup(t)
				all := appendRecords(ctx, t, store, id, 3)

				c := openCursor(ctx, t, CursorOptions{})
				if err := c.StartReading(ctx, ReadRange{id, LSNOldest, LSNMax}); err != nil {
					t.Fatal(err)
				}
				if err := c.StopReading(ctx, id); err != nil {
					t.Fatal(err)
				}
				if err := c.StartReading(ctx, ReadRange{id, 2, LSNMax}); err != nil {
					t.Fatal(err)
				}

				got, _ := pullRecords(ctx, t, c, 2)
				if diff := cmp.Diff(all[1:], got); diff != "" {
					t.Fatal(diff)
				}
			})
		})

		t.Run("Ready", func(t *testing.T) {
			t.Parallel()

			t.Run("it is closed after a record is appended", func(t *testing.T) {
				t.Parallel()

				ctx, id := setup(t)
				c := openCursor(ctx, t, CursorOptions{})

				if err := c.StartReading(ctx, ReadRange{id, LSNOldest, LSNMax}); err != nil {
					t.Fatal(err)
				}

				ready := c.Ready()
				appendRecords(ctx, t, store, id, 1)

				select {
				case <-ctx.Done():
					t.Fatal(ctx.Err())
				case <-ready:
				}
			})
		})
	})

	t.Run("Trim", func(t *testing.T) {
		t.Parallel()

		t.Run("it does not change the tail LSN", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)
			appendRecords(ctx, t, store, id, 5)

			if err := store.Trim(ctx, id, 5); err != nil {
				t.Fatal(err)
			}

			n, err := store.TailLSN(ctx, id)
			if err != nil {
				t.Fatal(err)
			}

			if n != 5 {
				t.Fatalf("unexpected tail LSN: got %s, want 5", n)
			}

			res, err := store.Append(ctx, id, []byte("<payload>"), AppendAttributes{})
			if err != nil {
				t.Fatal(err)
			}

			if res.LSN != 6 {
				t.Fatalf("unexpected LSN: got %s, want 6", res.LSN)
			}
		})

		t.Run("it accepts LSNs beyond the tail", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)
			appendRecords(ctx, t, store, id, 2)

			if err := store.Trim(ctx, id, LSNMax); err != nil {
				t.Fatal(err)
			}
		})

		t.Run("it returns an error if the log is not defined", func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := store.Trim(ctx, uniqueLogID(), 1)
			if !errors.Is(err, ErrLogNotFound) {
				t.Fatalf("unexpected error: got %v, want %v", err, ErrLogNotFound)
			}
		})
	})

	t.Run("TailLSN", func(t *testing.T) {
		t.Parallel()

		t.Run("it returns LSNInvalid if the log has never had any records", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)

			n, err := store.TailLSN(ctx, id)
			if err != nil {
				t.Fatal(err)
			}

			if n != LSNInvalid {
				t.Fatalf("unexpected tail LSN: got %s, want %s", n, LSNInvalid)
			}
		})

		t.Run("it returns the LSN of the last record", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)
			appendRecords(ctx, t, store, id, 7)

			n, err := store.TailLSN(ctx, id)
			if err != nil {
				t.Fatal(err)
			}

			if n != 7 {
				t.Fatalf("unexpected tail LSN: got %s, want 7", n)
			}
		})
	})

	t.Run("FindTime", func(t *testing.T) {
		t.Parallel()

		t.Run("it returns the first record at or after the given time", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)
			all := appendRecords(ctx, t, store, id, 10)

			for _, rec := range all {
				n, err := store.FindTime(ctx, id, rec.Timestamp)
				if err != nil {
					t.Fatal(err)
				}

				// Records may share a timestamp, so the result may be an
				// earlier record with the same time.
				if n > rec.LSN || !all[n-1].Timestamp.Equal(rec.Timestamp) {
					t.Fatalf("unexpected LSN for %s: got %s, want %s", rec.Timestamp, n, rec.LSN)
				}
			}
		})

		t.Run("it returns the next LSN if all records are older", func(t *testing.T) {
			t.Parallel()

			ctx, id := setup(t)
			appendRecords(ctx, t, store, id, 3)

			n, err := store.FindTime(ctx, id, time.Now().Add(time.Hour))
			if err != nil {
				t.Fatal(err)
			}

			if n != 4 {
				t.Fatalf("unexpected LSN: got %s, want 4", n)
			}
		})
	})
}

// appendRecords appends n records to the log and returns them as they are
// expected to be delivered.
func appendRecords(
	ctx context.Context,
	t *testing.T,
	s Store,
	id LogID,
	n int,
) []Record {
	t.Helper()

	var records []Record

	for i := range n {
		payload := []byte(fmt.Sprintf("<payload-%d>", i))
		key := fmt.Sprintf("<key-%d>", i%3)

		res, err := s.Append(ctx, id, payload, AppendAttributes{Key: key})
		if err != nil {
			t.Fatal(err)
		}

		records = append(records, Record{
			LogID:     id,
			LSN:       res.LSN,
			Payload:   payload,
			Timestamp: res.Timestamp,
			Key:       key,
		})
	}

	return records
}

// pullRecords pulls from c until n records have been delivered.
func pullRecords(
	ctx context.Context,
	t *testing.T,
	c Cursor,
	n int,
) ([]Record, []Gap) {
	t.Helper()

	var (
		records []Record
		gaps    []Gap
	)

	for len(records) < n {
		ready := c.Ready()

		b, err := c.Pull(ctx, n-len(records))
		if err != nil {
			t.Fatal(err)
		}

		records = append(records, b.Records...)
		if b.Gap != nil {
			gaps = append(gaps, *b.Gap)
		}

		if b.IsEmpty() {
			select {
			case <-ctx.Done():
				t.Fatalf("timed out after %d of %d records: %s", len(records), n, ctx.Err())
			case <-ready:
			}
		}
	}

	return records, gaps
}

var logIDs atomic.Uint64

func init() {
	logIDs.Store(rand.Uint64() >> 16)
}

func uniqueLogID() LogID {
	return LogID(logIDs.Add(1))
}
