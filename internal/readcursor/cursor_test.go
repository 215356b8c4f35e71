package readcursor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	. "github.com/dogmatiq/logkit/internal/readcursor"
	"github.com/dogmatiq/logkit/internal/telemetry"
	"github.com/dogmatiq/logkit/logstore"
	"github.com/google/go-cmp/cmp"
	nooplog "go.opentelemetry.io/otel/log/noop"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"pgregory.net/rapid"
)

func TestCursor(t *testing.T) {
	t.Parallel()

	t.Run("it delivers records and gaps from the underlying cursor", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{Records: records(7, 100, 101)},
				{Gap: &logstore.Gap{LogID: 7, Low: 102, High: 105, Kind: logstore.GapDataLoss}},
				{Records: records(7, 110)},
			},
		}

		c := newCursor(script, 0)
		start(t, c, 7, 100, 120)

		want := []string{
			"record 7@100",
			"record 7@101",
			"DATALOSS gap in log 7 [102, 105]",
			"OTHER gap in log 7 [106, 109]",
			"record 7@110",
		}

		if diff := cmp.Diff(want, drain(t, c)); diff != "" {
			t.Fatal(diff)
		}

		if c.Exhausted() {
			t.Fatal("did not expect the cursor to be exhausted")
		}
	})

	t.Run("it delivers a single record when start == until", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{Records: records(1, 5, 6, 7)},
			},
		}

		c := newCursor(script, 0)
		start(t, c, 1, 5, 5)

		if diff := cmp.Diff([]string{"record 1@5"}, drain(t, c)); diff != "" {
			t.Fatal(diff)
		}

		if got := c.State(1); got != Exhausted {
			t.Fatalf("unexpected state: got %s, want %s", got, Exhausted)
		}

		if !c.Exhausted() {
			t.Fatal("expected the cursor to be exhausted")
		}

		if diff := cmp.Diff([]logstore.LogID{1}, script.Stopped); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it drops duplicate records", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{Records: records(1, 1, 2)},
				{Records: records(1, 2, 2, 3)},
			},
		}

		c := newCursor(script, 0)
		start(t, c, 1, 1, logstore.LSNMax)

		want := []string{
			"record 1@1",
			"record 1@2",
			"record 1@3",
		}

		if diff := cmp.Diff(want, drain(t, c)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it clips gaps that overlap delivered records", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{Records: records(1, 1, 2, 3)},
				{Gap: &logstore.Gap{LogID: 1, Low: 2, High: 6, Kind: logstore.GapTrim}},
				{Gap: &logstore.Gap{LogID: 1, Low: 4, High: 5, Kind: logstore.GapTrim}},
			},
		}

		c := newCursor(script, 0)
		start(t, c, 1, 1, logstore.LSNMax)

		want := []string{
			"record 1@1",
			"record 1@2",
			"record 1@3",
			"TRIM gap in log 1 [4, 6]",
		}

		if diff := cmp.Diff(want, drain(t, c)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it clips gaps that extend beyond the end of the range", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{Gap: &logstore.Gap{LogID: 1, Low: 1, High: 100, Kind: logstore.GapTrim}},
			},
		}

		c := newCursor(script, 0)
		start(t, c, 1, 1, 10)

		if diff := cmp.Diff([]string{"TRIM gap in log 1 [1, 10]"}, drain(t, c)); diff != "" {
			t.Fatal(diff)
		}

		if !c.Exhausted() {
			t.Fatal("expected the cursor to be exhausted")
		}
	})

	t.Run("it reports a hole before a gap", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{Gap: &logstore.Gap{LogID: 1, Low: 4, High: 6, Kind: logstore.GapAccessDenied}},
			},
		}

		c := newCursor(script, 0)
		start(t, c, 1, 1, logstore.LSNMax)

		if diff := cmp.Diff(
			[]string{"OTHER gap in log 1 [1, 3]"},
			pull(t, c, 10),
		); diff != "" {
			t.Fatal(diff)
		}

		if got := c.State(1); got != GapPending {
			t.Fatalf("unexpected state: got %s, want %s", got, GapPending)
		}

		if diff := cmp.Diff(
			[]string{"ACCESS_DENIED gap in log 1 [4, 6]"},
			pull(t, c, 10),
		); diff != "" {
			t.Fatal(diff)
		}

		if got := c.State(1); got != Reading {
			t.Fatalf("unexpected state: got %s, want %s", got, Reading)
		}
	})

	t.Run("it reports records beyond the end of the range as a gap", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{Records: records(1, 1, 2, 20)},
			},
		}

		c := newCursor(script, 0)
		start(t, c, 1, 1, 10)

		want := []string{
			"record 1@1",
			"record 1@2",
			"OTHER gap in log 1 [3, 10]",
		}

		if diff := cmp.Diff(want, drain(t, c)); diff != "" {
			t.Fatal(diff)
		}

		if !c.Exhausted() {
			t.Fatal("expected the cursor to be exhausted")
		}
	})

	t.Run("it respects the maximum number of records", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{
					Records: records(1, 1, 2, 3),
					Gap:     &logstore.Gap{LogID: 1, Low: 4, High: 4, Kind: logstore.GapTrim},
				},
			},
		}

		c := newCursor(script, 0)
		start(t, c, 1, 1, logstore.LSNMax)

		if diff := cmp.Diff([]string{"record 1@1", "record 1@2"}, pull(t, c, 2)); diff != "" {
			t.Fatal(diff)
		}

		if diff := cmp.Diff([]string{"record 1@3", "TRIM gap in log 1 [4, 4]"}, pull(t, c, 2)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it reports that it is ready while holding records", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{Records: records(1, 1, 2)},
			},
		}

		c := newCursor(script, 0)
		start(t, c, 1, 1, logstore.LSNMax)
		pull(t, c, 1)

		select {
		case <-c.Ready():
		default:
			t.Fatal("expected the cursor to be ready")
		}
	})

	t.Run("it remains ready when a pull gives up on discarded batches", func(t *testing.T) {
		t.Parallel()

		script := &scriptedCursor{
			Batches: []logstore.Batch{
				{Records: records(1, 1)},
			},
		}

		for range 10 {
			script.Batches = append(
				script.Batches,
				logstore.Batch{Records: records(1, 1)},
			)
		}

		script.Batches = append(
			script.Batches,
			logstore.Batch{Records: records(1, 2)},
		)

		c := newCursor(script, 0)
		start(t, c, 1, 1, logstore.LSNMax)

		if diff := cmp.Diff([]string{"record 1@1"}, pull(t, c, 100)); diff != "" {
			t.Fatal(diff)
		}

		if e := pull(t, c, 100); len(e) != 0 {
			t.Fatalf("expected an empty pull, got %v", e)
		}

		select {
		case <-c.Ready():
		default:
			t.Fatal("expected the cursor to be ready")
		}

		if diff := cmp.Diff([]string{"record 1@2"}, pull(t, c, 100)); diff != "" {
			t.Fatal(diff)
		}

		if e := pull(t, c, 100); len(e) != 0 {
			t.Fatalf("expected an empty pull, got %v", e)
		}

		select {
		case <-c.Ready():
			t.Fatal("did not expect the cursor to be ready")
		default:
		}
	})

	t.Run("Start", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			Desc   string
			Setup  func(*testing.T, *Cursor)
			Range  logstore.ReadRange
			Reason logstore.StartReason
		}{
			{
				"it fails if the cursor is already reading from the log",
				func(t *testing.T, c *Cursor) { start(t, c, 1, 1, 10) },
				logstore.ReadRange{LogID: 1, Start: 1, Until: 10},
				logstore.StartAlreadyStarted,
			},
			{
				"it fails if until is before start",
				func(*testing.T, *Cursor) {},
				logstore.ReadRange{LogID: 1, Start: 10, Until: 9},
				logstore.StartInvalidRange,
			},
			{
				"it fails if the cursor is reading from the maximum number of logs",
				func(t *testing.T, c *Cursor) { start(t, c, 1, 1, 10) },
				logstore.ReadRange{LogID: 2, Start: 1, Until: 10},
				logstore.StartTooManyLogs,
			},
		}

		for _, x := range cases {
			t.Run(x.Desc, func(t *testing.T) {
				t.Parallel()

				c := newCursor(&scriptedCursor{}, 1)
				x.Setup(t, c)

				err := c.Start(t.Context(), x.Range)
				if !errors.Is(err, x.Reason) {
					t.Fatalf("unexpected error: got %v, want %v", err, x.Reason)
				}
			})
		}

		t.Run("it treats LSNInvalid as LSNOldest", func(t *testing.T) {
			t.Parallel()

			script := &scriptedCursor{}
			c := newCursor(script, 0)
			start(t, c, 1, logstore.LSNInvalid, logstore.LSNMax)

			if got := script.Started[0].Start; got != logstore.LSNOldest {
				t.Fatalf("unexpected start: got %s, want %s", got, logstore.LSNOldest)
			}
		})

		t.Run("it propagates errors from the underlying cursor", func(t *testing.T) {
			t.Parallel()

			want := errors.New("<error>")
			c := newCursor(&scriptedCursor{StartErr: want}, 0)

			err := c.Start(t.Context(), logstore.ReadRange{LogID: 1, Start: 1, Until: 10})
			if !errors.Is(err, want) {
				t.Fatalf("unexpected error: got %v, want %v", err, want)
			}

			var startErr *logstore.StartError
			if !errors.As(err, &startErr) {
				t.Fatalf("expected a *StartError, got %T", err)
			}
		})

		t.Run("it allows an exhausted log to be restarted", func(t *testing.T) {
			t.Parallel()

			script := &scriptedCursor{
				Batches: []logstore.Batch{
					{Records: records(1, 1)},
				},
			}

			c := newCursor(script, 1)
			start(t, c, 1, 1, 1)
			drain(t, c)

			start(t, c, 1, 1, 1)
		})
	})

	t.Run("Stop", func(t *testing.T) {
		t.Parallel()

		t.Run("it is idempotent", func(t *testing.T) {
			t.Parallel()

			script := &scriptedCursor{}
			c := newCursor(script, 0)
			start(t, c, 1, 1, logstore.LSNMax)

			for range 3 {
				if err := c.Stop(t.Context(), 1); err != nil {
					t.Fatal(err)
				}
			}

			if diff := cmp.Diff([]logstore.LogID{1}, script.Stopped); diff != "" {
				t.Fatal(diff)
			}

			if got := c.State(1); got != Unstarted {
				t.Fatalf("unexpected state: got %s, want %s", got, Unstarted)
			}
		})

		t.Run("it discards held records", func(t *testing.T) {
			t.Parallel()

			script := &scriptedCursor{
				Batches: []logstore.Batch{
					{Records: append(records(1, 1, 2), records(2, 1, 2)...)},
				},
			}

			c := newCursor(script, 0)
			start(t, c, 1, 1, logstore.LSNMax)
			start(t, c, 2, 1, logstore.LSNMax)

			if diff := cmp.Diff([]string{"record 1@1"}, pull(t, c, 1)); diff != "" {
				t.Fatal(diff)
			}

			if err := c.Stop(t.Context(), 1); err != nil {
				t.Fatal(err)
			}

			want := []string{
				"record 2@1",
				"record 2@2",
			}

			if diff := cmp.Diff(want, drain(t, c)); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("it accounts for every LSN in the range exactly once", func(t *testing.T) {
		t.Parallel()

		rapid.Check(t, func(t *rapid.T) {
			const id = 1

			lsn := rapid.Custom(func(t *rapid.T) logstore.LSN {
				return logstore.LSN(rapid.Uint64Range(1, 40).Draw(t, "lsn"))
			})

			startLSN := lsn.Draw(t, "start")
			until := rapid.OneOf(
				rapid.Just(logstore.LSNMax),
				rapid.Custom(func(t *rapid.T) logstore.LSN {
					return startLSN + logstore.LSN(rapid.Uint64Range(0, 30).Draw(t, "length"))
				}),
			).Draw(t, "until")

			var batches []logstore.Batch
			for range rapid.IntRange(0, 20).Draw(t, "batches") {
				var b logstore.Batch

				for _, n := range rapid.SliceOfN(lsn, 0, 5).Draw(t, "records") {
					b.Records = append(b.Records, logstore.Record{LogID: id, LSN: n})
				}

				if rapid.Bool().Draw(t, "has gap") {
					low := lsn.Draw(t, "gap low")
					high := low + logstore.LSN(rapid.Uint64Range(0, 10).Draw(t, "gap length"))
					b.Gap = &logstore.Gap{LogID: id, Low: low, High: high, Kind: logstore.GapDataLoss}
				}

				batches = append(batches, b)
			}

			ctx := context.Background()
			c := newCursor(&scriptedCursor{Batches: batches}, 0)

			if err := c.Start(ctx, logstore.ReadRange{LogID: id, Start: startLSN, Until: until}); err != nil {
				t.Fatal(err)
			}

			next := startLSN
			exhausted := false

			accept := func(low, high logstore.LSN) {
				if exhausted {
					t.Fatalf("delivered [%s, %s] after the range was exhausted", low, high)
				}

				if low != next {
					t.Fatalf("expected delivery to begin at %s, got [%s, %s]", next, low, high)
				}

				if high < low || high > until {
					t.Fatalf("delivered invalid range [%s, %s] (until %s)", low, high, until)
				}

				if high == until {
					exhausted = true
				} else {
					next = high + 1
				}
			}

			for range len(batches) * 10 {
				b, err := c.Pull(ctx, rapid.IntRange(1, 5).Draw(t, "max"))
				if err != nil {
					t.Fatal(err)
				}

				for _, rec := range b.Records {
					accept(rec.LSN, rec.LSN)
				}

				if b.Gap != nil {
					accept(b.Gap.Low, b.Gap.High)
				}
			}

			if exhausted != c.Exhausted() {
				t.Fatalf("unexpected exhaustion: got %t, want %t", c.Exhausted(), exhausted)
			}
		})
	})
}

func newCursor(next logstore.Cursor, maxLogs int) *Cursor {
	p := telemetry.Provider{
		TracerProvider: nooptrace.NewTracerProvider(),
		MeterProvider:  noopmetric.NewMeterProvider(),
		LoggerProvider: nooplog.NewLoggerProvider(),
	}

	return New(
		next,
		maxLogs,
		p.Recorder("github.com/dogmatiq/logkit", "reader"),
	)
}

func start(t *testing.T, c *Cursor, id logstore.LogID, begin, until logstore.LSN) {
	t.Helper()

	if err := c.Start(
		t.Context(),
		logstore.ReadRange{LogID: id, Start: begin, Until: until},
	); err != nil {
		t.Fatal(err)
	}
}

func records(id logstore.LogID, lsns ...logstore.LSN) []logstore.Record {
	var records []logstore.Record
	for _, n := range lsns {
		records = append(records, logstore.Record{LogID: id, LSN: n})
	}
	return records
}

// pull performs a single pull and describes what it returned.
func pull(t *testing.T, c *Cursor, max int) []string {
	t.Helper()

	b, err := c.Pull(t.Context(), max)
	if err != nil {
		t.Fatal(err)
	}

	var events []string

	for _, rec := range b.Records {
		events = append(events, fmt.Sprintf("record %s@%s", rec.LogID, rec.LSN))
	}

	if b.Gap != nil {
		events = append(events, b.Gap.String())
	}

	return events
}

// drain pulls until the cursor returns nothing.
func drain(t *testing.T, c *Cursor) []string {
	t.Helper()

	var events []string

	for {
		e := pull(t, c, 100)
		if len(e) == 0 {
			return events
		}
		events = append(events, e...)
	}
}

// scriptedCursor is a [logstore.Cursor] that returns a predetermined sequence
// of batches.
type scriptedCursor struct {
	Batches  []logstore.Batch
	StartErr error
	Started  []logstore.ReadRange
	Stopped  []logstore.LogID
}

func (c *scriptedCursor) StartReading(_ context.Context, r logstore.ReadRange) error {
	if c.StartErr != nil {
		return c.StartErr
	}
	c.Started = append(c.Started, r)
	return nil
}

func (c *scriptedCursor) StopReading(_ context.Context, id logstore.LogID) error {
	c.Stopped = append(c.Stopped, id)
	return nil
}

func (c *scriptedCursor) Pull(context.Context, int) (logstore.Batch, error) {
	if len(c.Batches) == 0 {
		return logstore.Batch{}, nil
	}

	b := c.Batches[0]
	c.Batches = c.Batches[1:]

	return b, nil
}

func (c *scriptedCursor) Ready() <-chan struct{} {
	return make(chan struct{})
}

func (c *scriptedCursor) Close() error {
	return nil
}
