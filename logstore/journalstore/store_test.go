package journalstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dogmatiq/logkit/driver/memory/memoryjournal"
	"github.com/dogmatiq/logkit/internal/telemetry"
	"github.com/dogmatiq/logkit/internal/x/xtesting"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
	. "github.com/dogmatiq/logkit/logstore/journalstore"
	"github.com/google/go-cmp/cmp"
	nooplog "go.opentelemetry.io/otel/log/noop"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

func TestStore(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()

		store := New(&memoryjournal.Store{})
		t.Cleanup(func() { store.Close() })

		logstore.RunTests(t, store, define(store))
	})

	t.Run("with telemetry", func(t *testing.T) {
		t.Parallel()

		p := telemetry.Provider{
			TracerProvider: nooptrace.NewTracerProvider(),
			MeterProvider:  noopmetric.NewMeterProvider(),
			LoggerProvider: nooplog.NewLoggerProvider(),
		}

		store := New(journal.WithTelemetry(&memoryjournal.Store{}, p))
		t.Cleanup(func() { store.Close() })

		logstore.RunTests(
			t,
			logstore.WithTelemetry(store, p),
			define(store),
		)
	})
}

func TestStore_Append(t *testing.T) {
	t.Parallel()

	t.Run("it rejects payloads larger than the store's limit", func(t *testing.T) {
		t.Parallel()

		ctx := xtesting.Context(t, 5*time.Second)
		store := New(&memoryjournal.Store{}, WithMaxPayloadSize(4))

		if err := store.DefineLog(ctx, 1, journal.Config{}); err != nil {
			t.Fatal(err)
		}

		if _, err := store.Append(ctx, 1, []byte("1234"), logstore.AppendAttributes{}); err != nil {
			t.Fatal(err)
		}

		_, err := store.Append(ctx, 1, []byte("12345"), logstore.AppendAttributes{})
		if !errors.Is(err, logstore.AppendPayloadTooLarge) {
			t.Fatalf("unexpected error: got %v, want %v", err, logstore.AppendPayloadTooLarge)
		}
	})

	t.Run("it prefers the log's own payload size limit", func(t *testing.T) {
		t.Parallel()

		ctx := xtesting.Context(t, 5*time.Second)
		store := New(&memoryjournal.Store{}, WithMaxPayloadSize(4))

		if err := store.DefineLog(ctx, 1, journal.Config{MaxPayloadSize: 8}); err != nil {
			t.Fatal(err)
		}

		if _, err := store.Append(ctx, 1, []byte("12345678"), logstore.AppendAttributes{}); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("it uses the clock to assign timestamps", func(t *testing.T) {
		t.Parallel()

		ctx := xtesting.Context(t, 5*time.Second)
		now := time.Date(2024, 1, 2, 3, 4, 5, 6789, time.UTC)
		store := New(
			&memoryjournal.Store{},
			WithClock(func() time.Time { return now }),
		)

		if err := store.DefineLog(ctx, 1, journal.Config{}); err != nil {
			t.Fatal(err)
		}

		res, err := store.Append(ctx, 1, []byte("<payload>"), logstore.AppendAttributes{})
		if err != nil {
			t.Fatal(err)
		}

		if want := now.Truncate(time.Microsecond); !res.Timestamp.Equal(want) {
			t.Fatalf("unexpected timestamp: got %s, want %s", res.Timestamp, want)
		}
	})

	cases := []struct {
		Desc   string
		Err    error
		Reason logstore.AppendReason
	}{
		{"it reports denied access", journal.DenyAccess(errors.New("<denied>")), logstore.AppendAccessDenied},
		{"it reports timeouts", context.DeadlineExceeded, logstore.AppendTimeout},
		{"it reports other failures as unavailability", errors.New("<error>"), logstore.AppendUnavailable},
	}

	for _, c := range cases {
		t.Run(c.Desc, func(t *testing.T) {
			t.Parallel()

			ctx := xtesting.Context(t, 5*time.Second)

			var in journal.Interceptor
			store := New(journal.WithInterceptor(&memoryjournal.Store{}, &in))

			if err := store.DefineLog(ctx, 1, journal.Config{}); err != nil {
				t.Fatal(err)
			}

			in.BeforeAppend(func(logstore.LogID, logstore.LSN, journal.Entry) error {
				return c.Err
			})

			_, err := store.Append(ctx, 1, []byte("<payload>"), logstore.AppendAttributes{})
			if !errors.Is(err, c.Reason) {
				t.Fatalf("unexpected error: got %v, want %v", err, c.Reason)
			}

			if !errors.Is(err, c.Err) {
				t.Fatalf("expected error to wrap %v", c.Err)
			}
		})
	}

	t.Run("it returns the successful prefix of a batch", func(t *testing.T) {
		t.Parallel()

		ctx := xtesting.Context(t, 5*time.Second)

		var in journal.Interceptor
		store := New(journal.WithInterceptor(&memoryjournal.Store{}, &in))

		if err := store.DefineLog(ctx, 1, journal.Config{}); err != nil {
			t.Fatal(err)
		}

		in.BeforeAppend(func(_ logstore.LogID, n logstore.LSN, _ journal.Entry) error {
			if n == 3 {
				return errors.New("<error>")
			}
			return nil
		})

		res, err := store.AppendBatch(
			ctx,
			1,
			[][]byte{[]byte("<a>"), []byte("<b>"), []byte("<c>"), []byte("<d>")},
			logstore.AppendAttributes{},
		)
		if !errors.Is(err, logstore.AppendUnavailable) {
			t.Fatalf("unexpected error: got %v, want %v", err, logstore.AppendUnavailable)
		}

		if len(res) != 2 {
			t.Fatalf("unexpected number of results: got %d, want 2", len(res))
		}
	})

	t.Run("it fails once the log is removed", func(t *testing.T) {
		t.Parallel()

		ctx := xtesting.Context(t, 5*time.Second)
		store := New(&memoryjournal.Store{})

		if err := store.DefineLog(ctx, 1, journal.Config{}); err != nil {
			t.Fatal(err)
		}

		if err := store.RemoveLog(ctx, 1); err != nil {
			t.Fatal(err)
		}

		_, err := store.Append(ctx, 1, []byte("<payload>"), logstore.AppendAttributes{})
		if !errors.Is(err, logstore.AppendLogNotFound) {
			t.Fatalf("unexpected error: got %v, want %v", err, logstore.AppendLogNotFound)
		}
	})
}

func TestStore_OpenCursor(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T, records int) (context.Context, *memoryjournal.Store, *journal.Interceptor, *Store) {
		ctx := xtesting.Context(t, 5*time.Second)

		mem := &memoryjournal.Store{}
		in := &journal.Interceptor{}
		store := New(
			journal.WithInterceptor(mem, in),
			WithPollInterval(0),
		)
		t.Cleanup(func() { store.Close() })

		if err := store.DefineLog(ctx, 1, journal.Config{}); err != nil {
			t.Fatal(err)
		}

		for range records {
			if _, err := store.Append(ctx, 1, []byte("<payload>"), logstore.AppendAttributes{}); err != nil {
				t.Fatal(err)
			}
		}

		return ctx, mem, in, store
	}

	start := func(
		ctx context.Context,
		t *testing.T,
		store *Store,
		until logstore.LSN,
	) logstore.Cursor {
		c, err := store.OpenCursor(ctx, logstore.CursorOptions{})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { c.Close() })

		if err := c.StartReading(ctx, logstore.ReadRange{LogID: 1, Start: logstore.LSNOldest, Until: until}); err != nil {
			t.Fatal(err)
		}

		return c
	}

	t.Run("it reports lost records as a DATALOSS gap", func(t *testing.T) {
		t.Parallel()

		ctx, mem, _, store := setup(t, 10)
		mem.Lose(1, 3, 5)

		c := start(ctx, t, store, logstore.LSNMax)

		want := []string{
			"record 1",
			"record 2",
			"DATALOSS gap in log 1 [3, 5]",
			"record 6",
			"record 7",
			"record 8",
			"record 9",
			"record 10",
		}

		if diff := cmp.Diff(want, drain(ctx, t, c)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it reports lost records at the end of the journal", func(t *testing.T) {
		t.Parallel()

		ctx, mem, _, store := setup(t, 5)
		mem.Lose(1, 4, 5)

		c := start(ctx, t, store, logstore.LSNMax)

		want := []string{
			"record 1",
			"record 2",
			"record 3",
			"DATALOSS gap in log 1 [4, 5]",
		}

		if diff := cmp.Diff(want, drain(ctx, t, c)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it clips gaps to the end of the range", func(t *testing.T) {
		t.Parallel()

		ctx, mem, _, store := setup(t, 10)
		mem.Lose(1, 3, 8)

		c := start(ctx, t, store, 5)

		want := []string{
			"record 1",
			"record 2",
			"DATALOSS gap in log 1 [3, 5]",
		}

		if diff := cmp.Diff(want, drain(ctx, t, c)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it reports simulated read failures as a DATALOSS gap", func(t *testing.T) {
		t.Parallel()

		ctx, _, in, store := setup(t, 4)
		in.BeforeRead(func(_ logstore.LogID, n logstore.LSN) error {
			if n == 2 {
				return journal.RecordNotFoundError{LogID: 1, LSN: n}
			}
			return nil
		})

		c := start(ctx, t, store, logstore.LSNMax)

		want := []string{
			"record 1",
			"DATALOSS gap in log 1 [2, 2]",
			"record 3",
			"record 4",
		}

		if diff := cmp.Diff(want, drain(ctx, t, c)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it reports denied access as an ACCESS_DENIED gap", func(t *testing.T) {
		t.Parallel()

		ctx, _, in, store := setup(t, 0)

		in.BeforeOpen(func(logstore.LogID) error {
			return journal.DenyAccess(errors.New("<denied>"))
		})

		c := start(ctx, t, store, 100)

		want := []string{
			"ACCESS_DENIED gap in log 1 [1, 100]",
		}

		if diff := cmp.Diff(want, drain(ctx, t, c)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it reports removal of the log as a NOTINCONFIG gap", func(t *testing.T) {
		t.Parallel()

		ctx, _, _, store := setup(t, 2)
		c := start(ctx, t, store, logstore.LSNMax)

		if err := store.RemoveLog(ctx, 1); err != nil {
			t.Fatal(err)
		}

		want := []string{
			"record 1",
			"record 2",
			"NOTINCONFIG gap in log 1 [3, max]",
		}

		if diff := cmp.Diff(want, drain(ctx, t, c)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it reports records trimmed while reading as a TRIM gap", func(t *testing.T) {
		t.Parallel()

		ctx, _, _, store := setup(t, 3)
		c := start(ctx, t, store, logstore.LSNMax)

		if got := drain(ctx, t, c); len(got) != 3 {
			t.Fatalf("unexpected events: %v", got)
		}

		for range 3 {
			if _, err := store.Append(ctx, 1, []byte("<payload>"), logstore.AppendAttributes{}); err != nil {
				t.Fatal(err)
			}
		}

		if err := store.Trim(ctx, 1, 5); err != nil {
			t.Fatal(err)
		}

		want := []string{
			"TRIM gap in log 1 [4, 5]",
			"record 6",
		}

		if diff := cmp.Diff(want, drain(ctx, t, c)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it interleaves logs", func(t *testing.T) {
		t.Parallel()

		ctx, _, _, store := setup(t, 4)

		if err := store.DefineLog(ctx, 2, journal.Config{}); err != nil {
			t.Fatal(err)
		}

		for range 4 {
			if _, err := store.Append(ctx, 2, []byte("<payload>"), logstore.AppendAttributes{}); err != nil {
				t.Fatal(err)
			}
		}

		c, err := store.OpenCursor(ctx, logstore.CursorOptions{BufferSize: 2})
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		for _, id := range []logstore.LogID{1, 2} {
			if err := c.StartReading(ctx, logstore.ReadRange{LogID: id, Start: 1, Until: logstore.LSNMax}); err != nil {
				t.Fatal(err)
			}
		}

		b, err := c.Pull(ctx, 4)
		if err != nil {
			t.Fatal(err)
		}

		var got []logstore.LogID
		for _, rec := range b.Records {
			got = append(got, rec.LogID)
		}

		if diff := cmp.Diff([]logstore.LogID{1, 1, 2, 2}, got); diff != "" {
			t.Fatal(diff)
		}
	})
}

// define returns a function that defines logs in s.
func define(s *Store) func(context.Context, logstore.LogID) error {
	return func(ctx context.Context, id logstore.LogID) error {
		return s.DefineLog(ctx, id, journal.Config{})
	}
}

// drain pulls from c until it returns an empty batch, and returns a
// description of each record and gap it delivered.
func drain(ctx context.Context, t *testing.T, c logstore.Cursor) []string {
	t.Helper()

	var events []string

	for {
		b, err := c.Pull(ctx, 100)
		if err != nil {
			t.Fatal(err)
		}

		if b.IsEmpty() {
			return events
		}

		for _, rec := range b.Records {
			events = append(events, "record "+rec.LSN.String())
		}

		if b.Gap != nil {
			events = append(events, b.Gap.String())
		}
	}
}
