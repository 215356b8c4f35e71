package logkit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/dogmatiq/logkit"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
	"github.com/google/go-cmp/cmp"
)

func TestBufferedWriter(t *testing.T) {
	t.Parallel()

	t.Run("it resolves each write with its LSN, in order", func(t *testing.T) {
		t.Parallel()

		ctx, client, env := setup(t)
		env.Define(t, 1, 2)

		w := client.NewBufferedWriter()
		defer w.Close(ctx)

		var futures []AppendFuture
		for i := range 20 {
			f, err := w.Write(logstore.LogID(i%2+1), []byte("<payload>"))
			if err != nil {
				t.Fatal(err)
			}
			futures = append(futures, f)
		}

		for i, f := range futures {
			res, err := f.Wait(ctx)
			if err != nil {
				t.Fatal(err)
			}

			if want := logstore.LSN(i/2 + 1); res.LSN != want {
				t.Fatalf("unexpected LSN for write #%d: got %s, want %s", i, res.LSN, want)
			}
		}
	})

	t.Run("it batches writes to the same log", func(t *testing.T) {
		t.Parallel()

		store := &batchRecorder{}
		ctx, client, env := setupWithStore(t, store.Wrap)
		env.Define(t, 1)

		w := client.NewBufferedWriter(
			WithMaxBatchRecords(4),
			WithMaxDelay(time.Hour),
		)

		for range 10 {
			if _, err := w.Write(1, []byte("<payload>")); err != nil {
				t.Fatal(err)
			}
		}

		if err := w.Close(ctx); err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]int{4, 4, 2}, store.Sizes()); diff != "" {
			t.Fatalf("unexpected batch sizes (-want +got):\n%s", diff)
		}
	})

	t.Run("it limits the combined size of the payloads in a batch", func(t *testing.T) {
		t.Parallel()

		store := &batchRecorder{}
		ctx, client, env := setupWithStore(t, store.Wrap)
		env.Define(t, 1)

		w := client.NewBufferedWriter(
			WithMaxBatchBytes(10),
			WithMaxDelay(time.Hour),
		)

		for _, size := range []int{4, 4, 4, 20, 1} {
			if _, err := w.Write(1, make([]byte, size)); err != nil {
				t.Fatal(err)
			}
		}

		if err := w.Close(ctx); err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]int{2, 1, 1, 1}, store.Sizes()); diff != "" {
			t.Fatalf("unexpected batch sizes (-want +got):\n%s", diff)
		}
	})

	t.Run("it does not batch payloads with different keys", func(t *testing.T) {
		t.Parallel()

		store := &batchRecorder{}
		ctx, client, env := setupWithStore(t, store.Wrap)
		env.Define(t, 1)

		w := client.NewBufferedWriter(WithMaxDelay(time.Hour))

		for _, k := range []string{"<a>", "<a>", "<b>", "<a>"} {
			if _, err := w.Write(1, []byte("<payload>"), WithKey(k)); err != nil {
				t.Fatal(err)
			}
		}

		if err := w.Close(ctx); err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]int{2, 1, 1}, store.Sizes()); diff != "" {
			t.Fatalf("unexpected batch sizes (-want +got):\n%s", diff)
		}
	})

	t.Run("it only returns the timestamp when requested", func(t *testing.T) {
		t.Parallel()

		ctx, client, env := setup(t)
		env.Define(t, 1)

		w := client.NewBufferedWriter()
		defer w.Close(ctx)

		without, err := w.Write(1, []byte("<payload>"))
		if err != nil {
			t.Fatal(err)
		}

		with, err := w.Write(1, []byte("<payload>"), WithTimestamp())
		if err != nil {
			t.Fatal(err)
		}

		res, err := without.Wait(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Timestamp.IsZero() {
			t.Fatalf("unexpected timestamp: %s", res.Timestamp)
		}

		res, err = with.Wait(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if res.Timestamp.IsZero() {
			t.Fatal("expected a timestamp")
		}
	})

	t.Run("it retries transient failures", func(t *testing.T) {
		t.Parallel()

		ctx, client, env := setup(t)
		env.Define(t, 1)

		var failures atomic.Int64
		env.Interceptor.BeforeAppend(func(logstore.LogID, logstore.LSN, journal.Entry) error {
			if failures.Add(1) <= 2 {
				return errors.New("<error>")
			}
			return nil
		})

		w := client.NewBufferedWriter(WithRetryPolicy(3, time.Millisecond))
		defer w.Close(ctx)

		f, err := w.Write(1, []byte("<payload>"))
		if err != nil {
			t.Fatal(err)
		}

		res, err := f.Wait(ctx)
		if err != nil {
			t.Fatal(err)
		}

		if res.LSN != 1 {
			t.Fatalf("unexpected LSN: got %s, want 1", res.LSN)
		}
	})

	t.Run("it gives up once the retry limit is reached", func(t *testing.T) {
		t.Parallel()

		ctx, client, env := setup(t)
		env.Define(t, 1)

		var attempts atomic.Int64
		env.Interceptor.BeforeAppend(func(logstore.LogID, logstore.LSN, journal.Entry) error {
			attempts.Add(1)
			return errors.New("<error>")
		})

		w := client.NewBufferedWriter(WithRetryPolicy(2, time.Millisecond))
		defer w.Close(ctx)

		f, err := w.Write(1, []byte("<payload>"))
		if err != nil {
			t.Fatal(err)
		}

		if _, err := f.Wait(ctx); !errors.Is(err, logstore.AppendUnavailable) {
			t.Fatalf("unexpected error: got %v, want %v", err, logstore.AppendUnavailable)
		}

		if n := attempts.Load(); n != 3 {
			t.Fatalf("unexpected number of attempts: got %d, want 3", n)
		}
	})

	t.Run("it resolves every write in a failed batch", func(t *testing.T) {
		t.Parallel()

		ctx, client, env := setup(t)
		env.Define(t, 1)

		env.Interceptor.BeforeAppend(func(_ logstore.LogID, n logstore.LSN, _ journal.Entry) error {
			if n == 3 {
				return journal.ErrAccessDenied
			}
			return nil
		})

		w := client.NewBufferedWriter(WithMaxDelay(time.Hour))

		var futures []AppendFuture
		for range 5 {
			f, err := w.Write(1, []byte("<payload>"))
			if err != nil {
				t.Fatal(err)
			}
			futures = append(futures, f)
		}

		if err := w.Close(ctx); err != nil {
			t.Fatal(err)
		}

		for i, f := range futures {
			res, err := f.Get()

			if i < 2 {
				if err != nil {
					t.Fatalf("unexpected error for write #%d: %v", i, err)
				}
				if want := logstore.LSN(i + 1); res.LSN != want {
					t.Fatalf("unexpected LSN for write #%d: got %s, want %s", i, res.LSN, want)
				}
				continue
			}

			if !errors.Is(err, logstore.AppendAccessDenied) {
				t.Fatalf("unexpected error for write #%d: got %v, want %v", i, err, logstore.AppendAccessDenied)
			}
		}
	})

	t.Run("it does not retry permanent failures", func(t *testing.T) {
		t.Parallel()

		ctx, client, _ := setup(t)

		w := client.NewBufferedWriter()
		defer w.Close(ctx)

		f, err := w.Write(1, []byte("<payload>"))
		if err != nil {
			t.Fatal(err)
		}

		if _, err := f.Wait(ctx); !errors.Is(err, logstore.AppendLogNotFound) {
			t.Fatalf("unexpected error: got %v, want %v", err, logstore.AppendLogNotFound)
		}
	})

	t.Run("it rejects writes that exceed the memory limit", func(t *testing.T) {
		t.Parallel()

		ctx, client, env := setup(t)
		env.Define(t, 1)

		w := client.NewBufferedWriter(
			WithMemoryLimit(10),
			WithMaxDelay(time.Hour),
		)
		defer w.Close(ctx)

		if _, err := w.Write(1, make([]byte, 8)); err != nil {
			t.Fatal(err)
		}

		if _, err := w.Write(1, make([]byte, 8)); !errors.Is(err, ErrWriterFull) {
			t.Fatalf("unexpected error: got %v, want %v", err, ErrWriterFull)
		}

		if err := w.Flush(ctx); err != nil {
			t.Fatal(err)
		}

		if _, err := w.Write(1, make([]byte, 8)); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("Flush", func(t *testing.T) {
		t.Parallel()

		t.Run("it appends without waiting for the maximum delay", func(t *testing.T) {
			t.Parallel()

			ctx, client, env := setup(t)
			env.Define(t, 1)

			w := client.NewBufferedWriter(WithMaxDelay(time.Hour))
			defer w.Close(ctx)

			f, err := w.Write(1, []byte("<payload>"))
			if err != nil {
				t.Fatal(err)
			}

			if err := w.Flush(ctx); err != nil {
				t.Fatal(err)
			}

			select {
			case <-f.Ready():
			default:
				t.Fatal("expected the write to be resolved")
			}
		})
	})

	t.Run("Close", func(t *testing.T) {
		t.Parallel()

		t.Run("it resolves pending writes then rejects new ones", func(t *testing.T) {
			t.Parallel()

			ctx, client, env := setup(t)
			env.Define(t, 1)

			w := client.NewBufferedWriter(WithMaxDelay(time.Hour))

			f, err := w.Write(1, []byte("<payload>"))
			if err != nil {
				t.Fatal(err)
			}

			for range 2 {
				if err := w.Close(ctx); err != nil {
					t.Fatal(err)
				}
			}

			if _, err := f.Get(); err != nil {
				t.Fatal(err)
			}

			if _, err := w.Write(1, []byte("<payload>")); !errors.Is(err, ErrWriterClosed) {
				t.Fatalf("unexpected error: got %v, want %v", err, ErrWriterClosed)
			}
		})

		t.Run("it returns an error if the context is canceled", func(t *testing.T) {
			t.Parallel()

			_, client, env := setup(t)
			env.Define(t, 1)

			block := make(chan struct{})
			defer close(block)

			env.Interceptor.BeforeAppend(func(logstore.LogID, logstore.LSN, journal.Entry) error {
				<-block
				return nil
			})

			w := client.NewBufferedWriter()

			if _, err := w.Write(1, []byte("<payload>")); err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			if err := w.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("unexpected error: got %v, want %v", err, context.DeadlineExceeded)
			}
		})
	})
}

// batchRecorder is a [logstore.Store] that records the size of each batch
// appended to it.
type batchRecorder struct {
	logstore.Store

	m     sync.Mutex
	sizes []int
}

func (s *batchRecorder) Wrap(next logstore.Store) logstore.Store {
	s.Store = next
	return s
}

func (s *batchRecorder) AppendBatch(
	ctx context.Context,
	id logstore.LogID,
	payloads [][]byte,
	attrs logstore.AppendAttributes,
) ([]logstore.AppendResult, error) {
	s.m.Lock()
	s.sizes = append(s.sizes, len(payloads))
	s.m.Unlock()

	return s.Store.AppendBatch(ctx, id, payloads, attrs)
}

func (s *batchRecorder) Sizes() []int {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]int(nil), s.sizes...)
}
