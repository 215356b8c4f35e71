package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/dogmatiq/logkit/driver/memory/memoryjournal"
	. "github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

func TestSearch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	store := &memoryjournal.Store{}
	j, err := store.Open(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Entries 1 to 100, each 10 seconds after the previous.
	for n := logstore.LSN(1); n <= 100; n++ {
		e := Entry{
			Timestamp: epoch.Add(time.Duration(n) * 10 * time.Second),
			Payload:   []byte{byte(n)},
		}
		if err := j.Append(ctx, n, e); err != nil {
			t.Fatal(err)
		}
	}

	notBefore := func(t time.Time) PredicateFunc {
		return func(_ context.Context, _ logstore.LSN, e Entry) (bool, error) {
			return !e.Timestamp.Before(t), nil
		}
	}

	cases := []struct {
		Name   string
		Time   time.Time
		Expect logstore.LSN
	}{
		{"exact match", epoch.Add(550 * time.Second), 55},
		{"between entries", epoch.Add(555 * time.Second), 56},
		{"before the first entry", epoch, 1},
		{"after the last entry", epoch.Add(time.Hour), 101},
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			got, err := Search(ctx, j, 1, 101, notBefore(c.Time))
			if err != nil {
				t.Fatal(err)
			}

			if got != c.Expect {
				t.Fatalf("unexpected LSN: got %d, want %d", got, c.Expect)
			}
		})
	}
}
