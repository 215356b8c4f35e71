// Package journal is the storage primitive beneath the journal-backed log
// store. A journal is an append-only sequence of entries for a single log,
// addressed by LSN.
package journal

import (
	"context"
	"time"

	"github.com/dogmatiq/logkit/logstore"
)

// Entry is a single record stored in a [Journal].
type Entry struct {
	// Timestamp is the time at which the entry's LSN was assigned. It is
	// stored with microsecond precision.
	Timestamp time.Time

	// Key is the optional key given when the entry was appended.
	Key string

	// Payload is the entry's content.
	Payload []byte
}

// A RangeFunc is a function used to range over the entries in a [Journal].
//
// If err is non-nil, ranging stops and err is propagated up the stack.
// Otherwise, if ok is false, ranging stops without any error being propagated.
type RangeFunc func(context.Context, logstore.LSN, Entry) (ok bool, err error)

// A Journal is an append-only sequence of entries belonging to a single log.
type Journal interface {
	// LogID returns the ID of the log that the journal belongs to.
	LogID() logstore.LogID

	// Bounds returns the half-open interval [begin, end) describing the LSNs
	// of the first and last entries in the journal.
	//
	// The bounds of a journal that has never had any entries are
	// [LSNOldest, LSNOldest).
	Bounds(ctx context.Context) (Interval, error)

	// Get returns the entry with the given LSN.
	//
	// It returns a [RecordNotFoundError] if there is no such entry.
	Get(ctx context.Context, n logstore.LSN) (Entry, error)

	// Range invokes fn for each entry in the journal, in order, starting with
	// the entry with the given LSN.
	//
	// It returns a [RecordNotFoundError] if there is no entry with the given
	// LSN, or if an entry is missing part-way through the range.
	Range(ctx context.Context, n logstore.LSN, fn RangeFunc) error

	// Append adds an entry to the journal with the given LSN.
	//
	// n must be the end of the journal, as returned by [Journal.Bounds]. If
	// n < end then [ErrConflict] is returned, indicating that there is already
	// an entry with the given LSN. The behavior is undefined if n > end.
	Append(ctx context.Context, n logstore.LSN, e Entry) error

	// Truncate removes the entries in the half-open interval [begin, n), such
	// that n becomes the new beginning of the journal.
	//
	// The behavior is undefined if n > end.
	Truncate(ctx context.Context, n logstore.LSN) error

	// Close closes the journal.
	Close() error
}
