package logstore

import (
	"context"
	"time"
)

// Store is the durable storage capability consumed by log clients.
type Store interface {
	// Append appends a single payload to the log, returning its LSN and
	// timestamp. Failures are reported as an [*AppendError].
	Append(ctx context.Context, id LogID, payload []byte, attrs AppendAttributes) (AppendResult, error)

	// AppendBatch appends several payloads to the log, in order.
	//
	// It returns the results for the prefix of payloads that were appended. If
	// not all payloads were appended, the error describes the failure of the
	// first payload that was not.
	AppendBatch(ctx context.Context, id LogID, payloads [][]byte, attrs AppendAttributes) ([]AppendResult, error)

	// OpenCursor opens a new cursor for reading from one or more logs.
	OpenCursor(ctx context.Context, opts CursorOptions) (Cursor, error)

	// Trim removes all records with an LSN less than or equal to n from
	// the log. Readers that subsequently read the trimmed range observe a
	// [GapTrim] gap.
	Trim(ctx context.Context, id LogID, n LSN) error

	// TailLSN returns the LSN of the most recently appended record, or
	// [LSNInvalid] if the log has never had any records.
	TailLSN(ctx context.Context, id LogID) (LSN, error)

	// FindTime returns the LSN of the oldest retained record whose
	// timestamp is at or after t. If there is no such record, it returns the
	// LSN that the next appended record will receive.
	FindTime(ctx context.Context, id LogID, t time.Time) (LSN, error)

	// Close releases the resources held by the store.
	Close() error
}

// CursorOptions changes the behavior of a [Cursor].
type CursorOptions struct {
	// MaxLogs is the maximum number of logs the cursor may read from at the
	// same time. Zero means no limit.
	MaxLogs int

	// BufferSize is a hint as to how many records the cursor should fetch
	// from the underlying storage per log at a time. Zero means a default
	// chosen by the store.
	BufferSize int

	// Filter, if non-nil, is called with the key of each record. Records for
	// which it returns false are reported as a [GapFilteredOut] gap.
	Filter func(key string) bool
}

// Cursor reads from one or more logs.
//
// Its methods are not safe for concurrent use.
type Cursor interface {
	// StartReading begins reading the given range. Failures are reported as a
	// [*StartError].
	StartReading(ctx context.Context, r ReadRange) error

	// StopReading stops reading from the log. It is a no-op if the cursor is
	// not reading from the log.
	StopReading(ctx context.Context, id LogID) error

	// Pull returns up to max records that are available immediately, plus at
	// most one gap. It never waits for new records to be appended.
	Pull(ctx context.Context, max int) (Batch, error)

	// Ready returns a channel that is closed when records appended after the
	// call to Ready may be available.
	Ready() <-chan struct{}

	// Close stops reading from all logs.
	Close() error
}
