package journalstore

import (
	"time"
)

const (
	// DefaultMaxPayloadSize is the largest payload that may be appended to a
	// log whose configuration does not specify a limit.
	DefaultMaxPayloadSize = 32 * 1024 * 1024

	// DefaultPollInterval is the default interval at which cursors are
	// notified that records appended by other processes may be available.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultReadBatchSize is the default maximum number of entries read from
	// a single journal per pull.
	DefaultReadBatchSize = 128
)

// Option changes the behavior of a [Store].
type Option func(*Store)

// WithMaxPayloadSize sets the largest payload that may be appended to a log
// whose configuration does not specify its own limit.
func WithMaxPayloadSize(n int) Option {
	if n <= 0 {
		panic("max payload size must be positive")
	}

	return func(s *Store) {
		s.maxPayloadSize = n
	}
}

// WithPollInterval sets the interval at which cursors are notified that new
// records may be available, even if no records have been appended via this
// [Store].
//
// A non-positive interval disables polling, such that cursors are only
// notified about appends made via this [Store].
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		s.pollInterval = d
	}
}

// WithReadBatchSize sets the default maximum number of entries read from a
// single journal per pull. It is overridden by
// [logstore.CursorOptions.BufferSize].
func WithReadBatchSize(n int) Option {
	if n <= 0 {
		panic("read batch size must be positive")
	}

	return func(s *Store) {
		s.readBatchSize = n
	}
}

// WithClock sets the function used to obtain the current time when assigning
// timestamps to records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}
