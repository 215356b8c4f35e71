// Package logkit is a client for appending to and reading from numbered,
// totally-ordered logs.
//
// Readers deliver the records of each log in order, and report any part of
// the log that can not be delivered as a [logstore.Gap] rather than skipping
// it silently.
package logkit

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/logkit/internal/locator"
	"github.com/dogmatiq/logkit/internal/telemetry"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
	"github.com/dogmatiq/logkit/logstore/journalstore"
)

// Client appends to and reads from the logs in a [logstore.Store].
//
// It is safe for concurrent use.
type Client struct {
	store        logstore.Store
	telemetry    telemetry.Provider
	storeOptions []journalstore.Option
	closer       io.Closer
	closed       atomic.Bool
}

// Connect returns a client for the log store described by loc.
//
// loc is a URL with one of the "memory", "postgres", "dynamodb" or "s3"
// schemes, for example "memory:", "postgres://user@host/db",
// "dynamodb://<table>?region=<region>" or "s3://<bucket>?region=<region>".
// If the store can not be opened, the error is a [*ConnectionError].
func Connect(ctx context.Context, loc string, options ...ClientOption) (*Client, error) {
	if !initOnce.Done() {
		return nil, ErrNotInitialized
	}

	c := newClient(options)

	js, closer, err := locator.Open(ctx, loc)
	if err != nil {
		return nil, &ConnectionError{loc, err}
	}

	s := journalstore.New(
		journal.WithTelemetry(js, c.telemetry),
		c.storeOptions...,
	)

	c.store = logstore.WithTelemetry(s, c.telemetry)
	c.closer = closer

	return c, nil
}

// NewClient returns a client that uses the given store.
//
// Closing the client closes the store.
func NewClient(s logstore.Store, options ...ClientOption) (*Client, error) {
	if !initOnce.Done() {
		return nil, ErrNotInitialized
	}

	c := newClient(options)
	c.store = logstore.WithTelemetry(s, c.telemetry)

	return c, nil
}

func newClient(options []ClientOption) *Client {
	c := &Client{}

	for _, opt := range options {
		opt.applyClientOption(c)
	}

	return c
}

// Append appends a payload to a log and returns the LSN assigned to it.
//
// It blocks until the store accepts the record or fails. It never retries.
// Failures are reported as a [*logstore.AppendError].
func (c *Client) Append(
	ctx context.Context,
	id logstore.LogID,
	payload []byte,
	options ...AppendOption,
) (logstore.AppendResult, error) {
	var cfg appendConfig
	for _, opt := range options {
		opt.applyAppendOption(&cfg)
	}

	if c.closed.Load() {
		return logstore.AppendResult{}, logstore.NewAppendError(id, logstore.AppendOther, ErrClientClosed)
	}

	res, err := c.store.Append(ctx, id, payload, logstore.AppendAttributes{Key: cfg.key})
	if err != nil {
		return logstore.AppendResult{}, err
	}

	if !cfg.timestamp {
		res.Timestamp = time.Time{}
	}

	return res, nil
}

// Trim removes all records with an LSN less than or equal to n from a log.
func (c *Client) Trim(ctx context.Context, id logstore.LogID, n logstore.LSN) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.store.Trim(ctx, id, n)
}

// TailLSN returns the LSN of the most recently appended record in a log, or
// [logstore.LSNInvalid] if nothing has been appended.
func (c *Client) TailLSN(ctx context.Context, id logstore.LogID) (logstore.LSN, error) {
	if c.closed.Load() {
		return logstore.LSNInvalid, ErrClientClosed
	}
	return c.store.TailLSN(ctx, id)
}

// FindTime returns the LSN of the oldest record in a log with a timestamp at or
// after t.
func (c *Client) FindTime(ctx context.Context, id logstore.LogID, t time.Time) (logstore.LSN, error) {
	if c.closed.Load() {
		return logstore.LSNInvalid, ErrClientClosed
	}
	return c.store.FindTime(ctx, id, t)
}

// Close closes the client and its store.
//
// It is safe to call Close more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.store.Close()

	if c.closer != nil {
		if e := c.closer.Close(); err == nil {
			err = e
		}
	}

	return err
}

func (c *Client) recorder(name string, attrs ...telemetry.Attr) *telemetry.Recorder {
	return c.telemetry.Recorder(
		"github.com/dogmatiq/logkit",
		name,
		append(attrs, telemetry.String("handle", telemetry.HandleID()))...,
	)
}

func (c *Client) openCursor(ctx context.Context, maxLogs int, cfg cursorConfig) (logstore.Cursor, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	if maxLogs < 0 {
		panic("max logs must not be negative")
	}

	return c.store.OpenCursor(
		ctx,
		logstore.CursorOptions{
			MaxLogs:    maxLogs,
			BufferSize: cfg.bufferSize,
			Filter:     cfg.filter,
		},
	)
}
