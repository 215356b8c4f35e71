package logkit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/logkit/internal/readcursor"
	"github.com/dogmatiq/logkit/logstore"
)

// Reader reads records from one or more logs.
//
// Its methods are safe for concurrent use, but concurrent calls to
// [Reader.Read] each receive a different part of the stream.
type Reader struct {
	cfg      readerConfig
	cursor   *readcursor.Cursor
	dataLoss atomic.Bool
}

// NewReader returns a reader that may read from up to maxLogs logs at the same
// time. Zero means no limit.
func (c *Client) NewReader(ctx context.Context, maxLogs int, options ...ReaderOption) (*Reader, error) {
	cfg := readerConfig{
		cursorConfig: cursorConfig{
			pollInterval: DefaultPollInterval,
		},
	}

	for _, opt := range options {
		opt.applyReaderOption(&cfg)
	}

	cur, err := c.openCursor(ctx, maxLogs, cfg.cursorConfig)
	if err != nil {
		return nil, err
	}

	return &Reader{
		cfg:    cfg,
		cursor: readcursor.New(cur, maxLogs, c.recorder("reader")),
	}, nil
}

// StartReading begins reading the records of a log with LSNs in the range
// [start, until]. until may be [logstore.LSNMax] to keep reading new records
// as they are appended.
//
// Failures are reported as a [*logstore.StartError].
func (r *Reader) StartReading(ctx context.Context, id logstore.LogID, start, until logstore.LSN) error {
	return r.cursor.Start(
		ctx,
		logstore.ReadRange{
			LogID: id,
			Start: start,
			Until: until,
		},
	)
}

// StopReading stops reading from a log. It is a no-op if the reader is not
// reading from the log.
//
// Once it returns, no subsequent call to [Reader.Read] returns records or gaps
// from the log.
func (r *Reader) StopReading(ctx context.Context, id logstore.LogID) error {
	return r.cursor.Stop(ctx, id)
}

// Read returns up to max records, in order within each log, followed by an
// optional gap.
//
// It blocks until at least one record or a gap is available. It returns
// [ErrEndOfStream] if every log has been exhausted. If the reader was created
// with [WithTimeout] and the timeout elapses first, it returns neither
// records nor a gap.
func (r *Reader) Read(ctx context.Context, max int) ([]logstore.Record, *logstore.Gap, error) {
	if max <= 0 {
		panic("max must be positive")
	}

	readCtx := ctx
	if r.cfg.timeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = linger.ContextWithTimeout(ctx, r.cfg.timeout)
		defer cancel()
	}

	var records []logstore.Record

	for {
		ready := r.cursor.Ready()

		b, err := r.cursor.Pull(readCtx, max-len(records))
		if err != nil {
			if len(records) != 0 || r.timedOut(ctx, readCtx) {
				return records, nil, nil
			}
			return nil, nil, err
		}

		records = append(records, b.Records...)

		if b.Gap != nil {
			if b.Gap.Kind.IsAnomaly() {
				r.dataLoss.Store(true)
			}
			return records, b.Gap, nil
		}

		if len(b.Records) != 0 && len(records) < max {
			continue
		}

		if len(records) != 0 {
			return records, nil, nil
		}

		if r.cursor.Exhausted() {
			return nil, nil, ErrEndOfStream
		}

		if err := wait(readCtx, r.cfg.cursorConfig, ready, nil); err != nil {
			if r.timedOut(ctx, readCtx) {
				return nil, nil, nil
			}
			return nil, nil, err
		}
	}
}

// HasDataLoss returns true if the reader has delivered a
// [logstore.GapDataLoss] gap.
func (r *Reader) HasDataLoss() bool {
	return r.dataLoss.Load()
}

// Close stops reading from all logs.
//
// It is safe to call Close more than once.
func (r *Reader) Close() error {
	return r.cursor.Close()
}

func (r *Reader) timedOut(ctx, readCtx context.Context) bool {
	return ctx.Err() == nil && errors.Is(readCtx.Err(), context.DeadlineExceeded)
}

// wait blocks until there may be new records to read.
//
// ready is closed by the store when new records may be available. It is only
// used when cfg.waitOnlyWhenNoData is set, otherwise wait sleeps for the poll
// interval. wake, if non-nil, interrupts the wait.
func wait(
	ctx context.Context,
	cfg cursorConfig,
	ready <-chan struct{},
	wake <-chan struct{},
) error {
	var poll <-chan time.Time

	if !cfg.waitOnlyWhenNoData {
		t := time.NewTimer(cfg.pollInterval)
		defer t.Stop()

		ready = nil
		poll = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
	case <-wake:
	case <-poll:
	}

	return nil
}
