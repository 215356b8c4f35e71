// Package readcursor tracks the per-log read position of a reader and
// guarantees that the records and gaps it delivers account for every LSN in
// each requested range exactly once.
package readcursor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dogmatiq/logkit/internal/telemetry"
	"github.com/dogmatiq/logkit/logstore"
)

// State is the state of a single log within a [Cursor].
type State int

const (
	// Unstarted means the cursor is not reading from the log.
	Unstarted State = iota

	// Reading means the cursor is delivering records from the log.
	Reading

	// GapPending means the cursor has reported a gap that it detected itself
	// and is holding records from the log that follow it.
	GapPending

	// Exhausted means every LSN in the log's range has been accounted for.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Reading:
		return "reading"
	case GapPending:
		return "gap pending"
	case Exhausted:
		return "exhausted"
	default:
		return "unstarted"
	}
}

// maxRepulls is the number of times Pull retries the underlying cursor when
// everything it returned was discarded. A Pull that gives up after this many
// attempts leaves the cursor ready, so the caller pulls again.
const maxRepulls = 8

// Cursor wraps a [logstore.Cursor] to validate what it delivers.
//
// It drops records and gap ranges that were already accounted for, clips
// anything beyond the end of the requested range, and reports holes that the
// underlying cursor skipped silently as a [logstore.GapOther] gap.
//
// It is safe for concurrent use.
type Cursor struct {
	next      logstore.Cursor
	maxLogs   int
	telemetry *telemetry.Recorder

	m       sync.Mutex
	logs    map[logstore.LogID]*logState
	held    []logstore.Record
	heldGap *logstore.Gap
	closed  bool

	// truncated is true if the last Pull stopped at maxRepulls, in which case
	// the underlying cursor may still have data.
	truncated bool
}

type logState struct {
	Range logstore.ReadRange
	Next  logstore.LSN
	State State
}

// New returns a new cursor that reads from next.
//
// maxLogs is the maximum number of logs that may be read at the same time.
// Zero means no limit.
func New(next logstore.Cursor, maxLogs int, r *telemetry.Recorder) *Cursor {
	return &Cursor{
		next:      next,
		maxLogs:   maxLogs,
		telemetry: r,
		logs:      map[logstore.LogID]*logState{},
	}
}

// Start begins reading the given range of a log.
//
// A start of [logstore.LSNInvalid] is equivalent to [logstore.LSNOldest].
func (c *Cursor) Start(ctx context.Context, r logstore.ReadRange) error {
	c.m.Lock()
	defer c.m.Unlock()

	if c.closed {
		return logstore.NewStartError(r, logstore.StartOther, errCursorClosed)
	}

	if r.Start == logstore.LSNInvalid {
		r.Start = logstore.LSNOldest
	}

	if st, ok := c.logs[r.LogID]; ok && st.State != Exhausted {
		return logstore.NewStartError(r, logstore.StartAlreadyStarted, nil)
	}

	if r.Until < r.Start {
		return logstore.NewStartError(r, logstore.StartInvalidRange, nil)
	}

	if c.maxLogs > 0 && c.active() >= c.maxLogs {
		return logstore.NewStartError(r, logstore.StartTooManyLogs, nil)
	}

	if err := c.next.StartReading(ctx, r); err != nil {
		if errors.As(err, new(*logstore.StartError)) {
			return err
		}
		return logstore.NewStartError(r, logstore.StartOther, err)
	}

	c.discard(r.LogID)
	c.logs[r.LogID] = &logState{
		Range: r,
		Next:  r.Start,
		State: Reading,
	}

	c.telemetry.Debug(
		ctx,
		"logkit.start_reading",
		"started reading from log",
		telemetry.Int("log_id", r.LogID),
		telemetry.Int("start", r.Start),
		telemetry.If(!r.IsUnbounded(), telemetry.Int("until", r.Until)),
	)

	return nil
}

// Stop stops reading from a log. It is a no-op if the cursor is not reading
// from the log.
//
// Once Stop returns, no subsequent call to Pull returns records or gaps from
// the log.
func (c *Cursor) Stop(ctx context.Context, id logstore.LogID) error {
	c.m.Lock()
	defer c.m.Unlock()

	st, ok := c.logs[id]
	if !ok {
		return nil
	}

	delete(c.logs, id)
	c.discard(id)

	if st.State == Exhausted || c.closed {
		return nil
	}

	return c.next.StopReading(ctx, id)
}

// State returns the state of a log.
func (c *Cursor) State(id logstore.LogID) State {
	c.m.Lock()
	defer c.m.Unlock()

	if st, ok := c.logs[id]; ok {
		return st.State
	}

	return Unstarted
}

// Exhausted returns true if the cursor has nothing further to deliver,
// either because every log it was reading has been exhausted or because it is
// not reading from any logs.
func (c *Cursor) Exhausted() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.active() == 0
}

// Ready returns a channel that is closed when a call to Pull may return
// records or a gap.
func (c *Cursor) Ready() <-chan struct{} {
	c.m.Lock()
	defer c.m.Unlock()

	if c.truncated || len(c.held) != 0 || c.heldGap != nil {
		return closed
	}

	return c.next.Ready()
}

// Pull returns up to max records that are available immediately, plus at most
// one gap that follows them. It returns an empty batch if nothing is
// available.
func (c *Cursor) Pull(ctx context.Context, max int) (logstore.Batch, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if c.closed {
		return logstore.Batch{}, errCursorClosed
	}

	c.truncated = false

	for range maxRepulls {
		if len(c.held) == 0 && c.heldGap == nil {
			if c.active() == 0 {
				return logstore.Batch{}, nil
			}

			b, err := c.next.Pull(ctx, max)
			if err != nil {
				return logstore.Batch{}, err
			}

			if b.IsEmpty() {
				return logstore.Batch{}, nil
			}

			c.held = b.Records
			c.heldGap = b.Gap
		}

		if b := c.deliver(ctx, max); !b.IsEmpty() {
			return b, nil
		}
	}

	c.truncated = true

	return logstore.Batch{}, nil
}

// Close stops reading from all logs.
func (c *Cursor) Close() error {
	c.m.Lock()
	defer c.m.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logs = map[logstore.LogID]*logState{}
	c.held = nil
	c.heldGap = nil

	return c.next.Close()
}

// deliver moves up to max held records into a batch, along with at most one
// gap.
func (c *Cursor) deliver(ctx context.Context, max int) logstore.Batch {
	var b logstore.Batch

	for len(c.held) != 0 && len(b.Records) < max {
		rec := c.held[0]
		st, ok := c.logs[rec.LogID]

		switch {
		case !ok || st.State == Exhausted:
			// The log was stopped, or its range was already accounted
			// for.

		case rec.LSN < st.Next:
			c.telemetry.Debug(
				ctx,
				"logkit.duplicate_record",
				"discarded record that was already accounted for",
				telemetry.Int("log_id", rec.LogID),
				telemetry.Int("lsn", rec.LSN),
			)

		case rec.LSN > st.Range.Until:
			// The underlying cursor skipped past the end of the range
			// without accounting for it.
			b.Gap = c.synthesize(ctx, st, st.Range.Until)

		case rec.LSN > st.Next:
			// Hold the record until the hole before it is reported.
			b.Gap = c.synthesize(ctx, st, rec.LSN-1)
			st.State = GapPending
			return b

		default:
			c.held = c.held[1:]
			b.Records = append(b.Records, rec)
			st.State = Reading
			c.advance(ctx, st, rec.LSN)
			continue
		}

		c.held = c.held[1:]

		if b.Gap != nil {
			return b
		}
	}

	if len(c.held) != 0 || c.heldGap == nil {
		return b
	}

	g := *c.heldGap
	st, ok := c.logs[g.LogID]

	if !ok || st.State == Exhausted || g.High < st.Next {
		c.heldGap = nil
		return b
	}

	if g.Low > st.Next {
		// Report the hole before the gap first, the gap itself is
		// delivered by the next pull.
		b.Gap = c.synthesize(ctx, st, min(g.Low-1, st.Range.Until))
		if st.State != Exhausted {
			st.State = GapPending
		}
		return b
	}

	c.heldGap = nil
	g.Low = st.Next
	g.High = min(g.High, st.Range.Until)

	c.report(ctx, g)
	st.State = Reading
	c.advance(ctx, st, g.High)

	b.Gap = &g
	return b
}

// synthesize returns a gap covering the LSNs from st.Next to high that the
// underlying cursor skipped without reporting.
func (c *Cursor) synthesize(ctx context.Context, st *logState, high logstore.LSN) *logstore.Gap {
	g := logstore.Gap{
		LogID: st.Range.LogID,
		Low:   st.Next,
		High:  high,
		Kind:  logstore.GapOther,
	}

	c.report(ctx, g)
	c.advance(ctx, st, high)

	return &g
}

// advance marks every LSN up to and including n as accounted for, stopping
// the underlying cursor once the end of the range is reached.
func (c *Cursor) advance(ctx context.Context, st *logState, n logstore.LSN) {
	if n < st.Range.Until {
		st.Next = n + 1
		return
	}

	st.Next = st.Range.Until
	st.State = Exhausted

	c.telemetry.Debug(
		ctx,
		"logkit.log_exhausted",
		"reached the end of the requested range",
		telemetry.Int("log_id", st.Range.LogID),
		telemetry.Int("until", st.Range.Until),
	)

	if err := c.next.StopReading(ctx, st.Range.LogID); err != nil {
		c.telemetry.Error(
			ctx,
			"logkit.stop_reading_failed",
			err,
			telemetry.Int("log_id", st.Range.LogID),
		)
	}
}

// report logs a gap, as a warning if it is an anomaly.
func (c *Cursor) report(ctx context.Context, g logstore.Gap) {
	attrs := []telemetry.Attr{
		telemetry.Int("log_id", g.LogID),
		telemetry.Stringer("kind", g.Kind),
		telemetry.Int("low", g.Low),
		telemetry.Int("high", g.High),
	}

	if g.Kind.IsAnomaly() {
		c.telemetry.Warn(
			ctx,
			"logkit.data_loss",
			fmt.Sprintf("records %s through %s of log %s have been lost", g.Low, g.High, g.LogID),
			attrs...,
		)
		return
	}

	c.telemetry.Debug(ctx, "logkit.gap", "encountered gap", attrs...)
}

// active returns the number of logs that are not exhausted.
func (c *Cursor) active() int {
	n := 0
	for _, st := range c.logs {
		if st.State != Exhausted {
			n++
		}
	}
	return n
}

// discard removes any held records or gap belonging to the given log.
func (c *Cursor) discard(id logstore.LogID) {
	c.held = slices.DeleteFunc(
		slices.Clone(c.held),
		func(rec logstore.Record) bool {
			return rec.LogID == id
		},
	)

	if c.heldGap != nil && c.heldGap.LogID == id {
		c.heldGap = nil
	}
}

var errCursorClosed = errors.New("cursor is closed")

var closed = make(chan struct{})

func init() {
	close(closed)
}
