package journalstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// cursor is an implementation of [logstore.Cursor] that reads from the
// journals of a [Store].
type cursor struct {
	store     *Store
	opts      logstore.CursorOptions
	batchSize int
	logs      map[logstore.LogID]*logState
	order     []logstore.LogID
	rr        int
	closed    bool
}

// logState is the state of a single log within a cursor.
type logState struct {
	Range logstore.ReadRange

	// Next is the LSN of the next record to deliver. Every LSN before it
	// has already been delivered or reported as part of a gap.
	Next logstore.LSN

	// Done is true once every LSN in the range has been accounted for.
	Done bool

	// Denied is true if access to the log's journal was refused.
	Denied bool
}

func (c *cursor) StartReading(ctx context.Context, r logstore.ReadRange) error {
	if c.closed {
		return errors.New("cursor is closed")
	}

	if r.Start == logstore.LSNInvalid {
		r.Start = logstore.LSNOldest
	}

	if _, ok := c.logs[r.LogID]; ok {
		return logstore.NewStartError(r, logstore.StartAlreadyStarted, nil)
	}

	if r.Until < r.Start {
		return logstore.NewStartError(r, logstore.StartInvalidRange, nil)
	}

	if c.opts.MaxLogs > 0 && len(c.logs) >= c.opts.MaxLogs {
		return logstore.NewStartError(r, logstore.StartTooManyLogs, nil)
	}

	st := &logState{
		Range: r,
		Next:  r.Start,
	}

	ctx, release, err := c.store.acquire(ctx)
	if err != nil {
		return logstore.NewStartError(r, logstore.StartUnavailable, err)
	}
	defer release()

	_, ok, err := c.store.journals.Lookup(ctx, r.LogID)
	if err == nil && !ok {
		return logstore.NewStartError(r, logstore.StartLogNotFound, nil)
	}

	if err == nil {
		_, err = c.store.journal(ctx, r.LogID)
	}

	if err != nil {
		switch {
		case journal.IsAccessDenied(err):
			st.Denied = true
		case ctx.Err() != nil:
			return logstore.NewStartError(r, logstore.StartOther, err)
		default:
			return logstore.NewStartError(r, logstore.StartUnavailable, err)
		}
	}

	c.logs[r.LogID] = st
	c.order = append(c.order, r.LogID)

	return nil
}

func (c *cursor) StopReading(_ context.Context, id logstore.LogID) error {
	if _, ok := c.logs[id]; !ok {
		return nil
	}

	delete(c.logs, id)

	i := slices.Index(c.order, id)
	c.order = slices.Delete(c.order, i, i+1)

	if i < c.rr {
		c.rr--
	}

	return nil
}

func (c *cursor) Pull(ctx context.Context, limit int) (logstore.Batch, error) {
	if c.closed {
		return logstore.Batch{}, errors.New("cursor is closed")
	}

	limit = max(limit, 1)

	ctx, release, err := c.store.acquire(ctx)
	if err != nil {
		return logstore.Batch{}, err
	}
	defer release()

	var b logstore.Batch

	for i := range len(c.order) {
		if len(b.Records) >= limit {
			break
		}

		index := (c.rr + i) % len(c.order)
		st := c.logs[c.order[index]]

		records, gap, err := c.pull(ctx, st, limit-len(b.Records))
		if err != nil {
			if len(b.Records) != 0 {
				// The records collected from other logs are returned
				// now, the error recurs on the next pull.
				break
			}
			if c.store.isClosed() {
				return logstore.Batch{}, fmt.Errorf("%w: %w", ErrClosed, err)
			}
			return logstore.Batch{}, err
		}

		b.Records = append(b.Records, records...)

		if gap != nil {
			b.Gap = gap
			c.rr = index + 1
			return b, nil
		}
	}

	if len(c.order) != 0 {
		c.rr = (c.rr + 1) % len(c.order)
	}

	return b, nil
}

// pull returns up to limit records from a single log, plus at most one gap
// that follows them.
func (c *cursor) pull(
	ctx context.Context,
	st *logState,
	limit int,
) ([]logstore.Record, *logstore.Gap, error) {
	if st.Done {
		return nil, nil, nil
	}

	if st.Denied {
		return nil, c.gap(st, st.Range.Until, logstore.GapAccessDenied), nil
	}

	j, err := c.store.journal(ctx, st.Range.LogID)
	if err != nil {
		return c.fail(st, err)
	}

	bounds, err := j.Bounds(ctx)
	if err != nil {
		return c.fail(st, err)
	}

	if st.Next < bounds.Begin {
		high := min(bounds.Begin-1, st.Range.Until)
		return nil, c.gap(st, high, logstore.GapTrim), nil
	}

	if st.Next >= bounds.End {
		_, ok, err := c.store.journals.Lookup(ctx, st.Range.LogID)
		if err != nil {
			return c.fail(st, err)
		}

		if !ok {
			return nil, c.gap(st, st.Range.Until, logstore.GapNotInConfig), nil
		}

		return nil, nil, nil
	}

	return c.read(ctx, j, st, min(limit, c.batchSize))
}

// read returns the records that follow st.Next in j.
func (c *cursor) read(
	ctx context.Context,
	j journal.Journal,
	st *logState,
	limit int,
) ([]logstore.Record, *logstore.Gap, error) {
	var (
		records  []logstore.Record
		filtered *logstore.Gap
	)

	err := j.Range(
		ctx,
		st.Next,
		func(_ context.Context, n logstore.LSN, e journal.Entry) (bool, error) {
			more := n < st.Range.Until

			if c.opts.Filter != nil && !c.opts.Filter(e.Key) {
				if filtered == nil {
					filtered = &logstore.Gap{
						LogID: st.Range.LogID,
						Low:   n,
						Kind:  logstore.GapFilteredOut,
					}
				}
				filtered.High = n
				return more, nil
			}

			if filtered != nil {
				return false, nil
			}

			records = append(records, logstore.Record{
				LogID:     st.Range.LogID,
				LSN:       n,
				Payload:   e.Payload,
				Timestamp: e.Timestamp,
				Key:       e.Key,
			})

			return more && len(records) < limit, nil
		},
	)

	if err != nil {
		var nf journal.RecordNotFoundError

		switch {
		case !errors.As(err, &nf):
			if len(records) == 0 && filtered == nil {
				return c.fail(st, err)
			}
			// Deliver what was read, the error recurs on the next pull.

		case len(records) == 0 && filtered == nil:
			return c.lost(ctx, j, st)
		}
	}

	if len(records) != 0 {
		c.advance(st, records[len(records)-1].LSN)
	}

	if filtered != nil {
		return records, c.gap(st, filtered.High, logstore.GapFilteredOut), nil
	}

	return records, nil, nil
}

// lost returns a gap describing the entries beginning at st.Next that are
// within the journal's bounds but can not be read.
func (c *cursor) lost(
	ctx context.Context,
	j journal.Journal,
	st *logState,
) ([]logstore.Record, *logstore.Gap, error) {
	bounds, err := j.Bounds(ctx)
	if err != nil {
		return c.fail(st, err)
	}

	// The entry may have been truncated after the bounds were first read.
	if st.Next < bounds.Begin {
		high := min(bounds.Begin-1, st.Range.Until)
		return nil, c.gap(st, high, logstore.GapTrim), nil
	}

	if st.Next >= bounds.End {
		return nil, nil, nil
	}

	high := st.Next
	for probes := 1; probes < c.batchSize; probes++ {
		n := high + 1
		if n >= bounds.End || n > st.Range.Until {
			break
		}

		if _, err := j.Get(ctx, n); err == nil {
			break
		} else if !journal.IsNotFound(err) {
			return c.fail(st, err)
		}

		high = n
	}

	return nil, c.gap(st, high, logstore.GapDataLoss), nil
}

// fail returns err, or an access denied gap if err indicates that access to
// the log was refused.
func (c *cursor) fail(st *logState, err error) ([]logstore.Record, *logstore.Gap, error) {
	if journal.IsAccessDenied(err) {
		st.Denied = true
		return nil, c.gap(st, st.Range.Until, logstore.GapAccessDenied), nil
	}
	return nil, nil, err
}

// gap returns a gap of the given kind from st.Next to high, inclusive, and
// advances st past it.
func (c *cursor) gap(st *logState, high logstore.LSN, k logstore.GapKind) *logstore.Gap {
	g := &logstore.Gap{
		LogID: st.Range.LogID,
		Low:   st.Next,
		High:  high,
		Kind:  k,
	}

	c.advance(st, high)

	return g
}

// advance marks every LSN up to and including n as accounted for.
func (c *cursor) advance(st *logState, n logstore.LSN) {
	if n >= st.Range.Until {
		st.Done = true
		st.Next = st.Range.Until
		return
	}
	st.Next = n + 1
}

func (c *cursor) Ready() <-chan struct{} {
	return c.store.notify.Ready(c.store.pollInterval)
}

func (c *cursor) Close() error {
	c.closed = true
	c.logs = nil
	c.order = nil
	return nil
}
