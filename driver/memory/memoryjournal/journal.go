package memoryjournal

import (
	"context"
	"errors"
	"sync"

	"github.com/dogmatiq/dyad"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// state is the in-memory state of a journal.
type state struct {
	sync.RWMutex
	Begin, End logstore.LSN
	Entries    []entry
}

type entry struct {
	journal.Entry
	lost bool
}

// journ is an implementation of [journal.Journal] that manipulates a journal's
// in-memory [state].
type journ struct {
	id    logstore.LogID
	state *state
}

func (j *journ) LogID() logstore.LogID {
	return j.id
}

func (j *journ) Bounds(ctx context.Context) (journal.Interval, error) {
	if j.state == nil {
		panic("journal is closed")
	}

	j.state.RLock()
	defer j.state.RUnlock()

	return journal.Interval{
		Begin: j.state.Begin,
		End:   j.state.End,
	}, ctx.Err()
}

func (j *journ) Get(ctx context.Context, n logstore.LSN) (journal.Entry, error) {
	if j.state == nil {
		panic("journal is closed")
	}

	j.state.RLock()
	defer j.state.RUnlock()

	if n < j.state.Begin || n >= j.state.End {
		return journal.Entry{}, journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	e := j.state.Entries[n-j.state.Begin]
	if e.lost {
		return journal.Entry{}, journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	return cloneEntry(e.Entry), ctx.Err()
}

func (j *journ) Range(
	ctx context.Context,
	n logstore.LSN,
	fn journal.RangeFunc,
) error {
	if j.state == nil {
		panic("journal is closed")
	}

	st := j.state

	st.RLock()
	begin := st.Begin
	end := st.End
	entries := st.Entries
	st.RUnlock()

	if n < begin || n >= end {
		return journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	entries = entries[n-begin:]

	for i := range entries {
		// Lose marks entries in place, so each one is read under the lock.
		st.RLock()
		e := entries[i]
		st.RUnlock()

		if e.lost {
			return journal.RecordNotFoundError{LogID: j.id, LSN: n + logstore.LSN(i)}
		}

		ok, err := fn(ctx, n+logstore.LSN(i), cloneEntry(e.Entry))
		if !ok || err != nil {
			return err
		}
	}

	return ctx.Err()
}

func (j *journ) Append(ctx context.Context, n logstore.LSN, e journal.Entry) error {
	if j.state == nil {
		panic("journal is closed")
	}

	e = cloneEntry(e)

	j.state.Lock()
	defer j.state.Unlock()

	switch {
	case n < j.state.End:
		return journal.ErrConflict
	case n == j.state.End:
		j.state.Entries = append(j.state.Entries, entry{Entry: e})
		j.state.End++
	default:
		panic("LSN out of range, this causes undefined behavior in a real journal implementation")
	}

	return ctx.Err()
}

func (j *journ) Truncate(ctx context.Context, n logstore.LSN) error {
	if j.state == nil {
		panic("journal is closed")
	}

	j.state.Lock()
	defer j.state.Unlock()

	if n > j.state.End {
		panic("LSN out of range, this causes undefined behavior in a real journal implementation")
	}

	if n > j.state.Begin {
		// Copy the retained entries so that any Range call that already
		// captured the old slice is unaffected.
		j.state.Entries = append([]entry(nil), j.state.Entries[n-j.state.Begin:]...)
		j.state.Begin = n
	}

	return ctx.Err()
}

func (j *journ) Close() error {
	if j.state == nil {
		return errors.New("journal is already closed")
	}

	j.state = nil

	return nil
}

func cloneEntry(e journal.Entry) journal.Entry {
	return journal.Entry{
		Timestamp: e.Timestamp,
		Key:       e.Key,
		Payload:   dyad.Clone(e.Payload),
	}
}
