// Package journalstore implements [logstore.Store] on top of a
// [journal.Store].
package journalstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dogmatiq/logkit/internal/errorx"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// ErrClosed is returned by operations on a [Store] that has been closed,
// including operations that were still in progress when it was closed.
var ErrClosed = errors.New("store is closed")

// Store is an implementation of [logstore.Store] that keeps the records of
// each log in a [journal.Journal].
type Store struct {
	journals       journal.Store
	maxPayloadSize int
	pollInterval   time.Duration
	readBatchSize  int
	now            func() time.Time
	notify         notifier

	// done is canceled when the store is closed. Every in-flight operation
	// runs under a context derived from it and is counted by inflight.
	done     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	m      sync.Mutex
	closed bool
	open   map[logstore.LogID]journal.Journal
}

var _ logstore.Store = (*Store)(nil)

// New returns a [Store] that keeps its records in the journals of s.
func New(s journal.Store, options ...Option) *Store {
	st := &Store{
		journals:       s,
		maxPayloadSize: DefaultMaxPayloadSize,
		pollInterval:   DefaultPollInterval,
		readBatchSize:  DefaultReadBatchSize,
		now:            time.Now,
	}

	st.done, st.cancel = context.WithCancel(context.Background())

	for _, opt := range options {
		opt(st)
	}

	return st
}

// DefineLog makes a log available for appending and reading.
func (s *Store) DefineLog(ctx context.Context, id logstore.LogID, cfg journal.Config) error {
	return s.journals.Define(ctx, id, cfg)
}

// RemoveLog removes a log from the registry.
//
// Its records are retained, but appends fail and readers that reach the end
// of the log observe a [logstore.GapNotInConfig] gap.
func (s *Store) RemoveLog(ctx context.Context, id logstore.LogID) error {
	if err := s.journals.Remove(ctx, id); err != nil {
		return err
	}

	s.notify.Notify()

	return nil
}

// Append appends a single payload to the log.
func (s *Store) Append(
	ctx context.Context,
	id logstore.LogID,
	payload []byte,
	attrs logstore.AppendAttributes,
) (logstore.AppendResult, error) {
	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return logstore.AppendResult{}, logstore.NewAppendError(id, logstore.AppendOther, err)
	}
	defer release()

	limit, j, err := s.prepareAppend(ctx, id)
	if err != nil {
		return logstore.AppendResult{}, err
	}

	res, err := s.append(ctx, j, limit, payload, attrs)
	if err != nil {
		return logstore.AppendResult{}, err
	}

	s.notify.Notify()

	return res, nil
}

// AppendBatch appends several payloads to the log, in order.
func (s *Store) AppendBatch(
	ctx context.Context,
	id logstore.LogID,
	payloads [][]byte,
	attrs logstore.AppendAttributes,
) ([]logstore.AppendResult, error) {
	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return nil, logstore.NewAppendError(id, logstore.AppendOther, err)
	}
	defer release()

	limit, j, err := s.prepareAppend(ctx, id)
	if err != nil {
		return nil, err
	}

	results := make([]logstore.AppendResult, 0, len(payloads))
	defer func() {
		if len(results) != 0 {
			s.notify.Notify()
		}
	}()

	for _, p := range payloads {
		res, err := s.append(ctx, j, limit, p, attrs)
		if err != nil {
			return results, err
		}

		results = append(results, res)
	}

	return results, nil
}

// prepareAppend confirms that the log is defined and returns its payload size
// limit and journal.
func (s *Store) prepareAppend(
	ctx context.Context,
	id logstore.LogID,
) (int, journal.Journal, error) {
	cfg, ok, err := s.journals.Lookup(ctx, id)
	if err != nil {
		return 0, nil, s.appendError(ctx, id, err)
	}

	if !ok {
		return 0, nil, logstore.NewAppendError(id, logstore.AppendLogNotFound, nil)
	}

	j, err := s.journal(ctx, id)
	if err != nil {
		return 0, nil, s.appendError(ctx, id, err)
	}

	return cmp.Or(cfg.MaxPayloadSize, s.maxPayloadSize), j, nil
}

func (s *Store) append(
	ctx context.Context,
	j journal.Journal,
	limit int,
	payload []byte,
	attrs logstore.AppendAttributes,
) (logstore.AppendResult, error) {
	if len(payload) > limit {
		return logstore.AppendResult{}, logstore.NewAppendError(
			j.LogID(),
			logstore.AppendPayloadTooLarge,
			fmt.Errorf("payload is %d bytes, the limit is %d bytes", len(payload), limit),
		)
	}

	var ts time.Time

	n, err := journal.Append(
		ctx,
		j,
		func() journal.Entry {
			ts = s.now().UTC().Truncate(time.Microsecond)
			return journal.Entry{
				Timestamp: ts,
				Key:       attrs.Key,
				Payload:   payload,
			}
		},
	)
	if err != nil {
		return logstore.AppendResult{}, s.appendError(ctx, j.LogID(), err)
	}

	return logstore.AppendResult{
		LSN:       n,
		Timestamp: ts,
	}, nil
}

// appendError maps an error from the underlying journal store to an
// [*logstore.AppendError].
func (s *Store) appendError(ctx context.Context, id logstore.LogID, err error) error {
	reason := logstore.AppendUnavailable

	switch {
	case s.done.Err() != nil:
		reason = logstore.AppendOther
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, context.DeadlineExceeded):
		reason = logstore.AppendTimeout
	case errors.Is(err, context.Canceled):
		reason = logstore.AppendOther
	case ctx.Err() != nil:
		reason = logstore.AppendOther
	case journal.IsAccessDenied(err):
		reason = logstore.AppendAccessDenied
	}

	return logstore.NewAppendError(id, reason, err)
}

// OpenCursor opens a new cursor for reading from one or more logs.
func (s *Store) OpenCursor(ctx context.Context, opts logstore.CursorOptions) (logstore.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.isClosed() {
		return nil, ErrClosed
	}

	return &cursor{
		store:     s,
		opts:      opts,
		batchSize: cmp.Or(opts.BufferSize, s.readBatchSize),
		logs:      map[logstore.LogID]*logState{},
	}, nil
}

// Trim removes all records with an LSN less than or equal to n from the log.
func (s *Store) Trim(ctx context.Context, id logstore.LogID, n logstore.LSN) (err error) {
	defer errorx.Wrap(&err, "unable to trim log %s", id)

	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	j, err := s.definedJournal(ctx, id)
	if err != nil {
		return err
	}

	bounds, err := j.Bounds(ctx)
	if err != nil {
		return err
	}

	begin := bounds.End
	if n < bounds.End {
		begin = n + 1
	}

	if begin <= bounds.Begin {
		return nil
	}

	if err := j.Truncate(ctx, begin); err != nil {
		return err
	}

	s.notify.Notify()

	return nil
}

// TailLSN returns the LSN of the most recently appended record.
func (s *Store) TailLSN(ctx context.Context, id logstore.LogID) (_ logstore.LSN, err error) {
	defer errorx.Wrap(&err, "unable to fetch tail LSN of log %s", id)

	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	j, err := s.definedJournal(ctx, id)
	if err != nil {
		return 0, err
	}

	bounds, err := j.Bounds(ctx)
	if err != nil {
		return 0, err
	}

	return bounds.End - 1, nil
}

// FindTime returns the LSN of the oldest retained record whose timestamp is
// at or after t.
func (s *Store) FindTime(ctx context.Context, id logstore.LogID, t time.Time) (_ logstore.LSN, err error) {
	defer errorx.Wrap(&err, "unable to find LSN of log %s by time", id)

	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	j, err := s.definedJournal(ctx, id)
	if err != nil {
		return 0, err
	}

	bounds, err := j.Bounds(ctx)
	if err != nil {
		return 0, err
	}

	return journal.Search(
		ctx,
		j,
		bounds.Begin,
		bounds.End,
		func(_ context.Context, _ logstore.LSN, e journal.Entry) (bool, error) {
			return !e.Timestamp.Before(t), nil
		},
	)
}

// Close closes all open journals.
//
// Operations that are in progress are canceled, and Close waits for them to
// return before closing the journals.
func (s *Store) Close() error {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return nil
	}
	s.closed = true
	s.m.Unlock()

	s.cancel()
	s.inflight.Wait()

	s.m.Lock()
	defer s.m.Unlock()

	var errs []error
	for _, j := range s.open {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.open = nil

	s.notify.Notify()

	return errors.Join(errs...)
}

// acquire registers an in-flight operation. The returned context is canceled
// if the store is closed, and release must be called when the operation ends.
func (s *Store) acquire(ctx context.Context) (_ context.Context, release func(), _ error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return nil, nil, ErrClosed
	}

	s.inflight.Add(1)

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.done, cancel)

	return ctx, func() {
		stop()
		cancel()
		s.inflight.Done()
	}, nil
}

func (s *Store) isClosed() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closed
}

// definedJournal returns the journal of a log, or [logstore.ErrLogNotFound] if
// the log is not defined.
func (s *Store) definedJournal(ctx context.Context, id logstore.LogID) (journal.Journal, error) {
	_, ok, err := s.journals.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, logstore.ErrLogNotFound
	}

	return s.journal(ctx, id)
}

// journal returns the journal of a log, opening it if necessary.
func (s *Store) journal(ctx context.Context, id logstore.LogID) (journal.Journal, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if j, ok := s.open[id]; ok {
		return j, nil
	}

	j, err := s.journals.Open(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.open == nil {
		s.open = map[logstore.LogID]journal.Journal{}
	}
	s.open[id] = j

	return j, nil
}
