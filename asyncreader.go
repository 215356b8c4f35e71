package logkit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/logkit/internal/readcursor"
	"github.com/dogmatiq/logkit/internal/signaling"
	"github.com/dogmatiq/logkit/internal/telemetry"
	"github.com/dogmatiq/logkit/logstore"
	"golang.org/x/sync/errgroup"
)

// RecordHandler is called by an [AsyncReader] for each record it reads.
type RecordHandler func(context.Context, logstore.Record)

// GapHandler is called by an [AsyncReader] for each gap it encounters.
type GapHandler func(context.Context, logstore.Gap)

// DoneHandler is called by an [AsyncReader] when every LSN in the range of a
// log has been delivered as a record or a gap.
type DoneHandler func(context.Context, logstore.LogID)

// AsyncReader reads records from one or more logs and delivers them to
// handler functions.
//
// The handlers are called by a single goroutine owned by the reader, in order
// within each log. They must return promptly, as a slow handler delays
// delivery for every log. A handler that runs for longer than the budget set
// by [WithCallbackBudget] is reported as slow, but is not interrupted.
//
// Its methods are safe for concurrent use.
type AsyncReader struct {
	cfg       asyncReaderConfig
	cursor    *readcursor.Cursor
	telemetry *telemetry.Recorder

	handlers atomic.Pointer[asyncHandlers]
	dataLoss atomic.Bool

	// m guards subs, which maps each log that is being read to the
	// generation of its subscription. It is held while pulling so that
	// events are always tagged with the subscription that produced them.
	m    sync.Mutex
	subs map[logstore.LogID]uint64
	gen  uint64

	// dispatching is held while a handler is running.
	dispatching sync.Mutex
	started     signaling.Event

	events    chan asyncEvent
	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

type asyncEvent struct {
	LogID  logstore.LogID
	Gen    uint64
	Record logstore.Record
	Gap    *logstore.Gap
	Done   bool
}

type dispatchKey struct{}

// NewAsyncReader returns a reader that may read from up to maxLogs logs at the
// same time. Zero means no limit.
//
// The reader runs until it is closed.
func (c *Client) NewAsyncReader(ctx context.Context, maxLogs int, options ...AsyncReaderOption) (*AsyncReader, error) {
	cfg := asyncReaderConfig{
		cursorConfig: cursorConfig{
			pollInterval: DefaultPollInterval,
		},
		eventBuffer:    DefaultEventBuffer,
		callbackBudget: DefaultCallbackBudget,
	}

	for _, opt := range options {
		opt.applyAsyncReaderOption(&cfg)
	}

	cur, err := c.openCursor(ctx, maxLogs, cfg.cursorConfig)
	if err != nil {
		return nil, err
	}

	rec := c.recorder("async_reader")

	r := &AsyncReader{
		cfg:       cfg,
		cursor:    readcursor.New(cur, maxLogs, rec),
		telemetry: rec,
		subs:      map[logstore.LogID]uint64{},
		events:    make(chan asyncEvent, cfg.eventBuffer),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.group, runCtx = errgroup.WithContext(runCtx)
	r.group.Go(func() error { return r.deliver(runCtx) })
	r.group.Go(func() error { return r.dispatch(runCtx) })

	return r, nil
}

// asyncHandlers is the set of handlers registered with an [AsyncReader]. It
// is replaced as a whole whenever a handler changes.
type asyncHandlers struct {
	Record RecordHandler
	Gap    GapHandler
	Done   DoneHandler
}

// SetRecordHandler sets the function that is called for each record.
func (r *AsyncReader) SetRecordHandler(h RecordHandler) {
	r.setHandler(func(x *asyncHandlers) { x.Record = h })
}

// SetGapHandler sets the function that is called for each gap.
func (r *AsyncReader) SetGapHandler(h GapHandler) {
	r.setHandler(func(x *asyncHandlers) { x.Gap = h })
}

// SetDoneHandler sets the function that is called when a log is exhausted.
func (r *AsyncReader) SetDoneHandler(h DoneHandler) {
	r.setHandler(func(x *asyncHandlers) { x.Done = h })
}

func (r *AsyncReader) setHandler(fn func(*asyncHandlers)) {
	for {
		prev := r.handlers.Load()

		next := &asyncHandlers{}
		if prev != nil {
			*next = *prev
		}
		fn(next)

		if r.handlers.CompareAndSwap(prev, next) {
			return
		}
	}
}

// StartReading begins reading the records of a log with LSNs in the range
// [start, until].
//
// Failures are reported as a [*logstore.StartError].
func (r *AsyncReader) StartReading(ctx context.Context, id logstore.LogID, start, until logstore.LSN) error {
	r.m.Lock()
	defer r.m.Unlock()

	if err := r.cursor.Start(
		ctx,
		logstore.ReadRange{
			LogID: id,
			Start: start,
			Until: until,
		},
	); err != nil {
		return err
	}

	r.gen++
	r.subs[id] = r.gen
	r.started.Signal()

	return nil
}

// StopReading stops reading from a log. It is a no-op if the reader is not
// reading from the log.
//
// Once it returns no handler is called for the log, unless reading is started
// again. If a handler for the log is running it waits for it to return. A
// handler that calls StopReading must pass the context it was given.
func (r *AsyncReader) StopReading(ctx context.Context, id logstore.LogID) error {
	r.m.Lock()
	delete(r.subs, id)
	err := r.cursor.Stop(ctx, id)
	r.m.Unlock()

	if ctx.Value(dispatchKey{}) != r {
		// Wait for the running handler, if any, to return.
		r.dispatching.Lock()
		defer r.dispatching.Unlock()
	}

	return err
}

// HasDataLoss returns true if the reader has delivered a
// [logstore.GapDataLoss] gap.
func (r *AsyncReader) HasDataLoss() bool {
	return r.dataLoss.Load()
}

// Close stops reading from all logs.
//
// Once it returns no handler is called. It must not be called by a handler.
// It is safe to call Close more than once.
func (r *AsyncReader) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		r.group.Wait()
		r.closeErr = r.cursor.Close()
	})

	return r.closeErr
}

// deliver pulls events from the cursor and sends them to the dispatcher.
func (r *AsyncReader) deliver(ctx context.Context) error {
	var failures int

	for {
		ready := r.cursor.Ready()

		events, err := r.pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			r.telemetry.Error(ctx, "logkit.pull_failed", err)

			failures++
			delay := r.cfg.pollInterval << min(failures, 6)

			if err := linger.SleepX(ctx, linger.FullJitter, delay); err != nil {
				return nil
			}

			continue
		}

		failures = 0

		if len(events) == 0 {
			if err := wait(ctx, r.cfg.cursorConfig, ready, r.started.Signaled()); err != nil {
				return nil
			}
			continue
		}

		for _, ev := range events {
			select {
			case <-ctx.Done():
				return nil
			case r.events <- ev:
			}
		}
	}
}

// pull pulls a batch from the cursor and tags each of its events with the
// subscription that produced it.
func (r *AsyncReader) pull(ctx context.Context) ([]asyncEvent, error) {
	r.m.Lock()
	defer r.m.Unlock()

	b, err := r.cursor.Pull(ctx, r.cfg.eventBuffer)
	if err != nil || b.IsEmpty() {
		return nil, err
	}

	var (
		events []asyncEvent
		logs   []logstore.LogID
	)

	see := func(id logstore.LogID) {
		if len(logs) == 0 || logs[len(logs)-1] != id {
			logs = append(logs, id)
		}
	}

	for _, rec := range b.Records {
		if gen, ok := r.subs[rec.LogID]; ok {
			events = append(events, asyncEvent{LogID: rec.LogID, Gen: gen, Record: rec})
			see(rec.LogID)
		}
	}

	if g := b.Gap; g != nil {
		if gen, ok := r.subs[g.LogID]; ok {
			events = append(events, asyncEvent{LogID: g.LogID, Gen: gen, Gap: g})
			see(g.LogID)
		}
	}

	for _, id := range logs {
		if r.cursor.State(id) == readcursor.Exhausted {
			events = append(events, asyncEvent{LogID: id, Gen: r.subs[id], Done: true})
		}
	}

	return events, nil
}

// dispatch calls the handlers for each event sent by deliver.
func (r *AsyncReader) dispatch(ctx context.Context) error {
	hctx := context.WithValue(ctx, dispatchKey{}, r)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			r.dispatchEvent(hctx, ev)
		}
	}
}

func (r *AsyncReader) dispatchEvent(ctx context.Context, ev asyncEvent) {
	r.dispatching.Lock()
	defer r.dispatching.Unlock()

	if ctx.Err() != nil {
		return
	}

	r.m.Lock()
	gen, ok := r.subs[ev.LogID]
	if ok && gen == ev.Gen && ev.Done {
		delete(r.subs, ev.LogID)
	}
	r.m.Unlock()

	if !ok || gen != ev.Gen {
		return
	}

	var h asyncHandlers
	if p := r.handlers.Load(); p != nil {
		h = *p
	}

	start := time.Now()
	event := "record"

	switch {
	case ev.Done:
		event = "done"
		if h.Done != nil {
			h.Done(ctx, ev.LogID)
		}
	case ev.Gap != nil:
		event = "gap"
		if ev.Gap.Kind.IsAnomaly() {
			r.dataLoss.Store(true)
		}
		if h.Gap != nil {
			h.Gap(ctx, *ev.Gap)
		}
	default:
		if h.Record != nil {
			h.Record(ctx, ev.Record)
		}
	}

	if d := time.Since(start); r.cfg.callbackBudget > 0 && d > r.cfg.callbackBudget {
		r.telemetry.Warn(
			ctx,
			"logkit.slow_handler",
			"handler exceeded its callback budget",
			telemetry.String("event", event),
			telemetry.Int("log_id", ev.LogID),
			telemetry.String("duration", d.String()),
			telemetry.String("budget", r.cfg.callbackBudget.String()),
		)
	}
}
