package logkit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/logkit/internal/future"
	"github.com/dogmatiq/logkit/internal/signaling"
	"github.com/dogmatiq/logkit/internal/telemetry"
	"github.com/dogmatiq/logkit/logstore"
)

// BufferedWriter appends payloads to logs in batches.
//
// Each payload written to the same log is appended in the order it was
// written, and its outcome is reported by its own [AppendFuture]. There is no
// ordering between payloads written to different logs.
//
// It is safe for concurrent use.
type BufferedWriter struct {
	client    *Client
	cfg       writerConfig
	telemetry *telemetry.Recorder

	batches   telemetry.Instrument[int64]
	batchSize telemetry.Instrument[int64]
	retries   telemetry.Instrument[int64]
	buffered  telemetry.Instrument[int64]

	// closed is signaled by Close. It is only set while m is held.
	closed signaling.Latch

	m       sync.Mutex
	urgent  int
	size    int
	queues  map[logstore.LogID]*writeQueue
	workers sync.WaitGroup
}

// writeQueue is the queue of payloads waiting to be appended to a single log.
// Its fields are guarded by the writer's mutex.
type writeQueue struct {
	LogID    logstore.LogID
	Pending  []*pendingWrite
	InFlight []*pendingWrite
	Wake     signaling.Event
}

type pendingWrite struct {
	Payload   []byte
	Key       string
	Timestamp bool
	Future    future.Failable[logstore.AppendResult]
	Resolver  future.FailableResolver[logstore.AppendResult]
}

// AppendFuture is the eventual outcome of a payload written to a
// [BufferedWriter].
type AppendFuture struct {
	f future.Failable[logstore.AppendResult]
}

// Ready returns a channel that is closed when the outcome is known.
func (f AppendFuture) Ready() <-chan struct{} {
	return f.f.Ready()
}

// Get returns the outcome. It panics if the outcome is not yet known.
func (f AppendFuture) Get() (logstore.AppendResult, error) {
	return f.f.Get()
}

// Wait blocks until the outcome is known, then returns it.
//
// Failures to append the payload are reported as a [*logstore.AppendError].
func (f AppendFuture) Wait(ctx context.Context) (logstore.AppendResult, error) {
	return f.f.Wait(ctx)
}

// NewBufferedWriter returns a writer that appends to the client's logs.
func (c *Client) NewBufferedWriter(options ...WriterOption) *BufferedWriter {
	cfg := writerConfig{
		maxBatchRecords: DefaultMaxBatchRecords,
		maxBatchBytes:   DefaultMaxBatchBytes,
		maxDelay:        DefaultMaxDelay,
		memoryLimit:     DefaultMemoryLimit,
		retryLimit:      DefaultRetryLimit,
		retryDelay:      DefaultRetryDelay,
	}

	for _, opt := range options {
		opt.applyWriterOption(&cfg)
	}

	r := c.recorder("writer")

	return &BufferedWriter{
		client:    c,
		cfg:       cfg,
		telemetry: r,
		batches: r.Counter(
			"batches",
			"{batch}",
			"The number of batches that have been appended.",
		),
		batchSize: r.Histogram(
			"batch.size",
			"{record}",
			"The number of payloads in each batch.",
		),
		retries: r.Counter(
			"retries",
			"{attempt}",
			"The number of times a batch has been retried.",
		),
		buffered: r.UpDownCounter(
			"buffered",
			"By",
			"The combined size of the payloads waiting to be appended.",
		),
		queues: map[logstore.LogID]*writeQueue{},
	}
}

// Write queues a payload to be appended to a log.
//
// It returns immediately. The payload is copied, so the caller may reuse it.
// It returns [ErrWriterClosed] if the writer is closed, or [ErrWriterFull] if
// the writer can not accept the payload without exceeding its memory limit.
func (w *BufferedWriter) Write(
	id logstore.LogID,
	payload []byte,
	options ...AppendOption,
) (AppendFuture, error) {
	var cfg appendConfig
	for _, opt := range options {
		opt.applyAppendOption(&cfg)
	}

	w.m.Lock()
	defer w.m.Unlock()

	if w.closed.IsSignaled() {
		return AppendFuture{}, ErrWriterClosed
	}

	if w.size+len(payload) > w.cfg.memoryLimit {
		return AppendFuture{}, ErrWriterFull
	}

	f, r := future.NewFailable[logstore.AppendResult]()
	p := &pendingWrite{
		Payload:   append([]byte(nil), payload...),
		Key:       cfg.key,
		Timestamp: cfg.timestamp,
		Future:    f,
		Resolver:  r,
	}

	w.size += len(payload)
	w.buffered(context.Background(), int64(len(payload)))

	q, ok := w.queues[id]
	if !ok {
		q = &writeQueue{LogID: id}
		w.queues[id] = q
		w.workers.Add(1)
		go w.run(q)
	}

	q.Pending = append(q.Pending, p)
	q.Wake.Signal()

	return AppendFuture{f}, nil
}

// Flush blocks until every payload written before the call has been appended
// or has failed.
//
// Payloads are appended without waiting for the maximum delay while a flush
// is in progress.
func (w *BufferedWriter) Flush(ctx context.Context) error {
	w.m.Lock()
	pending := w.hurry()
	w.urgent++
	w.m.Unlock()

	defer func() {
		w.m.Lock()
		w.urgent--
		w.m.Unlock()
	}()

	return waitFor(ctx, pending)
}

// Close stops the writer from accepting new payloads, then blocks until every
// payload that has already been written has been appended or has failed.
//
// It is safe to call Close more than once.
func (w *BufferedWriter) Close(ctx context.Context) error {
	w.m.Lock()
	w.closed.Signal()
	pending := w.hurry()
	w.m.Unlock()

	if err := waitFor(ctx, pending); err != nil {
		return err
	}

	w.workers.Wait()

	return nil
}

// hurry wakes every worker and returns the payloads that have not yet been
// resolved. w.m must be held.
func (w *BufferedWriter) hurry() []*pendingWrite {
	var pending []*pendingWrite

	for _, q := range w.queues {
		pending = append(pending, q.InFlight...)
		pending = append(pending, q.Pending...)
		q.Wake.Signal()
	}

	return pending
}

func waitFor(ctx context.Context, pending []*pendingWrite) error {
	for _, p := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Future.Ready():
		}
	}

	return nil
}

// run appends the payloads in q until it is empty.
func (w *BufferedWriter) run(q *writeQueue) {
	defer w.workers.Done()

	for {
		batch := w.next(q)
		if batch == nil {
			return
		}

		w.write(q.LogID, batch)

		w.m.Lock()
		q.InFlight = nil
		w.m.Unlock()
	}
}

// next waits until the payloads at the front of q should be appended, then
// removes them from the queue. It returns nil, and removes q from the writer,
// if q is empty.
func (w *BufferedWriter) next(q *writeQueue) []*pendingWrite {
	var deadline <-chan time.Time

	if w.cfg.maxDelay > 0 {
		t := time.NewTimer(w.cfg.maxDelay)
		defer t.Stop()
		deadline = t.C
	}

	for {
		w.m.Lock()

		if len(q.Pending) == 0 {
			delete(w.queues, q.LogID)
			w.m.Unlock()
			return nil
		}

		n, full := w.batchLen(q.Pending)

		if full || deadline == nil || w.closed.IsSignaled() || w.urgent > 0 {
			batch := q.Pending[:n:n]
			q.Pending = q.Pending[n:]
			q.InFlight = batch
			w.m.Unlock()
			return batch
		}

		w.m.Unlock()

		select {
		case <-deadline:
			deadline = nil
		case <-q.Wake.Signaled():
		case <-w.closed.Signaled():
		}
	}
}

// batchLen returns the number of payloads at the front of pending that can be
// appended together, and whether the batch can not grow any larger.
func (w *BufferedWriter) batchLen(pending []*pendingWrite) (n int, full bool) {
	key := pending[0].Key
	size := 0

	for n < len(pending) {
		p := pending[n]

		if p.Key != key {
			return n, true
		}

		if n != 0 && size+len(p.Payload) > w.cfg.maxBatchBytes {
			return n, true
		}

		n++
		size += len(p.Payload)

		if n == w.cfg.maxBatchRecords || size >= w.cfg.maxBatchBytes {
			return n, true
		}
	}

	return n, false
}

// write appends a batch of payloads to a log, retrying transient failures,
// and resolves the future of each payload.
func (w *BufferedWriter) write(id logstore.LogID, batch []*pendingWrite) {
	ctx := context.Background()

	payloads := make([][]byte, len(batch))
	for i, p := range batch {
		payloads[i] = p.Payload
	}

	w.batches(ctx, 1)
	w.batchSize(ctx, int64(len(batch)))

	attrs := logstore.AppendAttributes{Key: batch[0].Key}

	for attempt := 0; ; attempt++ {
		results, err := w.appendBatch(ctx, id, payloads, attrs)

		for i, res := range results {
			w.settle(batch[i], res, nil)
		}

		batch = batch[len(results):]
		payloads = payloads[len(results):]

		if err == nil {
			if len(batch) == 0 {
				return
			}
			err = logstore.NewAppendError(id, logstore.AppendOther, errIncompleteBatch)
		}

		if attempt >= w.cfg.retryLimit || !logstore.IsTransientAppendError(err) {
			w.telemetry.Error(
				ctx,
				"logkit.append_failed",
				err,
				telemetry.Int("log_id", id),
				telemetry.Int("payloads", len(batch)),
			)

			for _, p := range batch {
				w.settle(p, logstore.AppendResult{}, err)
			}

			return
		}

		w.retries(ctx, 1)
		w.telemetry.Warn(
			ctx,
			"logkit.append_retry",
			"retrying append after a transient failure",
			telemetry.Int("log_id", id),
			telemetry.Int("attempt", attempt+1),
			telemetry.String("error", err.Error()),
		)

		linger.SleepX(ctx, linger.FullJitter, w.cfg.retryDelay<<attempt)
	}
}

func (w *BufferedWriter) appendBatch(
	ctx context.Context,
	id logstore.LogID,
	payloads [][]byte,
	attrs logstore.AppendAttributes,
) ([]logstore.AppendResult, error) {
	if w.client.closed.Load() {
		return nil, logstore.NewAppendError(id, logstore.AppendOther, ErrClientClosed)
	}

	ctx, cancel := linger.ContextWithTimeout(ctx, w.cfg.appendTimeout, DefaultAppendTimeout)
	defer cancel()

	return w.client.store.AppendBatch(ctx, id, payloads, attrs)
}

// settle releases the memory held by p, then resolves its future.
func (w *BufferedWriter) settle(p *pendingWrite, res logstore.AppendResult, err error) {
	w.m.Lock()
	w.size -= len(p.Payload)
	w.m.Unlock()

	w.buffered(context.Background(), -int64(len(p.Payload)))

	if !p.Timestamp {
		res.Timestamp = time.Time{}
	}

	p.Resolver.Resolve(res, err)
}

var errIncompleteBatch = errors.New("store did not append every payload in the batch")
