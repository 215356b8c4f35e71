package logstore

import (
	"context"
	"time"

	"github.com/dogmatiq/logkit/internal/telemetry"
)

// WithTelemetry returns a [Store] that adds telemetry to s.
func WithTelemetry(s Store, p telemetry.Provider) Store {
	r := p.Recorder(
		"github.com/dogmatiq/logkit",
		"logstore",
		telemetry.Type("store", s),
	)

	return &instrumentedStore{
		Next:      s,
		Telemetry: r,
		RecordIO: r.Counter(
			"record.io",
			"{record}",
			"The number of records that have been appended and delivered.",
		),
		DataIO: r.Counter(
			"io",
			"By",
			"The cumulative size of the record payloads that have been appended and delivered.",
		),
		Gaps: r.Counter(
			"gaps",
			"{gap}",
			"The number of gaps that have been delivered, by kind.",
		),
		OpenCursors: r.UpDownCounter(
			"open_cursors",
			"{cursor}",
			"The number of cursors that are currently open.",
		),
	}
}

type instrumentedStore struct {
	Next      Store
	Telemetry *telemetry.Recorder

	RecordIO    telemetry.Instrument[int64]
	DataIO      telemetry.Instrument[int64]
	Gaps        telemetry.Instrument[int64]
	OpenCursors telemetry.Instrument[int64]
}

func (s *instrumentedStore) Append(
	ctx context.Context,
	id LogID,
	payload []byte,
	attrs AppendAttributes,
) (AppendResult, error) {
	ctx, span := s.Telemetry.StartSpan(
		ctx,
		"append",
		telemetry.Int("log_id", id),
		telemetry.Int("payload_size", len(payload)),
		telemetry.If(attrs.Key != "", telemetry.String("key", attrs.Key)),
	)
	defer span.End()

	res, err := s.Next.Append(ctx, id, payload, attrs)
	if err != nil {
		span.Error("could not append record", err)
		return AppendResult{}, err
	}

	s.RecordIO(ctx, 1, telemetry.WriteDirection)
	s.DataIO(ctx, int64(len(payload)), telemetry.WriteDirection)

	span.SetAttributes(telemetry.Int("lsn", res.LSN))
	span.Debug("appended record")

	return res, nil
}

func (s *instrumentedStore) AppendBatch(
	ctx context.Context,
	id LogID,
	payloads [][]byte,
	attrs AppendAttributes,
) ([]AppendResult, error) {
	ctx, span := s.Telemetry.StartSpan(
		ctx,
		"append_batch",
		telemetry.Int("log_id", id),
		telemetry.Int("batch_size", len(payloads)),
	)
	defer span.End()

	res, err := s.Next.AppendBatch(ctx, id, payloads, attrs)

	size := 0
	for _, p := range payloads[:len(res)] {
		size += len(p)
	}

	s.RecordIO(ctx, int64(len(res)), telemetry.WriteDirection)
	s.DataIO(ctx, int64(size), telemetry.WriteDirection)

	span.SetAttributes(telemetry.Int("appended", len(res)))
	if len(res) != 0 {
		span.SetAttributes(
			telemetry.Int("first_lsn", res[0].LSN),
			telemetry.Int("last_lsn", res[len(res)-1].LSN),
		)
	}

	if err != nil {
		span.Error("could not append entire batch", err)
		return res, err
	}

	span.Debug("appended batch")

	return res, nil
}

func (s *instrumentedStore) OpenCursor(ctx context.Context, opts CursorOptions) (Cursor, error) {
	handle := telemetry.HandleID()

	ctx, span := s.Telemetry.StartSpan(
		ctx,
		"open_cursor",
		telemetry.String("handle", handle),
		telemetry.Int("max_logs", opts.MaxLogs),
		telemetry.Bool("filtered", opts.Filter != nil),
	)
	defer span.End()

	next, err := s.Next.OpenCursor(ctx, opts)
	if err != nil {
		span.Error("could not open cursor", err)
		return nil, err
	}

	s.OpenCursors(ctx, 1)
	span.Debug("opened cursor")

	return &instrumentedCursor{
		Next:   next,
		Store:  s,
		Handle: telemetry.String("handle", handle),
	}, nil
}

func (s *instrumentedStore) Trim(ctx context.Context, id LogID, n LSN) error {
	ctx, span := s.Telemetry.StartSpan(
		ctx,
		"trim",
		telemetry.Int("log_id", id),
		telemetry.Int("trimmed_lsn", n),
	)
	defer span.End()

	if err := s.Next.Trim(ctx, id, n); err != nil {
		span.Error("could not trim log", err)
		return err
	}

	span.Debug("trimmed log")

	return nil
}

func (s *instrumentedStore) TailLSN(ctx context.Context, id LogID) (LSN, error) {
	ctx, span := s.Telemetry.StartSpan(
		ctx,
		"tail_lsn",
		telemetry.Int("log_id", id),
	)
	defer span.End()

	n, err := s.Next.TailLSN(ctx, id)
	if err != nil {
		span.Error("could not fetch tail LSN", err)
		return 0, err
	}

	span.SetAttributes(telemetry.Int("tail_lsn", n))
	span.Debug("fetched tail LSN")

	return n, nil
}

func (s *instrumentedStore) FindTime(ctx context.Context, id LogID, t time.Time) (LSN, error) {
	ctx, span := s.Telemetry.StartSpan(
		ctx,
		"find_time",
		telemetry.Int("log_id", id),
		telemetry.String("time", t.Format(time.RFC3339Nano)),
	)
	defer span.End()

	n, err := s.Next.FindTime(ctx, id, t)
	if err != nil {
		span.Error("could not find LSN by time", err)
		return 0, err
	}

	span.SetAttributes(telemetry.Int("lsn", n))
	span.Debug("found LSN by time")

	return n, nil
}

func (s *instrumentedStore) Close() error {
	_, span := s.Telemetry.StartSpan(context.Background(), "close")
	defer span.End()

	if err := s.Next.Close(); err != nil {
		span.Error("could not close store", err)
		return err
	}

	span.Debug("closed store")

	return nil
}

type instrumentedCursor struct {
	Next   Cursor
	Store  *instrumentedStore
	Handle telemetry.Attr
	closed bool
}

func (c *instrumentedCursor) StartReading(ctx context.Context, r ReadRange) error {
	ctx, span := c.Store.Telemetry.StartSpan(
		ctx,
		"start_reading",
		c.Handle,
		telemetry.Int("log_id", r.LogID),
		telemetry.Int("start", r.Start),
		telemetry.If(!r.IsUnbounded(), telemetry.Int("until", r.Until)),
	)
	defer span.End()

	if err := c.Next.StartReading(ctx, r); err != nil {
		span.Error("could not start reading", err)
		return err
	}

	span.Debug("started reading")

	return nil
}

func (c *instrumentedCursor) StopReading(ctx context.Context, id LogID) error {
	ctx, span := c.Store.Telemetry.StartSpan(
		ctx,
		"stop_reading",
		c.Handle,
		telemetry.Int("log_id", id),
	)
	defer span.End()

	if err := c.Next.StopReading(ctx, id); err != nil {
		span.Error("could not stop reading", err)
		return err
	}

	span.Debug("stopped reading")

	return nil
}

func (c *instrumentedCursor) Pull(ctx context.Context, max int) (Batch, error) {
	b, err := c.Next.Pull(ctx, max)
	if err != nil {
		c.Store.Telemetry.Error(ctx, "logstore.pull_failed", err, c.Handle)
		return Batch{}, err
	}

	if len(b.Records) != 0 {
		size := 0
		for _, rec := range b.Records {
			size += len(rec.Payload)
		}

		c.Store.RecordIO(ctx, int64(len(b.Records)), telemetry.ReadDirection)
		c.Store.DataIO(ctx, int64(size), telemetry.ReadDirection)
	}

	if b.Gap != nil {
		c.Store.Gaps(ctx, 1, telemetry.Stringer("kind", b.Gap.Kind))
	}

	return b, nil
}

func (c *instrumentedCursor) Ready() <-chan struct{} {
	return c.Next.Ready()
}

func (c *instrumentedCursor) Close() error {
	if !c.closed {
		c.closed = true
		c.Store.OpenCursors(context.Background(), -1)
	}
	return c.Next.Close()
}
