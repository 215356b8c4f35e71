package journal

import (
	"context"

	"github.com/dogmatiq/logkit/internal/telemetry"
	"github.com/dogmatiq/logkit/logstore"
)

// WithTelemetry returns a [Store] that adds telemetry to s.
func WithTelemetry(s Store, p telemetry.Provider) Store {
	return &instrumentedStore{
		Next:      s,
		Telemetry: p,
	}
}

// instrumentedStore is a decorator that adds instrumentation to a [Store].
type instrumentedStore struct {
	Next      Store
	Telemetry telemetry.Provider
}

func (s *instrumentedStore) recorder(id logstore.LogID, attrs ...telemetry.Attr) *telemetry.Recorder {
	return s.Telemetry.Recorder(
		"github.com/dogmatiq/logkit",
		"journal",
		append(
			attrs,
			telemetry.Type("store", s.Next),
			telemetry.Int("log_id", id),
		)...,
	)
}

func (s *instrumentedStore) Define(ctx context.Context, id logstore.LogID, cfg Config) error {
	r := s.recorder(id)

	ctx, span := r.StartSpan(
		ctx,
		"define",
		telemetry.String("label", cfg.Label),
		telemetry.Int("max_payload_size", cfg.MaxPayloadSize),
	)
	defer span.End()

	if err := s.Next.Define(ctx, id, cfg); err != nil {
		span.Error("could not define log", err)
		return err
	}

	span.Debug("defined log")

	return nil
}

func (s *instrumentedStore) Lookup(ctx context.Context, id logstore.LogID) (Config, bool, error) {
	r := s.recorder(id)

	ctx, span := r.StartSpan(ctx, "lookup")
	defer span.End()

	cfg, ok, err := s.Next.Lookup(ctx, id)
	if err != nil {
		span.Error("could not look up log", err)
		return Config{}, false, err
	}

	span.SetAttributes(telemetry.Bool("defined", ok))
	span.Debug("looked up log")

	return cfg, ok, nil
}

func (s *instrumentedStore) Remove(ctx context.Context, id logstore.LogID) error {
	r := s.recorder(id)

	ctx, span := r.StartSpan(ctx, "remove")
	defer span.End()

	if err := s.Next.Remove(ctx, id); err != nil {
		span.Error("could not remove log", err)
		return err
	}

	span.Debug("removed log")

	return nil
}

func (s *instrumentedStore) Open(ctx context.Context, id logstore.LogID) (Journal, error) {
	r := s.recorder(
		id,
		telemetry.String("handle", telemetry.HandleID()),
	)

	ctx, span := r.StartSpan(ctx, "open")
	defer span.End()

	next, err := s.Next.Open(ctx, id)
	if err != nil {
		span.Error("could not open journal", err)
		return nil, err
	}

	j := &instrumentedJournal{
		Next:      next,
		Telemetry: r,
		OpenCount: r.UpDownCounter(
			"open_journals",
			"{journal}",
			"The number of journals that are currently open.",
		),
		ConflictCount: r.Counter(
			"conflicts",
			"{conflict}",
			"The number of times appending an entry to the journal has failed due to an optimistic-concurrency conflict.",
		),
		DataIO: r.Counter(
			"io",
			"By",
			"The cumulative size of the journal entries that have been read and written.",
		),
		EntryIO: r.Counter(
			"entry.io",
			"{entry}",
			"The number of journal entries that have been read and written.",
		),
		EntrySize: r.Histogram(
			"entry.size",
			"By",
			"The sizes of the journal entries that have been read and written.",
		),
	}

	j.OpenCount(ctx, 1)
	span.Debug("opened journal")

	return j, nil
}

type instrumentedJournal struct {
	Next      Journal
	Telemetry *telemetry.Recorder

	OpenCount     telemetry.Instrument[int64]
	ConflictCount telemetry.Instrument[int64]
	DataIO        telemetry.Instrument[int64]
	EntryIO       telemetry.Instrument[int64]
	EntrySize     telemetry.Instrument[int64]
}

func (j *instrumentedJournal) LogID() logstore.LogID {
	return j.Next.LogID()
}

func (j *instrumentedJournal) Bounds(ctx context.Context) (Interval, error) {
	ctx, span := j.Telemetry.StartSpan(ctx, "bounds")
	defer span.End()

	bounds, err := j.Next.Bounds(ctx)
	if err != nil {
		span.Error("could not fetch journal bounds", err)
		return Interval{}, err
	}

	span.SetAttributes(
		telemetry.Int("begin", bounds.Begin),
		telemetry.Int("end", bounds.End),
	)

	span.Debug("fetched journal bounds")

	return bounds, nil
}

func (j *instrumentedJournal) read(ctx context.Context, e Entry) {
	size := int64(e.Size())
	j.DataIO(ctx, size, telemetry.ReadDirection)
	j.EntryIO(ctx, 1, telemetry.ReadDirection)
	j.EntrySize(ctx, size, telemetry.ReadDirection)
}

func (j *instrumentedJournal) Get(ctx context.Context, n logstore.LSN) (Entry, error) {
	ctx, span := j.Telemetry.StartSpan(
		ctx,
		"get",
		telemetry.Int("lsn", n),
	)
	defer span.End()

	e, err := j.Next.Get(ctx, n)
	if err != nil {
		if IsNotFound(err) {
			span.SetAttributes(telemetry.Bool("not_found", true))
			span.Debug("journal entry not found")
		} else {
			span.Error("could not fetch journal entry", err)
		}
		return Entry{}, err
	}

	span.SetAttributes(
		telemetry.Int("entry_size", e.Size()),
	)

	j.read(ctx, e)
	span.Debug("fetched single journal entry")

	return e, nil
}

func (j *instrumentedJournal) Range(
	ctx context.Context,
	begin logstore.LSN,
	fn RangeFunc,
) error {
	ctx, span := j.Telemetry.StartSpan(
		ctx,
		"range",
		telemetry.Int("range_start", begin),
	)
	defer span.End()

	var (
		first, last logstore.LSN
		count       int
		totalSize   int
		brokeLoop   bool
	)

	span.Debug("reading journal entries")

	err := j.Next.Range(
		ctx,
		begin,
		func(ctx context.Context, n logstore.LSN, e Entry) (bool, error) {
			if count == 0 {
				first = n
			}
			last = n
			count++
			totalSize += e.Size()

			j.read(ctx, e)

			ok, err := fn(ctx, n, e)
			if ok || err != nil {
				return ok, err
			}

			brokeLoop = true
			return false, nil
		},
	)

	if count != 0 {
		span.SetAttributes(
			telemetry.Int("range_start", first),
			telemetry.Int("range_stop", last),
		)
	}

	span.SetAttributes(
		telemetry.Int("entries_read", count),
		telemetry.Int("bytes_read", totalSize),
		telemetry.Bool("reached_end", !brokeLoop && err == nil),
	)

	if err != nil {
		if IsNotFound(err) {
			span.SetAttributes(telemetry.Bool("not_found", true))
			span.Warn("journal entry missing within range")
		} else {
			span.Error("could not read journal entries", err)
		}
		return err
	}

	span.Debug("completed reading journal entries")

	return nil
}

func (j *instrumentedJournal) Append(ctx context.Context, n logstore.LSN, e Entry) error {
	size := int64(e.Size())

	ctx, span := j.Telemetry.StartSpan(
		ctx,
		"append",
		telemetry.Int("lsn", n),
		telemetry.Int("entry_size", size),
		telemetry.If(e.Key != "", telemetry.String("key", e.Key)),
	)
	defer span.End()

	j.DataIO(ctx, size, telemetry.WriteDirection)
	j.EntryIO(ctx, 1, telemetry.WriteDirection)
	j.EntrySize(ctx, size, telemetry.WriteDirection)

	if err := j.Next.Append(ctx, n, e); err != nil {
		if IsConflict(err) {
			span.SetAttributes(telemetry.Bool("conflict", true))
			span.Debug("journal entry conflicts with existing entry")
			j.ConflictCount(ctx, 1)
		} else {
			span.Error("unable to append journal entry", err)
		}
		return err
	}

	span.Debug("journal entry appended")

	return nil
}

func (j *instrumentedJournal) Truncate(ctx context.Context, n logstore.LSN) error {
	ctx, span := j.Telemetry.StartSpan(
		ctx,
		"truncate",
		telemetry.Int("retained_lsn", n),
	)
	defer span.End()

	if err := j.Next.Truncate(ctx, n); err != nil {
		span.Error("unable to truncate journal", err)
		return err
	}

	span.Debug("truncated oldest journal entries")

	return nil
}

func (j *instrumentedJournal) Close() error {
	ctx, span := j.Telemetry.StartSpan(context.Background(), "close")
	defer span.End()

	if j.Next == nil {
		span.Warn("journal is already closed")
		return nil
	}

	defer func() {
		j.Next = nil
		j.OpenCount(ctx, -1)
	}()

	if err := j.Next.Close(); err != nil {
		span.Error("could not close journal", err)
		return err
	}

	span.Debug("closed journal")

	return nil
}
