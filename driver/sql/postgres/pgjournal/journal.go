package pgjournal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dogmatiq/logkit/driver/sql/postgres/internal/bigint"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// journ is an implementation of [journal.Journal] that persists to a
// PostgreSQL database.
type journ struct {
	id logstore.LogID
	db *sql.DB
}

func (j *journ) LogID() logstore.LogID {
	return j.id
}

func (j *journ) Bounds(ctx context.Context) (bounds journal.Interval, err error) {
	oldest := logstore.LSNOldest

	row := j.db.QueryRowContext(
		ctx,
		`SELECT
			COALESCE((
				SELECT begin_lsn
				FROM logkit.journal
				WHERE log_id = $1
			), $2),
			COALESCE((
				SELECT MAX(lsn) + 1
				FROM logkit.record
				WHERE log_id = $1
			), $2)`,
		bigint.Unsigned(&j.id),
		bigint.Unsigned(&oldest),
	)

	if err := row.Scan(
		bigint.Unsigned(&bounds.Begin),
		bigint.Unsigned(&bounds.End),
	); err != nil {
		return journal.Interval{}, fmt.Errorf("cannot query journal bounds: %w", classify(err))
	}

	bounds.End = max(bounds.End, bounds.Begin)

	return bounds, nil
}

func (j *journ) Get(ctx context.Context, n logstore.LSN) (journal.Entry, error) {
	row := j.db.QueryRowContext(
		ctx,
		`SELECT r.timestamp, r.key, r.payload
		FROM logkit.record AS r
		WHERE r.log_id = $1
		AND r.lsn = $2
		AND r.lsn >= COALESCE((
			SELECT begin_lsn
			FROM logkit.journal
			WHERE log_id = $1
		), r.lsn)`,
		bigint.Unsigned(&j.id),
		bigint.Unsigned(&n),
	)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return journal.Entry{}, journal.RecordNotFoundError{LogID: j.id, LSN: n}
	} else if err != nil {
		return journal.Entry{}, fmt.Errorf("cannot scan journal entry: %w", classify(err))
	}

	return e, nil
}

func (j *journ) Range(
	ctx context.Context,
	n logstore.LSN,
	fn journal.RangeFunc,
) error {
	bounds, err := j.Bounds(ctx)
	if err != nil {
		return err
	}

	if !bounds.Contains(n) {
		return journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	rows, err := j.db.QueryContext(
		ctx,
		`SELECT lsn, timestamp, key, payload
		FROM logkit.record
		WHERE log_id = $1
		AND lsn >= $2
		ORDER BY lsn`,
		bigint.Unsigned(&j.id),
		bigint.Unsigned(&n),
	)
	if err != nil {
		return fmt.Errorf("cannot query journal entries: %w", classify(err))
	}
	defer rows.Close()

	expect := n

	for rows.Next() {
		var lsn logstore.LSN
		e, err := scanEntry(rows, bigint.Unsigned(&lsn))
		if err != nil {
			return fmt.Errorf("cannot scan journal entry: %w", classify(err))
		}

		if lsn != expect {
			return journal.RecordNotFoundError{LogID: j.id, LSN: expect}
		}
		expect++

		ok, err := fn(ctx, lsn, e)
		if !ok || err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("cannot range over journal entries: %w", classify(err))
	}

	if expect == n {
		return journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	return nil
}

func (j *journ) Append(ctx context.Context, n logstore.LSN, e journal.Entry) error {
	oldest := logstore.LSNOldest

	var ts sql.NullTime
	if !e.Timestamp.IsZero() {
		ts = sql.NullTime{Time: e.Timestamp, Valid: true}
	}

	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}

	res, err := j.db.ExecContext(
		ctx,
		`INSERT INTO logkit.record
		(log_id, lsn, timestamp, key, payload)
		SELECT $1::BIGINT, $2::BIGINT, $3::TIMESTAMPTZ, $4::TEXT, $5::BYTEA
		WHERE $2::BIGINT >= COALESCE((
			SELECT begin_lsn
			FROM logkit.journal
			WHERE log_id = $1::BIGINT
		), $6::BIGINT)
		ON CONFLICT (log_id, lsn) DO NOTHING`,
		bigint.Unsigned(&j.id),
		bigint.Unsigned(&n),
		ts,
		e.Key,
		payload,
		bigint.Unsigned(&oldest),
	)
	if err != nil {
		return fmt.Errorf("cannot insert journal entry: %w", classify(err))
	}

	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cannot determine affected rows: %w", err)
	}

	if count != 1 {
		return journal.ErrConflict
	}

	return nil
}

func (j *journ) Truncate(ctx context.Context, n logstore.LSN) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot start transaction: %w", classify(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO logkit.journal AS j
		(log_id, begin_lsn) VALUES ($1, $2)
		ON CONFLICT (log_id) DO UPDATE SET
			begin_lsn = GREATEST(j.begin_lsn, excluded.begin_lsn)`,
		bigint.Unsigned(&j.id),
		bigint.Unsigned(&n),
	); err != nil {
		return fmt.Errorf("cannot update journal bounds: %w", classify(err))
	}

	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM logkit.record
		WHERE log_id = $1
		AND lsn < $2`,
		bigint.Unsigned(&j.id),
		bigint.Unsigned(&n),
	); err != nil {
		return fmt.Errorf("cannot truncate journal entries: %w", classify(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit truncation: %w", classify(err))
	}

	return nil
}

func (j *journ) Close() error {
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry scans the timestamp, key and payload columns of an entry,
// preceded by any additional destinations in prefix.
func scanEntry(s scanner, prefix ...any) (journal.Entry, error) {
	var (
		e  journal.Entry
		ts sql.NullTime
	)

	if err := s.Scan(append(prefix, &ts, &e.Key, &e.Payload)...); err != nil {
		return journal.Entry{}, err
	}

	if ts.Valid {
		e.Timestamp = ts.Time.UTC()
	}

	if len(e.Payload) == 0 {
		e.Payload = nil
	}

	return e, nil
}
