// Package pgjournal provides a PostgreSQL implementation of [journal.Store].
package pgjournal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dogmatiq/logkit/driver/sql/postgres/internal/bigint"
	"github.com/dogmatiq/logkit/driver/sql/postgres/internal/pgerror"
	"github.com/dogmatiq/logkit/internal/errorx"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// Store is an implementation of [journal.Store] that persists to a PostgreSQL
// database.
//
// The schema must be created with [CreateSchema] before the store is used.
type Store struct {
	// DB is the PostgreSQL database connection.
	DB *sql.DB
}

// Define adds a log to the registry, or replaces the configuration of an
// existing log.
func (s *Store) Define(ctx context.Context, id logstore.LogID, cfg journal.Config) (err error) {
	defer errorx.Wrap(&err, "unable to define log %d", id)

	_, err = s.DB.ExecContext(
		ctx,
		`INSERT INTO logkit.log
		(log_id, label, max_payload_size) VALUES ($1, $2, $3)
		ON CONFLICT (log_id) DO UPDATE SET
			label = excluded.label,
			max_payload_size = excluded.max_payload_size`,
		bigint.Unsigned(&id),
		cfg.Label,
		cfg.MaxPayloadSize,
	)

	return classify(err)
}

// Lookup returns the configuration of a log.
func (s *Store) Lookup(ctx context.Context, id logstore.LogID) (cfg journal.Config, ok bool, err error) {
	defer errorx.Wrap(&err, "unable to look up log %d", id)

	row := s.DB.QueryRowContext(
		ctx,
		`SELECT label, max_payload_size
		FROM logkit.log
		WHERE log_id = $1`,
		bigint.Unsigned(&id),
	)

	if err := row.Scan(&cfg.Label, &cfg.MaxPayloadSize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return journal.Config{}, false, nil
		}
		return journal.Config{}, false, classify(err)
	}

	return cfg, true, nil
}

// Remove removes a log from the registry.
func (s *Store) Remove(ctx context.Context, id logstore.LogID) (err error) {
	defer errorx.Wrap(&err, "unable to remove log %d", id)

	_, err = s.DB.ExecContext(
		ctx,
		`DELETE FROM logkit.log
		WHERE log_id = $1`,
		bigint.Unsigned(&id),
	)

	return classify(err)
}

// Open returns the journal of the given log.
func (s *Store) Open(_ context.Context, id logstore.LogID) (journal.Journal, error) {
	return &journ{
		id: id,
		db: s.DB,
	}, nil
}

// classify maps PostgreSQL errors to the errors defined by the journal
// package.
func classify(err error) error {
	switch {
	case pgerror.Is(err, pgerror.CodeInsufficientPrivilege):
		return journal.DenyAccess(err)
	case pgerror.Is(err, pgerror.CodeUndefinedTable):
		return fmt.Errorf("the logkit schema does not exist, see CreateSchema(): %w", err)
	default:
		return err
	}
}
