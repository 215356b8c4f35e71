package pgjournal

import (
	"context"
	"database/sql"
	_ "embed"

	"github.com/dogmatiq/logkit/driver/sql/postgres/internal/pgerror"
)

//go:embed schema.sql
var schema string

// CreateSchema creates the PostgreSQL schema elements required by [Store].
//
// It is safe to call CreateSchema on a database that already contains the
// schema.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	return pgerror.Retry(
		ctx,
		db,
		func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, schema)
			return err
		},
		// Concurrent CREATE ... IF NOT EXISTS statements can still conflict
		// on PostgreSQL's catalog tables.
		pgerror.CodeUniqueViolation,
	)
}
