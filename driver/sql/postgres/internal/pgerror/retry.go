package pgerror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dogmatiq/linger"
)

const (
	// maxAttempts is the number of times Retry attempts a transaction before
	// giving up.
	maxAttempts = 5

	// retryDelay is the base delay between attempts. It doubles with each
	// attempt, and is jittered.
	retryDelay = 10 * time.Millisecond
)

// Retry executes fn within a transaction. If the transaction fails with one of
// the given error codes it is retried, up to a fixed number of attempts.
func Retry(
	ctx context.Context,
	db *sql.DB,
	fn func(*sql.Tx) error,
	codes ...string,
) error {
	for attempt := 1; ; attempt++ {
		err := try(ctx, db, fn)
		if err == nil {
			return nil
		}

		if attempt == maxAttempts || !Is(err, codes...) {
			return fmt.Errorf("transaction failed (attempt %d of %d): %w", attempt, maxAttempts, err)
		}

		if err := linger.SleepX(ctx, linger.FullJitter, retryDelay<<attempt); err != nil {
			return err
		}
	}
}

func try(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
