package journal

import (
	"errors"
	"fmt"

	"github.com/dogmatiq/logkit/logstore"
)

var (
	// ErrConflict is returned by [Journal.Append] if there is already an entry
	// with the specified LSN.
	ErrConflict = errors.New("optimistic concurrency conflict")

	// ErrAccessDenied is wrapped by errors from a [Store] or [Journal] when
	// the underlying storage refuses the operation for lack of permission.
	ErrAccessDenied = errors.New("access denied")
)

// RecordNotFoundError is returned by [Journal.Get] and [Journal.Range] if the
// requested entry does not exist, either because it has been truncated, has not
// been appended yet, or has been lost.
type RecordNotFoundError struct {
	LogID logstore.LogID
	LSN   logstore.LSN
}

func (e RecordNotFoundError) Error() string {
	return fmt.Sprintf(
		"entry %d of log %d has not been appended yet, or has been truncated",
		e.LSN,
		e.LogID,
	)
}

// IsNotFound returns true if err is caused by a [RecordNotFoundError].
func IsNotFound(err error) bool {
	return errors.As(err, &RecordNotFoundError{})
}

// IgnoreNotFound returns nil if err is caused by a [RecordNotFoundError].
// Otherwise it returns err unchanged.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}

// IsConflict returns true if err is caused by [ErrConflict].
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsAccessDenied returns true if err is caused by [ErrAccessDenied].
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// DenyAccess returns an error that wraps both [ErrAccessDenied] and cause.
func DenyAccess(cause error) error {
	return fmt.Errorf("%w: %w", ErrAccessDenied, cause)
}
