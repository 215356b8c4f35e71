package errorx

import (
	"errors"
	"fmt"

	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// Wrap prefixes *err with a description of the operation that failed. It is
// intended to be deferred by functions with a named error result.
//
// Errors that callers are expected to test for directly are left as-is: a
// missing journal entry, an append conflict, and an undefined log.
func Wrap(err *error, format string, args ...any) {
	if err == nil {
		panic("err must not be nil")
	}

	switch {
	case *err == nil:
	case journal.IsNotFound(*err):
	case journal.IsConflict(*err):
	case errors.Is(*err, logstore.ErrLogNotFound):
	default:
		*err = fmt.Errorf(format+": %w", append(args, *err)...)
	}
}
