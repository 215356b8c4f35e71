package journal

import (
	"context"

	"github.com/dogmatiq/logkit/logstore"
)

// PredicateFunc is a function that reports whether an entry satisfies some
// condition.
type PredicateFunc func(context.Context, logstore.LSN, Entry) (bool, error)

// Search performs a binary search of the entries of j within [begin, end) to
// find the smallest LSN for which pred returns true. It returns end if there is
// no such entry.
//
// pred must be monotonic, that is, once it returns true for some entry it must
// return true for all subsequent entries.
func Search(
	ctx context.Context,
	j Journal,
	begin, end logstore.LSN,
	pred PredicateFunc,
) (logstore.LSN, error) {
	for begin < end {
		n := begin + (end-begin)/2

		e, err := j.Get(ctx, n)
		if err != nil {
			return 0, err
		}

		ok, err := pred(ctx, n, e)
		if err != nil {
			return 0, err
		}

		if ok {
			end = n
		} else {
			begin = n + 1
		}
	}

	return begin, nil
}
