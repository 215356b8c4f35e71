package journal

import (
	"context"
	"errors"

	"github.com/dogmatiq/logkit/logstore"
)

// Append appends an entry to the end of j, re-reading the bounds of the journal
// and retrying whenever a concurrent writer claims the same LSN first. It
// returns the LSN assigned to the entry.
//
// fn, if non-nil, is called to build the entry immediately before each attempt
// so that values such as timestamps reflect the attempt that succeeds.
func Append(
	ctx context.Context,
	j Journal,
	fn func() Entry,
) (logstore.LSN, error) {
	bounds, err := j.Bounds(ctx)
	if err != nil {
		return 0, err
	}

	return AppendWithConflictResolution(
		ctx,
		j,
		bounds.End,
		fn,
		func(ctx context.Context, n logstore.LSN) (logstore.LSN, error) {
			bounds, err := j.Bounds(ctx)
			if err != nil {
				return 0, err
			}
			return max(bounds.End, n+1), nil
		},
	)
}

// AppendWithConflictResolution appends an entry to j using resolve to resolve
// optimistic concurrency conflicts. It returns the LSN of the appended entry.
//
// If a conflict occurs resolve is called and the append is retried with the LSN
// it returns. If resolve returns an error the append is not retried and the
// error is returned.
func AppendWithConflictResolution(
	ctx context.Context,
	j Journal,
	end logstore.LSN,
	fn func() Entry,
	resolve func(context.Context, logstore.LSN) (logstore.LSN, error),
) (logstore.LSN, error) {
	for {
		err := j.Append(ctx, end, fn())
		if !errors.Is(err, ErrConflict) {
			return end, err
		}

		end, err = resolve(ctx, end)
		if err != nil {
			return 0, err
		}
	}
}
