package awsx

import (
	"context"
)

// Do sends an AWS API request by calling fn, which is typically a method on a
// service client such as *dynamodb.Client or *s3.Client.
//
// If onRequest is non-nil it is called with the input before the request is
// sent. It may modify the input, and any options it returns are passed to fn.
//
// The request is not sent if ctx is already done.
func Do[In, Out, Options any](
	ctx context.Context,
	fn func(context.Context, *In, ...func(*Options)) (Out, error),
	onRequest func(any) []func(*Options),
	in *In,
) (Out, error) {
	if err := ctx.Err(); err != nil {
		var zero Out
		return zero, err
	}

	if onRequest == nil {
		return fn(ctx, in)
	}

	return fn(ctx, in, onRequest(in)...)
}
