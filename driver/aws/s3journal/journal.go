package s3journal

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dogmatiq/logkit/driver/aws/internal/awsx"
	"github.com/dogmatiq/logkit/driver/aws/internal/s3x"
	"github.com/dogmatiq/logkit/internal/errorx"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// journ is an implementation of [journal.Journal] that persists to an S3
// bucket.
//
// Each entry is stored as a separate object containing the binary encoding of
// the [journal.Entry]. Truncation is recorded by writing a marker object whose
// key contains the new beginning of the journal.
type journ struct {
	id        logstore.LogID
	client    *s3.Client
	bucket    string
	onRequest func(any) []func(*s3.Options)
}

func (j *journ) LogID() logstore.LogID {
	return j.id
}

func (j *journ) Bounds(ctx context.Context) (bounds journal.Interval, err error) {
	defer errorx.Wrap(&err, "unable to load the bounds of log %d", j.id)

	begin, ok, err := j.highest(ctx, beginPrefix(j.id))
	if err != nil {
		return journal.Interval{}, err
	}
	if !ok {
		begin = logstore.LSNOldest
	}

	last, ok, err := j.highest(ctx, entryPrefix(j.id))
	if err != nil {
		return journal.Interval{}, err
	}

	bounds = journal.Interval{Begin: begin, End: begin}
	if ok {
		bounds.End = max(begin, last+1)
	}

	return bounds, nil
}

// highest returns the highest LSN encoded in the keys of the objects under the
// given prefix.
func (j *journ) highest(ctx context.Context, prefix string) (logstore.LSN, bool, error) {
	out, err := awsx.Do(
		ctx,
		j.client.ListObjectsV2,
		j.onRequest,
		&s3.ListObjectsV2Input{
			Bucket:  &j.bucket,
			Prefix:  &prefix,
			MaxKeys: aws.Int32(1),
		},
	)
	if err != nil {
		return 0, false, classify(err)
	}

	if len(out.Contents) == 0 {
		return 0, false, nil
	}

	n, err := unmarshalLSN(prefix, aws.ToString(out.Contents[0].Key))
	return n, err == nil, err
}

func (j *journ) Get(ctx context.Context, n logstore.LSN) (journal.Entry, error) {
	if n == logstore.LSNInvalid {
		return journal.Entry{}, journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	out, err := awsx.Do(
		ctx,
		j.client.GetObject,
		j.onRequest,
		&s3.GetObjectInput{
			Bucket: &j.bucket,
			Key:    aws.String(entryPrefix(j.id) + marshalLSN(n)),
		},
	)
	if s3x.IsNotExists(err) {
		return journal.Entry{}, journal.RecordNotFoundError{LogID: j.id, LSN: n}
	} else if err != nil {
		return journal.Entry{}, fmt.Errorf("unable to get journal entry: %w", classify(err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("unable to read journal entry: %w", err)
	}

	var e journal.Entry
	if err := e.UnmarshalBinary(data); err != nil {
		return journal.Entry{}, err
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

	for lsn := n; lsn < bounds.End; lsn++ {
		e, err := j.Get(ctx, lsn)
		if err != nil {
			return err
		}

		if ok, err := fn(ctx, lsn, e); !ok || err != nil {
			return err
		}
	}

	return nil
}

func (j *journ) Append(ctx context.Context, n logstore.LSN, e journal.Entry) error {
	if n == logstore.LSNInvalid {
		panic("LSN out of range")
	}

	begin, ok, err := j.highest(ctx, beginPrefix(j.id))
	if err != nil {
		return fmt.Errorf("unable to load journal bounds: %w", err)
	}
	if ok && n < begin {
		return journal.ErrConflict
	}

	data, err := e.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = awsx.Do(
		ctx,
		j.client.PutObject,
		j.onRequest,
		&s3.PutObjectInput{
			Bucket:        &j.bucket,
			Key:           aws.String(entryPrefix(j.id) + marshalLSN(n)),
			IfNoneMatch:   aws.String("*"),
			ContentType:   aws.String("application/octet-stream"),
			ContentLength: aws.Int64(int64(len(data))),
			Body:          bytes.NewReader(data),
		},
	)

	if s3x.IsConflict(err) {
		return journal.ErrConflict
	} else if err != nil {
		return fmt.Errorf("unable to put journal entry: %w", classify(err))
	}

	return nil
}

func (j *journ) Truncate(ctx context.Context, n logstore.LSN) error {
	bounds, err := j.Bounds(ctx)
	if err != nil {
		return err
	}

	if n <= bounds.Begin {
		return nil
	}

	if _, err := awsx.Do(
		ctx,
		j.client.PutObject,
		j.onRequest,
		&s3.PutObjectInput{
			Bucket:        &j.bucket,
			Key:           aws.String(beginPrefix(j.id) + marshalLSN(n)),
			IfNoneMatch:   aws.String("*"),
			ContentLength: aws.Int64(0),
			Body:          bytes.NewReader(nil),
		},
	); err != nil && !s3x.IsConflict(err) {
		return fmt.Errorf("unable to put truncation marker: %w", classify(err))
	}

	// Entries below the marker are no longer visible, the deletions only
	// reclaim space.
	const batchSize = 1000

	for lo := bounds.Begin; lo < n; lo += batchSize {
		hi := min(lo+batchSize, n)

		objects := make([]types.ObjectIdentifier, 0, hi-lo)
		for lsn := lo; lsn < hi; lsn++ {
			objects = append(
				objects,
				types.ObjectIdentifier{
					Key: aws.String(entryPrefix(j.id) + marshalLSN(lsn)),
				},
			)
		}

		if _, err := awsx.Do(
			ctx,
			j.client.DeleteObjects,
			j.onRequest,
			&s3.DeleteObjectsInput{
				Bucket: &j.bucket,
				Delete: &types.Delete{
					Objects: objects,
					Quiet:   aws.Bool(true),
				},
			},
		); err != nil {
			return fmt.Errorf("unable to delete truncated journal entries: %w", classify(err))
		}
	}

	return nil
}

func (j *journ) Close() error {
	return nil
}
