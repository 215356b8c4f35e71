// Package s3journal provides an Amazon S3 implementation of [journal.Store].
package s3journal

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dogmatiq/logkit/driver/aws/internal/awsx"
	"github.com/dogmatiq/logkit/driver/aws/internal/s3x"
	"github.com/dogmatiq/logkit/internal/errorx"
	"github.com/dogmatiq/logkit/internal/syncx"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// store is an implementation of [journal.Store] that persists to an S3
// bucket.
//
// Each log occupies a prefix within the bucket. The log's registry entry, its
// truncation markers and its entries are each stored as separate objects.
type store struct {
	Client    *s3.Client
	Bucket    string
	OnRequest func(any) []func(*s3.Options)

	createBucketOnce syncx.SucceedOnce
}

// NewStore returns a new [journal.Store] that uses the given S3 client to store
// journal entries in the given bucket.
//
// The bucket is created on first use if it does not already exist.
func NewStore(
	client *s3.Client,
	bucket string,
	options ...Option,
) journal.Store {
	if bucket == "" {
		panic("bucket name must not be empty")
	}

	s := &store{
		Client: client,
		Bucket: bucket,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Option is a functional option that changes the behavior of [NewStore].
type Option func(*store)

// WithRequestHook is an [Option] that configures fn as a pre-request hook.
//
// Before each S3 API request, fn is passed a pointer to the input struct, e.g.
// [s3.GetObjectInput], which it may modify in-place. It may be called with any
// S3 request type. The types of requests used may change in any version without
// notice.
//
// Any functions returned by fn will be applied to the request's options before
// the request is sent.
func WithRequestHook(fn func(any) []func(*s3.Options)) Option {
	return func(s *store) {
		s.OnRequest = fn
	}
}

const maxPayloadSizeMetaData = "max-payload-size"

func (s *store) Define(ctx context.Context, id logstore.LogID, cfg journal.Config) (err error) {
	defer errorx.Wrap(&err, "unable to define log %d", id)

	if err := s.createBucket(ctx); err != nil {
		return err
	}

	_, err = awsx.Do(
		ctx,
		s.Client.PutObject,
		s.OnRequest,
		&s3.PutObjectInput{
			Bucket:        &s.Bucket,
			Key:           aws.String(configKey(id)),
			ContentType:   aws.String("text/plain; charset=utf-8"),
			ContentLength: aws.Int64(int64(len(cfg.Label))),
			Body:          strings.NewReader(cfg.Label),
			Metadata: map[string]string{
				maxPayloadSizeMetaData: strconv.Itoa(cfg.MaxPayloadSize),
			},
		},
	)

	return classify(err)
}

func (s *store) Lookup(ctx context.Context, id logstore.LogID) (cfg journal.Config, ok bool, err error) {
	defer errorx.Wrap(&err, "unable to look up log %d", id)

	if err := s.createBucket(ctx); err != nil {
		return journal.Config{}, false, err
	}

	out, err := awsx.Do(
		ctx,
		s.Client.GetObject,
		s.OnRequest,
		&s3.GetObjectInput{
			Bucket: &s.Bucket,
			Key:    aws.String(configKey(id)),
		},
	)
	if err != nil {
		return journal.Config{}, false, classify(s3x.IgnoreNotExists(err))
	}
	defer out.Body.Close()

	label, err := io.ReadAll(out.Body)
	if err != nil {
		return journal.Config{}, false, err
	}
	cfg.Label = string(label)

	if v, ok := out.Metadata[maxPayloadSizeMetaData]; ok {
		cfg.MaxPayloadSize, err = strconv.Atoi(v)
		if err != nil {
			return journal.Config{}, false, fmt.Errorf("object is corrupt: invalid %q meta-data: %w", maxPayloadSizeMetaData, err)
		}
	}

	return cfg, true, nil
}

func (s *store) Remove(ctx context.Context, id logstore.LogID) (err error) {
	defer errorx.Wrap(&err, "unable to remove log %d", id)

	if err := s.createBucket(ctx); err != nil {
		return err
	}

	_, err = awsx.Do(
		ctx,
		s.Client.DeleteObject,
		s.OnRequest,
		&s3.DeleteObjectInput{
			Bucket: &s.Bucket,
			Key:    aws.String(configKey(id)),
		},
	)

	return classify(s3x.IgnoreNotExists(err))
}

func (s *store) Open(ctx context.Context, id logstore.LogID) (journal.Journal, error) {
	if err := s.createBucket(ctx); err != nil {
		return nil, err
	}

	return &journ{
		id:        id,
		client:    s.Client,
		bucket:    s.Bucket,
		onRequest: s.OnRequest,
	}, nil
}

func (s *store) createBucket(ctx context.Context) error {
	return s.createBucketOnce.Do(
		func() error {
			return classify(s3x.CreateBucketIfNotExists(ctx, s.Client, s.Bucket, s.OnRequest))
		},
	)
}

// classify maps S3 errors to the errors defined by the journal package.
func classify(err error) error {
	if awsx.IsAccessDenied(err) {
		return journal.DenyAccess(err)
	}
	return err
}
