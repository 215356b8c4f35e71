package s3x

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dogmatiq/logkit/driver/aws/internal/awsx"
)

// CreateBucketIfNotExists creates an S3 bucket. It is not an error if the
// bucket already exists and is owned by the caller.
func CreateBucketIfNotExists(
	ctx context.Context,
	client *s3.Client,
	bucket string,
	onRequest func(any) []func(*s3.Options),
) error {
	_, err := awsx.Do(
		ctx,
		client.CreateBucket,
		onRequest,
		&s3.CreateBucketInput{Bucket: aws.String(bucket)},
	)
	return IgnoreAlreadyExists(err)
}
