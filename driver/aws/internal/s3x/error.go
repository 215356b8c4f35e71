package s3x

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dogmatiq/logkit/driver/aws/internal/awsx"
)

// IsNotExists returns true if err is an error that indicates the requested
// object or bucket was not found.
func IsNotExists(err error) bool {
	return errors.As(err, new(*types.NotFound)) ||
		errors.As(err, new(*types.NoSuchKey)) ||
		errors.As(err, new(*types.NoSuchBucket))
}

// IgnoreNotExists returns nil if err is an error that indicates the requested
// object was not found; otherwise it returns err.
func IgnoreNotExists(err error) error {
	if IsNotExists(err) {
		return nil
	}
	return err
}

// IsAlreadyExists returns true if err is an error that indicates the requested
// bucket already exists.
func IsAlreadyExists(err error) bool {
	return errors.As(err, new(*types.BucketAlreadyExists)) ||
		errors.As(err, new(*types.BucketAlreadyOwnedByYou))
}

// IgnoreAlreadyExists returns nil if err is an error that indicates the
// requested bucket already exists; otherwise it returns err.
func IgnoreAlreadyExists(err error) error {
	if IsAlreadyExists(err) {
		return nil
	}
	return err
}

// IsConflict returns true if err indicates that a conditional write failed
// because the object already exists, or was being written concurrently.
func IsConflict(err error) bool {
	return awsx.HasErrorCode(err, "PreconditionFailed", "ConditionalRequestConflict")
}
