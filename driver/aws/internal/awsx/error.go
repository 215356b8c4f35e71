package awsx

import (
	"errors"
	"slices"

	"github.com/aws/smithy-go"
)

// accessDeniedCodes are the API error codes that AWS services use to indicate
// that the caller lacks permission to perform an operation.
var accessDeniedCodes = []string{
	"AccessDenied",
	"AccessDeniedException",
	"UnrecognizedClientException",
	"InvalidAccessKeyId",
	"SignatureDoesNotMatch",
}

// HasErrorCode returns true if err is an AWS API error with one of the given
// codes.
func HasErrorCode(err error, codes ...string) bool {
	var e smithy.APIError
	return errors.As(err, &e) && slices.Contains(codes, e.ErrorCode())
}

// IsAccessDenied returns true if err indicates that the caller lacks
// permission to perform the operation.
func IsAccessDenied(err error) bool {
	return HasErrorCode(err, accessDeniedCodes...)
}
