package xtesting

import (
	"strings"

	"github.com/google/uuid"
)

// UniqueName returns a name that begins with the given prefix and is unique
// within the test run.
//
// The result is lowercase and at most 63 characters long, which makes it
// usable as an S3 bucket name or a DynamoDB table name.
func UniqueName(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	name := "logkit-" + strings.ToLower(prefix) + "-" + suffix

	if len(name) > 63 {
		name = name[len(name)-63:]
		name = strings.TrimLeft(name, "-")
	}

	return name
}
