package s3journal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dogmatiq/logkit/logstore"
)

func logPrefix(id logstore.LogID) string {
	return "log/" + id.String() + "/"
}

func configKey(id logstore.LogID) string {
	return logPrefix(id) + "config"
}

func entryPrefix(id logstore.LogID) string {
	return logPrefix(id) + "entry/"
}

func beginPrefix(id logstore.LogID) string {
	return logPrefix(id) + "begin/"
}

// marshalLSN returns the object key suffix for n.
//
// The bits of n are inverted so that keys sort in descending LSN order,
// allowing the highest LSN under a prefix to be found by listing a single
// object.
func marshalLSN(n logstore.LSN) string {
	return fmt.Sprintf("%016x", ^uint64(n))
}

func unmarshalLSN(prefix, key string) (logstore.LSN, error) {
	suffix, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return 0, fmt.Errorf("object key %q does not have the expected prefix %q", key, prefix)
	}

	v, err := strconv.ParseUint(suffix, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("object key %q is corrupt: %w", key, err)
	}

	return logstore.LSN(^v), nil
}
