// Package logstore defines the data model of numbered, totally-ordered logs and
// the storage capability that log clients consume.
package logstore

import (
	"math"
	"strconv"
	"time"
)

// LogID identifies a log. It is opaque and stable for the lifetime of the log.
type LogID uint64

func (id LogID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// LSN is a log sequence number. It identifies a record's position within a
// single log. LSNs are strictly increasing within a log.
type LSN uint64

const (
	// LSNInvalid is the zero value of an LSN. It never identifies a record.
	LSNInvalid LSN = 0

	// LSNOldest is the smallest LSN that may identify a record. Reading from
	// LSNOldest starts at the oldest record that is still retained.
	LSNOldest LSN = 1

	// LSNMax is the largest representable LSN. When used as the upper bound
	// of a read range it means "read forever".
	LSNMax LSN = math.MaxUint64
)

func (n LSN) String() string {
	switch n {
	case LSNInvalid:
		return "invalid"
	case LSNMax:
		return "max"
	default:
		return strconv.FormatUint(uint64(n), 10)
	}
}

// Record is a single payload stored in a log.
type Record struct {
	LogID LogID
	LSN   LSN

	// Payload is the record's content. It is never modified once the record
	// has been delivered.
	Payload []byte

	// Timestamp is the time at which the store assigned the record's LSN. It
	// is the zero value if the store does not provide timestamps.
	Timestamp time.Time

	// Key is the optional key given when the record was appended.
	Key string
}

// Gap describes a range of LSNs within a log for which no records will be
// delivered.
type Gap struct {
	LogID LogID

	// Low and High are the inclusive bounds of the gap.
	Low, High LSN

	Kind GapKind
}

// Len returns the number of LSNs covered by the gap.
func (g Gap) Len() uint64 {
	return uint64(g.High-g.Low) + 1
}

func (g Gap) String() string {
	return g.Kind.String() + " gap in log " + g.LogID.String() + " [" + g.Low.String() + ", " + g.High.String() + "]"
}

// GapKind is the reason for which a [Gap] exists.
type GapKind int

const (
	// GapUnknown is the zero value of GapKind. It is never delivered.
	GapUnknown GapKind = iota

	// GapDataLoss indicates that records within the gap were lost. It is the
	// only kind of gap that is considered an anomaly.
	GapDataLoss

	// GapTrim indicates that records within the gap were deliberately trimmed
	// from the log.
	GapTrim

	// GapAccessDenied indicates that the reader does not have permission to
	// read the records within the gap.
	GapAccessDenied

	// GapFilteredOut indicates that the records within the gap exist but were
	// excluded by the reader's filter.
	GapFilteredOut

	// GapNotInConfig indicates that the log is no longer defined.
	GapNotInConfig

	// GapOther indicates a gap for any other reason.
	GapOther
)

// IsAnomaly returns true if gaps of kind k indicate a fault rather than an
// expected condition.
func (k GapKind) IsAnomaly() bool {
	return k == GapDataLoss
}

func (k GapKind) String() string {
	switch k {
	case GapDataLoss:
		return "DATALOSS"
	case GapTrim:
		return "TRIM"
	case GapAccessDenied:
		return "ACCESS_DENIED"
	case GapFilteredOut:
		return "FILTERED_OUT"
	case GapNotInConfig:
		return "NOTINCONFIG"
	case GapOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// ReadRange is the inclusive range of LSNs a reader requests from a log.
type ReadRange struct {
	LogID LogID
	Start LSN
	Until LSN
}

// IsUnbounded returns true if the range never ends.
func (r ReadRange) IsUnbounded() bool {
	return r.Until == LSNMax
}

// Contains returns true if n is within the range.
func (r ReadRange) Contains(n LSN) bool {
	return r.Start <= n && n <= r.Until
}

// AppendAttributes are optional attributes of an appended record.
type AppendAttributes struct {
	// Key is an optional key used to filter records when reading.
	Key string
}

// AppendResult is the outcome of a successful append.
type AppendResult struct {
	LSN       LSN
	Timestamp time.Time
}

// Batch is the result of pulling from a [Cursor].
type Batch struct {
	// Records are the records delivered, in LSN order within each log.
	Records []Record

	// Gap is an optional gap. It follows the records of the same log in the
	// batch.
	Gap *Gap
}

// IsEmpty returns true if the batch contains neither records nor a gap.
func (b Batch) IsEmpty() bool {
	return len(b.Records) == 0 && b.Gap == nil
}
