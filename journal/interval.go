package journal

import (
	"fmt"
	"iter"

	"github.com/dogmatiq/logkit/logstore"
)

// Interval describes a half-open interval of LSNs in a [Journal].
type Interval struct {
	// Begin is the LSN of the first entry in the interval.
	Begin logstore.LSN

	// End is the LSN immediately after the last entry in the interval.
	End logstore.LSN
}

// IsEmpty returns true if the interval contains no entries.
func (i Interval) IsEmpty() bool {
	return i.Begin >= i.End
}

// Len returns the number of entries in the interval.
func (i Interval) Len() uint64 {
	if i.Begin < i.End {
		return uint64(i.End - i.Begin)
	}
	return 0
}

// Contains returns true if the interval contains the given LSN.
func (i Interval) Contains(n logstore.LSN) bool {
	return i.Begin <= n && n < i.End
}

// LSNs returns a sequence of all LSNs in the interval.
func (i Interval) LSNs() iter.Seq[logstore.LSN] {
	return func(yield func(logstore.LSN) bool) {
		for n := i.Begin; n < i.End; n++ {
			if !yield(n) {
				return
			}
		}
	}
}

func (i Interval) String() string {
	return fmt.Sprintf("[%d, %d)", i.Begin, i.End)
}
