// Package bigint stores unsigned 64-bit integers, such as log IDs and LSNs,
// in PostgreSQL BIGINT columns.
package bigint

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
)

// signBit is flipped to map the unsigned range onto the signed range.
const signBit = 1 << 63

// Encode returns the BIGINT representation of v.
//
// The mapping preserves order: for any a < b, Encode(a) < Encode(b). Nothing
// else about the encoded value is meaningful.
func Encode[T ~uint64](v T) int64 {
	return int64(uint64(v) ^ signBit)
}

// Decode returns the unsigned value represented by the BIGINT v.
func Decode[T ~uint64](v int64) T {
	return T(uint64(v) ^ signBit)
}

// Unsigned returns a query argument or scan destination that stores *target
// using the encoding of [Encode].
func Unsigned[T ~uint64](target *T) interface {
	driver.Valuer
	sql.Scanner
} {
	return unsigned[T]{target}
}

type unsigned[T ~uint64] struct {
	target *T
}

func (u unsigned[T]) Value() (driver.Value, error) {
	return Encode(*u.target), nil
}

func (u unsigned[T]) Scan(src any) error {
	v, ok := src.(int64)
	if !ok {
		return fmt.Errorf("cannot scan %T into %T", src, u.target)
	}

	*u.target = Decode[T](v)
	return nil
}
