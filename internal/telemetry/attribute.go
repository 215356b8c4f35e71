package telemetry

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"golang.org/x/exp/constraints"
)

// Attr is a telemetry attribute. The zero value is an attribute that is
// omitted from all telemetry.
type Attr struct {
	kv attribute.KeyValue
}

// String returns a string attribute.
func String[T ~string](k string, v T) Attr {
	return Attr{attribute.String(k, string(v))}
}

// Stringer returns a string attribute with the value of v.String().
func Stringer(k string, v fmt.Stringer) Attr {
	return String(k, v.String())
}

// Type returns a string attribute containing the name of the type of v, with
// any pointer indirection removed.
func Type[T any](k string, v T) Attr {
	t := reflect.TypeOf(v)
	if t == nil {
		return String(k, "<nil>")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return String(k, t.String())
}

// Bool returns a boolean attribute.
func Bool[T ~bool](k string, v T) Attr {
	return Attr{attribute.Bool(k, bool(v))}
}

// Int returns an integer attribute.
//
// Unsigned values that do not fit in an int64, such as the largest LSN, are
// recorded as a decimal string instead.
func Int[T constraints.Integer](k string, v T) Attr {
	if v > 0 && uint64(v) > math.MaxInt64 {
		return String(k, strconv.FormatUint(uint64(v), 10))
	}
	return Attr{attribute.Int64(k, int64(v))}
}

// If returns attr if cond is true; otherwise it returns the zero Attr.
func If(cond bool, attr Attr) Attr {
	if cond {
		return attr
	}
	return Attr{}
}

func (a Attr) asAttrKeyValue() (attribute.KeyValue, bool) {
	return a.kv, a.kv.Valid()
}

func (a Attr) asLogKeyValue() (log.KeyValue, bool) {
	if !a.kv.Valid() {
		return log.KeyValue{}, false
	}

	k := string(a.kv.Key)
	v := a.kv.Value

	switch v.Type() {
	case attribute.STRING:
		return log.String(k, v.AsString()), true
	case attribute.BOOL:
		return log.Bool(k, v.AsBool()), true
	case attribute.INT64:
		return log.Int64(k, v.AsInt64()), true
	default:
		panic("unsupported attribute type: " + v.Type().String())
	}
}

func asAttrKeyValues(attrs []Attr) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		if kv, ok := a.asAttrKeyValue(); ok {
			kvs = append(kvs, kv)
		}
	}
	return kvs
}

func asLogKeyValues(attrs []Attr) []log.KeyValue {
	kvs := make([]log.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		if kv, ok := a.asLogKeyValue(); ok {
			kvs = append(kvs, kv)
		}
	}
	return kvs
}
