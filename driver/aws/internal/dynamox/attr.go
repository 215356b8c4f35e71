package dynamox

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// True is a DynamoDB boolean attribute value of true.
var True = &types.AttributeValueMemberBOOL{Value: true}

// AttrAs fetches an attribute of type T from an item.
//
// It returns an error if the item is absent or a different type.
func AttrAs[T types.AttributeValue](
	item map[string]types.AttributeValue,
	name string,
) (v T, err error) {
	v, ok, err := TryAttrAs[T](item, name)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("item is corrupt: missing %q attribute", name)
	}
	return v, nil
}

// TryAttrAs fetches an attribute of type T from an item, if present.
//
// It returns an error if the attribute is present but of a different type.
func TryAttrAs[T types.AttributeValue](
	item map[string]types.AttributeValue,
	name string,
) (v T, ok bool, err error) {
	a, ok := item[name]
	if !ok {
		return v, false, nil
	}

	v, ok = a.(T)
	if !ok {
		return v, false, fmt.Errorf(
			"item is corrupt: %q attribute should be %s not %s",
			name,
			reflect.TypeOf(v).Elem().Name(),
			reflect.TypeOf(a).Elem().Name(),
		)
	}

	return v, true, nil
}

// Uint64 returns a numeric attribute value containing n.
func Uint64[T ~uint64](n T) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{
		Value: strconv.FormatUint(uint64(n), 10),
	}
}

// Uint64As fetches a numeric attribute from an item and parses it as an
// unsigned integer.
func Uint64As[T ~uint64](
	item map[string]types.AttributeValue,
	name string,
) (T, bool, error) {
	attr, ok, err := TryAttrAs[*types.AttributeValueMemberN](item, name)
	if !ok || err != nil {
		return 0, false, err
	}

	n, err := strconv.ParseUint(attr.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("item is corrupt: invalid %q attribute: %w", name, err)
	}

	return T(n), true, nil
}
