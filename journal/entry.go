package journal

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the binary entry encoding. The encoding is compatible with
// the protocol buffers wire format, so entries may be decoded by any protobuf
// implementation given an equivalent message definition.
const (
	entryTimestampField protowire.Number = 1
	entryKeyField       protowire.Number = 2
	entryPayloadField   protowire.Number = 3
)

// MarshalBinary returns the binary representation of the entry.
func (e Entry) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, len(e.Payload)+len(e.Key)+16)

	if !e.Timestamp.IsZero() {
		data = protowire.AppendTag(data, entryTimestampField, protowire.VarintType)
		data = protowire.AppendVarint(data, protowire.EncodeZigZag(e.Timestamp.UnixMicro()))
	}

	if e.Key != "" {
		data = protowire.AppendTag(data, entryKeyField, protowire.BytesType)
		data = protowire.AppendString(data, e.Key)
	}

	if len(e.Payload) != 0 {
		data = protowire.AppendTag(data, entryPayloadField, protowire.BytesType)
		data = protowire.AppendBytes(data, e.Payload)
	}

	return data, nil
}

// UnmarshalBinary populates the entry from its binary representation.
func (e *Entry) UnmarshalBinary(data []byte) error {
	*e = Entry{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("entry is corrupt: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == entryTimestampField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("entry is corrupt: invalid timestamp: %w", protowire.ParseError(n))
			}
			e.Timestamp = time.UnixMicro(protowire.DecodeZigZag(v)).UTC()
			data = data[n:]

		case num == entryKeyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("entry is corrupt: invalid key: %w", protowire.ParseError(n))
			}
			e.Key = v
			data = data[n:]

		case num == entryPayloadField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("entry is corrupt: invalid payload: %w", protowire.ParseError(n))
			}
			e.Payload = append([]byte(nil), v...)
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.New("entry is corrupt: unable to skip unknown field")
			}
			data = data[n:]
		}
	}

	return nil
}

// Size returns the number of bytes of payload and key data in the entry.
func (e Entry) Size() int {
	return len(e.Payload) + len(e.Key)
}
