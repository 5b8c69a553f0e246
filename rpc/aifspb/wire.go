// Package aifspb defines the wire messages and service descriptor of the
// AIFS gRPC surface. Messages are encoded with protowire directly; field
// numbers are frozen and documented per message.
package aifspb

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrTruncated is returned for messages that end mid-field.
var ErrTruncated = errors.New("aifspb: truncated message")

// Message is implemented by every wire message in this package.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

// appendFloats packs a f32 slice little-endian.
func appendFloats(b []byte, num protowire.Number, v []float32) []byte {
	if len(v) == 0 {
		return b
	}
	packed := make([]byte, 0, len(v)*4)
	for _, f := range v {
		packed = protowire.AppendFixed32(packed, math.Float32bits(f))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func consumeFloats(v []byte) ([]float32, error) {
	if len(v)%4 != 0 {
		return nil, fmt.Errorf("%w: packed f32 of %d bytes", ErrTruncated, len(v))
	}
	out := make([]float32, 0, len(v)/4)
	for len(v) > 0 {
		bits, n := protowire.ConsumeFixed32(v)
		if n < 0 {
			return nil, ErrTruncated
		}
		out = append(out, math.Float32frombits(bits))
		v = v[n:]
	}
	return out, nil
}

// appendMap encodes a string map as repeated nested entries
// (1=key, 2=value), keys sorted for deterministic output.
func appendMap(b []byte, num protowire.Number, m map[string]string) []byte {
	if len(m) == 0 {
		return b
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := appendString(nil, 1, k)
		entry = appendString(entry, 2, m[k])
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func consumeMapEntry(v []byte, m map[string]string) error {
	var key, value string
	err := eachField(v, func(num protowire.Number, typ protowire.Type, f field) error {
		switch num {
		case 1:
			key = f.str()
		case 2:
			value = f.str()
		}
		return nil
	})
	if err != nil {
		return err
	}
	m[key] = value
	return nil
}

// field carries one decoded field payload.
type field struct {
	varint uint64
	bytes  []byte
}

func (f field) str() string { return string(f.bytes) }

// eachField walks every field of a message, dispatching to fn. Unknown
// fields are skipped, like protoc-generated code does.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, f field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrTruncated
		}
		data = data[n:]

		var f field
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return ErrTruncated
			}
			f.varint = v
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ErrTruncated
			}
			f.bytes = v
			data = data[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return ErrTruncated
			}
			f.varint = uint64(v)
			data = data[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return ErrTruncated
			}
			f.varint = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ErrTruncated
			}
			data = data[n:]
			continue
		}
		if err := fn(num, typ, f); err != nil {
			return err
		}
	}
	return nil
}
