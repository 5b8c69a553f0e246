package codec

import (
	"maps"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// DType enumerates tensor element types.
type DType uint8

const (
	I8 DType = iota
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F16
	F32
	F64
	Bool
)

var dtypeNames = map[DType]string{
	I8: "i8", I16: "i16", I32: "i32", I64: "i64",
	U8: "u8", U16: "u16", U32: "u32", U64: "u64",
	F16: "f16", F32: "f32", F64: "f64", Bool: "bool",
}

func (d DType) String() string {
	if n, ok := dtypeNames[d]; ok {
		return n
	}
	return "unknown"
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case I8, U8, Bool:
		return 1
	case I16, U16, F16:
		return 2
	case I32, U32, F32:
		return 4
	case I64, U64, F64:
		return 8
	default:
		return 0
	}
}

// TensorHeader describes the layout of a tensor payload.
type TensorHeader struct {
	DType DType
	Shape []uint64
	// Strides is optional; when present it must have one entry per
	// dimension.
	Strides []uint64
	// NullBitmap is an optional validity bitmap over elements.
	NullBitmap []byte
	Metadata   map[string]string
}

// Elements returns the element count implied by the shape.
func (h TensorHeader) Elements() uint64 {
	n := uint64(1)
	for _, d := range h.Shape {
		n *= d
	}
	if len(h.Shape) == 0 {
		return 0
	}
	return n
}

// Tensor header wire schema (field numbers are frozen):
//
//	1: dtype   (varint)
//	2: shape   (repeated varint)
//	3: strides (repeated varint)
//	4: null_bitmap (bytes)
//	5: metadata entry (bytes: nested 1=key 2=value)
const (
	tensorFieldDType    = 1
	tensorFieldShape    = 2
	tensorFieldStrides  = 3
	tensorFieldBitmap   = 4
	tensorFieldMetadata = 5
)

// EncodeTensor frames a tensor payload: a varint header length, the
// protowire-encoded header, then the contiguous element buffer.
func EncodeTensor(h TensorHeader, elements []byte) ([]byte, error) {
	if h.DType.Size() == 0 {
		return nil, malformed("tensor dtype %d unknown", uint8(h.DType))
	}
	if len(h.Strides) != 0 && len(h.Strides) != len(h.Shape) {
		return nil, malformed("tensor strides rank %d != shape rank %d", len(h.Strides), len(h.Shape))
	}
	if want := h.Elements() * uint64(h.DType.Size()); uint64(len(elements)) != want {
		return nil, malformed("tensor buffer is %d bytes, shape wants %d", len(elements), want)
	}

	hdr := encodeTensorHeader(h)
	buf := protowire.AppendVarint(nil, uint64(len(hdr)))
	buf = append(buf, hdr...)
	buf = append(buf, elements...)
	return buf, nil
}

// DecodeTensor parses a tensor payload into its header and element buffer.
// The returned buffer aliases data.
func DecodeTensor(data []byte) (TensorHeader, []byte, error) {
	hdrLen, n := protowire.ConsumeVarint(data)
	if n < 0 || hdrLen > uint64(len(data)-n) {
		return TensorHeader{}, nil, malformed("tensor header frame truncated")
	}
	h, err := decodeTensorHeader(data[n : n+int(hdrLen)])
	if err != nil {
		return TensorHeader{}, nil, err
	}
	elements := data[n+int(hdrLen):]
	if h.DType.Size() == 0 {
		return TensorHeader{}, nil, malformed("tensor dtype %d unknown", uint8(h.DType))
	}
	if len(h.Strides) != 0 && len(h.Strides) != len(h.Shape) {
		return TensorHeader{}, nil, malformed("tensor strides rank %d != shape rank %d", len(h.Strides), len(h.Shape))
	}
	if want := h.Elements() * uint64(h.DType.Size()); uint64(len(elements)) != want {
		return TensorHeader{}, nil, malformed("tensor buffer is %d bytes, shape wants %d", len(elements), want)
	}
	return h, elements, nil
}

func encodeTensorHeader(h TensorHeader) []byte {
	var b []byte
	b = protowire.AppendTag(b, tensorFieldDType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.DType))
	for _, d := range h.Shape {
		b = protowire.AppendTag(b, tensorFieldShape, protowire.VarintType)
		b = protowire.AppendVarint(b, d)
	}
	for _, s := range h.Strides {
		b = protowire.AppendTag(b, tensorFieldStrides, protowire.VarintType)
		b = protowire.AppendVarint(b, s)
	}
	if len(h.NullBitmap) > 0 {
		b = protowire.AppendTag(b, tensorFieldBitmap, protowire.BytesType)
		b = protowire.AppendBytes(b, h.NullBitmap)
	}
	b = appendMetadata(b, tensorFieldMetadata, h.Metadata)
	return b
}

func decodeTensorHeader(data []byte) (TensorHeader, error) {
	var h TensorHeader
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return h, malformed("tensor header tag")
		}
		data = data[n:]
		switch {
		case num == tensorFieldDType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return h, malformed("tensor dtype field")
			}
			h.DType = DType(v)
			data = data[n:]
		case num == tensorFieldShape && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return h, malformed("tensor shape field")
			}
			h.Shape = append(h.Shape, v)
			data = data[n:]
		case num == tensorFieldStrides && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return h, malformed("tensor strides field")
			}
			h.Strides = append(h.Strides, v)
			data = data[n:]
		case num == tensorFieldBitmap && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return h, malformed("tensor null bitmap field")
			}
			h.NullBitmap = append([]byte(nil), v...)
			data = data[n:]
		case num == tensorFieldMetadata && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return h, malformed("tensor metadata field")
			}
			k, val, err := decodeMetadataEntry(v)
			if err != nil {
				return h, err
			}
			if h.Metadata == nil {
				h.Metadata = make(map[string]string)
			}
			h.Metadata[k] = val
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return h, malformed("tensor header field %d", num)
			}
			data = data[n:]
		}
	}
	return h, nil
}

// appendMetadata encodes a string map as repeated nested entries with
// lexicographically sorted keys, keeping the encoding deterministic.
func appendMetadata(b []byte, field protowire.Number, m map[string]string) []byte {
	for _, k := range sortedKeys(m) {
		var e []byte
		e = protowire.AppendTag(e, 1, protowire.BytesType)
		e = protowire.AppendString(e, k)
		e = protowire.AppendTag(e, 2, protowire.BytesType)
		e = protowire.AppendString(e, m[k])
		b = protowire.AppendTag(b, field, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

func decodeMetadataEntry(data []byte) (key, value string, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 || typ != protowire.BytesType {
			return "", "", malformed("metadata entry")
		}
		data = data[n:]
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return "", "", malformed("metadata entry value")
		}
		switch num {
		case 1:
			key = string(v)
		case 2:
			value = string(v)
		}
		data = data[n:]
	}
	return key, value, nil
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
