package codec

import (
	"encoding/binary"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/aifs-project/aifs/model"
)

// EmbedPayload is a fixed-dimension f32 vector plus its provenance.
type EmbedPayload struct {
	Vector    []float32
	ModelName string
	// Dimension must equal len(Vector).
	Dimension uint32
	Metric    model.Metric
	Params    map[string]string
}

// Embed wire schema (field numbers are frozen):
//
//	1: model_name (bytes)
//	2: dimension  (varint)
//	3: metric     (varint)
//	4: vector     (bytes: packed little-endian f32)
//	5: params entry (bytes: nested 1=key 2=value)
const (
	embedFieldModel  = 1
	embedFieldDim    = 2
	embedFieldMetric = 3
	embedFieldVector = 4
	embedFieldParams = 5
)

// EncodeEmbed serializes an embed payload.
func EncodeEmbed(p EmbedPayload) ([]byte, error) {
	if int(p.Dimension) != len(p.Vector) {
		return nil, malformed("embed dimension %d != vector length %d", p.Dimension, len(p.Vector))
	}
	if len(p.Vector) == 0 {
		return nil, malformed("embed vector is empty")
	}
	if !p.Metric.Valid() {
		return nil, malformed("embed metric %d unknown", uint8(p.Metric))
	}

	var b []byte
	b = protowire.AppendTag(b, embedFieldModel, protowire.BytesType)
	b = protowire.AppendString(b, p.ModelName)
	b = protowire.AppendTag(b, embedFieldDim, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Dimension))
	b = protowire.AppendTag(b, embedFieldMetric, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Metric))

	vec := make([]byte, 4*len(p.Vector))
	for i, f := range p.Vector {
		binary.LittleEndian.PutUint32(vec[4*i:], math.Float32bits(f))
	}
	b = protowire.AppendTag(b, embedFieldVector, protowire.BytesType)
	b = protowire.AppendBytes(b, vec)
	b = appendMetadata(b, embedFieldParams, p.Params)
	return b, nil
}

// DecodeEmbed parses an embed payload, rejecting dimension mismatches.
func DecodeEmbed(data []byte) (EmbedPayload, error) {
	var p EmbedPayload
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, malformed("embed tag")
		}
		data = data[n:]
		switch {
		case num == embedFieldModel && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return p, malformed("embed model name")
			}
			p.ModelName = string(v)
			data = data[n:]
		case num == embedFieldDim && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return p, malformed("embed dimension")
			}
			p.Dimension = uint32(v)
			data = data[n:]
		case num == embedFieldMetric && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return p, malformed("embed metric")
			}
			p.Metric = model.Metric(v)
			data = data[n:]
		case num == embedFieldVector && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 || len(v)%4 != 0 {
				return p, malformed("embed vector buffer")
			}
			p.Vector = make([]float32, len(v)/4)
			for i := range p.Vector {
				p.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(v[4*i:]))
			}
			data = data[n:]
		case num == embedFieldParams && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return p, malformed("embed params")
			}
			k, val, err := decodeMetadataEntry(v)
			if err != nil {
				return p, err
			}
			if p.Params == nil {
				p.Params = make(map[string]string)
			}
			p.Params[k] = val
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return p, malformed("embed field %d", num)
			}
			data = data[n:]
		}
	}
	if int(p.Dimension) != len(p.Vector) {
		return p, malformed("embed dimension %d != vector length %d", p.Dimension, len(p.Vector))
	}
	if len(p.Vector) == 0 {
		return p, malformed("embed vector is empty")
	}
	if !p.Metric.Valid() {
		return p, malformed("embed metric %d unknown", uint8(p.Metric))
	}
	return p, nil
}
