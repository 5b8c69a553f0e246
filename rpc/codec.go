// Package rpc exposes the engine over gRPC: a protowire-based wire
// codec, capability-token interceptors, rate limiting, Prometheus
// instrumentation and the service handlers.
package rpc

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"

	"github.com/aifs-project/aifs/rpc/aifspb"
)

// CodecName identifies the wire codec; connections must request it via
// grpc.CallContentSubtype or the client helpers in this package.
const CodecName = "aifs"

// wireCodec marshals aifspb messages with protowire and falls back to
// the standard proto codec for foreign messages (health service).
type wireCodec struct{}

func (wireCodec) Name() string { return CodecName }

func (wireCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case aifspb.Message:
		return m.Marshal()
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("rpc: cannot marshal %T", v)
	}
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case aifspb.Message:
		return m.Unmarshal(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("rpc: cannot unmarshal into %T", v)
	}
}

// zstdCompressor advertises zstd as a transport compressor.
type zstdCompressor struct {
	encoders sync.Pool
}

func (*zstdCompressor) Name() string { return "zstd" }

func (c *zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	enc, _ := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	return enc, nil
}

func (c *zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

func init() {
	encoding.RegisterCodec(wireCodec{})
	encoding.RegisterCompressor(&zstdCompressor{})
}
