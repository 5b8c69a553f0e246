// Package codec implements the deterministic byte encodings and validators
// for the four asset kinds: blob, tensor, embed and artifact.
//
// Codec selection is a breaking-change boundary: persisted assets are
// decoded by the codec their kind names, and the encodings are fixed wire
// formats. Structured headers use protobuf wire encoding (protowire) with
// stable field numbers so encodings are deterministic across builds.
package codec

import (
	"errors"
	"fmt"

	"github.com/aifs-project/aifs/model"
)

var (
	// ErrMalformed is returned when bytes do not parse as the claimed kind.
	ErrMalformed = errors.New("codec: malformed payload")
	// ErrUnknownKind is returned for kinds outside the known set.
	ErrUnknownKind = errors.New("codec: unknown asset kind")
)

// Validate checks that data is a well-formed payload of the given kind.
// Validators run before storage and again on read.
func Validate(kind model.Kind, data []byte) error {
	switch kind {
	case model.KindBlob:
		return nil
	case model.KindTensor:
		_, _, err := DecodeTensor(data)
		return err
	case model.KindEmbed:
		_, err := DecodeEmbed(data)
		return err
	case model.KindArtifact:
		_, err := DecodeArtifact(data)
		return err
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
