// Package signing implements Ed25519 snapshot signatures.
//
// A signature covers the canonical message
//
//	"AIFS_SNAPSHOT:" + hex(merkle_root) + ":" + timestamp + ":" + namespace
//
// where timestamp is RFC 3339 UTC at second precision. Ed25519 signatures
// are deterministic (RFC 8032): signing the same snapshot twice with the
// same key yields identical bytes.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aifs-project/aifs/model"
)

// SignatureSize is the size in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

const messagePrefix = "AIFS_SNAPSHOT:"

var (
	// ErrBadKey is returned for keys of the wrong size.
	ErrBadKey = errors.New("signing: bad ed25519 key")
	// ErrBadSignature is returned for malformed signature encodings.
	ErrBadSignature = errors.New("signing: bad signature encoding")
)

// Signer holds the engine's Ed25519 keypair.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner wraps an existing Ed25519 private key (64-byte expanded form
// or 32-byte seed). A nil key generates a fresh keypair.
func NewSigner(priv []byte) (*Signer, error) {
	switch len(priv) {
	case 0:
		pub, sk, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &Signer{priv: sk, pub: pub}, nil
	case ed25519.SeedSize:
		sk := ed25519.NewKeyFromSeed(priv)
		return &Signer{priv: sk, pub: sk.Public().(ed25519.PublicKey)}, nil
	case ed25519.PrivateKeySize:
		sk := ed25519.PrivateKey(priv)
		return &Signer{priv: sk, pub: sk.Public().(ed25519.PublicKey)}, nil
	default:
		return nil, fmt.Errorf("%w: private key is %d bytes", ErrBadKey, len(priv))
	}
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() []byte {
	return append([]byte(nil), s.pub...)
}

// PublicKeyHex returns the verification key as lowercase hex.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// SignSnapshot signs the canonical snapshot message and returns the raw
// 64-byte signature.
func (s *Signer) SignSnapshot(root model.ID, timestamp, namespace string) []byte {
	return ed25519.Sign(s.priv, Message(root, timestamp, namespace))
}

// Message builds the canonical byte string that snapshot signatures cover.
func Message(root model.ID, timestamp, namespace string) []byte {
	return []byte(messagePrefix + root.String() + ":" + timestamp + ":" + namespace)
}

// Verify checks sig over the canonical snapshot message with the given
// 32-byte public key. Malformed inputs verify as false, never panic.
func Verify(sig []byte, root model.ID, timestamp, namespace string, pub []byte) bool {
	if len(sig) != SignatureSize || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), Message(root, timestamp, namespace), sig)
}

// VerifyHex is Verify for hex-encoded signatures and keys.
func VerifyHex(sigHex string, root model.ID, timestamp, namespace, pubHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return Verify(sig, root, timestamp, namespace, pub), nil
}
