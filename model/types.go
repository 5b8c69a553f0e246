package model

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"lukechampine.com/blake3"
)

// IDSize is the size in bytes of a content address (BLAKE3-256).
const IDSize = 32

// SnapshotIDSize is the size in bytes of a snapshot identifier
// (truncated BLAKE3 of merkle_root || timestamp).
const SnapshotIDSize = 16

var idPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ID is the content address of an asset or chunk: the BLAKE3-256 digest
// of its plaintext bytes (for multi-chunk assets, of the concatenated
// chunk id list).
type ID [IDSize]byte

// Sum returns the content address of the given plaintext.
func Sum(data []byte) ID {
	return ID(blake3.Sum256(data))
}

// ParseID parses a 64-char lowercase hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	if !idPattern.MatchString(s) {
		return id, fmt.Errorf("malformed id %q: want 64 lowercase hex chars", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// String returns the lowercase hex rendering of the id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// MarshalText renders the id as lowercase hex.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses a lowercase hex id.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SnapshotID identifies a snapshot: the first 16 bytes of
// BLAKE3(merkle_root || timestamp).
type SnapshotID [SnapshotIDSize]byte

var snapshotIDPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// NewSnapshotID derives a snapshot id from a merkle root and the canonical
// RFC 3339 timestamp of the snapshot.
func NewSnapshotID(root ID, timestamp string) SnapshotID {
	sum := blake3.Sum256(append(append([]byte{}, root[:]...), []byte(timestamp)...))
	var sid SnapshotID
	copy(sid[:], sum[:SnapshotIDSize])
	return sid
}

// ParseSnapshotID parses a 32-char lowercase hex string into a SnapshotID.
func ParseSnapshotID(s string) (SnapshotID, error) {
	var sid SnapshotID
	if !snapshotIDPattern.MatchString(s) {
		return sid, fmt.Errorf("malformed snapshot id %q: want 32 lowercase hex chars", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return sid, err
	}
	copy(sid[:], b)
	return sid, nil
}

func (s SnapshotID) String() string {
	return hex.EncodeToString(s[:])
}

// IsZero reports whether the snapshot id is the zero value.
func (s SnapshotID) IsZero() bool {
	return s == SnapshotID{}
}

// MarshalText renders the snapshot id as lowercase hex.
func (s SnapshotID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a lowercase hex snapshot id.
func (s *SnapshotID) UnmarshalText(text []byte) error {
	parsed, err := ParseSnapshotID(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TxID identifies a transaction. Transaction ids are UUIDs, not content
// addresses: a transaction has no content until it commits.
type TxID string

// Kind discriminates the payload encoding of an asset.
type Kind uint8

const (
	KindBlob Kind = iota
	KindTensor
	KindEmbed
	KindArtifact
)

// ParseKind parses the wire name of a kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "blob":
		return KindBlob, nil
	case "tensor":
		return KindTensor, nil
	case "embed":
		return KindEmbed, nil
	case "artifact":
		return KindArtifact, nil
	default:
		return 0, fmt.Errorf("unknown asset kind %q", s)
	}
}

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTensor:
		return "tensor"
	case KindEmbed:
		return "embed"
	case KindArtifact:
		return "artifact"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k <= KindArtifact
}

// Metric is a vector distance metric.
type Metric uint8

const (
	MetricCosine Metric = iota
	MetricEuclidean
	MetricDot
	MetricManhattan
	MetricHamming
)

// ParseMetric parses the wire name of a distance metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine":
		return MetricCosine, nil
	case "euclidean":
		return MetricEuclidean, nil
	case "dot":
		return MetricDot, nil
	case "manhattan":
		return MetricManhattan, nil
	case "hamming":
		return MetricHamming, nil
	default:
		return 0, fmt.Errorf("unknown distance metric %q", s)
	}
}

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	case MetricDot:
		return "dot"
	case MetricManhattan:
		return "manhattan"
	case MetricHamming:
		return "hamming"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(m))
	}
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return m <= MetricHamming
}

// CompressionCodec identifies the at-rest compression of a chunk.
type CompressionCodec uint8

const (
	CodecNone CompressionCodec = iota
	CodecZstd
)

func (c CompressionCodec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// ChunkRef is the durable record of a stored chunk. The ciphertext lives in
// the blob layer; everything needed to locate and decrypt it lives here.
type ChunkRef struct {
	Hash             ID
	SizePlain        uint64
	SizeStored       uint64
	KMSKeyID         string
	WrappedDEK       []byte
	Codec            CompressionCodec
	CompressionLevel int
	RefCount         uint64
	CreatedAt        time.Time
}

// Asset is the logical unit of storage. Immutable once its creating
// transaction commits.
type Asset struct {
	ID        ID
	Kind      Kind
	Namespace string
	Size      uint64
	CreatedAt time.Time
	Metadata  map[string]string
	// Chunks lists the backing chunk ids in payload order. Single-chunk
	// assets have exactly one entry equal to ID.
	Chunks []ID
	// Embedding is the optional caller-supplied vector for ANN search.
	Embedding []float32

	// TxID is the creating transaction; Visible mirrors its committed state.
	TxID    TxID
	Visible bool
}

// LineageEdge records that Child was produced from Parent by a named
// transform. The lineage relation forms a DAG; cycles are rejected at
// insert time.
type LineageEdge struct {
	Child           ID
	Parent          ID
	TransformName   string
	TransformDigest string
}

// TxState is the lifecycle state of a transaction.
type TxState uint8

const (
	TxPending TxState = iota
	TxCommitting
	TxCommitted
	TxRollingBack
	TxRolledBack
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxCommitting:
		return "committing"
	case TxCommitted:
		return "committed"
	case TxRollingBack:
		return "rolling_back"
	case TxRolledBack:
		return "rolled_back"
	case TxFailed:
		return "failed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Terminal reports whether the state admits no further transitions.
func (s TxState) Terminal() bool {
	return s == TxCommitted || s == TxRolledBack
}

// TxRecord is the durable mirror of a transaction.
type TxRecord struct {
	ID          TxID
	State       TxState
	CreatedAt   time.Time
	CommittedAt time.Time
	Assets      []ID
	Deps        []ID
}

// Snapshot is an immutable, signed Merkle root over a set of asset ids.
type Snapshot struct {
	ID         SnapshotID
	Namespace  string
	MerkleRoot ID
	// Timestamp is the canonical RFC 3339 UTC timestamp (second precision)
	// that was signed.
	Timestamp string
	AssetIDs  []ID
	Signature []byte
	// SignerPubKey is the Ed25519 public key the signature was made with.
	SignerPubKey []byte
	Metadata     map[string]string
}

// CanonicalTimestamp renders t as the canonical snapshot timestamp.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Branch is a mutable named pointer to a snapshot.
type Branch struct {
	Namespace string
	Name      string
	Snapshot  SnapshotID
	UpdatedAt time.Time
}

// BranchEvent is one append-only branch history row. OldSnapshot is zero
// for the creating event.
type BranchEvent struct {
	Namespace   string
	Name        string
	OldSnapshot SnapshotID
	NewSnapshot SnapshotID
	At          time.Time
	Metadata    map[string]string
}

// Tag is an immutable named pointer to a snapshot.
type Tag struct {
	Namespace string
	Name      string
	Snapshot  SnapshotID
	CreatedAt time.Time
}

// NamespaceKey pins the Ed25519 public key registered for a namespace.
type NamespaceKey struct {
	Namespace string
	PubKey    []byte
	CreatedAt time.Time
	Metadata  map[string]string
}

// TrustedKey pins an Ed25519 public key under a caller-chosen key id,
// optionally scoped to a namespace.
type TrustedKey struct {
	KeyID     string
	PubKey    []byte
	Namespace string
	CreatedAt time.Time
	Metadata  map[string]string
}

// EventType discriminates engine events published to subscribers.
type EventType uint8

const (
	EventAssetCommitted EventType = iota
	EventSnapshotCreated
	EventBranchUpdated
	EventTagCreated
)

func (e EventType) String() string {
	switch e {
	case EventAssetCommitted:
		return "asset_committed"
	case EventSnapshotCreated:
		return "snapshot_created"
	case EventBranchUpdated:
		return "branch_updated"
	case EventTagCreated:
		return "tag_created"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(e))
	}
}

// Event is a single engine event.
type Event struct {
	Type      EventType
	Namespace string
	AssetID   ID
	Snapshot  SnapshotID
	Name      string
	At        time.Time
}
