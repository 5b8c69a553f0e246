package aifspb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// CreateSnapshotRequest captures a namespace.
//
//	1: namespace (string)
//	2: asset_ids (repeated string, hex; empty = all visible)
//	3: metadata  (map entry)
type CreateSnapshotRequest struct {
	Namespace string
	AssetIDs  []string
	Metadata  map[string]string
}

func (r *CreateSnapshotRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.Namespace)
	for _, id := range r.AssetIDs {
		b = appendString(b, 2, id)
	}
	b = appendMap(b, 3, r.Metadata)
	return b, nil
}

func (r *CreateSnapshotRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Namespace = f.str()
		case 2:
			r.AssetIDs = append(r.AssetIDs, f.str())
		case 3:
			if r.Metadata == nil {
				r.Metadata = make(map[string]string)
			}
			return consumeMapEntry(f.bytes, r.Metadata)
		}
		return nil
	})
}

// SnapshotInfo is the wire view of a snapshot.
//
//	1: id             (string, hex)
//	2: namespace      (string)
//	3: merkle_root    (string, hex)
//	4: timestamp      (string, RFC3339 UTC)
//	5: asset_ids      (repeated string, hex)
//	6: signature      (bytes)
//	7: signer_pub_key (bytes)
//	8: metadata       (map entry)
//	9: uri            (string, aifs-snap://)
type SnapshotInfo struct {
	ID           string
	Namespace    string
	MerkleRoot   string
	Timestamp    string
	AssetIDs     []string
	Signature    []byte
	SignerPubKey []byte
	Metadata     map[string]string
	URI          string
}

func (s *SnapshotInfo) Marshal() ([]byte, error) {
	b := appendString(nil, 1, s.ID)
	b = appendString(b, 2, s.Namespace)
	b = appendString(b, 3, s.MerkleRoot)
	b = appendString(b, 4, s.Timestamp)
	for _, id := range s.AssetIDs {
		b = appendString(b, 5, id)
	}
	b = appendBytes(b, 6, s.Signature)
	b = appendBytes(b, 7, s.SignerPubKey)
	b = appendMap(b, 8, s.Metadata)
	b = appendString(b, 9, s.URI)
	return b, nil
}

func (s *SnapshotInfo) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			s.ID = f.str()
		case 2:
			s.Namespace = f.str()
		case 3:
			s.MerkleRoot = f.str()
		case 4:
			s.Timestamp = f.str()
		case 5:
			s.AssetIDs = append(s.AssetIDs, f.str())
		case 6:
			s.Signature = append([]byte(nil), f.bytes...)
		case 7:
			s.SignerPubKey = append([]byte(nil), f.bytes...)
		case 8:
			if s.Metadata == nil {
				s.Metadata = make(map[string]string)
			}
			return consumeMapEntry(f.bytes, s.Metadata)
		case 9:
			s.URI = f.str()
		}
		return nil
	})
}

// GetSnapshotRequest fetches a snapshot.
//
//	1: id (string, hex)
type GetSnapshotRequest struct {
	ID string
}

func (r *GetSnapshotRequest) Marshal() ([]byte, error) {
	return appendString(nil, 1, r.ID), nil
}

func (r *GetSnapshotRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		if num == 1 {
			r.ID = f.str()
		}
		return nil
	})
}

// VerifySnapshotRequest checks a snapshot signature.
//
//	1: id                   (string, hex)
//	2: public_key           (bytes, optional explicit key)
//	3: use_namespace_key    (bool)
//	4: trusted_key_id       (string)
//	5: allow_key_divergence (bool)
type VerifySnapshotRequest struct {
	ID                 string
	PublicKey          []byte
	UseNamespaceKey    bool
	TrustedKeyID       string
	AllowKeyDivergence bool
}

func (r *VerifySnapshotRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.ID)
	b = appendBytes(b, 2, r.PublicKey)
	b = appendBool(b, 3, r.UseNamespaceKey)
	b = appendString(b, 4, r.TrustedKeyID)
	b = appendBool(b, 5, r.AllowKeyDivergence)
	return b, nil
}

func (r *VerifySnapshotRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.ID = f.str()
		case 2:
			r.PublicKey = append([]byte(nil), f.bytes...)
		case 3:
			r.UseNamespaceKey = f.varint != 0
		case 4:
			r.TrustedKeyID = f.str()
		case 5:
			r.AllowKeyDivergence = f.varint != 0
		}
		return nil
	})
}

// VerifySnapshotResponse reports the verification outcome.
//
//	1: valid  (bool)
//	2: reason (string, set when invalid)
type VerifySnapshotResponse struct {
	Valid  bool
	Reason string
}

func (r *VerifySnapshotResponse) Marshal() ([]byte, error) {
	b := appendBool(nil, 1, r.Valid)
	b = appendString(b, 2, r.Reason)
	return b, nil
}

func (r *VerifySnapshotResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Valid = f.varint != 0
		case 2:
			r.Reason = f.str()
		}
		return nil
	})
}

// BranchRequest names a branch.
//
//	1: namespace   (string)
//	2: name        (string)
//	3: snapshot_id (string, hex; create/update only)
//	4: metadata    (map entry; create/update only)
type BranchRequest struct {
	Namespace  string
	Name       string
	SnapshotID string
	Metadata   map[string]string
}

func (r *BranchRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.Namespace)
	b = appendString(b, 2, r.Name)
	b = appendString(b, 3, r.SnapshotID)
	b = appendMap(b, 4, r.Metadata)
	return b, nil
}

func (r *BranchRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Namespace = f.str()
		case 2:
			r.Name = f.str()
		case 3:
			r.SnapshotID = f.str()
		case 4:
			if r.Metadata == nil {
				r.Metadata = make(map[string]string)
			}
			return consumeMapEntry(f.bytes, r.Metadata)
		}
		return nil
	})
}

// BranchInfo is the wire view of a branch pointer.
//
//	1: namespace   (string)
//	2: name        (string)
//	3: snapshot_id (string, hex)
//	4: updated_at  (varint, unix seconds)
type BranchInfo struct {
	Namespace  string
	Name       string
	SnapshotID string
	UpdatedAt  int64
}

func (b *BranchInfo) Marshal() ([]byte, error) {
	buf := appendString(nil, 1, b.Namespace)
	buf = appendString(buf, 2, b.Name)
	buf = appendString(buf, 3, b.SnapshotID)
	buf = appendUint(buf, 4, uint64(b.UpdatedAt))
	return buf, nil
}

func (b *BranchInfo) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			b.Namespace = f.str()
		case 2:
			b.Name = f.str()
		case 3:
			b.SnapshotID = f.str()
		case 4:
			b.UpdatedAt = int64(f.varint)
		}
		return nil
	})
}

// ListBranchesResponse lists branch pointers.
//
//	1: branches (repeated BranchInfo)
type ListBranchesResponse struct {
	Branches []*BranchInfo
}

func (r *ListBranchesResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, br := range r.Branches {
		bb, err := br.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, bb)
	}
	return b, nil
}

func (r *ListBranchesResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		if num == 1 {
			br := new(BranchInfo)
			if err := br.Unmarshal(f.bytes); err != nil {
				return err
			}
			r.Branches = append(r.Branches, br)
		}
		return nil
	})
}

// BranchEventInfo is one history row of a branch.
//
//	1: old_snapshot (string, hex; empty on create)
//	2: new_snapshot (string, hex)
//	3: at           (varint, unix seconds)
//	4: metadata     (map entry)
type BranchEventInfo struct {
	OldSnapshot string
	NewSnapshot string
	At          int64
	Metadata    map[string]string
}

func (e *BranchEventInfo) Marshal() ([]byte, error) {
	b := appendString(nil, 1, e.OldSnapshot)
	b = appendString(b, 2, e.NewSnapshot)
	b = appendUint(b, 3, uint64(e.At))
	b = appendMap(b, 4, e.Metadata)
	return b, nil
}

func (e *BranchEventInfo) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			e.OldSnapshot = f.str()
		case 2:
			e.NewSnapshot = f.str()
		case 3:
			e.At = int64(f.varint)
		case 4:
			if e.Metadata == nil {
				e.Metadata = make(map[string]string)
			}
			return consumeMapEntry(f.bytes, e.Metadata)
		}
		return nil
	})
}

// BranchHistoryResponse lists branch history, oldest first.
//
//	1: events (repeated BranchEventInfo)
type BranchHistoryResponse struct {
	Events []*BranchEventInfo
}

func (r *BranchHistoryResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, e := range r.Events {
		eb, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	return b, nil
}

func (r *BranchHistoryResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		if num == 1 {
			e := new(BranchEventInfo)
			if err := e.Unmarshal(f.bytes); err != nil {
				return err
			}
			r.Events = append(r.Events, e)
		}
		return nil
	})
}

// TagRequest names a tag.
//
//	1: namespace   (string)
//	2: name        (string)
//	3: snapshot_id (string, hex; create only)
type TagRequest struct {
	Namespace  string
	Name       string
	SnapshotID string
}

func (r *TagRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.Namespace)
	b = appendString(b, 2, r.Name)
	b = appendString(b, 3, r.SnapshotID)
	return b, nil
}

func (r *TagRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Namespace = f.str()
		case 2:
			r.Name = f.str()
		case 3:
			r.SnapshotID = f.str()
		}
		return nil
	})
}

// TagInfo is the wire view of a tag.
//
//	1: namespace   (string)
//	2: name        (string)
//	3: snapshot_id (string, hex)
//	4: created_at  (varint, unix seconds)
type TagInfo struct {
	Namespace  string
	Name       string
	SnapshotID string
	CreatedAt  int64
}

func (t *TagInfo) Marshal() ([]byte, error) {
	b := appendString(nil, 1, t.Namespace)
	b = appendString(b, 2, t.Name)
	b = appendString(b, 3, t.SnapshotID)
	b = appendUint(b, 4, uint64(t.CreatedAt))
	return b, nil
}

func (t *TagInfo) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			t.Namespace = f.str()
		case 2:
			t.Name = f.str()
		case 3:
			t.SnapshotID = f.str()
		case 4:
			t.CreatedAt = int64(f.varint)
		}
		return nil
	})
}

// ListTagsResponse lists tags.
//
//	1: tags (repeated TagInfo)
type ListTagsResponse struct {
	Tags []*TagInfo
}

func (r *ListTagsResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, t := range r.Tags {
		tb, err := t.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, tb)
	}
	return b, nil
}

func (r *ListTagsResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		if num == 1 {
			t := new(TagInfo)
			if err := t.Unmarshal(f.bytes); err != nil {
				return err
			}
			r.Tags = append(r.Tags, t)
		}
		return nil
	})
}

// SubscribeEventsRequest filters the event stream.
//
//	1: namespace (string, optional)
//	2: types     (repeated varint, optional)
type SubscribeEventsRequest struct {
	Namespace string
	Types     []uint64
}

func (r *SubscribeEventsRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.Namespace)
	for _, t := range r.Types {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, t)
	}
	return b, nil
}

func (r *SubscribeEventsRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Namespace = f.str()
		case 2:
			r.Types = append(r.Types, f.varint)
		}
		return nil
	})
}

// EventMessage is one delivered engine event.
//
//	1: type        (string)
//	2: namespace   (string)
//	3: asset_id    (string, hex)
//	4: snapshot_id (string, hex)
//	5: name        (string, branch/tag name)
//	6: at          (varint, unix seconds)
type EventMessage struct {
	Type       string
	Namespace  string
	AssetID    string
	SnapshotID string
	Name       string
	At         int64
}

func (e *EventMessage) Marshal() ([]byte, error) {
	b := appendString(nil, 1, e.Type)
	b = appendString(b, 2, e.Namespace)
	b = appendString(b, 3, e.AssetID)
	b = appendString(b, 4, e.SnapshotID)
	b = appendString(b, 5, e.Name)
	b = appendUint(b, 6, uint64(e.At))
	return b, nil
}

func (e *EventMessage) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			e.Type = f.str()
		case 2:
			e.Namespace = f.str()
		case 3:
			e.AssetID = f.str()
		case 4:
			e.SnapshotID = f.str()
		case 5:
			e.Name = f.str()
		case 6:
			e.At = int64(f.varint)
		}
		return nil
	})
}

// TxRequest carries a transaction id.
//
//	1: tx_id (string)
type TxRequest struct {
	TxID string
}

func (r *TxRequest) Marshal() ([]byte, error) {
	return appendString(nil, 1, r.TxID), nil
}

func (r *TxRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		if num == 1 {
			r.TxID = f.str()
		}
		return nil
	})
}

// TxResponse reports a transaction.
//
//	1: tx_id (string)
//	2: state (string)
type TxResponse struct {
	TxID  string
	State string
}

func (r *TxResponse) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.TxID)
	b = appendString(b, 2, r.State)
	return b, nil
}

func (r *TxResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.TxID = f.str()
		case 2:
			r.State = f.str()
		}
		return nil
	})
}

// NamespaceInfo is one entry of ListNamespaces.
//
//	1: name      (string)
//	2: assets    (varint)
//	3: snapshots (varint)
type NamespaceInfo struct {
	Name      string
	Assets    uint64
	Snapshots uint64
}

func (n *NamespaceInfo) Marshal() ([]byte, error) {
	b := appendString(nil, 1, n.Name)
	b = appendUint(b, 2, n.Assets)
	b = appendUint(b, 3, n.Snapshots)
	return b, nil
}

func (n *NamespaceInfo) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			n.Name = f.str()
		case 2:
			n.Assets = f.varint
		case 3:
			n.Snapshots = f.varint
		}
		return nil
	})
}

// ListNamespacesResponse lists namespaces with counts.
//
//	1: namespaces (repeated NamespaceInfo)
type ListNamespacesResponse struct {
	Namespaces []*NamespaceInfo
}

func (r *ListNamespacesResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, n := range r.Namespaces {
		nb, err := n.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, nb)
	}
	return b, nil
}

func (r *ListNamespacesResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		if num == 1 {
			n := new(NamespaceInfo)
			if err := n.Unmarshal(f.bytes); err != nil {
				return err
			}
			r.Namespaces = append(r.Namespaces, n)
		}
		return nil
	})
}

// InfoResponse summarizes the serving engine.
//
//	1: version           (string)
//	2: metric            (string)
//	3: compression_level (varint)
//	4: kms_key_id        (string)
//	5: signer_pub_key    (string, hex)
//	6: namespaces        (repeated NamespaceInfo; development mode only)
type InfoResponse struct {
	Version          string
	Metric           string
	CompressionLevel uint64
	KMSKeyID         string
	SignerPubKey     string
	Namespaces       []*NamespaceInfo
}

func (r *InfoResponse) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.Version)
	b = appendString(b, 2, r.Metric)
	b = appendUint(b, 3, r.CompressionLevel)
	b = appendString(b, 4, r.KMSKeyID)
	b = appendString(b, 5, r.SignerPubKey)
	for _, n := range r.Namespaces {
		nb, err := n.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, nb)
	}
	return b, nil
}

func (r *InfoResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Version = f.str()
		case 2:
			r.Metric = f.str()
		case 3:
			r.CompressionLevel = f.varint
		case 4:
			r.KMSKeyID = f.str()
		case 5:
			r.SignerPubKey = f.str()
		case 6:
			n := new(NamespaceInfo)
			if err := n.Unmarshal(f.bytes); err != nil {
				return err
			}
			r.Namespaces = append(r.Namespaces, n)
		}
		return nil
	})
}

// RegisterNamespaceKeyRequest pins a snapshot verification key for a
// namespace. Overwriting an existing registration requires the admin
// capability.
//
//	1: namespace  (string)
//	2: public_key (bytes, Ed25519)
//	3: metadata   (map entry)
//	4: overwrite  (bool)
type RegisterNamespaceKeyRequest struct {
	Namespace string
	PublicKey []byte
	Metadata  map[string]string
	Overwrite bool
}

func (r *RegisterNamespaceKeyRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.Namespace)
	b = appendBytes(b, 2, r.PublicKey)
	b = appendMap(b, 3, r.Metadata)
	b = appendBool(b, 4, r.Overwrite)
	return b, nil
}

func (r *RegisterNamespaceKeyRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Namespace = f.str()
		case 2:
			r.PublicKey = append([]byte(nil), f.bytes...)
		case 3:
			if r.Metadata == nil {
				r.Metadata = make(map[string]string)
			}
			return consumeMapEntry(f.bytes, r.Metadata)
		case 4:
			r.Overwrite = f.varint != 0
		}
		return nil
	})
}
