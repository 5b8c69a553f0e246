package aifspb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ParentRef declares one lineage parent on a put.
//
//	1: id               (string, hex)
//	2: transform_name   (string)
//	3: transform_digest (string)
type ParentRef struct {
	ID              string
	TransformName   string
	TransformDigest string
}

func (p *ParentRef) Marshal() ([]byte, error) {
	b := appendString(nil, 1, p.ID)
	b = appendString(b, 2, p.TransformName)
	b = appendString(b, 3, p.TransformDigest)
	return b, nil
}

func (p *ParentRef) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			p.ID = f.str()
		case 2:
			p.TransformName = f.str()
		case 3:
			p.TransformDigest = f.str()
		}
		return nil
	})
}

// PutAssetHeader opens a put stream.
//
//	1: namespace (string)
//	2: kind      (string: blob|tensor|embed|artifact)
//	3: metadata  (map entry)
//	4: parents   (repeated ParentRef)
//	5: tx_id     (string)
//	6: embedding (bytes: packed f32)
type PutAssetHeader struct {
	Namespace string
	Kind      string
	Metadata  map[string]string
	Parents   []*ParentRef
	TxID      string
	Embedding []float32
}

func (h *PutAssetHeader) Marshal() ([]byte, error) {
	b := appendString(nil, 1, h.Namespace)
	b = appendString(b, 2, h.Kind)
	b = appendMap(b, 3, h.Metadata)
	for _, p := range h.Parents {
		pb, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, 4, pb)
	}
	b = appendString(b, 5, h.TxID)
	b = appendFloats(b, 6, h.Embedding)
	return b, nil
}

func (h *PutAssetHeader) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			h.Namespace = f.str()
		case 2:
			h.Kind = f.str()
		case 3:
			if h.Metadata == nil {
				h.Metadata = make(map[string]string)
			}
			return consumeMapEntry(f.bytes, h.Metadata)
		case 4:
			p := new(ParentRef)
			if err := p.Unmarshal(f.bytes); err != nil {
				return err
			}
			h.Parents = append(h.Parents, p)
		case 5:
			h.TxID = f.str()
		case 6:
			vec, err := consumeFloats(f.bytes)
			if err != nil {
				return err
			}
			h.Embedding = vec
		}
		return nil
	})
}

// PutAssetRequest is one frame of the client stream: the first frame
// carries the header, every further frame a data segment.
//
//	1: header (PutAssetHeader)
//	2: data   (bytes)
type PutAssetRequest struct {
	Header *PutAssetHeader
	Data   []byte
}

func (r *PutAssetRequest) Marshal() ([]byte, error) {
	var b []byte
	if r.Header != nil {
		hb, err := r.Header.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, hb)
	}
	b = appendBytes(b, 2, r.Data)
	return b, nil
}

func (r *PutAssetRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Header = new(PutAssetHeader)
			return r.Header.Unmarshal(f.bytes)
		case 2:
			r.Data = append([]byte(nil), f.bytes...)
		}
		return nil
	})
}

// PutAssetResponse closes a put stream.
//
//	1: id  (string, hex)
//	2: uri (string, aifs://)
type PutAssetResponse struct {
	ID  string
	URI string
}

func (r *PutAssetResponse) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.ID)
	b = appendString(b, 2, r.URI)
	return b, nil
}

func (r *PutAssetResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.ID = f.str()
		case 2:
			r.URI = f.str()
		}
		return nil
	})
}

// AssetInfo is the metadata view of an asset.
//
//	1: id         (string, hex)
//	2: namespace  (string)
//	3: kind       (string)
//	4: size       (varint)
//	5: created_at (varint, unix seconds)
//	6: metadata   (map entry)
//	7: chunks     (repeated string, hex)
//	8: tx_id      (string)
//	9: visible    (bool)
type AssetInfo struct {
	ID        string
	Namespace string
	Kind      string
	Size      uint64
	CreatedAt int64
	Metadata  map[string]string
	Chunks    []string
	TxID      string
	Visible   bool
}

func (a *AssetInfo) Marshal() ([]byte, error) {
	b := appendString(nil, 1, a.ID)
	b = appendString(b, 2, a.Namespace)
	b = appendString(b, 3, a.Kind)
	b = appendUint(b, 4, a.Size)
	b = appendUint(b, 5, uint64(a.CreatedAt))
	b = appendMap(b, 6, a.Metadata)
	for _, c := range a.Chunks {
		b = appendString(b, 7, c)
	}
	b = appendString(b, 8, a.TxID)
	b = appendBool(b, 9, a.Visible)
	return b, nil
}

func (a *AssetInfo) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			a.ID = f.str()
		case 2:
			a.Namespace = f.str()
		case 3:
			a.Kind = f.str()
		case 4:
			a.Size = f.varint
		case 5:
			a.CreatedAt = int64(f.varint)
		case 6:
			if a.Metadata == nil {
				a.Metadata = make(map[string]string)
			}
			return consumeMapEntry(f.bytes, a.Metadata)
		case 7:
			a.Chunks = append(a.Chunks, f.str())
		case 8:
			a.TxID = f.str()
		case 9:
			a.Visible = f.varint != 0
		}
		return nil
	})
}

// GetAssetRequest fetches an asset.
//
//	1: id           (string, hex)
//	2: include_data (bool)
type GetAssetRequest struct {
	ID          string
	IncludeData bool
}

func (r *GetAssetRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.ID)
	b = appendBool(b, 2, r.IncludeData)
	return b, nil
}

func (r *GetAssetRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.ID = f.str()
		case 2:
			r.IncludeData = f.varint != 0
		}
		return nil
	})
}

// GetAssetResponse is one frame of the get stream: the first frame
// carries the asset info, further frames carry data segments when
// include_data was set.
//
//	1: asset (AssetInfo)
//	2: data  (bytes)
type GetAssetResponse struct {
	Asset *AssetInfo
	Data  []byte
}

func (r *GetAssetResponse) Marshal() ([]byte, error) {
	var b []byte
	if r.Asset != nil {
		ab, err := r.Asset.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, ab)
	}
	b = appendBytes(b, 2, r.Data)
	return b, nil
}

func (r *GetAssetResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Asset = new(AssetInfo)
			return r.Asset.Unmarshal(f.bytes)
		case 2:
			r.Data = append([]byte(nil), f.bytes...)
		}
		return nil
	})
}

// DeleteAssetRequest removes an asset.
//
//	1: id (string, hex)
type DeleteAssetRequest struct {
	ID string
}

func (r *DeleteAssetRequest) Marshal() ([]byte, error) {
	return appendString(nil, 1, r.ID), nil
}

func (r *DeleteAssetRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		if num == 1 {
			r.ID = f.str()
		}
		return nil
	})
}

// Empty is the empty response.
type Empty struct{}

func (*Empty) Marshal() ([]byte, error) { return nil, nil }
func (*Empty) Unmarshal(_ []byte) error { return nil }

// ListAssetsRequest pages through assets.
//
//	1: namespace   (string)
//	2: kind        (string, optional filter)
//	3: meta_equals (map entry)
//	4: limit       (varint)
//	5: cursor      (string)
type ListAssetsRequest struct {
	Namespace  string
	Kind       string
	MetaEquals map[string]string
	Limit      uint64
	Cursor     string
}

func (r *ListAssetsRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.Namespace)
	b = appendString(b, 2, r.Kind)
	b = appendMap(b, 3, r.MetaEquals)
	b = appendUint(b, 4, r.Limit)
	b = appendString(b, 5, r.Cursor)
	return b, nil
}

func (r *ListAssetsRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Namespace = f.str()
		case 2:
			r.Kind = f.str()
		case 3:
			if r.MetaEquals == nil {
				r.MetaEquals = make(map[string]string)
			}
			return consumeMapEntry(f.bytes, r.MetaEquals)
		case 4:
			r.Limit = f.varint
		case 5:
			r.Cursor = f.str()
		}
		return nil
	})
}

// ListAssetsResponse is one asset page.
//
//	1: assets      (repeated AssetInfo)
//	2: next_cursor (string)
type ListAssetsResponse struct {
	Assets     []*AssetInfo
	NextCursor string
}

func (r *ListAssetsResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, a := range r.Assets {
		ab, err := a.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, ab)
	}
	b = appendString(b, 2, r.NextCursor)
	return b, nil
}

func (r *ListAssetsResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			a := new(AssetInfo)
			if err := a.Unmarshal(f.bytes); err != nil {
				return err
			}
			r.Assets = append(r.Assets, a)
		case 2:
			r.NextCursor = f.str()
		}
		return nil
	})
}

// VectorSearchRequest runs an ANN query.
//
//	1: namespace (string)
//	2: query     (bytes: packed f32)
//	3: k         (varint)
//	4: filter    (map entry)
type VectorSearchRequest struct {
	Namespace string
	Query     []float32
	K         uint64
	Filter    map[string]string
}

func (r *VectorSearchRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, r.Namespace)
	b = appendFloats(b, 2, r.Query)
	b = appendUint(b, 3, r.K)
	b = appendMap(b, 4, r.Filter)
	return b, nil
}

func (r *VectorSearchRequest) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			r.Namespace = f.str()
		case 2:
			vec, err := consumeFloats(f.bytes)
			if err != nil {
				return err
			}
			r.Query = vec
		case 3:
			r.K = f.varint
		case 4:
			if r.Filter == nil {
				r.Filter = make(map[string]string)
			}
			return consumeMapEntry(f.bytes, r.Filter)
		}
		return nil
	})
}

// SearchHit is one search result.
//
//	1: id    (string, hex)
//	2: score (fixed32: f32 bits)
type SearchHit struct {
	ID    string
	Score float32
}

func (h *SearchHit) Marshal() ([]byte, error) {
	b := appendString(nil, 1, h.ID)
	b = appendFloats(b, 2, []float32{h.Score})
	return b, nil
}

func (h *SearchHit) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		switch num {
		case 1:
			h.ID = f.str()
		case 2:
			vec, err := consumeFloats(f.bytes)
			if err != nil {
				return err
			}
			if len(vec) > 0 {
				h.Score = vec[0]
			}
		}
		return nil
	})
}

// VectorSearchResponse carries the ranked hits, best first.
//
//	1: hits (repeated SearchHit)
type VectorSearchResponse struct {
	Hits []*SearchHit
}

func (r *VectorSearchResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, h := range r.Hits {
		hb, err := h.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, hb)
	}
	return b, nil
}

func (r *VectorSearchResponse) Unmarshal(data []byte) error {
	return eachField(data, func(num protowire.Number, _ protowire.Type, f field) error {
		if num == 1 {
			h := new(SearchHit)
			if err := h.Unmarshal(f.bytes); err != nil {
				return err
			}
			r.Hits = append(r.Hits, h)
		}
		return nil
	})
}
