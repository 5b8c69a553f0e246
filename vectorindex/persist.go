package vectorindex

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/pierrec/lz4/v4"

	"github.com/aifs-project/aifs/model"
)

// persistedGraph is the gob image of one namespace graph. Roaring bitmaps
// travel in their portable serialized form.
type persistedGraph struct {
	Dim        int
	EntryPoint uint32
	MaxLevel   int
	Nodes      []*graphNode
	Deleted    []uint64
	ByAsset    map[model.ID]uint32
	Meta       map[string]map[string][]byte
}

type persistedIndex struct {
	Metric     model.Metric
	M          int
	EF         int
	Namespaces map[string]persistedGraph
}

// Save writes an lz4-compressed image of the index. The write is atomic:
// a temp file is renamed over the target.
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	img := persistedIndex{
		Metric:     ix.metric,
		M:          ix.m,
		EF:         ix.ef,
		Namespaces: make(map[string]persistedGraph, len(ix.namespaces)),
	}
	for name, ns := range ix.namespaces {
		ns.mu.RLock()
		pg := persistedGraph{
			Dim:        ns.dim,
			EntryPoint: ns.graph.ep,
			MaxLevel:   ns.graph.maxLevel,
			Nodes:      ns.graph.nodes,
			Deleted:    ns.graph.deleted.Bytes(),
			ByAsset:    make(map[model.ID]uint32, len(ns.byAsset)),
			Meta:       make(map[string]map[string][]byte, len(ns.meta)),
		}
		for id, node := range ns.byAsset {
			pg.ByAsset[id] = node
		}
		for field, values := range ns.meta {
			out := make(map[string][]byte, len(values))
			for value, bm := range values {
				raw, err := bm.ToBytes()
				if err != nil {
					ns.mu.RUnlock()
					ix.mu.RUnlock()
					return fmt.Errorf("serialize filter bitmap: %w", err)
				}
				out[value] = raw
			}
			pg.Meta[field] = out
		}
		ns.mu.RUnlock()
		img.Namespaces[name] = pg
	}
	ix.mu.RUnlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".vectorindex-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := lz4.NewWriter(tmp)
	if err := gob.NewEncoder(zw).Encode(img); err != nil {
		tmp.Close()
		return fmt.Errorf("encode index image: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load restores an index image written by Save. Options other than the
// visibility join and logger are taken from the image.
func Load(path string, optFns ...Option) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var img persistedIndex
	if err := gob.NewDecoder(lz4.NewReader(f)).Decode(&img); err != nil {
		return nil, fmt.Errorf("decode index image: %w", err)
	}

	ix, err := New(append([]Option{
		WithMetric(img.Metric),
		WithM(img.M),
		WithEF(img.EF),
	}, optFns...)...)
	if err != nil {
		return nil, err
	}

	for name, pg := range img.Namespaces {
		g := newGraph(pg.Dim, img.M, img.EF, ix.distance)
		g.nodes = pg.Nodes
		g.ep = pg.EntryPoint
		g.maxLevel = pg.MaxLevel
		g.deleted = bitset.From(pg.Deleted)

		ns := &nsIndex{
			dim:     pg.Dim,
			graph:   g,
			byAsset: pg.ByAsset,
			byNode:  make(map[uint32]model.ID, len(pg.ByAsset)),
			meta:    make(map[string]map[string]*roaring.Bitmap, len(pg.Meta)),
		}
		for id, node := range pg.ByAsset {
			ns.byNode[node] = id
		}
		for field, values := range pg.Meta {
			out := make(map[string]*roaring.Bitmap, len(values))
			for value, raw := range values {
				bm := roaring.New()
				if err := bm.UnmarshalBinary(raw); err != nil {
					return nil, fmt.Errorf("restore filter bitmap %s=%s: %w", field, value, err)
				}
				out[value] = bm
			}
			ns.meta[field] = out
		}
		ix.namespaces[name] = ns
	}
	return ix, nil
}
