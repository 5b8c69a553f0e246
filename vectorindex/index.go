// Package vectorindex provides approximate nearest neighbour search over
// asset embeddings. Each namespace owns an independent HNSW graph whose
// dimension is fixed by its first insert. Searches can pre-filter on
// metadata equality via roaring bitmaps and join results against asset
// visibility, so uncommitted assets never surface.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/aifs-project/aifs/model"
)

// DimensionMismatchError reports a vector whose length disagrees with the
// namespace dimension.
type DimensionMismatchError struct {
	Namespace string
	Expected  int
	Actual    int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("namespace %q holds %d-dimensional vectors, got %d", e.Namespace, e.Expected, e.Actual)
}

// VisibilityFunc reports whether an asset may appear in search results.
type VisibilityFunc func(ctx context.Context, id model.ID) bool

// Result is one search hit.
type Result struct {
	AssetID model.ID
	// Score is the metric's natural value: similarity for dot, distance
	// otherwise. Results arrive best first.
	Score float32
}

// Options configures an Index.
type Options struct {
	// Metric is the distance metric applied to every namespace.
	Metric model.Metric
	// M is the HNSW connection budget per node and layer.
	M int
	// EF is the construction/search beam width.
	EF int
	// Visibility joins results against the metadata plane. Nil admits all.
	Visibility VisibilityFunc
	// Logger receives structured operational logs. Nil disables logging.
	Logger *slog.Logger
}

// Option is a functional option for New.
type Option func(*Options)

// WithMetric sets the distance metric.
func WithMetric(m model.Metric) Option {
	return func(o *Options) { o.Metric = m }
}

// WithM sets the HNSW connection budget.
func WithM(m int) Option {
	return func(o *Options) { o.M = m }
}

// WithEF sets the beam width.
func WithEF(ef int) Option {
	return func(o *Options) { o.EF = ef }
}

// WithVisibility sets the visibility join.
func WithVisibility(fn VisibilityFunc) Option {
	return func(o *Options) { o.Visibility = fn }
}

// WithLogger sets the logger for the index.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// SearchOption narrows a single search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	filter map[string]string
}

// WithFilter restricts results to assets whose metadata matches every
// listed key exactly.
func WithFilter(filter map[string]string) SearchOption {
	return func(o *searchOptions) { o.filter = filter }
}

// nsIndex is the per-namespace state: the graph, the asset/node mappings
// and the metadata bitmaps backing equality filters.
type nsIndex struct {
	mu      sync.RWMutex
	dim     int
	graph   *graph
	byAsset map[model.ID]uint32
	byNode  map[uint32]model.ID
	meta    map[string]map[string]*roaring.Bitmap
}

// Index is the engine-wide vector index. Safe for concurrent use.
type Index struct {
	mu         sync.RWMutex
	namespaces map[string]*nsIndex

	metric     model.Metric
	m          int
	ef         int
	distance   distanceFunc
	visibility VisibilityFunc
	logger     *slog.Logger
}

// New creates an index.
func New(optFns ...Option) (*Index, error) {
	opts := Options{
		Metric: model.MetricCosine,
		M:      16,
		EF:     200,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	dist, err := distanceFor(opts.Metric)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Index{
		namespaces: make(map[string]*nsIndex),
		metric:     opts.Metric,
		m:          opts.M,
		ef:         opts.EF,
		distance:   dist,
		visibility: opts.Visibility,
		logger:     logger,
	}, nil
}

// Metric returns the configured distance metric.
func (ix *Index) Metric() model.Metric {
	return ix.metric
}

// Dimension returns the bound dimension of a namespace, or false before its
// first insert.
func (ix *Index) Dimension(namespace string) (int, bool) {
	ix.mu.RLock()
	ns, ok := ix.namespaces[namespace]
	ix.mu.RUnlock()
	if !ok {
		return 0, false
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.dim, true
}

// Len returns the number of indexed vectors in a namespace.
func (ix *Index) Len(namespace string) int {
	ix.mu.RLock()
	ns, ok := ix.namespaces[namespace]
	ix.mu.RUnlock()
	if !ok {
		return 0
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.byAsset)
}

func (ix *Index) namespace(name string, dim int) (*nsIndex, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ns, ok := ix.namespaces[name]
	if !ok {
		ns = &nsIndex{
			dim:     dim,
			graph:   newGraph(dim, ix.m, ix.ef, ix.distance),
			byAsset: make(map[model.ID]uint32),
			byNode:  make(map[uint32]model.ID),
			meta:    make(map[string]map[string]*roaring.Bitmap),
		}
		ix.namespaces[name] = ns
	}
	if ns.dim != dim {
		return nil, &DimensionMismatchError{Namespace: name, Expected: ns.dim, Actual: dim}
	}
	return ns, nil
}

// Add indexes an asset's embedding with its filterable metadata. Re-adding
// an asset replaces its previous vector.
func (ix *Index) Add(ctx context.Context, namespace string, id model.ID, vector []float32, meta map[string]string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty embedding for asset %s", id)
	}
	ns, err := ix.namespace(namespace, len(vector))
	if err != nil {
		return err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if old, ok := ns.byAsset[id]; ok {
		ns.dropNodeLocked(old, id)
	}

	node := ns.graph.insert(vector)
	ns.byAsset[id] = node
	ns.byNode[node] = id
	for k, v := range meta {
		values, ok := ns.meta[k]
		if !ok {
			values = make(map[string]*roaring.Bitmap)
			ns.meta[k] = values
		}
		bm, ok := values[v]
		if !ok {
			bm = roaring.New()
			values[v] = bm
		}
		bm.Add(node)
	}

	ix.logger.DebugContext(ctx, "vector indexed",
		slog.String("namespace", namespace),
		slog.String("asset", id.String()),
		slog.Int("dim", len(vector)),
	)
	return nil
}

// Delete removes an asset's vector. Unknown assets are a no-op.
func (ix *Index) Delete(ctx context.Context, namespace string, id model.ID) {
	ix.mu.RLock()
	ns, ok := ix.namespaces[namespace]
	ix.mu.RUnlock()
	if !ok {
		return
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if node, ok := ns.byAsset[id]; ok {
		ns.dropNodeLocked(node, id)
	}
}

func (ns *nsIndex) dropNodeLocked(node uint32, id model.ID) {
	ns.graph.remove(node)
	delete(ns.byAsset, id)
	delete(ns.byNode, node)
	for _, values := range ns.meta {
		for _, bm := range values {
			bm.Remove(node)
		}
	}
}

// Search returns up to k visible assets nearest to query, best first.
func (ix *Index) Search(ctx context.Context, namespace string, query []float32, k int, optFns ...SearchOption) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	var opts searchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	ix.mu.RLock()
	ns, ok := ix.namespaces[namespace]
	ix.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if len(query) != ns.dim {
		return nil, &DimensionMismatchError{Namespace: namespace, Expected: ns.dim, Actual: len(query)}
	}

	allowed := ns.filterBitmap(opts.filter)
	eligible := func(node uint32) bool {
		if allowed != nil && !allowed.Contains(node) {
			return false
		}
		if ix.visibility == nil {
			return true
		}
		id, ok := ns.byNode[node]
		if !ok {
			return false
		}
		return ix.visibility(ctx, id)
	}

	hits := ns.graph.search(query, k, ix.ef, eligible)

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		id, ok := ns.byNode[hit.node]
		if !ok {
			continue
		}
		results = append(results, Result{
			AssetID: id,
			Score:   score(ix.metric, hit.distance),
		})
	}
	return results, nil
}

// filterBitmap intersects the equality-filter bitmaps, returning nil when no
// filter applies. An empty bitmap means nothing matches.
func (ns *nsIndex) filterBitmap(filter map[string]string) *roaring.Bitmap {
	if len(filter) == 0 {
		return nil
	}
	var bitmaps []*roaring.Bitmap
	for k, v := range filter {
		values, ok := ns.meta[k]
		if !ok {
			return roaring.New()
		}
		bm, ok := values[v]
		if !ok {
			return roaring.New()
		}
		bitmaps = append(bitmaps, bm)
	}
	return roaring.FastAnd(bitmaps...)
}
