package vectorindex

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// graphNode is one element of the navigable small-world graph. Connections
// are per layer; deleted nodes keep their links so traversal can pass
// through them, but never appear in results.
type graphNode struct {
	ID          uint32
	Vector      []float32
	Layer       int
	Connections [][]uint32
}

// graph is a single-namespace HNSW structure. Node 0 is a sentinel zero
// vector serving as the initial entry point and is never returned.
type graph struct {
	mu sync.RWMutex

	dim      int
	m        int
	mmax0    int
	ef       int
	ml       float64
	ep       uint32
	maxLevel int

	nodes    []*graphNode
	deleted  *bitset.BitSet
	distance distanceFunc
}

func newGraph(dim, m, ef int, distance distanceFunc) *graph {
	if m < 2 {
		m = 2
	}
	return &graph{
		dim:      dim,
		m:        m,
		mmax0:    2 * m,
		ef:       ef,
		ml:       1 / math.Log(float64(m)),
		deleted:  bitset.New(64),
		distance: distance,
		nodes: []*graphNode{{
			ID:          0,
			Layer:       0,
			Vector:      make([]float32, dim),
			Connections: make([][]uint32, 2*m+1),
		}},
	}
}

// insert adds a vector and returns its node id.
func (g *graph) insert(v []float32) uint32 {
	vec := make([]float32, len(v))
	copy(vec, v)

	g.mu.Lock()
	defer g.mu.Unlock()

	// The geometric layer draw is unbounded; cap it at m so the top layer
	// always fits the per-node connection slots.
	layer := int(math.Floor(-math.Log(rand.Float64()) * g.ml))
	if layer > g.m {
		layer = g.m
	}

	id := uint32(len(g.nodes))
	node := &graphNode{
		ID:          id,
		Vector:      vec,
		Layer:       layer,
		Connections: make([][]uint32, g.m+1),
	}

	entry, entryDist := g.descend(vec, node.Layer)

	results := &candidateQueue{}
	for level := min(node.Layer, g.maxLevel); level >= 0; level-- {
		g.searchLayer(vec, &candidate{node: entry, distance: entryDist}, results, g.ef, level, nil)
		g.shrinkToNearest(results, g.m)

		node.Connections[level] = make([]uint32, results.Len())
		for i := results.Len() - 1; i >= 0; i-- {
			c := heap.Pop(results).(*candidate)
			node.Connections[level][i] = c.node
		}
	}

	g.nodes = append(g.nodes, node)

	for level := min(node.Layer, g.maxLevel); level >= 0; level-- {
		for _, neighbour := range node.Connections[level] {
			g.link(neighbour, id, level)
		}
	}

	if node.Layer > g.maxLevel {
		g.ep = id
		g.maxLevel = node.Layer
	}
	return id
}

// remove tombstones a node. Its links stay traversable.
func (g *graph) remove(id uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted.Set(uint(id))
}

// size returns the number of live nodes, excluding the sentinel.
func (g *graph) size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes) - 1 - int(g.deleted.Count())
}

// search returns up to k eligible nodes nearest to q, best first. Sentinel,
// tombstoned and filtered-out nodes are traversed but never returned.
func (g *graph) search(q []float32, k, ef int, eligible func(uint32) bool) []*candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if ef < k {
		ef = k
	}

	entry, entryDist := g.descend(q, 0)

	returnable := func(id uint32) bool {
		if id == 0 || g.deleted.Test(uint(id)) {
			return false
		}
		return eligible == nil || eligible(id)
	}

	results := &candidateQueue{max: true}
	heap.Init(results)
	g.searchLayer(q, &candidate{node: entry, distance: entryDist}, results, ef, 0, returnable)

	for results.Len() > k {
		heap.Pop(results)
	}

	out := make([]*candidate, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(*candidate)
	}
	return out
}

// descend walks the upper layers greedily toward q, returning the entry
// point and its distance for the layer below target.
func (g *graph) descend(q []float32, target int) (uint32, float32) {
	curr := g.nodes[g.ep]
	currDist := g.distance(curr.Vector, q)

	for level := g.maxLevel; level > target; level-- {
		changed := true
		for changed {
			changed = false
			if level >= len(curr.Connections) {
				continue
			}
			for _, id := range curr.Connections[level] {
				d := g.distance(g.nodes[id].Vector, q)
				if d < currDist {
					curr = g.nodes[id]
					currDist = d
					changed = true
				}
			}
		}
	}
	return curr.ID, currDist
}

// searchLayer runs the beam search at one level. returnable gates which
// nodes may enter the result heap; nil admits every node, which insert
// relies on to keep the graph connected through the sentinel and tombstones.
func (g *graph) searchLayer(q []float32, entry *candidate, results *candidateQueue, ef, level int, returnable func(uint32) bool) {
	admit := func(id uint32) bool {
		return returnable == nil || returnable(id)
	}

	var visited bitset.BitSet
	visited.Set(uint(entry.node))

	frontier := &candidateQueue{}
	heap.Init(frontier)
	heap.Push(frontier, entry)

	results.max = true
	heap.Init(results)
	if admit(entry.node) {
		heap.Push(results, entry)
	}

	for frontier.Len() > 0 {
		next := heap.Pop(frontier).(*candidate)
		if results.Len() >= ef && next.distance > results.top().distance {
			break
		}

		node := g.nodes[next.node]
		if level >= len(node.Connections) {
			continue
		}
		for _, n := range node.Connections[level] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))

			d := g.distance(q, g.nodes[n].Vector)
			item := &candidate{node: n, distance: d}

			if results.Len() < ef || d < results.top().distance {
				heap.Push(frontier, item)
				if admit(n) {
					heap.Push(results, item)
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}
}

// shrinkToNearest trims a result heap down to the m nearest candidates.
func (g *graph) shrinkToNearest(results *candidateQueue, m int) {
	for results.Len() > m {
		heap.Pop(results)
	}
}

// link connects first -> second at level, pruning back to the nearest
// neighbours when the connection budget overflows.
func (g *graph) link(first, second uint32, level int) {
	maxConns := g.m
	if level == 0 {
		maxConns = g.mmax0
	}

	node := g.nodes[first]
	for len(node.Connections) <= level {
		node.Connections = append(node.Connections, nil)
	}
	node.Connections[level] = append(node.Connections[level], second)

	if len(node.Connections[level]) <= maxConns {
		return
	}

	pruned := &candidateQueue{max: true}
	heap.Init(pruned)
	for _, id := range node.Connections[level] {
		heap.Push(pruned, &candidate{
			node:     id,
			distance: g.distance(node.Vector, g.nodes[id].Vector),
		})
		if pruned.Len() > maxConns {
			heap.Pop(pruned)
		}
	}

	node.Connections[level] = make([]uint32, pruned.Len())
	for i := pruned.Len() - 1; i >= 0; i-- {
		c := heap.Pop(pruned).(*candidate)
		node.Connections[level][i] = c.node
	}
}
