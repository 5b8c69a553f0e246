package vectorindex

import "container/heap"

var _ heap.Interface = (*candidateQueue)(nil)

type candidate struct {
	node     uint32
	distance float32
	index    int
}

// candidateQueue is a heap of graph candidates. With max set it pops the
// farthest candidate first (result trimming); otherwise the nearest
// (traversal frontier).
type candidateQueue struct {
	max   bool
	items []*candidate
}

func (q *candidateQueue) Len() int { return len(q.items) }

func (q *candidateQueue) Less(i, j int) bool {
	if q.max {
		return q.items[i].distance > q.items[j].distance
	}
	return q.items[i].distance < q.items[j].distance
}

func (q *candidateQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index, q.items[j].index = i, j
}

func (q *candidateQueue) Push(x any) {
	item := x.(*candidate)
	item.index = len(q.items)
	q.items = append(q.items, item)
}

func (q *candidateQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	q.items = old[:n-1]
	return item
}

func (q *candidateQueue) top() *candidate {
	return q.items[0]
}
