package lazyload

import "container/heap"

// itemHeap orders items observed-first, then by priority, then by enqueue
// order so that equal keys dequeue FIFO.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.observed() != b.observed() {
		return a.observed()
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// queue holds at most one pending item per element.
type queue struct {
	items     itemHeap
	byElement map[string]*item
	seq       uint64
}

func newQueue() *queue {
	return &queue{byElement: make(map[string]*item)}
}

func (q *queue) Len() int { return len(q.items) }

// push inserts it, replacing and returning any item already queued for the
// same element.
func (q *queue) push(it *item) *item {
	q.seq++
	it.seq = q.seq

	id := it.elementID()
	old, ok := q.byElement[id]
	if ok {
		heap.Remove(&q.items, old.index)
	}
	q.byElement[id] = it
	heap.Push(&q.items, it)
	return old
}

// promote marks the element's item observed and re-sorts. It reports false
// when nothing pending is queued for the element.
func (q *queue) promote(elementID string) (*item, bool) {
	it, ok := q.byElement[elementID]
	if !ok || !it.promote() {
		return nil, false
	}
	heap.Fix(&q.items, it.index)
	return it, true
}

// pop removes the highest item.
func (q *queue) pop() (*item, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.items).(*item)
	delete(q.byElement, it.elementID())
	return it, true
}

func (q *queue) get(elementID string) (*item, bool) {
	it, ok := q.byElement[elementID]
	return it, ok
}

func (q *queue) remove(elementID string) (*item, bool) {
	it, ok := q.byElement[elementID]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byElement, elementID)
	return it, true
}

// drain removes every item in dequeue order.
func (q *queue) drain() []*item {
	out := make([]*item, 0, len(q.items))
	for {
		it, ok := q.pop()
		if !ok {
			return out
		}
		out = append(out, it)
	}
}
