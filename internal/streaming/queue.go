package streaming

import (
	"container/heap"

	"voxstream/internal/world"
)

type queueItem struct {
	coord    world.ChunkCoord
	priority float32
	seq      uint64
	index    int
}

type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*queueItem)
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

// PriorityQueue orders chunk coordinates by ascending priority (distance); equal
// priorities come out in insertion order. Each coordinate appears at most once.
// It is not safe for concurrent use.
type PriorityQueue struct {
	items itemHeap
	byKey map[world.ChunkCoord]*queueItem
	seq   uint64
}

func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{byKey: make(map[world.ChunkCoord]*queueItem)}
}

// Push inserts coord, or updates its priority if already queued.
func (q *PriorityQueue) Push(coord world.ChunkCoord, priority float32) {
	if it, ok := q.byKey[coord]; ok {
		if it.priority != priority {
			it.priority = priority
			heap.Fix(&q.items, it.index)
		}
		return
	}
	q.seq++
	it := &queueItem{coord: coord, priority: priority, seq: q.seq}
	heap.Push(&q.items, it)
	q.byKey[coord] = it
}

// Pop removes the lowest-priority coordinate.
func (q *PriorityQueue) Pop() (world.ChunkCoord, bool) {
	if len(q.items) == 0 {
		return world.ChunkCoord{}, false
	}
	it := heap.Pop(&q.items).(*queueItem)
	delete(q.byKey, it.coord)
	return it.coord, true
}

// Peek returns the next coordinate without removing it.
func (q *PriorityQueue) Peek() (world.ChunkCoord, float32, bool) {
	if len(q.items) == 0 {
		return world.ChunkCoord{}, 0, false
	}
	return q.items[0].coord, q.items[0].priority, true
}

// Remove drops coord if queued.
func (q *PriorityQueue) Remove(coord world.ChunkCoord) bool {
	it, ok := q.byKey[coord]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byKey, coord)
	return true
}

func (q *PriorityQueue) Contains(coord world.ChunkCoord) bool {
	_, ok := q.byKey[coord]
	return ok
}

func (q *PriorityQueue) Len() int { return len(q.items) }

// Reprioritize recomputes every priority, e.g. after the viewpoint moved.
func (q *PriorityQueue) Reprioritize(priority func(world.ChunkCoord) float32) {
	for _, it := range q.items {
		it.priority = priority(it.coord)
	}
	heap.Init(&q.items)
}

// Clear empties the queue.
func (q *PriorityQueue) Clear() {
	q.items = q.items[:0]
	clear(q.byKey)
}
