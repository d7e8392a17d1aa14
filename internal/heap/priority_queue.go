// Package heap provides a small generic min-priority queue used by the
// refill engine to rank candidate pieces.
package heap

import (
	"container/heap"
	"errors"
)

// Item is a value with an associated priority. Lower Priority values are
// popped first.
type Item struct {
	Value    interface{}
	Priority int
}

type itemHeap []*Item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*Item)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue is a min-heap of *Item, ordered ascending by Priority.
type PriorityQueue struct {
	h itemHeap
}

// NewPriorityQueue creates a PriorityQueue seeded with items.
func NewPriorityQueue(items ...*Item) *PriorityQueue {
	h := make(itemHeap, len(items))
	copy(h, items)
	heap.Init(&h)
	return &PriorityQueue{h: h}
}

// Push adds item to the queue.
func (q *PriorityQueue) Push(item *Item) {
	heap.Push(&q.h, item)
}

// Pop removes and returns the lowest-priority item. Returns an error if the
// queue is empty.
func (q *PriorityQueue) Pop() (*Item, error) {
	if q.h.Len() == 0 {
		return nil, errors.New("priority queue is empty")
	}
	return heap.Pop(&q.h).(*Item), nil
}

// Len returns the number of items in the queue.
func (q *PriorityQueue) Len() int {
	return q.h.Len()
}
