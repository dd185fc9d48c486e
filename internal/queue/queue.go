package queue

import (
	"container/heap"
	"sync"
)

// Item is a single item in the priority queue.
type Item[T any] struct {
	Value    T
	Priority int
	index    int
}

// priorityQueueHeap implements heap.Interface. Lower priority values are
// dequeued first.
type priorityQueueHeap[T any] []*Item[T]

func (pqh priorityQueueHeap[T]) Len() int {
	return len(pqh)
}

func (pqh priorityQueueHeap[T]) Less(i, j int) bool {
	return pqh[i].Priority < pqh[j].Priority
}

func (pqh priorityQueueHeap[T]) Swap(i, j int) {
	pqh[i], pqh[j] = pqh[j], pqh[i]
	pqh[i].index = i
	pqh[j].index = j
}

func (pqh *priorityQueueHeap[T]) Push(x any) {
	n := len(*pqh)
	item := x.(*Item[T])
	item.index = n
	*pqh = append(*pqh, item)
}

func (pqh *priorityQueueHeap[T]) Pop() any {
	old := *pqh
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pqh = old[0 : n-1]
	return item
}

// PriorityQueue is a thread-safe generic priority queue.
type PriorityQueue[T any] struct {
	heap priorityQueueHeap[T]
	mu   sync.Mutex
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		heap: make(priorityQueueHeap[T], 0),
	}
	heap.Init(&pq.heap)
	return pq
}

func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.heap.Len()
}

func (pq *PriorityQueue[T]) Enqueue(value T, priority int) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	heap.Push(&pq.heap, &Item[T]{
		Value:    value,
		Priority: priority,
	})
}

// Dequeue removes and returns the highest priority item from the queue.
func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.heap.Len() == 0 {
		var zero T
		return zero, false
	}

	item := heap.Pop(&pq.heap).(*Item[T])
	return item.Value, true
}

func (pq *PriorityQueue[T]) DequeueAll() []T {
	items := make([]T, 0, pq.Len())
	for pq.Len() > 0 {
		item, _ := pq.Dequeue()
		items = append(items, item)
	}
	return items
}
