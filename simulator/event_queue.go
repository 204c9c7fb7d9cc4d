package simulator

import "container/heap"

// EventQueue is a priority queue of event batches ordered by timestamp.
// Batches with equal timestamps pop in submission order, which pins down
// the ordering guarantee between independent chains.
type EventQueue struct {
	batches batchHeap
	nextSeq int
}

// NewEventQueue creates a new event queue
func NewEventQueue() *EventQueue {
	eq := &EventQueue{
		batches: make(batchHeap, 0),
	}
	heap.Init(&eq.batches)
	return eq
}

// Push adds a batch to the queue
func (eq *EventQueue) Push(b *EventBatch) {
	heap.Push(&eq.batches, queuedBatch{batch: b, seq: eq.nextSeq})
	eq.nextSeq++
}

// Pop removes and returns the next batch
func (eq *EventQueue) Pop() *EventBatch {
	if eq.IsEmpty() {
		return nil
	}
	return heap.Pop(&eq.batches).(queuedBatch).batch
}

// Peek returns the next batch without removing it
func (eq *EventQueue) Peek() *EventBatch {
	if eq.IsEmpty() {
		return nil
	}
	return eq.batches[0].batch
}

// IsEmpty returns true if the queue is empty
func (eq *EventQueue) IsEmpty() bool {
	return eq.batches.Len() == 0
}

// Len returns the number of batches in the queue
func (eq *EventQueue) Len() int {
	return eq.batches.Len()
}

// Clear removes all batches from the queue
func (eq *EventQueue) Clear() {
	eq.batches = make(batchHeap, 0)
	heap.Init(&eq.batches)
}

type queuedBatch struct {
	batch *EventBatch
	seq   int
}

// batchHeap implements heap.Interface for queued batches
type batchHeap []queuedBatch

func (h batchHeap) Len() int { return len(h) }
func (h batchHeap) Less(i, j int) bool {
	if h[i].batch.Timestamp() != h[j].batch.Timestamp() {
		return h[i].batch.Timestamp() < h[j].batch.Timestamp()
	}
	return h[i].seq < h[j].seq
}
func (h batchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *batchHeap) Push(x interface{}) {
	*h = append(*h, x.(queuedBatch))
}

func (h *batchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
