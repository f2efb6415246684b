// Package queue implements the kernel's time-priority queue: a binary
// min-heap of messages keyed by delivery time, with a monotone insertion
// counter so that messages scheduled for the same instant pop in FIFO
// order.
package queue

import (
	"container/heap"

	"marketsim/pkg/types"
)

type item struct {
	msg *types.Message
	seq uint64
}

type msgHeap []item

func (h msgHeap) Len() int      { return len(h) }
func (h msgHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h msgHeap) Less(i, j int) bool {
	if h[i].msg.At != h[j].msg.At {
		return h[i].msg.At < h[j].msg.At
	}
	return h[i].seq < h[j].seq
}

func (h *msgHeap) Push(x any) {
	*h = append(*h, x.(item))
}

func (h *msgHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item{} // avoid holding the message alive
	*h = old[:n-1]
	return it
}

// Queue is a min-priority container over messages keyed by At.
// It is not safe for concurrent use; the kernel serializes access.
type Queue struct {
	h   msgHeap
	seq uint64
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{}
	heap.Init(&q.h)
	return q
}

// Push enqueues a message. Messages with equal At pop in push order.
func (q *Queue) Push(msg *types.Message) {
	q.seq++
	heap.Push(&q.h, item{msg: msg, seq: q.seq})
}

// Peek returns the message with the smallest At without removing it,
// or nil if the queue is empty.
func (q *Queue) Peek() *types.Message {
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0].msg
}

// Pop removes and returns the message with the smallest At, or nil if
// the queue is empty.
func (q *Queue) Pop() *types.Message {
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(item).msg
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.h)
}

// Clear discards all queued messages.
func (q *Queue) Clear() {
	q.h = q.h[:0]
}
