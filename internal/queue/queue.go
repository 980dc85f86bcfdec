// Package queue implements the thread message queue of spec.md section
// 4.5: a consumer-owned min-heap fed by one lock-guarded inbox per
// producer thread, so the consumer never blocks a producer and
// producers never block each other.
//
// Grounded on _examples/joeycumines-go-utilpkg/eventloop/loop.go's
// timerHeap (a container/heap min-heap used the same way for the
// event loop's timer wheel) and eventloop/ingress.go's ChunkedIngress
// (a per-producer lock-guarded inbox drained lazily by the consumer).
// spec.md's update() is described as comparing the heap top against
// untouched inbox tops to avoid a full drain on every peek; this
// implementation always fully drains every inbox into the heap instead,
// which is semantically equivalent (the heap and every inbox are
// empty-or-not exactly as before) and considerably simpler — see
// DESIGN.md.
package queue

import (
	"container/heap"
	"math"
	"sync"

	rootsim "github.com/joeycumines/go-rootsim"
)

type msgHeap []*rootsim.Message

func (h msgHeap) Len() int            { return len(h) }
func (h msgHeap) Less(i, j int) bool  { return rootsim.IsBefore(h[i], h[j]) }
func (h msgHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *msgHeap) Push(x interface{}) { *h = append(*h, x.(*rootsim.Message)) }
func (h *msgHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// inbox is one producer's lock-guarded mailbox into a single consumer's
// queue.
type inbox struct {
	mu   sync.Mutex
	msgs []*rootsim.Message
}

func (b *inbox) push(m *rootsim.Message) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

// drainInto appends every pending message to dst and empties the inbox,
// returning the updated slice.
func (b *inbox) drainInto(dst []*rootsim.Message) []*rootsim.Message {
	b.mu.Lock()
	if len(b.msgs) > 0 {
		dst = append(dst, b.msgs...)
		b.msgs = b.msgs[:0]
	}
	b.mu.Unlock()
	return dst
}

// Queue is one consumer thread's message queue.
type Queue struct {
	heap    msgHeap
	inboxes []*inbox
	scratch []*rootsim.Message
}

// New creates a queue for a consumer thread that will receive sends
// from numProducers distinct producer thread indices (including its
// own, for self re-enqueue on rollback).
func New(numProducers int) *Queue {
	q := &Queue{inboxes: make([]*inbox, numProducers)}
	for i := range q.inboxes {
		q.inboxes[i] = &inbox{}
	}
	heap.Init(&q.heap)
	return q
}

// Insert enqueues msg on behalf of producer thread producerIdx. Safe to
// call concurrently with Extract/PeekTime and with Insert calls from
// every other producer index: only producerIdx's own inbox lock is
// taken, so the consumer thread is never blocked by an insert and
// producers never block each other.
func (q *Queue) Insert(producerIdx int, msg *rootsim.Message) {
	q.inboxes[producerIdx].push(msg)
}

// update drains every producer inbox into the heap, matching spec.md
// 4.5's update() contract (consumer-thread-only, never called
// concurrently with itself).
func (q *Queue) update() {
	for _, b := range q.inboxes {
		q.scratch = q.scratch[:0]
		q.scratch = b.drainInto(q.scratch)
		for _, m := range q.scratch {
			heap.Push(&q.heap, m)
		}
	}
}

// Extract removes and returns the globally earliest pending message
// across the heap and every inbox, or nil if the queue is empty —
// which the dispatch loop interprets as idle, per spec.md 4.5.
func (q *Queue) Extract() *rootsim.Message {
	q.update()
	if q.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*rootsim.Message)
}

// PeekTime reports the timestamp of the earliest pending message
// without removing it, or +Inf if the queue is empty.
func (q *Queue) PeekTime() float64 {
	q.update()
	if q.heap.Len() == 0 {
		return math.Inf(1)
	}
	return q.heap[0].DestT
}

// Len reports the number of messages currently resident in the heap,
// without draining inboxes first; intended for metrics/tests where an
// approximate count is acceptable.
func (q *Queue) Len() int { return q.heap.Len() }
