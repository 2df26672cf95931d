package event

import "sync/atomic"

// DefaultQueueSize is the capacity used by the engine's realtime queues.
const DefaultQueueSize = 512

// RtQueue is a wait-free single-producer single-consumer ring of RtEvent
// values. One goroutine may call Push and another Pop, Peek and Empty;
// neither side blocks or allocates.
type RtQueue struct {
	head atomic.Uint64
	tail atomic.Uint64
	mask uint64
	ring []RtEvent
}

// NewRtQueue creates a queue holding up to capacity events. Capacity is
// rounded up to a power of two; values below 2 use DefaultQueueSize.
func NewRtQueue(capacity int) *RtQueue {
	if capacity < 2 {
		capacity = DefaultQueueSize
	}
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &RtQueue{mask: size - 1, ring: make([]RtEvent, size)}
}

// Push appends an event and reports whether there was room. On false the
// queue is full and the event was not enqueued; the caller decides how to
// surface the overflow.
func (q *RtQueue) Push(e RtEvent) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() == uint64(len(q.ring)) {
		return false
	}
	q.ring[tail&q.mask] = e
	q.tail.Store(tail + 1)
	return true
}

// Pop removes and returns the oldest event; ok is false when the queue is
// empty.
func (q *RtQueue) Pop() (e RtEvent, ok bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return RtEvent{}, false
	}
	e = q.ring[head&q.mask]
	q.ring[head&q.mask] = RtEvent{}
	q.head.Store(head + 1)
	return e, true
}

// Peek returns the oldest event without removing it; ok is false when the
// queue is empty.
func (q *RtQueue) Peek() (e RtEvent, ok bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return RtEvent{}, false
	}
	return q.ring[head&q.mask], true
}

// Empty reports whether the queue holds no events.
func (q *RtQueue) Empty() bool {
	return q.head.Load() == q.tail.Load()
}

// Len returns the number of queued events.
func (q *RtQueue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Capacity returns the number of events the queue can hold.
func (q *RtQueue) Capacity() int {
	return len(q.ring)
}
