// Package bus implements the typed message bus connecting the scheduler,
// worker pool, record processor pool, and aggregator: bounded push/pull
// queues for load-balanced work distribution, a topic broadcaster for
// pub/sub control events, and a request/reply channel for synchronous
// lookups (spec.md §4.1).
package bus

import (
	"sync"
	"sync/atomic"
)

// Tier controls shedding priority under back-pressure. Tier0 messages
// (lifecycle/control) are never dropped; Tier2 (verbose/debug) sheds
// first, then Tier1 (per-operation data).
type Tier int

const (
	Tier0Lifecycle Tier = iota
	Tier1Operation
	Tier2Verbose
)

// Envelope wraps a payload with the bus's discriminator and identity
// fields (spec.md §9: "a closed set of message kinds with a discriminator").
type Envelope struct {
	Kind    string
	Tier    Tier
	Payload any
}

// Queue is a thread-safe bounded push/pull channel with tier-based
// backpressure. When full, it sheds Tier2 records first, then Tier1;
// Tier0 is never dropped, so it may push the queue past capacity.
//
// Grounded on the teacher's internal/telemetry.BoundedQueue.
type Queue struct {
	capacity int
	items    []Envelope
	mu       sync.Mutex
	notEmpty *sync.Cond

	totalEnqueued atomic.Int64
	totalDequeued atomic.Int64
	droppedTier2  atomic.Int64
	droppedTier1  atomic.Int64

	closed atomic.Bool
}

// NewQueue creates a bounded queue with the given capacity. A non-positive
// capacity falls back to a generous default so callers can't accidentally
// create an unbounded-looking queue that never sheds (spec.md §9: "all
// push/pull queues must be bounded").
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 10000
	}
	q := &Queue{
		capacity: capacity,
		items:    make([]Envelope, 0, capacity),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds an item, applying tiered shedding when full. Returns false
// if the item was dropped or the queue is closed.
func (q *Queue) Enqueue(e Envelope) bool {
	if q.closed.Load() {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.Load() {
		return false
	}

	if e.Tier == Tier0Lifecycle {
		q.items = append(q.items, e)
		q.totalEnqueued.Add(1)
		q.notEmpty.Signal()
		return true
	}

	if len(q.items) >= q.capacity {
		if q.shedLocked(Tier2Verbose) {
			q.droppedTier2.Add(1)
			q.items = append(q.items, e)
			q.totalEnqueued.Add(1)
			q.notEmpty.Signal()
			return true
		}
		if e.Tier == Tier2Verbose {
			q.droppedTier2.Add(1)
			return false
		}
		if e.Tier == Tier1Operation {
			if q.shedLocked(Tier1Operation) {
				q.droppedTier1.Add(1)
				q.items = append(q.items, e)
				q.totalEnqueued.Add(1)
				q.notEmpty.Signal()
				return true
			}
			q.droppedTier1.Add(1)
			return false
		}
	}

	q.items = append(q.items, e)
	q.totalEnqueued.Add(1)
	q.notEmpty.Signal()
	return true
}

// shedLocked removes the first item of the given tier. Must be called
// with mu held.
func (q *Queue) shedLocked(tier Tier) bool {
	for i, item := range q.items {
		if item.Tier == tier {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Dequeue blocks until an item is available or the queue is closed.
// Returns the zero Envelope and false once closed and drained.
func (q *Queue) Dequeue() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed.Load() {
		q.notEmpty.Wait()
	}

	if len(q.items) == 0 {
		return Envelope{}, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.totalDequeued.Add(1)
	return item, true
}

// TryDequeue dequeues without blocking.
func (q *Queue) TryDequeue() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Envelope{}, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.totalDequeued.Add(1)
	return item, true
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the configured maximum depth.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Stats reports current queue statistics for observability.
type Stats struct {
	Depth         int
	Capacity      int
	TotalEnqueued int64
	TotalDequeued int64
	DroppedTier2  int64
	DroppedTier1  int64
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	depth := len(q.items)
	q.mu.Unlock()

	return Stats{
		Depth:         depth,
		Capacity:      q.capacity,
		TotalEnqueued: q.totalEnqueued.Load(),
		TotalDequeued: q.totalDequeued.Load(),
		DroppedTier2:  q.droppedTier2.Load(),
		DroppedTier1:  q.droppedTier1.Load(),
	}
}

// Close wakes any blocked consumers. After Close, Enqueue returns false
// and Dequeue returns (zero, false) once drained.
func (q *Queue) Close() {
	q.closed.Store(true)
	q.notEmpty.Broadcast()
}

func (q *Queue) IsClosed() bool {
	return q.closed.Load()
}
