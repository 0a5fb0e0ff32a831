package scheduler

import (
	"context"
	"sync"
)

// InFlightLimiter gates outstanding credits at a fixed concurrency ceiling.
// Adapted from the teacher's internal/vu.InFlightLimiter: a sync.Cond
// semaphore rather than a buffered channel, so Current() stays accurate
// under concurrent Acquire/Release.
type InFlightLimiter struct {
	max     int
	current int
	mu      sync.Mutex
	cond    *sync.Cond
}

func NewInFlightLimiter(max int) *InFlightLimiter {
	l := &InFlightLimiter{max: max}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (l *InFlightLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current >= l.max {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				l.cond.Broadcast()
			case <-done:
			}
		}()
		defer close(done)

		for l.current >= l.max {
			l.cond.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	l.current++
	return nil
}

// Release frees one slot, signalling a single waiter. Called when the
// aggregator publishes a "credit freed" event for a sealed record
// (spec.md §4.6 "Credit freed event").
func (l *InFlightLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current > 0 {
		l.current--
	}
	l.cond.Signal()
}

func (l *InFlightLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *InFlightLimiter) Max() int {
	return l.max
}
