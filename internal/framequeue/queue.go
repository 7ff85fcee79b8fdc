// Package framequeue hands leased frame pairs from the capture loop to the
// recognition worker.
//
// Push never blocks. Pop blocks until a lease is available, the queue is
// closed, or the caller's context is done. Leases come out in the order they
// went in and each pushed lease is popped at most once.
package framequeue

import (
	"context"
	"sync"

	"github.com/or-samples/tracking-web/pkg/types"
)

// Queue is an unbounded FIFO of frame-pair leases. Bounding is the
// producer's job: the capture loop keeps at most one lease in flight.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*types.Lease
	closed bool
}

// New creates an empty open queue
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a lease. It returns false when the queue is closed, in which
// case ownership stays with the caller.
func (q *Queue) Push(l *types.Lease) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, l)
	q.cond.Signal()
	return true
}

// Pop removes the oldest lease. Leases queued before Close are still
// returned; once the queue is closed and empty, or ctx is done, Pop returns
// (nil, false).
func (q *Queue) Pop(ctx context.Context) (*types.Lease, bool) {
	// sync.Cond cannot select on ctx, so wake all waiters on cancellation.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}

	if len(q.items) == 0 || ctx.Err() != nil {
		return nil, false
	}

	l := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return l, true
}

// Close stops accepting pushes and wakes blocked Pop calls. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Closed reports whether Close has been called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued leases
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued lease. The caller owns them.
func (q *Queue) Drain() []*types.Lease {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}
