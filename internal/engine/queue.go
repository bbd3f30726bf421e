package engine

import (
	"sync"

	"github.com/roach88/autokit/internal/model"
)

// requestQueue is a thread-safe FIFO of execution requests.
//
// The queue is unbounded so event intake never blocks on run creation.
// A buffered signal channel of size 1 coalesces wakeups for the drain loop.
type requestQueue struct {
	mu     sync.Mutex
	items  []model.ExecutionRequest
	closed bool
	signal chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		items:  make([]model.ExecutionRequest, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends reqs. Returns false if the queue is closed.
func (q *requestQueue) Enqueue(reqs ...model.ExecutionRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, reqs...)
	q.notifyLocked()
	return true
}

// Notify wakes the drain loop without adding work.
func (q *requestQueue) Notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.notifyLocked()
	}
}

func (q *requestQueue) notifyLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// DrainAll removes and returns every queued request.
func (q *requestQueue) DrainAll() []model.ExecutionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := make([]model.ExecutionRequest, len(q.items))
	copy(out, q.items)
	clear(q.items)
	q.items = q.items[:0]
	return out
}

// Wait returns the wakeup channel. It is closed by Close.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // drain
//	}
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further requests and wakes all waiters.
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
