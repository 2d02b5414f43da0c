// Package inbox buffers peer messages until the owning node drains them
// into its clock and event log.
package inbox

import (
	"sync"

	"causalog/internal/types"
)

// Queue is a FIFO of undelivered peer messages. Enqueue and DrainAll may be
// called from different goroutines.
type Queue struct {
	mu   sync.Mutex
	msgs []types.Message
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends msg to the tail.
func (q *Queue) Enqueue(msg types.Message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
}

// DrainAll removes and returns every queued message in arrival order.
func (q *Queue) DrainAll() []types.Message {
	q.mu.Lock()
	msgs := q.msgs
	q.msgs = nil
	q.mu.Unlock()
	return msgs
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
