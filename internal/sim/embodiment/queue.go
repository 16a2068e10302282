package embodiment

import (
	"context"
	"fmt"
	"sync"

	"hmibridge/internal/sim/objects"
)

// Update is one pending world object move. Only the translation of the
// wire record is kept.
type Update struct {
	ID          string
	Translation objects.Vec3
}

// UpdateQueue is an unbounded FIFO. Enqueue never waits for the consumer,
// so a busy tick cannot stall the inbound side.
type UpdateQueue struct {
	mu     sync.Mutex
	items  []Update
	head   int
	closed bool
}

func NewUpdateQueue() *UpdateQueue { return &UpdateQueue{} }

// Enqueue appends u. It fails only if ctx is already done or the queue
// is closed.
func (q *UpdateQueue) Enqueue(ctx context.Context, u Update) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue %q: %w: %w", u.ID, ErrInterrupted, err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("enqueue %q: %w", u.ID, ErrQueueClosed)
	}
	q.items = append(q.items, u)
	return nil
}

// Poll removes the oldest update. It never blocks.
func (q *UpdateQueue) Poll() (Update, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return Update{}, false
	}
	u := q.items[q.head]
	q.items[q.head] = Update{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return u, true
}

func (q *UpdateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close rejects later Enqueue calls. Pending updates can still be polled.
func (q *UpdateQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
