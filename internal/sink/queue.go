package sink

import (
	"sync"

	"github.com/smartdevs17/dbtrace/internal/models"
)

// queue is an unbounded multi-producer queue whose only consumer operation is
// taking everything at once.
type queue struct {
	mu     sync.Mutex
	items  []models.LogEntry
	closed bool
}

// push appends e and returns the queue length including it. It refuses the
// entry and reports false once the queue is closed.
func (q *queue) push(e models.LogEntry) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, false
	}
	q.items = append(q.items, e)
	return len(q.items), true
}

// close stops further pushes. Entries already queued stay drainable.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// drain removes and returns every queued entry in enqueue order. An entry
// pushed concurrently lands either in the returned slice or in the queue,
// never both.
func (q *queue) drain() []models.LogEntry {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
