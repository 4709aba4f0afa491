package capture

import "sync"

// OutputQueue collects output lines from any number of monitor goroutines and
// hands them out in non-blocking drains. Bounded: when full, the oldest lines
// are dropped so a chatty recorder cannot grow memory unbounded between
// polls.
type OutputQueue struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewOutputQueue creates a queue retaining at most capacity lines.
func NewOutputQueue(capacity int) *OutputQueue {
	if capacity < 1 {
		capacity = 4096
	}
	return &OutputQueue{max: capacity}
}

// Push appends one line, evicting the oldest when the queue is full.
func (q *OutputQueue) Push(line string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.lines) >= q.max {
		q.lines = q.lines[1:]
	}
	q.lines = append(q.lines, line)
}

// Drain returns everything accumulated since the last call. Never blocks;
// returns nil when nothing is pending.
func (q *OutputQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.lines) == 0 {
		return nil
	}
	out := q.lines
	q.lines = nil
	return out
}

// Clear discards all pending lines.
func (q *OutputQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lines = nil
}

// Len reports the number of pending lines.
func (q *OutputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}
