package scheduler

import (
	"context"
	"sync"
)

// task is one queued callback.
type task struct {
	fn        func(context.Context) error
	name      string
	sessionID string
	modelID   string
}

// taskQueue is the only part of the scheduler touched by other goroutines.
//
// Adapters enqueue from their read loops and timers fire from their own
// goroutines; the loop drains a snapshot at the start of every tick, so work
// added while a tick runs lands in the next one.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{} // buffered, size 1
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// push appends a task. Returns false if the queue is closed.
func (q *taskQueue) push(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	q.notifyLocked()
	return true
}

// notify wakes the loop without adding work.
func (q *taskQueue) notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.notifyLocked()
	}
}

func (q *taskQueue) notifyLocked() {
	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain removes and returns every queued task.
func (q *taskQueue) drain() []task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}
	out := q.tasks
	q.tasks = make([]task, 0, cap(out))
	return out
}

func (q *taskQueue) wait() <-chan struct{} { return q.signal }

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
