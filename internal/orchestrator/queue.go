package orchestrator

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("queue is closed")

// taskQueue is a FIFO dispatch queue. Retries are pushed at their time of
// failure, so redispatch order follows failure time rather than input order.
//
// Waiters park on a wake channel that Push and Close replace-and-close under
// the mutex; waiting is therefore a plain select against ctx, and cancellation
// never touches the lock from another goroutine.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []*UrlTask
	wake   chan struct{}
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks: make([]*UrlTask, 0),
		wake:  make(chan struct{}),
	}
}

// wakeAllLocked wakes every parked Pop. Callers hold q.mu.
func (q *taskQueue) wakeAllLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *taskQueue) Push(task *UrlTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.tasks = append(q.tasks, task)
	q.wakeAllLocked()

	return nil
}

func (q *taskQueue) Pop(ctx context.Context) (*UrlTask, error) {
	for {
		q.mu.Lock()

		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return task, nil
		}

		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}

		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

func (q *taskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.wakeAllLocked()

	return nil
}
