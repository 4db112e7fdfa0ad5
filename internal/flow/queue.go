// Package flow implements the stream-bridge data plane: an unbounded
// point-to-point message queue, a sentinel-framed stream reader, and a
// flushing queue-drained writer. Each queue connects exactly one producer
// task to exactly one consumer task.
package flow

import (
	"context"
	"errors"
	"sync"

	"github.com/flemzord/linebridge/pkg/message"
)

// ErrQueueClosed is returned by Enqueue after Close, and by Dequeue once all
// messages enqueued before Close have been consumed. Closure is the queue's
// terminal value: once observed by the consumer, no further message is ever
// delivered.
var ErrQueueClosed = errors.New("flow: queue closed")

// Queue is an unbounded FIFO of framed messages. It is written by exactly one
// producer and read by exactly one consumer; Close may be called from any
// goroutine and is idempotent.
type Queue struct {
	mu     sync.Mutex
	items  []message.Message
	closed bool

	// notify carries at most one pending wakeup for the single consumer.
	notify chan struct{}
}

// NewQueue creates an empty, open queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends a message to the queue. After Close it rejects the message
// with ErrQueueClosed; callers treat that as a logged no-op, not a failure.
func (q *Queue) Enqueue(msg message.Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	q.wake()
	return nil
}

// Dequeue removes and returns the oldest message. It blocks until a message
// is available, the queue is closed and drained (ErrQueueClosed), or the
// context is cancelled (ctx.Err()). Messages enqueued before Close are always
// delivered before closure is observed.
func (q *Queue) Dequeue(ctx context.Context) (message.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		if q.closed {
			q.mu.Unlock()
			return message.Message{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		}
	}
}

// Close marks the queue terminal. Pending messages remain dequeueable;
// subsequent Enqueue calls are rejected. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wake()
}

// Len returns the number of messages currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
