// Package queue provides the bounded multi-producer, single-consumer
// ingestion queue between record producers and the batch writer.
package queue

import (
	"context"
	"sync"

	"github.com/INLOpen/nexuslog/core"
)

// DefaultCapacity is the default number of slots.
const DefaultCapacity = 16384

// Handler receives items in publish order. endOfBatch is true when the item
// was the last one available at the moment it was taken off the queue.
type Handler[T any] func(item T, endOfBatch bool)

// Queue is a fixed-capacity FIFO. Publish blocks while the queue is full;
// nothing is dropped.
type Queue[T any] struct {
	slots     chan T
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue with the given capacity; non-positive means DefaultCapacity.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{
		slots: make(chan T, capacity),
		done:  make(chan struct{}),
	}
}

// Publish enqueues item, waiting for a free slot. It returns
// core.ErrQueueClosed once Close has been called, or ctx.Err() if the wait
// is cancelled.
func (q *Queue[T]) Publish(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return core.ErrQueueClosed
	default:
	}
	select {
	case q.slots <- item:
		return nil
	case <-q.done:
		return core.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues item only if a slot is free right now.
func (q *Queue[T]) TryPublish(item T) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.slots <- item:
		return true
	default:
		return false
	}
}

// Consume delivers items to h until the queue is closed, then drains what
// is left and returns. Only one goroutine may consume.
func (q *Queue[T]) Consume(h Handler[T]) {
	for {
		select {
		case item := <-q.slots:
			h(item, len(q.slots) == 0)
		case <-q.done:
			q.drain(h)
			return
		}
	}
}

func (q *Queue[T]) drain(h Handler[T]) {
	for {
		select {
		case item := <-q.slots:
			h(item, len(q.slots) == 0)
		default:
			return
		}
	}
}

// Close stops accepting items. Items already queued are still delivered.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Len is the number of queued items.
func (q *Queue[T]) Len() int { return len(q.slots) }

// Cap is the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.slots) }

// Remaining is the number of free slots.
func (q *Queue[T]) Remaining() int { return cap(q.slots) - len(q.slots) }
