package queue

import (
	"context"
	"errors"
)

// ErrClosed is shared by every closable implementation so drivers can detect
// the end of a session with errors.Is regardless of the queue type.
var ErrClosed = errors.New("queue is closed")

// BlockingQueueInterface is a *type constraint* for the blocking hand-off
// queues in this module. We never store Q in a runtime interface value on hot
// paths; drivers are generic over Q so calls stay direct.
type BlockingQueueInterface[T any] interface {
	// Put appends an element and blocks while the queue is full.
	Put(T)

	// Take removes and returns the oldest element and blocks while the queue is empty.
	Take() T

	// Len returns how many elements are currently queued.
	Len() int

	// Cap returns the fixed capacity.
	Cap() int
}

// ClosableQueueInterface adds the cooperative shutdown protocol used by the
// drivers: producers stop, the queue is closed, consumers drain until ErrClosed.
type ClosableQueueInterface[T any] interface {
	BlockingQueueInterface[T]

	// PutContext is Put with cancellation. It fails once the queue is closed.
	PutContext(ctx context.Context, v T) error

	// TakeContext is Take with cancellation. It fails once the queue is closed and empty.
	TakeContext(ctx context.Context) (T, error)

	// TryPut and TryTake never block.
	TryPut(T) bool
	TryTake() (T, bool)

	// Close wakes every parked caller. It is idempotent.
	Close()
}
