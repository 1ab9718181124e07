package buffered

import (
	"context"
	"sync"

	"github.com/i5heu/GoBoundedQueue/internal/queue"
)

// ErrClosed is returned once the queue is closed (and, for takes, drained).
var ErrClosed = queue.ErrClosed

// BufferedQueue is the channel-backed baseline for the blocking queue
// contract. The Go runtime parks senders on a full channel and receivers on
// an empty one, which gives the same backpressure as a mutex and two
// condition variables.
type BufferedQueue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once

	// closeMu orders sends against close(ch): senders hold it shared,
	// Close holds it exclusively.
	closeMu sync.RWMutex
}

func New[T any](bufferSize int) *BufferedQueue[T] {
	// Enforce minimum capacity of 1 to ensure proper bounded buffer semantics.
	// A zero-capacity Go channel is an unbuffered synchronization primitive,
	// not a zero-capacity buffer, which would cause unexpected behavior.
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &BufferedQueue[T]{
		ch:   make(chan T, bufferSize),
		done: make(chan struct{}),
	}
}

func (q *BufferedQueue[T]) Put(val T) {
	if err := q.PutContext(context.Background(), val); err != nil {
		panic(err)
	}
}

func (q *BufferedQueue[T]) Take() T {
	val, _ := q.TakeContext(context.Background())
	return val
}

func (q *BufferedQueue[T]) PutContext(ctx context.Context, val T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()

	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- val:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *BufferedQueue[T]) TakeContext(ctx context.Context) (val T, err error) {
	if err := ctx.Err(); err != nil {
		return val, err
	}
	select {
	case v, ok := <-q.ch:
		if !ok {
			return val, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return val, ctx.Err()
	}
}

func (q *BufferedQueue[T]) TryPut(val T) bool {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()

	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- val:
		return true
	default:
		return false
	}
}

func (q *BufferedQueue[T]) TryTake() (val T, ok bool) {
	select {
	case val, ok = <-q.ch:
		return val, ok
	default:
		return val, false
	}
}

// Close signals parked senders through done, then waits for them to leave
// before closing the channel so receivers can drain it.
func (q *BufferedQueue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.closeMu.Lock()
		close(q.ch)
		q.closeMu.Unlock()
	})
}

func (q *BufferedQueue[T]) Len() int {
	return len(q.ch)
}

func (q *BufferedQueue[T]) Cap() int {
	return cap(q.ch)
}
