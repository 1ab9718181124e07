// Package boundedqueue provides a fixed-capacity blocking FIFO for handing
// items from producer goroutines to consumer goroutines.
//
// Producers park in Put while the queue is full and consumers park in Take
// while it is empty. Parking goes through sync.Cond values bound to the queue
// mutex, so releasing the lock and parking happen atomically and no wakeup
// can slip in between the predicate check and the wait.
package boundedqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"

	iqueue "github.com/i5heu/GoBoundedQueue/internal/queue"
)

var (
	// ErrInvalidCapacity is returned by New for a capacity below 1.
	ErrInvalidCapacity = errors.New("boundedqueue: capacity must be positive")

	// ErrClosed is returned by PutContext after Close, and by TakeContext
	// once the queue is closed and drained.
	ErrClosed = iqueue.ErrClosed
)

// BoundedQueue is a blocking, order-preserving multi-producer/multi-consumer
// queue holding at most Cap items.
type BoundedQueue[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	// guarded by mu
	items           *queue.Queue
	closed          bool
	parkedProducers int
	parkedConsumers int

	capacity int
}

// New creates a BoundedQueue holding at most capacity items.
func New[T any](capacity int) (*BoundedQueue[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	q := &BoundedQueue[T]{
		items:    queue.New(),
		capacity: capacity,
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q, nil
}

// MustNew is like New but panics on an invalid capacity.
func MustNew[T any](capacity int) *BoundedQueue[T] {
	q, err := New[T](capacity)
	if err != nil {
		panic(err)
	}
	return q
}

// Put appends item to the tail, blocking while the queue is full.
// Put panics if the queue has been closed, like a send on a closed channel.
func (q *BoundedQueue[T]) Put(item T) {
	if err := q.PutContext(context.Background(), item); err != nil {
		panic(err)
	}
}

// Take removes and returns the head, blocking while the queue is empty.
// After Close, Take keeps returning buffered items and then the zero value.
func (q *BoundedQueue[T]) Take() T {
	item, _ := q.TakeContext(context.Background())
	return item
}

// PutContext appends item to the tail, blocking while the queue is full.
// It returns ctx.Err() if ctx ends before space frees up and ErrClosed if the
// queue is closed. On error the queue is left unchanged.
func (q *BoundedQueue[T]) PutContext(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if err := q.wait(ctx, q.notFull, q.hasSpace, &q.parkedProducers); err != nil {
		return err
	}
	if q.closed {
		return ErrClosed
	}
	q.enqueue(item)
	return nil
}

// TakeContext removes and returns the head, blocking while the queue is empty.
// It returns ctx.Err() if ctx ends first and ErrClosed once the queue is
// closed and drained. On error the queue is left unchanged.
func (q *BoundedQueue[T]) TakeContext(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.wait(ctx, q.notEmpty, q.hasItems, &q.parkedConsumers); err != nil {
		return zero, err
	}
	if !q.hasItems() {
		return zero, ErrClosed
	}
	return q.dequeue(), nil
}

// TryPut appends item without blocking. It reports false if the queue is
// full or closed.
func (q *BoundedQueue[T]) TryPut(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || !q.hasSpace() {
		return false
	}
	q.enqueue(item)
	return true
}

// TryTake removes the head without blocking. It reports false if the queue is
// empty.
func (q *BoundedQueue[T]) TryTake() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.hasItems() {
		var zero T
		return zero, false
	}
	return q.dequeue(), true
}

// Drain removes every buffered item and returns them oldest first.
func (q *BoundedQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.items.Length())
	for q.hasItems() {
		v, _ := q.items.Remove().(T)
		out = append(out, v)
	}
	if len(out) > 0 {
		q.notFull.Broadcast()
	}
	return out
}

// Close marks the queue closed and wakes every parked caller. Parked and
// future producers fail with ErrClosed; consumers drain what is left.
// Close is idempotent.
func (q *BoundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Closed reports whether Close has been called.
func (q *BoundedQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of buffered items.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Cap returns the capacity fixed at construction.
func (q *BoundedQueue[T]) Cap() int {
	return q.capacity
}

// Waiting returns how many producers and consumers are currently parked.
func (q *BoundedQueue[T]) Waiting() (producers, consumers int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.parkedProducers, q.parkedConsumers
}

func (q *BoundedQueue[T]) hasSpace() bool { return q.items.Length() < q.capacity }
func (q *BoundedQueue[T]) hasItems() bool { return q.items.Length() > 0 }

// enqueue and dequeue require q.mu.
func (q *BoundedQueue[T]) enqueue(item T) {
	q.items.Add(item)
	q.notEmpty.Signal()
}

func (q *BoundedQueue[T]) dequeue() T {
	// A nil interface stored for an interface-typed T fails the assertion and
	// yields the zero value, which is the nil that was stored.
	item, _ := q.items.Remove().(T)
	q.notFull.Signal()
	return item
}

// wait parks on c until ready holds or the queue is closed. It is called
// with q.mu held and returns with q.mu held. ctx is only consulted while ready
// is false, so a caller that was signalled always completes.
func (q *BoundedQueue[T]) wait(ctx context.Context, c *sync.Cond, ready func() bool, parked *int) error {
	if ready() || q.closed {
		return nil
	}

	if ctx.Done() != nil {
		// Wake c when ctx ends. The callback takes q.mu, so it cannot run
		// between our ctx check and c.Wait releasing the lock.
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			c.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}

	for !ready() && !q.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		*parked++
		c.Wait()
		*parked--
	}
	return nil
}
