package testbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/i5heu/GoBoundedQueue/internal/metrics"
	"github.com/i5heu/GoBoundedQueue/internal/queue"
)

// ErrCountMismatch is returned when a session does not produce and consume
// exactly the configured number of items.
var ErrCountMismatch = errors.New("testbench: produced/consumed count mismatch")

// Config describes the tasks of a run: how many producers, how many
// consumers, how many items and how long each side pauses after an item.
// Delays only pace the output; correctness never depends on them.
type Config struct {
	NumProducers  int
	NumConsumers  int
	Items         int
	ProducerDelay time.Duration
	ConsumerDelay time.Duration
}

func (c Config) validate() error {
	if c.NumProducers < 1 || c.NumConsumers < 1 {
		return fmt.Errorf("testbench: need at least one producer and one consumer, got %d/%d", c.NumProducers, c.NumConsumers)
	}
	if c.Items < 0 {
		return fmt.Errorf("testbench: negative item count %d", c.Items)
	}
	if c.ProducerDelay < 0 || c.ConsumerDelay < 0 {
		return errors.New("testbench: negative delay")
	}
	return nil
}

// Session is the outcome of RunSession.
type Session[T any] struct {
	Produced int
	// Consumed holds the taken items in the order consumers reported them.
	// With a single consumer this is exactly the queue's dequeue order.
	Consumed []T
	Elapsed  time.Duration
}

type options struct {
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	onTake  func()
}

// Option customises RunSession.
type Option func(*options)

// WithLogger traces every attempt, block, put and take. The len field of a
// "buffer full" or "buffer empty" line is the level the failed attempt saw
// (cap and 0). On every other line it is sampled right after the event and
// may already include other goroutines' work.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records item counts and how often and how long each side
// took the blocking path.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithProgress calls fn after every consumed item.
func WithProgress(fn func()) Option {
	return func(o *options) { o.onTake = fn }
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// RunSession produces cfg.Items values from gen across cfg.NumProducers
// producers (producer p handles indices p, p+NumProducers, ...) and consumes
// them with cfg.NumConsumers consumers. When every producer is done the
// queue is closed, and consumers drain it until it reports ErrClosed.
func RunSession[T any, Q queue.ClosableQueueInterface[T]](
	ctx context.Context,
	q Q,
	cfg Config,
	gen func(int) T,
	opts ...Option,
) (*Session[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := options{log: discardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		produced   atomic.Int64
		consumedMu sync.Mutex
		consumed   = make([]T, 0, cfg.Items)
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Closing after the last put is the termination protocol that lets
		// consumers stop without a sentinel item.
		defer q.Close()
		var pg errgroup.Group
		for p := 0; p < cfg.NumProducers; p++ {
			p := p // per-iteration copy (pre-Go 1.22 loop semantics)
			pg.Go(func() error {
				log := o.log.WithField("side", "producer").WithField("producer", p)
				for i := p; i < cfg.Items; i += cfg.NumProducers {
					item := gen(i)
					log.WithFields(logrus.Fields{"item": item, "len": q.Len(), "cap": q.Cap()}).Debug("trying to produce")
					if !q.TryPut(item) {
						log.WithFields(logrus.Fields{"len": q.Cap(), "cap": q.Cap()}).Info("buffer full, producer blocked")
						if err := o.blocked(gctx, "producer", func(ctx context.Context) error {
							return q.PutContext(ctx, item)
						}); err != nil {
							return fmt.Errorf("producer %d: %w", p, err)
						}
					}
					produced.Add(1)
					if o.metrics != nil {
						o.metrics.ItemsProduced.Inc()
					}
					log.WithFields(logrus.Fields{"item": item, "len": q.Len(), "cap": q.Cap()}).Info("produced")
					if err := pause(gctx, cfg.ProducerDelay); err != nil {
						return err
					}
				}
				return nil
			})
		}
		return pg.Wait()
	})

	for c := 0; c < cfg.NumConsumers; c++ {
		c := c // per-iteration copy (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			log := o.log.WithField("side", "consumer").WithField("consumer", c)
			for {
				log.WithFields(logrus.Fields{"len": q.Len(), "cap": q.Cap()}).Debug("trying to consume")
				item, ok := q.TryTake()
				if !ok {
					log.WithFields(logrus.Fields{"len": 0, "cap": q.Cap()}).Info("buffer empty, consumer blocked")
					err := o.blocked(gctx, "consumer", func(ctx context.Context) error {
						var err error
						item, err = q.TakeContext(ctx)
						return err
					})
					if errors.Is(err, queue.ErrClosed) {
						log.Debug("queue closed and drained")
						return nil
					}
					if err != nil {
						return fmt.Errorf("consumer %d: %w", c, err)
					}
				}
				consumedMu.Lock()
				consumed = append(consumed, item)
				consumedMu.Unlock()
				if o.metrics != nil {
					o.metrics.ItemsConsumed.Inc()
				}
				if o.onTake != nil {
					o.onTake()
				}
				log.WithFields(logrus.Fields{"item": item, "len": q.Len(), "cap": q.Cap()}).Info("consumed")
				if err := pause(gctx, cfg.ConsumerDelay); err != nil {
					return err
				}
			}
		})
	}

	err := g.Wait()

	consumedMu.Lock()
	defer consumedMu.Unlock()
	s := &Session[T]{
		Produced: int(produced.Load()),
		Consumed: consumed,
		Elapsed:  time.Since(start),
	}
	if err != nil {
		return s, err
	}
	if s.Produced != cfg.Items || len(s.Consumed) != cfg.Items {
		return s, fmt.Errorf("%w: want %d, produced %d, consumed %d", ErrCountMismatch, cfg.Items, s.Produced, len(s.Consumed))
	}
	return s, nil
}

// blocked runs the blocking call that follows a failed TryPut or TryTake and
// records how long it took. The call may still complete without parking if
// the other side made room in between.
func (o *options) blocked(ctx context.Context, side string, call func(context.Context) error) error {
	start := time.Now()
	err := call(ctx)
	if o.metrics != nil {
		o.metrics.BlockedTotal.WithLabelValues(side).Inc()
		o.metrics.WaitSeconds.WithLabelValues(side).Observe(time.Since(start).Seconds())
	}
	return err
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunTimedTest spawns producers and consumers that run for the specified
// duration, measuring how many messages are actually enqueued/dequeued
// in that window. Once the context expires, producers stop, the queue is
// closed and consumers drain any remaining messages.
// Returns the total messages enqueued, total consumed, and the actual elapsed time.
func RunTimedTest[T any, Q queue.ClosableQueueInterface[T]](
	q Q,
	cfg Config,
	testDuration time.Duration,
	valueGenerator func(int) T,
) (producedCount int64, consumedCount int64, elapsed time.Duration) {

	// Create a context that will cancel after testDuration.
	ctx, cancel := context.WithTimeout(context.Background(), testDuration)
	defer cancel()

	var totalProduced int64
	var totalConsumed int64

	start := time.Now()

	var msgIndex int64
	var prodWg sync.WaitGroup
	prodWg.Add(cfg.NumProducers)

	// Spawn producers. A put parked on a full queue is released by the deadline.
	for i := 0; i < cfg.NumProducers; i++ {
		go func() {
			defer prodWg.Done()
			for {
				idx := atomic.AddInt64(&msgIndex, 1) - 1
				if err := q.PutContext(ctx, valueGenerator(int(idx))); err != nil {
					return
				}
				atomic.AddInt64(&totalProduced, 1)
			}
		}()
	}

	// Spawn consumers. They park on an empty queue and stop once it is closed and drained.
	var consWg sync.WaitGroup
	consWg.Add(cfg.NumConsumers)
	for i := 0; i < cfg.NumConsumers; i++ {
		go func() {
			defer consWg.Done()
			for {
				if _, err := q.TakeContext(context.Background()); err != nil {
					return
				}
				atomic.AddInt64(&totalConsumed, 1)
			}
		}()
	}

	// Wait for all producers to finish, then let consumers drain.
	prodWg.Wait()
	q.Close()
	consWg.Wait()

	elapsed = time.Since(start)
	producedCount = atomic.LoadInt64(&totalProduced)
	consumedCount = atomic.LoadInt64(&totalConsumed)
	return producedCount, consumedCount, elapsed
}
