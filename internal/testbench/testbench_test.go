package testbench

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/GoBoundedQueue/internal/metrics"
	"github.com/i5heu/GoBoundedQueue/pkg/boundedqueue"
	"github.com/i5heu/GoBoundedQueue/pkg/buffered"
)

func identity(i int) int { return i + 1 }

func TestRunSessionSingleProducerSingleConsumer(t *testing.T) {
	q := boundedqueue.MustNew[int](5)
	cfg := Config{NumProducers: 1, NumConsumers: 1, Items: 12}

	s, err := RunSession(context.Background(), q, cfg, identity)
	require.NoError(t, err)

	assert.Equal(t, 12, s.Produced)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, s.Consumed)
	assert.True(t, q.Closed())
	assert.Equal(t, 0, q.Len())
	p, c := q.Waiting()
	assert.Zero(t, p)
	assert.Zero(t, c)
}

func TestRunSessionManyToMany(t *testing.T) {
	q := boundedqueue.MustNew[int](3)
	cfg := Config{NumProducers: 4, NumConsumers: 3, Items: 5000}

	s, err := RunSession(context.Background(), q, cfg, identity)
	require.NoError(t, err)

	got := append([]int(nil), s.Consumed...)
	sort.Ints(got)
	want := make([]int, cfg.Items)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, got)
}

func TestRunSessionBufferedBaseline(t *testing.T) {
	q := buffered.New[int](5)
	s, err := RunSession(context.Background(), q, Config{NumProducers: 1, NumConsumers: 1, Items: 100}, identity)
	require.NoError(t, err)
	require.Len(t, s.Consumed, 100)
	for i, v := range s.Consumed {
		require.Equal(t, i+1, v)
	}
}

func TestRunSessionZeroItems(t *testing.T) {
	q := boundedqueue.MustNew[int](1)
	s, err := RunSession(context.Background(), q, Config{NumProducers: 2, NumConsumers: 2}, identity)
	require.NoError(t, err)
	assert.Zero(t, s.Produced)
	assert.Empty(t, s.Consumed)
}

func TestRunSessionRejectsBadConfig(t *testing.T) {
	q := boundedqueue.MustNew[int](1)
	for _, cfg := range []Config{
		{NumProducers: 0, NumConsumers: 1, Items: 1},
		{NumProducers: 1, NumConsumers: 0, Items: 1},
		{NumProducers: 1, NumConsumers: 1, Items: -1},
		{NumProducers: 1, NumConsumers: 1, Items: 1, ConsumerDelay: -time.Second},
	} {
		s, err := RunSession(context.Background(), q, cfg, identity)
		assert.Error(t, err, "%+v", cfg)
		assert.Nil(t, s)
	}
}

// Delays only pace the run. A slow consumer behind a fast producer keeps
// the producer parked on a full buffer without changing the result.
func TestRunSessionWithDelays(t *testing.T) {
	q := boundedqueue.MustNew[int](2)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cfg := Config{NumProducers: 1, NumConsumers: 1, Items: 6, ConsumerDelay: 5 * time.Millisecond}
	s, err := RunSession(context.Background(), q, cfg, identity, WithMetrics(m))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, s.Consumed)
	assert.Equal(t, 6.0, testutil.ToFloat64(m.ItemsProduced))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.ItemsConsumed))
	assert.Positive(t, testutil.ToFloat64(m.BlockedTotal.WithLabelValues("producer")))
}

func TestRunSessionCancelled(t *testing.T) {
	q := boundedqueue.MustNew[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	cfg := Config{NumProducers: 1, NumConsumers: 1, Items: 1000, ConsumerDelay: 10 * time.Millisecond}
	s, err := RunSession(ctx, q, cfg, identity)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, len(s.Consumed), cfg.Items)
	assert.True(t, q.Closed())
}

func TestRunSessionLogsBlockedProducer(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	q := boundedqueue.MustNew[int](1)
	cfg := Config{NumProducers: 1, NumConsumers: 1, Items: 3, ConsumerDelay: 10 * time.Millisecond}
	_, err := RunSession(context.Background(), q, cfg, identity, WithLogger(logger))
	require.NoError(t, err)

	var produced, consumed, blocked int
	for _, e := range hook.AllEntries() {
		switch e.Message {
		case "produced":
			produced++
		case "consumed":
			consumed++
		case "buffer full, producer blocked":
			blocked++
			assert.Equal(t, "producer", e.Data["side"])
			assert.Equal(t, 1, e.Data["len"], "a failed TryPut saw a full buffer")
			assert.Equal(t, 1, e.Data["cap"])
		}
	}
	assert.Equal(t, 3, produced)
	assert.Equal(t, 3, consumed)
	assert.Positive(t, blocked)
}

func TestRunSessionLogsBlockedConsumer(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	q := boundedqueue.MustNew[int](4)
	cfg := Config{NumProducers: 1, NumConsumers: 1, Items: 3, ProducerDelay: 10 * time.Millisecond}
	s, err := RunSession(context.Background(), q, cfg, identity, WithLogger(logger))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, s.Consumed)

	var blocked int
	for _, e := range hook.AllEntries() {
		if e.Message != "buffer empty, consumer blocked" {
			continue
		}
		blocked++
		assert.Equal(t, "consumer", e.Data["side"])
		assert.Equal(t, 0, e.Data["consumer"])
		assert.Equal(t, 0, e.Data["len"], "a failed TryTake saw an empty buffer")
		assert.Equal(t, 4, e.Data["cap"])
	}
	// The consumer takes each item while the producer sleeps, then finds the
	// buffer empty again.
	assert.GreaterOrEqual(t, blocked, 3)
}

func TestRunSessionProgressCallback(t *testing.T) {
	q := boundedqueue.MustNew[int](4)
	var n int
	_, err := RunSession(context.Background(), q, Config{NumProducers: 1, NumConsumers: 1, Items: 20}, identity,
		WithProgress(func() { n++ }))
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestRunTimedTest(t *testing.T) {
	q := boundedqueue.MustNew[int](8)
	produced, consumed, elapsed := RunTimedTest(q, Config{NumProducers: 2, NumConsumers: 2}, 50*time.Millisecond, identity)
	assert.Positive(t, produced)
	assert.Equal(t, produced, consumed)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, 0, q.Len())
}
