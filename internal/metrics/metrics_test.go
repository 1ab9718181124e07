package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	n, c, p, w int
}

func (f *fakeQueue) Len() int                            { return f.n }
func (f *fakeQueue) Cap() int                            { return f.c }
func (f *fakeQueue) Waiting() (producers, consumers int) { return f.p, f.w }

func TestRegisterQueueSamplesOnScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := &fakeQueue{n: 2, c: 5, p: 1}
	RegisterQueue(reg, "demo", q)

	expected := `
# HELP bq_queue_capacity Fixed queue capacity
# TYPE bq_queue_capacity gauge
bq_queue_capacity{queue="demo"} 5
# HELP bq_queue_depth Items currently buffered
# TYPE bq_queue_depth gauge
bq_queue_depth{queue="demo"} 2
# HELP bq_parked_consumers Consumers parked on an empty queue
# TYPE bq_parked_consumers gauge
bq_parked_consumers{queue="demo"} 0
# HELP bq_parked_producers Producers parked on a full queue
# TYPE bq_parked_producers gauge
bq_parked_producers{queue="demo"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))

	q.n, q.p, q.w = 0, 0, 3
	n, err := testutil.GatherAndCount(reg, "bq_parked_consumers")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP bq_parked_consumers Consumers parked on an empty queue
# TYPE bq_parked_consumers gauge
bq_parked_consumers{queue="demo"} 3
`), "bq_parked_consumers"))
}

func TestNewRegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ItemsProduced.Add(3)
	m.ItemsConsumed.Inc()
	m.BlockedTotal.WithLabelValues("consumer").Inc()
	m.WaitSeconds.WithLabelValues("consumer").Observe(0.01)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ItemsProduced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsConsumed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockedTotal.WithLabelValues("consumer")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.WaitSeconds))

	// A failed fast path counts even when the blocking call never parks.
	require.NoError(t, testutil.CollectAndCompare(m.BlockedTotal, strings.NewReader(`
# HELP bq_blocked_total Calls that found the queue full or empty and took the blocking path, by side
# TYPE bq_blocked_total counter
bq_blocked_total{side="consumer"} 1
`)))

	assert.Panics(t, func() { New(reg) }, "second registration on the same registry")
}
