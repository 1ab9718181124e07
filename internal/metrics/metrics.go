package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats is the read-only view of a queue the gauges sample on scrape.
type QueueStats interface {
	Len() int
	Cap() int
	Waiting() (producers, consumers int)
}

// Metrics holds the instruments for one producer/consumer session.
type Metrics struct {
	ItemsProduced prometheus.Counter
	ItemsConsumed prometheus.Counter
	BlockedTotal  *prometheus.CounterVec
	WaitSeconds   *prometheus.HistogramVec
}

// New creates the session instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bq_items_produced_total",
			Help: "Items handed to the queue by producers",
		}),
		ItemsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bq_items_consumed_total",
			Help: "Items taken from the queue by consumers",
		}),
		BlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bq_blocked_total",
			Help: "Calls that found the queue full or empty and took the blocking path, by side",
		}, []string{"side"}),
		WaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bq_wait_seconds",
			Help:    "Time spent in the blocking path per call, by side",
			Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
		}, []string{"side"}),
	}

	reg.MustRegister(
		m.ItemsProduced,
		m.ItemsConsumed,
		m.BlockedTotal,
		m.WaitSeconds,
	)

	return m
}

// RegisterQueue exposes depth, capacity and parked callers of q as gauges
// sampled at scrape time.
func RegisterQueue(reg prometheus.Registerer, name string, q QueueStats) {
	labels := prometheus.Labels{"queue": name}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "bq_queue_depth",
			Help:        "Items currently buffered",
			ConstLabels: labels,
		}, func() float64 { return float64(q.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "bq_queue_capacity",
			Help:        "Fixed queue capacity",
			ConstLabels: labels,
		}, func() float64 { return float64(q.Cap()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "bq_parked_producers",
			Help:        "Producers parked on a full queue",
			ConstLabels: labels,
		}, func() float64 {
			p, _ := q.Waiting()
			return float64(p)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "bq_parked_consumers",
			Help:        "Consumers parked on an empty queue",
			ConstLabels: labels,
		}, func() float64 {
			_, c := q.Waiting()
			return float64(c)
		}),
	)
}
