package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"partnerqueue/internal/events"
)

const namespace = "partnerqueue"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	enqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Queue items recorded, by tenant and operation key.",
		},
		[]string{"tenant", "operation_key"},
	)

	processed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Processing attempts by tenant, terminal status and trigger.",
		},
		[]string{"tenant", "status", "trigger"},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_batch_duration_seconds",
			Help:      "Duration of batch rounds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	batchPulled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_batch_pulled_total",
			Help:      "Items pulled by batch rounds.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, enqueued, processed, batchDuration, batchPulled)
	})
}

// IncHTTP counts one served request.
func IncHTTP(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Subscribe feeds the queue collectors from lifecycle events.
func Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventItemEnqueued, func(e *events.Event) error {
		var p events.QueueItemPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		enqueued.WithLabelValues(p.TenantCode, p.OperationKey).Inc()
		return nil
	})

	onFinished := func(e *events.Event) error {
		var p events.QueueItemPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		trigger := "batch"
		if p.Manual {
			trigger = "manual"
		}
		processed.WithLabelValues(p.TenantCode, p.Status, trigger).Inc()
		return nil
	}
	bus.Subscribe(events.EventItemSucceeded, onFinished)
	bus.Subscribe(events.EventItemFailed, onFinished)

	bus.Subscribe(events.EventBatchCompleted, func(e *events.Event) error {
		var p events.BatchPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		batchDuration.Observe(p.Duration.Seconds())
		batchPulled.Add(float64(p.Pulled))
		return nil
	})
}
