package pgqueue

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector translates Queue events into Prometheus collectors. It
// implements EventObserver, so it can be installed with WithEventObserver
// and will update its counters as events are emitted.
type Collector struct {
	registry *prometheus.Registry

	enqueued     *prometheus.CounterVec
	dequeued     *prometheus.CounterVec
	acked        *prometheus.CounterVec
	nacked       *prometheus.CounterVec
	notified     prometheus.Counter
	staleReset   prometheus.Counter
	retryReset   prometheus.Counter
	errors       *prometheus.CounterVec
	started      prometheus.Counter
	stopped      prometheus.Counter
}

// NewCollector builds a Collector registered under namespace, labeling
// every series with queueName so one process can run several queues
// against a shared registry.
func NewCollector(namespace, queueName string) *Collector {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"queue": queueName}

	c := &Collector{
		registry: registry,
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_enqueued_total",
			Help:        "Total messages enqueued.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		dequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_dequeued_total",
			Help:        "Total messages claimed for processing.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_acked_total",
			Help:        "Total messages acknowledged as completed.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		nacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_nacked_total",
			Help:        "Total messages nacked, whether retried or dead-lettered.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		notified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "notifications_total",
			Help:        "Total LISTEN/NOTIFY wakeups received.",
			ConstLabels: constLabels,
		}),
		staleReset: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stale_resets_total",
			Help:        "Total messages reclaimed from a crashed consumer by the stale sweep.",
			ConstLabels: constLabels,
		}),
		retryReset: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "retry_promotions_total",
			Help:        "Total messages promoted from Failed back to Pending by the retry sweep.",
			ConstLabels: constLabels,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "errors_total",
			Help:        "Total errors observed while running the queue.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "started_total",
			Help:        "Total times the queue's consumption loop was started.",
			ConstLabels: constLabels,
		}),
		stopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stopped_total",
			Help:        "Total times the queue's consumption loop was stopped.",
			ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(
		c.enqueued, c.dequeued, c.acked, c.nacked,
		c.notified, c.staleReset, c.retryReset, c.errors,
		c.started, c.stopped,
	)
	return c
}

// Observe implements EventObserver.
func (c *Collector) Observe(e Event) {
	switch e.Kind {
	case EventEnqueued:
		c.enqueued.WithLabelValues(e.Type).Inc()
	case EventDequeued:
		c.dequeued.WithLabelValues(e.Type).Inc()
	case EventAck:
		c.acked.WithLabelValues(e.Type).Inc()
	case EventNack:
		c.nacked.WithLabelValues(e.Type).Inc()
	case EventNotification:
		c.notified.Inc()
	case EventStaleReset:
		c.staleReset.Add(float64(e.Count))
	case EventRetryReset:
		c.retryReset.Add(float64(e.Count))
	case EventError:
		c.errors.WithLabelValues(e.Type).Inc()
	case EventStarted:
		c.started.Inc()
	case EventStopped:
		c.stopped.Inc()
	}
}

// Registry returns the Prometheus registry backing this Collector, for
// callers that want to merge it into a larger registry or scrape it
// directly rather than through Handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an http.Handler suitable for mounting at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
