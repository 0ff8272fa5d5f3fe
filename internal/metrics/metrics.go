// Package metrics declares the Prometheus collectors shared by the server,
// the consumers and the supervisor. Collectors register with the default
// registry on package load.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	// TasksEnqueued counts Enqueue calls by topic and outcome.
	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asyncbg_tasks_enqueued_total",
		Help: "Total number of tasks handed to the broker",
	}, []string{"topic", "outcome"})

	// StatusWrites counts status store writes by status and result
	// (ok, set_error, publish_error).
	StatusWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asyncbg_status_writes_total",
		Help: "Total number of task status writes",
	}, []string{"status", "result"})

	// TasksHandled counts envelopes processed by consumers.
	TasksHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asyncbg_tasks_handled_total",
		Help: "Total number of task envelopes handled by consumers",
	}, []string{"topic", "outcome"})

	// HandlerDuration observes how long handlers take per topic.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "asyncbg_handler_duration_seconds",
		Help:    "Time taken by task handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	// ConsumerReconnects counts returns to the connecting state.
	ConsumerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asyncbg_consumer_reconnects_total",
		Help: "Total number of times a consumer retried the broker connection",
	})

	// ConsumerRestarts counts consumer processes relaunched by the supervisor.
	ConsumerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asyncbg_consumer_restarts_total",
		Help: "Total number of consumer processes restarted by the supervisor",
	})

	// LiveConsumers is the number of consumer processes currently running.
	LiveConsumers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asyncbg_consumers_live",
		Help: "Number of consumer processes currently running",
	})

	// ExhaustedSlots is the number of slots that ran out of restarts.
	ExhaustedSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asyncbg_consumer_slots_exhausted",
		Help: "Number of supervisor slots permanently failed after exhausting restarts",
	})

	// NotificationSubscribers is the number of open notification streams.
	NotificationSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asyncbg_notification_subscribers",
		Help: "Number of open notification streams",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
