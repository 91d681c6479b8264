package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InboxMetrics содержит метрики inbound dispatcher'а и inbox guard.
type InboxMetrics struct {
	duplicates      *prometheus.CounterVec
	unroutable      prometheus.Counter
	handlerFailures *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
}

// NewInboxMetrics создаёт метрики для одного потребляющего сервиса.
func NewInboxMetrics() *InboxMetrics {
	return newInboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newInboxMetricsWithRegisterer(registerer prometheus.Registerer) *InboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &InboxMetrics{
		duplicates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_inbox_duplicate_events_total",
			Help: "Total number of redelivered events rejected by the inbox guard",
		}, []string{"service"}),
		unroutable: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_inbox_unroutable_events_total",
			Help: "Total number of delivered events with no registered handler",
		}),
		handlerFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_inbox_handler_failures_total",
			Help: "Total number of handler errors grouped by event type",
		}, []string{"event_type"}),
		handlerDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_inbox_handler_duration_seconds",
			Help:    "Duration of inbound event handling in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
}

// RecordDuplicate увеличивает счётчик отброшенных дубликатов сервиса.
func (m *InboxMetrics) RecordDuplicate(service string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(service).Inc()
}

// RecordUnroutable увеличивает счётчик событий без обработчика.
func (m *InboxMetrics) RecordUnroutable() {
	if m == nil {
		return
	}
	m.unroutable.Inc()
}

// RecordHandlerFailure увеличивает счётчик ошибок обработчика.
func (m *InboxMetrics) RecordHandlerFailure(eventType string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(eventType).Inc()
}

// RecordHandlerDuration фиксирует длительность обработки события.
func (m *InboxMetrics) RecordHandlerDuration(eventType string, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(eventType).Observe(d.Seconds())
}
