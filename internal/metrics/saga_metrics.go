package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики координатора саги.
type SagaMetrics struct {
	// Счётчики исходов.
	sagaStarted     prometheus.Counter
	sagaCompleted   prometheus.Counter
	sagaCompensated prometheus.Counter
	sagaRejected    prometheus.Counter
	sagaDuplicates  prometheus.Counter

	// Гистограмма времени обработки одного события сагой.
	stepDuration *prometheus.HistogramVec

	// Счётчик событий, положенных в outbox.
	outboxEvents prometheus.Counter
}

// NewSagaMetrics создаёт новый экземпляр метрик saga.
func NewSagaMetrics() *SagaMetrics {
	return newSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		sagaStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_started_total",
			Help: "Total number of order sagas started",
		}),
		sagaCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_completed_total",
			Help: "Total number of order sagas completed successfully",
		}),
		sagaCompensated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_compensated_total",
			Help: "Total number of order sagas finished through compensation",
		}),
		sagaRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_rejected_events_total",
			Help: "Total number of events rejected as inconsistent with the saga step",
		}),
		sagaDuplicates: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_duplicate_events_total",
			Help: "Total number of duplicate or late events discarded after saga completion",
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_saga_step_duration_seconds",
			Help:    "Duration of saga event handling in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_outbox_events_total",
			Help: "Total number of events the saga coordinator enqueued to the outbox",
		}),
	}
}

// RecordSagaStarted увеличивает счётчик запущенных саг.
func (m *SagaMetrics) RecordSagaStarted() {
	if m == nil {
		return
	}
	m.sagaStarted.Inc()
}

// RecordSagaCompleted увеличивает счётчик успешно завершённых саг.
func (m *SagaMetrics) RecordSagaCompleted() {
	if m == nil {
		return
	}
	m.sagaCompleted.Inc()
}

// RecordSagaCompensated увеличивает счётчик саг, завершённых компенсацией.
func (m *SagaMetrics) RecordSagaCompensated() {
	if m == nil {
		return
	}
	m.sagaCompensated.Inc()
}

// RecordSagaRejected увеличивает счётчик протокольных нарушений.
func (m *SagaMetrics) RecordSagaRejected() {
	if m == nil {
		return
	}
	m.sagaRejected.Inc()
}

// RecordSagaDuplicate увеличивает счётчик отброшенных поздних дубликатов.
func (m *SagaMetrics) RecordSagaDuplicate() {
	if m == nil {
		return
	}
	m.sagaDuplicates.Inc()
}

// RecordStepDuration фиксирует длительность обработки события на шаге step.
func (m *SagaMetrics) RecordStepDuration(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий, положенных в outbox.
func (m *SagaMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}
