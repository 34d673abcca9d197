package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	eventTotal     *prometheus.CounterVec
	eventDuration  *prometheus.HistogramVec
	eventInFlight  prometheus.Gauge
	eventLag       *prometheus.HistogramVec
	sweepTotal     *prometheus.CounterVec
	sweepShipments *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearance",
			Subsystem: "worker",
			Name:      "events_total",
			Help:      "Consumed workflow notifications by type and status.",
		},
		[]string{"service", "type", "status"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clearance",
			Subsystem: "worker",
			Name:      "event_duration_seconds",
			Help:      "Notification handling duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	eventInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clearance",
			Subsystem: "worker",
			Name:      "events_in_flight",
			Help:      "Number of notifications being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clearance",
			Subsystem: "worker",
			Name:      "event_lag_seconds",
			Help:      "Delay between a transition and its notification being handled.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	sweepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearance",
			Subsystem: "worker",
			Name:      "allocation_sweeps_total",
			Help:      "Allocation retry sweeps by status.",
		},
		[]string{"service", "status"},
	)
	sweepShipments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearance",
			Subsystem: "worker",
			Name:      "allocation_retries_total",
			Help:      "Shipments retried by the allocation sweep by outcome.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(eventTotal, eventDuration, eventInFlight, eventLag, sweepTotal, sweepShipments)

	return &WorkerMetrics{
		registry:       registry,
		eventTotal:     eventTotal,
		eventDuration:  eventDuration,
		eventInFlight:  eventInFlight,
		eventLag:       eventLag,
		sweepTotal:     sweepTotal,
		sweepShipments: sweepShipments,
	}
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.eventInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(service, eventType string, duration time.Duration, err error) {
	m.eventInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.eventTotal.WithLabelValues(service, eventType, status).Inc()
	m.eventDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveEventLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordSweep(service string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sweepTotal.WithLabelValues(service, status).Inc()
}

func (m *WorkerMetrics) RecordRetry(service, outcome string) {
	m.sweepShipments.WithLabelValues(service, outcome).Inc()
}
