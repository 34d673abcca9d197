package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

// WorkflowMetrics records lifecycle, allocation and classifier measurements.
type WorkflowMetrics struct {
	service string

	transitionsTotal     *prometheus.CounterVec
	rejectionsTotal      *prometheus.CounterVec
	allocationsTotal     *prometheus.CounterVec
	classificationsTotal *prometheus.CounterVec
	gatewayCallsTotal    *prometheus.CounterVec
	gatewayCallDuration  *prometheus.HistogramVec
	breakerState         *prometheus.GaugeVec
	breakerTransitions   *prometheus.CounterVec
}

func NewWorkflowMetrics(service string, registerer prometheus.Registerer) *WorkflowMetrics {
	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearance",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Applied lifecycle transitions.",
		},
		[]string{"service", "event", "from", "to"},
	)
	rejectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearance",
			Subsystem: "workflow",
			Name:      "rejections_total",
			Help:      "Rejected lifecycle events by reason.",
		},
		[]string{"service", "event", "kind"},
	)
	allocationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearance",
			Subsystem: "allocator",
			Name:      "allocations_total",
			Help:      "Broker allocation attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	classificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearance",
			Subsystem: "compliance",
			Name:      "classifications_total",
			Help:      "Compliance classifications by provenance and risk level.",
		},
		[]string{"service", "provenance", "risk_level"},
	)
	gatewayCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearance",
			Subsystem: "classifier",
			Name:      "calls_total",
			Help:      "External classifier calls by outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)
	gatewayCallDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clearance",
			Subsystem: "classifier",
			Name:      "call_duration_seconds",
			Help:      "External classifier call duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clearance",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)
	breakerTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearance",
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state changes.",
		},
		[]string{"service", "operation", "to"},
	)

	registerer.MustRegister(
		transitionsTotal,
		rejectionsTotal,
		allocationsTotal,
		classificationsTotal,
		gatewayCallsTotal,
		gatewayCallDuration,
		breakerState,
		breakerTransitions,
	)

	return &WorkflowMetrics{
		service:              service,
		transitionsTotal:     transitionsTotal,
		rejectionsTotal:      rejectionsTotal,
		allocationsTotal:     allocationsTotal,
		classificationsTotal: classificationsTotal,
		gatewayCallsTotal:    gatewayCallsTotal,
		gatewayCallDuration:  gatewayCallDuration,
		breakerState:         breakerState,
		breakerTransitions:   breakerTransitions,
	}
}

func (m *WorkflowMetrics) ObserveTransition(event domain.EventKind, from, to domain.Status) {
	m.transitionsTotal.WithLabelValues(m.service, string(event), string(from), string(to)).Inc()
}

func (m *WorkflowMetrics) ObserveRejection(event domain.EventKind, kind string) {
	m.rejectionsTotal.WithLabelValues(m.service, string(event), kind).Inc()
}

func (m *WorkflowMetrics) ObserveAllocation(outcome string) {
	m.allocationsTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *WorkflowMetrics) ObserveClassification(provenance domain.Provenance, risk domain.RiskLevel) {
	level := string(risk)
	if level == "" {
		level = "none"
	}
	m.classificationsTotal.WithLabelValues(m.service, string(provenance), level).Inc()
}

func (m *WorkflowMetrics) ObserveGatewayCall(operation, outcome string, duration time.Duration) {
	m.gatewayCallsTotal.WithLabelValues(m.service, operation, outcome).Inc()
	if outcome != "absent" {
		m.gatewayCallDuration.WithLabelValues(m.service, operation).Observe(duration.Seconds())
	}
}

// ObserveBreakerState matches the resilience executor's state change hook.
func (m *WorkflowMetrics) ObserveBreakerState(operation, _, to string) {
	m.breakerState.WithLabelValues(m.service, operation).Set(breakerStateValue(to))
	m.breakerTransitions.WithLabelValues(m.service, operation, to).Inc()
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
