package metrics

import (
	"time"

	"bloodmatch/pkg/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the matching engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Allocate call latency
	AllocateLatency prometheus.Histogram

	// Per-candidate reservation outcomes
	ReserveOutcome *prometheus.CounterVec

	// Allocation results by resulting request status
	AllocationResult *prometheus.CounterVec

	// Request status transitions
	RequestTransitions *prometheus.CounterVec

	// Donors currently held by some request
	ActiveReservations prometheus.Gauge

	// Requests held in memory by status
	RequestsByStatus *prometheus.GaugeVec

	// Inbound Kafka messages by event type and result
	InboundMessages *prometheus.CounterVec
}

// New registers every matching metric on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AllocateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bloodmatch_allocate_duration_seconds",
			Help:    "Duration of a single allocation call",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ReserveOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodmatch_reserve_outcomes_total",
			Help: "Reservation attempts by outcome",
		}, []string{"outcome"}), // outcome: "reserved", "already_reserved", "not_accepting_matches"

		AllocationResult: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodmatch_allocations_total",
			Help: "Allocation calls by resulting request status",
		}, []string{"status"}),

		RequestTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodmatch_request_transitions_total",
			Help: "Request status transitions by target status",
		}, []string{"status"}),

		ActiveReservations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bloodmatch_active_reservations",
			Help: "Donors currently reserved against a request",
		}),

		RequestsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bloodmatch_requests",
			Help: "Requests held in memory by status",
		}, []string{"status"}),

		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodmatch_inbound_messages_total",
			Help: "Inbound Kafka messages by event type and result",
		}, []string{"event_type", "result"}),
	}
}

func (m *Metrics) ObserveAllocateLatency(d time.Duration) {
	if m != nil {
		m.AllocateLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementReserveOutcome(outcome string) {
	if m != nil {
		m.ReserveOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementAllocation(status string) {
	if m != nil {
		m.AllocationResult.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncrementTransition(status string) {
	if m != nil {
		m.RequestTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SetActiveReservations(n int) {
	if m != nil {
		m.ActiveReservations.Set(float64(n))
	}
}

// SetRequestCounts replaces the per-status request gauge. Statuses missing
// from counts drop to zero.
func (m *Metrics) SetRequestCounts(counts map[model.RequestStatus]int) {
	if m == nil {
		return
	}
	m.RequestsByStatus.Reset()
	for status, n := range counts {
		m.RequestsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (m *Metrics) IncrementInbound(eventType, result string) {
	if m != nil {
		m.InboundMessages.WithLabelValues(eventType, result).Inc()
	}
}
