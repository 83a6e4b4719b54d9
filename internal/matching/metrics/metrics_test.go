package metrics

import (
	"testing"
	"time"

	"bloodmatch/pkg/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementReserveOutcome("reserved")
	m.IncrementReserveOutcome("reserved")
	m.IncrementReserveOutcome("already_reserved")
	m.IncrementAllocation("matched")
	m.IncrementTransition("cancelled")
	m.SetActiveReservations(7)
	m.IncrementInbound("reservation.declined", "ok")
	m.ObserveAllocateLatency(3 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReserveOutcome.WithLabelValues("reserved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReserveOutcome.WithLabelValues("already_reserved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocationResult.WithLabelValues("matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestTransitions.WithLabelValues("cancelled")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ActiveReservations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboundMessages.WithLabelValues("reservation.declined", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AllocateLatency))
}

func TestMetrics_SetRequestCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetRequestCounts(map[model.RequestStatus]int{model.StatusOpen: 3, model.StatusCancelled: 1})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RequestsByStatus.WithLabelValues("open")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestsByStatus))

	m.SetRequestCounts(map[model.RequestStatus]int{model.StatusMatched: 2})
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsByStatus), "pruned statuses disappear")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsByStatus.WithLabelValues("matched")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementReserveOutcome("reserved")
		m.IncrementAllocation("matched")
		m.IncrementTransition("open")
		m.SetActiveReservations(1)
		m.IncrementInbound("x", "ok")
		m.ObserveAllocateLatency(time.Second)
		m.SetRequestCounts(map[model.RequestStatus]int{model.StatusOpen: 1})
	})
}
