package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *collector) handle(_ context.Context, e model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) snapshot() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.events...)
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(logger.Discard())
	all := &collector{}
	bus.Subscribe("all", 4, all.handle)

	for i := 0; i < 50; i++ {
		bus.Publish(model.Event{ID: fmt.Sprintf("e-%02d", i), Type: model.EventDonorReserved})
	}
	bus.Close()

	got := all.snapshot()
	require.Len(t, got, 50)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("e-%02d", i), e.ID)
	}
}

func TestBus_FiltersByType(t *testing.T) {
	bus := NewBus(logger.Discard())
	donations := &collector{}
	all := &collector{}
	bus.Subscribe("donations", 0, donations.handle, model.EventDonationRecorded)
	bus.Subscribe("all", 0, all.handle)

	bus.Publish(
		model.Event{Type: model.EventDonorReserved},
		model.Event{Type: model.EventDonationRecorded, DonorID: "d-1"},
		model.Event{Type: model.EventRequestStatusChanged},
	)
	bus.Close()

	require.Len(t, donations.snapshot(), 1)
	assert.Equal(t, "d-1", donations.snapshot()[0].DonorID)
	assert.Len(t, all.snapshot(), 3)
}

func TestBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(logger.Discard())
	var calls int
	var mu sync.Mutex
	bus.Subscribe("flaky", 0, func(context.Context, model.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("broker down")
	})

	bus.Publish(model.Event{}, model.Event{}, model.Event{})
	bus.Close()

	assert.Equal(t, 3, calls)
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := NewBus(logger.Discard())
	c := &collector{}
	bus.Subscribe("c", 0, c.handle)
	bus.Close()
	bus.Close()

	assert.NotPanics(t, func() { bus.Publish(model.Event{}) })
	assert.Empty(t, c.snapshot())
}
