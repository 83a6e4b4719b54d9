package service

import (
	"context"

	"bloodmatch/internal/matching/allocator"
	"bloodmatch/internal/matching/compatibility"
	"bloodmatch/internal/matching/donors"
	"bloodmatch/internal/matching/events"
	"bloodmatch/internal/matching/index"
	"bloodmatch/internal/matching/lifecycle"
	"bloodmatch/internal/matching/metrics"
	"bloodmatch/internal/matching/validator"
	"bloodmatch/pkg/config"
	"bloodmatch/pkg/model"
)

// Engine bundles the matching components built from one configuration.
type Engine struct {
	Index     *index.Grid
	Directory *donors.Directory
	Requests  *lifecycle.Manager
	Allocator *allocator.Allocator
	Service   MatchingService
}

func NewEngine(cfg *config.Config, publisher events.Publisher, m *metrics.Metrics, store donors.Store) *Engine {
	grid := index.NewGrid(cfg.GridCellSizeDegrees)

	var dirOpts []donors.Option
	if store != nil {
		dirOpts = append(dirOpts, donors.WithStore(store))
	}
	directory := donors.NewDirectory(grid, cfg.Log, dirOpts...)
	requests := lifecycle.NewManager(publisher, cfg.Log, lifecycle.WithShards(cfg.ReservationShards))
	matcher := compatibility.NewMatcher(compatibility.NewPolicy(cfg.DonationCooldown))
	alloc := allocator.New(grid, directory, requests, matcher, cfg.Log, allocator.WithMetrics(m))

	return &Engine{
		Index:     grid,
		Directory: directory,
		Requests:  requests,
		Allocator: alloc,
		Service:   NewMatchingService(directory, requests, alloc, validator.NewMatchingValidator(cfg.Log), cfg),
	}
}

// Subscribe attaches the engine's own event consumers to bus: the donor
// directory records donations and metrics follow status changes.
func (e *Engine) Subscribe(bus *events.Bus, m *metrics.Metrics, buffer int) {
	bus.Subscribe("donor-directory", buffer, e.Directory.HandleEvent, model.EventDonationRecorded)
	bus.Subscribe("metrics", buffer, func(_ context.Context, event model.Event) error {
		m.IncrementTransition(string(event.Status))
		m.SetActiveReservations(e.Requests.ActiveReservations())
		return nil
	}, model.EventRequestStatusChanged)
}
