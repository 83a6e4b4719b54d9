// Package sweeper expires requests whose deadline has passed and forgets
// terminal requests once their retention period is over.
package sweeper

import (
	"context"
	"time"

	"bloodmatch/internal/matching/metrics"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"
)

// Requests is implemented by lifecycle.Manager.
type Requests interface {
	ExpireOverdue(now time.Time) []string
	PruneTerminal(cutoff time.Time) []string
	Counts() map[model.RequestStatus]int
}

type Sweeper struct {
	requests  Requests
	interval  time.Duration
	retention time.Duration
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

type Option func(*Sweeper)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New builds a sweeper. Terminal requests last changed more than retention
// ago are pruned; a zero retention keeps them forever.
func New(requests Requests, interval, retention time.Duration, log *logger.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		requests:  requests,
		interval:  interval,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("Expiry sweeper started", "interval", s.interval, "retention", s.retention)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep expires every overdue request once, prunes stale terminal requests,
// refreshes the status gauge and returns the expired ids.
func (s *Sweeper) Sweep() []string {
	now := s.now()

	expired := s.requests.ExpireOverdue(now)
	if len(expired) > 0 {
		s.log.Info("Expired overdue requests", "count", len(expired), "request_ids", expired)
	}

	if s.retention > 0 {
		if pruned := s.requests.PruneTerminal(now.Add(-s.retention)); len(pruned) > 0 {
			s.log.Debug("Pruned terminal requests", "count", len(pruned))
		}
	}

	s.metrics.SetRequestCounts(s.requests.Counts())
	return expired
}
