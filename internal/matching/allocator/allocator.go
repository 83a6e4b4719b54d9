// Package allocator reserves nearby compatible donors against a request.
package allocator

import (
	"context"
	"time"

	"bloodmatch/internal/matching/compatibility"
	"bloodmatch/internal/matching/index"
	"bloodmatch/internal/matching/lifecycle"
	"bloodmatch/internal/matching/metrics"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"
)

type SpatialIndex interface {
	QueryRadius(center model.Position, radiusMeters float64) []index.Hit
}

type DonorLookup interface {
	Lookup(donorID string) (model.Donor, bool)
}

// Requests is the part of the lifecycle manager the allocator drives.
type Requests interface {
	BeginMatching(requestID string) (model.BloodRequest, error)
	Reserve(requestID, donorID string) (lifecycle.Outcome, error)
	Get(requestID string) (model.BloodRequest, error)
	ActiveReservations() int
}

type AllocationResult struct {
	RequestID       string              `json:"request_id"`
	MatchedDonorIDs []string            `json:"matched_donor_ids"`
	NewlyReserved   []string            `json:"newly_reserved"`
	UnfilledCount   int                 `json:"unfilled_count"`
	Status          model.RequestStatus `json:"status"`
}

type Allocator struct {
	index    SpatialIndex
	donors   DonorLookup
	requests Requests
	matcher  *compatibility.Matcher
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time
}

type Option func(*Allocator)

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

func New(idx SpatialIndex, donors DonorLookup, requests Requests, matcher *compatibility.Matcher, log *logger.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		index:    idx,
		donors:   donors,
		requests: requests,
		matcher:  matcher,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate walks candidates nearest-first and reserves compatible, eligible
// donors until the request's unfilled units are covered or candidates run
// out. Calling it again only adds donors. No lock is held between
// candidates, so a concurrent cancel stops the walk at the next Reserve.
//
// If ctx is cancelled mid-walk the reservations made so far stand and the
// partial result is returned together with ctx.Err().
func (a *Allocator) Allocate(ctx context.Context, requestID string) (AllocationResult, error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAllocateLatency(time.Since(start)) }()

	req, err := a.requests.BeginMatching(requestID)
	if err != nil {
		return AllocationResult{}, err
	}

	need := req.UnitsNeeded - len(req.ReservedDonors)
	newly := make([]string, 0, max(need, 0))
	scanned, skipped := 0, 0
	var walkErr error

	if need > 0 {
		hits := a.index.QueryRadius(req.Position, req.RadiusMeters)
		now := a.now()

	walk:
		for _, hit := range hits {
			if len(newly) >= need {
				break
			}
			if err := ctx.Err(); err != nil {
				walkErr = err
				break
			}
			scanned++

			donor, ok := a.donors.Lookup(hit.DonorID)
			if !ok || !a.matcher.Accepts(req.BloodType, donor, now) {
				skipped++
				continue
			}

			outcome, err := a.requests.Reserve(requestID, donor.ID)
			if err != nil {
				walkErr = err
				break
			}
			a.metrics.IncrementReserveOutcome(outcome.String())

			switch outcome {
			case lifecycle.Reserved:
				newly = append(newly, donor.ID)
			case lifecycle.AlreadyReserved:
				continue
			case lifecycle.NotAcceptingMatches:
				a.log.Debug("Request stopped accepting matches during allocation", "request_id", requestID)
				break walk
			}
		}
	}

	final, err := a.requests.Get(requestID)
	if err != nil {
		return AllocationResult{}, err
	}

	result := AllocationResult{
		RequestID:       requestID,
		MatchedDonorIDs: final.ReservedDonors,
		NewlyReserved:   newly,
		UnfilledCount:   final.Unfilled(),
		Status:          final.Status,
	}

	a.metrics.IncrementAllocation(string(result.Status))
	a.metrics.SetActiveReservations(a.requests.ActiveReservations())
	a.log.Info("Allocation completed",
		"request_id", requestID,
		"blood_type", req.BloodType.String(),
		"radius_meters", req.RadiusMeters,
		"candidates_scanned", scanned,
		"candidates_skipped", skipped,
		"newly_reserved", len(newly),
		"unfilled", result.UnfilledCount,
		"status", result.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, walkErr
}
