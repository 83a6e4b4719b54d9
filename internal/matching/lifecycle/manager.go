// Package lifecycle owns blood request state: status transitions and the set
// of donors reserved against each request. It is the only writer of either.
package lifecycle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	matchingerrors "bloodmatch/internal/matching/errors"
	"bloodmatch/internal/matching/events"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"

	"github.com/google/uuid"
)

type requestState struct {
	mu        sync.Mutex
	req       model.BloodRequest
	reserved  map[string]struct{}
	confirmed map[string]struct{}
	seq       uint64
}

type Manager struct {
	mu        sync.RWMutex
	requests  map[string]*requestState
	registry  *registry
	publisher events.Publisher
	log       *logger.Logger
	now       func() time.Time
}

type Option func(*Manager)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithShards sets the number of reservation registry shards.
func WithShards(n int) Option {
	return func(m *Manager) { m.registry = newRegistry(n) }
}

func NewManager(publisher events.Publisher, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		requests:  make(map[string]*requestState),
		registry:  newRegistry(defaultShards),
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new request in status Open. ID, RequesterID and the
// matching parameters come from the caller; status and reservations are reset.
func (m *Manager) Create(req model.BloodRequest) (model.BloodRequest, error) {
	if req.ID == "" || req.UnitsNeeded <= 0 || req.RadiusMeters <= 0 || !req.BloodType.Valid() || !req.Position.Valid() {
		return model.BloodRequest{}, fmt.Errorf("%w: id=%q units=%d radius=%.1f blood_type=%s",
			matchingerrors.ErrInvalidRequestParameters, req.ID, req.UnitsNeeded, req.RadiusMeters, req.BloodType)
	}

	now := m.now()
	req.Status = model.StatusOpen
	req.ReservedDonors = nil
	req.ConfirmedDonors = nil
	req.CreatedAt = now
	req.UpdatedAt = now

	st := &requestState{
		req:       req,
		reserved:  make(map[string]struct{}),
		confirmed: make(map[string]struct{}),
	}
	opened := m.event(st, model.EventRequestStatusChanged, "", model.StatusOpen)
	snap := st.snapshot()

	m.mu.Lock()
	if _, exists := m.requests[req.ID]; exists {
		m.mu.Unlock()
		return model.BloodRequest{}, fmt.Errorf("%w: duplicate request id %s", matchingerrors.ErrInvalidRequestParameters, req.ID)
	}
	m.requests[req.ID] = st
	m.mu.Unlock()

	m.publisher.Publish(opened)
	return snap, nil
}

func (m *Manager) Get(requestID string) (model.BloodRequest, error) {
	st, err := m.lookup(requestID)
	if err != nil {
		return model.BloodRequest{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot(), nil
}

// BeginMatching moves an Open request to Matching. Other states are left as
// they are; terminal requests are rejected.
func (m *Manager) BeginMatching(requestID string) (model.BloodRequest, error) {
	st, err := m.lookup(requestID)
	if err != nil {
		return model.BloodRequest{}, err
	}

	st.mu.Lock()
	if st.req.Status.IsTerminal() {
		status := st.req.Status
		st.mu.Unlock()
		return model.BloodRequest{}, fmt.Errorf("%w: request %s is %s", matchingerrors.ErrRequestNotAcceptingMatches, requestID, status)
	}
	var pending []model.Event
	if st.req.Status == model.StatusOpen {
		pending = append(pending, m.setStatus(st, model.StatusMatching)...)
	}
	snap := st.snapshot()
	st.mu.Unlock()

	m.publisher.Publish(pending...)
	return snap, nil
}

// Reserve atomically holds donorID against requestID if the request still has
// capacity and the donor is not held by any request.
func (m *Manager) Reserve(requestID, donorID string) (Outcome, error) {
	st, err := m.lookup(requestID)
	if err != nil {
		return NotAcceptingMatches, err
	}

	st.mu.Lock()
	if _, mine := st.reserved[donorID]; mine {
		st.mu.Unlock()
		return AlreadyReserved, nil
	}
	if !st.req.Status.AcceptsMatches() || len(st.reserved) >= st.req.UnitsNeeded {
		st.mu.Unlock()
		return NotAcceptingMatches, nil
	}
	if holder, ok := m.registry.claim(donorID, requestID); !ok {
		st.mu.Unlock()
		m.log.Debug("Donor already reserved elsewhere", "donor_id", donorID, "request_id", requestID, "holder", holder)
		return AlreadyReserved, nil
	}

	st.reserved[donorID] = struct{}{}
	pending := []model.Event{m.event(st, model.EventDonorReserved, donorID, st.req.Status)}
	next := model.StatusPartiallyMatched
	if len(st.reserved) >= st.req.UnitsNeeded {
		next = model.StatusMatched
	}
	pending = append(pending, m.setStatus(st, next)...)
	pending[0].Status = next
	st.mu.Unlock()

	m.publisher.Publish(pending...)
	return Reserved, nil
}

// Release frees a reserved donor, e.g. after a decline. The request falls
// back to PartiallyMatched, or Matching once no donor is left.
func (m *Manager) Release(requestID, donorID string) error {
	st, err := m.lookup(requestID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.req.Status.IsTerminal() {
		status := st.req.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: request %s is %s", matchingerrors.ErrInvalidTransition, requestID, status)
	}
	if _, ok := st.reserved[donorID]; !ok {
		st.mu.Unlock()
		return fmt.Errorf("%w: donor %s, request %s", matchingerrors.ErrDonorNotReserved, donorID, requestID)
	}
	if _, done := st.confirmed[donorID]; done {
		st.mu.Unlock()
		return fmt.Errorf("%w: donor %s already donated for request %s", matchingerrors.ErrInvalidTransition, donorID, requestID)
	}

	delete(st.reserved, donorID)
	m.registry.release(donorID, requestID)

	next := model.StatusPartiallyMatched
	if len(st.reserved) == 0 {
		next = model.StatusMatching
	}
	pending := []model.Event{m.event(st, model.EventDonorReleased, donorID, next)}
	pending = append(pending, m.setStatus(st, next)...)
	st.mu.Unlock()

	m.publisher.Publish(pending...)
	return nil
}

func (m *Manager) Expire(requestID string) error {
	return m.terminate(requestID, model.StatusExpired)
}

func (m *Manager) Cancel(requestID string) error {
	return m.terminate(requestID, model.StatusCancelled)
}

// ConfirmDonation records that a reserved donor gave blood. The request is
// fulfilled once every needed unit is confirmed. Repeating it is a no-op.
func (m *Manager) ConfirmDonation(requestID, donorID string) error {
	st, err := m.lookup(requestID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if _, done := st.confirmed[donorID]; done {
		st.mu.Unlock()
		return nil
	}
	if st.req.Status.IsTerminal() {
		status := st.req.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: request %s is %s", matchingerrors.ErrInvalidTransition, requestID, status)
	}
	if _, ok := st.reserved[donorID]; !ok {
		st.mu.Unlock()
		return fmt.Errorf("%w: donor %s, request %s", matchingerrors.ErrDonorNotReserved, donorID, requestID)
	}

	st.confirmed[donorID] = struct{}{}
	pending := []model.Event{m.event(st, model.EventDonationRecorded, donorID, st.req.Status)}
	if len(st.confirmed) >= st.req.UnitsNeeded {
		pending = append(pending, m.finish(st, model.StatusFulfilled)...)
	}
	st.mu.Unlock()

	m.publisher.Publish(pending...)
	return nil
}

// Fulfill closes a request on the requester's confirmation. Every reserved
// donor not yet confirmed is recorded as having donated.
func (m *Manager) Fulfill(requestID string) error {
	st, err := m.lookup(requestID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.req.Status != model.StatusMatched && st.req.Status != model.StatusPartiallyMatched {
		status := st.req.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: cannot fulfill request %s in status %s", matchingerrors.ErrInvalidTransition, requestID, status)
	}

	var pending []model.Event
	for _, donorID := range sortedKeys(st.reserved) {
		if _, done := st.confirmed[donorID]; done {
			continue
		}
		st.confirmed[donorID] = struct{}{}
		pending = append(pending, m.event(st, model.EventDonationRecorded, donorID, model.StatusFulfilled))
	}
	pending = append(pending, m.finish(st, model.StatusFulfilled)...)
	st.mu.Unlock()

	m.publisher.Publish(pending...)
	return nil
}

// HolderOf returns the request currently holding donorID.
func (m *Manager) HolderOf(donorID string) (string, bool) {
	return m.registry.holder(donorID)
}

// ActiveReservations counts donors currently held across all requests.
func (m *Manager) ActiveReservations() int {
	return m.registry.size()
}

// ExpireOverdue expires every non-terminal request whose deadline is not
// after now and returns their ids.
func (m *Manager) ExpireOverdue(now time.Time) []string {
	m.mu.RLock()
	candidates := make([]string, 0)
	for id, st := range m.requests {
		st.mu.Lock()
		overdue := !st.req.Status.IsTerminal() && st.req.ExpiresAt != nil && !st.req.ExpiresAt.After(now)
		st.mu.Unlock()
		if overdue {
			candidates = append(candidates, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(candidates)
	expired := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if err := m.Expire(id); err != nil {
			// lost a race with cancel/fulfil; nothing to do
			m.log.Debug("Overdue request not expired", "request_id", id, "error", err)
			continue
		}
		expired = append(expired, id)
	}
	return expired
}

// PruneTerminal forgets terminal requests whose last change is before cutoff
// and returns their ids. Their registry entries were released on the terminal
// transition; later lookups report ErrRequestNotFound.
func (m *Manager) PruneTerminal(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := make([]string, 0)
	for id, st := range m.requests {
		st.mu.Lock()
		stale := st.req.Status.IsTerminal() && st.req.UpdatedAt.Before(cutoff)
		st.mu.Unlock()
		if stale {
			delete(m.requests, id)
			pruned = append(pruned, id)
		}
	}
	sort.Strings(pruned)
	return pruned
}

// Counts returns the number of requests per status.
func (m *Manager) Counts() map[model.RequestStatus]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[model.RequestStatus]int)
	for _, st := range m.requests {
		st.mu.Lock()
		counts[st.req.Status]++
		st.mu.Unlock()
	}
	return counts
}

func (m *Manager) terminate(requestID string, target model.RequestStatus) error {
	st, err := m.lookup(requestID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.req.Status.IsTerminal() {
		status := st.req.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: request %s is already %s", matchingerrors.ErrInvalidTransition, requestID, status)
	}
	pending := m.finish(st, target)
	st.mu.Unlock()

	m.publisher.Publish(pending...)
	return nil
}

// finish moves st to a terminal status and gives every held donor back to the
// registry. Must be called while holding st.mu.
func (m *Manager) finish(st *requestState, target model.RequestStatus) []model.Event {
	var pending []model.Event
	for _, donorID := range sortedKeys(st.reserved) {
		m.registry.release(donorID, st.req.ID)
		if _, donated := st.confirmed[donorID]; !donated {
			pending = append(pending, m.event(st, model.EventDonorReleased, donorID, target))
		}
	}
	st.reserved = make(map[string]struct{})
	return append(pending, m.setStatus(st, target)...)
}

// setStatus applies a transition and returns the matching event, if any.
// Must be called while holding st.mu.
func (m *Manager) setStatus(st *requestState, next model.RequestStatus) []model.Event {
	if st.req.Status == next {
		return nil
	}
	st.req.Status = next
	st.req.UpdatedAt = m.now()
	return []model.Event{m.event(st, model.EventRequestStatusChanged, "", next)}
}

func (m *Manager) lookup(requestID string) (*requestState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", matchingerrors.ErrRequestNotFound, requestID)
	}
	return st, nil
}

// event stamps the next per-request sequence number. Must be called while
// holding st.mu, or before st is shared.
func (m *Manager) event(st *requestState, t model.EventType, donorID string, status model.RequestStatus) model.Event {
	st.seq++
	return model.Event{
		ID:        uuid.NewString(),
		Type:      t,
		RequestID: st.req.ID,
		Sequence:  st.seq,
		DonorID:   donorID,
		Status:    status,
		Timestamp: m.now(),
	}
}

// Must be called while holding st.mu.
func (st *requestState) snapshot() model.BloodRequest {
	snap := st.req
	snap.ReservedDonors = sortedKeys(st.reserved)
	if len(st.confirmed) > 0 {
		snap.ConfirmedDonors = sortedKeys(st.confirmed)
	}
	if st.req.ExpiresAt != nil {
		expires := *st.req.ExpiresAt
		snap.ExpiresAt = &expires
	}
	return snap
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
