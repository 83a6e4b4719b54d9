// Package donors keeps the authoritative in-process donor records and keeps
// the location index in step with them.
package donors

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	matchingerrors "bloodmatch/internal/matching/errors"
	"bloodmatch/internal/matching/index"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"
)

// Store persists donor snapshots. The directory writes through to it and
// reads it back on start-up.
type Store interface {
	Save(ctx context.Context, donor model.Donor) error
	LoadAll(ctx context.Context) ([]model.Donor, error)
}

// Directory holds donor attributes. A donor is present in the index exactly
// while it is active.
type Directory struct {
	mu      sync.RWMutex
	donors  map[string]model.Donor
	writers map[string]*writer
	index   *index.Grid
	store   Store
	log     *logger.Logger
	now     func() time.Time
}

// writer orders store writes for one donor. version is bumped under
// Directory.mu on every change; saved is the newest version written.
type writer struct {
	mu      sync.Mutex
	version uint64
	saved   uint64
}

type Option func(*Directory)

func WithStore(store Store) Option {
	return func(d *Directory) { d.store = store }
}

func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

func NewDirectory(grid *index.Grid, log *logger.Logger, opts ...Option) *Directory {
	d := &Directory{
		donors:  make(map[string]model.Donor),
		writers: make(map[string]*writer),
		index:   grid,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) Register(ctx context.Context, donor model.Donor) (model.Donor, error) {
	if donor.ID == "" || !donor.BloodType.Valid() || !donor.Position.Valid() {
		return model.Donor{}, fmt.Errorf("%w: donor id=%q blood_type=%s", matchingerrors.ErrInvalidRequestParameters, donor.ID, donor.BloodType)
	}

	now := d.now()
	donor.RegisteredAt = now
	donor.UpdatedAt = now

	d.mu.Lock()
	if _, exists := d.donors[donor.ID]; exists {
		d.mu.Unlock()
		return model.Donor{}, fmt.Errorf("%w: %s", matchingerrors.ErrDonorAlreadyExists, donor.ID)
	}
	d.donors[donor.ID] = donor
	d.syncIndex(donor)
	w, version := d.bump(donor.ID)
	d.mu.Unlock()

	d.persist(ctx, w, version, donor)
	return donor, nil
}

// Lookup is the allocator's read path.
func (d *Directory) Lookup(donorID string) (model.Donor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	donor, ok := d.donors[donorID]
	return donor, ok
}

func (d *Directory) Get(donorID string) (model.Donor, error) {
	donor, ok := d.Lookup(donorID)
	if !ok {
		return model.Donor{}, fmt.Errorf("%w: %s", matchingerrors.ErrDonorNotFound, donorID)
	}
	return donor, nil
}

func (d *Directory) UpdateLocation(ctx context.Context, donorID string, pos model.Position) (model.Donor, error) {
	if !pos.Valid() {
		return model.Donor{}, fmt.Errorf("%w: position %.6f,%.6f", matchingerrors.ErrInvalidRequestParameters, pos.Latitude, pos.Longitude)
	}
	return d.update(ctx, donorID, func(donor *model.Donor) {
		donor.Position = pos
	})
}

func (d *Directory) SetEligibility(ctx context.Context, donorID string, verified, active bool) (model.Donor, error) {
	return d.update(ctx, donorID, func(donor *model.Donor) {
		donor.Verified = verified
		donor.Active = active
	})
}

// Deactivate is a soft delete: the record stays, the donor leaves the index.
func (d *Directory) Deactivate(ctx context.Context, donorID string) (model.Donor, error) {
	return d.update(ctx, donorID, func(donor *model.Donor) {
		donor.Active = false
	})
}

// RecordDonation moves LastDonationAt forward; older timestamps are ignored.
func (d *Directory) RecordDonation(ctx context.Context, donorID string, at time.Time) (model.Donor, error) {
	return d.update(ctx, donorID, func(donor *model.Donor) {
		if donor.LastDonationAt != nil && !at.After(*donor.LastDonationAt) {
			return
		}
		donation := at
		donor.LastDonationAt = &donation
	})
}

// HandleEvent applies donation_recorded events to the donor record.
func (d *Directory) HandleEvent(ctx context.Context, event model.Event) error {
	if event.Type != model.EventDonationRecorded {
		return nil
	}
	_, err := d.RecordDonation(ctx, event.DonorID, event.Timestamp)
	return err
}

// Restore loads every stored donor into memory and the index. Records
// already present are overwritten.
func (d *Directory) Restore(ctx context.Context) (int, error) {
	if d.store == nil {
		return 0, nil
	}
	stored, err := d.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load donors: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, donor := range stored {
		if !donor.BloodType.Valid() || !donor.Position.Valid() {
			d.log.Warn("Skipping invalid stored donor", "donor_id", donor.ID)
			continue
		}
		d.donors[donor.ID] = donor
		d.syncIndex(donor)
	}
	return len(d.donors), nil
}

// List returns donors ordered by id.
func (d *Directory) List() []model.Donor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Donor, 0, len(d.donors))
	for _, donor := range d.donors {
		out = append(out, donor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) update(ctx context.Context, donorID string, apply func(*model.Donor)) (model.Donor, error) {
	d.mu.Lock()
	donor, ok := d.donors[donorID]
	if !ok {
		d.mu.Unlock()
		return model.Donor{}, fmt.Errorf("%w: %s", matchingerrors.ErrDonorNotFound, donorID)
	}
	apply(&donor)
	donor.UpdatedAt = d.now()
	d.donors[donorID] = donor
	d.syncIndex(donor)
	w, version := d.bump(donorID)
	d.mu.Unlock()

	d.persist(ctx, w, version, donor)
	return donor, nil
}

// Must be called while holding d.mu.
func (d *Directory) syncIndex(donor model.Donor) {
	if donor.Active {
		d.index.Upsert(donor.ID, donor.Position)
		return
	}
	d.index.Remove(donor.ID)
}

// bump returns the donor's writer and the version of the change just applied.
// Must be called while holding d.mu.
func (d *Directory) bump(donorID string) (*writer, uint64) {
	w, ok := d.writers[donorID]
	if !ok {
		w = &writer{}
		d.writers[donorID] = w
	}
	w.version++
	return w, w.version
}

// persist is best effort; memory stays authoritative when the store fails.
// Writes for one donor are serialised and a snapshot older than one already
// stored is skipped, so the store never moves backwards.
func (d *Directory) persist(ctx context.Context, w *writer, version uint64, donor model.Donor) {
	if d.store == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if version <= w.saved {
		d.log.Debug("Skipping stale donor snapshot", "donor_id", donor.ID, "version", version, "saved", w.saved)
		return
	}
	if err := d.store.Save(ctx, donor); err != nil {
		d.log.Error("Failed to persist donor snapshot", "donor_id", donor.ID, "error", err)
		return
	}
	w.saved = version
}
