package donors

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	matchingerrors "bloodmatch/internal/matching/errors"
	"bloodmatch/internal/matching/index"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu       sync.Mutex
	saved    map[string]model.Donor
	saveErr  error
	loadFunc func(ctx context.Context) ([]model.Donor, error)
}

func (m *mockStore) Save(_ context.Context, donor model.Donor) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]model.Donor)
	}
	m.saved[donor.ID] = donor
	return nil
}

func (m *mockStore) LoadAll(ctx context.Context) ([]model.Donor, error) {
	if m.loadFunc != nil {
		return m.loadFunc(ctx)
	}
	return nil, nil
}

var tlv = model.Position{Latitude: 32.0853, Longitude: 34.7818}

func newDonor(id string) model.Donor {
	return model.Donor{
		ID:        id,
		BloodType: model.ONeg,
		Position:  tlv,
		Verified:  true,
		Active:    true,
	}
}

func newDirectory(opts ...Option) (*Directory, *index.Grid) {
	grid := index.NewGrid(index.DefaultCellSizeDegrees)
	return NewDirectory(grid, logger.Discard(), opts...), grid
}

func TestDirectory_Register(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	dir, grid := newDirectory(WithStore(store))

	donor, err := dir.Register(ctx, newDonor("d-1"))
	require.NoError(t, err)
	assert.False(t, donor.RegisteredAt.IsZero())
	assert.Equal(t, 1, grid.Len())
	assert.Contains(t, store.saved, "d-1")

	_, err = dir.Register(ctx, newDonor("d-1"))
	assert.ErrorIs(t, err, matchingerrors.ErrDonorAlreadyExists)

	inactive := newDonor("d-2")
	inactive.Active = false
	_, err = dir.Register(ctx, inactive)
	require.NoError(t, err)
	assert.Equal(t, 1, grid.Len())

	bad := newDonor("d-3")
	bad.BloodType = model.BloodTypeUnknown
	_, err = dir.Register(ctx, bad)
	assert.ErrorIs(t, err, matchingerrors.ErrInvalidRequestParameters)
}

func TestDirectory_UpdateLocationMovesIndexEntry(t *testing.T) {
	ctx := context.Background()
	dir, grid := newDirectory()
	_, err := dir.Register(ctx, newDonor("d-1"))
	require.NoError(t, err)

	haifa := model.Position{Latitude: 32.794, Longitude: 34.9896}
	_, err = dir.UpdateLocation(ctx, "d-1", haifa)
	require.NoError(t, err)

	assert.Empty(t, grid.QueryRadius(tlv, 1000))
	hits := grid.QueryRadius(haifa, 1000)
	require.Len(t, hits, 1)
	assert.Equal(t, "d-1", hits[0].DonorID)

	_, err = dir.UpdateLocation(ctx, "d-1", model.Position{Latitude: 100})
	assert.ErrorIs(t, err, matchingerrors.ErrInvalidRequestParameters)
	_, err = dir.UpdateLocation(ctx, "missing", haifa)
	assert.ErrorIs(t, err, matchingerrors.ErrDonorNotFound)
}

func TestDirectory_DeactivateAndReactivate(t *testing.T) {
	ctx := context.Background()
	dir, grid := newDirectory()
	_, err := dir.Register(ctx, newDonor("d-1"))
	require.NoError(t, err)

	donor, err := dir.Deactivate(ctx, "d-1")
	require.NoError(t, err)
	assert.False(t, donor.Active)
	assert.Equal(t, 0, grid.Len())

	got, err := dir.Get("d-1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = dir.SetEligibility(ctx, "d-1", true, true)
	require.NoError(t, err)
	assert.Equal(t, 1, grid.Len())
}

func TestDirectory_RecordDonation(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory()
	_, err := dir.Register(ctx, newDonor("d-1"))
	require.NoError(t, err)

	first := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, dir.HandleEvent(ctx, model.Event{Type: model.EventDonationRecorded, DonorID: "d-1", Timestamp: first}))

	_, err = dir.RecordDonation(ctx, "d-1", first.Add(-time.Hour))
	require.NoError(t, err)

	donor, err := dir.Get("d-1")
	require.NoError(t, err)
	require.NotNil(t, donor.LastDonationAt)
	assert.Equal(t, first, *donor.LastDonationAt)

	assert.NoError(t, dir.HandleEvent(ctx, model.Event{Type: model.EventDonorReserved, DonorID: "missing"}))
	assert.ErrorIs(t, dir.HandleEvent(ctx, model.Event{Type: model.EventDonationRecorded, DonorID: "missing"}), matchingerrors.ErrDonorNotFound)
}

func TestDirectory_Restore(t *testing.T) {
	inactive := newDonor("d-2")
	inactive.Active = false
	broken := newDonor("d-3")
	broken.Position.Latitude = 120

	store := &mockStore{loadFunc: func(context.Context) ([]model.Donor, error) {
		return []model.Donor{newDonor("d-1"), inactive, broken}, nil
	}}
	dir, grid := newDirectory(WithStore(store))

	n, err := dir.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, grid.Len())
	assert.Len(t, dir.List(), 2)

	failing := &mockStore{loadFunc: func(context.Context) ([]model.Donor, error) {
		return nil, errors.New("connection refused")
	}}
	dir, _ = newDirectory(WithStore(failing))
	_, err = dir.Restore(context.Background())
	assert.Error(t, err)
}

func TestDirectory_StoreFailureKeepsMemory(t *testing.T) {
	dir, _ := newDirectory(WithStore(&mockStore{saveErr: errors.New("write failed")}))

	_, err := dir.Register(context.Background(), newDonor("d-1"))
	require.NoError(t, err)
	_, ok := dir.Lookup("d-1")
	assert.True(t, ok)
}

// gatedStore holds the first Save until gate is closed.
type gatedStore struct {
	mockStore
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{entered: make(chan struct{}), gate: make(chan struct{})}
}

func (g *gatedStore) Save(ctx context.Context, donor model.Donor) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.gate
	}
	return g.mockStore.Save(ctx, donor)
}

func (g *gatedStore) stored(id string) model.Donor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saved[id]
}

func TestDirectory_ConcurrentUpdatesPersistNewestSnapshot(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory()
	_, err := dir.Register(ctx, newDonor("d-1"))
	require.NoError(t, err)

	store := newGatedStore()
	dir.store = store

	moved := model.Position{Latitude: 32.1, Longitude: 34.8}
	donated := time.Date(2026, 10, 17, 5, 16, 45, 0, time.UTC)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := dir.UpdateLocation(ctx, "d-1", moved)
		assert.NoError(t, err)
	}()
	<-store.entered

	go func() {
		defer wg.Done()
		_, err := dir.RecordDonation(ctx, "d-1", donated)
		assert.NoError(t, err)
	}()
	assert.Eventually(t, func() bool {
		donor, _ := dir.Lookup("d-1")
		return donor.LastDonationAt != nil
	}, time.Second, time.Millisecond)

	close(store.gate)
	wg.Wait()

	stored := store.stored("d-1")
	require.NotNil(t, stored.LastDonationAt)
	assert.True(t, donated.Equal(*stored.LastDonationAt))
	assert.Equal(t, moved, stored.Position)
}

func TestDirectory_PersistSkipsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	dir, _ := newDirectory(WithStore(store))
	_, err := dir.Register(ctx, newDonor("d-1"))
	require.NoError(t, err)

	donated := time.Date(2026, 10, 17, 5, 0, 0, 0, time.UTC)
	_, err = dir.RecordDonation(ctx, "d-1", donated)
	require.NoError(t, err)

	// a version-1 snapshot arriving after version 2 was stored
	stale := newDonor("d-1")
	dir.persist(ctx, dir.writers["d-1"], 1, stale)

	require.NotNil(t, store.saved["d-1"].LastDonationAt)
	assert.True(t, donated.Equal(*store.saved["d-1"].LastDonationAt))
}
