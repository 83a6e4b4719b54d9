package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"bloodmatch/internal/matching/donors"
	"bloodmatch/internal/matching/index"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ donors.Store = (*MongoDonorRepository)(nil)

// memoryCollection keeps replaced documents by _id.
type memoryCollection struct {
	docs    map[string]donorDocument
	order   []string
	findErr error
	upserts int
}

func newMemoryCollection() *memoryCollection {
	return &memoryCollection{docs: make(map[string]donorDocument)}
}

func (c *memoryCollection) ReplaceOne(_ context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	id := filter.(bson.M)["_id"].(string)
	doc := replacement.(donorDocument)
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	for _, opt := range opts {
		if opt.Upsert != nil && *opt.Upsert {
			c.upserts++
		}
	}
	c.docs[id] = doc
	return &mongo.UpdateResult{MatchedCount: 1}, nil
}

func (c *memoryCollection) Find(context.Context, any, ...*options.FindOptions) (*mongo.Cursor, error) {
	if c.findErr != nil {
		return nil, c.findErr
	}
	docs := make([]any, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, c.docs[id])
	}
	return mongo.NewCursorFromDocuments(docs, nil, nil)
}

func newTestRepository(coll donorCollection) *MongoDonorRepository {
	return &MongoDonorRepository{collection: coll, readTimeout: time.Second, writeTimeout: time.Second}
}

func TestSaveAndLoadAll(t *testing.T) {
	coll := newMemoryCollection()
	repo := newTestRepository(coll)
	ctx := context.Background()

	donated := time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)
	registered := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := model.Donor{
		ID:             "d1",
		BloodType:      model.ABNeg,
		Position:       model.Position{Latitude: 32.1, Longitude: 34.8},
		Verified:       true,
		Active:         true,
		LastDonationAt: &donated,
		RegisteredAt:   registered,
		UpdatedAt:      registered,
	}
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, model.Donor{ID: "d2", BloodType: model.OPos, RegisteredAt: registered, UpdatedAt: registered}))

	first.Active = false
	require.NoError(t, repo.Save(ctx, first))

	assert.Equal(t, 3, coll.upserts)
	assert.Equal(t, "AB-", coll.docs["d1"].BloodType)

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "d1", loaded[0].ID)
	assert.Equal(t, model.ABNeg, loaded[0].BloodType)
	assert.False(t, loaded[0].Active)
	require.NotNil(t, loaded[0].LastDonationAt)
	assert.True(t, donated.Equal(*loaded[0].LastDonationAt))
	assert.InDelta(t, 32.1, loaded[0].Position.Latitude, 1e-9)

	assert.Equal(t, model.OPos, loaded[1].BloodType)
	assert.Nil(t, loaded[1].LastDonationAt)
}

func TestLoadAllRejectsUnknownBloodType(t *testing.T) {
	coll := newMemoryCollection()
	coll.docs["bad"] = donorDocument{ID: "bad", BloodType: "Z"}
	coll.order = []string{"bad"}

	_, err := newTestRepository(coll).LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestLoadAllPropagatesQueryError(t *testing.T) {
	coll := newMemoryCollection()
	coll.findErr = errors.New("server selection timeout")

	_, err := newTestRepository(coll).LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query donors")
}

func TestDirectoryRestoresFromRepository(t *testing.T) {
	coll := newMemoryCollection()
	repo := newTestRepository(coll)
	ctx := context.Background()

	grid := index.NewGrid(index.DefaultCellSizeDegrees)
	source := donors.NewDirectory(grid, logger.Discard(), donors.WithStore(repo))
	_, err := source.Register(ctx, model.Donor{ID: "a", BloodType: model.BPos, Position: model.Position{Latitude: 1, Longitude: 1}, Verified: true, Active: true})
	require.NoError(t, err)
	_, err = source.Register(ctx, model.Donor{ID: "b", BloodType: model.BNeg, Position: model.Position{Latitude: 1, Longitude: 1}})
	require.NoError(t, err)

	restoredGrid := index.NewGrid(index.DefaultCellSizeDegrees)
	restored := donors.NewDirectory(restoredGrid, logger.Discard(), donors.WithStore(repo))
	n, err := restored.Restore(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, restoredGrid.Len(), "only the active donor is indexed")
	donor, ok := restored.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, model.BPos, donor.BloodType)
}
