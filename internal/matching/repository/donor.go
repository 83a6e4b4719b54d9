// Package repository persists donor snapshots in MongoDB so the directory
// and location index can be rebuilt after a restart.
package repository

import (
	"context"
	"fmt"
	"time"

	"bloodmatch/pkg/config"
	"bloodmatch/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// donorCollection is the subset of *mongo.Collection the repository uses.
type donorCollection interface {
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

type donorDocument struct {
	ID             string         `bson:"_id"`
	BloodType      string         `bson:"blood_type"`
	Position       model.Position `bson:"position"`
	Verified       bool           `bson:"verified"`
	Active         bool           `bson:"active"`
	LastDonationAt *time.Time     `bson:"last_donation_at,omitempty"`
	RegisteredAt   time.Time      `bson:"registered_at"`
	UpdatedAt      time.Time      `bson:"updated_at"`
}

type MongoDonorRepository struct {
	collection   donorCollection
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewMongoDonorRepository(cfg *config.Config) *MongoDonorRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &MongoDonorRepository{
		collection:   db.Collection(cfg.MongoDonorsCollection),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// withTimeout keeps the caller's deadline when it is shorter.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Save upserts the full donor snapshot.
func (r *MongoDonorRepository) Save(ctx context.Context, donor model.Donor) error {
	ctx, cancel := withTimeout(ctx, r.writeTimeout)
	defer cancel()

	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": donor.ID},
		toDocument(donor),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save donor %s: %w", donor.ID, err)
	}
	return nil
}

func (r *MongoDonorRepository) LoadAll(ctx context.Context) ([]model.Donor, error) {
	ctx, cancel := withTimeout(ctx, r.readTimeout)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query donors: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []donorDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode donors: %w", err)
	}

	donors := make([]model.Donor, 0, len(docs))
	for _, doc := range docs {
		donor, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		donors = append(donors, donor)
	}
	return donors, nil
}

func toDocument(donor model.Donor) donorDocument {
	return donorDocument{
		ID:             donor.ID,
		BloodType:      donor.BloodType.String(),
		Position:       donor.Position,
		Verified:       donor.Verified,
		Active:         donor.Active,
		LastDonationAt: donor.LastDonationAt,
		RegisteredAt:   donor.RegisteredAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:      donor.UpdatedAt.UTC().Truncate(time.Millisecond),
	}
}

func fromDocument(doc donorDocument) (model.Donor, error) {
	bloodType, err := model.ParseBloodType(doc.BloodType)
	if err != nil {
		return model.Donor{}, fmt.Errorf("donor %s: %w", doc.ID, err)
	}
	return model.Donor{
		ID:             doc.ID,
		BloodType:      bloodType,
		Position:       doc.Position,
		Verified:       doc.Verified,
		Active:         doc.Active,
		LastDonationAt: doc.LastDonationAt,
		RegisteredAt:   doc.RegisteredAt,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}
