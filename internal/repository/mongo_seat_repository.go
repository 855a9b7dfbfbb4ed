package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/iliyamo/seatgrid/internal/model"
)

// seatDocument is the persistence model of a seat in the seats collection.
// Hold fields are stored as explicit nulls when the seat is not held.
type seatDocument struct {
	ID            string     `bson:"_id"`
	Row           int        `bson:"row"`
	Col           int        `bson:"col"`
	Status        string     `bson:"status"`
	HeldBy        *string    `bson:"heldBy"`
	HoldExpiresAt *time.Time `bson:"holdExpiresAt"`
	Version       int64      `bson:"version"`
	Layout        int64      `bson:"layout"`
}

func (d seatDocument) seat() model.Seat {
	s := model.Seat{
		ID:      d.ID,
		Row:     d.Row,
		Col:     d.Col,
		Status:  model.Status(d.Status),
		HeldBy:  d.HeldBy,
		Version: d.Version,
		Layout:  d.Layout,
	}
	if d.HoldExpiresAt != nil {
		t := d.HoldExpiresAt.UTC()
		s.HoldExpiresAt = &t
	}
	return s
}

func newSeatDocument(s model.Seat) seatDocument {
	return seatDocument{
		ID:            s.ID,
		Row:           s.Row,
		Col:           s.Col,
		Status:        string(s.Status),
		HeldBy:        s.HeldBy,
		HoldExpiresAt: s.HoldExpiresAt,
		Version:       s.Version,
		Layout:        s.Layout,
	}
}

// MongoSeatRepo stores seats in a MongoDB collection and relies on
// findOneAndUpdate for per-document compare-and-swap.  It deliberately
// does not implement BatchSeatStore: multi-document transactions need a
// replica set, so multi-seat bookings on this store go through the
// engine's compensation path instead.
type MongoSeatRepo struct {
	coll *mongo.Collection
}

// NewMongoSeatRepo returns a MongoSeatRepo bound to the given collection.
func NewMongoSeatRepo(coll *mongo.Collection) *MongoSeatRepo {
	return &MongoSeatRepo{coll: coll}
}

// EnsureIndexes creates the indexes used by the expiry scan and the
// holder lookup.  It is idempotent.
func (r *MongoSeatRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "holdExpiresAt", Value: 1}}},
		{Keys: bson.D{{Key: "heldBy", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create seat indexes: %w", err)
	}
	return nil
}

// Ping verifies the primary is reachable.
func (r *MongoSeatRepo) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, readpref.Primary())
}

// ReplaceAll removes every seat document and inserts the new layout.
// Without a transaction readers may briefly see an empty collection.  When
// the insert fails the previous layout is written back, so a failed reset
// leaves the old seats in place.
func (r *MongoSeatRepo) ReplaceAll(ctx context.Context, seats []model.Seat) error {
	previous, err := r.List(ctx)
	if err != nil {
		return err
	}
	if err := r.overwrite(ctx, seats); err != nil {
		if rerr := r.overwrite(context.WithoutCancel(ctx), previous); rerr != nil {
			return errors.Join(err, fmt.Errorf("restore previous layout: %w", rerr))
		}
		return err
	}
	return nil
}

func (r *MongoSeatRepo) overwrite(ctx context.Context, seats []model.Seat) error {
	if _, err := r.coll.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("delete seats: %w", err)
	}
	if len(seats) == 0 {
		return nil
	}
	docs := make([]any, 0, len(seats))
	for _, s := range seats {
		docs = append(docs, newSeatDocument(s))
	}
	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert seats: %w", err)
	}
	return nil
}

// List returns every seat in row-major order.
func (r *MongoSeatRepo) List(ctx context.Context) ([]model.Seat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "row", Value: 1}, {Key: "col", Value: 1}})
	return r.find(ctx, bson.D{}, opts)
}

// ListByHolder returns the seats currently held by userID.
func (r *MongoSeatRepo) ListByHolder(ctx context.Context, userID string) ([]model.Seat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "row", Value: 1}, {Key: "col", Value: 1}})
	return r.find(ctx, bson.D{{Key: "heldBy", Value: userID}}, opts)
}

// ListExpired returns held seats whose expiry is at or before now.
func (r *MongoSeatRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Seat, error) {
	filter := bson.D{
		{Key: "status", Value: string(model.StatusHeld)},
		{Key: "holdExpiresAt", Value: bson.M{"$lte": now.UTC()}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "holdExpiresAt", Value: 1}}).
		SetLimit(int64(limit))
	return r.find(ctx, filter, opts)
}

// Get returns the seat with the given id or ErrNotFound.
func (r *MongoSeatRepo) Get(ctx context.Context, id string) (model.Seat, error) {
	var doc seatDocument
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Seat{}, ErrNotFound
	}
	if err != nil {
		return model.Seat{}, fmt.Errorf("get seat %s: %w", id, err)
	}
	return doc.seat(), nil
}

// UpdateIf applies eff to the seat with findOneAndUpdate, using the
// precondition as the filter.  No matching document means ok=false.
func (r *MongoSeatRepo) UpdateIf(ctx context.Context, id string, pre Precondition, eff Effect) (model.Seat, bool, error) {
	if err := eff.Validate(); err != nil {
		return model.Seat{}, false, err
	}
	heldBy, expires := eff.hold()
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(eff.Status)},
			{Key: "heldBy", Value: heldBy},
			{Key: "holdExpiresAt", Value: expires},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc seatDocument
	err := r.coll.FindOneAndUpdate(ctx, preconditionFilter(id, pre), update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Seat{}, false, nil
	}
	if err != nil {
		return model.Seat{}, false, fmt.Errorf("update seat %s: %w", id, err)
	}
	return doc.seat(), true, nil
}

// preconditionFilter translates a Precondition into a document filter.
func preconditionFilter(id string, pre Precondition) bson.D {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: string(pre.Status)},
	}
	if pre.HeldBy != "" {
		filter = append(filter, bson.E{Key: "heldBy", Value: pre.HeldBy})
	}
	if pre.Version != 0 {
		filter = append(filter, bson.E{Key: "version", Value: pre.Version})
	}
	expiry := bson.M{}
	if !pre.ExpiredBy.IsZero() {
		expiry["$lte"] = pre.ExpiredBy.UTC()
	}
	if !pre.LiveAt.IsZero() {
		expiry["$gt"] = pre.LiveAt.UTC()
	}
	if len(expiry) > 0 {
		filter = append(filter, bson.E{Key: "holdExpiresAt", Value: expiry})
	}
	return filter
}

func (r *MongoSeatRepo) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]model.Seat, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find seats: %w", err)
	}
	var docs []seatDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode seats: %w", err)
	}
	seats := make([]model.Seat, 0, len(docs))
	for _, d := range docs {
		seats = append(seats, d.seat())
	}
	return seats, nil
}
