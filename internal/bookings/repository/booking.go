package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	bookingserrors "swimbook/internal/bookings/errors"
	"swimbook/pkg/config"
	"swimbook/pkg/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Bookings"
)

// BookingRepository is the booking ledger. Bookings are never deleted; every
// lifecycle change is a conditional status update that appends to the history.
type BookingRepository interface {
	Insert(ctx context.Context, booking *model.Booking) error
	FindByID(ctx context.Context, id string) (*model.Booking, error)
	// Stream yields the session's bookings ordered by booked_at then id. Each
	// call re-queries, so the sequence can be ranged over more than once.
	Stream(ctx context.Context, sessionID string, statuses ...model.BookingStatus) iter.Seq2[*model.Booking, error]
	FindBySession(ctx context.Context, sessionID string, statuses []model.BookingStatus, limit int, offset int64) ([]*model.Booking, error)
	CountBySession(ctx context.Context, sessionID string, statuses []model.BookingStatus) (int64, error)
	FindByMember(ctx context.Context, memberID string, limit int, offset int64) ([]*model.Booking, error)
	CountByMember(ctx context.Context, memberID string) (int64, error)
	UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus, at time.Time) (*model.Booking, error)
	// SumActiveSpots totals num_spots of bookings holding capacity. With asOf
	// set, each booking's status at that instant is taken from its history.
	SumActiveSpots(ctx context.Context, sessionID string, asOf *time.Time) (int, error)
}

type mongoBookingRepository struct {
	cfg        *config.Config
	db         *mongo.Database
	collection *mongo.Collection
}

func NewMongoBookingRepository(cfg *config.Config) BookingRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoBookingRepository{
		cfg:        cfg,
		db:         db,
		collection: db.Collection(CollectionName),
	}
}

// withTimeout wraps the context with a timeout if not already in a transaction.
// Inside a transaction the SessionContext is returned unchanged, the transaction
// owner bounds its lifetime.
func (r *mongoBookingRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if mongo.SessionFromContext(ctx) != nil {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *mongoBookingRepository) Insert(ctx context.Context, booking *model.Booking) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.collection.InsertOne(ctx, booking)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		booking.ID = oid.Hex()
	}
	return nil
}

func (r *mongoBookingRepository) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}

	var booking model.Booking
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, bookingserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}

	return &booking, nil
}

func (r *mongoBookingRepository) Stream(ctx context.Context, sessionID string, statuses ...model.BookingStatus) iter.Seq2[*model.Booking, error] {
	return func(yield func(*model.Booking, error) bool) {
		opts := options.Find().SetSort(ledgerOrder)
		cursor, err := r.collection.Find(ctx, sessionFilter(sessionID, statuses), opts)
		if err != nil {
			yield(nil, fmt.Errorf("failed to stream bookings: %w", err))
			return
		}
		defer cursor.Close(context.WithoutCancel(ctx))

		for cursor.Next(ctx) {
			var booking model.Booking
			if err := cursor.Decode(&booking); err != nil {
				yield(nil, fmt.Errorf("failed to decode booking: %w", err))
				return
			}
			if !yield(&booking, nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to stream bookings: %w", err))
		}
	}
}

func (r *mongoBookingRepository) FindBySession(ctx context.Context, sessionID string, statuses []model.BookingStatus, limit int, offset int64) ([]*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(ledgerOrder).
		SetLimit(int64(limit)).
		SetSkip(offset)

	return r.find(ctx, sessionFilter(sessionID, statuses), opts)
}

func (r *mongoBookingRepository) CountBySession(ctx context.Context, sessionID string, statuses []model.BookingStatus) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, sessionFilter(sessionID, statuses))
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}

func (r *mongoBookingRepository) FindByMember(ctx context.Context, memberID string, limit int, offset int64) ([]*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "booked_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	return r.find(ctx, bson.M{"member_id": memberID}, opts)
}

func (r *mongoBookingRepository) CountByMember(ctx context.Context, memberID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{"member_id": memberID})
	if err != nil {
		return 0, fmt.Errorf("failed to count member bookings: %w", err)
	}
	return count, nil
}

func (r *mongoBookingRepository) UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus, at time.Time) (*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}

	set := bson.M{"status": to}
	switch to {
	case model.BookingCancelled:
		set["cancelled_at"] = at
	case model.BookingCheckedIn:
		set["checked_in_at"] = at
	}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"history": model.StatusChange{Status: to, At: at}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var booking model.Booking
	err = r.collection.FindOneAndUpdate(ctx, bson.M{"_id": objectID, "status": from}, update, opts).Decode(&booking)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to update booking status: %w", err)
		}
		exists, countErr := r.collection.CountDocuments(ctx, bson.M{"_id": objectID})
		if countErr != nil {
			return nil, fmt.Errorf("failed to update booking status: %w", countErr)
		}
		if exists == 0 {
			return nil, bookingserrors.ErrNotFound
		}
		return nil, bookingserrors.ErrStatusChanged
	}

	return &booking, nil
}

func (r *mongoBookingRepository) SumActiveSpots(ctx context.Context, sessionID string, asOf *time.Time) (int, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var pipeline mongo.Pipeline
	if asOf == nil {
		pipeline = mongo.Pipeline{
			{{Key: "$match", Value: sessionFilter(sessionID, model.ActiveStatuses)}},
			{{Key: "$group", Value: bson.M{"_id": nil, "reserved": bson.M{"$sum": "$num_spots"}}}},
		}
	} else {
		pipeline = mongo.Pipeline{
			{{Key: "$match", Value: bson.M{"session_id": sessionID, "booked_at": bson.M{"$lte": *asOf}}}},
			{{Key: "$set", Value: bson.M{"history_as_of": bson.M{"$filter": bson.M{
				"input": "$history",
				"as":    "change",
				"cond":  bson.M{"$lte": bson.A{"$$change.at", *asOf}},
			}}}}},
			{{Key: "$set", Value: bson.M{"status_at": bson.M{"$arrayElemAt": bson.A{"$history_as_of.status", -1}}}}},
			{{Key: "$match", Value: bson.M{"status_at": bson.M{"$in": model.ActiveStatuses}}}},
			{{Key: "$group", Value: bson.M{"_id": nil, "reserved": bson.M{"$sum": "$num_spots"}}}},
		}
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to sum active spots: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Reserved int `bson:"reserved"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode reserved total: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Reserved, nil
}

func (r *mongoBookingRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Booking, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []*model.Booking
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}
	return bookings, nil
}

var ledgerOrder = bson.D{{Key: "booked_at", Value: 1}, {Key: "_id", Value: 1}}

func sessionFilter(sessionID string, statuses []model.BookingStatus) bson.M {
	filter := bson.M{"session_id": sessionID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	return filter
}
