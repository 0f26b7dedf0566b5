package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	sessionserrors "swimbook/internal/sessions/errors"
	"swimbook/pkg/config"
	"swimbook/pkg/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Sessions"
)

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindAll(ctx context.Context, filter model.SessionFilter, limit int, offset int64) ([]*model.Session, error)
	FindByStartTime(ctx context.Context, start time.Time) ([]*model.Session, error)
	Count(ctx context.Context, filter model.SessionFilter) (int64, error)
	Update(ctx context.Context, id string, session *model.Session) error
	SetStatus(ctx context.Context, id string, from, to model.SessionStatus, at time.Time) (*model.Session, error)
	// Fence bumps the session's version and returns the updated document.
	// Inside a transaction this makes concurrent writers to the same session
	// conflict, so whatever the transaction reads afterwards stays current
	// until commit.
	Fence(ctx context.Context, id string) (*model.Session, error)
}

type mongoSessionRepository struct {
	cfg        *config.Config
	db         *mongo.Database
	collection *mongo.Collection
}

func NewMongoSessionRepository(cfg *config.Config) SessionRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoSessionRepository{
		cfg:        cfg,
		db:         db,
		collection: db.Collection(CollectionName),
	}
}

// withTimeout wraps the context with a timeout if not already in a transaction.
func (r *mongoSessionRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
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

func (r *mongoSessionRepository) Create(ctx context.Context, session *model.Session) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	session.ID = ""
	session.TitleKey = session.SlotKey()
	result, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return sessionserrors.ErrDuplicate
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		session.ID = oid.Hex()
	}
	return nil
}

func (r *mongoSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", sessionserrors.ErrInvalidID, id)
	}

	var session model.Session
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, sessionserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return &session, nil
}

func (r *mongoSessionRepository) FindAll(ctx context.Context, filter model.SessionFilter, limit int, offset int64) ([]*model.Session, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	return r.find(ctx, listFilter(filter), opts)
}

func (r *mongoSessionRepository) FindByStartTime(ctx context.Context, start time.Time) ([]*model.Session, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	return r.find(ctx, bson.M{"start_time": start}, options.Find())
}

func (r *mongoSessionRepository) Count(ctx context.Context, filter model.SessionFilter) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, listFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	return count, nil
}

func (r *mongoSessionRepository) Update(ctx context.Context, id string, session *model.Session) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", sessionserrors.ErrInvalidID, id)
	}

	set := bson.M{
		"title":       session.Title,
		"description": session.Description,
		"location":    session.Location,
		"instructor":  session.Instructor,
		"start_time":  session.StartTime,
		"end_time":    session.EndTime,
		"capacity":    session.Capacity,
		"updated_at":  session.UpdatedAt,
	}
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	session.TitleKey = session.SlotKey()
	if session.TitleKey != "" {
		set["title_key"] = session.TitleKey
	} else {
		update["$unset"] = bson.M{"title_key": ""}
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return sessionserrors.ErrDuplicate
		}
		return fmt.Errorf("failed to update session: %w", err)
	}

	if result.MatchedCount == 0 {
		return sessionserrors.ErrNotFound
	}

	return nil
}

func (r *mongoSessionRepository) SetStatus(ctx context.Context, id string, from, to model.SessionStatus, at time.Time) (*model.Session, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", sessionserrors.ErrInvalidID, id)
	}

	update := bson.M{
		"$set": bson.M{"status": to, "updated_at": at},
		"$inc": bson.M{"version": 1},
	}
	if to == model.SessionCancelled {
		update["$unset"] = bson.M{"title_key": ""}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var session model.Session
	err = r.collection.FindOneAndUpdate(ctx, bson.M{"_id": objectID, "status": from}, update, opts).Decode(&session)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to update session status: %w", err)
		}
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, sessionserrors.ErrStatusChanged
	}

	return &session, nil
}

func (r *mongoSessionRepository) Fence(ctx context.Context, id string) (*model.Session, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", sessionserrors.ErrInvalidID, id)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var session model.Session
	err = r.collection.FindOneAndUpdate(ctx, bson.M{"_id": objectID}, bson.M{"$inc": bson.M{"version": 1}}, opts).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, sessionserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fence session: %w", err)
	}

	return &session, nil
}

func (r *mongoSessionRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Session, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*model.Session
	if err = cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

func listFilter(f model.SessionFilter) bson.M {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if f.Instructor != "" {
		filter["instructor"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(f.Instructor) + "$", Options: "i"}
	}
	return filter
}
