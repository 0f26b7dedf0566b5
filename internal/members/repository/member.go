package repository

import (
	"context"
	"errors"
	"fmt"
	memberserrors "swimbook/internal/members/errors"
	"swimbook/pkg/config"
	"swimbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	CollectionName = "Members"
)

// MemberRepository is the read-only member directory.
type MemberRepository interface {
	FindByID(ctx context.Context, id string) (*model.Member, error)
	// FindByIDs returns the members that exist, keyed by id. Unknown and
	// malformed ids are skipped.
	FindByIDs(ctx context.Context, ids []string) (map[string]*model.Member, error)
}

type mongoMemberRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoMemberRepository(cfg *config.Config) MemberRepository {
	return &mongoMemberRepository{
		cfg:        cfg,
		collection: cfg.Client.Mongo.Database(cfg.MongoDatabaseName).Collection(CollectionName),
	}
}

func (r *mongoMemberRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if mongo.SessionFromContext(ctx) != nil {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.ReadTimeout)
}

func (r *mongoMemberRepository) FindByID(ctx context.Context, id string) (*model.Member, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", memberserrors.ErrInvalidID, id)
	}

	var member model.Member
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&member)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, memberserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find member: %w", err)
	}

	return &member, nil
}

func (r *mongoMemberRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*model.Member, error) {
	result := make(map[string]*model.Member, len(ids))

	objectIDs := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			objectIDs = append(objectIDs, oid)
		}
	}
	if len(objectIDs) == 0 {
		return result, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": objectIDs}})
	if err != nil {
		return nil, fmt.Errorf("failed to find members: %w", err)
	}
	defer cursor.Close(ctx)

	var members []*model.Member
	if err := cursor.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("failed to decode members: %w", err)
	}
	for _, m := range members {
		result[m.ID] = m
	}
	return result, nil
}
