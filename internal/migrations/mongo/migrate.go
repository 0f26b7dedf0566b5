package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	bookingsRepository "swimbook/internal/bookings/repository"
	membersRepository "swimbook/internal/members/repository"
	"swimbook/internal/migrations/mongo/validators"
	sessionsRepository "swimbook/internal/sessions/repository"
	"swimbook/pkg/logger"
)

var (
	SessionsIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "start_time", Value: 1}, {Key: "_id", Value: 1}}},
		// Cancelled sessions drop title_key and fall out of the index.
		{
			Keys: bson.D{{Key: "title_key", Value: 1}, {Key: "start_time", Value: 1}},
			Options: options.Index().
				SetName("uniq_live_title_start").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"title_key": bson.M{"$type": "string"}}),
		},
	}

	BookingsIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "status", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "booked_at", Value: 1},
			{Key: "_id", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "member_id", Value: 1},
			{Key: "booked_at", Value: -1},
		}},
	}

	MembersIndexes = []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
)

type collectionDef struct {
	Indexes   []mongo.IndexModel
	Validator bson.M
}

// Collections maps every collection the service owns to its schema and indexes.
var Collections = map[string]collectionDef{
	sessionsRepository.CollectionName: {
		Indexes:   SessionsIndexes,
		Validator: validators.SessionValidator,
	},
	bookingsRepository.CollectionName: {
		Indexes:   BookingsIndexes,
		Validator: validators.BookingValidator,
	},
	membersRepository.CollectionName: {
		Indexes:   MembersIndexes,
		Validator: validators.MemberValidator,
	},
}

func RunMigration(ctx context.Context, client *mongo.Client, dbName string, log *logger.Logger) error {
	db := client.Database(dbName)
	log.Info("Running Mongo migrations", "database", dbName)

	for name, def := range Collections {
		if err := ensureCollection(ctx, db, name, def.Validator, log); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", name, err)
		}
		if err := ensureIndexes(ctx, db, name, def.Indexes, log); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", name, err)
		}
	}

	log.Info("All migrations applied successfully")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection().SetValidator(validator)
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	log.Info("Collection already exists, updating validator", "collection", name)
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "count", len(models))
	return nil
}
