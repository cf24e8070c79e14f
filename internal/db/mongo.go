package db

import (
	"context"
	"log"
	"time"

	"adaptive-quiz-service/internal/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	Client   *mongo.Client
	Database *mongo.Database
)

func InitMongo(cfg *config.MongoDBConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.PoolSize)

	var err error
	Client, err = mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Printf("Error connecting to MongoDB: %v", err)
		return err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := Client.Ping(pingCtx, readpref.Primary()); err != nil {
		log.Printf("Error pinging MongoDB: %v", err)
		return err
	}

	Database = Client.Database(cfg.Database)
	log.Printf("Successfully connected to MongoDB database: %s", cfg.Database)

	if err := EnsureIndexes(context.Background(), Database); err != nil {
		log.Printf("Error creating indexes: %v", err)
		return err
	}

	return nil
}

// CloseMongo closes the MongoDB connection
func CloseMongo() {
	if Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := Client.Disconnect(ctx); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}
}

// GetCollection returns a MongoDB collection
func GetCollection(name string) *mongo.Collection {
	return Database.Collection(name)
}

// EnsureIndexes creates the unique keys and secondary indexes every
// collection is queried through. Safe to call on every boot; Mongo treats
// existing identical indexes as a no-op.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	type spec struct {
		collection string
		models     []mongo.IndexModel
	}
	specs := []spec{
		{
			collection: "sessions",
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "sessionId", Value: 1}, {Key: "userId", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
				{
					Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
				},
			},
		},
		{
			collection: "questions",
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "questionId", Value: 1}, {Key: "category", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
				{
					Keys: bson.D{{Key: "category", Value: 1}, {Key: "language", Value: 1}},
				},
				{
					Keys: bson.D{{Key: "provider", Value: 1}, {Key: "certificate", Value: 1}},
				},
			},
		},
		{
			collection: "wrong_entries",
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
				{
					Keys: bson.D{{Key: "userId", Value: 1}, {Key: "questionId", Value: 1}},
				},
			},
		},
		{
			collection: "progress",
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "questionId", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
				{
					Keys: bson.D{{Key: "questionId", Value: 1}, {Key: "lastAttemptAt", Value: -1}},
				},
				{
					Keys: bson.D{{Key: "sessionId", Value: 1}},
				},
			},
		},
		{
			collection: "user_difficulty",
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "userId", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
			},
		},
	}

	for _, s := range specs {
		if _, err := database.Collection(s.collection).Indexes().CreateMany(ctx, s.models); err != nil {
			return err
		}
	}
	return nil
}
