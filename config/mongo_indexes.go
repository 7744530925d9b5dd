package config

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}

	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "soulline"
	}
	db := MongoClient.Database(dbName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// chat history indexes
	messages := db.Collection("messages")
	_, err := messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// history lookup, newest first
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_request_created"),
		},
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_sender_created"),
		},
	})
	return err
}
