// Package repository stores session snapshots in MongoDB.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBConfig describes the snapshot store connection.
type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
	AppName    string

	ConnectTimeout time.Duration
	PingTimeout    time.Duration

	// SnapshotTTL makes the server expire snapshots this long after their
	// last save. Zero leaves expiry to the reader.
	SnapshotTTL time.Duration
}

// DefaultMongoDBConfig returns default configuration.
func DefaultMongoDBConfig() *MongoDBConfig {
	return &MongoDBConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "chatgpt",
		Collection:     "session",
		AppName:        "chatgpt-api",
		ConnectTimeout: 10 * time.Second,
		PingTimeout:    5 * time.Second,
	}
}

// MongoDB owns the client and the snapshot collection.
type MongoDB struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoDB connects, verifies the server with a ping and prepares the
// snapshot collection's indexes.
func NewMongoDB(ctx context.Context, cfg *MongoDBConfig, logger *slog.Logger) (*MongoDB, error) {
	if cfg == nil {
		cfg = DefaultMongoDBConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(cfg.AppName).
		SetServerSelectionTimeout(cfg.ConnectTimeout)
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := &MongoDB{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger,
	}
	if err := db.ensureIndexes(ctx, cfg.SnapshotTTL); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Info("Connected to MongoDB", "database", cfg.Database, "collection", cfg.Collection)
	return db, nil
}

func (m *MongoDB) ensureIndexes(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	_, err := m.collection.Indexes().CreateOne(ctx, snapshotTTLIndex(ttl))
	if err != nil {
		return fmt.Errorf("failed to create snapshot TTL index: %w", err)
	}
	return nil
}

func snapshotTTLIndex(ttl time.Duration) mongo.IndexModel {
	return mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index().
			SetName("updated_at_ttl").
			SetExpireAfterSeconds(int32(ttl / time.Second)),
	}
}

// Close disconnects from MongoDB.
func (m *MongoDB) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}
