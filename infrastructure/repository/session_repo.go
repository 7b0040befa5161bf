package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/CoCo-27/chatgpt-api/domain/credential"
)

// sessionDocument is the MongoDB document structure for session snapshots.
type sessionDocument struct {
	Key            string           `bson:"_id"`
	UserAgent      string           `bson:"user_agent"`
	SessionToken   string           `bson:"session_token"`
	ClearanceToken string           `bson:"clearance_token,omitempty"`
	Cookies        []cookieDocument `bson:"cookies,omitempty"`
	UpdatedAt      time.Time        `bson:"updated_at"`
}

// cookieDocument is the MongoDB document structure for cookies.
type cookieDocument struct {
	Name     string    `bson:"name"`
	Value    string    `bson:"value"`
	Domain   string    `bson:"domain"`
	Path     string    `bson:"path"`
	Expires  time.Time `bson:"expires,omitempty"`
	HTTPOnly bool      `bson:"http_only"`
	Secure   bool      `bson:"secure"`
}

// MongoSessionRepository implements credential.Repository using MongoDB.
type MongoSessionRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoSessionRepository creates a new MongoDB-based snapshot repository.
func NewMongoSessionRepository(db *MongoDB, logger *slog.Logger) *MongoSessionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoSessionRepository{
		collection: db.collection,
		logger:     logger,
	}
}

// FindByKey retrieves the snapshot stored under key.
func (r *MongoSessionRepository) FindByKey(ctx context.Context, key string) (*credential.Snapshot, error) {
	var doc sessionDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return documentToSnapshot(&doc), nil
}

// Save upserts the snapshot.
func (r *MongoSessionRepository) Save(ctx context.Context, snapshot *credential.Snapshot) error {
	doc := snapshotToDocument(snapshot)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Debug("Session snapshot saved", "key", doc.Key, "cookies", len(doc.Cookies))
	return nil
}

// Delete removes the snapshot stored under key.
func (r *MongoSessionRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func documentToSnapshot(doc *sessionDocument) *credential.Snapshot {
	snap := &credential.Snapshot{
		Key:            doc.Key,
		UserAgent:      doc.UserAgent,
		SessionToken:   doc.SessionToken,
		ClearanceToken: doc.ClearanceToken,
		UpdatedAt:      doc.UpdatedAt,
	}
	if len(doc.Cookies) > 0 {
		snap.Cookies = make([]credential.Cookie, len(doc.Cookies))
		for i, c := range doc.Cookies {
			snap.Cookies[i] = credential.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
		}
	}
	return snap
}

func snapshotToDocument(snap *credential.Snapshot) *sessionDocument {
	doc := &sessionDocument{
		Key:            snap.Key,
		UserAgent:      snap.UserAgent,
		SessionToken:   snap.SessionToken,
		ClearanceToken: snap.ClearanceToken,
		UpdatedAt:      snap.UpdatedAt,
	}
	if len(snap.Cookies) > 0 {
		doc.Cookies = make([]cookieDocument, len(snap.Cookies))
		for i, c := range snap.Cookies {
			doc.Cookies[i] = cookieDocument{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
		}
	}
	return doc
}

// Ensure MongoSessionRepository implements credential.Repository
var _ credential.Repository = (*MongoSessionRepository)(nil)
