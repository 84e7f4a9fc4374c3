// Package mongo persists raw pages as documents in a MongoDB collection.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// Defaults applied when the configuration leaves fields empty.
const (
	DefaultDatabase   = "crawler"
	DefaultCollection = "raw_data"
	connectTimeout    = 10 * time.Second
)

// Config holds the MongoDB connection settings.
type Config struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

type rawRecord struct {
	ID                  primitive.ObjectID `bson:"_id"`
	crawler.RawDocument `bson:",inline"`
}

// RawStore implements crawler.RawStore on a Mongo collection.
type RawStore struct {
	coll collection
}

// Connect dials MongoDB and verifies the primary is reachable.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(dialCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// NewRawStore binds a raw store to the configured database and collection.
func NewRawStore(client *mongo.Client, cfg Config) (*RawStore, error) {
	if client == nil {
		return nil, fmt.Errorf("mongo client is required")
	}
	db := cfg.Database
	if db == "" {
		db = DefaultDatabase
	}
	coll := cfg.Collection
	if coll == "" {
		coll = DefaultCollection
	}
	return &RawStore{coll: client.Database(db).Collection(coll)}, nil
}

// EnsureIndexes creates the content-hash lookup index.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "content_hash", Value: 1}},
		Options: options.Index().SetName("content_hash_idx"),
	})
	if err != nil {
		return fmt.Errorf("create content_hash index: %w", err)
	}
	return nil
}

// Collection exposes the underlying collection for index management.
func (s *RawStore) Collection() *mongo.Collection {
	c, _ := s.coll.(*mongo.Collection)
	return c
}

// Save inserts doc and returns the hex ObjectID.
func (s *RawStore) Save(ctx context.Context, doc crawler.RawDocument) (string, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	record := rawRecord{ID: primitive.NewObjectID(), RawDocument: doc}
	res, err := s.coll.InsertOne(ctx, record)
	if err != nil {
		return "", fmt.Errorf("insert raw document: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return record.ID.Hex(), nil
}
