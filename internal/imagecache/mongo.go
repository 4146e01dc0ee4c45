package imagecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zombor/card-scanner/internal/cardkey"
)

const defaultMongoCollection = "card_images"

// mongoCollection is the part of *mongo.Collection the index uses.
type mongoCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoIndex implements Index on a MongoDB collection. The card key is the
// document _id, so the server enforces uniqueness across every instance.
type MongoIndex struct {
	client     *mongo.Client
	collection mongoCollection
}

// NewMongoIndex connects to uri and uses the given database and collection.
func NewMongoIndex(ctx context.Context, uri, database, collection string) (*MongoIndex, error) {
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if collection == "" {
		collection = defaultMongoCollection
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	return &MongoIndex{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Get retrieves the cached image for key
func (m *MongoIndex) Get(ctx context.Context, key cardkey.Key) (*CachedImage, error) {
	var entry CachedImage
	err := m.collection.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("finding cached image: %w", err)
	}
	return &entry, nil
}

// Insert adds entry; a duplicate _id means another writer got there first.
func (m *MongoIndex) Insert(ctx context.Context, entry *CachedImage) error {
	_, err := m.collection.InsertOne(ctx, entry)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, entry.Key)
	}
	if err != nil {
		return fmt.Errorf("inserting cached image: %w", err)
	}
	return nil
}

// Close disconnects the client
func (m *MongoIndex) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
