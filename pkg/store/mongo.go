package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists seen fingerprints in a MongoDB collection, adapted
// from the teacher's MongoEndpoint connection pattern.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to uri and targets database/collection for
// fingerprint records.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("store/mongo: ping: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

type fingerprintDoc struct {
	Fingerprint string `bson:"fingerprint"`
}

func (s *MongoStore) SeenFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"fingerprint": fingerprint})
	if err != nil {
		return false, fmt.Errorf("store/mongo: seen: %w", err)
	}
	return count > 0, nil
}

func (s *MongoStore) RecordFingerprint(ctx context.Context, fingerprint string) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"fingerprint": fingerprint},
		bson.M{"$setOnInsert": fingerprintDoc{Fingerprint: fingerprint}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store/mongo: record: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)
