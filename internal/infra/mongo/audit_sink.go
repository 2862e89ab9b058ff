package mongo

import (
	"context"
	"fmt"

	"cyberguard-progress-service/internal/audit"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const auditCollection = "auditlogs"

// AuditSink stores audit events in the auditlogs collection.
type AuditSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Connect dials uri and verifies the server before returning.
func Connect(ctx context.Context, uri, database string) (*AuditSink, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	sink := &AuditSink{client: client, collection: client.Database(database).Collection(auditCollection)}
	if err := sink.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return sink, nil
}

func (s *AuditSink) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "eventId", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

func (s *AuditSink) Name() string { return "mongo" }

func (s *AuditSink) Emit(ctx context.Context, ev audit.Event) error {
	if _, err := s.collection.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns the user's latest events, newest first.
func (s *AuditSink) Recent(ctx context.Context, userID string, limit int64) ([]audit.Event, error) {
	cur, err := s.collection.Find(ctx,
		bson.D{{Key: "userId", Value: userID}},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("find audit events: %w", err)
	}
	events := []audit.Event{}
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}
	return events, nil
}

func (s *AuditSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
