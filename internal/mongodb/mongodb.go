package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/store"
)

const (
	thresholdsCollection = "thresholds"
	tasksCollection      = "automation_tasks"
	alertsCollection     = "alerts"
)

// Store persists thresholds, automation tasks and alerts in MongoDB. Every
// state change is a single-document operation so concurrent workers never
// observe a half-applied update.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	thresholds *mongo.Collection
	tasks      *mongo.Collection
	alerts     *mongo.Collection
	ownsClient bool
}

var _ store.Store = (*Store)(nil)

// Options tune index creation. A positive ResolvedAlertTTL adds a TTL index
// that expires resolved alerts on the server side.
type Options struct {
	ResolvedAlertTTL time.Duration
}

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// Open connects to uri and returns a store that disconnects on Close.
func Open(ctx context.Context, uri, database string, opts Options) (*Store, error) {
	client, err := Connect(ctx, uri)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, client, database, opts)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// New wraps an existing client. Close leaves the client connected.
func New(ctx context.Context, client *mongo.Client, database string, opts Options) (*Store, error) {
	db := client.Database(database)
	s := &Store{
		client:     client,
		db:         db,
		thresholds: db.Collection(thresholdsCollection),
		tasks:      db.Collection(tasksCollection),
		alerts:     db.Collection(alertsCollection),
	}
	if err := s.ensureIndexes(ctx, opts); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context, opts Options) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	thresholdIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "sensorType", Value: 1}, {Key: "isActive", Value: 1}}},
		{Keys: bson.D{{Key: "farmId", Value: 1}, {Key: "zoneId", Value: 1}}},
	}
	if _, err := s.thresholds.Indexes().CreateMany(ctx, thresholdIndexes); err != nil {
		return fmt.Errorf("failed to create threshold indexes: %w", err)
	}

	taskIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduledAt", Value: 1}}},
		{Keys: bson.D{{Key: "correlationId", Value: 1}}},
		{Keys: bson.D{{Key: "alertId", Value: 1}}},
	}
	if _, err := s.tasks.Indexes().CreateMany(ctx, taskIndexes); err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}

	alertIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "severity", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "farmId", Value: 1}, {Key: "zoneId", Value: 1}}},
		{Keys: bson.D{{Key: "automation.correlationId", Value: 1}}},
	}
	if opts.ResolvedAlertTTL > 0 {
		alertIndexes = append(alertIndexes, mongo.IndexModel{
			Keys: bson.D{{Key: "resolvedAt", Value: 1}},
			Options: options.Index().
				SetName("resolved_alert_ttl").
				SetExpireAfterSeconds(int32(opts.ResolvedAlertTTL / time.Second)).
				SetPartialFilterExpression(bson.D{{Key: "status", Value: "resolved"}}),
		})
	}
	if _, err := s.alerts.Indexes().CreateMany(ctx, alertIndexes); err != nil {
		return fmt.Errorf("failed to create alert indexes: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Drop removes the database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func dbError(op string, err error) error {
	return apperrors.NewDatabaseError(fmt.Sprintf("failed to %s", op), err)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
