// Package mongostore keeps one document per record in a MongoDB collection.
//
// The record sits under payload so its keys, _id included, never collide
// with the driver-generated _id that orders the collection.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vincentbai/browsetrace-collector/internal/models"
	"github.com/vincentbai/browsetrace-collector/internal/store"
)

type document struct {
	ID      primitive.ObjectID `bson:"_id,omitempty"`
	Payload bson.M             `bson:"payload"`
}

type Store struct {
	client *mongo.Client // nil when wrapping a caller-owned database
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// Connect dials uri and waits for the primary to answer.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to reach mongodb: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// New wraps a database whose client the caller owns.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, c store.Collection, r models.Record) error {
	if err := store.Check(c); err != nil {
		return err
	}
	if _, err := s.db.Collection(c.Name()).InsertOne(ctx, document{Payload: bson.M(r)}); err != nil {
		return fmt.Errorf("%w: failed to insert into %s: %w", store.ErrPersistence, c.Name(), err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, c store.Collection) ([]models.Record, error) {
	if err := store.Check(c); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(c.Name()).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query %s: %w", store.ErrPersistence, c.Name(), err)
	}
	defer cursor.Close(ctx)

	records := []models.Record{}
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil || doc.Payload == nil {
			log.Warn().Err(err).Str("collection", c.Name()).Str("id", doc.ID.Hex()).
				Msg("skipping document without a payload object")
			continue
		}
		records = append(records, models.Record(normalizeMap(doc.Payload)))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", store.ErrPersistence, c.Name(), err)
	}
	return records, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// normalizeMap turns decoded BSON into the same shapes encoding/json
// produces, so every backend hands back identical records.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch x := v.(type) {
	case bson.M:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case primitive.DateTime:
		return x.Time().UTC().Format(models.TimeLayout)
	case primitive.ObjectID:
		return x.Hex()
	case primitive.Decimal128:
		return x.String()
	default:
		return v
	}
}
