package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/vincentbai/browsetrace-collector/internal/models"
	"github.com/vincentbai/browsetrace-collector/internal/store"
	"github.com/vincentbai/browsetrace-collector/internal/store/storetest"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
}

// The mock deployment only replays canned replies, so the shared contract
// runs against a real server when MONGODB_URI is set.
func TestStoreContract(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s, err := Connect(ctx, uri, fmt.Sprintf("browsetrace_test_%d", time.Now().UnixNano()))
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.db.Drop(context.Background())
			s.Close()
		})
		return s
	})
}

func TestAppend(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("inserts one document", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		s := New(mt.DB)

		err := s.Append(context.Background(), store.Events, models.Record{
			"_id":        "client-7",
			"event_type": "page_view",
		})
		require.NoError(mt, err)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "insert", started.CommandName)
		docs, err := started.Command.Lookup("documents").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, docs, 1)
		inserted := docs[0].Document()
		assert.Equal(mt, bson.TypeObjectID, inserted.Lookup("_id").Type, "server-generated id")
		assert.Equal(mt, "client-7", inserted.Lookup("payload", "_id").StringValue())
		assert.Equal(mt, "page_view", inserted.Lookup("payload", "event_type").StringValue())
	})

	mt.Run("write error is a persistence failure", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))
		s := New(mt.DB)

		err := s.Append(context.Background(), store.Heatmap, models.Record{"page_url": "/"})
		require.ErrorIs(mt, err, store.ErrPersistence)
	})

	mt.Run("unknown collection", func(mt *mtest.T) {
		s := New(mt.DB)

		err := s.Append(context.Background(), store.Collection("sessions"), models.Record{})
		require.ErrorIs(mt, err, store.ErrUnknownCollection)
	})
}

func TestList(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns payloads in _id order", func(mt *mtest.T) {
		ns := mt.DB.Name() + ".user_events"
		created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		first := bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "payload", Value: bson.D{
				{Key: "event_type", Value: "page_view"},
				{Key: "user_id", Value: "u1"},
				{Key: "depth", Value: int32(75)},
				{Key: "created_at", Value: primitive.NewDateTimeFromTime(created)},
			}},
		}
		second := bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "payload", Value: bson.D{
				{Key: "_id", Value: "client-7"},
				{Key: "event_type", Value: "purchase"},
				{Key: "amount", Value: 19.5},
				{Key: "items", Value: bson.A{"sku-1", int64(2)}},
				{Key: "meta", Value: bson.D{{Key: "coupon", Value: "WELCOME"}}},
			}},
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, first, second))
		s := New(mt.DB)

		records, err := s.List(context.Background(), store.Events)
		require.NoError(mt, err)
		require.Len(mt, records, 2)

		assert.Equal(mt, models.Record{
			"event_type": "page_view",
			"user_id":    "u1",
			"depth":      float64(75),
			"created_at": "2024-01-01T12:00:00.000Z",
		}, records[0])
		assert.Equal(mt, models.Record{
			"_id":        "client-7",
			"event_type": "purchase",
			"amount":     19.5,
			"items":      []any{"sku-1", float64(2)},
			"meta":       map[string]any{"coupon": "WELCOME"},
		}, records[1])
	})

	mt.Run("skips documents without a payload object", func(mt *mtest.T) {
		ns := mt.DB.Name() + ".user_events"
		flat := bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "event_type", Value: "page_view"},
		}
		scalar := bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "payload", Value: "page_view"},
		}
		good := bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "payload", Value: bson.D{{Key: "event_type", Value: "click"}}},
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, flat, scalar, good))
		s := New(mt.DB)

		records, err := s.List(context.Background(), store.Events)
		require.NoError(mt, err)
		assert.Equal(mt, []models.Record{{"event_type": "click"}}, records)
	})

	mt.Run("empty collection", func(mt *mtest.T) {
		ns := mt.DB.Name() + ".heatmap_data"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		s := New(mt.DB)

		records, err := s.List(context.Background(), store.Heatmap)
		require.NoError(mt, err)
		assert.NotNil(mt, records)
		assert.Empty(mt, records)
	})

	mt.Run("query error is a persistence failure", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Name:    "Unauthorized",
			Message: "not authorized on browsetrace",
		}))
		s := New(mt.DB)

		_, err := s.List(context.Background(), store.Events)
		require.ErrorIs(mt, err, store.ErrPersistence)
	})
}

func TestCloseWithoutOwnedClient(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("borrowed database", func(mt *mtest.T) {
		assert.NoError(mt, New(mt.DB).Close())
	})
}

func TestNormalize(t *testing.T) {
	oid := primitive.NewObjectID()

	got := normalize(bson.M{
		"n32":  int32(1),
		"n64":  int64(2),
		"f":    1.5,
		"oid":  oid,
		"list": bson.A{bson.M{"a": int32(3)}},
		"str":  "x",
		"nil":  nil,
	})

	assert.Equal(t, map[string]any{
		"n32":  float64(1),
		"n64":  float64(2),
		"f":    1.5,
		"oid":  oid.Hex(),
		"list": []any{map[string]any{"a": float64(3)}},
		"str":  "x",
		"nil":  nil,
	}, got)
}
