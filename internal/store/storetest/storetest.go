// Package storetest holds the behavior every store.Store backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-collector/internal/models"
	"github.com/vincentbai/browsetrace-collector/internal/store"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

// Run exercises the append/list contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("empty collection lists empty", func(t *testing.T) {
		s := newStore(t)
		for _, c := range store.Collections {
			records, err := s.List(context.Background(), c)
			require.NoError(t, err)
			require.NotNil(t, records)
			assert.Empty(t, records)
		}
	})

	t.Run("list returns appends in order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		want := []models.Record{
			{"event_type": "page_view", "user_id": "u1", "session_id": "s1", "load_time": 12.5},
			{"event_type": "click", "user_id": "u1", "x": float64(100), "nested": map[string]any{"a": true}},
			{"event_type": "purchase", "amount": 49.99, "items": []any{"sku-1", "sku-2"}, "coupon": nil},
		}
		for _, r := range want {
			require.NoError(t, s.Append(ctx, store.Events, r))
		}

		got, err := s.List(ctx, store.Events)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("collections are independent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, store.Events, models.Record{"event_type": "page_view"}))
		require.NoError(t, s.Append(ctx, store.Heatmap, models.Record{"page_url": "/", "clicks": []any{}}))
		require.NoError(t, s.Append(ctx, store.Heatmap, models.Record{"page_url": "/pricing", "clicks": []any{}}))

		events, err := s.List(ctx, store.Events)
		require.NoError(t, err)
		assert.Len(t, events, 1)

		batches, err := s.List(ctx, store.Heatmap)
		require.NoError(t, err)
		require.Len(t, batches, 2)
		assert.Equal(t, "/pricing", batches[1]["page_url"])
	})

	t.Run("unknown collection rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.Append(ctx, store.Collection("sessions"), models.Record{"a": "b"})
		assert.ErrorIs(t, err, store.ErrUnknownCollection)

		_, err = s.List(ctx, store.Collection("sessions"))
		assert.ErrorIs(t, err, store.ErrUnknownCollection)
	})

	t.Run("concurrent appends keep every record", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, store.Events, models.Record{"event_type": "seed"}))

		const n = 32
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Append(ctx, store.Events, models.Record{
					"event_type": "session_ping",
					"seq":        fmt.Sprintf("%03d", i),
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		records, err := s.List(ctx, store.Events)
		require.NoError(t, err)
		require.Len(t, records, n+1)
		assert.Equal(t, "seed", records[0]["event_type"])

		seen := make(map[any]bool, n)
		for _, r := range records[1:] {
			assert.Equal(t, "session_ping", r["event_type"])
			seen[r["seq"]] = true
		}
		assert.Len(t, seen, n)
	})
}
