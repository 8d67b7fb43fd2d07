// Package redisstore keeps each collection as a Redis list of JSON records.
// RPUSH is atomic, so concurrent appends need no extra locking.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/vincentbai/browsetrace-collector/internal/models"
	"github.com/vincentbai/browsetrace-collector/internal/store"
)

type Store struct {
	client *redis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// Connect parses a redis:// or rediss:// URL and pings the server.
func Connect(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return New(client, prefix), nil
}

func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Key returns the list key for c.
func (s *Store) Key(c store.Collection) string {
	if s.prefix == "" {
		return c.Name()
	}
	return s.prefix + ":" + c.Name()
}

func (s *Store) Append(ctx context.Context, c store.Collection, r models.Record) error {
	if err := store.Check(c); err != nil {
		return err
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal record: %w", store.ErrPersistence, err)
	}
	if err := s.client.RPush(ctx, s.Key(c), payload).Err(); err != nil {
		return fmt.Errorf("%w: failed to push to %s: %w", store.ErrPersistence, s.Key(c), err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, c store.Collection) ([]models.Record, error) {
	if err := store.Check(c); err != nil {
		return nil, err
	}

	values, err := s.client.LRange(ctx, s.Key(c), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", store.ErrPersistence, s.Key(c), err)
	}

	records := make([]models.Record, 0, len(values))
	for i, value := range values {
		var record models.Record
		if err := json.Unmarshal([]byte(value), &record); err != nil || record == nil {
			log.Warn().Err(err).Str("key", s.Key(c)).Int("index", i).Msg("skipping malformed entry")
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
