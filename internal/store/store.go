// Package store defines the append-only event store shared by every
// persistence backend, and the process-wide handle that tracks whether the
// backend is ready.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vincentbai/browsetrace-collector/internal/models"
)

var (
	// ErrStorageUnavailable means the backing store is not open yet. Callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPersistence wraps I/O and serialization failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrMalformedData marks persisted content that cannot be parsed. Backends
	// log it and treat the content as empty; it never reaches callers.
	ErrMalformedData = errors.New("malformed persisted data")
	// ErrUnknownCollection is returned for a collection other than Events or Heatmap.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Collection names an independently stored sequence of records.
type Collection string

const (
	Events  Collection = "events"
	Heatmap Collection = "heatmap"
)

// Collections lists every collection a backend must provide.
var Collections = []Collection{Events, Heatmap}

func (c Collection) Valid() bool {
	return c == Events || c == Heatmap
}

// Name is the on-disk name: file stem, table, document collection or list key.
func (c Collection) Name() string {
	switch c {
	case Events:
		return "user_events"
	case Heatmap:
		return "heatmap_data"
	default:
		return ""
	}
}

// Check returns ErrUnknownCollection for invalid collections.
func Check(c Collection) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, string(c))
	}
	return nil
}

// Store is durable append-only persistence for the two collections.
//
// Append must not return before the record is durable. List returns every
// record in insertion order, and an empty non-nil slice for an empty
// collection. Malformed persisted data degrades to empty instead of failing.
type Store interface {
	Append(ctx context.Context, c Collection, r models.Record) error
	List(ctx context.Context, c Collection) ([]models.Record, error)
	Ping(ctx context.Context) error
	Close() error
}
