package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-collector/internal/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
}

type nopStore struct {
	closed atomic.Bool
}

func (s *nopStore) Append(context.Context, Collection, models.Record) error { return nil }
func (s *nopStore) List(context.Context, Collection) ([]models.Record, error) {
	return []models.Record{}, nil
}
func (s *nopStore) Ping(context.Context) error { return nil }
func (s *nopStore) Close() error {
	s.closed.Store(true)
	return nil
}

func TestCollection(t *testing.T) {
	assert.True(t, Events.Valid())
	assert.True(t, Heatmap.Valid())
	assert.False(t, Collection("sessions").Valid())

	assert.Equal(t, "user_events", Events.Name())
	assert.Equal(t, "heatmap_data", Heatmap.Name())
	assert.Equal(t, "", Collection("sessions").Name())

	assert.NoError(t, Check(Events))
	assert.ErrorIs(t, Check(Collection("sessions")), ErrUnknownCollection)
}

func TestHandleUnavailableUntilSet(t *testing.T) {
	h := NewHandle()
	assert.False(t, h.Ready())

	_, err := h.Store()
	require.ErrorIs(t, err, ErrStorageUnavailable)

	s := &nopStore{}
	require.NoError(t, h.Set(s))
	assert.True(t, h.Ready())

	got, err := h.Store()
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestHandleSetOnce(t *testing.T) {
	first := &nopStore{}
	h := NewReadyHandle(first)

	assert.Error(t, h.Set(&nopStore{}))

	got, err := h.Store()
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestHandleOpenRetries(t *testing.T) {
	h := NewHandle()
	s := &nopStore{}

	var attempts int
	open := func(ctx context.Context) (Store, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return s, nil
	}

	err := h.Open(context.Background(), open, &backoff.ZeroBackOff{})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, h.Ready())
}

func TestHandleOpenPermanentError(t *testing.T) {
	h := NewHandle()
	bad := errors.New("unsupported scheme")

	var attempts int
	open := func(ctx context.Context) (Store, error) {
		attempts++
		return nil, backoff.Permanent(bad)
	}

	err := h.Open(context.Background(), open, &backoff.ZeroBackOff{})
	require.ErrorIs(t, err, bad)
	assert.Equal(t, 1, attempts)
	assert.False(t, h.Ready())
}

func TestHandleOpenCancelled(t *testing.T) {
	h := NewHandle()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	open := func(ctx context.Context) (Store, error) {
		return nil, errors.New("still down")
	}

	err := h.Open(ctx, open, backoff.NewConstantBackOff(10*time.Millisecond))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, h.Ready())

	_, err = h.Store()
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestHandleOpenAfterSetClosesNewStore(t *testing.T) {
	h := NewReadyHandle(&nopStore{})
	late := &nopStore{}

	err := h.Open(context.Background(), func(context.Context) (Store, error) { return late, nil }, &backoff.ZeroBackOff{})
	require.Error(t, err)
	assert.True(t, late.closed.Load())
}

func TestHandleClose(t *testing.T) {
	assert.NoError(t, NewHandle().Close())

	s := &nopStore{}
	require.NoError(t, NewReadyHandle(s).Close())
	assert.True(t, s.closed.Load())
}
