package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Opener opens a backend. It is retried until it succeeds.
type Opener func(ctx context.Context) (Store, error)

type holder struct {
	store Store
}

// Handle is the process-wide store reference. It is empty until a backend
// opens, and is never reassigned afterwards. Requests arriving before that
// observe ErrStorageUnavailable instead of blocking.
type Handle struct {
	current atomic.Pointer[holder]
}

func NewHandle() *Handle {
	return &Handle{}
}

// NewReadyHandle wraps an already open store.
func NewReadyHandle(s Store) *Handle {
	h := &Handle{}
	h.current.Store(&holder{store: s})
	return h
}

// Store returns the open store or ErrStorageUnavailable.
func (h *Handle) Store() (Store, error) {
	if cur := h.current.Load(); cur != nil {
		return cur.store, nil
	}
	return nil, ErrStorageUnavailable
}

func (h *Handle) Ready() bool {
	return h.current.Load() != nil
}

var errAlreadySet = errors.New("store handle already set")

// Set publishes s. It fails if a store was already published.
func (h *Handle) Set(s Store) error {
	if !h.current.CompareAndSwap(nil, &holder{store: s}) {
		return errAlreadySet
	}
	return nil
}

// Open runs open with retries until it succeeds, b gives up, or ctx is done.
func (h *Handle) Open(ctx context.Context, open Opener, b backoff.BackOff) error {
	operation := func() error {
		s, err := open(ctx)
		if err != nil {
			return err
		}
		if err := h.Set(s); err != nil {
			_ = s.Close()
			return backoff.Permanent(err)
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("storage not ready, retrying")
	}
	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

// Close closes the published store, if any.
func (h *Handle) Close() error {
	if cur := h.current.Load(); cur != nil {
		return cur.store.Close()
	}
	return nil
}
