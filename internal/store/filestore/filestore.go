// Package filestore keeps each collection as one JSON array document on disk.
//
// Every append reads the whole document, appends, and atomically replaces the
// file. That is fine at small scale and nowhere else.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/rs/zerolog/log"

	"github.com/vincentbai/browsetrace-collector/internal/models"
	"github.com/vincentbai/browsetrace-collector/internal/store"
)

type Store struct {
	dir string
	// serializes read-modify-write of a document; readers don't need it
	// because files are only ever replaced by rename
	mu sync.Mutex
}

var _ store.Store = (*Store)(nil)

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the document backing collection c.
func (s *Store) Path(c store.Collection) string {
	return filepath.Join(s.dir, c.Name()+".json")
}

func (s *Store) Append(ctx context.Context, c store.Collection, r models.Record) error {
	if err := store.Check(c); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(c)
	records, err := load(path)
	if errors.Is(err, store.ErrMalformedData) {
		if qerr := quarantine(path); qerr != nil {
			return fmt.Errorf("%w: %w", store.ErrPersistence, qerr)
		}
		records = nil
	} else if err != nil {
		return err
	}

	records = append(records, r)
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s: %w", store.ErrPersistence, path, err)
	}
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", store.ErrPersistence, path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, c store.Collection) ([]models.Record, error) {
	if err := store.Check(c); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}

	records, err := load(s.Path(c))
	if errors.Is(err, store.ErrMalformedData) {
		log.Warn().Err(err).Str("collection", string(c)).Msg("treating malformed collection as empty")
		return []models.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Ping checks the data directory is still there.
func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", store.ErrPersistence, s.dir)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

func load(path string) ([]models.Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", store.ErrPersistence, path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []models.Record{}, nil
	}

	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrMalformedData, path, err)
	}
	if records == nil {
		// a literal null
		records = []models.Record{}
	}
	return records, nil
}

// quarantine moves an unparseable document aside so the next write starts
// a fresh array without destroying what was there.
func quarantine(path string) error {
	target := path + ".corrupt-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("failed to move malformed %s aside: %w", path, err)
	}
	log.Warn().Str("path", path).Str("moved_to", target).Msg("malformed collection moved aside")
	return nil
}
