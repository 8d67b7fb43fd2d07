// Package backend picks the store implementation from the storage URL scheme.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/vincentbai/browsetrace-collector/internal/database"
	"github.com/vincentbai/browsetrace-collector/internal/store"
	"github.com/vincentbai/browsetrace-collector/internal/store/filestore"
	"github.com/vincentbai/browsetrace-collector/internal/store/mongostore"
	"github.com/vincentbai/browsetrace-collector/internal/store/redisstore"
)

type Kind string

const (
	File     Kind = "file"
	SQLite   Kind = "sqlite"
	Postgres Kind = "postgres"
	Mongo    Kind = "mongodb"
	Redis    Kind = "redis"
)

// Config selects and parameterizes a backend.
type Config struct {
	URL string
	// Database is the MongoDB database name or the Redis key prefix.
	Database       string
	ConnectTimeout time.Duration
}

// Opener validates cfg and returns a function that opens the backend. Bad
// configuration fails here; connection errors surface from the opener so
// they can be retried.
func Opener(cfg Config) (store.Opener, Kind, error) {
	kind, target, err := parse(cfg.URL)
	if err != nil {
		return nil, "", err
	}

	withTimeout := func(ctx context.Context) (context.Context, context.CancelFunc) {
		if cfg.ConnectTimeout <= 0 {
			return context.WithCancel(ctx)
		}
		return context.WithTimeout(ctx, cfg.ConnectTimeout)
	}

	var open store.Opener
	switch kind {
	case File:
		open = func(context.Context) (store.Store, error) {
			return filestore.New(target)
		}
	case SQLite:
		open = func(context.Context) (store.Store, error) {
			return database.NewSQLite(target)
		}
	case Postgres:
		open = func(ctx context.Context) (store.Store, error) {
			ctx, cancel := withTimeout(ctx)
			defer cancel()
			return database.NewPostgres(ctx, target)
		}
	case Mongo:
		open = func(ctx context.Context) (store.Store, error) {
			ctx, cancel := withTimeout(ctx)
			defer cancel()
			return mongostore.Connect(ctx, target, cfg.Database)
		}
	case Redis:
		open = func(ctx context.Context) (store.Store, error) {
			ctx, cancel := withTimeout(ctx)
			defer cancel()
			return redisstore.Connect(ctx, target, cfg.Database)
		}
	}
	return open, kind, nil
}

// parse returns the backend kind and what to hand its constructor: a path
// for file and sqlite, the untouched URL otherwise.
func parse(raw string) (Kind, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("storage url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid storage url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "":
		return File, filepath.Clean(raw), nil
	case "file":
		return File, localPath(u), nil
	case "sqlite", "sqlite3":
		return SQLite, localPath(u), nil
	case "postgres", "postgresql":
		return Postgres, raw, nil
	case "mongodb", "mongodb+srv":
		return Mongo, raw, nil
	case "redis", "rediss":
		return Redis, raw, nil
	default:
		return "", "", fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}

// localPath accepts both file:///abs/path and file://relative/path.
func localPath(u *url.URL) string {
	return filepath.Clean(filepath.FromSlash(u.Host + u.Path))
}
