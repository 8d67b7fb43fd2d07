package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/vincentbai/browsetrace-collector/internal/models"
	"github.com/vincentbai/browsetrace-collector/internal/store"
)

// Database stores each collection in its own table, one JSON payload per row.
// Row ids give insertion order.
type Database struct {
	db      *sqlx.DB
	dialect Dialect
}

var _ store.Store = (*Database)(nil)

// NewSQLite opens (creating if needed) a SQLite database file.
func NewSQLite(databasePath string) (*Database, error) {
	if dir := filepath.Dir(databasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL + busy timeout to avoid "database is locked"
	dsn := databasePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sqlx.Open(SQLite.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	return newDatabase(db, SQLite)
}

// NewPostgres connects to a PostgreSQL server and makes sure it answers.
func NewPostgres(ctx context.Context, url string) (*Database, error) {
	db, err := sqlx.Open(Postgres.DriverName, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return newDatabase(db, Postgres)
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db *sql.DB, d Dialect) (*Database, error) {
	return newDatabase(sqlx.NewDb(db, d.DriverName), d)
}

func newDatabase(db *sqlx.DB, d Dialect) (*Database, error) {
	if err := createTables(db, d); err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db, dialect: d}, nil
}

func createTables(db *sqlx.DB, d Dialect) error {
	for _, statement := range d.schema() {
		if _, err := db.Exec(statement); err != nil {
			return fmt.Errorf("failed to create database tables: %w", err)
		}
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
	return nil
}

func (d *Database) Append(ctx context.Context, c store.Collection, r models.Record) error {
	if err := store.Check(c); err != nil {
		return err
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal record: %w", store.ErrPersistence, err)
	}

	query := d.db.Rebind(fmt.Sprintf(`INSERT INTO %s(payload) VALUES(?)`, c.Name()))
	if _, err := d.db.ExecContext(ctx, query, string(payload)); err != nil {
		return fmt.Errorf("%w: failed to insert into %s: %w", store.ErrPersistence, c.Name(), err)
	}
	return nil
}

func (d *Database) List(ctx context.Context, c store.Collection) ([]models.Record, error) {
	if err := store.Check(c); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, payload FROM %s ORDER BY id`, c.Name()))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query %s: %w", store.ErrPersistence, c.Name(), err)
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("%w: failed to scan %s row: %w", store.ErrPersistence, c.Name(), err)
		}

		var record models.Record
		if err := json.Unmarshal([]byte(payload), &record); err != nil || record == nil {
			log.Warn().Err(err).Str("table", c.Name()).Int64("id", id).Msg("skipping malformed row")
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", store.ErrPersistence, c.Name(), err)
	}
	return records, nil
}
