package database

import (
	"fmt"

	"github.com/vincentbai/browsetrace-collector/internal/store"
)

// Dialect captures the schema differences between the supported SQL engines.
// Placeholders are rebound by sqlx from the driver name.
type Dialect struct {
	Name       string
	DriverName string
	// tableSchema returns the CREATE TABLE statement for a collection table
	tableSchema func(table string) string
}

var (
	SQLite = Dialect{
		Name:       "sqlite",
		DriverName: "sqlite",
		tableSchema: func(table string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
	  id         INTEGER PRIMARY KEY AUTOINCREMENT,
	  payload    TEXT    NOT NULL CHECK (json_valid(payload)),
	  created_at TEXT    NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
	)`, table)
		},
	}

	Postgres = Dialect{
		Name:       "postgres",
		DriverName: "postgres",
		tableSchema: func(table string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
	  id         BIGSERIAL   PRIMARY KEY,
	  payload    TEXT        NOT NULL,
	  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, table)
		},
	}
)

func (d Dialect) schema() []string {
	statements := make([]string, 0, len(store.Collections))
	for _, c := range store.Collections {
		statements = append(statements, d.tableSchema(c.Name()))
	}
	return statements
}
