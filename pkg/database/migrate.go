package database

import (
	"database/sql"
	"fmt"
)

// The schema is shared by SQLite and Postgres. A partition is a document key
// plus sheet title; cells are stored sparsely.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS partitions (
		pkey         TEXT    NOT NULL,
		title        TEXT    NOT NULL DEFAULT '',
		ordinal      INTEGER NOT NULL DEFAULT 0,
		row_count    INTEGER NOT NULL DEFAULT 0,
		column_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (pkey, title)
	)`,
	`CREATE TABLE IF NOT EXISTS cells (
		pkey    TEXT    NOT NULL,
		title   TEXT    NOT NULL DEFAULT '',
		row_idx INTEGER NOT NULL,
		col_idx INTEGER NOT NULL,
		value   TEXT    NOT NULL,
		PRIMARY KEY (pkey, title, row_idx, col_idx)
	)`,
}

func Migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
