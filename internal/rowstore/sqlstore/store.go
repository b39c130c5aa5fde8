// Package sqlstore persists partitions as sparse cells in SQLite or Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"supporthub/internal/rowstore"
	"supporthub/pkg/database"
)

type Store struct {
	DB     *sql.DB
	Driver string
}

func New(db *sql.DB, driver string) *Store {
	if driver == "" {
		driver = database.DriverSQLite
	}
	return &Store{DB: db, Driver: driver}
}

func (s *Store) q(query string) string {
	return database.Rebind(s.Driver, query)
}

func (s *Store) OpenPartition(ctx context.Context, key, title string) (rowstore.Partition, error) {
	row := s.DB.QueryRowContext(ctx, s.q(`
		SELECT title, row_count, column_count
		FROM partitions
		WHERE pkey = ? AND (title = ? OR ? = '')
		ORDER BY ordinal ASC
		LIMIT 1
	`), key, title, title)

	var (
		actual string
		dims   rowstore.Dims
	)
	if err := row.Scan(&actual, &dims.Rows, &dims.Cols); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("open %s/%s: %w", key, title, rowstore.ErrPartitionNotFound)
		}
		return nil, fmt.Errorf("open %s/%s: %w", key, title, err)
	}
	return rowstore.NewSheet(key, actual, dims, &backend{store: s, key: key, title: actual}), nil
}

func (s *Store) CreatePartition(ctx context.Context, key, title string, header []string) (rowstore.Partition, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM partitions WHERE pkey = ? AND title = ?
	`), key, title).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check partition %s/%s: %w", key, title, err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("create %s/%s: %w", key, title, rowstore.ErrPartitionExists)
	}

	dims := rowstore.Dims{}
	if len(header) > 0 {
		dims = rowstore.Dims{Rows: 1, Cols: len(header)}
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO partitions (pkey, title, ordinal, row_count, column_count)
		VALUES (?, ?, (SELECT COALESCE(MAX(ordinal), -1) + 1 FROM partitions WHERE pkey = ?), ?, ?)
	`), key, title, key, dims.Rows, dims.Cols); err != nil {
		return nil, fmt.Errorf("insert partition %s/%s: %w", key, title, err)
	}

	cells := make([]rowstore.Cell, 0, len(header))
	for c, h := range header {
		cells = append(cells, rowstore.Cell{Row: 0, Col: c, Value: h})
	}
	if err := s.writeCells(ctx, tx, key, title, cells); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return rowstore.NewSheet(key, title, dims, &backend{store: s, key: key, title: title}), nil
}

func (s *Store) ListPartitions(ctx context.Context) ([]rowstore.PartitionInfo, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT pkey, title, row_count, column_count
		FROM partitions
		ORDER BY pkey ASC, ordinal ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var out []rowstore.PartitionInfo
	for rows.Next() {
		var p rowstore.PartitionInfo
		if err := rows.Scan(&p.Key, &p.Title, &p.Rows, &p.Cols); err != nil {
			return nil, fmt.Errorf("list partitions scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// Replace overwrites a partition with raw records, creating it if needed.
// import-csv uses this to load community documents.
func (s *Store) Replace(ctx context.Context, key, title string, records [][]string) error {
	cells, dims := rowstore.GridFromRecords(records)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM cells WHERE pkey = ? AND title = ?`), key, title); err != nil {
		return fmt.Errorf("clear cells %s/%s: %w", key, title, err)
	}
	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE partitions SET row_count = ?, column_count = ? WHERE pkey = ? AND title = ?
	`), dims.Rows, dims.Cols, key, title)
	if err != nil {
		return fmt.Errorf("update partition %s/%s: %w", key, title, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO partitions (pkey, title, ordinal, row_count, column_count)
			VALUES (?, ?, (SELECT COALESCE(MAX(ordinal), -1) + 1 FROM partitions WHERE pkey = ?), ?, ?)
		`), key, title, key, dims.Rows, dims.Cols); err != nil {
			return fmt.Errorf("insert partition %s/%s: %w", key, title, err)
		}
	}
	if err := s.writeCells(ctx, tx, key, title, cells); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) writeCells(ctx context.Context, tx *sql.Tx, key, title string, cells []rowstore.Cell) error {
	if len(cells) == 0 {
		return nil
	}
	upsert, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO cells (pkey, title, row_idx, col_idx, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (pkey, title, row_idx, col_idx) DO UPDATE SET
		  value = excluded.value
	`))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	del, err := tx.PrepareContext(ctx, s.q(`
		DELETE FROM cells WHERE pkey = ? AND title = ? AND row_idx = ? AND col_idx = ?
	`))
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer del.Close()

	for _, c := range cells {
		if c.Value == "" {
			if _, err := del.ExecContext(ctx, key, title, c.Row, c.Col); err != nil {
				return fmt.Errorf("clear cell (%d,%d) of %s/%s: %w", c.Row, c.Col, key, title, err)
			}
			continue
		}
		if _, err := upsert.ExecContext(ctx, key, title, c.Row, c.Col, c.Value); err != nil {
			return fmt.Errorf("write cell (%d,%d) of %s/%s: %w", c.Row, c.Col, key, title, err)
		}
	}
	return nil
}

type backend struct {
	store *Store
	key   string
	title string
}

func (b *backend) Load(ctx context.Context, rng rowstore.CellRange) ([]rowstore.Cell, error) {
	rows, err := b.store.DB.QueryContext(ctx, b.store.q(`
		SELECT row_idx, col_idx, value
		FROM cells
		WHERE pkey = ? AND title = ?
		  AND row_idx >= ? AND row_idx < ?
		  AND col_idx >= ? AND col_idx < ?
	`), b.key, b.title, rng.Row0, rng.Row1, rng.Col0, rng.Col1)
	if err != nil {
		return nil, fmt.Errorf("load query: %w", err)
	}
	defer rows.Close()

	var out []rowstore.Cell
	for rows.Next() {
		var c rowstore.Cell
		if err := rows.Scan(&c.Row, &c.Col, &c.Value); err != nil {
			return nil, fmt.Errorf("load scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (b *backend) Write(ctx context.Context, cells []rowstore.Cell, dims rowstore.Dims) error {
	tx, err := b.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := b.store.writeCells(ctx, tx, b.key, b.title, cells); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.store.q(`
		UPDATE partitions SET
		  row_count    = CASE WHEN row_count < ? THEN ? ELSE row_count END,
		  column_count = CASE WHEN column_count < ? THEN ? ELSE column_count END
		WHERE pkey = ? AND title = ?
	`), dims.Rows, dims.Rows, dims.Cols, dims.Cols, b.key, b.title); err != nil {
		return fmt.Errorf("update extent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
