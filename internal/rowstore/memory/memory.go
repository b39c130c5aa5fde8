// Package memory is an in-process rowstore.Store. It backs tests and the
// api-server's demo mode.
package memory

import (
	"context"
	"fmt"
	"sync"

	"supporthub/internal/rowstore"
)

type Store struct {
	mu     sync.Mutex
	tables []*table
}

func New() *Store {
	return &Store{}
}

type table struct {
	key   string
	title string

	mu    sync.Mutex
	dims  rowstore.Dims
	cells map[[2]int]string
}

func (s *Store) OpenPartition(ctx context.Context, key, title string) (rowstore.Partition, error) {
	t := s.find(key, title)
	if t == nil {
		return nil, fmt.Errorf("open %s/%s: %w", key, title, rowstore.ErrPartitionNotFound)
	}
	t.mu.Lock()
	dims := t.dims
	t.mu.Unlock()
	return rowstore.NewSheet(t.key, t.title, dims, t), nil
}

func (s *Store) CreatePartition(ctx context.Context, key, title string, header []string) (rowstore.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tables {
		if t.key == key && t.title == title {
			return nil, fmt.Errorf("create %s/%s: %w", key, title, rowstore.ErrPartitionExists)
		}
	}
	t := &table{key: key, title: title, cells: make(map[[2]int]string)}
	if len(header) > 0 {
		for c, h := range header {
			t.cells[[2]int{0, c}] = h
		}
		t.dims = rowstore.Dims{Rows: 1, Cols: len(header)}
	}
	s.tables = append(s.tables, t)
	return rowstore.NewSheet(key, title, t.dims, t), nil
}

func (s *Store) ListPartitions(ctx context.Context) ([]rowstore.PartitionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rowstore.PartitionInfo, 0, len(s.tables))
	for _, t := range s.tables {
		t.mu.Lock()
		out = append(out, rowstore.PartitionInfo{Key: t.key, Title: t.title, Rows: t.dims.Rows, Cols: t.dims.Cols})
		t.mu.Unlock()
	}
	return out, nil
}

// Put creates or replaces a partition from raw rows. The first row is
// whatever the caller supplies; banner rows above a header are allowed.
func (s *Store) Put(key, title string, records [][]string) {
	cells, dims := rowstore.GridFromRecords(records)
	t := &table{key: key, title: title, dims: dims, cells: make(map[[2]int]string, len(cells))}
	for _, c := range cells {
		t.cells[[2]int{c.Row, c.Col}] = c.Value
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tables {
		if existing.key == key && existing.title == title {
			s.tables[i] = t
			return
		}
	}
	s.tables = append(s.tables, t)
}

// Snapshot returns the partition as a dense grid.
func (s *Store) Snapshot(key, title string) [][]string {
	t := s.find(key, title)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]string, t.dims.Rows)
	for r := range out {
		out[r] = make([]string, t.dims.Cols)
		for c := range out[r] {
			out[r][c] = t.cells[[2]int{r, c}]
		}
	}
	return out
}

func (s *Store) find(key, title string) *table {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tables {
		if t.key != key {
			continue
		}
		if title == "" || t.title == title {
			return t
		}
	}
	return nil
}

func (t *table) Load(ctx context.Context, rng rowstore.CellRange) ([]rowstore.Cell, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []rowstore.Cell
	for k, v := range t.cells {
		if rng.Contains(k[0], k[1]) {
			out = append(out, rowstore.Cell{Row: k[0], Col: k[1], Value: v})
		}
	}
	return out, nil
}

func (t *table) Write(ctx context.Context, cells []rowstore.Cell, dims rowstore.Dims) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range cells {
		k := [2]int{c.Row, c.Col}
		if c.Value == "" {
			delete(t.cells, k)
			continue
		}
		t.cells[k] = c.Value
	}
	if dims.Rows > t.dims.Rows {
		t.dims.Rows = dims.Rows
	}
	if dims.Cols > t.dims.Cols {
		t.dims.Cols = dims.Cols
	}
	return nil
}
