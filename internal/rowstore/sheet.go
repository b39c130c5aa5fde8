package rowstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Dims is the declared extent of a partition.
type Dims struct {
	Rows int
	Cols int
}

// Backend is the persistence side of a Sheet. Write receives the cells to
// persist together with the partition extent after the write.
type Backend interface {
	Load(ctx context.Context, rng CellRange) ([]Cell, error)
	Write(ctx context.Context, cells []Cell, dims Dims) error
}

type cellKey struct{ row, col int }

// Sheet implements Partition over a Backend. Backends only move cells; the
// header and row bookkeeping lives here.
type Sheet struct {
	key     string
	title   string
	backend Backend

	mu    sync.Mutex
	dims  Dims
	cells map[cellKey]string
	dirty map[cellKey]struct{}
	full  bool
}

func NewSheet(key, title string, dims Dims, backend Backend) *Sheet {
	return &Sheet{
		key:     key,
		title:   title,
		backend: backend,
		dims:    dims,
		cells:   make(map[cellKey]string),
		dirty:   make(map[cellKey]struct{}),
	}
}

func (s *Sheet) Key() string   { return s.key }
func (s *Sheet) Title() string { return s.title }

func (s *Sheet) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dims.Rows
}

func (s *Sheet) ColumnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dims.Cols
}

func (s *Sheet) LoadCells(ctx context.Context, rng CellRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, rng)
}

func (s *Sheet) loadLocked(ctx context.Context, rng CellRange) error {
	rng = rng.clamp(s.dims.Rows, s.dims.Cols)
	cells, err := s.backend.Load(ctx, rng)
	if err != nil {
		return fmt.Errorf("load cells %s of %s: %w", rng, s.name(), err)
	}
	for k := range s.cells {
		if _, pending := s.dirty[k]; !pending && rng.Contains(k.row, k.col) {
			delete(s.cells, k)
		}
	}
	for _, c := range cells {
		k := cellKey{c.Row, c.Col}
		if _, pending := s.dirty[k]; pending {
			continue
		}
		s.cells[k] = c.Value
	}
	if rng.Row0 == 0 && rng.Col0 == 0 && rng.Row1 >= s.dims.Rows && rng.Col1 >= s.dims.Cols {
		s.full = true
	}
	return nil
}

func (s *Sheet) Cell(row, col int) Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Cell{Row: row, Col: col, Value: s.cells[cellKey{row, col}]}
}

func (s *Sheet) SetCell(row, col int, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := cellKey{row, col}
	s.cells[k] = value
	s.dirty[k] = struct{}{}
}

func (s *Sheet) SaveCells(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		return nil
	}
	dims := s.dims
	cells := make([]Cell, 0, len(s.dirty))
	for k := range s.dirty {
		cells = append(cells, Cell{Row: k.row, Col: k.col, Value: s.cells[k]})
		dims = grow(dims, k.row, k.col)
	}
	sortCells(cells)
	if err := s.backend.Write(ctx, cells, dims); err != nil {
		return fmt.Errorf("save cells of %s: %w", s.name(), err)
	}
	s.dims = dims
	s.dirty = make(map[cellKey]struct{})
	return nil
}

func (s *Sheet) Rows(ctx context.Context) ([]*Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx, All); err != nil {
		return nil, err
	}
	header := s.headerLocked()
	var rows []*Row
	for r := 1; r < s.dims.Rows; r++ {
		row := &Row{Index: r, Values: make(map[string]string, len(header))}
		blank := true
		for col, label := range header {
			if label == "" {
				continue
			}
			if _, seen := row.Values[label]; seen {
				continue
			}
			v := s.cells[cellKey{r, col}]
			if v != "" {
				blank = false
			}
			row.Values[label] = v
		}
		if !blank {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *Sheet) AddRows(ctx context.Context, values []map[string]string) ([]*Row, error) {
	if len(values) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHeaderLocked(ctx); err != nil {
		return nil, err
	}

	header := s.headerLocked()
	index := headerIndex(header)
	var extra []string
	for _, v := range values {
		for col := range v {
			if _, ok := index[col]; !ok && col != "" {
				index[col] = -1
				extra = append(extra, col)
			}
		}
	}
	sort.Strings(extra)

	var cells []Cell
	for _, col := range extra {
		idx := len(header)
		header = append(header, col)
		index[col] = idx
		cells = append(cells, Cell{Row: 0, Col: idx, Value: col})
	}

	dims := s.dims
	if dims.Rows == 0 {
		dims.Rows = 1
	}
	if len(header) > dims.Cols {
		dims.Cols = len(header)
	}

	rows := make([]*Row, 0, len(values))
	for _, v := range values {
		r := dims.Rows
		dims.Rows++
		row := &Row{Index: r, Values: make(map[string]string, len(v))}
		for col, val := range v {
			row.Values[col] = val
			if val != "" {
				cells = append(cells, Cell{Row: r, Col: index[col], Value: val})
			}
		}
		rows = append(rows, row)
	}

	if err := s.backend.Write(ctx, cells, dims); err != nil {
		return nil, fmt.Errorf("add %d rows to %s: %w", len(values), s.name(), err)
	}
	for _, c := range cells {
		s.cells[cellKey{c.Row, c.Col}] = c.Value
	}
	s.dims = dims
	return rows, nil
}

func (s *Sheet) SaveRow(ctx context.Context, row *Row, columns ...string) error {
	if row == nil || row.Index < 1 {
		return fmt.Errorf("save row in %s: row has no position", s.name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHeaderLocked(ctx); err != nil {
		return err
	}

	header := s.headerLocked()
	index := headerIndex(header)
	if len(columns) == 0 {
		for _, label := range header {
			if label != "" {
				columns = append(columns, label)
			}
		}
	}

	dims := s.dims
	var cells []Cell
	for _, col := range columns {
		idx, ok := index[col]
		if !ok {
			idx = len(header)
			header = append(header, col)
			index[col] = idx
			cells = append(cells, Cell{Row: 0, Col: idx, Value: col})
		}
		cells = append(cells, Cell{Row: row.Index, Col: idx, Value: row.Get(col)})
		dims = grow(dims, row.Index, idx)
	}

	if err := s.backend.Write(ctx, cells, dims); err != nil {
		return fmt.Errorf("save row %d of %s: %w", row.Index, s.name(), err)
	}
	for _, c := range cells {
		s.cells[cellKey{c.Row, c.Col}] = c.Value
	}
	s.dims = dims
	return nil
}

func (s *Sheet) ensureHeaderLocked(ctx context.Context) error {
	if s.full || s.dims.Rows == 0 {
		return nil
	}
	return s.loadLocked(ctx, CellRange{Row0: 0, Row1: 1})
}

func (s *Sheet) headerLocked() []string {
	if s.dims.Rows == 0 {
		return nil
	}
	header := make([]string, s.dims.Cols)
	for c := 0; c < s.dims.Cols; c++ {
		header[c] = strings.TrimSpace(s.cells[cellKey{0, c}])
	}
	return header
}

func (s *Sheet) name() string {
	if s.title == "" {
		return s.key
	}
	return s.key + "/" + s.title
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, label := range header {
		if label == "" {
			continue
		}
		if _, ok := index[label]; !ok {
			index[label] = i
		}
	}
	return index
}

func grow(d Dims, row, col int) Dims {
	if row+1 > d.Rows {
		d.Rows = row + 1
	}
	if col+1 > d.Cols {
		d.Cols = col + 1
	}
	return d
}

func sortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Row != cells[j].Row {
			return cells[i].Row < cells[j].Row
		}
		return cells[i].Col < cells[j].Col
	})
}

// GridFromRecords builds a cell list from a rectangular record set such as a
// parsed CSV file, returning the cells that carry a value and the extent.
func GridFromRecords(records [][]string) ([]Cell, Dims) {
	var (
		cells []Cell
		dims  Dims
	)
	dims.Rows = len(records)
	for r, rec := range records {
		if len(rec) > dims.Cols {
			dims.Cols = len(rec)
		}
		for c, v := range rec {
			if v != "" {
				cells = append(cells, Cell{Row: r, Col: c, Value: v})
			}
		}
	}
	return cells, dims
}
