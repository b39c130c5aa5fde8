// Package rowstore abstracts the tabular document store that holds both the
// community source partitions and the canonical region partitions.
//
// A partition is a grid of text cells. Row 0 is the header for row-level
// access (Rows, AddRows, SaveRow); cell-level access (LoadCells, Cell,
// SetCell, SaveCells) addresses the grid directly and is used for header
// discovery and metadata cells.
package rowstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrPartitionNotFound = errors.New("partition not found")
	ErrPartitionExists   = errors.New("partition already exists")
	ErrReadOnly          = errors.New("partition is read only")
	ErrUnsupported       = errors.New("operation not supported by store")
)

// Store opens partitions by document key and optional title. An empty title
// selects the first partition of the document.
type Store interface {
	OpenPartition(ctx context.Context, key, title string) (Partition, error)
	CreatePartition(ctx context.Context, key, title string, header []string) (Partition, error)
	ListPartitions(ctx context.Context) ([]PartitionInfo, error)
}

// Partition is safe for concurrent use.
type Partition interface {
	Key() string
	Title() string
	RowCount() int
	ColumnCount() int

	LoadCells(ctx context.Context, rng CellRange) error
	Cell(row, col int) Cell
	SetCell(row, col int, value string)
	SaveCells(ctx context.Context) error

	Rows(ctx context.Context) ([]*Row, error)
	AddRows(ctx context.Context, values []map[string]string) ([]*Row, error)
	// SaveRow persists the given columns of row, or every header column when
	// none are named.
	SaveRow(ctx context.Context, row *Row, columns ...string) error
}

type PartitionInfo struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Rows  int    `json:"rows"`
	Cols  int    `json:"cols"`
}

type Cell struct {
	Row   int
	Col   int
	Value string
}

// Row is a header-keyed view of one grid row. Index is the grid row index.
type Row struct {
	Index  int
	Values map[string]string
}

func (r *Row) Get(col string) string {
	if r == nil || r.Values == nil {
		return ""
	}
	return r.Values[col]
}

func (r *Row) Set(col, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	r.Values[col] = value
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	out := &Row{Index: r.Index, Values: make(map[string]string, len(r.Values))}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}

// CellRange is a half-open rectangle [Row0,Row1) x [Col0,Col1). The zero
// value, or any Row1/Col1 <= 0, extends to the partition edge.
type CellRange struct {
	Row0, Col0 int
	Row1, Col1 int
}

// All covers the whole partition.
var All = CellRange{}

func (r CellRange) clamp(rows, cols int) CellRange {
	out := r
	if out.Row1 <= 0 || out.Row1 > rows {
		out.Row1 = rows
	}
	if out.Col1 <= 0 || out.Col1 > cols {
		out.Col1 = cols
	}
	if out.Row0 < 0 {
		out.Row0 = 0
	}
	if out.Col0 < 0 {
		out.Col0 = 0
	}
	return out
}

func (r CellRange) Contains(row, col int) bool {
	return row >= r.Row0 && col >= r.Col0 &&
		(r.Row1 <= 0 || row < r.Row1) &&
		(r.Col1 <= 0 || col < r.Col1)
}

func (r CellRange) String() string {
	return fmt.Sprintf("[%d:%d,%d:%d]", r.Row0, r.Row1, r.Col0, r.Col1)
}
