// Package schedule decides whether a reconciliation run is due. The last
// completion time lives in one cell of the canonical document so every
// process sharing the store sees the same gate.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"supporthub/internal/rowstore"
)

const (
	DefaultMetaTitle = "About"
	DefaultCell      = "B20"
	DefaultInterval  = 30 * time.Minute
)

type Gate struct {
	Store     rowstore.Store
	DocKey    string
	MetaTitle string
	Cell      string
	Interval  time.Duration

	now func() time.Time
}

func NewGate(store rowstore.Store, docKey string, interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{
		Store:     store,
		DocKey:    docKey,
		MetaTitle: DefaultMetaTitle,
		Cell:      DefaultCell,
		Interval:  interval,
		now:       time.Now,
	}
}

// WithClock replaces the time source; tests use it to move time forward.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// IsDue reports whether a run should execute. An empty or unreadable
// timestamp counts as due.
func (g *Gate) IsDue(ctx context.Context, force bool) (bool, error) {
	if force {
		return true, nil
	}
	last, err := g.LastCompleted(ctx)
	if err != nil {
		return true, err
	}
	if last.IsZero() {
		return true, nil
	}
	return !g.now().Before(last.Add(g.Interval)), nil
}

// LastCompleted returns the stored timestamp, or the zero time when none is
// stored or it does not parse.
func (g *Gate) LastCompleted(ctx context.Context) (time.Time, error) {
	row, col, err := rowstore.ParseA1(g.cellRef())
	if err != nil {
		return time.Time{}, err
	}
	part, err := g.Store.OpenPartition(ctx, g.DocKey, g.title())
	if errors.Is(err, rowstore.ErrPartitionNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("open gate partition: %w", err)
	}
	rng, _ := rowstore.CellRangeA1(g.cellRef())
	if err := part.LoadCells(ctx, rng); err != nil {
		return time.Time{}, fmt.Errorf("read gate cell: %w", err)
	}
	raw := strings.TrimSpace(part.Cell(row, col).Value)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, nil
	}
	return ts, nil
}

// MarkCompleted stores the current time, creating the metadata partition if
// the document does not have one yet.
func (g *Gate) MarkCompleted(ctx context.Context) error {
	row, col, err := rowstore.ParseA1(g.cellRef())
	if err != nil {
		return err
	}
	part, err := g.Store.OpenPartition(ctx, g.DocKey, g.title())
	if errors.Is(err, rowstore.ErrPartitionNotFound) {
		part, err = g.Store.CreatePartition(ctx, g.DocKey, g.title(), nil)
	}
	if err != nil {
		return fmt.Errorf("open gate partition: %w", err)
	}
	part.SetCell(row, col, g.now().UTC().Format(time.RFC3339))
	if err := part.SaveCells(ctx); err != nil {
		return fmt.Errorf("write gate cell: %w", err)
	}
	return nil
}

func (g *Gate) title() string {
	if g.MetaTitle == "" {
		return DefaultMetaTitle
	}
	return g.MetaTitle
}

func (g *Gate) cellRef() string {
	if g.Cell == "" {
		return DefaultCell
	}
	return g.Cell
}
