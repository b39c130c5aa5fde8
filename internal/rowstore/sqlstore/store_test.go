package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supporthub/internal/rowstore"
	"supporthub/pkg/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "test.db")}
	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return New(db, cfg.Driver)
}

func TestCreateOpenAndRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	part, err := s.CreatePartition(ctx, "main", "AU", []string{"title", "donateUrl", "source"})
	require.NoError(t, err)

	_, err = s.CreatePartition(ctx, "main", "AU", nil)
	assert.ErrorIs(t, err, rowstore.ErrPartitionExists)

	added, err := part.AddRows(ctx, []map[string]string{
		{"title": "Cafe", "donateUrl": "https://a.example", "source": "s1"},
		{"title": "Bakery", "donateUrl": "https://b.example", "source": "s1"},
	})
	require.NoError(t, err)
	require.Len(t, added, 2)

	reopened, err := s.OpenPartition(ctx, "main", "AU")
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.RowCount())

	rows, err := reopened.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Bakery", rows[1].Get("title"))

	rows[0].Set("source", "")
	require.NoError(t, reopened.SaveRow(ctx, rows[0], "source"))

	again, err := s.OpenPartition(ctx, "main", "AU")
	require.NoError(t, err)
	rows, err = again.Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", rows[0].Get("source"))
	assert.Equal(t, "s1", rows[1].Get("source"))
}

func TestOpenMissingPartition(t *testing.T) {
	s := newTestStore(t)
	_, err := s.OpenPartition(context.Background(), "main", "NZ")
	assert.ErrorIs(t, err, rowstore.ErrPartitionNotFound)
}

func TestOpenFirstPartitionByEmptyTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Replace(ctx, "doc", "First", [][]string{{"a"}}))
	require.NoError(t, s.Replace(ctx, "doc", "Second", [][]string{{"b"}}))

	part, err := s.OpenPartition(ctx, "doc", "")
	require.NoError(t, err)
	assert.Equal(t, "First", part.Title())
}

func TestReplaceOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Replace(ctx, "doc", "", [][]string{
		{"banner"},
		{"Name", "Link"},
		{"Cafe", "https://a.example"},
	}))
	require.NoError(t, s.Replace(ctx, "doc", "", [][]string{
		{"Name", "Link"},
	}))

	part, err := s.OpenPartition(ctx, "doc", "")
	require.NoError(t, err)
	require.NoError(t, part.LoadCells(ctx, rowstore.All))
	assert.Equal(t, 1, part.RowCount())
	assert.Equal(t, "Name", part.Cell(0, 0).Value)
	assert.Equal(t, "", part.Cell(2, 0).Value)

	infos, err := s.ListPartitions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 2, infos[0].Cols)
}

func TestMetaCell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	part, err := s.CreatePartition(ctx, "main", "About", nil)
	require.NoError(t, err)
	part.SetCell(19, 1, "2024-05-01T10:00:00Z")
	require.NoError(t, part.SaveCells(ctx))

	reopened, err := s.OpenPartition(ctx, "main", "About")
	require.NoError(t, err)
	rng, err := rowstore.CellRangeA1("B20")
	require.NoError(t, err)
	require.NoError(t, reopened.LoadCells(ctx, rng))
	assert.Equal(t, "2024-05-01T10:00:00Z", reopened.Cell(19, 1).Value)
}
