package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supporthub/pkg/models"
)

const twoSources = `
sources:
  - region: AU
    partitionKey: doc-a
    partitionTitle: AUS
    fieldMap:
      title: Name
      donateUrl: Link
  - region: US
    partitionKey: doc-b
    url: https://example.org/us-list
    fieldMap:
      donateUrl: Donate
`

func TestParse(t *testing.T) {
	descs, err := Parse([]byte(twoSources))
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "AUS", descs[0].PartitionTitle)
	assert.Equal(t, "Name", descs[0].FieldMap[models.ColTitle])
	assert.Equal(t, "https://example.org/us-list", descs[1].ID())
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`
sources:
  - region: AU
    partitionKey: doc-a
    feildMap:
      donateUrl: Link
`))
	assert.Error(t, err)
}

func TestParseValidates(t *testing.T) {
	_, err := Parse([]byte(`
sources:
  - region: AU
    partitionKey: doc-a
    fieldMap:
      title: Name
`))
	assert.ErrorContains(t, err, "sources[0]")
}

func TestMarshalRoundTrip(t *testing.T) {
	descs, err := Parse([]byte(twoSources))
	require.NoError(t, err)
	data, err := Marshal(descs)
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, descs, again)
}

func TestShippedSourcesFileIsValid(t *testing.T) {
	descs, err := Load(filepath.Join("..", "..", "config", "sources.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, descs)
}

func TestRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoSources), 0o644))

	reg, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"AU", "US"}, reg.Regions())

	cur := reg.Current()
	cur[0].Region = "mutated"
	assert.Equal(t, "AU", reg.Current()[0].Region, "Current returns a copy")

	_, err = Open(filepath.Join(t.TempDir(), "missing.yaml"), zerolog.Nop())
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoSources), 0o644))
	reg, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Watch(ctx))

	// a broken edit keeps the previous set
	require.NoError(t, os.WriteFile(path, []byte("sources: [\n"), 0o644))
	time.Sleep(500 * time.Millisecond)
	assert.Len(t, reg.Current(), 2)

	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - region: UK
    partitionKey: doc-c
    fieldMap:
      donateUrl: Link
`), 0o644))
	assert.Eventually(t, func() bool {
		return len(reg.Regions()) == 1 && reg.Regions()[0] == "UK"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStatic(t *testing.T) {
	reg := Static([]models.SourceDescriptor{{Region: "NZ"}})
	assert.Equal(t, []string{"NZ"}, reg.Regions())
	assert.NoError(t, reg.Watch(context.Background()))
}
