package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supporthub/internal/rowstore/memory"
	"supporthub/internal/sources"
	"supporthub/pkg/models"
	"supporthub/pkg/utils"
)

func engineConfig() utils.EngineConfig {
	return utils.EngineConfig{
		DocKey:       "main",
		SourceStore:  SourceStoreCanonical,
		CacheTTL:     time.Minute,
		GateInterval: 30 * time.Minute,
		GateCell:     "B20",
	}
}

func TestAssembleRunAndServe(t *testing.T) {
	store := memory.New()
	store.Put("community-au", "", [][]string{
		{"Support these businesses"},
		{"Name", "Link", "State"},
		{"Cafe", "https://cafe.example", "NSW"},
		{"Bakery", "HTTPS://bakery.example", "VIC"},
	})
	reg := sources.Static([]models.SourceDescriptor{{
		Region:       "AU",
		PartitionKey: "community-au",
		FieldMap: map[string]string{
			models.ColTitle:     "Name",
			models.ColDonateURL: "Link",
			models.ColState:     "State",
		},
	}})

	eng, err := Assemble(engineConfig(), store, reg, nil)
	require.NoError(t, err)
	assert.Nil(t, eng.Enricher)
	ctx := context.Background()

	res, err := eng.Runner.Run(ctx, false)
	require.NoError(t, err)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, 2, res.Regions[0].Totals().Inserted)

	last, err := eng.Gate.LastCompleted(ctx)
	require.NoError(t, err)
	assert.False(t, last.IsZero())

	res, err = eng.Runner.Run(ctx, false)
	require.NoError(t, err)
	assert.True(t, res.Skipped, "gate blocks an immediate second run")

	dir, refreshed, err := eng.Cache.Get(ctx, false)
	require.NoError(t, err)
	assert.True(t, refreshed)
	require.Len(t, dir.Data["AU"], 2)
	assert.Equal(t, "https://bakery.example", dir.Data["AU"][1].DonateURL)
	assert.Equal(t, []models.SourceRef{{Region: "AU", URL: reg.Current()[0].ID()}}, dir.Sources)
	_, ok := dir.Data["About"]
	assert.False(t, ok)
}

func TestAssembleRejectsUnknownSourceStore(t *testing.T) {
	ec := engineConfig()
	ec.SourceStore = "ftp"
	_, err := Assemble(ec, memory.New(), sources.Static(nil), nil)
	assert.Error(t, err)
}

func TestAssembleWithEnrichment(t *testing.T) {
	ec := engineConfig()
	ec.EnrichEnabled = true
	ec.SourceStore = SourceStoreHTTPCSV
	eng, err := Assemble(ec, memory.New(), sources.Static(nil), nil)
	require.NoError(t, err)
	assert.NotNil(t, eng.Enricher)
	assert.NoError(t, eng.Close())
}
