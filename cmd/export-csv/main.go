package main

import (
	"context"
	"errors"
	"flag"
	"path/filepath"
	"time"

	"supporthub/internal/rowstore"
	"supporthub/internal/rowstore/httpcsv"
	"supporthub/internal/rowstore/sqlstore"
	"supporthub/internal/schedule"
	"supporthub/pkg/database"
	"supporthub/pkg/logging"
	"supporthub/pkg/models"
	"supporthub/pkg/utils"
)

// export-csv writes each canonical region partition to <out>/<region>.csv
// with the canonical columns, hidden rows included.
func main() {
	var (
		configFile = flag.String("config", "", "config file")
		outDir     = flag.String("out", "data/export", "output directory")
	)
	flag.Parse()

	cfg, err := utils.LoadConfig(*configFile)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("load config failed")
	}
	log := logging.Configure(cfg.Log).With().Str("component", "export-csv").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("open db failed")
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("db migrate failed")
	}
	store := sqlstore.New(db, cfg.DB.Driver)

	parts, err := store.ListPartitions(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("list partitions failed")
	}

	exported := 0
	for _, p := range parts {
		if p.Key != cfg.Engine.DocKey || p.Title == schedule.DefaultMetaTitle {
			continue
		}
		n, err := exportRegion(ctx, store, p, filepath.Join(*outDir, p.Title+".csv"))
		if err != nil {
			log.Fatal().Err(err).Str("region", p.Title).Msg("export failed")
		}
		log.Info().Str("region", p.Title).Int("rows", n).Msg("exported")
		exported++
	}
	if exported == 0 {
		log.Warn().Str("doc", cfg.Engine.DocKey).Msg("no canonical partitions found")
	}
}

func exportRegion(ctx context.Context, store rowstore.Store, p rowstore.PartitionInfo, path string) (int, error) {
	part, err := store.OpenPartition(ctx, p.Key, p.Title)
	if err != nil {
		return 0, err
	}
	rows, err := part.Rows(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 && part.RowCount() == 0 {
		return 0, errors.New("partition has no header")
	}

	records := [][]string{models.CanonicalColumns}
	for _, row := range rows {
		rec := make([]string, len(models.CanonicalColumns))
		for i, col := range models.CanonicalColumns {
			rec[i] = row.Get(col)
		}
		records = append(records, rec)
	}
	return len(rows), httpcsv.WriteCSVFile(path, records)
}
