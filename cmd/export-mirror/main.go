package main

import (
	"context"
	"flag"
	"time"

	"supporthub/internal/rowstore"
	"supporthub/internal/rowstore/httpcsv"
	"supporthub/internal/rowstore/sqlstore"
	"supporthub/pkg/database"
	"supporthub/pkg/logging"
	"supporthub/pkg/utils"
)

// export-mirror dumps partitions cell for cell into the mirror layout that
// mirror-server serves, so the httpcsv source store can read them.
func main() {
	var (
		configFile = flag.String("config", "", "config file")
		outDir     = flag.String("out", httpcsv.DefaultMirrorRoot, "mirror root")
		key        = flag.String("key", "", "only export partitions of this document")
	)
	flag.Parse()

	cfg, err := utils.LoadConfig(*configFile)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("load config failed")
	}
	log := logging.Configure(cfg.Log).With().Str("component", "export-mirror").Logger()

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
	for _, p := range parts {
		if *key != "" && p.Key != *key {
			continue
		}
		part, err := store.OpenPartition(ctx, p.Key, p.Title)
		if err != nil {
			log.Fatal().Err(err).Str("key", p.Key).Str("title", p.Title).Msg("open failed")
		}
		if err := part.LoadCells(ctx, rowstore.All); err != nil {
			log.Fatal().Err(err).Str("key", p.Key).Str("title", p.Title).Msg("load failed")
		}
		records := make([][]string, part.RowCount())
		for r := range records {
			records[r] = make([]string, part.ColumnCount())
			for c := range records[r] {
				records[r][c] = part.Cell(r, c).Value
			}
		}
		path := httpcsv.MirrorPath(*outDir, p.Key, p.Title)
		if err := httpcsv.WriteCSVFile(path, records); err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("write failed")
		}
		log.Info().Str("file", path).Int("rows", len(records)).Msg("mirrored")
	}
}
