package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"supporthub/internal/engine"
	"supporthub/pkg/logging"
	"supporthub/pkg/utils"
)

func main() {
	var (
		configFile = flag.String("config", "", "config file")
		force      = flag.Bool("force", false, "run even if the last run is recent")
		timeout    = flag.Duration("timeout", 30*time.Minute, "give up after this long")
		printJSON  = flag.Bool("json", false, "print the run result as JSON")
	)
	flag.Parse()

	cfg, err := utils.LoadConfig(*configFile)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("load config failed")
	}
	log := logging.Configure(cfg.Log).With().Str("component", "reconcile").Logger()

	eng, err := engine.New(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("engine init failed")
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	res, err := eng.Runner.Run(ctx, *force)
	if err != nil {
		log.Fatal().Err(err).Msg("reconciliation failed")
	}

	if *printJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	}
	if res.Skipped {
		log.Info().Msg("not due; pass -force to run anyway")
		return
	}
	for _, rr := range res.Regions {
		t := rr.Totals()
		log.Info().
			Str("region", rr.Region).
			Int("inserted", t.Inserted).
			Int("adopted", t.Adopted).
			Int("retired", t.Retired).
			Int("enriched", t.Enriched).
			Int("failed_sources", rr.Failed()).
			Msg("region summary")
	}
	if len(res.Failed) > 0 {
		os.Exit(1)
	}
}
