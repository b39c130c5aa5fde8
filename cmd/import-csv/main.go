package main

import (
	"context"
	"flag"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"supporthub/internal/rowstore/httpcsv"
	"supporthub/internal/rowstore/sqlstore"
	"supporthub/pkg/database"
	"supporthub/pkg/logging"
	"supporthub/pkg/utils"
)

// import-csv loads CSV files into partitions of the database, either one
// file (-in with -key/-title) or a whole mirror tree (-mirror).
func main() {
	var (
		configFile = flag.String("config", "", "config file")
		in         = flag.String("in", "", "CSV file to import")
		key        = flag.String("key", "", "document key of the target partition")
		title      = flag.String("title", "", "partition title (default: file name without .csv)")
		mirror     = flag.String("mirror", "", "import every <key>/<title>.csv under this directory")
	)
	flag.Parse()

	cfg, err := utils.LoadConfig(*configFile)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("load config failed")
	}
	log := logging.Configure(cfg.Log).With().Str("component", "import-csv").Logger()

	if *in == "" && *mirror == "" {
		log.Fatal().Msg("pass -in with -key, or -mirror")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
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

	type job struct{ path, key, title string }
	var jobs []job
	if *in != "" {
		if *key == "" {
			log.Fatal().Msg("-key is required with -in")
		}
		t := *title
		if t == "" {
			t = strings.TrimSuffix(filepath.Base(*in), filepath.Ext(*in))
		}
		jobs = append(jobs, job{*in, *key, t})
	}
	if *mirror != "" {
		found, err := scanMirror(*mirror)
		if err != nil {
			log.Fatal().Err(err).Str("dir", *mirror).Msg("scan mirror failed")
		}
		for _, f := range found {
			jobs = append(jobs, job{f[0], f[1], f[2]})
		}
	}

	for _, j := range jobs {
		f, err := os.Open(j.path)
		if err != nil {
			log.Fatal().Err(err).Str("file", j.path).Msg("open failed")
		}
		records, err := httpcsv.ReadCSV(f)
		f.Close()
		if err != nil {
			log.Fatal().Err(err).Str("file", j.path).Msg("parse failed")
		}
		if err := store.Replace(ctx, j.key, j.title, records); err != nil {
			log.Fatal().Err(err).Str("file", j.path).Msg("import failed")
		}
		log.Info().Str("file", j.path).Str("key", j.key).Str("title", j.title).Int("rows", len(records)).Msg("imported")
	}
}

// scanMirror lists (path, key, title) for every CSV in a mirror tree.
func scanMirror(root string) ([][3]string, error) {
	var out [][3]string
	keys, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if !k.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, k.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".csv") {
				continue
			}
			key, title := unescape(k.Name()), unescape(strings.TrimSuffix(f.Name(), ".csv"))
			if title == "_first" {
				title = ""
			}
			out = append(out, [3]string{filepath.Join(root, k.Name(), f.Name()), key, title})
		}
	}
	return out, nil
}

func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
