// Package engine assembles the reconciliation and cache components from
// configuration. Commands share it so api-server and reconcile wire the
// same graph.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"supporthub/internal/cache"
	"supporthub/internal/enrich"
	"supporthub/internal/feed"
	"supporthub/internal/ingest"
	"supporthub/internal/reconcile"
	"supporthub/internal/rowstore"
	"supporthub/internal/rowstore/httpcsv"
	"supporthub/internal/rowstore/sqlstore"
	"supporthub/internal/schedule"
	"supporthub/internal/sources"
	"supporthub/pkg/database"
	"supporthub/pkg/logging"
	"supporthub/pkg/utils"
)

const (
	SourceStoreCanonical = "canonical"
	SourceStoreHTTPCSV   = "httpcsv"
)

type Engine struct {
	DB       *sql.DB
	Store    *sqlstore.Store
	Sources  *sources.Registry
	Gate     *schedule.Gate
	Runner   *reconcile.Runner
	Cache    *cache.Cache
	Builder  *cache.Builder
	Enricher *enrich.Enricher
}

// New opens the database, migrates it and wires every component. feedPub
// may be nil.
func New(cfg *utils.Config, feedPub feed.Publisher) (*Engine, error) {
	db, err := database.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	reg, err := sources.Open(cfg.Engine.SourcesFile, logging.Component("sources"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := sqlstore.New(db, cfg.DB.Driver)
	e, err := Assemble(cfg.Engine, store, reg, feedPub)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	e.DB = db
	e.Store = store
	return e, nil
}

// Assemble wires the components over an already opened canonical store.
func Assemble(ec utils.EngineConfig, store rowstore.Store, reg *sources.Registry, feedPub feed.Publisher) (*Engine, error) {
	var sourceStore rowstore.Store
	switch strings.ToLower(ec.SourceStore) {
	case "", SourceStoreCanonical:
		sourceStore = store
	case SourceStoreHTTPCSV:
		sourceStore = httpcsv.New(ec.SourceURLTemplate)
	default:
		return nil, fmt.Errorf("unknown source store %q", ec.SourceStore)
	}

	var (
		pool     *enrich.Pool
		enricher *enrich.Enricher
	)
	if ec.EnrichEnabled {
		fetcher := enrich.NewHTTPFetcher(enrich.FetcherOptions{RequestsPerSecond: ec.FetchRPS})
		enricher = enrich.New(
			enrich.NewHTMLFinder(fetcher),
			fetcher,
			enrich.NewHTTPValidator(0, 0),
			enrich.Options{SocialDomain: ec.SocialDomain, AvatarURLTemplate: ec.AvatarURLTemplate},
			logging.Component("enrich"),
		)
		pool = enrich.NewPool(enricher, ec.EnrichConcurrency)
	}

	rec := reconcile.NewReconciler(store, ingest.New(sourceStore), pool, ec.DocKey, logging.Component("reconcile"))
	if ec.SourceIDTemplate != "" {
		rec.IDTemplate = ec.SourceIDTemplate
	}

	gate := schedule.NewGate(store, ec.DocKey, ec.GateInterval)
	if ec.GateCell != "" {
		gate.Cell = ec.GateCell
	}

	builder := cache.NewBuilder(store, ec.DocKey, reg.Regions, logging.Component("cache"))
	if ec.ReadConcurrency > 0 {
		builder.Concurrency = ec.ReadConcurrency
	}
	dirCache := cache.New(builder.Build, ec.CacheTTL)

	runner := reconcile.NewRunner(rec, gate, reg.Current, logging.Component("runner"))
	runner.RegionConcurrency = ec.RegionConcurrency
	if feedPub != nil {
		runner.Feed = feedPub
	}

	return &Engine{
		Sources:  reg,
		Gate:     gate,
		Runner:   runner,
		Cache:    dirCache,
		Builder:  builder,
		Enricher: enricher,
	}, nil
}

// Watch follows edits of the sources file until ctx is done.
func (e *Engine) Watch(ctx context.Context, log zerolog.Logger) {
	if err := e.Sources.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("sources file not watched")
	}
}

func (e *Engine) Close() error {
	if e.DB == nil {
		return nil
	}
	return e.DB.Close()
}
