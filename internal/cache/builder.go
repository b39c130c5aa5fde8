package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"supporthub/internal/rowstore"
	"supporthub/internal/schedule"
	"supporthub/pkg/models"
)

var ErrBuildFailed = errors.New("directory build failed")

const DefaultReadConcurrency = 2

// Builder reads every region's canonical partition into a Directory.
type Builder struct {
	Store       rowstore.Store
	DocKey      string
	Concurrency int
	// Regions lists the configured regions; it is called on every build so
	// the list follows source registry reloads. Partitions of DocKey found in
	// the store are read too, except SkipTitles.
	Regions    func() []string
	SkipTitles []string

	log zerolog.Logger
}

func NewBuilder(store rowstore.Store, docKey string, regions func() []string, log zerolog.Logger) *Builder {
	return &Builder{
		Store:       store,
		DocKey:      docKey,
		Concurrency: DefaultReadConcurrency,
		Regions:     regions,
		SkipTitles:  []string{schedule.DefaultMetaTitle},
		log:         log,
	}
}

// Build is a BuildFunc. A region that cannot be read is logged and left
// out; the build fails only when no region could be read.
func (b *Builder) Build(ctx context.Context) (*models.Directory, error) {
	regions := b.regions(ctx)
	records := make([][]models.CanonicalRecord, len(regions))
	errs := make([]error, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	limit := b.Concurrency
	if limit <= 0 {
		limit = DefaultReadConcurrency
	}
	g.SetLimit(limit)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			recs, err := b.readRegion(gctx, region)
			if err != nil {
				b.log.Error().Err(err).Str("region", region).Msg("read canonical partition failed")
				errs[i] = err
				return nil
			}
			records[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	dir := &models.Directory{Data: make(map[string][]models.CanonicalRecord, len(regions))}
	seen := make(map[models.SourceRef]struct{})
	failed := 0
	for i, region := range regions {
		if errs[i] != nil {
			failed++
			continue
		}
		dir.Data[region] = records[i]
		for _, rec := range records[i] {
			if rec.Source == "" {
				continue
			}
			ref := models.SourceRef{Region: region, URL: rec.Source}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			dir.Sources = append(dir.Sources, ref)
		}
	}
	if len(regions) > 0 && failed == len(regions) {
		return nil, fmt.Errorf("%w: all %d regions unreadable: %w", ErrBuildFailed, failed, errors.Join(errs...))
	}
	if dir.Sources == nil {
		dir.Sources = []models.SourceRef{}
	}
	return dir, nil
}

func (b *Builder) regions(ctx context.Context) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(r string) {
		if _, ok := seen[r]; ok || r == "" {
			return
		}
		for _, skip := range b.SkipTitles {
			if r == skip {
				return
			}
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if b.Regions != nil {
		for _, r := range b.Regions() {
			add(r)
		}
	}
	parts, err := b.Store.ListPartitions(ctx)
	if err != nil {
		if !errors.Is(err, rowstore.ErrUnsupported) {
			b.log.Warn().Err(err).Msg("list canonical partitions failed")
		}
		return out
	}
	for _, p := range parts {
		if p.Key == b.DocKey {
			add(p.Title)
		}
	}
	return out
}

func (b *Builder) readRegion(ctx context.Context, region string) ([]models.CanonicalRecord, error) {
	part, err := b.Store.OpenPartition(ctx, b.DocKey, region)
	if errors.Is(err, rowstore.ErrPartitionNotFound) {
		// not reconciled yet
		return []models.CanonicalRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := part.Rows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.CanonicalRecord, 0, len(rows))
	for _, row := range rows {
		rec := models.CanonicalFromValues(row.Values)
		if rec.Hide || rec.DonateURL == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
