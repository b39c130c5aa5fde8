// Package reconcile merges community sources into the canonical region
// partitions and runs whole reconciliation passes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"supporthub/internal/enrich"
	"supporthub/internal/rowstore"
	"supporthub/pkg/models"
)

// Extractor yields the candidate records of one source.
type Extractor interface {
	Extract(ctx context.Context, d models.SourceDescriptor) ([]models.CandidateRecord, error)
}

type SourceResult struct {
	Source   string `json:"source"`
	Inserted int    `json:"inserted"`
	Adopted  int    `json:"adopted"`
	Retired  int    `json:"retired"`
	Enriched int    `json:"enriched"`
	// SaveFailures counts row saves that failed after their retry.
	SaveFailures int    `json:"save_failures,omitempty"`
	Err          string `json:"error,omitempty"`
}

type RegionResult struct {
	Region  string         `json:"region"`
	Sources []SourceResult `json:"sources"`
}

// Totals sums the per-source counts.
func (r RegionResult) Totals() SourceResult {
	var t SourceResult
	for _, s := range r.Sources {
		t.Inserted += s.Inserted
		t.Adopted += s.Adopted
		t.Retired += s.Retired
		t.Enriched += s.Enriched
		t.SaveFailures += s.SaveFailures
	}
	return t
}

// Failed reports how many sources aborted.
func (r RegionResult) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Err != "" {
			n++
		}
	}
	return n
}

type Reconciler struct {
	Store     rowstore.Store
	Extractor Extractor
	// Pool enriches rows missing a logo; nil disables enrichment.
	Pool *enrich.Pool
	// DocKey is the canonical document; each region is a partition titled
	// with the region code.
	DocKey string
	// IDTemplate renders a source's provenance id; see SourceDescriptor.ID.
	IDTemplate string

	log zerolog.Logger
}

func NewReconciler(store rowstore.Store, extractor Extractor, pool *enrich.Pool, docKey string, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		Store:      store,
		Extractor:  extractor,
		Pool:       pool,
		DocKey:     docKey,
		IDTemplate: models.DefaultDocumentURLTemplate,
		log:        log,
	}
}

// regionState is the canonical partition of one region, loaded once per
// pass and kept current as sources insert rows.
type regionState struct {
	part   rowstore.Partition
	rows   []*rowstore.Row
	byURL  map[string]*rowstore.Row
	queued map[*rowstore.Row]struct{}
}

func (st *regionState) add(row *rowstore.Row) {
	st.rows = append(st.rows, row)
	key := strings.TrimSpace(row.Get(models.ColDonateURL))
	if key == "" {
		return
	}
	if _, dup := st.byURL[key]; !dup {
		st.byURL[key] = row
	}
}

// ReconcileRegion processes the region's sources one after another. A source
// that fails is recorded in the result and skipped; the error return is
// reserved for the canonical partition itself being unusable.
func (r *Reconciler) ReconcileRegion(ctx context.Context, region string, sources []models.SourceDescriptor) (*RegionResult, error) {
	log := r.log.With().Str("region", region).Logger()

	part, err := r.openCanonical(ctx, region)
	if err != nil {
		return nil, err
	}
	rows, err := part.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("load canonical rows for %s: %w", region, err)
	}

	st := &regionState{
		part:   part,
		byURL:  make(map[string]*rowstore.Row, len(rows)),
		queued: make(map[*rowstore.Row]struct{}),
	}
	for _, row := range rows {
		st.add(row)
	}

	res := &RegionResult{Region: region}
	for i, src := range sources {
		id := src.IDWithTemplate(r.IDTemplate)
		log.Info().Int("index", i+1).Int("of", len(sources)).Str("source", id).Msg("processing source")

		sr := r.reconcileSource(ctx, st, src, id, log)
		if sr.Err != "" {
			log.Error().Str("source", id).Str("error", sr.Err).Msg("source aborted")
		} else {
			log.Info().
				Str("source", id).
				Int("inserted", sr.Inserted).
				Int("adopted", sr.Adopted).
				Int("retired", sr.Retired).
				Int("enriched", sr.Enriched).
				Msg("source reconciled")
		}
		res.Sources = append(res.Sources, sr)
	}
	return res, nil
}

func (r *Reconciler) reconcileSource(ctx context.Context, st *regionState, src models.SourceDescriptor, id string, log zerolog.Logger) SourceResult {
	sr := SourceResult{Source: id}

	candidates, err := r.Extractor.Extract(ctx, src)
	if err != nil {
		sr.Err = err.Error()
		return sr
	}

	// rows this source owned before the pass; whatever is left at the end is
	// no longer listed
	toDelete := make(map[*rowstore.Row]struct{})
	for _, row := range st.rows {
		if row.Get(models.ColSource) == id {
			toDelete[row] = struct{}{}
		}
	}

	var batch *enrich.Batch
	if r.Pool != nil {
		batch = r.Pool.Batch()
	}
	enqueue := func(row *rowstore.Row) {
		if batch == nil || !models.NeedsLogo(row.Get(models.ColLogo)) {
			return
		}
		if _, done := st.queued[row]; done {
			return
		}
		st.queued[row] = struct{}{}
		// the enricher gets its own copy; it only writes the logo column
		batch.Go(ctx, st.part, row.Clone())
	}

	var (
		adopted []*rowstore.Row
		inserts []map[string]string
		pending = make(map[string]struct{})
	)
	for _, cand := range candidates {
		existing, ok := st.byURL[cand.DonateURL]
		if !ok {
			if _, dup := pending[cand.DonateURL]; dup {
				continue
			}
			pending[cand.DonateURL] = struct{}{}
			values := cand.Values()
			values[models.ColSource] = id
			inserts = append(inserts, values)
			continue
		}

		if existing.Get(models.ColSource) == "" {
			existing.Set(models.ColSource, id)
			adopted = append(adopted, existing)
		}
		delete(toDelete, existing)
		enqueue(existing)
	}

	if len(inserts) > 0 {
		added, err := st.part.AddRows(ctx, inserts)
		if err != nil {
			// nothing was written; leave the owned rows alone so a failed
			// insert does not also retire them
			for _, row := range adopted {
				row.Set(models.ColSource, "")
			}
			sr.Err = fmt.Sprintf("insert %d rows: %v", len(inserts), err)
			if batch != nil {
				sr.Enriched = batch.Wait()
			}
			return sr
		}
		for _, row := range added {
			st.add(row)
			enqueue(row)
		}
		sr.Inserted = len(added)
	}

	for _, row := range adopted {
		if err := enrich.SaveWithRetry(ctx, st.part, row, models.ColSource); err != nil {
			log.Error().Err(err).Str("url", row.Get(models.ColDonateURL)).Msg("save adopted row failed")
			sr.SaveFailures++
			continue
		}
		sr.Adopted++
	}

	for _, row := range st.rows {
		if _, gone := toDelete[row]; !gone {
			continue
		}
		row.Set(models.ColSource, "")
		if err := enrich.SaveWithRetry(ctx, st.part, row, models.ColSource); err != nil {
			log.Error().Err(err).Str("url", row.Get(models.ColDonateURL)).Msg("retire row failed")
			sr.SaveFailures++
			continue
		}
		sr.Retired++
	}

	if batch != nil {
		sr.Enriched = batch.Wait()
	}
	return sr
}

func (r *Reconciler) openCanonical(ctx context.Context, region string) (rowstore.Partition, error) {
	part, err := r.Store.OpenPartition(ctx, r.DocKey, region)
	if err == nil {
		return part, nil
	}
	if !errors.Is(err, rowstore.ErrPartitionNotFound) {
		return nil, fmt.Errorf("open canonical partition %s: %w", region, err)
	}
	part, err = r.Store.CreatePartition(ctx, r.DocKey, region, models.CanonicalColumns)
	if errors.Is(err, rowstore.ErrPartitionExists) {
		// another process created it in the meantime
		part, err = r.Store.OpenPartition(ctx, r.DocKey, region)
	}
	if err != nil {
		return nil, fmt.Errorf("create canonical partition %s: %w", region, err)
	}
	r.log.Info().Str("region", region).Msg("created canonical partition")
	return part, nil
}
