package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supporthub/internal/enrich"
	"supporthub/internal/rowstore"
	"supporthub/internal/rowstore/memory"
	"supporthub/pkg/models"
)

const docKey = "main"

// fakeExtractor serves candidate lists keyed by partition key.
type fakeExtractor struct {
	mu      sync.Mutex
	records map[string][]models.CandidateRecord
	errs    map[string]error
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		records: make(map[string][]models.CandidateRecord),
		errs:    make(map[string]error),
	}
}

func (f *fakeExtractor) set(key string, recs ...models.CandidateRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[key] = recs
	delete(f.errs, key)
}

func (f *fakeExtractor) fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = err
}

func (f *fakeExtractor) Extract(ctx context.Context, d models.SourceDescriptor) ([]models.CandidateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[d.PartitionKey]; err != nil {
		return nil, err
	}
	return f.records[d.PartitionKey], nil
}

func src(region, key string) models.SourceDescriptor {
	return models.SourceDescriptor{
		Region:       region,
		PartitionKey: key,
		FieldMap:     map[string]string{models.ColDonateURL: "Link"},
	}
}

func rec(title, url string) models.CandidateRecord {
	return models.CandidateRecord{Title: title, DonateURL: url}
}

// canonical returns the region's rows keyed by donate URL.
func canonical(t *testing.T, store rowstore.Store, region string) map[string]*rowstore.Row {
	t.Helper()
	part, err := store.OpenPartition(context.Background(), docKey, region)
	require.NoError(t, err)
	rows, err := part.Rows(context.Background())
	require.NoError(t, err)
	out := make(map[string]*rowstore.Row, len(rows))
	for _, r := range rows {
		_, dup := out[r.Get(models.ColDonateURL)]
		require.False(t, dup, "duplicate donate URL %s", r.Get(models.ColDonateURL))
		out[r.Get(models.ColDonateURL)] = r
	}
	return out
}

func newTestReconciler(store rowstore.Store, ex Extractor) *Reconciler {
	return NewReconciler(store, ex, nil, docKey, zerolog.Nop())
}

func TestReconcileCreatesPartitionAndInserts(t *testing.T) {
	store := memory.New()
	ex := newFakeExtractor()
	ex.set("s1", rec("Cafe", "https://cafe.example"), rec("Bakery", "https://bakery.example"))
	r := newTestReconciler(store, ex)

	res, err := r.ReconcileRegion(context.Background(), "AU", []models.SourceDescriptor{src("AU", "s1")})
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, 2, res.Sources[0].Inserted)

	snap := store.Snapshot(docKey, "AU")
	require.NotEmpty(t, snap)
	assert.Equal(t, models.CanonicalColumns, snap[0])

	rows := canonical(t, store, "AU")
	require.Len(t, rows, 2)
	assert.Equal(t, src("AU", "s1").ID(), rows["https://cafe.example"].Get(models.ColSource))
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := memory.New()
	ex := newFakeExtractor()
	ex.set("s1", rec("Cafe", "https://cafe.example"), rec("Cafe again", "https://cafe.example"))
	r := newTestReconciler(store, ex)
	sources := []models.SourceDescriptor{src("AU", "s1")}

	first, err := r.ReconcileRegion(context.Background(), "AU", sources)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sources[0].Inserted, "duplicates within a source collapse")
	before := store.Snapshot(docKey, "AU")

	second, err := r.ReconcileRegion(context.Background(), "AU", sources)
	require.NoError(t, err)
	assert.Equal(t, SourceResult{Source: sources[0].ID()}, second.Sources[0])
	assert.Equal(t, before, store.Snapshot(docKey, "AU"))
}

func TestReconcileAdoptsUnattributedRows(t *testing.T) {
	store := memory.New()
	store.Put(docKey, "AU", [][]string{
		models.CanonicalColumns,
		{"Hand added", "", "https://cafe.example", "", "", "https://cafe.example/logo.png", "", ""},
	})
	ex := newFakeExtractor()
	ex.set("s1", rec("Cafe", "https://cafe.example"))
	r := newTestReconciler(store, ex)

	res, err := r.ReconcileRegion(context.Background(), "AU", []models.SourceDescriptor{src("AU", "s1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sources[0].Adopted)
	assert.Equal(t, 0, res.Sources[0].Inserted)

	row := canonical(t, store, "AU")["https://cafe.example"]
	assert.Equal(t, "Hand added", row.Get(models.ColTitle), "operator fields are not overwritten")
	assert.Equal(t, src("AU", "s1").ID(), row.Get(models.ColSource))
}

func TestReconcileDoesNotStealRows(t *testing.T) {
	store := memory.New()
	ex := newFakeExtractor()
	ex.set("s1", rec("Cafe", "https://cafe.example"))
	ex.set("s2", rec("Cafe (other list)", "https://cafe.example"), rec("Deli", "https://deli.example"))
	r := newTestReconciler(store, ex)
	s1, s2 := src("US", "s1"), src("US", "s2")

	res, err := r.ReconcileRegion(context.Background(), "US", []models.SourceDescriptor{s1, s2})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sources[0].Inserted)
	assert.Equal(t, 1, res.Sources[1].Inserted)
	assert.Equal(t, 0, res.Sources[1].Adopted)

	rows := canonical(t, store, "US")
	require.Len(t, rows, 2)
	assert.Equal(t, s1.ID(), rows["https://cafe.example"].Get(models.ColSource))
	assert.Equal(t, "Cafe", rows["https://cafe.example"].Get(models.ColTitle), "a later source never rewrites an owned row")
	assert.Equal(t, s2.ID(), rows["https://deli.example"].Get(models.ColSource))

	// s1 drops the cafe; s2 still lists it and picks it up in the same pass
	ex.set("s1")
	res, err = r.ReconcileRegion(context.Background(), "US", []models.SourceDescriptor{s1, s2})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sources[0].Retired)
	assert.Equal(t, 1, res.Sources[1].Adopted)

	rows = canonical(t, store, "US")
	require.Len(t, rows, 2)
	assert.Equal(t, s2.ID(), rows["https://cafe.example"].Get(models.ColSource))
}

func TestReconcileRetirementIsReversible(t *testing.T) {
	store := memory.New()
	ex := newFakeExtractor()
	ex.set("s1", rec("Cafe", "https://cafe.example"), rec("Bakery", "https://bakery.example"))
	r := newTestReconciler(store, ex)
	sources := []models.SourceDescriptor{src("AU", "s1")}
	ctx := context.Background()

	_, err := r.ReconcileRegion(ctx, "AU", sources)
	require.NoError(t, err)

	ex.set("s1", rec("Cafe", "https://cafe.example"))
	res, err := r.ReconcileRegion(ctx, "AU", sources)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sources[0].Retired)

	rows := canonical(t, store, "AU")
	require.Len(t, rows, 2, "retired rows stay in the partition")
	assert.Equal(t, "", rows["https://bakery.example"].Get(models.ColSource))
	assert.Equal(t, "Bakery", rows["https://bakery.example"].Get(models.ColTitle))

	ex.set("s1", rec("Cafe", "https://cafe.example"), rec("Bakery", "https://bakery.example"))
	res, err = r.ReconcileRegion(ctx, "AU", sources)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sources[0].Adopted)
	assert.Equal(t, 0, res.Sources[0].Inserted)
	assert.Len(t, canonical(t, store, "AU"), 2)
}

func TestReconcileSourceFailureIsIsolated(t *testing.T) {
	store := memory.New()
	ex := newFakeExtractor()
	ex.set("s1", rec("Cafe", "https://cafe.example"))
	ex.set("s2", rec("Deli", "https://deli.example"))
	r := newTestReconciler(store, ex)
	ctx := context.Background()
	sources := []models.SourceDescriptor{src("UK", "s1"), src("UK", "s2")}

	_, err := r.ReconcileRegion(ctx, "UK", sources)
	require.NoError(t, err)

	ex.fail("s1", errors.New("document unavailable"))
	res, err := r.ReconcileRegion(ctx, "UK", sources)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed())
	assert.Contains(t, res.Sources[0].Err, "document unavailable")
	assert.Equal(t, 0, res.Sources[0].Retired, "a failed source retires nothing")

	rows := canonical(t, store, "UK")
	assert.Equal(t, sources[0].ID(), rows["https://cafe.example"].Get(models.ColSource))
}

// flakyStore fails row saves while failSaves is positive.
type flakyStore struct {
	*memory.Store
	failSaves atomic.Int32
	failAdds  atomic.Bool
}

type flakyPartition struct {
	rowstore.Partition
	store *flakyStore
}

func (s *flakyStore) OpenPartition(ctx context.Context, key, title string) (rowstore.Partition, error) {
	p, err := s.Store.OpenPartition(ctx, key, title)
	if err != nil {
		return nil, err
	}
	return &flakyPartition{Partition: p, store: s}, nil
}

func (p *flakyPartition) SaveRow(ctx context.Context, row *rowstore.Row, cols ...string) error {
	if p.store.failSaves.Add(-1) >= 0 {
		return errors.New("rate limited")
	}
	return p.Partition.SaveRow(ctx, row, cols...)
}

func (p *flakyPartition) AddRows(ctx context.Context, values []map[string]string) ([]*rowstore.Row, error) {
	if p.store.failAdds.Load() {
		return nil, errors.New("write refused")
	}
	return p.Partition.AddRows(ctx, values)
}

func TestReconcileRetriesSaveOnce(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	store.Put(docKey, "AU", [][]string{
		models.CanonicalColumns,
		{"Cafe", "", "https://cafe.example", "", "", "", "", ""},
		{"Deli", "", "https://deli.example", "", "", "", "", ""},
	})
	ex := newFakeExtractor()
	ex.set("s1", rec("Cafe", "https://cafe.example"), rec("Deli", "https://deli.example"))
	r := newTestReconciler(store, ex)

	// first save fails and is retried; the second row then fails twice
	store.failSaves.Store(1)
	res, err := r.ReconcileRegion(context.Background(), "AU", []models.SourceDescriptor{src("AU", "s1")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sources[0].Adopted)
	assert.Equal(t, 0, res.Sources[0].SaveFailures)

	store.Put(docKey, "AU", [][]string{
		models.CanonicalColumns,
		{"Cafe", "", "https://cafe.example", "", "", "", "", ""},
		{"Deli", "", "https://deli.example", "", "", "", "", ""},
	})
	store.failSaves.Store(2)
	res, err = r.ReconcileRegion(context.Background(), "AU", []models.SourceDescriptor{src("AU", "s1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sources[0].Adopted)
	assert.Equal(t, 1, res.Sources[0].SaveFailures)
	assert.Empty(t, res.Sources[0].Err)
}

func TestReconcileFailedInsertKeepsOwnership(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	ex := newFakeExtractor()
	ex.set("s1", rec("Cafe", "https://cafe.example"))
	r := newTestReconciler(store, ex)
	sources := []models.SourceDescriptor{src("AU", "s1")}
	ctx := context.Background()

	_, err := r.ReconcileRegion(ctx, "AU", sources)
	require.NoError(t, err)

	store.failAdds.Store(true)
	ex.set("s1", rec("Deli", "https://deli.example"))
	res, err := r.ReconcileRegion(ctx, "AU", sources)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Sources[0].Err)
	assert.Equal(t, 0, res.Sources[0].Retired)

	rows := canonical(t, store, "AU")
	require.Len(t, rows, 1)
	assert.Equal(t, sources[0].ID(), rows["https://cafe.example"].Get(models.ColSource))
}

type staticFinder string

func (f staticFinder) Find(ctx context.Context, pageURL string) (string, error) {
	return string(f), nil
}

func TestReconcileEnrichesMissingLogos(t *testing.T) {
	store := memory.New()
	store.Put(docKey, "AU", [][]string{
		models.CanonicalColumns,
		{"Has logo", "", "https://kept.example", "", "", "https://kept.example/mine.png", "", ""},
	})
	ex := newFakeExtractor()
	ex.set("s1",
		rec("Cafe", "https://cafe.example"),
		rec("Has logo", "https://kept.example"),
		models.CandidateRecord{Title: "Given up", DonateURL: "https://none.example", Logo: models.LogoNone},
	)
	e := enrich.New(staticFinder("https://cdn.example/logo.png"), nil, nil, enrich.DefaultOptions(), zerolog.Nop())
	r := NewReconciler(store, ex, enrich.NewPool(e, 2), docKey, zerolog.Nop())

	res, err := r.ReconcileRegion(context.Background(), "AU", []models.SourceDescriptor{src("AU", "s1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sources[0].Enriched)

	rows := canonical(t, store, "AU")
	assert.Equal(t, "https://cdn.example/logo.png", rows["https://cafe.example"].Get(models.ColLogo))
	assert.Equal(t, "https://kept.example/mine.png", rows["https://kept.example"].Get(models.ColLogo))
	assert.Equal(t, models.LogoNone, rows["https://none.example"].Get(models.ColLogo))
	assert.Equal(t, src("AU", "s1").ID(), rows["https://cafe.example"].Get(models.ColSource))
}
