package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"supporthub/internal/feed"
	"supporthub/pkg/models"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("reconciliation already in progress")

const DefaultRegionConcurrency = 1

// Gate decides whether a run is due and records completed runs.
type Gate interface {
	IsDue(ctx context.Context, force bool) (bool, error)
	MarkCompleted(ctx context.Context) error
}

type RunResult struct {
	ID       string         `json:"id"`
	Skipped  bool           `json:"skipped"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Regions  []RegionResult `json:"regions"`
	// Failed lists regions whose canonical partition could not be used.
	Failed map[string]string `json:"failed,omitempty"`
}

// Runner runs whole reconciliation passes, one at a time per process.
type Runner struct {
	Reconciler *Reconciler
	Gate       Gate
	// Sources returns the current descriptors; it is called at the start of
	// every run.
	Sources           func() []models.SourceDescriptor
	Feed              feed.Publisher
	RegionConcurrency int

	busy atomic.Bool
	log  zerolog.Logger
}

func NewRunner(rec *Reconciler, gate Gate, sources func() []models.SourceDescriptor, log zerolog.Logger) *Runner {
	return &Runner{
		Reconciler:        rec,
		Gate:              gate,
		Sources:           sources,
		Feed:              feed.Discard,
		RegionConcurrency: DefaultRegionConcurrency,
		log:               log,
	}
}

// Busy reports whether a run is in progress.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Trigger starts a run in the background. It returns ErrBusy without
// starting anything when a run is already in progress. The run is detached
// from ctx's cancellation.
func (r *Runner) Trigger(ctx context.Context, force bool) error {
	if !r.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	go func() {
		defer r.busy.Store(false)
		if _, err := r.run(context.WithoutCancel(ctx), force); err != nil {
			r.log.Error().Err(err).Msg("background reconciliation failed")
		}
	}()
	return nil
}

// Run executes a pass synchronously, or returns ErrBusy.
func (r *Runner) Run(ctx context.Context, force bool) (*RunResult, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.busy.Store(false)
	return r.run(ctx, force)
}

func (r *Runner) run(ctx context.Context, force bool) (*RunResult, error) {
	res := &RunResult{ID: uuid.NewString(), Started: time.Now().UTC()}
	log := r.log.With().Str("run", res.ID).Logger()

	due, err := r.Gate.IsDue(ctx, force)
	if err != nil {
		log.Warn().Err(err).Msg("schedule gate unreadable, running anyway")
		due = true
	}
	if !due {
		log.Info().Msg("reconciliation not due yet")
		res.Skipped = true
		res.Finished = time.Now().UTC()
		r.publish(feed.Event{Type: feed.TypeRunSkipped, RunID: res.ID})
		return res, nil
	}
	if force {
		log.Info().Msg("reconciliation forced")
	}
	r.publish(feed.Event{Type: feed.TypeRunStarted, RunID: res.ID})

	regions, byRegion := models.GroupByRegion(r.Sources())
	results := make([]*RegionResult, len(regions))

	var (
		mu     sync.Mutex
		failed = make(map[string]string)
	)
	g := new(errgroup.Group)
	limit := r.RegionConcurrency
	if limit <= 0 {
		limit = DefaultRegionConcurrency
	}
	g.SetLimit(limit)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			rr, err := r.Reconciler.ReconcileRegion(ctx, region, byRegion[region])
			if err != nil {
				log.Error().Err(err).Str("region", region).Msg("region failed")
				mu.Lock()
				failed[region] = err.Error()
				mu.Unlock()
				r.publish(feed.Event{Type: feed.TypeRegionFailed, RunID: res.ID, Region: region, Error: err.Error()})
				return nil
			}
			results[i] = rr
			t := rr.Totals()
			r.publish(feed.Event{
				Type:     feed.TypeRegionCompleted,
				RunID:    res.ID,
				Region:   region,
				Inserted: t.Inserted,
				Adopted:  t.Adopted,
				Retired:  t.Retired,
				Enriched: t.Enriched,
			})
			return nil
		})
	}
	// region errors are collected above; the group never fails
	_ = g.Wait()

	for _, rr := range results {
		if rr != nil {
			res.Regions = append(res.Regions, *rr)
		}
	}
	if len(failed) > 0 {
		res.Failed = failed
	}

	if err := r.Gate.MarkCompleted(ctx); err != nil {
		log.Error().Err(err).Msg("record completion failed")
	}
	res.Finished = time.Now().UTC()
	log.Info().
		Int("regions", len(regions)).
		Int("failed", len(failed)).
		Dur("took", res.Finished.Sub(res.Started)).
		Msg("reconciliation finished")
	r.publish(feed.Event{Type: feed.TypeRunCompleted, RunID: res.ID})
	return res, nil
}

func (r *Runner) publish(ev feed.Event) {
	if r.Feed == nil {
		return
	}
	r.Feed.Publish(ev)
}
