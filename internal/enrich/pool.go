package enrich

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"supporthub/internal/rowstore"
)

const DefaultConcurrency = 4

// Pool bounds the number of in-flight enrichments across a whole run.
type Pool struct {
	enricher *Enricher
	sem      *semaphore.Weighted
}

func NewPool(e *Enricher, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool{enricher: e, sem: semaphore.NewWeighted(int64(concurrency))}
}

// Batch groups the enrichments queued for one source so the reconciler can
// flush them before moving on.
type Batch struct {
	pool *Pool
	wg   sync.WaitGroup
	done atomic.Int64
}

func (p *Pool) Batch() *Batch {
	return &Batch{pool: p}
}

// Go queues row for enrichment without blocking the caller.
func (b *Batch) Go(ctx context.Context, part rowstore.Partition, row *rowstore.Row) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.pool.sem.Acquire(ctx, 1); err != nil {
			// run is shutting down; the row keeps its empty logo for next time
			return
		}
		defer b.pool.sem.Release(1)
		b.pool.enricher.Enrich(ctx, part, row)
		b.done.Add(1)
	}()
}

// Wait blocks until every queued row is processed and returns how many were.
func (b *Batch) Wait() int {
	b.wg.Wait()
	return int(b.done.Load())
}
