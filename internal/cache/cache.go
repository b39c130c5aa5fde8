// Package cache serves the aggregated directory from memory. At most one
// rebuild runs at a time; callers that miss while a rebuild is in flight wait
// for that rebuild instead of starting their own.
package cache

import (
	"context"
	"sync"
	"time"

	"supporthub/pkg/models"
)

const DefaultTTL = 30 * time.Minute

// BuildFunc reads the canonical store and produces a fresh directory.
type BuildFunc func(ctx context.Context) (*models.Directory, error)

type call struct {
	done chan struct{}
	dir  *models.Directory
	err  error
}

type Cache struct {
	build BuildFunc
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	current  *models.Directory
	inflight *call
	builds   int
}

func New(build BuildFunc, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{build: build, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source used for TTL checks and BuiltAt.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the cached directory, building it when missing, expired or
// bypassed. refreshed is true only for the caller whose request started the
// build; callers that joined an in-flight build get false.
func (c *Cache) Get(ctx context.Context, bypass bool) (dir *models.Directory, refreshed bool, err error) {
	c.mu.Lock()
	if !bypass && c.current != nil && c.now().Sub(c.current.BuiltAt) < c.ttl {
		dir = c.current
		c.mu.Unlock()
		return dir, false, nil
	}

	cl := c.inflight
	if cl == nil {
		cl = &call{done: make(chan struct{})}
		c.inflight = cl
		c.builds++
		refreshed = true
		// the build outlives the caller that started it
		go c.run(context.WithoutCancel(ctx), cl)
	}
	c.mu.Unlock()

	select {
	case <-cl.done:
		if cl.err != nil {
			return nil, false, cl.err
		}
		return cl.dir, refreshed, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, cl *call) {
	dir, err := c.build(ctx)
	if err == nil && dir != nil {
		dir.BuiltAt = c.now()
	}

	c.mu.Lock()
	if err == nil {
		c.current = dir
	}
	c.inflight = nil
	c.mu.Unlock()

	cl.dir, cl.err = dir, err
	close(cl.done)
}

// Peek returns the cached directory without building, or nil.
func (c *Cache) Peek() *models.Directory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Invalidate drops the cached directory; the next Get rebuilds.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// Builds returns how many builds have been started.
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}
