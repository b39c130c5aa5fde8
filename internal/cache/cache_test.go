package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supporthub/pkg/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestConcurrentMissesShareOneBuild(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	c := New(func(ctx context.Context) (*models.Directory, error) {
		calls.Add(1)
		<-release
		return &models.Directory{Data: map[string][]models.CanonicalRecord{"AU": {}}}, nil
	}, time.Minute)

	const callers = 20
	var (
		wg        sync.WaitGroup
		dirs      = make([]*models.Directory, callers)
		refreshed atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dir, r, err := c.Get(context.Background(), false)
			assert.NoError(t, err)
			if r {
				refreshed.Add(1)
			}
			dirs[i] = dir
		}(i)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), refreshed.Load(), "only the caller that started the build sees refreshed")
	for _, d := range dirs {
		require.NotNil(t, d)
		assert.Equal(t, dirs[0].BuiltAt, d.BuiltAt)
	}
}

func TestTTLExpiry(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var calls atomic.Int32
	c := New(func(ctx context.Context) (*models.Directory, error) {
		calls.Add(1)
		return &models.Directory{}, nil
	}, 30*time.Minute).WithClock(clk.Now)
	ctx := context.Background()

	dir, refreshed, err := c.Get(ctx, false)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, clk.Now(), dir.BuiltAt)

	clk.Advance(29 * time.Minute)
	_, refreshed, err = c.Get(ctx, false)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, int32(1), calls.Load())

	clk.Advance(time.Minute)
	_, refreshed, err = c.Get(ctx, false)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBypassForcesRebuild(t *testing.T) {
	var calls atomic.Int32
	c := New(func(ctx context.Context) (*models.Directory, error) {
		calls.Add(1)
		return &models.Directory{}, nil
	}, time.Hour)
	ctx := context.Background()

	_, _, err := c.Get(ctx, false)
	require.NoError(t, err)
	_, refreshed, err := c.Get(ctx, true)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, c.Builds())
}

func TestFailedBuildIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	c := New(func(ctx context.Context) (*models.Directory, error) {
		if fail.Load() {
			return nil, errors.New("store unavailable")
		}
		return &models.Directory{}, nil
	}, time.Hour)
	ctx := context.Background()

	_, _, err := c.Get(ctx, false)
	require.Error(t, err)
	assert.Nil(t, c.Peek())

	fail.Store(false)
	dir, refreshed, err := c.Get(ctx, false)
	require.NoError(t, err)
	assert.NotNil(t, dir)
	assert.True(t, refreshed)
	assert.Same(t, dir, c.Peek())
}

func TestWaiterHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := New(func(ctx context.Context) (*models.Directory, error) {
		<-release
		return &models.Directory{}, nil
	}, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.Get(ctx, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvalidate(t *testing.T) {
	c := New(func(ctx context.Context) (*models.Directory, error) {
		return &models.Directory{}, nil
	}, time.Hour)
	_, _, err := c.Get(context.Background(), false)
	require.NoError(t, err)
	c.Invalidate()
	assert.Nil(t, c.Peek())
}
