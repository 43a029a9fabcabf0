package geocode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when a limiter sleeps on it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func newFakeLimiter(limit int, window, margin time.Duration) (*RateLimiter, *fakeClock) {
	clock := newFakeClock()
	l := NewRateLimiter(limit, window, margin)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestRateLimiter_Defaults(t *testing.T) {
	l := NewRateLimiter(0, 0, -1)
	assert.Equal(t, DefaultRateLimit, l.limit)
	assert.Equal(t, DefaultRateWindow, l.window)
	assert.Equal(t, time.Duration(0), l.margin)
}

func TestRateLimiter_GrantsUpToQuotaWithoutWaiting(t *testing.T) {
	l, clock := newFakeLimiter(3, time.Second, 100*time.Millisecond)
	start := clock.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Equal(t, start, clock.Now())

	snap := l.Snapshot()
	assert.Equal(t, 3, snap.RequestCount)
	assert.Equal(t, start.Add(time.Second), snap.WindowResetAt)
}

func TestRateLimiter_WaitsForWindowPlusMargin(t *testing.T) {
	l, clock := newFakeLimiter(1, time.Second, 100*time.Millisecond)
	start := clock.Now()

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))

	assert.Equal(t, start.Add(1100*time.Millisecond), clock.Now())
}

func TestRateLimiter_SlidingWindowProperty(t *testing.T) {
	const limit = 3
	const window = time.Second

	// Bursts land right before and after window boundaries.
	gaps := []time.Duration{
		0, 0, 0, 0, 990 * time.Millisecond, 0, 20 * time.Millisecond, 0, 0, 0,
		3 * time.Second, 0, 0, 0, 0, 999 * time.Millisecond, 0, 0, 0,
	}

	l, clock := newFakeLimiter(limit, window, 0)
	var grants []time.Time
	for _, gap := range gaps {
		clock.Advance(gap)
		require.NoError(t, l.Acquire(context.Background()))
		grants = append(grants, clock.Now())
	}

	for i := 0; i+limit < len(grants); i++ {
		span := grants[i+limit].Sub(grants[i])
		assert.GreaterOrEqual(t, span, window, "grants %d..%d fit in %s", i, i+limit, span)
	}
}

func TestRateLimiter_SnapshotResetsAfterWindow(t *testing.T) {
	l, clock := newFakeLimiter(2, time.Second, 0)
	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, 2, l.Snapshot().RequestCount)

	clock.Advance(time.Second)
	snap := l.Snapshot()
	assert.Equal(t, 0, snap.RequestCount)
	assert.Equal(t, clock.Now(), snap.WindowResetAt)
}

func TestRateLimiter_ContextCancelled(t *testing.T) {
	l := NewRateLimiter(1, time.Hour, 0)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Snapshot().RequestCount)
}

func TestRateLimiter_ConcurrentCallersShareQuota(t *testing.T) {
	const limit = 3
	const window = 150 * time.Millisecond

	l := NewRateLimiter(limit, window, 5*time.Millisecond)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(context.Background()))
		}()
	}
	wg.Wait()

	// Ten grants at three per window need at least three full windows.
	assert.GreaterOrEqual(t, time.Since(start), 3*window)
}
