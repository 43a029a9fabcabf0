package geocode

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointsync/internal/resilience"
)

// Nominatim's public usage policy allows one request per second.
const (
	DefaultRateLimit  = 1
	DefaultRateWindow = time.Second
	DefaultRateMargin = 100 * time.Millisecond
)

// RateWindow is a point-in-time view of the limiter's budget.
type RateWindow struct {
	RequestCount  int
	WindowResetAt time.Time
}

// RateLimiter grants at most limit requests in any rolling window. It keeps a
// log of grant times, so bursts at a window boundary cannot exceed the quota.
// One limiter is shared by every caller of a Client. rate.Limiter is not used
// because a token bucket with burst limit can exceed limit grants within one
// window and has no per-wait margin.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	margin time.Duration
	grants []time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewRateLimiter creates a limiter allowing limit requests per window. When
// the quota is exhausted, callers wait until the oldest grant leaves the
// window plus margin.
func NewRateLimiter(limit int, window, margin time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	if margin < 0 {
		margin = 0
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		margin: margin,
		now:    time.Now,
		sleep:  resilience.Sleep,
	}
}

// Acquire blocks until a request slot is available and reserves it. Only the
// calling goroutine waits. Returns the context error if ctx ends first.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "geocode: acquire rate limit slot")
		}

		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.grants) < l.limit {
			l.grants = append(l.grants, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.grants[0].Add(l.window).Sub(now) + l.margin
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return eris.Wrap(err, "geocode: acquire rate limit slot")
		}
	}
}

// Snapshot reports the number of grants inside the current window and when
// the oldest of them expires.
func (l *RateLimiter) Snapshot() RateWindow {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.grants) == 0 {
		return RateWindow{WindowResetAt: now}
	}
	return RateWindow{
		RequestCount:  len(l.grants),
		WindowResetAt: l.grants[0].Add(l.window),
	}
}

// prune drops grants whose window has ended. Caller holds l.mu.
func (l *RateLimiter) prune(now time.Time) {
	i := 0
	for i < len(l.grants) && !l.grants[i].Add(l.window).After(now) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}
