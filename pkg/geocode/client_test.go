package geocode

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pointsync/internal/resilience"
)

const campinasResponse = `[
	{
		"lat": "-22.9056", "lon": "-47.0608", "importance": 0.62,
		"category": "building", "type": "yes",
		"display_name": "Rua São João, 123, Centro, Campinas, São Paulo, Brasil",
		"address": {"road": "Rua São João", "city": "Campinas", "state": "São Paulo", "ISO3166-2-lvl4": "BR-SP"}
	},
	{
		"lat": "not-a-number", "lon": "-47.0", "importance": 0.9,
		"category": "place", "type": "city"
	}
]`

func TestSearch_Success(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		q := r.URL.Query()
		assert.Equal(t, "rua sao joao 123, Campinas, SP", q.Get("q"))
		assert.Equal(t, "jsonv2", q.Get("format"))
		assert.Equal(t, "1", q.Get("addressdetails"))
		assert.Equal(t, "br", q.Get("countrycodes"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "1", q.Get("bounded"))
		assert.Equal(t, "-74,5.3,-34.7,-33.8", q.Get("viewbox"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, campinasResponse)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, WithUserAgent("pointsync-test"))
	cands, err := c.Search(context.Background(), "rua sao joao 123, Campinas, SP")
	require.NoError(t, err)
	require.Len(t, cands, 1)

	assert.NotEmpty(t, gotQuery)
	assert.Equal(t, "pointsync-test", gotUA)
	assert.InDelta(t, -22.9056, cands[0].Latitude, 1e-6)
	assert.InDelta(t, -47.0608, cands[0].Longitude, 1e-6)
	assert.Equal(t, "building", cands[0].Class)
	assert.Equal(t, "Campinas", cands[0].Address.City)
	assert.Equal(t, "BR-SP", cands[0].Address.StateCode)
}

func TestSearch_EmptyQuery(t *testing.T) {
	c, _ := newTestClient("http://unused.invalid")
	_, err := c.Search(context.Background(), "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty query")
}

func TestSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c, rec := newTestClient(srv.URL)
	cands, err := c.Search(context.Background(), "lugar nenhum")
	assert.Nil(t, cands)
	assert.ErrorIs(t, err, ErrNoResults)
	assert.Empty(t, rec.Recorded(), "no results is not retried")
}

func TestSearch_RetriesExactlyMaxRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	limiter := NewRateLimiter(1000, time.Hour, 0)
	c, rec := newTestClient(srv.URL,
		WithMaxRetries(3),
		WithRateLimiter(limiter),
		WithBackoff(resilience.RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 30 * time.Second, Multiplier: 2}),
	)

	_, err := c.Search(context.Background(), "Campinas, SP")
	require.Error(t, err)

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusInternalServerError, ne.StatusCode)
	assert.Equal(t, int32(4), hits.Load(), "first attempt plus three retries")
	assert.Equal(t, 4, limiter.Snapshot().RequestCount, "every attempt takes a rate limit slot")

	// Status errors back off exponentially without the network cooldown.
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, rec.Recorded())
}

func TestSearch_RecoversAfterTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, campinasResponse)
	}))
	defer srv.Close()

	c, rec := newTestClient(srv.URL)
	cands, err := c.Search(context.Background(), "Campinas, SP")
	require.NoError(t, err)
	assert.Len(t, cands, 1)
	assert.Equal(t, int32(3), hits.Load())
	assert.Len(t, rec.Recorded(), 2)
}

func TestSearch_RateLimitedNotCounted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 5 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, campinasResponse)
	}))
	defer srv.Close()

	c, rec := newTestClient(srv.URL, WithMaxRetries(0))
	cands, err := c.Search(context.Background(), "Campinas, SP")
	require.NoError(t, err)
	assert.Len(t, cands, 1)
	assert.Equal(t, int32(6), hits.Load())

	sleeps := rec.Recorded()
	require.Len(t, sleeps, 5)
	for _, d := range sleeps {
		assert.Equal(t, 2*time.Second, d)
	}
}

func TestSearch_RateLimitedDefaultRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, campinasResponse)
	}))
	defer srv.Close()

	c, rec := newTestClient(srv.URL)
	_, err := c.Search(context.Background(), "Campinas, SP")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{DefaultRetryAfter}, rec.Recorded())
}

func TestSearch_RateLimitedCeiling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, WithMaxRateLimited(2))
	_, err := c.Search(context.Background(), "Campinas, SP")

	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl), "got %v", err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestSearch_TimeoutAddsCooldown(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer srv.Close()

	c, rec := newTestClient(srv.URL,
		WithTimeout(20*time.Millisecond),
		WithMaxRetries(1),
		WithBackoff(resilience.RetryConfig{InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, Multiplier: 2}),
	)

	_, err := c.Search(context.Background(), "Campinas, SP")
	var te *TimeoutError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []time.Duration{time.Second + DefaultNetworkCooldown}, rec.Recorded())
}

func TestSearch_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, rec := newTestClient(url, WithMaxRetries(2))
	_, err := c.Search(context.Background(), "Campinas, SP")

	var ne *NetworkError
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.Zero(t, ne.StatusCode)
	require.Len(t, rec.Recorded(), 2)
	for _, d := range rec.Recorded() {
		assert.GreaterOrEqual(t, d, DefaultNetworkCooldown)
	}
}

func TestSearch_WaitsForRateLimiterBeforeRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, campinasResponse)
	}))
	defer srv.Close()

	limiter := NewRateLimiter(1, time.Hour, 0)
	require.NoError(t, limiter.Acquire(context.Background()))

	c, _ := newTestClient(srv.URL, WithRateLimiter(limiter))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Search(ctx, "Campinas, SP")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, hits.Load(), "no request may be sent without a slot")
}

func TestSearch_Cache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("q") == "nowhere" {
			_, _ = io.WriteString(w, `[]`)
			return
		}
		_, _ = io.WriteString(w, campinasResponse)
	}))
	defer srv.Close()

	cache := NewMemoryCache()
	c, _ := newTestClient(srv.URL, WithCache(cache))

	_, err := c.Search(context.Background(), "Campinas, SP")
	require.NoError(t, err)
	cands, err := c.Search(context.Background(), "  campinas,   sp ")
	require.NoError(t, err)
	assert.Len(t, cands, 1)

	_, err = c.Search(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNoResults)
	_, err = c.Search(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNoResults)

	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestSearch_FailuresNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cache := NewMemoryCache()
	c, _ := newTestClient(srv.URL, WithCache(cache), WithMaxRetries(0))
	_, err := c.Search(context.Background(), "Campinas, SP")
	require.Error(t, err)
	assert.Zero(t, cache.Len())
}

func TestParseRetryAfter(t *testing.T) {
	def := 5 * time.Second
	assert.Equal(t, def, parseRetryAfter("", def))
	assert.Equal(t, 7*time.Second, parseRetryAfter("7", def))
	assert.Equal(t, def, parseRetryAfter("-3", def))
	assert.Equal(t, def, parseRetryAfter("soon", def))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Mon, 02 Jan 2006 15:04:05 GMT", def))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future, def)
	assert.Greater(t, d, 58*time.Minute)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient()
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, DefaultMaxRetries, c.maxRetries)
	assert.Equal(t, DefaultLimit, c.limit)
	assert.NotNil(t, c.Limiter())
}
