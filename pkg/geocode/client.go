// Package geocode resolves free-text queries to coordinates through a
// Nominatim-compatible search API. Every request, including retries, passes
// through the client's RateLimiter.
package geocode

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/resilience"
)

// Searcher looks up candidates for a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Defaults for the request policy.
const (
	DefaultTimeout           = 15 * time.Second
	DefaultMaxRetries        = 3
	DefaultMaxRateLimited    = 10
	DefaultNetworkCooldown   = 3 * time.Second
	DefaultRetryAfter        = 5 * time.Second
	DefaultLimit             = 5
	DefaultCountryCodes      = "br"
	DefaultUserAgent         = "pointsync/1.0"
	defaultMaxResponseBytes  = 4 << 20
	defaultBackoffMultiplier = 2.0
)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL points the client at another Nominatim instance.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithUserAgent sets the User-Agent header. Nominatim rejects requests
// without an identifying agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRateLimiter injects a shared limiter.
func WithRateLimiter(l *RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries sets how many times a failed request is retried after the
// first attempt. 429 responses do not count.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithMaxRateLimited caps consecutive 429 responses for one query.
func WithMaxRateLimited(n int) Option {
	return func(c *Client) { c.maxRateLimited = n }
}

// WithBackoff sets the exponential backoff policy between retries.
func WithBackoff(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.backoff = cfg }
}

// WithNetworkCooldown sets the extra wait after a network or timeout failure.
func WithNetworkCooldown(d time.Duration) Option {
	return func(c *Client) { c.cooldown = d }
}

// WithRetryAfterDefault sets the wait used when a 429 has no Retry-After.
func WithRetryAfterDefault(d time.Duration) Option {
	return func(c *Client) { c.retryAfterDefault = d }
}

// WithViewbox restricts results to bounds. A nil bounds disables the box.
func WithViewbox(b *geom.Bounds) Option {
	return func(c *Client) { c.viewbox = b }
}

// WithCountryCodes sets the countrycodes filter (comma-separated ISO codes).
func WithCountryCodes(codes string) Option {
	return func(c *Client) { c.countryCodes = codes }
}

// WithLimit sets the maximum number of candidates requested per query.
func WithLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithCache enables a query cache consulted before the network.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// Client is a Nominatim search client.
type Client struct {
	httpClient        *http.Client
	baseURL           string
	userAgent         string
	countryCodes      string
	viewbox           *geom.Bounds
	limit             int
	limiter           *RateLimiter
	timeout           time.Duration
	maxRetries        int
	maxRateLimited    int
	backoff           resilience.RetryConfig
	cooldown          time.Duration
	retryAfterDefault time.Duration
	cache             Cache

	sleep func(context.Context, time.Duration) error
}

// NewClient creates a Client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:        &http.Client{},
		baseURL:           DefaultBaseURL,
		userAgent:         DefaultUserAgent,
		countryCodes:      DefaultCountryCodes,
		viewbox:           DefaultViewbox(),
		limit:             DefaultLimit,
		timeout:           DefaultTimeout,
		maxRetries:        DefaultMaxRetries,
		maxRateLimited:    DefaultMaxRateLimited,
		cooldown:          DefaultNetworkCooldown,
		retryAfterDefault: DefaultRetryAfter,
		backoff: resilience.RetryConfig{
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     defaultBackoffMultiplier,
			JitterFraction: 0.25,
		},
		sleep: resilience.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(DefaultRateLimit, DefaultRateWindow, DefaultRateMargin)
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	return c
}

// Limiter returns the client's rate limiter.
func (c *Client) Limiter() *RateLimiter { return c.limiter }

// Search returns the candidates for query. It fails with *NetworkError,
// *TimeoutError, *RateLimitedError (only after the 429 ceiling) or
// ErrNoResults.
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, eris.New("geocode: empty query")
	}

	key := cacheKey(query)
	if c.cache != nil {
		if cands, ok := c.cache.Get(ctx, key); ok {
			zap.L().Debug("geocode cache hit", zap.String("query", query), zap.Int("candidates", len(cands)))
			if len(cands) == 0 {
				return nil, ErrNoResults
			}
			return cands, nil
		}
	}

	cands, err := c.searchWithRetry(ctx, query)
	if err != nil && !errors.Is(err, ErrNoResults) {
		return nil, err
	}

	if c.cache != nil {
		if putErr := c.cache.Put(ctx, key, cands); putErr != nil {
			zap.L().Warn("geocode: cache store failed", zap.Error(putErr))
		}
	}
	if err != nil {
		return nil, err
	}
	return cands, nil
}

func (c *Client) searchWithRetry(ctx context.Context, query string) ([]Candidate, error) {
	var (
		lastErr     error
		failures    int
		rateLimited int
	)

	for {
		if err := c.limiter.Acquire(ctx); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		cands, err := c.do(ctx, query)
		if err == nil {
			if len(cands) == 0 {
				return nil, ErrNoResults
			}
			return cands, nil
		}

		var rl *RateLimitedError
		if errors.As(err, &rl) {
			rateLimited++
			if rateLimited > c.maxRateLimited {
				return nil, err
			}
			zap.L().Warn("geocode: rate limited by provider",
				zap.Duration("retry_after", rl.RetryAfter),
				zap.Int("count", rateLimited),
			)
			if c.sleep(ctx, rl.RetryAfter) != nil {
				return nil, err
			}
			continue
		}

		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		if failures >= c.maxRetries {
			return nil, lastErr
		}

		delay := resilience.Backoff(failures, c.backoff)
		if isNetworkClass(err) {
			delay += c.cooldown
		}
		failures++
		resilience.RetryLogger("nominatim", "search")(failures, err)

		if c.sleep(ctx, delay) != nil {
			return nil, lastErr
		}
	}
}

// do performs one HTTP attempt under the per-request timeout.
func (c *Client) do(ctx context.Context, query string) ([]Candidate, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.searchURL(query), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.retryAfterDefault)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("geocode: search returned %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBytes))
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, err)
	}
	return decodeCandidates(body)
}

// transportError classifies a failed round trip. Cancellation of the parent
// context is returned as-is so the retry loop stops.
func (c *Client) transportError(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return eris.Wrap(parent.Err(), "geocode: search cancelled")
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || resilience.IsTimeout(err) {
		return &TimeoutError{Timeout: c.timeout, Err: err}
	}
	return &NetworkError{Err: err}
}

func retryable(err error) bool {
	var ne *NetworkError
	var te *TimeoutError
	return errors.As(err, &ne) || errors.As(err, &te)
}

// isNetworkClass reports transport failures and timeouts, as opposed to
// error responses from a reachable server.
func isNetworkClass(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var ne *NetworkError
	return errors.As(err, &ne) && ne.StatusCode == 0
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, def time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return def
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return def
}
