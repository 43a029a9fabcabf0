package geocode

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
)

// newTestLimiter creates a rate limiter that effectively does not limit for tests.
func newTestLimiter() *RateLimiter {
	return NewRateLimiter(1<<20, time.Second, 0)
}

// sleepRecorder replaces the client's sleep so retries run instantly.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

// newTestClient creates a Client aimed at a test server with instant sleeps.
func newTestClient(serverURL string, opts ...Option) (*Client, *sleepRecorder) {
	rec := &sleepRecorder{}
	base := []Option{
		WithHTTPClient(newRewriteClient(serverURL, DefaultBaseURL)),
		WithRateLimiter(newTestLimiter()),
	}
	c := NewClient(append(base, opts...)...)
	c.sleep = rec.Sleep
	return c, rec
}

// newRewriteClient creates an HTTP client that rewrites requests to a test server URL.
// All requests matching the target prefix are redirected to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if strings.HasPrefix(origURL, t.targetPrefix) {
		suffix := origURL[len(t.targetPrefix):]
		newURL := t.testServer + suffix
		newReq := req.Clone(req.Context())
		parsed, err := req.URL.Parse(newURL)
		if err != nil {
			return nil, err
		}
		newReq.URL = parsed
		newReq.Host = parsed.Host
		return t.base.RoundTrip(newReq)
	}
	return t.base.RoundTrip(req)
}
