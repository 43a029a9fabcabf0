// Package pointstore is a client for the collection-point store's batch API.
package pointstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
)

// ErrNotFound is returned by Delete when the store has no such point.
var ErrNotFound = eris.New("pointstore: point not found")

// Client is the store operations the reconciliation engine depends on.
type Client interface {
	// CheckExisting reports, for every id, whether the store holds an active
	// point with that external id.
	CheckExisting(ctx context.Context, ids []string) (map[string]bool, error)
	// BatchUpsert creates or updates points keyed by external id.
	BatchUpsert(ctx context.Context, points []model.CollectionPoint) (*BatchResult, error)
	// Delete removes the point with externalID.
	Delete(ctx context.Context, externalID string) error
}

// PointResult is the store's verdict for one submitted point.
type PointResult struct {
	ExternalID string `json:"external_id"`
	Success    bool   `json:"success"`
	Created    bool   `json:"created,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchResult is the response of POST /batch.
type BatchResult struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Results []PointResult `json:"results,omitempty"`
}

// BatchRequest is the body of POST /batch.
type BatchRequest struct {
	Points []model.CollectionPoint `json:"points"`
}

// CheckExistingRequest is the body of POST /check-existing.
type CheckExistingRequest struct {
	IDs []string `json:"ids"`
}

// StatusError is a non-2xx response from the store.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("pointstore: %s returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("pointstore: %s returned status %d: %s", e.Op, e.Code, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit sets the requests-per-second budget for store calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *httpClient) { c.token = token }
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a store client rooted at baseURL, e.g.
// "http://localhost:8080/collection-points".
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CheckExisting(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	body, err := c.do(ctx, "check-existing", http.MethodPost, c.baseURL+"/check-existing", CheckExistingRequest{IDs: ids})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "pointstore: decode check-existing response")
	}
	return out, nil
}

func (c *httpClient) BatchUpsert(ctx context.Context, points []model.CollectionPoint) (*BatchResult, error) {
	if len(points) == 0 {
		return &BatchResult{}, nil
	}
	body, err := c.do(ctx, "batch", http.MethodPost, c.baseURL+"/batch", BatchRequest{Points: points})
	if err != nil {
		return nil, err
	}
	var res BatchResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, eris.Wrap(err, "pointstore: decode batch response")
	}
	return &res, nil
}

func (c *httpClient) Delete(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return eris.New("pointstore: delete: empty external id")
	}
	_, err := c.do(ctx, "delete", http.MethodDelete, c.baseURL+"/"+url.PathEscape(externalID), nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// do sends one paced request and returns the body of a 2xx response.
// 429 and 5xx responses and transport failures are returned as
// resilience.TransientError.
func (c *httpClient) do(ctx context.Context, op, method, u string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "pointstore: %s rate limit", op)
	}

	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrapf(err, "pointstore: %s marshal", op)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, eris.Wrapf(err, "pointstore: %s build request", op)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "pointstore: %s", op)
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "pointstore: %s request", op), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "pointstore: %s read body", op), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Op: op, Code: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)), 200)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(se, resp.StatusCode)
		}
		return nil, se
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
