package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/sessionsieve/sessionsieve/internal/metrics"
)

const (
	maxRetries     = 3
	requestTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// APIError carries a non-2xx vendor response.
type APIError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt. Client
// errors other than 429 are permanent.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RESTClient is a vendor API client with client-side rate limiting, a
// circuit breaker, and bounded retries on 429 and 5xx responses.
type RESTClient struct {
	vendor    string
	baseURL   string
	client    *http.Client
	auth      func(*http.Request)
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[[]byte]
	retryBase time.Duration
}

// Option adjusts a RESTClient at construction.
type Option func(*RESTClient)

// WithBearer authenticates requests with a bearer token.
func WithBearer(token string) Option {
	return func(c *RESTClient) {
		c.auth = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	}
}

// WithBasicAuth authenticates requests with HTTP basic auth.
func WithBasicAuth(user, pass string) Option {
	return func(c *RESTClient) {
		c.auth = func(r *http.Request) { r.SetBasicAuth(user, pass) }
	}
}

// WithRateLimit overrides the default client-side limit of 5 rps, burst 10.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *RESTClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *RESTClient) { c.client.Timeout = d }
}

// NewRESTClient builds a client for one vendor API. The vendor name labels
// metrics and the circuit breaker.
func NewRESTClient(vendor, baseURL string, opts ...Option) *RESTClient {
	c := &RESTClient{
		vendor:    vendor,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: requestTimeout},
		limiter:   rate.NewLimiter(rate.Limit(5), 10),
		retryBase: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        vendor,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// GetJSON fetches path and decodes the response body into out.
func (c *RESTClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.vendor, err)
	}
	return nil
}

// GetRaw fetches path and returns the body verbatim. Export endpoints that
// stream NDJSON go through here.
func (c *RESTClient) GetRaw(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.get(ctx, path, query)
}

func (c *RESTClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.fetch(ctx, endpoint)
		})
		if err == nil {
			return body, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s circuit open: %w", c.vendor, err)
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, err
		}
		if attempt < maxRetries {
			if err := c.sleep(ctx, c.backoffDelay(attempt, apiErr)); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%s: max retries exceeded: %w", c.vendor, lastErr)
}

func (c *RESTClient) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordVendorFetch(c.vendor, "error", time.Since(start))
		return nil, fmt.Errorf("%s request: %w", c.vendor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordVendorFetch(c.vendor, strconv.Itoa(resp.StatusCode), time.Since(start))
		return nil, newAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordVendorFetch(c.vendor, "error", time.Since(start))
		return nil, fmt.Errorf("read %s response: %w", c.vendor, err)
	}
	metrics.RecordVendorFetch(c.vendor, "ok", time.Since(start))
	return body, nil
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.retryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// backoffDelay honors Retry-After when the server sent one, else doubles per
// attempt.
func (c *RESTClient) backoffDelay(attempt int, apiErr *APIError) time.Duration {
	if apiErr != nil && apiErr.retryAfter > 0 {
		return apiErr.retryAfter
	}
	return c.retryBase << attempt
}

// sleep waits for d or until ctx is cancelled.
func (c *RESTClient) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
