package sources

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fastClient removes the real-time knobs so retry paths run in milliseconds.
func fastClient(vendor, baseURL string, opts ...Option) *RESTClient {
	c := NewRESTClient(vendor, baseURL, opts...)
	c.retryBase = time.Millisecond
	c.limiter = rate.NewLimiter(rate.Inf, 0)
	return c
}

func TestGetJSONDecodesAndAuthenticates(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"name":"checkout","count":3}`))
	}))
	defer srv.Close()

	c := fastClient("posthog", srv.URL, WithBearer("phx_secret"))

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	err := c.GetJSON(context.Background(), "/api/thing", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "checkout", out.Name)
	assert.Equal(t, 3, out.Count)
	assert.Equal(t, "Bearer phx_secret", gotAuth)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := fastClient("amplitude", srv.URL)

	body, err := c.GetRaw(context.Background(), "/export", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such recording", http.StatusNotFound)
	}))
	defer srv.Close()

	c := fastClient("posthog", srv.URL)

	_, err := c.GetRaw(context.Background(), "/gone", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetStopsAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fastClient("mixpanel", srv.URL)

	_, err := c.GetRaw(context.Background(), "/export", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	c := fastClient("amplitude", "http://example.invalid")

	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"7"}},
		Body:       io.NopCloser(strings.NewReader("slow down")),
	}
	apiErr := newAPIError(resp)

	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "slow down", apiErr.Body)
	assert.True(t, apiErr.Retryable())
	assert.Equal(t, 7*time.Second, c.backoffDelay(0, apiErr))

	// Without a server hint the delay doubles per attempt.
	assert.Equal(t, c.retryBase, c.backoffDelay(0, nil))
	assert.Equal(t, 4*c.retryBase, c.backoffDelay(2, nil))
}

func TestContextCancelsBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := fastClient("posthog", srv.URL)
	c.retryBase = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.GetRaw(ctx, "/slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fastClient("amplitude", srv.URL)

	_, err := c.GetRaw(context.Background(), "/export", nil)
	require.Error(t, err)
	assert.Equal(t, int32(maxRetries+1), calls.Load())

	// The fifth consecutive failure trips the breaker, so the second request
	// makes one real call and then fails fast.
	_, err = c.GetRaw(context.Background(), "/export", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(maxRetries+2), calls.Load())
}

func TestErrorBodyIsClipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	c := fastClient("mixpanel", srv.URL)

	_, err := c.GetRaw(context.Background(), "/export", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Len(t, apiErr.Body, maxErrorBody)
}

func TestGetJSONRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := fastClient("posthog", srv.URL)

	var out map[string]any
	err := c.GetJSON(context.Background(), "/api/thing", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode posthog response")
	assert.False(t, errors.As(err, new(*APIError)))
}
