package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
)

var (
	syncSince = time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)
	syncUntil = time.Date(2024, 3, 14, 16, 0, 0, 0, time.UTC)
)

// unthrottle lifts the client-side rate limit so tests with many requests
// finish quickly.
func unthrottle(src Source) {
	switch s := src.(type) {
	case *postHog:
		s.client.limiter = rate.NewLimiter(rate.Inf, 0)
	case *amplitude:
		s.client.limiter = rate.NewLimiter(rate.Inf, 0)
	case *mixpanel:
		s.client.limiter = rate.NewLimiter(rate.Inf, 0)
	}
}

func TestNewUnknownVendor(t *testing.T) {
	_, err := New(config.ProjectConfig{ProjectID: "proj-1", Source: "ga4"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source vendor")
}

func TestVendorsAreRegistered(t *testing.T) {
	assert.Equal(t, []string{"amplitude", "mixpanel", "posthog"}, Vendors())
}

func TestPostHogFetchSessions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects/42/session_recordings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer phx_live", r.Header.Get("Authorization"))
		assert.Equal(t, syncSince.Format(time.RFC3339), r.URL.Query().Get("date_from"))
		fmt.Fprint(w, `{"results":[
			{"id":"rec-1","distinct_id":"user-1"},
			{"id":"rec-2","distinct_id":"user-2"},
			{"id":"rec-3","distinct_id":"user-3"}
		]}`)
	})
	mux.HandleFunc("/api/projects/42/session_recordings/rec-1/snapshots", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"snapshots":["H4sIAAAAfake1",{"type":3,"timestamp":1700000000000}]}`)
	})
	mux.HandleFunc("/api/projects/42/session_recordings/rec-2/snapshots", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"snapshots":[]}`)
	})
	mux.HandleFunc("/api/projects/42/session_recordings/rec-3/snapshots", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "recording expired", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := New(config.ProjectConfig{
		ProjectID:       "proj-1",
		Source:          "posthog",
		BaseURL:         srv.URL,
		APIKey:          "phx_live",
		VendorProjectID: "42",
	}, 0)
	require.NoError(t, err)
	unthrottle(src)

	sessions, err := src.FetchSessions(context.Background(), syncSince, syncUntil)
	require.NoError(t, err)

	// rec-2 has no snapshots and rec-3 errored; both are skipped, not fatal.
	require.Len(t, sessions, 1)
	got := sessions[0]
	assert.Equal(t, "rec-1", got.SessionID)
	assert.Equal(t, "user-1", got.DistinctID)
	assert.Equal(t, envelope.SourceBlobV2, got.Source)
	require.Len(t, got.Items, 2)
	assert.Equal(t, `"H4sIAAAAfake1"`, string(got.Items[0]))
}

func TestPostHogPaginatesRecordings(t *testing.T) {
	const pageLimit = 5

	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects/42/session_recordings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, strconv.Itoa(pageLimit), r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var page posthogRecordingsPage
		count := pageLimit
		if offset >= pageLimit {
			count = 2
		}
		for i := 0; i < count; i++ {
			page.Results = append(page.Results, posthogRecording{
				ID:         fmt.Sprintf("rec-%d", offset+i),
				DistinctID: "user-1",
			})
		}
		body, _ := json.Marshal(page)
		w.Write(body)
	})
	mux.HandleFunc("/api/projects/42/session_recordings/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"snapshots":[{"type":3}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := newPostHog(config.ProjectConfig{
		Source:          "posthog",
		BaseURL:         srv.URL,
		APIKey:          "phx_live",
		VendorProjectID: "42",
	}, pageLimit)
	require.NoError(t, err)
	unthrottle(src)

	sessions, err := src.FetchSessions(context.Background(), syncSince, syncUntil)
	require.NoError(t, err)

	// A full first page triggers a second fetch; the short page ends it.
	assert.Len(t, sessions, pageLimit+2)
}

func TestPostHogRequiresProjectAndKey(t *testing.T) {
	_, err := newPostHog(config.ProjectConfig{Source: "posthog", APIKey: "phx"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vendor_project_id")

	_, err = newPostHog(config.ProjectConfig{Source: "posthog", VendorProjectID: "42"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestAmplitudeFetchSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "amp-key", user)
		assert.Equal(t, "amp-secret", pass)
		assert.Equal(t, "/api/2/export", r.URL.Path)
		assert.Equal(t, "20240314T15", r.URL.Query().Get("start"))
		assert.Equal(t, "20240314T16", r.URL.Query().Get("end"))

		fmt.Fprint(w, `{"session_id":1700000000000,"user_id":"u1","event_type":"page_view"}
{"session_id":1700000000000,"user_id":"u1","event_type":"click","event_properties":{"text":"Buy"}}
{"user_id":"u2","event_type":"sign_up"}
not-json at all
`)
	}))
	defer srv.Close()

	src, err := New(config.ProjectConfig{
		ProjectID: "proj-1",
		Source:    "amplitude",
		BaseURL:   srv.URL,
		APIKey:    "amp-key",
		APISecret: "amp-secret",
	}, 0)
	require.NoError(t, err)
	unthrottle(src)

	sessions, err := src.FetchSessions(context.Background(), syncSince, syncUntil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "1700000000000", sessions[0].SessionID)
	assert.Equal(t, "u1", sessions[0].DistinctID)
	assert.Equal(t, envelope.SourceAmplitude, sessions[0].Source)
	assert.Len(t, sessions[0].Items, 2)

	// Rows without a session id share a synthetic per-user session.
	assert.Equal(t, "u2-20240314T15", sessions[1].SessionID)
	assert.Equal(t, "u2", sessions[1].DistinctID)
	assert.Len(t, sessions[1].Items, 1)
}

func TestMixpanelFetchSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "svc-account", user)
		assert.Equal(t, "/api/2.0/export", r.URL.Path)
		assert.Equal(t, "2024-03-14", r.URL.Query().Get("from_date"))
		assert.Equal(t, "2024-03-14", r.URL.Query().Get("to_date"))
		assert.Equal(t, "777", r.URL.Query().Get("project_id"))

		fmt.Fprint(w, `{"event":"Page View","properties":{"$session_id":"mx-9","distinct_id":"m1","time":1700000000}}
{"event":"Click","properties":{"$session_id":"mx-9","distinct_id":"m1","time":1700000001}}
{"event":"Sign Up","properties":{"distinct_id":"m2","time":1700000002}}
`)
	}))
	defer srv.Close()

	src, err := New(config.ProjectConfig{
		ProjectID:       "proj-1",
		Source:          "mixpanel",
		BaseURL:         srv.URL,
		APIKey:          "svc-account",
		APISecret:       "svc-secret",
		VendorProjectID: "777",
	}, 0)
	require.NoError(t, err)
	unthrottle(src)

	sessions, err := src.FetchSessions(context.Background(), syncSince, syncUntil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "mx-9", sessions[0].SessionID)
	assert.Equal(t, "m1", sessions[0].DistinctID)
	assert.Equal(t, envelope.SourceMixpanel, sessions[0].Source)
	assert.Len(t, sessions[0].Items, 2)

	assert.Equal(t, "m2-20240314T15", sessions[1].SessionID)
}

func TestGroupRowsKeepsRowOrderWithinSession(t *testing.T) {
	lines := [][]byte{
		[]byte(`{"session_id":1,"user_id":"u1","event_type":"a"}`),
		[]byte(`{"session_id":2,"user_id":"u2","event_type":"b"}`),
		[]byte(`{"session_id":1,"user_id":"u1","event_type":"c"}`),
	}

	sessions := groupRows(lines, envelope.SourceAmplitude, amplitudeSessionKey, syncSince)
	require.Len(t, sessions, 2)
	assert.Equal(t, "1", sessions[0].SessionID)
	require.Len(t, sessions[0].Items, 2)
	assert.JSONEq(t, string(lines[0]), string(sessions[0].Items[0]))
	assert.JSONEq(t, string(lines[2]), string(sessions[0].Items[1]))
	assert.Equal(t, "2", sessions[1].SessionID)
}

func TestGroupRowsDropsAnonymousRows(t *testing.T) {
	lines := [][]byte{
		[]byte(`{"event_type":"heartbeat"}`),
	}
	sessions := groupRows(lines, envelope.SourceAmplitude, amplitudeSessionKey, syncSince)
	assert.Empty(t, sessions)
}
