package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
	"github.com/sessionsieve/sessionsieve/internal/sources"
)

// testSource is swapped per test; the faketest vendor always hands it out.
var testSource *fakeSource

func init() {
	sources.Register("faketest", func(config.ProjectConfig, int) (sources.Source, error) {
		return testSource, nil
	})
}

type fakeSource struct {
	mu        sync.Mutex
	calls     int
	lastSince time.Time
	lastUntil time.Time
	sessions  []sources.RawSession
	err       error
}

func (f *fakeSource) Vendor() string { return "faketest" }

func (f *fakeSource) FetchSessions(_ context.Context, since, until time.Time) ([]sources.RawSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSince = since
	f.lastUntil = until
	return f.sessions, f.err
}

type capturePublisher struct {
	mu      sync.Mutex
	envs    []envelope.Envelope
	failFor map[string]error
}

func (c *capturePublisher) PublishEnvelope(_ context.Context, env envelope.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failFor[env.SessionID]; ok {
		return err
	}
	c.envs = append(c.envs, env)
	return nil
}

func (c *capturePublisher) published() []envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]envelope.Envelope(nil), c.envs...)
}

func items(raw string) []json.RawMessage {
	return []json.RawMessage{json.RawMessage(raw)}
}

func syncConfig(projects ...config.ProjectConfig) config.SyncConfig {
	cfg := config.SyncConfig{Projects: projects}
	full := config.Config{Sync: cfg}
	full.ApplyDefaults()
	return full.Sync
}

func TestSyncAllPublishesEnvelopes(t *testing.T) {
	testSource = &fakeSource{sessions: []sources.RawSession{
		{SessionID: "rec-1", DistinctID: "u1", Source: envelope.SourceBlobV2, Items: items(`"H4sIA"`)},
		{SessionID: "", DistinctID: "ghost", Source: envelope.SourceBlobV2, Items: items(`{}`)},
		{SessionID: "170000", DistinctID: "u2", Source: envelope.SourceAmplitude, Items: items(`{"event_type":"click"}`)},
	}}
	pub := &capturePublisher{}

	s, err := New(syncConfig(config.ProjectConfig{ProjectID: "proj-1", Source: "faketest"}), pub, nil)
	require.NoError(t, err)

	require.NoError(t, s.SyncAll(context.Background()))

	got := pub.published()
	require.Len(t, got, 2)

	assert.Equal(t, "proj-1", got[0].ProjectID)
	assert.Equal(t, "rec-1", got[0].SessionID)
	assert.Equal(t, "u1", got[0].DistinctID)
	assert.Equal(t, envelope.SourceBlobV2, got[0].Source)
	assert.NotEmpty(t, got[0].EnvelopeID)

	assert.Equal(t, "170000", got[1].SessionID)
	assert.Equal(t, envelope.SourceAmplitude, got[1].Source)
}

func TestSyncWindowUsesLookbackWithoutRedis(t *testing.T) {
	testSource = &fakeSource{}
	pub := &capturePublisher{}

	s, err := New(syncConfig(config.ProjectConfig{ProjectID: "proj-1", Source: "faketest"}), pub, nil)
	require.NoError(t, err)
	require.NoError(t, s.SyncAll(context.Background()))

	lookback := time.Duration(s.cfg.LookbackMin) * time.Minute
	assert.WithinDuration(t, time.Now().Add(-lookback), testSource.lastSince, 5*time.Second)
	assert.WithinDuration(t, time.Now(), testSource.lastUntil, 5*time.Second)
	assert.Equal(t, 1, testSource.calls)
}

func TestSyncIsolatesPublishFailures(t *testing.T) {
	testSource = &fakeSource{sessions: []sources.RawSession{
		{SessionID: "bad", DistinctID: "u1", Source: envelope.SourceBlobV2, Items: items(`{}`)},
		{SessionID: "good", DistinctID: "u2", Source: envelope.SourceBlobV2, Items: items(`{}`)},
	}}
	pub := &capturePublisher{failFor: map[string]error{"bad": errors.New("broker down")}}

	s, err := New(syncConfig(config.ProjectConfig{ProjectID: "proj-1", Source: "faketest"}), pub, nil)
	require.NoError(t, err)

	// One session failing to publish must not fail the run.
	require.NoError(t, s.SyncAll(context.Background()))

	got := pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].SessionID)
}

func TestSyncAllSurfacesFetchErrors(t *testing.T) {
	testSource = &fakeSource{err: errors.New("vendor exploded")}
	pub := &capturePublisher{}

	s, err := New(syncConfig(config.ProjectConfig{ProjectID: "proj-1", Source: "faketest"}), pub, nil)
	require.NoError(t, err)

	err = s.SyncAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vendor exploded")
}

func TestNewRejectsUnknownVendor(t *testing.T) {
	_, err := New(syncConfig(config.ProjectConfig{ProjectID: "proj-1", Source: "no-such-vendor"}), &capturePublisher{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proj-1")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	testSource = &fakeSource{}

	s, err := New(syncConfig(config.ProjectConfig{
		ProjectID: "proj-1",
		Source:    "faketest",
		Schedule:  "not a cron spec",
	}), &capturePublisher{}, nil)
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule project proj-1")
}

func TestStartAndStop(t *testing.T) {
	testSource = &fakeSource{}

	s, err := New(syncConfig(config.ProjectConfig{ProjectID: "proj-1", Source: "faketest"}), &capturePublisher{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
