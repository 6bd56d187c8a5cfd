package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
)

const (
	posthogDefaultBaseURL   = "https://us.posthog.com"
	posthogDefaultPageLimit = 100
	posthogMaxPages         = 10
	posthogSnapshotJobs     = 4
)

func init() {
	Register("posthog", newPostHog)
}

// postHog pulls session recordings through the PostHog project API. Snapshot
// payloads arrive as blob_v2 chunks and pass to the decoder untouched.
type postHog struct {
	client    *RESTClient
	project   string
	pageLimit int
}

func newPostHog(cfg config.ProjectConfig, pageLimit int) (Source, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("posthog source: api_key is required")
	}
	if cfg.VendorProjectID == "" {
		return nil, fmt.Errorf("posthog source: vendor_project_id is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = posthogDefaultBaseURL
	}
	if pageLimit <= 0 {
		pageLimit = posthogDefaultPageLimit
	}
	return &postHog{
		client:    NewRESTClient("posthog", base, WithBearer(cfg.APIKey)),
		project:   cfg.VendorProjectID,
		pageLimit: pageLimit,
	}, nil
}

func (p *postHog) Vendor() string { return "posthog" }

type posthogRecording struct {
	ID         string `json:"id"`
	DistinctID string `json:"distinct_id"`
}

type posthogRecordingsPage struct {
	Results []posthogRecording `json:"results"`
}

type posthogSnapshotsPage struct {
	Snapshots []json.RawMessage `json:"snapshots"`
}

func (p *postHog) FetchSessions(ctx context.Context, since, until time.Time) ([]RawSession, error) {
	recordings, err := p.listRecordings(ctx, since, until)
	if err != nil {
		return nil, err
	}

	sessions := make([]RawSession, len(recordings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(posthogSnapshotJobs)

	var mu sync.Mutex
	skipped := 0

	for i, rec := range recordings {
		g.Go(func() error {
			items, err := p.snapshots(gctx, rec.ID)
			if err != nil {
				log.Warn().Err(err).Str("recording_id", rec.ID).Msg("Skipping recording without snapshots")
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			sessions[i] = RawSession{
				SessionID:  rec.ID,
				DistinctID: rec.DistinctID,
				Source:     envelope.SourceBlobV2,
				Items:      items,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]RawSession, 0, len(sessions))
	for _, s := range sessions {
		if s.SessionID != "" && len(s.Items) > 0 {
			out = append(out, s)
		}
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("Some PostHog recordings had no usable snapshots")
	}
	return out, nil
}

func (p *postHog) listRecordings(ctx context.Context, since, until time.Time) ([]posthogRecording, error) {
	var recordings []posthogRecording

	for page := 0; page < posthogMaxPages; page++ {
		q := url.Values{}
		q.Set("date_from", since.UTC().Format(time.RFC3339))
		q.Set("date_to", until.UTC().Format(time.RFC3339))
		q.Set("limit", strconv.Itoa(p.pageLimit))
		q.Set("offset", strconv.Itoa(page*p.pageLimit))

		var resp posthogRecordingsPage
		path := fmt.Sprintf("/api/projects/%s/session_recordings", p.project)
		if err := p.client.GetJSON(ctx, path, q, &resp); err != nil {
			return nil, fmt.Errorf("list posthog recordings: %w", err)
		}

		recordings = append(recordings, resp.Results...)
		if len(resp.Results) < p.pageLimit {
			break
		}
	}

	return recordings, nil
}

func (p *postHog) snapshots(ctx context.Context, recordingID string) ([]json.RawMessage, error) {
	var resp posthogSnapshotsPage
	path := fmt.Sprintf("/api/projects/%s/session_recordings/%s/snapshots", p.project, recordingID)
	if err := p.client.GetJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}
