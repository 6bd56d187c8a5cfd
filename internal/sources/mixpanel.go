package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
)

const (
	mixpanelDefaultBaseURL = "https://data.mixpanel.com"
	mixpanelDateFormat     = "2006-01-02"
)

func init() {
	Register("mixpanel", newMixpanel)
}

// mixpanel pulls raw events through the export API with service-account
// credentials. The API is day-granular, so the sync window widens to whole
// days and grouping by $session_id dedupes the overlap downstream.
type mixpanel struct {
	client  *RESTClient
	project string
}

func newMixpanel(cfg config.ProjectConfig, _ int) (Source, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("mixpanel source: api_key and api_secret are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = mixpanelDefaultBaseURL
	}
	return &mixpanel{
		client:  NewRESTClient("mixpanel", base, WithBasicAuth(cfg.APIKey, cfg.APISecret)),
		project: cfg.VendorProjectID,
	}, nil
}

func (m *mixpanel) Vendor() string { return "mixpanel" }

func (m *mixpanel) FetchSessions(ctx context.Context, since, until time.Time) ([]RawSession, error) {
	q := url.Values{}
	q.Set("from_date", since.UTC().Format(mixpanelDateFormat))
	q.Set("to_date", until.UTC().Format(mixpanelDateFormat))
	if m.project != "" {
		q.Set("project_id", m.project)
	}

	raw, err := m.client.GetRaw(ctx, "/api/2.0/export", q)
	if err != nil {
		return nil, fmt.Errorf("mixpanel export: %w", err)
	}

	return groupRows(splitLines(raw), envelope.SourceMixpanel, mixpanelSessionKey, since), nil
}

// mixpanelSessionKey reads the grouping ids from one export row. Everything
// useful lives under properties.
func mixpanelSessionKey(row map[string]any) (string, string) {
	props, _ := row["properties"].(map[string]any)
	if props == nil {
		return "", ""
	}

	var sessionID string
	switch v := props["$session_id"].(type) {
	case string:
		sessionID = v
	case float64:
		if v > 0 {
			sessionID = strconv.FormatInt(int64(v), 10)
		}
	}

	distinctID, _ := props["distinct_id"].(string)
	return sessionID, distinctID
}
