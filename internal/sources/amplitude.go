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
	amplitudeDefaultBaseURL = "https://amplitude.com"
	amplitudeHourFormat     = "20060102T15"
)

func init() {
	Register("amplitude", newAmplitude)
}

// amplitude pulls raw events through the export API and groups them into
// sessions by the session_id each row carries.
type amplitude struct {
	client *RESTClient
}

func newAmplitude(cfg config.ProjectConfig, _ int) (Source, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("amplitude source: api_key and api_secret are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = amplitudeDefaultBaseURL
	}
	return &amplitude{
		client: NewRESTClient("amplitude", base, WithBasicAuth(cfg.APIKey, cfg.APISecret)),
	}, nil
}

func (a *amplitude) Vendor() string { return "amplitude" }

func (a *amplitude) FetchSessions(ctx context.Context, since, until time.Time) ([]RawSession, error) {
	q := url.Values{}
	q.Set("start", since.UTC().Format(amplitudeHourFormat))
	q.Set("end", until.UTC().Format(amplitudeHourFormat))

	raw, err := a.client.GetRaw(ctx, "/api/2/export", q)
	if err != nil {
		return nil, fmt.Errorf("amplitude export: %w", err)
	}

	return groupRows(splitLines(raw), envelope.SourceAmplitude, amplitudeSessionKey, since), nil
}

// amplitudeSessionKey reads the grouping ids from one export row. Amplitude
// session ids are epoch-millisecond numbers; rows without one fall back to
// the per-user synthetic session.
func amplitudeSessionKey(row map[string]any) (string, string) {
	var sessionID string
	switch v := row["session_id"].(type) {
	case float64:
		if v > 0 {
			sessionID = strconv.FormatInt(int64(v), 10)
		}
	case string:
		sessionID = v
	}

	distinctID, _ := row["user_id"].(string)
	if distinctID == "" {
		distinctID, _ = row["device_id"].(string)
	}
	return sessionID, distinctID
}
