// Package envelope defines the wire shape that carries one raw session from
// ingestion (HTTP or vendor sync) to the compressor. The payload items stay
// opaque here; the decoder is the only component that interprets them.
package envelope

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Source names the vendor format of the raw items in an envelope.
type Source string

const (
	SourceRRWeb     Source = "rrweb"
	SourceBlobV2    Source = "blob_v2"
	SourceAmplitude Source = "amplitude"
	SourceMixpanel  Source = "mixpanel"
)

// Valid reports whether s is a source the decoder knows how to handle.
func (s Source) Valid() bool {
	switch s {
	case SourceRRWeb, SourceBlobV2, SourceAmplitude, SourceMixpanel:
		return true
	}
	return false
}

// DeviceContext is advisory capture metadata resolved at ingest time from the
// client's user agent and IP. It is stored alongside the compressed session
// but never feeds behavioral detection.
type DeviceContext struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	DeviceType     string `json:"device_type,omitempty"`
	Country        string `json:"country,omitempty"`
	City           string `json:"city,omitempty"`
}

// Envelope is one raw session in flight.
type Envelope struct {
	EnvelopeID string            `json:"envelope_id"`
	ProjectID  string            `json:"project_id"`
	SessionID  string            `json:"session_id"`
	DistinctID string            `json:"distinct_id,omitempty"`
	Source     Source            `json:"source"`
	ReceivedAt int64             `json:"received_at"`
	Device     *DeviceContext    `json:"device,omitempty"`
	Items      []json.RawMessage `json:"items"`
}

// New builds an envelope with a fresh id and the receive time stamped in.
func New(projectID, sessionID string, source Source, items []json.RawMessage) Envelope {
	return Envelope{
		EnvelopeID: uuid.NewString(),
		ProjectID:  projectID,
		SessionID:  sessionID,
		Source:     source,
		ReceivedAt: time.Now().UnixMilli(),
		Items:      items,
	}
}

// Validate checks the fields the compressor cannot proceed without.
func (e Envelope) Validate() error {
	if e.ProjectID == "" {
		return fmt.Errorf("envelope: missing project_id")
	}
	if e.SessionID == "" {
		return fmt.Errorf("envelope: missing session_id")
	}
	if !e.Source.Valid() {
		return fmt.Errorf("envelope: unknown source %q", e.Source)
	}
	if len(e.Items) == 0 {
		return fmt.Errorf("envelope: no items")
	}
	return nil
}

// Marshal encodes the envelope for the raw sessions topic.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope from a Kafka message value.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode: %w", err)
	}
	return e, nil
}
