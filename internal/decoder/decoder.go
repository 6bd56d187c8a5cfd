// Package decoder normalizes raw session payloads into canonical rrweb
// events. It understands three wire formats: native rrweb JSON, compressed
// vendor blobs (blob_v2), and product-analytics exports (Amplitude and
// Mixpanel), which carry no replay data at all and are synthesized into a
// pseudo replay instead.
//
// Decoding is forgiving per item and strict per session: an item that cannot
// be interpreted is logged and skipped, but a payload that yields zero valid
// events fails the whole session.
package decoder

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/sessionsieve/sessionsieve/internal/envelope"
	"github.com/sessionsieve/sessionsieve/internal/rrweb"
)

var (
	// ErrNoValidEvents means every item in the payload was rejected. The
	// session carries no usable signal and must not reach the parser.
	ErrNoValidEvents = errors.New("decoder: no valid events in payload")

	// ErrUnknownSource means the envelope named a format the decoder does
	// not implement.
	ErrUnknownSource = errors.New("decoder: unknown source")
)

// Default viewport stamped into synthesized Meta events when the payload
// never reported one. Matches the most common desktop capture size.
const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 720
)

// Decode turns the raw items of one session into a sorted canonical event
// stream. The returned slice always contains at least one event and always
// starts with a Meta event (synthesized when the source never sent one).
func Decode(source envelope.Source, items []json.RawMessage) ([]rrweb.Event, error) {
	var (
		events []rrweb.Event
		err    error
	)
	switch source {
	case envelope.SourceRRWeb:
		events = decodeNative(items)
	case envelope.SourceBlobV2:
		events = decodeBlobs(items)
	case envelope.SourceAmplitude:
		events, err = synthesize(items, vendorAmplitude)
	case envelope.SourceMixpanel:
		events, err = synthesize(items, vendorMixpanel)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNoValidEvents
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})

	events = ensureMeta(events)
	if source == envelope.SourceAmplitude || source == envelope.SourceMixpanel {
		events = ensureSnapshot(events)
	}
	return events, nil
}

// decodeNative interprets items as plain rrweb JSON. Items may be event
// objects, arrays of event objects, or double-encoded JSON strings of either.
func decodeNative(items []json.RawMessage) []rrweb.Event {
	var out []rrweb.Event
	for i, raw := range items {
		events, err := parseItem(raw)
		if err != nil {
			log.Warn().Int("item", i).Err(err).Msg("skipping undecodable item")
			continue
		}
		out = append(out, events...)
	}
	return out
}

func parseItem(raw json.RawMessage) ([]rrweb.Event, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse item: %w", err)
	}
	if s, ok := v.(string); ok {
		// Double-encoded items show up when an upstream stored the event
		// as a JSON string column. One extra parse, never more.
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("parse string item: %w", err)
		}
	}
	return eventsFromValue(v)
}

func eventsFromValue(v any) ([]rrweb.Event, error) {
	switch t := v.(type) {
	case map[string]any:
		return toEvents(t)
	case []any:
		var out []rrweb.Event
		for _, el := range t {
			m, ok := el.(map[string]any)
			if !ok {
				log.Warn().Msg("skipping non-object element in event array")
				continue
			}
			events, err := toEvents(m)
			if err != nil {
				log.Warn().Err(err).Msg("skipping invalid element in event array")
				continue
			}
			out = append(out, events...)
		}
		if len(out) == 0 {
			return nil, errors.New("event array held no valid events")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported item shape %T", v)
	}
}

// toEvents validates one raw event object. Plugin events (rrweb type 6) are
// rewritten into Custom events here so downstream code only ever sees the six
// canonical types; a network plugin event fans out into one event per request.
func toEvents(m map[string]any) ([]rrweb.Event, error) {
	typeN, ok := rrweb.Int(m, "type")
	if !ok {
		return nil, errors.New("missing event type")
	}
	ts, ok := rrweb.Int64(m, "timestamp")
	if !ok || ts <= 0 {
		return nil, errors.New("missing or invalid timestamp")
	}
	data := rrweb.Map(m, "data")

	const pluginType = 6
	if typeN == pluginType {
		return convertPlugin(ts, data), nil
	}
	if !rrweb.ValidType(rrweb.EventType(typeN)) {
		return nil, fmt.Errorf("unknown event type %d", typeN)
	}
	return []rrweb.Event{{
		Type:      rrweb.EventType(typeN),
		Timestamp: ts,
		Data:      data,
	}}, nil
}

func convertPlugin(ts int64, data map[string]any) []rrweb.Event {
	plugin := rrweb.Str(data, "plugin")
	payload := rrweb.Map(data, "payload")

	switch {
	case strings.HasPrefix(plugin, "rrweb/console"):
		return []rrweb.Event{customEvent(ts, "console", payload)}
	case strings.HasPrefix(plugin, "rrweb/network"):
		requests := rrweb.Slice(payload, "requests")
		if len(requests) == 0 {
			return []rrweb.Event{customEvent(ts, "network_request", payload)}
		}
		out := make([]rrweb.Event, 0, len(requests))
		for _, r := range requests {
			req, ok := r.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, customEvent(ts, "network_request", normalizeRequest(req)))
		}
		return out
	default:
		return []rrweb.Event{customEvent(ts, plugin, payload)}
	}
}

// normalizeRequest flattens the field-name drift between network capture
// plugins ("url" vs "name", "status" vs "responseStatus") into one shape.
func normalizeRequest(req map[string]any) map[string]any {
	url := rrweb.Str(req, "url")
	if url == "" {
		url = rrweb.Str(req, "name")
	}
	method := rrweb.Str(req, "method")
	if method == "" {
		method = "GET"
	}
	status, ok := rrweb.Int(req, "status")
	if !ok {
		status, _ = rrweb.Int(req, "responseStatus")
	}
	duration, ok := rrweb.Int64(req, "duration_ms")
	if !ok {
		if f, ok := rrweb.Float(req, "duration"); ok {
			duration = int64(f)
		}
	}
	return map[string]any{
		"url":         url,
		"method":      method,
		"status":      status,
		"duration_ms": duration,
	}
}

func customEvent(ts int64, tag string, payload any) rrweb.Event {
	return rrweb.Event{
		Type:      rrweb.Custom,
		Timestamp: ts,
		Data:      map[string]any{"tag": tag, "payload": payload},
	}
}

// ensureMeta guarantees the stream opens with a Meta event. Analytics exports
// never carry one, and some rrweb captures begin mid-recording after the
// original Meta was lost; replay and the parser both need page context up
// front, so a best-effort Meta is synthesized from whatever the stream holds:
// the first snapshot's stored href, a page_view custom event, or about:blank.
func ensureMeta(events []rrweb.Event) []rrweb.Event {
	for _, e := range events {
		if e.Type == rrweb.Meta {
			return events
		}
	}

	href := ""
	width, height := 0, 0
	for _, e := range events {
		if href == "" && e.Type == rrweb.FullSnapshot {
			href = rrweb.Str(e.Data, "href")
		}
		if href == "" && e.Type == rrweb.Custom && e.CustomTag() == "page_view" {
			href = rrweb.Str(e.CustomPayload(), "url")
		}
		if width == 0 {
			if src, ok := e.Source(); ok && src == rrweb.SourceViewportResize {
				width, _ = rrweb.Int(e.Data, "width")
				height, _ = rrweb.Int(e.Data, "height")
			}
		}
	}
	if href == "" {
		href = "about:blank"
	}
	if width == 0 {
		width, height = defaultViewportWidth, defaultViewportHeight
	}

	meta := rrweb.Event{
		Type:      rrweb.Meta,
		Timestamp: events[0].Timestamp,
		Data: map[string]any{
			"href":   href,
			"width":  width,
			"height": height,
		},
	}
	return append([]rrweb.Event{meta}, events...)
}

// ensureSnapshot inserts a minimal FullSnapshot after the leading Meta. Only
// synthesized pseudo replays need this; a native capture without a snapshot
// is genuinely broken and is rejected later by the parser.
func ensureSnapshot(events []rrweb.Event) []rrweb.Event {
	for _, e := range events {
		if e.Type == rrweb.FullSnapshot {
			return events
		}
	}

	snapshot := rrweb.Event{
		Type:      rrweb.FullSnapshot,
		Timestamp: events[0].Timestamp,
		Data:      minimalSnapshot(),
	}
	out := make([]rrweb.Event, 0, len(events)+1)
	out = append(out, events[0], snapshot)
	out = append(out, events[1:]...)
	return out
}

// minimalSnapshot is the smallest DOM tree a replay player will accept:
// document, doctype, html, head, body.
func minimalSnapshot() map[string]any {
	return map[string]any{
		"node": map[string]any{
			"type": 0,
			"id":   1,
			"childNodes": []any{
				map[string]any{"type": 1, "id": 2, "name": "html"},
				map[string]any{
					"type":       2,
					"id":         3,
					"tagName":    "html",
					"attributes": map[string]any{},
					"childNodes": []any{
						map[string]any{
							"type": 2, "id": 4, "tagName": "head",
							"attributes": map[string]any{}, "childNodes": []any{},
						},
						map[string]any{
							"type": 2, "id": 5, "tagName": "body",
							"attributes": map[string]any{}, "childNodes": []any{},
						},
					},
				},
			},
		},
		"initialOffset": map[string]any{"left": 0, "top": 0},
	}
}
