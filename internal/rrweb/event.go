// Package rrweb defines the canonical session-replay event model that the
// rest of the pipeline consumes. Whatever the capture source was (a native
// rrweb recorder, a compressed vendor blob, or a product-analytics export),
// the decoder reduces it to a flat, time-ordered []Event before any semantic
// analysis runs.
package rrweb

import (
	"strconv"
)

// EventType mirrors the rrweb top-level event taxonomy.
type EventType int

const (
	DOMContentLoaded    EventType = 0
	Load                EventType = 1
	FullSnapshot        EventType = 2
	IncrementalSnapshot EventType = 3
	Meta                EventType = 4
	Custom              EventType = 5
	Plugin              EventType = 6
)

// IncrementalSource discriminates IncrementalSnapshot payloads.
type IncrementalSource int

const (
	SourceMutation         IncrementalSource = 0
	SourceMouseMove        IncrementalSource = 1
	SourceMouseInteraction IncrementalSource = 2
	SourceScroll           IncrementalSource = 3
	SourceViewportResize   IncrementalSource = 4
	SourceInput            IncrementalSource = 5
	SourceTouchMove        IncrementalSource = 6
	SourceMediaInteraction IncrementalSource = 7
)

// MouseInteractionKind discriminates SourceMouseInteraction payloads.
type MouseInteractionKind int

const (
	MouseUp       MouseInteractionKind = 0
	MouseDown     MouseInteractionKind = 1
	Click         MouseInteractionKind = 2
	ContextMenu   MouseInteractionKind = 3
	DblClick      MouseInteractionKind = 4
	Focus         MouseInteractionKind = 5
	Blur          MouseInteractionKind = 6
	TouchStart    MouseInteractionKind = 7
	TouchMoveKind MouseInteractionKind = 8
	TouchEnd      MouseInteractionKind = 9
)

// MediaInteractionKind discriminates SourceMediaInteraction payloads.
type MediaInteractionKind int

const (
	MediaPlay         MediaInteractionKind = 0
	MediaPause        MediaInteractionKind = 1
	MediaSeeked       MediaInteractionKind = 2
	MediaVolumeChange MediaInteractionKind = 3
)

// Event is one canonical replay event. Data stays schemaless because the
// payload shape varies per type and per capture source; the typed accessors
// below are the supported way to read it.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ValidType reports whether t is one of the canonical event types.
func ValidType(t EventType) bool {
	return t >= DOMContentLoaded && t <= Plugin
}

// PluginName returns the plugin identifier of a Plugin event, or "" when
// absent. Recorder plugins stamp names like "rrweb/console@1".
func (e Event) PluginName() string {
	if e.Type != Plugin {
		return ""
	}
	return Str(e.Data, "plugin")
}

// Source returns the incremental source of an IncrementalSnapshot event.
func (e Event) Source() (IncrementalSource, bool) {
	if e.Type != IncrementalSnapshot {
		return 0, false
	}
	n, ok := Int(e.Data, "source")
	return IncrementalSource(n), ok
}

// InteractionKind returns the mouse interaction kind for
// SourceMouseInteraction events.
func (e Event) InteractionKind() (MouseInteractionKind, bool) {
	n, ok := Int(e.Data, "type")
	return MouseInteractionKind(n), ok
}

// CustomTag returns the tag of a Custom event, or "" when absent.
func (e Event) CustomTag() string {
	if e.Type != Custom {
		return ""
	}
	return Str(e.Data, "tag")
}

// CustomPayload returns the payload object of a Custom event. Payloads that
// are not JSON objects (strings, numbers) come back wrapped under "value" so
// callers have a single shape to inspect.
func (e Event) CustomPayload() map[string]any {
	raw, ok := e.Data["payload"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v
	default:
		return map[string]any{"value": v}
	}
}

// Str reads a string field from a decoded JSON object.
func Str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Int reads a numeric field from a decoded JSON object. JSON numbers decode
// as float64, but re-encoded payloads occasionally carry native ints or
// stringified digits, so all of those are accepted.
func Int(m map[string]any, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Int64 reads a wide numeric field, typically a millisecond timestamp.
func Int64(m map[string]any, key string) (int64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Float reads a floating-point field from a decoded JSON object.
func Float(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Bool reads a boolean field from a decoded JSON object.
func Bool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

// Map reads a nested object field from a decoded JSON object.
func Map(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

// Slice reads an array field from a decoded JSON object.
func Slice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	v, _ := m[key].([]any)
	return v
}
