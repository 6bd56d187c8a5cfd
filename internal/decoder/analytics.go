package decoder

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/sessionsieve/sessionsieve/internal/rrweb"
)

type vendor int

const (
	vendorAmplitude vendor = iota
	vendorMixpanel
)

func (v vendor) String() string {
	if v == vendorMixpanel {
		return "mixpanel"
	}
	return "amplitude"
}

// vendorEvent is one analytics export row reduced to the three fields the
// synthesizer needs.
type vendorEvent struct {
	name  string
	ts    int64 // unix ms
	props map[string]any
}

// amplitudeTimeLayouts covers the export formats Amplitude has shipped over
// the years, most precise first.
var amplitudeTimeLayouts = []string{
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// synthesize builds a pseudo replay from an analytics export. The rows are
// sorted by time and mapped one-to-one onto canonical events; coarse vendor
// taxonomies (a "click" row with no node identity) become incremental events
// targeting stable pseudo node ids hashed from the element descriptor.
func synthesize(items []json.RawMessage, v vendor) ([]rrweb.Event, error) {
	rows := make([]vendorEvent, 0, len(items))
	for i, raw := range items {
		row, err := parseVendorRow(raw, v)
		if err != nil {
			log.Warn().Int("item", i).Str("vendor", v.String()).Err(err).Msg("skipping unparseable analytics row")
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]rrweb.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapVendorEvent(row))
	}
	return out, nil
}

func parseVendorRow(raw json.RawMessage, v vendor) (vendorEvent, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return vendorEvent{}, fmt.Errorf("parse row: %w", err)
	}

	var row vendorEvent
	switch v {
	case vendorMixpanel:
		row.name = rrweb.Str(m, "event")
		row.props = rrweb.Map(m, "properties")
		if t, ok := rrweb.Int64(row.props, "time"); ok {
			row.ts = normalizeEpoch(t)
		}
	default: // amplitude
		row.name = rrweb.Str(m, "event_type")
		row.props = rrweb.Map(m, "event_properties")
		if s := rrweb.Str(m, "event_time"); s != "" {
			for _, layout := range amplitudeTimeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					row.ts = t.UnixMilli()
					break
				}
			}
		}
		if row.ts == 0 {
			if t, ok := rrweb.Int64(m, "time"); ok {
				row.ts = normalizeEpoch(t)
			}
		}
	}

	if row.name == "" {
		return vendorEvent{}, fmt.Errorf("row has no event name")
	}
	if row.ts <= 0 {
		return vendorEvent{}, fmt.Errorf("row %q has no usable timestamp", row.name)
	}
	if row.props == nil {
		row.props = map[string]any{}
	}
	return row, nil
}

// normalizeEpoch widens second-precision epochs to milliseconds. Mixpanel
// exports seconds; everything after 2001-09-09 in seconds is below 1e12.
func normalizeEpoch(t int64) int64 {
	if t > 0 && t < 1e12 {
		return t * 1000
	}
	return t
}

// mapVendorEvent translates one analytics row into a canonical event using a
// fixed name table. Unrecognized names pass through as Custom events so no
// row is ever silently lost.
func mapVendorEvent(row vendorEvent) rrweb.Event {
	name := strings.ToLower(strings.TrimSpace(row.name))
	name = strings.TrimPrefix(name, "[amplitude] ")

	switch {
	case matchName(name, "element clicked", "$mp_click", "click", "clicked", "button clicked", "link clicked"):
		return synthClick(row)
	case matchName(name, "page viewed", "$mp_web_page_view", "page view", "pageview", "loaded a page"):
		return customEvent(row.ts, "page_view", map[string]any{
			"url":   firstProp(row.props, "page_url", "$current_url", "url", "page path", "path"),
			"title": firstProp(row.props, "page_title", "$title", "title"),
		})
	case matchName(name, "form submitted", "form submit", "submitted form", "$mp_form_submit"):
		return customEvent(row.ts, "form_submit", stripVendorProps(row.props))
	case matchName(name, "element changed", "input changed", "field changed", "form field filled"):
		return synthInput(row)
	case matchName(name, "page scrolled", "scrolled", "scroll", "scroll depth reached"):
		return synthScroll(row)
	case matchName(name, "error", "$exception", "error occurred", "exception", "js error"):
		return customEvent(row.ts, "console", map[string]any{
			"level":   "error",
			"payload": []any{firstProp(row.props, "message", "error_message", "$exception_message", "description")},
		})
	case matchName(name, "session_start", "start session", "session started"):
		return customEvent(row.ts, "session_start", stripVendorProps(row.props))
	case matchName(name, "session_end", "end session", "session ended"):
		return customEvent(row.ts, "session_end", stripVendorProps(row.props))
	case matchName(name, "search", "searched", "site search"):
		return customEvent(row.ts, "search", map[string]any{
			"query": firstProp(row.props, "query", "search_term", "term", "q"),
		})
	default:
		return customEvent(row.ts, snakeCase(name), stripVendorProps(row.props))
	}
}

func matchName(name string, candidates ...string) bool {
	for _, c := range candidates {
		if name == c {
			return true
		}
	}
	return false
}

func synthClick(row vendorEvent) rrweb.Event {
	descriptor := elementDescriptor(row.props)
	x, _ := rrweb.Int(row.props, "x")
	y, _ := rrweb.Int(row.props, "y")
	return rrweb.Event{
		Type:      rrweb.IncrementalSnapshot,
		Timestamp: row.ts,
		Data: map[string]any{
			"source":   int(rrweb.SourceMouseInteraction),
			"type":     int(rrweb.Click),
			"id":       pseudoNodeID(descriptor),
			"x":        x,
			"y":        y,
			"selector": descriptor,
			"text":     firstProp(row.props, "element_text", "$el_text", "text", "label"),
		},
	}
}

func synthInput(row vendorEvent) rrweb.Event {
	descriptor := elementDescriptor(row.props)
	text := firstProp(row.props, "value", "field_value")
	if text == "" {
		// Exports redact input values; a placeholder keeps the field from
		// reading as cleared downstream.
		text = "(redacted)"
	}
	return rrweb.Event{
		Type:      rrweb.IncrementalSnapshot,
		Timestamp: row.ts,
		Data: map[string]any{
			"source":   int(rrweb.SourceInput),
			"id":       pseudoNodeID(descriptor),
			"text":     text,
			"selector": descriptor,
		},
	}
}

func synthScroll(row vendorEvent) rrweb.Event {
	y, ok := rrweb.Int(row.props, "scroll_top")
	if !ok {
		y, _ = rrweb.Int(row.props, "scroll_y")
	}
	data := map[string]any{
		"source": int(rrweb.SourceScroll),
		"id":     1,
		"x":      0,
		"y":      y,
	}
	if pct, ok := rrweb.Float(row.props, "percent"); ok {
		data["percent"] = pct
	} else if pct, ok := rrweb.Float(row.props, "scroll_percent"); ok {
		data["percent"] = pct
	} else if pct, ok := rrweb.Float(row.props, "scroll depth"); ok {
		data["percent"] = pct
	}
	return rrweb.Event{Type: rrweb.IncrementalSnapshot, Timestamp: row.ts, Data: data}
}

// elementDescriptor builds a stable human-readable element identity from
// whatever element metadata the vendor attached.
func elementDescriptor(props map[string]any) string {
	if sel := firstProp(props, "selector", "css_selector", "$element_selector"); sel != "" {
		return sel
	}
	tag := firstProp(props, "element_tag", "tag_name", "$element_tag_name", "tag")
	if tag == "" {
		tag = "el"
	}
	var b strings.Builder
	b.WriteString(tag)
	if id := firstProp(props, "element_id", "$element_id"); id != "" {
		b.WriteString("#")
		b.WriteString(id)
	}
	if class := firstProp(props, "element_class", "class_name", "$element_class"); class != "" {
		b.WriteString(".")
		b.WriteString(strings.Join(strings.Fields(class), "."))
	}
	if text := firstProp(props, "element_text", "$el_text", "text"); text != "" && b.Len() < 48 {
		b.WriteString("|")
		b.WriteString(truncate(text, 32))
	}
	return b.String()
}

// pseudoNodeID hashes an element descriptor into a positive int shaped like
// an rrweb node id. Synthesized sessions never mix with real node ids, so
// collisions with genuine snapshots are not a concern.
func pseudoNodeID(descriptor string) int {
	h := fnv.New32a()
	h.Write([]byte(descriptor))
	return int(h.Sum32() & 0x7fffffff)
}

// firstProp returns the first non-empty string value among keys, widening
// non-string scalars as needed.
func firstProp(props map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := props[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%g", v)
		case bool:
			return fmt.Sprintf("%t", v)
		}
	}
	return ""
}

// stripVendorProps drops vendor-injected keys ($-prefixed, [Amplitude]
// bracketed, mp_ internals) so passthrough payloads carry only what the
// customer's own instrumentation set.
func stripVendorProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if strings.HasPrefix(k, "$") || strings.HasPrefix(k, "mp_") {
			continue
		}
		if strings.HasPrefix(k, "[Amplitude]") || strings.HasPrefix(k, "[amplitude]") {
			continue
		}
		out[k] = v
	}
	return out
}

func snakeCase(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '-' || r == '.' || r == '/'
	})
	return strings.Join(fields, "_")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
