package decoder

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/sessionsieve/sessionsieve/internal/rrweb"
)

// decodeBlobs interprets items as blob_v2 containers: objects whose "data"
// field holds a base64-encoded gzip of rrweb JSON. Vendors sometimes compress
// inner fields a second time, so after the outer layer opens, every string
// leaf of the result is probed for another layer.
//
// An item whose data field fails to open is not dropped outright: the item
// itself may already be an uncompressed rrweb event, so the native path gets
// a chance at it first.
func decodeBlobs(items []json.RawMessage) []rrweb.Event {
	var out []rrweb.Event
	for i, raw := range items {
		var item map[string]any
		if err := json.Unmarshal(raw, &item); err != nil {
			log.Warn().Int("item", i).Err(err).Msg("skipping non-object blob item")
			continue
		}

		data, hasData := item["data"].(string)
		if hasData {
			if v, ok := openBlob(data); ok {
				events, err := eventsFromBlobValue(decompressLeaves(v))
				if err != nil {
					log.Warn().Int("item", i).Err(err).Msg("skipping blob with no events")
					continue
				}
				out = append(out, events...)
				continue
			}
		}

		// Fallback: treat the original item as a native event.
		events, err := eventsFromValue(item)
		if err != nil {
			log.Warn().Int("item", i).Err(err).Msg("skipping undecodable blob item")
			continue
		}
		out = append(out, events...)
	}
	return out
}

// openBlob decodes the outer layer of a blob data field: base64, then gzip,
// then JSON. A data field that is plain uncompressed JSON is also accepted.
func openBlob(data string) (any, bool) {
	if v, ok := tryDecompress(data); ok {
		return v, true
	}
	var v any
	if err := json.Unmarshal([]byte(data), &v); err == nil {
		return v, true
	}
	return nil, false
}

// tryDecompress attempts one layer of base64 + gzip + JSON on a string. A
// string that fails base64 or lacks the gzip magic bytes comes back unchanged
// with ok=false, which is what guarantees the recursive walk terminates.
// Decompressed bytes that are not JSON are returned as a plain string; they
// still count as one opened layer.
func tryDecompress(s string) (any, bool) {
	if len(s) < 4 {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, false
		}
	}
	if len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		return nil, false
	}

	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, false
	}

	var v any
	if err := json.Unmarshal(plain, &v); err != nil {
		return string(plain), true
	}
	return v, true
}

// decompressLeaves walks a decoded JSON value and opens every string leaf
// that holds another compressed layer. Each successful open consumes one real
// gzip layer of finite input, so recursion is self-limiting.
func decompressLeaves(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, vv := range t {
			t[k] = decompressLeaves(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = decompressLeaves(vv)
		}
		return t
	case string:
		if inner, ok := tryDecompress(t); ok {
			return decompressLeaves(inner)
		}
		return t
	default:
		return v
	}
}

// eventsFromBlobValue extracts rrweb events from an opened blob. Blobs carry
// either a bare event array, a windowed wrapper object with the array under
// "data", or a single event object.
func eventsFromBlobValue(v any) ([]rrweb.Event, error) {
	if m, ok := v.(map[string]any); ok {
		if wrapped := rrweb.Slice(m, "data"); wrapped != nil {
			return eventsFromValue(wrapped)
		}
	}
	return eventsFromValue(v)
}
