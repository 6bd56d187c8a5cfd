package sources

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
)

// RawSession is one vendor session ready to be wrapped in an envelope. Items
// are passed to the decoder untouched, in the vendor's native row format.
type RawSession struct {
	SessionID  string
	DistinctID string
	Source     envelope.Source
	Items      []json.RawMessage
}

// Source pulls raw sessions from one vendor API for a time window.
type Source interface {
	Vendor() string
	FetchSessions(ctx context.Context, since, until time.Time) ([]RawSession, error)
}

// Constructor builds a Source from one project's sync settings. pageLimit
// bounds one page where the vendor API paginates; zero keeps the vendor
// default.
type Constructor func(cfg config.ProjectConfig, pageLimit int) (Source, error)

var registry = make(map[string]Constructor)

// Register adds a source constructor under a vendor name. Vendor files call
// it from init, so importing this package registers every built-in source.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// New builds the source a project is configured with.
func New(cfg config.ProjectConfig, pageLimit int) (Source, error) {
	ctor, ok := registry[cfg.Source]
	if !ok {
		return nil, fmt.Errorf("unknown source vendor: %q", cfg.Source)
	}
	return ctor(cfg, pageLimit)
}

// Vendors lists the registered vendor names, sorted.
func Vendors() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sessionKeyFunc extracts the session and user ids from one export row.
type sessionKeyFunc func(row map[string]any) (sessionID, distinctID string)

// groupRows buckets export rows into per-session payloads, preserving row
// order within each session. Rows without a session id share one synthetic
// session per user and window so they still reach the pipeline.
func groupRows(lines [][]byte, source envelope.Source, key sessionKeyFunc, since time.Time) []RawSession {
	var order []string
	byID := make(map[string]*RawSession)

	for _, line := range lines {
		var row map[string]any
		if err := json.Unmarshal(line, &row); err != nil {
			log.Warn().Err(err).Str("source", string(source)).Msg("Skipping malformed export row")
			continue
		}

		sessionID, distinctID := key(row)
		if sessionID == "" {
			if distinctID == "" {
				continue
			}
			sessionID = distinctID + "-" + since.UTC().Format("20060102T15")
		}

		s, ok := byID[sessionID]
		if !ok {
			s = &RawSession{SessionID: sessionID, DistinctID: distinctID, Source: source}
			byID[sessionID] = s
			order = append(order, sessionID)
		}
		if s.DistinctID == "" {
			s.DistinctID = distinctID
		}
		s.Items = append(s.Items, json.RawMessage(line))
	}

	out := make([]RawSession, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// splitLines splits an NDJSON body into trimmed, non-empty lines.
func splitLines(raw []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}
