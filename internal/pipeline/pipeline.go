package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/decoder"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
	"github.com/sessionsieve/sessionsieve/internal/metrics"
	"github.com/sessionsieve/sessionsieve/internal/semantic"
	"github.com/sessionsieve/sessionsieve/internal/storage"
)

// SessionStore is the slice of the ClickHouse layer the compressor writes to.
type SessionStore interface {
	InsertSemanticSessions(ctx context.Context, rows []storage.SemanticSessionRow) error
	InsertFrictionEvents(ctx context.Context, rows []storage.FrictionEventRow) error
}

// Publisher hands compressed sessions to downstream consumers.
type Publisher interface {
	PublishSemantic(ctx context.Context, sessionID string, payload []byte) error
}

// Deduper reports whether a session is seen for the first time.
type Deduper interface {
	FirstSighting(ctx context.Context, key string) bool
}

// Output is the compact envelope published to the semantic topic. StartedAt
// is the capture start in epoch milliseconds; CompressedAt is when this
// service processed it.
type Output struct {
	ProjectID    string           `json:"project_id"`
	SessionID    string           `json:"session_id"`
	DistinctID   string           `json:"distinct_id,omitempty"`
	Source       envelope.Source  `json:"source"`
	StartedAt    int64            `json:"started_at"`
	CompressedAt int64            `json:"compressed_at"`
	Session      semantic.Session `json:"session"`
}

// Compress decodes one raw envelope and parses it into a semantic session.
// Shared by the synchronous compress endpoint and the Kafka worker. The
// returned time is the capture start, taken from the first decoded event.
func Compress(parser *semantic.Parser, env envelope.Envelope) (semantic.Session, time.Time, error) {
	source := string(env.Source)
	start := time.Now()

	events, err := decoder.Decode(env.Source, env.Items)
	if err != nil {
		metrics.RecordCompression(source, "decode_error", time.Since(start))
		return semantic.Session{}, time.Time{}, err
	}
	metrics.RecordDecodedEvents(source, len(events))

	session, err := parser.Parse(events)
	if err != nil {
		metrics.RecordCompression(source, "parse_error", time.Since(start))
		return semantic.Session{}, time.Time{}, err
	}

	// Device enrichment is advisory: it may set isMobile when the stream
	// itself carried no touch evidence, never clear it.
	if env.Device != nil && env.Device.DeviceType == "mobile" && session.Summary.TotalTouches == 0 {
		session.Signals.IsMobile = true
	}

	metrics.RecordCompression(source, "ok", time.Since(start))
	metrics.RecordCompressionRatio(session.EventCount, len(session.Logs))
	for _, entry := range session.Logs {
		for _, flag := range entry.Flags {
			metrics.RecordFrictionFlag(flag)
		}
	}

	return session, time.UnixMilli(events[0].Timestamp), nil
}

// Compressor consumes raw envelopes, compresses them and batches the results
// into ClickHouse. Completed sessions are also published to the semantic
// topic when a publisher is wired.
type Compressor struct {
	parser    *semantic.Parser
	store     SessionStore
	publisher Publisher
	dedup     Deduper
	batch     config.BatchConfig

	sessionBuffer  []storage.SemanticSessionRow
	frictionBuffer []storage.FrictionEventRow

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

// NewCompressor starts the flush loop. publisher and dedup may be nil.
func NewCompressor(parser *semantic.Parser, store SessionStore, publisher Publisher, dedup Deduper, batch config.BatchConfig) *Compressor {
	c := &Compressor{
		parser:         parser,
		store:          store,
		publisher:      publisher,
		dedup:          dedup,
		batch:          batch,
		sessionBuffer:  make([]storage.SemanticSessionRow, 0, batch.Size),
		frictionBuffer: make([]storage.FrictionEventRow, 0, batch.Size),
		done:           make(chan struct{}),
	}

	c.ticker = time.NewTicker(batch.FlushInterval)
	go c.flushLoop()

	return c
}

// Process compresses one envelope and buffers its rows.
func (c *Compressor) Process(ctx context.Context, env envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}

	if c.dedup != nil && !c.dedup.FirstSighting(ctx, env.ProjectID+":"+env.SessionID) {
		log.Debug().
			Str("session_id", env.SessionID).
			Str("project_id", env.ProjectID).
			Msg("Session already compressed, skipping")
		return nil
	}

	session, startedAt, err := Compress(c.parser, env)
	if err != nil {
		return fmt.Errorf("compress session %s: %w", env.SessionID, err)
	}

	row, err := sessionRow(env, session, startedAt)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", env.SessionID, err)
	}

	c.mu.Lock()
	c.sessionBuffer = append(c.sessionBuffer, row)
	c.frictionBuffer = append(c.frictionBuffer, frictionRows(env, session, startedAt)...)
	shouldFlush := len(c.sessionBuffer) >= c.batch.Size
	c.mu.Unlock()

	if c.publisher != nil {
		if err := c.publish(ctx, env, session, startedAt); err != nil {
			log.Error().
				Err(err).
				Str("session_id", env.SessionID).
				Msg("Failed to publish semantic session")
		}
	}

	if shouldFlush {
		c.Flush()
	}

	return nil
}

func (c *Compressor) publish(ctx context.Context, env envelope.Envelope, session semantic.Session, startedAt time.Time) error {
	out := Output{
		ProjectID:    env.ProjectID,
		SessionID:    env.SessionID,
		DistinctID:   env.DistinctID,
		Source:       env.Source,
		StartedAt:    startedAt.UnixMilli(),
		CompressedAt: time.Now().UnixMilli(),
		Session:      session,
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return c.publisher.PublishSemantic(ctx, env.SessionID, payload)
}

func (c *Compressor) flushLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			c.Flush()
		}
	}
}

// Flush writes all buffered rows to ClickHouse.
func (c *Compressor) Flush() {
	c.mu.Lock()
	if len(c.sessionBuffer) == 0 && len(c.frictionBuffer) == 0 {
		c.mu.Unlock()
		return
	}

	sessions := c.sessionBuffer
	frictions := c.frictionBuffer
	c.sessionBuffer = make([]storage.SemanticSessionRow, 0, c.batch.Size)
	c.frictionBuffer = make([]storage.FrictionEventRow, 0, c.batch.Size)
	c.mu.Unlock()

	ctx := context.Background()

	if len(sessions) > 0 {
		start := time.Now()
		if err := c.store.InsertSemanticSessions(ctx, sessions); err != nil {
			log.Error().Err(err).Int("count", len(sessions)).Msg("Failed to insert semantic sessions")
		} else {
			metrics.RecordStorageFlush("semantic_sessions", len(sessions), time.Since(start))
			log.Info().
				Int("count", len(sessions)).
				Dur("duration", time.Since(start)).
				Msg("Flushed semantic sessions to ClickHouse")
		}
	}

	if len(frictions) > 0 {
		start := time.Now()
		if err := c.store.InsertFrictionEvents(ctx, frictions); err != nil {
			log.Error().Err(err).Int("count", len(frictions)).Msg("Failed to insert friction events")
		} else {
			metrics.RecordStorageFlush("friction_events", len(frictions), time.Since(start))
			log.Debug().Int("count", len(frictions)).Msg("Flushed friction events to ClickHouse")
		}
	}
}

// Stop ends the flush loop and drains the buffers.
func (c *Compressor) Stop() {
	c.ticker.Stop()
	close(c.done)
	c.Flush()
}

func sessionRow(env envelope.Envelope, session semantic.Session, startedAt time.Time) (storage.SemanticSessionRow, error) {
	logs, err := json.Marshal(session.Logs)
	if err != nil {
		return storage.SemanticSessionRow{}, err
	}
	summary, err := json.Marshal(session.Summary)
	if err != nil {
		return storage.SemanticSessionRow{}, err
	}

	row := storage.SemanticSessionRow{
		SessionID:      env.SessionID,
		ProjectID:      env.ProjectID,
		DistinctID:     env.DistinctID,
		Source:         string(env.Source),
		StartedAt:      startedAt,
		DurationMs:     uint64(session.DurationMs),
		PageURL:        session.PageURL,
		PageTitle:      session.PageTitle,
		EventCount:     uint32(session.EventCount),
		LogCount:       uint32(len(session.Logs)),
		ViewportWidth:  uint16(session.Viewport.Width),
		ViewportHeight: uint16(session.Viewport.Height),
		RageClicks:     uint32(session.Summary.RageClicks),
		DeadClicks:     uint32(session.Summary.DeadClicks),
		ConsoleErrors:  uint32(session.Summary.ConsoleErrors),
		NetworkErrors:  uint32(session.Summary.NetworkErrors),
		Hesitations:    uint32(session.Summary.Hesitations),
		IsFrustrated:   b2u8(session.Signals.IsFrustrated),
		IsConfused:     b2u8(session.Signals.IsConfused),
		IsExploring:    b2u8(session.Signals.IsExploring),
		IsEngaged:      b2u8(session.Signals.IsEngaged),
		IsMobile:       b2u8(session.Signals.IsMobile),
		CompletedGoal:  b2u8(session.Signals.CompletedGoal),
		Logs:           string(logs),
		Summary:        string(summary),
	}

	if env.Device != nil {
		row.Browser = env.Device.Browser
		row.OS = env.Device.OS
		row.DeviceType = env.Device.DeviceType
		row.Country = env.Device.Country
		row.City = env.Device.City
	}

	return row, nil
}

// frictionRows explodes the flagged log entries into one row per flag. Log
// timestamps are session-relative offsets, so the absolute moment is the
// capture start plus the offset.
func frictionRows(env envelope.Envelope, session semantic.Session, startedAt time.Time) []storage.FrictionEventRow {
	var rows []storage.FrictionEventRow
	for _, entry := range session.Logs {
		for _, flag := range entry.Flags {
			rows = append(rows, storage.FrictionEventRow{
				ProjectID: env.ProjectID,
				SessionID: env.SessionID,
				Timestamp: startedAt.Add(time.Duration(entry.RawTimestamp) * time.Millisecond),
				Flag:      flag,
				Action:    entry.Action,
				Details:   entry.Details,
				PageURL:   session.PageURL,
			})
		}
	}
	return rows
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
