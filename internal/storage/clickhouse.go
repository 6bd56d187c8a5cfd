package storage

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/sessionsieve/sessionsieve/internal/config"
)

type ClickHouse struct {
	conn driver.Conn
}

// SemanticSessionRow is a row in the semantic_sessions table: one compressed
// session. The narrative and the full summary travel as JSON strings; the
// counters dashboards filter on get typed columns of their own.
type SemanticSessionRow struct {
	SessionID      string
	ProjectID      string
	DistinctID     string
	Source         string
	StartedAt      time.Time
	DurationMs     uint64
	PageURL        string
	PageTitle      string
	EventCount     uint32
	LogCount       uint32
	ViewportWidth  uint16
	ViewportHeight uint16
	RageClicks     uint32
	DeadClicks     uint32
	ConsoleErrors  uint32
	NetworkErrors  uint32
	Hesitations    uint32
	IsFrustrated   uint8
	IsConfused     uint8
	IsExploring    uint8
	IsEngaged      uint8
	IsMobile       uint8
	CompletedGoal  uint8
	Browser        string
	OS             string
	DeviceType     string
	Country        string
	City           string
	Logs           string
	Summary        string
}

// FrictionEventRow is a row in the friction_events table: one raised flag at
// one moment, for heatmaps and per-flag trend queries.
type FrictionEventRow struct {
	ProjectID string
	SessionID string
	Timestamp time.Time
	Flag      string
	Action    string
	Details   string
	PageURL   string
}

// CohortUserRow is a row in the cohort_users table: one classifier verdict.
type CohortUserRow struct {
	ProjectID         string
	DistinctID        string
	FunnelName        string
	DroppedAtStep     uint8
	Cohort            string
	RecommendedAction string
	PriorityScore     int32
	Signals           string
	ClassifiedAt      time.Time
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

func (c *ClickHouse) InsertSemanticSessions(ctx context.Context, rows []SemanticSessionRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO semantic_sessions (
			session_id, project_id, distinct_id, source, started_at, duration_ms,
			page_url, page_title, event_count, log_count,
			viewport_width, viewport_height,
			rage_clicks, dead_clicks, console_errors, network_errors, hesitations,
			is_frustrated, is_confused, is_exploring, is_engaged, is_mobile, completed_goal,
			browser, os, device_type, country, city,
			logs, summary
		)
	`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		err := batch.Append(
			r.SessionID, r.ProjectID, r.DistinctID, r.Source, r.StartedAt, r.DurationMs,
			r.PageURL, r.PageTitle, r.EventCount, r.LogCount,
			r.ViewportWidth, r.ViewportHeight,
			r.RageClicks, r.DeadClicks, r.ConsoleErrors, r.NetworkErrors, r.Hesitations,
			r.IsFrustrated, r.IsConfused, r.IsExploring, r.IsEngaged, r.IsMobile, r.CompletedGoal,
			r.Browser, r.OS, r.DeviceType, r.Country, r.City,
			r.Logs, r.Summary,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) InsertFrictionEvents(ctx context.Context, rows []FrictionEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO friction_events (
			project_id, session_id, timestamp,
			flag, action, details, page_url
		)
	`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		err := batch.Append(
			r.ProjectID, r.SessionID, r.Timestamp,
			r.Flag, r.Action, r.Details, r.PageURL,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) InsertCohortUsers(ctx context.Context, rows []CohortUserRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO cohort_users (
			project_id, distinct_id, funnel_name, dropped_at_step,
			cohort, recommended_action, priority_score, signals, classified_at
		)
	`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		err := batch.Append(
			r.ProjectID, r.DistinctID, r.FunnelName, r.DroppedAtStep,
			r.Cohort, r.RecommendedAction, r.PriorityScore, r.Signals, r.ClassifiedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
