package syncer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
	"github.com/sessionsieve/sessionsieve/internal/sources"
)

const (
	syncJobs        = 4
	cursorKeyPrefix = "sync:cursor:"
)

// Publisher forwards wrapped envelopes to the raw topic.
type Publisher interface {
	PublishEnvelope(ctx context.Context, env envelope.Envelope) error
}

type project struct {
	cfg    config.ProjectConfig
	source sources.Source
}

// Syncer schedules vendor pulls per project and republishes every fetched
// session as a raw envelope. Cursors in Redis keep restarts from re-reading
// history; without Redis each run covers the lookback window.
type Syncer struct {
	cron      *cron.Cron
	publisher Publisher
	redis     *redis.Client
	cfg       config.SyncConfig
	projects  []project
}

// New builds sources for every configured project. A project with an unknown
// vendor fails construction rather than being silently skipped.
func New(cfg config.SyncConfig, publisher Publisher, rdb *redis.Client) (*Syncer, error) {
	s := &Syncer{
		cron:      cron.New(),
		publisher: publisher,
		redis:     rdb,
		cfg:       cfg,
	}

	for _, pc := range cfg.Projects {
		src, err := sources.New(pc, cfg.PageLimit)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", pc.ProjectID, err)
		}
		s.projects = append(s.projects, project{cfg: pc, source: src})
	}

	return s, nil
}

// Start registers every project on its schedule and runs the cron loop.
// Projects without their own schedule inherit the global one.
func (s *Syncer) Start(ctx context.Context) error {
	for _, p := range s.projects {
		schedule := p.cfg.Schedule
		if schedule == "" {
			schedule = s.cfg.Schedule
		}

		if _, err := s.cron.AddFunc(schedule, func() {
			if err := s.syncProject(ctx, p); err != nil {
				log.Error().Err(err).
					Str("project_id", p.cfg.ProjectID).
					Str("vendor", p.source.Vendor()).
					Msg("Vendor sync failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule project %s: %w", p.cfg.ProjectID, err)
		}

		log.Info().
			Str("project_id", p.cfg.ProjectID).
			Str("vendor", p.source.Vendor()).
			Str("schedule", schedule).
			Msg("Project sync scheduled")
	}

	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for in-flight runs to finish.
func (s *Syncer) Stop() {
	<-s.cron.Stop().Done()
}

// SyncAll runs one pull for every project with bounded concurrency. The
// first error is returned but does not cancel sibling projects' publishes.
func (s *Syncer) SyncAll(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(syncJobs)

	for _, p := range s.projects {
		g.Go(func() error {
			return s.syncProject(ctx, p)
		})
	}
	return g.Wait()
}

func (s *Syncer) syncProject(ctx context.Context, p project) error {
	until := time.Now().UTC()
	since := s.cursor(ctx, p.cfg.ProjectID, until)

	sessions, err := p.source.FetchSessions(ctx, since, until)
	if err != nil {
		return fmt.Errorf("fetch %s sessions: %w", p.source.Vendor(), err)
	}

	published := 0
	for _, raw := range sessions {
		env := envelope.New(p.cfg.ProjectID, raw.SessionID, raw.Source, raw.Items)
		env.DistinctID = raw.DistinctID

		if err := env.Validate(); err != nil {
			log.Warn().Err(err).
				Str("project_id", p.cfg.ProjectID).
				Str("session_id", raw.SessionID).
				Msg("Skipping invalid vendor session")
			continue
		}
		if err := s.publisher.PublishEnvelope(ctx, env); err != nil {
			log.Error().Err(err).
				Str("project_id", p.cfg.ProjectID).
				Str("session_id", raw.SessionID).
				Msg("Failed to publish vendor session")
			continue
		}
		published++
	}

	s.advanceCursor(ctx, p.cfg.ProjectID, until)

	log.Info().
		Str("project_id", p.cfg.ProjectID).
		Str("vendor", p.source.Vendor()).
		Time("since", since).
		Int("fetched", len(sessions)).
		Int("published", published).
		Msg("Vendor sync complete")
	return nil
}

// cursor returns where the last successful run left off, falling back to
// the lookback window when Redis is absent, empty, or ahead of the clock.
func (s *Syncer) cursor(ctx context.Context, projectID string, until time.Time) time.Time {
	fallback := until.Add(-time.Duration(s.cfg.LookbackMin) * time.Minute)
	if s.redis == nil {
		return fallback
	}

	v, err := s.redis.Get(ctx, cursorKeyPrefix+projectID).Result()
	if err != nil {
		return fallback
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}

	since := time.UnixMilli(ms).UTC()
	if since.After(until) {
		return fallback
	}
	return since
}

func (s *Syncer) advanceCursor(ctx context.Context, projectID string, until time.Time) {
	if s.redis == nil {
		return
	}
	key := cursorKeyPrefix + projectID
	if err := s.redis.Set(ctx, key, strconv.FormatInt(until.UnixMilli(), 10), 0).Err(); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("Failed to advance sync cursor")
	}
}
