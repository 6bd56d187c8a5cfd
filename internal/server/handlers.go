package server

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sessionsieve/sessionsieve/internal/cohort"
	"github.com/sessionsieve/sessionsieve/internal/decoder"
	"github.com/sessionsieve/sessionsieve/internal/enrich"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
	"github.com/sessionsieve/sessionsieve/internal/metrics"
	"github.com/sessionsieve/sessionsieve/internal/pipeline"
	"github.com/sessionsieve/sessionsieve/internal/storage"
	"github.com/sessionsieve/sessionsieve/internal/validation"
)

const classifyJobs = 8

// APIResponse is the error shape every endpoint shares.
type APIResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SessionRequest carries one session's raw items. project_key authenticates
// when key validation is wired; project_id is honored only without it.
type SessionRequest struct {
	ProjectKey string            `json:"project_key,omitempty"`
	ProjectID  string            `json:"project_id,omitempty"`
	SessionID  string            `json:"session_id"`
	DistinctID string            `json:"distinct_id,omitempty"`
	Source     envelope.Source   `json:"source"`
	Items      []json.RawMessage `json:"items"`
}

type IngestResponse struct {
	Success    bool   `json:"success"`
	EnvelopeID string `json:"envelope_id"`
}

type ClassifyRequest struct {
	ProjectKey string          `json:"project_key,omitempty"`
	ProjectID  string          `json:"project_id,omitempty"`
	Funnel     cohort.Funnel   `json:"funnel"`
	People     []cohort.Person `json:"people"`
}

type ClassifyResponse struct {
	Users []cohort.ClassifiedUser `json:"users"`
}

// handleCompress runs the full pipeline synchronously and returns the
// compressed session. Backpressure comes from the global rate limit.
func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	projectID, ok := s.resolveProject(w, r, req.ProjectKey, req.ProjectID)
	if !ok {
		return
	}

	env := s.buildEnvelope(r, projectID, req)
	if err := env.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, startedAt, err := pipeline.Compress(s.parser, env)
	if err != nil {
		if errors.Is(err, decoder.ErrNoValidEvents) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.Error().Err(err).Str("session_id", env.SessionID).Msg("Compression failed")
		respondError(w, http.StatusInternalServerError, "compression failed")
		return
	}

	respondJSON(w, http.StatusOK, pipeline.Output{
		ProjectID:    projectID,
		SessionID:    env.SessionID,
		DistinctID:   env.DistinctID,
		Source:       env.Source,
		StartedAt:    startedAt.UnixMilli(),
		CompressedAt: time.Now().UnixMilli(),
		Session:      session,
	})
}

// handleIngest accepts a session for asynchronous compression through Kafka.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		respondError(w, http.StatusServiceUnavailable, "async ingest is not configured")
		return
	}

	var req SessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	projectID, ok := s.resolveProject(w, r, req.ProjectKey, req.ProjectID)
	if !ok {
		return
	}
	if s.validator != nil && !s.validator.AllowProject(r.Context(), projectID) {
		respondError(w, http.StatusTooManyRequests, "project rate limit exceeded")
		return
	}

	env := s.buildEnvelope(r, projectID, req)
	if err := env.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.publisher.PublishEnvelope(r.Context(), env); err != nil {
		log.Error().Err(err).Str("session_id", env.SessionID).Msg("Failed to enqueue session")
		respondError(w, http.StatusInternalServerError, "failed to enqueue session")
		return
	}

	respondJSON(w, http.StatusAccepted, IngestResponse{Success: true, EnvelopeID: env.EnvelopeID})
}

// handleClassify classifies a batch of drop-off candidates, highest priority
// first. Verdicts are persisted when a store is wired; persistence failures
// are logged but do not fail the request.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	projectID, ok := s.resolveProject(w, r, req.ProjectKey, req.ProjectID)
	if !ok {
		return
	}
	if len(req.People) == 0 {
		respondError(w, http.StatusBadRequest, "no people to classify")
		return
	}

	users := make([]cohort.ClassifiedUser, len(req.People))
	g := new(errgroup.Group)
	g.SetLimit(classifyJobs)
	for i, person := range req.People {
		g.Go(func() error {
			users[i] = s.classifier.Classify(req.Funnel, person)
			return nil
		})
	}
	g.Wait()

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].PriorityScore > users[j].PriorityScore
	})

	for _, u := range users {
		metrics.RecordCohortClassification(string(u.Cohort))
	}

	if s.cohorts != nil {
		if err := s.cohorts.InsertCohortUsers(r.Context(), s.cohortRows(projectID, req, users)); err != nil {
			log.Error().Err(err).Str("project_id", projectID).Msg("Failed to persist cohort users")
		}
	}

	respondJSON(w, http.StatusOK, ClassifyResponse{Users: users})
}

func (s *Server) cohortRows(projectID string, req ClassifyRequest, users []cohort.ClassifiedUser) []storage.CohortUserRow {
	stepFor := make(map[string]int, len(req.People))
	for _, p := range req.People {
		stepFor[p.DistinctID] = p.DroppedAtStep
	}

	now := time.Now().UTC()
	rows := make([]storage.CohortUserRow, 0, len(users))
	for _, u := range users {
		signals, err := json.Marshal(u.Signals)
		if err != nil {
			signals = []byte("[]")
		}

		step := stepFor[u.DistinctID]
		if step < 0 {
			step = 0
		} else if step > 255 {
			step = 255
		}

		rows = append(rows, storage.CohortUserRow{
			ProjectID:         projectID,
			DistinctID:        u.DistinctID,
			FunnelName:        req.Funnel.Name,
			DroppedAtStep:     uint8(step),
			Cohort:            string(u.Cohort),
			RecommendedAction: string(u.RecommendedAction),
			PriorityScore:     int32(u.PriorityScore),
			Signals:           string(signals),
			ClassifiedAt:      now,
		})
	}
	return rows
}

// buildEnvelope wraps the request items and stamps device context from the
// request headers when an enricher is wired.
func (s *Server) buildEnvelope(r *http.Request, projectID string, req SessionRequest) envelope.Envelope {
	env := envelope.New(projectID, req.SessionID, req.Source, req.Items)
	env.DistinctID = req.DistinctID

	if s.enricher != nil {
		if ua := r.Header.Get("User-Agent"); ua != "" {
			device := s.enricher.Device(ua, enrich.ClientIP(r))
			env.Device = &device
		}
	}
	return env
}

// resolveProject authenticates the request. With a validator wired the key
// comes from the body or the X-API-Key header; without one the caller names
// the project directly.
func (s *Server) resolveProject(w http.ResponseWriter, r *http.Request, projectKey, projectID string) (string, bool) {
	if s.validator == nil {
		if projectID == "" {
			respondError(w, http.StatusBadRequest, "project_id is required")
			return "", false
		}
		return projectID, true
	}

	key := projectKey
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}

	id, err := s.validator.ProjectForKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, validation.ErrInvalidAPIKey) {
			respondError(w, http.StatusUnauthorized, "invalid API key")
			return "", false
		}
		log.Error().Err(err).Msg("API key validation failed")
		respondError(w, http.StatusInternalServerError, "key validation failed")
		return "", false
	}
	return id, true
}

// decode reads the body under the size cap and unmarshals it. It writes the
// error response itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}
