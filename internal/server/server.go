package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sessionsieve/sessionsieve/internal/cohort"
	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/enrich"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
	"github.com/sessionsieve/sessionsieve/internal/metrics"
	"github.com/sessionsieve/sessionsieve/internal/semantic"
	"github.com/sessionsieve/sessionsieve/internal/storage"
)

// KeyValidator authenticates API keys and enforces per-project limits.
type KeyValidator interface {
	ProjectForKey(ctx context.Context, apiKey string) (string, error)
	AllowProject(ctx context.Context, projectID string) bool
}

// EnvelopePublisher enqueues raw envelopes for asynchronous compression.
type EnvelopePublisher interface {
	PublishEnvelope(ctx context.Context, env envelope.Envelope) error
}

// CohortStore persists classification verdicts.
type CohortStore interface {
	InsertCohortUsers(ctx context.Context, rows []storage.CohortUserRow) error
}

// Deps wires the collaborators of the HTTP surface. Nil optional fields
// disable their feature: no Validator means project ids come from request
// bodies, no Publisher disables async ingest, no Cohorts skips persistence.
type Deps struct {
	Parser     *semantic.Parser
	Classifier *cohort.Classifier
	Validator  KeyValidator
	Enricher   *enrich.Enricher
	Publisher  EnvelopePublisher
	Cohorts    CohortStore
}

// Server is the HTTP API: synchronous compression, asynchronous ingest, and
// cohort classification.
type Server struct {
	parser     *semantic.Parser
	classifier *cohort.Classifier
	validator  KeyValidator
	enricher   *enrich.Enricher
	publisher  EnvelopePublisher
	cohorts    CohortStore
	limiter    *rate.Limiter
	maxBody    int64
}

func New(cfg config.ServerConfig, limit config.RateLimitConfig, deps Deps) *Server {
	s := &Server{
		parser:     deps.Parser,
		classifier: deps.Classifier,
		validator:  deps.Validator,
		enricher:   deps.Enricher,
		publisher:  deps.Publisher,
		cohorts:    deps.Cohorts,
		maxBody:    cfg.MaxBodyBytes,
	}
	if limit.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), limit.Burst)
	}
	return s
}

// Router assembles the chi router. Health and metrics bypass the global rate
// limit; everything under /v1 is throttled.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(s.observe)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/v1/sessions", s.handleIngest)
		r.Post("/v1/sessions/compress", s.handleCompress)
		r.Post("/v1/cohorts/classify", s.handleClassify)
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe records request count and latency per matched route.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}
		metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, APIResponse{Success: false, Error: msg})
}
