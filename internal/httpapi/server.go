// Package httpapi exposes the webhook, the operational endpoints, and the
// live answer feed.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/davidems/murmur/internal/brain"
	"github.com/davidems/murmur/internal/config"
	"github.com/davidems/murmur/internal/engine"
	"github.com/davidems/murmur/internal/jobs"
	"github.com/davidems/murmur/internal/observability"
	"github.com/davidems/murmur/internal/prefs"
	"github.com/davidems/murmur/internal/store"
)

type Server struct {
	cfg      config.Config
	resolver *prefs.Resolver
	engine   *engine.Engine
	invoker  *brain.Invoker
	queue    *jobs.Queue
	store    store.Store
	metrics  *observability.Metrics
	hub      *Hub
	log      zerolog.Logger
}

func New(
	cfg config.Config,
	resolver *prefs.Resolver,
	eng *engine.Engine,
	invoker *brain.Invoker,
	queue *jobs.Queue,
	st store.Store,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		engine:   eng,
		invoker:  invoker,
		queue:    queue,
		store:    st,
		metrics:  metrics,
		hub:      NewHub(log),
		log:      log.With().Str("component", "httpapi").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/webhook", s.handleWebhook)
	r.Get("/v1/queue/status", s.handleQueueStatus)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Post("/v1/sessions/clear", s.handleClearSessions)
	r.Get("/v1/sessions/{key}/transcript", s.handleTranscript)
	r.Put("/v1/preferences/user/{id}", s.handlePutUserPreferences)
	r.Put("/v1/preferences/session/{key}", s.handlePutSessionPreferences)
	r.Get("/v1/answers/ws", s.handleAnswersWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"queue_length":     s.queue.Status().QueueLength,
		"tracked_sessions": s.engine.TrackedSessions(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
