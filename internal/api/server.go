// Package api exposes tasks, models and streaming chat over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/completion"
	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/modelpool"
	"github.com/sells-group/persona-sim/internal/orchestrator"
	"github.com/sells-group/persona-sim/internal/prompts"
	"github.com/sells-group/persona-sim/internal/resilience"
	"github.com/sells-group/persona-sim/internal/store"
)

// TaskService manages analysis tasks. *orchestrator.Manager satisfies it.
type TaskService interface {
	Create(ctx context.Context, in orchestrator.NewTask) (*model.Task, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (*orchestrator.StatusView, error)
	List(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
}

// ModelLister reports the models that have usable keys. *modelpool.Pool
// satisfies it.
type ModelLister interface {
	ActiveModels() []modelpool.ModelInfo
}

// Server holds the HTTP handlers.
type Server struct {
	tasks    TaskService
	models   ModelLister
	chat     completion.Streamer
	streamer completion.Streamer
	prompts  *prompts.Set
	breakers *resilience.Breakers
	adminKey string
	metrics  bool
	origins  []string
}

// Option configures a Server.
type Option func(*Server)

// WithAdminKey sets the key required by task control endpoints. Without a
// key those endpoints always answer 403.
func WithAdminKey(key string) Option {
	return func(s *Server) { s.adminKey = key }
}

// WithMetrics mounts the Prometheus handler at /metrics.
func WithMetrics(enabled bool) Option {
	return func(s *Server) { s.metrics = enabled }
}

// WithPrompts overrides the prompt set used for token estimation.
func WithPrompts(p *prompts.Set) Option {
	return func(s *Server) { s.prompts = p }
}

// WithBreakers reports the model circuit breakers on /health.
func WithBreakers(b *resilience.Breakers) Option {
	return func(s *Server) { s.breakers = b }
}

// WithAllowedOrigins restricts CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// NewServer creates a Server. chat answers /api/chat/stream with web
// augmentation and streamer runs plain completions for token estimates.
func NewServer(tasks TaskService, models ModelLister, chat, streamer completion.Streamer, opts ...Option) *Server {
	s := &Server{
		tasks:    tasks,
		models:   models,
		chat:     chat,
		streamer: streamer,
		prompts:  prompts.Default(),
		origins:  []string{"*"},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.listModels)
		r.Post("/chat/stream", s.chatStream)
		r.Post("/token_estimate", s.tokenEstimate)

		r.Post("/tasks", s.createTask)
		r.Get("/tasks", s.admin(s.listTasks))
		r.Get("/tasks/{id}/status", s.taskStatus)
		r.Get("/tasks/{id}/report", s.taskReport)
		r.Post("/tasks/{id}/start", s.admin(s.control(TaskService.Start)))
		r.Post("/tasks/{id}/stop", s.admin(s.control(TaskService.Stop)))
		r.Post("/tasks/{id}/restart", s.admin(s.control(TaskService.Restart)))
	})
	return r
}

// health reports liveness and lists breakers that are not closed.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.breakers != nil {
		open := map[string]string{}
		for name, st := range s.breakers.States() {
			if st != resilience.CircuitClosed {
				open[name] = st.String()
			}
		}
		if len(open) > 0 {
			resp["breakers"] = open
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	models := s.models.ActiveModels()
	if models == nil {
		models = []modelpool.ModelInfo{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"models": models})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
