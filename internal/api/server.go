package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/mission-bot/internal/config"
	"github.com/terra-clan/mission-bot/internal/models"
	"github.com/terra-clan/mission-bot/internal/notify"
	"github.com/terra-clan/mission-bot/internal/storage"
	"github.com/terra-clan/mission-bot/internal/syncer"
	"github.com/terra-clan/mission-bot/internal/validation"
)

// SyncRunner is the part of the sync loop exposed over HTTP
type SyncRunner interface {
	RunOnce(ctx context.Context) (*syncer.Report, error)
	LastReport() *syncer.Report
	Running() bool
	Interval() time.Duration
	Trigger()
}

// Publisher is the Discord side used by readiness and refresh
type Publisher interface {
	Ready() bool
	Update(ctx context.Context, ref string, m *models.Mission) error
}

// HealthChecker reports the health of optional dependencies
type HealthChecker interface {
	HealthCheckAll(ctx context.Context) map[string]error
}

// Deps are the collaborators of the API server
type Deps struct {
	Store     storage.MissionStore
	Publisher Publisher
	Syncer    SyncRunner
	Validator *validation.Validator
	Hub       *notify.Hub
	Health    HealthChecker
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	store          storage.MissionStore
	writer         storage.MissionWriter
	publisher      Publisher
	syncer         SyncRunner
	validator      *validation.Validator
	hub            *notify.Hub
	health         HealthChecker
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Validator == nil {
		deps.Validator = validation.NewValidator(validation.DefaultRules())
	}

	s := &Server{
		config:         cfg,
		store:          deps.Store,
		publisher:      deps.Publisher,
		syncer:         deps.Syncer,
		validator:      deps.Validator,
		hub:            deps.Hub,
		health:         deps.Health,
		authMiddleware: NewAuthMiddleware(cfg.APIKeys, cfg.ReadOnlyAPIKeys),
	}
	if w, ok := deps.Store.(storage.MissionWriter); ok {
		s.writer = w
	}

	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	if !s.authMiddleware.Enabled() {
		slog.Warn("no API keys configured, admin API disabled")
		s.router = r
		return
	}

	// API v1 routes (protected by authentication)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		// The event stream is long-lived and must not be cut by the timeout
		r.With(s.authMiddleware.RequirePermission(models.PermEventsRead)).Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/missions", func(r chi.Router) {
				r.With(s.authMiddleware.RequirePermission(models.PermMissionsRead)).Get("/", s.handleListMissions)
				r.With(s.authMiddleware.RequirePermission(models.PermMissionsWrite)).Post("/", s.handleCreateMission)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.authMiddleware.RequirePermission(models.PermMissionsRead)).Get("/", s.handleGetMission)
					r.With(s.authMiddleware.RequirePermission(models.PermMissionsWrite)).Post("/refresh", s.handleRefreshMission)
				})
			})

			r.Route("/sync", func(r chi.Router) {
				r.With(s.authMiddleware.RequirePermission(models.PermSyncWrite)).Post("/", s.handleRunSync)
				r.With(s.authMiddleware.RequirePermission(models.PermSyncRead)).Get("/status", s.handleSyncStatus)
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
