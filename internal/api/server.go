package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/storylineai/storyline/internal/api/middleware"
	"github.com/storylineai/storyline/internal/config"
	"github.com/storylineai/storyline/internal/database"
	"github.com/storylineai/storyline/internal/dialog"
)

// TurnEngine is the dialog engine surface the webhooks need.
type TurnEngine interface {
	ReceiveTurn(ctx context.Context, callID string, ev dialog.InputEvent) dialog.TurnResponse
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	jwtKey   []byte
	engine   TurnEngine
	accounts database.CallerAccountRepository
	children database.ChildProfileRepository
	usage    database.UsageRecordRepository
	stories  database.StoryRepository
	admins   database.AdminUserRepository
	metrics  http.Handler
	logger   *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(
	cfg *config.Config,
	engine TurnEngine,
	accounts database.CallerAccountRepository,
	children database.ChildProfileRepository,
	usage database.UsageRecordRepository,
	stories database.StoryRepository,
	admins database.AdminUserRepository,
	metrics http.Handler,
	logger *slog.Logger,
) (*Server, error) {
	jwtKey, err := cfg.JWTSecretBytes()
	if err != nil {
		return nil, fmt.Errorf("resolving jwt secret: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		jwtKey:   jwtKey,
		engine:   engine,
		accounts: accounts,
		children: children,
		usage:    usage,
		stories:  stories,
		admins:   admins,
		metrics:  metrics,
		logger:   logger.With("subsystem", "api"),
	}

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	// Voice webhooks from the telephony provider.
	r.Route("/webhook", func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.NewIPRateLimiter(middleware.WebhookRateLimitConfig())))
		r.Use(middleware.ValidateWebhookSignature(s.cfg.TwilioAuthToken, s.cfg.WebhookBaseURL))

		r.Post("/voice", s.handleVoiceWebhook)
		r.Post("/turn", s.handleTurnWebhook)
		r.Post("/playback", s.handlePlaybackWebhook)
		r.Post("/status", s.handleStatusWebhook)
	})

	// Admin API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
		r.Use(middleware.RateLimit(middleware.NewIPRateLimiter(middleware.AdminRateLimitConfig())))

		r.Get("/health", s.handleHealth)
		r.Post("/setup", s.handleSetup)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig())))
			r.Post("/auth/login", s.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminAuth(s.jwtKey))

			r.Route("/stories", func(r chi.Router) {
				r.Get("/", s.handleListStories)
				r.Post("/", s.handleCreateStory)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetStory)
					r.Put("/", s.handleUpdateStory)
					r.Delete("/", s.handleDeleteStory)
				})
			})

			r.Route("/callers", func(r chi.Router) {
				r.Get("/", s.handleListCallers)
				r.Put("/{phone}/tier", s.handleSetTier)
				r.Get("/{phone}/children", s.handleListChildren)
				r.Get("/{phone}/usage", s.handleGetUsage)
			})

			r.Delete("/children/{id}", s.handleDeleteChild)
		})
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
}

// handleHealth returns service liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
