// Package api exposes the REST surface for creating, toggling, configuring and
// broadcasting through managed bots, plus the admin routes.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/edgard/botfleet/internal/broadcast"
	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/logger"
	"github.com/edgard/botfleet/internal/registry"
)

// Bots is the part of the bot registry the API drives.
type Bots interface {
	Start(ctx context.Context, cfg database.BotConfig) error
	Stop(ctx context.Context, botID string) error
	Restart(ctx context.Context, cfg database.BotConfig) error
	Get(botID string) (*registry.Instance, bool)
	List() []string
	ReconcileAll(ctx context.Context, configs []database.BotConfig) error
	StopAll(ctx context.Context) error
}

// Broadcaster sends one message to every subscriber of a running bot.
type Broadcaster interface {
	Send(ctx context.Context, botID, message string) (broadcast.Result, error)
}

// Deps are the collaborators of the API server.
type Deps struct {
	Logger        *slog.Logger
	Store         database.Store
	Bots          Bots
	Broadcaster   Broadcaster
	AdminPassword string
}

// Server serves the HTTP API.
type Server struct {
	logger        *slog.Logger
	store         database.Store
	bots          Bots
	broadcaster   Broadcaster
	adminPassword string
	validate      *validator.Validate
}

// NewServer creates an API server.
func NewServer(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		logger:        log.With("component", "api"),
		store:         deps.Store,
		bots:          deps.Bots,
		broadcaster:   deps.Broadcaster,
		adminPassword: deps.AdminPassword,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler returns the routed, access-logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/bots", s.handleCreateBot)
	mux.HandleFunc("GET /api/bots", s.handleListBots)
	mux.HandleFunc("GET /api/bots/{id}", s.handleGetBot)
	mux.HandleFunc("POST /api/bots/{id}/toggle", s.handleToggleBot)
	mux.HandleFunc("POST /api/bots/{id}/restart", s.handleRestartBot)
	mux.HandleFunc("PUT /api/bots/{id}/settings", s.handleUpdateSettings)
	mux.HandleFunc("PUT /api/bots/{id}/force-join", s.handleUpdateForceJoin)
	mux.HandleFunc("POST /api/bots/{id}/broadcast", s.handleBroadcast)
	mux.HandleFunc("GET /api/bots/{id}/stats", s.handleStats)

	mux.HandleFunc("POST /api/admin/login", s.handleAdminLogin)
	mux.HandleFunc("POST /api/admin/toggle-all", s.handleToggleAll)
	mux.HandleFunc("GET /api/admin/notifications", s.handleListNotifications)
	mux.HandleFunc("POST /api/admin/notifications/seen", s.handleMarkNotificationsSeen)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	return logger.HTTPMiddleware(s.logger, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
