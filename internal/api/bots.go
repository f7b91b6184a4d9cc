package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/botfleet/internal/broadcast"
	"github.com/edgard/botfleet/internal/database"
)

type createBotRequest struct {
	Token            string `json:"token"              validate:"required"`
	Owner            string `json:"owner"              validate:"required,max=128"`
	Title            string `json:"title"              validate:"max=128"`
	ForceJoinChannel string `json:"force_join_channel" validate:"max=128"`
	NotifyNewUser    bool   `json:"notify_new_user"`
	ReactionEnabled  bool   `json:"reaction_enabled"`
	ReactionEmoji    string `json:"reaction_emoji"     validate:"max=16"`
}

type toggleRequest struct {
	Credentials
	// Enabled sets the flag explicitly; when absent the flag is flipped.
	Enabled *bool `json:"enabled"`
}

type settingsRequest struct {
	Credentials
	Title           *string `json:"title"            validate:"omitempty,max=128"`
	NotifyNewUser   *bool   `json:"notify_new_user"`
	ReactionEnabled *bool   `json:"reaction_enabled"`
	ReactionEmoji   *string `json:"reaction_emoji"   validate:"omitempty,max=16"`
}

type forceJoinRequest struct {
	Credentials
	Channel string `json:"channel" validate:"max=128"`
}

type broadcastRequest struct {
	Credentials
	Message string `json:"message" validate:"required,max=4096"`
}

// botView is a bot as returned to API clients. The token is never included.
type botView struct {
	database.BotConfig
	TokenHint string     `json:"token_hint"`
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

type statsResponse struct {
	BotID       string     `json:"bot_id"`
	Running     bool       `json:"running"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Subscribers int        `json:"subscribers"`
	Broadcasts  int        `json:"broadcasts"`
}

type launchFailedResponse struct {
	Error string  `json:"error"`
	Bot   botView `json:"bot"`
}

func (s *Server) view(cfg database.BotConfig) botView {
	v := botView{BotConfig: cfg, TokenHint: cfg.TokenHint()}
	if inst, ok := s.bots.Get(cfg.ID); ok {
		v.Running = true
		startedAt := inst.StartedAt
		v.StartedAt = &startedAt
	}
	return v
}

func queryCredentials(r *http.Request) Credentials {
	q := r.URL.Query()
	return Credentials{Owner: q.Get("owner"), AdminPassword: q.Get("admin_password")}
}

// authorizedBot loads the bot named in the path and checks creds against its owner.
func (s *Server) authorizedBot(r *http.Request, creds Credentials) (*database.BotConfig, error) {
	cfg, err := s.store.GetBot(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if err := Authorize(s.adminPassword, creds, cfg.Owner); err != nil {
		s.logger.WarnContext(r.Context(), "Unauthorized bot access", "bot_id", cfg.ID, "path", r.URL.Path)
		return nil, err
	}
	return cfg, nil
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		s.writeError(w, r, badRequest("token must not be blank"))
		return
	}

	cfg := database.BotConfig{
		ID:               uuid.NewString(),
		Token:            strings.TrimSpace(req.Token),
		Owner:            req.Owner,
		Title:            req.Title,
		Enabled:          true,
		ForceJoinChannel: strings.TrimSpace(req.ForceJoinChannel),
		NotifyNewUser:    req.NotifyNewUser,
		ReactionEnabled:  req.ReactionEnabled,
		ReactionEmoji:    req.ReactionEmoji,
	}
	if err := s.store.CreateBot(r.Context(), &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "Bot created", "bot_id", cfg.ID, "owner", cfg.Owner, "token", cfg.TokenHint())

	if err := s.bots.Start(r.Context(), cfg); err != nil {
		// The bot stays persisted and enabled; a restart can retry the launch.
		writeJSON(w, statusFor(err), launchFailedResponse{Error: err.Error(), Bot: s.view(cfg)})
		return
	}
	writeJSON(w, http.StatusCreated, s.view(cfg))
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	creds := queryCredentials(r)
	if !IsAdmin(s.adminPassword, creds.AdminPassword) && creds.Owner == "" {
		s.writeError(w, r, ErrForbidden)
		return
	}

	bots, err := s.store.ListBots(r.Context(), creds.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]botView, 0, len(bots))
	for _, b := range bots {
		views = append(views, s.view(b))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.authorizedBot(r, queryCredentials(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(*cfg))
}

func (s *Server) handleToggleBot(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.authorizedBot(r, req.Credentials)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	enabled := !cfg.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if err := s.store.SetBotEnabled(r.Context(), cfg.ID, enabled); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg.Enabled = enabled
	s.logger.InfoContext(r.Context(), "Bot toggled", "bot_id", cfg.ID, "enabled", enabled)

	if enabled {
		if err := s.bots.Start(r.Context(), *cfg); err != nil {
			writeJSON(w, statusFor(err), launchFailedResponse{Error: err.Error(), Bot: s.view(*cfg)})
			return
		}
	} else if err := s.bots.Stop(r.Context(), cfg.ID); err != nil {
		// The instance is already dropped from the registry; only the clean shutdown failed.
		s.logger.WarnContext(r.Context(), "Bot did not stop cleanly", "bot_id", cfg.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, s.view(*cfg))
}

func (s *Server) handleRestartBot(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.authorizedBot(r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !cfg.Enabled {
		s.writeError(w, r, errBotDisabled)
		return
	}
	if err := s.bots.Restart(r.Context(), *cfg); err != nil {
		writeJSON(w, statusFor(err), launchFailedResponse{Error: err.Error(), Bot: s.view(*cfg)})
		return
	}
	writeJSON(w, http.StatusOK, s.view(*cfg))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.authorizedBot(r, req.Credentials)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	reactionWas := cfg.ReactionEnabled
	if req.Title != nil {
		cfg.Title = *req.Title
	}
	if req.NotifyNewUser != nil {
		cfg.NotifyNewUser = *req.NotifyNewUser
	}
	if req.ReactionEnabled != nil {
		cfg.ReactionEnabled = *req.ReactionEnabled
	}
	if req.ReactionEmoji != nil {
		cfg.ReactionEmoji = *req.ReactionEmoji
	}
	if err := s.store.UpdateBot(r.Context(), cfg); err != nil {
		s.writeError(w, r, err)
		return
	}

	// The enabled flag may have changed since the read above; act on the stored row.
	cfg, err = s.store.GetBot(r.Context(), cfg.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The reaction handler is attached at launch, so flipping it needs a relaunch.
	// Every other setting is re-read per event.
	if _, running := s.bots.Get(cfg.ID); running && cfg.Enabled && reactionWas != cfg.ReactionEnabled {
		s.logger.InfoContext(r.Context(), "Restarting bot to apply reaction setting", "bot_id", cfg.ID)
		if err := s.bots.Restart(r.Context(), *cfg); err != nil {
			writeJSON(w, statusFor(err), launchFailedResponse{Error: err.Error(), Bot: s.view(*cfg)})
			return
		}
		s.stopIfDisabled(r.Context(), cfg.ID)
	}
	writeJSON(w, http.StatusOK, s.view(*cfg))
}

// stopIfDisabled stops botID when a concurrent toggle disabled it while a relaunch was in flight.
func (s *Server) stopIfDisabled(ctx context.Context, botID string) {
	current, err := s.store.GetBot(ctx, botID)
	if err != nil || current.Enabled {
		return
	}
	s.logger.InfoContext(ctx, "Bot was disabled during restart; stopping it", "bot_id", botID)
	if err := s.bots.Stop(ctx, botID); err != nil {
		s.logger.WarnContext(ctx, "Bot did not stop cleanly", "bot_id", botID, "error", err)
	}
}

func (s *Server) handleUpdateForceJoin(w http.ResponseWriter, r *http.Request) {
	var req forceJoinRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.authorizedBot(r, req.Credentials)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cfg.ForceJoinChannel = strings.TrimSpace(req.Channel)
	if err := s.store.UpdateBot(r.Context(), cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if cfg, err = s.store.GetBot(r.Context(), cfg.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(*cfg))
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.authorizedBot(r, req.Credentials)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.broadcaster.Send(r.Context(), cfg.ID, req.Message)
	if err != nil {
		if !errors.Is(err, broadcast.ErrNotRunning) {
			s.logger.ErrorContext(r.Context(), "Broadcast failed", "bot_id", cfg.ID, "error", err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.authorizedBot(r, queryCredentials(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	subscribers, err := s.store.CountSubscribers(r.Context(), cfg.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	broadcasts, err := s.store.CountBroadcasts(r.Context(), cfg.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	v := s.view(*cfg)
	writeJSON(w, http.StatusOK, statsResponse{
		BotID:       cfg.ID,
		Running:     v.Running,
		StartedAt:   v.StartedAt,
		Subscribers: subscribers,
		Broadcasts:  broadcasts,
	})
}
