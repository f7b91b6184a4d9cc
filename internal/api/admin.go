package api

import (
	"net/http"
	"strconv"
)

const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 500
)

type adminRequest struct {
	AdminPassword string `json:"admin_password"`
}

type toggleAllRequest struct {
	AdminPassword string `json:"admin_password"`
	Enabled       *bool  `json:"enabled" validate:"required"`
}

type toggleAllResponse struct {
	Updated     int64    `json:"updated"`
	Running     []string `json:"running"`
	LaunchError string   `json:"launch_error,omitempty"`
}

type markSeenRequest struct {
	AdminPassword string  `json:"admin_password"`
	IDs           []int64 `json:"ids" validate:"required,min=1,max=1000"`
}

type markSeenResponse struct {
	Updated int64 `json:"updated"`
}

func (s *Server) requireAdmin(r *http.Request, supplied string) error {
	if !IsAdmin(s.adminPassword, supplied) {
		s.logger.WarnContext(r.Context(), "Rejected admin request", "path", r.URL.Path)
		return ErrForbidden
	}
	return nil
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.requireAdmin(r, req.AdminPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleToggleAll(w http.ResponseWriter, r *http.Request) {
	var req toggleAllRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.requireAdmin(r, req.AdminPassword); err != nil {
		s.writeError(w, r, err)
		return
	}

	enabled := *req.Enabled
	updated, err := s.store.SetAllBotsEnabled(r.Context(), enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := toggleAllResponse{Updated: updated}
	if enabled {
		bots, err := s.store.ListEnabledBots(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.bots.ReconcileAll(r.Context(), bots); err != nil {
			s.logger.WarnContext(r.Context(), "Some bots failed to launch", "error", err)
			resp.LaunchError = err.Error()
		}
	} else if err := s.bots.StopAll(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "Some bots did not stop cleanly", "error", err)
	}
	resp.Running = s.bots.List()

	s.logger.InfoContext(r.Context(), "Toggled all bots", "enabled", enabled, "updated", updated, "running", len(resp.Running))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.requireAdmin(r, q.Get("admin_password")); err != nil {
		s.writeError(w, r, err)
		return
	}

	unseen := false
	if v := q.Get("unseen"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, badRequest("invalid unseen value %q", v))
			return
		}
		unseen = b
	}
	limit := defaultNotificationLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxNotificationLimit {
			s.writeError(w, r, badRequest("limit must be between 1 and %d", maxNotificationLimit))
			return
		}
		limit = n
	}

	notes, err := s.store.ListNotifications(r.Context(), unseen, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleMarkNotificationsSeen(w http.ResponseWriter, r *http.Request) {
	var req markSeenRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.requireAdmin(r, req.AdminPassword); err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.store.MarkNotificationsSeen(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markSeenResponse{Updated: n})
}
