package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/session"
)

type handlers struct {
	clients   *ClientSessions
	directory DirectoryAdmin
	logger    *slog.Logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	OK      bool              `json:"ok"`
	Reload  bool              `json:"reload,omitempty"`
	Error   string            `json:"error,omitempty"`
	Session *session.Snapshot `json:"session,omitempty"`
}

type logoutResponse struct {
	Redirect string `json:"redirect"`
}

type hasRoleResponse struct {
	Allowed bool `json:"allowed"`
}

// GET /api/auth/session
func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentSession(r).service.Snapshot())
}

// POST /api/auth/login
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cs := currentSession(r)
	nav := &session.RecordingNavigator{}
	ctx := session.WithNavigator(r.Context(), nav)

	if h.clients.Mode() == identity.ModeLocal {
		s, token, ok, err := h.clients.loginLocal(ctx, cs, req.Email, req.Password)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "login failed", "error", err)
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}
		if ok {
			h.clients.setCookie(w, r, token)
			snap := s.Snapshot()
			writeJSON(w, http.StatusOK, loginResponse{OK: true, Session: &snap})
			return
		}
	} else if cs.service.Login(ctx, req.Email, req.Password) {
		snap := cs.service.Snapshot()
		writeJSON(w, http.StatusOK, loginResponse{OK: true, Session: &snap})
		return
	}

	if reload, _ := nav.Result(); reload {
		writeJSON(w, http.StatusOK, loginResponse{OK: false, Reload: true})
		return
	}
	writeJSON(w, http.StatusUnauthorized, loginResponse{OK: false, Error: "invalid email or password"})
}

// POST /api/auth/logout ends the caller's session only.
func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	cs := currentSession(r)
	nav := &session.RecordingNavigator{}
	cs.service.Logout(session.WithNavigator(r.Context(), nav))
	h.clients.forget(cs)
	if h.clients.Mode() == identity.ModeLocal {
		h.clients.clearCookie(w, r)
	}

	if _, redirect := nav.Result(); redirect != "" {
		writeJSON(w, http.StatusOK, logoutResponse{Redirect: redirect})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/auth/refresh
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentSession(r).service.Refresh(r.Context()))
}

// POST /api/auth/reload re-runs identity resolution for the caller. In edge
// mode the caller's cookies are forwarded to the edge identity endpoint.
func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	cs := currentSession(r)
	if h.clients.Mode() == identity.ModeLocal {
		writeJSON(w, http.StatusOK, cs.service.Start(r.Context()))
		return
	}
	fresh, err := h.clients.reloadEdge(r, cs)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	if !fresh.bound() {
		defer fresh.service.Close()
	}
	writeJSON(w, http.StatusOK, fresh.service.Snapshot())
}

// GET /api/auth/has-role?roles=admin,ops
func (h *handlers) hasRole(w http.ResponseWriter, r *http.Request) {
	roles, err := identity.ParseRoles(strings.Split(r.URL.Query().Get("roles"), ","))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hasRoleResponse{Allowed: currentSession(r).service.Snapshot().HasRole(roles...)})
}
