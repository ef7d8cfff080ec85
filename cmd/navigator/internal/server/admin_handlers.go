package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/directory"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

type userResponse struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	Name         string            `json:"name"`
	Role         identity.Role     `json:"role"`
	Status       models.UserStatus `json:"status"`
	AuthProvider string            `json:"authProvider"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	LastLoginAt  *time.Time        `json:"lastLoginAt,omitempty"`
	CreatedBy    *string           `json:"createdBy,omitempty"`
	UpdatedBy    *string           `json:"updatedBy,omitempty"`
}

func toUserResponse(u *models.DirectoryUser) userResponse {
	return userResponse{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		Status:       u.Status,
		AuthProvider: u.AuthProvider,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		LastLoginAt:  u.LastLoginAt,
		CreatedBy:    u.CreatedBy,
		UpdatedBy:    u.UpdatedBy,
	}
}

type activityResponse struct {
	Action    models.ActivityAction `json:"action"`
	Details   models.Details        `json:"details,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
}

type createUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// actor returns the email of the administrator making the request.
func actor(r *http.Request) string {
	if cs := currentSession(r); cs != nil {
		if u := cs.service.Snapshot().User; u != nil {
			return u.Email
		}
	}
	return ""
}

// GET /api/admin/users
func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.directory.List(r.Context())
	if err != nil {
		h.directoryError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /api/admin/users
func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.directory.CreateUser(r.Context(), actor(r), req.Email, req.Name, role)
	if err != nil {
		h.directoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// POST /api/admin/users/{email}/role
func (h *handlers) setRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.directory.SetRole(r.Context(), actor(r), chi.URLParam(r, "email"), role)
	if err != nil {
		h.directoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// POST /api/admin/users/{email}/name
func (h *handlers) rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	user, err := h.directory.Rename(r.Context(), actor(r), chi.URLParam(r, "email"), req.Name)
	if err != nil {
		h.directoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// POST /api/admin/users/{email}/deactivate
func (h *handlers) deactivate(w http.ResponseWriter, r *http.Request) {
	user, err := h.directory.Deactivate(r.Context(), actor(r), chi.URLParam(r, "email"))
	if err != nil {
		h.directoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// POST /api/admin/users/{email}/reactivate
func (h *handlers) reactivate(w http.ResponseWriter, r *http.Request) {
	user, err := h.directory.Reactivate(r.Context(), actor(r), chi.URLParam(r, "email"))
	if err != nil {
		h.directoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// GET /api/admin/users/{email}/activity?limit=20
func (h *handlers) activity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := h.directory.Activity(r.Context(), chi.URLParam(r, "email"), limit)
	if err != nil {
		h.directoryError(w, r, err)
		return
	}
	out := make([]activityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityResponse{Action: e.Action, Details: e.Details, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) directoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, directory.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, directory.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, directory.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, directory.ErrLastAdmin):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "directory request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "directory unavailable")
	}
}
