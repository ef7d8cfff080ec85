package server

import (
	_ "embed"
	"fmt"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

//go:embed model.conf
var routeModel string

// routePolicies grant roles access to route patterns. Roles inherit
// downwards through roleHierarchy.
var routePolicies = [][]string{
	{string(identity.RoleRead), "/api/auth/*", "GET|POST"},
	{string(identity.RoleAdmin), "/api/admin/*", "GET|POST"},
}

// roleHierarchy lists (member, inherited) pairs: admin > ops > read.
var roleHierarchy = [][]string{
	{string(identity.RoleAdmin), string(identity.RoleOps)},
	{string(identity.RoleOps), string(identity.RoleRead)},
}

// NewRouteEnforcer builds the casbin enforcer gating routes by session role.
func NewRouteEnforcer() (casbin.IEnforcer, error) {
	m, err := model.NewModelFromString(routeModel)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if _, err := enforcer.AddPolicies(routePolicies); err != nil {
		return nil, fmt.Errorf("load route policies: %w", err)
	}
	if _, err := enforcer.AddGroupingPolicies(roleHierarchy); err != nil {
		return nil, fmt.Errorf("load role hierarchy: %w", err)
	}
	return enforcer, nil
}

// requireRole rejects requests unless the caller's own session role is
// allowed on the route by enforcer. It runs after ClientSessions.Middleware.
func requireRole(enforcer casbin.IEnforcer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cs := currentSession(r)
			if cs == nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			snap := cs.service.Snapshot()
			if !snap.IsAuthenticated || snap.User == nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			allowed, err := enforcer.Enforce(string(snap.User.Role), r.URL.Path, r.Method)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "authorization failed")
				return
			}
			if !allowed {
				writeError(w, http.StatusForbidden, fmt.Sprintf("role %s may not %s %s", snap.User.Role, r.Method, r.URL.Path))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
