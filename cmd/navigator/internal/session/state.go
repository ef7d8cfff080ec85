package session

import (
	"time"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

// State is the authentication state of the session.
type State string

const (
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// PlatformUser is the published view of the directory record.
type PlatformUser struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	Name         string            `json:"name"`
	Role         identity.Role     `json:"role"`
	Status       models.UserStatus `json:"status"`
	AuthProvider string            `json:"authProvider"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastLoginAt  *time.Time        `json:"lastLoginAt,omitempty"`
}

func platformUserFrom(u *models.DirectoryUser) *PlatformUser {
	if u == nil {
		return nil
	}
	p := &PlatformUser{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		Status:       u.Status,
		AuthProvider: u.AuthProvider,
		CreatedAt:    u.CreatedAt,
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		p.LastLoginAt = &t
	}
	return p
}

// Snapshot is what the rest of the application sees of the session.
type Snapshot struct {
	User            *identity.Identity `json:"user"`
	IsAuthenticated bool               `json:"isAuthenticated"`
	IsLoading       bool               `json:"isLoading"`
	AuthMode        identity.Mode      `json:"authMode"`
	PlatformUser    *PlatformUser      `json:"platformUser"`
	State           State              `json:"state"`
}

// HasRole reports whether the snapshot is authenticated with one of roles.
func (s Snapshot) HasRole(roles ...identity.Role) bool {
	if !s.IsAuthenticated || s.User == nil {
		return false
	}
	for _, r := range roles {
		if s.User.Role == r {
			return true
		}
	}
	return false
}
