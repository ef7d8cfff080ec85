package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is a coarse permission tier gating dashboard sections and actions.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleOps   Role = "ops"
	RoleRead  Role = "read"
)

// Roles lists every valid role, most privileged first.
var Roles = []Role{RoleAdmin, RoleOps, RoleRead}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOps, RoleRead:
		return true
	}
	return false
}

// ParseRole converts a case-insensitive role name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q (valid roles: admin, ops, read)", s)
	}
	return r, nil
}

// ParseRoles parses a list of role names, rejecting unknown ones.
func ParseRoles(names []string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		r, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// Mode decides which login path is authoritative for the process.
type Mode string

const (
	// ModeEdge trusts the identity asserted by the edge proxy.
	ModeEdge Mode = "edge"
	// ModeLocal trusts the local credential table.
	ModeLocal Mode = "local"
)

// Provider records where an identity assertion came from.
type Provider string

const (
	ProviderEdge  Provider = "edge"
	ProviderLocal Provider = "local"
)

// Identity is the externally asserted principal.
// Role and DisplayName are overwritten once the directory record is known.
type Identity struct {
	SubjectID   string     `json:"subjectId"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Role        Role       `json:"role"`
	Provider    Provider   `json:"provider"`
	Country     string     `json:"country,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate published state.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.LastLogin != nil {
		t := *i.LastLogin
		c.LastLogin = &t
	}
	return &c
}

// NormalizeEmail lowercases and trims an address for use as the directory key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
