package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

// UserStatus is the lifecycle state of a directory user.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusPending  UserStatus = "pending"
)

// DirectoryUser is the system-of-record user. Email is the natural key and
// is always stored lowercased.
type DirectoryUser struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string        `bun:"id,pk,type:uuid"`
	Email        string        `bun:"email,notnull,unique"`
	Name         string        `bun:"name,notnull"`
	Role         identity.Role `bun:"role,notnull"`
	Status       UserStatus    `bun:"status,notnull"`
	AuthProvider string        `bun:"auth_provider,notnull"`
	ExternalID   *string       `bun:"external_id"` // edge subject id, when asserted
	CreatedAt    time.Time     `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time     `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt  *time.Time    `bun:"last_login_at"`
	CreatedBy    *string       `bun:"created_by"`
	UpdatedBy    *string       `bun:"updated_by"`
}

// Active reports whether the user may hold a session.
func (u *DirectoryUser) Active() bool {
	return u != nil && u.Status == UserStatusActive
}

// ActivityAction enumerates audit trail actions.
type ActivityAction string

const (
	ActionAutoRegistered ActivityAction = "auto_registered"
	ActionLogin          ActivityAction = "login"
	ActionUpdated        ActivityAction = "updated"
	ActionRoleChanged    ActivityAction = "role_changed"
	ActionDeactivated    ActivityAction = "deactivated"
	ActionReactivated    ActivityAction = "reactivated"
	ActionCreated        ActivityAction = "created"
)

// Details is free-form audit context stored as a JSON object.
type Details map[string]any

// Scan implements sql.Scanner for reading from database
func (d *Details) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan Details: expected []byte or string, got %T", value)
	}
	if len(raw) == 0 {
		*d = nil
		return nil
	}
	return json.Unmarshal(raw, d)
}

// Value implements driver.Valuer for writing to database
func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// ActivityLogEntry is an append-only audit record.
type ActivityLogEntry struct {
	bun.BaseModel `bun:"table:user_activity_log,alias:ual"`

	ID        string         `bun:"id,pk,type:uuid"`
	UserID    *string        `bun:"user_id,type:uuid"`
	UserEmail string         `bun:"user_email,notnull"`
	Action    ActivityAction `bun:"action,notnull"`
	Details   Details        `bun:"details,type:jsonb"`
	CreatedAt time.Time      `bun:"created_at,notnull,default:current_timestamp"`
}
