package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate")
)

// UserRepository exposes persistence operations for directory users.
type UserRepository interface {
	Create(ctx context.Context, user *models.DirectoryUser) error
	GetByID(ctx context.Context, id string) (*models.DirectoryUser, error)
	GetByEmail(ctx context.Context, email string) (*models.DirectoryUser, error)
	Count(ctx context.Context) (int, error)
	Update(ctx context.Context, user *models.DirectoryUser) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]models.DirectoryUser, error)
}

// ActivityLogRepository exposes the append-only audit trail.
type ActivityLogRepository interface {
	Append(ctx context.Context, entry *models.ActivityLogEntry) error
	ListByEmail(ctx context.Context, email string, limit int) ([]models.ActivityLogEntry, error)
}
