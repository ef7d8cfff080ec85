package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/repository"
)

// ProviderManual marks users provisioned by an administrator.
const ProviderManual = "manual"

// DefaultActivityLimit caps Activity when no limit is given.
const DefaultActivityLimit = 50

// Get returns the directory user for email.
func (s *Synchronizer) Get(ctx context.Context, email string) (*models.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.get(ctx, email)
}

func (s *Synchronizer) get(ctx context.Context, email string) (*models.DirectoryUser, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", identity.NormalizeEmail(email), ErrUserNotFound)
		}
		return nil, err
	}
	return user, nil
}

// List returns every directory user, newest first.
func (s *Synchronizer) List(ctx context.Context) ([]models.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.users.List(ctx)
}

// Activity returns the most recent audit entries for email.
func (s *Synchronizer) Activity(ctx context.Context, email string, limit int) ([]models.ActivityLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	return s.activity.ListByEmail(ctx, email, limit)
}

// CreateUser provisions a user ahead of first login.
func (s *Synchronizer) CreateUser(ctx context.Context, actor, email, name string, role identity.Role) (*models.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	email = identity.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", ErrInvalidInput, role)
	}

	now := s.now().UTC()
	user := &models.DirectoryUser{
		Email:        email,
		Name:         nameOrDerived(name, email),
		Role:         role,
		Status:       models.UserStatusActive,
		AuthProvider: ProviderManual,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    optional(actor),
		UpdatedBy:    optional(actor),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%s: %w", email, ErrUserExists)
		}
		return nil, err
	}
	s.audit(ctx, user, models.ActionCreated, models.Details{"role": string(role), "by": actor})
	return user, nil
}

// SetRole changes a user's role. Setting the current role is a no-op.
func (s *Synchronizer) SetRole(ctx context.Context, actor, email string, role identity.Role) (*models.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", ErrInvalidInput, role)
	}
	user, err := s.get(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}
	if user.Role == identity.RoleAdmin && user.Active() {
		if err := s.ensureOtherAdmin(ctx, user); err != nil {
			return nil, err
		}
	}

	from := user.Role
	user.Role = role
	user.UpdatedBy = optional(actor)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.audit(ctx, user, models.ActionRoleChanged, models.Details{"from": string(from), "to": string(role), "by": actor})
	return user, nil
}

// Deactivate blocks a user from holding a session.
func (s *Synchronizer) Deactivate(ctx context.Context, actor, email string) (*models.DirectoryUser, error) {
	return s.setStatus(ctx, actor, email, models.UserStatusInactive, models.ActionDeactivated)
}

// Reactivate restores a deactivated user.
func (s *Synchronizer) Reactivate(ctx context.Context, actor, email string) (*models.DirectoryUser, error) {
	return s.setStatus(ctx, actor, email, models.UserStatusActive, models.ActionReactivated)
}

func (s *Synchronizer) setStatus(ctx context.Context, actor, email string, status models.UserStatus, action models.ActivityAction) (*models.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.get(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.Status == status {
		return user, nil
	}
	if status != models.UserStatusActive && user.Role == identity.RoleAdmin && user.Active() {
		if err := s.ensureOtherAdmin(ctx, user); err != nil {
			return nil, err
		}
	}

	from := user.Status
	user.Status = status
	user.UpdatedBy = optional(actor)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.audit(ctx, user, action, models.Details{"from": string(from), "by": actor})
	return user, nil
}

// Rename changes a user's display name.
func (s *Synchronizer) Rename(ctx context.Context, actor, email, name string) (*models.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	user, err := s.get(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.Name == name {
		return user, nil
	}

	from := user.Name
	user.Name = name
	user.UpdatedBy = optional(actor)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.audit(ctx, user, models.ActionUpdated, models.Details{"from": from, "to": name, "by": actor})
	return user, nil
}

func (s *Synchronizer) ensureOtherAdmin(ctx context.Context, user *models.DirectoryUser) error {
	users, err := s.users.List(ctx)
	if err != nil {
		return err
	}
	for i := range users {
		u := &users[i]
		if u.ID != user.ID && u.Role == identity.RoleAdmin && u.Active() {
			return nil
		}
	}
	return ErrLastAdmin
}
