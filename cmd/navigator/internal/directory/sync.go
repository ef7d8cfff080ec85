// Package directory reconciles asserted identities with the user directory
// and hosts the administrative operations that mutate it.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/logging"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/repository"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/telemetry"
)

var (
	// ErrUserNotFound is returned when no directory user has the email.
	ErrUserNotFound = errors.New("directory user not found")

	// ErrUserExists is returned when an administrator creates a duplicate email.
	ErrUserExists = errors.New("directory user already exists")

	// ErrInvalidInput is returned for malformed administrative requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLastAdmin is returned when a change would leave no active administrator.
	ErrLastAdmin = errors.New("cannot remove the last active administrator")
)

// Sync outcomes, recorded as metrics and span attributes.
const (
	OutcomeCreated   = "created"
	OutcomeBootstrap = "bootstrap"
	OutcomeExisting  = "existing"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

// CreateOutcome tags the result of a creation attempt.
type CreateOutcome int

const (
	// Created means this call inserted the user.
	Created CreateOutcome = iota
	// AlreadyExists means a concurrent writer inserted the email first; User
	// is the row read back after the conflict.
	AlreadyExists
)

func (o CreateOutcome) String() string {
	if o == AlreadyExists {
		return "already_exists"
	}
	return "created"
}

// CreateResult is returned by a creation attempt.
type CreateResult struct {
	Outcome CreateOutcome
	User    *models.DirectoryUser
}

// Dependencies holds the Synchronizer collaborators.
type Dependencies struct {
	Users    repository.UserRepository
	Activity repository.ActivityLogRepository
	Roles    *identity.RoleResolver
	Logger   *slog.Logger
	Metrics  *telemetry.AuthMetrics
	Now      func() time.Time
	// Timeout bounds every Sync and admin call. Zero means 5s.
	Timeout time.Duration
}

// Synchronizer is the sole writer of directory users.
type Synchronizer struct {
	users    repository.UserRepository
	activity repository.ActivityLogRepository
	roles    *identity.RoleResolver
	logger   *slog.Logger
	metrics  *telemetry.AuthMetrics
	now      func() time.Time
	timeout  time.Duration
}

// New returns a Synchronizer. Users and Activity are required.
func New(deps Dependencies) *Synchronizer {
	s := &Synchronizer{
		users:    deps.Users,
		activity: deps.Activity,
		roles:    deps.Roles,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		now:      deps.Now,
		timeout:  deps.Timeout,
	}
	if s.roles == nil {
		s.roles = identity.NewRoleResolver(identity.DefaultRoleRules())
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.metrics == nil {
		s.metrics = telemetry.Metrics()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	return s
}

// SyncInput is an asserted identity to reconcile.
type SyncInput struct {
	Email       string
	DisplayName string
	Provider    identity.Provider
	ExternalID  string
	// Role seeds a new record. Empty means the role resolver decides.
	Role identity.Role
	// Refresh marks a re-read of an established session. It is not a
	// login: lastLoginAt is kept and no login entry is written.
	Refresh bool
}

// InputFromIdentity builds a SyncInput from an asserted identity.
func InputFromIdentity(id *identity.Identity) SyncInput {
	in := SyncInput{
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Provider:    id.Provider,
		Role:        id.Role,
	}
	if id.Provider == identity.ProviderEdge && id.SubjectID != "" && id.SubjectID != id.Email {
		in.ExternalID = id.SubjectID
	}
	return in
}

// Sync looks the email up and auto-registers it when absent. The first user
// ever registered becomes admin whatever its resolved role. Existing users
// get lastLoginAt bumped and a login audit entry unless in.Refresh is set;
// their stored role and name are left untouched.
func (s *Synchronizer) Sync(ctx context.Context, in SyncInput) (*models.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "navigator/directory", "directory.Sync",
		attribute.String(telemetry.AttrUserEmail, identity.NormalizeEmail(in.Email)),
		attribute.String(telemetry.AttrAuthProvider, string(in.Provider)),
	)
	defer span.End()

	user, outcome, err := s.sync(ctx, in)
	span.SetAttributes(attribute.String(telemetry.AttrSyncOutcome, outcome))
	s.metrics.RecordSync(ctx, outcome)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.WarnContext(ctx, "directory sync failed", "email", in.Email, "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrUserRole, string(user.Role)),
		attribute.String(telemetry.AttrUserStatus, string(user.Status)),
	)
	return user, nil
}

func (s *Synchronizer) sync(ctx context.Context, in SyncInput) (*models.DirectoryUser, string, error) {
	email := identity.NormalizeEmail(in.Email)
	if email == "" {
		return nil, OutcomeFailed, fmt.Errorf("sync: email is required")
	}
	in.Email = email

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		s.touch(ctx, user, in)
		return user, OutcomeExisting, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, OutcomeFailed, fmt.Errorf("sync lookup: %w", err)
	}

	n, err := s.users.Count(ctx)
	if err != nil {
		return nil, OutcomeFailed, fmt.Errorf("sync count: %w", err)
	}
	bootstrap := n == 0

	role := in.Role
	if !role.Valid() {
		role = s.roles.Resolve(email)
	}
	if bootstrap {
		role = identity.RoleAdmin
	}

	now := s.now().UTC()
	candidate := &models.DirectoryUser{
		Email:        email,
		Name:         nameOrDerived(in.DisplayName, email),
		Role:         role,
		Status:       models.UserStatusActive,
		AuthProvider: string(in.Provider),
		ExternalID:   optional(in.ExternalID),
		CreatedAt:    now,
		UpdatedAt:    now,
		LastLoginAt:  &now,
	}

	res, err := s.create(ctx, candidate)
	if err != nil {
		return nil, OutcomeFailed, err
	}
	if res.Outcome == AlreadyExists {
		s.logger.InfoContext(ctx, "directory creation race resolved", "email", email)
		s.touch(ctx, res.User, in)
		return res.User, OutcomeConflict, nil
	}

	s.audit(ctx, res.User, models.ActionAutoRegistered, models.Details{
		"role":      string(res.User.Role),
		"provider":  string(in.Provider),
		"bootstrap": bootstrap,
	})
	s.logger.InfoContext(ctx, "directory user auto-registered",
		"email", email, "role", res.User.Role, "bootstrap", bootstrap)
	if bootstrap {
		return res.User, OutcomeBootstrap, nil
	}
	return res.User, OutcomeCreated, nil
}

// create inserts user. A uniqueness conflict is re-read and reported as
// AlreadyExists; a conflict whose row cannot be read back is an error.
func (s *Synchronizer) create(ctx context.Context, user *models.DirectoryUser) (CreateResult, error) {
	err := s.users.Create(ctx, user)
	if err == nil {
		return CreateResult{Outcome: Created, User: user}, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return CreateResult{}, fmt.Errorf("sync create: %w", err)
	}

	existing, lookupErr := s.users.GetByEmail(ctx, user.Email)
	if lookupErr != nil {
		return CreateResult{}, fmt.Errorf("create user (unique constraint, but user not found): %w", errors.Join(err, lookupErr))
	}
	return CreateResult{Outcome: AlreadyExists, User: existing}, nil
}

// touch records a repeat contact. Failures are logged, never returned.
func (s *Synchronizer) touch(ctx context.Context, user *models.DirectoryUser, in SyncInput) {
	if !in.Refresh {
		at := s.now().UTC()
		if user.LastLoginAt != nil && user.LastLoginAt.After(at) {
			at = *user.LastLoginAt
		}
		if err := s.users.UpdateLastLogin(ctx, user.ID, at); err != nil {
			s.logger.WarnContext(ctx, "failed to update last login", "email", user.Email, "error", err)
		} else {
			user.LastLoginAt = &at
		}
	}

	if user.Name == "" {
		if name := nameOrDerived(in.DisplayName, user.Email); name != "" {
			user.Name = name
			user.UpdatedBy = optional(string(in.Provider))
			if err := s.users.Update(ctx, user); err != nil {
				s.logger.WarnContext(ctx, "failed to backfill name", "email", user.Email, "error", err)
			} else {
				s.audit(ctx, user, models.ActionUpdated, models.Details{"name": name})
			}
		}
	}

	if !in.Refresh {
		s.audit(ctx, user, models.ActionLogin, models.Details{"provider": string(in.Provider)})
	}
}

// audit appends an activity entry. Failures are logged and swallowed.
func (s *Synchronizer) audit(ctx context.Context, user *models.DirectoryUser, action models.ActivityAction, details models.Details) {
	entry := &models.ActivityLogEntry{
		UserID:    optional(user.ID),
		UserEmail: user.Email,
		Action:    action,
		Details:   details,
		CreatedAt: s.now().UTC(),
	}
	if err := s.activity.Append(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to write activity log",
			"email", user.Email, "action", action, "error", err)
	}
}

func nameOrDerived(name, email string) string {
	if name != "" {
		return name
	}
	return identity.NameFromEmail(email)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
