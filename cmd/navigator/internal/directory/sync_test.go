package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/bunx"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/migrations"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/repository"
)

// clock hands out strictly increasing times.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newSQLiteSynchronizer(t *testing.T) *Synchronizer {
	t.Helper()
	ctx := context.Background()
	db, err := bunx.NewDB(ctx, ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })
	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)

	return New(Dependencies{
		Users:    repository.NewBunUserRepository(db),
		Activity: repository.NewBunActivityLogRepository(db),
		Now:      newClock().Now,
	})
}

func TestSync_FirstUserBecomesAdmin(t *testing.T) {
	s := newSQLiteSynchronizer(t)
	ctx := context.Background()

	user, err := s.Sync(ctx, SyncInput{Email: "ops@bvg.com", Provider: identity.ProviderEdge, Role: identity.RoleOps})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, user.Role)
	assert.Equal(t, "Ops", user.Name)
	assert.Equal(t, models.UserStatusActive, user.Status)

	second, err := s.Sync(ctx, SyncInput{Email: "operador.norte@bvg.com", Provider: identity.ProviderEdge})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleOps, second.Role)

	third, err := s.Sync(ctx, SyncInput{Email: "someone@else.com", Provider: identity.ProviderEdge})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleRead, third.Role)

	entries, err := s.Activity(ctx, "ops@bvg.com", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionAutoRegistered, entries[0].Action)
	assert.Equal(t, true, entries[0].Details["bootstrap"])
}

func TestSync_Idempotent(t *testing.T) {
	s := newSQLiteSynchronizer(t)
	ctx := context.Background()
	in := SyncInput{Email: "Viewer@BVG.com", DisplayName: "Viewer One", Provider: identity.ProviderEdge, ExternalID: "ext-1"}

	first, err := s.Sync(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, first.LastLoginAt)
	require.NotNil(t, first.ExternalID)
	assert.Equal(t, "ext-1", *first.ExternalID)

	second, err := s.Sync(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.LastLoginAt)
	assert.False(t, second.LastLoginAt.Before(*first.LastLoginAt))

	users, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	entries, err := s.Activity(ctx, "viewer@bvg.com", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionLogin, entries[0].Action)
	assert.Equal(t, models.ActionAutoRegistered, entries[1].Action)
}

func TestSync_DirectoryIsAuthoritativeForExistingUsers(t *testing.T) {
	s := newSQLiteSynchronizer(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, SyncInput{Email: "first@bvg.com", Provider: identity.ProviderEdge})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "first@bvg.com", "boss@admin.bvg.com", "Boss", identity.RoleRead)
	require.NoError(t, err)

	user, err := s.Sync(ctx, SyncInput{
		Email:       "boss@admin.bvg.com",
		DisplayName: "Edge Name",
		Provider:    identity.ProviderEdge,
		Role:        identity.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleRead, user.Role)
	assert.Equal(t, "Boss", user.Name)
}

func TestSync_RequiresEmail(t *testing.T) {
	s := New(Dependencies{Users: newFakeUsers(), Activity: &fakeActivity{}})
	_, err := s.Sync(context.Background(), SyncInput{Email: "  "})
	assert.Error(t, err)
}

func TestSync_ConflictReadsBack(t *testing.T) {
	users := newFakeUsers()
	users.put(&models.DirectoryUser{Email: "seed@bvg.com", Role: identity.RoleAdmin, Status: models.UserStatusActive})
	activity := &fakeActivity{}

	// Another request wins the insert between our lookup and create.
	users.onCreate = func(u *models.DirectoryUser) error {
		users.onCreate = nil
		users.put(&models.DirectoryUser{
			Email:  u.Email,
			Name:   "Winner",
			Role:   identity.RoleOps,
			Status: models.UserStatusActive,
		})
		return nil
	}

	s := New(Dependencies{Users: users, Activity: activity, Now: newClock().Now})
	user, err := s.Sync(context.Background(), SyncInput{Email: "race@bvg.com", Provider: identity.ProviderEdge})
	require.NoError(t, err)
	assert.Equal(t, "Winner", user.Name)
	assert.Equal(t, identity.RoleOps, user.Role)
	assert.NotNil(t, user.LastLoginAt)
	assert.Equal(t, []models.ActivityAction{models.ActionLogin}, activity.actions())
}

func TestSync_ConflictWithoutRowFails(t *testing.T) {
	users := newFakeUsers()
	users.onCreate = func(*models.DirectoryUser) error {
		return repository.ErrDuplicate
	}

	s := New(Dependencies{Users: users, Activity: &fakeActivity{}})
	user, err := s.Sync(context.Background(), SyncInput{Email: "ghost@bvg.com", Provider: identity.ProviderEdge})
	assert.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	assert.Nil(t, user)
}

func TestCreate_TaggedResult(t *testing.T) {
	users := newFakeUsers()
	s := New(Dependencies{Users: users, Activity: &fakeActivity{}})
	ctx := context.Background()

	res, err := s.create(ctx, &models.DirectoryUser{Email: "a@bvg.com", Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, Created, res.Outcome)

	res, err = s.create(ctx, &models.DirectoryUser{Email: "a@bvg.com", Name: "B"})
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, res.Outcome)
	assert.Equal(t, "A", res.User.Name)
	assert.Equal(t, "already_exists", res.Outcome.String())
}

func TestSync_SideEffectFailuresDoNotBlock(t *testing.T) {
	users := newFakeUsers()
	users.put(&models.DirectoryUser{Email: "known@bvg.com", Name: "Known", Role: identity.RoleOps, Status: models.UserStatusActive})
	users.lastErr = errBoom
	activity := &fakeActivity{err: errBoom}

	s := New(Dependencies{Users: users, Activity: activity})
	user, err := s.Sync(context.Background(), SyncInput{Email: "known@bvg.com", Provider: identity.ProviderLocal})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleOps, user.Role)
	assert.Nil(t, user.LastLoginAt)
}

func TestSync_LastLoginNeverMovesBackwards(t *testing.T) {
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	users := newFakeUsers()
	users.put(&models.DirectoryUser{Email: "skew@bvg.com", Role: identity.RoleRead, Status: models.UserStatusActive, LastLoginAt: &future})

	s := New(Dependencies{Users: users, Activity: &fakeActivity{}, Now: newClock().Now})
	user, err := s.Sync(context.Background(), SyncInput{Email: "skew@bvg.com", Provider: identity.ProviderEdge})
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)
	assert.Equal(t, future, *user.LastLoginAt)
}

func TestSync_BackfillsMissingName(t *testing.T) {
	users := newFakeUsers()
	users.put(&models.DirectoryUser{Email: "blank@bvg.com", Role: identity.RoleRead, Status: models.UserStatusActive})
	activity := &fakeActivity{}

	s := New(Dependencies{Users: users, Activity: activity})
	user, err := s.Sync(context.Background(), SyncInput{Email: "blank@bvg.com", Provider: identity.ProviderEdge})
	require.NoError(t, err)
	assert.Equal(t, "Blank", user.Name)
	assert.Equal(t, []models.ActivityAction{models.ActionUpdated, models.ActionLogin}, activity.actions())
}

func TestSync_RefreshIsNotALogin(t *testing.T) {
	s := newSQLiteSynchronizer(t)
	ctx := context.Background()
	in := SyncInput{Email: "ops@bvg.com", Provider: identity.ProviderLocal}

	_, err := s.Sync(ctx, in)
	require.NoError(t, err)
	registered, err := s.Get(ctx, "ops@bvg.com")
	require.NoError(t, err)
	require.NotNil(t, registered.LastLoginAt)

	in.Refresh = true
	for i := 0; i < 3; i++ {
		again, err := s.Sync(ctx, in)
		require.NoError(t, err)
		require.NotNil(t, again.LastLoginAt)
		assert.True(t, registered.LastLoginAt.Equal(*again.LastLoginAt))
	}

	entries, err := s.Activity(ctx, "ops@bvg.com", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionAutoRegistered, entries[0].Action)
}

func TestSync_RefreshStillBackfillsName(t *testing.T) {
	users := newFakeUsers()
	users.put(&models.DirectoryUser{Email: "blank@bvg.com", Role: identity.RoleRead, Status: models.UserStatusActive})
	activity := &fakeActivity{}

	s := New(Dependencies{Users: users, Activity: activity})
	user, err := s.Sync(context.Background(), SyncInput{Email: "blank@bvg.com", Provider: identity.ProviderEdge, Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, "Blank", user.Name)
	assert.Nil(t, user.LastLoginAt)
	assert.Equal(t, []models.ActivityAction{models.ActionUpdated}, activity.actions())
}

func TestInputFromIdentity(t *testing.T) {
	in := InputFromIdentity(&identity.Identity{
		SubjectID: "abc", Email: "a@bvg.com", DisplayName: "A", Role: identity.RoleOps, Provider: identity.ProviderEdge,
	})
	assert.Equal(t, "abc", in.ExternalID)
	assert.Equal(t, identity.RoleOps, in.Role)

	in = InputFromIdentity(&identity.Identity{SubjectID: "a@bvg.com", Email: "a@bvg.com", Provider: identity.ProviderEdge})
	assert.Empty(t, in.ExternalID)

	in = InputFromIdentity(&identity.Identity{SubjectID: "local:a@bvg.com", Email: "a@bvg.com", Provider: identity.ProviderLocal})
	assert.Empty(t, in.ExternalID)
}
