package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

func TestAdmin_Lifecycle(t *testing.T) {
	s := newSQLiteSynchronizer(t)
	ctx := context.Background()

	admin, err := s.Sync(ctx, SyncInput{Email: "admin@bvg.com", Provider: identity.ProviderLocal})
	require.NoError(t, err)
	require.Equal(t, identity.RoleAdmin, admin.Role)

	t.Run("create", func(t *testing.T) {
		user, err := s.CreateUser(ctx, "admin@bvg.com", "Carla@BVG.com", "", identity.RoleRead)
		require.NoError(t, err)
		assert.Equal(t, "carla@bvg.com", user.Email)
		assert.Equal(t, "Carla", user.Name)
		assert.Equal(t, ProviderManual, user.AuthProvider)
		require.NotNil(t, user.CreatedBy)
		assert.Equal(t, "admin@bvg.com", *user.CreatedBy)

		_, err = s.CreateUser(ctx, "admin@bvg.com", "carla@bvg.com", "", identity.RoleRead)
		assert.ErrorIs(t, err, ErrUserExists)

		_, err = s.CreateUser(ctx, "admin@bvg.com", "x@bvg.com", "", identity.Role("root"))
		assert.Error(t, err)
	})

	t.Run("set role", func(t *testing.T) {
		user, err := s.SetRole(ctx, "admin@bvg.com", "carla@bvg.com", identity.RoleOps)
		require.NoError(t, err)
		assert.Equal(t, identity.RoleOps, user.Role)

		got, err := s.Get(ctx, "carla@bvg.com")
		require.NoError(t, err)
		assert.Equal(t, identity.RoleOps, got.Role)
		require.NotNil(t, got.UpdatedBy)
		assert.Equal(t, "admin@bvg.com", *got.UpdatedBy)
	})

	t.Run("rename", func(t *testing.T) {
		user, err := s.Rename(ctx, "admin@bvg.com", "carla@bvg.com", "Carla Vidal")
		require.NoError(t, err)
		assert.Equal(t, "Carla Vidal", user.Name)

		_, err = s.Rename(ctx, "admin@bvg.com", "carla@bvg.com", "")
		assert.Error(t, err)
	})

	t.Run("deactivate and reactivate", func(t *testing.T) {
		user, err := s.Deactivate(ctx, "admin@bvg.com", "carla@bvg.com")
		require.NoError(t, err)
		assert.Equal(t, models.UserStatusInactive, user.Status)
		assert.False(t, user.Active())

		user, err = s.Reactivate(ctx, "admin@bvg.com", "carla@bvg.com")
		require.NoError(t, err)
		assert.True(t, user.Active())
	})

	t.Run("audit trail", func(t *testing.T) {
		entries, err := s.Activity(ctx, "carla@bvg.com", 0)
		require.NoError(t, err)
		actions := make([]models.ActivityAction, 0, len(entries))
		for _, e := range entries {
			actions = append(actions, e.Action)
		}
		assert.Equal(t, []models.ActivityAction{
			models.ActionReactivated,
			models.ActionDeactivated,
			models.ActionUpdated,
			models.ActionRoleChanged,
			models.ActionCreated,
		}, actions)
		assert.Equal(t, "read", entries[3].Details["from"])
		assert.Equal(t, "ops", entries[3].Details["to"])
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.SetRole(ctx, "admin@bvg.com", "nobody@bvg.com", identity.RoleOps)
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = s.Deactivate(ctx, "admin@bvg.com", "nobody@bvg.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestAdmin_LastAdminProtected(t *testing.T) {
	s := newSQLiteSynchronizer(t)
	ctx := context.Background()

	_, err := s.Sync(ctx, SyncInput{Email: "only@bvg.com", Provider: identity.ProviderEdge})
	require.NoError(t, err)

	_, err = s.SetRole(ctx, "only@bvg.com", "only@bvg.com", identity.RoleRead)
	assert.ErrorIs(t, err, ErrLastAdmin)
	_, err = s.Deactivate(ctx, "only@bvg.com", "only@bvg.com")
	assert.ErrorIs(t, err, ErrLastAdmin)

	_, err = s.CreateUser(ctx, "only@bvg.com", "second@bvg.com", "Second", identity.RoleAdmin)
	require.NoError(t, err)

	user, err := s.SetRole(ctx, "second@bvg.com", "only@bvg.com", identity.RoleRead)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleRead, user.Role)
}
