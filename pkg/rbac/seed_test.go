package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
)

func TestStore_Seed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	defaults := DefaultPermissions()
	wantGrants := len(OnboardingRoles()) * len(OnboardingGrants())

	result, err := store.Seed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, len(defaults), result.Count)
	assert.Equal(t, len(defaults), result.Created)
	assert.Equal(t, wantGrants, result.GrantsCreated)
	assert.Empty(t, result.Failed)

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(defaults))

	for _, role := range OnboardingRoles() {
		names, err := store.ListGrants(ctx, RoleTarget(role))
		require.NoError(t, err)
		assert.ElementsMatch(t, OnboardingGrants(), names, role)
	}

	t.Run("second run changes nothing", func(t *testing.T) {
		again, err := store.Seed(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, len(defaults), again.Count)
		assert.Zero(t, again.Created)
		assert.Zero(t, again.GrantsCreated)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(len(defaults)), stats.Permissions)
		assert.Equal(t, int64(wantGrants), stats.RoleGrants)
	})
}

func TestStore_Seed_KeepsExistingPermissions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, store, "jobs.create", "candidates.view")

	result, err := store.Seed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultPermissions()), result.Count)
	assert.Equal(t, len(DefaultPermissions())-2, result.Created)
}

func TestStore_Seed_RequiresGranter(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Seed(context.Background(), 0)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestStore_Seed_StorageUnavailable(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.db.Close())

	_, err := store.Seed(context.Background(), 1)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInternal))
}
